// Package webhook turns verified provider notification bodies into typed values.
// Parsing fails closed: anything that does not match the expected shape is an error.
package webhook

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// EventTransactionCompleted is the only notification type that triggers fulfillment.
const EventTransactionCompleted = "transaction.completed"

// Custom data keys shared with the checkout session issuer.
const (
	KeyEventID     = "event_id"
	KeyPurchaserID = "purchaser_id"
	KeyQuantity    = "quantity"
)

var (
	ErrMalformed       = errors.New("malformed notification")
	ErrMissingFields   = errors.New("missing required fields")
	ErrInvalidQuantity = errors.New("invalid quantity")
)

type Notification struct {
	NotificationID string
	EventType      string
	data           json.RawMessage
}

func (n Notification) IsTransactionCompleted() bool {
	return n.EventType == EventTransactionCompleted
}

// Transaction is the fulfillment request carried by a completed transaction.
type Transaction struct {
	ID          string
	EventID     uuid.UUID
	PurchaserID uuid.UUID
	Quantity    int
}

type envelope struct {
	NotificationID string          `json:"notification_id"`
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	Data           json.RawMessage `json:"data"`
}

type transactionData struct {
	ID            string      `json:"id"`
	TransactionID string      `json:"transaction_id"`
	CustomData    *customData `json:"custom_data"`
	Items         []lineItem  `json:"items"`
}

type customData struct {
	EventID     string    `json:"event_id"`
	PurchaserID string    `json:"purchaser_id"`
	Quantity    *quantity `json:"quantity"`
}

type lineItem struct {
	Quantity *quantity `json:"quantity"`
}

// quantity accepts a JSON number or a numeric string.
type quantity int

func (q *quantity) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		return nil
	}
	raw = strings.Trim(raw, `"`)
	n, err := strconv.Atoi(raw)
	if err != nil {
		return errors.Wrapf(ErrMalformed, "quantity %q", raw)
	}
	*q = quantity(n)
	return nil
}

// ParseNotification decodes the envelope common to every notification type.
func ParseNotification(body []byte) (Notification, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Notification{}, errors.Wrap(ErrMalformed, err.Error())
	}
	if env.EventType == "" {
		return Notification{}, errors.Wrap(ErrMalformed, "event_type is missing")
	}
	id := env.NotificationID
	if id == "" {
		id = env.EventID
	}
	return Notification{NotificationID: id, EventType: env.EventType, data: env.Data}, nil
}

// Transaction extracts the fulfillment request. Quantity comes from custom data, falls
// back to the first line item and defaults to 1 when neither carries one: the payment
// is already captured, so an absent quantity must still book.
func (n Notification) Transaction() (Transaction, error) {
	if len(bytes.TrimSpace(n.data)) == 0 || bytes.Equal(bytes.TrimSpace(n.data), []byte("null")) {
		return Transaction{}, errors.Wrap(ErrMalformed, "data is missing")
	}
	dec := json.NewDecoder(bytes.NewReader(n.data))
	var d transactionData
	if err := dec.Decode(&d); err != nil {
		return Transaction{}, errors.Wrap(ErrMalformed, err.Error())
	}

	txID := d.ID
	if txID == "" {
		txID = d.TransactionID
	}
	if txID == "" || d.CustomData == nil {
		return Transaction{}, errors.Wrap(ErrMissingFields, "transaction id or custom data")
	}
	eventID, err := uuid.Parse(d.CustomData.EventID)
	if err != nil {
		return Transaction{}, errors.Wrapf(ErrMissingFields, "%s %q", KeyEventID, d.CustomData.EventID)
	}
	purchaserID, err := uuid.Parse(d.CustomData.PurchaserID)
	if err != nil {
		return Transaction{}, errors.Wrapf(ErrMissingFields, "%s %q", KeyPurchaserID, d.CustomData.PurchaserID)
	}

	var qty *quantity
	if d.CustomData.Quantity != nil {
		qty = d.CustomData.Quantity
	} else if len(d.Items) > 0 {
		qty = d.Items[0].Quantity
	}
	if qty == nil {
		one := quantity(1)
		qty = &one
	}
	if *qty < 1 {
		return Transaction{}, errors.Wrapf(ErrInvalidQuantity, "%s %d", KeyQuantity, int(*qty))
	}

	return Transaction{
		ID:          txID,
		EventID:     eventID,
		PurchaserID: purchaserID,
		Quantity:    int(*qty),
	}, nil
}
