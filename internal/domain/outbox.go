package domain

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

const (
	OutboxStatusNew       = "NEW"
	OutboxStatusPublished = "PUBLISHED"
)

const (
	EventTypeBookingConfirmed = "booking.confirmed"
	EventTypeBookingOversold  = "booking.oversold"
)

type OutboxRecord struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Status        string
	DedupeKey     string
}

// NewOutboxRecord marshals payload. dedupeKey becomes the broker message id so
// consumers can drop redelivered copies.
func NewOutboxRecord(aggregateType string, aggregateID uuid.UUID, eventType, dedupeKey string, payload any) (OutboxRecord, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return OutboxRecord{}, errors.Wrapf(err, "marshal %s payload", eventType)
	}
	return OutboxRecord{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       data,
		CreatedAt:     time.Now().UTC(),
		Status:        OutboxStatusNew,
		DedupeKey:     dedupeKey,
	}, nil
}

// BookingConfirmed is published once per booking after the ledger commit.
type BookingConfirmed struct {
	BookingID     uuid.UUID `json:"booking_id"`
	EventID       uuid.UUID `json:"event_id"`
	PurchaserID   uuid.UUID `json:"purchaser_id"`
	Quantity      int       `json:"quantity"`
	TotalPrice    string    `json:"total_price"`
	Currency      string    `json:"currency"`
	TransactionID string    `json:"transaction_id"`
	ConfirmedAt   time.Time `json:"confirmed_at"`
}

func BookingConfirmedRecord(b Booking) (OutboxRecord, error) {
	return NewOutboxRecord("booking", b.ID, EventTypeBookingConfirmed, EventTypeBookingConfirmed+":"+b.ExternalTransactionID, BookingConfirmed{
		BookingID:     b.ID,
		EventID:       b.EventID,
		PurchaserID:   b.PurchaserID,
		Quantity:      b.Quantity,
		TotalPrice:    b.TotalPrice.StringFixed(2),
		Currency:      b.Currency,
		TransactionID: b.ExternalTransactionID,
		ConfirmedAt:   b.CreatedAt,
	})
}

// OversoldAlert describes a captured payment with no inventory behind it.
type OversoldAlert struct {
	EventID        uuid.UUID `json:"event_id"`
	PurchaserID    uuid.UUID `json:"purchaser_id"`
	Quantity       int       `json:"quantity"`
	TransactionID  string    `json:"transaction_id"`
	NotificationID string    `json:"notification_id,omitempty"`
	DetectedAt     time.Time `json:"detected_at"`
}

func OversoldAlertRecord(a OversoldAlert) (OutboxRecord, error) {
	return NewOutboxRecord("event", a.EventID, EventTypeBookingOversold, EventTypeBookingOversold+":"+a.TransactionID, a)
}
