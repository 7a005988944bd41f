// Package checkout issues the data a buyer's client needs to open a provider
// checkout. The capacity check here is advisory; the webhook fulfillment decides.
package checkout

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-ticket-fulfillment/internal/domain"
)

type EventReader interface {
	GetEvent(ctx context.Context, id uuid.UUID) (*domain.Event, error)
}

type ProviderConfig struct {
	Environment string
	ClientToken string
}

// CustomData is echoed back verbatim by the provider in the completed-transaction
// notification. Keys must match what the webhook parser reads.
type CustomData struct {
	EventID     string `json:"event_id"`
	PurchaserID string `json:"purchaser_id"`
	Quantity    int    `json:"quantity"`
}

type SessionDescriptor struct {
	PriceID       string     `json:"price_id"`
	Quantity      int        `json:"quantity"`
	UnitPrice     string     `json:"unit_price"`
	Currency      string     `json:"currency"`
	CustomerEmail string     `json:"customer_email"`
	CustomData    CustomData `json:"custom_data"`
	Environment   string     `json:"environment"`
	ClientToken   string     `json:"client_token"`
}

// UserError carries a message that is safe to show to the buyer.
type UserError struct {
	Message string
	cause   error
}

func (e *UserError) Error() string { return e.Message }
func (e *UserError) Unwrap() error { return e.cause }

type Issuer struct {
	events   EventReader
	provider ProviderConfig
}

func NewIssuer(events EventReader, provider ProviderConfig) *Issuer {
	return &Issuer{events: events, provider: provider}
}

func (i *Issuer) Issue(ctx context.Context, eventID uuid.UUID, purchaser domain.Purchaser, quantity int) (*SessionDescriptor, error) {
	if quantity < 1 {
		return nil, &UserError{Message: "quantity must be at least 1", cause: domain.ErrInvalidInput}
	}
	if purchaser.ID == uuid.Nil {
		return nil, errors.Wrap(domain.ErrInvalidInput, "purchaser is required")
	}

	event, err := i.events.GetEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, &UserError{Message: "event not found", cause: domain.ErrNotFound}
		}
		return nil, errors.Wrap(err, "load event")
	}
	if quantity > event.RemainingCapacity {
		msg := "this event is sold out"
		if event.RemainingCapacity > 0 {
			msg = fmt.Sprintf("only %d tickets left", event.RemainingCapacity)
		}
		return nil, &UserError{Message: msg, cause: domain.ErrInsufficientCapacity}
	}

	return &SessionDescriptor{
		PriceID:       event.PriceRef,
		Quantity:      quantity,
		UnitPrice:     event.UnitPrice.StringFixed(2),
		Currency:      event.Currency,
		CustomerEmail: purchaser.Email,
		CustomData: CustomData{
			EventID:     event.ID.String(),
			PurchaserID: purchaser.ID.String(),
			Quantity:    quantity,
		},
		Environment: i.provider.Environment,
		ClientToken: i.provider.ClientToken,
	}, nil
}
