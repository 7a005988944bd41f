package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Booking is an append-only ledger entry. ExternalTransactionID is the idempotency key.
type Booking struct {
	ID                    uuid.UUID
	EventID               uuid.UUID
	PurchaserID           uuid.UUID
	Quantity              int
	TotalPrice            decimal.Decimal
	Currency              string
	ExternalTransactionID string
	CreatedAt             time.Time
}

func NewBooking(event Event, purchaserID uuid.UUID, quantity int, transactionID string) Booking {
	return Booking{
		ID:                    uuid.New(),
		EventID:               event.ID,
		PurchaserID:           purchaserID,
		Quantity:              quantity,
		TotalPrice:            event.UnitPrice.Mul(decimal.NewFromInt(int64(quantity))),
		Currency:              event.Currency,
		ExternalTransactionID: transactionID,
		CreatedAt:             time.Now().UTC(),
	}
}
