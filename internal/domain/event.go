package domain

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event is the inventory unit. RemainingCapacity is only ever changed through
// conditional updates in the store.
type Event struct {
	ID                uuid.UUID
	Name              string
	Description       string
	Venue             string
	StartsAt          time.Time
	TotalCapacity     int
	RemainingCapacity int
	UnitPrice         decimal.Decimal
	Currency          string
	PriceRef          string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Sold returns the number of tickets already booked.
func (e Event) Sold() int {
	return e.TotalCapacity - e.RemainingCapacity
}

type NewEventParams struct {
	Name          string
	Description   string
	Venue         string
	StartsAt      time.Time
	TotalCapacity int
	UnitPrice     decimal.Decimal
	Currency      string
	PriceRef      string
}

func NewEvent(p NewEventParams) (Event, error) {
	if p.Name == "" {
		return Event{}, errors.Wrap(ErrInvalidInput, "name is required")
	}
	if p.TotalCapacity < 1 {
		return Event{}, errors.Wrap(ErrInvalidInput, "total capacity must be at least 1")
	}
	if p.UnitPrice.IsNegative() {
		return Event{}, errors.Wrap(ErrInvalidInput, "unit price must not be negative")
	}
	if p.PriceRef == "" {
		return Event{}, errors.Wrap(ErrInvalidInput, "price reference is required")
	}
	currency := p.Currency
	if currency == "" {
		currency = "USD"
	}
	now := time.Now().UTC()
	return Event{
		ID:                uuid.New(),
		Name:              p.Name,
		Description:       p.Description,
		Venue:             p.Venue,
		StartsAt:          p.StartsAt,
		TotalCapacity:     p.TotalCapacity,
		RemainingCapacity: p.TotalCapacity,
		UnitPrice:         p.UnitPrice,
		Currency:          currency,
		PriceRef:          p.PriceRef,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// RemainingAfterResize computes the remaining capacity once the total becomes newTotal.
// Tickets already sold are kept, so the result is negative when newTotal is too small.
func (e Event) RemainingAfterResize(newTotal int) int {
	return newTotal - e.Sold()
}
