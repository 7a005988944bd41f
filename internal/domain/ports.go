package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventStore persists events. ChangeCapacity must apply the new total with a single
// conditional write that keeps remaining capacity non-negative. DeleteEvent refuses
// with ErrConflict once any booking references the event.
type EventStore interface {
	CreateEvent(ctx context.Context, event Event) error
	GetEvent(ctx context.Context, id uuid.UUID) (*Event, error)
	ChangeCapacity(ctx context.Context, id uuid.UUID, newTotal int) (*Event, error)
	// ListUpcomingEvents returns events starting at or after now, soonest first.
	ListUpcomingEvents(ctx context.Context, now time.Time) ([]Event, error)
	// ListEvents returns every event, most recently created first.
	ListEvents(ctx context.Context) ([]Event, error)
	DeleteEvent(ctx context.Context, id uuid.UUID) error
}

// BookingStore reads the booking ledger. Writes only happen inside a FulfillmentTx.
type BookingStore interface {
	BookingByTransactionID(ctx context.Context, transactionID string) (*Booking, error)
	LatestBooking(ctx context.Context, eventID, purchaserID uuid.UUID) (*Booking, error)
	ListBookings(ctx context.Context, purchaserID uuid.UUID) ([]Booking, error)
}

// FulfillmentTx is the set of writes that commit or roll back together.
type FulfillmentTx interface {
	// DecrementRemaining subtracts quantity only if enough capacity remains and returns
	// the updated event. ErrInsufficientCapacity covers both "too few" and "no such event".
	DecrementRemaining(ctx context.Context, eventID uuid.UUID, quantity int) (*Event, error)
	// InsertBooking returns ErrDuplicateTransaction when the transaction id is taken.
	InsertBooking(ctx context.Context, booking Booking) error
	InsertOutbox(ctx context.Context, record OutboxRecord) error
}

type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx FulfillmentTx) error) error
}

// OutboxStore is read by the relay that forwards records to the broker.
type OutboxStore interface {
	AppendOutbox(ctx context.Context, record OutboxRecord) error
	PendingOutbox(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, id uuid.UUID) error
}
