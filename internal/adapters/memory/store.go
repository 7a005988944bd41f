// Package memory is an in-process implementation of the storage contracts, used by
// tests and local runs. Transactions are serialized with a mutex and staged writes are
// discarded on error, which mirrors the guarantees the CockroachDB adapter gets from
// SERIALIZABLE transactions. It does not coordinate across processes.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-ticket-fulfillment/internal/domain"
)

type Store struct {
	mu       sync.Mutex
	events   map[uuid.UUID]domain.Event
	bookings map[string]domain.Booking
	outbox   []domain.OutboxRecord
	dedupe   map[string]struct{}
}

func NewStore() *Store {
	return &Store{
		events:   make(map[uuid.UUID]domain.Event),
		bookings: make(map[string]domain.Booking),
		dedupe:   make(map[string]struct{}),
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) CreateEvent(ctx context.Context, event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[event.ID]; ok {
		return domain.ErrConflict
	}
	s.events[event.ID] = event
	return nil
}

func (s *Store) GetEvent(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &e, nil
}

func (s *Store) ListUpcomingEvents(ctx context.Context, now time.Time) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, e := range s.events {
		if !e.StartsAt.IsZero() && !e.StartsAt.Before(now) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (s *Store) ListEvents(ctx context.Context) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Event, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) DeleteEvent(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[id]; !ok {
		return domain.ErrNotFound
	}
	for _, b := range s.bookings {
		if b.EventID == id {
			return errors.Wrap(domain.ErrConflict, "event has bookings")
		}
	}
	delete(s.events, id)
	return nil
}

func (s *Store) ChangeCapacity(ctx context.Context, id uuid.UUID, newTotal int) (*domain.Event, error) {
	if newTotal < 1 {
		return nil, errors.Wrap(domain.ErrInvalidInput, "total capacity must be at least 1")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	remaining := e.RemainingAfterResize(newTotal)
	if remaining < 0 {
		return nil, errors.Wrapf(domain.ErrInvalidCapacity, "%d tickets already sold", e.Sold())
	}
	e.TotalCapacity, e.RemainingCapacity, e.UpdatedAt = newTotal, remaining, time.Now().UTC()
	s.events[id] = e
	return &e, nil
}

func (s *Store) BookingByTransactionID(ctx context.Context, transactionID string) (*domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[transactionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &b, nil
}

func (s *Store) LatestBooking(ctx context.Context, eventID, purchaserID uuid.UUID) (*domain.Booking, error) {
	list, _ := s.ListBookings(ctx, purchaserID)
	for _, b := range list {
		if b.EventID == eventID {
			return &b, nil
		}
	}
	return nil, domain.ErrNotFound
}

// ListBookings returns the purchaser's bookings, newest first.
func (s *Store) ListBookings(ctx context.Context, purchaserID uuid.UUID) ([]domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Booking
	for _, b := range s.bookings {
		if b.PurchaserID == purchaserID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Bookings returns every ledger entry. Test helper.
func (s *Store) Bookings() []domain.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Booking, 0, len(s.bookings))
	for _, b := range s.bookings {
		out = append(out, b)
	}
	return out
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.FulfillmentTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{store: s, events: make(map[uuid.UUID]domain.Event), bookings: make(map[string]domain.Booking)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for id, e := range tx.events {
		s.events[id] = e
	}
	for txID, b := range tx.bookings {
		s.bookings[txID] = b
	}
	for _, rec := range tx.outbox {
		s.appendOutbox(rec)
	}
	return nil
}

type memTx struct {
	store    *Store
	events   map[uuid.UUID]domain.Event
	bookings map[string]domain.Booking
	outbox   []domain.OutboxRecord
}

func (t *memTx) DecrementRemaining(ctx context.Context, eventID uuid.UUID, quantity int) (*domain.Event, error) {
	e, ok := t.events[eventID]
	if !ok {
		e, ok = t.store.events[eventID]
	}
	if !ok || e.RemainingCapacity < quantity {
		return nil, domain.ErrInsufficientCapacity
	}
	e.RemainingCapacity -= quantity
	e.UpdatedAt = time.Now().UTC()
	t.events[eventID] = e
	return &e, nil
}

func (t *memTx) InsertBooking(ctx context.Context, booking domain.Booking) error {
	if _, ok := t.store.bookings[booking.ExternalTransactionID]; ok {
		return domain.ErrDuplicateTransaction
	}
	if _, ok := t.bookings[booking.ExternalTransactionID]; ok {
		return domain.ErrDuplicateTransaction
	}
	t.bookings[booking.ExternalTransactionID] = booking
	return nil
}

func (t *memTx) InsertOutbox(ctx context.Context, record domain.OutboxRecord) error {
	t.outbox = append(t.outbox, record)
	return nil
}

func (s *Store) AppendOutbox(ctx context.Context, record domain.OutboxRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendOutbox(record)
	return nil
}

// appendOutbox drops records whose dedupe key was already stored. Caller holds mu.
func (s *Store) appendOutbox(record domain.OutboxRecord) {
	if _, ok := s.dedupe[record.DedupeKey]; ok {
		return
	}
	s.dedupe[record.DedupeKey] = struct{}{}
	s.outbox = append(s.outbox, record)
}

func (s *Store) PendingOutbox(ctx context.Context, limit int) ([]domain.OutboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.OutboxRecord
	for _, rec := range s.outbox {
		if rec.Status != domain.OutboxStatusNew {
			continue
		}
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkPublished(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.outbox {
		if s.outbox[i].ID == id && s.outbox[i].Status == domain.OutboxStatusNew {
			now := time.Now().UTC()
			s.outbox[i].Status = domain.OutboxStatusPublished
			s.outbox[i].PublishedAt = &now
			return nil
		}
	}
	return domain.ErrNotFound
}

// Outbox returns a copy of every outbox record. Test helper.
func (s *Store) Outbox() []domain.OutboxRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.OutboxRecord(nil), s.outbox...)
}
