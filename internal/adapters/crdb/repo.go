package crdb

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/event-ticket-fulfillment/internal/domain"
	"github.com/robertarktes/event-ticket-fulfillment/internal/observability"
)

const (
	SerializationFailureCode = "40001"
	UniqueViolationCode      = "23505"
	ForeignKeyViolationCode  = "23503"

	maxTxAttempts = 5
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// WithTx runs fn in a SERIALIZABLE transaction and retries it when CockroachDB
// asks the client to (SQLSTATE 40001). fn may run more than once.
func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	defer func() { observability.DBTxDuration.Observe(time.Since(start).Seconds()) }()

	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		if attempt > 0 {
			observability.DBTxRetries.Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt*attempt)*10*time.Millisecond + time.Duration(rand.Int64N(int64(10*time.Millisecond)))):
			}
		}
		err = r.runTx(ctx, fn)
		if !errors.Is(err, domain.ErrSerializationFailure) {
			return err
		}
	}
	return err
}

func (r *Repository) runTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return mapError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapError(errors.Wrap(err, "commit"))
	}
	return nil
}

// WithinTx adapts WithTx to the storage contract used by the fulfillment engine.
func (r *Repository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.FulfillmentTx) error) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &fulfillmentTx{tx: tx})
	})
}

func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case SerializationFailureCode:
			return errors.Mark(err, domain.ErrSerializationFailure)
		case UniqueViolationCode:
			if pgErr.ConstraintName == "" || pgErr.ConstraintName == "bookings_external_transaction_id_key" {
				return errors.Mark(err, domain.ErrDuplicateTransaction)
			}
			return errors.Mark(err, domain.ErrConflict)
		}
	}
	return err
}

const eventColumns = `id, name, description, venue, starts_at, total_capacity, remaining_capacity,
	unit_price::STRING, currency, price_ref, created_at, updated_at`

func scanEvent(row pgx.Row) (*domain.Event, error) {
	var (
		e        domain.Event
		startsAt *time.Time
		price    string
	)
	err := row.Scan(&e.ID, &e.Name, &e.Description, &e.Venue, &startsAt, &e.TotalCapacity, &e.RemainingCapacity,
		&price, &e.Currency, &e.PriceRef, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if startsAt != nil {
		e.StartsAt = *startsAt
	}
	if e.UnitPrice, err = parseDecimal(price); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *Repository) CreateEvent(ctx context.Context, event domain.Event) error {
	var startsAt *time.Time
	if !event.StartsAt.IsZero() {
		startsAt = &event.StartsAt
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO events (id, name, description, venue, starts_at, total_capacity, remaining_capacity,
			unit_price, currency, price_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::STRING::DECIMAL, $9, $10, $11, $12)
	`, event.ID, event.Name, event.Description, event.Venue, startsAt, event.TotalCapacity, event.RemainingCapacity,
		event.UnitPrice.String(), event.Currency, event.PriceRef, event.CreatedAt, event.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == UniqueViolationCode {
			return domain.ErrConflict
		}
		return errors.Wrap(err, "insert event")
	}
	return nil
}

func (r *Repository) GetEvent(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	e, err := scanEvent(r.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get event")
	}
	return e, nil
}

func (r *Repository) queryEvents(ctx context.Context, sql string, args ...any) ([]domain.Event, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list events")
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

func (r *Repository) ListUpcomingEvents(ctx context.Context, now time.Time) ([]domain.Event, error) {
	return r.queryEvents(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE starts_at >= $1
		ORDER BY starts_at ASC
	`, now)
}

func (r *Repository) ListEvents(ctx context.Context) ([]domain.Event, error) {
	return r.queryEvents(ctx, `SELECT `+eventColumns+` FROM events ORDER BY created_at DESC`)
}

// DeleteEvent removes an event nobody has booked. The bookings foreign key backs the
// NOT EXISTS guard against a booking committed concurrently.
func (r *Repository) DeleteEvent(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM events
		WHERE id = $1 AND NOT EXISTS (SELECT 1 FROM bookings WHERE event_id = $1)
	`, id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == ForeignKeyViolationCode {
			return errors.Wrap(domain.ErrConflict, "event has bookings")
		}
		return errors.Wrap(err, "delete event")
	}
	if result.RowsAffected() > 0 {
		return nil
	}
	if _, err := r.GetEvent(ctx, id); err != nil {
		return err
	}
	return errors.Wrap(domain.ErrConflict, "event has bookings")
}

// ChangeCapacity resizes an event in one conditional statement so it cannot race with
// concurrent decrements: sold tickets (total - remaining) are preserved and the update
// only matches while the new remaining stays non-negative.
func (r *Repository) ChangeCapacity(ctx context.Context, id uuid.UUID, newTotal int) (*domain.Event, error) {
	if newTotal < 1 {
		return nil, errors.Wrap(domain.ErrInvalidInput, "total capacity must be at least 1")
	}
	e, err := scanEvent(r.pool.QueryRow(ctx, `
		UPDATE events
		SET remaining_capacity = remaining_capacity + ($2 - total_capacity),
			total_capacity = $2,
			updated_at = now()
		WHERE id = $1 AND remaining_capacity + ($2 - total_capacity) >= 0
		RETURNING `+eventColumns, id, newTotal))
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrap(err, "change capacity")
	}

	current, err := r.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, errors.Wrapf(domain.ErrInvalidCapacity, "%d tickets already sold", current.Sold())
}

const bookingColumns = `id, event_id, purchaser_id, quantity, total_price::STRING, currency, external_transaction_id, created_at`

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var (
		b     domain.Booking
		price string
	)
	if err := row.Scan(&b.ID, &b.EventID, &b.PurchaserID, &b.Quantity, &price, &b.Currency, &b.ExternalTransactionID, &b.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if b.TotalPrice, err = parseDecimal(price); err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *Repository) BookingByTransactionID(ctx context.Context, transactionID string) (*domain.Booking, error) {
	b, err := scanBooking(r.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+` FROM bookings WHERE external_transaction_id = $1
	`, transactionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get booking by transaction")
	}
	return b, nil
}

func (r *Repository) LatestBooking(ctx context.Context, eventID, purchaserID uuid.UUID) (*domain.Booking, error) {
	b, err := scanBooking(r.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE event_id = $1 AND purchaser_id = $2
		ORDER BY created_at DESC LIMIT 1
	`, eventID, purchaserID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get latest booking")
	}
	return b, nil
}

func (r *Repository) ListBookings(ctx context.Context, purchaserID uuid.UUID) ([]domain.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE purchaser_id = $1
		ORDER BY created_at DESC
	`, purchaserID)
	if err != nil {
		return nil, errors.Wrap(err, "list bookings")
	}
	defer rows.Close()

	var bookings []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan booking")
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

type fulfillmentTx struct {
	tx pgx.Tx
}

func (f *fulfillmentTx) DecrementRemaining(ctx context.Context, eventID uuid.UUID, quantity int) (*domain.Event, error) {
	e, err := scanEvent(f.tx.QueryRow(ctx, `
		UPDATE events
		SET remaining_capacity = remaining_capacity - $2, updated_at = now()
		WHERE id = $1 AND remaining_capacity >= $2
		RETURNING `+eventColumns, eventID, quantity))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrInsufficientCapacity
	}
	if err != nil {
		return nil, errors.Wrap(err, "decrement remaining capacity")
	}
	return e, nil
}

func (f *fulfillmentTx) InsertBooking(ctx context.Context, b domain.Booking) error {
	result, err := f.tx.Exec(ctx, `
		INSERT INTO bookings (id, event_id, purchaser_id, quantity, total_price, currency, external_transaction_id, created_at)
		VALUES ($1, $2, $3, $4, $5::STRING::DECIMAL, $6, $7, $8)
		ON CONFLICT (external_transaction_id) DO NOTHING
	`, b.ID, b.EventID, b.PurchaserID, b.Quantity, b.TotalPrice.String(), b.Currency, b.ExternalTransactionID, b.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "insert booking")
	}
	if result.RowsAffected() == 0 {
		return domain.ErrDuplicateTransaction
	}
	return nil
}

func (f *fulfillmentTx) InsertOutbox(ctx context.Context, record domain.OutboxRecord) error {
	return insertOutbox(ctx, f.tx, record)
}
