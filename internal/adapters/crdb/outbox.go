package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/event-ticket-fulfillment/internal/domain"
)

func insertOutbox(ctx context.Context, tx pgx.Tx, record domain.OutboxRecord) error {
	_, err := tx.Exec(ctx, insertOutboxSQL, record.ID, record.AggregateType, record.AggregateID, record.EventType, record.Payload, record.DedupeKey, record.CreatedAt)
	return errors.Wrap(err, "insert outbox")
}

const insertOutboxSQL = `
	INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload_json, status, dedupe_key, created_at)
	VALUES ($1, $2, $3, $4, $5, 'NEW', $6, $7)
	ON CONFLICT (dedupe_key) DO NOTHING
`

// AppendOutbox stores a record outside any business transaction. Records with a
// dedupe key already present are dropped.
func (r *Repository) AppendOutbox(ctx context.Context, record domain.OutboxRecord) error {
	_, err := r.pool.Exec(ctx, insertOutboxSQL, record.ID, record.AggregateType, record.AggregateID, record.EventType, record.Payload, record.DedupeKey, record.CreatedAt)
	return errors.Wrap(err, "append outbox")
}

func (r *Repository) PendingOutbox(ctx context.Context, limit int) ([]domain.OutboxRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload_json, created_at, published_at, status, dedupe_key
		FROM outbox WHERE status = 'NEW' ORDER BY created_at ASC LIMIT $1
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query outbox")
	}
	defer rows.Close()

	var records []domain.OutboxRecord
	for rows.Next() {
		var rec domain.OutboxRecord
		err := rows.Scan(&rec.ID, &rec.AggregateType, &rec.AggregateID, &rec.EventType, &rec.Payload, &rec.CreatedAt, &rec.PublishedAt, &rec.Status, &rec.DedupeKey)
		if err != nil {
			return nil, errors.Wrap(err, "scan outbox")
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *Repository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE outbox SET status = 'PUBLISHED', published_at = now() WHERE id = $1 AND status = 'NEW'
	`, id)
	if err != nil {
		return errors.Wrap(err, "mark published")
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
