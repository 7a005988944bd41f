package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id UUID PRIMARY KEY,
		name STRING NOT NULL,
		description STRING NOT NULL DEFAULT '',
		venue STRING NOT NULL DEFAULT '',
		starts_at TIMESTAMPTZ,
		total_capacity INT NOT NULL CHECK (total_capacity >= 1),
		remaining_capacity INT NOT NULL,
		unit_price DECIMAL(12,2) NOT NULL,
		currency STRING NOT NULL DEFAULT 'USD',
		price_ref STRING NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT events_remaining_bounds CHECK (remaining_capacity >= 0 AND remaining_capacity <= total_capacity)
	)`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id UUID PRIMARY KEY,
		event_id UUID NOT NULL REFERENCES events (id),
		purchaser_id UUID NOT NULL,
		quantity INT NOT NULL CHECK (quantity >= 1),
		total_price DECIMAL(12,2) NOT NULL,
		currency STRING NOT NULL DEFAULT 'USD',
		external_transaction_id STRING NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT bookings_external_transaction_id_key UNIQUE (external_transaction_id)
	)`,
	`CREATE INDEX IF NOT EXISTS events_starts_at_idx ON events (starts_at)`,
	`CREATE INDEX IF NOT EXISTS bookings_event_idx ON bookings (event_id)`,
	`CREATE INDEX IF NOT EXISTS bookings_purchaser_idx ON bookings (purchaser_id, event_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS outbox (
		id UUID PRIMARY KEY,
		aggregate_type STRING NOT NULL,
		aggregate_id UUID NOT NULL,
		event_type STRING NOT NULL,
		payload_json JSONB NOT NULL,
		status STRING NOT NULL DEFAULT 'NEW' CHECK (status IN ('NEW', 'PUBLISHED')),
		dedupe_key STRING NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		published_at TIMESTAMPTZ,
		CONSTRAINT outbox_dedupe_key_key UNIQUE (dedupe_key)
	)`,
	`CREATE INDEX IF NOT EXISTS outbox_status_idx ON outbox (status, created_at)`,
}

// Migrate creates the tables if they do not exist. Safe to run on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return errors.Wrap(err, "migrate")
		}
	}
	return nil
}
