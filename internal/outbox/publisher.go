package outbox

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/event-ticket-fulfillment/internal/domain"
	"github.com/robertarktes/event-ticket-fulfillment/internal/observability"
)

// Broker is satisfied by the rabbit publisher.
type Broker interface {
	Publish(ctx context.Context, key, messageID string, body []byte) error
}

type Publisher struct {
	store    domain.OutboxStore
	broker   Broker
	logger   observability.Logger
	interval time.Duration
	batch    int
	attempts int
	backoff  time.Duration
}

func NewPublisher(store domain.OutboxStore, broker Broker, logger observability.Logger, interval time.Duration, batch int) *Publisher {
	return &Publisher{
		store:    store,
		broker:   broker,
		logger:   logger,
		interval: interval,
		batch:    batch,
		attempts: 3,
		backoff:  200 * time.Millisecond,
	}
}

// Run relays pending records every interval until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.RelayOnce(ctx); err != nil && ctx.Err() == nil {
				p.logger.WithError(err).Error("outbox relay failed")
			}
		}
	}
}

// RelayOnce publishes one batch and returns how many records were marked published.
// Records are delivered at least once: a crash between publish and mark republishes,
// and consumers dedupe on the message id.
func (p *Publisher) RelayOnce(ctx context.Context) (int, error) {
	records, err := p.store.PendingOutbox(ctx, p.batch)
	if err != nil {
		return 0, errors.Wrap(err, "load pending outbox")
	}
	if len(records) == 0 {
		observability.OutboxLag.Set(0)
		return 0, nil
	}
	observability.OutboxLag.Set(time.Since(records[0].CreatedAt).Seconds())

	published := 0
	for _, rec := range records {
		log := p.logger.WithFields(map[string]interface{}{
			"outbox_id":  rec.ID.String(),
			"event_type": rec.EventType,
			"dedupe_key": rec.DedupeKey,
		})
		if err := p.publish(ctx, rec); err != nil {
			log.WithError(err).Warn("outbox publish failed, will retry next tick")
			continue
		}
		if err := p.store.MarkPublished(ctx, rec.ID); err != nil {
			log.WithError(err).Error("failed to mark outbox record published")
			continue
		}
		published++
		log.Debug("outbox record published")
	}
	return published, nil
}

func (p *Publisher) publish(ctx context.Context, rec domain.OutboxRecord) error {
	var err error
	for attempt := 0; attempt < p.attempts; attempt++ {
		if attempt > 0 {
			observability.RabbitPublishRetries.Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.backoff * time.Duration(attempt)):
			}
		}
		if err = p.broker.Publish(ctx, rec.EventType, rec.DedupeKey, rec.Payload); err == nil {
			return nil
		}
	}
	return err
}
