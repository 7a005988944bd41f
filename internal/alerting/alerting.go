// Package alerting routes oversell alerts from the fulfillment engine to operators.
// Alerts are appended to the outbox so they survive broker outages, relayed to RabbitMQ
// and finally consumed into the alert store.
package alerting

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/event-ticket-fulfillment/internal/domain"
	"github.com/robertarktes/event-ticket-fulfillment/internal/observability"
)

type OutboxAppender interface {
	AppendOutbox(ctx context.Context, record domain.OutboxRecord) error
}

// OutboxAlerter is the fulfillment engine's Alerter.
type OutboxAlerter struct {
	outbox OutboxAppender
}

func NewOutboxAlerter(outbox OutboxAppender) *OutboxAlerter {
	return &OutboxAlerter{outbox: outbox}
}

func (a *OutboxAlerter) Oversold(ctx context.Context, alert domain.OversoldAlert) error {
	rec, err := domain.OversoldAlertRecord(alert)
	if err != nil {
		return err
	}
	return errors.Wrap(a.outbox.AppendOutbox(ctx, rec), "append oversold alert")
}

type AlertStore interface {
	Insert(ctx context.Context, alert domain.OversoldAlert) error
}

// Handler processes relayed alert messages.
type Handler struct {
	store  AlertStore
	logger observability.Logger
}

func NewHandler(store AlertStore, logger observability.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// ErrPoison marks a message that will never decode; it should be dropped, not requeued.
var ErrPoison = errors.New("undecodable alert message")

func (h *Handler) Handle(ctx context.Context, body []byte) error {
	var alert domain.OversoldAlert
	if err := json.Unmarshal(body, &alert); err != nil {
		h.logger.WithError(err).Error("dropping undecodable oversold alert")
		return errors.Mark(errors.Wrap(err, "decode alert"), ErrPoison)
	}
	if alert.TransactionID == "" {
		h.logger.Error("dropping oversold alert without transaction id")
		return errors.Mark(errors.New("alert without transaction id"), ErrPoison)
	}

	h.logger.WithFields(map[string]interface{}{
		"event_id":       alert.EventID.String(),
		"purchaser_id":   alert.PurchaserID.String(),
		"quantity":       alert.Quantity,
		"transaction_id": alert.TransactionID,
		"detected_at":    alert.DetectedAt,
	}).Error("OVERSOLD: refund or reconcile required")

	if err := h.store.Insert(ctx, alert); err != nil {
		return errors.Wrap(err, "store alert")
	}
	observability.OversoldAlertsStored.Inc()
	return nil
}
