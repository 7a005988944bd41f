// Package fulfillment turns signed payment notifications into bookings.
//
// The steps run in a fixed order: authenticate, filter, extract, idempotency lookup,
// then one storage transaction that decrements capacity with a conditional update and
// appends the booking. Correctness under concurrent and repeated deliveries comes from
// the store (conditional update, unique transaction id), not from locks in this process.
package fulfillment

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/event-ticket-fulfillment/internal/domain"
	"github.com/robertarktes/event-ticket-fulfillment/internal/observability"
	"github.com/robertarktes/event-ticket-fulfillment/internal/signature"
	"github.com/robertarktes/event-ticket-fulfillment/internal/webhook"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type Store interface {
	BookingByTransactionID(ctx context.Context, transactionID string) (*domain.Booking, error)
	domain.Transactor
}

// Alerter raises the operator alert for a payment captured without inventory.
type Alerter interface {
	Oversold(ctx context.Context, alert domain.OversoldAlert) error
}

// Auditor records every delivery for operator triage. Failures never change the outcome.
type Auditor interface {
	RecordWebhook(ctx context.Context, outcome Outcome) error
}

type Engine struct {
	verifier *signature.Verifier
	store    Store
	alerter  Alerter
	auditor  Auditor
	logger   observability.Logger
}

type Option func(*Engine)

func WithAlerter(a Alerter) Option {
	return func(e *Engine) { e.alerter = a }
}

func WithAuditor(a Auditor) Option {
	return func(e *Engine) { e.auditor = a }
}

func NewEngine(verifier *signature.Verifier, store Store, logger observability.Logger, opts ...Option) *Engine {
	e := &Engine{verifier: verifier, store: store, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Fulfill processes one delivery. rawBody must be the exact bytes received.
func (e *Engine) Fulfill(ctx context.Context, rawBody []byte, signatureHeader string) Outcome {
	ctx, span := observability.StartSpan(ctx, observability.TracerFulfillment, "fulfillment.Fulfill")
	defer span.End()

	out := e.fulfill(ctx, rawBody, signatureHeader)

	span.SetAttributes(
		attribute.String("fulfillment.kind", string(out.Kind)),
		attribute.String("fulfillment.reason", string(out.Reason)),
		attribute.String("fulfillment.transaction_id", out.TransactionID),
	)
	if out.Err != nil && out.Kind != KindIgnored {
		span.RecordError(out.Err)
	}
	if out.Kind == KindTransientError || out.Kind == KindOversold {
		span.SetStatus(codes.Error, string(out.Kind))
	}

	e.report(ctx, out)
	return out
}

func (e *Engine) fulfill(ctx context.Context, rawBody []byte, signatureHeader string) Outcome {
	if err := e.verifier.Verify(rawBody, signatureHeader); err != nil {
		return Outcome{Kind: KindRejected, Reason: ReasonBadSignature, Err: err}
	}

	n, err := webhook.ParseNotification(rawBody)
	if err != nil {
		return Outcome{Kind: KindRejected, Reason: ReasonMalformedPayload, Err: err}
	}
	out := Outcome{NotificationID: n.NotificationID, EventType: n.EventType}
	if !n.IsTransactionCompleted() {
		out.Kind, out.Reason = KindIgnored, ReasonIrrelevantEventType
		return out
	}

	tx, err := n.Transaction()
	if err != nil {
		out.Kind, out.Err = KindRejected, err
		switch {
		case errors.Is(err, webhook.ErrMissingFields):
			out.Reason = ReasonMissingRequiredFields
		case errors.Is(err, webhook.ErrInvalidQuantity):
			out.Reason = ReasonInvalidQuantity
		default:
			out.Reason = ReasonMalformedPayload
		}
		return out
	}
	out.TransactionID = tx.ID
	out.EventID = tx.EventID
	out.PurchaserID = tx.PurchaserID
	out.Quantity = tx.Quantity

	lookupCtx, lookupSpan := observability.StartSpan(ctx, observability.TracerFulfillment, "fulfillment.lookup")
	existing, err := e.store.BookingByTransactionID(lookupCtx, tx.ID)
	lookupSpan.End()
	switch {
	case err == nil:
		out.Kind, out.Booking = KindDuplicate, existing
		return out
	case !errors.Is(err, domain.ErrNotFound):
		out.Kind, out.Err = KindTransientError, errors.Wrap(err, "idempotency lookup")
		return out
	}

	var booking domain.Booking
	bookCtx, bookSpan := observability.StartSpan(ctx, observability.TracerFulfillment, "fulfillment.book",
		attribute.String("fulfillment.event_id", tx.EventID.String()),
		attribute.Int("fulfillment.quantity", tx.Quantity),
	)
	err = e.store.WithinTx(bookCtx, func(ctx context.Context, store domain.FulfillmentTx) error {
		event, err := store.DecrementRemaining(ctx, tx.EventID, tx.Quantity)
		if err != nil {
			return err
		}
		booking = domain.NewBooking(*event, tx.PurchaserID, tx.Quantity, tx.ID)
		if err := store.InsertBooking(ctx, booking); err != nil {
			return err
		}
		rec, err := domain.BookingConfirmedRecord(booking)
		if err != nil {
			return err
		}
		return store.InsertOutbox(ctx, rec)
	})
	bookSpan.End()

	switch {
	case err == nil:
		out.Kind, out.Booking = KindFulfilled, &booking
	case errors.Is(err, domain.ErrInsufficientCapacity):
		// A concurrent redelivery of this transaction may have taken the last tickets.
		if winner, lookupErr := e.store.BookingByTransactionID(ctx, tx.ID); lookupErr == nil {
			out.Kind, out.Booking = KindDuplicate, winner
			break
		}
		out.Kind, out.Err = KindOversold, err
	case errors.Is(err, domain.ErrDuplicateTransaction):
		// Lost the race to a concurrent delivery; the decrement rolled back with the insert.
		out.Kind = KindDuplicate
		if winner, lookupErr := e.store.BookingByTransactionID(ctx, tx.ID); lookupErr == nil {
			out.Booking = winner
		}
	default:
		out.Kind, out.Err = KindTransientError, errors.Wrap(err, "fulfillment transaction")
	}
	return out
}

func (e *Engine) report(ctx context.Context, out Outcome) {
	observability.WebhookOutcomes.WithLabelValues(string(out.Kind), string(out.Reason)).Inc()

	log := e.logger.WithFields(map[string]interface{}{
		"outcome":         out.Kind,
		"reason":          out.Reason,
		"notification_id": out.NotificationID,
		"event_type":      out.EventType,
		"transaction_id":  out.TransactionID,
	})
	if out.Err != nil {
		log = log.WithError(out.Err)
	}
	if out.TransactionID != "" {
		log = log.WithFields(map[string]interface{}{
			"event_id":     out.EventID.String(),
			"purchaser_id": out.PurchaserID.String(),
			"quantity":     out.Quantity,
		})
	}

	switch out.Kind {
	case KindFulfilled:
		log.WithField("booking_id", out.Booking.ID.String()).Info("booking fulfilled")
	case KindDuplicate:
		log.Info("duplicate transaction acknowledged")
	case KindIgnored:
		log.Debug("webhook ignored")
	case KindRejected:
		if out.Reason == ReasonBadSignature {
			log.Warn("webhook signature rejected")
		} else {
			log.Error("webhook payload unusable")
		}
	case KindOversold:
		observability.OversoldTotal.Inc()
		log.Error("OVERSOLD: payment captured without inventory")
		if e.alerter != nil {
			alert := domain.OversoldAlert{
				EventID:        out.EventID,
				PurchaserID:    out.PurchaserID,
				Quantity:       out.Quantity,
				TransactionID:  out.TransactionID,
				NotificationID: out.NotificationID,
				DetectedAt:     time.Now().UTC(),
			}
			if err := e.alerter.Oversold(ctx, alert); err != nil {
				log.WithError(err).Error("failed to raise oversold alert")
			}
		}
	case KindTransientError:
		log.Error("webhook fulfillment failed, provider will retry")
	}

	if e.auditor != nil {
		if err := e.auditor.RecordWebhook(ctx, out); err != nil {
			log.WithError(err).Warn("failed to record webhook audit entry")
		}
	}
}
