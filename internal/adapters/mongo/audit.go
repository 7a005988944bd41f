package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-ticket-fulfillment/internal/fulfillment"
	"github.com/robertarktes/event-ticket-fulfillment/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// AuditLogger keeps one document per webhook delivery, whatever its outcome.
type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("webhook_audit"),
		logger: logger,
	}
}

type AuditLog struct {
	ID             string    `bson:"_id"`
	Kind           string    `bson:"kind"`
	Reason         string    `bson:"reason,omitempty"`
	NotificationID string    `bson:"notification_id,omitempty"`
	EventType      string    `bson:"event_type,omitempty"`
	TransactionID  string    `bson:"transaction_id,omitempty"`
	EventID        string    `bson:"event_id,omitempty"`
	PurchaserID    string    `bson:"purchaser_id,omitempty"`
	Quantity       int       `bson:"quantity,omitempty"`
	BookingID      string    `bson:"booking_id,omitempty"`
	Error          string    `bson:"error,omitempty"`
	Timestamp      time.Time `bson:"timestamp"`
}

func (a *AuditLogger) RecordWebhook(ctx context.Context, out fulfillment.Outcome) error {
	log := AuditLog{
		ID:             uuid.NewString(),
		Kind:           string(out.Kind),
		Reason:         string(out.Reason),
		NotificationID: out.NotificationID,
		EventType:      out.EventType,
		TransactionID:  out.TransactionID,
		Quantity:       out.Quantity,
		Timestamp:      time.Now().UTC(),
	}
	if out.EventID != uuid.Nil {
		log.EventID = out.EventID.String()
	}
	if out.PurchaserID != uuid.Nil {
		log.PurchaserID = out.PurchaserID.String()
	}
	if out.Booking != nil {
		log.BookingID = out.Booking.ID.String()
	}
	if out.Err != nil {
		log.Error = out.Err.Error()
	}
	if _, err := a.coll.InsertOne(ctx, log); err != nil {
		a.logger.WithError(err).Error("failed to insert audit log")
		return errors.Wrap(err, "insert audit log")
	}
	return nil
}

// ByTransaction returns the audit trail of one provider transaction, oldest first.
func (a *AuditLogger) ByTransaction(ctx context.Context, transactionID string) ([]AuditLog, error) {
	cur, err := a.coll.Find(ctx,
		bson.M{"transaction_id": transactionID},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "find audit logs")
	}
	var logs []AuditLog
	if err := cur.All(ctx, &logs); err != nil {
		return nil, errors.Wrap(err, "decode audit logs")
	}
	return logs, nil
}
