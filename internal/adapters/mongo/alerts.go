package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/event-ticket-fulfillment/internal/domain"
	"github.com/robertarktes/event-ticket-fulfillment/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// AlertRepository stores oversell alerts for operators to reconcile by hand.
type AlertRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAlertRepository(db *mongo.Database, logger observability.Logger) *AlertRepository {
	return &AlertRepository{
		coll:   db.Collection("oversold_alerts"),
		logger: logger,
	}
}

type AlertDoc struct {
	TransactionID  string    `bson:"_id"`
	EventID        string    `bson:"event_id"`
	PurchaserID    string    `bson:"purchaser_id"`
	Quantity       int       `bson:"quantity"`
	NotificationID string    `bson:"notification_id,omitempty"`
	DetectedAt     time.Time `bson:"detected_at"`
	ReceivedAt     time.Time `bson:"received_at"`
	Resolved       bool      `bson:"resolved"`
}

// Insert is keyed by transaction id, so redelivered alerts collapse into one document.
func (c *AlertRepository) Insert(ctx context.Context, alert domain.OversoldAlert) error {
	doc := AlertDoc{
		TransactionID:  alert.TransactionID,
		EventID:        alert.EventID.String(),
		PurchaserID:    alert.PurchaserID.String(),
		Quantity:       alert.Quantity,
		NotificationID: alert.NotificationID,
		DetectedAt:     alert.DetectedAt,
		ReceivedAt:     time.Now().UTC(),
	}
	_, err := c.coll.UpdateOne(ctx,
		bson.M{"_id": doc.TransactionID},
		bson.M{"$setOnInsert": doc},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		c.logger.WithError(err).Error("failed to store oversold alert")
		return errors.Wrap(err, "store oversold alert")
	}
	return nil
}

func (c *AlertRepository) Recent(ctx context.Context, limit int64) ([]AlertDoc, error) {
	cur, err := c.coll.Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "detected_at", Value: -1}}).SetLimit(limit),
	)
	if err != nil {
		return nil, errors.Wrap(err, "find alerts")
	}
	var docs []AlertDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decode alerts")
	}
	return docs, nil
}
