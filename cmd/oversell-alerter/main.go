package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	mongoadapter "github.com/robertarktes/event-ticket-fulfillment/internal/adapters/mongo"
	"github.com/robertarktes/event-ticket-fulfillment/internal/adapters/rabbit"
	"github.com/robertarktes/event-ticket-fulfillment/internal/alerting"
	"github.com/robertarktes/event-ticket-fulfillment/internal/config"
	"github.com/robertarktes/event-ticket-fulfillment/internal/domain"
	"github.com/robertarktes/event-ticket-fulfillment/internal/observability"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const queue = "tickets.oversold-alerts"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.RabbitURL == "" || cfg.MongoURI == "" {
		log.Fatal("RABBIT_URL and MONGO_URI are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "tickets-oversell-alerter")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	alerts := mongoadapter.NewAlertRepository(mongoClient.Database(cfg.MongoDB), logger)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	consumer, err := rabbit.NewConsumer(conn, queue, domain.EventTypeBookingOversold, 10)
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}
	defer consumer.Close()

	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		log.Fatalf("failed to consume: %v", err)
	}

	handler := alerting.NewHandler(alerts, logger)
	logger.WithField("queue", queue).Info("Oversell alerter started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown oversell alerter")
			return
		case d, ok := <-deliveries:
			if !ok {
				logger.Error("delivery channel closed")
				return
			}
			process(ctx, handler, d, logger)
		}
	}
}

func process(ctx context.Context, handler *alerting.Handler, d amqp.Delivery, logger observability.Logger) {
	hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	err := handler.Handle(hctx, d.Body)
	switch {
	case err == nil:
		d.Ack(false)
	case errors.Is(err, alerting.ErrPoison):
		d.Nack(false, false)
	default:
		logger.WithError(err).WithField("message_id", d.MessageId).Warn("alert not stored, requeueing")
		d.Nack(false, true)
	}
}
