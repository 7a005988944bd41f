package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickets_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tickets_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	DBTxRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tickets_db_tx_retries_total",
			Help: "Transactions retried after a serialization failure",
		},
	)

	WebhookOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickets_webhook_outcomes_total",
			Help: "Webhook deliveries by fulfillment outcome",
		},
		[]string{"kind", "reason"},
	)

	OversoldTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tickets_oversold_total",
			Help: "Payments captured without inventory to back them",
		},
	)

	OversoldAlertsStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tickets_oversold_alerts_stored_total",
			Help: "Oversold alerts consumed into the alert store",
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tickets_outbox_lag_seconds",
			Help: "Lag of outbox publishing",
		},
	)

	RabbitPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tickets_rabbit_publish_retries_total",
			Help: "Total rabbit publish retries",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tickets_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
