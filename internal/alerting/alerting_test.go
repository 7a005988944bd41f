package alerting_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	cerrors "github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-ticket-fulfillment/internal/adapters/memory"
	"github.com/robertarktes/event-ticket-fulfillment/internal/alerting"
	"github.com/robertarktes/event-ticket-fulfillment/internal/domain"
	"github.com/robertarktes/event-ticket-fulfillment/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memAlerts struct {
	alerts map[string]domain.OversoldAlert
	err    error
}

func (m *memAlerts) Insert(ctx context.Context, alert domain.OversoldAlert) error {
	if m.err != nil {
		return m.err
	}
	m.alerts[alert.TransactionID] = alert
	return nil
}

func TestOutboxAlerter_DeduplicatesByTransaction(t *testing.T) {
	store := memory.NewStore()
	alerter := alerting.NewOutboxAlerter(store)
	alert := domain.OversoldAlert{EventID: uuid.New(), PurchaserID: uuid.New(), Quantity: 2, TransactionID: "txn_1", DetectedAt: time.Now()}

	require.NoError(t, alerter.Oversold(context.Background(), alert))
	require.NoError(t, alerter.Oversold(context.Background(), alert))

	records := store.Outbox()
	require.Len(t, records, 1)
	assert.Equal(t, domain.EventTypeBookingOversold, records[0].EventType)
	assert.Equal(t, "booking.oversold:txn_1", records[0].DedupeKey)
}

func TestHandler(t *testing.T) {
	alerts := &memAlerts{alerts: map[string]domain.OversoldAlert{}}
	h := alerting.NewHandler(alerts, observability.NopLogger())

	body, err := json.Marshal(domain.OversoldAlert{EventID: uuid.New(), Quantity: 1, TransactionID: "txn_9"})
	require.NoError(t, err)
	require.NoError(t, h.Handle(context.Background(), body))
	assert.Contains(t, alerts.alerts, "txn_9")

	err = h.Handle(context.Background(), []byte("{not json"))
	assert.True(t, cerrors.Is(err, alerting.ErrPoison))

	err = h.Handle(context.Background(), []byte(`{"quantity":1}`))
	assert.True(t, cerrors.Is(err, alerting.ErrPoison))

	alerts.err = errors.New("mongo down")
	err = h.Handle(context.Background(), body)
	require.Error(t, err)
	assert.False(t, cerrors.Is(err, alerting.ErrPoison))
}
