package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/event-ticket-fulfillment/internal/adapters/memory"
	"github.com/robertarktes/event-ticket-fulfillment/internal/checkout"
	"github.com/robertarktes/event-ticket-fulfillment/internal/config"
	"github.com/robertarktes/event-ticket-fulfillment/internal/domain"
	"github.com/robertarktes/event-ticket-fulfillment/internal/fulfillment"
	api "github.com/robertarktes/event-ticket-fulfillment/internal/http"
	"github.com/robertarktes/event-ticket-fulfillment/internal/idempotency"
	"github.com/robertarktes/event-ticket-fulfillment/internal/observability"
	"github.com/robertarktes/event-ticket-fulfillment/internal/rateLimit"
	"github.com/robertarktes/event-ticket-fulfillment/internal/signature"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const webhookSecret = "pdl_ntfset_test"

type memCache struct {
	mu    sync.Mutex
	items map[string]idempotency.Response
}

func (m *memCache) Get(ctx context.Context, key string) (*idempotency.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	resp, ok := m.items[key]
	if !ok {
		return nil, nil
	}
	return &resp, nil
}

func (m *memCache) Set(ctx context.Context, key string, resp idempotency.Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = resp
	return nil
}

type memCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (m *memCounter) Incr(ctx context.Context, key string, period time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
	return m.counts[key], nil
}

type server struct {
	store    *memory.Store
	verifier *signature.Verifier
	auth     *api.Authenticator
	handler  http.Handler
	buyer    domain.Purchaser
	admin    domain.Purchaser
}

func newServer(t *testing.T, perUser int) *server {
	t.Helper()
	cfg := &config.Config{
		PaddleEnvironment:   "sandbox",
		PaddleClientToken:   "test_client_token",
		PaddleWebhookSecret: webhookSecret,
		JWTSecret:           "jwt-secret",
		WebhookTimeout:      5 * time.Second,
		MaxWebhookBytes:     1 << 16,
	}
	store := memory.NewStore()
	verifier := signature.NewVerifier(webhookSecret)
	engine := fulfillment.NewEngine(verifier, store, observability.NopLogger())
	issuer := checkout.NewIssuer(store, checkout.ProviderConfig{Environment: cfg.PaddleEnvironment, ClientToken: cfg.PaddleClientToken})
	auth := api.NewAuthenticator(cfg.JWTSecret)

	h := api.NewHandlers(cfg, store, engine, issuer, &memCache{items: map[string]idempotency.Response{}})
	limiter := rateLimit.NewRateLimiter(&memCounter{counts: map[string]int64{}}, observability.NopLogger())
	return &server{
		store:    store,
		verifier: verifier,
		auth:     auth,
		handler: api.SetupRouter(api.RouterDeps{
			Handlers: h,
			Auth:     auth,
			Logger:   observability.NopLogger(),
			Limiter:  limiter,
			PerUser:  perUser,
			PerIP:    1000,
		}),
		buyer: domain.Purchaser{ID: uuid.New(), Email: "buyer@example.com"},
		admin: domain.Purchaser{ID: uuid.New(), Email: "ops@example.com", Admin: true},
	}
}

func (s *server) do(t *testing.T, method, path string, as *domain.Purchaser, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if as != nil {
		token, err := s.auth.Issue(*as, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *server) seedEvent(t *testing.T, capacity int) domain.Event {
	t.Helper()
	event, err := domain.NewEvent(domain.NewEventParams{
		Name:          "Jazz Night",
		TotalCapacity: capacity,
		UnitPrice:     decimal.RequireFromString("12.00"),
		PriceRef:      "pri_jazz",
	})
	require.NoError(t, err)
	require.NoError(t, s.store.CreateEvent(context.Background(), event))
	return event
}

func webhookBody(t *testing.T, txID string, eventID, purchaserID uuid.UUID, qty int) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"notification_id": "ntf_" + txID,
		"event_type":      "transaction.completed",
		"data": map[string]any{
			"id": txID,
			"custom_data": map[string]any{
				"event_id":     eventID.String(),
				"purchaser_id": purchaserID.String(),
				"quantity":     qty,
			},
		},
	})
	require.NoError(t, err)
	return body
}

func TestWebhook_StatusMapping(t *testing.T) {
	s := newServer(t, 100)
	event := s.seedEvent(t, 2)
	body := webhookBody(t, "txn_1", event.ID, s.buyer.ID, 2)
	signed := map[string]string{signature.HeaderName: s.verifier.Sign(body, time.Now())}

	rec := s.do(t, http.MethodPost, "/v1/webhooks/paddle", nil, body, signed)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"outcome":"fulfilled"`)

	rec = s.do(t, http.MethodPost, "/v1/webhooks/paddle", nil, body, signed)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"outcome":"duplicate"`)

	other := webhookBody(t, "txn_2", event.ID, s.buyer.ID, 1)
	rec = s.do(t, http.MethodPost, "/v1/webhooks/paddle", nil, other,
		map[string]string{signature.HeaderName: s.verifier.Sign(other, time.Now())})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"outcome":"oversold"`)

	rec = s.do(t, http.MethodPost, "/v1/webhooks/paddle", nil, body, map[string]string{signature.HeaderName: "ts=1;h1=deadbeef"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	garbage := []byte("{not json")
	rec = s.do(t, http.MethodPost, "/v1/webhooks/paddle", nil, garbage,
		map[string]string{signature.HeaderName: s.verifier.Sign(garbage, time.Now())})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhook_BodyTooLarge(t *testing.T) {
	s := newServer(t, 100)
	body := bytes.Repeat([]byte("a"), 1<<17)
	rec := s.do(t, http.MethodPost, "/v1/webhooks/paddle", nil, body, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestCheckoutSession(t *testing.T) {
	s := newServer(t, 100)
	event := s.seedEvent(t, 3)

	body := []byte(`{"event_id":"` + event.ID.String() + `","quantity":2}`)
	rec := s.do(t, http.MethodPost, "/v1/checkout/sessions", &s.buyer, body, map[string]string{"Idempotency-Key": "abc"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var session checkout.SessionDescriptor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	assert.Equal(t, "pri_jazz", session.PriceID)
	assert.Equal(t, "buyer@example.com", session.CustomerEmail)
	assert.Equal(t, s.buyer.ID.String(), session.CustomData.PurchaserID)
	assert.Equal(t, "sandbox", session.Environment)

	replay := s.do(t, http.MethodPost, "/v1/checkout/sessions", &s.buyer, body, map[string]string{"Idempotency-Key": "abc"})
	assert.Equal(t, http.StatusCreated, replay.Code)
	assert.Equal(t, "true", replay.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, rec.Body.String(), replay.Body.String())

	tooMany := []byte(`{"event_id":"` + event.ID.String() + `","quantity":4}`)
	rec = s.do(t, http.MethodPost, "/v1/checkout/sessions", &s.buyer, tooMany, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "only 3 tickets left")

	missing := []byte(`{"event_id":"` + uuid.NewString() + `","quantity":1}`)
	rec = s.do(t, http.MethodPost, "/v1/checkout/sessions", &s.buyer, missing, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	zero := []byte(`{"event_id":"` + event.ID.String() + `","quantity":0}`)
	rec = s.do(t, http.MethodPost, "/v1/checkout/sessions", &s.buyer, zero, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/checkout/sessions", nil, body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCheckoutSession_RateLimited(t *testing.T) {
	s := newServer(t, 2)
	event := s.seedEvent(t, 3)
	body := []byte(`{"event_id":"` + event.ID.String() + `","quantity":1}`)

	for i := 0; i < 2; i++ {
		rec := s.do(t, http.MethodPost, "/v1/checkout/sessions", &s.buyer, body, nil)
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec := s.do(t, http.MethodPost, "/v1/checkout/sessions", &s.buyer, body, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestBookingQueries(t *testing.T) {
	s := newServer(t, 100)
	event := s.seedEvent(t, 10)

	rec := s.do(t, http.MethodGet, "/v1/events/"+event.ID.String()+"/bookings/latest", &s.buyer, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	for _, tx := range []string{"txn_a", "txn_b"} {
		body := webhookBody(t, tx, event.ID, s.buyer.ID, 1)
		rec := s.do(t, http.MethodPost, "/v1/webhooks/paddle", nil, body,
			map[string]string{signature.HeaderName: s.verifier.Sign(body, time.Now())})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec = s.do(t, http.MethodGet, "/v1/events/"+event.ID.String()+"/bookings/latest", &s.buyer, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_price":"12.00"`)

	rec = s.do(t, http.MethodGet, "/v1/bookings", &s.buyer, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Bookings []map[string]any `json:"bookings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Bookings, 2)

	rec = s.do(t, http.MethodGet, "/v1/events/"+event.ID.String(), nil, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"remaining_capacity":8`)

	rec = s.do(t, http.MethodGet, "/v1/events/not-a-uuid", nil, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminEvents(t *testing.T) {
	s := newServer(t, 100)

	create := []byte(`{"name":"Opera","total_capacity":5,"unit_price":"40.00","price_ref":"pri_opera"}`)
	rec := s.do(t, http.MethodPost, "/v1/admin/events", &s.buyer, create, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/admin/events", &s.admin, create, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		ID                uuid.UUID `json:"id"`
		RemainingCapacity int       `json:"remaining_capacity"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, 5, created.RemainingCapacity)

	body := webhookBody(t, "txn_op", created.ID, s.buyer.ID, 4)
	rec = s.do(t, http.MethodPost, "/v1/webhooks/paddle", nil, body,
		map[string]string{signature.HeaderName: s.verifier.Sign(body, time.Now())})
	require.Equal(t, http.StatusOK, rec.Code)

	path := "/v1/admin/events/" + created.ID.String() + "/capacity"
	rec = s.do(t, http.MethodPut, path, &s.admin, []byte(`{"total_capacity":3}`), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPut, path, &s.admin, []byte(`{"total_capacity":6}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"remaining_capacity":2`)

	rec = s.do(t, http.MethodPut, "/v1/admin/events/"+uuid.NewString()+"/capacity", &s.admin, []byte(`{"total_capacity":6}`), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	bad := []byte(`{"name":"","total_capacity":0,"unit_price":"1","price_ref":"p"}`)
	rec = s.do(t, http.MethodPost, "/v1/admin/events", &s.admin, bad, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClientConfigAndHealth(t *testing.T) {
	s := newServer(t, 100)

	rec := s.do(t, http.MethodGet, "/v1/config", nil, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"environment":"sandbox","client_token":"test_client_token"}`, rec.Body.String())

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/v1/healthz", nil, nil, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/v1/readyz", nil, nil, nil).Code)
}

func TestAuthenticator_RejectsForeignTokens(t *testing.T) {
	auth := api.NewAuthenticator("jwt-secret")
	other := api.NewAuthenticator("another-secret")
	p := domain.Purchaser{ID: uuid.New()}

	token, err := other.Issue(p, time.Hour)
	require.NoError(t, err)
	_, err = auth.Parse(token)
	assert.Error(t, err)

	expired, err := auth.Issue(p, -time.Minute)
	require.NoError(t, err)
	_, err = auth.Parse(expired)
	assert.Error(t, err)

	token, err = auth.Issue(p, time.Hour)
	require.NoError(t, err)
	got, err := auth.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
}

func (s *server) seedEventAt(t *testing.T, name string, startsAt time.Time) domain.Event {
	t.Helper()
	event, err := domain.NewEvent(domain.NewEventParams{
		Name:          name,
		StartsAt:      startsAt,
		TotalCapacity: 10,
		UnitPrice:     decimal.RequireFromString("5.00"),
		PriceRef:      "pri_" + name,
	})
	require.NoError(t, err)
	require.NoError(t, s.store.CreateEvent(context.Background(), event))
	return event
}

func eventNames(t *testing.T, rec *httptest.ResponseRecorder) []string {
	t.Helper()
	var list struct {
		Events []struct {
			Name string `json:"name"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	names := make([]string, 0, len(list.Events))
	for _, e := range list.Events {
		names = append(names, e.Name)
	}
	return names
}

func TestEventCatalogue(t *testing.T) {
	s := newServer(t, 100)
	now := time.Now()
	s.seedEventAt(t, "later", now.Add(72*time.Hour))
	s.seedEventAt(t, "past", now.Add(-24*time.Hour))
	s.seedEventAt(t, "soon", now.Add(24*time.Hour))

	rec := s.do(t, http.MethodGet, "/v1/events", nil, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"soon", "later"}, eventNames(t, rec))

	rec = s.do(t, http.MethodGet, "/v1/admin/events", &s.buyer, nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/admin/events", &s.admin, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.ElementsMatch(t, []string{"soon", "later", "past"}, eventNames(t, rec))
}

func TestAdminDeleteEvent(t *testing.T) {
	s := newServer(t, 100)
	unsold := s.seedEvent(t, 3)
	sold := s.seedEvent(t, 3)

	body := webhookBody(t, "txn_del", sold.ID, s.buyer.ID, 1)
	rec := s.do(t, http.MethodPost, "/v1/webhooks/paddle", nil, body,
		map[string]string{signature.HeaderName: s.verifier.Sign(body, time.Now())})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodDelete, "/v1/admin/events/"+unsold.ID.String(), &s.buyer, nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodDelete, "/v1/admin/events/"+sold.ID.String(), &s.admin, nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Len(t, s.store.Bookings(), 1)

	rec = s.do(t, http.MethodDelete, "/v1/admin/events/"+unsold.ID.String(), &s.admin, nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/events/"+unsold.ID.String(), nil, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodDelete, "/v1/admin/events/"+unsold.ID.String(), &s.admin, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
