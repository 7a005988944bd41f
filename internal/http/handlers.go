package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/event-ticket-fulfillment/internal/checkout"
	"github.com/robertarktes/event-ticket-fulfillment/internal/config"
	"github.com/robertarktes/event-ticket-fulfillment/internal/domain"
	"github.com/robertarktes/event-ticket-fulfillment/internal/fulfillment"
	"github.com/robertarktes/event-ticket-fulfillment/internal/idempotency"
	"github.com/robertarktes/event-ticket-fulfillment/internal/signature"
	"github.com/shopspring/decimal"
)

type Store interface {
	domain.EventStore
	domain.BookingStore
	Ping(ctx context.Context) error
}

type Fulfiller interface {
	Fulfill(ctx context.Context, rawBody []byte, signatureHeader string) fulfillment.Outcome
}

type SessionIssuer interface {
	Issue(ctx context.Context, eventID uuid.UUID, purchaser domain.Purchaser, quantity int) (*checkout.SessionDescriptor, error)
}

type ResponseCache interface {
	Get(ctx context.Context, key string) (*idempotency.Response, error)
	Set(ctx context.Context, key string, resp idempotency.Response) error
}

type Handlers struct {
	cfg    *config.Config
	store  Store
	engine Fulfiller
	issuer SessionIssuer
	idemp  ResponseCache
}

// NewHandlers wires the HTTP surface. idemp may be nil, which disables replay of
// checkout responses.
func NewHandlers(cfg *config.Config, store Store, engine Fulfiller, issuer SessionIssuer, idemp ResponseCache) *Handlers {
	return &Handlers{
		cfg:    cfg,
		store:  store,
		engine: engine,
		issuer: issuer,
		idemp:  idemp,
	}
}

type eventResponse struct {
	ID                uuid.UUID `json:"id"`
	Name              string    `json:"name"`
	Description       string    `json:"description,omitempty"`
	Venue             string    `json:"venue,omitempty"`
	StartsAt          time.Time `json:"starts_at"`
	TotalCapacity     int       `json:"total_capacity"`
	RemainingCapacity int       `json:"remaining_capacity"`
	UnitPrice         string    `json:"unit_price"`
	Currency          string    `json:"currency"`
}

func toEventResponse(e *domain.Event) eventResponse {
	return eventResponse{
		ID:                e.ID,
		Name:              e.Name,
		Description:       e.Description,
		Venue:             e.Venue,
		StartsAt:          e.StartsAt,
		TotalCapacity:     e.TotalCapacity,
		RemainingCapacity: e.RemainingCapacity,
		UnitPrice:         e.UnitPrice.StringFixed(2),
		Currency:          e.Currency,
	}
}

func toEventResponses(events []domain.Event) []eventResponse {
	resp := make([]eventResponse, 0, len(events))
	for i := range events {
		resp = append(resp, toEventResponse(&events[i]))
	}
	return resp
}

type bookingResponse struct {
	ID            uuid.UUID `json:"id"`
	EventID       uuid.UUID `json:"event_id"`
	Quantity      int       `json:"quantity"`
	TotalPrice    string    `json:"total_price"`
	Currency      string    `json:"currency"`
	TransactionID string    `json:"transaction_id"`
	CreatedAt     time.Time `json:"created_at"`
}

func toBookingResponse(b *domain.Booking) bookingResponse {
	return bookingResponse{
		ID:            b.ID,
		EventID:       b.EventID,
		Quantity:      b.Quantity,
		TotalPrice:    b.TotalPrice.StringFixed(2),
		Currency:      b.Currency,
		TransactionID: b.ExternalTransactionID,
		CreatedAt:     b.CreatedAt,
	}
}

// PaddleWebhook hands the exact received bytes to the fulfillment engine. Processing
// is detached from the provider's connection so a dropped request cannot abandon a
// half-finished fulfillment.
func (h *Handlers) PaddleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxWebhookBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.cfg.WebhookTimeout)
	defer cancel()

	out := h.engine.Fulfill(ctx, body, r.Header.Get(signature.HeaderName))
	writeJSON(w, out.HTTPStatus(), map[string]string{
		"outcome": string(out.Kind),
		"reason":  string(out.Reason),
	})
}

func (h *Handlers) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	purchaser, _ := PurchaserFrom(r.Context())

	cacheKey := ""
	if key := r.Header.Get("Idempotency-Key"); key != "" && h.idemp != nil {
		cacheKey = "checkout:" + purchaser.ID.String() + ":" + key
		existing, err := h.idemp.Get(r.Context(), cacheKey)
		if err != nil {
			loggerFrom(r.Context()).WithError(err).Warn("idempotency cache unavailable")
		}
		if existing != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(existing.Status)
			w.Write(existing.Result)
			return
		}
	}

	var req struct {
		EventID  uuid.UUID `json:"event_id"`
		Quantity int       `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.issuer.Issue(r.Context(), req.EventID, purchaser, req.Quantity)
	if err != nil {
		var userErr *checkout.UserError
		switch {
		case errors.As(err, &userErr) && errors.Is(err, domain.ErrInsufficientCapacity):
			writeError(w, http.StatusConflict, userErr.Message)
		case errors.As(err, &userErr) && errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, userErr.Message)
		case errors.As(err, &userErr):
			writeError(w, http.StatusBadRequest, userErr.Message)
		case errors.Is(err, domain.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "invalid request")
		default:
			loggerFrom(r.Context()).WithError(err).Error("checkout session failed")
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	data, err := json.Marshal(session)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	w.Write(data)

	if cacheKey != "" {
		if err := h.idemp.Set(r.Context(), cacheKey, idempotency.Response{Status: http.StatusCreated, Result: data}); err != nil {
			loggerFrom(r.Context()).WithError(err).Warn("failed to cache checkout response")
		}
	}
}

func (h *Handlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	event, err := h.store.GetEvent(r.Context(), id)
	if err != nil {
		h.storeError(w, r, err, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, toEventResponse(event))
}

// ListUpcomingEvents is the public catalogue: events that have not started, soonest first.
func (h *Handlers) ListUpcomingEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.store.ListUpcomingEvents(r.Context(), time.Now().UTC())
	if err != nil {
		h.storeError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": toEventResponses(events)})
}

func (h *Handlers) ListAllEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.store.ListEvents(r.Context())
	if err != nil {
		h.storeError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": toEventResponses(events)})
}

// LatestBooking lets the buyer's client poll for the booking the webhook created.
func (h *Handlers) LatestBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	purchaser, _ := PurchaserFrom(r.Context())
	booking, err := h.store.LatestBooking(r.Context(), id, purchaser.ID)
	if err != nil {
		h.storeError(w, r, err, "no booking yet")
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(booking))
}

func (h *Handlers) ListBookings(w http.ResponseWriter, r *http.Request) {
	purchaser, _ := PurchaserFrom(r.Context())
	bookings, err := h.store.ListBookings(r.Context(), purchaser.ID)
	if err != nil {
		h.storeError(w, r, err, "")
		return
	}
	resp := make([]bookingResponse, 0, len(bookings))
	for i := range bookings {
		resp = append(resp, toBookingResponse(&bookings[i]))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bookings": resp})
}

func (h *Handlers) ClientConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"environment":  h.cfg.PaddleEnvironment,
		"client_token": h.cfg.PaddleClientToken,
	})
}

func (h *Handlers) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name          string          `json:"name"`
		Description   string          `json:"description"`
		Venue         string          `json:"venue"`
		StartsAt      time.Time       `json:"starts_at"`
		TotalCapacity int             `json:"total_capacity"`
		UnitPrice     decimal.Decimal `json:"unit_price"`
		Currency      string          `json:"currency"`
		PriceRef      string          `json:"price_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	event, err := domain.NewEvent(domain.NewEventParams{
		Name:          req.Name,
		Description:   req.Description,
		Venue:         req.Venue,
		StartsAt:      req.StartsAt,
		TotalCapacity: req.TotalCapacity,
		UnitPrice:     req.UnitPrice,
		Currency:      req.Currency,
		PriceRef:      req.PriceRef,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.store.CreateEvent(r.Context(), event); err != nil {
		h.storeError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, toEventResponse(&event))
}

func (h *Handlers) ChangeCapacity(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		TotalCapacity int `json:"total_capacity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TotalCapacity < 1 {
		writeError(w, http.StatusBadRequest, "total capacity must be at least 1")
		return
	}

	event, err := h.store.ChangeCapacity(r.Context(), id, req.TotalCapacity)
	if errors.Is(err, domain.ErrInvalidCapacity) {
		writeError(w, http.StatusConflict, "new capacity is below tickets already sold")
		return
	}
	if err != nil {
		h.storeError(w, r, err, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, toEventResponse(event))
}

// DeleteEvent only succeeds for events nobody has booked; bookings are never deleted.
func (h *Handlers) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	err := h.store.DeleteEvent(r.Context(), id)
	if errors.Is(err, domain.ErrConflict) {
		writeError(w, http.StatusConflict, "event has bookings and cannot be deleted")
		return
	}
	if err != nil {
		h.storeError(w, r, err, "event not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		loggerFrom(r.Context()).WithError(err).Warn("readiness check failed")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("Not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

func (h *Handlers) storeError(w http.ResponseWriter, r *http.Request, err error, notFound string) {
	switch {
	case errors.Is(err, domain.ErrNotFound) && notFound != "":
		writeError(w, http.StatusNotFound, notFound)
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "conflict")
	case errors.Is(err, domain.ErrSerializationFailure):
		writeError(w, http.StatusConflict, "conflict, try again")
	default:
		loggerFrom(r.Context()).WithError(err).Error("store request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
