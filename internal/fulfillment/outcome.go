package fulfillment

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/robertarktes/event-ticket-fulfillment/internal/domain"
)

type Kind string

const (
	KindFulfilled      Kind = "fulfilled"
	KindDuplicate      Kind = "duplicate"
	KindIgnored        Kind = "ignored"
	KindRejected       Kind = "rejected"
	KindOversold       Kind = "oversold"
	KindTransientError Kind = "transient_error"
)

type Reason string

const (
	ReasonNone                  Reason = ""
	ReasonBadSignature          Reason = "bad_signature"
	ReasonMalformedPayload      Reason = "malformed_payload"
	ReasonMissingRequiredFields Reason = "missing_required_fields"
	ReasonInvalidQuantity       Reason = "invalid_quantity"
	ReasonIrrelevantEventType   Reason = "irrelevant_event_type"
)

// Outcome is the terminal state of one webhook delivery. Every path through the
// engine produces exactly one.
type Outcome struct {
	Kind           Kind
	Reason         Reason
	NotificationID string
	EventType      string
	TransactionID  string
	EventID        uuid.UUID
	PurchaserID    uuid.UUID
	Quantity       int
	// Booking is set for fulfilled outcomes and, when it could be read back, for duplicates.
	Booking *domain.Booking
	Err     error
}

// HTTPStatus maps the outcome to the provider-facing response. Anything the provider
// should not redeliver gets a 2xx or 4xx; only transient failures get a 5xx.
func (o Outcome) HTTPStatus() int {
	switch o.Kind {
	case KindFulfilled, KindDuplicate, KindIgnored, KindOversold:
		return http.StatusOK
	case KindRejected:
		switch o.Reason {
		case ReasonBadSignature:
			return http.StatusUnauthorized
		case ReasonMalformedPayload:
			return http.StatusBadRequest
		default:
			// authentic but unusable: acknowledged so the provider stops redelivering
			return http.StatusOK
		}
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether redelivering the same payload may succeed.
func (o Outcome) Retryable() bool {
	return o.Kind == KindTransientError
}
