package observability

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/event-ticket-fulfillment/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// Instrumentation scopes. The API opens one TracerHTTP span per request; inside a
// webhook delivery the engine nests fulfillment.Fulfill with a child span per storage
// step (fulfillment.lookup, fulfillment.book).
const (
	TracerHTTP        = "ticketing/http"
	TracerFulfillment = "ticketing/fulfillment"
)

// StartSpan opens a span on the named scope of the global provider.
func StartSpan(ctx context.Context, scope, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(scope).Start(ctx, name, trace.WithAttributes(attrs...))
}

// SetupOTel exports the API and worker spans over OTLP/gRPC, tagged with the binary
// name and the payment provider environment so sandbox deliveries are easy to filter
// out. W3C trace context is always propagated; without an endpoint spans are no-ops.
func SetupOTel(ctx context.Context, cfg *config.Config, service string) (func(), error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	if cfg.OTLPEndpoint == "" {
		return func() {}, nil
	}

	exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, errors.Wrap(err, "otlp exporter")
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(service),
		attribute.String("payment.environment", cfg.PaddleEnvironment),
	))
	if err != nil {
		return nil, errors.Wrap(err, "otel resource")
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp), sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)

	return func() {
		tp.Shutdown(context.Background())
	}, nil
}
