package broker

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/airsstack/airssys-rt/message"
)

// LoggingHook logs every published envelope at debug level.
type LoggingHook[M message.Message] struct {
	Logger *slog.Logger
}

// NewLoggingHook creates a logging hook. A nil logger falls back to the
// process default.
func NewLoggingHook[M message.Message](logger *slog.Logger) LoggingHook[M] {
	return LoggingHook[M]{Logger: logger}
}

func (h LoggingHook[M]) BeforePublish(ctx context.Context, env *message.Envelope[M]) (context.Context, error) {
	log := h.Logger
	if log == nil {
		log = slog.Default()
	}

	log.DebugContext(ctx, "publishing envelope",
		"envelope_id", env.ID,
		"type", env.Payload.Type(),
		"recipient", env.Recipient.String(),
		"priority", env.Priority.String())

	return ctx, nil
}

func (h LoggingHook[M]) AfterPublish(ctx context.Context, env *message.Envelope[M], err error) {
	if err == nil {
		return
	}

	log := h.Logger
	if log == nil {
		log = slog.Default()
	}

	log.ErrorContext(ctx, "publish failed",
		"envelope_id", env.ID,
		"type", env.Payload.Type(),
		"error", err)
}

type spanKey struct{}

// TracingHook wraps every publish in an OpenTelemetry span. The span
// covers hook processing and fan-out; delivery into mailboxes happens
// asynchronously and is not part of it.
type TracingHook[M message.Message] struct{}

// NewTracingHook creates a tracing hook using the global tracer provider.
func NewTracingHook[M message.Message]() TracingHook[M] {
	return TracingHook[M]{}
}

func (TracingHook[M]) BeforePublish(ctx context.Context, env *message.Envelope[M]) (context.Context, error) {
	tracer := otel.Tracer("airssys-rt/broker")

	ctx, span := tracer.Start(ctx, "broker.publish")
	span.SetAttributes(
		attribute.String("message.type", env.Payload.Type()),
		attribute.String("message.priority", env.Priority.String()),
		attribute.String("message.recipient", env.Recipient.String()),
		attribute.Bool("message.is_reply", env.IsReply()),
	)

	return context.WithValue(ctx, spanKey{}, span), nil
}

func (TracingHook[M]) AfterPublish(ctx context.Context, _ *message.Envelope[M], err error) {
	span, ok := ctx.Value(spanKey{}).(trace.Span)
	if !ok {
		return
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.End()
}

type startKey struct{}

// MetricsHook measures publish latency through the hook chain.
type MetricsHook[M message.Message] struct{}

// NewMetricsHook creates a metrics hook.
func NewMetricsHook[M message.Message]() MetricsHook[M] {
	return MetricsHook[M]{}
}

func (MetricsHook[M]) BeforePublish(ctx context.Context, _ *message.Envelope[M]) (context.Context, error) {
	return context.WithValue(ctx, startKey{}, time.Now()), nil
}

func (MetricsHook[M]) AfterPublish(ctx context.Context, _ *message.Envelope[M], _ error) {
	start, ok := ctx.Value(startKey{}).(time.Time)
	if !ok {
		return
	}

	publishTime.Observe(time.Since(start).Seconds())
}
