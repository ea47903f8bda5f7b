// Package middleware wraps event handlers (Lambda handlers, poll-loop
// batches, scheduled jobs) with correlation ids, tracing, metrics and panic
// recovery.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aridsondez/sqs-redrive/internal/logging"
	"github.com/aridsondez/sqs-redrive/internal/metrics"
)

type Handler[E, R any] func(ctx context.Context, event E) (R, error)

type Middleware[E, R any] func(Handler[E, R]) Handler[E, R]

// Chain wraps h so that mws[0] runs first.
func Chain[E, R any](h Handler[E, R], mws ...Middleware[E, R]) Handler[E, R] {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

type correlationKey struct{}

// CorrelationIDFromContext returns the id set by CorrelationID, if any.
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// CorrelationID tags the invocation with the Lambda request id, or a fresh
// UUID outside Lambda, and puts a logger carrying it into ctx.
func CorrelationID[E, R any](logger *slog.Logger) Middleware[E, R] {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Handler[E, R]) Handler[E, R] {
		return func(ctx context.Context, event E) (R, error) {
			id := ""
			if lc, ok := lambdacontext.FromContext(ctx); ok {
				id = lc.AwsRequestID
			}
			if id == "" {
				id = uuid.NewString()
			}
			ctx = context.WithValue(ctx, correlationKey{}, id)
			ctx = logging.WithLogger(ctx, logger.With("correlation_id", id))
			return next(ctx, event)
		}
	}
}

// Tracing opens one span per invocation.
func Tracing[E, R any](tracer trace.Tracer, name string) Middleware[E, R] {
	return func(next Handler[E, R]) Handler[E, R] {
		return func(ctx context.Context, event E) (R, error) {
			ctx, span := tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindConsumer))
			defer span.End()
			if id := CorrelationIDFromContext(ctx); id != "" {
				span.SetAttributes(attribute.String("correlation_id", id))
			}

			resp, err := next(ctx, event)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return resp, err
		}
	}
}

// Metrics records invocation latency and errors under the handler label.
func Metrics[E, R any](name string) Middleware[E, R] {
	return func(next Handler[E, R]) Handler[E, R] {
		return func(ctx context.Context, event E) (R, error) {
			start := time.Now()
			resp, err := next(ctx, event)
			metrics.InvocationDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
			if err != nil {
				metrics.InvocationErrors.WithLabelValues(name).Inc()
			}
			return resp, err
		}
	}
}

// Recover turns a panic in the handler into an error.
func Recover[E, R any]() Middleware[E, R] {
	return func(next Handler[E, R]) Handler[E, R] {
		return func(ctx context.Context, event E) (resp R, err error) {
			defer func() {
				if r := recover(); r != nil {
					logging.FromContext(ctx).Error("handler panicked",
						"panic", r,
						"stack", string(debug.Stack()),
					)
					err = fmt.Errorf("handler panicked: %v", r)
				}
			}()
			return next(ctx, event)
		}
	}
}
