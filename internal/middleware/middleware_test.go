package middleware

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/aridsondez/sqs-redrive/internal/metrics"
)

func TestChainOrder(t *testing.T) {
	var calls []string
	mark := func(name string) Middleware[string, string] {
		return func(next Handler[string, string]) Handler[string, string] {
			return func(ctx context.Context, e string) (string, error) {
				calls = append(calls, name)
				return next(ctx, e)
			}
		}
	}

	h := Chain(func(_ context.Context, e string) (string, error) {
		calls = append(calls, "handler")
		return e + "!", nil
	}, mark("outer"), mark("inner"))

	out, err := h(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "hi!", out)
	assert.Equal(t, []string{"outer", "inner", "handler"}, calls)
}

func TestCorrelationIDUsesLambdaRequestID(t *testing.T) {
	ctx := lambdacontext.NewContext(context.Background(), &lambdacontext.LambdaContext{AwsRequestID: "req-123"})

	var got string
	h := Chain(func(ctx context.Context, _ struct{}) (struct{}, error) {
		got = CorrelationIDFromContext(ctx)
		return struct{}{}, nil
	}, CorrelationID[struct{}, struct{}](nil))

	_, err := h(ctx, struct{}{})
	require.NoError(t, err)
	assert.Equal(t, "req-123", got)
}

func TestCorrelationIDFallsBackToUUID(t *testing.T) {
	var got string
	h := Chain(func(ctx context.Context, _ struct{}) (struct{}, error) {
		got = CorrelationIDFromContext(ctx)
		return struct{}{}, nil
	}, CorrelationID[struct{}, struct{}](nil))

	_, err := h(context.Background(), struct{}{})
	require.NoError(t, err)
	_, parseErr := uuid.Parse(got)
	assert.NoError(t, parseErr)
}

func TestRecoverConvertsPanic(t *testing.T) {
	h := Chain(func(context.Context, int) (int, error) {
		panic("boom")
	}, Recover[int, int]())

	_, err := h(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestMetricsCountsErrors(t *testing.T) {
	const name = "test_metrics_handler"
	before := testutil.ToFloat64(metrics.InvocationErrors.WithLabelValues(name))

	h := Chain(func(context.Context, int) (int, error) {
		return 0, errors.New("failed")
	}, Metrics[int, int](name))

	_, err := h(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.InvocationErrors.WithLabelValues(name)))
}

func TestTracingRecordsSpan(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	tracer := tp.Tracer("test")

	h := Chain(func(context.Context, int) (int, error) {
		return 0, errors.New("failed")
	}, CorrelationID[int, int](nil), Tracing[int, int](tracer, "consume"))

	_, err := h(context.Background(), 1)
	require.Error(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "consume", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}
