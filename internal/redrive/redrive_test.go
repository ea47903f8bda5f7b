package redrive

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/smithy-go"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aridsondez/sqs-redrive/internal/backend"
	"github.com/aridsondez/sqs-redrive/internal/backend/local"
	"github.com/aridsondez/sqs-redrive/internal/metrics"
	"github.com/aridsondez/sqs-redrive/internal/queue"
	"github.com/aridsondez/sqs-redrive/internal/queue/store/memory"
)

var (
	dlqARN = queue.LocalARN("orders-dlq")
	sqsARN = queue.LocalARN("orders")
)

type moverFunc func(ctx context.Context, src, dst string) (string, error)

func (f moverFunc) StartMoveTask(ctx context.Context, src, dst string) (string, error) {
	return f(ctx, src, dst)
}

func TestHandleRequestsOneMove(t *testing.T) {
	var calls int
	var gotSrc, gotDst string
	f := New(moverFunc(func(_ context.Context, src, dst string) (string, error) {
		calls++
		gotSrc, gotDst = src, dst
		return "task-1", nil
	}), dlqARN, sqsARN, nil)

	out := f.Handle(context.Background())
	assert.Equal(t, StateRequested, out.State)
	assert.Equal(t, "task-1", out.TaskID)
	assert.NoError(t, out.Err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, dlqARN, gotSrc)
	assert.Equal(t, sqsARN, gotDst)
}

func TestHandleSwallowsErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		outcome string
	}{
		{"conflict", fmt.Errorf("%w: %w", backend.ErrMoveTaskConflict, &smithy.GenericAPIError{Code: "UnsupportedOperation"}), "conflict"},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied", Message: "not allowed"}, "error"},
		{"network", errors.New("dial tcp: connection refused"), "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(metrics.RedriveRequests.WithLabelValues(tt.outcome))
			f := New(moverFunc(func(context.Context, string, string) (string, error) {
				return "", tt.err
			}), dlqARN, sqsARN, nil)

			out := f.Handle(context.Background())
			assert.Equal(t, StateFailed, out.State)
			assert.ErrorIs(t, out.Err, tt.err)
			assert.Equal(t, before+1, testutil.ToFloat64(metrics.RedriveRequests.WithLabelValues(tt.outcome)))
		})
	}
}

func TestHandleScheduledEventNeverFails(t *testing.T) {
	f := New(moverFunc(func(context.Context, string, string) (string, error) {
		return "", errors.New("boom")
	}), dlqARN, sqsARN, nil)

	out, err := f.HandleScheduledEvent(context.Background(), events.CloudWatchEvent{DetailType: "Scheduled Event"})
	require.NoError(t, err)
	assert.Equal(t, StateFailed, out.State)
}

func setupQueues(t *testing.T, inDLQ int) *memory.Store {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	require.NoError(t, st.CreateQueue(ctx, queue.Attributes{Name: "orders-dlq"}))
	require.NoError(t, st.CreateQueue(ctx, queue.Attributes{
		Name:          "orders",
		RedrivePolicy: &queue.RedrivePolicy{DeadLetterQueue: "orders-dlq", MaxReceiveCount: 3},
	}))
	for i := 0; i < inDLQ; i++ {
		_, err := st.Enqueue(ctx, queue.Message{Queue: "orders-dlq", Body: []byte(`{"item":{}}`)}, 0)
		require.NoError(t, err)
	}
	return st
}

func TestRedriveMovesEverythingBack(t *testing.T) {
	ctx := context.Background()
	st := setupQueues(t, 4)
	f := New(local.New(st, 0), dlqARN, sqsARN, nil)

	out := f.Handle(ctx)
	require.Equal(t, StateRequested, out.State)

	moved, err := st.RunMoveTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, moved)

	dlq, err := st.Stats(ctx, "orders-dlq")
	require.NoError(t, err)
	primary, err := st.Stats(ctx, "orders")
	require.NoError(t, err)
	assert.Zero(t, dlq.Total())
	assert.Equal(t, 4, primary.Visible)
}

func TestRedriveConflictLeavesQueuesUnchanged(t *testing.T) {
	ctx := context.Background()
	st := setupQueues(t, 2)
	f := New(local.New(st, 0), dlqARN, sqsARN, nil)

	require.Equal(t, StateRequested, f.Handle(ctx).State)

	second := f.Handle(ctx)
	assert.Equal(t, StateFailed, second.State)
	assert.ErrorIs(t, second.Err, backend.ErrMoveTaskConflict)

	dlq, err := st.Stats(ctx, "orders-dlq")
	require.NoError(t, err)
	primary, err := st.Stats(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, 2, dlq.Visible)
	assert.Zero(t, primary.Total())

	tasks, err := st.ListMoveTasks(ctx, "orders-dlq")
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}
