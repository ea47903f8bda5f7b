package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aridsondez/sqs-redrive/internal/backend/local"
	"github.com/aridsondez/sqs-redrive/internal/consumer"
	"github.com/aridsondez/sqs-redrive/internal/objectstore"
	"github.com/aridsondez/sqs-redrive/internal/queue"
	"github.com/aridsondez/sqs-redrive/internal/queue/store/memory"
)

func setup(t *testing.T) (*memory.Store, *local.Backend) {
	t.Helper()
	st := memory.New()
	ctx := context.Background()
	require.NoError(t, st.CreateQueue(ctx, queue.Attributes{Name: "orders-dlq"}))
	require.NoError(t, st.CreateQueue(ctx, queue.Attributes{
		Name:          "orders",
		RedrivePolicy: &queue.RedrivePolicy{DeadLetterQueue: "orders-dlq", MaxReceiveCount: 3},
	}))
	return st, local.New(st, 0)
}

func TestPollOnceDeletesOnlySucceeded(t *testing.T) {
	st, q := setup(t)
	ctx := context.Background()

	_, err := q.Send(ctx, "orders", []byte(`{"item":{"sku":"A"}}`))
	require.NoError(t, err)
	_, err = q.Send(ctx, "orders", []byte(`{"no":"item"}`))
	require.NoError(t, err)

	objects := objectstore.NewMemory()
	p := consumer.New(objects, consumer.Config{Bucket: "orders-bucket"})
	w := New(q, Config{BatchSize: 10})

	deleted, err := w.PollOnce(ctx, "orders", p)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	assert.Equal(t, 1, objects.Len())

	stats, err := st.Stats(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.InFlight)
	assert.Equal(t, 0, stats.Visible)
}

func TestPollOnceEmptyQueue(t *testing.T) {
	_, q := setup(t)
	w := New(q, Config{})

	deleted, err := w.PollOnce(context.Background(), "orders", BatchFunc(func(context.Context, []consumer.Record) consumer.BatchResult {
		t.Fatal("processor called for an empty batch")
		return consumer.BatchResult{}
	}))
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestPollOncePanicLeavesMessages(t *testing.T) {
	st, q := setup(t)
	ctx := context.Background()
	_, err := q.Send(ctx, "orders", []byte(`{"item":{}}`))
	require.NoError(t, err)

	w := New(q, Config{})
	deleted, err := w.PollOnce(ctx, "orders", BatchFunc(func(context.Context, []consumer.Record) consumer.BatchResult {
		panic("boom")
	}))
	require.NoError(t, err)
	assert.Zero(t, deleted)

	stats, err := st.Stats(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.InFlight)
}

func TestRunStopsOnCancel(t *testing.T) {
	_, q := setup(t)
	w := New(q, Config{PollDelay: 10 * time.Millisecond})
	assert.Error(t, w.Run(context.Background()), "no handlers")

	w.Handle("orders", BatchFunc(func(context.Context, []consumer.Record) consumer.BatchResult {
		return consumer.BatchResult{}
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
