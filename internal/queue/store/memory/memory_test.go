package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aridsondez/sqs-redrive/internal/queue"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

const visibility = 30 * time.Second

func setup(t *testing.T, maxReceive int) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := New(WithClock(clock.Now))
	ctx := context.Background()
	require.NoError(t, s.CreateQueue(ctx, queue.Attributes{Name: "orders-dlq", VisibilityTimeout: visibility}))
	require.NoError(t, s.CreateQueue(ctx, queue.Attributes{
		Name:              "orders",
		VisibilityTimeout: visibility,
		RedrivePolicy:     &queue.RedrivePolicy{DeadLetterQueue: "orders-dlq", MaxReceiveCount: maxReceive},
	}))
	return s, clock
}

func claim(t *testing.T, s *Store, name string) []queue.Message {
	t.Helper()
	msgs, err := s.Claim(context.Background(), queue.ClaimOptions{Queue: name, Limit: 10})
	require.NoError(t, err)
	return msgs
}

func stats(t *testing.T, s *Store, name string) queue.Stats {
	t.Helper()
	st, err := s.Stats(context.Background(), name)
	require.NoError(t, err)
	return st
}

func TestCreateQueueValidation(t *testing.T) {
	s, _ := setup(t, 3)
	ctx := context.Background()

	assert.ErrorIs(t, s.CreateQueue(ctx, queue.Attributes{Name: "orders"}), queue.ErrQueueExists)
	assert.ErrorIs(t, s.CreateQueue(ctx, queue.Attributes{
		Name:          "other",
		RedrivePolicy: &queue.RedrivePolicy{DeadLetterQueue: "missing"},
	}), queue.ErrQueueNotFound)
	assert.ErrorIs(t, s.CreateQueue(ctx, queue.Attributes{
		Name:          "chained",
		RedrivePolicy: &queue.RedrivePolicy{DeadLetterQueue: "orders"},
	}), queue.ErrInvalidQueue)
	assert.ErrorIs(t, s.CreateQueue(ctx, queue.Attributes{}), queue.ErrInvalidQueue)

	attrs, err := s.GetQueue(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, queue.DefaultRetention, attrs.Retention)
}

func TestClaimLeasesAndAck(t *testing.T) {
	s, _ := setup(t, 3)
	ctx := context.Background()

	id, err := s.Enqueue(ctx, queue.Message{Queue: "orders", Body: []byte(`{"item":{}}`)}, 0)
	require.NoError(t, err)

	msgs := claim(t, s, "orders")
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].MessageID)
	assert.Equal(t, 1, msgs[0].ReceiveCount)
	assert.Empty(t, claim(t, s, "orders"), "leased message must not be handed out twice")

	ok, err := s.Ack(ctx, msgs[0].Receipt())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, stats(t, s, "orders").Total())
}

func TestDelayedMessage(t *testing.T) {
	s, clock := setup(t, 3)
	_, err := s.Enqueue(context.Background(), queue.Message{Queue: "orders", Body: []byte(`{}`)}, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, 1, stats(t, s, "orders").Delayed)
	assert.Empty(t, claim(t, s, "orders"))

	clock.Advance(time.Minute)
	assert.Len(t, claim(t, s, "orders"), 1)
}

func TestExpiredLeaseBecomesVisibleAgain(t *testing.T) {
	s, clock := setup(t, 3)
	ctx := context.Background()
	_, err := s.Enqueue(ctx, queue.Message{Queue: "orders", Body: []byte(`{}`)}, 0)
	require.NoError(t, err)

	first := claim(t, s, "orders")
	require.Len(t, first, 1)

	clock.Advance(visibility + time.Second)
	res, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Requeued)

	second := claim(t, s, "orders")
	require.Len(t, second, 1)
	assert.Equal(t, 2, second[0].ReceiveCount)

	// the first receipt no longer deletes anything
	ok, err := s.Ack(ctx, first[0].Receipt())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, stats(t, s, "orders").InFlight)
}

func TestDeadLetterThreshold(t *testing.T) {
	const maxReceive = 3
	s, clock := setup(t, maxReceive)
	ctx := context.Background()
	id, err := s.Enqueue(ctx, queue.Message{Queue: "orders", Body: []byte(`{"bad":true}`)}, 0)
	require.NoError(t, err)

	for attempt := 1; attempt <= maxReceive; attempt++ {
		msgs := claim(t, s, "orders")
		require.Len(t, msgs, 1, "attempt %d", attempt)
		assert.Equal(t, attempt, msgs[0].ReceiveCount)

		clock.Advance(visibility + time.Second)
		res, err := s.Sweep(ctx)
		require.NoError(t, err)

		if attempt < maxReceive {
			assert.Equal(t, 1, res.Requeued, "attempt %d", attempt)
			assert.Zero(t, res.DeadLettered, "attempt %d", attempt)
			assert.Zero(t, stats(t, s, "orders-dlq").Total(), "moved before the threshold")
			continue
		}
		assert.Equal(t, 1, res.DeadLettered)
	}

	assert.Zero(t, stats(t, s, "orders").Total())
	dlq := claim(t, s, "orders-dlq")
	require.Len(t, dlq, 1)
	assert.Equal(t, id, dlq[0].MessageID)
	assert.Equal(t, 1, dlq[0].ReceiveCount, "receive count restarts in the DLQ")
}

func TestDeadLetterQueueIsNeverDeadLettered(t *testing.T) {
	s, clock := setup(t, 1)
	ctx := context.Background()
	_, err := s.Enqueue(ctx, queue.Message{Queue: "orders-dlq", Body: []byte(`{}`)}, 0)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.Len(t, claim(t, s, "orders-dlq"), 1)
		clock.Advance(visibility + time.Second)
		res, err := s.Sweep(ctx)
		require.NoError(t, err)
		assert.Zero(t, res.DeadLettered)
	}
	assert.Equal(t, 1, stats(t, s, "orders-dlq").Visible)
}

func TestExactlyOneCopy(t *testing.T) {
	s, clock := setup(t, 2)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := s.Enqueue(ctx, queue.Message{Queue: "orders", Body: []byte(`{}`)}, 0)
		require.NoError(t, err)
	}

	total := func() int {
		return stats(t, s, "orders").Total() + stats(t, s, "orders-dlq").Total()
	}
	for round := 0; round < 4; round++ {
		claim(t, s, "orders")
		assert.Equal(t, 5, total())
		clock.Advance(visibility + time.Second)
		_, err := s.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 5, total())
	}
	assert.Equal(t, 5, stats(t, s, "orders-dlq").Visible)

	_, err := s.StartMoveTask(ctx, "orders-dlq", "orders")
	require.NoError(t, err)
	_, err = s.RunMoveTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, total())
	assert.Equal(t, 5, stats(t, s, "orders").Visible)
}

func TestMoveTask(t *testing.T) {
	s, clock := setup(t, 3)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := s.Enqueue(ctx, queue.Message{Queue: "orders-dlq", Body: []byte(`{}`)}, 0)
		require.NoError(t, err)
	}

	clock.Advance(time.Second)
	task, err := s.StartMoveTask(ctx, "orders-dlq", "orders")
	require.NoError(t, err)
	assert.Equal(t, queue.MoveTaskRunning, task.Status)

	_, err = s.StartMoveTask(ctx, "orders-dlq", "orders")
	assert.ErrorIs(t, err, queue.ErrMoveTaskConflict)

	// arrived after the task started, stays put
	clock.Advance(time.Second)
	_, err = s.Enqueue(ctx, queue.Message{Queue: "orders-dlq", Body: []byte(`{}`)}, 0)
	require.NoError(t, err)

	moved, err := s.RunMoveTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, moved)
	assert.Equal(t, 3, stats(t, s, "orders").Visible)
	assert.Equal(t, 1, stats(t, s, "orders-dlq").Visible)

	tasks, err := s.ListMoveTasks(ctx, "orders-dlq")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, queue.MoveTaskCompleted, tasks[0].Status)
	assert.Equal(t, 3, tasks[0].MovedCount)
	require.NotNil(t, tasks[0].FinishedAt)

	// finished tasks no longer block a new one
	_, err = s.StartMoveTask(ctx, "orders-dlq", "orders")
	assert.NoError(t, err)
}

func TestMoveTaskSkipsLeasedMessages(t *testing.T) {
	s, _ := setup(t, 3)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := s.Enqueue(ctx, queue.Message{Queue: "orders-dlq", Body: []byte(`{}`)}, 0)
		require.NoError(t, err)
	}
	leased, err := s.Claim(ctx, queue.ClaimOptions{Queue: "orders-dlq", Limit: 1})
	require.NoError(t, err)
	require.Len(t, leased, 1)

	_, err = s.StartMoveTask(ctx, "orders-dlq", "orders")
	require.NoError(t, err)
	moved, err := s.RunMoveTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)
	assert.Equal(t, 1, stats(t, s, "orders-dlq").InFlight)
}

func TestStartMoveTaskValidation(t *testing.T) {
	s, _ := setup(t, 3)
	ctx := context.Background()

	_, err := s.StartMoveTask(ctx, "orders", "orders")
	assert.ErrorIs(t, err, queue.ErrInvalidMoveTask)

	_, err = s.StartMoveTask(ctx, "orders", "orders-dlq")
	assert.ErrorIs(t, err, queue.ErrInvalidMoveTask, "source must be a dead letter queue")

	_, err = s.StartMoveTask(ctx, "missing", "orders")
	assert.ErrorIs(t, err, queue.ErrQueueNotFound)
}

func TestRetentionDropsOldMessages(t *testing.T) {
	s, clock := setup(t, 3)
	ctx := context.Background()
	_, err := s.Enqueue(ctx, queue.Message{Queue: "orders", Body: []byte(`{}`)}, 0)
	require.NoError(t, err)

	clock.Advance(queue.DefaultRetention + time.Minute)
	res, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)
	assert.Zero(t, stats(t, s, "orders").Total())
}

func TestAckRejectsMalformedReceipt(t *testing.T) {
	s, _ := setup(t, 3)
	_, err := s.Ack(context.Background(), "not-a-receipt")
	assert.ErrorIs(t, err, queue.ErrInvalidReceipt)
}
