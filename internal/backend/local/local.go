// Package local serves backend.Queue straight from a store.Store.
package local

import (
	"context"
	"time"

	"github.com/aridsondez/sqs-redrive/internal/backend"
	"github.com/aridsondez/sqs-redrive/internal/metrics"
	"github.com/aridsondez/sqs-redrive/internal/queue"
	"github.com/aridsondez/sqs-redrive/internal/queue/store"
)

var _ backend.Queue = (*Backend)(nil)

type Backend struct {
	store      store.Store
	visibility time.Duration
}

// New returns a backend over st. A zero visibility uses each queue's default.
func New(st store.Store, visibility time.Duration) *Backend {
	return &Backend{store: st, visibility: visibility}
}

func (b *Backend) Send(ctx context.Context, name string, body []byte) (string, error) {
	id, err := b.store.Enqueue(ctx, queue.Message{Queue: name, Body: body}, 0)
	if err != nil {
		return "", err
	}
	metrics.MessagesEnqueued.WithLabelValues(name).Inc()
	return id, nil
}

func (b *Backend) ReceiveBatch(ctx context.Context, name string, max int) ([]backend.Message, error) {
	msgs, err := b.store.Claim(ctx, queue.ClaimOptions{
		Queue:      name,
		Limit:      max,
		Visibility: b.visibility,
	})
	if err != nil {
		return nil, err
	}
	metrics.MessagesReceived.WithLabelValues(name).Add(float64(len(msgs)))

	out := make([]backend.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, backend.Message{
			MessageID:    m.MessageID,
			Receipt:      m.Receipt(),
			Body:         m.Body,
			ReceiveCount: m.ReceiveCount,
		})
	}
	return out, nil
}

// DeleteMessage is a no-op for a receipt that no longer matches, as with SQS.
func (b *Backend) DeleteMessage(ctx context.Context, _ string, receipt string) error {
	deleted, err := b.store.Ack(ctx, receipt)
	if err != nil {
		return err
	}
	if deleted {
		metrics.MessagesAcked.Inc()
	}
	return nil
}

func (b *Backend) StartMoveTask(ctx context.Context, sourceARN, destinationARN string) (string, error) {
	source, err := queue.QueueName(sourceARN)
	if err != nil {
		return "", err
	}
	destination, err := queue.QueueName(destinationARN)
	if err != nil {
		return "", err
	}
	task, err := b.store.StartMoveTask(ctx, source, destination)
	if err != nil {
		return "", err
	}
	metrics.MoveTasksStarted.Inc()
	return task.ID, nil
}
