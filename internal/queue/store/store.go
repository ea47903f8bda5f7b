package store

import (
	"context"
	"time"

	"github.com/aridsondez/sqs-redrive/internal/queue"
)

// Store is the DB-agnostic interface the rest of the app uses.
type Store interface {
	// CreateQueue registers a queue. A redrive policy must point at an existing queue.
	CreateQueue(ctx context.Context, attrs queue.Attributes) error

	// GetQueue returns the queue definition or queue.ErrQueueNotFound.
	GetQueue(ctx context.Context, name string) (queue.Attributes, error)

	// Enqueue inserts a message (delay can be 0) and returns its message id.
	Enqueue(ctx context.Context, m queue.Message, delay time.Duration) (string, error)

	// Claim atomically leases up to Limit messages from a queue.
	Claim(ctx context.Context, opts queue.ClaimOptions) ([]queue.Message, error)

	// Ack deletes the message the receipt was issued for; returns true if deleted.
	Ack(ctx context.Context, receipt string) (bool, error)

	// Sweep releases expired leases, dead-letters messages that used up their
	// receive budget and drops messages past retention.
	Sweep(ctx context.Context) (queue.SweepResult, error)

	// StartMoveTask records a move task; it does not move anything itself.
	StartMoveTask(ctx context.Context, source, destination string) (queue.MoveTask, error)

	// RunMoveTasks executes every running move task and returns how many
	// messages were moved.
	RunMoveTasks(ctx context.Context) (int, error)

	ListMoveTasks(ctx context.Context, source string) ([]queue.MoveTask, error)

	Stats(ctx context.Context, name string) (queue.Stats, error)
}
