// Package backend is the queue contract the consumer, worker and redrive
// function depend on. Implementations exist for Amazon SQS, for an
// in-process store, and for the SQS-lite HTTP api (pkg/client).
package backend

import (
	"context"

	"github.com/aridsondez/sqs-redrive/internal/queue"
)

// ErrMoveTaskConflict is returned by StartMoveTask when a move task is
// already running for the source queue.
var ErrMoveTaskConflict = queue.ErrMoveTaskConflict

type Message struct {
	MessageID    string
	Receipt      string
	Body         []byte
	ReceiveCount int
}

// Queue is addressed by the identifier the backend uses natively: a queue
// URL for SQS, a queue name for the lite backends. Move tasks are always
// addressed by ARN.
type Queue interface {
	Send(ctx context.Context, queue string, body []byte) (string, error)
	ReceiveBatch(ctx context.Context, queue string, max int) ([]Message, error)
	DeleteMessage(ctx context.Context, queue, receipt string) error
	StartMoveTask(ctx context.Context, sourceARN, destinationARN string) (string, error)
}
