// Package worker runs batch processors against a queue outside Lambda. It
// polls, hands each batch to the processor and deletes only the messages
// the processor reports as succeeded; the rest stay leased until their
// visibility timeout runs out and are redelivered or dead-lettered.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aridsondez/sqs-redrive/internal/backend"
	"github.com/aridsondez/sqs-redrive/internal/consumer"
)

// BatchProcessor handles one batch. *consumer.Processor implements it.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, records []consumer.Record) consumer.BatchResult
}

// BatchFunc adapts a function to BatchProcessor.
type BatchFunc func(ctx context.Context, records []consumer.Record) consumer.BatchResult

func (f BatchFunc) ProcessBatch(ctx context.Context, records []consumer.Record) consumer.BatchResult {
	return f(ctx, records)
}

// Worker manages message processing from queues
type Worker struct {
	queue        backend.Queue
	handlers     map[string]BatchProcessor
	pollDelay    time.Duration
	batchSize    int
	batchTimeout time.Duration
	logger       *slog.Logger
}

// Config for creating a new worker
type Config struct {
	PollDelay    time.Duration // Time between polling attempts (default: 1s)
	BatchSize    int           // Max messages to fetch per poll (default: 10)
	BatchTimeout time.Duration // Deadline for one batch (default: 10s)
	Logger       *slog.Logger
}

// New creates a new Worker with the given configuration
func New(q backend.Queue, cfg Config) *Worker {
	if cfg.PollDelay == 0 {
		cfg.PollDelay = 1 * time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Worker{
		queue:        q,
		handlers:     make(map[string]BatchProcessor),
		pollDelay:    cfg.PollDelay,
		batchSize:    cfg.BatchSize,
		batchTimeout: cfg.BatchTimeout,
		logger:       cfg.Logger.With("component", "worker"),
	}
}

// Handle registers a processor for a queue
func (w *Worker) Handle(queue string, p BatchProcessor) {
	w.handlers[queue] = p
	w.logger.Info("registered handler", "queue", queue)
}

// Run polls every registered queue and blocks until ctx is cancelled and
// the in-flight batches are done.
func (w *Worker) Run(ctx context.Context) error {
	if len(w.handlers) == 0 {
		return fmt.Errorf("no handlers registered")
	}

	w.logger.Info("worker starting", "queues", len(w.handlers))

	var wg sync.WaitGroup
	for queue, p := range w.handlers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.pollQueue(ctx, queue, p)
		}()
	}

	<-ctx.Done()
	w.logger.Info("worker shutting down")
	wg.Wait()
	return nil
}

func (w *Worker) pollQueue(ctx context.Context, queue string, p BatchProcessor) {
	ticker := time.NewTicker(w.pollDelay)
	defer ticker.Stop()

	w.logger.Info("started polling", "queue", queue)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("stopped polling", "queue", queue)
			return

		case <-ticker.C:
			if _, err := w.PollOnce(ctx, queue, p); err != nil && ctx.Err() == nil {
				w.logger.Error("poll failed", "queue", queue, "error", err)
			}
		}
	}
}

// PollOnce receives one batch, processes it and deletes the succeeded
// messages. It returns the number of messages deleted.
func (w *Worker) PollOnce(ctx context.Context, queue string, p BatchProcessor) (int, error) {
	msgs, err := w.queue.ReceiveBatch(ctx, queue, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("receive from %s: %w", queue, err)
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	records := make([]consumer.Record, 0, len(msgs))
	receipts := make(map[string]string, len(msgs))
	for _, m := range msgs {
		records = append(records, consumer.Record{
			MessageID:    m.MessageID,
			Body:         m.Body,
			ReceiveCount: m.ReceiveCount,
		})
		receipts[m.MessageID] = m.Receipt
	}

	res := w.process(ctx, p, records)

	var deleted int
	for _, id := range res.Succeeded {
		// ctx, not the batch deadline
		if err := w.queue.DeleteMessage(ctx, queue, receipts[id]); err != nil {
			w.logger.Error("delete failed", "queue", queue, "message_id", id, "error", err)
			continue
		}
		deleted++
	}
	if len(res.Failed) > 0 {
		w.logger.Warn("messages left for redelivery", "queue", queue, "message_ids", res.Failed)
	}
	return deleted, nil
}

// process runs the batch under its deadline. A panic fails the whole batch.
func (w *Worker) process(ctx context.Context, p BatchProcessor, records []consumer.Record) (res consumer.BatchResult) {
	batchCtx, cancel := context.WithTimeout(ctx, w.batchTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic processing batch", "panic", r)
			res = consumer.BatchResult{}
			for _, rec := range records {
				res.Failed = append(res.Failed, rec.MessageID)
			}
		}
	}()

	return p.ProcessBatch(batchCtx, records)
}
