package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/aridsondez/sqs-redrive/internal/metrics"
	"github.com/aridsondez/sqs-redrive/internal/queue/store"
)

// Sweeper drives the backend side of the queue state machine: expired
// leases become visible again or move to the DLQ, and running move tasks
// are executed.
type Sweeper struct {
	store    store.Store
	interval time.Duration
	logger   *slog.Logger
	stopCh   chan struct{}
}

func New(store store.Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		logger:   logger.With("component", "sweeper"),
		stopCh:   make(chan struct{}),
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped (context cancelled)")
			return

		case <-s.stopCh:
			s.logger.Info("sweeper stopped (stop signal)")
			return

		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep and move-task pass.
func (s *Sweeper) RunOnce(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.SweeperDuration.Observe(time.Since(start).Seconds()) }()

	res, err := s.store.Sweep(ctx)
	if err != nil {
		metrics.SweeperErrors.Inc()
		s.logger.Error("sweep failed", "error", err)
	}
	metrics.MessagesRequeued.Add(float64(res.Requeued))
	metrics.MessagesDLQd.Add(float64(res.DeadLettered))
	metrics.MessagesExpired.Add(float64(res.Expired))
	if res.Total() > 0 {
		s.logger.Info("sweep processed messages",
			"requeued", res.Requeued,
			"dead_lettered", res.DeadLettered,
			"expired", res.Expired,
		)
	}

	moved, err := s.store.RunMoveTasks(ctx)
	if err != nil {
		metrics.SweeperErrors.Inc()
		s.logger.Error("move tasks failed", "error", err)
	}
	if moved > 0 {
		metrics.MessagesRedriven.Add(float64(moved))
		s.logger.Info("move tasks moved messages", "moved", moved)
	}
}

func (s *Sweeper) Stop() {
	close(s.stopCh)
}
