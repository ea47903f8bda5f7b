package scheduler

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler runs jobs in process. A job still running when its next
// activation comes up is skipped, and panics are recovered and logged.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
	}
}

// Add registers job under name. The job receives ctx on every run.
func (s *Scheduler) Add(ctx context.Context, name string, sched Schedule, job func(context.Context)) error {
	if err := sched.Validate(); err != nil {
		return err
	}
	_, err := s.cron.AddFunc(sched.Spec(), func() {
		if ctx.Err() != nil {
			return
		}
		s.logger.Info("job triggered", "job", name)
		job(ctx)
	})
	if err != nil {
		return err
	}
	s.logger.Info("job scheduled", "job", name, "schedule", sched.Spec())
	return nil
}

// Len reports the number of registered jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Run blocks until ctx is done and then waits for running jobs to return.
func (s *Scheduler) Run(ctx context.Context) {
	s.cron.Start()
	s.logger.Info("scheduler started")
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
