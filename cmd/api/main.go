package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aridsondez/sqs-redrive/internal/api"
	"github.com/aridsondez/sqs-redrive/internal/config"
	"github.com/aridsondez/sqs-redrive/internal/logging"
	"github.com/aridsondez/sqs-redrive/internal/queue"
	pgstore "github.com/aridsondez/sqs-redrive/internal/queue/store/postgres"
	"github.com/aridsondez/sqs-redrive/internal/queue/sweeper"
	"github.com/aridsondez/sqs-redrive/internal/tracing"
)

func main() {
	if err := run(); err != nil {
		slog.Error("sqs-lite exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.ServiceName)
	slog.SetDefault(logger)

	_, shutdownTracing, err := tracing.Setup(ctx, cfg.Observability)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracer shutdown", "error", err)
		}
	}()

	connectCtx, cancel := context.WithTimeout(ctx, cfg.DBConnectionTimeout)
	defer cancel()

	pool, err := pgxpool.New(connectCtx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("pgxpool.New: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(connectCtx); err != nil {
		return fmt.Errorf("pgx ping: %w", err)
	}

	store := pgstore.New(pool)
	if err := store.Migrate(connectCtx); err != nil {
		return err
	}

	dlq, primary := cfg.QueuePair()
	for _, attrs := range []queue.Attributes{dlq, primary} {
		err := store.CreateQueue(connectCtx, attrs)
		switch {
		case errors.Is(err, queue.ErrQueueExists):
			logger.Info("queue already exists", "queue", attrs.Name)
		case err != nil:
			return fmt.Errorf("create queue %s: %w", attrs.Name, err)
		default:
			logger.Info("queue created", "queue", attrs.Name, "arn", queue.LocalARN(attrs.Name))
		}
	}

	swp := sweeper.New(store, cfg.SweepInterval, logger)
	go swp.Start(ctx)

	addr := fmt.Sprintf(":%d", cfg.Port)
	httpSrv := api.NewServer(addr, store, api.Options{
		Timeout:    cfg.RequestTimeout,
		ReceiveMax: cfg.ReceiveMax,
		Logger:     logger,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	return httpSrv.Shutdown(shutdownCtx)
}
