package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/aridsondez/sqs-redrive/internal/awsconf"
	"github.com/aridsondez/sqs-redrive/internal/backend/sqsbackend"
	"github.com/aridsondez/sqs-redrive/internal/config"
	"github.com/aridsondez/sqs-redrive/internal/logging"
	"github.com/aridsondez/sqs-redrive/internal/middleware"
	"github.com/aridsondez/sqs-redrive/internal/redrive"
	"github.com/aridsondez/sqs-redrive/internal/scheduler"
	"github.com/aridsondez/sqs-redrive/internal/tracing"
	"github.com/aridsondez/sqs-redrive/pkg/client"
)

func main() {
	if err := run(); err != nil {
		slog.Error("dlq redrive exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadRedriveConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.ServiceName)
	slog.SetDefault(logger)

	tracer, shutdownTracing, err := tracing.Setup(ctx, cfg.Observability)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracer shutdown", "error", err)
		}
	}()

	var mover redrive.Mover
	switch cfg.QueueBackend {
	case config.BackendSQS:
		awsCfg, err := awsconf.Load(ctx, cfg.AWS)
		if err != nil {
			return fmt.Errorf("load aws config: %w", err)
		}
		mover = sqsbackend.NewFromConfig(awsCfg)
	default:
		mover = client.NewClient(cfg.LiteBaseURL)
	}

	fn := redrive.New(mover, cfg.DLQArn, cfg.SQSArn, logger)
	logger.Info("dlq redrive configured",
		"mode", cfg.Mode,
		"backend", cfg.QueueBackend,
		"schedule", cfg.Schedule.String(),
		"eventbridge_expression", cfg.Schedule.EventBridgeExpression(),
	)

	if cfg.Mode == config.ModeLambda {
		type (
			E = events.CloudWatchEvent
			R = redrive.Outcome
		)
		lambda.Start(middleware.Chain[E, R](fn.HandleScheduledEvent,
			middleware.CorrelationID[E, R](logger),
			middleware.Tracing[E, R](tracer, "redrive.HandleScheduledEvent"),
			middleware.Metrics[E, R]("redrive"),
			middleware.Recover[E, R](),
		))
		return nil
	}

	sched := scheduler.New(logger)
	err = sched.Add(ctx, "dlq-redrive", cfg.Schedule, func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
		defer cancel()
		fn.Handle(ctx)
	})
	if err != nil {
		return err
	}
	if next, err := cfg.Schedule.Next(time.Now()); err == nil {
		logger.Info("next redrive", "at", next)
	}
	sched.Run(ctx)
	return nil
}
