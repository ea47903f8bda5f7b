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

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/aridsondez/sqs-redrive/internal/awsconf"
	"github.com/aridsondez/sqs-redrive/internal/backend"
	"github.com/aridsondez/sqs-redrive/internal/backend/sqsbackend"
	"github.com/aridsondez/sqs-redrive/internal/config"
	"github.com/aridsondez/sqs-redrive/internal/consumer"
	"github.com/aridsondez/sqs-redrive/internal/logging"
	"github.com/aridsondez/sqs-redrive/internal/middleware"
	"github.com/aridsondez/sqs-redrive/internal/objectstore"
	"github.com/aridsondez/sqs-redrive/internal/objectstore/mongostore"
	"github.com/aridsondez/sqs-redrive/internal/objectstore/redisstore"
	"github.com/aridsondez/sqs-redrive/internal/objectstore/s3store"
	"github.com/aridsondez/sqs-redrive/internal/tracing"
	"github.com/aridsondez/sqs-redrive/pkg/client"
	"github.com/aridsondez/sqs-redrive/pkg/worker"
)

func main() {
	if err := run(); err != nil {
		slog.Error("order consumer exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConsumerConfig()
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

	var awsCfg *aws.Config
	loadAWS := func() (aws.Config, error) {
		if awsCfg == nil {
			c, err := awsconf.Load(ctx, cfg.AWS)
			if err != nil {
				return aws.Config{}, fmt.Errorf("load aws config: %w", err)
			}
			awsCfg = &c
		}
		return *awsCfg, nil
	}

	store, closeStore, err := openObjectStore(ctx, cfg, loadAWS)
	if err != nil {
		return err
	}
	defer closeStore()

	p := consumer.New(store, consumer.Config{
		Bucket:      cfg.BucketName,
		Concurrency: cfg.Concurrency,
		Logger:      logger,
		Tracer:      tracer,
	})
	logger.Info("order consumer configured",
		"mode", cfg.Mode,
		"bucket", cfg.BucketName,
		"object_store", cfg.ObjectStore,
		"concurrency", cfg.Concurrency,
	)

	if cfg.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.MetricsAddr, logger)
	}

	if cfg.Mode == config.ModeLambda {
		lambda.Start(lambdaHandler(p, tracer, logger))
		return nil
	}

	var q backend.Queue
	switch cfg.QueueBackend {
	case config.BackendSQS:
		c, err := loadAWS()
		if err != nil {
			return err
		}
		q = sqsbackend.NewFromConfig(c)
	default:
		q = client.NewClient(cfg.LiteBaseURL)
	}

	w := worker.New(q, worker.Config{
		PollDelay:    cfg.PollInterval,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.FunctionTimeout,
		Logger:       logger,
	})
	w.Handle(cfg.Queue(), p)
	return w.Run(ctx)
}

func lambdaHandler(p *consumer.Processor, tracer trace.Tracer, logger *slog.Logger) middleware.Handler[events.SQSEvent, events.SQSEventResponse] {
	type (
		E = events.SQSEvent
		R = events.SQSEventResponse
	)
	return middleware.Chain[E, R](p.HandleSQSEvent,
		middleware.CorrelationID[E, R](logger),
		middleware.Tracing[E, R](tracer, "consumer.HandleSQSEvent"),
		middleware.Metrics[E, R]("consumer"),
		middleware.Recover[E, R](),
	)
}

func openObjectStore(ctx context.Context, cfg *config.ConsumerConfig, loadAWS func() (aws.Config, error)) (objectstore.Store, func(), error) {
	switch cfg.ObjectStore {
	case "mongo":
		s, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		return s, func() { _ = s.Close(context.Background()) }, nil
	case "redis":
		s, err := redisstore.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	default:
		c, err := loadAWS()
		if err != nil {
			return nil, nil, err
		}
		return s3store.NewFromConfig(c, cfg.S3UsePathStyle), func() {}, nil
	}
}

func serveMetrics(ctx context.Context, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	logger.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server", "error", err)
	}
}
