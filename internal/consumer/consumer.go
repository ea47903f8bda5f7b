// Package consumer turns order messages into objects. A batch is processed
// record by record and only the records that failed are reported back, so
// the queue redelivers those and deletes the rest.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/aridsondez/sqs-redrive/internal/logging"
	"github.com/aridsondez/sqs-redrive/internal/metrics"
	"github.com/aridsondez/sqs-redrive/internal/objectstore"
)

const contentType = "application/json"

// Failure reasons, used as the metric label.
const (
	ReasonParse   = "parse"
	ReasonStore   = "store"
	ReasonTimeout = "timeout"
)

var ErrInvalidOrder = errors.New("invalid order")

type Record struct {
	MessageID    string
	Body         []byte
	ReceiveCount int
}

type Order struct {
	Item map[string]any `json:"item"`
}

// BatchResult lists message ids in input order.
type BatchResult struct {
	Succeeded []string
	Failed    []string
}

type Config struct {
	Bucket      string
	Concurrency int
	Logger      *slog.Logger
	Tracer      trace.Tracer
}

type Processor struct {
	store       objectstore.Store
	bucket      string
	concurrency int
	logger      *slog.Logger
	tracer      trace.Tracer
}

func New(store objectstore.Store, cfg Config) *Processor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("github.com/aridsondez/sqs-redrive/internal/consumer")
	}
	return &Processor{
		store:       store,
		bucket:      cfg.Bucket,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger.With("component", "consumer"),
		tracer:      cfg.Tracer,
	}
}

// ParseOrder decodes a message body. The item must be a JSON object.
func ParseOrder(body []byte) (Order, error) {
	var o Order
	if err := json.Unmarshal(body, &o); err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	if o.Item == nil {
		return Order{}, fmt.Errorf("%w: missing item", ErrInvalidOrder)
	}
	return o, nil
}

// Key is the object key for a message.
func Key(messageID string) string {
	return messageID + ".json"
}

// ProcessBatch never fails as a whole. Records still pending when ctx is
// done are reported as failed.
func (p *Processor) ProcessBatch(ctx context.Context, records []Record) BatchResult {
	errs := make([]error, len(records))

	if p.concurrency == 1 {
		for i, r := range records {
			errs[i] = p.processRecord(ctx, r)
		}
	} else {
		g := &errgroup.Group{}
		g.SetLimit(p.concurrency)
		for i, r := range records {
			g.Go(func() error {
				errs[i] = p.processRecord(ctx, r)
				return nil
			})
		}
		_ = g.Wait()
	}

	var res BatchResult
	for i, r := range records {
		if errs[i] != nil {
			res.Failed = append(res.Failed, r.MessageID)
			continue
		}
		res.Succeeded = append(res.Succeeded, r.MessageID)
	}
	p.log(ctx).Info("batch processed",
		"records", len(records),
		"succeeded", len(res.Succeeded),
		"failed", len(res.Failed),
	)
	return res
}

func (p *Processor) processRecord(ctx context.Context, r Record) (err error) {
	logger := p.log(ctx).With("message_id", r.MessageID, "receive_count", r.ReceiveCount)

	if ctx.Err() != nil {
		p.fail(logger, ReasonTimeout, ctx.Err())
		return ctx.Err()
	}

	ctx, span := p.tracer.Start(ctx, "consumer.record",
		trace.WithAttributes(
			attribute.String("messaging.message.id", r.MessageID),
			attribute.Int("messaging.receive_count", r.ReceiveCount),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	order, err := ParseOrder(r.Body)
	if err != nil {
		p.fail(logger, ReasonParse, err)
		return err
	}
	logger.Debug("order item", "item", order.Item)

	body, err := json.Marshal(order.Item)
	if err != nil {
		p.fail(logger, ReasonParse, err)
		return err
	}

	if err := p.store.PutObject(ctx, p.bucket, Key(r.MessageID), body, contentType); err != nil {
		reason := ReasonStore
		if ctx.Err() != nil {
			reason = ReasonTimeout
		}
		p.fail(logger, reason, err)
		return err
	}

	metrics.BucketItems.Inc()
	return nil
}

func (p *Processor) log(ctx context.Context) *slog.Logger {
	return logging.FromContextOr(ctx, p.logger)
}

func (p *Processor) fail(logger *slog.Logger, reason string, err error) {
	metrics.RecordFailures.WithLabelValues(reason).Inc()
	logger.Error("record failed", "reason", reason, "error", err)
}
