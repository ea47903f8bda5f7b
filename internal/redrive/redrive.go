// Package redrive asks the queue backend to move everything in the DLQ
// back to the primary queue. The move itself is asynchronous; the function
// only starts it.
package redrive

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/smithy-go"

	"github.com/aridsondez/sqs-redrive/internal/backend"
	"github.com/aridsondez/sqs-redrive/internal/logging"
	"github.com/aridsondez/sqs-redrive/internal/metrics"
)

// Mover starts a message move task. backend.Queue implementations satisfy it.
type Mover interface {
	StartMoveTask(ctx context.Context, sourceARN, destinationARN string) (string, error)
}

type State string

const (
	StateRequested State = "requested"
	StateFailed    State = "failed_and_logged"
)

// Outcome is what one invocation did. Err is kept for the caller's
// information only; Handle never returns it as a failure.
type Outcome struct {
	State  State
	TaskID string
	Err    error
}

type Function struct {
	mover  Mover
	dlqARN string
	sqsARN string
	logger *slog.Logger
}

func New(mover Mover, dlqARN, sqsARN string, logger *slog.Logger) *Function {
	if logger == nil {
		logger = slog.Default()
	}
	return &Function{
		mover:  mover,
		dlqARN: dlqARN,
		sqsARN: sqsARN,
		logger: logger.With("component", "redrive"),
	}
}

// Handle issues exactly one move request from the DLQ to the primary queue.
// Errors, a conflicting running task included, are logged and swallowed so
// the next scheduled run can try again.
func (f *Function) Handle(ctx context.Context) Outcome {
	logger := logging.FromContextOr(ctx, f.logger)
	logger.Info("redrive configuration", "dlq_arn", f.dlqARN, "sqs_arn", f.sqsARN)

	taskID, err := f.mover.StartMoveTask(ctx, f.dlqARN, f.sqsARN)
	if err != nil {
		attrs := []any{"error", err, "dlq_arn", f.dlqARN, "sqs_arn", f.sqsARN}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			attrs = append(attrs, "error_code", apiErr.ErrorCode())
		}
		outcome := "error"
		if errors.Is(err, backend.ErrMoveTaskConflict) {
			outcome = "conflict"
		}
		metrics.RedriveRequests.WithLabelValues(outcome).Inc()
		logger.Error("unable to redrive dlq to sqs", attrs...)
		return Outcome{State: StateFailed, Err: err}
	}

	metrics.RedriveRequests.WithLabelValues("requested").Inc()
	logger.Info("redrive requested", "task_id", taskID)
	return Outcome{State: StateRequested, TaskID: taskID}
}

// HandleScheduledEvent is the Lambda entry point for the EventBridge rule.
func (f *Function) HandleScheduledEvent(ctx context.Context, _ events.CloudWatchEvent) (Outcome, error) {
	return f.Handle(ctx), nil
}
