// Package sqsbackend implements backend.Queue on Amazon SQS.
package sqsbackend

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"

	"github.com/aridsondez/sqs-redrive/internal/backend"
)

var _ backend.Queue = (*Backend)(nil)

// API is the subset of *sqs.Client used here.
type API interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	StartMessageMoveTask(ctx context.Context, in *sqs.StartMessageMoveTaskInput, optFns ...func(*sqs.Options)) (*sqs.StartMessageMoveTaskOutput, error)
}

type Backend struct {
	api         API
	waitSeconds int32
}

type Option func(*Backend)

// WithWaitTime sets the long-poll wait for ReceiveBatch (0-20 seconds).
func WithWaitTime(seconds int32) Option {
	return func(b *Backend) { b.waitSeconds = seconds }
}

func New(api API, opts ...Option) *Backend {
	b := &Backend{api: api, waitSeconds: 10}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewFromConfig builds the SQS client from an aws.Config.
func NewFromConfig(cfg aws.Config, opts ...Option) *Backend {
	return New(sqs.NewFromConfig(cfg), opts...)
}

func (b *Backend) Send(ctx context.Context, queueURL string, body []byte) (string, error) {
	out, err := b.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}

func (b *Backend) ReceiveBatch(ctx context.Context, queueURL string, max int) ([]backend.Message, error) {
	out, err := b.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:                    aws.String(queueURL),
		MaxNumberOfMessages:         int32(max),
		WaitTimeSeconds:             b.waitSeconds,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameApproximateReceiveCount},
	})
	if err != nil {
		return nil, fmt.Errorf("receive messages: %w", err)
	}

	msgs := make([]backend.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		rc, _ := strconv.Atoi(m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
		msgs = append(msgs, backend.Message{
			MessageID:    aws.ToString(m.MessageId),
			Receipt:      aws.ToString(m.ReceiptHandle),
			Body:         []byte(aws.ToString(m.Body)),
			ReceiveCount: rc,
		})
	}
	return msgs, nil
}

func (b *Backend) DeleteMessage(ctx context.Context, queueURL, receipt string) error {
	_, err := b.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receipt),
	})
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

func (b *Backend) StartMoveTask(ctx context.Context, sourceARN, destinationARN string) (string, error) {
	out, err := b.api.StartMessageMoveTask(ctx, &sqs.StartMessageMoveTaskInput{
		SourceArn:      aws.String(sourceARN),
		DestinationArn: aws.String(destinationARN),
	})
	if err != nil {
		if isMoveTaskConflict(err) {
			return "", fmt.Errorf("start message move task: %w: %w", backend.ErrMoveTaskConflict, err)
		}
		return "", fmt.Errorf("start message move task: %w", err)
	}
	return aws.ToString(out.TaskHandle), nil
}

// SQS reports a running task for the source as UnsupportedOperation.
func isMoveTaskConflict(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.ErrorCode() != "UnsupportedOperation" {
		return false
	}
	msg := strings.ToLower(apiErr.ErrorMessage())
	return strings.Contains(msg, "already") || strings.Contains(msg, "running")
}
