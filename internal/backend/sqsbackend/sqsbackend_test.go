package sqsbackend

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aridsondez/sqs-redrive/internal/backend"
)

type fakeSQS struct {
	received *sqs.ReceiveMessageInput
	deleted  []string
	moveErr  error
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	return &sqs.SendMessageOutput{MessageId: aws.String("msg-" + aws.ToString(in.MessageBody))}, nil
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.received = in
	return &sqs.ReceiveMessageOutput{Messages: []types.Message{{
		MessageId:     aws.String("m1"),
		ReceiptHandle: aws.String("r1"),
		Body:          aws.String(`{"item":{}}`),
		Attributes:    map[string]string{"ApproximateReceiveCount": "2"},
	}}}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) StartMessageMoveTask(_ context.Context, _ *sqs.StartMessageMoveTaskInput, _ ...func(*sqs.Options)) (*sqs.StartMessageMoveTaskOutput, error) {
	if f.moveErr != nil {
		return nil, f.moveErr
	}
	return &sqs.StartMessageMoveTaskOutput{TaskHandle: aws.String("task-1")}, nil
}

func TestReceiveBatchMapsMessages(t *testing.T) {
	api := &fakeSQS{}
	b := New(api, WithWaitTime(0))

	msgs, err := b.ReceiveBatch(context.Background(), "https://sqs/q", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].MessageID)
	assert.Equal(t, "r1", msgs[0].Receipt)
	assert.Equal(t, 2, msgs[0].ReceiveCount)
	assert.Equal(t, int32(10), api.received.MaxNumberOfMessages)
	assert.Equal(t, int32(0), api.received.WaitTimeSeconds)

	require.NoError(t, b.DeleteMessage(context.Background(), "https://sqs/q", "r1"))
	assert.Equal(t, []string{"r1"}, api.deleted)
}

func TestStartMoveTask(t *testing.T) {
	b := New(&fakeSQS{})
	handle, err := b.StartMoveTask(context.Background(), "arn:aws:sqs:us-east-1:1:dlq", "arn:aws:sqs:us-east-1:1:src")
	require.NoError(t, err)
	assert.Equal(t, "task-1", handle)
}

func TestStartMoveTaskConflict(t *testing.T) {
	b := New(&fakeSQS{moveErr: &smithy.GenericAPIError{
		Code:    "UnsupportedOperation",
		Message: "There is already a task running. Only one active task is allowed for each source queue arn at a given time.",
	}})

	_, err := b.StartMoveTask(context.Background(), "arn:aws:sqs:us-east-1:1:dlq", "arn:aws:sqs:us-east-1:1:src")
	require.Error(t, err)
	assert.True(t, errors.Is(err, backend.ErrMoveTaskConflict))

	var apiErr smithy.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "UnsupportedOperation", apiErr.ErrorCode())
}

func TestStartMoveTaskOtherError(t *testing.T) {
	b := New(&fakeSQS{moveErr: &smithy.GenericAPIError{Code: "ResourceNotFoundException", Message: "queue does not exist"}})

	_, err := b.StartMoveTask(context.Background(), "arn:aws:sqs:us-east-1:1:dlq", "arn:aws:sqs:us-east-1:1:src")
	require.Error(t, err)
	assert.False(t, errors.Is(err, backend.ErrMoveTaskConflict))
}
