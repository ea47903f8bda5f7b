// Package client talks to the SQS-lite HTTP api. *Client satisfies
// backend.Queue, so the consumer worker and the redrive function can run
// against a lite deployment unchanged.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/aws/smithy-go"

	"github.com/aridsondez/sqs-redrive/internal/backend"
)

var _ backend.Queue = (*Client)(nil)

// Client for SQS Lite
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a new SQS Lite client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// WithHTTPClient swaps the underlying http.Client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.client = hc
	return c
}

type RedrivePolicy struct {
	DeadLetterQueue string `json:"dead_letter_queue"`
	MaxReceiveCount int    `json:"max_receive_count,omitempty"`
}

type QueueStats struct {
	Visible  int `json:"visible"`
	InFlight int `json:"in_flight"`
	Delayed  int `json:"delayed"`
}

type Queue struct {
	Name                string         `json:"name"`
	ARN                 string         `json:"arn"`
	VisibilityTimeoutMS int64          `json:"visibility_timeout_ms,omitempty"`
	RetentionMS         int64          `json:"retention_ms,omitempty"`
	RedrivePolicy       *RedrivePolicy `json:"redrive_policy,omitempty"`
	Stats               *QueueStats    `json:"stats,omitempty"`
}

type MoveTask struct {
	ID             string     `json:"task_id"`
	SourceARN      string     `json:"source_arn"`
	DestinationARN string     `json:"destination_arn"`
	Status         string     `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	MovedCount     int        `json:"moved_count"`
}

// EnqueueOptions for customizing message enqueue
type EnqueueOptions struct {
	Delay   time.Duration
	TraceID string // Optional trace ID for correlation
}

// CreateQueue registers a queue; a queue with a RedrivePolicy dead-letters
// into an existing queue.
func (c *Client) CreateQueue(ctx context.Context, q Queue) (*Queue, error) {
	var out Queue
	if err := c.do(ctx, http.MethodPost, "/v1/queues", q, http.StatusCreated, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetQueue(ctx context.Context, name string) (*Queue, error) {
	var out Queue
	if err := c.do(ctx, http.MethodGet, "/v1/queues/"+url.PathEscape(name), nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Enqueue sends a JSON-encodable body to a queue.
func (c *Client) Enqueue(ctx context.Context, queue string, body interface{}, opts *EnqueueOptions) (string, error) {
	if opts == nil {
		opts = &EnqueueOptions{}
	}

	bodyJSON, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal body: %w", err)
	}

	req := map[string]interface{}{
		"body": json.RawMessage(bodyJSON),
	}
	if opts.Delay > 0 {
		req["delay_ms"] = opts.Delay.Milliseconds()
	}
	if opts.TraceID != "" {
		req["trace_id"] = opts.TraceID
	}

	var result struct {
		MessageID string `json:"message_id"`
	}
	path := fmt.Sprintf("/v1/queues/%s/messages", url.PathEscape(queue))
	if err := c.do(ctx, http.MethodPost, path, req, http.StatusCreated, &result); err != nil {
		return "", err
	}
	return result.MessageID, nil
}

// Send enqueues a raw body. The api stores JSON, so a body that is not
// valid JSON is sent as a JSON string.
func (c *Client) Send(ctx context.Context, queue string, body []byte) (string, error) {
	if json.Valid(body) {
		return c.Enqueue(ctx, queue, json.RawMessage(body), nil)
	}
	return c.Enqueue(ctx, queue, string(body), nil)
}

func (c *Client) ReceiveBatch(ctx context.Context, queue string, max int) ([]backend.Message, error) {
	return c.Receive(ctx, queue, max, 0)
}

// Receive leases up to max messages; a zero visibility uses the queue default.
func (c *Client) Receive(ctx context.Context, queue string, max int, visibility time.Duration) ([]backend.Message, error) {
	req := map[string]interface{}{
		"max":           max,
		"visibility_ms": visibility.Milliseconds(),
	}
	var result []struct {
		MessageID    string          `json:"message_id"`
		Receipt      string          `json:"receipt"`
		Body         json.RawMessage `json:"body"`
		ReceiveCount int             `json:"receive_count"`
	}
	path := fmt.Sprintf("/v1/queues/%s:receive", url.PathEscape(queue))
	if err := c.do(ctx, http.MethodPost, path, req, http.StatusOK, &result); err != nil {
		return nil, err
	}

	msgs := make([]backend.Message, 0, len(result))
	for _, m := range result {
		msgs = append(msgs, backend.Message{
			MessageID:    m.MessageID,
			Receipt:      m.Receipt,
			Body:         []byte(m.Body),
			ReceiveCount: m.ReceiveCount,
		})
	}
	return msgs, nil
}

func (c *Client) DeleteMessage(ctx context.Context, queue, receipt string) error {
	path := fmt.Sprintf("/v1/queues/%s/messages:delete", url.PathEscape(queue))
	return c.do(ctx, http.MethodPost, path, map[string]string{"receipt": receipt}, http.StatusOK, nil)
}

func (c *Client) StartMoveTask(ctx context.Context, sourceARN, destinationARN string) (string, error) {
	req := map[string]string{
		"source_arn":      sourceARN,
		"destination_arn": destinationARN,
	}
	var result struct {
		TaskID string `json:"task_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/move-tasks", req, http.StatusCreated, &result); err != nil {
		return "", err
	}
	return result.TaskID, nil
}

func (c *Client) ListMoveTasks(ctx context.Context, sourceARN string) ([]MoveTask, error) {
	path := "/v1/move-tasks"
	if sourceARN != "" {
		path += "?source_arn=" + url.QueryEscape(sourceARN)
	}
	var out []MoveTask
	if err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in any, want int, out any) error {
	var body io.Reader
	if in != nil {
		reqBody, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(reqBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// decodeError turns an error response into a smithy API error so callers
// handle lite and SQS failures the same way.
func decodeError(resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(resp.Body)
	var e struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(bodyBytes, &e); err != nil || e.Code == "" {
		return fmt.Errorf("request failed: %s - %s", resp.Status, string(bodyBytes))
	}

	fault := smithy.FaultClient
	if resp.StatusCode >= 500 {
		fault = smithy.FaultServer
	}
	apiErr := &smithy.GenericAPIError{Code: e.Code, Message: e.Error, Fault: fault}
	if resp.StatusCode == http.StatusConflict && e.Code == "MoveTaskConflict" {
		return fmt.Errorf("%w: %w", backend.ErrMoveTaskConflict, apiErr)
	}
	return apiErr
}
