package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aridsondez/sqs-redrive/internal/queue"
	"github.com/aridsondez/sqs-redrive/internal/queue/store/memory"
)

func setupTestServer(t *testing.T) (*httptest.Server, *memory.Store) {
	t.Helper()
	st := memory.New()
	srv := httptest.NewServer(NewRouter(st, Options{ReceiveMax: 5}))
	t.Cleanup(srv.Close)

	post(t, srv, "/v1/queues", map[string]any{"name": "orders-dlq"}, http.StatusCreated, nil)
	post(t, srv, "/v1/queues", map[string]any{
		"name":           "orders",
		"redrive_policy": map[string]any{"dead_letter_queue": "orders-dlq", "max_receive_count": 3},
	}, http.StatusCreated, nil)
	return srv, st
}

func post(t *testing.T, srv *httptest.Server, path string, payload any, want int, out any) {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, want, resp.StatusCode, "POST %s", path)
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
}

func get(t *testing.T, srv *httptest.Server, path string, want int, out any) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, want, resp.StatusCode, "GET %s", path)
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
}

func TestBasicFlow(t *testing.T) {
	srv, _ := setupTestServer(t)

	var sent enqueueResponse
	post(t, srv, "/v1/queues/orders/messages", map[string]any{
		"body": map[string]any{"item": map[string]string{"sku": "A-1"}},
	}, http.StatusCreated, &sent)
	require.NotEmpty(t, sent.MessageID)

	var got []receivedMessage
	post(t, srv, "/v1/queues/orders:receive", map[string]any{"max": 10}, http.StatusOK, &got)
	require.Len(t, got, 1)
	assert.Equal(t, sent.MessageID, got[0].MessageID)
	assert.Equal(t, 1, got[0].ReceiveCount)
	assert.JSONEq(t, `{"item":{"sku":"A-1"}}`, string(got[0].Body))

	var del deleteResponse
	post(t, srv, "/v1/queues/orders/messages:delete", map[string]any{"receipt": got[0].Receipt}, http.StatusOK, &del)
	assert.True(t, del.Deleted)

	// a second delete with the same receipt is a no-op
	post(t, srv, "/v1/queues/orders/messages:delete", map[string]any{"receipt": got[0].Receipt}, http.StatusOK, &del)
	assert.False(t, del.Deleted)

	var q queueResponse
	get(t, srv, "/v1/queues/orders", http.StatusOK, &q)
	assert.Equal(t, queue.LocalARN("orders"), q.ARN)
	require.NotNil(t, q.RedrivePolicy)
	assert.Equal(t, "orders-dlq", q.RedrivePolicy.DeadLetterQueue)
	require.NotNil(t, q.Stats)
	assert.Zero(t, q.Stats.Total())
}

func TestReceiveIsCapped(t *testing.T) {
	srv, _ := setupTestServer(t)
	for i := 0; i < 8; i++ {
		post(t, srv, "/v1/queues/orders/messages", map[string]any{"body": map[string]int{"n": i}}, http.StatusCreated, nil)
	}
	var got []receivedMessage
	post(t, srv, "/v1/queues/orders:receive", map[string]any{"max": 100}, http.StatusOK, &got)
	assert.Len(t, got, 5)
}

func TestErrors(t *testing.T) {
	srv, _ := setupTestServer(t)

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{"missing body", "/v1/queues/orders/messages", map[string]any{}, http.StatusBadRequest},
		{"negative delay", "/v1/queues/orders/messages", map[string]any{"body": 1, "delay_ms": -1}, http.StatusBadRequest},
		{"unknown queue", "/v1/queues/nope/messages", map[string]any{"body": 1}, http.StatusNotFound},
		{"duplicate queue", "/v1/queues", map[string]any{"name": "orders"}, http.StatusConflict},
		{"dlq chain", "/v1/queues", map[string]any{
			"name":           "chained",
			"redrive_policy": map[string]any{"dead_letter_queue": "orders"},
		}, http.StatusBadRequest},
		{"bad receipt", "/v1/queues/orders/messages:delete", map[string]any{"receipt": "garbage"}, http.StatusBadRequest},
		{"bad arn", "/v1/move-tasks", map[string]any{"source_arn": "orders-dlq", "destination_arn": queue.LocalARN("orders")}, http.StatusBadRequest},
		{"not a dlq", "/v1/move-tasks", map[string]any{"source_arn": queue.LocalARN("orders"), "destination_arn": queue.LocalARN("orders-dlq")}, http.StatusBadRequest},
		{"unknown source", "/v1/move-tasks", map[string]any{"source_arn": queue.LocalARN("nope"), "destination_arn": queue.LocalARN("orders")}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e struct {
				Error string `json:"error"`
				Code  string `json:"code"`
			}
			post(t, srv, tt.path, tt.body, tt.want, &e)
			assert.NotEmpty(t, e.Error)
			assert.NotEmpty(t, e.Code)
		})
	}
}

func TestMoveTasks(t *testing.T) {
	srv, st := setupTestServer(t)
	for i := 0; i < 3; i++ {
		post(t, srv, "/v1/queues/orders-dlq/messages", map[string]any{"body": map[string]int{"n": i}}, http.StatusCreated, nil)
	}

	req := map[string]string{
		"source_arn":      queue.LocalARN("orders-dlq"),
		"destination_arn": queue.LocalARN("orders"),
	}
	var started moveTaskResponse
	post(t, srv, "/v1/move-tasks", req, http.StatusCreated, &started)
	require.NotEmpty(t, started.TaskID)

	var e struct {
		Code string `json:"code"`
	}
	post(t, srv, "/v1/move-tasks", req, http.StatusConflict, &e)
	assert.Equal(t, CodeMoveTaskConflict, e.Code)

	moved, err := st.RunMoveTasks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, moved)

	var tasks []moveTaskView
	get(t, srv, fmt.Sprintf("/v1/move-tasks?source_arn=%s", queue.LocalARN("orders-dlq")), http.StatusOK, &tasks)
	require.Len(t, tasks, 1)
	assert.Equal(t, started.TaskID, tasks[0].ID)
	assert.Equal(t, queue.MoveTaskCompleted, tasks[0].Status)
	assert.Equal(t, 3, tasks[0].MovedCount)
	assert.Equal(t, queue.LocalARN("orders"), tasks[0].DestinationARN)

	var q queueResponse
	get(t, srv, "/v1/queues/orders", http.StatusOK, &q)
	assert.Equal(t, 3, q.Stats.Visible)
}

func TestHealthz(t *testing.T) {
	srv, _ := setupTestServer(t)
	get(t, srv, "/healthz", http.StatusOK, nil)
	get(t, srv, "/metrics", http.StatusOK, nil)
}
