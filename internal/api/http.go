package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aridsondez/sqs-redrive/internal/metrics"
	"github.com/aridsondez/sqs-redrive/internal/queue"
	"github.com/aridsondez/sqs-redrive/internal/queue/store"
)

// Error codes carried in error responses. pkg/client turns them back into
// API errors.
const (
	CodeQueueDoesNotExist = "QueueDoesNotExist"
	CodeQueueExists       = "QueueAlreadyExists"
	CodeMoveTaskConflict  = "MoveTaskConflict"
	CodeInvalidParameter  = "InvalidParameterValue"
	CodeInternal          = "InternalError"
)

type Options struct {
	Timeout    time.Duration
	ReceiveMax int
	Logger     *slog.Logger
}

type Server struct {
	store      store.Store
	receiveMax int
	logger     *slog.Logger
}

func NewServer(addr string, s store.Store, opts Options) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(s, opts),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func NewRouter(s store.Store, opts Options) http.Handler {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.ReceiveMax <= 0 {
		opts.ReceiveMax = 10
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	srv := &Server{
		store:      s,
		receiveMax: opts.ReceiveMax,
		logger:     opts.Logger.With("component", "api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(srv.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(opts.Timeout))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/queues", srv.handleCreateQueue)
		r.Get("/queues/{queue}", srv.handleGetQueue)

		// send: POST /v1/queues/{queue}/messages
		r.Post("/queues/{queue}/messages", srv.handleEnqueue)

		// receive: POST /v1/queues/{queue}:receive
		r.Post("/queues/{queue}:receive", srv.handleReceive)

		// delete: POST /v1/queues/{queue}/messages:delete
		r.Post("/queues/{queue}/messages:delete", srv.handleDelete)

		r.Post("/move-tasks", srv.handleStartMoveTask)
		r.Get("/move-tasks", srv.handleListMoveTasks)
	})

	return r
}

// requestLogger replaces chi's text logger with a structured one.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

// ---------- Wire types ----------

type redrivePolicy struct {
	DeadLetterQueue string `json:"dead_letter_queue"`
	MaxReceiveCount int    `json:"max_receive_count,omitempty"`
}

type createQueueRequest struct {
	Name                string         `json:"name"`
	VisibilityTimeoutMS int64          `json:"visibility_timeout_ms,omitempty"`
	RetentionMS         int64          `json:"retention_ms,omitempty"`
	RedrivePolicy       *redrivePolicy `json:"redrive_policy,omitempty"`
}

type queueResponse struct {
	Name                string         `json:"name"`
	ARN                 string         `json:"arn"`
	VisibilityTimeoutMS int64          `json:"visibility_timeout_ms"`
	RetentionMS         int64          `json:"retention_ms"`
	RedrivePolicy       *redrivePolicy `json:"redrive_policy,omitempty"`
	Stats               *queue.Stats   `json:"stats,omitempty"`
}

type enqueueRequest struct {
	Body    json.RawMessage `json:"body"`
	DelayMS int64           `json:"delay_ms,omitempty"`
	TraceID *string         `json:"trace_id,omitempty"`
}

type enqueueResponse struct {
	MessageID string `json:"message_id"`
}

type receiveRequest struct {
	Max          int   `json:"max"`
	VisibilityMS int64 `json:"visibility_ms"`
}

type receivedMessage struct {
	MessageID    string          `json:"message_id"`
	Receipt      string          `json:"receipt"`
	Body         json.RawMessage `json:"body"`
	ReceiveCount int             `json:"receive_count"`
	LeaseUntil   *time.Time      `json:"lease_until,omitempty"`
	TraceID      *string         `json:"trace_id,omitempty"`
}

type deleteRequest struct {
	Receipt string `json:"receipt"`
}

type deleteResponse struct {
	Deleted bool `json:"deleted"`
}

type moveTaskRequest struct {
	SourceARN      string `json:"source_arn"`
	DestinationARN string `json:"destination_arn"`
}

type moveTaskResponse struct {
	TaskID string `json:"task_id"`
}

type moveTaskView struct {
	queue.MoveTask
	SourceARN      string `json:"source_arn"`
	DestinationARN string `json:"destination_arn"`
}

// ---------- Handlers ----------

func (s *Server) handleCreateQueue(w http.ResponseWriter, r *http.Request) {
	var req createQueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, CodeInvalidParameter, "invalid json: %v", err)
		return
	}
	attrs := queue.Attributes{
		Name:              req.Name,
		VisibilityTimeout: time.Duration(req.VisibilityTimeoutMS) * time.Millisecond,
		Retention:         time.Duration(req.RetentionMS) * time.Millisecond,
	}
	if p := req.RedrivePolicy; p != nil {
		attrs.RedrivePolicy = &queue.RedrivePolicy{
			DeadLetterQueue: p.DeadLetterQueue,
			MaxReceiveCount: p.MaxReceiveCount,
		}
	}
	if err := attrs.WithDefaults().Validate(); err != nil {
		httpError(w, http.StatusBadRequest, CodeInvalidParameter, "%v", err)
		return
	}

	if err := s.store.CreateQueue(r.Context(), attrs); err != nil {
		s.storeError(w, "create queue", err)
		return
	}
	created, err := s.store.GetQueue(r.Context(), attrs.Name)
	if err != nil {
		s.storeError(w, "create queue", err)
		return
	}
	writeJSON(w, http.StatusCreated, toQueueResponse(created, nil))
}

func (s *Server) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	qname := chi.URLParam(r, "queue")
	attrs, err := s.store.GetQueue(r.Context(), qname)
	if err != nil {
		s.storeError(w, "get queue", err)
		return
	}
	stats, err := s.store.Stats(r.Context(), qname)
	if err != nil {
		s.storeError(w, "get queue", err)
		return
	}
	writeJSON(w, http.StatusOK, toQueueResponse(attrs, &stats))
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	qname := chi.URLParam(r, "queue")
	if qname == "" {
		httpError(w, http.StatusBadRequest, CodeInvalidParameter, "missing queue path param")
		return
	}
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, CodeInvalidParameter, "invalid json: %v", err)
		return
	}
	if len(req.Body) == 0 || string(req.Body) == "null" {
		httpError(w, http.StatusBadRequest, CodeInvalidParameter, "`body` is required")
		return
	}
	if req.DelayMS < 0 || req.DelayMS > (15*time.Minute).Milliseconds() {
		httpError(w, http.StatusBadRequest, CodeInvalidParameter, "delay_ms must be within 0..900000")
		return
	}

	msg := queue.Message{
		Queue:   qname,
		Body:    []byte(req.Body),
		TraceID: req.TraceID,
	}
	id, err := s.store.Enqueue(r.Context(), msg, time.Duration(req.DelayMS)*time.Millisecond)
	if err != nil {
		s.storeError(w, "enqueue", err)
		return
	}
	metrics.MessagesEnqueued.WithLabelValues(qname).Inc()
	writeJSON(w, http.StatusCreated, &enqueueResponse{MessageID: id})
}

func (s *Server) handleReceive(w http.ResponseWriter, r *http.Request) {
	qname := chi.URLParam(r, "queue")
	if qname == "" {
		httpError(w, http.StatusBadRequest, CodeInvalidParameter, "missing queue path param")
		return
	}
	var req receiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, CodeInvalidParameter, "invalid json: %v", err)
		return
	}
	if req.Max <= 0 {
		req.Max = 1
	}
	if req.Max > s.receiveMax {
		req.Max = s.receiveMax
	}

	out, err := s.store.Claim(r.Context(), queue.ClaimOptions{
		Queue:      qname,
		Limit:      req.Max,
		Visibility: time.Duration(req.VisibilityMS) * time.Millisecond,
	})
	if err != nil {
		s.storeError(w, "receive", err)
		return
	}
	metrics.MessagesReceived.WithLabelValues(qname).Add(float64(len(out)))

	resp := make([]receivedMessage, 0, len(out))
	for _, m := range out {
		resp = append(resp, receivedMessage{
			MessageID:    m.MessageID,
			Receipt:      m.Receipt(),
			Body:         json.RawMessage(m.Body),
			ReceiveCount: m.ReceiveCount,
			LeaseUntil:   m.LeaseUntil,
			TraceID:      m.TraceID,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, CodeInvalidParameter, "invalid json: %v", err)
		return
	}
	ok, err := s.store.Ack(r.Context(), req.Receipt)
	if err != nil {
		s.storeError(w, "delete", err)
		return
	}
	if ok {
		metrics.MessagesAcked.Inc()
	}
	// A stale receipt deletes nothing and is not an error.
	writeJSON(w, http.StatusOK, &deleteResponse{Deleted: ok})
}

func (s *Server) handleStartMoveTask(w http.ResponseWriter, r *http.Request) {
	var req moveTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, CodeInvalidParameter, "invalid json: %v", err)
		return
	}
	source, err := queue.QueueName(req.SourceARN)
	if err != nil {
		httpError(w, http.StatusBadRequest, CodeInvalidParameter, "source_arn: %v", err)
		return
	}
	destination, err := queue.QueueName(req.DestinationARN)
	if err != nil {
		httpError(w, http.StatusBadRequest, CodeInvalidParameter, "destination_arn: %v", err)
		return
	}

	task, err := s.store.StartMoveTask(r.Context(), source, destination)
	if err != nil {
		if errors.Is(err, queue.ErrMoveTaskConflict) {
			metrics.MoveTaskConflicts.Inc()
		}
		s.storeError(w, "start move task", err)
		return
	}
	metrics.MoveTasksStarted.Inc()
	s.logger.Info("move task started", "task_id", task.ID, "source", source, "destination", destination)
	writeJSON(w, http.StatusCreated, &moveTaskResponse{TaskID: task.ID})
}

func (s *Server) handleListMoveTasks(w http.ResponseWriter, r *http.Request) {
	var source string
	if arn := r.URL.Query().Get("source_arn"); arn != "" {
		name, err := queue.QueueName(arn)
		if err != nil {
			httpError(w, http.StatusBadRequest, CodeInvalidParameter, "source_arn: %v", err)
			return
		}
		source = name
	}

	tasks, err := s.store.ListMoveTasks(r.Context(), source)
	if err != nil {
		s.storeError(w, "list move tasks", err)
		return
	}
	resp := make([]moveTaskView, 0, len(tasks))
	for _, t := range tasks {
		resp = append(resp, moveTaskView{
			MoveTask:       t,
			SourceARN:      queue.LocalARN(t.Source),
			DestinationARN: queue.LocalARN(t.Destination),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---------- helpers ----------

func toQueueResponse(a queue.Attributes, stats *queue.Stats) *queueResponse {
	resp := &queueResponse{
		Name:                a.Name,
		ARN:                 queue.LocalARN(a.Name),
		VisibilityTimeoutMS: a.VisibilityTimeout.Milliseconds(),
		RetentionMS:         a.Retention.Milliseconds(),
		Stats:               stats,
	}
	if p := a.RedrivePolicy; p != nil {
		resp.RedrivePolicy = &redrivePolicy{
			DeadLetterQueue: p.DeadLetterQueue,
			MaxReceiveCount: p.MaxReceiveCount,
		}
	}
	return resp
}

// storeError maps store sentinels to status codes.
func (s *Server) storeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, queue.ErrQueueNotFound):
		httpError(w, http.StatusNotFound, CodeQueueDoesNotExist, "%s: %v", op, err)
	case errors.Is(err, queue.ErrQueueExists):
		httpError(w, http.StatusConflict, CodeQueueExists, "%s: %v", op, err)
	case errors.Is(err, queue.ErrMoveTaskConflict):
		httpError(w, http.StatusConflict, CodeMoveTaskConflict, "%s: %v", op, err)
	case errors.Is(err, queue.ErrInvalidMoveTask),
		errors.Is(err, queue.ErrInvalidReceipt),
		errors.Is(err, queue.ErrInvalidARN),
		errors.Is(err, queue.ErrInvalidQueue):
		httpError(w, http.StatusBadRequest, CodeInvalidParameter, "%s: %v", op, err)
	default:
		s.logger.Error("store call failed", "op", op, "error", err)
		httpError(w, http.StatusInternalServerError, CodeInternal, "%s failed: %v", op, err)
	}
}

func httpError(w http.ResponseWriter, code int, errCode string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": msg,
		"code":  errCode,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
