package queue

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrQueueNotFound    = errors.New("queue not found")
	ErrQueueExists      = errors.New("queue already exists")
	ErrMoveTaskConflict = errors.New("a move task is already running for this source queue")
	ErrInvalidMoveTask  = errors.New("invalid move task")
	ErrInvalidReceipt   = errors.New("invalid receipt handle")
	ErrInvalidARN       = errors.New("invalid queue arn")
	ErrInvalidQueue     = errors.New("invalid queue attributes")
)

// Message is the durable queue row mapped to Go.
type Message struct {
	ID           int64
	MessageID    string
	Queue        string
	Body         []byte
	SentAt       time.Time
	ArrivedAt    time.Time
	NotBefore    time.Time
	LeaseUntil   *time.Time
	ReceiveCount int
	TraceID      *string
}

// Receipt returns the handle that deletes this particular receive of the message.
func (m Message) Receipt() string {
	return FormatReceipt(m.ID, m.ReceiveCount)
}

func FormatReceipt(id int64, receiveCount int) string {
	return strconv.FormatInt(id, 10) + ":" + strconv.Itoa(receiveCount)
}

func ParseReceipt(receipt string) (id int64, receiveCount int, err error) {
	idPart, countPart, ok := strings.Cut(receipt, ":")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidReceipt, receipt)
	}
	id, err = strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidReceipt, receipt)
	}
	receiveCount, err = strconv.Atoi(countPart)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidReceipt, receipt)
	}
	return id, receiveCount, nil
}

// ClaimOptions controls how we receive messages.
type ClaimOptions struct {
	Queue      string
	Limit      int
	Visibility time.Duration
}

// RedrivePolicy is the dead-letter association of a primary queue.
type RedrivePolicy struct {
	DeadLetterQueue string `json:"dead_letter_queue"`
	MaxReceiveCount int    `json:"max_receive_count"`
}

// Attributes describes a queue. A queue used as a DLQ carries no
// RedrivePolicy, so it is never dead-lettered itself.
type Attributes struct {
	Name              string
	VisibilityTimeout time.Duration
	Retention         time.Duration
	RedrivePolicy     *RedrivePolicy
	CreatedAt         time.Time
}

const (
	DefaultVisibilityTimeout = 5 * time.Minute
	DefaultRetention         = 14 * 24 * time.Hour
	DefaultMaxReceiveCount   = 3
)

// WithDefaults fills zero durations.
func (a Attributes) WithDefaults() Attributes {
	if a.VisibilityTimeout <= 0 {
		a.VisibilityTimeout = DefaultVisibilityTimeout
	}
	if a.Retention <= 0 {
		a.Retention = DefaultRetention
	}
	if a.RedrivePolicy != nil && a.RedrivePolicy.MaxReceiveCount <= 0 {
		p := *a.RedrivePolicy
		p.MaxReceiveCount = DefaultMaxReceiveCount
		a.RedrivePolicy = &p
	}
	return a
}

func (a Attributes) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("%w: queue name is required", ErrInvalidQueue)
	}
	if p := a.RedrivePolicy; p != nil {
		if p.DeadLetterQueue == "" {
			return fmt.Errorf("%w: redrive policy requires a dead letter queue", ErrInvalidQueue)
		}
		if p.DeadLetterQueue == a.Name {
			return fmt.Errorf("%w: a queue cannot be its own dead letter queue", ErrInvalidQueue)
		}
	}
	return nil
}

// Stats is a point-in-time view of a queue's depth.
type Stats struct {
	Queue    string `json:"queue"`
	Visible  int    `json:"visible"`
	InFlight int    `json:"in_flight"`
	Delayed  int    `json:"delayed"`
}

func (s Stats) Total() int {
	return s.Visible + s.InFlight + s.Delayed
}

// SweepResult counts what a sweep did.
type SweepResult struct {
	Requeued     int
	DeadLettered int
	Expired      int
}

func (r SweepResult) Total() int {
	return r.Requeued + r.DeadLettered + r.Expired
}

type MoveTaskStatus string

const (
	MoveTaskRunning   MoveTaskStatus = "RUNNING"
	MoveTaskCompleted MoveTaskStatus = "COMPLETED"
	MoveTaskFailed    MoveTaskStatus = "FAILED"
)

// MoveTask relocates every message present in Source at StartedAt to Destination.
type MoveTask struct {
	ID            string         `json:"task_id"`
	Source        string         `json:"source"`
	Destination   string         `json:"destination"`
	Status        MoveTaskStatus `json:"status"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    *time.Time     `json:"finished_at,omitempty"`
	MovedCount    int            `json:"moved_count"`
	FailureReason string         `json:"failure_reason,omitempty"`
}
