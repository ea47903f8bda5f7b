// Package memory is an in-process store.Store. It follows the same state
// machine as the postgres store and takes an injectable clock so visibility
// timeouts can be driven from tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aridsondez/sqs-redrive/internal/queue"
	"github.com/aridsondez/sqs-redrive/internal/queue/store"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu       sync.Mutex
	now      func() time.Time
	nextID   int64
	queues   map[string]queue.Attributes
	messages map[string][]*queue.Message // per queue, arrival order
	tasks    []*queue.MoveTask
}

type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		now:      time.Now,
		queues:   make(map[string]queue.Attributes),
		messages: make(map[string][]*queue.Message),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) CreateQueue(_ context.Context, attrs queue.Attributes) error {
	attrs = attrs.WithDefaults()
	if err := attrs.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.queues[attrs.Name]; ok {
		return fmt.Errorf("%w: %s", queue.ErrQueueExists, attrs.Name)
	}
	if rp := attrs.RedrivePolicy; rp != nil {
		target, ok := s.queues[rp.DeadLetterQueue]
		if !ok {
			return fmt.Errorf("dead letter queue %q: %w", rp.DeadLetterQueue, queue.ErrQueueNotFound)
		}
		if target.RedrivePolicy != nil {
			return fmt.Errorf("%w: dead letter queue %q has a redrive policy of its own", queue.ErrInvalidQueue, rp.DeadLetterQueue)
		}
	}
	attrs.CreatedAt = s.now()
	s.queues[attrs.Name] = attrs
	return nil
}

func (s *Store) GetQueue(_ context.Context, name string) (queue.Attributes, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getQueue(name)
}

func (s *Store) getQueue(name string) (queue.Attributes, error) {
	attrs, ok := s.queues[name]
	if !ok {
		return queue.Attributes{}, fmt.Errorf("%w: %s", queue.ErrQueueNotFound, name)
	}
	return attrs, nil
}

func (s *Store) Enqueue(_ context.Context, m queue.Message, delay time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getQueue(m.Queue); err != nil {
		return "", err
	}
	if m.MessageID == "" {
		m.MessageID = uuid.NewString()
	}

	now := s.now()
	s.nextID++
	row := &queue.Message{
		ID:        s.nextID,
		MessageID: m.MessageID,
		Queue:     m.Queue,
		Body:      append([]byte(nil), m.Body...),
		SentAt:    now,
		ArrivedAt: now,
		NotBefore: now.Add(delay),
		TraceID:   m.TraceID,
	}
	s.messages[m.Queue] = append(s.messages[m.Queue], row)
	return row.MessageID, nil
}

func (s *Store) Claim(_ context.Context, opts queue.ClaimOptions) ([]queue.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attrs, err := s.getQueue(opts.Queue)
	if err != nil {
		return nil, err
	}
	vis := opts.Visibility
	if vis <= 0 {
		vis = attrs.VisibilityTimeout
	}

	now := s.now()
	var out []queue.Message
	for _, m := range s.messages[opts.Queue] {
		if len(out) >= opts.Limit {
			break
		}
		if m.LeaseUntil != nil || m.NotBefore.After(now) {
			continue
		}
		until := now.Add(vis)
		m.LeaseUntil = &until
		m.ReceiveCount++
		out = append(out, copyMessage(m))
	}
	return out, nil
}

func (s *Store) Ack(_ context.Context, receipt string) (bool, error) {
	id, receiveCount, err := queue.ParseReceipt(receipt)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for name, msgs := range s.messages {
		for i, m := range msgs {
			if m.ID == id && m.ReceiveCount == receiveCount {
				s.messages[name] = append(msgs[:i:i], msgs[i+1:]...)
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *Store) Sweep(_ context.Context) (queue.SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res queue.SweepResult
	now := s.now()

	for _, name := range s.queueNames() {
		attrs := s.queues[name]
		kept := s.messages[name][:0:0]
		for _, m := range s.messages[name] {
			if m.LeaseUntil == nil || !m.LeaseUntil.Before(now) {
				kept = append(kept, m)
				continue
			}
			rp := attrs.RedrivePolicy
			if rp != nil && m.ReceiveCount >= rp.MaxReceiveCount {
				s.nextID++
				s.messages[rp.DeadLetterQueue] = append(s.messages[rp.DeadLetterQueue], &queue.Message{
					ID:        s.nextID,
					MessageID: m.MessageID,
					Queue:     rp.DeadLetterQueue,
					Body:      m.Body,
					SentAt:    m.SentAt,
					ArrivedAt: now,
					NotBefore: now,
					TraceID:   m.TraceID,
				})
				res.DeadLettered++
				continue
			}
			m.LeaseUntil = nil
			res.Requeued++
			kept = append(kept, m)
		}
		s.messages[name] = kept
	}

	for _, name := range s.queueNames() {
		cutoff := now.Add(-s.queues[name].Retention)
		kept := s.messages[name][:0:0]
		for _, m := range s.messages[name] {
			if m.LeaseUntil == nil && m.SentAt.Before(cutoff) {
				res.Expired++
				continue
			}
			kept = append(kept, m)
		}
		s.messages[name] = kept
	}
	return res, nil
}

func (s *Store) StartMoveTask(_ context.Context, source, destination string) (queue.MoveTask, error) {
	if source == destination {
		return queue.MoveTask{}, fmt.Errorf("%w: source and destination are the same queue", queue.ErrInvalidMoveTask)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getQueue(source); err != nil {
		return queue.MoveTask{}, err
	}
	if _, err := s.getQueue(destination); err != nil {
		return queue.MoveTask{}, err
	}
	if !s.isDeadLetterQueue(source) {
		return queue.MoveTask{}, fmt.Errorf("%w: %s is not a dead letter queue", queue.ErrInvalidMoveTask, source)
	}
	for _, t := range s.tasks {
		if t.Source == source && t.Status == queue.MoveTaskRunning {
			return queue.MoveTask{}, fmt.Errorf("%w: %s", queue.ErrMoveTaskConflict, source)
		}
	}

	t := &queue.MoveTask{
		ID:          uuid.NewString(),
		Source:      source,
		Destination: destination,
		Status:      queue.MoveTaskRunning,
		StartedAt:   s.now(),
	}
	s.tasks = append(s.tasks, t)
	return *t, nil
}

func (s *Store) RunMoveTasks(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var total int
	for _, t := range s.tasks {
		if t.Status != queue.MoveTaskRunning {
			continue
		}
		kept := s.messages[t.Source][:0:0]
		var moved int
		for _, m := range s.messages[t.Source] {
			leased := m.LeaseUntil != nil && !m.LeaseUntil.Before(now)
			if leased || m.ArrivedAt.After(t.StartedAt) {
				kept = append(kept, m)
				continue
			}
			s.nextID++
			s.messages[t.Destination] = append(s.messages[t.Destination], &queue.Message{
				ID:        s.nextID,
				MessageID: m.MessageID,
				Queue:     t.Destination,
				Body:      m.Body,
				SentAt:    m.SentAt,
				ArrivedAt: now,
				NotBefore: now,
				TraceID:   m.TraceID,
			})
			moved++
		}
		s.messages[t.Source] = kept

		finished := now
		t.Status = queue.MoveTaskCompleted
		t.FinishedAt = &finished
		t.MovedCount = moved
		total += moved
	}
	return total, nil
}

func (s *Store) ListMoveTasks(_ context.Context, source string) ([]queue.MoveTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []queue.MoveTask
	for i := len(s.tasks) - 1; i >= 0; i-- {
		if source == "" || s.tasks[i].Source == source {
			out = append(out, *s.tasks[i])
		}
	}
	return out, nil
}

func (s *Store) Stats(_ context.Context, name string) (queue.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getQueue(name); err != nil {
		return queue.Stats{}, err
	}
	now := s.now()
	st := queue.Stats{Queue: name}
	for _, m := range s.messages[name] {
		switch {
		case m.LeaseUntil != nil:
			st.InFlight++
		case m.NotBefore.After(now):
			st.Delayed++
		default:
			st.Visible++
		}
	}
	return st, nil
}

func (s *Store) isDeadLetterQueue(name string) bool {
	for _, q := range s.queues {
		if q.RedrivePolicy != nil && q.RedrivePolicy.DeadLetterQueue == name {
			return true
		}
	}
	return false
}

// queueNames keeps sweeps deterministic.
func (s *Store) queueNames() []string {
	names := make([]string, 0, len(s.queues))
	for name := range s.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func copyMessage(m *queue.Message) queue.Message {
	out := *m
	if m.LeaseUntil != nil {
		until := *m.LeaseUntil
		out.LeaseUntil = &until
	}
	return out
}
