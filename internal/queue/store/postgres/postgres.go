package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aridsondez/sqs-redrive/internal/queue"
	"github.com/aridsondez/sqs-redrive/internal/queue/store"
)

// Ensure *PostgresStore implements store.Store at compile time.
var _ store.Store = (*PostgresStore)(nil)

//go:embed schema.sql
var schema string

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they do not exist yet.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// helper: convert a Go duration to a Postgres interval literal like "12.500000s".
func toInterval(d time.Duration) string {
	return fmt.Sprintf("%fs", d.Seconds())
}

// SQL templates
const (
	sqlCreateQueue = `
INSERT INTO queues (name, visibility_timeout_ms, retention_ms, dlq, max_receive_count)
VALUES ($1, $2, $3, $4, $5);`

	sqlGetQueue = `
SELECT name, visibility_timeout_ms, retention_ms, dlq, max_receive_count, created_at
FROM queues
WHERE name = $1;`

	sqlEnqueue = `
INSERT INTO messages (message_id, queue, body, not_before, trace_id)
VALUES ($1, $2, $3, now() + $4::interval, $5)
RETURNING message_id;`

	// Single CTE TX pattern: pick -> update -> return rows
	sqlClaim = `
WITH picked AS (
  SELECT id
  FROM messages
  WHERE queue = $1
    AND lease_until IS NULL
    AND not_before <= now()
  ORDER BY arrived_at, id
  FOR UPDATE SKIP LOCKED
  LIMIT $2
),
updated AS (
  UPDATE messages m
  SET lease_until   = now() + $3::interval,
      receive_count = m.receive_count + 1
  FROM picked
  WHERE m.id = picked.id
  RETURNING m.id, m.message_id, m.queue, m.body, m.sent_at, m.arrived_at,
            m.not_before, m.lease_until, m.receive_count, m.trace_id
)
SELECT * FROM updated ORDER BY arrived_at, id;`

	sqlAck = `DELETE FROM messages WHERE id = $1 AND receive_count = $2;`

	sqlSweeperRequeue = `
WITH expired AS (
  SELECT m.id
  FROM messages m
  JOIN queues q ON q.name = m.queue
  WHERE m.lease_until IS NOT NULL
    AND m.lease_until < now()
    AND (q.dlq IS NULL OR m.receive_count < q.max_receive_count)
  FOR UPDATE OF m SKIP LOCKED
)
UPDATE messages
SET lease_until = NULL
WHERE id IN (SELECT id FROM expired);`

	// insert into the DLQ and delete from the source in one statement so a
	// message is never visible in both queues
	sqlSweeperDLQ = `
WITH expired_for_dlq AS (
  SELECT m.id, m.message_id, q.dlq, m.body, m.sent_at, m.trace_id
  FROM messages m
  JOIN queues q ON q.name = m.queue
  WHERE m.lease_until IS NOT NULL
    AND m.lease_until < now()
    AND q.dlq IS NOT NULL
    AND m.receive_count >= q.max_receive_count
  FOR UPDATE OF m SKIP LOCKED
),
inserted AS (
  INSERT INTO messages (message_id, queue, body, sent_at, trace_id)
  SELECT message_id, dlq, body, sent_at, trace_id
  FROM expired_for_dlq
  RETURNING id
)
DELETE FROM messages
WHERE id IN (SELECT id FROM expired_for_dlq);`

	sqlSweeperRetention = `
DELETE FROM messages m
USING queues q
WHERE q.name = m.queue
  AND m.lease_until IS NULL
  AND m.sent_at < now() - q.retention_ms * interval '1 millisecond';`

	sqlIsDeadLetterQueue = `SELECT EXISTS (SELECT 1 FROM queues WHERE dlq = $1);`

	sqlStartMoveTask = `
INSERT INTO move_tasks (id, source, destination, status)
VALUES ($1, $2, $3, 'RUNNING')
RETURNING started_at;`

	sqlRunningMoveTasks = `
SELECT id, source, destination, status, started_at, finished_at, moved_count, COALESCE(failure_reason, '')
FROM move_tasks
WHERE status = 'RUNNING'
ORDER BY started_at;`

	sqlMoveMessages = `
WITH moved AS (
  DELETE FROM messages
  WHERE queue = $1
    AND arrived_at <= $3
    AND (lease_until IS NULL OR lease_until < now())
  RETURNING message_id, body, sent_at, trace_id
)
INSERT INTO messages (message_id, queue, body, sent_at, trace_id)
SELECT message_id, $2, body, sent_at, trace_id
FROM moved;`

	sqlCompleteMoveTask = `
UPDATE move_tasks
SET status = 'COMPLETED', finished_at = now(), moved_count = $2
WHERE id = $1;`

	sqlFailMoveTask = `
UPDATE move_tasks
SET status = 'FAILED', finished_at = now(), failure_reason = $2
WHERE id = $1;`

	sqlListMoveTasks = `
SELECT id, source, destination, status, started_at, finished_at, moved_count, COALESCE(failure_reason, '')
FROM move_tasks
WHERE $1 = '' OR source = $1
ORDER BY started_at DESC;`

	sqlStats = `
SELECT
  count(*) FILTER (WHERE lease_until IS NULL AND not_before <= now()),
  count(*) FILTER (WHERE lease_until IS NOT NULL),
  count(*) FILTER (WHERE lease_until IS NULL AND not_before > now())
FROM messages
WHERE queue = $1;`
)

func (p *PostgresStore) CreateQueue(ctx context.Context, attrs queue.Attributes) error {
	attrs = attrs.WithDefaults()
	if err := attrs.Validate(); err != nil {
		return err
	}

	var (
		dlq             *string
		maxReceiveCount *int
	)
	if rp := attrs.RedrivePolicy; rp != nil {
		target, err := p.GetQueue(ctx, rp.DeadLetterQueue)
		if err != nil {
			return fmt.Errorf("dead letter queue %q: %w", rp.DeadLetterQueue, err)
		}
		if target.RedrivePolicy != nil {
			return fmt.Errorf("%w: dead letter queue %q has a redrive policy of its own", queue.ErrInvalidQueue, rp.DeadLetterQueue)
		}
		dlq = &rp.DeadLetterQueue
		maxReceiveCount = &rp.MaxReceiveCount
	}

	_, err := p.pool.Exec(ctx, sqlCreateQueue,
		attrs.Name,
		attrs.VisibilityTimeout.Milliseconds(),
		attrs.Retention.Milliseconds(),
		dlq,
		maxReceiveCount,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", queue.ErrQueueExists, attrs.Name)
		case pgForeignKeyViolation:
			return fmt.Errorf("dead letter queue: %w", queue.ErrQueueNotFound)
		}
	}
	return err
}

func (p *PostgresStore) GetQueue(ctx context.Context, name string) (queue.Attributes, error) {
	var (
		attrs           queue.Attributes
		visibilityMS    int64
		retentionMS     int64
		dlq             *string
		maxReceiveCount *int
	)
	err := p.pool.QueryRow(ctx, sqlGetQueue, name).Scan(
		&attrs.Name,
		&visibilityMS,
		&retentionMS,
		&dlq,
		&maxReceiveCount,
		&attrs.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return queue.Attributes{}, fmt.Errorf("%w: %s", queue.ErrQueueNotFound, name)
	}
	if err != nil {
		return queue.Attributes{}, err
	}

	attrs.VisibilityTimeout = time.Duration(visibilityMS) * time.Millisecond
	attrs.Retention = time.Duration(retentionMS) * time.Millisecond
	if dlq != nil && maxReceiveCount != nil {
		attrs.RedrivePolicy = &queue.RedrivePolicy{
			DeadLetterQueue: *dlq,
			MaxReceiveCount: *maxReceiveCount,
		}
	}
	return attrs, nil
}

// Enqueue inserts a message with optional delay.
func (p *PostgresStore) Enqueue(ctx context.Context, m queue.Message, delay time.Duration) (string, error) {
	if m.MessageID == "" {
		m.MessageID = uuid.NewString()
	}

	var id string
	err := p.pool.QueryRow(ctx, sqlEnqueue,
		m.MessageID,       // $1
		m.Queue,           // $2
		m.Body,            // $3
		toInterval(delay), // $4 interval
		m.TraceID,         // $5
	).Scan(&id)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		return "", fmt.Errorf("%w: %s", queue.ErrQueueNotFound, m.Queue)
	}
	return id, err
}

// Claim leases up to opts.Limit messages for opts.Visibility. A zero
// visibility uses the queue's default.
func (p *PostgresStore) Claim(ctx context.Context, opts queue.ClaimOptions) ([]queue.Message, error) {
	attrs, err := p.GetQueue(ctx, opts.Queue)
	if err != nil {
		return nil, err
	}
	vis := opts.Visibility
	if vis <= 0 {
		vis = attrs.VisibilityTimeout
	}

	rows, err := p.pool.Query(ctx, sqlClaim, opts.Queue, opts.Limit, toInterval(vis))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []queue.Message
	for rows.Next() {
		var m queue.Message
		// NOTE: column order must match the RETURNING list of sqlClaim.
		err = rows.Scan(
			&m.ID,
			&m.MessageID,
			&m.Queue,
			&m.Body,
			&m.SentAt,
			&m.ArrivedAt,
			&m.NotBefore,
			&m.LeaseUntil,
			&m.ReceiveCount,
			&m.TraceID,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Ack deletes the message the receipt was issued for.
func (p *PostgresStore) Ack(ctx context.Context, receipt string) (bool, error) {
	id, receiveCount, err := queue.ParseReceipt(receipt)
	if err != nil {
		return false, err
	}
	ct, err := p.pool.Exec(ctx, sqlAck, id, receiveCount)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (p *PostgresStore) Sweep(ctx context.Context) (queue.SweepResult, error) {
	var res queue.SweepResult

	tag, err := p.pool.Exec(ctx, sqlSweeperRequeue)
	if err != nil {
		return res, fmt.Errorf("sweep requeue: %w", err)
	}
	res.Requeued = int(tag.RowsAffected())

	// now handle dlq
	tag, err = p.pool.Exec(ctx, sqlSweeperDLQ)
	if err != nil {
		return res, fmt.Errorf("sweep dlq: %w", err)
	}
	res.DeadLettered = int(tag.RowsAffected())

	tag, err = p.pool.Exec(ctx, sqlSweeperRetention)
	if err != nil {
		return res, fmt.Errorf("sweep retention: %w", err)
	}
	res.Expired = int(tag.RowsAffected())

	return res, nil
}

func (p *PostgresStore) StartMoveTask(ctx context.Context, source, destination string) (queue.MoveTask, error) {
	if source == destination {
		return queue.MoveTask{}, fmt.Errorf("%w: source and destination are the same queue", queue.ErrInvalidMoveTask)
	}
	if _, err := p.GetQueue(ctx, source); err != nil {
		return queue.MoveTask{}, err
	}
	if _, err := p.GetQueue(ctx, destination); err != nil {
		return queue.MoveTask{}, err
	}

	var isDLQ bool
	if err := p.pool.QueryRow(ctx, sqlIsDeadLetterQueue, source).Scan(&isDLQ); err != nil {
		return queue.MoveTask{}, err
	}
	if !isDLQ {
		return queue.MoveTask{}, fmt.Errorf("%w: %s is not a dead letter queue", queue.ErrInvalidMoveTask, source)
	}

	task := queue.MoveTask{
		ID:          uuid.NewString(),
		Source:      source,
		Destination: destination,
		Status:      queue.MoveTaskRunning,
	}
	err := p.pool.QueryRow(ctx, sqlStartMoveTask, task.ID, source, destination).Scan(&task.StartedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return queue.MoveTask{}, fmt.Errorf("%w: %s", queue.ErrMoveTaskConflict, source)
	}
	if err != nil {
		return queue.MoveTask{}, err
	}
	return task, nil
}

func (p *PostgresStore) RunMoveTasks(ctx context.Context) (int, error) {
	tasks, err := p.queryMoveTasks(ctx, sqlRunningMoveTasks)
	if err != nil {
		return 0, fmt.Errorf("load running move tasks: %w", err)
	}

	var moved int
	for _, t := range tasks {
		n, err := p.runMoveTask(ctx, t)
		if err != nil {
			if _, ferr := p.pool.Exec(ctx, sqlFailMoveTask, t.ID, err.Error()); ferr != nil {
				return moved, errors.Join(err, ferr)
			}
			continue
		}
		moved += n
	}
	return moved, nil
}

func (p *PostgresStore) runMoveTask(ctx context.Context, t queue.MoveTask) (int, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, sqlMoveMessages, t.Source, t.Destination, t.StartedAt)
	if err != nil {
		return 0, fmt.Errorf("move messages: %w", err)
	}
	n := int(tag.RowsAffected())

	if _, err := tx.Exec(ctx, sqlCompleteMoveTask, t.ID, n); err != nil {
		return 0, fmt.Errorf("complete move task: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return n, nil
}

func (p *PostgresStore) ListMoveTasks(ctx context.Context, source string) ([]queue.MoveTask, error) {
	return p.queryMoveTasks(ctx, sqlListMoveTasks, source)
}

func (p *PostgresStore) queryMoveTasks(ctx context.Context, sql string, args ...any) ([]queue.MoveTask, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (queue.MoveTask, error) {
		var t queue.MoveTask
		err := row.Scan(
			&t.ID,
			&t.Source,
			&t.Destination,
			&t.Status,
			&t.StartedAt,
			&t.FinishedAt,
			&t.MovedCount,
			&t.FailureReason,
		)
		return t, err
	})
}

func (p *PostgresStore) Stats(ctx context.Context, name string) (queue.Stats, error) {
	if _, err := p.GetQueue(ctx, name); err != nil {
		return queue.Stats{}, err
	}
	st := queue.Stats{Queue: name}
	err := p.pool.QueryRow(ctx, sqlStats, name).Scan(&st.Visible, &st.InFlight, &st.Delayed)
	return st, err
}
