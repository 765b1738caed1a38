package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lbedner/sector-7g/internal/domain"
)

// ErrEmpty means no task in the queue is ready to run right now.
var ErrEmpty = errors.New("no tasks ready")

// ErrNoTrigger means the trigger id has no durable record.
var ErrNoTrigger = errors.New("trigger not found")

// ErrNotRunning guards terminal-state writes: once a record is complete or
// failed it is never mutated again, only expired.
var ErrNotRunning = errors.New("task is not running")

// Store is the single durable source of truth: task execution records and
// trigger definitions. All components treat writes here as the commit point.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store { return &Store{db: db} }

// CreateTask writes a QUEUED execution record and returns its id.
func (s *Store) CreateTask(ctx context.Context, t domain.Task) (string, error) {
	id := t.ID
	if id == "" {
		id = "tsk_" + uuid.NewString()
	}
	if t.MaxAttempts == 0 {
		t.MaxAttempts = 1
	}
	var deferUntil any
	if t.DeferUntil != nil {
		deferUntil = t.DeferUntil.UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO tasks (id,name,queue,args,attempts,max_attempts,status,enqueue_time,defer_until)
VALUES (?,?,?,?,0,?,'queued',?,?)
`, id, t.Name, t.Queue, []byte(t.Args), t.MaxAttempts, t.EnqueueTime.UTC(), deferUntil)
	if err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	return id, nil
}

// LeaseNext claims the oldest ready task on one queue, marking it RUNNING and
// incrementing its attempt count. Returns ErrEmpty when nothing is ready.
func (s *Store) LeaseNext(ctx context.Context, queue string, now time.Time) (domain.Task, error) {
	now = now.UTC()
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
SELECT `+taskColumns+`
FROM tasks
WHERE queue=? AND status='queued' AND (defer_until IS NULL OR defer_until <= ?)
ORDER BY enqueue_time ASC
LIMIT 1
`, queue, now)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return domain.Task{}, ErrEmpty
	}
	if err != nil {
		return domain.Task{}, err
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE tasks SET status='running', attempts=attempts+1, start_time=? WHERE id=?
`, now, t.ID); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	t.Status = domain.StatusRunning
	t.Attempts++
	t.StartTime = &now
	return t, nil
}

// Complete records a normal return. The guard on status makes the terminal
// state write-once.
func (s *Store) Complete(ctx context.Context, id string, result json.RawMessage, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE tasks SET status='complete', result=?, error='', finish_time=?, expires_at=?
WHERE id=? AND status='running'
`, []byte(result), time.Now().UTC(), expiresAt.UTC(), id)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// Fail records a terminal failure.
func (s *Store) Fail(ctx context.Context, id, errMsg string, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE tasks SET status='failed', error=?, finish_time=?, expires_at=?
WHERE id=? AND status='running'
`, errMsg, time.Now().UTC(), expiresAt.UTC(), id)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// RetryTask puts a failed attempt back on the queue after delay. The attempt
// count set at lease time is preserved.
func (s *Store) RetryTask(ctx context.Context, id, errMsg string, delay time.Duration) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE tasks SET status='queued', error=?, defer_until=?, start_time=NULL
WHERE id=? AND status='running'
`, errMsg, time.Now().UTC().Add(delay), id)
	if err != nil {
		return err
	}
	return oneRow(res)
}

func oneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotRunning
	}
	return nil
}

// GetTask looks up a record by id. Records expired past their result TTL
// behave exactly like ids that never existed.
func (s *Store) GetTask(ctx context.Context, id string, now time.Time) (domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return domain.Task{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Task{}, err
	}
	if t.ExpiresAt != nil && !t.ExpiresAt.After(now.UTC()) {
		return domain.Task{}, domain.ErrNotFound
	}
	return t, nil
}

// QueueDepth counts not-yet-started records for one queue. Producers read
// this immediately before generating work; it is never cached.
func (s *Store) QueueDepth(ctx context.Context, queue string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE queue=? AND status='queued'`, queue).Scan(&n)
	return n, err
}

// DeleteExpired removes records whose result TTL has elapsed.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE expires_at IS NOT NULL AND expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// RecoverStale requeues tasks left RUNNING by a previous process. Called once
// at startup before any pool starts.
func (s *Store) RecoverStale(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status='queued', start_time=NULL WHERE status='running'`)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ListRecent returns the newest records first, for the inspection endpoint.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks ORDER BY enqueue_time DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

const taskColumns = `id,name,queue,args,attempts,max_attempts,status,result,error,enqueue_time,defer_until,start_time,finish_time,expires_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var (
		t          domain.Task
		args       []byte
		result     []byte
		status     string
		errMsg     sql.NullString
		deferUntil sql.NullTime
		startTime  sql.NullTime
		finishTime sql.NullTime
		expiresAt  sql.NullTime
	)
	err := row.Scan(&t.ID, &t.Name, &t.Queue, &args, &t.Attempts, &t.MaxAttempts,
		&status, &result, &errMsg, &t.EnqueueTime, &deferUntil, &startTime, &finishTime, &expiresAt)
	if err != nil {
		return domain.Task{}, err
	}
	t.Args = json.RawMessage(args)
	t.Result = json.RawMessage(result)
	t.Status = domain.Status(status)
	if errMsg.Valid {
		t.Error = errMsg.String
	}
	if deferUntil.Valid {
		v := deferUntil.Time
		t.DeferUntil = &v
	}
	if startTime.Valid {
		v := startTime.Time
		t.StartTime = &v
	}
	if finishTime.Valid {
		v := finishTime.Time
		t.FinishTime = &v
	}
	if expiresAt.Valid {
		v := expiresAt.Time
		t.ExpiresAt = &v
	}
	return t, nil
}
