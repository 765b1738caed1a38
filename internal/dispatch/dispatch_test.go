package dispatch

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lbedner/sector-7g/internal/config"
	"github.com/lbedner/sector-7g/internal/domain"
	"github.com/lbedner/sector-7g/internal/registry"
	"github.com/lbedner/sector-7g/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite", "file:"+path+"?cache=shared&mode=rwc")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	if err := store.EnsureSchema(db); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.New(db)
}

func testConfig() *config.Config {
	return &config.Config{
		DefaultQueue: "fast",
		Queues: []config.QueueConfig{
			{
				Name: "fast", Concurrency: 2, TaskTimeout: 5 * time.Second,
				MaxRetries: 3, ResultTTL: time.Hour, HealthCheckInterval: time.Minute,
			},
			{
				Name: "fragile", Concurrency: 1, TaskTimeout: 200 * time.Millisecond,
				MaxRetries: 1, ResultTTL: time.Hour, HealthCheckInterval: time.Minute,
			},
		},
	}
}

func handler(f func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)) registry.Handler {
	return registry.HandlerFunc(f)
}

func ok(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`{"ok":true}`), nil
}

// waitForStatus polls the store until the record reaches want or the deadline
// passes.
func waitForStatus(t *testing.T, st *store.Store, id string, want domain.Status, deadline time.Duration) domain.Task {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		task, err := st.GetTask(context.Background(), id, time.Now())
		if err == nil && task.Status == want {
			return task
		}
		time.Sleep(10 * time.Millisecond)
	}
	task, err := st.GetTask(context.Background(), id, time.Now())
	t.Fatalf("task %s never reached %q (last: %+v, err: %v)", id, want, task.Status, err)
	return domain.Task{}
}

func TestEnqueueValidation(t *testing.T) {
	st := newTestStore(t)
	reg := registry.New("fast")
	reg.Register("known_task", handler(ok), "fast")
	reg.Freeze()
	d := NewDispatcher(st, reg, testConfig())
	ctx := context.Background()

	if _, err := d.Enqueue(ctx, "unknown_task", nil, "", 0); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Fatalf("unknown task err = %v, want ErrTaskNotFound", err)
	}
	if _, err := d.Enqueue(ctx, "known_task", nil, "no_such_queue", 0); !errors.Is(err, domain.ErrInvalidQueue) {
		t.Fatalf("bad queue err = %v, want ErrInvalidQueue", err)
	}
}

func TestEnqueueInfersQueueFromRegistration(t *testing.T) {
	st := newTestStore(t)
	reg := registry.New("fast")
	reg.Register("fragile_task", handler(ok), "fragile")
	reg.Freeze()
	d := NewDispatcher(st, reg, testConfig())

	task, err := d.Enqueue(context.Background(), "fragile_task", nil, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if task.Queue != "fragile" {
		t.Fatalf("queue = %q, want fragile", task.Queue)
	}
	if task.MaxAttempts != 1 {
		t.Fatalf("max_attempts = %d, want queue profile's 1", task.MaxAttempts)
	}
	if task.ID == "" {
		t.Fatal("task has no id")
	}
}

func TestEnqueueDeferDelaysStart(t *testing.T) {
	st := newTestStore(t)
	reg := registry.New("fast")
	reg.Register("known_task", handler(ok), "fast")
	reg.Freeze()
	d := NewDispatcher(st, reg, testConfig())
	ctx := context.Background()

	task, err := d.Enqueue(ctx, "known_task", nil, "", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if task.DeferUntil == nil {
		t.Fatal("defer_until not set")
	}

	// Durable write happened immediately, but the task is not leaseable yet.
	if _, err := st.GetTask(ctx, task.ID, time.Now()); err != nil {
		t.Fatalf("deferred task not persisted: %v", err)
	}
	if _, err := st.LeaseNext(ctx, "fast", time.Now()); err != store.ErrEmpty {
		t.Fatalf("lease err = %v, want ErrEmpty", err)
	}
}

func TestPoolConcurrencyCeiling(t *testing.T) {
	st := newTestStore(t)
	cfg := testConfig()

	var running, maxRunning int64
	block := make(chan struct{})
	reg := registry.New("fast")
	reg.Register("blocking_task", handler(func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		cur := atomic.AddInt64(&running, 1)
		for {
			old := atomic.LoadInt64(&maxRunning)
			if cur <= old || atomic.CompareAndSwapInt64(&maxRunning, old, cur) {
				break
			}
		}
		<-block
		atomic.AddInt64(&running, -1)
		return nil, nil
	}), "fast")
	reg.Freeze()
	d := NewDispatcher(st, reg, cfg)

	var ids []string
	for i := 0; i < 6; i++ {
		task, err := d.Enqueue(context.Background(), "blocking_task", nil, "", 0)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, task.ID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	qc, _ := cfg.Queue("fast")
	go NewPool(st, reg, qc, 10*time.Millisecond).Run(ctx)

	// Give the workers time to saturate.
	time.Sleep(300 * time.Millisecond)
	if got := atomic.LoadInt64(&maxRunning); got != 2 {
		t.Fatalf("max concurrent executions = %d, want exactly the 2 configured workers", got)
	}

	close(block)
	for _, id := range ids {
		waitForStatus(t, st, id, domain.StatusComplete, 5*time.Second)
	}
}

func TestPoolRetriesThenSucceeds(t *testing.T) {
	st := newTestStore(t)
	cfg := testConfig()

	var calls int64
	reg := registry.New("fast")
	reg.Register("flaky_task", handler(func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		if atomic.AddInt64(&calls, 1) == 1 {
			return nil, fmt.Errorf("transient wobble")
		}
		return json.RawMessage(`{"recovered":true}`), nil
	}), "fast")
	reg.Freeze()
	d := NewDispatcher(st, reg, cfg)

	task, err := d.Enqueue(context.Background(), "flaky_task", nil, "", 0)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	qc, _ := cfg.Queue("fast")
	go NewPool(st, reg, qc, 10*time.Millisecond).Run(ctx)

	// First attempt fails, backoff is one second, second attempt succeeds.
	got := waitForStatus(t, st, task.ID, domain.StatusComplete, 5*time.Second)
	if got.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", got.Attempts)
	}
	if atomic.LoadInt64(&calls) != 2 {
		t.Fatalf("handler calls = %d, want 2", calls)
	}
}

func TestPoolFailsAfterMaxAttempts(t *testing.T) {
	st := newTestStore(t)
	cfg := testConfig()

	var calls int64
	reg := registry.New("fast")
	reg.Register("doomed_task", handler(func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		atomic.AddInt64(&calls, 1)
		return nil, fmt.Errorf("D'oh!")
	}), "fragile")
	reg.Freeze()
	d := NewDispatcher(st, reg, cfg)

	task, err := d.Enqueue(context.Background(), "doomed_task", nil, "", 0)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	qc, _ := cfg.Queue("fragile")
	go NewPool(st, reg, qc, 10*time.Millisecond).Run(ctx)

	got := waitForStatus(t, st, task.ID, domain.StatusFailed, 5*time.Second)
	if got.Attempts != 1 {
		t.Fatalf("attempts = %d, want exactly 1 on a no-retry queue", got.Attempts)
	}
	if atomic.LoadInt64(&calls) != 1 {
		t.Fatalf("handler calls = %d, want 1", calls)
	}
	if got.Error == "" {
		t.Fatal("failure reason not recorded")
	}
}

func TestPoolTimesOutStuckHandler(t *testing.T) {
	st := newTestStore(t)
	cfg := testConfig()

	reg := registry.New("fast")
	reg.Register("stuck_task", handler(func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		time.Sleep(2 * time.Second) // deliberately ignores ctx
		return nil, nil
	}), "fragile")
	reg.Freeze()
	d := NewDispatcher(st, reg, cfg)

	task, err := d.Enqueue(context.Background(), "stuck_task", nil, "", 0)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	qc, _ := cfg.Queue("fragile")
	go NewPool(st, reg, qc, 10*time.Millisecond).Run(ctx)

	got := waitForStatus(t, st, task.ID, domain.StatusFailed, 5*time.Second)
	if got.Error == "" || !strings.Contains(got.Error, "timed out") {
		t.Fatalf("error = %q, want a timeout message", got.Error)
	}
}

func TestPoolConvertsPanicToFailure(t *testing.T) {
	st := newTestStore(t)
	cfg := testConfig()

	reg := registry.New("fast")
	reg.Register("panicky_task", handler(func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		panic("reactor meltdown")
	}), "fragile")
	reg.Freeze()
	d := NewDispatcher(st, reg, cfg)

	task, err := d.Enqueue(context.Background(), "panicky_task", nil, "", 0)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	qc, _ := cfg.Queue("fragile")
	go NewPool(st, reg, qc, 10*time.Millisecond).Run(ctx)

	got := waitForStatus(t, st, task.ID, domain.StatusFailed, 5*time.Second)
	if !strings.Contains(got.Error, "panicked") {
		t.Fatalf("error = %q, want panic converted to failure", got.Error)
	}
}

func TestBackoffExp(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{10, 60 * time.Second},
	}
	for _, tt := range tests {
		if got := backoffExp(tt.attempts); got != tt.want {
			t.Errorf("backoffExp(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

