package producer

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lbedner/sector-7g/internal/config"
	"github.com/lbedner/sector-7g/internal/dispatch"
	"github.com/lbedner/sector-7g/internal/registry"
	"github.com/lbedner/sector-7g/internal/store"
)

func newTestProducer(t *testing.T) (*Producer, *dispatch.Dispatcher) {
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

	reg := registry.New("homer")
	reg.Register("homer_sim_task", registry.HandlerFunc(
		func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) { return nil, nil },
	), "homer")
	reg.Freeze()

	cfg := &config.Config{
		DefaultQueue: "homer",
		Queues: []config.QueueConfig{{
			Name: "homer", Concurrency: 3, TaskTimeout: 600 * time.Second,
			MaxRetries: 1, ResultTTL: time.Hour, HealthCheckInterval: time.Minute,
		}},
	}
	d := dispatch.NewDispatcher(store.New(db), reg, cfg)
	return New(d), d
}

func TestGenerateBatchWithinRange(t *testing.T) {
	p, d := newTestProducer(t)
	ctx := context.Background()

	n, err := p.GenerateBatch(ctx, "homer", "homer_sim_task", 3, 5, 500)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if n < 3 || n > 5 {
		t.Fatalf("batch size = %d, want within [3,5]", n)
	}
	depth, err := d.QueueDepth(ctx, "homer")
	if err != nil {
		t.Fatal(err)
	}
	if depth != n {
		t.Fatalf("queue depth = %d, want %d produced tasks", depth, n)
	}
}

func TestGenerateBatchSkipsWhenDepthExceedsCap(t *testing.T) {
	p, d := newTestProducer(t)
	ctx := context.Background()

	// First batch runs against an empty queue and pushes the depth past the
	// cap; the second reads the live depth and produces nothing.
	n, err := p.GenerateBatch(ctx, "homer", "homer_sim_task", 6, 6, 5)
	if err != nil {
		t.Fatal(err)
	}
	if n != 6 {
		t.Fatalf("first batch = %d, want 6", n)
	}

	n, err = p.GenerateBatch(ctx, "homer", "homer_sim_task", 6, 6, 5)
	if err != nil {
		t.Fatalf("gated batch returned error: %v", err)
	}
	if n != 0 {
		t.Fatalf("gated batch = %d, want 0", n)
	}
	depth, _ := d.QueueDepth(ctx, "homer")
	if depth != 6 {
		t.Fatalf("depth = %d, want unchanged 6", depth)
	}
}

func TestGenerateBatchDepthAtCapStillProduces(t *testing.T) {
	p, _ := newTestProducer(t)
	ctx := context.Background()

	// The gate trips strictly above the cap, not at it.
	if _, err := p.GenerateBatch(ctx, "homer", "homer_sim_task", 5, 5, 5); err != nil {
		t.Fatal(err)
	}
	n, err := p.GenerateBatch(ctx, "homer", "homer_sim_task", 2, 2, 5)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("batch at cap = %d, want 2", n)
	}
}

func TestGenerateBatchUnknownQueue(t *testing.T) {
	p, _ := newTestProducer(t)
	if _, err := p.GenerateBatch(context.Background(), "ghost", "homer_sim_task", 1, 1, 10); err == nil {
		t.Fatal("unknown queue accepted")
	}
}

func TestGenerateBatchUnknownTask(t *testing.T) {
	p, _ := newTestProducer(t)
	if _, err := p.GenerateBatch(context.Background(), "homer", "no_such_task", 1, 1, 10); err == nil {
		t.Fatal("unknown task accepted")
	}
}
