package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lbedner/sector-7g/internal/config"
	"github.com/lbedner/sector-7g/internal/dispatch"
	"github.com/lbedner/sector-7g/internal/domain"
	"github.com/lbedner/sector-7g/internal/registry"
	"github.com/lbedner/sector-7g/internal/store"
)

type testEnv struct {
	store  *store.Store
	server http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
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

	reg := registry.New("inanimate_rod")
	noop := registry.HandlerFunc(
		func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) { return nil, nil },
	)
	reg.Register("eat_donut_task", noop, "homer")
	reg.Register("system_health_check", noop, "")
	reg.Freeze()

	cfg := &config.Config{
		DefaultQueue: "inanimate_rod",
		Queues: []config.QueueConfig{
			{Name: "homer", Concurrency: 3, TaskTimeout: 600 * time.Second,
				MaxRetries: 1, ResultTTL: time.Hour, HealthCheckInterval: time.Minute},
			{Name: "inanimate_rod", Concurrency: 15, TaskTimeout: 300 * time.Second,
				MaxRetries: 3, ResultTTL: time.Hour, HealthCheckInterval: time.Minute},
		},
	}

	st := store.New(db)
	d := dispatch.NewDispatcher(st, reg, cfg)
	return &testEnv{store: st, server: NewServer(st, d, reg, cfg)}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &decoded)
	}
	return rec, decoded
}

// finish drives a record to a terminal state the way a worker would.
func (e *testEnv) finish(t *testing.T, id, queue string, result []byte, errMsg string) {
	t.Helper()
	ctx := context.Background()
	if _, err := e.store.LeaseNext(ctx, queue, time.Now()); err != nil {
		t.Fatalf("lease: %v", err)
	}
	expires := time.Now().Add(time.Hour)
	if errMsg != "" {
		if err := e.store.Fail(ctx, id, errMsg, expires); err != nil {
			t.Fatalf("fail: %v", err)
		}
		return
	}
	if err := e.store.Complete(ctx, id, result, expires); err != nil {
		t.Fatalf("complete: %v", err)
	}
}

func TestEnqueueEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, "POST", "/api/tasks/enqueue", map[string]any{
		"task_name": "eat_donut_task",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if body["queue_name"] != "homer" {
		t.Fatalf("queue_name = %v, want homer inferred from registration", body["queue_name"])
	}
	id, _ := body["task_id"].(string)
	if id == "" {
		t.Fatal("no task_id in response")
	}

	task, err := env.store.GetTask(context.Background(), id, time.Now())
	if err != nil {
		t.Fatalf("enqueued task not in store: %v", err)
	}
	if task.Status != domain.StatusQueued {
		t.Fatalf("status = %q, want queued", task.Status)
	}
}

func TestEnqueueWithDelay(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, "POST", "/api/tasks/enqueue", map[string]any{
		"task_name":     "eat_donut_task",
		"delay_seconds": 60,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if body["estimated_start"] == nil {
		t.Fatal("delayed enqueue has no estimated_start")
	}
}

func TestEnqueueErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		req      map[string]any
		wantCode int
		wantErr  string
	}{
		{
			"unknown task",
			map[string]any{"task_name": "steal_donut_task"},
			http.StatusBadRequest, "invalid_task_name",
		},
		{
			"unknown queue",
			map[string]any{"task_name": "eat_donut_task", "queue_name": "moe"},
			http.StatusBadRequest, "invalid_queue",
		},
		{
			"missing task name",
			map[string]any{},
			http.StatusBadRequest, "invalid_request",
		},
		{
			"negative delay",
			map[string]any{"task_name": "eat_donut_task", "delay_seconds": -5},
			http.StatusBadRequest, "invalid_request",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := env.do(t, "POST", "/api/tasks/enqueue", tt.req)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body: %s)", rec.Code, tt.wantCode, rec.Body)
			}
			if body["error"] != tt.wantErr {
				t.Fatalf("error = %v, want %q", body["error"], tt.wantErr)
			}
		})
	}
}

func TestEnqueueUnknownTaskListsAvailable(t *testing.T) {
	env := newTestEnv(t)

	_, body := env.do(t, "POST", "/api/tasks/enqueue", map[string]any{"task_name": "nope"})
	avail, ok := body["available_tasks"].([]any)
	if !ok || len(avail) != 2 {
		t.Fatalf("available_tasks = %v, want the 2 registered names", body["available_tasks"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)

	_, enq := env.do(t, "POST", "/api/tasks/enqueue", map[string]any{"task_name": "eat_donut_task"})
	id := enq["task_id"].(string)

	rec, body := env.do(t, "GET", "/api/tasks/status/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["status"] != "queued" {
		t.Fatalf("task status = %v, want queued", body["status"])
	}
	if body["result_available"] != false {
		t.Fatal("queued task reports result_available")
	}

	rec, body = env.do(t, "GET", "/api/tasks/status/tsk_missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing id status = %d, want 404", rec.Code)
	}
	if body["error"] != "task_not_found" {
		t.Fatalf("error = %v, want task_not_found", body["error"])
	}
}

func TestResultEndpoint(t *testing.T) {
	env := newTestEnv(t)

	_, enq := env.do(t, "POST", "/api/tasks/enqueue", map[string]any{"task_name": "eat_donut_task"})
	id := enq["task_id"].(string)

	// Not finished yet.
	rec, body := env.do(t, "GET", "/api/tasks/result/"+id, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unfinished task", rec.Code)
	}
	if body["error"] != "task_not_completed" {
		t.Fatalf("error = %v, want task_not_completed", body["error"])
	}
	if body["current_status"] != "queued" {
		t.Fatalf("current_status = %v, want queued", body["current_status"])
	}

	env.finish(t, id, "homer", []byte(`{"donuts_eaten":3}`), "")

	rec, body = env.do(t, "GET", "/api/tasks/result/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	result, ok := body["result"].(map[string]any)
	if !ok {
		t.Fatalf("result = %v, want JSON object", body["result"])
	}
	if result["donuts_eaten"] != float64(3) {
		t.Fatalf("donuts_eaten = %v, want 3", result["donuts_eaten"])
	}
}

func TestResultEndpointFailedTask(t *testing.T) {
	env := newTestEnv(t)

	_, enq := env.do(t, "POST", "/api/tasks/enqueue", map[string]any{"task_name": "eat_donut_task"})
	id := enq["task_id"].(string)
	env.finish(t, id, "homer", nil, "D'oh! donut box empty")

	rec, body := env.do(t, "GET", "/api/tasks/result/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["status"] != "failed" {
		t.Fatalf("status = %v, want failed", body["status"])
	}
	result := body["result"].(map[string]any)
	if result["task_failed"] != true {
		t.Fatal("failed result missing task_failed flag")
	}
	if result["error_message"] != "D'oh! donut box empty" {
		t.Fatalf("error_message = %v", result["error_message"])
	}
}

func TestResultEndpointNonJSONFallsBackToString(t *testing.T) {
	env := newTestEnv(t)

	_, enq := env.do(t, "POST", "/api/tasks/enqueue", map[string]any{"task_name": "eat_donut_task"})
	id := enq["task_id"].(string)
	env.finish(t, id, "homer", []byte("not json at all"), "")

	rec, body := env.do(t, "GET", "/api/tasks/result/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	result, ok := body["result"].(map[string]any)
	if !ok {
		t.Fatalf("result = %v, want fallback object", body["result"])
	}
	if result["result_str"] != "not json at all" {
		t.Fatalf("result_str = %v", result["result_str"])
	}
	if result["note"] == nil {
		t.Fatal("fallback result has no note")
	}
}

func TestListTasksEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, "GET", "/api/tasks", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["total_count"] != float64(2) {
		t.Fatalf("total_count = %v, want 2", body["total_count"])
	}
	queues, ok := body["queues"].(map[string]any)
	if !ok {
		t.Fatalf("queues = %v, want map", body["queues"])
	}
	homer, _ := queues["homer"].([]any)
	if len(homer) != 1 {
		t.Fatalf("homer queue lists %d tasks, want 1", len(homer))
	}
}

func TestTriggersEndpoint(t *testing.T) {
	env := newTestEnv(t)

	trig := domain.Trigger{
		ID: "morning_donut_run", Name: "Morning Donut Run", Kind: domain.TriggerCron,
		Hour: 8, Minute: 30, Task: "eat_donut_task", Coalesce: true,
		NextFire: time.Now().UTC().Add(time.Hour),
	}
	if err := env.store.InsertTrigger(context.Background(), trig); err != nil {
		t.Fatal(err)
	}

	rec, body := env.do(t, "GET", "/api/triggers", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["total_count"] != float64(1) {
		t.Fatalf("total_count = %v, want 1", body["total_count"])
	}
	triggers := body["triggers"].([]any)
	entry := triggers[0].(map[string]any)
	if entry["id"] != "morning_donut_run" || entry["hour"] != float64(8) {
		t.Fatalf("trigger entry = %v", entry)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec, _ := env.do(t, "GET", "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec, _ := env.do(t, "GET", "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("sector7g_queue_depth")) {
		t.Fatalf("metrics body missing queue depth gauge: %s", rec.Body)
	}
}
