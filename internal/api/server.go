package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lbedner/sector-7g/internal/config"
	"github.com/lbedner/sector-7g/internal/dispatch"
	"github.com/lbedner/sector-7g/internal/domain"
	"github.com/lbedner/sector-7g/internal/registry"
	"github.com/lbedner/sector-7g/internal/store"
)

type Server struct {
	store      *store.Store
	dispatcher *dispatch.Dispatcher
	reg        *registry.Registry
	cfg        *config.Config
}

func NewServer(st *store.Store, d *dispatch.Dispatcher, reg *registry.Registry, cfg *config.Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	s := &Server{store: st, dispatcher: d, reg: reg, cfg: cfg}

	r.Get("/health", s.health)
	r.Get("/metrics", s.metrics)
	r.Get("/api/tasks", s.listTasks)
	r.Post("/api/tasks/enqueue", s.enqueueTask)
	r.Get("/api/tasks/recent", s.recentTasks)
	r.Get("/api/tasks/status/{id}", s.taskStatus)
	r.Get("/api/tasks/result/{id}", s.taskResult)
	r.Get("/api/triggers", s.listTriggers)

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "sector7g_up 1\n")
	for _, name := range s.cfg.QueueNames() {
		depth, err := s.store.QueueDepth(r.Context(), name)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "sector7g_queue_depth{queue=%q} %d\n", name, depth)
	}
}

type enqueueReq struct {
	TaskName     string            `json:"task_name"`
	QueueName    string            `json:"queue_name"`
	Args         []json.RawMessage `json:"args"`
	Kwargs       map[string]json.RawMessage `json:"kwargs"`
	DelaySeconds int               `json:"delay_seconds"`
}

type enqueueResp struct {
	TaskID         string     `json:"task_id"`
	TaskName       string     `json:"task_name"`
	QueueName      string     `json:"queue_name"`
	QueuedAt       time.Time  `json:"queued_at"`
	EstimatedStart *time.Time `json:"estimated_start,omitempty"`
	Message        string     `json:"message"`
}

func (s *Server) enqueueTask(w http.ResponseWriter, r *http.Request) {
	var req enqueueReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}
	if req.TaskName == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "task_name is required", nil)
		return
	}
	if req.DelaySeconds < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "delay_seconds must be non-negative", nil)
		return
	}

	var args json.RawMessage
	if len(req.Args) > 0 || len(req.Kwargs) > 0 {
		encoded, err := json.Marshal(map[string]any{"args": req.Args, "kwargs": req.Kwargs})
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
			return
		}
		args = encoded
	}

	task, err := s.dispatcher.Enqueue(r.Context(), req.TaskName, args, req.QueueName,
		time.Duration(req.DelaySeconds)*time.Second)
	switch {
	case errors.Is(err, domain.ErrTaskNotFound):
		writeError(w, http.StatusBadRequest, "invalid_task_name",
			fmt.Sprintf("Task %q not found", req.TaskName),
			map[string]any{"available_tasks": s.reg.Names()})
		return
	case errors.Is(err, domain.ErrInvalidQueue):
		writeError(w, http.StatusBadRequest, "invalid_queue",
			fmt.Sprintf("Queue must be one of: %v", s.cfg.QueueNames()), nil)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "enqueue_failed",
			fmt.Sprintf("Failed to enqueue task: %v", err), nil)
		return
	}

	resp := enqueueResp{
		TaskID:    task.ID,
		TaskName:  task.Name,
		QueueName: task.Queue,
		QueuedAt:  task.EnqueueTime,
		Message:   fmt.Sprintf("Task %q enqueued to %s queue", task.Name, task.Queue),
	}
	if task.DeferUntil != nil {
		resp.EstimatedStart = task.DeferUntil
	}
	writeJSON(w, http.StatusOK, resp)
}

type statusResp struct {
	TaskID          string     `json:"task_id"`
	Status          string     `json:"status"`
	ResultAvailable bool       `json:"result_available"`
	Error           string     `json:"error,omitempty"`
	EnqueueTime     *time.Time `json:"enqueue_time,omitempty"`
	StartTime       *time.Time `json:"start_time,omitempty"`
	FinishTime      *time.Time `json:"finish_time,omitempty"`
}

func (s *Server) taskStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, err := s.store.GetTask(r.Context(), id, time.Now())
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task_not_found",
			fmt.Sprintf("Task %s not found", id), nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "status_check_failed", err.Error(), nil)
		return
	}

	enq := task.EnqueueTime
	resp := statusResp{
		TaskID:          task.ID,
		Status:          string(task.Status),
		ResultAvailable: task.Status == domain.StatusComplete && len(task.Result) > 0,
		EnqueueTime:     &enq,
		StartTime:       task.StartTime,
		FinishTime:      task.FinishTime,
	}
	if task.Status == domain.StatusFailed {
		resp.Error = task.Error
	}
	writeJSON(w, http.StatusOK, resp)
}

type resultResp struct {
	TaskID string          `json:"task_id"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result"`
}

func (s *Server) taskResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, err := s.store.GetTask(r.Context(), id, time.Now())
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task_not_found",
			fmt.Sprintf("Task %s not found", id), nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "result_fetch_failed", err.Error(), nil)
		return
	}
	if !task.Status.Terminal() {
		writeError(w, http.StatusBadRequest, "task_not_completed",
			fmt.Sprintf("Task %s has not completed yet", id),
			map[string]any{"current_status": string(task.Status)})
		return
	}

	if task.Status == domain.StatusFailed {
		result, _ := json.Marshal(map[string]any{
			"error_message": task.Error,
			"task_failed":   true,
		})
		writeJSON(w, http.StatusOK, resultResp{TaskID: task.ID, Status: string(task.Status), Result: result})
		return
	}

	// A COMPLETE task's result is always retrievable in some form: a stored
	// payload that is not valid JSON degrades to a lossy string summary
	// instead of failing the lookup.
	result := task.Result
	if len(result) == 0 {
		result = json.RawMessage("null")
	} else if !json.Valid(result) {
		result, _ = json.Marshal(map[string]any{
			"result_str": string(task.Result),
			"note":       "Result was not valid JSON, converted to string",
		})
	}
	writeJSON(w, http.StatusOK, resultResp{TaskID: task.ID, Status: string(task.Status), Result: result})
}

type taskListResp struct {
	AvailableTasks []string            `json:"available_tasks"`
	TotalCount     int                 `json:"total_count"`
	Queues         map[string][]string `json:"queues"`
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	names := s.reg.Names()
	queues := map[string][]string{}
	for _, q := range s.cfg.QueueNames() {
		queues[q] = []string{}
	}
	for q, tasks := range s.reg.TasksByQueue() {
		queues[q] = tasks
	}
	writeJSON(w, http.StatusOK, taskListResp{
		AvailableTasks: names,
		TotalCount:     len(names),
		Queues:         queues,
	})
}

func (s *Server) recentTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.ListRecent(r.Context(), 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "fetch_failed", err.Error(), nil)
		return
	}
	out := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, map[string]any{
			"task_id":      t.ID,
			"task_name":    t.Name,
			"queue_name":   t.Queue,
			"status":       string(t.Status),
			"attempts":     t.Attempts,
			"max_attempts": t.MaxAttempts,
			"enqueue_time": t.EnqueueTime.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": out, "total_count": len(out)})
}

func (s *Server) listTriggers(w http.ResponseWriter, r *http.Request) {
	triggers, err := s.store.ListTriggers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "fetch_failed", err.Error(), nil)
		return
	}
	out := make([]map[string]any, 0, len(triggers))
	for _, t := range triggers {
		entry := map[string]any{
			"id":        t.ID,
			"name":      t.Name,
			"kind":      string(t.Kind),
			"task":      t.Task,
			"coalesce":  t.Coalesce,
			"next_fire": t.NextFire.Format(time.RFC3339),
		}
		switch t.Kind {
		case domain.TriggerCron:
			entry["hour"] = t.Hour
			entry["minute"] = t.Minute
		case domain.TriggerInterval:
			entry["every_seconds"] = t.EverySeconds
		}
		if t.LastFire != nil {
			entry["last_fire"] = t.LastFire.Format(time.RFC3339)
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{"triggers": out, "total_count": len(out)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, errCode, message string, extra map[string]any) {
	body := map[string]any{"error": errCode, "message": message}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, code, body)
}
