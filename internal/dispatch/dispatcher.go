// Package dispatch routes named tasks to per-queue worker pools.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lbedner/sector-7g/internal/config"
	"github.com/lbedner/sector-7g/internal/domain"
	"github.com/lbedner/sector-7g/internal/registry"
	"github.com/lbedner/sector-7g/internal/store"
)

// enqueueAttempts bounds retries of the durable write on transient store
// errors before the caller sees ErrEnqueueFailed.
const enqueueAttempts = 3

type Dispatcher struct {
	store *store.Store
	reg   *registry.Registry
	cfg   *config.Config
}

func NewDispatcher(st *store.Store, reg *registry.Registry, cfg *config.Config) *Dispatcher {
	return &Dispatcher{store: st, reg: reg, cfg: cfg}
}

// Enqueue validates the request, writes the QUEUED record (the commit point)
// and returns it. Execution happens asynchronously in the owning queue's
// pool; the caller polls the store by task id.
//
// An empty queue name is inferred from the task's registration. deferBy > 0
// delays the earliest possible start, not the durable write.
func (d *Dispatcher) Enqueue(ctx context.Context, name string, args json.RawMessage, queue string, deferBy time.Duration) (domain.Task, error) {
	if _, err := d.reg.Resolve(name); err != nil {
		return domain.Task{}, err
	}
	if queue == "" {
		queue = d.reg.QueueFor(name)
	}
	qc, ok := d.cfg.Queue(queue)
	if !ok {
		return domain.Task{}, fmt.Errorf("%w: %q", domain.ErrInvalidQueue, queue)
	}

	now := time.Now().UTC()
	t := domain.Task{
		Name:        name,
		Queue:       queue,
		Args:        args,
		MaxAttempts: qc.MaxRetries,
		Status:      domain.StatusQueued,
		EnqueueTime: now,
	}
	if deferBy > 0 {
		du := now.Add(deferBy)
		t.DeferUntil = &du
	}

	var lastErr error
	for attempt := 1; attempt <= enqueueAttempts; attempt++ {
		id, err := d.store.CreateTask(ctx, t)
		if err == nil {
			t.ID = id
			log.Debug().Str("task_id", id).Str("task", name).Str("queue", queue).Msg("task enqueued")
			return t, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		time.Sleep(time.Duration(attempt) * 50 * time.Millisecond)
	}
	return domain.Task{}, fmt.Errorf("%w: %v", domain.ErrEnqueueFailed, lastErr)
}

// QueueDepth exposes the live not-yet-started count for one queue.
func (d *Dispatcher) QueueDepth(ctx context.Context, queue string) (int, error) {
	if _, ok := d.cfg.Queue(queue); !ok {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidQueue, queue)
	}
	return d.store.QueueDepth(ctx, queue)
}
