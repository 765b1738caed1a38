package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lbedner/sector-7g/internal/config"
	"github.com/lbedner/sector-7g/internal/domain"
	"github.com/lbedner/sector-7g/internal/registry"
	"github.com/lbedner/sector-7g/internal/store"
)

// Pool executes one queue's backlog with a hard concurrency ceiling: exactly
// cfg.Concurrency workers pull from the store, so at most that many tasks
// from the queue run at once regardless of backlog size. Queues never share
// workers.
type Pool struct {
	store *store.Store
	reg   *registry.Registry
	cfg   config.QueueConfig
	poll  time.Duration
}

func NewPool(st *store.Store, reg *registry.Registry, cfg config.QueueConfig, poll time.Duration) *Pool {
	return &Pool{store: st, reg: reg, cfg: cfg, poll: poll}
}

// Run blocks until ctx is canceled.
func (p *Pool) Run(ctx context.Context) {
	log.Info().Str("queue", p.cfg.Name).Int("workers", p.cfg.Concurrency).Msg("worker pool starting")

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.heartbeat(ctx)
	}()

	wg.Wait()
}

func (p *Pool) worker(ctx context.Context) {
	t := time.NewTicker(p.poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			// Drain everything ready before sleeping again.
			for {
				task, err := p.store.LeaseNext(ctx, p.cfg.Name, now)
				if err == store.ErrEmpty {
					break
				}
				if err != nil {
					if ctx.Err() == nil {
						log.Error().Err(err).Str("queue", p.cfg.Name).Msg("lease failed")
					}
					break
				}
				p.execute(ctx, task)
				now = time.Now()
			}
		}
	}
}

// outcome is the tagged result of one attempt: success-with-value or
// failure-with-error. Panics inside a handler become failures here so the
// pool's bookkeeping never sees an exception-style control flow.
type outcome struct {
	result json.RawMessage
	err    error
}

func (p *Pool) execute(ctx context.Context, task domain.Task) {
	h, err := p.reg.Resolve(task.Name)
	if err != nil {
		p.finish(ctx, task, outcome{err: err})
		return
	}

	attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.TaskTimeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("task panicked: %v", r)}
			}
		}()
		result, err := h.Handle(attemptCtx, task.Args)
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		p.finish(ctx, task, o)
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			// Process shutdown, not a task timeout: leave the record RUNNING
			// for startup recovery.
			return
		}
		// Cancellation is best-effort; the record is marked regardless so
		// status lookups are never left hanging.
		p.finish(ctx, task, outcome{err: fmt.Errorf("task timed out after %s", p.cfg.TaskTimeout)})
	}
}

func (p *Pool) finish(ctx context.Context, task domain.Task, o outcome) {
	expiresAt := time.Now().UTC().Add(p.cfg.ResultTTL)

	if o.err == nil {
		if err := p.store.Complete(ctx, task.ID, o.result, expiresAt); err != nil {
			log.Error().Err(err).Str("task_id", task.ID).Msg("record complete failed")
		}
		log.Info().Str("task_id", task.ID).Str("task", task.Name).Str("queue", p.cfg.Name).
			Int("attempt", task.Attempts).Msg("task complete")
		return
	}

	if task.Attempts < task.MaxAttempts {
		delay := backoffExp(task.Attempts)
		if err := p.store.RetryTask(ctx, task.ID, o.err.Error(), delay); err != nil {
			log.Error().Err(err).Str("task_id", task.ID).Msg("record retry failed")
		}
		log.Warn().Str("task_id", task.ID).Str("task", task.Name).Str("queue", p.cfg.Name).
			Int("attempt", task.Attempts).Dur("retry_in", delay).Err(o.err).Msg("task failed, will retry")
		return
	}

	if err := p.store.Fail(ctx, task.ID, o.err.Error(), expiresAt); err != nil {
		log.Error().Err(err).Str("task_id", task.ID).Msg("record fail failed")
	}
	log.Warn().Str("task_id", task.ID).Str("task", task.Name).Str("queue", p.cfg.Name).
		Int("attempt", task.Attempts).Err(o.err).Msg("task failed")
}

func (p *Pool) heartbeat(ctx context.Context) {
	t := time.NewTicker(p.cfg.HealthCheckInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			depth, err := p.store.QueueDepth(ctx, p.cfg.Name)
			if err != nil {
				continue
			}
			log.Info().Str("queue", p.cfg.Name).Int("depth", depth).
				Int("workers", p.cfg.Concurrency).Msg("queue heartbeat")
		}
	}
}

func backoffExp(attempts int) time.Duration {
	if attempts <= 0 {
		return time.Second
	}
	d := 1 << (attempts - 1) // 1,2,4,8...
	if d > 60 {
		d = 60
	}
	return time.Duration(d) * time.Second
}

// Reaper deletes execution records whose result TTL has elapsed, so expired
// ids become indistinguishable from ids that never existed.
type Reaper struct {
	store *store.Store
	every time.Duration
}

func NewReaper(st *store.Store, every time.Duration) *Reaper {
	return &Reaper{store: st, every: every}
}

func (r *Reaper) Run(ctx context.Context) {
	t := time.NewTicker(r.every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := r.store.DeleteExpired(ctx, now)
			if err != nil {
				if ctx.Err() == nil {
					log.Error().Err(err).Msg("expired sweep failed")
				}
				continue
			}
			if n > 0 {
				log.Debug().Int("deleted", n).Msg("expired task records swept")
			}
		}
	}
}
