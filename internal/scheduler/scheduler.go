// Package scheduler fires durable cron and interval triggers against
// wall-clock time. Trigger definitions live in code; the durable store is
// authoritative for anything already present there, so operator-made runtime
// adjustments survive redeploys unless a force overwrite is requested.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/lbedner/sector-7g/internal/domain"
	"github.com/lbedner/sector-7g/internal/store"
)

// FireFunc is the action a trigger performs. Firing is fire-and-forget from
// the scheduler's perspective: it enqueues work and never waits for task
// completion.
type FireFunc func(ctx context.Context) error

// Definition pairs a durable trigger with its code-defined fire action.
type Definition struct {
	Trigger domain.Trigger
	Fire    FireFunc
}

// maxSleep caps the timer-loop sleep so runtime edits to stored triggers are
// picked up within a bounded window.
const maxSleep = time.Minute

type Scheduler struct {
	store *store.Store
	loc   *time.Location
	defs  []Definition
	fires map[string]FireFunc
}

func New(st *store.Store, loc *time.Location, defs []Definition) *Scheduler {
	fires := make(map[string]FireFunc, len(defs))
	for _, d := range defs {
		fires[d.Trigger.ID] = d.Fire
	}
	return &Scheduler{store: st, loc: loc, defs: defs, fires: fires}
}

// Reconcile syncs code-defined triggers into the durable store. Missing
// triggers are inserted; existing ones are preserved as-is unless force is
// set. Idempotent under repeated calls. A store error here is fatal: the
// scheduler must not run against a store it cannot reconcile.
func (s *Scheduler) Reconcile(ctx context.Context, force bool) error {
	now := time.Now()
	for _, d := range s.defs {
		t := d.Trigger
		if err := validate(t); err != nil {
			return err
		}
		_, err := s.store.GetTrigger(ctx, t.ID)
		switch {
		case err == store.ErrNoTrigger:
			t.NextFire = s.nextFire(t, now)
			if err := s.store.InsertTrigger(ctx, t); err != nil {
				return fmt.Errorf("insert trigger %s: %w", t.ID, err)
			}
			log.Info().Str("trigger", t.ID).Time("next_fire", t.NextFire).Msg("adding new trigger")
		case err != nil:
			return fmt.Errorf("reconcile trigger %s: %w", t.ID, err)
		case force:
			t.NextFire = s.nextFire(t, now)
			if err := s.store.OverwriteTrigger(ctx, t); err != nil {
				return fmt.Errorf("overwrite trigger %s: %w", t.ID, err)
			}
			log.Info().Str("trigger", t.ID).Msg("force updating trigger from code configuration")
		default:
			log.Info().Str("trigger", t.ID).Msg("trigger exists in store, preserving")
		}
	}
	return nil
}

// Run drives the timer loop until ctx is canceled: fire everything due,
// persist the firing, sleep until the earliest next fire. Returns a non-nil
// error only when the durable store is unusable at startup.
func (s *Scheduler) Run(ctx context.Context) error {
	triggers, err := s.store.ListTriggers(ctx)
	if err != nil {
		return fmt.Errorf("scheduler startup: %w", err)
	}
	log.Info().Int("triggers", len(triggers)).Msg("scheduler started")
	for _, t := range triggers {
		log.Info().Str("trigger", t.ID).Str("kind", string(t.Kind)).
			Time("next_fire", t.NextFire).Msg("trigger scheduled")
	}

	for {
		now := time.Now()
		triggers, err := s.store.ListTriggers(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Msg("list triggers failed, retrying")
			triggers = nil
		}

		earliest := now.Add(maxSleep)
		fired := false
		for _, t := range triggers {
			if !t.NextFire.After(now) {
				s.fireOne(ctx, t, now)
				fired = true
				continue
			}
			if t.NextFire.Before(earliest) {
				earliest = t.NextFire
			}
		}
		if fired && ctx.Err() == nil {
			// Reload so the just-persisted next fires join the computation.
			continue
		}

		sleep := time.Until(earliest)
		if sleep < 50*time.Millisecond {
			sleep = 50 * time.Millisecond
		}
		if sleep > maxSleep {
			sleep = maxSleep
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("scheduler stopped")
			return nil
		case <-timer.C:
		}
	}
}

// fireOne fires a single due trigger and persists last/next fire. One bad
// trigger never stops the others: panics and errors are caught and logged.
//
// With coalesce set, firings missed while the process was down collapse into
// this single catch-up firing and the phase resets from now. Without it, the
// next fire advances by exactly one period, so each missed tick fires on a
// subsequent loop pass.
func (s *Scheduler) fireOne(ctx context.Context, t domain.Trigger, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("trigger", t.ID).Interface("panic", r).Msg("trigger handler panicked")
		}
	}()

	var next time.Time
	if t.Coalesce {
		next = s.nextFire(t, now)
	} else {
		next = s.nextFire(t, t.NextFire)
	}

	// Persist before invoking: the store write is what makes the firing
	// exactly-once-per-schedule across restarts.
	if err := s.store.UpdateTriggerFire(ctx, t.ID, now, next); err != nil {
		log.Error().Err(err).Str("trigger", t.ID).Msg("persist trigger firing failed")
		return
	}

	fire, ok := s.fires[t.ID]
	if !ok {
		log.Warn().Str("trigger", t.ID).Msg("stored trigger has no code-defined action, skipping")
		return
	}
	if err := fire(ctx); err != nil {
		log.Error().Err(err).Str("trigger", t.ID).Msg("trigger firing failed")
		return
	}
	log.Info().Str("trigger", t.ID).Str("task", t.Task).Time("next_fire", next).Msg("trigger fired")
}

// nextFire computes the first firing time strictly after the given instant.
func (s *Scheduler) nextFire(t domain.Trigger, after time.Time) time.Time {
	switch t.Kind {
	case domain.TriggerCron:
		sched, err := cron.ParseStandard(fmt.Sprintf("%d %d * * *", t.Minute, t.Hour))
		if err != nil {
			// validate() runs before any trigger reaches the store.
			panic(fmt.Sprintf("trigger %s: %v", t.ID, err))
		}
		return sched.Next(after.In(s.loc))
	default:
		return after.Add(time.Duration(t.EverySeconds) * time.Second)
	}
}

func validate(t domain.Trigger) error {
	if t.ID == "" {
		return fmt.Errorf("trigger with empty id")
	}
	switch t.Kind {
	case domain.TriggerCron:
		if _, err := cron.ParseStandard(fmt.Sprintf("%d %d * * *", t.Minute, t.Hour)); err != nil {
			return fmt.Errorf("trigger %s: invalid cron time %02d:%02d: %w", t.ID, t.Hour, t.Minute, err)
		}
	case domain.TriggerInterval:
		if t.EverySeconds < 1 {
			return fmt.Errorf("trigger %s: interval must be >= 1s", t.ID)
		}
	default:
		return fmt.Errorf("trigger %s: unknown kind %q", t.ID, t.Kind)
	}
	return nil
}
