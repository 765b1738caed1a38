package domain

import (
	"encoding/json"
	"errors"
	"time"
)

// Status is the lifecycle state of a task execution record.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
	StatusUnknown  Status = "unknown"
)

// Terminal reports whether a record in this status will never change again.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Task is one enqueue-to-completion execution record.
type Task struct {
	ID          string
	Name        string
	Queue       string
	Args        json.RawMessage
	Attempts    int
	MaxAttempts int
	Status      Status
	Result      json.RawMessage
	Error       string
	EnqueueTime time.Time
	DeferUntil  *time.Time
	StartTime   *time.Time
	FinishTime  *time.Time
	ExpiresAt   *time.Time
}

// TriggerKind distinguishes wall-clock cron triggers from fixed-period ones.
type TriggerKind string

const (
	TriggerCron     TriggerKind = "cron"
	TriggerInterval TriggerKind = "interval"
)

// Trigger is a durably stored schedule definition bound to a task.
//
// For cron triggers Hour/Minute give the daily firing time in the scheduler's
// location; for interval triggers EverySeconds gives the period. A trigger
// never has two overlapping firings, and Coalesce collapses missed firings
// into a single catch-up firing on resume.
type Trigger struct {
	ID           string
	Name         string
	Kind         TriggerKind
	Hour         int
	Minute       int
	EverySeconds int
	Task         string
	Coalesce     bool
	LastFire     *time.Time
	NextFire     time.Time
}

// Client errors: deterministic, reported to the caller, never retried.
var (
	ErrTaskNotFound = errors.New("task name not registered")
	ErrInvalidQueue = errors.New("invalid queue")
)

// Infrastructure and lookup errors.
var (
	// ErrEnqueueFailed means the durable write could not be committed even
	// after bounded retries.
	ErrEnqueueFailed = errors.New("enqueue failed")

	// ErrNotFound covers both ids that never existed and records expired
	// past their result TTL; callers cannot distinguish the two.
	ErrNotFound = errors.New("task not found")

	// ErrNotCompleted means the record exists but has no terminal state yet.
	ErrNotCompleted = errors.New("task not completed")
)
