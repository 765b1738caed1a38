// Package registry maps task names to their handlers and owning queues.
//
// The mapping is assembled once at process start and frozen; after Freeze it
// is safe for concurrent reads without locking.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/lbedner/sector-7g/internal/domain"
)

// Handler executes one task. The returned value is the task's opaque result;
// a non-nil error is the task's failure payload. Panics that cross this
// boundary are converted to failures by the worker pool.
type Handler interface {
	Handle(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

func (f HandlerFunc) Handle(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	return f(ctx, args)
}

type entry struct {
	handler Handler
	queue   string
}

type Registry struct {
	defaultQueue string
	entries      map[string]entry
	frozen       bool
}

func New(defaultQueue string) *Registry {
	return &Registry{defaultQueue: defaultQueue, entries: map[string]entry{}}
}

// Register binds name to a handler and owning queue. An empty queue leaves
// the task on the default queue. Registration after Freeze or a duplicate
// name is a programming error.
func (r *Registry) Register(name string, h Handler, queue string) {
	if r.frozen {
		panic(fmt.Sprintf("registry: Register(%q) after Freeze", name))
	}
	if _, dup := r.entries[name]; dup {
		panic(fmt.Sprintf("registry: duplicate task %q", name))
	}
	r.entries[name] = entry{handler: h, queue: queue}
}

// Freeze marks the registry immutable.
func (r *Registry) Freeze() { r.frozen = true }

// Resolve returns the handler for name.
func (r *Registry) Resolve(name string) (Handler, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrTaskNotFound, name)
	}
	return e.handler, nil
}

// QueueFor returns the owning queue for a registered name, falling back to
// the default queue when the task was registered without one.
func (r *Registry) QueueFor(name string) string {
	e, ok := r.entries[name]
	if !ok || e.queue == "" {
		return r.defaultQueue
	}
	return e.queue
}

// Names returns all registered task names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TasksByQueue groups registered task names by their owning queue.
func (r *Registry) TasksByQueue() map[string][]string {
	byQueue := map[string][]string{}
	for _, name := range r.Names() {
		q := r.QueueFor(name)
		byQueue[q] = append(byQueue[q], name)
	}
	return byQueue
}
