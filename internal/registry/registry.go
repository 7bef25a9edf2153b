// Package registry holds the static job type table: every job type's queue
// class, priority, attempt budget, backoff policy, and handler function.
// Registration happens once at startup, before the scheduler initializes, so
// lookups at dispatch time need no locking.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/omriozer/ludora-scheduler/internal/core"
)

// Result statuses returned by handlers.
const (
	StatusCompleted = "completed"
	// StatusContinued means a polling handler scheduled a follow-up check.
	StatusContinued = "continued"
	// StatusExhausted means a polling chain ran out of attempts before its
	// condition held. A deliberate terminal outcome, not an error.
	StatusExhausted = "exhausted"
)

// Result is what a handler reports on success. Status distinguishes normal
// completion from polling-chain continuation and exhaustion; Data is an
// optional opaque result payload.
type Result struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Completed returns a plain success result.
func Completed(data json.RawMessage) Result {
	return Result{Status: StatusCompleted, Data: data}
}

// HandlerFunc executes one job. Returning an error drives store-level
// retry/backoff; a nil error acknowledges the job with the given result.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (Result, error)

// JobTypeDefinition describes one job type. Immutable after registration.
type JobTypeDefinition struct {
	Name        string
	Queue       core.QueueClass
	Priority    int
	MaxAttempts int
	Backoff     core.BackoffPolicy
}

// Registry maps job type names to definitions and handlers.
type Registry struct {
	defs     map[string]JobTypeDefinition
	handlers map[string]HandlerFunc
	sealed   bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		defs:     make(map[string]JobTypeDefinition),
		handlers: make(map[string]HandlerFunc),
	}
}

// Register adds a job type definition. It panics on duplicate names, invalid
// queue classes, or registration after the registry was sealed — all
// programmer errors that must surface at startup, not at dispatch time.
func (r *Registry) Register(def JobTypeDefinition) {
	if r.sealed {
		panic(fmt.Sprintf("registry: Register(%q) after scheduler initialization", def.Name))
	}
	if def.Name == "" {
		panic("registry: job type name must not be empty")
	}
	if !def.Queue.Valid() {
		panic(fmt.Sprintf("registry: job type %q has invalid queue class %q", def.Name, def.Queue))
	}
	if _, dup := r.defs[def.Name]; dup {
		panic(fmt.Sprintf("registry: job type %q registered twice", def.Name))
	}
	if def.MaxAttempts <= 0 {
		def.MaxAttempts = 1
	}
	if def.Backoff.Kind == "" {
		def.Backoff = core.DefaultBackoff
	}
	r.defs[def.Name] = def
}

// RegisterHandler binds the handler function for a job type.
func (r *Registry) RegisterHandler(name string, fn HandlerFunc) {
	if r.sealed {
		panic(fmt.Sprintf("registry: RegisterHandler(%q) after scheduler initialization", name))
	}
	if fn == nil {
		panic(fmt.Sprintf("registry: nil handler for job type %q", name))
	}
	if _, dup := r.handlers[name]; dup {
		panic(fmt.Sprintf("registry: handler for %q registered twice", name))
	}
	r.handlers[name] = fn
}

// Resolve returns the definition for a job type name.
func (r *Registry) Resolve(name string) (JobTypeDefinition, error) {
	def, ok := r.defs[name]
	if !ok {
		return JobTypeDefinition{}, core.NewUnknownJobTypeError(name)
	}
	return def, nil
}

// Handler returns the handler for a job type name.
func (r *Registry) Handler(name string) (HandlerFunc, error) {
	fn, ok := r.handlers[name]
	if !ok {
		return nil, core.NewUnknownJobTypeError(name)
	}
	return fn, nil
}

// Names returns all registered job type names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that every definition has a handler and every handler a
// definition, then seals the registry against further mutation. The scheduler
// calls this during initialization.
func (r *Registry) Validate() error {
	for name := range r.defs {
		if _, ok := r.handlers[name]; !ok {
			return fmt.Errorf("job type %q has no registered handler", name)
		}
	}
	for name := range r.handlers {
		if _, ok := r.defs[name]; !ok {
			return fmt.Errorf("handler %q has no job type definition", name)
		}
	}
	r.sealed = true
	return nil
}
