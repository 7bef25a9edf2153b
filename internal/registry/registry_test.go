package registry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/omriozer/ludora-scheduler/internal/core"
)

func noopHandler(context.Context, json.RawMessage) (Result, error) {
	return Completed(nil), nil
}

func TestResolve(t *testing.T) {
	r := New()
	r.Register(JobTypeDefinition{
		Name:        "payments.reconcile",
		Queue:       core.QueueCritical,
		Priority:    90,
		MaxAttempts: 3,
		Backoff:     core.BackoffPolicy{Kind: core.BackoffFixed, BaseDelayMs: 2000},
	})

	def, err := r.Resolve("payments.reconcile")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if def.Queue != core.QueueCritical {
		t.Errorf("Queue = %q, want %q", def.Queue, core.QueueCritical)
	}
	if def.Priority != 90 {
		t.Errorf("Priority = %d, want 90", def.Priority)
	}
}

func TestResolve_Unknown(t *testing.T) {
	r := New()

	_, err := r.Resolve("files.cleanup")
	if err == nil {
		t.Fatal("Resolve of unregistered type should fail")
	}
	var schedErr *core.SchedError
	if !errors.As(err, &schedErr) {
		t.Fatalf("error type = %T, want *core.SchedError", err)
	}
	if schedErr.Code != core.ErrCodeUnknownJobType {
		t.Errorf("Code = %q, want %q", schedErr.Code, core.ErrCodeUnknownJobType)
	}
}

func TestRegister_Defaults(t *testing.T) {
	r := New()
	r.Register(JobTypeDefinition{Name: "db.vacuum", Queue: core.QueueLow})

	def, err := r.Resolve("db.vacuum")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if def.MaxAttempts != 1 {
		t.Errorf("MaxAttempts default = %d, want 1", def.MaxAttempts)
	}
	if def.Backoff.Kind != core.DefaultBackoff.Kind {
		t.Errorf("Backoff default kind = %q, want %q", def.Backoff.Kind, core.DefaultBackoff.Kind)
	}
}

func TestRegister_InvalidQueueClassPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Register with invalid queue class should panic")
		}
	}()
	New().Register(JobTypeDefinition{Name: "x", Queue: "urgent"})
}

func TestRegister_DuplicatePanics(t *testing.T) {
	r := New()
	r.Register(JobTypeDefinition{Name: "x", Queue: core.QueueLow})
	defer func() {
		if recover() == nil {
			t.Fatal("duplicate Register should panic")
		}
	}()
	r.Register(JobTypeDefinition{Name: "x", Queue: core.QueueLow})
}

func TestValidate_MissingHandler(t *testing.T) {
	r := New()
	r.Register(JobTypeDefinition{Name: "emails.send", Queue: core.QueueHigh})

	if err := r.Validate(); err == nil {
		t.Fatal("Validate should fail when a type has no handler")
	}
}

func TestValidate_OrphanHandler(t *testing.T) {
	r := New()
	r.RegisterHandler("ghost.job", noopHandler)

	if err := r.Validate(); err == nil {
		t.Fatal("Validate should fail when a handler has no definition")
	}
}

func TestValidate_SealsRegistry(t *testing.T) {
	r := New()
	r.Register(JobTypeDefinition{Name: "emails.send", Queue: core.QueueHigh})
	r.RegisterHandler("emails.send", noopHandler)

	if err := r.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("Register after Validate should panic")
		}
	}()
	r.Register(JobTypeDefinition{Name: "late.job", Queue: core.QueueLow})
}

func TestRegisteredTypesMapToFixedClasses(t *testing.T) {
	r := New()
	r.Register(JobTypeDefinition{Name: "payments.reconcile", Queue: core.QueueCritical})
	r.Register(JobTypeDefinition{Name: "emails.send", Queue: core.QueueHigh})
	r.Register(JobTypeDefinition{Name: "files.cleanup", Queue: core.QueueMedium})
	r.Register(JobTypeDefinition{Name: "db.vacuum", Queue: core.QueueLow})

	for _, name := range r.Names() {
		def, err := r.Resolve(name)
		if err != nil {
			t.Fatalf("Resolve(%q) error: %v", name, err)
		}
		if !def.Queue.Valid() {
			t.Errorf("type %q mapped to unmapped queue class %q", name, def.Queue)
		}
	}
}
