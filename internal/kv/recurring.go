package kv

import (
	"context"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/omriozer/ludora-scheduler/internal/core"
)

// RecurringStore keeps recurring job registrations, one KV entry per name.
type RecurringStore struct {
	store *Store
}

// NewRecurringStore wraps the recurring-registrations bucket.
func NewRecurringStore(kv jetstream.KeyValue) *RecurringStore {
	return &RecurringStore{store: NewStore(kv)}
}

// Register stores a registration, replacing any previous one with the same name.
func (r *RecurringStore) Register(ctx context.Context, rec *core.RecurringJob) error {
	_, err := r.store.PutJSON(ctx, rec.Name, rec)
	return err
}

// Get retrieves a registration by name.
func (r *RecurringStore) Get(ctx context.Context, name string) (*core.RecurringJob, error) {
	var rec core.RecurringJob
	_, err := r.store.GetJSON(ctx, name, &rec)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Delete removes a registration.
func (r *RecurringStore) Delete(ctx context.Context, name string) error {
	return r.store.Delete(ctx, name)
}

// List returns all registrations.
func (r *RecurringStore) List(ctx context.Context) ([]*core.RecurringJob, error) {
	keys, err := r.store.Keys(ctx)
	if err != nil {
		return nil, err
	}

	var recs []*core.RecurringJob
	for _, key := range keys {
		rec, err := r.Get(ctx, key)
		if err != nil {
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
