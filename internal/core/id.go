package core

import "github.com/google/uuid"

// NewJobID returns a UUIDv7 job ID. Version 7 IDs are time-ordered, so IDs
// assigned at enqueue time double as FIFO tie-breakers within a priority
// level.
func NewJobID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the entropy source does; fall back to v4.
		return uuid.NewString()
	}
	return id.String()
}
