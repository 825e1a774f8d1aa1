package jobstore

import (
	"context"

	"genproxy/internal/domain"
)

// Store is the durable keyed storage for job records. Records expire after
// the store's retention window; expiry is a store concern, the lifecycle
// engine never deletes jobs itself.
//
// Update applies the mutation to the latest stored record, never to a
// stale in-memory snapshot. The engine is the sole writer for any given
// job, so last-writer-wins is the accepted consistency model.
type Store interface {
	// Get returns the job or domain.ErrNotFound for unknown/expired ids.
	Get(ctx context.Context, id string) (*domain.Job, error)
	// Set persists the full record with the store's retention TTL.
	Set(ctx context.Context, job *domain.Job) error
	// Update re-reads the record, applies mutate and persists the result.
	// Returns domain.ErrNotFound when the record is absent.
	Update(ctx context.Context, id string, mutate func(*domain.Job)) (*domain.Job, error)
}
