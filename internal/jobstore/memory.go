package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"genproxy/internal/domain"
)

// MemoryStore keeps job records in process memory. It is intended for
// development and tests where Redis or Postgres is not available.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	records map[string]memoryRecord
}

type memoryRecord struct {
	payload   []byte
	expiresAt time.Time
}

// NewMemoryStore creates a MemoryStore with the given retention window.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		records: make(map[string]memoryRecord),
	}
}

// WithClock overrides the time source; used by tests to exercise expiry.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || s.now().After(rec.expiresAt) {
		delete(s.records, id)
		return nil, domain.ErrNotFound
	}
	var job domain.Job
	if err := json.Unmarshal(rec.payload, &job); err != nil {
		return nil, fmt.Errorf("jobstore: decode %s: %w", id, err)
	}
	return &job, nil
}

func (s *MemoryStore) Set(ctx context.Context, job *domain.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if job == nil || job.ID == "" {
		return fmt.Errorf("jobstore: job id is required")
	}
	job.UpdatedAt = s.now().UTC()
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("jobstore: encode %s: %w", job.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[job.ID] = memoryRecord{payload: payload, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, mutate func(*domain.Job)) (*domain.Job, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	mutate(job)
	if err := s.Set(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

var _ Store = (*MemoryStore)(nil)
