package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"genproxy/internal/domain"
)

const jobKeyPrefix = "job:"

// RedisStore keeps job records in Redis with a native TTL.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore creates a RedisStore with the given retention window.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	data, err := s.rdb.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("jobstore: get %s: %w", id, err)
	}
	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("jobstore: decode %s: %w", id, err)
	}
	return &job, nil
}

func (s *RedisStore) Set(ctx context.Context, job *domain.Job) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("jobstore: job id is required")
	}
	job.UpdatedAt = time.Now().UTC()
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("jobstore: encode %s: %w", job.ID, err)
	}
	if err := s.rdb.Set(ctx, jobKey(job.ID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("jobstore: set %s: %w", job.ID, err)
	}
	return nil
}

// Update performs a read-modify-write against the stored record. The
// engine owns all writes for a job, so no optimistic locking is needed;
// the TTL is refreshed so active jobs do not expire mid-flight.
func (s *RedisStore) Update(ctx context.Context, id string, mutate func(*domain.Job)) (*domain.Job, error) {
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

func jobKey(id string) string {
	return jobKeyPrefix + id
}

var _ Store = (*RedisStore)(nil)
