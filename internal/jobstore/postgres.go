package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"genproxy/internal/domain"
)

// PostgresStore keeps job records as JSON payloads in Postgres. Expiry is
// modeled with an expires_at column checked on read; a periodic DELETE of
// expired rows can run out of band.
type PostgresStore struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

// NewPostgresStore creates a PostgresStore with the given retention window.
func NewPostgresStore(pool *pgxpool.Pool, ttl time.Duration) *PostgresStore {
	return &PostgresStore{pool: pool, ttl: ttl}
}

const qUpsertJob = `
INSERT INTO jobs (id, payload, expires_at, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (id) DO UPDATE
SET payload = EXCLUDED.payload,
    expires_at = EXCLUDED.expires_at,
    updated_at = NOW();
`

const qSelectJob = `
SELECT payload
FROM jobs
WHERE id = $1 AND expires_at > NOW();
`

func (s *PostgresStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	row := s.pool.QueryRow(ctx, qSelectJob, id)
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("jobstore: get %s: %w", id, err)
	}
	var job domain.Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, fmt.Errorf("jobstore: decode %s: %w", id, err)
	}
	return &job, nil
}

func (s *PostgresStore) Set(ctx context.Context, job *domain.Job) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("jobstore: job id is required")
	}
	job.UpdatedAt = time.Now().UTC()
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("jobstore: encode %s: %w", job.ID, err)
	}
	if _, err := s.pool.Exec(ctx, qUpsertJob, job.ID, payload, time.Now().UTC().Add(s.ttl)); err != nil {
		return fmt.Errorf("jobstore: set %s: %w", job.ID, err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, mutate func(*domain.Job)) (*domain.Job, error) {
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

var _ Store = (*PostgresStore)(nil)
