package jobstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"genproxy/internal/domain"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore(24 * time.Hour)
	job := &domain.Job{ID: "job-1", Type: domain.JobTypeImageGenerate, Status: domain.JobStatusPending}

	if err := s.Set(context.Background(), job); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	got, err := s.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.ID != "job-1" || got.Status != domain.JobStatusPending {
		t.Fatalf("record mismatch: %+v", got)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	s := NewMemoryStore(time.Hour).WithClock(func() time.Time { return current })

	if err := s.Set(context.Background(), &domain.Job{ID: "job-1", Status: domain.JobStatusCompleted}); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	current = base.Add(59 * time.Minute)
	if _, err := s.Get(context.Background(), "job-1"); err != nil {
		t.Fatalf("Get before expiry returned error: %v", err)
	}

	current = base.Add(61 * time.Minute)
	if _, err := s.Get(context.Background(), "job-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get after expiry error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreUpdateMutatesLatestRecord(t *testing.T) {
	s := NewMemoryStore(24 * time.Hour)
	if err := s.Set(context.Background(), &domain.Job{ID: "job-1", Status: domain.JobStatusPending}); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	updated, err := s.Update(context.Background(), "job-1", func(j *domain.Job) {
		j.Status = domain.JobStatusProcessing
	})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if updated.Status != domain.JobStatusProcessing {
		t.Fatalf("status = %s, want PROCESSING", updated.Status)
	}

	got, err := s.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.Status != domain.JobStatusProcessing {
		t.Fatalf("persisted status = %s, want PROCESSING", got.Status)
	}
}

func TestMemoryStoreUpdateUnknownID(t *testing.T) {
	s := NewMemoryStore(24 * time.Hour)
	if _, err := s.Update(context.Background(), "ghost", func(j *domain.Job) {}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreRequiresID(t *testing.T) {
	s := NewMemoryStore(24 * time.Hour)
	if err := s.Set(context.Background(), &domain.Job{}); err == nil {
		t.Fatal("Set accepted a job without an id")
	}
}
