package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vrtlabs/feedback-pipeline/internal/pipeline"
)

// JobStore provides an in-memory pipeline.JobStore for development/testing.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]pipeline.ProcessingJob
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]pipeline.ProcessingJob)}
}

// CreateJob stores a new job. The job arrives already shaped by the ledger
// (pending status, created timestamp, pipeline version).
func (s *JobStore) CreateJob(_ context.Context, job pipeline.ProcessingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists: %w", job.ID, pipeline.ErrConcurrencyConflict)
	}
	s.jobs[job.ID] = job
	return nil
}

// StartJob transitions pending -> running.
func (s *JobStore) StartJob(_ context.Context, jobID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, pipeline.ErrNotFound)
	}
	if job.Status != pipeline.JobStatusPending {
		return fmt.Errorf("start job %s from %q: %w", jobID, job.Status, pipeline.ErrInvalidTransition)
	}
	job.Status = pipeline.JobStatusRunning
	job.StartedAt = pointerTime(at)
	s.jobs[jobID] = job
	return nil
}

// FinishJob transitions running -> {completed, failed}.
func (s *JobStore) FinishJob(_ context.Context, jobID string, status pipeline.JobStatus, summary string, at time.Time) error {
	if status != pipeline.JobStatusCompleted && status != pipeline.JobStatusFailed {
		return fmt.Errorf("finish job %s with %q: %w", jobID, status, pipeline.ErrInvalidTransition)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, pipeline.ErrNotFound)
	}
	if job.Status != pipeline.JobStatusRunning {
		return fmt.Errorf("finish job %s from %q: %w", jobID, job.Status, pipeline.ErrInvalidTransition)
	}
	job.Status = status
	job.CompletedAt = pointerTime(at)
	job.ResultSummary = summary
	s.jobs[jobID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (pipeline.ProcessingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return pipeline.ProcessingJob{}, fmt.Errorf("job %s: %w", jobID, pipeline.ErrNotFound)
	}
	return job, nil
}

func pointerTime(t time.Time) *time.Time { return &t }
