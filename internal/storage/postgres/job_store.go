package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vrtlabs/feedback-pipeline/internal/pipeline"
)

// JobStore implements pipeline.JobStore over processing_jobs. Transitions
// are conditional updates keyed on the current status, so a lost race
// surfaces as ErrInvalidTransition instead of silently rewriting history.
type JobStore struct {
	pool dbPool
}

// NewJobStore constructs a JobStore over an existing pool.
func NewJobStore(pool dbPool) *JobStore {
	return &JobStore{pool: pool}
}

const createJobSQL = `
INSERT INTO processing_jobs (
	job_id, job_type, status, parameters, created_by, created_at, pipeline_version
) VALUES ($1, $2, 'pending', $3, $4, $5, $6)`

// CreateJob inserts a pending job with its parameter snapshot.
func (s *JobStore) CreateJob(ctx context.Context, job pipeline.ProcessingJob) error {
	params, err := json.Marshal(job.Parameters)
	if err != nil {
		return fmt.Errorf("marshal job parameters: %w", err)
	}
	_, err = s.pool.Exec(ctx, createJobSQL,
		job.ID, string(job.Type), params, nullable(job.CreatedBy), job.CreatedAt, job.PipelineVersion)
	if err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return nil
}

const startJobSQL = `
UPDATE processing_jobs SET status = 'running', started_at = $1
WHERE job_id = $2 AND status = 'pending'`

// StartJob transitions pending -> running.
func (s *JobStore) StartJob(ctx context.Context, jobID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, startJobSQL, at, jobID)
	if err != nil {
		return fmt.Errorf("start job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("start job %s: job is not pending: %w", jobID, pipeline.ErrInvalidTransition)
	}
	return nil
}

const finishJobSQL = `
UPDATE processing_jobs SET status = $1, completed_at = $2, result_summary = $3
WHERE job_id = $4 AND status = 'running'`

// FinishJob transitions running -> {completed, failed}.
func (s *JobStore) FinishJob(ctx context.Context, jobID string, status pipeline.JobStatus, summary string, at time.Time) error {
	if status != pipeline.JobStatusCompleted && status != pipeline.JobStatusFailed {
		return fmt.Errorf("finish job %s with %q: %w", jobID, status, pipeline.ErrInvalidTransition)
	}
	tag, err := s.pool.Exec(ctx, finishJobSQL, string(status), at, summary, jobID)
	if err != nil {
		return fmt.Errorf("finish job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish job %s: job is not running: %w", jobID, pipeline.ErrInvalidTransition)
	}
	return nil
}

const getJobSQL = `
SELECT job_id, job_type, status, parameters, created_by, created_at,
	started_at, completed_at, result_summary, pipeline_version
FROM processing_jobs WHERE job_id = $1`

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (pipeline.ProcessingJob, error) {
	var (
		job       pipeline.ProcessingJob
		jobType   string
		status    string
		params    []byte
		createdBy *string
		summary   *string
	)
	err := s.pool.QueryRow(ctx, getJobSQL, jobID).Scan(
		&job.ID, &jobType, &status, &params, &createdBy, &job.CreatedAt,
		&job.StartedAt, &job.CompletedAt, &summary, &job.PipelineVersion,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pipeline.ProcessingJob{}, fmt.Errorf("job %s: %w", jobID, pipeline.ErrNotFound)
		}
		return pipeline.ProcessingJob{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	job.Type = pipeline.JobType(jobType)
	job.Status = pipeline.JobStatus(status)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &job.Parameters); err != nil {
			return pipeline.ProcessingJob{}, fmt.Errorf("unmarshal job %s parameters: %w", jobID, err)
		}
	}
	if createdBy != nil {
		job.CreatedBy = *createdBy
	}
	if summary != nil {
		job.ResultSummary = *summary
	}
	return job, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
