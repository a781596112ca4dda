// Package ledger tracks batch jobs as durable audit records with a strict
// forward-only lifecycle: pending -> running -> {completed, failed}. Jobs are
// never deleted; they are the handle callers poll and the system's history.
package ledger

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vrtlabs/feedback-pipeline/internal/pipeline"
)

// Config controls ledger behavior.
type Config struct {
	// PipelineVersion is stamped on every job the ledger opens.
	PipelineVersion string
	// Topic is where completion events are published. Empty disables
	// publishing.
	Topic string
}

// Ledger wraps a JobStore with id generation, version stamping, and
// completion events.
type Ledger struct {
	store     pipeline.JobStore
	idGen     pipeline.IDGenerator
	clock     pipeline.Clock
	publisher pipeline.Publisher
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Ledger. publisher may be nil.
func New(
	store pipeline.JobStore,
	idGen pipeline.IDGenerator,
	clock pipeline.Clock,
	publisher pipeline.Publisher,
	cfg Config,
	logger *zap.Logger,
) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		store:     store,
		idGen:     idGen,
		clock:     clock,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

// Open inserts a pending job and returns it synchronously so callers can
// poll before any work starts.
func (l *Ledger) Open(ctx context.Context, jobType pipeline.JobType, params pipeline.JobParameters, creator string) (pipeline.ProcessingJob, error) {
	id, err := l.idGen.NewID()
	if err != nil {
		return pipeline.ProcessingJob{}, fmt.Errorf("generate job id: %w", err)
	}
	job := pipeline.ProcessingJob{
		ID:              id,
		Type:            jobType,
		Status:          pipeline.JobStatusPending,
		Parameters:      params,
		CreatedBy:       creator,
		CreatedAt:       l.clock.Now(),
		PipelineVersion: l.cfg.PipelineVersion,
	}
	if err := l.store.CreateJob(ctx, job); err != nil {
		return pipeline.ProcessingJob{}, err
	}
	l.logger.Info("job opened",
		zap.String("job_id", job.ID),
		zap.String("job_type", string(jobType)))
	return job, nil
}

// Start transitions a pending job to running.
func (l *Ledger) Start(ctx context.Context, jobID string) error {
	if err := l.store.StartJob(ctx, jobID, l.clock.Now()); err != nil {
		return err
	}
	l.logger.Info("job started", zap.String("job_id", jobID))
	return nil
}

// Finish closes a running job as completed or failed and publishes a
// completion event. Publish failures are logged, never propagated: the
// durable record is the ledger row, the event is advisory.
func (l *Ledger) Finish(ctx context.Context, jobID string, status pipeline.JobStatus, summary string) error {
	if err := l.store.FinishJob(ctx, jobID, status, summary, l.clock.Now()); err != nil {
		return err
	}
	l.logger.Info("job finished",
		zap.String("job_id", jobID),
		zap.String("status", string(status)))
	l.publishCompletion(ctx, jobID, status, summary)
	return nil
}

// Get fetches a job for status polling.
func (l *Ledger) Get(ctx context.Context, jobID string) (pipeline.ProcessingJob, error) {
	return l.store.GetJob(ctx, jobID)
}

type completionEvent struct {
	JobID           string `json:"job_id"`
	Status          string `json:"status"`
	Summary         string `json:"result_summary,omitempty"`
	PipelineVersion string `json:"pipeline_version"`
}

func (l *Ledger) publishCompletion(ctx context.Context, jobID string, status pipeline.JobStatus, summary string) {
	if l.publisher == nil || l.cfg.Topic == "" {
		return
	}
	event := completionEvent{
		JobID:           jobID,
		Status:          string(status),
		Summary:         summary,
		PipelineVersion: l.cfg.PipelineVersion,
	}
	if _, err := l.publisher.Publish(ctx, l.cfg.Topic, event); err != nil {
		l.logger.Warn("publish job completion failed",
			zap.String("job_id", jobID),
			zap.Error(err))
	}
}
