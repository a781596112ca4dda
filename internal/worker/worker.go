// Package worker implements the comment processing execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vrtlabs/feedback-pipeline/internal/ledger"
	"github.com/vrtlabs/feedback-pipeline/internal/metrics"
	"github.com/vrtlabs/feedback-pipeline/internal/pipeline"
	"github.com/vrtlabs/feedback-pipeline/internal/progress"
)

// Processor turns one claimed comment into per-chunk results.
type Processor interface {
	ProcessComment(ctx context.Context, comment pipeline.RawComment) ([]pipeline.ChunkResult, error)
}

// Preflight is an optional Processor extension checked after the job starts
// and before any comment is claimed. A failing preflight fails the job
// without touching the queue.
type Preflight interface {
	Ready(ctx context.Context) error
}

// Config controls Runner behavior.
type Config struct {
	// BatchSize is the default claim size when a job does not override it.
	BatchSize int
	// PipelineVersion is stamped on every result row.
	PipelineVersion string
}

// Runner drains claimed comments through the processor and records the
// outcome of each one independently. One comment failing never aborts the
// batch.
type Runner struct {
	comments  pipeline.CommentStore
	results   pipeline.ResultStore
	processor Processor
	ledger    *ledger.Ledger
	clock     pipeline.Clock
	emitter   progress.Emitter
	cfg       Config
	logger    *zap.Logger
}

// NewRunner constructs a Runner. emitter may be nil.
func NewRunner(
	comments pipeline.CommentStore,
	results pipeline.ResultStore,
	processor Processor,
	ldg *ledger.Ledger,
	clock pipeline.Clock,
	emitter progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		comments:  comments,
		results:   results,
		processor: processor,
		ledger:    ldg,
		clock:     clock,
		emitter:   emitter,
		cfg:       cfg,
		logger:    logger,
	}
}

// RunBatch executes one claim-process-release cycle under an already opened
// job. The job moves to running before the claim and always reaches a
// terminal status before RunBatch returns.
func (r *Runner) RunBatch(ctx context.Context, jobID string, batchSize int) (pipeline.BatchStats, error) {
	if batchSize <= 0 {
		batchSize = r.cfg.BatchSize
	}
	started := r.clock.Now()
	stats := pipeline.BatchStats{}

	if err := r.ledger.Start(ctx, jobID); err != nil {
		return stats, fmt.Errorf("start job %s: %w", jobID, err)
	}
	r.emit(progress.Event{JobID: jobID, TS: started, Stage: progress.StageJobStart})

	if p, ok := r.processor.(Preflight); ok {
		if err := p.Ready(ctx); err != nil {
			r.finish(ctx, jobID, pipeline.JobStatusFailed, fmt.Sprintf("preflight: %v", err), started)
			return stats, fmt.Errorf("processor not ready for job %s: %w", jobID, err)
		}
	}

	claimed, err := r.comments.ClaimBatch(ctx, batchSize, jobID, r.clock.Now())
	if err != nil {
		r.finish(ctx, jobID, pipeline.JobStatusFailed, fmt.Sprintf("claim failed: %v", err), started)
		return stats, fmt.Errorf("claim batch for job %s: %w", jobID, err)
	}
	stats.Claimed = len(claimed)
	metrics.ObserveClaim(len(claimed))
	r.logger.Info("batch claimed",
		zap.String("job_id", jobID),
		zap.Int("claimed", len(claimed)))

	for _, comment := range claimed {
		if ctx.Err() != nil {
			// Leave the remaining claims to the staleness sweep; the
			// job itself is recorded as failed.
			r.finish(ctx, jobID, pipeline.JobStatusFailed, stats.Summary(), started)
			return stats, ctx.Err()
		}
		r.processOne(ctx, jobID, comment, &stats)
	}

	r.finish(ctx, jobID, pipeline.JobStatusCompleted, stats.Summary(), started)
	return stats, nil
}

// processOne handles a single claimed comment end to end. Every exit path
// releases the claim; errors are recorded on the comment, never returned.
func (r *Runner) processOne(ctx context.Context, jobID string, comment pipeline.RawComment, stats *pipeline.BatchStats) {
	itemStart := r.clock.Now()

	results, err := r.processor.ProcessComment(ctx, comment)
	if err != nil {
		if errors.Is(err, pipeline.ErrUnprocessable) {
			r.release(ctx, jobID, comment.ID, pipeline.ReleaseSkipped, err.Error(), itemStart, 0)
			stats.Skipped++
			return
		}
		r.logger.Error("comment processing failed",
			zap.String("job_id", jobID),
			zap.Int64("comment_id", comment.ID),
			zap.Error(err))
		r.release(ctx, jobID, comment.ID, pipeline.ReleaseFailed, err.Error(), itemStart, 0)
		stats.Failed++
		return
	}

	if err := r.results.WriteResults(ctx, comment.ID, jobID, r.cfg.PipelineVersion, results, r.clock.Now()); err != nil {
		r.logger.Error("result write failed",
			zap.String("job_id", jobID),
			zap.Int64("comment_id", comment.ID),
			zap.Error(err))
		r.release(ctx, jobID, comment.ID, pipeline.ReleaseFailed, fmt.Sprintf("write results: %v", err), itemStart, 0)
		stats.Failed++
		return
	}

	stats.ResultRows += len(results)

	// A comment where no chunk could be embedded produced nothing usable;
	// the rows carry the error trace, and the comment stays retryable.
	if reason, ok := allChunksFailed(results); ok {
		r.logger.Error("every chunk failed",
			zap.String("job_id", jobID),
			zap.Int64("comment_id", comment.ID),
			zap.String("reason", reason))
		r.release(ctx, jobID, comment.ID, pipeline.ReleaseFailed, reason, itemStart, len(results))
		stats.Failed++
		return
	}

	r.release(ctx, jobID, comment.ID, pipeline.ReleaseCompleted, "", itemStart, len(results))
	stats.Completed++
}

// allChunksFailed reports whether every chunk carries an error and none
// yielded a vector. The reason aggregates the first chunk's error.
func allChunksFailed(results []pipeline.ChunkResult) (string, bool) {
	if len(results) == 0 {
		return "", false
	}
	for _, res := range results {
		if res.ErrorText == "" {
			return "", false
		}
	}
	return fmt.Sprintf("all %d chunks failed: %s", len(results), results[0].ErrorText), true
}

func (r *Runner) release(
	ctx context.Context,
	jobID string,
	commentID int64,
	outcome pipeline.ReleaseOutcome,
	reason string,
	itemStart time.Time,
	chunks int,
) {
	if err := r.comments.Release(ctx, commentID, outcome, reason, r.clock.Now()); err != nil {
		r.logger.Error("comment release failed",
			zap.String("job_id", jobID),
			zap.Int64("comment_id", commentID),
			zap.String("outcome", string(outcome)),
			zap.Error(err))
	}
	r.emit(progress.Event{
		JobID:     jobID,
		TS:        r.clock.Now(),
		Stage:     progress.StageCommentDone,
		CommentID: commentID,
		Chunks:    int64(chunks),
		Outcome:   progress.ClassifyRelease(string(outcome)),
		Dur:       r.clock.Now().Sub(itemStart),
		Note:      reason,
	})
}

func (r *Runner) finish(ctx context.Context, jobID string, status pipeline.JobStatus, summary string, started time.Time) {
	if err := r.ledger.Finish(ctx, jobID, status, summary); err != nil {
		r.logger.Error("job finish failed",
			zap.String("job_id", jobID),
			zap.String("status", string(status)),
			zap.Error(err))
	}
	stage := progress.StageJobDone
	if status == pipeline.JobStatusFailed {
		stage = progress.StageJobError
	}
	r.emit(progress.Event{
		JobID: jobID,
		TS:    r.clock.Now(),
		Stage: stage,
		Dur:   r.clock.Now().Sub(started),
	})
}

func (r *Runner) emit(evt progress.Event) {
	if r.emitter == nil {
		return
	}
	r.emitter.Emit(evt)
}
