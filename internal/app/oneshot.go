package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vrtlabs/feedback-pipeline/internal/crawl"
	"github.com/vrtlabs/feedback-pipeline/internal/pipeline"
)

// ProcessOnce opens a processing job and runs a single batch synchronously,
// bypassing the queue. Used by the CLI to drive the pipeline from cron or by
// hand.
func (a *App) ProcessOnce(ctx context.Context, batchSize int) (pipeline.BatchStats, error) {
	if batchSize <= 0 {
		batchSize = a.cfg.Pipeline.BatchSize
	}
	job, err := a.ldg.Open(ctx, pipeline.JobTypeCommentProcessing,
		pipeline.JobParameters{"batch_size": batchSize}, "cli")
	if err != nil {
		return pipeline.BatchStats{}, fmt.Errorf("open processing job: %w", err)
	}
	a.logger.Info("processing job opened", zap.String("job_id", job.ID))
	return a.batches.RunBatch(ctx, job.ID, batchSize)
}

// CrawlOnce opens a crawl job and runs a single crawl pass synchronously.
func (a *App) CrawlOnce(ctx context.Context, params crawl.Params) (crawl.Stats, error) {
	job, err := a.ldg.Open(ctx, pipeline.JobTypeCommentCrawl, pipeline.JobParameters{
		"binding_limit": params.BindingLimit,
		"max_pages":     params.MaxPages,
		"force":         params.Force,
	}, "cli")
	if err != nil {
		return crawl.Stats{}, fmt.Errorf("open crawl job: %w", err)
	}
	a.logger.Info("crawl job opened", zap.String("job_id", job.ID))
	return a.crawls.Run(ctx, job.ID, params)
}

// SweepOnce performs one staleness sweep pass and returns the number of
// comments returned to the queue.
func (a *App) SweepOnce(ctx context.Context) (int64, error) {
	return a.sweeper.Sweep(ctx)
}
