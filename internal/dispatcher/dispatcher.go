// Package dispatcher manages worker fan-out over the task queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/vrtlabs/feedback-pipeline/internal/crawl"
	"github.com/vrtlabs/feedback-pipeline/internal/pipeline"
	"github.com/vrtlabs/feedback-pipeline/internal/worker"
)

// Dispatcher fans out queued tasks to a pool of workers. Processing batches
// and crawl passes share the pool; each task runs to completion on one worker.
type Dispatcher struct {
	queue       pipeline.TaskQueue
	batches     *worker.Runner
	crawls      *crawl.Runner
	concurrency int
	logger      *zap.Logger
}

// New creates a Dispatcher. crawls may be nil when crawling is disabled.
func New(
	queue pipeline.TaskQueue,
	batches *worker.Runner,
	crawls *crawl.Runner,
	concurrency int,
	logger *zap.Logger,
) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:       queue,
		batches:     batches,
		crawls:      crawls,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run starts the worker pool and blocks until the context finishes or the
// queue closes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.loop(ctx)
		}()
	}
	wg.Wait()
}

func (d *Dispatcher) loop(ctx context.Context) {
	for {
		task, err := d.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		d.dispatch(ctx, task)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, task pipeline.Task) {
	switch task.Kind {
	case pipeline.TaskProcess:
		if _, err := d.batches.RunBatch(ctx, task.JobID, task.BatchSize); err != nil {
			d.logger.Error("processing batch failed",
				zap.String("job_id", task.JobID),
				zap.Error(err))
		}
	case pipeline.TaskCrawl:
		if d.crawls == nil {
			d.logger.Warn("crawl task dropped, crawling disabled",
				zap.String("job_id", task.JobID))
			return
		}
		params := crawl.Params{
			BindingLimit: task.BindingLimit,
			MaxPages:     task.MaxPages,
			Force:        task.Force,
		}
		if _, err := d.crawls.Run(ctx, task.JobID, params); err != nil {
			d.logger.Error("crawl pass failed",
				zap.String("job_id", task.JobID),
				zap.Error(err))
		}
	default:
		d.logger.Warn("unknown task kind",
			zap.String("kind", string(task.Kind)),
			zap.String("job_id", task.JobID))
	}
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, task pipeline.Task) error {
	if err := d.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
