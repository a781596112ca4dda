// Package crawl implements the incremental comment ingestion loop.
package crawl

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vrtlabs/feedback-pipeline/internal/crawlstate"
	"github.com/vrtlabs/feedback-pipeline/internal/ledger"
	"github.com/vrtlabs/feedback-pipeline/internal/pipeline"
	"github.com/vrtlabs/feedback-pipeline/internal/progress"
)

// Config controls Runner behavior.
type Config struct {
	// BindingLimit is the default number of due bindings per run.
	BindingLimit int
	// MaxPages is the default page cap per binding.
	MaxPages int
	// FetchDelay is the pause between bindings, a politeness floor for the
	// upstream sites.
	FetchDelay time.Duration
	// SnapshotPrefix is the blob path prefix for page snapshots.
	SnapshotPrefix string
	// ContentType is stamped on snapshot objects.
	ContentType string
}

// Params are the per-run overrides recorded on the crawl job.
type Params struct {
	BindingLimit int  `json:"binding_limit,omitempty"`
	MaxPages     int  `json:"max_pages,omitempty"`
	Force        bool `json:"force,omitempty"`
}

// Stats summarizes one crawl run.
type Stats struct {
	Bindings   int `json:"bindings"`
	Crawled    int `json:"crawled"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
	Admitted   int `json:"admitted"`
	Duplicates int `json:"duplicates"`
}

// Summary renders the stats as a job result_summary payload.
func (s Stats) Summary() string {
	b, _ := json.Marshal(s)
	return string(b)
}

// Runner walks due bindings, fetches fresh comments through the source, and
// admits them. Binding failures are isolated: one unreachable site never
// aborts the run.
type Runner struct {
	tracker *crawlstate.Tracker
	source  pipeline.Source
	blobs   pipeline.BlobStore
	hasher  pipeline.Hasher
	ledger  *ledger.Ledger
	clock   pipeline.Clock
	emitter progress.Emitter
	cfg     Config
	logger  *zap.Logger
}

// NewRunner constructs a Runner. blobs may be nil to disable page snapshots;
// emitter may be nil.
func NewRunner(
	tracker *crawlstate.Tracker,
	source pipeline.Source,
	blobs pipeline.BlobStore,
	hasher pipeline.Hasher,
	ldg *ledger.Ledger,
	clock pipeline.Clock,
	emitter progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if cfg.BindingLimit <= 0 {
		cfg.BindingLimit = 20
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 10
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		tracker: tracker,
		source:  source,
		blobs:   blobs,
		hasher:  hasher,
		ledger:  ldg,
		clock:   clock,
		emitter: emitter,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run executes one crawl cycle under an already opened job.
func (r *Runner) Run(ctx context.Context, jobID string, params Params) (Stats, error) {
	if params.BindingLimit <= 0 {
		params.BindingLimit = r.cfg.BindingLimit
	}
	if params.MaxPages <= 0 {
		params.MaxPages = r.cfg.MaxPages
	}
	started := r.clock.Now()
	stats := Stats{}

	if err := r.ledger.Start(ctx, jobID); err != nil {
		return stats, fmt.Errorf("start job %s: %w", jobID, err)
	}
	r.emit(progress.Event{JobID: jobID, TS: started, Stage: progress.StageJobStart})

	bindings, err := r.tracker.Due(ctx, params.BindingLimit)
	if err != nil {
		r.finish(ctx, jobID, pipeline.JobStatusFailed, fmt.Sprintf("list due bindings: %v", err), started)
		return stats, fmt.Errorf("list due bindings for job %s: %w", jobID, err)
	}
	stats.Bindings = len(bindings)

	for i, binding := range bindings {
		if ctx.Err() != nil {
			r.finish(ctx, jobID, pipeline.JobStatusFailed, stats.Summary(), started)
			return stats, ctx.Err()
		}
		if i > 0 {
			r.pause(ctx)
		}
		r.crawlBinding(ctx, jobID, binding, params, &stats)
	}

	r.finish(ctx, jobID, pipeline.JobStatusCompleted, stats.Summary(), started)
	return stats, nil
}

// crawlBinding handles one binding end to end. Errors are counted and
// reported per binding, never returned.
func (r *Runner) crawlBinding(ctx context.Context, jobID string, binding pipeline.VehicleChannelBinding, params Params, stats *Stats) {
	if !r.tracker.ShouldCrawl(binding, params.Force) {
		stats.Skipped++
		r.logger.Debug("binding not due", zap.Int64("binding_id", binding.ID))
		return
	}

	payloads, err := r.source.FetchComments(ctx, binding, params.MaxPages)
	if err != nil {
		stats.Failed++
		r.logger.Error("binding fetch failed",
			zap.String("job_id", jobID),
			zap.Int64("binding_id", binding.ID),
			zap.Error(err))
		r.emit(progress.Event{
			JobID:     jobID,
			TS:        r.clock.Now(),
			Stage:     progress.StageCrawlDone,
			BindingID: binding.ID,
			Outcome:   progress.OutcomeFailed,
			Note:      err.Error(),
		})
		return
	}

	admitted, admitFailed := r.admitAll(ctx, jobID, binding, payloads, stats)
	if admitFailed > 0 {
		// The watermark stays put so the next run sees these comments
		// again once the store recovers.
		stats.Failed++
		r.logger.Error("binding admission incomplete",
			zap.String("job_id", jobID),
			zap.Int64("binding_id", binding.ID),
			zap.Int("admit_failures", admitFailed))
		r.emit(progress.Event{
			JobID:     jobID,
			TS:        r.clock.Now(),
			Stage:     progress.StageCrawlDone,
			BindingID: binding.ID,
			Admitted:  int64(admitted),
			Outcome:   progress.OutcomeFailed,
			Note:      fmt.Sprintf("%d of %d admissions failed", admitFailed, len(payloads)),
		})
		return
	}

	if err := r.tracker.RecordSuccess(ctx, binding.ID, payloads); err != nil {
		r.logger.Error("record crawl success failed",
			zap.String("job_id", jobID),
			zap.Int64("binding_id", binding.ID),
			zap.Error(err))
	}

	stats.Crawled++
	r.emit(progress.Event{
		JobID:     jobID,
		TS:        r.clock.Now(),
		Stage:     progress.StageCrawlDone,
		BindingID: binding.ID,
		Admitted:  int64(admitted),
		Outcome:   progress.OutcomeCompleted,
	})
}

// admitAll admits every payload and reports how many were inserted and how
// many admissions errored. Any error count keeps the caller from advancing
// the binding's watermark.
func (r *Runner) admitAll(ctx context.Context, jobID string, binding pipeline.VehicleChannelBinding, payloads []pipeline.CommentPayload, stats *Stats) (int, int) {
	admitted := 0
	failed := 0
	snapshots := make(map[string]string)
	for _, payload := range payloads {
		uri := r.snapshot(ctx, binding, payload, snapshots)
		outcome, err := r.tracker.Admit(ctx, binding, payload, uri)
		if err != nil {
			failed++
			r.logger.Error("comment admission failed",
				zap.String("job_id", jobID),
				zap.Int64("binding_id", binding.ID),
				zap.String("external_id", payload.ExternalID),
				zap.Error(err))
			continue
		}
		switch outcome {
		case pipeline.AdmitInserted:
			admitted++
			stats.Admitted++
		case pipeline.AdmitDuplicate:
			stats.Duplicates++
		}
	}
	return admitted, failed
}

// snapshot archives the page body a payload came from and returns its URI.
// Bodies repeat across comments on the same page, so snapshots are keyed by
// content hash and written once.
func (r *Runner) snapshot(ctx context.Context, binding pipeline.VehicleChannelBinding, payload pipeline.CommentPayload, seen map[string]string) string {
	if r.blobs == nil || len(payload.PageBody) == 0 {
		return ""
	}
	hash, err := r.hasher.Hash(payload.PageBody)
	if err != nil {
		r.logger.Warn("snapshot hash failed", zap.Error(err))
		return ""
	}
	if uri, ok := seen[hash]; ok {
		return uri
	}
	path := r.snapshotPath(binding.ID, hash)
	uri, err := r.blobs.PutObject(ctx, path, r.cfg.ContentType, payload.PageBody)
	if err != nil {
		r.logger.Warn("snapshot write failed",
			zap.Int64("binding_id", binding.ID),
			zap.Error(err))
		return ""
	}
	seen[hash] = uri
	return uri
}

func (r *Runner) snapshotPath(bindingID int64, hash string) string {
	prefix := strings.Trim(r.cfg.SnapshotPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%d/%s.html", bindingID, hash)
	}
	return fmt.Sprintf("%s/%d/%s.html", prefix, bindingID, hash)
}

func (r *Runner) pause(ctx context.Context) {
	if r.cfg.FetchDelay <= 0 {
		return
	}
	timer := time.NewTimer(r.cfg.FetchDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
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
