package pipeline

import (
	"context"
	"time"
)

// CommentStore persists raw comments and owns the processing state machine.
type CommentStore interface {
	// Admit performs an idempotent insert keyed on (binding, external
	// comment id). Duplicates are absorbed and reported, not errors.
	Admit(ctx context.Context, req AdmitRequest) (AdmitOutcome, error)

	// ClaimBatch atomically selects up to limit comments in status new
	// and flips them to processing under jobID. No two concurrent calls
	// may return the same comment.
	ClaimBatch(ctx context.Context, limit int, jobID string, now time.Time) ([]RawComment, error)

	// Release moves a claimed comment out of processing. Returns
	// ErrInvalidTransition if the comment is not currently processing.
	Release(ctx context.Context, commentID int64, outcome ReleaseOutcome, reason string, now time.Time) error

	// SweepStale reclaims comments stuck in processing longer than
	// olderThan back to new, returning the number reclaimed.
	SweepStale(ctx context.Context, olderThan time.Duration, now time.Time) (int64, error)

	// RequeueFailed returns up to limit failed comments to new so a
	// later batch retries them, returning the number requeued. A
	// non-positive limit requeues all.
	RequeueFailed(ctx context.Context, limit int, now time.Time) (int64, error)

	// GetComment fetches one comment by id for status polling.
	GetComment(ctx context.Context, commentID int64) (RawComment, error)

	// CountByStatus reports current row counts per processing status.
	CountByStatus(ctx context.Context) (StatusCounts, error)
}

// CrawlStateStore persists per-binding crawl state.
type CrawlStateStore interface {
	// DueBindings returns up to limit bindings ordered never-crawled
	// first, then by oldest last_comment_crawled_at.
	DueBindings(ctx context.Context, limit int) ([]VehicleChannelBinding, error)

	// RecordCrawlSuccess advances last_comment_crawled_at only if at is
	// newer than the stored value (monotonic max under concurrency).
	RecordCrawlSuccess(ctx context.Context, bindingID int64, at time.Time) error

	// GetBinding fetches one binding by id.
	GetBinding(ctx context.Context, bindingID int64) (VehicleChannelBinding, error)
}

// JobStore persists the job ledger.
type JobStore interface {
	CreateJob(ctx context.Context, job ProcessingJob) error
	// StartJob transitions pending -> running; ErrInvalidTransition
	// otherwise.
	StartJob(ctx context.Context, jobID string, at time.Time) error
	// FinishJob transitions running -> {completed, failed};
	// ErrInvalidTransition otherwise.
	FinishJob(ctx context.Context, jobID string, status JobStatus, summary string, at time.Time) error
	GetJob(ctx context.Context, jobID string) (ProcessingJob, error)
}

// FeatureStore reads the product feature taxonomy with embeddings.
type FeatureStore interface {
	ListFeatures(ctx context.Context) ([]ProductFeature, error)
}

// ResultStore persists processed chunk results, append-only.
type ResultStore interface {
	// WriteResults writes all chunk rows for one comment in a single
	// transaction: either every chunk is recorded or none.
	WriteResults(ctx context.Context, commentID int64, jobID string, pipelineVersion string, results []ChunkResult, at time.Time) error
}

// Embedder maps text to a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Dimensions() int
}

// Extractor derives scene attributes and sentiment from a chunk.
type Extractor interface {
	Extract(ctx context.Context, chunkText string, feature *ProductFeature) (Extraction, error)
}

// Source supplies comment payloads for one binding. Page fetch and parse
// mechanics live entirely behind this interface.
type Source interface {
	FetchComments(ctx context.Context, binding VehicleChannelBinding, maxPages int) ([]CommentPayload, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes job lifecycle events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for deduplication and blob keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
