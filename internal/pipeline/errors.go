package pipeline

import "errors"

// Sentinel errors surfaced by stores and collaborators. Callers branch with
// errors.Is; wrapped messages carry the diagnostic detail.
var (
	// ErrInvalidTransition is returned when a state change is attempted
	// from a state that does not permit it (e.g. finishing a pending job,
	// releasing a comment that is not processing). It indicates a bug in
	// the caller's protocol and is never silently absorbed.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrConcurrencyConflict is returned when an atomic conditional
	// update affected no rows because another worker got there first.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnprocessable marks a comment that is structurally impossible to
	// process (empty content, no chunks producible). Such comments are
	// skipped, not retried.
	ErrUnprocessable = errors.New("comment is unprocessable")

	// ErrEmbeddingUnavailable is returned by an Embedder when the
	// provider cannot produce a vector. Per-chunk and retryable.
	ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")

	// ErrExtractionFailed is returned by an Extractor when structured
	// extraction fails. Degrades the chunk result, never the pipeline.
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrIndexUnavailable is returned when the feature index cannot be
	// built, which prevents a processing batch from making any progress.
	ErrIndexUnavailable = errors.New("feature index unavailable")
)
