package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vrtlabs/feedback-pipeline/internal/pipeline"
)

// StoredResult is one persisted chunk row plus its linkage columns.
type StoredResult struct {
	CommentID       int64
	JobID           string
	PipelineVersion string
	ProcessedAt     time.Time
	Result          pipeline.ChunkResult
}

// ResultStore implements pipeline.ResultStore in memory. Rows are
// append-only, matching the audit-history semantics of the Postgres store.
type ResultStore struct {
	mu   sync.Mutex
	rows []StoredResult
}

// NewResultStore constructs a ResultStore.
func NewResultStore() *ResultStore {
	return &ResultStore{}
}

// WriteResults appends all chunk rows for one comment atomically.
func (s *ResultStore) WriteResults(_ context.Context, commentID int64, jobID string, pipelineVersion string, results []pipeline.ChunkResult, at time.Time) error {
	if len(results) == 0 {
		return fmt.Errorf("no chunk results for comment %d", commentID)
	}
	staged := make([]StoredResult, 0, len(results))
	for _, res := range results {
		staged = append(staged, StoredResult{
			CommentID:       commentID,
			JobID:           jobID,
			PipelineVersion: pipelineVersion,
			ProcessedAt:     at,
			Result:          res,
		})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, staged...)
	return nil
}

// ResultsForComment returns the stored rows for a comment, across all jobs.
func (s *ResultStore) ResultsForComment(commentID int64) []StoredResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []StoredResult
	for _, row := range s.rows {
		if row.CommentID == commentID {
			out = append(out, row)
		}
	}
	return out
}

// Len returns the total number of stored rows.
func (s *ResultStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}
