// Package memory provides in-memory store implementations for development
// and testing. All stores share the same semantics as their Postgres
// counterparts, including the atomic claim protocol.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vrtlabs/feedback-pipeline/internal/pipeline"
)

// CommentStore implements pipeline.CommentStore with a mutex-guarded map.
// Claims are atomic with respect to each other: the select and the status
// flip happen under one lock, so concurrent ClaimBatch calls never return
// the same comment.
type CommentStore struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]pipeline.RawComment
	byKey  map[string]int64 // (bindingID, externalID) -> comment id
}

// NewCommentStore constructs a CommentStore.
func NewCommentStore() *CommentStore {
	return &CommentStore{
		nextID: 1,
		byID:   make(map[int64]pipeline.RawComment),
		byKey:  make(map[string]int64),
	}
}

func naturalKey(bindingID int64, externalID string) string {
	return fmt.Sprintf("%d/%s", bindingID, externalID)
}

// Admit inserts the comment if its natural key is unseen; duplicates are
// absorbed.
func (s *CommentStore) Admit(_ context.Context, req pipeline.AdmitRequest) (pipeline.AdmitOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := naturalKey(req.BindingID, req.ExternalID)
	if _, exists := s.byKey[key]; exists {
		return pipeline.AdmitDuplicate, nil
	}
	now := time.Now().UTC()
	id := s.nextID
	s.nextID++
	s.byID[id] = pipeline.RawComment{
		ID:              id,
		BindingID:       req.BindingID,
		ExternalID:      req.ExternalID,
		Content:         req.Content,
		SourceURL:       req.SourceURL,
		PostedAt:        req.PostedAt,
		CrawledAt:       now,
		ContentHash:     req.ContentHash,
		SnapshotURI:     req.SnapshotURI,
		Status:          pipeline.CommentStatusNew,
		StatusChangedAt: now,
	}
	s.byKey[key] = id
	return pipeline.AdmitInserted, nil
}

// ClaimBatch flips up to limit new comments to processing under jobID, in
// ascending id order.
func (s *CommentStore) ClaimBatch(_ context.Context, limit int, jobID string, now time.Time) ([]pipeline.RawComment, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.byID))
	for id, c := range s.byID {
		if c.Status == pipeline.CommentStatusNew {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}

	claimed := make([]pipeline.RawComment, 0, len(ids))
	for _, id := range ids {
		c := s.byID[id]
		c.Status = pipeline.CommentStatusProcessing
		c.ClaimedByJobID = jobID
		c.StatusChangedAt = now
		s.byID[id] = c
		claimed = append(claimed, c)
	}
	return claimed, nil
}

// Release moves a claimed comment to its terminal (or retryable failed)
// status. Only processing comments may be released.
func (s *CommentStore) Release(_ context.Context, commentID int64, outcome pipeline.ReleaseOutcome, reason string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[commentID]
	if !ok {
		return fmt.Errorf("comment %d: %w", commentID, pipeline.ErrNotFound)
	}
	if c.Status != pipeline.CommentStatusProcessing {
		return fmt.Errorf("release comment %d from %q: %w", commentID, c.Status, pipeline.ErrInvalidTransition)
	}
	switch outcome {
	case pipeline.ReleaseCompleted:
		c.Status = pipeline.CommentStatusCompleted
	case pipeline.ReleaseFailed:
		c.Status = pipeline.CommentStatusFailed
	case pipeline.ReleaseSkipped:
		c.Status = pipeline.CommentStatusSkipped
	default:
		return fmt.Errorf("unknown release outcome %q: %w", outcome, pipeline.ErrInvalidTransition)
	}
	c.FailureReason = reason
	c.StatusChangedAt = now
	s.byID[commentID] = c
	return nil
}

// SweepStale reclaims comments stuck in processing longer than olderThan.
func (s *CommentStore) SweepStale(_ context.Context, olderThan time.Duration, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-olderThan)
	var reclaimed int64
	for id, c := range s.byID {
		if c.Status == pipeline.CommentStatusProcessing && c.StatusChangedAt.Before(cutoff) {
			c.Status = pipeline.CommentStatusNew
			c.ClaimedByJobID = ""
			c.StatusChangedAt = now
			s.byID[id] = c
			reclaimed++
		}
	}
	return reclaimed, nil
}

// RequeueFailed returns up to limit failed comments to new, in ascending id
// order. A non-positive limit requeues every failed comment.
func (s *CommentStore) RequeueFailed(_ context.Context, limit int, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.byID))
	for id, c := range s.byID {
		if c.Status == pipeline.CommentStatusFailed {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	for _, id := range ids {
		c := s.byID[id]
		c.Status = pipeline.CommentStatusNew
		c.ClaimedByJobID = ""
		c.FailureReason = ""
		c.StatusChangedAt = now
		s.byID[id] = c
	}
	return int64(len(ids)), nil
}

// GetComment fetches one comment by id.
func (s *CommentStore) GetComment(_ context.Context, commentID int64) (pipeline.RawComment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[commentID]
	if !ok {
		return pipeline.RawComment{}, fmt.Errorf("comment %d: %w", commentID, pipeline.ErrNotFound)
	}
	return c, nil
}

// CountByStatus reports current counts per status.
func (s *CommentStore) CountByStatus(_ context.Context) (pipeline.StatusCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(pipeline.StatusCounts)
	for _, c := range s.byID {
		counts[c.Status]++
	}
	return counts, nil
}
