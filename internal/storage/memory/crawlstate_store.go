package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vrtlabs/feedback-pipeline/internal/pipeline"
)

// CrawlStateStore implements pipeline.CrawlStateStore in memory.
type CrawlStateStore struct {
	mu       sync.Mutex
	bindings map[int64]pipeline.VehicleChannelBinding
}

// NewCrawlStateStore constructs a CrawlStateStore.
func NewCrawlStateStore() *CrawlStateStore {
	return &CrawlStateStore{bindings: make(map[int64]pipeline.VehicleChannelBinding)}
}

// PutBinding seeds or replaces a binding. Used by fixtures and dev setups.
func (s *CrawlStateStore) PutBinding(binding pipeline.VehicleChannelBinding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings[binding.ID] = binding
}

// DueBindings returns never-crawled bindings first, then the stalest, up to
// limit.
func (s *CrawlStateStore) DueBindings(_ context.Context, limit int) ([]pipeline.VehicleChannelBinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]pipeline.VehicleChannelBinding, 0, len(s.bindings))
	for _, b := range s.bindings {
		all = append(all, b)
	}
	sort.Slice(all, func(i, j int) bool {
		bi, bj := all[i], all[j]
		switch {
		case bi.LastCommentCrawledAt == nil && bj.LastCommentCrawledAt == nil:
			return bi.ID < bj.ID
		case bi.LastCommentCrawledAt == nil:
			return true
		case bj.LastCommentCrawledAt == nil:
			return false
		case !bi.LastCommentCrawledAt.Equal(*bj.LastCommentCrawledAt):
			return bi.LastCommentCrawledAt.Before(*bj.LastCommentCrawledAt)
		default:
			return bi.ID < bj.ID
		}
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// RecordCrawlSuccess advances last_comment_crawled_at monotonically: an
// older timestamp arriving late is ignored.
func (s *CrawlStateStore) RecordCrawlSuccess(_ context.Context, bindingID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bindings[bindingID]
	if !ok {
		return fmt.Errorf("binding %d: %w", bindingID, pipeline.ErrNotFound)
	}
	if b.LastCommentCrawledAt == nil || b.LastCommentCrawledAt.Before(at) {
		b.LastCommentCrawledAt = &at
		s.bindings[bindingID] = b
	}
	return nil
}

// GetBinding fetches one binding by id.
func (s *CrawlStateStore) GetBinding(_ context.Context, bindingID int64) (pipeline.VehicleChannelBinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bindings[bindingID]
	if !ok {
		return pipeline.VehicleChannelBinding{}, fmt.Errorf("binding %d: %w", bindingID, pipeline.ErrNotFound)
	}
	return b, nil
}
