// Package crawlstate decides when a vehicle/channel binding is due for a
// crawl and records crawl progress. Progress is a monotonic high-water mark:
// last_comment_crawled_at never moves backwards, so re-crawls and overlapping
// runs can only narrow the incremental window, never widen it.
package crawlstate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vrtlabs/feedback-pipeline/internal/pipeline"
)

// Config controls crawl scheduling.
type Config struct {
	// MinInterval is the minimum elapsed time since the last successful
	// crawl before a binding is due again. Zero means always due.
	MinInterval time.Duration
}

// Tracker couples the crawl state store with scheduling policy and comment
// admission.
type Tracker struct {
	state    pipeline.CrawlStateStore
	comments pipeline.CommentStore
	hasher   pipeline.Hasher
	clock    pipeline.Clock
	cfg      Config
	logger   *zap.Logger
}

// NewTracker constructs a Tracker.
func NewTracker(
	state pipeline.CrawlStateStore,
	comments pipeline.CommentStore,
	hasher pipeline.Hasher,
	clock pipeline.Clock,
	cfg Config,
	logger *zap.Logger,
) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		state:    state,
		comments: comments,
		hasher:   hasher,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// Due returns up to limit bindings ordered never-crawled first, then oldest
// crawl timestamp.
func (t *Tracker) Due(ctx context.Context, limit int) ([]pipeline.VehicleChannelBinding, error) {
	return t.state.DueBindings(ctx, limit)
}

// ShouldCrawl reports whether the binding is eligible right now. force
// bypasses the interval check but not the binding's existence.
func (t *Tracker) ShouldCrawl(binding pipeline.VehicleChannelBinding, force bool) bool {
	if force {
		return true
	}
	if binding.LastCommentCrawledAt == nil {
		return true
	}
	return t.clock.Now().Sub(*binding.LastCommentCrawledAt) >= t.cfg.MinInterval
}

// Admit hashes the payload content, forwards it to the comment store, and
// reports whether it was fresh. Duplicate absorption is the normal path for
// incremental crawls, so duplicates are debug noise, not warnings.
func (t *Tracker) Admit(ctx context.Context, binding pipeline.VehicleChannelBinding, payload pipeline.CommentPayload, snapshotURI string) (pipeline.AdmitOutcome, error) {
	if payload.ExternalID == "" {
		return "", fmt.Errorf("admit comment for binding %d: empty external id", binding.ID)
	}
	hash, err := t.hasher.Hash([]byte(payload.Content))
	if err != nil {
		return "", fmt.Errorf("hash comment content: %w", err)
	}
	outcome, err := t.comments.Admit(ctx, pipeline.AdmitRequest{
		BindingID:   binding.ID,
		ExternalID:  payload.ExternalID,
		Content:     payload.Content,
		SourceURL:   payload.SourceURL,
		PostedAt:    payload.PostedAt,
		ContentHash: hash,
		SnapshotURI: snapshotURI,
	})
	if err != nil {
		return "", err
	}
	if outcome == pipeline.AdmitDuplicate {
		t.logger.Debug("duplicate comment absorbed",
			zap.Int64("binding_id", binding.ID),
			zap.String("external_id", payload.ExternalID))
	}
	return outcome, nil
}

// RecordSuccess advances the binding's crawl high-water mark to the newest
// posted-at seen in the run, or the crawl time when no comment carried a
// timestamp.
func (t *Tracker) RecordSuccess(ctx context.Context, bindingID int64, payloads []pipeline.CommentPayload) error {
	mark := t.clock.Now()
	newest := newestPostedAt(payloads)
	if newest != nil {
		mark = *newest
	}
	if err := t.state.RecordCrawlSuccess(ctx, bindingID, mark); err != nil {
		return fmt.Errorf("record crawl success for binding %d: %w", bindingID, err)
	}
	t.logger.Info("crawl high-water mark advanced",
		zap.Int64("binding_id", bindingID),
		zap.Time("mark", mark))
	return nil
}

func newestPostedAt(payloads []pipeline.CommentPayload) *time.Time {
	var newest *time.Time
	for _, p := range payloads {
		if p.PostedAt == nil {
			continue
		}
		if newest == nil || p.PostedAt.After(*newest) {
			newest = p.PostedAt
		}
	}
	return newest
}
