package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/vrtlabs/feedback-pipeline/internal/pipeline"
)

// SweeperConfig controls the staleness sweep.
type SweeperConfig struct {
	// StaleAfter is how long a comment may sit in processing before it is
	// considered orphaned by a crashed worker.
	StaleAfter time.Duration
	// Interval is how often the background loop sweeps. Zero disables the
	// loop; Sweep can still be called directly.
	Interval time.Duration
}

// Sweeper returns orphaned processing claims to the queue so crashed workers
// never strand comments forever.
type Sweeper struct {
	comments pipeline.CommentStore
	clock    pipeline.Clock
	cfg      SweeperConfig
	logger   *zap.Logger
}

// NewSweeper constructs a Sweeper.
func NewSweeper(comments pipeline.CommentStore, clock pipeline.Clock, cfg SweeperConfig, logger *zap.Logger) *Sweeper {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{comments: comments, clock: clock, cfg: cfg, logger: logger}
}

// Sweep performs one pass and returns the number of comments reclaimed.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	reclaimed, err := s.comments.SweepStale(ctx, s.cfg.StaleAfter, s.clock.Now())
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		s.logger.Warn("stale processing claims reclaimed",
			zap.Int64("reclaimed", reclaimed),
			zap.Duration("stale_after", s.cfg.StaleAfter))
	}
	return reclaimed, nil
}

// Run blocks, sweeping on the configured interval until the context finishes.
func (s *Sweeper) Run(ctx context.Context) {
	if s.cfg.Interval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("staleness sweep failed", zap.Error(err))
			}
		}
	}
}
