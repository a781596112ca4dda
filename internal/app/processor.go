package app

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/vrtlabs/feedback-pipeline/internal/chunker"
	"github.com/vrtlabs/feedback-pipeline/internal/matcher"
	"github.com/vrtlabs/feedback-pipeline/internal/pipeline"
)

// lazyProcessor defers building the matcher engine until the first batch
// runs, so the service can start before any product features exist. The
// feature index is read once and cached for the process lifetime; a taxonomy
// change requires a restart to take effect.
type lazyProcessor struct {
	features  pipeline.FeatureStore
	chunks    *chunker.Chunker
	embedder  pipeline.Embedder
	extractor pipeline.Extractor
	cfg       matcher.Config
	logger    *zap.Logger

	mu     sync.Mutex
	engine *matcher.Engine
}

func newLazyProcessor(
	features pipeline.FeatureStore,
	chunks *chunker.Chunker,
	embedder pipeline.Embedder,
	extractor pipeline.Extractor,
	cfg matcher.Config,
	logger *zap.Logger,
) *lazyProcessor {
	return &lazyProcessor{
		features:  features,
		chunks:    chunks,
		embedder:  embedder,
		extractor: extractor,
		cfg:       cfg,
		logger:    logger,
	}
}

// Ready builds and caches the engine. A job whose preflight fails here is
// recorded as failed without claiming any comments.
func (p *lazyProcessor) Ready(ctx context.Context) error {
	_, err := p.ensure(ctx)
	return err
}

// ProcessComment delegates to the cached engine.
func (p *lazyProcessor) ProcessComment(ctx context.Context, comment pipeline.RawComment) ([]pipeline.ChunkResult, error) {
	engine, err := p.ensure(ctx)
	if err != nil {
		return nil, err
	}
	return engine.ProcessComment(ctx, comment)
}

func (p *lazyProcessor) ensure(ctx context.Context) (*matcher.Engine, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.engine != nil {
		return p.engine, nil
	}
	features, err := p.features.ListFeatures(ctx)
	if err != nil {
		return nil, fmt.Errorf("list features: %w", err)
	}
	index, err := matcher.NewIndex(features)
	if err != nil {
		return nil, err
	}
	p.engine = matcher.New(p.chunks, index, p.embedder, p.extractor, p.cfg, p.logger)
	p.logger.Info("feature index built", zap.Int("features", index.Len()))
	return p.engine, nil
}
