package matcher

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vrtlabs/feedback-pipeline/internal/chunker"
	"github.com/vrtlabs/feedback-pipeline/internal/pipeline"
)

// Config controls engine behavior.
type Config struct {
	// SimilarityThreshold is the minimum best score for a chunk to be
	// matched to a feature.
	SimilarityThreshold float64
	// TopK is how many candidates are recorded in each chunk's trace.
	TopK int
	// EmbedConcurrency bounds how many chunks of one comment are embedded
	// in parallel.
	EmbedConcurrency int
	// QueryPreviewLen truncates the trace's query preview, in runes.
	QueryPreviewLen int
}

// Engine turns one comment's text into per-chunk results: chunk, embed,
// retrieve, threshold, extract. The engine has no side effects; persistence
// belongs to the caller.
type Engine struct {
	chunks    *chunker.Chunker
	index     *Index
	embedder  pipeline.Embedder
	extractor pipeline.Extractor
	cfg       Config
	logger    *zap.Logger
}

// New constructs an Engine. The extractor may be nil, in which case
// extraction fields stay null on every result.
func New(
	chunks *chunker.Chunker,
	index *Index,
	embedder pipeline.Embedder,
	extractor pipeline.Extractor,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.EmbedConcurrency <= 0 {
		cfg.EmbedConcurrency = 4
	}
	if cfg.QueryPreviewLen <= 0 {
		cfg.QueryPreviewLen = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		chunks:    chunks,
		index:     index,
		embedder:  embedder,
		extractor: extractor,
		cfg:       cfg,
		logger:    logger,
	}
}

// ProcessComment processes one comment and returns one result per chunk, in
// chunk order. Per-chunk embedding failures are recorded on the result, not
// returned; ErrUnprocessable is returned when the text yields no chunks at
// all.
func (e *Engine) ProcessComment(ctx context.Context, comment pipeline.RawComment) ([]pipeline.ChunkResult, error) {
	parts := e.chunks.Split(comment.Content)
	if len(parts) == 0 {
		return nil, fmt.Errorf("comment %d has no content: %w", comment.ID, pipeline.ErrUnprocessable)
	}

	results := make([]pipeline.ChunkResult, len(parts))

	// Embed chunks in parallel; the results slice keeps chunk order by
	// index. Embedding errors are per-chunk and never cancel siblings,
	// so no goroutine ever returns an error to the group.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.EmbedConcurrency)
	for i, part := range parts {
		g.Go(func() error {
			results[i] = e.processChunk(gctx, part)
			return nil
		})
	}
	_ = g.Wait()

	return results, nil
}

// processChunk runs embed -> retrieve -> threshold -> extract for one chunk.
func (e *Engine) processChunk(ctx context.Context, part chunker.Chunk) pipeline.ChunkResult {
	res := pipeline.ChunkResult{
		ChunkIndex: part.Index,
		ChunkText:  part.Text,
		Trace: pipeline.SearchTrace{
			Query: preview(part.Text, e.cfg.QueryPreviewLen),
		},
	}

	vector, err := e.embedder.Embed(ctx, part.Text)
	if err != nil {
		e.logger.Warn("chunk embedding failed",
			zap.Int("chunk_index", part.Index),
			zap.Error(err))
		res.ErrorText = err.Error()
		res.Trace.Error = err.Error()
		return res
	}
	res.ChunkVector = vector

	candidates, err := e.index.Search(vector, e.cfg.TopK)
	if err != nil {
		res.ErrorText = err.Error()
		res.Trace.Error = err.Error()
		return res
	}
	res.Trace.Candidates = candidates

	best := candidates[0]
	if best.Score >= e.cfg.SimilarityThreshold {
		id := best.FeatureID
		score := best.Score
		res.FeatureID = &id
		res.Similarity = &score
		e.logger.Debug("chunk matched feature",
			zap.Int64("feature_id", id),
			zap.Float64("score", score))
	}

	e.extract(ctx, &res)
	return res
}

// extract fills the structured fields when an extractor is configured.
// Extraction failure degrades the result to retrieval-only; it is not an
// error.
func (e *Engine) extract(ctx context.Context, res *pipeline.ChunkResult) {
	if e.extractor == nil {
		return
	}
	var feature *pipeline.ProductFeature
	if res.FeatureID != nil {
		if f, ok := e.index.Feature(*res.FeatureID); ok {
			feature = &f
		}
	}
	ext, err := e.extractor.Extract(ctx, res.ChunkText, feature)
	if err != nil {
		if !errors.Is(err, pipeline.ErrExtractionFailed) {
			err = fmt.Errorf("%w: %v", pipeline.ErrExtractionFailed, err)
		}
		e.logger.Warn("chunk extraction failed",
			zap.Int("chunk_index", res.ChunkIndex),
			zap.Error(err))
		return
	}
	scene := ext.Scene
	sentiment := ext.Sentiment
	res.Scene = &scene
	res.Sentiment = &sentiment
	if ext.Summary != "" {
		summary := ext.Summary
		res.Summary = &summary
	}
}

func preview(text string, maxRunes int) string {
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return string(runes[:maxRunes]) + "..."
}
