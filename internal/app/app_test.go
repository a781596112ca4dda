package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vrtlabs/feedback-pipeline/internal/chunker"
	"github.com/vrtlabs/feedback-pipeline/internal/config"
	simpleembed "github.com/vrtlabs/feedback-pipeline/internal/embedding/simple"
	noopextract "github.com/vrtlabs/feedback-pipeline/internal/extraction/noop"
	"github.com/vrtlabs/feedback-pipeline/internal/matcher"
	"github.com/vrtlabs/feedback-pipeline/internal/pipeline"
	memorystorage "github.com/vrtlabs/feedback-pipeline/internal/storage/memory"
)

func testConfig() config.Config {
	cfg := config.Config{}
	cfg.Server.Port = 0
	cfg.Pipeline.Version = "test"
	cfg.Pipeline.BatchSize = 10
	cfg.Pipeline.StaleAfterMinutes = 30
	cfg.Pipeline.SweepIntervalSec = 300
	cfg.Pipeline.QueueDepth = 8
	cfg.Pipeline.Workers = 1
	cfg.Chunking.MaxChars = 300
	cfg.Chunking.OverlapChars = 50
	cfg.Matching.SimilarityThreshold = 0.7
	cfg.Matching.TopK = 5
	cfg.Embedding.Backend = "simple"
	cfg.Embedding.Dimensions = 64
	cfg.Extraction.Backend = "noop"
	cfg.Crawl.BindingLimit = 5
	cfg.Crawl.MaxPages = 2
	cfg.Storage.Backend = "none"
	return cfg
}

func TestBuildWithMemoryBackends(t *testing.T) {
	app, err := Build(context.Background(), testConfig())
	require.NoError(t, err)

	assert.NotNil(t, app.apiServer)
	assert.NotNil(t, app.dispatch)
	assert.NotNil(t, app.sweeper)
	assert.NotNil(t, app.queue)
	assert.NotNil(t, app.progressHub)
	assert.Nil(t, app.pgPool)
	assert.Nil(t, app.pubsubClient)
	assert.Nil(t, app.gcsClient)

	require.NoError(t, app.Close(context.Background()))
}

func TestLazyProcessorNotReadyWithoutFeatures(t *testing.T) {
	p := newLazyProcessor(
		memorystorage.NewFeatureStore(),
		chunker.New(chunker.Config{MaxChars: 100}),
		simpleembed.New(16),
		noopextract.New(),
		matcher.Config{SimilarityThreshold: 0.5},
		zap.NewNop(),
	)

	err := p.Ready(context.Background())
	require.ErrorIs(t, err, pipeline.ErrIndexUnavailable)
}

func TestLazyProcessorProcessesOnceReady(t *testing.T) {
	ctx := context.Background()
	emb := simpleembed.New(16)
	vec, err := emb.Embed(ctx, "battery range in winter")
	require.NoError(t, err)

	features := memorystorage.NewFeatureStore(pipeline.ProductFeature{
		ID:        7,
		Code:      "RANGE",
		Name:      "battery range",
		Embedding: vec,
	})
	p := newLazyProcessor(
		features,
		chunker.New(chunker.Config{MaxChars: 200}),
		emb,
		noopextract.New(),
		matcher.Config{SimilarityThreshold: 0.9, TopK: 3},
		zap.NewNop(),
	)

	require.NoError(t, p.Ready(ctx))

	results, err := p.ProcessComment(ctx, pipeline.RawComment{
		ID:      1,
		Content: "battery range in winter",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NotNil(t, results[0].FeatureID)
	assert.Equal(t, int64(7), *results[0].FeatureID)
}
