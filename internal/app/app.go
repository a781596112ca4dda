// Package app wires the service's long-lived dependencies and runs the HTTP
// server, the dispatcher pool, and the staleness sweeper.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/vrtlabs/feedback-pipeline/internal/api"
	"github.com/vrtlabs/feedback-pipeline/internal/chunker"
	"github.com/vrtlabs/feedback-pipeline/internal/clock/system"
	"github.com/vrtlabs/feedback-pipeline/internal/config"
	"github.com/vrtlabs/feedback-pipeline/internal/crawl"
	"github.com/vrtlabs/feedback-pipeline/internal/crawlstate"
	"github.com/vrtlabs/feedback-pipeline/internal/dispatcher"
	openaiembed "github.com/vrtlabs/feedback-pipeline/internal/embedding/openai"
	simpleembed "github.com/vrtlabs/feedback-pipeline/internal/embedding/simple"
	noopextract "github.com/vrtlabs/feedback-pipeline/internal/extraction/noop"
	openaiextract "github.com/vrtlabs/feedback-pipeline/internal/extraction/openai"
	"github.com/vrtlabs/feedback-pipeline/internal/hash/sha256"
	"github.com/vrtlabs/feedback-pipeline/internal/id/uuid"
	"github.com/vrtlabs/feedback-pipeline/internal/ledger"
	"github.com/vrtlabs/feedback-pipeline/internal/logging"
	"github.com/vrtlabs/feedback-pipeline/internal/matcher"
	"github.com/vrtlabs/feedback-pipeline/internal/metrics"
	"github.com/vrtlabs/feedback-pipeline/internal/pipeline"
	"github.com/vrtlabs/feedback-pipeline/internal/policy/ratelimit"
	"github.com/vrtlabs/feedback-pipeline/internal/progress"
	progresssinks "github.com/vrtlabs/feedback-pipeline/internal/progress/sinks"
	memorypublisher "github.com/vrtlabs/feedback-pipeline/internal/publisher/memory"
	gcppublisher "github.com/vrtlabs/feedback-pipeline/internal/publisher/pubsub"
	queuememory "github.com/vrtlabs/feedback-pipeline/internal/queue/memory"
	collysource "github.com/vrtlabs/feedback-pipeline/internal/source/colly"
	gcsstorage "github.com/vrtlabs/feedback-pipeline/internal/storage/gcs"
	localstorage "github.com/vrtlabs/feedback-pipeline/internal/storage/local"
	memorystorage "github.com/vrtlabs/feedback-pipeline/internal/storage/memory"
	pgstorage "github.com/vrtlabs/feedback-pipeline/internal/storage/postgres"
	"github.com/vrtlabs/feedback-pipeline/internal/telemetry"
	"github.com/vrtlabs/feedback-pipeline/internal/worker"
)

// stores groups the persistence interfaces the rest of the wiring consumes,
// regardless of whether they are backed by Postgres or memory.
type stores struct {
	comments pipeline.CommentStore
	jobs     pipeline.JobStore
	features pipeline.FeatureStore
	results  pipeline.ResultStore
	crawl    pipeline.CrawlStateStore
}

// App contains the application's dependencies.
type App struct {
	cfg            config.Config
	logger         *zap.Logger
	apiServer      *api.Server
	dispatch       *dispatcher.Dispatcher
	sweeper        *worker.Sweeper
	ldg            *ledger.Ledger
	batches        *worker.Runner
	crawls         *crawl.Runner
	queue          *queuememory.Queue
	progressHub    *progress.Hub
	pubsubClient   *pubsub.Client
	pubsubTopic    *pubsub.Topic
	gcsClient      *gstorage.Client
	pgPool         *pgxpool.Pool
	tracerShutdown func(context.Context) error
}

// Build creates the application's dependencies from config.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application",
		zap.Int("port", cfg.Server.Port),
		zap.String("pipeline_version", cfg.Pipeline.Version))

	tp, err := telemetry.InitTracerProvider(ctx, "feedback-pipeline")
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown

	st, err := setupStores(ctx, app)
	if err != nil {
		return nil, err
	}

	blobs, err := setupBlobStore(ctx, app)
	if err != nil {
		return nil, err
	}

	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	emitter, err := setupProgress(ctx, app)
	if err != nil {
		return nil, err
	}

	clock := system.New()
	hasher := sha256.New()
	idGen := uuid.New()

	ldg := ledger.New(st.jobs, idGen, clock, publisher, ledger.Config{
		PipelineVersion: cfg.Pipeline.Version,
		Topic:           cfg.PubSub.TopicName,
	}, logger.Named("ledger"))
	app.ldg = ldg

	processor, err := setupProcessor(app, st.features)
	if err != nil {
		return nil, err
	}

	batches := worker.NewRunner(st.comments, st.results, processor, ldg, clock, emitter, worker.Config{
		BatchSize:       cfg.Pipeline.BatchSize,
		PipelineVersion: cfg.Pipeline.Version,
	}, logger.Named("worker"))
	app.batches = batches

	app.sweeper = worker.NewSweeper(st.comments, clock, worker.SweeperConfig{
		StaleAfter: cfg.StaleAfter(),
		Interval:   cfg.SweepInterval(),
	}, logger.Named("sweeper"))

	crawls := setupCrawler(app, st, blobs, hasher, ldg, clock, emitter)
	app.crawls = crawls

	app.queue = queuememory.NewQueue(cfg.Pipeline.QueueDepth)
	app.dispatch = dispatcher.New(app.queue, batches, crawls, cfg.Pipeline.Workers, logger.Named("dispatcher"))

	app.apiServer = api.NewServer(ldg, st.comments, app.dispatch, clock, cfg, logger.Named("api"))

	return app, nil
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Pipeline.Workers))
		a.dispatch.Run(ctx)
	}()
	go func() {
		a.logger.Info("staleness sweeper started",
			zap.Duration("interval", a.cfg.SweepInterval()),
			zap.Duration("stale_after", a.cfg.StaleAfter()))
		a.sweeper.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

// Close gracefully releases every resource Build acquired.
func (a *App) Close(ctx context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.pubsubTopic != nil {
		a.pubsubTopic.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgPool != nil {
		a.pgPool.Close()
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
	return nil
}

func setupStores(ctx context.Context, app *App) (stores, error) {
	if app.cfg.DB.DSN == "" {
		app.logger.Warn("no db.dsn configured, using in-memory stores")
		return stores{
			comments: memorystorage.NewCommentStore(),
			jobs:     memorystorage.NewJobStore(),
			features: memorystorage.NewFeatureStore(),
			results:  memorystorage.NewResultStore(),
			crawl:    memorystorage.NewCrawlStateStore(),
		}, nil
	}
	pool, err := pgstorage.NewPool(ctx, pgstorage.PoolConfig{
		DSN:      app.cfg.DB.DSN,
		MaxConns: int32(app.cfg.DB.MaxOpenConns),
		MinConns: int32(app.cfg.DB.MaxIdleConns),
	})
	if err != nil {
		return stores{}, fmt.Errorf("postgres pool init failed: %w", err)
	}
	app.pgPool = pool
	app.logger.Info("postgres stores initialized")
	return stores{
		comments: pgstorage.NewCommentStore(pool),
		jobs:     pgstorage.NewJobStore(pool),
		features: pgstorage.NewFeatureStore(pool),
		results:  pgstorage.NewResultStore(pool),
		crawl:    pgstorage.NewCrawlStateStore(pool),
	}, nil
}

func setupBlobStore(ctx context.Context, app *App) (pipeline.BlobStore, error) {
	switch app.cfg.Storage.Backend {
	case "gcs":
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.gcsClient = client
		blobs, err := gcsstorage.New(ctx, client, gcsstorage.Config{Bucket: app.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Info("using gcs snapshot storage", zap.String("bucket", app.cfg.Storage.GCSBucket))
		return blobs, nil
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("using local snapshot storage", zap.String("dir", app.cfg.Storage.LocalDir))
		return blobs, nil
	default:
		app.logger.Info("page snapshots disabled")
		return nil, nil
	}
}

func setupPublisher(ctx context.Context, app *App) (pipeline.Publisher, error) {
	if app.cfg.PubSub.ProjectID == "" || app.cfg.PubSub.TopicName == "" {
		app.logger.Warn("no pub/sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	app.pubsubTopic = client.Topic(app.cfg.PubSub.TopicName)
	app.logger.Info("pub/sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName))
	return gcppublisher.New(app.pubsubTopic), nil
}

func setupProgress(ctx context.Context, app *App) (progress.Emitter, error) {
	promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("prometheus sink init failed: %w", err)
	}
	app.progressHub = progress.NewHub(progress.Config{
		BaseContext: ctx,
		Logger:      app.logger.Named("progress"),
	}, progresssinks.NewLogSink(app.logger.Named("progress_log")), promSink)
	return app.progressHub, nil
}

func setupProcessor(app *App, features pipeline.FeatureStore) (worker.Processor, error) {
	cfg := app.cfg
	var embedder pipeline.Embedder
	switch cfg.Embedding.Backend {
	case "openai":
		e, err := openaiembed.New(openaiembed.Config{
			BaseURL:    cfg.Embedding.BaseURL,
			APIKey:     cfg.Embedding.APIKey,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
			Timeout:    time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second,
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("embedder init failed: %w", err)
		}
		embedder = e
		app.logger.Info("using openai embedder", zap.String("model", cfg.Embedding.Model))
	default:
		embedder = simpleembed.New(cfg.Embedding.Dimensions)
		app.logger.Info("using hashing embedder", zap.Int("dimensions", cfg.Embedding.Dimensions))
	}
	embedder = metrics.InstrumentEmbedder(embedder)

	var extractor pipeline.Extractor
	switch cfg.Extraction.Backend {
	case "openai":
		x, err := openaiextract.New(openaiextract.Config{
			BaseURL:     cfg.Extraction.BaseURL,
			APIKey:      cfg.Extraction.APIKey,
			Model:       cfg.Extraction.Model,
			Temperature: cfg.Extraction.Temperature,
			Timeout:     time.Duration(cfg.Extraction.TimeoutSeconds) * time.Second,
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("extractor init failed: %w", err)
		}
		extractor = x
		app.logger.Info("using openai extractor", zap.String("model", cfg.Extraction.Model))
	default:
		extractor = noopextract.New()
	}

	chunks := chunker.New(chunker.Config{
		MaxChars:       cfg.Chunking.MaxChars,
		OverlapChars:   cfg.Chunking.OverlapChars,
		BoundaryWindow: cfg.Chunking.BoundaryWindow,
	})

	return newLazyProcessor(features, chunks, embedder, extractor, matcher.Config{
		SimilarityThreshold: cfg.Matching.SimilarityThreshold,
		TopK:                cfg.Matching.TopK,
		EmbedConcurrency:    cfg.Matching.EmbedConcurrency,
	}, app.logger.Named("matcher")), nil
}

func setupCrawler(
	app *App,
	st stores,
	blobs pipeline.BlobStore,
	hasher pipeline.Hasher,
	ldg *ledger.Ledger,
	clock pipeline.Clock,
	emitter progress.Emitter,
) *crawl.Runner {
	cfg := app.cfg
	tracker := crawlstate.NewTracker(st.crawl, st.comments, hasher, clock, crawlstate.Config{
		MinInterval: cfg.CrawlMinInterval(),
	}, app.logger.Named("crawlstate"))

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Crawl.RPS,
		DefaultBurst: cfg.Crawl.Burst,
	})

	source := collysource.New(collysource.Config{
		UserAgent:        cfg.Source.UserAgent,
		Timeout:          time.Duration(cfg.Source.TimeoutSeconds) * time.Second,
		CommentSelector:  cfg.Source.CommentSelector,
		IDAttr:           cfg.Source.IDAttr,
		TextSelector:     cfg.Source.TextSelector,
		PostedAtSelector: cfg.Source.PostedAtSelector,
		PostedAtLayout:   cfg.Source.PostedAtLayout,
		NextPageSelector: cfg.Source.NextPageSelector,
	}, limiter, app.logger.Named("source"))

	return crawl.NewRunner(tracker, source, blobs, hasher, ldg, clock, emitter, crawl.Config{
		BindingLimit:   cfg.Crawl.BindingLimit,
		MaxPages:       cfg.Crawl.MaxPages,
		FetchDelay:     time.Duration(cfg.Crawl.DelaySeconds) * time.Second,
		SnapshotPrefix: cfg.Storage.Prefix,
		ContentType:    cfg.Storage.ContentType,
	}, app.logger.Named("crawl"))
}
