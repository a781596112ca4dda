// Package metrics exposes Prometheus collectors for the pipeline service.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vrtlabs/feedback-pipeline/internal/pipeline"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	embeddingRequestsTotal     *prometheus.CounterVec
	embeddingDurationSeconds   prometheus.Histogram
	sweepReclaimedTotal        prometheus.Counter
	claimBatchSize             prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		embeddingRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_embedding_requests_total",
				Help: "Total embedding calls, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		embeddingDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pipeline_embedding_duration_seconds",
				Help:    "Histogram of embedding call latencies.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
		)

		sweepReclaimedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pipeline_sweep_reclaimed_total",
				Help: "Total comments returned to the queue by staleness sweeps.",
			},
		)

		claimBatchSize = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pipeline_claim_batch_size",
				Help:    "Histogram of claimed batch sizes.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250},
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveEmbedding records one embedding call.
func ObserveEmbedding(err error, duration time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	embeddingRequestsTotal.WithLabelValues(outcome).Inc()
	embeddingDurationSeconds.Observe(duration.Seconds())
}

// ObserveSweep records reclaimed comments from one sweep pass.
func ObserveSweep(reclaimed int64) {
	if reclaimed > 0 {
		sweepReclaimedTotal.Add(float64(reclaimed))
	}
}

// ObserveClaim records the size of one claimed batch.
func ObserveClaim(size int) {
	claimBatchSize.Observe(float64(size))
}

// InstrumentEmbedder wraps an embedder with call metrics.
func InstrumentEmbedder(inner pipeline.Embedder) pipeline.Embedder {
	return &instrumentedEmbedder{inner: inner}
}

type instrumentedEmbedder struct {
	inner pipeline.Embedder
}

func (e *instrumentedEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	start := time.Now()
	vector, err := e.inner.Embed(ctx, text)
	ObserveEmbedding(err, time.Since(start))
	return vector, err
}

func (e *instrumentedEmbedder) Dimensions() int {
	return e.inner.Dimensions()
}
