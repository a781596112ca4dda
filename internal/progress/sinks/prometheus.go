package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vrtlabs/feedback-pipeline/internal/progress"
)

// PrometheusSink exports pipeline progress metrics via Prometheus. It owns all
// collectors for jobs started/completed/running, per-outcome comment counters,
// and crawl admissions.
type PrometheusSink struct {
	jobsStarted   prometheus.Counter
	jobsCompleted *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobRuntime    *prometheus.HistogramVec

	commentsProcessed *prometheus.CounterVec
	chunksProduced    prometheus.Counter
	commentDuration   *prometheus.HistogramVec

	crawlBindings   *prometheus.CounterVec
	crawlAdmissions prometheus.Counter

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_jobs_started_total",
			Help: "Total batch jobs that have started.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_jobs_completed_total",
			Help: "Total batch jobs completed partitioned by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_jobs_running",
			Help: "Current number of running batch jobs.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_job_runtime_seconds",
			Help:    "Wall time per completed batch job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		commentsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_comments_processed_total",
			Help: "Comment completions partitioned by outcome.",
		}, []string{"outcome"}),
		chunksProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_chunks_produced_total",
			Help: "Chunk result rows produced across all comments.",
		}),
		commentDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_comment_duration_seconds",
			Help:    "Processing duration per comment partitioned by outcome.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"outcome"}),
		crawlBindings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_crawl_bindings_total",
			Help: "Crawled bindings partitioned by outcome.",
		}, []string{"outcome"}),
		crawlAdmissions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_crawl_admissions_total",
			Help: "Fresh comments admitted by crawl runs.",
		}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsCompleted,
		s.jobsRunning,
		s.jobRuntime,
		s.commentsProcessed,
		s.chunksProduced,
		s.commentDuration,
		s.crawlBindings,
		s.crawlAdmissions,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageJobStart, progress.StageJobDone, progress.StageJobError:
		s.handleJobEvent(evt)
	case progress.StageCommentDone:
		s.handleCommentEvent(evt)
	case progress.StageCrawlDone:
		s.handleCrawlEvent(evt)
	}
}

func (s *PrometheusSink) handleJobEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageJobStart:
		s.jobsStarted.Inc()
		if s.tracker.start(evt.JobID) {
			s.jobsRunning.Inc()
		}
	case progress.StageJobDone:
		s.jobsCompleted.WithLabelValues("success").Inc()
		s.observeRuntime(evt, "success")
	case progress.StageJobError:
		s.jobsCompleted.WithLabelValues("error").Inc()
		s.observeRuntime(evt, "error")
	}
	if evt.Stage != progress.StageJobStart && s.tracker.complete(evt.JobID) {
		s.jobsRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleCommentEvent(evt progress.Event) {
	outcome := string(evt.Outcome)
	if outcome == "" {
		outcome = string(progress.OutcomeFailed)
	}
	s.commentsProcessed.WithLabelValues(outcome).Inc()
	if evt.Chunks > 0 {
		s.chunksProduced.Add(float64(evt.Chunks))
	}
	if evt.Dur > 0 {
		s.commentDuration.WithLabelValues(outcome).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleCrawlEvent(evt progress.Event) {
	outcome := string(evt.Outcome)
	if outcome == "" {
		outcome = string(progress.OutcomeFailed)
	}
	s.crawlBindings.WithLabelValues(outcome).Inc()
	if evt.Admitted > 0 {
		s.crawlAdmissions.Add(float64(evt.Admitted))
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type jobTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]struct{})}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
