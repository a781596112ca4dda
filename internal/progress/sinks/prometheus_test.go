package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/vrtlabs/feedback-pipeline/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	jobID := "0195f040-0000-7000-8000-000000000001"
	batch := []progress.Event{
		{JobID: jobID, TS: time.Now(), Stage: progress.StageJobStart},
		{
			JobID:     jobID,
			TS:        time.Now().Add(time.Second),
			Stage:     progress.StageCommentDone,
			CommentID: 101,
			Chunks:    3,
			Outcome:   progress.OutcomeCompleted,
			Dur:       200 * time.Millisecond,
		},
		{
			JobID:     jobID,
			TS:        time.Now().Add(2 * time.Second),
			Stage:     progress.StageCommentDone,
			CommentID: 102,
			Outcome:   progress.OutcomeFailed,
			Dur:       50 * time.Millisecond,
		},
		{JobID: jobID, TS: time.Now().Add(15 * time.Second), Stage: progress.StageJobDone, Dur: 15 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.jobsRunning))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.commentsProcessed.WithLabelValues("completed")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.commentsProcessed.WithLabelValues("failed")))
	require.Equal(t, 3.0, testutil.ToFloat64(sink.chunksProduced))
	require.Equal(t, 2, testutil.CollectAndCount(sink.commentDuration, "pipeline_comment_duration_seconds"))
}

// TestPrometheusSinkCrawlEvents checks crawl completions and admissions.
func TestPrometheusSinkCrawlEvents(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	jobID := "0195f040-0000-7000-8000-000000000002"
	batch := []progress.Event{
		{
			JobID:     jobID,
			TS:        time.Now(),
			Stage:     progress.StageCrawlDone,
			BindingID: 9,
			Admitted:  12,
			Outcome:   progress.OutcomeCompleted,
		},
		{
			JobID:     jobID,
			TS:        time.Now(),
			Stage:     progress.StageCrawlDone,
			BindingID: 10,
			Outcome:   progress.OutcomeFailed,
		},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.crawlBindings.WithLabelValues("completed")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.crawlBindings.WithLabelValues("failed")))
	require.Equal(t, 12.0, testutil.ToFloat64(sink.crawlAdmissions))
}
