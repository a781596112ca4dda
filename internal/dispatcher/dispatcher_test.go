package dispatcher

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vrtlabs/feedback-pipeline/internal/ledger"
	"github.com/vrtlabs/feedback-pipeline/internal/metrics"
	"github.com/vrtlabs/feedback-pipeline/internal/pipeline"
	qmemory "github.com/vrtlabs/feedback-pipeline/internal/queue/memory"
	"github.com/vrtlabs/feedback-pipeline/internal/storage/memory"
	"github.com/vrtlabs/feedback-pipeline/internal/worker"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

type tickingClock struct{ t time.Time }

func (c *tickingClock) Now() time.Time {
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

type seqIDGen struct{ n int }

func (g *seqIDGen) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("job-%d", g.n), nil
}

type stubProcessor struct{}

func (stubProcessor) ProcessComment(_ context.Context, comment pipeline.RawComment) ([]pipeline.ChunkResult, error) {
	return []pipeline.ChunkResult{{ChunkIndex: 0, ChunkText: comment.Content}}, nil
}

func newTestRunner(t *testing.T) (*worker.Runner, *ledger.Ledger, *memory.CommentStore, *memory.JobStore) {
	t.Helper()
	clock := &tickingClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	comments := memory.NewCommentStore()
	results := memory.NewResultStore()
	jobs := memory.NewJobStore()
	ldg := ledger.New(jobs, &seqIDGen{}, clock, nil, ledger.Config{PipelineVersion: "v1.4.0"}, zap.NewNop())
	runner := worker.NewRunner(comments, results, stubProcessor{}, ldg, clock, nil, worker.Config{
		BatchSize:       10,
		PipelineVersion: "v1.4.0",
	}, zap.NewNop())
	return runner, ldg, comments, jobs
}

func TestDispatcherProcessesTask(t *testing.T) {
	runner, ldg, comments, jobs := newTestRunner(t)
	queue := qmemory.NewQueue(4)
	d := New(queue, runner, nil, 2, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	_, err := comments.Admit(ctx, pipeline.AdmitRequest{
		BindingID:  1,
		ExternalID: "c-1",
		Content:    "the ride is smooth on the highway",
	})
	require.NoError(t, err)
	job, err := ldg.Open(ctx, pipeline.JobTypeCommentProcessing, nil, "test")
	require.NoError(t, err)

	require.NoError(t, d.Enqueue(ctx, pipeline.Task{Kind: pipeline.TaskProcess, JobID: job.ID}))

	require.Eventually(t, func() bool {
		stored, getErr := jobs.GetJob(context.Background(), job.ID)
		return getErr == nil && stored.Status == pipeline.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond, "job did not complete")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after cancel")
	}
}

func TestDispatcherDropsCrawlWhenDisabled(t *testing.T) {
	runner, ldg, _, jobs := newTestRunner(t)
	queue := qmemory.NewQueue(1)
	d := New(queue, runner, nil, 1, zap.NewNop())

	job, err := ldg.Open(context.Background(), pipeline.JobTypeCommentCrawl, nil, "test")
	require.NoError(t, err)

	d.dispatch(context.Background(), pipeline.Task{Kind: pipeline.TaskCrawl, JobID: job.ID})

	stored, err := jobs.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, pipeline.JobStatusPending, stored.Status)
}

func TestDispatcherIgnoresUnknownKind(t *testing.T) {
	runner, _, _, _ := newTestRunner(t)
	queue := qmemory.NewQueue(1)
	d := New(queue, runner, nil, 1, zap.NewNop())

	d.dispatch(context.Background(), pipeline.Task{Kind: "mystery", JobID: "job-x"})
}

func TestDispatcherStopsWhenQueueCloses(t *testing.T) {
	runner, _, _, _ := newTestRunner(t)
	queue := qmemory.NewQueue(1)
	d := New(queue, runner, nil, 2, zap.NewNop())

	done := make(chan struct{})
	go func() {
		d.Run(context.Background())
		close(done)
	}()

	queue.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after queue close")
	}
}
