package crawlstate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vrtlabs/feedback-pipeline/internal/hash/sha256"
	"github.com/vrtlabs/feedback-pipeline/internal/pipeline"
	"github.com/vrtlabs/feedback-pipeline/internal/storage/memory"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestTracker(t *testing.T, minInterval time.Duration) (*Tracker, *memory.CrawlStateStore, *memory.CommentStore) {
	t.Helper()
	state := memory.NewCrawlStateStore()
	comments := memory.NewCommentStore()
	tracker := NewTracker(state, comments, sha256.New(), fixedClock{t: testNow}, Config{
		MinInterval: minInterval,
	}, zap.NewNop())
	return tracker, state, comments
}

func TestShouldCrawlNeverCrawledBinding(t *testing.T) {
	tracker, _, _ := newTestTracker(t, 6*time.Hour)

	binding := pipeline.VehicleChannelBinding{ID: 1}
	assert.True(t, tracker.ShouldCrawl(binding, false))
}

func TestShouldCrawlRespectsMinInterval(t *testing.T) {
	tracker, _, _ := newTestTracker(t, 6*time.Hour)

	recent := testNow.Add(-time.Hour)
	old := testNow.Add(-7 * time.Hour)

	assert.False(t, tracker.ShouldCrawl(pipeline.VehicleChannelBinding{ID: 1, LastCommentCrawledAt: &recent}, false))
	assert.True(t, tracker.ShouldCrawl(pipeline.VehicleChannelBinding{ID: 2, LastCommentCrawledAt: &old}, false))
}

func TestShouldCrawlForceBypassesInterval(t *testing.T) {
	tracker, _, _ := newTestTracker(t, 6*time.Hour)

	recent := testNow.Add(-time.Minute)
	assert.True(t, tracker.ShouldCrawl(pipeline.VehicleChannelBinding{ID: 1, LastCommentCrawledAt: &recent}, true))
}

func TestAdmitHashesContentAndAbsorbsDuplicates(t *testing.T) {
	tracker, _, comments := newTestTracker(t, 0)
	binding := pipeline.VehicleChannelBinding{ID: 7}
	payload := pipeline.CommentPayload{
		ExternalID: "c-100",
		Content:    "the ride is smooth on the highway",
		SourceURL:  "https://reviews.example/c-100",
	}

	outcome, err := tracker.Admit(context.Background(), binding, payload, "gs://snapshots/7/c-100.html")
	require.NoError(t, err)
	assert.Equal(t, pipeline.AdmitInserted, outcome)

	outcome, err = tracker.Admit(context.Background(), binding, payload, "gs://snapshots/7/c-100.html")
	require.NoError(t, err)
	assert.Equal(t, pipeline.AdmitDuplicate, outcome)

	counts, err := comments.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[pipeline.CommentStatusNew])
}

func TestAdmitRejectsEmptyExternalID(t *testing.T) {
	tracker, _, _ := newTestTracker(t, 0)

	_, err := tracker.Admit(context.Background(), pipeline.VehicleChannelBinding{ID: 1}, pipeline.CommentPayload{
		Content: "no id",
	}, "")
	assert.Error(t, err)
}

func TestRecordSuccessUsesNewestPostedAt(t *testing.T) {
	tracker, state, _ := newTestTracker(t, 0)
	state.PutBinding(pipeline.VehicleChannelBinding{ID: 3})

	older := testNow.Add(-48 * time.Hour)
	newer := testNow.Add(-2 * time.Hour)
	payloads := []pipeline.CommentPayload{
		{ExternalID: "a", PostedAt: &older},
		{ExternalID: "b", PostedAt: &newer},
		{ExternalID: "c"},
	}

	require.NoError(t, tracker.RecordSuccess(context.Background(), 3, payloads))

	binding, err := state.GetBinding(context.Background(), 3)
	require.NoError(t, err)
	require.NotNil(t, binding.LastCommentCrawledAt)
	assert.True(t, binding.LastCommentCrawledAt.Equal(newer))
}

func TestRecordSuccessFallsBackToClock(t *testing.T) {
	tracker, state, _ := newTestTracker(t, 0)
	state.PutBinding(pipeline.VehicleChannelBinding{ID: 4})

	require.NoError(t, tracker.RecordSuccess(context.Background(), 4, nil))

	binding, err := state.GetBinding(context.Background(), 4)
	require.NoError(t, err)
	require.NotNil(t, binding.LastCommentCrawledAt)
	assert.True(t, binding.LastCommentCrawledAt.Equal(testNow))
}

func TestRecordSuccessKeepsNewerMark(t *testing.T) {
	tracker, state, _ := newTestTracker(t, 0)
	existing := testNow.Add(-time.Hour)
	state.PutBinding(pipeline.VehicleChannelBinding{ID: 5, LastCommentCrawledAt: &existing})

	stale := testNow.Add(-24 * time.Hour)
	require.NoError(t, tracker.RecordSuccess(context.Background(), 5, []pipeline.CommentPayload{
		{ExternalID: "old", PostedAt: &stale},
	}))

	binding, err := state.GetBinding(context.Background(), 5)
	require.NoError(t, err)
	assert.True(t, binding.LastCommentCrawledAt.Equal(existing))
}
