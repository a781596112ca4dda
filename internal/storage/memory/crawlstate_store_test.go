package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vrtlabs/feedback-pipeline/internal/pipeline"
)

func TestRecordCrawlSuccessMonotonic(t *testing.T) {
	t.Parallel()

	s := NewCrawlStateStore()
	s.PutBinding(pipeline.VehicleChannelBinding{ID: 1, ChannelID: 1, ExternalID: "v-1"})
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	later := base.Add(time.Hour)

	require.NoError(t, s.RecordCrawlSuccess(ctx, 1, later))
	// An older completion arriving late must not move the timestamp back.
	require.NoError(t, s.RecordCrawlSuccess(ctx, 1, base))

	b, err := s.GetBinding(ctx, 1)
	require.NoError(t, err)
	require.True(t, b.LastCommentCrawledAt.Equal(later))
}

func TestRecordCrawlSuccessNeverDecreasesUnderConcurrency(t *testing.T) {
	t.Parallel()

	s := NewCrawlStateStore()
	s.PutBinding(pipeline.VehicleChannelBinding{ID: 1, ChannelID: 1, ExternalID: "v-1"})
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.RecordCrawlSuccess(ctx, 1, base.Add(time.Duration(i)*time.Minute))
		}()
	}
	wg.Wait()

	b, err := s.GetBinding(ctx, 1)
	require.NoError(t, err)
	require.True(t, b.LastCommentCrawledAt.Equal(base.Add(49*time.Minute)))
}

func TestDueBindingsOrdering(t *testing.T) {
	t.Parallel()

	s := NewCrawlStateStore()
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	s.PutBinding(pipeline.VehicleChannelBinding{ID: 1, ChannelID: 1, ExternalID: "recent", LastCommentCrawledAt: &recent})
	s.PutBinding(pipeline.VehicleChannelBinding{ID: 2, ChannelID: 1, ExternalID: "never"})
	s.PutBinding(pipeline.VehicleChannelBinding{ID: 3, ChannelID: 1, ExternalID: "old", LastCommentCrawledAt: &old})

	got, err := s.DueBindings(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	// Never-crawled first, then stalest.
	require.Equal(t, int64(2), got[0].ID)
	require.Equal(t, int64(3), got[1].ID)
	require.Equal(t, int64(1), got[2].ID)
}

func TestDueBindingsLimit(t *testing.T) {
	t.Parallel()

	s := NewCrawlStateStore()
	for i := int64(1); i <= 5; i++ {
		s.PutBinding(pipeline.VehicleChannelBinding{ID: i, ChannelID: 1, ExternalID: "x"})
	}

	got, err := s.DueBindings(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestRecordCrawlSuccessMissingBinding(t *testing.T) {
	t.Parallel()

	s := NewCrawlStateStore()
	err := s.RecordCrawlSuccess(context.Background(), 42, time.Now().UTC())
	require.ErrorIs(t, err, pipeline.ErrNotFound)
}
