package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/vrtlabs/feedback-pipeline/internal/pipeline"
)

var bindingTestColumns = []string{
	"vehicle_channel_id", "vehicle_id_fk", "channel_id_fk", "identifier_on_channel",
	"name_on_channel", "url_on_channel", "temp_brand_name", "temp_series_name",
	"temp_model_year", "last_comment_crawled_at",
}

func TestDueBindingsNullsFirst(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewCrawlStateStore(mock)
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows(bindingTestColumns).
		AddRow(int64(2), (*int64)(nil), int64(1), "never-crawled", "Model A",
			nil, nil, nil, nil, (*time.Time)(nil)).
		AddRow(int64(3), (*int64)(nil), int64(1), "stale", "Model B",
			ptr("https://example.com/b"), ptr("BrandB"), ptr("SeriesB"), ptr("2024"), &old)

	mock.ExpectQuery("SELECT").
		WithArgs(20).
		WillReturnRows(rows)

	got, err := store.DueBindings(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Nil(t, got[0].LastCommentCrawledAt)
	require.Equal(t, "BrandB", got[1].TempBrand)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordCrawlSuccessAdvances(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewCrawlStateStore(mock)
	at := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE vehicle_channel_details SET last_comment_crawled_at").
		WithArgs(at, int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.RecordCrawlSuccess(context.Background(), 3, at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordCrawlSuccessStaleTimestampAbsorbed(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewCrawlStateStore(mock)
	at := time.Unix(1700000000, 0).UTC()
	newer := at.Add(time.Hour)

	// Zero rows affected because a newer timestamp is stored; the store
	// re-reads the binding to confirm it exists and treats the stale
	// update as success.
	mock.ExpectExec("UPDATE vehicle_channel_details SET last_comment_crawled_at").
		WithArgs(at, int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT").
		WithArgs(int64(3)).
		WillReturnRows(pgxmock.NewRows(bindingTestColumns).
			AddRow(int64(3), (*int64)(nil), int64(1), "v-1", "Model A",
				nil, nil, nil, nil, &newer))

	require.NoError(t, store.RecordCrawlSuccess(context.Background(), 3, at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordCrawlSuccessMissingBinding(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewCrawlStateStore(mock)
	at := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE vehicle_channel_details SET last_comment_crawled_at").
		WithArgs(at, int64(99)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT").
		WithArgs(int64(99)).
		WillReturnRows(pgxmock.NewRows(bindingTestColumns))

	err = store.RecordCrawlSuccess(context.Background(), 99, at)
	require.ErrorIs(t, err, pipeline.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
