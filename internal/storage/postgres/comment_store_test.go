package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/vrtlabs/feedback-pipeline/internal/pipeline"
)

var commentColumns = []string{
	"raw_comment_id", "vehicle_channel_id_fk", "identifier_on_channel",
	"comment_content", "comment_source_url", "posted_at_on_channel", "crawled_at",
	"content_hash", "snapshot_uri", "processing_status", "status_changed_at",
	"claimed_by_job_id", "failure_reason",
}

func TestAdmitInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewCommentStore(mock)

	mock.ExpectExec("INSERT INTO raw_comments").
		WithArgs(int64(7), "ext-1", "great seats", "https://example.com/c/1",
			(*time.Time)(nil), "abc123", "memory://snap/1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	outcome, err := store.Admit(context.Background(), pipeline.AdmitRequest{
		BindingID:   7,
		ExternalID:  "ext-1",
		Content:     "great seats",
		SourceURL:   "https://example.com/c/1",
		ContentHash: "abc123",
		SnapshotURI: "memory://snap/1",
	})
	require.NoError(t, err)
	require.Equal(t, pipeline.AdmitInserted, outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdmitDuplicateAbsorbed(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewCommentStore(mock)

	// ON CONFLICT DO NOTHING reports zero rows affected for a replay.
	mock.ExpectExec("INSERT INTO raw_comments").
		WithArgs(int64(7), "ext-1", "great seats", "", (*time.Time)(nil), "", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	outcome, err := store.Admit(context.Background(), pipeline.AdmitRequest{
		BindingID: 7, ExternalID: "ext-1", Content: "great seats",
	})
	require.NoError(t, err)
	require.Equal(t, pipeline.AdmitDuplicate, outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimBatchSingleStatement(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewCommentStore(mock)
	now := time.Unix(1700000000, 0).UTC()

	rows := pgxmock.NewRows(commentColumns).
		AddRow(int64(1), int64(7), "ext-1", "text one", nil, nil, now,
			nil, nil, "processing", now, ptr("job-1"), nil).
		AddRow(int64(2), int64(7), "ext-2", "text two", nil, nil, now,
			nil, nil, "processing", now, ptr("job-1"), nil)

	// The claim is one UPDATE ... RETURNING; the select and flip never
	// split into two round-trips.
	mock.ExpectQuery("UPDATE raw_comments SET").
		WithArgs("job-1", now, 2).
		WillReturnRows(rows)

	claimed, err := store.ClaimBatch(context.Background(), 2, "job-1", now)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	require.Equal(t, pipeline.CommentStatusProcessing, claimed[0].Status)
	require.Equal(t, "job-1", claimed[0].ClaimedByJobID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimBatchZeroLimitNoQuery(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewCommentStore(mock)
	claimed, err := store.ClaimBatch(context.Background(), 0, "job-1", time.Now())
	require.NoError(t, err)
	require.Empty(t, claimed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseCompleted(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewCommentStore(mock)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE raw_comments SET").
		WithArgs("completed", "", now, int64(5)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.Release(context.Background(), 5, pipeline.ReleaseCompleted, "", now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseNotProcessingIsInvalidTransition(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewCommentStore(mock)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE raw_comments SET").
		WithArgs("failed", "embed timeout", now, int64(5)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.Release(context.Background(), 5, pipeline.ReleaseFailed, "embed timeout", now)
	require.ErrorIs(t, err, pipeline.ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepStaleReturnsReclaimedCount(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewCommentStore(mock)
	now := time.Unix(1700000000, 0).UTC()
	cutoff := now.Add(-30 * time.Minute)

	mock.ExpectExec("UPDATE raw_comments SET").
		WithArgs(now, cutoff).
		WillReturnResult(pgxmock.NewResult("UPDATE", 5))

	reclaimed, err := store.SweepStale(context.Background(), 30*time.Minute, now)
	require.NoError(t, err)
	require.Equal(t, int64(5), reclaimed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequeueFailedLimited(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewCommentStore(mock)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE raw_comments SET").
		WithArgs(now, 3).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	requeued, err := store.RequeueFailed(context.Background(), 3, now)
	require.NoError(t, err)
	require.Equal(t, int64(2), requeued)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequeueFailedUnlimited(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewCommentStore(mock)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE raw_comments SET").
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 7))

	requeued, err := store.RequeueFailed(context.Background(), 0, now)
	require.NoError(t, err)
	require.Equal(t, int64(7), requeued)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCommentCarriesFailureReason(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewCommentStore(mock)
	now := time.Unix(1700000000, 0).UTC()

	rows := pgxmock.NewRows(commentColumns).
		AddRow(int64(5), int64(7), "ext-5", "noisy brakes", nil, nil, now,
			nil, nil, "failed", now, nil, ptr("embed timeout"))

	mock.ExpectQuery("SELECT").
		WithArgs(int64(5)).
		WillReturnRows(rows)

	comment, err := store.GetComment(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, pipeline.CommentStatusFailed, comment.Status)
	require.Equal(t, "embed timeout", comment.FailureReason)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCommentNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewCommentStore(mock)

	mock.ExpectQuery("SELECT").
		WithArgs(int64(404)).
		WillReturnRows(pgxmock.NewRows(commentColumns))

	_, err = store.GetComment(context.Background(), 404)
	require.ErrorIs(t, err, pipeline.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountByStatus(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewCommentStore(mock)

	mock.ExpectQuery("SELECT processing_status, COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"processing_status", "count"}).
			AddRow("new", int64(10)).
			AddRow("completed", int64(4)))

	counts, err := store.CountByStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(10), counts[pipeline.CommentStatusNew])
	require.Equal(t, int64(4), counts[pipeline.CommentStatusCompleted])
	require.NoError(t, mock.ExpectationsWereMet())
}

func ptr[T any](v T) *T { return &v }
