package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/vrtlabs/feedback-pipeline/internal/pipeline"
)

func TestCreateJobInsertsPending(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStore(mock)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("INSERT INTO processing_jobs").
		WithArgs("job-1", "comment_processing", []byte(`{"limit":20}`),
			(*string)(nil), now, "1.0.0").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = store.CreateJob(context.Background(), pipeline.ProcessingJob{
		ID:              "job-1",
		Type:            pipeline.JobTypeCommentProcessing,
		Status:          pipeline.JobStatusPending,
		Parameters:      pipeline.JobParameters{"limit": 20},
		CreatedAt:       now,
		PipelineVersion: "1.0.0",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStartJobConditionalOnPending(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStore(mock)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE processing_jobs SET status = 'running'").
		WithArgs(now, "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.StartJob(context.Background(), "job-1", now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStartJobNotPendingFails(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStore(mock)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE processing_jobs SET status = 'running'").
		WithArgs(now, "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.StartJob(context.Background(), "job-1", now)
	require.ErrorIs(t, err, pipeline.ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishJobConditionalOnRunning(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStore(mock)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE processing_jobs SET status =").
		WithArgs("completed", now, `{"claimed":3}`, "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.FinishJob(context.Background(), "job-1",
		pipeline.JobStatusCompleted, `{"claimed":3}`, now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishJobRejectsNonTerminalStatus(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStore(mock)

	err = store.FinishJob(context.Background(), "job-1",
		pipeline.JobStatusRunning, "", time.Now())
	require.ErrorIs(t, err, pipeline.ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishJobNotRunningFails(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStore(mock)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE processing_jobs SET status =").
		WithArgs("failed", now, "index unavailable", "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.FinishJob(context.Background(), "job-1",
		pipeline.JobStatusFailed, "index unavailable", now)
	require.ErrorIs(t, err, pipeline.ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobScansRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStore(mock)
	now := time.Unix(1700000000, 0).UTC()
	started := now.Add(time.Second)

	rows := pgxmock.NewRows([]string{
		"job_id", "job_type", "status", "parameters", "created_by", "created_at",
		"started_at", "completed_at", "result_summary", "pipeline_version",
	}).AddRow("job-1", "comment_processing", "running", []byte(`{"limit":20}`),
		ptr("scheduler"), now, &started, (*time.Time)(nil), (*string)(nil), "1.0.0")

	mock.ExpectQuery("SELECT job_id, job_type").
		WithArgs("job-1").
		WillReturnRows(rows)

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, pipeline.JobStatusRunning, job.Status)
	require.Equal(t, "scheduler", job.CreatedBy)
	require.EqualValues(t, 20, job.Parameters["limit"])
	require.NotNil(t, job.StartedAt)
	require.Nil(t, job.CompletedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}
