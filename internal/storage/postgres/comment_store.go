package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vrtlabs/feedback-pipeline/internal/pipeline"
)

// CommentStore implements pipeline.CommentStore over raw_comments.
type CommentStore struct {
	pool dbPool
}

// NewCommentStore constructs a CommentStore over an existing pool.
func NewCommentStore(pool dbPool) *CommentStore {
	return &CommentStore{pool: pool}
}

const admitCommentSQL = `
INSERT INTO raw_comments (
	vehicle_channel_id_fk,
	identifier_on_channel,
	comment_content,
	comment_source_url,
	posted_at_on_channel,
	content_hash,
	snapshot_uri,
	processing_status,
	status_changed_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, 'new', NOW())
ON CONFLICT (vehicle_channel_id_fk, identifier_on_channel) DO NOTHING`

// Admit inserts the comment; the unique constraint on the natural key
// absorbs replays of the same page.
func (s *CommentStore) Admit(ctx context.Context, req pipeline.AdmitRequest) (pipeline.AdmitOutcome, error) {
	tag, err := s.pool.Exec(ctx, admitCommentSQL,
		req.BindingID,
		req.ExternalID,
		req.Content,
		req.SourceURL,
		req.PostedAt,
		req.ContentHash,
		req.SnapshotURI,
	)
	if err != nil {
		return "", fmt.Errorf("admit comment %d/%s: %w", req.BindingID, req.ExternalID, err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline.AdmitDuplicate, nil
	}
	return pipeline.AdmitInserted, nil
}

// claimBatchSQL selects and flips in one statement. FOR UPDATE SKIP LOCKED
// makes concurrent claims disjoint without serializing the whole table.
const claimBatchSQL = `
UPDATE raw_comments SET
	processing_status = 'processing',
	claimed_by_job_id = $1,
	status_changed_at = $2
WHERE raw_comment_id IN (
	SELECT raw_comment_id FROM raw_comments
	WHERE processing_status = 'new'
	ORDER BY raw_comment_id
	LIMIT $3
	FOR UPDATE SKIP LOCKED
)
RETURNING
	raw_comment_id, vehicle_channel_id_fk, identifier_on_channel,
	comment_content, comment_source_url, posted_at_on_channel, crawled_at,
	content_hash, snapshot_uri, processing_status, status_changed_at,
	claimed_by_job_id, failure_reason`

// ClaimBatch atomically claims up to limit new comments for jobID.
func (s *CommentStore) ClaimBatch(ctx context.Context, limit int, jobID string, now time.Time) ([]pipeline.RawComment, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, claimBatchSQL, jobID, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim batch for job %s: %w", jobID, err)
	}
	defer rows.Close()

	var claimed []pipeline.RawComment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed comment: %w", err)
		}
		claimed = append(claimed, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimed comments: %w", err)
	}
	return claimed, nil
}

const releaseCommentSQL = `
UPDATE raw_comments SET
	processing_status = $1,
	failure_reason = $2,
	status_changed_at = $3
WHERE raw_comment_id = $4 AND processing_status = 'processing'`

// Release moves a claimed comment out of processing. Zero rows affected
// means the comment was not claimed, which is a protocol violation.
func (s *CommentStore) Release(ctx context.Context, commentID int64, outcome pipeline.ReleaseOutcome, reason string, now time.Time) error {
	status, ok := releaseStatus(outcome)
	if !ok {
		return fmt.Errorf("unknown release outcome %q: %w", outcome, pipeline.ErrInvalidTransition)
	}
	tag, err := s.pool.Exec(ctx, releaseCommentSQL, string(status), reason, now, commentID)
	if err != nil {
		return fmt.Errorf("release comment %d: %w", commentID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("release comment %d to %q: comment is not processing: %w",
			commentID, status, pipeline.ErrInvalidTransition)
	}
	return nil
}

func releaseStatus(outcome pipeline.ReleaseOutcome) (pipeline.CommentStatus, bool) {
	switch outcome {
	case pipeline.ReleaseCompleted:
		return pipeline.CommentStatusCompleted, true
	case pipeline.ReleaseFailed:
		return pipeline.CommentStatusFailed, true
	case pipeline.ReleaseSkipped:
		return pipeline.CommentStatusSkipped, true
	}
	return "", false
}

const sweepStaleSQL = `
UPDATE raw_comments SET
	processing_status = 'new',
	claimed_by_job_id = NULL,
	status_changed_at = $1
WHERE processing_status = 'processing' AND status_changed_at < $2`

// SweepStale reclaims comments whose claim has outlived olderThan.
func (s *CommentStore) SweepStale(ctx context.Context, olderThan time.Duration, now time.Time) (int64, error) {
	cutoff := now.Add(-olderThan)
	tag, err := s.pool.Exec(ctx, sweepStaleSQL, now, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep stale claims: %w", err)
	}
	return tag.RowsAffected(), nil
}

const requeueFailedSQL = `
UPDATE raw_comments SET
	processing_status = 'new',
	claimed_by_job_id = NULL,
	failure_reason = NULL,
	status_changed_at = $1
WHERE raw_comment_id IN (
	SELECT raw_comment_id FROM raw_comments
	WHERE processing_status = 'failed'
	ORDER BY raw_comment_id
	LIMIT $2
	FOR UPDATE SKIP LOCKED
)`

const requeueAllFailedSQL = `
UPDATE raw_comments SET
	processing_status = 'new',
	claimed_by_job_id = NULL,
	failure_reason = NULL,
	status_changed_at = $1
WHERE processing_status = 'failed'`

// RequeueFailed returns up to limit failed comments to new so a later batch
// retries them. A non-positive limit requeues every failed comment.
func (s *CommentStore) RequeueFailed(ctx context.Context, limit int, now time.Time) (int64, error) {
	var (
		tag pgconn.CommandTag
		err error
	)
	if limit > 0 {
		tag, err = s.pool.Exec(ctx, requeueFailedSQL, now, limit)
	} else {
		tag, err = s.pool.Exec(ctx, requeueAllFailedSQL, now)
	}
	if err != nil {
		return 0, fmt.Errorf("requeue failed comments: %w", err)
	}
	return tag.RowsAffected(), nil
}

const getCommentSQL = `
SELECT
	raw_comment_id, vehicle_channel_id_fk, identifier_on_channel,
	comment_content, comment_source_url, posted_at_on_channel, crawled_at,
	content_hash, snapshot_uri, processing_status, status_changed_at,
	claimed_by_job_id, failure_reason
FROM raw_comments WHERE raw_comment_id = $1`

// GetComment fetches one comment by id.
func (s *CommentStore) GetComment(ctx context.Context, commentID int64) (pipeline.RawComment, error) {
	row := s.pool.QueryRow(ctx, getCommentSQL, commentID)
	c, err := scanComment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pipeline.RawComment{}, fmt.Errorf("comment %d: %w", commentID, pipeline.ErrNotFound)
		}
		return pipeline.RawComment{}, fmt.Errorf("get comment %d: %w", commentID, err)
	}
	return c, nil
}

const countByStatusSQL = `
SELECT processing_status, COUNT(*) FROM raw_comments GROUP BY processing_status`

// CountByStatus reports row counts per processing status.
func (s *CommentStore) CountByStatus(ctx context.Context) (pipeline.StatusCounts, error) {
	rows, err := s.pool.Query(ctx, countByStatusSQL)
	if err != nil {
		return nil, fmt.Errorf("count comments by status: %w", err)
	}
	defer rows.Close()

	counts := make(pipeline.StatusCounts)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[pipeline.CommentStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return counts, nil
}

// scanComment reads one raw_comments row in the canonical column order.
func scanComment(row pgx.Row) (pipeline.RawComment, error) {
	var (
		c         pipeline.RawComment
		status    string
		sourceURL *string
		hash      *string
		snapshot  *string
		claimedBy *string
		reason    *string
	)
	err := row.Scan(
		&c.ID, &c.BindingID, &c.ExternalID,
		&c.Content, &sourceURL, &c.PostedAt, &c.CrawledAt,
		&hash, &snapshot, &status, &c.StatusChangedAt,
		&claimedBy, &reason,
	)
	if err != nil {
		return pipeline.RawComment{}, err
	}
	c.Status = pipeline.CommentStatus(status)
	if sourceURL != nil {
		c.SourceURL = *sourceURL
	}
	if hash != nil {
		c.ContentHash = *hash
	}
	if snapshot != nil {
		c.SnapshotURI = *snapshot
	}
	if claimedBy != nil {
		c.ClaimedByJobID = *claimedBy
	}
	if reason != nil {
		c.FailureReason = *reason
	}
	return c, nil
}
