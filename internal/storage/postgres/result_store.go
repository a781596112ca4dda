package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vrtlabs/feedback-pipeline/internal/pipeline"
)

// ResultStore implements pipeline.ResultStore over processed_comments. Rows
// are append-only: reprocessing under a new job inserts fresh rows stamped
// with that job and pipeline version, preserving the audit history.
type ResultStore struct {
	pool dbPool
}

// NewResultStore constructs a ResultStore over an existing pool.
func NewResultStore(pool dbPool) *ResultStore {
	return &ResultStore{pool: pool}
}

const insertResultSQL = `
INSERT INTO processed_comments (
	raw_comment_id_fk,
	job_id_fk,
	product_feature_id_fk,
	feature_similarity_score,
	comment_chunk_index,
	comment_chunk_text,
	comment_chunk_vector,
	feature_search_details,
	scene_actor,
	scene_time_context,
	scene_location_context,
	scene_activity_or_task,
	sentiment_label,
	sentiment_confidence,
	comment_analysis_summary,
	pipeline_version,
	processed_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

// WriteResults inserts every chunk row for one comment inside a single
// transaction, so a crash mid-comment never leaves a half-written comment.
func (s *ResultStore) WriteResults(ctx context.Context, commentID int64, jobID string, pipelineVersion string, results []pipeline.ChunkResult, at time.Time) error {
	if len(results) == 0 {
		return fmt.Errorf("no chunk results for comment %d", commentID)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin result transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, res := range results {
		trace, err := json.Marshal(res.Trace)
		if err != nil {
			return fmt.Errorf("marshal search trace for comment %d chunk %d: %w", commentID, res.ChunkIndex, err)
		}
		var vector *string
		if len(res.ChunkVector) > 0 {
			raw, err := json.Marshal(res.ChunkVector)
			if err != nil {
				return fmt.Errorf("marshal chunk vector for comment %d chunk %d: %w", commentID, res.ChunkIndex, err)
			}
			v := string(raw)
			vector = &v
		}
		var (
			actor, timeCtx, locCtx, activity *string
			sentimentLabel                   *string
			sentimentConfidence              *float64
		)
		if res.Scene != nil {
			actor = nullable(res.Scene.Actor)
			timeCtx = nullable(res.Scene.TimeContext)
			locCtx = nullable(res.Scene.LocationContext)
			activity = nullable(res.Scene.ActivityOrTask)
		}
		if res.Sentiment != nil {
			sentimentLabel = &res.Sentiment.Label
			sentimentConfidence = &res.Sentiment.Confidence
		}
		_, err = tx.Exec(ctx, insertResultSQL,
			commentID,
			jobID,
			res.FeatureID,
			res.Similarity,
			res.ChunkIndex,
			res.ChunkText,
			vector,
			trace,
			actor,
			timeCtx,
			locCtx,
			activity,
			sentimentLabel,
			sentimentConfidence,
			res.Summary,
			pipelineVersion,
			at,
		)
		if err != nil {
			return fmt.Errorf("insert result for comment %d chunk %d: %w", commentID, res.ChunkIndex, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit results for comment %d: %w", commentID, err)
	}
	return nil
}
