// Package pipeline defines core types shared across subsystems.
package pipeline

import (
	"encoding/json"
	"time"
)

// CommentStatus represents the processing lifecycle state of a raw comment.
type CommentStatus string

// Comment status values persisted in raw_comments.processing_status.
const (
	CommentStatusNew        CommentStatus = "new"
	CommentStatusProcessing CommentStatus = "processing"
	CommentStatusCompleted  CommentStatus = "completed"
	CommentStatusFailed     CommentStatus = "failed"
	CommentStatusSkipped    CommentStatus = "skipped"
)

// Terminal reports whether the status admits no further transitions by a
// worker. A failed comment may still be re-entered into processing by an
// external scheduler retry.
func (s CommentStatus) Terminal() bool {
	return s == CommentStatusCompleted || s == CommentStatusSkipped
}

// Valid reports whether s is one of the five persisted statuses.
func (s CommentStatus) Valid() bool {
	switch s {
	case CommentStatusNew, CommentStatusProcessing, CommentStatusCompleted,
		CommentStatusFailed, CommentStatusSkipped:
		return true
	}
	return false
}

// JobStatus represents the lifecycle state of a batch job.
type JobStatus string

// Job status values persisted in the job store. Transitions only move
// forward: pending -> running -> {completed, failed}.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// JobType identifies the kind of batch operation a job tracks.
type JobType string

// Job types recorded in the ledger.
const (
	JobTypeCommentProcessing JobType = "comment_processing"
	JobTypeCommentCrawl      JobType = "comment_crawl"
)

// ReleaseOutcome is the terminal disposition a worker assigns to a claimed
// comment.
type ReleaseOutcome string

// Release outcomes accepted by CommentStore.Release.
const (
	ReleaseCompleted ReleaseOutcome = "completed"
	ReleaseFailed    ReleaseOutcome = "failed"
	ReleaseSkipped   ReleaseOutcome = "skipped"
)

// Channel is a comment source (e.g. a review site). Immutable after creation
// except for its description.
type Channel struct {
	ID          int64     `json:"channel_id"`
	Name        string    `json:"channel_name"`
	BaseURL     string    `json:"channel_base_url,omitempty"`
	Description string    `json:"channel_description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// VehicleChannelBinding is one row per (channel, external vehicle identifier).
// The canonical vehicle link stays nil until a separate reconciliation process
// fills it; the Temp* fields carry denormalized display data until then.
type VehicleChannelBinding struct {
	ID                   int64      `json:"vehicle_channel_id"`
	VehicleID            *int64     `json:"vehicle_id,omitempty"`
	ChannelID            int64      `json:"channel_id"`
	ExternalID           string     `json:"identifier_on_channel"`
	DisplayName          string     `json:"name_on_channel"`
	PageURL              string     `json:"url_on_channel,omitempty"`
	TempBrand            string     `json:"temp_brand_name,omitempty"`
	TempSeries           string     `json:"temp_series_name,omitempty"`
	TempModelYear        string     `json:"temp_model_year,omitempty"`
	LastCommentCrawledAt *time.Time `json:"last_comment_crawled_at,omitempty"`
}

// RawComment is one ingested comment. Content is immutable; Status is the
// only field mutated after insert, and only through the claim protocol.
type RawComment struct {
	ID              int64         `json:"raw_comment_id"`
	BindingID       int64         `json:"vehicle_channel_id"`
	ExternalID      string        `json:"identifier_on_channel"`
	Content         string        `json:"comment_content"`
	SourceURL       string        `json:"comment_source_url,omitempty"`
	PostedAt        *time.Time    `json:"posted_at_on_channel,omitempty"`
	CrawledAt       time.Time     `json:"crawled_at"`
	ContentHash     string        `json:"content_hash,omitempty"`
	SnapshotURI     string        `json:"snapshot_uri,omitempty"`
	Status          CommentStatus `json:"processing_status"`
	StatusChangedAt time.Time     `json:"status_changed_at"`
	ClaimedByJobID  string        `json:"claimed_by_job_id,omitempty"`
	FailureReason   string        `json:"failure_reason,omitempty"`
}

// ProductFeature is a node in the (at most three level) feature taxonomy,
// carrying a precomputed embedding. Read-only from the pipeline's view.
type ProductFeature struct {
	ID          int64     `json:"product_feature_id"`
	Code        string    `json:"feature_code"`
	Name        string    `json:"feature_name"`
	Description string    `json:"feature_description,omitempty"`
	Embedding   []float64 `json:"-"`
	ParentID    *int64    `json:"parent_id,omitempty"`
	Level       int       `json:"hierarchy_level"`
}

// JobParameters is the opaque parameter snapshot recorded when a job opens.
// The ledger never interprets it.
type JobParameters map[string]any

// ProcessingJob is the durable audit record for one batch operation.
type ProcessingJob struct {
	ID              string        `json:"job_id"`
	Type            JobType       `json:"job_type"`
	Status          JobStatus     `json:"status"`
	Parameters      JobParameters `json:"parameters,omitempty"`
	CreatedBy       string        `json:"created_by,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	StartedAt       *time.Time    `json:"started_at,omitempty"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	ResultSummary   string        `json:"result_summary,omitempty"`
	PipelineVersion string        `json:"pipeline_version"`
}

// Candidate is one feature considered during retrieval for a chunk.
type Candidate struct {
	FeatureID   int64   `json:"product_feature_id"`
	FeatureCode string  `json:"feature_code"`
	FeatureName string  `json:"feature_name"`
	Score       float64 `json:"similarity_score"`
}

// SearchTrace records the top-K retrieval candidates for a chunk so that
// thresholds can be tuned after the fact.
type SearchTrace struct {
	Query      string      `json:"search_query_preview"`
	Candidates []Candidate `json:"candidates"`
	Error      string      `json:"error,omitempty"`
}

// SceneFields are the structured scene attributes extracted from a chunk.
type SceneFields struct {
	Actor           string `json:"scene_actor,omitempty"`
	TimeContext     string `json:"scene_time_context,omitempty"`
	LocationContext string `json:"scene_location_context,omitempty"`
	ActivityOrTask  string `json:"scene_activity_or_task,omitempty"`
}

// SentimentFields carry the sentiment classification for a chunk.
type SentimentFields struct {
	Label      string  `json:"sentiment_label"`
	Confidence float64 `json:"sentiment_confidence"`
}

// Extraction is the output of the extraction collaborator for one chunk.
type Extraction struct {
	Scene     SceneFields     `json:"scene"`
	Sentiment SentimentFields `json:"sentiment"`
	Summary   string          `json:"comment_analysis_summary,omitempty"`
}

// ChunkResult is the outcome of processing one chunk of a comment. One
// processed_comments row is written per ChunkResult; rows are never updated
// in place.
type ChunkResult struct {
	ChunkIndex  int              `json:"chunk_index"`
	ChunkText   string           `json:"comment_chunk_text"`
	ChunkVector []float64        `json:"-"`
	FeatureID   *int64           `json:"product_feature_id,omitempty"`
	Similarity  *float64         `json:"feature_similarity_score,omitempty"`
	Trace       SearchTrace      `json:"feature_search_details"`
	Scene       *SceneFields     `json:"scene,omitempty"`
	Sentiment   *SentimentFields `json:"sentiment,omitempty"`
	Summary     *string          `json:"comment_analysis_summary,omitempty"`
	ErrorText   string           `json:"error_text,omitempty"`
}

// Matched reports whether the chunk cleared the similarity threshold.
func (c ChunkResult) Matched() bool { return c.FeatureID != nil }

// AdmitRequest is one inbound comment tuple supplied by an ingestion source.
type AdmitRequest struct {
	BindingID   int64
	ExternalID  string
	Content     string
	SourceURL   string
	PostedAt    *time.Time
	ContentHash string
	SnapshotURI string
}

// AdmitOutcome distinguishes a fresh insert from an absorbed duplicate.
type AdmitOutcome string

// Admit outcomes.
const (
	AdmitInserted  AdmitOutcome = "inserted"
	AdmitDuplicate AdmitOutcome = "duplicate"
)

// CommentPayload is one comment as produced by a Source, before admission.
type CommentPayload struct {
	ExternalID string
	Content    string
	SourceURL  string
	PostedAt   *time.Time
	PageBody   []byte
}

// BatchStats summarizes one processing batch run.
type BatchStats struct {
	Claimed    int `json:"claimed"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
	ResultRows int `json:"result_rows"`
}

// Summary renders the stats as a job result_summary payload.
func (s BatchStats) Summary() string {
	b, _ := json.Marshal(s)
	return string(b)
}

// StatusCounts maps each comment status to its current row count.
type StatusCounts map[CommentStatus]int64
