// Package progress defines the event structures emitted by the batch workers.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobStart    Stage = "JOB_START"
	StageJobHB       Stage = "JOB_HEARTBEAT"
	StageJobDone     Stage = "JOB_DONE"
	StageJobError    Stage = "JOB_ERROR"
	StageCommentDone Stage = "COMMENT_DONE"
	StageCrawlDone   Stage = "CRAWL_BINDING_DONE"
)

// Outcome is the disposition attached to comment and crawl completions.
type Outcome string

// Supported outcomes tracked for completions.
const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// Event captures a single milestone of pipeline progress.
type Event struct {
	// JobID identifies the batch job run.
	JobID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or per-item milestone occurred.
	Stage Stage
	// CommentID scopes comment events; zero otherwise.
	CommentID int64
	// BindingID scopes crawl events to a vehicle/channel binding.
	BindingID int64
	// Chunks is the number of chunk results produced for the comment.
	Chunks int64
	// Admitted is the number of fresh comments admitted by a crawl run.
	Admitted int64
	// Outcome classifies comment and crawl completions.
	Outcome Outcome
	// Dur captures execution latency for item and job completions.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobHB, StageJobDone, StageJobError:
	case StageCommentDone:
		if e.CommentID == 0 {
			return errors.New("comment done requires comment id")
		}
		if e.Outcome == "" {
			return errors.New("comment done requires outcome")
		}
	case StageCrawlDone:
		if e.BindingID == 0 {
			return errors.New("crawl done requires binding id")
		}
		if e.Outcome == "" {
			return errors.New("crawl done requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// ClassifyRelease maps a release outcome onto the event Outcome set.
func ClassifyRelease(outcome string) Outcome {
	switch Outcome(outcome) {
	case OutcomeCompleted, OutcomeFailed, OutcomeSkipped:
		return Outcome(outcome)
	default:
		return OutcomeFailed
	}
}
