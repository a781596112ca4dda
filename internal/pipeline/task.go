package pipeline

import "context"

// TaskKind identifies what a background task should run.
type TaskKind string

const (
	// TaskProcess runs one processing batch against the comment queue.
	TaskProcess TaskKind = "process"
	// TaskCrawl runs one crawl pass over due source bindings.
	TaskCrawl TaskKind = "crawl"
)

// Task is one unit of background work handed to the dispatcher.
// JobID refers to an already-created processing job row.
type Task struct {
	Kind         TaskKind `json:"kind"`
	JobID        string   `json:"job_id"`
	BatchSize    int      `json:"batch_size,omitempty"`
	BindingLimit int      `json:"binding_limit,omitempty"`
	MaxPages     int      `json:"max_pages,omitempty"`
	Force        bool     `json:"force,omitempty"`
}

// TaskQueue hands tasks from the API to background workers.
type TaskQueue interface {
	// Enqueue pushes a task or returns if the context ends.
	Enqueue(ctx context.Context, task Task) error

	// Dequeue pops the next task, respecting context cancellation.
	Dequeue(ctx context.Context) (Task, error)

	// Close releases the queue for shutdown.
	Close()
}
