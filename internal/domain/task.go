package domain

import "time"

// TaskStatus enumerates the remote task source's status values.
type TaskStatus string

const (
	TaskNeedsAction TaskStatus = "needsAction"
	TaskCompleted   TaskStatus = "completed"
)

// Task is one item fetched from the remote task source. It is transient:
// tasks are pulled per aggregation run and never persisted verbatim.
//
// Updated is the task's last-modification time as reported by the source.
// A zero Updated means the source omitted the field; the aggregator
// substitutes the current wall-clock time in that case.
type Task struct {
	ID      string     `json:"id"`
	Title   string     `json:"title,omitempty"`
	Status  TaskStatus `json:"status"`
	Updated time.Time  `json:"updated,omitempty"`
	Deleted bool       `json:"deleted,omitempty"`
	Hidden  bool       `json:"hidden,omitempty"`
}

// IsCompleted reports whether the task is in the completed state.
func (t Task) IsCompleted() bool { return t.Status == TaskCompleted }

// TaskList is one remote task container (a "task list" in the source API).
type TaskList struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}
