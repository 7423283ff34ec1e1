package gtasks

import (
	"time"

	"github.com/pulseworks/taskmetrics/internal/domain"
)

// Config holds the task source client settings.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
	PageSize     int
}

// taskListsResponse is the wire shape of the task list collection endpoint.
type taskListsResponse struct {
	Items         []taskListItem `json:"items"`
	NextPageToken string         `json:"nextPageToken"`
}

type taskListItem struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// tasksResponse is the wire shape of the tasks collection endpoint.
type tasksResponse struct {
	Items         []taskItem `json:"items"`
	NextPageToken string     `json:"nextPageToken"`
}

type taskItem struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Status  string `json:"status"`
	Updated string `json:"updated"`
	Deleted bool   `json:"deleted"`
	Hidden  bool   `json:"hidden"`
}

// toDomain converts a wire task to the domain type. An unparsable or
// missing updated timestamp becomes the zero time; the aggregator
// substitutes its own clock in that case.
func (t taskItem) toDomain() domain.Task {
	updated, _ := time.Parse(time.RFC3339, t.Updated)
	return domain.Task{
		ID:      t.ID,
		Title:   t.Title,
		Status:  domain.TaskStatus(t.Status),
		Updated: updated,
		Deleted: t.Deleted,
		Hidden:  t.Hidden,
	}
}
