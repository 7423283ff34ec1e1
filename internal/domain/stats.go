package domain

import "time"

// StatAction enumerates the task mutations the incremental updater accepts.
type StatAction string

const (
	ActionCreated   StatAction = "created"
	ActionCompleted StatAction = "completed"
)

// Valid reports whether the action is one the incremental updater accepts.
func (a StatAction) Valid() bool {
	return a == ActionCreated || a == ActionCompleted
}

// Rollup holds the aggregate counters for one period bucket.
// Rate is nil when CreatedCount is zero (no tasks, no meaningful rate).
type Rollup struct {
	CreatedCount   int      `json:"createdCount"`
	CompletedCount int      `json:"completedCount"`
	CompletionRate *float64 `json:"completionRate"`
}

// DailyStat is one user's rollup for a single calendar day.
// Day is always UTC midnight.
type DailyStat struct {
	UserID string    `json:"userId"`
	Day    time.Time `json:"date"`
	Rollup
}

// WeeklyStat is one user's rollup for an ISO week (Monday start).
type WeeklyStat struct {
	UserID string `json:"userId"`
	Year   int    `json:"year"`
	Week   int    `json:"weekOfYear"`
	Rollup
}

// MonthlyStat is one user's rollup for a calendar month (1-12).
type MonthlyStat struct {
	UserID string `json:"userId"`
	Year   int    `json:"year"`
	Month  int    `json:"month"`
	Rollup
}

// YearlyStat is one user's rollup for a calendar year.
type YearlyStat struct {
	UserID string `json:"userId"`
	Year   int    `json:"year"`
	Rollup
}

// DistributionEntry is one slice of a distribution chart: a label and the
// number of tasks carrying it. The "unset"/"untagged" bucket uses those
// literal names.
type DistributionEntry struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// User is the slice of the account schema this service reads. The account
// tables are owned by the auth collaborator; we only need the id and the
// remote-source refresh token.
type User struct {
	ID           string
	Email        string
	RefreshToken string
}
