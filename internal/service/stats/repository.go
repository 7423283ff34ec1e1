package stats

import (
	"context"
	"time"

	"github.com/pulseworks/taskmetrics/internal/domain"
)

// Repository defines the data access contract for the stats store.
// Implementations must be safe for concurrent use.
//
// The Upsert* methods are full replaces: they write the stat columns to the
// exact given values and never touch the key columns, so re-running a batch
// on an unchanged task set is idempotent. The Increment* methods are atomic
// read-modify-writes that bump one counter by one and recompute the rate in
// the same statement, creating the row if absent.
type Repository interface {
	UpsertDaily(ctx context.Context, userID string, key DayKey, r domain.Rollup) error
	UpsertWeekly(ctx context.Context, userID string, key WeekKey, r domain.Rollup) error
	UpsertMonthly(ctx context.Context, userID string, key MonthKey, r domain.Rollup) error
	UpsertYearly(ctx context.Context, userID string, key YearKey, r domain.Rollup) error

	IncrementDaily(ctx context.Context, userID string, key DayKey, action domain.StatAction) error
	IncrementWeekly(ctx context.Context, userID string, key WeekKey, action domain.StatAction) error
	IncrementMonthly(ctx context.Context, userID string, key MonthKey, action domain.StatAction) error
	IncrementYearly(ctx context.Context, userID string, key YearKey, action domain.StatAction) error

	// DailyRange returns rows in [start, end], ascending by day.
	DailyRange(ctx context.Context, userID string, start, end time.Time) ([]domain.DailyStat, error)
	// WeeklyByYear returns one ISO year's rows, ascending by week.
	WeeklyByYear(ctx context.Context, userID string, year int) ([]domain.WeeklyStat, error)
	// YearlyRange returns rows in [startYear, endYear], ascending by year.
	YearlyRange(ctx context.Context, userID string, startYear, endYear int) ([]domain.YearlyStat, error)

	// PriorityDistribution and TagDistribution count the user's tasks by
	// priority/tag, descending by count, at most limit entries. Tasks
	// without a priority or tag surface as the "unset"/"untagged" bucket.
	PriorityDistribution(ctx context.Context, userID string, limit int) ([]domain.DistributionEntry, error)
	TagDistribution(ctx context.Context, userID string, limit int) ([]domain.DistributionEntry, error)
}

// UserStore is the slice of the account schema this service reads: user
// enumeration for the all-users batch and credential lookup per user.
type UserStore interface {
	// ListUserIDs returns the ids of every registered user.
	ListUserIDs(ctx context.Context) ([]string, error)
	// RefreshToken returns the user's stored remote-source refresh token.
	// Returns ErrUserNotFound for unknown users and ErrCredentialMissing
	// when the user exists but holds no token.
	RefreshToken(ctx context.Context, userID string) (string, error)
}

// TaskSource fetches a user's complete task set from the remote source.
type TaskSource interface {
	FetchAll(ctx context.Context, refreshToken string) ([]domain.Task, error)
}
