// Package postgres implements the stats and user repositories against
// PostgreSQL using database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pulseworks/taskmetrics/internal/domain"
	"github.com/pulseworks/taskmetrics/internal/service/stats"
)

// StatsRepo implements stats.Repository against PostgreSQL.
type StatsRepo struct{ db *sql.DB }

// NewStatsRepo creates a Postgres-backed stats repository.
func NewStatsRepo(db *sql.DB) *StatsRepo { return &StatsRepo{db: db} }

// The upserts replace the stat columns wholesale and never touch the key
// columns, so a batch recompute is a full idempotent overwrite.

func (r *StatsRepo) UpsertDaily(ctx context.Context, userID string, key stats.DayKey, roll domain.Rollup) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO stats_daily (user_id, day, completed_count, created_count, completion_rate, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (user_id, day) DO UPDATE SET
			completed_count = EXCLUDED.completed_count,
			created_count   = EXCLUDED.created_count,
			completion_rate = EXCLUDED.completion_rate,
			updated_at      = NOW()
	`, userID, key.Time(), roll.CompletedCount, roll.CreatedCount, roll.CompletionRate)
	if err != nil {
		return fmt.Errorf("upsert stats_daily: %w", err)
	}
	return nil
}

func (r *StatsRepo) UpsertWeekly(ctx context.Context, userID string, key stats.WeekKey, roll domain.Rollup) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO stats_weekly (user_id, year, week, completed_count, created_count, completion_rate, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (user_id, year, week) DO UPDATE SET
			completed_count = EXCLUDED.completed_count,
			created_count   = EXCLUDED.created_count,
			completion_rate = EXCLUDED.completion_rate,
			updated_at      = NOW()
	`, userID, key.Year, key.Week, roll.CompletedCount, roll.CreatedCount, roll.CompletionRate)
	if err != nil {
		return fmt.Errorf("upsert stats_weekly: %w", err)
	}
	return nil
}

func (r *StatsRepo) UpsertMonthly(ctx context.Context, userID string, key stats.MonthKey, roll domain.Rollup) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO stats_monthly (user_id, year, month, completed_count, created_count, completion_rate, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (user_id, year, month) DO UPDATE SET
			completed_count = EXCLUDED.completed_count,
			created_count   = EXCLUDED.created_count,
			completion_rate = EXCLUDED.completion_rate,
			updated_at      = NOW()
	`, userID, key.Year, key.Month, roll.CompletedCount, roll.CreatedCount, roll.CompletionRate)
	if err != nil {
		return fmt.Errorf("upsert stats_monthly: %w", err)
	}
	return nil
}

func (r *StatsRepo) UpsertYearly(ctx context.Context, userID string, key stats.YearKey, roll domain.Rollup) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO stats_yearly (user_id, year, completed_count, created_count, completion_rate, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (user_id, year) DO UPDATE SET
			completed_count = EXCLUDED.completed_count,
			created_count   = EXCLUDED.created_count,
			completion_rate = EXCLUDED.completion_rate,
			updated_at      = NOW()
	`, userID, int(key), roll.CompletedCount, roll.CreatedCount, roll.CompletionRate)
	if err != nil {
		return fmt.Errorf("upsert stats_yearly: %w", err)
	}
	return nil
}

// deltas returns the (completed, created) increments for an action.
func deltas(action domain.StatAction) (completed, created int) {
	if action == domain.ActionCompleted {
		return 1, 0
	}
	return 0, 1
}

// The increments are single atomic statements: the counter bump and the
// rate recompute happen inside the upsert, so concurrent increments on the
// same row cannot lose updates.

func (r *StatsRepo) IncrementDaily(ctx context.Context, userID string, key stats.DayKey, action domain.StatAction) error {
	completed, created := deltas(action)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO stats_daily (user_id, day, completed_count, created_count, completion_rate, updated_at)
		VALUES ($1, $2, $3, $4,
			CASE WHEN $4 > 0 THEN $3::float / $4 ELSE NULL END, NOW())
		ON CONFLICT (user_id, day) DO UPDATE SET
			completed_count = stats_daily.completed_count + $3,
			created_count   = stats_daily.created_count + $4,
			completion_rate = CASE WHEN stats_daily.created_count + $4 > 0
				THEN (stats_daily.completed_count + $3)::float / (stats_daily.created_count + $4)
				ELSE NULL END,
			updated_at = NOW()
	`, userID, key.Time(), completed, created)
	if err != nil {
		return fmt.Errorf("increment stats_daily: %w", err)
	}
	return nil
}

func (r *StatsRepo) IncrementWeekly(ctx context.Context, userID string, key stats.WeekKey, action domain.StatAction) error {
	completed, created := deltas(action)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO stats_weekly (user_id, year, week, completed_count, created_count, completion_rate, updated_at)
		VALUES ($1, $2, $3, $4, $5,
			CASE WHEN $5 > 0 THEN $4::float / $5 ELSE NULL END, NOW())
		ON CONFLICT (user_id, year, week) DO UPDATE SET
			completed_count = stats_weekly.completed_count + $4,
			created_count   = stats_weekly.created_count + $5,
			completion_rate = CASE WHEN stats_weekly.created_count + $5 > 0
				THEN (stats_weekly.completed_count + $4)::float / (stats_weekly.created_count + $5)
				ELSE NULL END,
			updated_at = NOW()
	`, userID, key.Year, key.Week, completed, created)
	if err != nil {
		return fmt.Errorf("increment stats_weekly: %w", err)
	}
	return nil
}

func (r *StatsRepo) IncrementMonthly(ctx context.Context, userID string, key stats.MonthKey, action domain.StatAction) error {
	completed, created := deltas(action)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO stats_monthly (user_id, year, month, completed_count, created_count, completion_rate, updated_at)
		VALUES ($1, $2, $3, $4, $5,
			CASE WHEN $5 > 0 THEN $4::float / $5 ELSE NULL END, NOW())
		ON CONFLICT (user_id, year, month) DO UPDATE SET
			completed_count = stats_monthly.completed_count + $4,
			created_count   = stats_monthly.created_count + $5,
			completion_rate = CASE WHEN stats_monthly.created_count + $5 > 0
				THEN (stats_monthly.completed_count + $4)::float / (stats_monthly.created_count + $5)
				ELSE NULL END,
			updated_at = NOW()
	`, userID, key.Year, key.Month, completed, created)
	if err != nil {
		return fmt.Errorf("increment stats_monthly: %w", err)
	}
	return nil
}

func (r *StatsRepo) IncrementYearly(ctx context.Context, userID string, key stats.YearKey, action domain.StatAction) error {
	completed, created := deltas(action)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO stats_yearly (user_id, year, completed_count, created_count, completion_rate, updated_at)
		VALUES ($1, $2, $3, $4,
			CASE WHEN $4 > 0 THEN $3::float / $4 ELSE NULL END, NOW())
		ON CONFLICT (user_id, year) DO UPDATE SET
			completed_count = stats_yearly.completed_count + $3,
			created_count   = stats_yearly.created_count + $4,
			completion_rate = CASE WHEN stats_yearly.created_count + $4 > 0
				THEN (stats_yearly.completed_count + $3)::float / (stats_yearly.created_count + $4)
				ELSE NULL END,
			updated_at = NOW()
	`, userID, int(key), completed, created)
	if err != nil {
		return fmt.Errorf("increment stats_yearly: %w", err)
	}
	return nil
}

func (r *StatsRepo) DailyRange(ctx context.Context, userID string, start, end time.Time) ([]domain.DailyStat, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT day, completed_count, created_count, completion_rate
		FROM stats_daily
		WHERE user_id = $1 AND day BETWEEN $2 AND $3
		ORDER BY day ASC
	`, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("query stats_daily: %w", err)
	}
	defer rows.Close()

	out := []domain.DailyStat{}
	for rows.Next() {
		s := domain.DailyStat{UserID: userID}
		var rate sql.NullFloat64
		if err := rows.Scan(&s.Day, &s.CompletedCount, &s.CreatedCount, &rate); err != nil {
			return nil, fmt.Errorf("scan stats_daily: %w", err)
		}
		if rate.Valid {
			s.CompletionRate = &rate.Float64
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *StatsRepo) WeeklyByYear(ctx context.Context, userID string, year int) ([]domain.WeeklyStat, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT year, week, completed_count, created_count, completion_rate
		FROM stats_weekly
		WHERE user_id = $1 AND year = $2
		ORDER BY week ASC
	`, userID, year)
	if err != nil {
		return nil, fmt.Errorf("query stats_weekly: %w", err)
	}
	defer rows.Close()

	out := []domain.WeeklyStat{}
	for rows.Next() {
		s := domain.WeeklyStat{UserID: userID}
		var rate sql.NullFloat64
		if err := rows.Scan(&s.Year, &s.Week, &s.CompletedCount, &s.CreatedCount, &rate); err != nil {
			return nil, fmt.Errorf("scan stats_weekly: %w", err)
		}
		if rate.Valid {
			s.CompletionRate = &rate.Float64
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *StatsRepo) YearlyRange(ctx context.Context, userID string, startYear, endYear int) ([]domain.YearlyStat, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT year, completed_count, created_count, completion_rate
		FROM stats_yearly
		WHERE user_id = $1 AND year BETWEEN $2 AND $3
		ORDER BY year ASC
	`, userID, startYear, endYear)
	if err != nil {
		return nil, fmt.Errorf("query stats_yearly: %w", err)
	}
	defer rows.Close()

	out := []domain.YearlyStat{}
	for rows.Next() {
		s := domain.YearlyStat{UserID: userID}
		var rate sql.NullFloat64
		if err := rows.Scan(&s.Year, &s.CompletedCount, &s.CreatedCount, &rate); err != nil {
			return nil, fmt.Errorf("scan stats_yearly: %w", err)
		}
		if rate.Valid {
			s.CompletionRate = &rate.Float64
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *StatsRepo) PriorityDistribution(ctx context.Context, userID string, limit int) ([]domain.DistributionEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT COALESCE(NULLIF(priority, ''), 'unset') AS name, COUNT(*) AS value
		FROM task_meta
		WHERE user_id = $1
		GROUP BY 1
		ORDER BY value DESC, name ASC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query priority distribution: %w", err)
	}
	defer rows.Close()
	return scanDistribution(rows)
}

func (r *StatsRepo) TagDistribution(ctx context.Context, userID string, limit int) ([]domain.DistributionEntry, error) {
	// Left join so tasks with no tag at all land in the "untagged" bucket.
	rows, err := r.db.QueryContext(ctx, `
		SELECT COALESCE(tt.tag, 'untagged') AS name, COUNT(*) AS value
		FROM task_meta tm
		LEFT JOIN task_tags tt ON tt.user_id = tm.user_id AND tt.task_id = tm.task_id
		WHERE tm.user_id = $1
		GROUP BY 1
		ORDER BY value DESC, name ASC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query tag distribution: %w", err)
	}
	defer rows.Close()
	return scanDistribution(rows)
}

func scanDistribution(rows *sql.Rows) ([]domain.DistributionEntry, error) {
	out := []domain.DistributionEntry{}
	for rows.Next() {
		var e domain.DistributionEntry
		if err := rows.Scan(&e.Name, &e.Value); err != nil {
			return nil, fmt.Errorf("scan distribution: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
