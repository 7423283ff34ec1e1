package stats

import (
	"time"

	"github.com/pulseworks/taskmetrics/internal/domain"
)

// Aggregation holds the four period groupings computed from one task set.
type Aggregation struct {
	Daily   map[DayKey]domain.Rollup
	Weekly  map[WeekKey]domain.Rollup
	Monthly map[MonthKey]domain.Rollup
	Yearly  map[YearKey]domain.Rollup
}

// counter accumulates a group before the rate is computed.
type counter struct {
	created   int
	completed int
}

func (c counter) rollup() domain.Rollup {
	r := domain.Rollup{CreatedCount: c.created, CompletedCount: c.completed}
	if c.created > 0 {
		rate := float64(c.completed) / float64(c.created)
		r.CompletionRate = &rate
	}
	return r
}

// Aggregate partitions tasks into the four period groupings and computes
// per-group counts and completion rate. Deleted tasks are excluded from
// every grouping. Tasks are bucketed by their last-updated timestamp; a
// task with no timestamp is bucketed at now.
//
// The counts are "tasks touched in this period", not a true
// created-vs-completed timeline: the source only exposes the last
// modification time, so a task completed long after creation lands
// entirely in the completion period.
func Aggregate(tasks []domain.Task, now time.Time) Aggregation {
	daily := make(map[DayKey]counter)
	weekly := make(map[WeekKey]counter)
	monthly := make(map[MonthKey]counter)
	yearly := make(map[YearKey]counter)

	for _, t := range tasks {
		if t.Deleted {
			continue
		}

		ts := t.Updated
		if ts.IsZero() {
			ts = now
		}
		dk, wk, mk, yk := BucketOf(ts).Keys()

		bump := func(c counter) counter {
			c.created++
			if t.IsCompleted() {
				c.completed++
			}
			return c
		}
		daily[dk] = bump(daily[dk])
		weekly[wk] = bump(weekly[wk])
		monthly[mk] = bump(monthly[mk])
		yearly[yk] = bump(yearly[yk])
	}

	agg := Aggregation{
		Daily:   make(map[DayKey]domain.Rollup, len(daily)),
		Weekly:  make(map[WeekKey]domain.Rollup, len(weekly)),
		Monthly: make(map[MonthKey]domain.Rollup, len(monthly)),
		Yearly:  make(map[YearKey]domain.Rollup, len(yearly)),
	}
	for k, c := range daily {
		agg.Daily[k] = c.rollup()
	}
	for k, c := range weekly {
		agg.Weekly[k] = c.rollup()
	}
	for k, c := range monthly {
		agg.Monthly[k] = c.rollup()
	}
	for k, c := range yearly {
		agg.Yearly[k] = c.rollup()
	}
	return agg
}
