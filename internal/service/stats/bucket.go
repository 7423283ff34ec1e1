package stats

import "time"

// Bucket is the set of period keys one timestamp falls into. Day is the
// UTC midnight of the calendar day; Week follows ISO 8601 (Monday start),
// so ISOYear can differ from Year near year boundaries.
type Bucket struct {
	Day     time.Time
	Year    int
	Month   int
	ISOYear int
	Week    int
}

// BucketOf computes the day, week, month and year keys for a timestamp.
// Pure and deterministic: two timestamps in the same calendar period yield
// identical keys regardless of time-of-day. Callers are responsible for
// substituting "now" for zero timestamps before calling.
func BucketOf(t time.Time) Bucket {
	t = t.UTC()
	isoYear, week := t.ISOWeek()
	return Bucket{
		Day:     time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC),
		Year:    t.Year(),
		Month:   int(t.Month()),
		ISOYear: isoYear,
		Week:    week,
	}
}

// DayKey identifies one daily bucket. The string form (YYYY-MM-DD) keeps
// the key comparable and usable as a map key.
type DayKey string

// WeekKey identifies one weekly bucket.
type WeekKey struct {
	Year int
	Week int
}

// MonthKey identifies one monthly bucket.
type MonthKey struct {
	Year  int
	Month int
}

// YearKey identifies one yearly bucket.
type YearKey int

// Keys returns the four map keys for this bucket.
func (b Bucket) Keys() (DayKey, WeekKey, MonthKey, YearKey) {
	return DayKey(b.Day.Format("2006-01-02")),
		WeekKey{Year: b.ISOYear, Week: b.Week},
		MonthKey{Year: b.Year, Month: b.Month},
		YearKey(b.Year)
}

// Time converts a DayKey back to its UTC midnight timestamp.
func (k DayKey) Time() time.Time {
	t, _ := time.Parse("2006-01-02", string(k))
	return t
}
