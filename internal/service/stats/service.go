// Package stats implements the statistics aggregation engine: bucketing
// task timestamps into day/week/month/year periods, aggregating counts and
// completion rates, and reconciling them into the stats store through full
// batch recomputes and single-event increments.
package stats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pulseworks/taskmetrics/internal/domain"
	"github.com/pulseworks/taskmetrics/internal/pkg/logger"
)

// Locker serializes the two writer paths (batch recompute and incremental
// increment) per user so they never interleave on the same rows.
type Locker interface {
	// Lock acquires the user's stat-writer lock, blocking until acquired
	// or ctx is done. The returned func releases the lock.
	Lock(ctx context.Context, userID string) (func(), error)
}

// Limiter gates remote-source fetches against the source's rate budget.
type Limiter interface {
	// Acquire blocks until a fetch slot is available or ctx is done.
	Acquire(ctx context.Context) error
}

// BatchResult summarizes an all-users batch run.
type BatchResult struct {
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// Message renders the result in the "N succeeded, M failed" form the batch
// endpoint reports.
func (r BatchResult) Message() string {
	return fmt.Sprintf("%d succeeded, %d failed", r.Succeeded, r.Failed)
}

// Service is the batch orchestrator and incremental updater. All public
// methods are safe for concurrent use.
type Service struct {
	repo        Repository
	users       UserStore
	source      TaskSource
	locker      Locker
	limiter     Limiter
	concurrency int
	now         func() time.Time
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithLocker sets the per-user stat-writer lock.
func WithLocker(l Locker) Option { return func(s *Service) { s.locker = l } }

// WithLimiter sets the remote-source rate limiter.
func WithLimiter(l Limiter) Option { return func(s *Service) { s.limiter = l } }

// WithConcurrency bounds the all-users batch fan-out.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithClock overrides the wall clock (tests only).
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService creates the stats service.
func NewService(repo Repository, users UserStore, source TaskSource, opts ...Option) *Service {
	s := &Service{
		repo:        repo,
		users:       users,
		source:      source,
		concurrency: 4,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UpdateUserStats recomputes all four period rollups for one user from the
// complete remote task set. Writes happen sequentially daily, weekly,
// monthly, yearly; the upserts within one grouping are independent rows.
// Returns ErrCredentialMissing if the user has no stored refresh token.
func (s *Service) UpdateUserStats(ctx context.Context, userID string) error {
	token, err := s.users.RefreshToken(ctx, userID)
	if err != nil {
		return err
	}

	if s.limiter != nil {
		if err := s.limiter.Acquire(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	tasks, err := s.source.FetchAll(ctx, token)
	if err != nil {
		return fmt.Errorf("fetch tasks: %w", err)
	}

	agg := Aggregate(tasks, s.now())

	unlock, err := s.lock(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()

	return s.writeAggregation(ctx, userID, agg)
}

// writeAggregation persists the four groupings in fixed order.
func (s *Service) writeAggregation(ctx context.Context, userID string, agg Aggregation) error {
	for key, r := range agg.Daily {
		if err := s.repo.UpsertDaily(ctx, userID, key, r); err != nil {
			return fmt.Errorf("upsert daily %s: %w", key, err)
		}
	}
	for key, r := range agg.Weekly {
		if err := s.repo.UpsertWeekly(ctx, userID, key, r); err != nil {
			return fmt.Errorf("upsert weekly %d-W%02d: %w", key.Year, key.Week, err)
		}
	}
	for key, r := range agg.Monthly {
		if err := s.repo.UpsertMonthly(ctx, userID, key, r); err != nil {
			return fmt.Errorf("upsert monthly %d-%02d: %w", key.Year, key.Month, err)
		}
	}
	for key, r := range agg.Yearly {
		if err := s.repo.UpsertYearly(ctx, userID, key, r); err != nil {
			return fmt.Errorf("upsert yearly %d: %w", key, err)
		}
	}
	return nil
}

// UpdateAllUsersStats runs UpdateUserStats for every registered user
// through a bounded worker pool. One user's failure never aborts the
// others; the result carries the success/failure counts.
func (s *Service) UpdateAllUsersStats(ctx context.Context) (BatchResult, error) {
	userIDs, err := s.users.ListUserIDs(ctx)
	if err != nil {
		return BatchResult{}, fmt.Errorf("list users: %w", err)
	}

	var (
		mu     sync.Mutex
		result BatchResult
		wg     sync.WaitGroup
		sem    = make(chan struct{}, s.concurrency)
	)

	for _, userID := range userIDs {
		select {
		case <-ctx.Done():
			// Stop launching, but wait for in-flight workers: they still
			// hold references to result, and callers treat our return as
			// "no more writes are happening".
			wg.Wait()
			mu.Lock()
			snapshot := result
			mu.Unlock()
			return snapshot, ctx.Err()
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			defer func() { <-sem }()

			err := s.updateUserGuarded(ctx, userID)

			mu.Lock()
			if err != nil {
				result.Failed++
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", userID, err))
			} else {
				result.Succeeded++
			}
			mu.Unlock()

			if err != nil {
				logger.Warn("user stats update failed", "user_id", userID, "error", err)
			}
		}(userID)
	}

	wg.Wait()
	logger.Info("batch stats run finished",
		"users", len(userIDs), "succeeded", result.Succeeded, "failed", result.Failed)
	return result, nil
}

// updateUserGuarded converts a panic in one user's update into an error so
// it never crosses the orchestrator boundary.
func (s *Service) updateUserGuarded(ctx context.Context, userID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.UpdateUserStats(ctx, userID)
}

// RecordEvent is the incremental path: bump the relevant counter by one in
// the four period rows covering at. A zero at means now. The row is
// created on first touch with the other counter at zero.
func (s *Service) RecordEvent(ctx context.Context, userID string, action domain.StatAction, at time.Time) error {
	if !action.Valid() {
		return ErrInvalidAction
	}
	if at.IsZero() {
		at = s.now()
	}
	dk, wk, mk, yk := BucketOf(at).Keys()

	unlock, err := s.lock(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.repo.IncrementDaily(ctx, userID, dk, action); err != nil {
		return fmt.Errorf("increment daily: %w", err)
	}
	if err := s.repo.IncrementWeekly(ctx, userID, wk, action); err != nil {
		return fmt.Errorf("increment weekly: %w", err)
	}
	if err := s.repo.IncrementMonthly(ctx, userID, mk, action); err != nil {
		return fmt.Errorf("increment monthly: %w", err)
	}
	if err := s.repo.IncrementYearly(ctx, userID, yk, action); err != nil {
		return fmt.Errorf("increment yearly: %w", err)
	}
	return nil
}

func (s *Service) lock(ctx context.Context, userID string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	unlock, err := s.locker.Lock(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("acquire stat lock: %w", err)
	}
	return unlock, nil
}

// Reads: thin pass-throughs so handlers depend on the service, not the
// repository.

func (s *Service) DailyRange(ctx context.Context, userID string, start, end time.Time) ([]domain.DailyStat, error) {
	return s.repo.DailyRange(ctx, userID, start, end)
}

func (s *Service) WeeklyByYear(ctx context.Context, userID string, year int) ([]domain.WeeklyStat, error) {
	return s.repo.WeeklyByYear(ctx, userID, year)
}

func (s *Service) YearlyRange(ctx context.Context, userID string, startYear, endYear int) ([]domain.YearlyStat, error) {
	return s.repo.YearlyRange(ctx, userID, startYear, endYear)
}

func (s *Service) PriorityDistribution(ctx context.Context, userID string, limit int) ([]domain.DistributionEntry, error) {
	return s.repo.PriorityDistribution(ctx, userID, limit)
}

func (s *Service) TagDistribution(ctx context.Context, userID string, limit int) ([]domain.DistributionEntry, error) {
	return s.repo.TagDistribution(ctx, userID, limit)
}
