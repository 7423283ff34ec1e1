// Package worker holds the background pieces of the aggregation engine:
// the periodic batch scheduler and the remote-source rate limiter.
package worker

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pulseworks/taskmetrics/internal/pkg/distlock"
	"github.com/pulseworks/taskmetrics/internal/pkg/logger"
	"github.com/pulseworks/taskmetrics/internal/service/stats"
)

// BatchScheduler periodically runs the all-users stats recompute. A
// cluster-wide lock ensures only one instance runs a given cycle when the
// server is deployed with multiple replicas.
type BatchScheduler struct {
	svc      *stats.Service
	interval time.Duration
	redis    *redis.Client
	db       *sql.DB

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewBatchScheduler creates a scheduler. redisClient may be nil; the lock
// then falls back to a PostgreSQL advisory lock.
func NewBatchScheduler(svc *stats.Service, interval time.Duration, redisClient *redis.Client, db *sql.DB) *BatchScheduler {
	return &BatchScheduler{
		svc:      svc,
		interval: interval,
		redis:    redisClient,
		db:       db,
	}
}

// Start launches the scheduling loop.
func (s *BatchScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	if s.interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go s.loop(ctx)

	logger.Info("batch scheduler started", "interval", s.interval.String())
	return nil
}

// Stop halts the scheduling loop and waits for an in-flight cycle.
func (s *BatchScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	logger.Info("batch scheduler stopped")
}

func (s *BatchScheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// runCycle runs one batch under the cluster lock. Losing the lock race is
// normal when another replica got there first. The lock is extended while
// the batch runs, so a cycle that outlives the tick interval does not let
// a second replica start a concurrent batch.
func (s *BatchScheduler) runCycle(ctx context.Context) {
	ttl := s.interval
	lock := distlock.NewLock(s.redis, s.db, "stats:batch-cycle", ttl)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		logger.Warn("batch cycle lock error", "error", err)
		return
	}
	if !acquired {
		logger.Debug("batch cycle skipped, another instance holds the lock")
		return
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = lock.Release(rctx)
	}()

	extendDone := make(chan struct{})
	defer close(extendDone)
	go func() {
		ticker := time.NewTicker(ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-extendDone:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := lock.Extend(ctx, ttl); err != nil {
					logger.Warn("batch cycle lock extension failed", "error", err)
					return
				}
			}
		}
	}()

	start := time.Now()
	result, err := s.svc.UpdateAllUsersStats(ctx)
	if err != nil {
		logger.Error("scheduled batch run failed", "error", err)
		return
	}
	logger.Info("scheduled batch run complete",
		"succeeded", result.Succeeded, "failed", result.Failed,
		"duration", time.Since(start).String())
}
