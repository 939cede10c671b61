// Package cron runs the periodic cleanup of dead rows.  Request paths only
// clean up rows of the identifier they touch, so without the sweep expired
// refresh tokens and idle rate-limit identifiers would accumulate.
package cron

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// RevokedRetention is how long revoked refresh tokens are kept, so a
// replayed token is still recognised as revoked for a while.
const RevokedRetention = 24 * time.Hour

type TokenSweeper interface {
	DeleteDead(ctx context.Context, now, revokedBefore time.Time) (int64, error)
}

type RateSweeper interface {
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

type BlockSweeper interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Result counts the rows removed by one sweep.
type Result struct {
	Tokens, RateRows, Blocks int64
}

type Sweeper struct {
	Tokens TokenSweeper
	Rates  RateSweeper
	Blocks BlockSweeper
	// MaxWindow is the longest rate-limit window in use; rows older than
	// that cannot influence any decision.
	MaxWindow time.Duration
	Now       func() time.Time
	Log       *zap.Logger

	sched *gocron.Scheduler
}

// RunOnce performs one sweep.  A failing step is logged and the others
// still run; the first error is returned.
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	log := s.logger()
	t := now().UTC()

	var (
		res      Result
		firstErr error
	)
	step := func(name string, f func() (int64, error)) int64 {
		n, err := f()
		if err != nil {
			log.Error("sweep step failed", zap.String("step", name), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			return 0
		}
		return n
	}
	res.Tokens = step("refresh_tokens", func() (int64, error) {
		return s.Tokens.DeleteDead(ctx, t, t.Add(-RevokedRetention))
	})
	res.RateRows = step("rate_limits", func() (int64, error) {
		return s.Rates.Purge(ctx, t.Add(-s.MaxWindow))
	})
	res.Blocks = step("blocked_ips", func() (int64, error) {
		return s.Blocks.PurgeExpired(ctx, t)
	})

	log.Info("sweep finished",
		zap.Int64("refresh_tokens", res.Tokens),
		zap.Int64("rate_limits", res.RateRows),
		zap.Int64("blocked_ips", res.Blocks))
	return res, firstErr
}

// Start schedules RunOnce every interval in the background.
func (s *Sweeper) Start(interval time.Duration) error {
	s.sched = gocron.NewScheduler(time.UTC)
	s.sched.SingletonModeAll()
	if _, err := s.sched.Every(interval).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		_, _ = s.RunOnce(ctx)
	}); err != nil {
		return err
	}
	s.sched.StartAsync()
	return nil
}

func (s *Sweeper) Stop() {
	if s.sched != nil {
		s.sched.Stop()
	}
}

func (s *Sweeper) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}
