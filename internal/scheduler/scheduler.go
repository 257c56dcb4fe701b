// Package scheduler runs the ledger's periodic jobs: the late-loan sweep and the
// client aggregate heal.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/segyhp/microlend-ledger/internal/config"
)

// LateMarker flags overdue active loans as late.
type LateMarker interface {
	MarkLateLoans(ctx context.Context, now time.Time) (int, error)
}

// AggregateHealer recomputes client aggregates from the stored loans.
type AggregateHealer interface {
	Reconcile(ctx context.Context) (int, error)
}

type Jobs struct {
	Late    LateMarker
	Heal    AggregateHealer
	Timeout time.Duration
	Now     func() time.Time
}

// New registers the jobs on a cron scheduler using the six-field specs from cfg.
// The returned scheduler is not started.
func New(cfg config.SchedulerConfig, loc *time.Location, jobs Jobs, logger *zap.Logger) (*cron.Cron, error) {
	if jobs.Now == nil {
		jobs.Now = time.Now
	}
	if jobs.Timeout <= 0 {
		jobs.Timeout = 10 * time.Minute
	}

	cl := cronLogger{logger.Sugar()}
	c := cron.New(
		cron.WithParser(config.CronParser),
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	// Hourly sweep marking loans whose next payment is past due
	if _, err := c.AddFunc(cfg.LateCheckSpec, jobs.lateCheck(logger)); err != nil {
		return nil, fmt.Errorf("schedule late check: %w", err)
	}

	// Nightly rebuild of client aggregates from the loan records
	if _, err := c.AddFunc(cfg.AggregateHealSpec, jobs.aggregateHeal(logger)); err != nil {
		return nil, fmt.Errorf("schedule aggregate heal: %w", err)
	}

	logger.Info("cron jobs scheduled",
		zap.String("late_check", cfg.LateCheckSpec),
		zap.String("aggregate_heal", cfg.AggregateHealSpec),
		zap.String("timezone", loc.String()))
	return c, nil
}

func (j Jobs) lateCheck(logger *zap.Logger) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), j.Timeout)
		defer cancel()

		start := time.Now()
		marked, err := j.Late.MarkLateLoans(ctx, j.Now())
		if err != nil {
			logger.Error("late check finished with errors", zap.Int("marked", marked), zap.Error(err))
			return
		}
		logger.Info("late check finished", zap.Int("marked", marked), zap.Duration("took", time.Since(start)))
	}
}

func (j Jobs) aggregateHeal(logger *zap.Logger) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), j.Timeout)
		defer cancel()

		healed, err := j.Heal.Reconcile(ctx)
		if err != nil {
			logger.Error("aggregate heal failed", zap.Error(err))
			return
		}
		logger.Info("aggregate heal finished", zap.Int("healed", healed))
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
