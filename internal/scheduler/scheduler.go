// Package scheduler runs BloodLink's periodic maintenance on cron
// expressions: expiring past-deadline blood requests, purging idle
// sessions and pruning the inbound dedup log.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/BTreeMap/BloodLink/internal/metrics"
)

// DefaultSweepSpec runs the sweep every 15 minutes.
const DefaultSweepSpec = "*/15 * * * *"

// DefaultDedupRetention is how long inbound message IDs are remembered.
const DefaultDedupRetention = 7 * 24 * time.Hour

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler using the standard
// 5-field parser. Panicking jobs are recovered and logged.
func NewScheduler() *Scheduler {
	logger := cron.PrintfLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn))
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RequestExpirer moves past-deadline requests to expired.
type RequestExpirer interface {
	ExpireRequests(ctx context.Context, now time.Time) (int64, error)
}

// SessionSweeper purges expired sessions.
type SessionSweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// DedupPruner drops old inbound dedup records.
type DedupPruner interface {
	PruneDedup(ctx context.Context, before time.Time) (int64, error)
}

// SweepResult reports what one sweep changed.
type SweepResult struct {
	ExpiredRequests int64
	SweptSessions   int
	PrunedDedup     int64
}

// Sweeper bundles the maintenance tasks. Nil collaborators are skipped.
type Sweeper struct {
	Requests       RequestExpirer
	Sessions       SessionSweeper
	Dedup          DedupPruner
	DedupRetention time.Duration
	Now            func() time.Time
}

// RunOnce performs one sweep. Each task runs even if an earlier one failed.
func (w *Sweeper) RunOnce(ctx context.Context) SweepResult {
	now := time.Now()
	if w.Now != nil {
		now = w.Now()
	}
	var res SweepResult

	if w.Requests != nil {
		n, err := w.Requests.ExpireRequests(ctx, now)
		if err != nil {
			slog.Error("Sweeper.RunOnce: request expiry failed", "error", err)
		} else {
			res.ExpiredRequests = n
			metrics.ExpiredRequests.Add(float64(n))
		}
	}
	if w.Sessions != nil {
		n, err := w.Sessions.Sweep(ctx)
		if err != nil {
			slog.Error("Sweeper.RunOnce: session sweep failed", "error", err)
		} else {
			res.SweptSessions = n
		}
	}
	if w.Dedup != nil {
		retention := w.DedupRetention
		if retention <= 0 {
			retention = DefaultDedupRetention
		}
		n, err := w.Dedup.PruneDedup(ctx, now.Add(-retention))
		if err != nil {
			slog.Error("Sweeper.RunOnce: dedup prune failed", "error", err)
		} else {
			res.PrunedDedup = n
		}
	}
	slog.Info("Sweeper.RunOnce: done",
		"expiredRequests", res.ExpiredRequests, "sweptSessions", res.SweptSessions, "prunedDedup", res.PrunedDedup)
	return res
}

// Schedule registers the sweep on s. An empty spec uses DefaultSweepSpec.
func (w *Sweeper) Schedule(ctx context.Context, s *Scheduler, spec string) error {
	if spec == "" {
		spec = DefaultSweepSpec
	}
	return s.AddJob(spec, func() { w.RunOnce(ctx) })
}
