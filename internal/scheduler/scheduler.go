// Package scheduler runs the recurring credential and catalog jobs as
// supervised services.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/MichelGerding/remote-iracing-setups/internal/logging"
	"github.com/MichelGerding/remote-iracing-setups/internal/metrics"
)

// Job names.
const (
	JobCredentialRefresh = "credential-refresh"
	JobCatalogSync       = "catalog-sync"
)

// Runner is the set of engine operations the jobs call.
type Runner interface {
	RefreshCredential(ctx context.Context) error
	RefreshCatalog(ctx context.Context) error
	ReconcileFiles(ctx context.Context) (int, error)
}

// Config holds the job intervals.
type Config struct {
	TokenInterval time.Duration
	SyncInterval  time.Duration
}

// DefaultConfig returns the production intervals.
func DefaultConfig() Config {
	return Config{
		TokenInterval: 50 * time.Minute,
		SyncInterval:  2 * time.Hour,
	}
}

// Job is a recurring task that fires on wall-clock multiples of Interval.
// It implements suture.Service.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// New returns the credential refresh and catalog sync jobs.
func New(r Runner, cfg Config) []*Job {
	if cfg.TokenInterval <= 0 {
		cfg.TokenInterval = DefaultConfig().TokenInterval
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = DefaultConfig().SyncInterval
	}
	return []*Job{
		{
			Name:     JobCredentialRefresh,
			Interval: cfg.TokenInterval,
			Run:      r.RefreshCredential,
		},
		{
			Name:     JobCatalogSync,
			Interval: cfg.SyncInterval,
			Run: func(ctx context.Context) error {
				// A failed fetch keeps the previous catalog, so files are
				// still reconciled against it.
				if err := r.RefreshCatalog(ctx); err != nil {
					logging.Warn("catalog refresh failed, reconciling with previous catalog", zap.Error(err))
				}
				_, err := r.ReconcileFiles(ctx)
				return err
			},
		},
	}
}

// NextFire returns the first multiple of interval strictly after now.
func NextFire(now time.Time, interval time.Duration) time.Time {
	return now.Truncate(interval).Add(interval)
}

// Serve implements suture.Service. Failures of Run are logged and never
// stop the job.
func (j *Job) Serve(ctx context.Context) error {
	logging.Info("job scheduled",
		zap.String("job", j.Name),
		zap.Duration("interval", j.Interval),
		zap.Time("next", NextFire(time.Now(), j.Interval)))

	for {
		timer := time.NewTimer(time.Until(NextFire(time.Now(), j.Interval)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		j.runOnce(ctx)
	}
}

func (j *Job) runOnce(ctx context.Context) {
	start := time.Now()
	// Shutdown does not interrupt a run in progress.
	err := j.Run(context.WithoutCancel(ctx))
	metrics.RecordJob(j.Name, time.Since(start), err == nil)
	if err != nil {
		logging.Error("job failed",
			zap.String("job", j.Name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return
	}
	logging.Debug("job finished", zap.String("job", j.Name), zap.Duration("duration", time.Since(start)))
}

// String implements fmt.Stringer; suture uses it in events.
func (j *Job) String() string {
	return j.Name
}
