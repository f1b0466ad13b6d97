package task

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/phrazzld/melody-api/internal/store"
	"github.com/robfig/cron/v3"
)

// SweeperConfig holds configuration for the retention sweeper
type SweeperConfig struct {
	// Retention is how long a terminal record is kept after its last update
	Retention time.Duration

	// Schedule is a cron expression or descriptor such as "@every 10m"
	Schedule string
}

// DefaultSweeperConfig returns a SweeperConfig with reasonable defaults
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Retention: 24 * time.Hour,
		Schedule:  "@every 10m",
	}
}

// Sweeper removes terminal records, and their stored results, once they are
// older than the retention period.
type Sweeper struct {
	registry *Registry
	results  store.ResultStore
	config   SweeperConfig
	logger   *slog.Logger
	cron     *cron.Cron
	now      func() time.Time
}

// NewSweeper creates a sweeper. The schedule is validated here so that a bad
// configuration is reported at startup.
func NewSweeper(registry *Registry, results store.ResultStore, config SweeperConfig, logger *slog.Logger) (*Sweeper, error) {
	logger = logger.With("component", "retention_sweeper")

	s := &Sweeper{
		registry: registry,
		results:  results,
		config:   config,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}

	cl := cronLogger{logger: logger}
	s.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := s.cron.AddFunc(config.Schedule, s.runScheduled); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", config.Schedule, err)
	}

	return s, nil
}

// Start begins running sweeps on the configured schedule.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("retention sweeper started",
		"schedule", s.config.Schedule,
		"retention", s.config.Retention)
}

// Stop halts the schedule and waits for a running sweep to finish or ctx to
// be done.
func (s *Sweeper) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep deletes every terminal record last updated before now minus the
// retention period. It returns the number of records removed. Failures to
// delete stored results are aggregated; the records are removed regardless.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.config.Retention)

	var errs *multierror.Error
	removed := 0
	for _, summary := range s.registry.List() {
		if !summary.State.IsTerminal() || !summary.UpdatedAt.Before(cutoff) {
			continue
		}

		s.registry.Delete(ctx, summary.ID)
		removed++

		if summary.State == StateCompleted {
			if err := s.results.Delete(ctx, summary.ID); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("failed to delete result %s: %w", summary.ID, err))
			}
		}
	}

	return removed, errs.ErrorOrNil()
}

func (s *Sweeper) runScheduled() {
	removed, err := s.Sweep(context.Background())
	if err != nil {
		s.logger.Error("retention sweep finished with errors", "removed_count", removed, "error", err)
		return
	}
	if removed > 0 {
		s.logger.Info("retention sweep removed expired tasks", "removed_count", removed)
	}
}

// cronLogger adapts slog to the cron.Logger interface
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
