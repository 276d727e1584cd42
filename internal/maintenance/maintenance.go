// Package maintenance runs the scheduled housekeeping jobs that keep the
// SQLite-backed bus and persistence databases healthy over long uptimes:
// WAL checkpointing, integrity checks, and disk space monitoring.
package maintenance

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
)

// checker is the subset of *database.DB the job needs.
type checker interface {
	WALCheckpoint(mode string) (busy, log, checkpointed int, err error)
	HealthCheck(ctx context.Context) error
	Path() string
}

// Checkers maps a database name to the checker it should be
// checkpointed and integrity-checked through.
type Checkers map[string]checker

// Config configures the maintenance scheduler.
type Config struct {
	// Databases are checkpointed and integrity-checked on every run.
	Databases Checkers
	// DataDir is statted for free disk space.
	DataDir string
	// CriticalFreeGB halts (returns an error from RunDailyMaintenance, which the caller
	// should treat as a trading halt) when free space drops below it.
	CriticalFreeGB float64
	// WarnFreeGB only logs a warning.
	WarnFreeGB float64
}

// Scheduler runs Config's jobs on a cron schedule.
type Scheduler struct {
	cron *cron.Cron
	cfg  Config
	log  zerolog.Logger
	// OnCritical is invoked (if set) when disk space drops below
	// CriticalFreeGB, so the caller can halt trading.
	OnCritical func(reason string)
}

// New builds a Scheduler. It does not start running until Start is called.
func New(cfg Config, log zerolog.Logger) *Scheduler {
	if cfg.CriticalFreeGB == 0 {
		cfg.CriticalFreeGB = 0.5
	}
	if cfg.WarnFreeGB == 0 {
		cfg.WarnFreeGB = 10.0
	}
	return &Scheduler{
		cron: cron.New(),
		cfg:  cfg,
		log:  log.With().Str("component", "maintenance").Logger(),
	}
}

// Start registers the daily maintenance job at 02:00 and starts the cron
// scheduler in the background.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc("0 2 * * *", func() {
		if err := s.RunDailyMaintenance(context.Background()); err != nil {
			s.log.Error().Err(err).Msg("daily maintenance failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule daily maintenance: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron scheduler and waits for any running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// RunDailyMaintenance runs checkpointing, integrity checks, and disk space
// monitoring once. Start's cron job calls it; it can also be called
// directly outside the schedule.
func (s *Scheduler) RunDailyMaintenance(ctx context.Context) error {
	s.log.Info().Msg("starting daily maintenance")

	for name, db := range s.cfg.Databases {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("integrity check failed for %s: %w", name, err)
		}
	}

	for name, db := range s.cfg.Databases {
		if busy, _, checkpointed, err := db.WALCheckpoint("TRUNCATE"); err != nil {
			s.log.Warn().Err(err).Str("database", name).Msg("WAL checkpoint failed")
		} else {
			s.log.Debug().Str("database", name).Int("busy", busy).Int("checkpointed", checkpointed).Msg("WAL checkpoint complete")
		}
	}

	if err := s.checkDiskSpace(); err != nil {
		return err
	}

	s.log.Info().Msg("daily maintenance complete")
	return nil
}

// checkDiskSpace inspects free space on DataDir's filesystem, halting via
// OnCritical below CriticalFreeGB and warning below WarnFreeGB.
func (s *Scheduler) checkDiskSpace() error {
	if s.cfg.DataDir == "" {
		return nil
	}
	usage, err := disk.Usage(s.cfg.DataDir)
	if err != nil {
		return fmt.Errorf("stat filesystem for %s: %w", s.cfg.DataDir, err)
	}

	availableGB := float64(usage.Free) / 1e9
	s.log.Debug().Float64("available_gb", availableGB).Msg("disk space check")

	if availableGB < s.cfg.CriticalFreeGB {
		reason := fmt.Sprintf("only %.2f GB free, below critical threshold %.2f GB", availableGB, s.cfg.CriticalFreeGB)
		s.log.Error().Float64("available_gb", availableGB).Msg("critical disk space, halting")
		if s.OnCritical != nil {
			s.OnCritical(reason)
		}
		return fmt.Errorf("critical disk space: %s", reason)
	}
	if availableGB < s.cfg.WarnFreeGB {
		s.log.Warn().Float64("available_gb", availableGB).Msg("disk space running low")
	}
	return nil
}
