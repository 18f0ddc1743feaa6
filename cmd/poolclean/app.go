package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bardlex/poolclean/internal/config"
	"github.com/bardlex/poolclean/internal/database"
	"github.com/bardlex/poolclean/internal/report"
	"github.com/bardlex/poolclean/internal/retention"
	"github.com/bardlex/poolclean/internal/store"
	"github.com/bardlex/poolclean/internal/sweep"
	"github.com/bardlex/poolclean/pkg/errors"
	"github.com/bardlex/poolclean/pkg/log"
)

// runSinks is the part of *database.Manager a run uses
type runSinks interface {
	Lock(ctx context.Context) (release func(), err error)
	RecordRun(ctx context.Context, run *database.Run) error
}

type app struct {
	cfg    *config.Config
	logger *log.Logger
	in     io.Reader
	out    io.Writer
	sinks  runSinks
	now    func() time.Time
}

func newApp(cfg *config.Config, logger *log.Logger, in io.Reader, out io.Writer, sinks runSinks) *app {
	return &app{
		cfg:    cfg,
		logger: logger,
		in:     in,
		out:    out,
		sinks:  sinks,
		now:    time.Now,
	}
}

// run performs one invocation. Only a refused request, a store that cannot
// be opened or read, a held run lock, or a sweep that could not conserve
// value is returned as an error; individual table failures are reported in
// the summary.
func (a *app) run(ctx context.Context) error {
	cfg := a.cfg
	threshold, err := cfg.Threshold()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypePolicy, "dust_threshold", "invalid dust threshold")
	}

	started := a.now()
	cutoff := retention.Cutoff(started, cfg.RetentionDays)

	a.logger.Info("poolclean starting",
		"database", cfg.DBPath,
		"retention_days", cfg.RetentionDays,
		"cutoff", cutoff.Format(time.DateTime),
		"dry_run", cfg.DryRun,
	)

	s, err := store.Open(cfg.DBPath, store.Options{ReadOnly: cfg.DryRun || cfg.StatsOnly, MaxDBs: cfg.MaxDBs}, a.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			a.logger.WithError(err).Warn("failed to close store")
		}
	}()

	before, err := report.Collect(s)
	if err != nil {
		return err
	}
	before.Log(a.logger)

	if cfg.StatsOnly {
		return nil
	}

	if !cfg.Force && !cfg.DryRun && !a.confirm() {
		a.logger.Info("aborted")
		return nil
	}

	runID := uuid.NewString()
	ctx = log.ContextWithRunID(ctx, runID)
	logger := a.logger.WithContext(ctx)

	if a.sinks != nil {
		release, err := a.sinks.Lock(ctx)
		if err != nil {
			return err
		}
		defer release()
	}

	progress := report.LogProgress(logger, cfg.Verbose)

	engine := retention.New(s, logger, retention.Options{
		Cutoff:           cutoff,
		DryRun:           cfg.DryRun,
		PreserveUnlocked: cfg.KeepUnlockedBlocks,
		Progress:         progress,
	})
	tables, err := engine.Run(retention.Selection{
		Shares:   !cfg.SkipShares,
		Payments: !cfg.SkipPayments,
		Blocks:   !cfg.SkipBlocks,
		Balances: !cfg.SkipBalances,
	})
	if err != nil {
		logger.WithError(err).Warn("some tables were not cleaned")
	}

	run := &database.Run{
		ID:            runID,
		Database:      cfg.DBPath,
		DryRun:        cfg.DryRun,
		RetentionDays: cfg.RetentionDays,
		Cutoff:        cutoff,
		StartedAt:     started,
		Tables:        tables,
		PoolWallet:    cfg.PoolWallet,
		Threshold:     threshold,
		Before:        &before,
	}

	var sweepErr error
	if cfg.DustSweep {
		res, err := sweep.New(s, logger).Sweep(sweep.Options{
			Cutoff:     cutoff,
			Threshold:  threshold,
			PoolWallet: cfg.PoolWallet,
			DryRun:     cfg.DryRun,
			Progress:   progress,
		})
		if err != nil {
			logger.WithError(err).Error("dust sweep failed")
		}
		run.Sweep, run.SweepErr = &res, err
		sweepErr = err
	}

	summary := run.Summary()
	summary.Log(logger)

	if !cfg.DryRun && (summary.Deleted > 0 || (run.Sweep != nil && run.Sweep.Swept > 0)) {
		after, err := report.Collect(s)
		if err != nil {
			logger.WithError(err).Warn("could not read final statistics")
		} else {
			report.LogSavings(logger, report.Compare(before, after))
			run.After = &after
		}
	}

	run.FinishedAt = a.now()
	logger.LogDuration("poolclean", run.FinishedAt.Sub(started).Nanoseconds())

	if a.sinks != nil {
		// failures are already logged by the sinks
		_ = a.sinks.RecordRun(ctx, run)
	}

	if errors.IsType(sweepErr, errors.ErrorTypePolicy) || errors.IsType(sweepErr, errors.ErrorTypeStore) {
		return sweepErr
	}
	return nil
}

// confirm asks before a live run
func (a *app) confirm() bool {
	fmt.Fprint(a.out, "Proceed with cleanup? [y/N]: ")
	line, err := bufio.NewReader(a.in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(line), "y")
}
