// Package retention deletes aged records from the pool daemon's tables.
//
// Each table is cleaned in its own session: a read-only snapshot for a dry
// run, a write transaction otherwise. Matches are deleted in place through
// the scan cursor, so only records the scan has already examined are ever
// removed, and each duplicate share is removed individually.
//
// A dry run reports exactly what a live run would delete only if the daemon
// does not change the store in between. The daemon keeps writing while this
// package runs, so the counts are an estimate.
package retention

import (
	stderrors "errors"
	"fmt"
	"time"

	"github.com/bardlex/poolclean/internal/record"
	"github.com/bardlex/poolclean/internal/report"
	"github.com/bardlex/poolclean/internal/store"
	"github.com/bardlex/poolclean/pkg/errors"
	"github.com/bardlex/poolclean/pkg/log"
)

// Progress intervals for the high-volume tables, in matched records.
const (
	shareProgressEvery   = 10000
	paymentProgressEvery = 1000
)

// Store is the part of *store.Store the engine uses.
type Store interface {
	View(table store.Table, fn func(store.Session) error) error
	Update(table store.Table, fn func(store.Session) error) error
}

// Options configures an Engine.
type Options struct {
	Cutoff           time.Time
	DryRun           bool
	PreserveUnlocked bool
	Progress         report.Progress
}

// Result is the outcome of one table cleanup.
type Result = report.TableResult

// Selection picks the cleanups Run executes.
type Selection struct {
	Shares   bool
	Payments bool
	Blocks   bool
	Balances bool
}

// All selects every table.
func All() Selection {
	return Selection{Shares: true, Payments: true, Blocks: true, Balances: true}
}

// Engine runs the per-table cleanups.
type Engine struct {
	store  Store
	logger *log.Logger
	opts   Options
}

// New creates an engine.
func New(s Store, logger *log.Logger, opts Options) *Engine {
	if logger == nil {
		logger = log.Discard()
	}
	return &Engine{
		store:  s,
		logger: logger.WithComponent("retention"),
		opts:   opts,
	}
}

// match decides one entry. detail is only computed for matches.
type match func(e store.Entry) (expired bool, detail string, err error)

type rule struct {
	table store.Table
	every int
	match match
}

// CleanShares removes shares older than the cutoff.
func (e *Engine) CleanShares() (Result, error) {
	return e.clean(rule{
		table: store.Shares,
		every: shareProgressEvery,
		match: func(ent store.Entry) (bool, string, error) {
			s, err := record.DecodeShare(ent.Value)
			if err != nil {
				return false, "", err
			}
			return ShareExpired(s, e.opts.Cutoff), "", nil
		},
	})
}

// CleanPayments removes payments older than the cutoff.
func (e *Engine) CleanPayments() (Result, error) {
	return e.clean(rule{
		table: store.Payments,
		every: paymentProgressEvery,
		match: func(ent store.Entry) (bool, string, error) {
			p, err := record.DecodePayment(ent.Value)
			if err != nil {
				return false, "", err
			}
			return PaymentExpired(p, e.opts.Cutoff), "", nil
		},
	})
}

// CleanBlocks removes blocks older than the cutoff, keeping unlocked blocks
// when PreserveUnlocked is set.
func (e *Engine) CleanBlocks() (Result, error) {
	return e.clean(rule{
		table: store.Blocks,
		every: 1,
		match: func(ent store.Entry) (bool, string, error) {
			b, err := record.DecodeBlock(ent.Value)
			if err != nil {
				return false, "", err
			}
			if !BlockExpired(b, e.opts.Cutoff, e.opts.PreserveUnlocked) {
				return false, "", nil
			}
			return true, fmt.Sprintf("block %d (%s, %s)", b.Height, b.Status,
				time.Unix(b.Timestamp, 0).UTC().Format(time.DateTime)), nil
		},
	})
}

// CleanZeroBalances removes balance records holding zero.
func (e *Engine) CleanZeroBalances() (Result, error) {
	return e.clean(rule{
		table: store.Balance,
		every: 1,
		match: func(ent store.Entry) (bool, string, error) {
			b, err := record.DecodeBalance(ent.Key, ent.Value)
			if err != nil {
				return false, "", err
			}
			if !BalanceEmpty(b) {
				return false, "", nil
			}
			return true, "zero balance for " + log.Abbreviate(b.Address), nil
		},
	})
}

// Run executes the selected cleanups in table order. A failed table does not
// stop the ones after it; every result is returned along with the joined
// errors.
func (e *Engine) Run(sel Selection) ([]Result, error) {
	steps := []struct {
		enabled bool
		clean   func() (Result, error)
	}{
		{sel.Shares, e.CleanShares},
		{sel.Payments, e.CleanPayments},
		{sel.Blocks, e.CleanBlocks},
		{sel.Balances, e.CleanZeroBalances},
	}

	var (
		results []Result
		errs    []error
	)
	for _, step := range steps {
		if !step.enabled {
			continue
		}
		res, err := step.clean()
		results = append(results, res)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return results, stderrors.Join(errs...)
}

// RunAll cleans every table.
func (e *Engine) RunAll() ([]Result, error) {
	return e.Run(All())
}

func (e *Engine) clean(r rule) (Result, error) {
	res := Result{Table: r.table.Name, DryRun: e.opts.DryRun}
	logger := e.logger.WithTable(r.table.Name)
	progress := e.opts.Progress

	progress.Emit(report.Event{
		Table:  r.table.Name,
		Kind:   report.EventPhase,
		Detail: "cleaning records older than " + e.opts.Cutoff.UTC().Format(time.DateTime),
	})

	scan := func(sess store.Session) error {
		return sess.ForEach(func(ent store.Entry) (store.Action, error) {
			res.Scanned++

			expired, detail, err := r.match(ent)
			if err != nil {
				res.Skipped++
				progress.Emit(report.Event{
					Table: r.table.Name,
					Kind:  report.EventSkipped,
					Err:   errors.Wrap(err, errors.ErrorTypeDecode, "decode_record", "skipping malformed record"),
				})
				return store.Continue, nil
			}
			if !expired {
				return store.Continue, nil
			}

			res.Deleted++
			switch {
			case detail != "":
				progress.Emit(report.Event{Table: r.table.Name, Kind: report.EventDeleted, Count: res.Deleted, Detail: detail})
			case res.Deleted%r.every == 0:
				progress.Emit(report.Event{Table: r.table.Name, Kind: report.EventFound, Count: res.Deleted})
			}

			if e.opts.DryRun {
				return store.Continue, nil
			}
			return store.Delete, nil
		})
	}

	var err error
	if e.opts.DryRun {
		err = e.store.View(r.table, scan)
	} else {
		err = e.store.Update(r.table, scan)
	}

	if err != nil {
		// An aborted write transaction deleted nothing.
		if !e.opts.DryRun {
			res.Deleted = 0
		}
		res.Err = err
		logger.WithError(err).Error("table cleanup failed",
			"scanned", res.Scanned,
			"skipped", res.Skipped,
		)
		return res, err
	}

	logger.LogTableResult(r.table.Name, res.Scanned, res.Deleted, res.Skipped, res.DryRun)
	return res, nil
}
