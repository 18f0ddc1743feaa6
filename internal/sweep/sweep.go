// Package sweep moves dust balances of inactive miners into the pool wallet.
//
// A sweep runs in two transactions. Phase 1 builds an activity index from a
// read-only snapshot of the shares table. Phase 2 scans the balance table,
// selects candidates against that index, credits the pool wallet once with
// their total and deletes them, all in one write transaction. The daemon
// may record new shares between the phases; a sweep decision is made
// against the phase 1 snapshot and is not revisited.
package sweep

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

// Store is the part of *store.Store the coordinator uses.
type Store interface {
	View(table store.Table, fn func(store.Session) error) error
	Update(table store.Table, fn func(store.Session) error) error
}

// Options configures one sweep.
type Options struct {
	// Cutoff marks miners with no share at or after it as inactive.
	Cutoff time.Time
	// Threshold is exclusive: balances strictly below it are dust.
	Threshold record.Amount
	// PoolWallet receives the swept total. It is never swept itself.
	PoolWallet string
	DryRun     bool
	Progress   report.Progress
}

// Validate rejects options a sweep must not start with.
func (o Options) Validate() error {
	if o.PoolWallet == "" {
		return errors.Policy("dust_sweep", "a pool wallet is required to sweep dust balances")
	}
	if _, err := record.EncodeAddressKey(o.PoolWallet); err != nil {
		return errors.Wrap(err, errors.ErrorTypePolicy, "dust_sweep", "pool wallet is not a valid address key")
	}
	return nil
}

// Candidate is one balance selected for sweeping.
type Candidate struct {
	Address      string
	Key          []byte
	Amount       record.Amount
	LastActivity int64
}

// NeverActive reports whether the miner has no shares at all.
func (c Candidate) NeverActive() bool {
	return c.LastActivity == NeverActive
}

// Select decides whether balance b is swept. The pool wallet, empty balances
// and balances at or above the threshold are never selected; the rest are
// selected when the miner is inactive.
func Select(b record.Balance, idx ActivityIndex, opts Options) (Candidate, bool) {
	if b.Address == opts.PoolWallet || b.Amount == 0 || b.Amount >= opts.Threshold {
		return Candidate{}, false
	}
	last := idx.LastActivity(b.Address)
	if last >= opts.Cutoff.Unix() {
		return Candidate{}, false
	}
	return Candidate{Address: b.Address, Amount: b.Amount, LastActivity: last}, true
}

// Result is the outcome of a sweep. In a dry run PoolAfter is the balance the
// pool wallet would have.
type Result struct {
	Scanned     int
	Skipped     int
	Swept       int
	TotalSwept  record.Amount
	PoolBefore  record.Amount
	PoolAfter   record.Amount
	PoolCreated bool
	Candidates  []Candidate
	DryRun      bool

	SharesScanned int
	MinersTracked int
}

// Totals condenses the result for a run summary.
func (r Result) Totals(err error) report.SweepTotals {
	return report.SweepTotals{
		Scanned:    r.Scanned,
		Swept:      r.Swept,
		Total:      r.TotalSwept,
		PoolBefore: r.PoolBefore,
		PoolAfter:  r.PoolAfter,
		DryRun:     r.DryRun,
		Err:        err,
	}
}

// Coordinator runs dust sweeps.
type Coordinator struct {
	store  Store
	logger *log.Logger
}

// New creates a coordinator.
func New(s Store, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.Discard()
	}
	return &Coordinator{store: s, logger: logger.WithComponent("sweep")}
}

// Sweep runs both phases. Options are validated before any session opens.
// If the pool wallet has no balance record it is created with the swept
// total. A sum that does not fit in 64 bits, or a pool balance that cannot
// be decoded, aborts phase 2 with nothing written.
func (c *Coordinator) Sweep(opts Options) (Result, error) {
	res := Result{DryRun: opts.DryRun}
	if err := opts.Validate(); err != nil {
		return res, err
	}
	poolKey, _ := record.EncodeAddressKey(opts.PoolWallet)

	logger := c.logger.WithFields(
		"cutoff", opts.Cutoff.UTC().Format(time.DateTime),
		"threshold", opts.Threshold.String(),
		"pool_wallet", log.Abbreviate(opts.PoolWallet),
		"dry_run", opts.DryRun,
	)
	logger.Info("starting dust sweep")

	idx, shares, err := c.BuildActivityIndex(opts.Progress)
	if err != nil {
		return res, err
	}
	res.SharesScanned = shares.Scanned
	res.MinersTracked = len(idx)

	opts.Progress.Emit(report.Event{Table: store.Balance.Name, Kind: report.EventPhase, Detail: "scanning balances for inactive dust"})

	phase2 := func(sess store.Session) error {
		res.Scanned, res.Skipped, res.Swept, res.TotalSwept = 0, 0, 0, 0
		res.Candidates = nil

		err := sess.ForEach(func(ent store.Entry) (store.Action, error) {
			res.Scanned++
			b, err := record.DecodeBalance(ent.Key, ent.Value)
			if err != nil {
				res.Skipped++
				opts.Progress.Emit(report.Event{
					Table: store.Balance.Name,
					Kind:  report.EventSkipped,
					Err:   errors.Wrap(err, errors.ErrorTypeDecode, "decode_balance", "skipping malformed balance"),
				})
				return store.Continue, nil
			}

			cand, ok := Select(b, idx, opts)
			if !ok {
				return store.Continue, nil
			}
			total, ok := res.TotalSwept.Add(cand.Amount)
			if !ok {
				return store.Stop, errors.Policy("dust_sweep", "swept total overflows 64 bits")
			}
			cand.Key = ent.Key
			res.TotalSwept = total
			res.Candidates = append(res.Candidates, cand)
			res.Swept++

			opts.Progress.Emit(report.Event{
				Table:  store.Balance.Name,
				Kind:   report.EventDeleted,
				Count:  res.Swept,
				Detail: describe(cand),
			})
			return store.Continue, nil
		})
		if err != nil || res.Swept == 0 {
			return err
		}

		before, created, err := poolBalance(sess, poolKey)
		if err != nil {
			return err
		}
		after, ok := before.Add(res.TotalSwept)
		if !ok {
			return errors.Policy("dust_sweep", "pool wallet balance would overflow").
				WithContext("pool_before", before.String()).
				WithContext("total_swept", res.TotalSwept.String())
		}
		res.PoolBefore, res.PoolAfter, res.PoolCreated = before, after, created

		if opts.DryRun {
			return nil
		}

		if err := sess.PutOrReplace(poolKey, record.EncodeBalance(after)); err != nil {
			return err
		}
		for _, cand := range res.Candidates {
			if err := sess.DeleteKey(cand.Key); err != nil {
				return errors.Wrap(err, errors.ErrorTypeStore, "dust_sweep", "cannot delete swept balance").
					WithContext("address", log.Abbreviate(cand.Address))
			}
		}
		return nil
	}

	if opts.DryRun {
		err = c.store.View(store.Balance, phase2)
	} else {
		err = c.store.Update(store.Balance, phase2)
	}

	if stderrors.Is(err, store.ErrTableNotFound) {
		logger.Warn("balance table not found, nothing to sweep")
		return res, nil
	}
	if err != nil {
		logger.WithError(err).Error("dust sweep failed, nothing was written",
			"balances_scanned", res.Scanned,
		)
		if !opts.DryRun {
			res.Swept, res.TotalSwept, res.Candidates = 0, 0, nil
			res.PoolBefore, res.PoolAfter, res.PoolCreated = 0, 0, false
		}
		return res, err
	}

	if res.Swept > 0 && !opts.DryRun {
		logger.Info("pool wallet credited",
			"pool_before", res.PoolBefore.Display(),
			"pool_after", res.PoolAfter.Display(),
			"created", res.PoolCreated,
		)
	}
	logger.LogSweepResult(res.Scanned, res.Swept, res.TotalSwept.Display(), opts.PoolWallet, opts.DryRun)
	return res, nil
}

// poolBalance reads the pool wallet's balance. An absent record reads as
// zero and created is set.
func poolBalance(sess store.Session, key []byte) (amount record.Amount, created bool, err error) {
	raw, err := sess.Get(key)
	if stderrors.Is(err, store.ErrNotFound) {
		return 0, true, nil
	}
	if err != nil {
		return 0, false, err
	}
	amount, err = record.DecodeAmount(raw)
	if err != nil {
		return 0, false, errors.Wrap(err, errors.ErrorTypeStore, "dust_sweep",
			"pool wallet balance is unreadable")
	}
	return amount, false, nil
}

func describe(c Candidate) string {
	last := "never"
	if !c.NeverActive() {
		last = time.Unix(c.LastActivity, 0).UTC().Format(time.DateTime)
	}
	return fmt.Sprintf("%s: %s (last active: %s)", log.Abbreviate(c.Address), c.Amount.Display(), last)
}
