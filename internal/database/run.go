package database

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/bardlex/poolclean/internal/database/influx"
	"github.com/bardlex/poolclean/internal/database/postgres"
	"github.com/bardlex/poolclean/internal/messaging"
	"github.com/bardlex/poolclean/internal/record"
	"github.com/bardlex/poolclean/internal/report"
	"github.com/bardlex/poolclean/internal/sweep"
)

// Run is everything the sinks record about one invocation
type Run struct {
	ID            string
	Database      string
	DryRun        bool
	RetentionDays int
	Cutoff        time.Time
	StartedAt     time.Time
	FinishedAt    time.Time

	Tables []report.TableResult

	// Sweep is nil when no dust sweep was requested
	Sweep      *sweep.Result
	SweepErr   error
	PoolWallet string
	Threshold  record.Amount

	Before *report.Snapshot
	After  *report.Snapshot
}

// Summary totals the run
func (r *Run) Summary() report.Summary {
	var totals *report.SweepTotals
	if r.Sweep != nil {
		t := r.Sweep.Totals(r.SweepErr)
		totals = &t
	}
	return report.Summarize(r.DryRun, r.Tables, totals)
}

// swept reports whether the sweep moved (or in a dry run would move) value
func (r *Run) swept() bool {
	return r.Sweep != nil && r.SweepErr == nil && r.Sweep.Swept > 0
}

func (r *Run) historyRow() *postgres.Run {
	s := r.Summary()
	row := &postgres.Run{
		ID:            r.ID,
		Database:      r.Database,
		DryRun:        r.DryRun,
		RetentionDays: r.RetentionDays,
		Cutoff:        r.Cutoff,
		Scanned:       s.Scanned,
		Deleted:       s.Deleted,
		Skipped:       s.Skipped,
		Failed:        s.Failed,
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
	}
	if r.swept() {
		row.Swept = r.Sweep.Swept
		row.TotalSwept = uint64(r.Sweep.TotalSwept)
	}
	return row
}

func (r *Run) ledgerEntries() []postgres.LedgerEntry {
	if !r.swept() {
		return nil
	}
	entries := make([]postgres.LedgerEntry, 0, len(r.Sweep.Candidates))
	for _, c := range r.Sweep.Candidates {
		entries = append(entries, postgres.LedgerEntry{
			RunID:        r.ID,
			Address:      c.Address,
			Amount:       uint64(c.Amount),
			LastActivity: lastActivity(c),
			PoolWallet:   r.PoolWallet,
			DryRun:       r.DryRun,
		})
	}
	return entries
}

func lastActivity(c sweep.Candidate) *time.Time {
	if c.NeverActive() {
		return nil
	}
	t := time.Unix(c.LastActivity, 0).UTC()
	return &t
}

// CleanupEvent builds the run summary event
func (r *Run) CleanupEvent() messaging.CleanupEvent {
	s := r.Summary()
	ev := messaging.CleanupEvent{
		RunID:         r.ID,
		Database:      r.Database,
		DryRun:        r.DryRun,
		RetentionDays: r.RetentionDays,
		Cutoff:        r.Cutoff,
		TotalScanned:  s.Scanned,
		TotalDeleted:  s.Deleted,
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
	}
	for _, t := range r.Tables {
		tc := messaging.TableCount{Table: t.Table, Scanned: t.Scanned, Deleted: t.Deleted, Skipped: t.Skipped}
		if t.Err != nil {
			tc.Error = t.Err.Error()
		}
		ev.Tables = append(ev.Tables, tc)
	}
	return ev
}

// SweepEvent builds the sweep event. ok is false when nothing was swept.
func (r *Run) SweepEvent() (ev messaging.SweepEvent, ok bool) {
	if !r.swept() {
		return messaging.SweepEvent{}, false
	}
	ev = messaging.SweepEvent{
		RunID:      r.ID,
		DryRun:     r.DryRun,
		PoolWallet: r.PoolWallet,
		Threshold:  atomic(r.Threshold),
		Scanned:    r.Sweep.Scanned,
		Swept:      r.Sweep.Swept,
		TotalSwept: atomic(r.Sweep.TotalSwept),
		PoolBefore: atomic(r.Sweep.PoolBefore),
		PoolAfter:  atomic(r.Sweep.PoolAfter),
		SweptAt:    r.FinishedAt,
	}
	for _, c := range r.Sweep.Candidates {
		ev.Accounts = append(ev.Accounts, messaging.SweptAccount{
			Address:      c.Address,
			Amount:       atomic(c.Amount),
			LastActivity: lastActivity(c),
		})
	}
	return ev, true
}

func atomic(a record.Amount) string {
	return strconv.FormatUint(uint64(a), 10)
}

// Points builds the metrics for the run
func (r *Run) Points() []*write.Point {
	points := influx.TablePoints(r.ID, r.Tables, r.FinishedAt)
	if r.Sweep != nil {
		points = append(points, influx.SweepPoint(r.ID, r.PoolWallet, r.Sweep.Totals(r.SweepErr), r.FinishedAt))
	}
	if r.Before != nil {
		points = append(points, influx.StorePoints(r.ID, "before", *r.Before)...)
	}
	if r.After != nil {
		points = append(points, influx.StorePoints(r.ID, "after", *r.After)...)
	}
	return points
}
