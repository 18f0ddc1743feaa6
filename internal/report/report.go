package report

import (
	"time"

	"github.com/bardlex/poolclean/internal/record"
	"github.com/bardlex/poolclean/internal/store"
	"github.com/bardlex/poolclean/pkg/log"
)

// Statser is the part of the store Collect needs.
type Statser interface {
	Stats() ([]store.TableStats, error)
}

// Snapshot is the statistics of every daemon table at one point in time.
type Snapshot struct {
	Taken  time.Time
	Tables []store.TableStats
}

// Collect reads a snapshot from s.
func Collect(s Statser) (Snapshot, error) {
	tables, err := s.Stats()
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Taken: time.Now(), Tables: tables}, nil
}

// Table returns the statistics for name.
func (s Snapshot) Table(name string) (store.TableStats, bool) {
	for _, t := range s.Tables {
		if t.Table == name {
			return t, true
		}
	}
	return store.TableStats{}, false
}

// Entries sums entries over all tables.
func (s Snapshot) Entries() uint64 {
	var n uint64
	for _, t := range s.Tables {
		n += t.Entries
	}
	return n
}

// Log writes one line per present table.
func (s Snapshot) Log(logger *log.Logger) {
	for _, t := range s.Tables {
		if t.Missing {
			logger.WithTable(t.Table).Info("table not found")
			continue
		}
		logger.LogTableStats(t.Table, t.Entries, t.BranchPages, t.LeafPages, t.OverflowPages)
	}
}

// Delta is the change in one table between two snapshots.
type Delta struct {
	Table         string
	EntriesBefore uint64
	EntriesAfter  uint64
	PagesBefore   uint64
	PagesAfter    uint64
}

// EntriesSaved is the number of entries removed. Negative when the daemon
// added more than the run removed.
func (d Delta) EntriesSaved() int64 {
	return int64(d.EntriesBefore) - int64(d.EntriesAfter)
}

// PagesSaved is the number of pages freed inside the table. LMDB keeps freed
// pages in the environment for reuse, so the file itself does not shrink.
func (d Delta) PagesSaved() int64 {
	return int64(d.PagesBefore) - int64(d.PagesAfter)
}

// Compare pairs the tables of before and after by name, in before's order.
// Tables present in only one snapshot compare against zero.
func Compare(before, after Snapshot) []Delta {
	out := make([]Delta, 0, len(before.Tables))
	seen := make(map[string]bool, len(before.Tables))
	for _, b := range before.Tables {
		a, _ := after.Table(b.Table)
		seen[b.Table] = true
		out = append(out, Delta{
			Table:         b.Table,
			EntriesBefore: b.Entries,
			EntriesAfter:  a.Entries,
			PagesBefore:   b.Pages(),
			PagesAfter:    a.Pages(),
		})
	}
	for _, a := range after.Tables {
		if seen[a.Table] {
			continue
		}
		out = append(out, Delta{
			Table:        a.Table,
			EntriesAfter: a.Entries,
			PagesAfter:   a.Pages(),
		})
	}
	return out
}

// TableResult is the outcome of one table cleanup. Deleted counts matches
// that would be deleted when DryRun is set.
type TableResult struct {
	Table   string
	Scanned int
	Deleted int
	Skipped int
	DryRun  bool
	Err     error
}

// SweepTotals is the outcome of a dust sweep as it appears in a summary.
type SweepTotals struct {
	Scanned    int
	Swept      int
	Total      record.Amount
	PoolBefore record.Amount
	PoolAfter  record.Amount
	DryRun     bool
	Err        error
}

// Summary aggregates a whole run.
type Summary struct {
	DryRun  bool
	Tables  []TableResult
	Sweep   *SweepTotals
	Scanned int
	Deleted int
	Skipped int
	Failed  []string
}

// Summarize totals the table results and the optional sweep. Balances
// scanned by the sweep count towards Scanned; swept balances are reported
// separately and not counted as deleted.
func Summarize(dryRun bool, tables []TableResult, sweep *SweepTotals) Summary {
	s := Summary{DryRun: dryRun, Tables: tables, Sweep: sweep}
	for _, t := range tables {
		s.Scanned += t.Scanned
		s.Deleted += t.Deleted
		s.Skipped += t.Skipped
		if t.Err != nil {
			s.Failed = append(s.Failed, t.Table)
		}
	}
	if sweep != nil {
		s.Scanned += sweep.Scanned
		if sweep.Err != nil {
			s.Failed = append(s.Failed, "dust_sweep")
		}
	}
	return s
}

// Log writes the summary.
func (s Summary) Log(logger *log.Logger) {
	for _, t := range s.Tables {
		l := logger
		if t.Err != nil {
			l = l.WithError(t.Err)
		}
		l.LogTableResult(t.Table, t.Scanned, t.Deleted, t.Skipped, t.DryRun)
	}

	verb := "deleted"
	if s.DryRun {
		verb = "would_delete"
	}
	args := []any{
		"scanned", s.Scanned,
		verb, s.Deleted,
		"skipped", s.Skipped,
		"dry_run", s.DryRun,
	}
	if s.Sweep != nil {
		args = append(args, "dust_swept", s.Sweep.Swept, "dust_total", s.Sweep.Total.Display())
	}
	if len(s.Failed) > 0 {
		args = append(args, "failed", s.Failed)
		logger.Warn("cleanup finished with failures", args...)
		return
	}
	logger.Info("cleanup finished", args...)
}

// LogSavings writes the per-table difference between two snapshots.
func LogSavings(logger *log.Logger, deltas []Delta) {
	for _, d := range deltas {
		if d.EntriesBefore == 0 && d.EntriesAfter == 0 {
			continue
		}
		logger.WithTable(d.Table).Info("table after cleanup",
			"entries", d.EntriesAfter,
			"entries_saved", d.EntriesSaved(),
			"pages_saved", d.PagesSaved(),
		)
	}
}
