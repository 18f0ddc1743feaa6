package postgres

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/bardlex/poolclean/pkg/errors"
)

// Execer is satisfied by *sql.DB and *sql.Tx
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// RunRepository writes run history
type RunRepository struct {
	db Execer
}

// NewRunRepository creates a new run repository
func NewRunRepository(db Execer) *RunRepository {
	return &RunRepository{db: db}
}

const insertRun = `
	INSERT INTO poolclean_runs (id, database_path, dry_run, retention_days, cutoff,
	                            scanned, deleted, skipped, swept, total_swept,
	                            failed_tables, started_at, finished_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

// InsertRun stores one run
func (r *RunRepository) InsertRun(ctx context.Context, run *Run) error {
	failed := run.Failed
	if failed == nil {
		failed = []string{}
	}

	_, err := r.db.ExecContext(ctx, insertRun,
		run.ID, run.Database, run.DryRun, run.RetentionDays, run.Cutoff,
		run.Scanned, run.Deleted, run.Skipped, run.Swept,
		strconv.FormatUint(run.TotalSwept, 10), pq.Array(failed),
		run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "insert_run", "failed to insert run").
			WithContext("run_id", run.ID)
	}
	return nil
}

// LedgerRepository writes swept balances
type LedgerRepository struct {
	db Execer
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db Execer) *LedgerRepository {
	return &LedgerRepository{db: db}
}

const ledgerColumns = 6

// ledgerBatch bounds the rows per INSERT well under PostgreSQL's 65535
// parameter limit
const ledgerBatch = 1000

// InsertEntries stores entries with multi-row inserts
func (r *LedgerRepository) InsertEntries(ctx context.Context, entries []LedgerEntry) error {
	for start := 0; start < len(entries); start += ledgerBatch {
		end := min(start+ledgerBatch, len(entries))
		query, args := buildLedgerInsert(entries[start:end])
		if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
			return errors.Wrap(err, errors.ErrorTypeDatabase, "insert_ledger", "failed to insert sweep ledger").
				WithContext("run_id", entries[start].RunID).
				WithContext("rows", end-start)
		}
	}
	return nil
}

func buildLedgerInsert(entries []LedgerEntry) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO poolclean_sweep_ledger (run_id, address, amount, last_activity, pool_wallet, dry_run) VALUES ")

	args := make([]any, 0, len(entries)*ledgerColumns)
	for i, e := range entries {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for col := range ledgerColumns {
			if col > 0 {
				b.WriteString(", ")
			}
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(i*ledgerColumns + col + 1))
		}
		b.WriteByte(')')

		var last any
		if e.LastActivity != nil {
			last = *e.LastActivity
		}
		args = append(args, e.RunID, e.Address, strconv.FormatUint(e.Amount, 10), last, e.PoolWallet, e.DryRun)
	}
	return b.String(), args
}
