package postgres

import (
	"time"
)

// Run is one row of poolclean_runs
type Run struct {
	ID            string    `db:"id"`
	Database      string    `db:"database_path"`
	DryRun        bool      `db:"dry_run"`
	RetentionDays int       `db:"retention_days"`
	Cutoff        time.Time `db:"cutoff"`
	Scanned       int       `db:"scanned"`
	Deleted       int       `db:"deleted"`
	Skipped       int       `db:"skipped"`
	Swept         int       `db:"swept"`
	TotalSwept    uint64    `db:"total_swept"`
	Failed        []string  `db:"failed_tables"`
	StartedAt     time.Time `db:"started_at"`
	FinishedAt    time.Time `db:"finished_at"`
}

// LedgerEntry is one swept balance. Amount is in atomic units.
type LedgerEntry struct {
	RunID        string     `db:"run_id"`
	Address      string     `db:"address"`
	Amount       uint64     `db:"amount"`
	LastActivity *time.Time `db:"last_activity"`
	PoolWallet   string     `db:"pool_wallet"`
	DryRun       bool       `db:"dry_run"`
}
