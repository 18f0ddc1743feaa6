package messaging

import "time"

// TableCount is one table's cleanup outcome
type TableCount struct {
	Table   string `json:"table"`
	Scanned int    `json:"scanned"`
	Deleted int    `json:"deleted"`
	Skipped int    `json:"skipped"`
	Error   string `json:"error,omitempty"`
}

// CleanupEvent summarises a cleanup run
type CleanupEvent struct {
	RunID         string       `json:"run_id"`
	Database      string       `json:"database"`
	DryRun        bool         `json:"dry_run"`
	RetentionDays int          `json:"retention_days"`
	Cutoff        time.Time    `json:"cutoff"`
	Tables        []TableCount `json:"tables"`
	TotalScanned  int          `json:"total_scanned"`
	TotalDeleted  int          `json:"total_deleted"`
	StartedAt     time.Time    `json:"started_at"`
	FinishedAt    time.Time    `json:"finished_at"`
}

// SweptAccount is one balance moved to the pool wallet. Amounts are atomic
// units encoded as strings to survive JSON consumers that parse numbers as
// doubles.
type SweptAccount struct {
	Address      string     `json:"address"`
	Amount       string     `json:"amount"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// SweepEvent describes a dust sweep
type SweepEvent struct {
	RunID      string         `json:"run_id"`
	DryRun     bool           `json:"dry_run"`
	PoolWallet string         `json:"pool_wallet"`
	Threshold  string         `json:"threshold"`
	Scanned    int            `json:"scanned"`
	Swept      int            `json:"swept"`
	TotalSwept string         `json:"total_swept"`
	PoolBefore string         `json:"pool_before"`
	PoolAfter  string         `json:"pool_after"`
	Accounts   []SweptAccount `json:"accounts"`
	SweptAt    time.Time      `json:"swept_at"`
}
