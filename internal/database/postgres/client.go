// Package postgres keeps the history of cleanup runs and the ledger of swept
// dust balances in PostgreSQL, so that every atomic unit moved into the pool
// wallet can be traced back to the miner it came from.
package postgres

import (
	"context"
	"database/sql"
	"time"

	// PostgreSQL driver for database/sql
	_ "github.com/lib/pq"

	"github.com/bardlex/poolclean/pkg/circuit"
	"github.com/bardlex/poolclean/pkg/errors"
	"github.com/bardlex/poolclean/pkg/retry"
)

// Client wraps the run history database
type Client struct {
	db             *sql.DB
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
}

// Config holds PostgreSQL connection configuration
type Config struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

// DefaultConfig returns pool settings for a short-lived batch process
func DefaultConfig(url string) *Config {
	return &Config{
		URL:          url,
		MaxOpenConns: 2,
		MaxIdleConns: 1,
		MaxLifetime:  5 * time.Minute,
	}
}

// NewClient connects, pings and migrates the schema
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "postgres_open", "failed to open database")
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	c := &Client{
		db:             db,
		circuitBreaker: circuit.New(circuit.SinkConfig("postgres")),
		retryConfig:    retry.LedgerConfig(),
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Health(pingCtx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "postgres_ping", "failed to ping database")
	}

	if err := Migrate(ctx, cfg.URL); err != nil {
		_ = db.Close()
		return nil, err
	}

	return c, nil
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// Health checks database connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// RecordRun stores the run and its ledger entries in one transaction. The
// whole transaction is retried on transient failures.
func (c *Client) RecordRun(ctx context.Context, run *Run, entries []LedgerEntry) error {
	return c.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			return c.recordRunTx(ctx, run, entries)
		})
	})
}

func (c *Client) recordRunTx(ctx context.Context, run *Run, entries []LedgerEntry) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "postgres_begin", "failed to begin transaction")
	}

	if err := NewRunRepository(tx).InsertRun(ctx, run); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := NewLedgerRepository(tx).InsertEntries(ctx, entries); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "postgres_commit", "failed to commit run").
			WithContext("run_id", run.ID)
	}
	return nil
}
