// Package database fans a finished poolclean run out to the pool's reporting
// systems: PostgreSQL run history and sweep ledger, InfluxDB metrics, Redis
// cache maintenance and Kafka events. Every sink is optional. A sink that
// cannot be reached is disabled and logged; it never affects the LMDB store
// or the outcome of the run.
package database

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/bardlex/poolclean/internal/database/influx"
	"github.com/bardlex/poolclean/internal/database/postgres"
	"github.com/bardlex/poolclean/internal/database/redis"
	"github.com/bardlex/poolclean/internal/messaging"
	"github.com/bardlex/poolclean/internal/metrics"
	"github.com/bardlex/poolclean/pkg/log"
)

type historyStore interface {
	RecordRun(ctx context.Context, run *postgres.Run, entries []postgres.LedgerEntry) error
	Close() error
}

type metricsWriter interface {
	WritePoints(ctx context.Context, points ...*write.Point) error
	Close()
}

type releaser interface {
	Release(ctx context.Context) error
}

type cache interface {
	acquire(ctx context.Context, key string, ttl time.Duration) (releaser, error)
	InvalidateStats(ctx context.Context) error
	TrimSeries(ctx context.Context, key string, cutoff time.Time, dryRun bool) (int64, error)
	Close() error
}

type eventPublisher interface {
	PublishCleanup(ctx context.Context, ev messaging.CleanupEvent) error
	PublishSweep(ctx context.Context, ev messaging.SweepEvent) error
	Close() error
}

type metricsPusher interface {
	Push(ctx context.Context, database string) error
}

type redisCache struct {
	*redis.Client
}

func (c redisCache) acquire(ctx context.Context, key string, ttl time.Duration) (releaser, error) {
	l, err := c.AcquireLock(ctx, key, ttl)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Manager holds the configured sinks. A nil sink is disabled.
type Manager struct {
	history historyStore
	metrics metricsWriter
	cache   cache
	events  eventPublisher
	pusher  metricsPusher
	observe *metrics.Run

	lockKey    string
	lockTTL    time.Duration
	seriesKeys []string
	logger     *log.Logger
}

// Config holds configuration for all sinks. A nil or empty entry disables
// that sink.
type Config struct {
	Postgres     *postgres.Config
	Redis        *redis.Config
	Influx       *influx.Config
	KafkaBrokers []string
	// PushgatewayURL receives the Prometheus registry after each run
	PushgatewayURL string

	LockKey    string
	LockTTL    time.Duration
	SeriesKeys []string
}

// Open connects every configured sink. Failures are logged and leave the
// sink disabled.
func Open(ctx context.Context, cfg *Config, logger *log.Logger) *Manager {
	m := &Manager{
		lockKey:    cfg.LockKey,
		lockTTL:    cfg.LockTTL,
		seriesKeys: cfg.SeriesKeys,
		observe:    metrics.NewRun(),
		logger:     logger.WithComponent("sinks"),
	}
	if m.lockKey == "" {
		m.lockKey = redis.DefaultLockKey
	}
	if m.lockTTL <= 0 {
		m.lockTTL = redis.DefaultLockTimeout
	}
	if m.seriesKeys == nil {
		m.seriesKeys = redis.DefaultSeriesKeys
	}

	if cfg.Postgres != nil && cfg.Postgres.URL != "" {
		if c, err := postgres.NewClient(ctx, cfg.Postgres); err != nil {
			m.logger.WithError(err).Warn("run history disabled")
		} else {
			m.history = c
		}
	}
	if cfg.Influx != nil && cfg.Influx.URL != "" {
		if c, err := influx.NewClient(ctx, cfg.Influx); err != nil {
			m.logger.WithError(err).Warn("metrics disabled")
		} else {
			m.metrics = c
		}
	}
	if cfg.Redis != nil && cfg.Redis.URL != "" {
		if c, err := redis.NewClient(ctx, cfg.Redis); err != nil {
			m.logger.WithError(err).Warn("cache maintenance and run lock disabled")
		} else {
			m.cache = redisCache{c}
		}
	}
	if len(cfg.KafkaBrokers) > 0 {
		m.events = messaging.NewPublisher(cfg.KafkaBrokers, logger)
	}
	if cfg.PushgatewayURL != "" {
		m.pusher = metrics.NewPusher(cfg.PushgatewayURL)
	}

	m.logger.Info("sinks ready", "enabled", m.Enabled())
	return m
}

// Enabled lists the active sinks
func (m *Manager) Enabled() []string {
	var names []string
	if m.history != nil {
		names = append(names, "postgres")
	}
	if m.metrics != nil {
		names = append(names, "influx")
	}
	if m.cache != nil {
		names = append(names, "redis")
	}
	if m.events != nil {
		names = append(names, "kafka")
	}
	if m.pusher != nil {
		names = append(names, "pushgateway")
	}
	return names
}

// Lock takes the run lock. Without Redis it returns a no-op release.
func (m *Manager) Lock(ctx context.Context) (release func(), err error) {
	if m.cache == nil {
		return func() {}, nil
	}

	l, err := m.cache.acquire(ctx, m.lockKey, m.lockTTL)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("run lock acquired", "key", m.lockKey, "ttl", m.lockTTL)

	return func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := l.Release(ctx); err != nil {
			m.logger.WithError(err).Warn("failed to release run lock", "key", m.lockKey)
		}
	}, nil
}

// RecordRun writes run to every enabled sink. Each failure is logged; the
// joined error is returned for the caller to report.
func (m *Manager) RecordRun(ctx context.Context, run *Run) error {
	logger := m.logger.WithContext(ctx)
	var errs []error

	record := func(sink string, err error) {
		if m.observe != nil {
			m.observe.ObserveSink(sink, err)
		}
		if err != nil {
			logger.WithError(err).Warn("sink write failed", "sink", sink)
			errs = append(errs, err)
		}
	}

	if m.observe != nil {
		m.observeRun(run)
	}

	if m.history != nil {
		record("postgres", m.history.RecordRun(ctx, run.historyRow(), run.ledgerEntries()))
	}

	if m.metrics != nil {
		record("influx", m.metrics.WritePoints(ctx, run.Points()...))
	}

	if m.cache != nil {
		record("redis", m.syncCache(ctx, run))
	}

	if m.events != nil {
		record("kafka", m.events.PublishCleanup(ctx, run.CleanupEvent()))
		if ev, ok := run.SweepEvent(); ok {
			record("kafka", m.events.PublishSweep(ctx, ev))
		}
	}

	if m.pusher != nil {
		if err := m.pusher.Push(ctx, run.Database); err != nil {
			logger.WithError(err).Warn("sink write failed", "sink", "pushgateway")
			errs = append(errs, err)
		}
	}

	return stderrors.Join(errs...)
}

func (m *Manager) observeRun(run *Run) {
	m.observe.ObserveTables(run.Tables)
	if run.Sweep != nil {
		m.observe.ObserveSweep(run.Sweep.Totals(run.SweepErr))
	}
	if run.Before != nil {
		m.observe.ObserveSnapshot("before", *run.Before)
	}
	if run.After != nil {
		m.observe.ObserveSnapshot("after", *run.After)
	}
	m.observe.ObserveRun(len(run.Summary().Failed) > 0, run.StartedAt, run.FinishedAt)
}

// syncCache trims cached series below the cutoff and drops the cached stats
// after a live run. A dry run only counts what would be trimmed.
func (m *Manager) syncCache(ctx context.Context, run *Run) error {
	var errs []error
	for _, key := range m.seriesKeys {
		n, err := m.cache.TrimSeries(ctx, key, run.Cutoff, run.DryRun)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		m.logger.Info("trimmed cached series", "key", key, "members", n, "dry_run", run.DryRun)
	}

	if !run.DryRun {
		if err := m.cache.InvalidateStats(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// Close closes every enabled sink
func (m *Manager) Close() error {
	var errs []error
	if m.history != nil {
		errs = append(errs, m.history.Close())
	}
	if m.metrics != nil {
		m.metrics.Close()
	}
	if m.cache != nil {
		errs = append(errs, m.cache.Close())
	}
	if m.events != nil {
		errs = append(errs, m.events.Close())
	}
	return stderrors.Join(errs...)
}
