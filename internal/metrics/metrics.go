// Package metrics exposes poolclean's Prometheus collectors. poolclean is a
// batch job, so the collectors live in their own registry and are pushed to
// a Pushgateway at the end of a run instead of being scraped.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/bardlex/poolclean/internal/report"
	"github.com/bardlex/poolclean/pkg/errors"
)

// Registry holds every poolclean collector
var Registry = prometheus.NewRegistry()

var (
	retentionRecordsTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "poolclean",
		Subsystem: "retention",
		Name:      "records_total",
		Help:      "Records scanned, deleted or skipped per table.",
	}, []string{"table", "outcome", "dry_run"})

	retentionTableFailuresTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "poolclean",
		Subsystem: "retention",
		Name:      "table_failures_total",
		Help:      "Table cleanups that did not complete.",
	}, []string{"table"})

	sweepBalancesTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "poolclean",
		Subsystem: "sweep",
		Name:      "balances_total",
		Help:      "Balances scanned and swept by dust sweeps.",
	}, []string{"outcome", "dry_run"})

	sweepAtomicUnitsTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "poolclean",
		Subsystem: "sweep",
		Name:      "atomic_units_total",
		Help:      "Atomic units moved into the pool wallet.",
	}, []string{"dry_run"})

	storeEntries = promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "poolclean",
		Subsystem: "store",
		Name:      "entries",
		Help:      "Entries per table before and after cleanup.",
	}, []string{"table", "phase"})

	storeBytes = promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "poolclean",
		Subsystem: "store",
		Name:      "bytes",
		Help:      "Page footprint per table before and after cleanup.",
	}, []string{"table", "phase"})

	runDuration = promauto.With(Registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "poolclean",
		Name:      "run_duration_seconds",
		Help:      "Duration of a cleanup run.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s..~34m
	}, []string{"status"})

	runLastSuccess = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "poolclean",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last run without failed tables.",
	})

	sinkWritesTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "poolclean",
		Subsystem: "sink",
		Name:      "writes_total",
		Help:      "Writes to the reporting sinks.",
	}, []string{"sink", "status"})
)

// Run tracks metrics for one cleanup run.
type Run struct{}

// NewRun creates a Run metrics collector.
func NewRun() *Run {
	return &Run{}
}

// ObserveTables records per-table outcomes.
func (Run) ObserveTables(results []report.TableResult) {
	for _, r := range results {
		dry := boolLabel(r.DryRun)
		retentionRecordsTotal.WithLabelValues(r.Table, "scanned", dry).Add(float64(r.Scanned))
		retentionRecordsTotal.WithLabelValues(r.Table, "deleted", dry).Add(float64(r.Deleted))
		retentionRecordsTotal.WithLabelValues(r.Table, "skipped", dry).Add(float64(r.Skipped))
		if r.Err != nil {
			retentionTableFailuresTotal.WithLabelValues(r.Table).Inc()
		}
	}
}

// ObserveSweep records a dust sweep.
func (Run) ObserveSweep(s report.SweepTotals) {
	dry := boolLabel(s.DryRun)
	sweepBalancesTotal.WithLabelValues("scanned", dry).Add(float64(s.Scanned))
	sweepBalancesTotal.WithLabelValues("swept", dry).Add(float64(s.Swept))
	sweepAtomicUnitsTotal.WithLabelValues(dry).Add(float64(s.Total))
}

// ObserveSnapshot records table sizes. phase is "before" or "after".
func (Run) ObserveSnapshot(phase string, snap report.Snapshot) {
	for _, t := range snap.Tables {
		storeEntries.WithLabelValues(t.Table, phase).Set(float64(t.Entries))
		storeBytes.WithLabelValues(t.Table, phase).Set(float64(t.Bytes()))
	}
}

// ObserveRun records the run duration and, without failures, the success
// time.
func (Run) ObserveRun(failed bool, started, finished time.Time) {
	status := "success"
	if failed {
		status = "error"
	}
	runDuration.WithLabelValues(status).Observe(finished.Sub(started).Seconds())
	if !failed {
		runLastSuccess.Set(float64(finished.Unix()))
	}
}

// ObserveSink records one sink write.
func (Run) ObserveSink(sink string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	sinkWritesTotal.WithLabelValues(sink, status).Inc()
}

// Pusher sends the registry to a Pushgateway.
type Pusher struct {
	url string
	job string
}

// NewPusher creates a pusher for the gateway at url.
func NewPusher(url string) *Pusher {
	return &Pusher{url: url, job: "poolclean"}
}

// Push replaces the job's metrics on the gateway, grouped by database path
// so several pools can share one gateway.
func (p *Pusher) Push(ctx context.Context, database string) error {
	err := push.New(p.url, p.job).
		Gatherer(Registry).
		Grouping("database", database).
		PushContext(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeNetwork, "pushgateway", "failed to push metrics").
			WithContext("url", p.url)
	}
	return nil
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
