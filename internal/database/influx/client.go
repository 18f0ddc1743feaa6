// Package influx writes per-run cleanup metrics to InfluxDB so that store
// growth and reclaimed space can be graphed next to the pool's other
// series.
package influx

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/bardlex/poolclean/internal/report"
	"github.com/bardlex/poolclean/pkg/errors"
)

// Measurements
const (
	MeasurementTable = "poolclean_table"
	MeasurementSweep = "poolclean_sweep"
	MeasurementStore = "poolclean_store"
)

// Client wraps a blocking InfluxDB writer
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	bucket   string
	org      string
}

// Config holds InfluxDB connection configuration
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// NewClient creates a new InfluxDB client and checks its health
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := client.Health(healthCtx)
	if err != nil {
		client.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeNetwork, "influx_health", "failed to check InfluxDB health")
	}
	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		client.Close()
		return nil, errors.New(errors.ErrorTypeDatabase, "influx_health", "InfluxDB health check failed").
			WithContext("status", string(health.Status)).
			WithContext("message", msg)
	}

	return &Client{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		bucket:   cfg.Bucket,
		org:      cfg.Org,
	}, nil
}

// Close closes the InfluxDB connection
func (c *Client) Close() {
	c.client.Close()
}

// WritePoints writes points synchronously
func (c *Client) WritePoints(ctx context.Context, points ...*write.Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := c.writeAPI.WritePoint(ctx, points...); err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "influx_write", "failed to write points").
			WithContext("bucket", c.bucket).
			WithContext("points", len(points))
	}
	return nil
}

// TablePoints builds one point per table cleanup
func TablePoints(runID string, results []report.TableResult, ts time.Time) []*write.Point {
	points := make([]*write.Point, 0, len(results))
	for _, r := range results {
		points = append(points, write.NewPoint(MeasurementTable,
			map[string]string{
				"table":   r.Table,
				"dry_run": boolTag(r.DryRun),
			},
			map[string]any{
				"run_id":  runID,
				"scanned": int64(r.Scanned),
				"deleted": int64(r.Deleted),
				"skipped": int64(r.Skipped),
				"failed":  r.Err != nil,
			},
			ts))
	}
	return points
}

// SweepPoint builds the dust sweep point. Amounts are atomic units.
func SweepPoint(runID, poolWallet string, s report.SweepTotals, ts time.Time) *write.Point {
	return write.NewPoint(MeasurementSweep,
		map[string]string{
			"pool_wallet": poolWallet,
			"dry_run":     boolTag(s.DryRun),
		},
		map[string]any{
			"run_id":      runID,
			"scanned":     int64(s.Scanned),
			"swept":       int64(s.Swept),
			"total_swept": uint64(s.Total),
			"pool_before": uint64(s.PoolBefore),
			"pool_after":  uint64(s.PoolAfter),
			"failed":      s.Err != nil,
		},
		ts)
}

// StorePoints builds one point per present table in snap. phase is
// "before" or "after".
func StorePoints(runID, phase string, snap report.Snapshot) []*write.Point {
	points := make([]*write.Point, 0, len(snap.Tables))
	for _, t := range snap.Tables {
		if t.Missing {
			continue
		}
		points = append(points, write.NewPoint(MeasurementStore,
			map[string]string{
				"table": t.Table,
				"phase": phase,
			},
			map[string]any{
				"run_id":  runID,
				"entries": t.Entries,
				"pages":   t.Pages(),
				"bytes":   t.Bytes(),
				"depth":   uint64(t.Depth),
			},
			snap.Taken))
	}
	return points
}

func boolTag(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
