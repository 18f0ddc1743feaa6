package database

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/bardlex/poolclean/internal/database/postgres"
	"github.com/bardlex/poolclean/internal/messaging"
	"github.com/bardlex/poolclean/internal/metrics"
	"github.com/bardlex/poolclean/internal/record"
	"github.com/bardlex/poolclean/internal/report"
	"github.com/bardlex/poolclean/internal/store"
	"github.com/bardlex/poolclean/internal/sweep"
	"github.com/bardlex/poolclean/pkg/log"
)

type fakeHistory struct {
	run     *postgres.Run
	entries []postgres.LedgerEntry
	err     error
	closed  bool
}

func (f *fakeHistory) RecordRun(_ context.Context, run *postgres.Run, entries []postgres.LedgerEntry) error {
	f.run, f.entries = run, entries
	return f.err
}

func (f *fakeHistory) Close() error { f.closed = true; return nil }

type fakeMetrics struct {
	points []*write.Point
	closed bool
}

func (f *fakeMetrics) WritePoints(_ context.Context, points ...*write.Point) error {
	f.points = append(f.points, points...)
	return nil
}

func (f *fakeMetrics) Close() { f.closed = true }

type fakeLock struct{ released bool }

func (l *fakeLock) Release(context.Context) error { l.released = true; return nil }

type fakeCache struct {
	lock        *fakeLock
	lockErr     error
	invalidated bool
	trimmed     map[string]bool
	trimErr     error
}

func (f *fakeCache) acquire(context.Context, string, time.Duration) (releaser, error) {
	if f.lockErr != nil {
		return nil, f.lockErr
	}
	f.lock = &fakeLock{}
	return f.lock, nil
}

func (f *fakeCache) InvalidateStats(context.Context) error { f.invalidated = true; return nil }

func (f *fakeCache) TrimSeries(_ context.Context, key string, _ time.Time, dryRun bool) (int64, error) {
	if f.trimErr != nil {
		return 0, f.trimErr
	}
	if f.trimmed == nil {
		f.trimmed = make(map[string]bool)
	}
	f.trimmed[key] = dryRun
	return 3, nil
}

func (f *fakeCache) Close() error { return nil }

type fakeEvents struct {
	cleanups []messaging.CleanupEvent
	sweeps   []messaging.SweepEvent
}

func (f *fakeEvents) PublishCleanup(_ context.Context, ev messaging.CleanupEvent) error {
	f.cleanups = append(f.cleanups, ev)
	return nil
}

func (f *fakeEvents) PublishSweep(_ context.Context, ev messaging.SweepEvent) error {
	f.sweeps = append(f.sweeps, ev)
	return nil
}

func (f *fakeEvents) Close() error { return nil }

type fakePusher struct {
	database string
	err      error
}

func (f *fakePusher) Push(_ context.Context, database string) error {
	f.database = database
	return f.err
}

func testManager() (*Manager, *fakeHistory, *fakeMetrics, *fakeCache, *fakeEvents) {
	h, mt, c, e := &fakeHistory{}, &fakeMetrics{}, &fakeCache{}, &fakeEvents{}
	m := &Manager{
		history:    h,
		metrics:    mt,
		cache:      c,
		events:     e,
		lockKey:    "poolclean:lock",
		lockTTL:    time.Minute,
		seriesKeys: []string{"pool:blocks", "pool:blocks_detailed"},
		logger:     log.Discard(),
	}
	return m, h, mt, c, e
}

func sweptRun(dryRun bool) *Run {
	cutoff := time.Unix(1700000000, 0)
	snap := &report.Snapshot{Taken: cutoff, Tables: []store.TableStats{{Table: "shares", Entries: 10, LeafPages: 1, PageSize: 4096}}}
	return &Run{
		ID:            "3b1f8a0e-5d4c-4c2a-9f0e-7e6d5c4b3a21",
		Database:      "/var/lib/monero-pool/data.mdb",
		DryRun:        dryRun,
		RetentionDays: 180,
		Cutoff:        cutoff,
		Tables: []report.TableResult{
			{Table: "shares", Scanned: 10, Deleted: 6, DryRun: dryRun},
		},
		Sweep: &sweep.Result{
			Scanned:    2,
			Swept:      2,
			TotalSwept: 60_000_000_000,
			PoolAfter:  60_000_000_000,
			Candidates: []sweep.Candidate{
				{Address: "minerX", Amount: 50_000_000_000, LastActivity: 1600000000},
				{Address: "minerY", Amount: 10_000_000_000, LastActivity: sweep.NeverActive},
			},
			DryRun: dryRun,
		},
		PoolWallet: "4Pool",
		Threshold:  record.Amount(100_000_000_000),
		Before:     snap,
		After:      snap,
	}
}

func TestRecordRun_FansOut(t *testing.T) {
	m, h, mt, c, e := testManager()
	run := sweptRun(false)

	if err := m.RecordRun(context.Background(), run); err != nil {
		t.Fatalf("RecordRun() error = %v", err)
	}

	if h.run == nil || h.run.Deleted != 6 || h.run.Scanned != 12 || h.run.TotalSwept != 60_000_000_000 {
		t.Errorf("history row = %+v", h.run)
	}
	if len(h.entries) != 2 {
		t.Fatalf("ledger entries = %d, want 2", len(h.entries))
	}
	if h.entries[0].LastActivity == nil || h.entries[0].LastActivity.Unix() != 1600000000 {
		t.Errorf("minerX last activity = %v", h.entries[0].LastActivity)
	}
	if h.entries[1].LastActivity != nil {
		t.Errorf("never-active miner should have no last activity, got %v", h.entries[1].LastActivity)
	}

	// one table, one sweep, one store table before and after
	if len(mt.points) != 4 {
		t.Errorf("points = %d, want 4", len(mt.points))
	}

	if !c.invalidated {
		t.Error("cached stats should be invalidated after a live run")
	}
	if dry, ok := c.trimmed["pool:blocks_detailed"]; !ok || dry {
		t.Errorf("trimmed = %v, want a live trim of both series", c.trimmed)
	}

	if len(e.cleanups) != 1 || len(e.sweeps) != 1 {
		t.Fatalf("events = %d cleanup, %d sweep", len(e.cleanups), len(e.sweeps))
	}
	if e.sweeps[0].TotalSwept != "60000000000" || e.sweeps[0].Accounts[0].Amount != "50000000000" {
		t.Errorf("sweep event = %+v", e.sweeps[0])
	}
}

func TestRecordRun_DryRunLeavesCache(t *testing.T) {
	m, _, _, c, _ := testManager()

	if err := m.RecordRun(context.Background(), sweptRun(true)); err != nil {
		t.Fatalf("RecordRun() error = %v", err)
	}
	if c.invalidated {
		t.Error("a dry run must not invalidate cached stats")
	}
	if dry := c.trimmed["pool:blocks"]; !dry {
		t.Error("a dry run should only count series members")
	}
}

func TestRecordRun_NothingSwept(t *testing.T) {
	tests := []struct {
		name string
		edit func(*Run)
	}{
		{"no sweep requested", func(r *Run) { r.Sweep = nil }},
		{"sweep failed", func(r *Run) { r.SweepErr = stderrors.New("write failed") }},
		{"no candidates", func(r *Run) { r.Sweep.Swept = 0; r.Sweep.Candidates = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, h, _, _, e := testManager()
			run := sweptRun(false)
			tt.edit(run)

			if err := m.RecordRun(context.Background(), run); err != nil {
				t.Fatalf("RecordRun() error = %v", err)
			}
			if len(h.entries) != 0 || h.run.TotalSwept != 0 {
				t.Errorf("ledger = %v, total = %d; want nothing recorded", h.entries, h.run.TotalSwept)
			}
			if len(e.sweeps) != 0 {
				t.Error("no sweep event should be published")
			}
			if len(e.cleanups) != 1 {
				t.Error("the cleanup event is always published")
			}
		})
	}
}

func TestRecordRun_SinkFailureDoesNotStopOthers(t *testing.T) {
	m, h, mt, c, e := testManager()
	h.err = stderrors.New("connection refused")
	c.trimErr = stderrors.New("READONLY You can't write against a read only replica")

	err := m.RecordRun(context.Background(), sweptRun(false))
	if err == nil {
		t.Fatal("RecordRun() should report the failed sinks")
	}
	if !stderrors.Is(err, h.err) || !stderrors.Is(err, c.trimErr) {
		t.Errorf("RecordRun() error = %v, want both failures joined", err)
	}
	if len(mt.points) == 0 || len(e.cleanups) != 1 {
		t.Error("healthy sinks should still be written")
	}
	if !c.invalidated {
		t.Error("stats should be invalidated even when trimming fails")
	}
}

func TestRecordRun_NoSinks(t *testing.T) {
	m := &Manager{logger: log.Discard()}
	if err := m.RecordRun(context.Background(), sweptRun(false)); err != nil {
		t.Errorf("RecordRun() with no sinks error = %v", err)
	}
	if len(m.Enabled()) != 0 {
		t.Errorf("Enabled() = %v, want none", m.Enabled())
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestRecordRun_PushesMetrics(t *testing.T) {
	p := &fakePusher{}
	m := &Manager{pusher: p, observe: metrics.NewRun(), logger: log.Discard()}
	run := sweptRun(false)

	if err := m.RecordRun(context.Background(), run); err != nil {
		t.Fatalf("RecordRun() error = %v", err)
	}
	if p.database != run.Database {
		t.Errorf("pushed grouping = %q, want %q", p.database, run.Database)
	}

	p.err = stderrors.New("gateway down")
	if err := m.RecordRun(context.Background(), run); err == nil {
		t.Error("a failed push should be reported")
	}
}

func TestLock(t *testing.T) {
	m, _, _, c, _ := testManager()

	release, err := m.Lock(context.Background())
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	release()
	if !c.lock.released {
		t.Error("release should drop the lock")
	}

	c.lockErr = stderrors.New("held")
	if _, err := m.Lock(context.Background()); err == nil {
		t.Error("Lock() should fail when the lock is held")
	}

	noop := &Manager{logger: log.Discard()}
	release, err = noop.Lock(context.Background())
	if err != nil || release == nil {
		t.Fatalf("Lock() without Redis = %v", err)
	}
	release()
}

func TestOpen_NothingConfigured(t *testing.T) {
	m := Open(context.Background(), &Config{}, log.Discard())
	if len(m.Enabled()) != 0 {
		t.Errorf("Enabled() = %v, want none", m.Enabled())
	}
	if m.lockKey == "" || m.lockTTL <= 0 || len(m.seriesKeys) != 2 {
		t.Errorf("defaults not applied: %+v", m)
	}
}

func TestOpen_PushgatewayNeedsNoConnection(t *testing.T) {
	m := Open(context.Background(), &Config{PushgatewayURL: "http://localhost:9091"}, log.Discard())
	if got := m.Enabled(); len(got) != 1 || got[0] != "pushgateway" {
		t.Errorf("Enabled() = %v, want [pushgateway]", got)
	}
}

func TestOpen_KafkaNeedsNoConnection(t *testing.T) {
	m := Open(context.Background(), &Config{KafkaBrokers: []string{"localhost:9092"}}, log.Discard())
	if got := m.Enabled(); len(got) != 1 || got[0] != "kafka" {
		t.Errorf("Enabled() = %v, want [kafka]", got)
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
