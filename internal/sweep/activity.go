package sweep

import (
	"fmt"
	"math"
	"time"

	"github.com/bardlex/poolclean/internal/record"
	"github.com/bardlex/poolclean/internal/report"
	"github.com/bardlex/poolclean/internal/store"
	"github.com/bardlex/poolclean/pkg/errors"
)

// NeverActive is the last-activity value of an address with no shares. It
// sorts before every real timestamp, so such accounts count as inactive.
const NeverActive int64 = math.MinInt64

const shareProgressEvery = 50000

// ActivityIndex maps a miner address to its most recent share timestamp.
type ActivityIndex map[string]int64

// Observe records a share timestamp for address.
func (a ActivityIndex) Observe(address string, ts int64) {
	if last, ok := a[address]; !ok || ts > last {
		a[address] = ts
	}
}

// LastActivity returns the latest share timestamp for address, or
// NeverActive.
func (a ActivityIndex) LastActivity(address string) int64 {
	if ts, ok := a[address]; ok {
		return ts
	}
	return NeverActive
}

// Inactive reports whether address has no share at or after cutoff.
func (a ActivityIndex) Inactive(address string, cutoff time.Time) bool {
	return a.LastActivity(address) < cutoff.Unix()
}

// ShareScan counts what phase 1 read.
type ShareScan struct {
	Scanned int
	Skipped int
}

// BuildActivityIndex scans the shares table in a read-only snapshot. Shares
// written after the snapshot are not seen; a sweep acting on the index can
// therefore treat a miner who became active moments ago as inactive.
func (c *Coordinator) BuildActivityIndex(progress report.Progress) (ActivityIndex, ShareScan, error) {
	idx := make(ActivityIndex)
	var scan ShareScan

	progress.Emit(report.Event{Table: store.Shares.Name, Kind: report.EventPhase, Detail: "scanning shares for miner activity"})

	err := c.store.View(store.Shares, func(sess store.Session) error {
		return sess.ForEach(func(ent store.Entry) (store.Action, error) {
			scan.Scanned++
			s, err := record.DecodeShare(ent.Value)
			if err != nil {
				scan.Skipped++
				progress.Emit(report.Event{
					Table: store.Shares.Name,
					Kind:  report.EventSkipped,
					Err:   errors.Wrap(err, errors.ErrorTypeDecode, "decode_share", "skipping malformed share"),
				})
				return store.Continue, nil
			}
			idx.Observe(s.Address, s.Timestamp)

			if scan.Scanned%shareProgressEvery == 0 {
				progress.Emit(report.Event{
					Table:  store.Shares.Name,
					Kind:   report.EventFound,
					Count:  scan.Scanned,
					Detail: fmt.Sprintf("tracking %d miners", len(idx)),
				})
			}
			return store.Continue, nil
		})
	})
	if err != nil {
		return nil, scan, errors.Wrap(err, errors.ErrorTypeStore, "build_activity_index",
			"cannot scan shares for miner activity")
	}

	c.logger.Info("activity index built",
		"shares_scanned", scan.Scanned,
		"shares_skipped", scan.Skipped,
		"miners_tracked", len(idx),
	)
	return idx, scan, nil
}
