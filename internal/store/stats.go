package store

import (
	stderrors "errors"
)

// TableStats is LMDB's page accounting for one table.
type TableStats struct {
	Table         string
	Entries       uint64
	BranchPages   uint64
	LeafPages     uint64
	OverflowPages uint64
	Depth         uint
	PageSize      uint
	// Missing is set when the environment has no such table.
	Missing bool
}

// Pages returns the total number of pages the table occupies.
func (t TableStats) Pages() uint64 {
	return t.BranchPages + t.LeafPages + t.OverflowPages
}

// Bytes returns the on-disk footprint implied by the page count.
func (t TableStats) Bytes() uint64 {
	return t.Pages() * uint64(t.PageSize)
}

// Stats reads statistics for every daemon table. A table the environment
// does not have is reported with Missing set rather than as an error.
func (s *Store) Stats() ([]TableStats, error) {
	out := make([]TableStats, 0, len(Tables()))
	for _, table := range Tables() {
		var st TableStats
		err := s.View(table, func(sess Session) error {
			var err error
			st, err = sess.Stat()
			return err
		})
		if stderrors.Is(err, ErrTableNotFound) {
			st = TableStats{Table: table.Name, Missing: true}
		} else if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}
