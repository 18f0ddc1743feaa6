package store

import (
	"bytes"
	stderrors "errors"

	"github.com/bmatsuo/lmdb-go/lmdb"

	"github.com/bardlex/poolclean/pkg/errors"
)

var (
	// ErrNotFound is returned by Get and the delete operations when the key
	// (or key/value pair) is absent.
	ErrNotFound = stderrors.New("store: not found")
	// ErrTableNotFound is returned when the environment has no such table.
	ErrTableNotFound = stderrors.New("store: table not found")
	// ErrNotEnvironment is returned by Open when the path holds no LMDB
	// environment.
	ErrNotEnvironment = stderrors.New("store: no environment at path")
	// ErrReadOnly is returned when a read-only session is asked to write.
	ErrReadOnly = stderrors.New("store: session is read-only")
)

// Action tells ForEach what to do with the entry it just visited.
type Action int

const (
	// Continue moves on to the next entry.
	Continue Action = iota
	// Delete removes exactly the visited key/value pair, then moves on.
	Delete
	// Stop ends the scan without error.
	Stop
)

// Entry is one key/value pair. Both slices are copies owned by the caller.
type Entry struct {
	Key   []byte
	Value []byte
}

// Session is a transaction scoped to one table.
type Session interface {
	// Table returns the table the session was opened on.
	Table() Table
	// Writable reports whether the session may modify the table.
	Writable() bool
	// ForEach visits every key/value pair in native key order, duplicates
	// in their stored order.
	ForEach(fn func(Entry) (Action, error)) error
	// Get returns the first value stored under key.
	Get(key []byte) ([]byte, error)
	// DeleteExact removes one pair whose value equals value byte for byte.
	DeleteExact(key, value []byte) error
	// DeleteKey removes key and, on a duplicate-key table, all its values.
	DeleteKey(key []byte) error
	// PutOrReplace stores value under key. Single-value tables only.
	PutOrReplace(key, value []byte) error
	// Stat returns page statistics for the table.
	Stat() (TableStats, error)
}

type session struct {
	txn      *lmdb.Txn
	dbi      lmdb.DBI
	table    Table
	writable bool
}

func (s *session) Table() Table   { return s.table }
func (s *session) Writable() bool { return s.writable }

func (s *session) ForEach(fn func(Entry) (Action, error)) error {
	cur, err := s.txn.OpenCursor(s.dbi)
	if err != nil {
		return s.wrap(err, "open_cursor", "cannot open cursor")
	}
	defer cur.Close()

	op := uint(lmdb.First)
	for {
		k, v, err := cur.Get(nil, nil, op)
		if lmdb.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return s.wrap(err, "cursor_next", "cursor read failed")
		}
		op = lmdb.Next

		action, err := fn(Entry{Key: k, Value: v})
		if err != nil {
			return err
		}

		switch action {
		case Delete:
			if !s.writable {
				return s.wrap(ErrReadOnly, "cursor_delete", "delete in read-only session")
			}
			// After mdb_cursor_del the cursor is flagged so that the next
			// MDB_NEXT lands on the entry that followed the deleted one.
			if err := cur.Del(0); err != nil {
				return s.wrap(err, "cursor_delete", "cannot delete entry")
			}
		case Stop:
			return nil
		}
	}
}

func (s *session) Get(key []byte) ([]byte, error) {
	v, err := s.txn.Get(s.dbi, key)
	if lmdb.IsNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, s.wrap(err, "get", "read failed")
	}
	return v, nil
}

// DeleteExact walks the duplicates of key comparing bytes rather than
// positioning with MDB_GET_BOTH: the daemon sorts duplicates with custom
// comparators that this process cannot install, so a value lookup through
// LMDB's default comparator could miss.
func (s *session) DeleteExact(key, value []byte) error {
	if !s.writable {
		return s.wrap(ErrReadOnly, "delete_exact", "delete in read-only session")
	}

	cur, err := s.txn.OpenCursor(s.dbi)
	if err != nil {
		return s.wrap(err, "open_cursor", "cannot open cursor")
	}
	defer cur.Close()

	_, v, err := cur.Get(key, nil, lmdb.Set)
	for {
		if lmdb.IsNotFound(err) {
			return ErrNotFound
		}
		if err != nil {
			return s.wrap(err, "delete_exact", "cursor read failed")
		}
		if bytes.Equal(v, value) {
			if err := cur.Del(0); err != nil {
				return s.wrap(err, "delete_exact", "cannot delete entry")
			}
			return nil
		}
		if !s.table.Duplicates {
			return ErrNotFound
		}
		_, v, err = cur.Get(nil, nil, lmdb.NextDup)
	}
}

func (s *session) DeleteKey(key []byte) error {
	if !s.writable {
		return s.wrap(ErrReadOnly, "delete_key", "delete in read-only session")
	}
	err := s.txn.Del(s.dbi, key, nil)
	if lmdb.IsNotFound(err) {
		return ErrNotFound
	}
	if err != nil {
		return s.wrap(err, "delete_key", "cannot delete key")
	}
	return nil
}

func (s *session) PutOrReplace(key, value []byte) error {
	if !s.writable {
		return s.wrap(ErrReadOnly, "put", "write in read-only session")
	}
	if s.table.Duplicates {
		return errors.New(errors.ErrorTypeStore, "put",
			"replace is undefined on a duplicate-key table").
			WithContext("table", s.table.Name)
	}
	if err := s.txn.Put(s.dbi, key, value, 0); err != nil {
		return s.wrap(err, "put", "cannot write value")
	}
	return nil
}

func (s *session) Stat() (TableStats, error) {
	st, err := s.txn.Stat(s.dbi)
	if err != nil {
		return TableStats{}, s.wrap(err, "stat", "cannot read table statistics")
	}
	return TableStats{
		Table:         s.table.Name,
		Entries:       st.Entries,
		BranchPages:   st.BranchPages,
		LeafPages:     st.LeafPages,
		OverflowPages: st.OverflowPages,
		Depth:         st.Depth,
		PageSize:      st.PSize,
	}, nil
}

func (s *session) wrap(err error, op, msg string) error {
	return errors.Wrap(err, errors.ErrorTypeStore, op, msg).
		WithContext("table", s.table.Name)
}
