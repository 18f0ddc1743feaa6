// Package store provides access to the pool daemon's LMDB environment.
//
// The daemon keeps the environment open and writing the whole time this
// package is used. A read-only session is an LMDB read transaction: it sees a
// consistent snapshot and neither blocks nor is blocked by the daemon. A
// writable session holds LMDB's single writer lock, which stalls the
// daemon's own writes, so callers keep one writable session per table and
// close it before opening the next.
package store

import (
	"os"
	"path/filepath"

	"github.com/bmatsuo/lmdb-go/lmdb"

	"github.com/bardlex/poolclean/pkg/errors"
	"github.com/bardlex/poolclean/pkg/log"
)

// Table describes one named database inside the environment.
//
// Flags are the flags a session opens the table with. LMDB restores a
// table's persistent flags from the environment, so MDB_INTEGERKEY, which
// lmdb-go does not export, need not be passed again: an integer-keyed table
// keeps its native key order when opened with Flags alone. IntegerKey records
// that the daemon created the table with it.
type Table struct {
	Name       string
	Flags      uint
	Duplicates bool
	IntegerKey bool
}

// The daemon's tables. shares and blocks are keyed by a native uint64
// height, payments and balance by the address. Only balance holds a single
// value per key.
var (
	Shares   = Table{Name: "shares", Flags: lmdb.DupSort | lmdb.DupFixed, Duplicates: true, IntegerKey: true}
	Payments = Table{Name: "payments", Flags: lmdb.DupSort | lmdb.DupFixed, Duplicates: true}
	Blocks   = Table{Name: "blocks", Flags: lmdb.DupSort | lmdb.DupFixed, Duplicates: true, IntegerKey: true}
	Balance  = Table{Name: "balance"}
)

// dataFile is the file LMDB keeps the environment in when the path is a
// directory.
const dataFile = "data.mdb"

// Tables lists the daemon's tables in reporting order.
func Tables() []Table {
	return []Table{Shares, Payments, Blocks, Balance}
}

// Options configures Open.
type Options struct {
	// ReadOnly opens the environment with MDB_RDONLY. Update is refused.
	ReadOnly bool
	// MaxDBs bounds the number of named databases; the daemon's environment
	// has five.
	MaxDBs int
}

// Store is an open LMDB environment.
type Store struct {
	env      *lmdb.Env
	path     string
	readOnly bool
	logger   *log.Logger
}

// Open opens the environment at path. A missing path, a directory without
// an environment, or an unreadable environment is a fatal store error. Open
// never creates anything: LMDB would initialise a fresh environment in an
// empty directory, so the data file must already exist.
func Open(path string, opts Options, logger *log.Logger) (*Store, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStore, "open_env",
			"database path does not exist").
			WithContext("path", path)
	}
	if info.IsDir() {
		data, err := os.Stat(filepath.Join(path, dataFile))
		if err != nil || data.IsDir() {
			return nil, errors.Wrap(ErrNotEnvironment, errors.ErrorTypeStore, "open_env",
				"not a valid LMDB environment").
				WithContext("path", path)
		}
	} else if info.Size() == 0 {
		return nil, errors.Wrap(ErrNotEnvironment, errors.ErrorTypeStore, "open_env",
			"not a valid LMDB environment").
			WithContext("path", path)
	}

	if opts.MaxDBs <= 0 {
		opts.MaxDBs = 10
	}

	env, err := lmdb.NewEnv()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStore, "open_env", "cannot create environment handle")
	}

	if err := env.SetMaxDBs(opts.MaxDBs); err != nil {
		env.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeStore, "open_env", "cannot set max dbs")
	}

	var flags uint
	if opts.ReadOnly {
		flags |= lmdb.Readonly
	}
	if !info.IsDir() {
		flags |= lmdb.NoSubdir
	}

	if err := env.Open(path, flags, 0o644); err != nil {
		env.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeStore, "open_env",
			"not a valid LMDB environment").
			WithContext("path", path)
	}

	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent("store")
	logger.Debug("opened environment", "path", path, "read_only", opts.ReadOnly)

	return &Store{
		env:      env,
		path:     path,
		readOnly: opts.ReadOnly,
		logger:   logger,
	}, nil
}

// Path returns the environment path.
func (s *Store) Path() string {
	return s.path
}

// ReadOnly reports whether the environment was opened read-only.
func (s *Store) ReadOnly() bool {
	return s.readOnly
}

// Close closes the environment. No session may be open.
func (s *Store) Close() error {
	if err := s.env.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStore, "close_env", "cannot close environment")
	}
	return nil
}

// View runs fn inside a read-only snapshot of table.
func (s *Store) View(table Table, fn func(Session) error) error {
	return s.env.View(func(txn *lmdb.Txn) error {
		sess, err := openSession(txn, table, false)
		if err != nil {
			return err
		}
		return fn(sess)
	})
}

// Update runs fn inside a write transaction on table. The transaction
// commits when fn returns nil and aborts otherwise, so a failure leaves the
// table exactly as it was.
func (s *Store) Update(table Table, fn func(Session) error) error {
	if s.readOnly {
		return errors.New(errors.ErrorTypeStore, "begin_write",
			"environment is open read-only").
			WithContext("table", table.Name)
	}
	err := s.env.Update(func(txn *lmdb.Txn) error {
		sess, err := openSession(txn, table, true)
		if err != nil {
			return err
		}
		return fn(sess)
	})
	if err != nil {
		s.logger.WithTable(table.Name).WithError(err).Warn("write transaction aborted")
	}
	return err
}

func openSession(txn *lmdb.Txn, table Table, writable bool) (*session, error) {
	dbi, err := txn.OpenDBI(table.Name, table.Flags)
	if err != nil {
		if lmdb.IsNotFound(err) {
			return nil, errors.Wrap(ErrTableNotFound, errors.ErrorTypeStore, "open_table",
				"table does not exist").
				WithContext("table", table.Name)
		}
		return nil, errors.Wrap(err, errors.ErrorTypeStore, "open_table",
			"cannot open table").
			WithContext("table", table.Name)
	}
	return &session{txn: txn, dbi: dbi, table: table, writable: writable}, nil
}
