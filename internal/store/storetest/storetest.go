// Package storetest builds throwaway LMDB environments laid out like the
// pool daemon's, for tests.
package storetest

import (
	"path/filepath"
	"testing"

	"github.com/bmatsuo/lmdb-go/lmdb"

	"github.com/bardlex/poolclean/internal/record"
	"github.com/bardlex/poolclean/internal/store"
)

// integerKey is MDB_INTEGERKEY. lmdb-go does not export it, but the daemon
// creates its height-keyed tables with it and fixtures must sort the same way.
const integerKey = 0x08

type put struct {
	table store.Table
	key   []byte
	value []byte
}

// Fixture collects entries and writes them to a fresh environment on Build.
// Every daemon table is created unless omitted.
type Fixture struct {
	t       testing.TB
	dir     string
	omitted map[string]bool
	puts    []put
}

// New returns an empty fixture rooted in a test temp dir.
func New(t testing.TB) *Fixture {
	t.Helper()
	return &Fixture{
		t:       t,
		dir:     filepath.Join(t.TempDir(), "pool.db"),
		omitted: make(map[string]bool),
	}
}

// Omit leaves table out of the environment.
func (f *Fixture) Omit(table store.Table) *Fixture {
	f.omitted[table.Name] = true
	return f
}

// Put queues a raw entry.
func (f *Fixture) Put(table store.Table, key, value []byte) *Fixture {
	f.puts = append(f.puts, put{table: table, key: key, value: value})
	return f
}

// Share queues a share under its height.
func (f *Fixture) Share(s record.Share) *Fixture {
	f.t.Helper()
	raw, err := record.EncodeShare(s)
	if err != nil {
		f.t.Fatalf("encode share: %v", err)
	}
	return f.Put(store.Shares, record.EncodeHeightKey(s.Height), raw)
}

// Payment queues a payment under its address.
func (f *Fixture) Payment(p record.Payment) *Fixture {
	f.t.Helper()
	raw, err := record.EncodePayment(p)
	if err != nil {
		f.t.Fatalf("encode payment: %v", err)
	}
	return f.Put(store.Payments, f.addressKey(p.Address), raw)
}

// Block queues a block under its height.
func (f *Fixture) Block(b record.Block) *Fixture {
	f.t.Helper()
	raw, err := record.EncodeBlock(b)
	if err != nil {
		f.t.Fatalf("encode block: %v", err)
	}
	return f.Put(store.Blocks, record.EncodeHeightKey(b.Height), raw)
}

// Balance queues a balance entry.
func (f *Fixture) Balance(address string, amount record.Amount) *Fixture {
	f.t.Helper()
	return f.Put(store.Balance, f.addressKey(address), record.EncodeBalance(amount))
}

// AddressKey pads address the way the daemon keys payments and balances.
func AddressKey(t testing.TB, address string) []byte {
	t.Helper()
	key, err := record.EncodeAddressKey(address)
	if err != nil {
		t.Fatalf("encode address key %q: %v", address, err)
	}
	return key
}

func (f *Fixture) addressKey(address string) []byte {
	f.t.Helper()
	return AddressKey(f.t, address)
}

// Build writes the environment, closes it and returns its path. The
// environment is a single file, as the daemon opens it with MDB_NOSUBDIR.
func (f *Fixture) Build() string {
	f.t.Helper()

	env, err := lmdb.NewEnv()
	if err != nil {
		f.t.Fatalf("new env: %v", err)
	}
	defer env.Close()

	if err := env.SetMaxDBs(10); err != nil {
		f.t.Fatalf("set max dbs: %v", err)
	}
	if err := env.SetMapSize(64 << 20); err != nil {
		f.t.Fatalf("set map size: %v", err)
	}
	if err := env.Open(f.dir, lmdb.NoSubdir, 0o644); err != nil {
		f.t.Fatalf("open env: %v", err)
	}

	err = env.Update(func(txn *lmdb.Txn) error {
		dbis := make(map[string]lmdb.DBI)
		for _, table := range store.Tables() {
			if f.omitted[table.Name] {
				continue
			}
			flags := table.Flags | lmdb.Create
			if table.IntegerKey {
				flags |= integerKey
			}
			dbi, err := txn.OpenDBI(table.Name, flags)
			if err != nil {
				return err
			}
			dbis[table.Name] = dbi
		}
		for _, p := range f.puts {
			dbi, ok := dbis[p.table.Name]
			if !ok {
				continue
			}
			if err := txn.Put(dbi, p.key, p.value, 0); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		f.t.Fatalf("seed env: %v", err)
	}
	return f.dir
}

// Open builds the fixture and opens it through store.Open, closing the store
// when the test ends.
func (f *Fixture) Open(readOnly bool) *store.Store {
	f.t.Helper()
	s, err := store.Open(f.Build(), store.Options{ReadOnly: readOnly}, nil)
	if err != nil {
		f.t.Fatalf("open store: %v", err)
	}
	f.t.Cleanup(func() { s.Close() })
	return s
}

// Count returns the number of entries in table.
func Count(t testing.TB, s *store.Store, table store.Table) uint64 {
	t.Helper()
	var n uint64
	err := s.View(table, func(sess store.Session) error {
		st, err := sess.Stat()
		n = st.Entries
		return err
	})
	if err != nil {
		t.Fatalf("count %s: %v", table.Name, err)
	}
	return n
}

// BalanceOf reads an account balance. ok is false when the account has no
// record.
func BalanceOf(t testing.TB, s *store.Store, address string) (record.Amount, bool) {
	t.Helper()
	var (
		amount record.Amount
		ok     bool
	)
	err := s.View(store.Balance, func(sess store.Session) error {
		raw, err := sess.Get(AddressKey(t, address))
		if err == store.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		amount, err = record.DecodeAmount(raw)
		ok = err == nil
		return err
	})
	if err != nil {
		t.Fatalf("read balance of %s: %v", address, err)
	}
	return amount, ok
}
