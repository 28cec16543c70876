package ember

import (
	"errors"
	"sync"

	"ember/pkg/ember/schema"
)

var ErrTxnDone = errors.New("ember: transaction has already been committed or rolled back")

// Txn is one begin_txn/commit/rollback lifecycle (spec §4.7, §6). All
// Buckets and Cursors opened under it become unusable once it ends.
type Txn struct {
	mu      sync.Mutex
	db      *DB
	write   bool
	catalog *schema.Catalog
	done    bool
}

func newTxn(db *DB, write bool) (*Txn, error) {
	cat, err := schema.Open(db.pager)
	if err != nil {
		db.pager.Rollback()
		return nil, err
	}
	return &Txn{db: db, write: write, catalog: cat}, nil
}

// Commit persists every change made under this transaction.
func (t *Txn) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return ErrTxnDone
	}
	t.done = true
	if !t.write {
		return t.db.pager.Rollback()
	}
	return t.db.pager.Commit()
}

// Rollback discards every change made under this transaction.
func (t *Txn) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return ErrTxnDone
	}
	t.done = true
	return t.db.pager.Rollback()
}

// CreateBucket creates bucket name, optionally erroring if it already
// exists (spec §4.6).
func (t *Txn) CreateBucket(name string, errorIfExists bool) (*Bucket, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil, ErrTxnDone
	}
	b, err := t.catalog.CreateBucket(name, errorIfExists)
	if err != nil {
		return nil, err
	}
	return &Bucket{txn: t, inner: b}, nil
}

// OpenBucket opens an existing bucket by name.
func (t *Txn) OpenBucket(name string) (*Bucket, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil, ErrTxnDone
	}
	b, err := t.catalog.OpenBucket(name)
	if err != nil {
		return nil, err
	}
	return &Bucket{txn: t, inner: b}, nil
}

// ListBuckets returns every bucket name in the namespace, in key order.
func (t *Txn) ListBuckets() ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil, ErrTxnDone
	}
	return t.catalog.ListBuckets()
}

// IntegrityCheck validates the bucket namespace and every bucket it
// names (spec §4.5's validate operation, extended across the namespace
// per SPEC_FULL.md SUPPLEMENTED FEATURES #2).
func (t *Txn) IntegrityCheck() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return ErrTxnDone
	}
	return t.catalog.IntegrityCheck()
}

// DropBucket removes name from the namespace (spec §4.6); reclamation of
// its pages is deferred if other handles are still open on it.
func (t *Txn) DropBucket(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return ErrTxnDone
	}
	return t.catalog.DropBucket(name)
}

// Vacuum rewrites every live bucket's pages into a packed run at the
// front of the file and frees everything past the new end, per §9's
// resolved Open Question (SUPPLEMENTED FEATURES #4): all relocated
// roots are written back into the schema tree before this transaction
// commits.
func (t *Txn) Vacuum() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return ErrTxnDone
	}
	if !t.write {
		return errVacuumNeedsWrite
	}
	return vacuum(t.db.pager, t.catalog)
}

var errVacuumNeedsWrite = errors.New("ember: vacuum requires a write transaction")
