// Package ember is the external facade over the storage engine: DB,
// Txn, Bucket, and Cursor, dispatching onto pkg/ember/{pager,schema,
// btree} per spec §6.
package ember

import (
	"errors"
	"sync"

	"ember/pkg/ember/pager"
	"ember/pkg/ember/wal"
)

var ErrDatabaseClosed = errors.New("ember: database is closed")

// LockMode mirrors pager.LockMode at the facade boundary.
type LockMode = pager.LockMode

const (
	LockModeNormal    = pager.LockModeNormal
	LockModeExclusive = pager.LockModeExclusive
)

// SyncMode mirrors pager.SyncMode at the facade boundary.
type SyncMode = pager.SyncMode

const (
	SyncOff    = pager.SyncOff
	SyncNormal = pager.SyncNormal
	SyncFull   = pager.SyncFull
)

// BusyHandler is invoked with a 1-based attempt counter whenever a lock
// acquisition would otherwise block; returning false gives up and
// surfaces a Busy error to the caller.
type BusyHandler = wal.BusyHandler

// Options enumerates exactly the configuration surface spec §6 promises:
// page size, cache budget, lock/sync modes, open-time behavior flags,
// and an optional busy handler.
type Options struct {
	PageSize        int
	CacheSizeBytes  int64
	LockMode        LockMode
	SyncMode        SyncMode
	CreateIfMissing bool
	ErrorIfExists   bool
	ReadOnly        bool
	BusyHandler     BusyHandler
}

func (o Options) toPagerOptions() pager.Options {
	return pager.Options{
		PageSize:        o.PageSize,
		CacheSizeBytes:  o.CacheSizeBytes,
		LockMode:        o.LockMode,
		SyncMode:        o.SyncMode,
		CreateIfMissing: o.CreateIfMissing,
		ErrorIfExists:   o.ErrorIfExists,
		ReadOnly:        o.ReadOnly,
		BusyHandler:     o.BusyHandler,
	}
}

// DB is one open connection to an ember database file.
type DB struct {
	mu     sync.Mutex
	path   string
	pager  *pager.Pager
	closed bool
}

// Open opens (or creates, per opts.CreateIfMissing) the database at path.
func Open(path string, opts Options) (*DB, error) {
	p, err := pager.Open(path, opts.toPagerOptions())
	if err != nil {
		return nil, err
	}
	return &DB{path: path, pager: p}, nil
}

// Path returns the file path this connection was opened with.
func (db *DB) Path() string { return db.path }

// Close closes the underlying pager. It is an error to call Close more
// than once.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrDatabaseClosed
	}
	db.closed = true
	return db.pager.Close()
}

// BeginTxn starts a transaction; write selects a read-only snapshot or
// the single writer slot, per spec §4.7.
func (db *DB) BeginTxn(write bool) (*Txn, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, ErrDatabaseClosed
	}
	if err := db.pager.Begin(write); err != nil {
		return nil, err
	}
	return newTxn(db, write)
}

// Checkpoint copies committed WAL frames back into the main file,
// optionally forcing a WAL reset, per spec §4.4's checkpoint operation.
// Valid only between transactions.
func (db *DB) Checkpoint(reset bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrDatabaseClosed
	}
	return db.pager.Checkpoint(reset)
}
