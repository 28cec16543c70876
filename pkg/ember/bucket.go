package ember

import (
	"errors"

	"ember/pkg/ember/schema"
)

// ErrBucketClosed is returned by any operation on a Bucket or Cursor once
// its owning transaction has ended or Close has been called on it
// directly.
var ErrBucketClosed = errors.New("ember: bucket is closed")

// Bucket is a handle onto one named key space (spec §4.6, §6). It and
// every Cursor opened from it become unusable once the owning Txn
// commits or rolls back.
type Bucket struct {
	txn    *Txn
	inner  *schema.Bucket
	closed bool
}

func (b *Bucket) live() error {
	if b.closed {
		return ErrBucketClosed
	}
	if b.txn.done {
		return ErrTxnDone
	}
	return nil
}

// Get returns the value stored for key, or btree.ErrKeyNotFound (which
// errcode.Of classifies as NotFound) if it is absent.
func (b *Bucket) Get(key []byte) ([]byte, error) {
	if err := b.live(); err != nil {
		return nil, err
	}
	return b.inner.Get(key)
}

// Put inserts or overwrites the value stored for key.
func (b *Bucket) Put(key, value []byte) error {
	if err := b.live(); err != nil {
		return err
	}
	return b.inner.Put(key, value)
}

// Erase removes key, if present.
func (b *Bucket) Erase(key []byte) error {
	if err := b.live(); err != nil {
		return err
	}
	return b.inner.Erase(key)
}

// NewCursor opens a cursor over this bucket's keys (spec §4.5, §6).
func (b *Bucket) NewCursor() (*Cursor, error) {
	if err := b.live(); err != nil {
		return nil, err
	}
	return &Cursor{bucket: b, inner: b.inner.NewCursor()}, nil
}

// Close releases this handle. Reclaiming a dropped bucket's pages is
// deferred until its last open handle closes (SPEC_FULL.md SUPPLEMENTED
// FEATURES #1).
func (b *Bucket) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	return b.inner.Close()
}
