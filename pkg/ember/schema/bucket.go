package schema

import "ember/pkg/ember/btree"

// Bucket is one live handle onto a user tree. Multiple handles opened
// for the same root page each get their own *btree.BTree and cursor
// state; the Catalog tracks them together only to refcount drops and to
// repoint them all if vacuum relocates their shared root page.
type Bucket struct {
	c      *Catalog
	root   uint32
	tree   *btree.BTree
	closed bool
}

func (b *Bucket) Root() uint32 { return b.root }

func (b *Bucket) Get(key []byte) ([]byte, error) { return b.tree.Get(key) }

func (b *Bucket) Put(key, value []byte) error { return b.tree.Put(key, value) }

func (b *Bucket) Erase(key []byte) error { return b.tree.Erase(key) }

func (b *Bucket) NewCursor() *btree.Cursor { return b.tree.NewCursor() }

// Close releases this handle's reference, reclaiming the bucket's pages
// if it was dropped while this was the last open handle.
func (b *Bucket) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	return b.c.release(b.root, b)
}
