// Package schema implements the bucket namespace: a distinguished tree,
// rooted at a catalog page tracked in the file header, whose leaf values
// are the root page numbers of user buckets. It also tracks every live
// open bucket handle, deferring the actual page reclamation of a
// dropped bucket until its last handle closes, and repointing open
// handles when vacuum relocates the page underneath them.
package schema

import (
	"encoding/binary"
	"errors"
	"sync"

	"ember/pkg/ember/btree"
	"ember/pkg/ember/pager"
)

var (
	ErrBucketExists   = errors.New("schema: bucket already exists")
	ErrBucketNotFound = errors.New("schema: bucket not found")
	ErrEmptyName      = errors.New("schema: bucket name must be non-empty")
)

// liveBucket is the catalog's bookkeeping for one open root page: which
// *Bucket handles currently reference it, and whether a DropBucket call
// is waiting for the last of them to close. The handle list lets
// RewriteBucketRoot repoint every open handle's cached root in place
// when vacuum relocates the page underneath it.
type liveBucket struct {
	handles     []*Bucket
	dropPending bool
}

// Catalog owns the bucket-namespace tree and the registry of live
// handles. One Catalog exists per open database.
type Catalog struct {
	p    *pager.Pager
	tree *btree.BTree

	mu   sync.Mutex
	live map[uint32]*liveBucket
}

// Open loads the existing catalog tree, or creates one (and records its
// root page in the file header) if this is a freshly initialized file.
func Open(p *pager.Pager) (*Catalog, error) {
	root := p.CatalogRoot()
	if root != 0 {
		return &Catalog{p: p, tree: btree.Open(p, root), live: make(map[uint32]*liveBucket)}, nil
	}
	t, err := btree.Create(p)
	if err != nil {
		return nil, err
	}
	if err := p.SetCatalogRoot(t.Root()); err != nil {
		return nil, err
	}
	return &Catalog{p: p, tree: t, live: make(map[uint32]*liveBucket)}, nil
}

func encodeRoot(pgno uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, pgno)
	return buf
}

func decodeRoot(buf []byte) uint32 { return binary.LittleEndian.Uint32(buf) }

// CreateBucket creates a new, empty bucket named name. If errorIfExists
// is false and the bucket already exists, it is opened instead.
func (c *Catalog) CreateBucket(name string, errorIfExists bool) (*Bucket, error) {
	if len(name) == 0 {
		return nil, ErrEmptyName
	}
	if raw, err := c.tree.Get([]byte(name)); err == nil {
		if errorIfExists {
			return nil, ErrBucketExists
		}
		return c.handle(decodeRoot(raw)), nil
	} else if !errors.Is(err, btree.ErrKeyNotFound) {
		return nil, err
	}

	bt, err := btree.Create(c.p)
	if err != nil {
		return nil, err
	}
	if err := c.tree.Put([]byte(name), encodeRoot(bt.Root())); err != nil {
		return nil, err
	}
	c.p.SetSchemaCookie(c.p.SchemaCookie() + 1)
	return c.handle(bt.Root()), nil
}

// OpenBucket opens an existing bucket by name.
func (c *Catalog) OpenBucket(name string) (*Bucket, error) {
	if len(name) == 0 {
		return nil, ErrEmptyName
	}
	raw, err := c.tree.Get([]byte(name))
	if errors.Is(err, btree.ErrKeyNotFound) {
		return nil, ErrBucketNotFound
	} else if err != nil {
		return nil, err
	}
	return c.handle(decodeRoot(raw)), nil
}

// DropBucket removes name from the namespace immediately; if open
// handles still reference its root, the underlying tree's pages are
// only reclaimed once the last of them closes.
func (c *Catalog) DropBucket(name string) error {
	if len(name) == 0 {
		return ErrEmptyName
	}
	raw, err := c.tree.Get([]byte(name))
	if errors.Is(err, btree.ErrKeyNotFound) {
		return ErrBucketNotFound
	} else if err != nil {
		return err
	}
	root := decodeRoot(raw)
	if err := c.tree.Erase([]byte(name)); err != nil {
		return err
	}
	c.p.SetSchemaCookie(c.p.SchemaCookie() + 1)

	c.mu.Lock()
	lb, open := c.live[root]
	if open {
		lb.dropPending = true
	}
	c.mu.Unlock()
	if open {
		return nil
	}
	return btree.Open(c.p, root).DestroyAll()
}

// handle registers (or re-references) root's live entry and returns a
// fresh *Bucket over it.
func (c *Catalog) handle(root uint32) *Bucket {
	c.mu.Lock()
	lb, ok := c.live[root]
	if !ok {
		lb = &liveBucket{}
		c.live[root] = lb
	}
	b := &Bucket{c: c, root: root, tree: btree.Open(c.p, root)}
	lb.handles = append(lb.handles, b)
	c.mu.Unlock()
	return b
}

// release drops one reference to root, destroying its tree if a drop
// was deferred waiting on this being the last handle.
func (c *Catalog) release(root uint32, b *Bucket) error {
	c.mu.Lock()
	lb := c.live[root]
	if lb == nil {
		c.mu.Unlock()
		return nil
	}
	for i, h := range lb.handles {
		if h == b {
			lb.handles = append(lb.handles[:i], lb.handles[i+1:]...)
			break
		}
	}
	done := len(lb.handles) == 0
	drop := lb.dropPending
	if done {
		delete(c.live, root)
	}
	c.mu.Unlock()
	if done && drop {
		return btree.Open(c.p, root).DestroyAll()
	}
	return nil
}

// ListBuckets returns every bucket name currently in the namespace, in
// key order.
func (c *Catalog) ListBuckets() ([]string, error) {
	var names []string
	cur := c.tree.NewCursor()
	for err := cur.SeekFirst(); err == nil && cur.IsValid(); err = cur.Next() {
		k, err := cur.Key()
		if err != nil {
			return nil, err
		}
		names = append(names, string(k))
	}
	return names, cur.Status()
}

// RewriteBucketRoot updates every reference to oldRoot — the catalog's
// own root page, a bucket's root recorded as a catalog leaf value, and
// any *Bucket handle currently open on it — to newRoot. Vacuum calls
// this after relocating a root page so the namespace, and every handle
// a caller is mid-transaction holding, keep pointing at the right place
// (SPEC_FULL.md SUPPLEMENTED FEATURES #4).
func (c *Catalog) RewriteBucketRoot(oldRoot, newRoot uint32) error {
	c.repointHandles(oldRoot, newRoot)

	if c.p.CatalogRoot() == oldRoot {
		if err := c.p.SetCatalogRoot(newRoot); err != nil {
			return err
		}
		c.tree.SetRoot(newRoot)
		return nil
	}
	cur := c.tree.NewCursor()
	for err := cur.SeekFirst(); err == nil && cur.IsValid(); err = cur.Next() {
		key, err := cur.Key()
		if err != nil {
			return err
		}
		v, err := cur.Value()
		if err != nil {
			return err
		}
		if decodeRoot(v) == oldRoot {
			return c.tree.Put(key, encodeRoot(newRoot))
		}
	}
	return cur.Status()
}

// repointHandles moves oldRoot's live-handle bookkeeping to newRoot and
// updates every open *Bucket's cached root and tree in place, so a
// handle a caller is still holding keeps working after vacuum relocates
// the page it was rooted on.
func (c *Catalog) repointHandles(oldRoot, newRoot uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	lb, ok := c.live[oldRoot]
	if !ok {
		return
	}
	delete(c.live, oldRoot)
	for _, b := range lb.handles {
		b.root = newRoot
		b.tree.SetRoot(newRoot)
	}
	if existing, ok := c.live[newRoot]; ok {
		existing.handles = append(existing.handles, lb.handles...)
		existing.dropPending = existing.dropPending || lb.dropPending
	} else {
		c.live[newRoot] = lb
	}
}

// IntegrityCheck validates the catalog tree itself and every bucket it
// names, per spec §4.5's validate operation extended across the whole
// namespace.
func (c *Catalog) IntegrityCheck() error {
	if err := c.tree.Validate(); err != nil {
		return err
	}
	cur := c.tree.NewCursor()
	for err := cur.SeekFirst(); err == nil && cur.IsValid(); err = cur.Next() {
		v, err := cur.Value()
		if err != nil {
			return err
		}
		if err := btree.Open(c.p, decodeRoot(v)).Validate(); err != nil {
			return err
		}
	}
	return cur.Status()
}
