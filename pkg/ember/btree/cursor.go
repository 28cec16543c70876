package btree

import (
	"bytes"
	"errors"

	"ember/pkg/ember/pager"
)

var ErrCursorInvalid = errors.New("btree: cursor is not positioned on a cell")

// Cursor navigates one tree's leaf chain. It holds at most one page
// reference at a time (released as soon as a key/value is read or the
// cursor moves), and saves position as copied key bytes rather than a
// held reference, so it never outlives a suspension point.
type Cursor struct {
	t   *BTree
	leaf uint32 // 0 when not positioned on any leaf
	idx  int
	savedKey []byte // non-nil when the cursor must reload by key (after invalidation)
	status   error
}

// NewCursor returns an unpositioned cursor over t.
func (t *BTree) NewCursor() *Cursor { return &Cursor{t: t} }

func (c *Cursor) Status() error { return c.status }

func (c *Cursor) setErr(err error) error {
	c.status = err
	c.leaf = 0
	return err
}

// IsValid reports whether the cursor currently names a live cell.
func (c *Cursor) IsValid() bool {
	if c.status != nil || c.leaf == 0 {
		return false
	}
	ref, err := c.t.p.Acquire(c.leaf)
	if err != nil {
		return false
	}
	ok := c.idx < LoadNode(ref.Data).CellCount()
	c.t.p.Release(ref, pager.HintKeep)
	return ok
}

// descendTo walks from the root to the leaf that would contain key,
// positioning the cursor at the matching cell (Seek semantics: at the
// first cell with key' >= key, i.e. a lower bound).
func (c *Cursor) descendTo(key []byte) error {
	pgno := c.t.root
	for depth := 0; ; depth++ {
		if depth > maxDepth {
			return c.setErr(ErrCycleLimit)
		}
		ref, err := c.t.p.Acquire(pgno)
		if err != nil {
			return c.setErr(err)
		}
		n := LoadNode(ref.Data)
		if n.IsLeaf() {
			pos, err := c.t.findLeafPos(n, key)
			count, next := n.CellCount(), n.NextSibling()
			c.t.p.Release(ref, pager.HintKeep)
			if err != nil {
				return c.setErr(err)
			}
			// Every key in this leaf sorts before key: the lower bound is
			// the first cell of the next leaf.
			if pos >= count && next != 0 {
				pgno, pos = next, 0
			}
			c.leaf, c.idx, c.status, c.savedKey = pgno, pos, nil, nil
			return nil
		}
		idx, err := c.t.findChildIndex(n, key)
		if err != nil {
			c.t.p.Release(ref, pager.HintKeep)
			return c.setErr(err)
		}
		child := internalChildAt(n, idx)
		c.t.p.Release(ref, pager.HintKeep)
		pgno = child
	}
}

// Seek positions the cursor at the first key >= key (a lower bound).
func (c *Cursor) Seek(key []byte) error { return c.descendTo(key) }

// Find positions the cursor on key exactly; the cursor becomes invalid
// (but not errored) if key is absent.
func (c *Cursor) Find(key []byte) error {
	if err := c.descendTo(key); err != nil {
		return err
	}
	ref, err := c.t.p.Acquire(c.leaf)
	if err != nil {
		return c.setErr(err)
	}
	n := LoadNode(ref.Data)
	if c.idx >= n.CellCount() {
		c.t.p.Release(ref, pager.HintKeep)
		c.leaf = 0
		return nil
	}
	k, err := leafKeyAt(c.t.p, n, c.idx)
	c.t.p.Release(ref, pager.HintKeep)
	if err != nil {
		return c.setErr(err)
	}
	if !bytes.Equal(k, key) {
		c.leaf = 0
	}
	return nil
}

// SeekFirst descends the leftmost spine.
func (c *Cursor) SeekFirst() error {
	pgno := c.t.root
	for depth := 0; ; depth++ {
		if depth > maxDepth {
			return c.setErr(ErrCycleLimit)
		}
		ref, err := c.t.p.Acquire(pgno)
		if err != nil {
			return c.setErr(err)
		}
		n := LoadNode(ref.Data)
		if n.IsLeaf() {
			c.t.p.Release(ref, pager.HintKeep)
			c.leaf, c.idx, c.status, c.savedKey = pgno, 0, nil, nil
			return nil
		}
		child := internalChildAt(n, 0)
		c.t.p.Release(ref, pager.HintKeep)
		pgno = child
	}
}

// SeekLast descends the rightmost spine.
func (c *Cursor) SeekLast() error {
	pgno := c.t.root
	for depth := 0; ; depth++ {
		if depth > maxDepth {
			return c.setErr(ErrCycleLimit)
		}
		ref, err := c.t.p.Acquire(pgno)
		if err != nil {
			return c.setErr(err)
		}
		n := LoadNode(ref.Data)
		if n.IsLeaf() {
			last := n.CellCount() - 1
			if last < 0 {
				last = 0
			}
			c.t.p.Release(ref, pager.HintKeep)
			c.leaf, c.idx, c.status, c.savedKey = pgno, last, nil, nil
			return nil
		}
		child := n.RightChild()
		c.t.p.Release(ref, pager.HintKeep)
		pgno = child
	}
}

// Next advances to the following cell, crossing into the next leaf via
// its sibling pointer when the current leaf is exhausted.
func (c *Cursor) Next() error {
	if c.leaf == 0 {
		return ErrCursorInvalid
	}
	ref, err := c.t.p.Acquire(c.leaf)
	if err != nil {
		return c.setErr(err)
	}
	n := LoadNode(ref.Data)
	if c.idx+1 < n.CellCount() {
		c.t.p.Release(ref, pager.HintKeep)
		c.idx++
		return nil
	}
	next := n.NextSibling()
	c.t.p.Release(ref, pager.HintKeep)
	if next == 0 {
		c.leaf = 0
		return nil
	}
	c.leaf, c.idx = next, 0
	return nil
}

// Previous is Next's mirror image.
func (c *Cursor) Previous() error {
	if c.leaf == 0 {
		return ErrCursorInvalid
	}
	if c.idx > 0 {
		c.idx--
		return nil
	}
	ref, err := c.t.p.Acquire(c.leaf)
	if err != nil {
		return c.setErr(err)
	}
	prev := LoadNode(ref.Data).PrevSibling()
	c.t.p.Release(ref, pager.HintKeep)
	if prev == 0 {
		c.leaf = 0
		return nil
	}
	ref, err = c.t.p.Acquire(prev)
	if err != nil {
		return c.setErr(err)
	}
	last := LoadNode(ref.Data).CellCount() - 1
	c.t.p.Release(ref, pager.HintKeep)
	if last < 0 {
		c.leaf = 0
		return nil
	}
	c.leaf, c.idx = prev, last
	return nil
}

// Key returns the current cell's key.
func (c *Cursor) Key() ([]byte, error) {
	if !c.IsValid() {
		return nil, ErrCursorInvalid
	}
	ref, err := c.t.p.Acquire(c.leaf)
	if err != nil {
		return nil, c.setErr(err)
	}
	defer c.t.p.Release(ref, pager.HintKeep)
	return leafKeyAt(c.t.p, LoadNode(ref.Data), c.idx)
}

// Value returns the current cell's value.
func (c *Cursor) Value() ([]byte, error) {
	if !c.IsValid() {
		return nil, ErrCursorInvalid
	}
	ref, err := c.t.p.Acquire(c.leaf)
	if err != nil {
		return nil, c.setErr(err)
	}
	defer c.t.p.Release(ref, pager.HintKeep)
	_, v, err := leafCellAt(c.t.p, LoadNode(ref.Data), c.idx)
	return v, err
}

// Save copies out the current key so the cursor can be repositioned by
// Restore after a suspension point invalidates its leaf reference.
func (c *Cursor) Save() error {
	if c.leaf == 0 {
		c.savedKey = nil
		return nil
	}
	k, err := c.Key()
	if err != nil {
		return err
	}
	c.savedKey = k
	return nil
}

// Restore re-descends to the saved key, if any.
func (c *Cursor) Restore() error {
	if c.savedKey == nil {
		return nil
	}
	return c.Seek(c.savedKey)
}
