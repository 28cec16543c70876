package btree

import (
	"bytes"
	"errors"

	"ember/pkg/ember/pager"
)

var (
	ErrKeyNotFound  = errors.New("btree: key not found")
	ErrEmptyKey     = errors.New("btree: key must be non-empty")
	ErrCycleLimit   = errors.New("btree: tree depth exceeds sanity limit")
)

// maxDepth bounds recursive descent against a corrupt cyclic tree; a
// real tree this deep would already exceed the maximum database size.
const maxDepth = 64

// BTree is one bucket: a forest-of-trees member identified by its root
// page number, reading and writing pages only through the pager.
type BTree struct {
	p    *pager.Pager
	root uint32
}

// Create allocates a fresh, empty leaf root and returns a tree over it.
func Create(p *pager.Pager) (*BTree, error) {
	ref, err := p.Allocate()
	if err != nil {
		return nil, err
	}
	NewNode(ref.Data, true)
	root := ref.Pgno
	p.Release(ref, pager.HintKeep)
	if err := p.WritePtrEntry(root, pager.PtrEntry{Type: pager.PtrTreeRoot}); err != nil {
		return nil, err
	}
	return &BTree{p: p, root: root}, nil
}

// Open wraps an existing root page as a tree.
func Open(p *pager.Pager, root uint32) *BTree { return &BTree{p: p, root: root} }

func (t *BTree) Root() uint32 { return t.root }

// SetRoot updates this tree's in-memory root page number, used after
// vacuum relocates the page it was rooted on.
func (t *BTree) SetRoot(pgno uint32) { t.root = pgno }

// findChildIndex returns the index i such that key belongs under child i
// (0..CellCount()-1 route through the corresponding cell's left-child
// pointer; CellCount() means the rightmost child).
func (t *BTree) findChildIndex(n *Node, key []byte) (int, error) {
	lo, hi := 0, n.CellCount()
	for lo < hi {
		mid := (lo + hi) / 2
		cmp, err := compareKeys(t.p, n, mid, key)
		if err != nil {
			return 0, err
		}
		if cmp > 0 {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo, nil
}

// findLeafPos returns the index at which key sits (exact match) or should
// be inserted in a leaf node.
func (t *BTree) findLeafPos(n *Node, key []byte) (int, error) {
	lo, hi := 0, n.CellCount()
	for lo < hi {
		mid := (lo + hi) / 2
		cmp, err := compareKeys(t.p, n, mid, key)
		if err != nil {
			return 0, err
		}
		if cmp >= 0 {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo, nil
}

// Get returns the value stored for key, or ErrKeyNotFound.
func (t *BTree) Get(key []byte) ([]byte, error) {
	pgno := t.root
	for depth := 0; ; depth++ {
		if depth > maxDepth {
			return nil, ErrCycleLimit
		}
		ref, err := t.p.Acquire(pgno)
		if err != nil {
			return nil, err
		}
		n := LoadNode(ref.Data)
		if n.IsLeaf() {
			pos, err := t.findLeafPos(n, key)
			if err != nil {
				t.p.Release(ref, pager.HintKeep)
				return nil, err
			}
			if pos >= n.CellCount() {
				t.p.Release(ref, pager.HintKeep)
				return nil, ErrKeyNotFound
			}
			k, err := leafKeyAt(t.p, n, pos)
			if err != nil {
				t.p.Release(ref, pager.HintKeep)
				return nil, err
			}
			if !bytes.Equal(k, key) {
				t.p.Release(ref, pager.HintKeep)
				return nil, ErrKeyNotFound
			}
			_, v, err := leafCellAt(t.p, n, pos)
			t.p.Release(ref, pager.HintKeep)
			return v, err
		}
		idx, err := t.findChildIndex(n, key)
		if err != nil {
			t.p.Release(ref, pager.HintKeep)
			return nil, err
		}
		child := internalChildAt(n, idx)
		t.p.Release(ref, pager.HintKeep)
		pgno = child
	}
}

// Put inserts or replaces key's value.
func (t *BTree) Put(key, value []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	split, err := t.insertInto(t.root, key, value)
	if err != nil {
		return err
	}
	if split == nil {
		return nil
	}
	newRootRef, err := t.p.Allocate()
	if err != nil {
		return err
	}
	newRoot := NewNode(newRootRef.Data, false)
	enc, err := encodeInternalCell(t.p.PageSize(), t.root, split.key, t.overflowWriter(newRootRef.Pgno))
	if err != nil {
		t.p.Release(newRootRef, pager.HintKeep)
		return err
	}
	if err := newRoot.InsertCellAt(0, enc, internalCellSizeFn(t.p.PageSize(), newRoot)); err != nil {
		t.p.Release(newRootRef, pager.HintKeep)
		return err
	}
	newRoot.SetRightChild(split.rightPgno)
	oldRoot := t.root
	t.root = newRootRef.Pgno
	t.p.Release(newRootRef, pager.HintKeep)
	if err := t.p.WritePtrEntry(oldRoot, pager.PtrEntry{Parent: t.root, Type: pager.PtrTreeNode}); err != nil {
		return err
	}
	if err := t.p.WritePtrEntry(split.rightPgno, pager.PtrEntry{Parent: t.root, Type: pager.PtrTreeNode}); err != nil {
		return err
	}
	return t.p.WritePtrEntry(t.root, pager.PtrEntry{Type: pager.PtrTreeRoot})
}

// insertInto descends to key's leaf, inserting (or replacing) it, and
// propagates any split back up, returning non-nil only when pgno itself
// had to split (its own page number remains the left sibling).
func (t *BTree) insertInto(pgno uint32, key, value []byte) (*splitInfo, error) {
	ref, err := t.p.Acquire(pgno)
	if err != nil {
		return nil, err
	}
	n := LoadNode(ref.Data)

	if n.IsLeaf() {
		pos, err := t.findLeafPos(n, key)
		if err != nil {
			t.p.Release(ref, pager.HintKeep)
			return nil, err
		}
		if err := t.p.MarkDirty(ref); err != nil {
			t.p.Release(ref, pager.HintKeep)
			return nil, err
		}
		if pos < n.CellCount() {
			existing, err := leafKeyAt(t.p, n, pos)
			if err != nil {
				t.p.Release(ref, pager.HintKeep)
				return nil, err
			}
			if bytes.Equal(existing, key) {
				off := n.CellOffset(pos)
				info := parseLeafCell(t.p.PageSize(), n.data, off)
				if info.hasOverflow {
					if err := freeOverflowChain(t.p, info.overflowPgno(n.data, off)); err != nil {
						t.p.Release(ref, pager.HintKeep)
						return nil, err
					}
				}
				n.DeleteCellAt(pos, info.cellByteSize())
			}
		}
		encoded, err := encodeLeafCell(t.p.PageSize(), key, value, t.overflowWriter(pgno))
		if err != nil {
			t.p.Release(ref, pager.HintKeep)
			return nil, err
		}
		if err := n.InsertCellAt(pos, encoded, leafCellSizeFn(t.p.PageSize(), n)); err == nil {
			t.p.Release(ref, pager.HintKeep)
			return nil, nil
		} else if err != ErrNodeFull {
			t.p.Release(ref, pager.HintKeep)
			return nil, err
		}
		split, err := t.splitLeaf(ref, n, key, value, pos)
		t.p.Release(ref, pager.HintKeep)
		return split, err
	}

	idx, err := t.findChildIndex(n, key)
	if err != nil {
		t.p.Release(ref, pager.HintKeep)
		return nil, err
	}
	child := internalChildAt(n, idx)
	t.p.Release(ref, pager.HintKeep)

	childSplit, err := t.insertInto(child, key, value)
	if err != nil {
		return nil, err
	}
	if childSplit == nil {
		return nil, nil
	}

	ref, err = t.p.Acquire(pgno)
	if err != nil {
		return nil, err
	}
	n = LoadNode(ref.Data)
	if err := t.p.MarkDirty(ref); err != nil {
		t.p.Release(ref, pager.HintKeep)
		return nil, err
	}
	encoded, err := encodeInternalCell(t.p.PageSize(), child, childSplit.key, t.overflowWriter(pgno))
	if err != nil {
		t.p.Release(ref, pager.HintKeep)
		return nil, err
	}
	if err := n.InsertCellAt(idx, encoded, internalCellSizeFn(t.p.PageSize(), n)); err == nil {
		if idx == n.CellCount()-1 {
			n.SetRightChild(childSplit.rightPgno)
		} else {
			t.replaceChildAt(n, idx+1, childSplit.rightPgno)
		}
		if err := t.p.WritePtrEntry(childSplit.rightPgno, pager.PtrEntry{Parent: pgno, Type: pager.PtrTreeNode}); err != nil {
			t.p.Release(ref, pager.HintKeep)
			return nil, err
		}
		t.p.Release(ref, pager.HintKeep)
		return nil, nil
	} else if err != ErrNodeFull {
		t.p.Release(ref, pager.HintKeep)
		return nil, err
	}

	split, err := t.splitInternal(ref, n, childSplit.key, child, idx, childSplit.rightPgno)
	t.p.Release(ref, pager.HintKeep)
	return split, err
}

// replaceChildAt rewrites the left-child pointer stored in cell i without
// disturbing its key or size.
func (t *BTree) replaceChildAt(n *Node, i int, newChild uint32) {
	off := n.CellOffset(i)
	copy(n.data[off:off+4], encodePgno(newChild))
}

func encodePgno(pgno uint32) []byte {
	buf := make([]byte, 4)
	buf[0] = byte(pgno)
	buf[1] = byte(pgno >> 8)
	buf[2] = byte(pgno >> 16)
	buf[3] = byte(pgno >> 24)
	return buf
}

// Erase removes key, freeing its overflow chain if any, and rebalances
// any node left underfull.
func (t *BTree) Erase(key []byte) error {
	path, err := t.descendForDelete(t.root, key, nil)
	if err != nil {
		return err
	}
	if path == nil {
		return ErrKeyNotFound
	}
	return t.rebalanceUp(path)
}

// pathNode records one level of the descent to a leaf, held by page
// number so it can be safely reacquired during rebalancing.
type pathNode struct {
	pgno  uint32
	index int // this level's child index taken while descending (for internal levels)
}

// descendForDelete finds key's leaf, deletes the cell (freeing any
// overflow chain), and returns the full root-to-leaf path for
// rebalancing. Returns (nil, nil) if key was not found.
func (t *BTree) descendForDelete(pgno uint32, key []byte, path []pathNode) ([]pathNode, error) {
	ref, err := t.p.Acquire(pgno)
	if err != nil {
		return nil, err
	}
	n := LoadNode(ref.Data)
	if n.IsLeaf() {
		pos, err := t.findLeafPos(n, key)
		if err != nil {
			t.p.Release(ref, pager.HintKeep)
			return nil, err
		}
		if pos >= n.CellCount() {
			t.p.Release(ref, pager.HintKeep)
			return nil, nil
		}
		existing, err := leafKeyAt(t.p, n, pos)
		if err != nil {
			t.p.Release(ref, pager.HintKeep)
			return nil, err
		}
		if !bytes.Equal(existing, key) {
			t.p.Release(ref, pager.HintKeep)
			return nil, nil
		}
		if err := t.p.MarkDirty(ref); err != nil {
			t.p.Release(ref, pager.HintKeep)
			return nil, err
		}
		off := n.CellOffset(pos)
		info := parseLeafCell(t.p.PageSize(), n.data, off)
		if info.hasOverflow {
			if err := freeOverflowChain(t.p, info.overflowPgno(n.data, off)); err != nil {
				t.p.Release(ref, pager.HintKeep)
				return nil, err
			}
		}
		n.DeleteCellAt(pos, info.cellByteSize())
		t.p.Release(ref, pager.HintKeep)
		return append(path, pathNode{pgno: pgno}), nil
	}
	idx, err := t.findChildIndex(n, key)
	if err != nil {
		t.p.Release(ref, pager.HintKeep)
		return nil, err
	}
	child := internalChildAt(n, idx)
	t.p.Release(ref, pager.HintKeep)
	return t.descendForDelete(child, key, append(path, pathNode{pgno: pgno, index: idx}))
}
