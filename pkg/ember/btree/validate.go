package btree

import (
	"bytes"
	"fmt"

	"ember/pkg/ember/pager"
)

// Validate walks the whole tree, checking leaf key order, pointer-map
// back-references, overflow-chain reachability and free-space
// accounting, per spec §4.5's validate operation. It returns the first
// problem found, or nil if the tree is internally consistent.
func (t *BTree) Validate() error {
	entry, err := t.p.ReadPtrEntry(t.root)
	if err != nil {
		return err
	}
	if entry.Type != pager.PtrNone && entry.Type != pager.PtrTreeRoot {
		return fmt.Errorf("btree: root page %d has pointer-map type %d, want tree-root", t.root, entry.Type)
	}
	var prevLeafKey []byte
	var havePrev bool
	_, err = t.validateNode(t.root, 0, nil, &prevLeafKey, &havePrev)
	return err
}

// validateNode checks node pgno (at depth, whose pointer-map parent
// should be *wantParent when wantParent is non-nil) and recurses into its
// children, threading the running previous-leaf-key for the global
// cross-leaf ordering check.
func (t *BTree) validateNode(pgno uint32, depth int, wantParent *uint32, prevLeafKey *[]byte, havePrev *bool) (leaf bool, err error) {
	if depth > maxDepth {
		return false, ErrCycleLimit
	}
	ref, err := t.p.Acquire(pgno)
	if err != nil {
		return false, err
	}
	n := LoadNode(ref.Data)
	isLeaf := n.IsLeaf()

	if wantParent != nil {
		entry, err := t.p.ReadPtrEntry(pgno)
		if err != nil {
			t.p.Release(ref, pager.HintKeep)
			return false, err
		}
		if entry.Parent != *wantParent {
			t.p.Release(ref, pager.HintKeep)
			return false, fmt.Errorf("btree: page %d pointer-map parent is %d, want %d", pgno, entry.Parent, *wantParent)
		}
	}

	if used := n.UsedBytes(); used < 0 || used > len(n.data) {
		t.p.Release(ref, pager.HintKeep)
		return false, fmt.Errorf("btree: page %d reports impossible used-bytes count %d", pgno, used)
	}

	if isLeaf {
		var prevKey []byte
		for i := 0; i < n.CellCount(); i++ {
			key, _, err := leafCellAt(t.p, n, i)
			if err != nil {
				t.p.Release(ref, pager.HintKeep)
				return false, err
			}
			if i > 0 && bytes.Compare(prevKey, key) >= 0 {
				t.p.Release(ref, pager.HintKeep)
				return false, fmt.Errorf("btree: page %d cell %d out of order", pgno, i)
			}
			prevKey = key
			off := n.CellOffset(i)
			info := parseLeafCell(t.p.PageSize(), n.data, off)
			if info.hasOverflow {
				if err := t.validateOverflowChain(info.overflowPgno(n.data, off), pgno); err != nil {
					t.p.Release(ref, pager.HintKeep)
					return false, err
				}
			}
		}
		if *havePrev && n.CellCount() > 0 && bytes.Compare(*prevLeafKey, prevKey) >= 0 {
			t.p.Release(ref, pager.HintKeep)
			return false, fmt.Errorf("btree: leaf chain out of order at page %d", pgno)
		}
		if n.CellCount() > 0 {
			*prevLeafKey = prevKey
			*havePrev = true
		}
		next := n.NextSibling()
		t.p.Release(ref, pager.HintKeep)
		if next != 0 {
			nref, err := t.p.Acquire(next)
			if err != nil {
				return true, err
			}
			back := LoadNode(nref.Data).PrevSibling()
			t.p.Release(nref, pager.HintKeep)
			if back != pgno {
				return true, fmt.Errorf("btree: page %d's next sibling %d does not point back", pgno, next)
			}
		}
		return true, nil
	}

	count := n.CellCount()
	children := make([]uint32, count+1)
	for i := 0; i < count; i++ {
		children[i] = internalChildAt(n, i)
		off := n.CellOffset(i)
		info := parseInternalCell(t.p.PageSize(), n.data, off)
		if info.hasOverflow {
			if err := t.validateOverflowChain(info.overflowPgno(n.data, off), pgno); err != nil {
				t.p.Release(ref, pager.HintKeep)
				return false, err
			}
		}
	}
	children[count] = n.RightChild()
	t.p.Release(ref, pager.HintKeep)

	for _, child := range children {
		parent := pgno
		if _, err := t.validateNode(child, depth+1, &parent, prevLeafKey, havePrev); err != nil {
			return false, err
		}
	}
	return false, nil
}

// validateOverflowChain confirms an overflow chain's head names owner
// and every link names its predecessor, stopping at the first page with
// a zero next-pointer.
func (t *BTree) validateOverflowChain(head, owner uint32) error {
	entry, err := t.p.ReadPtrEntry(head)
	if err != nil {
		return err
	}
	if entry.Type != pager.PtrOverflowHead || entry.Parent != owner {
		return fmt.Errorf("btree: overflow head %d has pointer-map (%d, %d), want head of %d", head, entry.Parent, entry.Type, owner)
	}
	pgno := head
	for {
		ref, err := t.p.Acquire(pgno)
		if err != nil {
			return err
		}
		next := loadOverflowNext(ref.Data)
		t.p.Release(ref, pager.HintKeep)
		if next == 0 {
			return nil
		}
		nEntry, err := t.p.ReadPtrEntry(next)
		if err != nil {
			return err
		}
		if nEntry.Type != pager.PtrOverflowLink || nEntry.Parent != pgno {
			return fmt.Errorf("btree: overflow link %d has pointer-map (%d, %d), want link of %d", next, nEntry.Parent, nEntry.Type, pgno)
		}
		pgno = next
	}
}
