package btree

import "ember/pkg/ember/pager"

// rebalanceUp walks the root-to-leaf path built during Erase, removing
// any node that deletion left with zero cells: a leaf with zero cells is
// genuinely empty and is unlinked from its sibling chain and dropped; an
// internal node with zero cells still has one (right) child, which is
// promoted into its slot in the grandparent. Either way the emptied
// page's own pointer-map entry is gone with it. A root that degenerates
// to zero cells collapses its sole child into the root's own page id, so
// the schema's root-page-number mapping never needs updating for
// non-vacuum shrinkage.
func (t *BTree) rebalanceUp(path []pathNode) error {
	for level := len(path) - 1; level >= 1; level-- {
		cur := path[level]
		ref, err := t.p.Acquire(cur.pgno)
		if err != nil {
			return err
		}
		if LoadNode(ref.Data).CellCount() != 0 {
			t.p.Release(ref, pager.HintKeep)
			return nil
		}
		n := LoadNode(ref.Data)
		isLeaf := n.IsLeaf()
		parent := path[level-1]

		if isLeaf {
			prev, next := n.PrevSibling(), n.NextSibling()
			t.p.Release(ref, pager.HintKeep)
			if err := t.unlinkLeafSiblings(prev, next); err != nil {
				return err
			}
			if err := t.removeChildFromParent(parent.pgno, parent.index); err != nil {
				return err
			}
		} else {
			sole := n.RightChild()
			t.p.Release(ref, pager.HintKeep)
			if err := t.replaceChildInParent(parent.pgno, parent.index, sole); err != nil {
				return err
			}
		}
		if err := t.destroyPage(cur.pgno); err != nil {
			return err
		}
	}

	rootRef, err := t.p.Acquire(t.root)
	if err != nil {
		return err
	}
	rn := LoadNode(rootRef.Data)
	if rn.IsLeaf() || rn.CellCount() != 0 {
		t.p.Release(rootRef, pager.HintKeep)
		return nil
	}
	sole := rn.RightChild()
	t.p.Release(rootRef, pager.HintKeep)
	return t.collapseRootInto(sole)
}

// unlinkLeafSiblings splices an emptied leaf out of the leaf chain.
func (t *BTree) unlinkLeafSiblings(prev, next uint32) error {
	if prev != 0 {
		ref, err := t.p.Acquire(prev)
		if err != nil {
			return err
		}
		if err := t.p.MarkDirty(ref); err != nil {
			t.p.Release(ref, pager.HintKeep)
			return err
		}
		LoadNode(ref.Data).SetNextSibling(next)
		t.p.Release(ref, pager.HintKeep)
	}
	if next != 0 {
		ref, err := t.p.Acquire(next)
		if err != nil {
			return err
		}
		if err := t.p.MarkDirty(ref); err != nil {
			t.p.Release(ref, pager.HintKeep)
			return err
		}
		LoadNode(ref.Data).SetPrevSibling(prev)
		t.p.Release(ref, pager.HintKeep)
	}
	return nil
}

// removeChildFromParent deletes the separator cell that used to route to
// an emptied, now-discarded child at childIndex, freeing the separator
// key's overflow chain if it had one.
func (t *BTree) removeChildFromParent(parentPgno uint32, childIndex int) error {
	ref, err := t.p.Acquire(parentPgno)
	if err != nil {
		return err
	}
	defer t.p.Release(ref, pager.HintKeep)
	if err := t.p.MarkDirty(ref); err != nil {
		return err
	}
	n := LoadNode(ref.Data)

	if childIndex == n.CellCount() {
		lastIdx := n.CellCount() - 1
		off := n.CellOffset(lastIdx)
		info := parseInternalCell(t.p.PageSize(), n.data, off)
		newRight := internalChildAt(n, lastIdx)
		if info.hasOverflow {
			if err := freeOverflowChain(t.p, info.overflowPgno(n.data, off)); err != nil {
				return err
			}
		}
		n.DeleteCellAt(lastIdx, info.cellByteSize())
		n.SetRightChild(newRight)
		return nil
	}

	off := n.CellOffset(childIndex)
	info := parseInternalCell(t.p.PageSize(), n.data, off)
	if info.hasOverflow {
		if err := freeOverflowChain(t.p, info.overflowPgno(n.data, off)); err != nil {
			return err
		}
	}
	n.DeleteCellAt(childIndex, info.cellByteSize())
	return nil
}

// replaceChildInParent rewrites the child pointer at childIndex (or the
// right-child slot) to skip over a collapsed internal node, reparenting
// newChild's pointer-map entry to parentPgno.
func (t *BTree) replaceChildInParent(parentPgno uint32, childIndex int, newChild uint32) error {
	ref, err := t.p.Acquire(parentPgno)
	if err != nil {
		return err
	}
	if err := t.p.MarkDirty(ref); err != nil {
		t.p.Release(ref, pager.HintKeep)
		return err
	}
	n := LoadNode(ref.Data)
	if childIndex == n.CellCount() {
		n.SetRightChild(newChild)
	} else {
		t.replaceChildAt(n, childIndex, newChild)
	}
	t.p.Release(ref, pager.HintKeep)
	return t.reparentChild(newChild, parentPgno)
}

func (t *BTree) destroyPage(pgno uint32) error {
	ref, err := t.p.Acquire(pgno)
	if err != nil {
		return err
	}
	return t.p.Destroy(ref)
}

// collapseRootInto copies child's contents into the root's own page
// (keeping the root's page number, and so the schema's bucket -> root
// mapping, stable), reparenting every grandchild and spilled overflow
// head that moved along with it.
func (t *BTree) collapseRootInto(child uint32) error {
	rootRef, err := t.p.Acquire(t.root)
	if err != nil {
		return err
	}
	childRef, err := t.p.Acquire(child)
	if err != nil {
		t.p.Release(rootRef, pager.HintKeep)
		return err
	}
	childNode := LoadNode(childRef.Data)
	leaf := childNode.IsLeaf()

	var kids, overflowHeads []uint32
	for i := 0; i < childNode.CellCount(); i++ {
		off := childNode.CellOffset(i)
		if leaf {
			info := parseLeafCell(t.p.PageSize(), childNode.data, off)
			if info.hasOverflow {
				overflowHeads = append(overflowHeads, info.overflowPgno(childNode.data, off))
			}
		} else {
			info := parseInternalCell(t.p.PageSize(), childNode.data, off)
			if info.hasOverflow {
				overflowHeads = append(overflowHeads, info.overflowPgno(childNode.data, off))
			}
			kids = append(kids, internalChildAt(childNode, i))
		}
	}
	if !leaf {
		kids = append(kids, childNode.RightChild())
	}

	buf := append([]byte(nil), childRef.Data...)
	t.p.Release(childRef, pager.HintKeep)
	if err := t.destroyPage(child); err != nil {
		t.p.Release(rootRef, pager.HintKeep)
		return err
	}
	if err := t.p.MarkDirty(rootRef); err != nil {
		t.p.Release(rootRef, pager.HintKeep)
		return err
	}
	copy(rootRef.Data, buf)
	t.p.Release(rootRef, pager.HintKeep)

	for _, k := range kids {
		if err := t.reparentChild(k, t.root); err != nil {
			return err
		}
	}
	for _, h := range overflowHeads {
		if err := t.p.WritePtrEntry(h, pager.PtrEntry{Parent: t.root, Type: pager.PtrOverflowHead}); err != nil {
			return err
		}
	}
	return nil
}
