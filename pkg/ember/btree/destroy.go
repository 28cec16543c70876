package btree

import "ember/pkg/ember/pager"

// DestroyAll frees every page belonging to the tree — every leaf and
// internal node plus any overflow chains they own — returning them all
// to the pager's freelist. Used when a bucket is dropped; the tree must
// not be used again afterward.
func (t *BTree) DestroyAll() error {
	return t.destroySubtree(t.root)
}

func (t *BTree) destroySubtree(pgno uint32) error {
	ref, err := t.p.Acquire(pgno)
	if err != nil {
		return err
	}
	n := LoadNode(ref.Data)
	isLeaf := n.IsLeaf()
	count := n.CellCount()

	var overflowHeads []uint32
	var children []uint32
	for i := 0; i < count; i++ {
		off := n.CellOffset(i)
		if isLeaf {
			info := parseLeafCell(t.p.PageSize(), n.data, off)
			if info.hasOverflow {
				overflowHeads = append(overflowHeads, info.overflowPgno(n.data, off))
			}
		} else {
			info := parseInternalCell(t.p.PageSize(), n.data, off)
			if info.hasOverflow {
				overflowHeads = append(overflowHeads, info.overflowPgno(n.data, off))
			}
			children = append(children, internalChildAt(n, i))
		}
	}
	if !isLeaf {
		children = append(children, n.RightChild())
	}
	t.p.Release(ref, pager.HintKeep)

	for _, h := range overflowHeads {
		if err := freeOverflowChain(t.p, h); err != nil {
			return err
		}
	}
	for _, c := range children {
		if err := t.destroySubtree(c); err != nil {
			return err
		}
	}

	ref, err = t.p.Acquire(pgno)
	if err != nil {
		return err
	}
	return t.p.Destroy(ref)
}
