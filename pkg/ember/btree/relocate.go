package btree

import (
	"encoding/binary"

	"ember/pkg/ember/pager"
)

// Relocate copies oldPgno's content into newPgno — already allocated and
// otherwise unreferenced — and repairs every structural reference that
// named oldPgno: its single parent reference (dispatched on its
// pointer-map entry's type), its own children's pointer-map Parent
// fields, any overflow chain a cell of this page owns directly, and, for
// leaf pages, the neighboring leaves' raw sibling links (which the
// pointer map does not track). It returns the entry oldPgno held before
// the move so a caller managing references the tree itself does not see
// — a bucket root recorded in the schema catalog — can fix those up too.
func Relocate(p *pager.Pager, oldPgno, newPgno uint32) (pager.PtrEntry, error) {
	entry, err := p.ReadPtrEntry(oldPgno)
	if err != nil {
		return pager.PtrEntry{}, err
	}

	oldRef, err := p.Acquire(oldPgno)
	if err != nil {
		return pager.PtrEntry{}, err
	}
	oldNode := LoadNode(oldRef.Data)
	isNode := entry.Type == pager.PtrTreeNode || entry.Type == pager.PtrTreeRoot
	isLeaf := isNode && oldNode.IsLeaf()
	prevSibling, nextSibling := oldNode.PrevSibling(), oldNode.NextSibling()

	newRef, err := p.Acquire(newPgno)
	if err != nil {
		p.Release(oldRef, pager.HintKeep)
		return pager.PtrEntry{}, err
	}
	if err := p.MarkDirty(newRef); err != nil {
		p.Release(oldRef, pager.HintKeep)
		p.Release(newRef, pager.HintKeep)
		return pager.PtrEntry{}, err
	}
	copy(newRef.Data, oldRef.Data)
	p.Release(oldRef, pager.HintKeep)
	newNode := LoadNode(newRef.Data)

	var children, overflowHeads []uint32
	var overflowNext uint32
	if isNode {
		if !isLeaf {
			count := newNode.CellCount()
			for i := 0; i < count; i++ {
				children = append(children, internalChildAt(newNode, i))
			}
			children = append(children, newNode.RightChild())
		}
		overflowHeads = ownedOverflowHeads(p, newNode)
	} else if entry.Type == pager.PtrOverflowHead || entry.Type == pager.PtrOverflowLink {
		overflowNext = loadOverflowNext(newRef.Data)
	}
	p.Release(newRef, pager.HintKeep)

	switch entry.Type {
	case pager.PtrTreeNode:
		if err := rewriteParentChild(p, entry.Parent, oldPgno, newPgno); err != nil {
			return pager.PtrEntry{}, err
		}
	case pager.PtrOverflowHead:
		if err := rewriteCellOverflowPointer(p, entry.Parent, oldPgno, newPgno); err != nil {
			return pager.PtrEntry{}, err
		}
	case pager.PtrOverflowLink:
		if err := rewriteOverflowNext(p, entry.Parent, newPgno); err != nil {
			return pager.PtrEntry{}, err
		}
	case pager.PtrTreeRoot:
		// No in-tree parent to fix; the caller owns the catalog mapping.
	}

	if err := p.WritePtrEntry(newPgno, entry); err != nil {
		return pager.PtrEntry{}, err
	}

	for _, child := range children {
		if child == 0 {
			continue
		}
		childEntry, err := p.ReadPtrEntry(child)
		if err != nil {
			return pager.PtrEntry{}, err
		}
		childEntry.Parent = newPgno
		if err := p.WritePtrEntry(child, childEntry); err != nil {
			return pager.PtrEntry{}, err
		}
	}
	for _, head := range overflowHeads {
		if err := p.WritePtrEntry(head, pager.PtrEntry{Parent: newPgno, Type: pager.PtrOverflowHead}); err != nil {
			return pager.PtrEntry{}, err
		}
	}
	if overflowNext != 0 {
		if err := p.WritePtrEntry(overflowNext, pager.PtrEntry{Parent: newPgno, Type: pager.PtrOverflowLink}); err != nil {
			return pager.PtrEntry{}, err
		}
	}

	if isLeaf {
		if prevSibling != 0 {
			if err := rewriteSiblingLink(p, prevSibling, newPgno, false); err != nil {
				return pager.PtrEntry{}, err
			}
		}
		if nextSibling != 0 {
			if err := rewriteSiblingLink(p, nextSibling, newPgno, true); err != nil {
				return pager.PtrEntry{}, err
			}
		}
	}

	return entry, nil
}

// ownedOverflowHeads scans every cell of n for an overflow pointer,
// returning the head page numbers found.
func ownedOverflowHeads(p *pager.Pager, n *Node) []uint32 {
	var heads []uint32
	count := n.CellCount()
	isLeaf := n.IsLeaf()
	for i := 0; i < count; i++ {
		off := n.CellOffset(i)
		var info cellInfo
		if isLeaf {
			info = parseLeafCell(p.PageSize(), n.data, off)
		} else {
			info = parseInternalCell(p.PageSize(), n.data, off)
		}
		if info.hasOverflow {
			heads = append(heads, info.overflowPgno(n.data, off))
		}
	}
	return heads
}

// rewriteParentChild finds the child pointer equal to oldPgno within
// parentPgno's internal node (either a cell's left-child field or the
// node's rightmost-child field) and rewrites it to newPgno.
func rewriteParentChild(p *pager.Pager, parentPgno, oldPgno, newPgno uint32) error {
	ref, err := p.Acquire(parentPgno)
	if err != nil {
		return err
	}
	defer p.Release(ref, pager.HintKeep)
	n := LoadNode(ref.Data)
	if n.RightChild() == oldPgno {
		if err := p.MarkDirty(ref); err != nil {
			return err
		}
		n.SetRightChild(newPgno)
		return nil
	}
	count := n.CellCount()
	for i := 0; i < count; i++ {
		off := n.CellOffset(i)
		if binary.LittleEndian.Uint32(n.data[off:]) == oldPgno {
			if err := p.MarkDirty(ref); err != nil {
				return err
			}
			binary.LittleEndian.PutUint32(n.data[off:], newPgno)
			return nil
		}
	}
	return ErrCorruptNode
}

// rewriteCellOverflowPointer finds the cell in ownerPgno whose overflow
// pointer is oldHead and rewrites it to newHead.
func rewriteCellOverflowPointer(p *pager.Pager, ownerPgno, oldHead, newHead uint32) error {
	ref, err := p.Acquire(ownerPgno)
	if err != nil {
		return err
	}
	defer p.Release(ref, pager.HintKeep)
	n := LoadNode(ref.Data)
	count := n.CellCount()
	isLeaf := n.IsLeaf()
	for i := 0; i < count; i++ {
		off := n.CellOffset(i)
		var info cellInfo
		if isLeaf {
			info = parseLeafCell(p.PageSize(), n.data, off)
		} else {
			info = parseInternalCell(p.PageSize(), n.data, off)
		}
		if info.hasOverflow && info.overflowPgno(n.data, off) == oldHead {
			if err := p.MarkDirty(ref); err != nil {
				return err
			}
			pos := off + info.headerLen + info.localLen
			binary.LittleEndian.PutUint32(n.data[pos:], newHead)
			return nil
		}
	}
	return ErrCorruptNode
}

// rewriteOverflowNext rewrites predecessorPgno's raw next-page pointer.
func rewriteOverflowNext(p *pager.Pager, predecessorPgno, newNext uint32) error {
	ref, err := p.Acquire(predecessorPgno)
	if err != nil {
		return err
	}
	defer p.Release(ref, pager.HintKeep)
	if err := p.MarkDirty(ref); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(ref.Data[:4], newNext)
	return nil
}

// rewriteSiblingLink rewrites siblingPgno's NextSibling field (when
// pointsBack is false, i.e. siblingPgno is the relocated leaf's
// predecessor) or its PrevSibling field (pointsBack true) to newPgno.
func rewriteSiblingLink(p *pager.Pager, siblingPgno, newPgno uint32, pointsBack bool) error {
	ref, err := p.Acquire(siblingPgno)
	if err != nil {
		return err
	}
	defer p.Release(ref, pager.HintKeep)
	if err := p.MarkDirty(ref); err != nil {
		return err
	}
	n := LoadNode(ref.Data)
	if pointsBack {
		n.SetPrevSibling(newPgno)
	} else {
		n.SetNextSibling(newPgno)
	}
	return nil
}
