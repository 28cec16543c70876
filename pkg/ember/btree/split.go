package btree

import (
	"ember/pkg/ember/bufmgr"
	"ember/pkg/ember/pager"
)

// splitInfo is what a split at some level reports up to its caller: the
// separator key promoted to the parent and the new right sibling's page
// number. The original page number is unchanged and becomes the left
// sibling.
type splitInfo struct {
	key       []byte
	rightPgno uint32
}

// truncateSuffix implements spec §4.5's pivot rule: the shortest prefix
// of right that still sorts strictly after left, so internal cells can
// carry a promoted prefix instead of the whole right-hand key.
func truncateSuffix(left, right []byte) []byte {
	n := 0
	for n < len(left) && n < len(right) && left[n] == right[n] {
		n++
	}
	if n >= len(right) {
		return append([]byte(nil), right...)
	}
	return append([]byte(nil), right[:n+1]...)
}

func (t *BTree) overflowWriter(owner uint32) func([]byte) (uint32, error) {
	return func(tail []byte) (uint32, error) {
		return writeOverflowChain(t.p, owner, tail)
	}
}

// splitLeaf allocates a right sibling for a full leaf and distributes the
// existing cells plus the pending (key, value) between them. isAppend
// indicates the pending cell sorts after every existing cell, enabling
// the monotone-insert fast path: existing cells are left untouched and
// only the new cell moves to the sibling.
func (t *BTree) splitLeaf(leftRef *bufmgr.Frame, left *Node, key, value []byte, insertPos int) (*splitInfo, error) {
	rightRef, err := t.p.Allocate()
	if err != nil {
		return nil, err
	}
	rightPgno := rightRef.Pgno
	right := NewNode(rightRef.Data, true)

	isAppend := insertPos == left.CellCount()

	if isAppend {
		encoded, err := encodeLeafCell(t.p.PageSize(), key, value, t.overflowWriter(rightPgno))
		if err != nil {
			t.p.Release(rightRef, pager.HintKeep)
			return nil, err
		}
		if err := right.InsertCellAt(0, encoded, leafCellSizeFn(t.p.PageSize(), right)); err != nil {
			t.p.Release(rightRef, pager.HintKeep)
			return nil, err
		}
		right.SetNextSibling(left.NextSibling())
		right.SetPrevSibling(leftRef.Pgno)
		if oldNext := left.NextSibling(); oldNext != 0 {
			if err := t.fixPrevSibling(oldNext, rightPgno); err != nil {
				t.p.Release(rightRef, pager.HintKeep)
				return nil, err
			}
		}
		left.SetNextSibling(rightPgno)
		pivot := truncateSuffix(lastLeafKey(t.p, left), key)
		t.p.Release(rightRef, pager.HintKeep)
		return &splitInfo{key: pivot, rightPgno: rightPgno}, nil
	}

	// General path: collect every existing cell plus the pending one, in
	// key order, then redistribute by cumulative byte size so both
	// siblings end up roughly equally full.
	type rec struct {
		encoded      []byte
		overflowHead uint32
		hasOverflow  bool
	}
	count := left.CellCount()
	recs := make([]rec, 0, count+1)
	for i := 0; i < count; i++ {
		off := left.CellOffset(i)
		info := parseLeafCell(t.p.PageSize(), left.data, off)
		sz := info.cellByteSize()
		enc := append([]byte(nil), left.data[off:off+sz]...)
		r := rec{encoded: enc}
		if info.hasOverflow {
			r.hasOverflow = true
			r.overflowHead = info.overflowPgno(left.data, off)
		}
		if i == insertPos {
			newEnc, err := encodeLeafCell(t.p.PageSize(), key, value, t.overflowWriter(leftRef.Pgno))
			if err != nil {
				t.p.Release(rightRef, pager.HintKeep)
				return nil, err
			}
			nr := rec{encoded: newEnc}
			if len(newEnc) > 0 {
				info := parseLeafCell(t.p.PageSize(), newEnc, 0)
				if info.hasOverflow {
					nr.hasOverflow = true
					nr.overflowHead = info.overflowPgno(newEnc, 0)
				}
			}
			recs = append(recs, nr)
		}
		recs = append(recs, r)
	}
	if insertPos == count {
		newEnc, err := encodeLeafCell(t.p.PageSize(), key, value, t.overflowWriter(leftRef.Pgno))
		if err != nil {
			t.p.Release(rightRef, pager.HintKeep)
			return nil, err
		}
		nr := rec{encoded: newEnc}
		info := parseLeafCell(t.p.PageSize(), newEnc, 0)
		if info.hasOverflow {
			nr.hasOverflow = true
			nr.overflowHead = info.overflowPgno(newEnc, 0)
		}
		recs = append(recs, nr)
	}

	total := 0
	for _, r := range recs {
		total += len(r.encoded) + CellPointerSize
	}
	half := total / 2
	split := 0
	running := 0
	for i, r := range recs {
		running += len(r.encoded) + CellPointerSize
		split = i + 1
		if running >= half {
			break
		}
	}
	if split == 0 {
		split = 1
	}
	if split >= len(recs) {
		split = len(recs) - 1
	}

	// Rebuild both nodes from scratch in sorted order.
	NewNode(leftRef.Data, true)
	left = LoadNode(leftRef.Data)
	for i := 0; i < split; i++ {
		r := recs[i]
		if err := left.InsertCellAt(i, r.encoded, leafCellSizeFn(t.p.PageSize(), left)); err != nil {
			t.p.Release(rightRef, pager.HintKeep)
			return nil, err
		}
	}
	for i := split; i < len(recs); i++ {
		r := recs[i]
		j := i - split
		if err := right.InsertCellAt(j, r.encoded, leafCellSizeFn(t.p.PageSize(), right)); err != nil {
			t.p.Release(rightRef, pager.HintKeep)
			return nil, err
		}
		if r.hasOverflow {
			if err := t.p.WritePtrEntry(r.overflowHead, pager.PtrEntry{Parent: rightPgno, Type: pager.PtrOverflowHead}); err != nil {
				t.p.Release(rightRef, pager.HintKeep)
				return nil, err
			}
		}
	}
	right.SetNextSibling(left.NextSibling())
	right.SetPrevSibling(leftRef.Pgno)
	if oldNext := left.NextSibling(); oldNext != 0 {
		if err := t.fixPrevSibling(oldNext, rightPgno); err != nil {
			t.p.Release(rightRef, pager.HintKeep)
			return nil, err
		}
	}
	left.SetNextSibling(rightPgno)

	leftLastKey, err := leafKeyAt(t.p, left, left.CellCount()-1)
	if err != nil {
		t.p.Release(rightRef, pager.HintKeep)
		return nil, err
	}
	rightFirstKey, err := leafKeyAt(t.p, right, 0)
	if err != nil {
		t.p.Release(rightRef, pager.HintKeep)
		return nil, err
	}
	pivot := truncateSuffix(leftLastKey, rightFirstKey)
	t.p.Release(rightRef, pager.HintKeep)
	return &splitInfo{key: pivot, rightPgno: rightPgno}, nil
}

func lastLeafKey(p *pager.Pager, n *Node) []byte {
	if n.CellCount() == 0 {
		return nil
	}
	k, err := leafKeyAt(p, n, n.CellCount()-1)
	if err != nil {
		return nil
	}
	return k
}

// fixPrevSibling updates a leaf's prev-sibling pointer after a new leaf
// is spliced in before it.
func (t *BTree) fixPrevSibling(pgno, newPrev uint32) error {
	ref, err := t.p.Acquire(pgno)
	if err != nil {
		return err
	}
	defer t.p.Release(ref, pager.HintKeep)
	if err := t.p.MarkDirty(ref); err != nil {
		return err
	}
	LoadNode(ref.Data).SetPrevSibling(newPrev)
	return nil
}

func leafCellSizeFn(pageSize int, n *Node) func(int) int {
	return func(off int) int { return parseLeafCell(pageSize, n.data, off).cellByteSize() }
}

func internalCellSizeFn(pageSize int, n *Node) func(int) int {
	return func(off int) int { return parseInternalCell(pageSize, n.data, off).cellByteSize() }
}

// splitInternal allocates a right sibling for a full internal node and
// redistributes its k keys / k+1 children plus one pending separator
// (pendingKey, pendingLeftChild, replacing the child that used to sit at
// childIndex) across the two. The middle key is promoted to the parent
// rather than duplicated, per the classic B+-tree internal split.
func (t *BTree) splitInternal(leftRef *bufmgr.Frame, left *Node, pendingKey []byte, pendingLeftChild uint32, childIndex int, newRightOfReplaced uint32) (*splitInfo, error) {
	// internalKeyRec pairs a decoded key with the overflow chain (if any)
	// the original cell owned. Every record below gets re-encoded through
	// encodeInternalCell, which allocates its own fresh chain when the key
	// still doesn't fit locally — so once a record's new cell lands, its
	// old chain (if it had one) is stale and must be freed rather than
	// left orphaned.
	type internalKeyRec struct {
		key          []byte
		overflowHead uint32
		hasOverflow  bool
	}

	count := left.CellCount()
	keys := make([]internalKeyRec, 0, count+1)
	children := make([]uint32, 0, count+2)
	for i := 0; i < count; i++ {
		off := left.CellOffset(i)
		info := parseInternalCell(t.p.PageSize(), left.data, off)
		k, err := internalKeyAt(t.p, left, i)
		if err != nil {
			return nil, err
		}
		r := internalKeyRec{key: k}
		if info.hasOverflow {
			r.hasOverflow = true
			r.overflowHead = info.overflowPgno(left.data, off)
		}
		keys = append(keys, r)
		children = append(children, internalChildAt(left, i))
	}
	children = append(children, left.RightChild())

	// Splice the pending separator in: children[childIndex] (== the node
	// we recursed into) becomes two entries (pendingLeftChild,
	// newRightOfReplaced) with pendingKey between them. pendingKey is a
	// freshly promoted key from the child split, not an existing cell, so
	// it never owns an overflow chain of its own.
	newKeys := make([]internalKeyRec, 0, len(keys)+1)
	newChildren := make([]uint32, 0, len(children)+1)
	newKeys = append(newKeys, keys[:childIndex]...)
	newKeys = append(newKeys, internalKeyRec{key: pendingKey})
	newKeys = append(newKeys, keys[childIndex:]...)
	newChildren = append(newChildren, children[:childIndex]...)
	newChildren = append(newChildren, pendingLeftChild, newRightOfReplaced)
	newChildren = append(newChildren, children[childIndex+1:]...)

	mid := len(newKeys) / 2
	promotedRec := newKeys[mid]
	promoted := promotedRec.key
	leftKeys, rightKeys := newKeys[:mid], newKeys[mid+1:]
	leftChildren, rightChildren := newChildren[:mid+1], newChildren[mid+1:]

	rightRef, err := t.p.Allocate()
	if err != nil {
		return nil, err
	}
	rightPgno := rightRef.Pgno
	right := NewNode(rightRef.Data, false)

	NewNode(leftRef.Data, false)
	left = LoadNode(leftRef.Data)
	for i, k := range leftKeys {
		enc, err := encodeInternalCell(t.p.PageSize(), leftChildren[i], k.key, t.overflowWriter(leftRef.Pgno))
		if err != nil {
			t.p.Release(rightRef, pager.HintKeep)
			return nil, err
		}
		if err := left.InsertCellAt(i, enc, internalCellSizeFn(t.p.PageSize(), left)); err != nil {
			t.p.Release(rightRef, pager.HintKeep)
			return nil, err
		}
		if k.hasOverflow {
			if err := freeOverflowChain(t.p, k.overflowHead); err != nil {
				t.p.Release(rightRef, pager.HintKeep)
				return nil, err
			}
		}
	}
	left.SetRightChild(leftChildren[len(leftChildren)-1])
	if err := t.reparentChild(leftChildren[len(leftChildren)-1], leftRef.Pgno); err != nil {
		t.p.Release(rightRef, pager.HintKeep)
		return nil, err
	}
	for i := range leftChildren[:len(leftChildren)-1] {
		if err := t.reparentChild(leftChildren[i], leftRef.Pgno); err != nil {
			t.p.Release(rightRef, pager.HintKeep)
			return nil, err
		}
	}

	for i, k := range rightKeys {
		enc, err := encodeInternalCell(t.p.PageSize(), rightChildren[i], k.key, t.overflowWriter(rightPgno))
		if err != nil {
			t.p.Release(rightRef, pager.HintKeep)
			return nil, err
		}
		if err := right.InsertCellAt(i, enc, internalCellSizeFn(t.p.PageSize(), right)); err != nil {
			t.p.Release(rightRef, pager.HintKeep)
			return nil, err
		}
		if k.hasOverflow {
			if err := freeOverflowChain(t.p, k.overflowHead); err != nil {
				t.p.Release(rightRef, pager.HintKeep)
				return nil, err
			}
		}
	}
	right.SetRightChild(rightChildren[len(rightChildren)-1])
	for _, c := range rightChildren {
		if err := t.reparentChild(c, rightPgno); err != nil {
			t.p.Release(rightRef, pager.HintKeep)
			return nil, err
		}
	}

	// promoted moves up to the parent as a plain key (re-encoded by the
	// caller at the parent level); any chain its original cell owned here
	// is superseded the same way.
	if promotedRec.hasOverflow {
		if err := freeOverflowChain(t.p, promotedRec.overflowHead); err != nil {
			t.p.Release(rightRef, pager.HintKeep)
			return nil, err
		}
	}

	t.p.Release(rightRef, pager.HintKeep)
	return &splitInfo{key: promoted, rightPgno: rightPgno}, nil
}

// reparentChild rewrites a child page's pointer-map entry to record
// newParent, preserving its existing type (tree node vs. tree root).
func (t *BTree) reparentChild(child, newParent uint32) error {
	entry, err := t.p.ReadPtrEntry(child)
	if err != nil {
		return err
	}
	typ := entry.Type
	if typ == pager.PtrNone {
		typ = pager.PtrTreeNode
	}
	return t.p.WritePtrEntry(child, pager.PtrEntry{Parent: newParent, Type: typ})
}

func internalKeyAt(p *pager.Pager, n *Node, i int) ([]byte, error) {
	off := n.CellOffset(i)
	info := parseInternalCell(p.PageSize(), n.data, off)
	local := info.localPayload(n.data, off)
	if !info.hasOverflow {
		return append([]byte(nil), local...), nil
	}
	overflowPgno := info.overflowPgno(n.data, off)
	tailLen := info.keySize - info.localLen
	tail, err := readOverflowChain(p, overflowPgno, tailLen)
	if err != nil {
		return nil, err
	}
	return append(append([]byte(nil), local...), tail...), nil
}
