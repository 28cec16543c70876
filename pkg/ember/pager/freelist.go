package pager

import "encoding/binary"

// Freelist trunk layout: next-trunk pgno (4 bytes),
// leaf count (4 bytes), then up to capacity 4-byte leaf page numbers.
const trunkHeaderSize = 8

func trunkCapacity(pageSize int) int {
	return (pageSize - trunkHeaderSize) / 4
}

func trunkNext(buf []byte) uint32       { return binary.LittleEndian.Uint32(buf[0:4]) }
func trunkSetNext(buf []byte, v uint32) { binary.LittleEndian.PutUint32(buf[0:4], v) }
func trunkCount(buf []byte) uint32      { return binary.LittleEndian.Uint32(buf[4:8]) }
func trunkSetCount(buf []byte, v uint32) { binary.LittleEndian.PutUint32(buf[4:8], v) }

func trunkLeaf(buf []byte, i int) uint32 {
	off := trunkHeaderSize + i*4
	return binary.LittleEndian.Uint32(buf[off : off+4])
}

func trunkSetLeaf(buf []byte, i int, pgno uint32) {
	off := trunkHeaderSize + i*4
	binary.LittleEndian.PutUint32(buf[off:off+4], pgno)
}

// FreelistPush returns pgno to the freelist. pgno's page
// contents are irrelevant after this call; the caller must not have it
// referenced elsewhere.
func (p *Pager) FreelistPush(pgno uint32) error {
	if p.freelistHead != 0 {
		head, err := p.Acquire(p.freelistHead)
		if err != nil {
			return err
		}
		count := int(trunkCount(head.Data))
		if count < trunkCapacity(p.pageSize) {
			if err := p.MarkDirty(head); err != nil {
				p.Release(head, HintKeep)
				return err
			}
			trunkSetLeaf(head.Data, count, pgno)
			trunkSetCount(head.Data, uint32(count+1))
			p.Release(head, HintKeep)
			p.freelistCount++
			return p.WritePtrEntry(pgno, PtrEntry{Parent: p.freelistHead, Type: PtrFreelistLeaf})
		}
		p.Release(head, HintKeep)
	}

	// Current trunk (if any) is full, or there is none: pgno becomes the
	// new head trunk.
	ref, err := p.Acquire(pgno)
	if err != nil {
		return err
	}
	if err := p.MarkDirty(ref); err != nil {
		p.Release(ref, HintKeep)
		return err
	}
	trunkSetNext(ref.Data, p.freelistHead)
	trunkSetCount(ref.Data, 0)
	p.Release(ref, HintKeep)
	p.freelistHead = pgno
	p.freelistCount++
	return p.WritePtrEntry(pgno, PtrEntry{Parent: 0, Type: PtrFreelistTrunk})
}

// FreelistPop removes and returns a free page, preferring a leaf of the
// head trunk and promoting the trunk itself once its leaves are
// exhausted.
func (p *Pager) FreelistPop() (uint32, bool, error) {
	if p.freelistHead == 0 {
		return 0, false, nil
	}
	head, err := p.Acquire(p.freelistHead)
	if err != nil {
		return 0, false, err
	}
	count := int(trunkCount(head.Data))
	if count > 0 {
		leaf := trunkLeaf(head.Data, count-1)
		if err := p.MarkDirty(head); err != nil {
			p.Release(head, HintKeep)
			return 0, false, err
		}
		trunkSetCount(head.Data, uint32(count-1))
		p.Release(head, HintKeep)
		p.freelistCount--
		return leaf, true, nil
	}
	// Trunk is empty: promote it, returning the trunk page itself as the
	// allocated page and advancing the freelist head to its successor.
	promoted := p.freelistHead
	next := trunkNext(head.Data)
	p.Release(head, HintKeep)
	p.freelistHead = next
	p.freelistCount--
	return promoted, true, nil
}
