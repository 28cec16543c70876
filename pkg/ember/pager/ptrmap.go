package pager

import "encoding/binary"

// PtrType classifies the kind of page a pointer-map entry describes
//.
type PtrType byte

const (
	PtrNone PtrType = iota
	PtrTreeRoot
	PtrTreeNode
	PtrOverflowHead
	PtrOverflowLink
	PtrFreelistTrunk
	PtrFreelistLeaf
)

// PtrEntry is one pointer-map record: the page's parent and its type.
type PtrEntry struct {
	Parent uint32
	Type   PtrType
}

const ptrEntrySize = 5 // 4-byte back pointer + 1-byte type

// entriesPerMapPage returns how many non-map pages one pointer-map page
// of this page size can describe.
func entriesPerMapPage(pageSize int) int {
	return pageSize / ptrEntrySize
}

// mapPageFor returns the pointer-map page that owns pgno's entry. A page
// p is itself a map page (and owns no entry of its own) iff
// mapPageFor(p) == p.
func mapPageFor(pgno uint32, pageSize int) uint32 {
	if pgno <= 1 {
		return 0
	}
	perGroup := uint32(entriesPerMapPage(pageSize)) + 1 // map page + the pages it covers
	groupIndex := (pgno - 2) / perGroup
	return 2 + groupIndex*perGroup
}

// IsMapPage reports whether pgno is a pointer-map page.
func IsMapPage(pgno uint32, pageSize int) bool {
	return pgno > 1 && mapPageFor(pgno, pageSize) == pgno
}

func entryOffset(pgno, mapPage uint32) int {
	return int(pgno-mapPage-1) * ptrEntrySize
}

func encodePtrEntry(buf []byte, e PtrEntry) {
	binary.LittleEndian.PutUint32(buf[0:4], e.Parent)
	buf[4] = byte(e.Type)
}

func decodePtrEntry(buf []byte) PtrEntry {
	return PtrEntry{Parent: binary.LittleEndian.Uint32(buf[0:4]), Type: PtrType(buf[4])}
}

// ReadPtrEntry returns pgno's (parent, type) pointer-map record.
func (p *Pager) ReadPtrEntry(pgno uint32) (PtrEntry, error) {
	if pgno <= 1 || IsMapPage(pgno, p.pageSize) {
		return PtrEntry{}, nil
	}
	mapPage := mapPageFor(pgno, p.pageSize)
	ref, err := p.Acquire(mapPage)
	if err != nil {
		return PtrEntry{}, err
	}
	defer p.Release(ref, HintKeep)
	off := entryOffset(pgno, mapPage)
	return decodePtrEntry(ref.Data[off : off+ptrEntrySize]), nil
}

// WritePtrEntry rewrites pgno's pointer-map record within the current
// write transaction. Any operation that changes a page's parent must call
// this in the same transaction.
func (p *Pager) WritePtrEntry(pgno uint32, e PtrEntry) error {
	if pgno <= 1 || IsMapPage(pgno, p.pageSize) {
		return nil
	}
	mapPage := mapPageFor(pgno, p.pageSize)
	ref, err := p.Acquire(mapPage)
	if err != nil {
		return err
	}
	defer p.Release(ref, HintKeep)
	if err := p.MarkDirty(ref); err != nil {
		return err
	}
	off := entryOffset(pgno, mapPage)
	encodePtrEntry(ref.Data[off:off+ptrEntrySize], e)
	return nil
}
