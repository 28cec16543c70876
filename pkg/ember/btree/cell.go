package btree

import (
	"encoding/binary"

	"ember/pkg/ember/varint"
)

// Local payload bounds follow the SQLite table-btree formula: maxLocal
// bounds what a node keeps in-page before spilling to an overflow chain;
// minLocal is the number of payload bytes that stay local once a cell
// overflows at all, floored at 4. Leaf and internal cells use the same
// bounds.
func maxLocal(pageSize int) int { return pageSize - 35 }
func minLocal(pageSize int) int {
	v := (pageSize-12)*32/255 - 23
	if v < 4 {
		v = 4
	}
	return v
}

const overflowPtrSize = 4

// cellInfo is the parsed shape of a cell, independent of leaf/internal
// framing, enough to compute its on-page size and locate its payload.
type cellInfo struct {
	childPgno   uint32 // internal cells only
	keySize     int
	valueSize   int // leaf cells only
	localLen    int // bytes of payload stored in-page after the header
	hasOverflow bool
	headerLen   int // bytes before the in-page payload begins
}

// encodeLeafCell builds the on-page bytes for a leaf cell holding key and
// value, spilling the payload tail to overflow (writing the chain via
// writeOverflow) when key+value exceeds maxLocal for this page size.
func encodeLeafCell(pageSize int, key, value []byte, writeOverflow func(tail []byte) (uint32, error)) ([]byte, error) {
	total := len(key) + len(value)
	hdrLen := varint.Len(uint64(len(value))) + varint.Len(uint64(len(key)))
	if total <= maxLocal(pageSize) {
		buf := make([]byte, hdrLen+total)
		off := varint.Put(buf, uint64(len(value)))
		off += varint.Put(buf[off:], uint64(len(key)))
		off += copy(buf[off:], key)
		copy(buf[off:], value)
		return buf, nil
	}
	local := minLocal(pageSize)
	payload := make([]byte, 0, total)
	payload = append(payload, key...)
	payload = append(payload, value...)
	inPage := payload[:local]
	tail := payload[local:]
	overflowPgno, err := writeOverflow(tail)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, hdrLen+local+overflowPtrSize)
	off := varint.Put(buf, uint64(len(value)))
	off += varint.Put(buf[off:], uint64(len(key)))
	off += copy(buf[off:], inPage)
	binary.LittleEndian.PutUint32(buf[off:], overflowPgno)
	return buf, nil
}

// encodeInternalCell builds the on-page bytes for an internal cell: its
// left-child pointer plus a (possibly spilled) key.
func encodeInternalCell(pageSize int, childPgno uint32, key []byte, writeOverflow func(tail []byte) (uint32, error)) ([]byte, error) {
	hdrLen := 4 + varint.Len(uint64(len(key)))
	if len(key) <= maxLocal(pageSize) {
		buf := make([]byte, hdrLen+len(key))
		binary.LittleEndian.PutUint32(buf, childPgno)
		off := 4 + varint.Put(buf[4:], uint64(len(key)))
		copy(buf[off:], key)
		return buf, nil
	}
	local := minLocal(pageSize)
	inPage := key[:local]
	tail := key[local:]
	overflowPgno, err := writeOverflow(tail)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, hdrLen+local+overflowPtrSize)
	binary.LittleEndian.PutUint32(buf, childPgno)
	off := 4 + varint.Put(buf[4:], uint64(len(key)))
	off += copy(buf[off:], inPage)
	binary.LittleEndian.PutUint32(buf[off:], overflowPgno)
	return buf, nil
}

// parseLeafCell reads a leaf cell's header fields at data[off:].
func parseLeafCell(pageSize int, data []byte, off int) cellInfo {
	valueSize, n1 := varint.Get(data[off:])
	keySize, n2 := varint.Get(data[off+n1:])
	hdrLen := n1 + n2
	total := int(keySize) + int(valueSize)
	if total <= maxLocal(pageSize) {
		return cellInfo{keySize: int(keySize), valueSize: int(valueSize), localLen: total, headerLen: hdrLen}
	}
	local := minLocal(pageSize)
	return cellInfo{keySize: int(keySize), valueSize: int(valueSize), localLen: local, hasOverflow: true, headerLen: hdrLen}
}

// parseInternalCell reads an internal cell's header fields at data[off:].
func parseInternalCell(pageSize int, data []byte, off int) cellInfo {
	child := binary.LittleEndian.Uint32(data[off:])
	keySize, n := varint.Get(data[off+4:])
	hdrLen := 4 + n
	if int(keySize) <= maxLocal(pageSize) {
		return cellInfo{childPgno: child, keySize: int(keySize), localLen: int(keySize), headerLen: hdrLen}
	}
	local := minLocal(pageSize)
	return cellInfo{childPgno: child, keySize: int(keySize), localLen: local, hasOverflow: true, headerLen: hdrLen}
}

// cellByteSize is the total on-page footprint of a cell given its parsed
// info (header + local payload + optional 4-byte overflow pointer).
func (c cellInfo) cellByteSize() int {
	sz := c.headerLen + c.localLen
	if c.hasOverflow {
		sz += overflowPtrSize
	}
	return sz
}

// overflowPgno reads the trailing overflow pointer, valid only when
// hasOverflow is set.
func (c cellInfo) overflowPgno(data []byte, off int) uint32 {
	p := off + c.headerLen + c.localLen
	return binary.LittleEndian.Uint32(data[p : p+4])
}

// localPayload returns the in-page payload bytes for the cell at off.
func (c cellInfo) localPayload(data []byte, off int) []byte {
	p := off + c.headerLen
	return data[p : p+c.localLen]
}
