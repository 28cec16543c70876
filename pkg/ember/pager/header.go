// Package pager implements the page-addressed file format and the
// transaction lifecycle: the file header, the pointer map, the freelist,
// page allocation, and commit/rollback/checkpoint driving the buffer
// manager and WAL.
package pager

import (
	"encoding/binary"
	"errors"
)

const (
	HeaderSize  = 100
	MagicString = "ember page file\x00"
	MinPageSize = 512
	MaxPageSize = 65536
	SchemaRoot  = 1
)

const (
	offMagic         = 0  // 16 bytes
	offFormatVersion = 16 // 4 bytes
	offPageSize      = 20 // 2 bytes (0 means 65536)
	offChangeCounter = 22 // 4 bytes
	offPageCount     = 26 // 4 bytes
	offFreelistHead  = 30 // 4 bytes
	offFreelistCount = 34 // 4 bytes
	offSchemaCookie  = 38 // 4 bytes
	offUserVersion   = 42 // 4 bytes
	offCatalogRoot   = 46 // 4 bytes
	// bytes 50..100 reserved, zero-filled
)

const FormatVersion = 1

var (
	ErrInvalidMagic    = errors.New("pager: invalid magic string")
	ErrInvalidPageSize = errors.New("pager: page size must be a power of two in [512, 65536]")
)

// FileHeader mirrors the prefix of page 1.
type FileHeader struct {
	PageSize      uint32
	ChangeCounter uint32
	PageCount     uint32
	FreelistHead  uint32
	FreelistCount uint32
	SchemaCookie  uint32
	UserVersion   uint32
	CatalogRoot   uint32
}

func ValidPageSize(size int) bool {
	if size < MinPageSize || size > MaxPageSize {
		return false
	}
	return size&(size-1) == 0
}

func encodeHeader(buf []byte, h FileHeader) {
	copy(buf[offMagic:], MagicString)
	binary.LittleEndian.PutUint32(buf[offFormatVersion:], FormatVersion)
	stored := uint16(h.PageSize)
	if h.PageSize == 65536 {
		stored = 0
	}
	binary.LittleEndian.PutUint16(buf[offPageSize:], stored)
	binary.LittleEndian.PutUint32(buf[offChangeCounter:], h.ChangeCounter)
	binary.LittleEndian.PutUint32(buf[offPageCount:], h.PageCount)
	binary.LittleEndian.PutUint32(buf[offFreelistHead:], h.FreelistHead)
	binary.LittleEndian.PutUint32(buf[offFreelistCount:], h.FreelistCount)
	binary.LittleEndian.PutUint32(buf[offSchemaCookie:], h.SchemaCookie)
	binary.LittleEndian.PutUint32(buf[offUserVersion:], h.UserVersion)
	binary.LittleEndian.PutUint32(buf[offCatalogRoot:], h.CatalogRoot)
	for i := 50; i < HeaderSize; i++ {
		buf[i] = 0
	}
}

func decodeHeader(buf []byte) (FileHeader, error) {
	var h FileHeader
	if string(buf[offMagic:offMagic+16]) != MagicString {
		return h, ErrInvalidMagic
	}
	stored := binary.LittleEndian.Uint16(buf[offPageSize:])
	pageSize := uint32(stored)
	if pageSize == 0 {
		pageSize = 65536
	}
	if !ValidPageSize(int(pageSize)) {
		return h, ErrInvalidPageSize
	}
	h.PageSize = pageSize
	h.ChangeCounter = binary.LittleEndian.Uint32(buf[offChangeCounter:])
	h.PageCount = binary.LittleEndian.Uint32(buf[offPageCount:])
	h.FreelistHead = binary.LittleEndian.Uint32(buf[offFreelistHead:])
	h.FreelistCount = binary.LittleEndian.Uint32(buf[offFreelistCount:])
	h.SchemaCookie = binary.LittleEndian.Uint32(buf[offSchemaCookie:])
	h.UserVersion = binary.LittleEndian.Uint32(buf[offUserVersion:])
	h.CatalogRoot = binary.LittleEndian.Uint32(buf[offCatalogRoot:])
	return h, nil
}
