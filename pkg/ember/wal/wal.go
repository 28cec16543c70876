// Package wal implements a write-ahead log: an append-only frame log with
// a shm-resident hash index for O(1) page lookups, a reader/writer/
// checkpoint locking protocol, and crash recovery.
package wal

import (
	"encoding/binary"
	"errors"
	"math/rand"

	"ember/pkg/ember/fileio"
)

const (
	HeaderSize      = 32
	FrameHeaderSize = 24
	MagicNumber     = 0x377f0682
	Version         = 1
)

var (
	ErrInvalidMagic    = errors.New("wal: invalid magic number")
	ErrChecksumFailed  = errors.New("wal: frame checksum mismatch")
	ErrNotInWal        = errors.New("wal: page not present in snapshot")
	ErrNoReadSlot      = errors.New("wal: no free reader mark slot")
	ErrWriteNotHeld    = errors.New("wal: write lock not held")
	ErrReadNotActive   = errors.New("wal: no active read transaction")
)

// BusyHandler is invoked with a 1-based attempt counter when a lock
// acquisition would block; returning false gives up and surfaces Busy.
type BusyHandler func(attempt int) bool

func retry(h BusyHandler, try func() error) error {
	attempt := 0
	for {
		err := try()
		if err != fileio.ErrBusy {
			return err
		}
		attempt++
		if h == nil || !h(attempt) {
			return fileio.ErrBusy
		}
	}
}

// WAL manages one connection's view of the <db>-wal file and its shm
// sidecar.
type WAL struct {
	dbFile   *fileio.File // never set; Checkpoint takes the main file as a parameter
	file     *fileio.File
	shm      *fileio.Shm
	idx      *HashIndex
	pageSize int

	salt1, salt2 uint32
	ckptSeq      uint32
	cksum1       uint32
	cksum2       uint32
	headerValid  bool

	// Reader state.
	readSlot int
	readMark uint32

	// Writer state.
	writing      bool
	writeMax     uint32 // max_frame before this write txn began
	pendingFirst uint32 // first frame index this txn will append
}

// Open opens (creating if necessary) the WAL and shm files sitting next to
// dbPath.
func Open(dbPath string, pageSize int) (*WAL, error) {
	f, err := fileio.Open(dbPath+"-wal", false)
	if err != nil {
		return nil, err
	}
	shm, err := fileio.OpenShm(dbPath + "-shm")
	if err != nil {
		f.Close()
		return nil, err
	}
	w := &WAL{file: f, shm: shm, idx: NewHashIndex(shm), pageSize: pageSize, readSlot: -1}

	size, err := f.Size()
	if err != nil {
		return nil, err
	}
	if size >= HeaderSize {
		if err := w.readFileHeader(); err == nil {
			w.headerValid = true
		}
	}
	if !w.headerValid {
		if err := w.writeFileHeader(); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func (w *WAL) Close() error {
	ferr := w.file.Close()
	serr := w.shm.Close()
	if ferr != nil {
		return ferr
	}
	return serr
}

func (w *WAL) writeFileHeader() error {
	w.salt1 = rand.Uint32()
	w.salt2 = rand.Uint32()
	w.ckptSeq++
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:], MagicNumber)
	binary.LittleEndian.PutUint32(buf[4:], Version)
	binary.LittleEndian.PutUint32(buf[8:], uint32(w.pageSize))
	binary.LittleEndian.PutUint32(buf[12:], w.ckptSeq)
	binary.LittleEndian.PutUint32(buf[16:], w.salt1)
	binary.LittleEndian.PutUint32(buf[20:], w.salt2)
	c1, c2 := checksum(buf[:24], 0, 0)
	binary.LittleEndian.PutUint32(buf[24:], c1)
	binary.LittleEndian.PutUint32(buf[28:], c2)
	w.cksum1, w.cksum2 = c1, c2
	if err := w.file.Resize(HeaderSize); err != nil {
		return err
	}
	return w.file.Write(0, buf)
}

func (w *WAL) readFileHeader() error {
	buf := make([]byte, HeaderSize)
	if err := w.file.Read(0, buf); err != nil {
		return err
	}
	if binary.LittleEndian.Uint32(buf[0:]) != MagicNumber {
		return ErrInvalidMagic
	}
	c1, c2 := checksum(buf[:24], 0, 0)
	if c1 != binary.LittleEndian.Uint32(buf[24:]) || c2 != binary.LittleEndian.Uint32(buf[28:]) {
		return ErrChecksumFailed
	}
	w.pageSize = int(binary.LittleEndian.Uint32(buf[8:]))
	w.ckptSeq = binary.LittleEndian.Uint32(buf[12:])
	w.salt1 = binary.LittleEndian.Uint32(buf[16:])
	w.salt2 = binary.LittleEndian.Uint32(buf[20:])
	w.cksum1, w.cksum2 = c1, c2
	return nil
}

func frameOffset(frame uint32, pageSize int) int64 {
	return int64(HeaderSize) + int64(frame-1)*int64(FrameHeaderSize+pageSize)
}

// readFrame reads frame number `frame`'s header + page image from the WAL
// file, validating it against the running checksum chain (s1,s2) seeded
// from the previous frame (or the file header for frame 1). Returns the
// updated chain checksum alongside the decoded fields.
func (w *WAL) readFrame(frame uint32, s1, s2 uint32) (pgno, dbSize uint32, data []byte, ns1, ns2 uint32, ok bool) {
	hdr := make([]byte, FrameHeaderSize)
	if err := w.file.Read(frameOffset(frame, w.pageSize), hdr); err != nil {
		return 0, 0, nil, s1, s2, false
	}
	page := make([]byte, w.pageSize)
	if err := w.file.Read(frameOffset(frame, w.pageSize)+FrameHeaderSize, page); err != nil {
		return 0, 0, nil, s1, s2, false
	}
	pgno = binary.LittleEndian.Uint32(hdr[0:])
	dbSize = binary.LittleEndian.Uint32(hdr[4:])
	salt1 := binary.LittleEndian.Uint32(hdr[8:])
	salt2 := binary.LittleEndian.Uint32(hdr[12:])
	if salt1 != w.salt1 || salt2 != w.salt2 {
		return 0, 0, nil, s1, s2, false
	}
	cs1 := binary.LittleEndian.Uint32(hdr[16:])
	cs2 := binary.LittleEndian.Uint32(hdr[20:])
	ns1, ns2 = checksum(hdr[:8], s1, s2)
	ns1, ns2 = checksum(page, ns1, ns2)
	if ns1 != cs1 || ns2 != cs2 {
		return 0, 0, nil, s1, s2, false
	}
	return pgno, dbSize, page, ns1, ns2, true
}

func (w *WAL) writeFrame(frame, pgno, dbSize uint32, page []byte) error {
	hdr := make([]byte, FrameHeaderSize)
	binary.LittleEndian.PutUint32(hdr[0:], pgno)
	binary.LittleEndian.PutUint32(hdr[4:], dbSize)
	binary.LittleEndian.PutUint32(hdr[8:], w.salt1)
	binary.LittleEndian.PutUint32(hdr[12:], w.salt2)
	w.cksum1, w.cksum2 = checksum(hdr[:8], w.cksum1, w.cksum2)
	w.cksum1, w.cksum2 = checksum(page, w.cksum1, w.cksum2)
	binary.LittleEndian.PutUint32(hdr[16:], w.cksum1)
	binary.LittleEndian.PutUint32(hdr[20:], w.cksum2)
	if err := w.file.Write(frameOffset(frame, w.pageSize), hdr); err != nil {
		return err
	}
	return w.file.Write(frameOffset(frame, w.pageSize)+FrameHeaderSize, page)
}
