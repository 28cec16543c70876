package wal

import (
	"encoding/binary"
	"errors"

	"ember/pkg/ember/fileio"
)

// Hash-index group sizing: each group holds up to 4096 page
// numbers (one per WAL frame relative to the group) and 8192 hash slots.
// A group's two arrays (4096*4 + 8192*2 bytes) exactly fill one
// fileio.ShmRegionSize (32 KiB) region, so group g lives in shm region g+1
// (region 0 is reserved for the twin WalIndexHeader and read marks).
const (
	framesPerGroup = 4096
	hashSlotsCount  = 8192
	pgnoArrayBytes  = framesPerGroup * 4
	hashArrayBytes  = hashSlotsCount * 2
)

var ErrHeaderCorrupt = errors.New("wal: shm header corrupt in both copies")

// indexHeader is one copy of the twin WalIndexHeader.
type indexHeader struct {
	Version       uint32
	Salt1         uint32
	Salt2         uint32
	CkptSeq       uint32
	MaxFrame      uint32
	DbSizePages   uint32
	PageSize      uint32
	ChangeCounter uint32
}

const indexHeaderFields = 8
const indexHeaderSize = indexHeaderFields*4 + 8 // + 2 checksum words

func (h indexHeader) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:], h.Version)
	binary.LittleEndian.PutUint32(buf[4:], h.Salt1)
	binary.LittleEndian.PutUint32(buf[8:], h.Salt2)
	binary.LittleEndian.PutUint32(buf[12:], h.CkptSeq)
	binary.LittleEndian.PutUint32(buf[16:], h.MaxFrame)
	binary.LittleEndian.PutUint32(buf[20:], h.DbSizePages)
	binary.LittleEndian.PutUint32(buf[24:], h.PageSize)
	binary.LittleEndian.PutUint32(buf[28:], h.ChangeCounter)
	c1, c2 := checksum(buf[:32], 0, 0)
	binary.LittleEndian.PutUint32(buf[32:], c1)
	binary.LittleEndian.PutUint32(buf[36:], c2)
}

func decodeIndexHeader(buf []byte) (indexHeader, bool) {
	var h indexHeader
	if len(buf) < indexHeaderSize {
		return h, false
	}
	c1, c2 := checksum(buf[:32], 0, 0)
	if c1 != binary.LittleEndian.Uint32(buf[32:]) || c2 != binary.LittleEndian.Uint32(buf[36:]) {
		return h, false
	}
	h.Version = binary.LittleEndian.Uint32(buf[0:])
	h.Salt1 = binary.LittleEndian.Uint32(buf[4:])
	h.Salt2 = binary.LittleEndian.Uint32(buf[8:])
	h.CkptSeq = binary.LittleEndian.Uint32(buf[12:])
	h.MaxFrame = binary.LittleEndian.Uint32(buf[16:])
	h.DbSizePages = binary.LittleEndian.Uint32(buf[20:])
	h.PageSize = binary.LittleEndian.Uint32(buf[24:])
	h.ChangeCounter = binary.LittleEndian.Uint32(buf[28:])
	return h, true
}

const (
	headerCopyOffset0 = 0
	headerCopyOffset1 = indexHeaderSize
	markTableOffset   = indexHeaderSize * 2
)

// HashIndex is the shm-resident page-number -> frame map, plus the twin WalIndexHeader and reader mark table that
// share its region 0.
type HashIndex struct {
	shm *fileio.Shm
}

func NewHashIndex(shm *fileio.Shm) *HashIndex { return &HashIndex{shm: shm} }

// ReadHeader reads the shm header, preferring copy 0 and falling back to
// copy 1 if copy 0's checksum is torn.
func (hi *HashIndex) ReadHeader() (indexHeader, error) {
	region, err := hi.shm.Map(0, true)
	if err != nil {
		return indexHeader{}, err
	}
	if h, ok := decodeIndexHeader(region[headerCopyOffset0:]); ok {
		return h, nil
	}
	if h, ok := decodeIndexHeader(region[headerCopyOffset1:]); ok {
		return h, nil
	}
	return indexHeader{}, ErrHeaderCorrupt
}

// WriteHeader publishes a new header under the twin-header protocol: copy 0
// is written, a barrier is issued, then copy 1 is written so that a reader
// racing the write always finds at least one checksum-valid copy.
func (hi *HashIndex) WriteHeader(h indexHeader) error {
	region, err := hi.shm.Map(0, true)
	if err != nil {
		return err
	}
	h.encode(region[headerCopyOffset0:])
	hi.shm.Barrier()
	h.encode(region[headerCopyOffset1:])
	hi.shm.Barrier()
	return nil
}

// ReadMark returns the frame pinned by read slot i (0 if unused).
func (hi *HashIndex) ReadMark(slot int) (uint32, error) {
	region, err := hi.shm.Map(0, true)
	if err != nil {
		return 0, err
	}
	off := markTableOffset + slot*4
	return binary.LittleEndian.Uint32(region[off:]), nil
}

// SetReadMark stores the frame pinned by read slot i.
func (hi *HashIndex) SetReadMark(slot int, frame uint32) error {
	region, err := hi.shm.Map(0, true)
	if err != nil {
		return err
	}
	off := markTableOffset + slot*4
	binary.LittleEndian.PutUint32(region[off:], frame)
	return nil
}

func groupAndIndex(frame uint32) (group int, idx int) {
	z := frame - 1
	return int(z / framesPerGroup), int(z%framesPerGroup) + 1
}

func (hi *HashIndex) groupRegion(group int) ([]byte, error) {
	return hi.shm.Map(group+1, true)
}

func pgnoSlice(region []byte) []byte  { return region[:pgnoArrayBytes] }
func hashSlice(region []byte) []byte  { return region[pgnoArrayBytes : pgnoArrayBytes+hashArrayBytes] }
func hashBucket(pgno uint32) int      { return int((uint64(pgno) * 2654435761) % hashSlotsCount) }

// Put records that page pgno now lives at WAL frame. Called by the writer
// under the WRITE lock for every frame appended.
func (hi *HashIndex) Put(pgno, frame uint32) error {
	group, idx := groupAndIndex(frame)
	region, err := hi.groupRegion(group)
	if err != nil {
		return err
	}
	pg := pgnoSlice(region)
	binary.LittleEndian.PutUint32(pg[(idx-1)*4:], pgno)

	hs := hashSlice(region)
	slot := hashBucket(pgno)
	for {
		off := slot * 2
		if binary.LittleEndian.Uint16(hs[off:]) == 0 {
			binary.LittleEndian.PutUint16(hs[off:], uint16(idx))
			return nil
		}
		slot = (slot + 1) % hashSlotsCount
	}
}

// Lookup returns the payload frame for pgno visible at or before
// readerMark, scanning groups from the one containing readerMark downward
//. ok is false if pgno is not present in the
// WAL within the reader's snapshot, in which case the caller falls back to
// the main file.
func (hi *HashIndex) Lookup(pgno uint32, readerMark uint32) (frame uint32, ok bool, err error) {
	if readerMark == 0 {
		return 0, false, nil
	}
	topGroup, _ := groupAndIndex(readerMark)
	for g := topGroup; g >= 0; g-- {
		region, err := hi.groupRegion(g)
		if err != nil {
			return 0, false, err
		}
		pg := pgnoSlice(region)
		hs := hashSlice(region)
		best := uint32(0)
		for slot := 0; slot < hashSlotsCount; slot++ {
			idx := binary.LittleEndian.Uint16(hs[slot*2:])
			if idx == 0 {
				continue
			}
			if binary.LittleEndian.Uint32(pg[(int(idx)-1)*4:]) != pgno {
				continue
			}
			fr := uint32(g*framesPerGroup) + uint32(idx)
			if fr <= readerMark && fr > best {
				best = fr
			}
		}
		if best != 0 {
			return best, true, nil
		}
	}
	return 0, false, nil
}

// Rewind discards hash-index entries for frames beyond keepFrame, used by
// writer Abort. Since
// entries are only ever read through Lookup with readerMark <= the
// current MaxFrame, rewinding the header's MaxFrame is sufficient for
// correctness; Rewind additionally zeroes the stale slots so a later
// Put reusing the same frame number does not collide with a stale pgno
// entry bypassing the hash chain.
func (hi *HashIndex) Rewind(fromFrame, keepFrame uint32) error {
	for f := keepFrame + 1; f <= fromFrame; f++ {
		group, idx := groupAndIndex(f)
		region, err := hi.groupRegion(group)
		if err != nil {
			return err
		}
		pg := pgnoSlice(region)
		pgno := binary.LittleEndian.Uint32(pg[(idx-1)*4:])
		if pgno == 0 {
			continue
		}
		hs := hashSlice(region)
		slot := hashBucket(pgno)
		for {
			off := slot * 2
			cur := binary.LittleEndian.Uint16(hs[off:])
			if cur == 0 {
				break
			}
			if int(cur) == idx {
				binary.LittleEndian.PutUint16(hs[off:], 0)
				break
			}
			slot = (slot + 1) % hashSlotsCount
		}
		binary.LittleEndian.PutUint32(pg[(idx-1)*4:], 0)
	}
	return nil
}

// ResetAll zeroes the hash index entirely, used when a checkpoint resets
// the WAL.
func (hi *HashIndex) ResetAll() error {
	return hi.shm.Truncate()
}
