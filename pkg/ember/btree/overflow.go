package btree

import (
	"encoding/binary"

	"ember/pkg/ember/bufmgr"
	"ember/pkg/ember/pager"
)

// Overflow pages form a singly linked list: a 4-byte next-page pointer
// (0 terminates) followed by pageSize-4 bytes of payload. The head page's
// pointer-map entry names the owning node; every later page's entry names
// its predecessor, per spec §3.

const overflowHeaderSize = 4

// writeOverflowChain allocates as many overflow pages as needed to hold
// tail, chains them via their leading next-pointer, and records pointer-
// map entries (head -> owner, link -> predecessor). It returns the head
// page number.
func writeOverflowChain(p *pager.Pager, owner uint32, tail []byte) (uint32, error) {
	capacity := p.PageSize() - overflowHeaderSize

	n := (len(tail) + capacity - 1) / capacity
	if n == 0 {
		n = 1
	}
	pgnos := make([]uint32, n)
	refs := make([]*bufmgr.Frame, n)
	for i := 0; i < n; i++ {
		ref, err := p.Allocate()
		if err != nil {
			for _, r := range refs {
				if r != nil {
					p.Release(r, pager.HintKeep)
				}
			}
			return 0, err
		}
		pgnos[i] = ref.Pgno
		refs[i] = ref
	}

	for i := n - 1; i >= 0; i-- {
		start := i * capacity
		end := start + capacity
		if end > len(tail) {
			end = len(tail)
		}
		var next uint32
		if i+1 < n {
			next = pgnos[i+1]
		}
		data := refs[i].Data
		binary.LittleEndian.PutUint32(data[:4], next)
		copy(data[overflowHeaderSize:], tail[start:end])
		for j := end - start + overflowHeaderSize; j < len(data); j++ {
			data[j] = 0
		}

		var backPtr uint32
		var ptrType pager.PtrType
		if i == 0 {
			backPtr, ptrType = owner, pager.PtrOverflowHead
		} else {
			backPtr, ptrType = pgnos[i-1], pager.PtrOverflowLink
		}
		if err := p.WritePtrEntry(pgnos[i], pager.PtrEntry{Parent: backPtr, Type: ptrType}); err != nil {
			for _, r := range refs {
				p.Release(r, pager.HintKeep)
			}
			return 0, err
		}
	}
	for _, r := range refs {
		p.Release(r, pager.HintKeep)
	}
	return pgnos[0], nil
}

// loadOverflowNext reads the next-page pointer from an overflow page's
// leading 4 bytes.
func loadOverflowNext(data []byte) uint32 { return binary.LittleEndian.Uint32(data[:4]) }

// readOverflowChain follows head for total bytes of payload.
func readOverflowChain(p *pager.Pager, head uint32, total int) ([]byte, error) {
	out := make([]byte, 0, total)
	pgno := head
	capacity := p.PageSize() - overflowHeaderSize
	for len(out) < total && pgno != 0 {
		ref, err := p.Acquire(pgno)
		if err != nil {
			return nil, err
		}
		next := binary.LittleEndian.Uint32(ref.Data[:4])
		need := total - len(out)
		if need > capacity {
			need = capacity
		}
		out = append(out, ref.Data[overflowHeaderSize:overflowHeaderSize+need]...)
		p.Release(ref, pager.HintKeep)
		pgno = next
	}
	return out, nil
}

// freeOverflowChain walks head to its end, returning every page in it to
// the freelist.
func freeOverflowChain(p *pager.Pager, head uint32) error {
	pgno := head
	for pgno != 0 {
		ref, err := p.Acquire(pgno)
		if err != nil {
			return err
		}
		next := binary.LittleEndian.Uint32(ref.Data[:4])
		if err := p.Destroy(ref); err != nil {
			return err
		}
		pgno = next
	}
	return nil
}
