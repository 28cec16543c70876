package btree

import (
	"encoding/binary"
	"testing"
)

// TestAllocateCellReservesPointerSlot exercises the node-exactly-full and
// one-byte-short boundaries: a gap covering only the requested cell size,
// with nothing left over for the cell pointer InsertCellAt is about to
// write, must fail rather than let the pointer write clobber the cell
// content it just reserved.
func TestAllocateCellReservesPointerSlot(t *testing.T) {
	cellSize := func(offset int) int { return 0 } // unused by the fast paths under test

	newNodeWithGap := func(gap int) *Node {
		buf := make([]byte, 64)
		n := NewNode(buf, true)
		n.setCellCount(0) // ptrArrayEnd == NodeHeaderSize == 16
		n.setContentStart(uint16(16 + gap))
		return n
	}

	for _, tc := range []struct {
		name    string
		gap     int
		size    int
		wantErr bool
	}{
		{"gap exactly the cell size", 10, 10, true},
		{"gap one byte short of size+pointer", 11, 10, true},
		{"gap covers size and pointer", 12, 10, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			n := newNodeWithGap(tc.gap)
			off, err := n.AllocateCell(tc.size, cellSize)
			if tc.wantErr {
				if err != ErrNodeFull {
					t.Fatalf("AllocateCell = (%d, %v), want ErrNodeFull", off, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("AllocateCell: %v", err)
			}
			wantOff := 16 + tc.gap - tc.size
			if off != wantOff {
				t.Fatalf("AllocateCell offset = %d, want %d", off, wantOff)
			}
			if n.ptrArrayEnd()+CellPointerSize > off {
				t.Fatalf("reserved cell at %d overlaps the next pointer slot ending at %d",
					off, n.ptrArrayEnd()+CellPointerSize)
			}
		})
	}
}

// TestAllocateCellSkipsFreeListWithoutPointerRoom covers the second gap
// documented at node.go's AllocateCell: a free-block entry big enough for
// the cell content is not enough on its own if the pointer array has
// nowhere to grow into. The allocation must fall through to a defragment
// pass rather than hand out the free-block offset directly.
func TestAllocateCellSkipsFreeListWithoutPointerRoom(t *testing.T) {
	buf := make([]byte, 64)
	n := NewNode(buf, true)

	// One live cell occupying [23,64), one free block [19,23) (exactly
	// minFreeBlock), and only a single byte of gap between the pointer
	// array and the free block — not enough room for a new pointer slot.
	n.setCellCount(1)
	n.setCellOffset(0, 23)
	n.setContentStart(19)
	n.setFreeBlockHead(19)
	binary.LittleEndian.PutUint16(n.data[19:21], 0)
	binary.LittleEndian.PutUint16(n.data[21:23], 4)

	if got := n.Gap(); got != 1 {
		t.Fatalf("Gap = %d, want 1 (test setup)", got)
	}

	cellSize := func(offset int) int {
		if offset == 23 {
			return 41
		}
		t.Fatalf("unexpected cellSize query at offset %d", offset)
		return 0
	}

	off, err := n.AllocateCell(2, cellSize)
	if err != nil {
		t.Fatalf("AllocateCell: %v", err)
	}
	if n.ptrArrayEnd()+CellPointerSize > off {
		t.Fatalf("reserved cell at %d leaves no room for its own pointer (ptrArrayEnd=%d)",
			off, n.ptrArrayEnd())
	}
	// A direct free-block hand-out would have left the list untouched;
	// reaching Defragment instead clears it.
	if n.freeBlockHead() != 0 {
		t.Fatalf("expected Defragment to clear the free-block list, head = %d", n.freeBlockHead())
	}
}
