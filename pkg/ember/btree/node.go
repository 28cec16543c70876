// Package btree implements the B+-tree: node layout, cells, overflow
// chains, split/merge, and cursor navigation, reading and writing pages
// exclusively through the pager.
package btree

import (
	"encoding/binary"
	"errors"
)

// Node header layout (16 bytes):
//
//	0:    flags (bit 0 = leaf)
//	1-2:  cell count (uint16)
//	3-4:  cell-content-area start (uint16, offset from page start)
//	5-6:  free-block-list head (uint16, 0 = none)
//	7:    fragment byte count
//	8-11: next sibling pgno (leaves only, 0 = none)
//	12-15: prev sibling pgno (leaves only, 0 = none)
//
// The cell-pointer array follows the header, growing forward in 2-byte
// entries; the cell content area grows backward from the end of the
// page. A free-block list is threaded through reclaimed cell-content
// space: each block is [next uint16][size uint16], minimum 4 bytes.
const (
	NodeHeaderSize  = 16
	CellPointerSize = 2
	minFreeBlock    = 4

	flagLeaf byte = 0x01
)

var (
	ErrNodeFull    = errors.New("btree: node has insufficient space for cell")
	ErrCorruptNode = errors.New("btree: node layout is corrupt")
)

// Node is a view over a page-sized buffer, interpreted as one B+-tree
// node. It must not outlive the page reference backing data.
type Node struct {
	data []byte
}

// NewNode initializes data in place as a fresh, empty node.
func NewNode(data []byte, isLeaf bool) *Node {
	n := &Node{data: data}
	var flags byte
	if isLeaf {
		flags = flagLeaf
	}
	data[0] = flags
	n.setCellCount(0)
	n.setContentStart(uint16(len(data)))
	n.setFreeBlockHead(0)
	data[7] = 0
	n.SetNextSibling(0)
	n.SetPrevSibling(0)
	return n
}

// LoadNode wraps an existing page's bytes without modifying them.
func LoadNode(data []byte) *Node { return &Node{data: data} }

func (n *Node) Data() []byte { return n.data }
func (n *Node) pageSize() int { return len(n.data) }

func (n *Node) IsLeaf() bool { return n.data[0]&flagLeaf != 0 }

func (n *Node) CellCount() int { return int(binary.LittleEndian.Uint16(n.data[1:3])) }
func (n *Node) setCellCount(v int) { binary.LittleEndian.PutUint16(n.data[1:3], uint16(v)) }

func (n *Node) contentStart() int { return int(binary.LittleEndian.Uint16(n.data[3:5])) }
func (n *Node) setContentStart(v uint16) { binary.LittleEndian.PutUint16(n.data[3:5], v) }

func (n *Node) freeBlockHead() int { return int(binary.LittleEndian.Uint16(n.data[5:7])) }
func (n *Node) setFreeBlockHead(v int) { binary.LittleEndian.PutUint16(n.data[5:7], uint16(v)) }

func (n *Node) FragmentBytes() int { return int(n.data[7]) }
func (n *Node) setFragmentBytes(v int) { n.data[7] = byte(v) }

func (n *Node) NextSibling() uint32 { return binary.LittleEndian.Uint32(n.data[8:12]) }
func (n *Node) SetNextSibling(pgno uint32) { binary.LittleEndian.PutUint32(n.data[8:12], pgno) }

func (n *Node) PrevSibling() uint32 { return binary.LittleEndian.Uint32(n.data[12:16]) }
func (n *Node) SetPrevSibling(pgno uint32) { binary.LittleEndian.PutUint32(n.data[12:16], pgno) }

// RightChild and SetRightChild repurpose the leaf sibling-pointer field
// (bytes 8-11) for internal nodes, which have no sibling chain: an
// internal node with k cells has k+1 children, the last of which has no
// separator cell of its own and is tracked here.
func (n *Node) RightChild() uint32         { return n.NextSibling() }
func (n *Node) SetRightChild(pgno uint32)  { n.SetNextSibling(pgno) }

func (n *Node) ptrOffset(i int) int { return NodeHeaderSize + i*CellPointerSize }

// CellOffset returns the page offset where cell i's encoded bytes begin.
func (n *Node) CellOffset(i int) int {
	return int(binary.LittleEndian.Uint16(n.data[n.ptrOffset(i):]))
}

func (n *Node) setCellOffset(i, off int) {
	binary.LittleEndian.PutUint16(n.data[n.ptrOffset(i):], uint16(off))
}

// ptrArrayEnd is the offset just past the last cell pointer.
func (n *Node) ptrArrayEnd() int { return NodeHeaderSize + n.CellCount()*CellPointerSize }

// Gap is the contiguous free space between the pointer array and the
// cell content area.
func (n *Node) Gap() int { return n.contentStart() - n.ptrArrayEnd() }

// freeBlockBytes sums the free-block list, excluding fragment bytes.
func (n *Node) freeBlockBytes() int {
	total := 0
	for off := n.freeBlockHead(); off != 0; {
		total += int(binary.LittleEndian.Uint16(n.data[off+2 : off+4]))
		off = int(binary.LittleEndian.Uint16(n.data[off : off+2]))
	}
	return total
}

// FreeSpace is the total reclaimable space: the gap plus the free-block
// list. Fragment bytes are not included since they are sub-minFreeBlock
// scraps not directly reusable without a defragment.
func (n *Node) FreeSpace() int { return n.Gap() + n.freeBlockBytes() }

// InsertPointer shifts the pointer array to make room for a new entry at
// index i and records off there, growing the pointer array into the gap.
func (n *Node) insertPointer(i, off int) {
	count := n.CellCount()
	for j := count; j > i; j-- {
		n.setCellOffset(j, n.CellOffset(j-1))
	}
	n.setCellOffset(i, off)
	n.setCellCount(count + 1)
}

// removePointer deletes pointer entry i, returning the cell offset it held.
func (n *Node) removePointer(i int) int {
	off := n.CellOffset(i)
	count := n.CellCount()
	for j := i; j < count-1; j++ {
		n.setCellOffset(j, n.CellOffset(j+1))
	}
	n.setCellCount(count - 1)
	return off
}

// freeRange adds [off, off+size) back to the node's reclaimable space,
// merging with the adjacent free block when the new block's predecessor
// or successor is contiguous.
func (n *Node) freeRange(off, size int) {
	if size < minFreeBlock {
		n.setFragmentBytes(n.FragmentBytes() + size)
		return
	}
	// Insertion-sorted by offset so adjacency checks only need to look at
	// one neighbor in each direction.
	prev, cur := 0, n.freeBlockHead()
	for cur != 0 && cur < off {
		prev = cur
		cur = int(binary.LittleEndian.Uint16(n.data[cur : cur+2]))
	}
	// Merge with the following block if contiguous.
	if cur != 0 && off+size == cur {
		curSize := int(binary.LittleEndian.Uint16(n.data[cur+2 : cur+4]))
		curNext := int(binary.LittleEndian.Uint16(n.data[cur : cur+2]))
		size += curSize
		cur = curNext
	}
	binary.LittleEndian.PutUint16(n.data[off:off+2], uint16(cur))
	binary.LittleEndian.PutUint16(n.data[off+2:off+4], uint16(size))
	// Merge with the preceding block if contiguous.
	if prev != 0 {
		prevOff, prevSize := prev, int(binary.LittleEndian.Uint16(n.data[prev+2:prev+4]))
		if prevOff+prevSize == off {
			binary.LittleEndian.PutUint16(n.data[prev:prev+2], uint16(cur))
			binary.LittleEndian.PutUint16(n.data[prev+2:prev+4], uint16(prevSize+size))
			return
		}
		binary.LittleEndian.PutUint16(n.data[prev:prev+2], uint16(off))
		return
	}
	n.setFreeBlockHead(off)
}

// allocFromFreeList first-fits size out of the free-block list, returning
// the allocated offset and ok=true on success. Any leftover space smaller
// than minFreeBlock becomes fragment bytes; leftover >= minFreeBlock is
// left behind as a (shrunk) free block.
func (n *Node) allocFromFreeList(size int) (int, bool) {
	prev, cur := 0, n.freeBlockHead()
	for cur != 0 {
		curNext := int(binary.LittleEndian.Uint16(n.data[cur : cur+2]))
		curSize := int(binary.LittleEndian.Uint16(n.data[cur+2 : cur+4]))
		if curSize >= size {
			remaining := curSize - size
			if remaining < minFreeBlock {
				// Whole block consumed; any slop becomes fragment bytes.
				n.setFragmentBytes(n.FragmentBytes() + remaining)
				if prev == 0 {
					n.setFreeBlockHead(curNext)
				} else {
					binary.LittleEndian.PutUint16(n.data[prev:prev+2], uint16(curNext))
				}
			} else {
				newBlock := cur + size
				binary.LittleEndian.PutUint16(n.data[newBlock:newBlock+2], uint16(curNext))
				binary.LittleEndian.PutUint16(n.data[newBlock+2:newBlock+4], uint16(remaining))
				if prev == 0 {
					n.setFreeBlockHead(newBlock)
				} else {
					binary.LittleEndian.PutUint16(n.data[prev:prev+2], uint16(newBlock))
				}
			}
			return cur, true
		}
		prev = cur
		cur = curNext
	}
	return 0, false
}

// Defragment rebuilds the node's cell content area with no gaps, no
// free blocks, and no fragment bytes, compacting every live cell against
// the end of the page in pointer order. cellSize must return the exact
// encoded length of the cell currently at a given offset.
func (n *Node) Defragment(cellSize func(offset int) int) {
	count := n.CellCount()
	scratch := make([]byte, len(n.data))
	copy(scratch, n.data)
	write := len(n.data)
	for i := 0; i < count; i++ {
		off := int(binary.LittleEndian.Uint16(scratch[n.ptrOffset(i):]))
		size := cellSize(off)
		write -= size
		copy(n.data[write:write+size], scratch[off:off+size])
		n.setCellOffset(i, write)
	}
	n.setContentStart(uint16(write))
	n.setFreeBlockHead(0)
	n.setFragmentBytes(0)
}

// AllocateCell reserves size bytes of cell-content space for a new cell,
// preferring the gap, then the free-block list, then a defragment pass.
// Returns the offset at which the caller should write the cell.
func (n *Node) AllocateCell(size int, cellSize func(offset int) int) (int, error) {
	// Every path below still owes InsertCellAt a 2-byte pointer slot at
	// ptrArrayEnd, so the gap must cover size+CellPointerSize, not just
	// size — otherwise the pointer write clobbers the cell it just wrote.
	if n.Gap() >= size+CellPointerSize {
		newStart := n.contentStart() - size
		n.setContentStart(uint16(newStart))
		return newStart, nil
	}
	if n.Gap() >= CellPointerSize {
		if off, ok := n.allocFromFreeList(size); ok {
			return off, nil
		}
	}
	if n.FreeSpace()+n.FragmentBytes() < size+CellPointerSize {
		return 0, ErrNodeFull
	}
	n.Defragment(cellSize)
	if n.Gap() < size+CellPointerSize {
		return 0, ErrNodeFull
	}
	newStart := n.contentStart() - size
	n.setContentStart(uint16(newStart))
	return newStart, nil
}

// InsertCellAt writes a pre-encoded cell's bytes into newly allocated
// space and inserts its pointer at index i.
func (n *Node) InsertCellAt(i int, encoded []byte, cellSize func(offset int) int) error {
	off, err := n.AllocateCell(len(encoded), cellSize)
	if err != nil {
		return err
	}
	copy(n.data[off:off+len(encoded)], encoded)
	n.insertPointer(i, off)
	return nil
}

// DeleteCellAt removes the cell at index i, returning its space to the
// free-block list (or fragment count).
func (n *Node) DeleteCellAt(i, size int) {
	off := n.removePointer(i)
	n.freeRange(off, size)
}

// UsedBytes is the portion of the page occupied by live cell content,
// i.e. page size minus header minus pointer array minus free space minus
// fragment bytes.
func (n *Node) UsedBytes() int {
	return len(n.data) - NodeHeaderSize - n.CellCount()*CellPointerSize - n.FreeSpace() - n.FragmentBytes()
}
