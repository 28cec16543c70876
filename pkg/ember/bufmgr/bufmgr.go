// Package bufmgr implements a bounded page-frame pool: hash-table lookup,
// an LRU list for unreferenced frames, a refcounted in-use set, and an
// intrusive dirty list with an ascending merge-sort for WAL/checkpoint
// write ordering.
package bufmgr

import (
	"container/list"
	"errors"
	"sync"
)

var ErrRefSum = errors.New("bufmgr: purge called with pages still referenced")

// Frame is one cached page-sized buffer and its bookkeeping.
type Frame struct {
	Pgno  uint32
	Data  []byte
	dirty bool
	ref   int

	lruElem *list.Element

	dirtyPrev, dirtyNext *Frame
	sortNext             *Frame
}

func (f *Frame) IsDirty() bool { return f.dirty }
func (f *Frame) RefCount() int { return f.ref }

// Manager is the bounded buffer pool. A capacity of 0 means unbounded
// (callers still get eviction candidates via NextVictim for policy
// reasons, but Allocate never forces a purge).
type Manager struct {
	mu       sync.Mutex
	pageSize int
	capacity int // 0 = unbounded

	pages map[uint32]*Frame
	lru   *list.List // MRU at Front, holds *Frame

	dirtyHead, dirtyTail *Frame
	dirtyCount           int

	hits, misses int64
}

func New(pageSize, capacityFrames int) *Manager {
	return &Manager{
		pageSize: pageSize,
		capacity: capacityFrames,
		pages:    make(map[uint32]*Frame),
		lru:      list.New(),
	}
}

// Query performs a hash-table lookup without touching LRU order or
// refcounts.
func (m *Manager) Query(pgno uint32) *Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pages[pgno]
}

// Lookup is Query but promotes the frame to the LRU head when its
// refcount is zero, and accounts a hit or miss.
func (m *Manager) Lookup(pgno uint32) *Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.pages[pgno]
	if !ok {
		m.misses++
		return nil
	}
	m.hits++
	if f.ref == 0 && f.lruElem != nil {
		m.lru.MoveToFront(f.lruElem)
	}
	return f
}

// Allocate creates a new frame backing buffer of the pool's page size. The
// caller must RegisterPage it to make it visible to Query/Lookup.
func (m *Manager) Allocate(pgno uint32) *Frame {
	return &Frame{Pgno: pgno, Data: make([]byte, m.pageSize)}
}

// RegisterPage inserts ref into the page-number hash table and the LRU
// list at refcount 0 (callers that need it pinned should Ref it
// immediately after).
func (m *Manager) RegisterPage(ref *Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[ref.Pgno] = ref
	ref.lruElem = m.lru.PushFront(ref)
}

// Erase removes ref from the page-number hash table. It must not be
// referenced or dirty.
func (m *Manager) Erase(ref *Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ref.lruElem != nil {
		m.lru.Remove(ref.lruElem)
		ref.lruElem = nil
	}
	delete(m.pages, ref.Pgno)
}

// NextVictim returns the LRU-tail frame with a zero refcount that is not
// dirty, or nil if every cached frame is either pinned or holds an
// uncommitted write. Dirty frames can sit in the LRU list at refcount
// zero (Unref re-links them there regardless of dirty state), so this
// must skip them explicitly rather than relying on refcount alone.
func (m *Manager) NextVictim() *Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	for e := m.lru.Back(); e != nil; e = e.Prev() {
		f := e.Value.(*Frame)
		if f.ref == 0 && !f.dirty {
			return f
		}
	}
	return nil
}

// Ref increments ref's refcount, moving it out of the LRU list on the
// 0->1 transition.
func (m *Manager) Ref(ref *Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref.ref++
	if ref.ref == 1 && ref.lruElem != nil {
		m.lru.Remove(ref.lruElem)
		ref.lruElem = nil
	}
}

// Unref decrements ref's refcount, moving it back onto the LRU front on
// the 1->0 transition.
func (m *Manager) Unref(ref *Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ref.ref == 0 {
		return
	}
	ref.ref--
	if ref.ref == 0 && ref.lruElem == nil {
		ref.lruElem = m.lru.PushFront(ref)
	}
}

// OverCapacity reports whether the cache has more resident frames than its
// configured capacity (0 = unbounded, never over capacity).
func (m *Manager) OverCapacity() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capacity > 0 && len(m.pages) > m.capacity
}

func (m *Manager) Stats() (hits, misses int64, resident int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits, m.misses, len(m.pages)
}

// Purge drops every cached association. The caller must guarantee no
// frame is currently referenced.
func (m *Manager) Purge() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.pages {
		if f.ref != 0 {
			return ErrRefSum
		}
	}
	m.pages = make(map[uint32]*Frame)
	m.lru.Init()
	m.dirtyHead, m.dirtyTail = nil, nil
	m.dirtyCount = 0
	return nil
}
