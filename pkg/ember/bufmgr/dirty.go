package bufmgr

// AddDirty marks ref kDirty and links it into the intrusive dirty list.
// Invariant: a dirty frame must already be registered in the page-number
// hash table.
func (m *Manager) AddDirty(ref *Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ref.dirty {
		return
	}
	ref.dirty = true
	ref.dirtyPrev = m.dirtyTail
	ref.dirtyNext = nil
	if m.dirtyTail != nil {
		m.dirtyTail.dirtyNext = ref
	} else {
		m.dirtyHead = ref
	}
	m.dirtyTail = ref
	m.dirtyCount++
}

// RemoveDirty clears kDirty and unlinks ref from the dirty list.
func (m *Manager) RemoveDirty(ref *Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !ref.dirty {
		return
	}
	ref.dirty = false
	if ref.dirtyPrev != nil {
		ref.dirtyPrev.dirtyNext = ref.dirtyNext
	} else {
		m.dirtyHead = ref.dirtyNext
	}
	if ref.dirtyNext != nil {
		ref.dirtyNext.dirtyPrev = ref.dirtyPrev
	} else {
		m.dirtyTail = ref.dirtyPrev
	}
	ref.dirtyPrev, ref.dirtyNext = nil, nil
	m.dirtyCount--
}

func (m *Manager) DirtyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirtyCount
}

// mergeSorted merges two ascending-by-Pgno singly linked lists (threaded
// through sortNext) into one.
func mergeSorted(a, b *Frame) *Frame {
	var head, tail *Frame
	appendNode := func(f *Frame) {
		if tail == nil {
			head, tail = f, f
		} else {
			tail.sortNext = f
			tail = f
		}
	}
	for a != nil && b != nil {
		if a.Pgno <= b.Pgno {
			n := a
			a = a.sortNext
			n.sortNext = nil
			appendNode(n)
		} else {
			n := b
			b = b.sortNext
			n.sortNext = nil
			appendNode(n)
		}
	}
	rest := a
	if rest == nil {
		rest = b
	}
	for rest != nil {
		n := rest
		rest = rest.sortNext
		n.sortNext = nil
		appendNode(n)
	}
	return head
}

// SortDirty returns the dirty list as a singly linked list (via the
// returned head's chain, walked with Next) in ascending page-number
// order, using an incremental 32-bucket merge sort: each page starts as
// its own length-1 run and is folded into bucket i, cascading into bucket
// i+1 whenever two runs of the same size collide.
func (m *Manager) SortDirty() *Frame {
	m.mu.Lock()
	head := m.dirtyHead
	m.mu.Unlock()

	var buckets [32]*Frame
	for p := head; p != nil; {
		next := p.dirtyNext
		p.sortNext = nil
		run := p
		i := 0
		for ; i < len(buckets) && buckets[i] != nil; i++ {
			run = mergeSorted(buckets[i], run)
			buckets[i] = nil
		}
		if i == len(buckets) {
			i = len(buckets) - 1
		}
		buckets[i] = run
		p = next
	}
	var result *Frame
	for i := 0; i < len(buckets); i++ {
		result = mergeSorted(result, buckets[i])
	}
	return result
}

// Next walks the singly linked list produced by SortDirty.
func (f *Frame) Next() *Frame { return f.sortNext }
