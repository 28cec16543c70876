package pager

import (
	"bytes"
	"path/filepath"
	"testing"
)

func openTemp(t *testing.T) *Pager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	p, err := Open(path, Options{PageSize: 4096, CreateIfMissing: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestAllocateAndCommitPersistsPageCount(t *testing.T) {
	p := openTemp(t)
	before := p.PageCount()
	if err := p.Begin(true); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	ref, err := p.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	pgno := ref.Pgno
	copy(ref.Data, []byte("hello"))
	p.Release(ref, HintKeep)
	if err := p.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := p.PageCount(); got < before+1 || got < pgno {
		t.Fatalf("PageCount after one allocation = %d, want at least %d", got, pgno)
	}
}

func TestCatalogRootRoundTrips(t *testing.T) {
	p := openTemp(t)
	if err := p.Begin(true); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := p.SetCatalogRoot(5); err != nil {
		t.Fatalf("SetCatalogRoot: %v", err)
	}
	if err := p.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := p.CatalogRoot(); got != 5 {
		t.Fatalf("CatalogRoot = %d, want 5", got)
	}
}

func TestFreelistPushPopRoundTrips(t *testing.T) {
	p := openTemp(t)
	if err := p.Begin(true); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	ref, err := p.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	pgno := ref.Pgno
	p.Release(ref, HintKeep)
	if err := p.FreelistPush(pgno); err != nil {
		t.Fatalf("FreelistPush: %v", err)
	}
	if got := p.FreelistCount(); got != 1 {
		t.Fatalf("FreelistCount = %d, want 1", got)
	}
	got, ok, err := p.FreelistPop()
	if err != nil {
		t.Fatalf("FreelistPop: %v", err)
	}
	if !ok || got != pgno {
		t.Fatalf("FreelistPop = (%d, %v), want (%d, true)", got, ok, pgno)
	}
	if p.FreelistCount() != 0 {
		t.Fatalf("FreelistCount after pop = %d, want 0", p.FreelistCount())
	}
	if err := p.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

// TestAcquireEvictsOverCapacityAndSurvivesWAL forces the frame pool down
// to its 8-frame floor, spills a full dirty set to the WAL, then keeps
// allocating until eviction reclaims the now-clean spilled frames, and
// finally re-Acquires one of the evicted pages. If the writer's WAL
// lookup were still bounded by its frozen read snapshot instead of its
// own appended frames, this would silently return stale (zero) bytes
// from the main file instead of the spilled content.
func TestAcquireEvictsOverCapacityAndSurvivesWAL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	p, err := Open(path, Options{PageSize: 4096, CacheSizeBytes: 1, CreateIfMissing: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	if p.cacheFrames != 8 {
		t.Fatalf("cacheFrames = %d, want floor of 8", p.cacheFrames)
	}

	if err := p.Begin(true); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	contents := make(map[uint32][]byte)
	// Fill and release 7 pages without tripping the spill threshold, so
	// each one's content is written before any spill can see it.
	for i := 0; i < 7; i++ {
		ref, err := p.Allocate()
		if err != nil {
			t.Fatalf("Allocate %d: %v", i, err)
		}
		content := bytes.Repeat([]byte{byte(i + 1)}, p.pageSize)
		copy(ref.Data, content)
		contents[ref.Pgno] = content
		p.Release(ref, HintKeep)
	}
	// The 8th Allocate's MarkDirty call crosses cacheFrames and spills the
	// whole dirty set (including the 7 pages above) to the WAL immediately.
	ref8, err := p.Allocate()
	if err != nil {
		t.Fatalf("Allocate 8: %v", err)
	}
	p.Release(ref8, HintKeep)

	// Keep allocating new pages; each one is a cache miss that should
	// evict an LRU zero-ref clean frame rather than growing unbounded.
	for i := 0; i < 6; i++ {
		ref, err := p.Allocate()
		if err != nil {
			t.Fatalf("Allocate (post-spill) %d: %v", i, err)
		}
		p.Release(ref, HintKeep)
	}

	var evicted uint32
	for pgno := range contents {
		if p.bufmgr.Query(pgno) == nil {
			evicted = pgno
			break
		}
	}
	if evicted == 0 {
		t.Fatal("expected at least one spilled page to have been evicted")
	}

	ref, err := p.Acquire(evicted)
	if err != nil {
		t.Fatalf("Acquire evicted page %d: %v", evicted, err)
	}
	if !bytes.Equal(ref.Data, contents[evicted]) {
		t.Fatalf("re-acquired evicted page %d content mismatch: got first byte %d, want %d",
			evicted, ref.Data[0], contents[evicted][0])
	}
	p.Release(ref, HintKeep)

	if err := p.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
}

func TestRollbackRestoresPageCount(t *testing.T) {
	p := openTemp(t)
	before := p.PageCount()
	if err := p.Begin(true); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	ref, err := p.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	p.Release(ref, HintKeep)
	if err := p.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if got := p.PageCount(); got != before {
		t.Fatalf("PageCount after rollback = %d, want %d", got, before)
	}
}
