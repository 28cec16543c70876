package btree

import (
	"fmt"
	"path/filepath"
	"testing"

	"ember/pkg/ember/pager"
)

func openTestPager(t *testing.T) *pager.Pager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	p, err := pager.Open(path, pager.Options{PageSize: 4096, CreateIfMissing: true})
	if err != nil {
		t.Fatalf("pager.Open: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	if err := p.Begin(true); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return p
}

func TestPutGetErase(t *testing.T) {
	p := openTestPager(t)
	tr, err := Create(p)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := tr.Put([]byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, err := tr.Get([]byte("k1"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(v) != "v1" {
		t.Fatalf("Get = %q, want v1", v)
	}
	if err := tr.Erase([]byte("k1")); err != nil {
		t.Fatalf("Erase: %v", err)
	}
	if _, err := tr.Get([]byte("k1")); err != ErrKeyNotFound {
		t.Fatalf("Get after Erase = %v, want ErrKeyNotFound", err)
	}
}

func TestSplitAndCursorOrder(t *testing.T) {
	p := openTestPager(t)
	tr, err := Create(p)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	const n = 500
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		val := []byte(fmt.Sprintf("value-%05d", i))
		if err := tr.Put(key, val); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
	}
	cur := tr.NewCursor()
	count := 0
	var prev []byte
	for err := cur.SeekFirst(); err == nil && cur.IsValid(); err = cur.Next() {
		k, err := cur.Key()
		if err != nil {
			t.Fatalf("Key: %v", err)
		}
		if prev != nil && string(prev) >= string(k) {
			t.Fatalf("cursor out of order: %q then %q", prev, k)
		}
		prev = append([]byte(nil), k...)
		count++
	}
	if err := cur.Status(); err != nil {
		t.Fatalf("cursor status: %v", err)
	}
	if count != n {
		t.Fatalf("cursor visited %d entries, want %d", count, n)
	}
	if err := tr.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestOverflowChainRoundTrips(t *testing.T) {
	p := openTestPager(t)
	tr, err := Create(p)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	big := make([]byte, p.PageSize()*3)
	for i := range big {
		big[i] = byte(i)
	}
	if err := tr.Put([]byte("bigkey"), big); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := tr.Get([]byte("bigkey"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != len(big) {
		t.Fatalf("Get len = %d, want %d", len(got), len(big))
	}
	for i := range big {
		if got[i] != big[i] {
			t.Fatalf("byte %d mismatch", i)
		}
	}
	if err := tr.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestDestroyAllReturnsPagesToFreelist(t *testing.T) {
	p := openTestPager(t)
	tr, err := Create(p)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i := 0; i < 200; i++ {
		if err := tr.Put([]byte(fmt.Sprintf("k%04d", i)), []byte("value")); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	before := p.FreelistCount()
	if err := tr.DestroyAll(); err != nil {
		t.Fatalf("DestroyAll: %v", err)
	}
	if after := p.FreelistCount(); after <= before {
		t.Fatalf("FreelistCount after DestroyAll = %d, want more than %d", after, before)
	}
}
