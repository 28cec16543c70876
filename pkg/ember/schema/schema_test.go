package schema

import (
	"errors"
	"path/filepath"
	"testing"

	"ember/pkg/ember/pager"
)

func openTestCatalog(t *testing.T) (*pager.Pager, *Catalog) {
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
	cat, err := Open(p)
	if err != nil {
		t.Fatalf("schema.Open: %v", err)
	}
	return p, cat
}

func TestCreateOpenDropBucket(t *testing.T) {
	_, cat := openTestCatalog(t)

	b, err := cat.CreateBucket("things", true)
	if err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}
	if err := b.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	b.Close()

	b2, err := cat.OpenBucket("things")
	if err != nil {
		t.Fatalf("OpenBucket: %v", err)
	}
	v, err := b2.Get([]byte("a"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(v) != "1" {
		t.Fatalf("Get = %q, want 1", v)
	}
	b2.Close()

	if err := cat.DropBucket("things"); err != nil {
		t.Fatalf("DropBucket: %v", err)
	}
	if _, err := cat.OpenBucket("things"); !errors.Is(err, ErrBucketNotFound) {
		t.Fatalf("OpenBucket after drop = %v, want ErrBucketNotFound", err)
	}
}

func TestCreateBucketErrorIfExists(t *testing.T) {
	_, cat := openTestCatalog(t)
	if _, err := cat.CreateBucket("x", true); err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}
	if _, err := cat.CreateBucket("x", true); !errors.Is(err, ErrBucketExists) {
		t.Fatalf("second CreateBucket = %v, want ErrBucketExists", err)
	}
	if _, err := cat.CreateBucket("x", false); err != nil {
		t.Fatalf("CreateBucket without errorIfExists = %v, want nil", err)
	}
}

func TestDropBucketDeferredUntilHandlesClose(t *testing.T) {
	p, cat := openTestCatalog(t)
	b, err := cat.CreateBucket("held", true)
	if err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}
	if err := b.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := cat.DropBucket("held"); err != nil {
		t.Fatalf("DropBucket: %v", err)
	}
	// The name is gone from the namespace immediately...
	if _, err := cat.OpenBucket("held"); !errors.Is(err, ErrBucketNotFound) {
		t.Fatalf("OpenBucket after drop = %v, want ErrBucketNotFound", err)
	}
	// ...but the handle opened before the drop is still usable, and its
	// pages are not yet reclaimed.
	if _, err := b.Get([]byte("k")); err != nil {
		t.Fatalf("Get on handle held across drop: %v", err)
	}
	before := p.FreelistCount()
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if after := p.FreelistCount(); after <= before {
		t.Fatalf("FreelistCount after last handle closed = %d, want more than %d", after, before)
	}
}

func TestRewriteBucketRootRepointsOpenHandles(t *testing.T) {
	_, cat := openTestCatalog(t)
	b, err := cat.CreateBucket("moved", true)
	if err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}
	if err := b.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	oldRoot := b.Root()
	newRoot := oldRoot + 1000

	if err := cat.RewriteBucketRoot(oldRoot, newRoot); err != nil {
		t.Fatalf("RewriteBucketRoot: %v", err)
	}

	if b.Root() != newRoot {
		t.Fatalf("handle root after rewrite = %d, want %d", b.Root(), newRoot)
	}
	b2, err := cat.OpenBucket("moved")
	if err != nil {
		t.Fatalf("OpenBucket after rewrite: %v", err)
	}
	if b2.Root() != newRoot {
		t.Fatalf("freshly opened handle root = %d, want %d", b2.Root(), newRoot)
	}
	b.Close()
	b2.Close()
}

func TestListBucketsAndIntegrityCheck(t *testing.T) {
	_, cat := openTestCatalog(t)
	for _, name := range []string{"b", "a", "c"} {
		b, err := cat.CreateBucket(name, true)
		if err != nil {
			t.Fatalf("CreateBucket(%s): %v", name, err)
		}
		if err := b.Put([]byte("k"), []byte(name)); err != nil {
			t.Fatalf("Put: %v", err)
		}
		b.Close()
	}
	names, err := cat.ListBuckets()
	if err != nil {
		t.Fatalf("ListBuckets: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(names) != len(want) {
		t.Fatalf("ListBuckets = %v, want %v", names, want)
	}
	for i, n := range want {
		if names[i] != n {
			t.Fatalf("ListBuckets[%d] = %q, want %q", i, names[i], n)
		}
	}
	if err := cat.IntegrityCheck(); err != nil {
		t.Fatalf("IntegrityCheck: %v", err)
	}
}
