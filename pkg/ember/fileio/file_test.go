package fileio

import (
	"path/filepath"
	"testing"
)

func TestReadWriteResize(t *testing.T) {
	dir := t.TempDir()
	f, err := Open(filepath.Join(dir, "db"), false)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if err := f.Write(0, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 5)
	if err := f.Read(0, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "hello" {
		t.Fatalf("got %q", buf)
	}

	// Reads past EOF are zero-filled, not an error.
	tail := make([]byte, 16)
	if err := f.Read(5, tail); err != nil {
		t.Fatal(err)
	}
	for _, b := range tail {
		if b != 0 {
			t.Fatalf("expected zero-fill past EOF, got %v", tail)
		}
	}

	if err := f.Resize(4096); err != nil {
		t.Fatal(err)
	}
	size, err := f.Size()
	if err != nil || size != 4096 {
		t.Fatalf("size=%d err=%v", size, err)
	}
}

func TestLockEscalation(t *testing.T) {
	dir := t.TempDir()
	f, err := Open(filepath.Join(dir, "db"), false)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	for _, lvl := range []LockLevel{LockShared, LockReserved, LockExclusive, LockUnlocked} {
		if err := f.Lock(lvl); err != nil {
			t.Fatalf("lock %v: %v", lvl, err)
		}
		if f.CurrentLock() != lvl {
			t.Fatalf("expected lock state %v, got %v", lvl, f.CurrentLock())
		}
	}
}
