package wal

import (
	"bytes"
	"path/filepath"
	"testing"

	"ember/pkg/ember/fileio"
)

const testPageSize = 512

func mustOpen(t *testing.T, dir string) (*WAL, *fileio.File) {
	t.Helper()
	dbPath := filepath.Join(dir, "test.db")
	mainFile, err := fileio.Open(dbPath, false)
	if err != nil {
		t.Fatal(err)
	}
	w, err := Open(dbPath, testPageSize)
	if err != nil {
		t.Fatal(err)
	}
	return w, mainFile
}

func page(fill byte) []byte {
	b := make([]byte, testPageSize)
	for i := range b {
		b[i] = fill
	}
	return b
}

func TestCommitThenRead(t *testing.T) {
	dir := t.TempDir()
	w, _ := mustOpen(t, dir)
	defer w.Close()

	if err := w.BeginWrite(nil); err != nil {
		t.Fatal(err)
	}
	if err := w.AppendFrames([]FramePage{{Pgno: 1, Data: page('a')}, {Pgno: 2, Data: page('b')}}, 2); err != nil {
		t.Fatal(err)
	}
	if err := w.EndWrite(); err != nil {
		t.Fatal(err)
	}

	if err := w.BeginRead(nil); err != nil {
		t.Fatal(err)
	}
	defer w.EndRead()

	data, found, err := w.ReadPage(2)
	if err != nil || !found {
		t.Fatalf("found=%v err=%v", found, err)
	}
	if !bytes.Equal(data, page('b')) {
		t.Fatalf("unexpected page contents")
	}

	_, found, err = w.ReadPage(3)
	if err != nil || found {
		t.Fatalf("page 3 should not be found, found=%v err=%v", found, err)
	}
}

func TestReaderIsolationAcrossCommit(t *testing.T) {
	dir := t.TempDir()
	w, _ := mustOpen(t, dir)
	defer w.Close()

	if err := w.BeginWrite(nil); err != nil {
		t.Fatal(err)
	}
	if err := w.AppendFrames([]FramePage{{Pgno: 1, Data: page('A')}}, 1); err != nil {
		t.Fatal(err)
	}
	if err := w.EndWrite(); err != nil {
		t.Fatal(err)
	}

	if err := w.BeginRead(nil); err != nil {
		t.Fatal(err)
	}

	if err := w.BeginWrite(nil); err != nil {
		t.Fatal(err)
	}
	if err := w.AppendFrames([]FramePage{{Pgno: 1, Data: page('B')}}, 1); err != nil {
		t.Fatal(err)
	}
	if err := w.EndWrite(); err != nil {
		t.Fatal(err)
	}

	data, _, _ := w.ReadPage(1)
	if !bytes.Equal(data, page('A')) {
		t.Fatalf("reader should still see snapshot A, got %v", data[:1])
	}
	w.EndRead()

	if err := w.BeginRead(nil); err != nil {
		t.Fatal(err)
	}
	defer w.EndRead()
	data, _, _ = w.ReadPage(1)
	if !bytes.Equal(data, page('B')) {
		t.Fatalf("new reader should see snapshot B, got %v", data[:1])
	}
}

func TestAbortDiscardsFrames(t *testing.T) {
	dir := t.TempDir()
	w, _ := mustOpen(t, dir)
	defer w.Close()

	if err := w.BeginWrite(nil); err != nil {
		t.Fatal(err)
	}
	if err := w.AppendFrames([]FramePage{{Pgno: 1, Data: page('A')}}, 1); err != nil {
		t.Fatal(err)
	}
	if err := w.EndWrite(); err != nil {
		t.Fatal(err)
	}

	if err := w.BeginWrite(nil); err != nil {
		t.Fatal(err)
	}
	if err := w.AppendFrames([]FramePage{{Pgno: 1, Data: page('Z')}}, 0); err != nil {
		t.Fatal(err)
	}
	if err := w.Abort(); err != nil {
		t.Fatal(err)
	}
	if err := w.EndWrite(); err != nil {
		t.Fatal(err)
	}

	if err := w.BeginRead(nil); err != nil {
		t.Fatal(err)
	}
	defer w.EndRead()
	data, found, _ := w.ReadPage(1)
	if !found || !bytes.Equal(data, page('A')) {
		t.Fatalf("abort should leave last commit intact, found=%v data=%v", found, data)
	}
}

func TestCheckpointCopiesToMainFile(t *testing.T) {
	dir := t.TempDir()
	w, mainFile := mustOpen(t, dir)
	defer w.Close()
	defer mainFile.Close()

	if err := w.BeginWrite(nil); err != nil {
		t.Fatal(err)
	}
	if err := w.AppendFrames([]FramePage{{Pgno: 1, Data: page('X')}, {Pgno: 2, Data: page('Y')}}, 2); err != nil {
		t.Fatal(err)
	}
	if err := w.EndWrite(); err != nil {
		t.Fatal(err)
	}

	if err := w.Checkpoint(mainFile, true, nil); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, testPageSize)
	if err := mainFile.Read(int64(testPageSize), buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, page('Y')) {
		t.Fatalf("page 2 not checkpointed correctly")
	}

	h, err := w.idx.ReadHeader()
	if err != nil {
		t.Fatal(err)
	}
	if h.MaxFrame != 0 {
		t.Fatalf("expected WAL reset after checkpoint, max_frame=%d", h.MaxFrame)
	}
}

func TestRecoveryRebuildsIndex(t *testing.T) {
	dir := t.TempDir()
	w, _ := mustOpen(t, dir)
	if err := w.BeginWrite(nil); err != nil {
		t.Fatal(err)
	}
	if err := w.AppendFrames([]FramePage{{Pgno: 1, Data: page('Q')}}, 1); err != nil {
		t.Fatal(err)
	}
	if err := w.EndWrite(); err != nil {
		t.Fatal(err)
	}
	w.Close()

	// Simulate reconnecting with a fresh (deleted) shm: the new WAL handle
	// must recover the index from the WAL file alone.
	if err := fileio.Unlink(filepath.Join(dir, "test.db-shm")); err != nil {
		t.Fatal(err)
	}
	w2, _ := mustOpen(t, dir)
	defer w2.Close()
	if err := w2.BeginRead(nil); err != nil {
		t.Fatal(err)
	}
	defer w2.EndRead()
	data, found, err := w2.ReadPage(1)
	if err != nil || !found || !bytes.Equal(data, page('Q')) {
		t.Fatalf("recovery failed to restore page 1: found=%v err=%v", found, err)
	}
}
