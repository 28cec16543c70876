package ember

import (
	"fmt"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path, Options{PageSize: 4096, CreateIfMissing: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCreatePutGetCommitAcrossTxns(t *testing.T) {
	db := openTestDB(t)

	wtxn, err := db.BeginTxn(true)
	if err != nil {
		t.Fatalf("BeginTxn(write): %v", err)
	}
	bucket, err := wtxn.CreateBucket("widgets", true)
	if err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}
	if err := bucket.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := bucket.Close(); err != nil {
		t.Fatalf("Bucket.Close: %v", err)
	}
	if err := wtxn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	rtxn, err := db.BeginTxn(false)
	if err != nil {
		t.Fatalf("BeginTxn(read): %v", err)
	}
	defer rtxn.Rollback()
	b, err := rtxn.OpenBucket("widgets")
	if err != nil {
		t.Fatalf("OpenBucket: %v", err)
	}
	v, err := b.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(v) != "v" {
		t.Fatalf("Get = %q, want v", v)
	}
}

func TestBucketUnusableAfterTxnEnds(t *testing.T) {
	db := openTestDB(t)
	txn, err := db.BeginTxn(true)
	if err != nil {
		t.Fatalf("BeginTxn: %v", err)
	}
	b, err := txn.CreateBucket("x", true)
	if err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, err := b.Get([]byte("k")); err != ErrTxnDone {
		t.Fatalf("Get after commit = %v, want ErrTxnDone", err)
	}
}

func TestCursorScanOrder(t *testing.T) {
	db := openTestDB(t)
	txn, err := db.BeginTxn(true)
	if err != nil {
		t.Fatalf("BeginTxn: %v", err)
	}
	b, err := txn.CreateBucket("scan", true)
	if err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}
	for i := 0; i < 50; i++ {
		if err := b.Put([]byte(fmt.Sprintf("k%03d", i)), []byte("v")); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	cur, err := b.NewCursor()
	if err != nil {
		t.Fatalf("NewCursor: %v", err)
	}
	count := 0
	for err := cur.SeekFirst(); err == nil && cur.IsValid(); err = cur.Next() {
		count++
	}
	if err := cur.Status(); err != nil {
		t.Fatalf("cursor status: %v", err)
	}
	if count != 50 {
		t.Fatalf("scanned %d entries, want 50", count)
	}
	b.Close()
	txn.Commit()
}

func TestCheckpointAfterCommit(t *testing.T) {
	db := openTestDB(t)

	txn, err := db.BeginTxn(true)
	if err != nil {
		t.Fatalf("BeginTxn: %v", err)
	}
	b, err := txn.CreateBucket("wal", true)
	if err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}
	if err := b.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	b.Close()
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := db.Checkpoint(true); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	rtxn, err := db.BeginTxn(false)
	if err != nil {
		t.Fatalf("BeginTxn(read): %v", err)
	}
	defer rtxn.Rollback()
	rb, err := rtxn.OpenBucket("wal")
	if err != nil {
		t.Fatalf("OpenBucket after checkpoint: %v", err)
	}
	defer rb.Close()
	v, err := rb.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get after checkpoint: %v", err)
	}
	if string(v) != "v" {
		t.Fatalf("Get after checkpoint = %q, want v", v)
	}
}

func TestCheckpointFailsAfterClose(t *testing.T) {
	db := openTestDB(t)
	db.Close()
	if err := db.Checkpoint(false); err != ErrDatabaseClosed {
		t.Fatalf("Checkpoint after Close = %v, want ErrDatabaseClosed", err)
	}
}

func TestVacuumAndIntegrityCheck(t *testing.T) {
	db := openTestDB(t)

	txn, err := db.BeginTxn(true)
	if err != nil {
		t.Fatalf("BeginTxn: %v", err)
	}
	b, err := txn.CreateBucket("v", true)
	if err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}
	for i := 0; i < 300; i++ {
		if err := b.Put([]byte(fmt.Sprintf("k%04d", i)), []byte("some reasonably sized value")); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	for i := 0; i < 250; i++ {
		if err := b.Erase([]byte(fmt.Sprintf("k%04d", i))); err != nil {
			t.Fatalf("Erase: %v", err)
		}
	}
	b.Close()
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	vtxn, err := db.BeginTxn(true)
	if err != nil {
		t.Fatalf("BeginTxn(vacuum): %v", err)
	}
	if err := vtxn.Vacuum(); err != nil {
		t.Fatalf("Vacuum: %v", err)
	}
	if err := vtxn.Commit(); err != nil {
		t.Fatalf("Commit(vacuum): %v", err)
	}

	ctxn, err := db.BeginTxn(false)
	if err != nil {
		t.Fatalf("BeginTxn(check): %v", err)
	}
	defer ctxn.Rollback()
	if err := ctxn.IntegrityCheck(); err != nil {
		t.Fatalf("IntegrityCheck after vacuum: %v", err)
	}
	b2, err := ctxn.OpenBucket("v")
	if err != nil {
		t.Fatalf("OpenBucket after vacuum: %v", err)
	}
	defer b2.Close()
	if _, err := b2.Get([]byte("k0299")); err != nil {
		t.Fatalf("Get surviving key after vacuum: %v", err)
	}
}
