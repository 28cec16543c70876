// Package fileio implements a random-access page file, advisory
// byte-range locks over it, and an mmap'd shared-memory region used by
// the WAL's hash index.
package fileio

import (
	"errors"
	"io"
	"os"
)

// LockLevel is the file-lock hierarchy a connection moves through as it
// goes from reading to reserving to writing.
type LockLevel int

const (
	LockUnlocked LockLevel = iota
	LockShared
	LockReserved
	LockExclusive
)

// ErrBusy is returned by any lock acquisition that would block.
var ErrBusy = errors.New("fileio: locked by another connection")

// File is a random-access page file with an advisory lock state machine.
type File struct {
	f    *os.File
	path string
	lock LockLevel
}

// Open opens or creates path for read/write random access; with readonly
// set it opens an existing path for reading only.
func Open(path string, readonly bool) (*File, error) {
	flags := os.O_RDWR | os.O_CREATE
	if readonly {
		flags = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, err
	}
	return &File{f: f, path: path}, nil
}

// Size returns the current file size in bytes.
func (fl *File) Size() (int64, error) {
	st, err := fl.f.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

// Read reads exactly len(buf) bytes at off. Reads past EOF are zero-filled,
// matching the pager's "reading past EOF returns a zero-filled page"
// contract.
func (fl *File) Read(off int64, buf []byte) error {
	n, err := fl.f.ReadAt(buf, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}

func (fl *File) Write(off int64, buf []byte) error {
	_, err := fl.f.WriteAt(buf, off)
	return err
}

// Resize truncates or extends the file to exactly size bytes.
func (fl *File) Resize(size int64) error {
	return fl.f.Truncate(size)
}

// Sync flushes the file to stable storage.
func (fl *File) Sync() error {
	return fl.f.Sync()
}

// Close releases the OS file handle. Any held lock is dropped by the OS.
func (fl *File) Close() error {
	return fl.f.Close()
}

// Unlink removes the file from the filesystem namespace.
func Unlink(path string) error {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Fd exposes the raw descriptor for platform-specific lock/mmap calls.
func (fl *File) Fd() uintptr { return fl.f.Fd() }

// OSFile exposes the underlying *os.File for callers (e.g. the shm mapper)
// that need to open a sibling file descriptor on the same path.
func (fl *File) OSFile() *os.File { return fl.f }

func (fl *File) Path() string { return fl.path }
