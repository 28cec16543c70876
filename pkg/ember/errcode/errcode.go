// Package errcode maps the sentinel errors returned throughout ember's
// component packages onto the small taxonomy spec §6/§7 promises
// callers at the external facade: Ok, NotFound, InvalidArgument,
// Corruption, IOError, NotSupported, Busy, and Aborted.
package errcode

import (
	"errors"
	"io"

	"ember/pkg/ember/btree"
	"ember/pkg/ember/bufmgr"
	"ember/pkg/ember/fileio"
	"ember/pkg/ember/pager"
	"ember/pkg/ember/schema"
	"ember/pkg/ember/wal"
)

// Code is one of the taxonomy values from spec §6.
type Code int

const (
	Ok Code = iota
	NotFound
	InvalidArgument
	Corruption
	IOError
	NotSupported
	Busy
	Aborted
)

func (c Code) String() string {
	switch c {
	case Ok:
		return "Ok"
	case NotFound:
		return "NotFound"
	case InvalidArgument:
		return "InvalidArgument"
	case Corruption:
		return "Corruption"
	case IOError:
		return "IOError"
	case NotSupported:
		return "NotSupported"
	case Busy:
		return "Busy"
	case Aborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// Subcode refines Busy (Retry) and Aborted (NoMemory) per spec §6.
type Subcode int

const (
	SubNone Subcode = iota
	SubRetry
	SubNoMemory
)

// Of classifies err against the sentinel errors exported by ember's
// component packages, falling back to Ok for a nil error and IOError
// for anything unrecognized (since an opaque I/O-layer error is the
// most conservative classification spec §7 allows).
func Of(err error) Code {
	if err == nil {
		return Ok
	}
	switch {
	case errors.Is(err, btree.ErrKeyNotFound), errors.Is(err, schema.ErrBucketNotFound):
		return NotFound
	case errors.Is(err, btree.ErrEmptyKey),
		errors.Is(err, schema.ErrEmptyName),
		errors.Is(err, schema.ErrBucketExists),
		errors.Is(err, pager.ErrInvalidPageSize):
		return InvalidArgument
	case errors.Is(err, pager.ErrCorruption),
		errors.Is(err, btree.ErrCorruptNode),
		errors.Is(err, btree.ErrCycleLimit),
		errors.Is(err, wal.ErrChecksumFailed),
		errors.Is(err, wal.ErrInvalidMagic),
		errors.Is(err, wal.ErrHeaderCorrupt):
		return Corruption
	case errors.Is(err, pager.ErrReadOnly):
		return NotSupported
	case errors.Is(err, fileio.ErrBusy):
		return Busy
	case errors.Is(err, pager.ErrWrongMode), errors.Is(err, pager.ErrLatchedError):
		return Aborted
	case errors.Is(err, bufmgr.ErrRefSum):
		return Aborted
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return IOError
	default:
		return IOError
	}
}

// SubcodeOf classifies the finer-grained subcode for Busy/Aborted codes,
// or SubNone for everything else.
func SubcodeOf(err error) Subcode {
	switch Of(err) {
	case Busy:
		return SubRetry
	case Aborted:
		return SubNoMemory
	default:
		return SubNone
	}
}
