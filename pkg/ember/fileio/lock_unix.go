//go:build !windows

package fileio

import (
	"golang.org/x/sys/unix"
)

func fcntlRange(fd uintptr, typ int16, start, length int64) error {
	lk := unix.Flock_t{
		Type:   typ,
		Whence: 0, // SEEK_SET
		Start:  start,
		Len:    length,
	}
	for {
		err := unix.FcntlFlock(fd, unix.F_SETLK, &lk)
		if err == nil {
			return nil
		}
		if err == unix.EAGAIN || err == unix.EACCES || err == unix.EINTR {
			if err == unix.EINTR {
				continue
			}
			return ErrBusy
		}
		return err
	}
}

// Lock transitions the file's advisory lock to level, following the
// SQLite-style escalation path: Unlocked -> Shared -> Reserved -> Exclusive.
// Shared is a read lock over the shared range; Reserved adds a write lock
// on a single marker byte (compatible with other readers); Exclusive is a
// write lock over the whole shared range (incompatible with any reader).
func (fl *File) Lock(level LockLevel) error {
	if level == fl.lock {
		return nil
	}
	fd := fl.Fd()
	switch level {
	case LockUnlocked:
		if err := fcntlRange(fd, unix.F_UNLCK, lockByteReserved, 1); err != nil {
			return err
		}
		if err := fcntlRange(fd, unix.F_UNLCK, lockByteShared, lockRangeSize); err != nil {
			return err
		}
	case LockShared:
		if err := fcntlRange(fd, unix.F_RDLCK, lockByteShared, lockRangeSize); err != nil {
			return err
		}
	case LockReserved:
		if err := fcntlRange(fd, unix.F_WRLCK, lockByteReserved, 1); err != nil {
			return err
		}
	case LockExclusive:
		if err := fcntlRange(fd, unix.F_WRLCK, lockByteShared, lockRangeSize); err != nil {
			return err
		}
	}
	fl.lock = level
	return nil
}

func (fl *File) CurrentLock() LockLevel { return fl.lock }
