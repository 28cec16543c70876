//go:build windows

package fileio

import (
	"golang.org/x/sys/windows"
)

func rangeLock(fd uintptr, start, length int64, exclusive bool) error {
	var flags uint32 = windows.LOCKFILE_FAIL_IMMEDIATELY
	if exclusive {
		flags |= windows.LOCKFILE_EXCLUSIVE_LOCK
	}
	ol := new(windows.Overlapped)
	ol.Offset = uint32(start)
	ol.OffsetHigh = uint32(start >> 32)
	err := windows.LockFileEx(windows.Handle(fd), flags, 0, uint32(length), 0, ol)
	if err != nil {
		return ErrBusy
	}
	return nil
}

func rangeUnlock(fd uintptr, start, length int64) error {
	ol := new(windows.Overlapped)
	ol.Offset = uint32(start)
	ol.OffsetHigh = uint32(start >> 32)
	return windows.UnlockFileEx(windows.Handle(fd), 0, uint32(length), 0, ol)
}

func (fl *File) Lock(level LockLevel) error {
	if level == fl.lock {
		return nil
	}
	fd := fl.Fd()
	switch level {
	case LockUnlocked:
		_ = rangeUnlock(fd, lockByteReserved, 1)
		_ = rangeUnlock(fd, lockByteShared, lockRangeSize)
	case LockShared:
		if err := rangeLock(fd, lockByteShared, lockRangeSize, false); err != nil {
			return err
		}
	case LockReserved:
		if err := rangeLock(fd, lockByteReserved, 1, true); err != nil {
			return err
		}
	case LockExclusive:
		if err := rangeLock(fd, lockByteShared, lockRangeSize, true); err != nil {
			return err
		}
	}
	fl.lock = level
	return nil
}

func (fl *File) CurrentLock() LockLevel { return fl.lock }
