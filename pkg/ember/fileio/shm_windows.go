//go:build windows

package fileio

import (
	"os"
	"runtime"
	"unsafe"

	"golang.org/x/sys/windows"
)

func mmapRegion(f *os.File, off int64, size int) ([]byte, error) {
	h, err := windows.CreateFileMapping(windows.Handle(f.Fd()), nil, windows.PAGE_READWRITE,
		uint32((off+int64(size))>>32), uint32((off+int64(size))&0xffffffff), nil)
	if err != nil {
		return nil, err
	}
	defer windows.CloseHandle(h)
	addr, err := windows.MapViewOfFile(h, windows.FILE_MAP_WRITE, uint32(off>>32), uint32(off&0xffffffff), uintptr(size))
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

func munmapRegion(b []byte) error {
	return windows.UnmapViewOfFile(uintptr(unsafe.Pointer(&b[0])))
}

func shmBarrier() {
	runtime.Gosched()
}

func shmLockRange(fd uintptr, rangeID int64, mode ShmLockMode, acquire bool) error {
	if !acquire {
		return rangeUnlock(fd, rangeID, 1)
	}
	return rangeLock(fd, rangeID, 1, mode == ShmExclusive)
}
