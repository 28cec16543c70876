//go:build !windows

package fileio

import (
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

func mmapRegion(f *os.File, off int64, size int) ([]byte, error) {
	return unix.Mmap(int(f.Fd()), off, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func munmapRegion(b []byte) error {
	return unix.Munmap(b)
}

func shmBarrier() {
	runtime.Gosched()
}

func shmLockRange(fd uintptr, rangeID int64, mode ShmLockMode, acquire bool) error {
	typ := int16(unix.F_RDLCK)
	if mode == ShmExclusive {
		typ = unix.F_WRLCK
	}
	if !acquire {
		typ = unix.F_UNLCK
	}
	return fcntlRange(fd, typ, rangeID, 1)
}
