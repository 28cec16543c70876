package fileio

import (
	"os"
)

// ShmRegionSize is the unit ember maps the -shm file in.
const ShmRegionSize = 32 * 1024

// Shm is the shared-memory file backing the WAL hash index and its twin
// header. Regions are mapped lazily as the hash index grows.
type Shm struct {
	f       *os.File
	path    string
	regions [][]byte
}

// OpenShm opens or creates the -shm sibling of path.
func OpenShm(path string) (*Shm, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	return &Shm{f: f, path: path}, nil
}

// Map returns region index idx, extending the backing file and mapping a
// new region if extend is true and the region does not yet exist. Returns
// nil if the region doesn't exist and extend is false.
func (s *Shm) Map(idx int, extend bool) ([]byte, error) {
	for len(s.regions) <= idx {
		if !extend {
			return nil, nil
		}
		s.regions = append(s.regions, nil)
	}
	if s.regions[idx] != nil {
		return s.regions[idx], nil
	}
	if !extend {
		return nil, nil
	}
	off := int64(idx) * ShmRegionSize
	st, err := s.f.Stat()
	if err != nil {
		return nil, err
	}
	if st.Size() < off+ShmRegionSize {
		if err := s.f.Truncate(off + ShmRegionSize); err != nil {
			return nil, err
		}
	}
	region, err := mmapRegion(s.f, off, ShmRegionSize)
	if err != nil {
		return nil, err
	}
	s.regions[idx] = region
	return region, nil
}

// Barrier ensures writes this process made to mapped regions are visible
// before a subsequent shm_lock release is observed by another process.
// On the platforms ember targets, mmap'd SHARED regions are coherent
// through the page cache, so this is a compiler/memory barrier only.
func (s *Shm) Barrier() {
	shmBarrier()
}

// Unmap releases all mapped regions without deleting the backing file.
func (s *Shm) Unmap() error {
	var firstErr error
	for i, r := range s.regions {
		if r == nil {
			continue
		}
		if err := munmapRegion(r); err != nil && firstErr == nil {
			firstErr = err
		}
		s.regions[i] = nil
	}
	return firstErr
}

// Close unmaps and closes the shm file.
func (s *Shm) Close() error {
	err := s.Unmap()
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Truncate resets the backing file to zero length; used when the WAL
// resets and the hash index is rebuilt from scratch.
func (s *Shm) Truncate() error {
	if err := s.Unmap(); err != nil {
		return err
	}
	s.regions = nil
	return s.f.Truncate(0)
}

// Lock acquires or releases range as shared or exclusive, backed by the
// same fcntl byte-range mechanism as the main file lock.
func (s *Shm) Lock(rng ShmRangeID, mode ShmLockMode, acquire bool) error {
	return shmLockRange(s.f.Fd(), int64(rng), mode, acquire)
}
