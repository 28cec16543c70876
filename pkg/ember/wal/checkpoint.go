package wal

import (
	"ember/pkg/ember/fileio"
)

// Checkpoint copies every WAL frame's latest page image back into
// mainFile, truncates mainFile to the committed page count, and — when
// reset is requested and no reader still pins a mark below max_frame —
// resets the WAL so the next frame write restarts at frame 1.
func (w *WAL) Checkpoint(mainFile *fileio.File, reset bool, busy BusyHandler) error {
	return retry(busy, func() error {
		if err := w.shm.Lock(fileio.RangeCkpt, fileio.ShmExclusive, true); err != nil {
			return err
		}
		defer w.shm.Lock(fileio.RangeCkpt, fileio.ShmExclusive, false)
		if err := w.shm.Lock(fileio.RangeWrite, fileio.ShmExclusive, true); err != nil {
			return err
		}
		defer w.shm.Lock(fileio.RangeWrite, fileio.ShmExclusive, false)

		if err := w.file.Sync(); err != nil {
			return err
		}
		h, err := w.idx.ReadHeader()
		if err != nil {
			return err
		}
		maxFrame := h.MaxFrame
		if maxFrame == 0 {
			return nil
		}

		latest := make(map[uint32]uint32, maxFrame)
		// Re-derive salts and frame 1's checksum seed from the file header
		// each time since this connection may not have appended the frames
		// itself.
		if err := w.readFileHeader(); err != nil {
			return err
		}
		s1, s2 := w.cksum1, w.cksum2
		for f := uint32(1); f <= maxFrame; f++ {
			pgno, _, _, ns1, ns2, ok := w.readFrame(f, s1, s2)
			if !ok {
				break
			}
			s1, s2 = ns1, ns2
			latest[pgno] = f
		}

		for pgno, frame := range latest {
			page := make([]byte, w.pageSize)
			if err := w.file.Read(frameOffset(frame, w.pageSize)+FrameHeaderSize, page); err != nil {
				return err
			}
			off := int64(pgno-1) * int64(w.pageSize)
			if err := mainFile.Write(off, page); err != nil {
				return err
			}
		}

		curSize, err := mainFile.Size()
		if err != nil {
			return err
		}
		targetSize := int64(h.DbSizePages) * int64(w.pageSize)
		if targetSize < curSize {
			if err := mainFile.Resize(targetSize); err != nil {
				return err
			}
		}
		if err := mainFile.Sync(); err != nil {
			return err
		}

		if !reset {
			return nil
		}
		if blocked, err := w.anyReaderBelow(maxFrame); err != nil {
			return err
		} else if blocked {
			return nil
		}
		return w.resetLocked()
	})
}

// anyReaderBelow reports whether some reader still holds a mark below
// frame, by attempting to claim each read slot exclusively: success means
// no live reader is in that slot regardless of its stored mark.
func (w *WAL) anyReaderBelow(frame uint32) (bool, error) {
	for slot := 0; slot < fileio.NumReadMarks; slot++ {
		rng := fileio.RangeRead0 + fileio.ShmRangeID(slot)
		if err := w.shm.Lock(rng, fileio.ShmExclusive, true); err != nil {
			mark, merr := w.idx.ReadMark(slot)
			if merr == nil && mark != 0 && mark < frame {
				return true, nil
			}
			continue
		}
		w.shm.Lock(rng, fileio.ShmExclusive, false)
	}
	return false, nil
}

func (w *WAL) resetLocked() error {
	w.ckptSeq++
	if err := w.writeFileHeader(); err != nil {
		return err
	}
	if err := w.file.Resize(HeaderSize); err != nil {
		return err
	}
	if err := w.idx.ResetAll(); err != nil {
		return err
	}
	return w.idx.WriteHeader(indexHeader{
		Version:       Version,
		Salt1:         w.salt1,
		Salt2:         w.salt2,
		CkptSeq:       w.ckptSeq,
		MaxFrame:      0,
		DbSizePages:   0,
		PageSize:      uint32(w.pageSize),
		ChangeCounter: 1,
	})
}
