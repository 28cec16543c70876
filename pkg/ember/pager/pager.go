package pager

import (
	"errors"
	"sync"

	"ember/pkg/ember/bufmgr"
	"ember/pkg/ember/fileio"
	"ember/pkg/ember/wal"
)

// Mode is the pager's transaction state machine.
type Mode int

const (
	ModeOpen Mode = iota
	ModeRead
	ModeWrite
	ModeDirty
	ModeError
)

// ReleaseHint tells Release what to do with a page reference once
// unreferenced.
type ReleaseHint int

const (
	HintKeep ReleaseHint = iota
	HintNoCache
	HintDiscard
)

type LockMode int

const (
	LockModeNormal LockMode = iota
	LockModeExclusive
)

type SyncMode int

const (
	SyncOff SyncMode = iota
	SyncNormal
	SyncFull
)

var (
	ErrWrongMode      = errors.New("pager: operation not valid in current mode")
	ErrLatchedError   = errors.New("pager: pager is latched in error mode")
	ErrCorruption     = errors.New("pager: database corruption detected")
	ErrTooManyPages   = errors.New("pager: database would exceed maximum page count")
	ErrReadOnly       = errors.New("pager: database opened read-only")
)

// Options configures a Pager at Open.
type Options struct {
	PageSize        int
	CacheSizeBytes  int64
	LockMode        LockMode
	SyncMode        SyncMode
	CreateIfMissing bool
	ErrorIfExists   bool
	ReadOnly        bool
	BusyHandler     wal.BusyHandler
}

const defaultPageSize = 4096
const defaultCacheBytes = 1 << 20 // ~1 MiB

// savedHeader snapshots the mutable header fields at the start of a write
// transaction so Rollback can restore them without re-parsing page 1.
type savedHeader struct {
	pageCount     uint32
	freelistHead  uint32
	freelistCount uint32
	changeCounter uint32
	schemaCookie  uint32
	catalogRoot   uint32
}

// Pager is the central coordinator: page allocation, pointer-map
// maintenance, the freelist, and the transaction lifecycle that drives
// the buffer manager and the WAL.
type Pager struct {
	mu sync.Mutex

	path     string
	file     *fileio.File
	wal      *wal.WAL
	bufmgr   *bufmgr.Manager
	pageSize int

	opts Options
	mode Mode
	err  error

	pageCount     uint32
	freelistHead  uint32
	freelistCount uint32
	changeCounter uint32
	schemaCookie  uint32
	catalogRoot   uint32

	cacheFrames int

	writing bool
	saved   savedHeader
}

// Open opens or creates the database at path, recovering the WAL if
// necessary.
func Open(path string, opts Options) (*Pager, error) {
	pageSize := opts.PageSize
	if pageSize == 0 {
		pageSize = defaultPageSize
	}
	if !ValidPageSize(pageSize) {
		return nil, ErrInvalidPageSize
	}
	cacheBytes := opts.CacheSizeBytes
	if cacheBytes == 0 {
		cacheBytes = defaultCacheBytes
	}

	f, err := fileio.Open(path, opts.ReadOnly)
	if err != nil {
		return nil, err
	}
	size, err := f.Size()
	if err != nil {
		f.Close()
		return nil, err
	}

	p := &Pager{
		path:     path,
		file:     f,
		pageSize: pageSize,
		opts:     opts,
		mode:     ModeOpen,
	}

	if size == 0 {
		if !opts.CreateIfMissing {
			f.Close()
			return nil, errors.New("pager: database does not exist")
		}
		if err := p.initEmpty(); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		if opts.ErrorIfExists {
			f.Close()
			return nil, errors.New("pager: database already exists")
		}
		hdr := make([]byte, HeaderSize)
		if err := f.Read(0, hdr); err != nil {
			f.Close()
			return nil, err
		}
		h, err := decodeHeader(hdr)
		if err != nil {
			f.Close()
			return nil, err
		}
		p.pageSize = int(h.PageSize)
		p.pageCount = h.PageCount
		p.freelistHead = h.FreelistHead
		p.freelistCount = h.FreelistCount
		p.changeCounter = h.ChangeCounter
		p.schemaCookie = h.SchemaCookie
		p.catalogRoot = h.CatalogRoot
	}

	frames := int(cacheBytes / int64(p.pageSize))
	if frames < 8 {
		frames = 8
	}
	p.bufmgr = bufmgr.New(p.pageSize, frames)
	p.cacheFrames = frames

	w, err := wal.Open(path, p.pageSize)
	if err != nil {
		f.Close()
		return nil, err
	}
	p.wal = w

	return p, nil
}

func (p *Pager) initEmpty() error {
	p.pageCount = 1
	buf := make([]byte, p.pageSize)
	encodeHeader(buf, FileHeader{PageSize: uint32(p.pageSize), PageCount: 1})
	if err := p.file.Resize(int64(p.pageSize)); err != nil {
		return err
	}
	return p.file.Write(0, buf)
}

func (p *Pager) Close() error {
	werr := p.wal.Close()
	ferr := p.file.Close()
	if werr != nil {
		return werr
	}
	return ferr
}

func (p *Pager) PageSize() int       { return p.pageSize }
func (p *Pager) PageCount() uint32   { return p.pageCount }
func (p *Pager) Mode() Mode          { return p.mode }
func (p *Pager) SchemaCookie() uint32 { return p.schemaCookie }

// SetStatus latches a fatal error into the pager. All further operations
// short-circuit with it until Rollback runs.
func (p *Pager) SetStatus(err error) error {
	p.mode = ModeError
	p.err = err
	return err
}

func (p *Pager) checkOK() error {
	if p.mode == ModeError {
		return p.err
	}
	return nil
}

// Begin starts a transaction: a reader snapshot always, and additionally
// the single writer slot when write is true.
func (p *Pager) Begin(write bool) error {
	if err := p.checkOK(); err != nil {
		return err
	}
	if p.mode != ModeOpen {
		return ErrWrongMode
	}
	if write && p.opts.ReadOnly {
		return ErrReadOnly
	}
	if err := p.wal.BeginRead(p.opts.BusyHandler); err != nil {
		return err
	}
	p.mode = ModeRead
	if err := p.refreshHeader(); err != nil {
		p.wal.EndRead()
		p.mode = ModeOpen
		return p.SetStatus(err)
	}
	if write {
		if err := p.wal.BeginWrite(p.opts.BusyHandler); err != nil {
			p.wal.EndRead()
			p.mode = ModeOpen
			return err
		}
		p.saved = savedHeader{p.pageCount, p.freelistHead, p.freelistCount, p.changeCounter, p.schemaCookie, p.catalogRoot}
		p.mode = ModeWrite
	}
	return nil
}

// refreshHeader re-reads page 1 to pick up the mutable header fields as of
// the current snapshot.
func (p *Pager) refreshHeader() error {
	ref, err := p.Acquire(SchemaRoot)
	if err != nil {
		return err
	}
	h, err := decodeHeader(ref.Data[:HeaderSize])
	p.Release(ref, HintKeep)
	if err != nil {
		return err
	}
	p.pageCount = h.PageCount
	p.freelistHead = h.FreelistHead
	p.freelistCount = h.FreelistCount
	p.changeCounter = h.ChangeCounter
	p.schemaCookie = h.SchemaCookie
	p.catalogRoot = h.CatalogRoot
	return nil
}

// Acquire returns a pinned reference to pgno's frame, reading it from the
// buffer pool, the current write transaction's WAL snapshot, or the main
// file, in that order.
func (p *Pager) Acquire(pgno uint32) (*bufmgr.Frame, error) {
	if err := p.checkOK(); err != nil {
		return nil, err
	}
	if p.mode == ModeOpen || p.mode == ModeError {
		return nil, ErrWrongMode
	}
	if f := p.bufmgr.Lookup(pgno); f != nil {
		p.bufmgr.Ref(f)
		return f, nil
	}
	f := p.bufmgr.Allocate(pgno)
	page, found, err := p.wal.ReadPage(pgno)
	if err != nil {
		return nil, p.SetStatus(err)
	}
	if found {
		copy(f.Data, page)
	} else if err := p.file.Read(int64(pgno-1)*int64(p.pageSize), f.Data); err != nil {
		return nil, p.SetStatus(err)
	}
	p.bufmgr.RegisterPage(f)
	p.bufmgr.Ref(f)
	p.evictIfOverCapacity()
	return f, nil
}

// evictIfOverCapacity drops the LRU-tail zero-ref clean frame once the
// pool has grown past cache_size_bytes (spec §4.2's bounded frame pool,
// §4.4 acquire's "may evict an LRU non-dirty page to make room"). Called
// right after a miss registers a new frame, so the frame just acquired
// (pinned at ref 1) is never the one picked. If every cached frame is
// pinned or dirty, the pool is simply allowed to grow past capacity
// rather than failing the acquire.
func (p *Pager) evictIfOverCapacity() {
	if !p.bufmgr.OverCapacity() {
		return
	}
	if victim := p.bufmgr.NextVictim(); victim != nil {
		p.bufmgr.Erase(victim)
	}
}

// MarkDirty moves ref into the write transaction's dirty set. If the
// number of resident dirty pages has grown to fill the whole frame pool,
// it spills them to the WAL as non-commit frames to bound memory use,
// leaving them cached but clean.
func (p *Pager) MarkDirty(ref *bufmgr.Frame) error {
	if p.mode != ModeWrite && p.mode != ModeDirty {
		return ErrWrongMode
	}
	if !ref.IsDirty() {
		p.bufmgr.AddDirty(ref)
		p.mode = ModeDirty
	}
	if p.bufmgr.DirtyCount() < p.cacheFrames {
		return nil
	}
	return p.spillDirty()
}

// spillDirty flushes the current dirty set to the WAL as provisional
// (non-commit) frames, keeping their cached copies but clearing the dirty
// flag. A rollback still discards them correctly: Rollback purges the
// entire buffer pool and rewinds the WAL's hash index past anything
// appended this transaction, committed or not.
func (p *Pager) spillDirty() error {
	sorted := p.bufmgr.SortDirty()
	pages := make([]wal.FramePage, 0, p.bufmgr.DirtyCount())
	for f := sorted; f != nil; f = f.Next() {
		pages = append(pages, wal.FramePage{Pgno: f.Pgno, Data: append([]byte(nil), f.Data...)})
	}
	if err := p.wal.AppendFrames(pages, 0); err != nil {
		return p.SetStatus(err)
	}
	for f := sorted; f != nil; {
		next := f.Next()
		p.bufmgr.RemoveDirty(f)
		f = next
	}
	return nil
}

// Release unpins ref. hint advises what to do once its refcount reaches
// zero; clean pages honoring HintNoCache or HintDiscard are evicted
// immediately instead of waiting for LRU pressure.
func (p *Pager) Release(ref *bufmgr.Frame, hint ReleaseHint) {
	p.bufmgr.Unref(ref)
	if ref.RefCount() != 0 || ref.IsDirty() {
		return
	}
	if hint == HintNoCache || hint == HintDiscard {
		p.bufmgr.Erase(ref)
	}
}

// Allocate returns a new dirty page, preferring a freelist page over
// growing the file, and skipping over pointer-map pages when extending it
// so every allocated data page still gets a pointer-map home.
func (p *Pager) Allocate() (*bufmgr.Frame, error) {
	if p.mode != ModeWrite && p.mode != ModeDirty {
		return nil, ErrWrongMode
	}
	if pgno, ok, err := p.FreelistPop(); err != nil {
		return nil, err
	} else if ok {
		ref, err := p.Acquire(pgno)
		if err != nil {
			return nil, err
		}
		if err := p.MarkDirty(ref); err != nil {
			p.Release(ref, HintKeep)
			return nil, err
		}
		return ref, nil
	}

	next := p.pageCount + 1
	if IsMapPage(next, p.pageSize) {
		p.pageCount = next
		next++
	}
	ref, err := p.Acquire(next)
	if err != nil {
		return nil, err
	}
	if err := p.MarkDirty(ref); err != nil {
		p.Release(ref, HintKeep)
		return nil, err
	}
	p.pageCount = next
	return ref, nil
}

// Destroy unconditionally discards ref's cached copy and returns its page
// number to the freelist. The caller must hold the only reference to it.
func (p *Pager) Destroy(ref *bufmgr.Frame) error {
	pgno := ref.Pgno
	p.bufmgr.RemoveDirty(ref)
	p.bufmgr.Unref(ref)
	p.bufmgr.Erase(ref)
	return p.FreelistPush(pgno)
}

// Commit rewrites the file header with the transaction's final bookkeeping
// fields, flushes every dirty page to the WAL as a single batch whose last
// frame carries the new database size, and ends the transaction.
func (p *Pager) Commit() error {
	if p.mode != ModeWrite && p.mode != ModeDirty {
		return ErrWrongMode
	}
	ref1, err := p.Acquire(SchemaRoot)
	if err != nil {
		return p.SetStatus(err)
	}
	if err := p.MarkDirty(ref1); err != nil {
		p.Release(ref1, HintKeep)
		return p.SetStatus(err)
	}
	p.changeCounter++
	encodeHeader(ref1.Data[:HeaderSize], FileHeader{
		PageSize:      uint32(p.pageSize),
		ChangeCounter: p.changeCounter,
		PageCount:     p.pageCount,
		FreelistHead:  p.freelistHead,
		FreelistCount: p.freelistCount,
		SchemaCookie:  p.schemaCookie,
		CatalogRoot:   p.catalogRoot,
	})
	p.Release(ref1, HintKeep)

	sorted := p.bufmgr.SortDirty()
	pages := make([]wal.FramePage, 0, p.bufmgr.DirtyCount())
	for f := sorted; f != nil; f = f.Next() {
		pages = append(pages, wal.FramePage{Pgno: f.Pgno, Data: append([]byte(nil), f.Data...)})
	}
	if err := p.wal.AppendFrames(pages, p.pageCount); err != nil {
		return p.SetStatus(err)
	}
	for f := sorted; f != nil; {
		next := f.Next()
		p.bufmgr.RemoveDirty(f)
		f = next
	}

	if err := p.wal.EndWrite(); err != nil {
		return p.SetStatus(err)
	}
	if err := p.wal.EndRead(); err != nil {
		return p.SetStatus(err)
	}
	p.mode = ModeOpen
	return nil
}

// Rollback ends the current transaction. A read transaction just releases
// its snapshot; a write transaction, or one latched in error mode, has
// every page modified this transaction discarded and the header fields
// captured at Begin restored. It purges the whole buffer pool rather
// than tracking precisely which frames this transaction touched, which is
// correct because nothing outside this transaction should still hold a
// reference when Rollback is called.
func (p *Pager) Rollback() error {
	if p.mode == ModeOpen {
		return ErrWrongMode
	}
	if err := p.bufmgr.Purge(); err != nil {
		return p.SetStatus(err)
	}
	if p.mode == ModeRead {
		if err := p.wal.EndRead(); err != nil {
			return p.SetStatus(err)
		}
		p.mode = ModeOpen
		return nil
	}
	if err := p.wal.Abort(); err != nil && err != wal.ErrWriteNotHeld {
		return p.SetStatus(err)
	}
	if err := p.wal.EndWrite(); err != nil && err != wal.ErrWriteNotHeld {
		return p.SetStatus(err)
	}
	if err := p.wal.EndRead(); err != nil && err != wal.ErrReadNotActive {
		return p.SetStatus(err)
	}
	p.pageCount = p.saved.pageCount
	p.freelistHead = p.saved.freelistHead
	p.freelistCount = p.saved.freelistCount
	p.changeCounter = p.saved.changeCounter
	p.schemaCookie = p.saved.schemaCookie
	p.catalogRoot = p.saved.catalogRoot
	p.mode = ModeOpen
	return nil
}

// Checkpoint copies committed WAL frames back into the main file and,
// when reset is true and no reader still needs them, restarts the WAL
// from frame 1. Valid only between transactions.
func (p *Pager) Checkpoint(reset bool) error {
	if p.mode != ModeOpen {
		return ErrWrongMode
	}
	return p.wal.Checkpoint(p.file, reset, p.opts.BusyHandler)
}

// SetSchemaCookie records a new schema generation number, bumped whenever
// the bucket namespace tree structurally changes.
func (p *Pager) SetSchemaCookie(v uint32) { p.schemaCookie = v }

// CatalogRoot returns the page number of the bucket-catalog tree's root,
// or 0 if the catalog has not been created yet.
func (p *Pager) CatalogRoot() uint32 { return p.catalogRoot }

// SetCatalogRoot records the catalog tree's root page, marking page 1
// dirty so the new value is durable at the next Commit.
func (p *Pager) SetCatalogRoot(pgno uint32) error {
	ref, err := p.Acquire(SchemaRoot)
	if err != nil {
		return err
	}
	defer p.Release(ref, HintKeep)
	if err := p.MarkDirty(ref); err != nil {
		return err
	}
	p.catalogRoot = pgno
	return nil
}

// FreelistCount returns the number of pages currently on the freelist.
func (p *Pager) FreelistCount() uint32 { return p.freelistCount }

// Truncate shrinks the database to newCount pages. The caller must have
// already relocated every live page beyond newCount down into the range
// up to it; the vacated pages need not be returned to the freelist —
// they simply cease to exist.
func (p *Pager) Truncate(newCount uint32) error {
	if p.mode != ModeWrite && p.mode != ModeDirty {
		return ErrWrongMode
	}
	if newCount >= p.pageCount {
		return nil
	}
	p.pageCount = newCount
	return nil
}
