package pagestore

import (
	"fmt"
	"io"
	"os"
	"sync"

	"bm25idx/bmerr"
)

// Pager owns a single relation file made of fixed-size pages and the
// per-page locks that give readers and writers their shared/exclusive
// contract. It simulates the host's buffer manager; real deployments
// would replace this with the actual storage engine's page cache.
type Pager struct {
	file *os.File

	growMu sync.Mutex // serializes file-extending allocations
	npages uint32

	locksMu sync.Mutex
	locks   map[BlockNo]*sync.RWMutex
}

// Create creates a brand-new, empty relation file at path.
func Create(path string) (*Pager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("pagestore: create %s: %w", path, err)
	}
	return &Pager{file: f, locks: make(map[BlockNo]*sync.RWMutex)}, nil
}

// Open opens an existing relation file at path.
func Open(path string) (*Pager, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("pagestore: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pagestore: stat %s: %w", path, err)
	}
	if info.Size()%PageSize != 0 {
		f.Close()
		return nil, fmt.Errorf("pagestore: %s has truncated trailing page: %w", path, bmerr.ErrCorruption)
	}
	return &Pager{
		file:   f,
		npages: uint32(info.Size() / PageSize),
		locks:  make(map[BlockNo]*sync.RWMutex),
	}, nil
}

// Close flushes and closes the underlying file.
func (p *Pager) Close() error {
	return p.file.Close()
}

// NumPages reports how many pages the relation currently has.
func (p *Pager) NumPages() uint32 {
	p.growMu.Lock()
	defer p.growMu.Unlock()
	return p.npages
}

func (p *Pager) lockFor(blkno BlockNo) *sync.RWMutex {
	p.locksMu.Lock()
	defer p.locksMu.Unlock()
	l, ok := p.locks[blkno]
	if !ok {
		l = &sync.RWMutex{}
		p.locks[blkno] = l
	}
	return l
}

// ReadGuard is a shared-read handle on one page.
type ReadGuard struct {
	pager *Pager
	lock  *sync.RWMutex
	page  *Page
}

// Page exposes the read-locked page.
func (g *ReadGuard) Page() *Page { return g.page }

// Release drops the shared lock. Safe to call exactly once.
func (g *ReadGuard) Release() {
	g.lock.RUnlock()
}

// Read acquires a shared lock on blkno and loads its current image from disk.
func (p *Pager) Read(blkno BlockNo) (*ReadGuard, error) {
	lock := p.lockFor(blkno)
	lock.RLock()
	page, err := p.loadLocked(blkno)
	if err != nil {
		lock.RUnlock()
		return nil, err
	}
	return &ReadGuard{pager: p, lock: lock, page: page}, nil
}

// WriteGuard is an exclusive handle on one page. The journal contract:
// Commit persists the page and releases the lock; Abort discards any
// in-memory changes and releases the lock. Exactly one of the two must be
// called on every exit path.
type WriteGuard struct {
	pager *Pager
	lock  *sync.RWMutex
	page  *Page
	done  bool
}

// Page exposes the write-locked page for in-place mutation.
func (g *WriteGuard) Page() *Page { return g.page }

// Commit persists the page to disk and releases the exclusive lock.
func (g *WriteGuard) Commit() error {
	if g.done {
		return nil
	}
	g.done = true
	defer g.lock.Unlock()
	return g.pager.storeLocked(g.page)
}

// Abort discards in-memory changes and releases the exclusive lock without
// writing anything back.
func (g *WriteGuard) Abort() {
	if g.done {
		return
	}
	g.done = true
	g.lock.Unlock()
}

// Write acquires an exclusive lock on blkno and loads its current image.
func (p *Pager) Write(blkno BlockNo) (*WriteGuard, error) {
	lock := p.lockFor(blkno)
	lock.Lock()
	page, err := p.loadLocked(blkno)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	return &WriteGuard{pager: p, lock: lock, page: page}, nil
}

// AllocRaw extends the relation file by one fresh page and returns it
// exclusively locked and already initialized with flag. It does not
// consult the free list; callers that want free-list reuse should go
// through a FreeList (see freelist.go).
func (p *Pager) AllocRaw(flag PageFlag) (*WriteGuard, error) {
	p.growMu.Lock()
	blkno := p.npages
	p.npages++
	p.growMu.Unlock()

	lock := p.lockFor(blkno)
	lock.Lock()
	page := initPage(blkno, flag)
	if err := p.storeLockedNoUnlock(page); err != nil {
		lock.Unlock()
		return nil, err
	}
	return &WriteGuard{pager: p, lock: lock, page: page}, nil
}

func (p *Pager) loadLocked(blkno BlockNo) (*Page, error) {
	if blkno >= p.NumPages() {
		return nil, fmt.Errorf("pagestore: read out-of-range block %d: %w", blkno, bmerr.ErrCorruption)
	}
	page := &Page{blkno: blkno}
	if _, err := p.file.ReadAt(page.raw[:], int64(blkno)*PageSize); err != nil {
		return nil, fmt.Errorf("pagestore: read block %d: %w", blkno, err)
	}
	if err := page.checkMagic(); err != nil {
		return nil, err
	}
	return page, nil
}

func (p *Pager) storeLocked(page *Page) error {
	return p.storeLockedNoUnlock(page)
}

func (p *Pager) storeLockedNoUnlock(page *Page) error {
	if _, err := p.file.WriteAt(page.raw[:], int64(page.blkno)*PageSize); err != nil {
		return fmt.Errorf("pagestore: write block %d: %w", page.blkno, err)
	}
	return nil
}

var _ io.Closer = (*Pager)(nil)
