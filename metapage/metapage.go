// Package metapage implements the single, fixed-location catalog page
// (block 0) that coordinates every other part of the index: document
// counters, the side-segment head pages, the growing-segment descriptor,
// the free-page-list head, and the append-only array of sealed-segment
// descriptors.
package metapage

import (
	"encoding/binary"
	"fmt"
	"sync"

	"go.uber.org/atomic"

	"bm25idx/bmerr"
	"bm25idx/pagestore"
)

// Blkno is the fixed block number the meta page always lives at.
const Blkno pagestore.BlockNo = 0

// Version is stamped into every freshly created catalog, so a future format
// change can be detected at Open.
const Version uint32 = 1

// SealedSegmentData describes one immutable sealed segment: where its
// term-info table (vpage.Writer root, keyed by term_id) lives, and the doc
// statistics needed to fold it into a corpus-wide average document length
// without re-scanning its postings.
type SealedSegmentData struct {
	TermInfoRoot pagestore.BlockNo
	DocCount     uint32
	DocTermCount uint64
}

const sealedSegmentSize = 4 + 4 + 8

func (s SealedSegmentData) marshal(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], s.TermInfoRoot)
	binary.LittleEndian.PutUint32(buf[4:8], s.DocCount)
	binary.LittleEndian.PutUint64(buf[8:16], s.DocTermCount)
}

func unmarshalSealedSegment(data []byte) SealedSegmentData {
	return SealedSegmentData{
		TermInfoRoot: binary.LittleEndian.Uint32(data[0:4]),
		DocCount:     binary.LittleEndian.Uint32(data[4:8]),
		DocTermCount: binary.LittleEndian.Uint64(data[8:16]),
	}
}

// GrowingDescriptor records the append-only growing segment's page chain,
// or IsEmpty() if no growing segment has been created yet (it is created
// lazily, on the first insert after a seal).
type GrowingDescriptor struct {
	HeadBlkno pagestore.BlockNo
	TailBlkno pagestore.BlockNo
}

// IsEmpty reports whether no growing segment currently exists.
func (g GrowingDescriptor) IsEmpty() bool { return g.HeadBlkno == pagestore.InvalidBlockNo }

// NoGrowingSegment is the zero value meaning "no growing segment yet".
var NoGrowingSegment = GrowingDescriptor{HeadBlkno: pagestore.InvalidBlockNo, TailBlkno: pagestore.InvalidBlockNo}

const growingDescriptorSize = 4 + 4

// sideSegmentCount is the number of global, docid/term_id-keyed side
// segments the catalog tracks head pages for: payload, fieldnorm,
// term-stat, delete-bitmap.
const sideSegmentCount = 4

const (
	sidePayload = iota
	sideFieldnorm
	sideTermStat
	sideDeleteBitmap
)

// fixedHeaderSize is everything in a marshaled Catalog before the
// variable-length sealed-segment array: version, doc_cnt, doc_term_cnt,
// sealed_doc_id, current_doc_id, sideSegmentCount head pages, free-list
// head, the growing descriptor, and a uint32 sealed-segment count.
const fixedHeaderSize = 4 + 4 + 8 + 4 + 4 + sideSegmentCount*4 + 4 + growingDescriptorSize + 4

// Catalog is the in-memory mirror of the meta page, kept consistent with
// block 0 under mu. Hot counters are additionally stored as
// go.uber.org/atomic values so readers that only need one field (e.g. a
// scan wanting CurrentDocID for an avgdl estimate) can do so lock-free;
// any operation that must update more than one field together (a seal
// publish, a bulk delete) still takes mu for the whole compound
// update, so the on-disk catalog commits before the lock is released.
type Catalog struct {
	pager *pagestore.Pager
	fl    *pagestore.FreeList

	mu sync.RWMutex

	docCount     atomic.Uint32
	docTermCount atomic.Uint64
	sealedDocID  atomic.Uint32
	currentDocID atomic.Uint32

	sideHeads [sideSegmentCount]pagestore.BlockNo
	freeHead  pagestore.BlockNo
	growing   GrowingDescriptor
	sealed    []SealedSegmentData
}

// Create initializes a brand-new, empty catalog at block 0. pager must not
// already have a block 0 (i.e. this is called exactly once, by Build).
func Create(pager *pagestore.Pager) (*Catalog, error) {
	guard, err := pager.AllocRaw(pagestore.FlagMeta)
	if err != nil {
		return nil, err
	}
	if guard.Page().Blkno() != Blkno {
		guard.Abort()
		return nil, fmt.Errorf("metapage: expected block 0 for meta page, got %d: %w", guard.Page().Blkno(), bmerr.ErrCorruption)
	}

	c := &Catalog{
		pager:    pager,
		fl:       pagestore.NewFreeList(pager),
		freeHead: pagestore.InvalidBlockNo,
		growing:  NoGrowingSegment,
	}
	for i := range c.sideHeads {
		c.sideHeads[i] = pagestore.InvalidBlockNo
	}

	data := c.marshal()
	if _, err := guard.Page().Grow(len(data)); err != nil {
		guard.Abort()
		return nil, err
	}
	copy(guard.Page().Content(), data)
	if err := guard.Commit(); err != nil {
		return nil, err
	}
	return c, nil
}

// Open loads the existing catalog at block 0.
func Open(pager *pagestore.Pager) (*Catalog, error) {
	guard, err := pager.Read(Blkno)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	c, err := unmarshalCatalog(guard.Page().Used())
	if err != nil {
		return nil, err
	}
	c.pager = pager
	c.fl = pagestore.NewFreeList(pager)
	return c, nil
}

func (c *Catalog) marshal() []byte {
	n := len(c.sealed)
	buf := make([]byte, fixedHeaderSize+n*sealedSegmentSize)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], Version)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], c.docCount.Load())
	off += 4
	binary.LittleEndian.PutUint64(buf[off:], c.docTermCount.Load())
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], c.sealedDocID.Load())
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], c.currentDocID.Load())
	off += 4
	for _, h := range c.sideHeads {
		binary.LittleEndian.PutUint32(buf[off:], h)
		off += 4
	}
	binary.LittleEndian.PutUint32(buf[off:], c.freeHead)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], c.growing.HeadBlkno)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], c.growing.TailBlkno)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(n))
	off += 4
	for _, s := range c.sealed {
		s.marshal(buf[off:])
		off += sealedSegmentSize
	}
	return buf
}

func unmarshalCatalog(data []byte) (*Catalog, error) {
	if len(data) < fixedHeaderSize {
		return nil, fmt.Errorf("metapage: page too short (%d bytes): %w", len(data), bmerr.ErrCorruption)
	}
	c := &Catalog{}
	off := 0
	version := binary.LittleEndian.Uint32(data[off:])
	off += 4
	if version != Version {
		return nil, fmt.Errorf("metapage: unsupported version %d: %w", version, bmerr.ErrCorruption)
	}
	c.docCount.Store(binary.LittleEndian.Uint32(data[off:]))
	off += 4
	c.docTermCount.Store(binary.LittleEndian.Uint64(data[off:]))
	off += 8
	c.sealedDocID.Store(binary.LittleEndian.Uint32(data[off:]))
	off += 4
	c.currentDocID.Store(binary.LittleEndian.Uint32(data[off:]))
	off += 4
	for i := range c.sideHeads {
		c.sideHeads[i] = binary.LittleEndian.Uint32(data[off:])
		off += 4
	}
	c.freeHead = binary.LittleEndian.Uint32(data[off:])
	off += 4
	c.growing.HeadBlkno = binary.LittleEndian.Uint32(data[off:])
	off += 4
	c.growing.TailBlkno = binary.LittleEndian.Uint32(data[off:])
	off += 4
	n := int(binary.LittleEndian.Uint32(data[off:]))
	off += 4
	want := fixedHeaderSize + n*sealedSegmentSize
	if len(data) < want {
		return nil, fmt.Errorf("metapage: truncated sealed-segment array (want %d, have %d): %w", want, len(data), bmerr.ErrCorruption)
	}
	c.sealed = make([]SealedSegmentData, n)
	for i := 0; i < n; i++ {
		c.sealed[i] = unmarshalSealedSegment(data[off:])
		off += sealedSegmentSize
	}
	return c, nil
}

// save persists the catalog to block 0. Callers must hold at least a read
// lock on the fields they've changed; save itself takes the page's
// exclusive write guard internally via pager.Write.
func (c *Catalog) save() error {
	guard, err := c.pager.Write(Blkno)
	if err != nil {
		return err
	}
	page := guard.Page()
	page.Reset()
	data := c.marshal()
	off, err := page.Grow(len(data))
	if err != nil {
		guard.Abort()
		return err
	}
	copy(page.Content()[off:], data)
	return guard.Commit()
}

// FreeList returns the catalog-owned free list. Free-list operations are
// serialized under the catalog's exclusive lock, since the list head is a
// catalog field.
func (c *Catalog) FreeList() *pagestore.FreeList { return c.fl }

// FreeListHead returns a pointer to the catalog's free-list head field for
// passing straight into FreeList.Alloc/Free. Callers must only mutate
// *head while holding the catalog's lock (WithLock), per the free-list
// rule above.
func (c *Catalog) FreeListHead() *pagestore.BlockNo { return &c.freeHead }

// DocCount, DocTermCount, SealedDocID, CurrentDocID are lock-free reads
// of the hot counters.
func (c *Catalog) DocCount() uint32     { return c.docCount.Load() }
func (c *Catalog) DocTermCount() uint64 { return c.docTermCount.Load() }
func (c *Catalog) SealedDocID() uint32  { return c.sealedDocID.Load() }
func (c *Catalog) CurrentDocID() uint32 { return c.currentDocID.Load() }

// AvgDocLen returns the corpus-wide average live document length BM25
// scoring needs, zero if the corpus is empty.
func (c *Catalog) AvgDocLen() float32 {
	n := c.docCount.Load()
	if n == 0 {
		return 0
	}
	return float32(c.docTermCount.Load()) / float32(n)
}

// PayloadHead, FieldnormHead, TermStatHead and DeleteBitmapHead expose the
// four global side-segment head pages by name, used by bm25index so it
// never has to know the catalog's on-disk field order.
func (c *Catalog) PayloadHead() pagestore.BlockNo      { return c.getSideHead(sidePayload) }
func (c *Catalog) FieldnormHead() pagestore.BlockNo    { return c.getSideHead(sideFieldnorm) }
func (c *Catalog) TermStatHead() pagestore.BlockNo     { return c.getSideHead(sideTermStat) }
func (c *Catalog) DeleteBitmapHead() pagestore.BlockNo { return c.getSideHead(sideDeleteBitmap) }

func (c *Catalog) getSideHead(which int) pagestore.BlockNo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sideHeads[which]
}

// WithLock runs fn while holding the catalog's exclusive lock, for callers
// (bm25index.Index) that need to perform a compound read-modify-write
// across several of the accessors below -- e.g. "allocate the growing
// segment's first page and record its head/tail in the same critical
// section as bumping current_doc_id".
func (c *Catalog) WithLock(fn func(*Catalog) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fn(c)
}

// SetPayloadHead etc. must be called only from within WithLock.
func (c *Catalog) SetPayloadHead(b pagestore.BlockNo)      { c.sideHeads[sidePayload] = b }
func (c *Catalog) SetFieldnormHead(b pagestore.BlockNo)    { c.sideHeads[sideFieldnorm] = b }
func (c *Catalog) SetTermStatHead(b pagestore.BlockNo)     { c.sideHeads[sideTermStat] = b }
func (c *Catalog) SetDeleteBitmapHead(b pagestore.BlockNo) { c.sideHeads[sideDeleteBitmap] = b }

// Growing returns the current growing-segment descriptor. Must be called
// within WithLock if the caller intends to act on a consistent snapshot of
// it alongside CurrentDocID.
func (c *Catalog) Growing() GrowingDescriptor { return c.growing }

// SetGrowing replaces the growing-segment descriptor. Must be called only
// from within WithLock.
func (c *Catalog) SetGrowing(g GrowingDescriptor) { c.growing = g }

// Sealed returns a snapshot copy of the sealed-segment descriptor array.
func (c *Catalog) Sealed() []SealedSegmentData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]SealedSegmentData, len(c.sealed))
	copy(out, c.sealed)
	return out
}

// AppendSealed appends a new sealed-segment descriptor and clears the
// growing-segment descriptor, the publish step of a seal. Must be called
// only from within WithLock.
func (c *Catalog) AppendSealed(s SealedSegmentData) {
	c.sealed = append(c.sealed, s)
	c.growing = NoGrowingSegment
}

// UpdateLastSealed replaces the most recent sealed-segment descriptor and
// clears the growing-segment descriptor, the publish step of an
// append-style seal (one that extended the existing segment's posting
// lists instead of creating a new segment). Must be called only from
// within WithLock.
func (c *Catalog) UpdateLastSealed(s SealedSegmentData) {
	c.sealed[len(c.sealed)-1] = s
	c.growing = NoGrowingSegment
}

// IncrDocCounts bumps doc_cnt/doc_term_cnt/current_doc_id by the given
// deltas (current_doc_id by currentDocIDDelta, doc_cnt/doc_term_cnt by their own
// deltas since a delete decrements doc_cnt without moving current_doc_id).
// Must be called only from within WithLock so it composes atomically with
// whatever side-segment/growing-segment writes the caller does in the same
// critical section.
func (c *Catalog) IncrDocCounts(docCntDelta int64, docTermCntDelta int64, currentDocIDDelta uint32) {
	if docCntDelta != 0 {
		c.docCount.Store(uint32(int64(c.docCount.Load()) + docCntDelta))
	}
	if docTermCntDelta != 0 {
		c.docTermCount.Store(uint64(int64(c.docTermCount.Load()) + docTermCntDelta))
	}
	if currentDocIDDelta != 0 {
		c.currentDocID.Store(c.currentDocID.Load() + currentDocIDDelta)
	}
}

// SetSealedDocID updates sealed_doc_id, called when a seal publishes.
// Must be called only from within WithLock.
func (c *Catalog) SetSealedDocID(v uint32) { c.sealedDocID.Store(v) }

// Save persists the full catalog. Exposed so WithLock callers can commit
// their compound update to disk before releasing the lock.
func (c *Catalog) Save() error { return c.save() }
