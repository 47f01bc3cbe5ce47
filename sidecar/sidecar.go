// Package sidecar implements the global, docid/term_id-keyed side
// segments: payload (external row locator), field-norm (quantized
// document length), term-stat (per-term document frequency), and the
// delete bitmap. The first three share one fixed-stride random-access
// array implementation over vpage; the delete bitmap is a real
// github.com/RoaringBitmap/roaring bitmap, serialized wholesale into its
// own small page chain.
package sidecar

import (
	"encoding/binary"
	"io"

	"github.com/RoaringBitmap/roaring"

	"bm25idx/pagestore"
	"bm25idx/vpage"
)

// FixedStrideSegment is a random-access array of fixed-width records over a
// vpage virtual file, used for payload (8 bytes), fieldnorm (1 byte), and
// term-stat (4 bytes) segments. Records never straddle a page boundary:
// recordsPerPage is the floor of PageBytes/stride, and the segment pads out
// the remainder of each data page once that many records have been
// appended, so index -> (page, in-page offset) is a pure function of
// stride and recordsPerPage alone.
type FixedStrideSegment struct {
	pager          *pagestore.Pager
	stride         int
	recordsPerPage uint64

	headerBlkno pagestore.BlockNo
	root        pagestore.BlockNo
	count       uint64

	writer *vpage.Writer
	reader *vpage.Reader
}

const headerSize = 4 + 8 // root blkno + count

func writeHeader(pager *pagestore.Pager, blkno pagestore.BlockNo, root pagestore.BlockNo, count uint64) error {
	guard, err := pager.Write(blkno)
	if err != nil {
		return err
	}
	page := guard.Page()
	page.Reset()
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf[0:4], root)
	binary.LittleEndian.PutUint64(buf[4:12], count)
	off, err := page.Grow(len(buf))
	if err != nil {
		guard.Abort()
		return err
	}
	copy(page.Content()[off:], buf)
	return guard.Commit()
}

func readHeader(pager *pagestore.Pager, blkno pagestore.BlockNo) (root pagestore.BlockNo, count uint64, err error) {
	guard, err := pager.Read(blkno)
	if err != nil {
		return 0, 0, err
	}
	defer guard.Release()
	data := guard.Page().Used()
	root = binary.LittleEndian.Uint32(data[0:4])
	count = binary.LittleEndian.Uint64(data[4:12])
	return root, count, nil
}

// CreateFixedStrideSegment allocates a brand-new, empty segment: one header
// page (recording its vpage root and record count) plus the vpage file
// itself. The returned HeaderBlkno is what the caller persists as the
// catalog's side-segment head pointer.
func CreateFixedStrideSegment(pager *pagestore.Pager, fl *pagestore.FreeList, head *pagestore.BlockNo, flag pagestore.PageFlag, stride int) (*FixedStrideSegment, error) {
	headerGuard, err := fl.Alloc(pagestore.FlagSidecar, head)
	if err != nil {
		return nil, err
	}
	headerBlkno := headerGuard.Page().Blkno()
	if err := headerGuard.Commit(); err != nil {
		return nil, err
	}

	writer, err := vpage.Create(pager, fl, head, flag)
	if err != nil {
		return nil, err
	}
	if err := writeHeader(pager, headerBlkno, writer.Root(), 0); err != nil {
		return nil, err
	}

	return &FixedStrideSegment{
		pager:          pager,
		stride:         stride,
		recordsPerPage: recordsPerPage(stride),
		headerBlkno:    headerBlkno,
		root:           writer.Root(),
		writer:         writer,
		reader:         vpage.Open(pager, writer.Root()),
	}, nil
}

// OpenFixedStrideSegment reopens a segment previously created by
// CreateFixedStrideSegment, ready for further Append calls as well as
// random Get/Update.
func OpenFixedStrideSegment(pager *pagestore.Pager, fl *pagestore.FreeList, head *pagestore.BlockNo, flag pagestore.PageFlag, headerBlkno pagestore.BlockNo, stride int) (*FixedStrideSegment, error) {
	root, count, err := readHeader(pager, headerBlkno)
	if err != nil {
		return nil, err
	}
	writer, err := vpage.Reopen(pager, fl, head, flag, root)
	if err != nil {
		return nil, err
	}
	return &FixedStrideSegment{
		pager:          pager,
		stride:         stride,
		recordsPerPage: recordsPerPage(stride),
		headerBlkno:    headerBlkno,
		root:           root,
		count:          count,
		writer:         writer,
		reader:         vpage.Open(pager, root),
	}, nil
}

func recordsPerPage(stride int) uint64 {
	return uint64(vpage.PageBytes) / uint64(stride)
}

func (s *FixedStrideSegment) offset(index uint64) uint64 {
	page := index / s.recordsPerPage
	local := index % s.recordsPerPage
	return page*uint64(vpage.PageBytes) + local*uint64(s.stride)
}

// HeaderBlkno returns the page the caller should record as this segment's
// catalog head pointer.
func (s *FixedStrideSegment) HeaderBlkno() pagestore.BlockNo { return s.headerBlkno }

// Count reports how many records have been appended.
func (s *FixedStrideSegment) Count() uint64 { return s.count }

// Append writes one new record (implicitly at index Count()), padding onto
// a fresh data page first if the current page has already filled its
// recordsPerPage budget.
func (s *FixedStrideSegment) Append(data []byte) error {
	if s.count > 0 && s.count%s.recordsPerPage == 0 {
		if err := s.writer.Pad(); err != nil {
			return err
		}
	}
	if _, err := s.writer.Write(data); err != nil {
		return err
	}
	s.count++
	return writeHeader(s.pager, s.headerBlkno, s.root, s.count)
}

// Get copies the record at index into a fresh slice.
func (s *FixedStrideSegment) Get(index uint64) ([]byte, error) {
	buf := make([]byte, s.stride)
	if err := s.reader.ReadAt(s.offset(index), buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Update applies fn to the record at index in place.
func (s *FixedStrideSegment) Update(index uint64, fn func([]byte)) error {
	return s.reader.UpdateAt(s.offset(index), s.stride, fn)
}

// PayloadSegment stores an 8-byte external row locator per docid.
type PayloadSegment struct{ seg *FixedStrideSegment }

func CreatePayload(pager *pagestore.Pager, fl *pagestore.FreeList, head *pagestore.BlockNo) (*PayloadSegment, error) {
	seg, err := CreateFixedStrideSegment(pager, fl, head, pagestore.FlagSidecar, 8)
	if err != nil {
		return nil, err
	}
	return &PayloadSegment{seg: seg}, nil
}

func OpenPayload(pager *pagestore.Pager, fl *pagestore.FreeList, head *pagestore.BlockNo, headerBlkno pagestore.BlockNo) (*PayloadSegment, error) {
	seg, err := OpenFixedStrideSegment(pager, fl, head, pagestore.FlagSidecar, headerBlkno, 8)
	if err != nil {
		return nil, err
	}
	return &PayloadSegment{seg: seg}, nil
}

func (p *PayloadSegment) HeaderBlkno() pagestore.BlockNo { return p.seg.HeaderBlkno() }

// Append records rowLocator as the payload for the next docid.
func (p *PayloadSegment) Append(rowLocator uint64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, rowLocator)
	return p.seg.Append(buf)
}

// Get returns the row locator stored for docID.
func (p *PayloadSegment) Get(docID uint32) (uint64, error) {
	buf, err := p.seg.Get(uint64(docID))
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// FieldnormSegment stores a 1-byte quantized document length per docid.
type FieldnormSegment struct{ seg *FixedStrideSegment }

func CreateFieldnorm(pager *pagestore.Pager, fl *pagestore.FreeList, head *pagestore.BlockNo) (*FieldnormSegment, error) {
	seg, err := CreateFixedStrideSegment(pager, fl, head, pagestore.FlagSidecar, 1)
	if err != nil {
		return nil, err
	}
	return &FieldnormSegment{seg: seg}, nil
}

func OpenFieldnorm(pager *pagestore.Pager, fl *pagestore.FreeList, head *pagestore.BlockNo, headerBlkno pagestore.BlockNo) (*FieldnormSegment, error) {
	seg, err := OpenFixedStrideSegment(pager, fl, head, pagestore.FlagSidecar, headerBlkno, 1)
	if err != nil {
		return nil, err
	}
	return &FieldnormSegment{seg: seg}, nil
}

func (f *FieldnormSegment) HeaderBlkno() pagestore.BlockNo { return f.seg.HeaderBlkno() }

func (f *FieldnormSegment) Append(id uint8) error {
	return f.seg.Append([]byte{id})
}

func (f *FieldnormSegment) Get(docID uint32) (uint8, error) {
	buf, err := f.seg.Get(uint64(docID))
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

// TermStatSegment stores a 4-byte live document frequency per term_id.
// Unlike payload/fieldnorm, entries are not appended strictly in order:
// a term_id observed for the first time during a seal may be far ahead of
// the segment's current Count(), so EnsureLength zero-fills the gap.
type TermStatSegment struct{ seg *FixedStrideSegment }

func CreateTermStat(pager *pagestore.Pager, fl *pagestore.FreeList, head *pagestore.BlockNo) (*TermStatSegment, error) {
	seg, err := CreateFixedStrideSegment(pager, fl, head, pagestore.FlagSidecar, 4)
	if err != nil {
		return nil, err
	}
	return &TermStatSegment{seg: seg}, nil
}

func OpenTermStat(pager *pagestore.Pager, fl *pagestore.FreeList, head *pagestore.BlockNo, headerBlkno pagestore.BlockNo) (*TermStatSegment, error) {
	seg, err := OpenFixedStrideSegment(pager, fl, head, pagestore.FlagSidecar, headerBlkno, 4)
	if err != nil {
		return nil, err
	}
	return &TermStatSegment{seg: seg}, nil
}

func (t *TermStatSegment) HeaderBlkno() pagestore.BlockNo { return t.seg.HeaderBlkno() }

// Count reports how many term_ids currently have a slot.
func (t *TermStatSegment) Count() uint64 { return t.seg.Count() }

// EnsureLength zero-fills term-stat entries until Count() >= n, so
// AddDocFreq can always assume termID already has a slot.
func (t *TermStatSegment) EnsureLength(n uint64) error {
	zero := make([]byte, 4)
	for t.seg.Count() < n {
		if err := t.seg.Append(zero); err != nil {
			return err
		}
	}
	return nil
}

// AddDocFreq adds delta (positive on seal, negative on vacuum cleanup) to
// termID's live document frequency, growing the segment first if termID
// has never been seen.
func (t *TermStatSegment) AddDocFreq(termID uint32, delta int32) error {
	if err := t.EnsureLength(uint64(termID) + 1); err != nil {
		return err
	}
	return t.seg.Update(uint64(termID), func(b []byte) {
		cur := binary.LittleEndian.Uint32(b)
		binary.LittleEndian.PutUint32(b, uint32(int64(cur)+int64(delta)))
	})
}

// DocFreq returns termID's current live document frequency, 0 if termID
// has never been seen.
func (t *TermStatSegment) DocFreq(termID uint32) (uint32, error) {
	if uint64(termID) >= t.seg.Count() {
		return 0, nil
	}
	buf, err := t.seg.Get(uint64(termID))
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// DeleteBitmap tracks which docids have been soft-deleted. It keeps a
// github.com/RoaringBitmap/roaring bitmap in memory and persists it
// wholesale -- a sparse-then-dense 32-bit doc-id set with add/contains/
// iterate is exactly the access pattern roaring is built for, unlike the
// posting side's delta-bitpack/Elias-Fano blocks. The bitmap is
// reserialized into a fresh page chain on every Save; the previous chain's
// pages are freed once the new chain is written, so a long-running index
// doesn't leak a chain per save.
type DeleteBitmap struct {
	pager *pagestore.Pager
	fl    *pagestore.FreeList
	head  *pagestore.BlockNo

	rootBlkno pagestore.BlockNo
	bm        *roaring.Bitmap
}

// CreateDeleteBitmap allocates a fresh, empty delete bitmap.
func CreateDeleteBitmap(pager *pagestore.Pager, fl *pagestore.FreeList, head *pagestore.BlockNo) (*DeleteBitmap, error) {
	d := &DeleteBitmap{pager: pager, fl: fl, head: head, rootBlkno: pagestore.InvalidBlockNo, bm: roaring.NewBitmap()}
	if err := d.Save(); err != nil {
		return nil, err
	}
	return d, nil
}

// OpenDeleteBitmap loads an existing delete bitmap from its page chain
// root.
func OpenDeleteBitmap(pager *pagestore.Pager, fl *pagestore.FreeList, head *pagestore.BlockNo, root pagestore.BlockNo) (*DeleteBitmap, error) {
	blob, err := readChain(pager, root)
	if err != nil {
		return nil, err
	}
	bm := roaring.NewBitmap()
	if len(blob) > 0 {
		if _, err := bm.FromBuffer(blob); err != nil {
			return nil, err
		}
	}
	return &DeleteBitmap{pager: pager, fl: fl, head: head, rootBlkno: root, bm: bm}, nil
}

// RootBlkno returns the page the caller should persist as the catalog's
// delete-bitmap head pointer.
func (d *DeleteBitmap) RootBlkno() pagestore.BlockNo { return d.rootBlkno }

// Delete marks docID as deleted. Callers must call Save to persist it.
func (d *DeleteBitmap) Delete(docID uint32) { d.bm.Add(docID) }

// IsDeleted reports whether docID has been soft-deleted.
func (d *DeleteBitmap) IsDeleted(docID uint32) bool { return d.bm.Contains(docID) }

// Cardinality returns the number of deleted docids.
func (d *DeleteBitmap) Cardinality() uint64 { return d.bm.GetCardinality() }

// Save serializes the in-memory bitmap into a fresh page chain, freeing
// the previous one.
func (d *DeleteBitmap) Save() error {
	blob, err := d.bm.ToBytes()
	if err != nil {
		return err
	}
	oldRoot := d.rootBlkno
	newRoot, err := writeChain(d.fl, d.head, blob)
	if err != nil {
		return err
	}
	d.rootBlkno = newRoot
	if oldRoot != pagestore.InvalidBlockNo {
		if err := freeChain(d.pager, d.fl, d.head, oldRoot); err != nil {
			return err
		}
	}
	return nil
}

func writeChain(fl *pagestore.FreeList, head *pagestore.BlockNo, blob []byte) (pagestore.BlockNo, error) {
	w, err := pagestore.NewPageWriter(fl, head, pagestore.FlagSidecar)
	if err != nil {
		return 0, err
	}
	if _, err := w.Write(blob); err != nil {
		return 0, err
	}
	first := w.FirstBlock()
	if err := w.Close(); err != nil {
		return 0, err
	}
	return first, nil
}

func readChain(pager *pagestore.Pager, root pagestore.BlockNo) ([]byte, error) {
	r := pagestore.OpenPageReader(pager, root)
	var out []byte
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func freeChain(pager *pagestore.Pager, fl *pagestore.FreeList, head *pagestore.BlockNo, root pagestore.BlockNo) error {
	cur := root
	for cur != pagestore.InvalidBlockNo {
		guard, err := pager.Read(cur)
		if err != nil {
			return err
		}
		next := guard.Page().NextBlkno()
		guard.Release()
		if err := fl.Free(cur, head); err != nil {
			return err
		}
		cur = next
	}
	return nil
}
