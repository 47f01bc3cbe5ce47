// Package segment implements the two posting-bearing segment kinds: the
// growing segment, an append-only log of per-document sparse term vectors
// fed directly by Insert, and the sealed segment, the immutable per-term
// posting lists a seal compiles the growing log into.
package segment

import (
	"encoding/binary"
	"fmt"
	"io"

	"bm25idx/bmerr"
	"bm25idx/metapage"
	"bm25idx/pagestore"
)

// TermFreq is one (term_id, term frequency) pair within a document's sparse
// vector.
type TermFreq struct {
	TermID uint32
	TF     uint32
}

// DocVector is one document's sparse term vector as recorded in the growing
// segment: docid plus every term it contains.
type DocVector struct {
	DocID uint32
	Terms []TermFreq
}

func (d DocVector) marshal() []byte {
	buf := make([]byte, 8+len(d.Terms)*8)
	binary.LittleEndian.PutUint32(buf[0:4], d.DocID)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(d.Terms)))
	off := 8
	for _, t := range d.Terms {
		binary.LittleEndian.PutUint32(buf[off:], t.TermID)
		binary.LittleEndian.PutUint32(buf[off+4:], t.TF)
		off += 8
	}
	return buf
}

// growingAppender writes variable-length records across a chain of
// pagestore pages, spilling onto a freshly allocated, chained page whenever
// the tail runs out of room. Unlike pagestore.PageWriter it never holds a
// page locked between calls, so it can be cheaply reopened to resume
// appending after the index is closed and reopened, the same tradeoff
// posting's skipWriter makes for the skip-info chain.
type growingAppender struct {
	pager *pagestore.Pager
	fl    *pagestore.FreeList
	head  *pagestore.BlockNo

	first pagestore.BlockNo
	tail  pagestore.BlockNo
}

func newGrowingAppender(pager *pagestore.Pager, fl *pagestore.FreeList, head *pagestore.BlockNo) (*growingAppender, error) {
	guard, err := fl.Alloc(pagestore.FlagGrowing, head)
	if err != nil {
		return nil, err
	}
	blkno := guard.Page().Blkno()
	if err := guard.Commit(); err != nil {
		return nil, err
	}
	return &growingAppender{pager: pager, fl: fl, head: head, first: blkno, tail: blkno}, nil
}

func openGrowingAppender(pager *pagestore.Pager, fl *pagestore.FreeList, head *pagestore.BlockNo, first, tail pagestore.BlockNo) *growingAppender {
	return &growingAppender{pager: pager, fl: fl, head: head, first: first, tail: tail}
}

func (w *growingAppender) append(data []byte) error {
	for len(data) > 0 {
		guard, err := w.pager.Write(w.tail)
		if err != nil {
			return err
		}
		free := len(guard.Page().FreeSpace())
		if free == 0 {
			next, err := w.fl.Alloc(pagestore.FlagGrowing, w.head)
			if err != nil {
				guard.Abort()
				return err
			}
			nextBlkno := next.Page().Blkno()
			guard.Page().SetNextBlkno(nextBlkno)
			if err := guard.Commit(); err != nil {
				next.Abort()
				return err
			}
			if err := next.Commit(); err != nil {
				return err
			}
			w.tail = nextBlkno
			continue
		}

		n := len(data)
		if n > free {
			n = free
		}
		off, err := guard.Page().Grow(n)
		if err != nil {
			guard.Abort()
			return err
		}
		copy(guard.Page().Content()[off:], data[:n])
		if err := guard.Commit(); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// Growing is the append-only log backing the growing segment: every Insert
// appends one DocVector, and both the brute-force scan query path and a
// seal read it back start to finish through an Iterator.
type Growing struct {
	appender *growingAppender
}

// CreateGrowing starts a brand-new, empty growing segment.
func CreateGrowing(pager *pagestore.Pager, fl *pagestore.FreeList, head *pagestore.BlockNo) (*Growing, error) {
	a, err := newGrowingAppender(pager, fl, head)
	if err != nil {
		return nil, err
	}
	return &Growing{appender: a}, nil
}

// OpenGrowing resumes an existing growing segment for more appends, from the
// descriptor metapage.Catalog.Growing() returns.
func OpenGrowing(pager *pagestore.Pager, fl *pagestore.FreeList, head *pagestore.BlockNo, desc metapage.GrowingDescriptor) *Growing {
	return &Growing{appender: openGrowingAppender(pager, fl, head, desc.HeadBlkno, desc.TailBlkno)}
}

// Append records doc at the end of the log.
func (g *Growing) Append(doc DocVector) error {
	return g.appender.append(doc.marshal())
}

// Descriptor returns the head/tail pointers the caller should persist into
// the catalog so the segment can be reopened later.
func (g *Growing) Descriptor() metapage.GrowingDescriptor {
	return metapage.GrowingDescriptor{HeadBlkno: g.appender.first, TailBlkno: g.appender.tail}
}

// FreeChain returns every page of a growing segment's chain to the free
// list, once a seal has finished replaying it. The growing segment is
// destroyed wholesale; its pages are only ever reused through the free
// list, never handed back to the host.
func FreeChain(pager *pagestore.Pager, fl *pagestore.FreeList, head *pagestore.BlockNo, first pagestore.BlockNo) error {
	cur := first
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

// Iterator replays every DocVector in a growing segment's log, in the order
// they were appended (== increasing docid, since Insert always assigns the
// next docid in sequence).
type Iterator struct {
	r *pagestore.PageReader
}

// NewIterator returns an Iterator starting at head, the growing segment's
// first page.
func NewIterator(pager *pagestore.Pager, head pagestore.BlockNo) *Iterator {
	return &Iterator{r: pagestore.OpenPageReader(pager, head)}
}

// Next reads the next DocVector, reporting false (with a nil error) once the
// log is exhausted.
func (it *Iterator) Next() (DocVector, bool, error) {
	hdr := make([]byte, 8)
	n, err := it.r.Read(hdr)
	if err == io.EOF || n == 0 {
		return DocVector{}, false, nil
	}
	if err != nil {
		return DocVector{}, false, err
	}
	if n < len(hdr) {
		return DocVector{}, false, fmt.Errorf("segment: truncated growing record header: %w", bmerr.ErrCorruption)
	}
	docID := binary.LittleEndian.Uint32(hdr[0:4])
	numTerms := binary.LittleEndian.Uint32(hdr[4:8])

	var terms []TermFreq
	if numTerms > 0 {
		terms = make([]TermFreq, numTerms)
		body := make([]byte, numTerms*8)
		n2, err := it.r.Read(body)
		if err != nil && err != io.EOF {
			return DocVector{}, false, err
		}
		if uint32(n2) < numTerms*8 {
			return DocVector{}, false, fmt.Errorf("segment: truncated growing record body: %w", bmerr.ErrCorruption)
		}
		off := 0
		for i := range terms {
			terms[i] = TermFreq{
				TermID: binary.LittleEndian.Uint32(body[off:]),
				TF:     binary.LittleEndian.Uint32(body[off+4:]),
			}
			off += 8
		}
	}
	return DocVector{DocID: docID, Terms: terms}, true, nil
}
