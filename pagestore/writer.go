package pagestore

import "io"

// PageWriter appends byte slices sequentially across a chain of pages,
// wiring each new page's next_blkno as it goes. It never seeks backward;
// callers that need random access over the resulting chain should read it
// back through vpage instead.
type PageWriter struct {
	fl   *FreeList
	head *BlockNo // free-list head, owned by the caller (typically metapage)
	flag PageFlag

	first   BlockNo
	cur     *WriteGuard
	written int64
}

// NewPageWriter starts a fresh chain of pages tagged flag, allocating the
// first page immediately.
func NewPageWriter(fl *FreeList, head *BlockNo, flag PageFlag) (*PageWriter, error) {
	guard, err := fl.Alloc(flag, head)
	if err != nil {
		return nil, err
	}
	return &PageWriter{
		fl:    fl,
		head:  head,
		flag:  flag,
		first: guard.Page().Blkno(),
		cur:   guard,
	}, nil
}

// FirstBlock returns the block number of the chain's first page, to be
// stored by the caller (e.g. in a term-info entry or the meta page) so the
// chain can be read back later.
func (w *PageWriter) FirstBlock() BlockNo {
	return w.first
}

// Written reports the total number of bytes appended so far.
func (w *PageWriter) Written() int64 {
	return w.written
}

// CurrentBlock returns the block number of the page currently being
// written to, so a caller can record it (e.g. a term's skip-info tail
// page) before calling Close.
func (w *PageWriter) CurrentBlock() BlockNo {
	return w.cur.Page().Blkno()
}

// Write appends p, spilling onto newly allocated pages as the current one
// fills up, chaining each via next_blkno. It never partially commits a
// page in the middle of a single Write call's data: bytes may span pages,
// but each page is only committed once it is full or Close is called.
func (w *PageWriter) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		free := w.cur.Page().FreeSpace()
		if len(free) == 0 {
			if err := w.spill(); err != nil {
				return total - len(p), err
			}
			continue
		}
		n := len(p)
		if n > len(free) {
			n = len(free)
		}
		off, err := w.cur.Page().Grow(n)
		if err != nil {
			return total - len(p), err
		}
		copy(w.cur.Page().Content()[off:], p[:n])
		p = p[n:]
		w.written += int64(n)
	}
	return total, nil
}

// spill commits the current page, chains it to a freshly allocated one,
// and makes the new page current.
func (w *PageWriter) spill() error {
	next, err := w.fl.Alloc(w.flag, w.head)
	if err != nil {
		return err
	}
	w.cur.Page().SetNextBlkno(next.Page().Blkno())
	if err := w.cur.Commit(); err != nil {
		next.Abort()
		return err
	}
	w.cur = next
	return nil
}

// Close commits the last open page. Every PageWriter must be closed
// exactly once; failing to do so leaks a locked, uncommitted page.
func (w *PageWriter) Close() error {
	if w.cur == nil {
		return nil
	}
	err := w.cur.Commit()
	w.cur = nil
	return err
}

// PageReader walks a chain produced by PageWriter from its first block,
// handing out each page's used content in order. It has no notion of a
// logical record boundary; callers (e.g. posting's skip-info decoder) are
// responsible for framing their own records within the byte stream.
type PageReader struct {
	pager *Pager
	next  BlockNo
	cur   []byte
}

// OpenPageReader begins reading the chain rooted at first.
func OpenPageReader(pager *Pager, first BlockNo) *PageReader {
	return &PageReader{pager: pager, next: first}
}

// Read fills p from the chain, advancing across page boundaries as needed,
// and returns io.EOF once the chain is exhausted. It follows the same
// short-read-then-EOF contract as io.Reader.
func (r *PageReader) Read(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		if len(r.cur) == 0 {
			if r.next == InvalidBlockNo {
				if total == 0 {
					return 0, io.EOF
				}
				return total, nil
			}
			guard, err := r.pager.Read(r.next)
			if err != nil {
				return total, err
			}
			r.cur = append([]byte(nil), guard.Page().Used()...)
			r.next = guard.Page().NextBlkno()
			guard.Release()
		}
		n := copy(p, r.cur)
		p = p[n:]
		r.cur = r.cur[n:]
		total += n
	}
	return total, nil
}

var _ io.Reader = (*PageReader)(nil)
