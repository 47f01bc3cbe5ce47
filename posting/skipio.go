package posting

import "bm25idx/pagestore"

// skipWriter accumulates skip records across a chain of pages, allocating
// a fresh page and chaining it whenever the current tail doesn't have room
// -- a record never straddles a page boundary, the same no-cross
// discipline writeBlockNoCross applies to block data. That lets a Cursor
// treat each skip-info page's content as a whole number of complete
// records, and lets an Appender pop and overwrite exactly the last one.
type skipWriter struct {
	pager *pagestore.Pager
	fl    *pagestore.FreeList
	head  *pagestore.BlockNo

	first pagestore.BlockNo
	tail  pagestore.BlockNo
}

// newSkipWriter starts a fresh, empty skip-info chain.
func newSkipWriter(pager *pagestore.Pager, fl *pagestore.FreeList, head *pagestore.BlockNo) (*skipWriter, error) {
	guard, err := fl.Alloc(pagestore.FlagSkipInfo, head)
	if err != nil {
		return nil, err
	}
	blkno := guard.Page().Blkno()
	if err := guard.Commit(); err != nil {
		return nil, err
	}
	return &skipWriter{pager: pager, fl: fl, head: head, first: blkno, tail: blkno}, nil
}

// openSkipWriter resumes appending onto an existing chain whose first and
// tail pages are already known.
func openSkipWriter(pager *pagestore.Pager, fl *pagestore.FreeList, head *pagestore.BlockNo, first, tail pagestore.BlockNo) *skipWriter {
	return &skipWriter{pager: pager, fl: fl, head: head, first: first, tail: tail}
}

// append writes rec onto the tail page, spilling onto a freshly allocated,
// chained page first if the tail doesn't have room.
func (w *skipWriter) append(rec SkipRecord) error {
	data := rec.Marshal()
	guard, err := w.pager.Write(w.tail)
	if err != nil {
		return err
	}

	if len(guard.Page().FreeSpace()) < len(data) {
		next, err := w.fl.Alloc(pagestore.FlagSkipInfo, w.head)
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

		off, err := next.Page().Grow(len(data))
		if err != nil {
			next.Abort()
			return err
		}
		copy(next.Page().Content()[off:], data)
		if err := next.Commit(); err != nil {
			return err
		}
		w.tail = nextBlkno
		return nil
	}

	off, err := guard.Page().Grow(len(data))
	if err != nil {
		guard.Abort()
		return err
	}
	copy(guard.Page().Content()[off:], data)
	return guard.Commit()
}

// popLast shrinks the tail page's used content by one record, so the next
// append overwrites it rather than leaving a stale duplicate behind it.
func (w *skipWriter) popLast() error {
	guard, err := w.pager.Write(w.tail)
	if err != nil {
		return err
	}
	if err := guard.Page().Shrink(skipRecordSize); err != nil {
		guard.Abort()
		return err
	}
	return guard.Commit()
}
