package vpage

import (
	"encoding/binary"

	"bm25idx/pagestore"
)

// Writer appends bytes across a growing virtual file, allocating new data
// pages as the current one fills and wiring them into the inode tree. It
// grows the tree lazily: every virtual file starts as a direct-only inode
// (capacity directCount data pages) and only pays for an indirect1 or
// indirect2 level once it actually needs one.
type Writer struct {
	pager *pagestore.Pager
	fl    *pagestore.FreeList
	head  *pagestore.BlockNo
	flag  pagestore.PageFlag

	root pagestore.BlockNo

	ind1, ind2      pagestore.BlockNo // indirect inode pages, InvalidBlockNo until needed
	curLeaf, curMid pagestore.BlockNo // innermost live tables along the active write path
	numData         uint64            // data pages allocated so far; also the next virtual id
	curData         pagestore.BlockNo
}

// Create starts a brand-new virtual file and returns a Writer positioned
// at its single initial data page.
func Create(pager *pagestore.Pager, fl *pagestore.FreeList, head *pagestore.BlockNo, flag pagestore.PageFlag) (*Writer, error) {
	rootGuard, err := fl.Alloc(pagestore.FlagVPageInode, head)
	if err != nil {
		return nil, err
	}
	dataGuard, err := fl.Alloc(flag, head)
	if err != nil {
		return nil, err
	}
	if err := appendEntry(rootGuard.Page(), dataGuard.Page().Blkno()); err != nil {
		return nil, err
	}
	root := rootGuard.Page().Blkno()
	data := dataGuard.Page().Blkno()
	if err := rootGuard.Commit(); err != nil {
		return nil, err
	}
	if err := dataGuard.Commit(); err != nil {
		return nil, err
	}
	return &Writer{
		pager:   pager,
		fl:      fl,
		head:    head,
		flag:    flag,
		root:    root,
		ind1:    pagestore.InvalidBlockNo,
		ind2:    pagestore.InvalidBlockNo,
		numData: 1,
		curData: data,
	}, nil
}

// Root returns the block number callers should persist (in a term-info
// entry, sidecar descriptor, or the meta page) to reopen this file later.
func (w *Writer) Root() pagestore.BlockNo {
	return w.root
}

// Reopen reconstructs a Writer over an existing virtual file so appends can
// continue, by counting the entries already present at each inode level
// (root/ind1/ind2 use their pd_lower cursor as an entry count; the tail
// data page is whichever block the deepest populated table's last entry
// names).
func Reopen(pager *pagestore.Pager, fl *pagestore.FreeList, head *pagestore.BlockNo, flag pagestore.PageFlag, root pagestore.BlockNo) (*Writer, error) {
	w := &Writer{
		pager: pager,
		fl:    fl,
		head:  head,
		flag:  flag,
		root:  root,
		ind1:  pagestore.InvalidBlockNo,
		ind2:  pagestore.InvalidBlockNo,
	}

	rootGuard, err := pager.Read(root)
	if err != nil {
		return nil, err
	}
	rootCount := uint64(len(rootGuard.Page().Used())) / entrySize
	ind1Blkno := rootGuard.Page().NextBlkno()
	rootGuard.Release()

	if ind1Blkno == pagestore.InvalidBlockNo {
		w.numData = rootCount
		tail, err := tailEntry(pager, root, rootCount)
		if err != nil {
			return nil, err
		}
		w.curData = tail
		return w, nil
	}
	w.ind1 = ind1Blkno

	ind1Guard, err := pager.Read(ind1Blkno)
	if err != nil {
		return nil, err
	}
	ind1Count := uint64(len(ind1Guard.Page().Used())) / entrySize
	ind2Blkno := ind1Guard.Page().NextBlkno()
	ind1Guard.Release()

	if ind2Blkno == pagestore.InvalidBlockNo {
		leaf, err := tailEntry(pager, ind1Blkno, ind1Count)
		if err != nil {
			return nil, err
		}
		w.curLeaf = leaf
		leafGuard, err := pager.Read(leaf)
		if err != nil {
			return nil, err
		}
		leafCount := uint64(len(leafGuard.Page().Used())) / entrySize
		leafGuard.Release()

		w.numData = directCount + (ind1Count-1)*directCount + leafCount
		tail, err := tailEntry(pager, leaf, leafCount)
		if err != nil {
			return nil, err
		}
		w.curData = tail
		return w, nil
	}
	w.ind2 = ind2Blkno

	ind2Guard, err := pager.Read(ind2Blkno)
	if err != nil {
		return nil, err
	}
	ind2Count := uint64(len(ind2Guard.Page().Used())) / entrySize
	ind2Guard.Release()

	mid, err := tailEntry(pager, ind2Blkno, ind2Count)
	if err != nil {
		return nil, err
	}
	w.curMid = mid
	midGuard, err := pager.Read(mid)
	if err != nil {
		return nil, err
	}
	midCount := uint64(len(midGuard.Page().Used())) / entrySize
	midGuard.Release()

	leaf, err := tailEntry(pager, mid, midCount)
	if err != nil {
		return nil, err
	}
	w.curLeaf = leaf
	leafGuard, err := pager.Read(leaf)
	if err != nil {
		return nil, err
	}
	leafCount := uint64(len(leafGuard.Page().Used())) / entrySize
	leafGuard.Release()

	w.numData = directCount + indirect1Count + (ind2Count-1)*indirect1Count + (midCount-1)*directCount + leafCount
	tail, err := tailEntry(pager, leaf, leafCount)
	if err != nil {
		return nil, err
	}
	w.curData = tail
	return w, nil
}

// tailEntry reads the last of count entries written into parent.
func tailEntry(pager *pagestore.Pager, parent pagestore.BlockNo, count uint64) (pagestore.BlockNo, error) {
	guard, err := pager.Read(parent)
	if err != nil {
		return 0, err
	}
	defer guard.Release()
	off := (count - 1) * entrySize
	return binary.LittleEndian.Uint32(guard.Page().Used()[off : off+entrySize]), nil
}

// Write appends p, spilling onto newly allocated, tree-linked data pages
// whenever the current one fills. Like pagestore.PageWriter, writes may
// span page boundaries; callers needing page-aligned records should frame
// them before calling Write.
func (w *Writer) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		guard, err := w.pager.Write(w.curData)
		if err != nil {
			return total - len(p), err
		}
		free := guard.Page().FreeSpace()
		if len(free) == 0 {
			guard.Abort()
			if err := w.grow(); err != nil {
				return total - len(p), err
			}
			continue
		}
		n := len(p)
		if n > len(free) {
			n = len(free)
		}
		off, err := guard.Page().Grow(n)
		if err != nil {
			guard.Abort()
			return total - len(p), err
		}
		copy(guard.Page().Content()[off:], p[:n])
		if err := guard.Commit(); err != nil {
			return total - len(p), err
		}
		p = p[n:]
	}
	return total, nil
}

// Remaining reports how many bytes are still free on the current tail data
// page, so a caller that must not let a record straddle a page boundary
// (e.g. a posting block) can decide whether to Pad first.
func (w *Writer) Remaining() (int, error) {
	guard, err := w.pager.Read(w.curData)
	if err != nil {
		return 0, err
	}
	defer guard.Release()
	return len(guard.Page().FreeSpace()), nil
}

// Pad marks the remainder of the current tail data page as used (zeroed)
// and advances to a fresh page, so the next Write begins at a page-aligned
// virtual offset. Virtual offsets are page-granular (PageBytes per data
// page regardless of how much of it holds real content), so skipping to a
// new page without first consuming the old page's free space would leave
// that space permanently unaddressable and misalign every offset after it.
// Pad is a no-op if the tail page is already full.
func (w *Writer) Pad() error {
	guard, err := w.pager.Write(w.curData)
	if err != nil {
		return err
	}
	free := len(guard.Page().FreeSpace())
	if free == 0 {
		guard.Abort()
		return nil
	}
	if _, err := guard.Page().Grow(free); err != nil {
		guard.Abort()
		return err
	}
	if err := guard.Commit(); err != nil {
		return err
	}
	return w.grow()
}

// grow allocates the next data page and links it into the inode tree at
// virtual id w.numData, creating indirect1/indirect2 levels the first time
// each is needed.
func (w *Writer) grow() error {
	dataGuard, err := w.fl.Alloc(w.flag, w.head)
	if err != nil {
		return err
	}
	newData := dataGuard.Page().Blkno()
	if err := dataGuard.Commit(); err != nil {
		return err
	}

	vid := w.numData
	if err := w.link(vid, newData); err != nil {
		return err
	}
	w.curData = newData
	w.numData++
	return nil
}

// link writes newData's block number into the correct inode slot for
// virtual id vid, allocating any inode/leaf/mid tables that don't exist
// yet. It assumes vid == w.numData, i.e. links always extend the tree by
// exactly one slot at a time.
func (w *Writer) link(vid uint64, newData pagestore.BlockNo) error {
	if vid < directCount {
		return w.appendTo(w.root, newData)
	}
	vid -= directCount

	if w.ind1 == pagestore.InvalidBlockNo {
		if err := w.allocLevel(&w.root, &w.ind1); err != nil {
			return err
		}
	}

	if vid < indirect1Count {
		if vid%directCount == 0 {
			if err := w.allocLeaf(w.ind1, &w.curLeaf); err != nil {
				return err
			}
		}
		return w.appendTo(w.curLeaf, newData)
	}
	vid -= indirect1Count

	if w.ind2 == pagestore.InvalidBlockNo {
		if err := w.allocLevel(&w.ind1, &w.ind2); err != nil {
			return err
		}
	}

	if vid%indirect1Count == 0 {
		if err := w.allocLeaf(w.ind2, &w.curMid); err != nil {
			return err
		}
	}
	if vid%directCount == 0 {
		if err := w.allocLeaf(w.curMid, &w.curLeaf); err != nil {
			return err
		}
	}
	return w.appendTo(w.curLeaf, newData)
}

// allocLevel allocates a brand-new inode page, chains it onto parent via
// next_blkno, and records it in *child.
func (w *Writer) allocLevel(parent *pagestore.BlockNo, child *pagestore.BlockNo) error {
	guard, err := w.fl.Alloc(pagestore.FlagVPageInode, w.head)
	if err != nil {
		return err
	}
	blkno := guard.Page().Blkno()
	if err := guard.Commit(); err != nil {
		return err
	}

	parentGuard, err := w.pager.Write(*parent)
	if err != nil {
		return err
	}
	parentGuard.Page().SetNextBlkno(blkno)
	if err := parentGuard.Commit(); err != nil {
		return err
	}
	*child = blkno
	return nil
}

// allocLeaf allocates a fresh leaf/mid table page, appends its block
// number as the next entry of parent, and records it in *child.
func (w *Writer) allocLeaf(parent pagestore.BlockNo, child *pagestore.BlockNo) error {
	guard, err := w.fl.Alloc(pagestore.FlagVPageInode, w.head)
	if err != nil {
		return err
	}
	blkno := guard.Page().Blkno()
	if err := guard.Commit(); err != nil {
		return err
	}
	if err := w.appendTo(parent, blkno); err != nil {
		return err
	}
	*child = blkno
	return nil
}

// appendTo grows parent's content by one entry and writes blkno into it.
func (w *Writer) appendTo(parent pagestore.BlockNo, blkno pagestore.BlockNo) error {
	guard, err := w.pager.Write(parent)
	if err != nil {
		return err
	}
	if err := appendEntry(guard.Page(), blkno); err != nil {
		guard.Abort()
		return err
	}
	return guard.Commit()
}

func appendEntry(page *pagestore.Page, blkno pagestore.BlockNo) error {
	off, err := page.Grow(entrySize)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(page.Content()[off:], blkno)
	return nil
}
