// Package vpage turns a chain of fixed-size pagestore pages into a single
// byte-addressable virtual file, using a direct/indirect1/indirect2 inode
// tree so that any offset can be located by reading at most five inode
// pages (root, indirect1, indirect2, mid and leaf tables) regardless of how
// large the file has grown. It backs the posting block stream and the
// sidecar fixed-stride arrays — anywhere the rest of bm25idx needs random
// access into an append-mostly stream of pages.
package vpage

import (
	"encoding/binary"
	"fmt"

	"bm25idx/bmerr"
	"bm25idx/pagestore"
)

// entrySize is the width of one inode slot: a single block number.
const entrySize = 4

// directCount is how many data-page pointers fit directly in the root
// inode page. indirect1Count/indirect2Count are the additional capacity
// unlocked once the direct level, then the indirect1 level, fill up.
var (
	directCount    = uint64(pagestore.ContentSize / entrySize)
	indirect1Count = directCount * directCount
	indirect2Count = indirect1Count * directCount
)

// PageBytes is the number of addressable bytes in each data page — the
// page's content area, the same region pagestore.Page.Content exposes.
const PageBytes = pagestore.ContentSize

// Reader resolves virtual offsets against an existing inode tree rooted at
// a fixed block. It never allocates; callers that want to grow the file
// use Writer instead.
type Reader struct {
	pager *pagestore.Pager
	root  pagestore.BlockNo
}

// Open returns a Reader over the virtual file rooted at root.
func Open(pager *pagestore.Pager, root pagestore.BlockNo) *Reader {
	return &Reader{pager: pager, root: root}
}

// GetBlockID resolves the data page backing virtualID, walking the inode
// tree: direct lookup for the first directCount pages, one extra hop
// through an indirect1 leaf table for the next indirect1Count, and two
// extra hops through indirect2/indirect1 tables beyond that.
func (r *Reader) GetBlockID(virtualID uint64) (pagestore.BlockNo, error) {
	rootGuard, err := r.pager.Read(r.root)
	if err != nil {
		return 0, err
	}
	defer rootGuard.Release()

	if virtualID < directCount {
		return readEntry(rootGuard.Page(), int(virtualID))
	}
	virtualID -= directCount

	ind1Blkno := rootGuard.Page().NextBlkno()
	if ind1Blkno == pagestore.InvalidBlockNo {
		return 0, fmt.Errorf("vpage: virtual id out of range: %w", bmerr.ErrCorruption)
	}
	ind1Guard, err := r.pager.Read(ind1Blkno)
	if err != nil {
		return 0, err
	}
	defer ind1Guard.Release()

	if virtualID < indirect1Count {
		leafSlot := virtualID / directCount
		leafOff := virtualID % directCount
		leafBlkno, err := readEntry(ind1Guard.Page(), int(leafSlot))
		if err != nil {
			return 0, err
		}
		leafGuard, err := r.pager.Read(leafBlkno)
		if err != nil {
			return 0, err
		}
		defer leafGuard.Release()
		return readEntry(leafGuard.Page(), int(leafOff))
	}
	virtualID -= indirect1Count

	ind2Blkno := ind1Guard.Page().NextBlkno()
	if ind2Blkno == pagestore.InvalidBlockNo || virtualID >= indirect2Count {
		return 0, fmt.Errorf("vpage: virtual id out of range: %w", bmerr.ErrCorruption)
	}
	ind2Guard, err := r.pager.Read(ind2Blkno)
	if err != nil {
		return 0, err
	}
	defer ind2Guard.Release()

	midSlot := virtualID / indirect1Count
	midOff := virtualID % indirect1Count
	midBlkno, err := readEntry(ind2Guard.Page(), int(midSlot))
	if err != nil {
		return 0, err
	}
	midGuard, err := r.pager.Read(midBlkno)
	if err != nil {
		return 0, err
	}
	defer midGuard.Release()

	leafSlot := midOff / directCount
	leafOff := midOff % directCount
	leafBlkno, err := readEntry(midGuard.Page(), int(leafSlot))
	if err != nil {
		return 0, err
	}
	leafGuard, err := r.pager.Read(leafBlkno)
	if err != nil {
		return 0, err
	}
	defer leafGuard.Release()
	return readEntry(leafGuard.Page(), int(leafOff))
}

// ReadAt copies len(buf) bytes starting at byte offset into buf. It returns
// a corruption error if the read would cross a data-page boundary;
// callers must frame their records to fit within PageBytes.
func (r *Reader) ReadAt(offset uint64, buf []byte) error {
	virtualID := offset / PageBytes
	pageOff := offset % PageBytes
	if pageOff+uint64(len(buf)) > PageBytes {
		return fmt.Errorf("vpage: read at %d len %d crosses a page boundary: %w", offset, len(buf), bmerr.ErrCorruption)
	}
	blkno, err := r.GetBlockID(virtualID)
	if err != nil {
		return err
	}
	guard, err := r.pager.Read(blkno)
	if err != nil {
		return err
	}
	defer guard.Release()
	copy(buf, guard.Page().Content()[pageOff:])
	return nil
}

// UpdateAt applies fn to an in-place slice of length bytes starting at
// offset, then persists the page. Used for the sidecar arrays' in-place
// record updates (the term-stat document frequencies).
func (r *Reader) UpdateAt(offset uint64, length int, fn func([]byte)) error {
	virtualID := offset / PageBytes
	pageOff := offset % PageBytes
	if pageOff+uint64(length) > PageBytes {
		return fmt.Errorf("vpage: update at %d len %d crosses a page boundary: %w", offset, length, bmerr.ErrCorruption)
	}
	blkno, err := r.GetBlockID(virtualID)
	if err != nil {
		return err
	}
	guard, err := r.pager.Write(blkno)
	if err != nil {
		return err
	}
	fn(guard.Page().Content()[pageOff : pageOff+uint64(length)])
	return guard.Commit()
}

func readEntry(page *pagestore.Page, slot int) (pagestore.BlockNo, error) {
	off := slot * entrySize
	used := page.Used()
	if off+entrySize > len(used) {
		return 0, fmt.Errorf("vpage: inode slot %d not yet written: %w", slot, bmerr.ErrCorruption)
	}
	return binary.LittleEndian.Uint32(used[off : off+entrySize]), nil
}
