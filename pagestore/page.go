// Package pagestore implements the paged store every other layer sits on:
// a relation is an ordered array of fixed-size pages, each with a header
// reserving a free-space region, a content area growing from the header
// toward an opaque trailer, and the trailer itself carrying the next-page
// link, a flag bitmask, and a magic tag.
//
// This package stands in for the host storage engine's page buffer manager,
// which the rest of bm25idx treats as an external collaborator. It is a
// complete, if minimal, simulation: a single file of fixed-size pages with
// per-page shared/exclusive locking and a free list.
package pagestore

import (
	"encoding/binary"
	"fmt"

	"bm25idx/bmerr"
)

// PageSize is the fixed page size used throughout the relation, matching
// the 8 KiB default named by the on-disk layout.
const PageSize = 8192

// Magic tags every opaque trailer so torn or foreign pages are caught early.
const Magic uint16 = 0xFF88

// headerSize is the size of the free-space header: a single pd_lower cursor
// into the content area.
const headerSize = 2

// opaqueSize is the size of the trailer: next_blkno, page_flag, magic.
const opaqueSize = 4 + 2 + 2

// ContentSize is the number of bytes available to callers on each page.
const ContentSize = PageSize - headerSize - opaqueSize

// BlockNo identifies a page within the relation.
type BlockNo = uint32

// InvalidBlockNo is the sentinel meaning "no page" (end of chain, empty free list).
const InvalidBlockNo BlockNo = 0xFFFFFFFF

// PageFlag is a bitmask recorded in every page's opaque trailer, letting a
// reader sanity-check what kind of content it is looking at.
type PageFlag uint16

const (
	FlagMeta PageFlag = 1 << iota
	FlagGrowing
	FlagVPageInode
	FlagVPageData
	FlagSkipInfo
	FlagTermInfo
	FlagSidecar
	FlagFree
	FlagTermMeta
)

// Page is one fixed-size page: a free-space header, a content area, and an
// opaque trailer. Page.raw is the entire on-disk image.
type Page struct {
	blkno BlockNo
	raw   [PageSize]byte
}

// Blkno returns the page's own block number.
func (p *Page) Blkno() BlockNo { return p.blkno }

// pdLower returns the offset, from the start of content, of the first free byte.
func (p *Page) pdLower() uint16 {
	return binary.LittleEndian.Uint16(p.raw[0:headerSize])
}

func (p *Page) setPDLower(v uint16) {
	binary.LittleEndian.PutUint16(p.raw[0:headerSize], v)
}

// Content returns the full content area (used + free).
func (p *Page) Content() []byte {
	return p.raw[headerSize : headerSize+ContentSize]
}

// Used returns the portion of content that has been written.
func (p *Page) Used() []byte {
	return p.Content()[:p.pdLower()]
}

// FreeSpace returns the unwritten tail of the content area.
func (p *Page) FreeSpace() []byte {
	return p.Content()[p.pdLower():]
}

// Grow marks n additional bytes of content as used, returning the byte
// offset at which the caller should have written them.
func (p *Page) Grow(n int) (offset uint16, err error) {
	lower := p.pdLower()
	if int(lower)+n > ContentSize {
		return 0, fmt.Errorf("pagestore: grow %d bytes on page %d: %w", n, p.blkno, bmerr.ErrCorruption)
	}
	p.setPDLower(lower + uint16(n))
	return lower, nil
}

// Shrink marks the last n content bytes as free again, the inverse of Grow.
// It is used to "pop" the most recently appended record off a page, e.g.
// when a trailing unfulled skip-info record is about to be rewritten.
func (p *Page) Shrink(n int) error {
	lower := p.pdLower()
	if int(lower) < n {
		return fmt.Errorf("pagestore: shrink %d bytes on page %d with only %d used: %w", n, p.blkno, lower, bmerr.ErrCorruption)
	}
	p.setPDLower(lower - uint16(n))
	return nil
}

// Reset clears the content area back to empty (pd_lower=0) while leaving
// flag and magic untouched, for callers that overwrite a small
// fixed-purpose page's content wholesale (e.g. a term-meta page rewritten
// on every seal or append).
func (p *Page) Reset() {
	p.setPDLower(0)
}

// NextBlkno returns the opaque trailer's forward link.
func (p *Page) NextBlkno() BlockNo {
	return binary.LittleEndian.Uint32(p.opaque()[0:4])
}

// SetNextBlkno updates the opaque trailer's forward link.
func (p *Page) SetNextBlkno(blkno BlockNo) {
	binary.LittleEndian.PutUint32(p.opaque()[0:4], blkno)
}

// Flag returns the opaque trailer's flag bitmask.
func (p *Page) Flag() PageFlag {
	return PageFlag(binary.LittleEndian.Uint16(p.opaque()[4:6]))
}

func (p *Page) setFlag(flag PageFlag) {
	binary.LittleEndian.PutUint16(p.opaque()[4:6], uint16(flag))
}

func (p *Page) magic() uint16 {
	return binary.LittleEndian.Uint16(p.opaque()[6:8])
}

func (p *Page) setMagic(magic uint16) {
	binary.LittleEndian.PutUint16(p.opaque()[6:8], magic)
}

func (p *Page) opaque() []byte {
	return p.raw[PageSize-opaqueSize:]
}

// checkMagic validates the opaque trailer, returning ErrCorruption on mismatch.
func (p *Page) checkMagic() error {
	if p.magic() != Magic {
		return fmt.Errorf("pagestore: page %d has magic 0x%X, want 0x%X: %w", p.blkno, p.magic(), Magic, bmerr.ErrCorruption)
	}
	return nil
}

// initPage resets a freshly allocated page to an empty page with the given flag.
func initPage(blkno BlockNo, flag PageFlag) *Page {
	p := &Page{blkno: blkno}
	p.setPDLower(0)
	p.SetNextBlkno(InvalidBlockNo)
	p.setFlag(flag)
	p.setMagic(Magic)
	return p
}
