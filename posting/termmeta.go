package posting

import (
	"encoding/binary"
	"fmt"

	"bm25idx/bmerr"
	"bm25idx/pagestore"
)

// NoLastDoc marks a term with no full (compressed) block yet: either the
// term has no postings at all, or every posting so far still lives in the
// inline unfulled block.
const NoLastDoc = ^uint32(0)

// termMetaHeaderSize is the fixed prefix of a marshaled TermMeta, before
// the variable-length unfulled arrays: three BlockNo(4) + three uint32(4)
// + a uint16 unfulled count.
const termMetaHeaderSize = 4*3 + 4*3 + 2

// TermMeta is the single small page describing one term's entire posting
// list: where its skip-info chain and block-data virtual file start and
// end, how many full blocks it has, and the trailing remainder that never
// grew to a full block. It is small enough (at most a few KB, bounded by
// the 128-entry unfulled arrays) to live as one page, rewritten wholesale
// on every seal or append.
type TermMeta struct {
	SkipInfoHeadPage  pagestore.BlockNo
	SkipInfoTailPage  pagestore.BlockNo
	BlockDataHeadPage pagestore.BlockNo

	BlockCount             uint32
	DocCount               uint32
	LastFullBlockLastDocID uint32 // NoLastDoc if no full block has been written yet

	UnfulledDocIDs []uint32
	UnfulledTFs    []uint32
}

// Marshal writes m into a fresh byte slice sized to fit exactly.
func (m *TermMeta) Marshal() []byte {
	n := len(m.UnfulledDocIDs)
	buf := make([]byte, termMetaHeaderSize+n*8)
	binary.LittleEndian.PutUint32(buf[0:4], m.SkipInfoHeadPage)
	binary.LittleEndian.PutUint32(buf[4:8], m.SkipInfoTailPage)
	binary.LittleEndian.PutUint32(buf[8:12], m.BlockDataHeadPage)
	binary.LittleEndian.PutUint32(buf[12:16], m.BlockCount)
	binary.LittleEndian.PutUint32(buf[16:20], m.DocCount)
	binary.LittleEndian.PutUint32(buf[20:24], m.LastFullBlockLastDocID)
	binary.LittleEndian.PutUint16(buf[24:26], uint16(n))

	off := termMetaHeaderSize
	for _, d := range m.UnfulledDocIDs {
		binary.LittleEndian.PutUint32(buf[off:], d)
		off += 4
	}
	for _, f := range m.UnfulledTFs {
		binary.LittleEndian.PutUint32(buf[off:], f)
		off += 4
	}
	return buf
}

// UnmarshalTermMeta reverses Marshal.
func UnmarshalTermMeta(data []byte) (*TermMeta, error) {
	if len(data) < termMetaHeaderSize {
		return nil, fmt.Errorf("posting: term-meta page too short (%d bytes): %w", len(data), bmerr.ErrCorruption)
	}
	m := &TermMeta{
		SkipInfoHeadPage:       binary.LittleEndian.Uint32(data[0:4]),
		SkipInfoTailPage:       binary.LittleEndian.Uint32(data[4:8]),
		BlockDataHeadPage:      binary.LittleEndian.Uint32(data[8:12]),
		BlockCount:             binary.LittleEndian.Uint32(data[12:16]),
		DocCount:               binary.LittleEndian.Uint32(data[16:20]),
		LastFullBlockLastDocID: binary.LittleEndian.Uint32(data[20:24]),
	}
	n := int(binary.LittleEndian.Uint16(data[24:26]))
	want := termMetaHeaderSize + n*8
	if len(data) < want {
		return nil, fmt.Errorf("posting: term-meta page truncated unfulled block (want %d, have %d): %w", want, len(data), bmerr.ErrCorruption)
	}

	off := termMetaHeaderSize
	m.UnfulledDocIDs = make([]uint32, n)
	for i := 0; i < n; i++ {
		m.UnfulledDocIDs[i] = binary.LittleEndian.Uint32(data[off:])
		off += 4
	}
	m.UnfulledTFs = make([]uint32, n)
	for i := 0; i < n; i++ {
		m.UnfulledTFs[i] = binary.LittleEndian.Uint32(data[off:])
		off += 4
	}
	return m, nil
}

// SaveTermMeta writes m to blkno in place, or allocates a fresh page (via fl,
// updating *head on allocation) when blkno is pagestore.InvalidBlockNo. It
// returns the page m now lives on.
func SaveTermMeta(pager *pagestore.Pager, fl *pagestore.FreeList, head *pagestore.BlockNo, blkno pagestore.BlockNo, m *TermMeta) (pagestore.BlockNo, error) {
	var guard *pagestore.WriteGuard
	var err error
	if blkno == pagestore.InvalidBlockNo {
		guard, err = fl.Alloc(pagestore.FlagTermMeta, head)
	} else {
		guard, err = pager.Write(blkno)
	}
	if err != nil {
		return pagestore.InvalidBlockNo, err
	}

	page := guard.Page()
	page.Reset()
	data := m.Marshal()
	off, err := page.Grow(len(data))
	if err != nil {
		guard.Abort()
		return pagestore.InvalidBlockNo, err
	}
	copy(page.Content()[off:], data)

	result := page.Blkno()
	if err := guard.Commit(); err != nil {
		return pagestore.InvalidBlockNo, err
	}
	return result, nil
}

// LoadTermMeta reads the TermMeta stored at blkno.
func LoadTermMeta(pager *pagestore.Pager, blkno pagestore.BlockNo) (*TermMeta, error) {
	guard, err := pager.Read(blkno)
	if err != nil {
		return nil, err
	}
	defer guard.Release()
	return UnmarshalTermMeta(guard.Page().Used())
}
