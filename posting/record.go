// Package posting implements the per-term posting list: the skip-info
// record stream, the block-data virtual file, and the term metadata that
// ties them together, plus the serializer and cursor that write and read
// them. A posting list never crosses terms; one Serializer/Cursor pair and
// one TermMeta describe exactly one term's documents.
package posting

import (
	"encoding/binary"

	"bm25idx/pagestore"
)

// SkipFlag marks the irregular conditions a skip-info record's block can be
// read under.
type SkipFlag uint8

const (
	// FlagUnfulled marks a block with fewer than blockpartition.FixedBlockSize
	// entries: the term's trailing remainder, stored inline rather than
	// compressed by a blockcodec.Codec.
	FlagUnfulled SkipFlag = 1 << iota

	// FlagPageChanged marks a block whose bytes start at the beginning of a
	// fresh block-data page: writing it required padding out the previous
	// page first, so a reader must realign to the next page boundary before
	// decoding it.
	FlagPageChanged
)

// skipRecordSize is the fixed on-disk size of one SkipRecord: last_doc(4) +
// blockwand_tf(4) + doc_cnt(4) + size(2) + blockwand_fieldnorm_id(1) + flags(1).
const skipRecordSize = 16

// SkipRecord is one entry in a term's skip-info list: one per block,
// carrying everything block-max WAND needs to decide whether to decode the
// block at all.
type SkipRecord struct {
	LastDoc              uint32
	BlockwandTF          uint32
	DocCnt               uint32
	Size                 uint16
	BlockwandFieldnormID uint8
	Flags                SkipFlag
}

// Unfulled reports whether this record describes the trailing inline block.
func (r SkipRecord) Unfulled() bool { return r.Flags&FlagUnfulled != 0 }

// PageChanged reports whether reading this record's block must first
// realign to the start of the next block-data page.
func (r SkipRecord) PageChanged() bool { return r.Flags&FlagPageChanged != 0 }

// Marshal writes r into a fresh skipRecordSize-byte slice.
func (r SkipRecord) Marshal() []byte {
	buf := make([]byte, skipRecordSize)
	binary.LittleEndian.PutUint32(buf[0:4], r.LastDoc)
	binary.LittleEndian.PutUint32(buf[4:8], r.BlockwandTF)
	binary.LittleEndian.PutUint32(buf[8:12], r.DocCnt)
	binary.LittleEndian.PutUint16(buf[12:14], r.Size)
	buf[14] = r.BlockwandFieldnormID
	buf[15] = uint8(r.Flags)
	return buf
}

// UnmarshalSkipRecord reads one SkipRecord out of the first skipRecordSize
// bytes of data.
func UnmarshalSkipRecord(data []byte) SkipRecord {
	return SkipRecord{
		LastDoc:              binary.LittleEndian.Uint32(data[0:4]),
		BlockwandTF:          binary.LittleEndian.Uint32(data[4:8]),
		DocCnt:               binary.LittleEndian.Uint32(data[8:12]),
		Size:                 binary.LittleEndian.Uint16(data[12:14]),
		BlockwandFieldnormID: data[14],
		Flags:                SkipFlag(data[15]),
	}
}

// termInfoSize is the on-disk size of a TermInfo entry.
const termInfoSize = 4

// TermInfo is the fixed-width entry a term-info table (one per segment,
// indexed by term_id) stores for each term: a pointer to that term's
// single TermMeta page. EmptyTermInfo marks a term_id with no postings yet.
type TermInfo struct {
	MetaBlkno pagestore.BlockNo
}

// EmptyTermInfo is the zero value stored for a term_id that has never been
// written.
var EmptyTermInfo = TermInfo{MetaBlkno: pagestore.InvalidBlockNo}

// IsEmpty reports whether this entry points at no term-meta page.
func (t TermInfo) IsEmpty() bool { return t.MetaBlkno == pagestore.InvalidBlockNo }

func (t TermInfo) Marshal() []byte {
	buf := make([]byte, termInfoSize)
	binary.LittleEndian.PutUint32(buf, t.MetaBlkno)
	return buf
}

func UnmarshalTermInfo(data []byte) TermInfo {
	return TermInfo{MetaBlkno: binary.LittleEndian.Uint32(data[0:4])}
}
