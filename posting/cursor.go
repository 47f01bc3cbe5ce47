package posting

import (
	"bm25idx/blockcodec"
	"bm25idx/pagestore"
	"bm25idx/vpage"
)

// TerminatedDoc is the sentinel docid a Cursor reports once it has been
// exhausted. u32 max is reserved; no real document ever gets it.
const TerminatedDoc = ^uint32(0)

// Cursor iterates one term's posting list in docid order, backed directly
// by its skip-info chain and block-data virtual file -- it never loads the
// whole term into memory. Unlike blockcodec.Decoder (positioned at the
// first entry immediately after Decode), Cursor follows the more common Go
// iterator convention: Next must be called once before the first read,
// including on a freshly opened cursor.
type Cursor struct {
	pager *pagestore.Pager
	codec blockcodec.Codec
	meta  *TermMeta

	blockReader *vpage.Reader
	blockOffset uint64
	runningBase uint32 // last docid of the previous full block, or NoLastDoc

	skipBytes    []byte
	skipOff      int
	skipNextPage pagestore.BlockNo

	started    bool
	terminated bool
	hasCur     bool
	cur        SkipRecord

	decoded     bool
	decoder     blockcodec.Decoder
	unfulledIdx int

	err error
}

// OpenCursor returns a Cursor positioned before the first block of meta's
// posting list. codec must be the same codec the term was serialized with.
func OpenCursor(pager *pagestore.Pager, meta *TermMeta, codec blockcodec.Codec) *Cursor {
	return &Cursor{
		pager:        pager,
		codec:        codec,
		meta:         meta,
		blockReader:  vpage.Open(pager, meta.BlockDataHeadPage),
		runningBase:  NoLastDoc,
		skipNextPage: meta.SkipInfoHeadPage,
	}
}

// Err returns the first I/O or corruption error the cursor encountered, if
// any. A false return from Next/Seek/ShallowSeek/NextBlock can mean either
// ordinary exhaustion or a stored error; check Err to tell them apart.
func (c *Cursor) Err() error { return c.err }

// Completed reports whether the cursor has been exhausted (TERMINATED).
func (c *Cursor) Completed() bool { return c.terminated }

// LastDocInBlock returns the last docid contained in the current block,
// valid as soon as NextBlock has returned true at least once -- no decode
// required.
func (c *Cursor) LastDocInBlock() uint32 { return c.cur.LastDoc }

// BlockMaxScore returns weight's score bound for the current block, using
// the block's stored (blockwand_tf, blockwand_fieldnorm_id) pair. Valid
// without decoding the block, which is the entire point of block-max
// pruning: a caller can skip DecodeBlock whenever this bound can't beat the
// running threshold.
func (c *Cursor) BlockMaxScore(weight Scorer) float32 {
	return weight.Score(c.cur.BlockwandFieldnormID, c.cur.BlockwandTF)
}

// NextBlock advances to the next block's skip record without decoding it,
// reporting whether one exists. It must be called (directly, or via
// Next/Seek) before DecodeBlock, BlockMaxScore, or LastDocInBlock are
// meaningful.
func (c *Cursor) NextBlock() bool {
	if c.terminated {
		return false
	}
	if c.hasCur && !c.cur.Unfulled() {
		c.blockOffset += uint64(c.cur.Size)
		c.runningBase = c.cur.LastDoc
	}

	rec, ok := c.readNextSkipRecord()
	if !ok {
		c.terminated = true
		c.hasCur = false
		return false
	}
	if !rec.Unfulled() && rec.PageChanged() {
		c.blockOffset = alignUp(c.blockOffset, vpage.PageBytes)
	}
	c.cur = rec
	c.hasCur = true
	c.decoded = false
	return true
}

// DecodeBlock materializes the current block's entries (decompressing it,
// or just resetting the inline-unfulled cursor), so DocID/Freq become
// readable. It is a no-op if the current block is already decoded.
func (c *Cursor) DecodeBlock() error {
	if !c.hasCur {
		return nil
	}
	if c.decoded {
		return nil
	}
	if c.cur.Unfulled() {
		c.unfulledIdx = 0
		c.decoded = true
		return nil
	}

	data := make([]byte, c.cur.Size)
	if err := c.blockReader.ReadAt(c.blockOffset, data); err != nil {
		c.err = err
		return err
	}
	if c.decoder == nil {
		c.decoder = c.codec.NewDecoder()
	}
	c.decoder.Decode(data, c.runningBase, int(c.cur.DocCnt))
	c.decoded = true
	return nil
}

// Next advances to the next posting, auto-decoding blocks as needed, and
// reports whether one exists. The first call positions the cursor at the
// very first posting.
func (c *Cursor) Next() bool {
	if c.terminated {
		return false
	}
	if !c.started {
		c.started = true
		return c.enterNextBlock()
	}
	if c.advanceWithinBlock() {
		return true
	}
	return c.enterNextBlock()
}

// enterNextBlock moves to the next block (looping past any that somehow
// decode to zero entries, which should not happen but costs nothing to
// guard against) and decodes it, positioning at its first entry.
func (c *Cursor) enterNextBlock() bool {
	for {
		if !c.NextBlock() {
			return false
		}
		if err := c.DecodeBlock(); err != nil {
			c.terminated = true
			return false
		}
		if c.blockEntryCount() > 0 {
			return true
		}
	}
}

// NextDoc advances within the current block only, without auto-entering the
// next one, reporting whether another entry remains in this block. Callers
// that need to inspect each block's max-score bound before deciding whether
// to decode the next one (block-max WAND) drive the cursor with NextBlock/
// DecodeBlock/NextDoc directly instead of the auto-decoding Next.
func (c *Cursor) NextDoc() bool {
	if c.terminated || !c.hasCur {
		return false
	}
	return c.advanceWithinBlock()
}

func (c *Cursor) advanceWithinBlock() bool {
	if c.cur.Unfulled() {
		c.unfulledIdx++
		return c.unfulledIdx < len(c.meta.UnfulledDocIDs)
	}
	return c.decoder.Next()
}

func (c *Cursor) blockEntryCount() int {
	if c.cur.Unfulled() {
		return len(c.meta.UnfulledDocIDs)
	}
	return int(c.cur.DocCnt)
}

// ShallowSeek advances block-by-block, without decoding, to the first
// block whose last docid is >= target, reporting whether one exists. It
// never moves backward: callers must only seek to increasing targets.
func (c *Cursor) ShallowSeek(target uint32) bool {
	if c.terminated {
		return false
	}
	if !c.started {
		c.started = true
		if !c.NextBlock() {
			return false
		}
	}
	for c.cur.LastDoc < target {
		if !c.NextBlock() {
			return false
		}
	}
	return true
}

// Seek advances to the first posting with DocID() >= target, decoding
// blocks as necessary, and reports whether one exists.
func (c *Cursor) Seek(target uint32) bool {
	if !c.ShallowSeek(target) {
		return false
	}
	if err := c.DecodeBlock(); err != nil {
		c.terminated = true
		return false
	}

	if c.cur.Unfulled() {
		for c.unfulledIdx < len(c.meta.UnfulledDocIDs) && c.meta.UnfulledDocIDs[c.unfulledIdx] < target {
			c.unfulledIdx++
		}
		if c.unfulledIdx >= len(c.meta.UnfulledDocIDs) {
			c.terminated = true
			return false
		}
		return true
	}

	if !c.decoder.Seek(target) {
		c.terminated = true
		return false
	}
	return true
}

// DocID returns the current posting's document id, or TerminatedDoc once
// the cursor is exhausted.
func (c *Cursor) DocID() uint32 {
	if c.terminated {
		return TerminatedDoc
	}
	if c.cur.Unfulled() {
		return c.meta.UnfulledDocIDs[c.unfulledIdx]
	}
	return c.decoder.DocID()
}

// Freq returns the current posting's term frequency.
func (c *Cursor) Freq() uint32 {
	if c.terminated {
		return 0
	}
	if c.cur.Unfulled() {
		return c.meta.UnfulledTFs[c.unfulledIdx]
	}
	return c.decoder.Freq()
}

// readNextSkipRecord pulls the next 16-byte record off the skip-info
// chain, following next_blkno links as each page is exhausted.
func (c *Cursor) readNextSkipRecord() (SkipRecord, bool) {
	for c.skipOff+skipRecordSize > len(c.skipBytes) {
		if c.skipNextPage == pagestore.InvalidBlockNo {
			return SkipRecord{}, false
		}
		guard, err := c.pager.Read(c.skipNextPage)
		if err != nil {
			c.err = err
			return SkipRecord{}, false
		}
		c.skipBytes = append([]byte(nil), guard.Page().Used()...)
		c.skipNextPage = guard.Page().NextBlkno()
		guard.Release()
		c.skipOff = 0
	}
	rec := UnmarshalSkipRecord(c.skipBytes[c.skipOff:])
	c.skipOff += skipRecordSize
	return rec, true
}

func alignUp(offset, size uint64) uint64 {
	return (offset + size - 1) / size * size
}
