package posting

import (
	"fmt"

	"bm25idx/bmerr"
	"bm25idx/blockcodec"
	"bm25idx/pagestore"
	"bm25idx/vpage"
)

// Scorer computes a BM25 contribution for one (fieldnorm, term frequency)
// pair, letting posting pick a block's blockwand bound without importing
// bm25score; bm25score.FieldnormScorer satisfies it.
type Scorer interface {
	Score(fieldnormID uint8, tf uint32) float32
}

// Serializer writes one term's posting list: a skip-info record per full
// block, and the blocks' compressed bytes in a parallel block-data virtual
// file. Blocks are handed to it pre-cut by a blockpartition.Partitioner;
// Serializer only knows how to encode and place bytes, never how to choose
// boundaries.
type Serializer struct {
	codec blockcodec.Codec

	skipWriter  *skipWriter
	blockWriter *vpage.Writer

	blockCount  uint32
	docCount    uint32
	prevLastDoc uint32 // NoLastDoc until the first full block is flushed

	pendingDocIDs []uint32
	pendingFreqs  []uint32
}

// NewSerializer starts a brand-new term: fresh skip-info and block-data
// chains, both rooted under head's free list.
func NewSerializer(pager *pagestore.Pager, fl *pagestore.FreeList, head *pagestore.BlockNo, codec blockcodec.Codec) (*Serializer, error) {
	skip, err := newSkipWriter(pager, fl, head)
	if err != nil {
		return nil, err
	}
	blockWriter, err := vpage.Create(pager, fl, head, pagestore.FlagVPageData)
	if err != nil {
		return nil, err
	}
	return &Serializer{
		codec:       codec,
		skipWriter:  skip,
		blockWriter: blockWriter,
		prevLastDoc: NoLastDoc,
	}, nil
}

// WriteDoc accumulates one (docID, freq) pair into the block currently
// being built. docID must be strictly greater than every previously
// written docid for this term.
func (s *Serializer) WriteDoc(docID, freq uint32) {
	s.pendingDocIDs = append(s.pendingDocIDs, docID)
	s.pendingFreqs = append(s.pendingFreqs, freq)
	s.docCount++
}

// FlushBlock compresses every doc accumulated since the last flush (or
// since the term began) into one full block and appends its skip record.
// blockwandTF/blockwandFieldnormID are the (tf, fieldnorm) pair the caller
// has already determined maximizes this block's score -- typically read
// straight off the partitioner's MaxDoc index, so the block's docs never
// need a second scan here. FlushBlock is a no-op if nothing is pending.
func (s *Serializer) FlushBlock(blockwandTF uint32, blockwandFieldnormID uint8) error {
	if len(s.pendingDocIDs) == 0 {
		return nil
	}
	docIDs := s.pendingDocIDs
	freqs := s.pendingFreqs
	lastDoc := docIDs[len(docIDs)-1]

	data := s.codec.Encode(s.prevLastDoc, docIDs, freqs)
	if len(data) > vpage.PageBytes {
		return fmt.Errorf("posting: encoded block of %d bytes exceeds page size %d: %w", len(data), vpage.PageBytes, bmerr.ErrOverflow)
	}
	pageChanged, err := writeBlockNoCross(s.blockWriter, data)
	if err != nil {
		return err
	}

	var flags SkipFlag
	if pageChanged {
		flags |= FlagPageChanged
	}
	rec := SkipRecord{
		LastDoc:              lastDoc,
		BlockwandTF:          blockwandTF,
		DocCnt:               uint32(len(docIDs)),
		Size:                 uint16(len(data)),
		BlockwandFieldnormID: blockwandFieldnormID,
		Flags:                flags,
	}
	if err := s.skipWriter.append(rec); err != nil {
		return err
	}

	s.prevLastDoc = lastDoc
	s.blockCount++
	s.pendingDocIDs = s.pendingDocIDs[:0]
	s.pendingFreqs = s.pendingFreqs[:0]
	return nil
}

// writeBlockNoCross implements write_vectorized_no_cross: a block's bytes
// must never straddle a block-data page boundary. If the current page
// doesn't have room, pad it out and start the block on a fresh page,
// reporting that a page change happened so the caller can flag it.
func writeBlockNoCross(w *vpage.Writer, data []byte) (pageChanged bool, err error) {
	remaining, err := w.Remaining()
	if err != nil {
		return false, err
	}
	if remaining < len(data) {
		if err := w.Pad(); err != nil {
			return false, err
		}
		pageChanged = true
	}
	if _, err := w.Write(data); err != nil {
		return false, err
	}
	return pageChanged, nil
}

// Close flushes any trailing remainder (fewer than a full block's worth of
// docs) as the inline unfulled block, closes both streams, and returns the
// term's metadata. weight and fieldnormOf are only consulted when a
// trailing remainder exists, to brute-force its blockwand bound.
func (s *Serializer) Close(weight Scorer, fieldnormOf func(docID uint32) uint8) (*TermMeta, error) {
	var unfulledDocIDs, unfulledTFs []uint32
	if len(s.pendingDocIDs) > 0 {
		unfulledDocIDs = append([]uint32(nil), s.pendingDocIDs...)
		unfulledTFs = append([]uint32(nil), s.pendingFreqs...)

		tf, fieldnormID, _ := blockwandMax(unfulledDocIDs, unfulledTFs, weight, fieldnormOf)
		rec := SkipRecord{
			LastDoc:              unfulledDocIDs[len(unfulledDocIDs)-1],
			BlockwandTF:          tf,
			DocCnt:               uint32(len(unfulledDocIDs)),
			BlockwandFieldnormID: fieldnormID,
			Flags:                FlagUnfulled,
		}
		if err := s.skipWriter.append(rec); err != nil {
			return nil, err
		}
		s.blockCount++
	}

	return &TermMeta{
		SkipInfoHeadPage:       s.skipWriter.first,
		SkipInfoTailPage:       s.skipWriter.tail,
		BlockDataHeadPage:      s.blockWriter.Root(),
		BlockCount:             s.blockCount,
		DocCount:               s.docCount,
		LastFullBlockLastDocID: s.prevLastDoc,
		UnfulledDocIDs:         unfulledDocIDs,
		UnfulledTFs:            unfulledTFs,
	}, nil
}

// blockwandMax brute-force scans a (typically small, <= blockpartition's
// block size) set of docs to find the (tf, fieldnorm) pair that maximizes
// weight.Score, for use as a block's blockwand bound. The Serializer's full
// blocks get this bound from the partitioner's incremental tracking, so it
// scans only its trailing unfulled remainder here; the Appender, which runs
// no partitioner, scans every block it writes, full or unfulled.
func blockwandMax(docIDs, freqs []uint32, weight Scorer, fieldnormOf func(uint32) uint8) (tf uint32, fieldnormID uint8, score float32) {
	best := float32(-1)
	for i, d := range docIDs {
		fn := fieldnormOf(d)
		sc := weight.Score(fn, freqs[i])
		if sc > best {
			best = sc
			tf = freqs[i]
			fieldnormID = fn
		}
	}
	return tf, fieldnormID, best
}
