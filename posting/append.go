package posting

import (
	"fmt"

	"bm25idx/bmerr"
	"bm25idx/blockcodec"
	"bm25idx/blockpartition"
	"bm25idx/pagestore"
	"bm25idx/vpage"
)

// Appender extends an existing or brand-new term with more documents,
// always cutting fixed blockpartition.FixedBlockSize-entry blocks rather
// than running a cost-based partitioner: unlike a seal, an append sees
// documents trickle in with no opportunity to batch and optimize a whole
// term's score distribution up front.
type Appender struct {
	pager *pagestore.Pager
	fl    *pagestore.FreeList
	head  *pagestore.BlockNo
	codec blockcodec.Codec

	weight      Scorer
	fieldnormOf func(docID uint32) uint8

	blockWriter *vpage.Writer
	skip        *skipWriter

	blockCount  uint32
	docCount    uint32
	runningBase uint32

	pendingDocIDs []uint32
	pendingFreqs  []uint32
}

// NewAppender starts a brand-new term through the append path: a term_id
// that has never had any postings written for it yet.
func NewAppender(pager *pagestore.Pager, fl *pagestore.FreeList, head *pagestore.BlockNo, codec blockcodec.Codec, weight Scorer, fieldnormOf func(docID uint32) uint8) (*Appender, error) {
	skip, err := newSkipWriter(pager, fl, head)
	if err != nil {
		return nil, err
	}

	blockWriter, err := vpage.Create(pager, fl, head, pagestore.FlagVPageData)
	if err != nil {
		return nil, err
	}

	return &Appender{
		pager:       pager,
		fl:          fl,
		head:        head,
		codec:       codec,
		weight:      weight,
		fieldnormOf: fieldnormOf,
		blockWriter: blockWriter,
		skip:        skip,
		runningBase: NoLastDoc,
	}, nil
}

// OpenAppender resumes an existing term for more writes. If the term's
// trailing block was an inline unfulled one, it is popped off the skip-info
// chain: its documents are folded back into the pending buffer and will be
// re-emitted, either merged into new full blocks or as a fresh, larger
// unfulled record, by the time Close is called.
func OpenAppender(pager *pagestore.Pager, fl *pagestore.FreeList, head *pagestore.BlockNo, codec blockcodec.Codec, meta *TermMeta, weight Scorer, fieldnormOf func(docID uint32) uint8) (*Appender, error) {
	blockWriter, err := vpage.Reopen(pager, fl, head, pagestore.FlagVPageData, meta.BlockDataHeadPage)
	if err != nil {
		return nil, err
	}

	skip := openSkipWriter(pager, fl, head, meta.SkipInfoHeadPage, meta.SkipInfoTailPage)

	blockCount := meta.BlockCount
	pendingDocIDs := append([]uint32(nil), meta.UnfulledDocIDs...)
	pendingFreqs := append([]uint32(nil), meta.UnfulledTFs...)
	if len(pendingDocIDs) > 0 {
		if err := skip.popLast(); err != nil {
			return nil, err
		}
		blockCount--
	}

	return &Appender{
		pager:         pager,
		fl:            fl,
		head:          head,
		codec:         codec,
		weight:        weight,
		fieldnormOf:   fieldnormOf,
		blockWriter:   blockWriter,
		skip:          skip,
		blockCount:    blockCount,
		docCount:      meta.DocCount,
		runningBase:   meta.LastFullBlockLastDocID,
		pendingDocIDs: pendingDocIDs,
		pendingFreqs:  pendingFreqs,
	}, nil
}

// WriteDoc appends one (docID, freq) pair, flushing a full block the
// moment the pending buffer reaches blockpartition.FixedBlockSize entries.
func (a *Appender) WriteDoc(docID, freq uint32) error {
	a.pendingDocIDs = append(a.pendingDocIDs, docID)
	a.pendingFreqs = append(a.pendingFreqs, freq)
	a.docCount++
	if len(a.pendingDocIDs) < blockpartition.FixedBlockSize {
		return nil
	}
	return a.flushFullBlock()
}

func (a *Appender) flushFullBlock() error {
	docIDs := a.pendingDocIDs
	freqs := a.pendingFreqs
	lastDoc := docIDs[len(docIDs)-1]

	// blockwandMax must run before Encode: Encode consumes docIDs/freqs in
	// place (e.g. DeltaBitpack delta- and decrement-codes them), so reading
	// true docid/freq values afterward would score against corrupted data.
	tf, fieldnormID, _ := blockwandMax(docIDs, freqs, a.weight, a.fieldnormOf)

	data := a.codec.Encode(a.runningBase, docIDs, freqs)
	if len(data) > vpage.PageBytes {
		return fmt.Errorf("posting: encoded block of %d bytes exceeds page size %d: %w", len(data), vpage.PageBytes, bmerr.ErrOverflow)
	}
	pageChanged, err := writeBlockNoCross(a.blockWriter, data)
	if err != nil {
		return err
	}

	var flags SkipFlag
	if pageChanged {
		flags |= FlagPageChanged
	}
	rec := SkipRecord{
		LastDoc:              lastDoc,
		BlockwandTF:          tf,
		DocCnt:               uint32(len(docIDs)),
		Size:                 uint16(len(data)),
		BlockwandFieldnormID: fieldnormID,
		Flags:                flags,
	}
	if err := a.skip.append(rec); err != nil {
		return err
	}

	a.runningBase = lastDoc
	a.blockCount++
	a.pendingDocIDs = a.pendingDocIDs[:0]
	a.pendingFreqs = a.pendingFreqs[:0]
	return nil
}

// Close flushes any trailing remainder as a new inline unfulled record and
// returns the term's updated metadata. The caller is responsible for
// persisting it, typically in place over the term's existing TermMeta page.
func (a *Appender) Close() (*TermMeta, error) {
	var unfulledDocIDs, unfulledTFs []uint32
	if len(a.pendingDocIDs) > 0 {
		unfulledDocIDs = append([]uint32(nil), a.pendingDocIDs...)
		unfulledTFs = append([]uint32(nil), a.pendingFreqs...)

		tf, fieldnormID, _ := blockwandMax(unfulledDocIDs, unfulledTFs, a.weight, a.fieldnormOf)
		rec := SkipRecord{
			LastDoc:              unfulledDocIDs[len(unfulledDocIDs)-1],
			BlockwandTF:          tf,
			DocCnt:               uint32(len(unfulledDocIDs)),
			BlockwandFieldnormID: fieldnormID,
			Flags:                FlagUnfulled,
		}
		if err := a.skip.append(rec); err != nil {
			return nil, err
		}
		a.blockCount++
	}

	return &TermMeta{
		SkipInfoHeadPage:       a.skip.first,
		SkipInfoTailPage:       a.skip.tail,
		BlockDataHeadPage:      a.blockWriter.Root(),
		BlockCount:             a.blockCount,
		DocCount:               a.docCount,
		LastFullBlockLastDocID: a.runningBase,
		UnfulledDocIDs:         unfulledDocIDs,
		UnfulledTFs:            unfulledTFs,
	}, nil
}
