package segment

import (
	"sort"

	"bm25idx/bm25score"
	"bm25idx/blockcodec"
	"bm25idx/blockpartition"
	"bm25idx/metapage"
	"bm25idx/pagestore"
	"bm25idx/posting"
	"bm25idx/sidecar"
)

// BuildConfig names the choices a seal makes once, for every term in the
// segment being built: which blockcodec.Codec compresses full blocks, and
// whether block boundaries come from blockpartition.Fixed (lambda <= 0) or
// blockpartition.Variable (lambda > 0).
type BuildConfig struct {
	Codec           blockcodec.Codec
	PartitionLambda float32
}

func (cfg BuildConfig) newPartitioner() blockpartition.Partitioner {
	if cfg.PartitionLambda > 0 {
		return blockpartition.NewVariable(cfg.PartitionLambda)
	}
	return blockpartition.NewFixed(blockpartition.FixedBlockSize)
}

// BuildSealed replays every document in the growing segment rooted at
// growingHead, groups postings by term_id, and compiles one posting list
// per term plus a term-info table indexed by term_id -- the compaction
// step of a seal. fieldnormOf must resolve a docid already
// appended to the global fieldnorm sidecar (Insert writes it before
// appending to the growing log, so every docid the iterator yields already
// has one).
func BuildSealed(pager *pagestore.Pager, fl *pagestore.FreeList, head *pagestore.BlockNo, growingHead pagestore.BlockNo, cfg BuildConfig, fieldnormOf func(docID uint32) uint8) (metapage.SealedSegmentData, error) {
	postingsByTerm, docCount, docTermCount, err := collectPostings(pager, growingHead)
	if err != nil {
		return metapage.SealedSegmentData{}, err
	}

	var avgdl float32
	if docCount > 0 {
		avgdl = float32(docTermCount) / float32(docCount)
	}

	var vocabSize uint64
	for termID := range postingsByTerm {
		if uint64(termID)+1 > vocabSize {
			vocabSize = uint64(termID) + 1
		}
	}

	termInfo, err := sidecar.CreateFixedStrideSegment(pager, fl, head, pagestore.FlagTermInfo, 4)
	if err != nil {
		return metapage.SealedSegmentData{}, err
	}

	for termID := uint64(0); termID < vocabSize; termID++ {
		postings := postingsByTerm[uint32(termID)]
		info := posting.EmptyTermInfo
		if len(postings) > 0 {
			weight := bm25score.NewWeight(docCount, uint32(len(postings)), avgdl, 1)
			metaBlkno, err := buildTermPostings(pager, fl, head, cfg, postings, weight, fieldnormOf)
			if err != nil {
				return metapage.SealedSegmentData{}, err
			}
			info = posting.TermInfo{MetaBlkno: metaBlkno}
		}
		if err := termInfo.Append(info.Marshal()); err != nil {
			return metapage.SealedSegmentData{}, err
		}
	}

	return metapage.SealedSegmentData{
		TermInfoRoot: termInfo.HeaderBlkno(),
		DocCount:     docCount,
		DocTermCount: docTermCount,
	}, nil
}

// rawPosting is one (docid, tf) pair as accumulated during a seal, before
// block partitioning and compression.
type rawPosting struct {
	docID uint32
	tf    uint32
}

// collectPostings replays the growing log rooted at growingHead into
// per-term posting slices (already in docid order, since the log is
// appended in docid order), plus the document and total-length counters
// the sealed descriptor carries. docTermCount follows the catalog's
// convention: the sum of every document's length (sum of tfs), not its
// distinct-term count.
func collectPostings(pager *pagestore.Pager, growingHead pagestore.BlockNo) (map[uint32][]rawPosting, uint32, uint64, error) {
	postingsByTerm := make(map[uint32][]rawPosting)
	var docCount uint32
	var docTermCount uint64

	it := NewIterator(pager, growingHead)
	for {
		doc, ok, err := it.Next()
		if err != nil {
			return nil, 0, 0, err
		}
		if !ok {
			break
		}
		docCount++
		for _, t := range doc.Terms {
			docTermCount += uint64(t.TF)
			postingsByTerm[t.TermID] = append(postingsByTerm[t.TermID], rawPosting{docID: doc.DocID, tf: t.TF})
		}
	}
	return postingsByTerm, docCount, docTermCount, nil
}

// buildTermPostings compresses one term's postings (already sorted by
// ascending docid, since the growing log's iteration order is docid order)
// into a fresh posting list and returns its TermMeta page.
func buildTermPostings(pager *pagestore.Pager, fl *pagestore.FreeList, head *pagestore.BlockNo, cfg BuildConfig, postings []rawPosting, weight bm25score.Weight, fieldnormOf func(uint32) uint8) (pagestore.BlockNo, error) {
	part := cfg.newPartitioner()
	for _, p := range postings {
		part.AddDoc(weight.ScoreByFieldnorm(fieldnormOf(p.docID), p.tf))
	}
	part.MakePartitions()

	ser, err := posting.NewSerializer(pager, fl, head, cfg.Codec)
	if err != nil {
		return pagestore.InvalidBlockNo, err
	}

	boundaries := part.Partitions()
	maxDoc := part.MaxDoc()
	start := 0
	for i, end := range boundaries {
		for j := start; j <= int(end); j++ {
			ser.WriteDoc(postings[j].docID, postings[j].tf)
		}
		best := postings[maxDoc[i]]
		if err := ser.FlushBlock(best.tf, fieldnormOf(best.docID)); err != nil {
			return pagestore.InvalidBlockNo, err
		}
		start = int(end) + 1
	}
	for j := start; j < len(postings); j++ {
		ser.WriteDoc(postings[j].docID, postings[j].tf)
	}

	meta, err := ser.Close(bm25score.FieldnormScorer{Weight: weight}, fieldnormOf)
	if err != nil {
		return pagestore.InvalidBlockNo, err
	}
	return posting.SaveTermMeta(pager, fl, head, pagestore.InvalidBlockNo, meta)
}

// AppendToSealed extends an existing sealed segment with the documents of
// a newer growing log, through the posting append path: a term already in
// the segment has its inline unfulled block folded back, merged with the
// new docs, and re-cut on fixed block boundaries; a term never seen
// before gets a fresh posting list. Every growing docid is strictly
// greater than every docid already in the segment, so append order is
// docid order throughout. Returns the segment's updated descriptor (same
// term-info root, counters folded in).
func AppendToSealed(pager *pagestore.Pager, fl *pagestore.FreeList, head *pagestore.BlockNo, data metapage.SealedSegmentData, cfg BuildConfig, growingHead pagestore.BlockNo, fieldnormOf func(docID uint32) uint8) (metapage.SealedSegmentData, error) {
	postingsByTerm, docCount, docTermCount, err := collectPostings(pager, growingHead)
	if err != nil {
		return metapage.SealedSegmentData{}, err
	}
	if docCount == 0 {
		return data, nil
	}

	combinedDocCount := data.DocCount + docCount
	combinedDocTermCount := data.DocTermCount + docTermCount
	avgdl := float32(combinedDocTermCount) / float32(combinedDocCount)

	termInfo, err := sidecar.OpenFixedStrideSegment(pager, fl, head, pagestore.FlagTermInfo, data.TermInfoRoot, 4)
	if err != nil {
		return metapage.SealedSegmentData{}, err
	}

	termIDs := make([]uint32, 0, len(postingsByTerm))
	for termID := range postingsByTerm {
		termIDs = append(termIDs, termID)
	}
	sort.Slice(termIDs, func(i, j int) bool { return termIDs[i] < termIDs[j] })

	for _, termID := range termIDs {
		postings := postingsByTerm[termID]

		for termInfo.Count() <= uint64(termID) {
			if err := termInfo.Append(posting.EmptyTermInfo.Marshal()); err != nil {
				return metapage.SealedSegmentData{}, err
			}
		}
		buf, err := termInfo.Get(uint64(termID))
		if err != nil {
			return metapage.SealedSegmentData{}, err
		}
		info := posting.UnmarshalTermInfo(buf)

		var meta *posting.TermMeta
		var app *posting.Appender
		if info.IsEmpty() {
			weight := bm25score.NewWeight(combinedDocCount, uint32(len(postings)), avgdl, 1)
			app, err = posting.NewAppender(pager, fl, head, cfg.Codec, bm25score.FieldnormScorer{Weight: weight}, fieldnormOf)
		} else {
			meta, err = posting.LoadTermMeta(pager, info.MetaBlkno)
			if err != nil {
				return metapage.SealedSegmentData{}, err
			}
			weight := bm25score.NewWeight(combinedDocCount, meta.DocCount+uint32(len(postings)), avgdl, 1)
			app, err = posting.OpenAppender(pager, fl, head, cfg.Codec, meta, bm25score.FieldnormScorer{Weight: weight}, fieldnormOf)
		}
		if err != nil {
			return metapage.SealedSegmentData{}, err
		}

		for _, p := range postings {
			if err := app.WriteDoc(p.docID, p.tf); err != nil {
				return metapage.SealedSegmentData{}, err
			}
		}
		updated, err := app.Close()
		if err != nil {
			return metapage.SealedSegmentData{}, err
		}

		metaBlkno := pagestore.InvalidBlockNo
		if !info.IsEmpty() {
			metaBlkno = info.MetaBlkno
		}
		savedBlkno, err := posting.SaveTermMeta(pager, fl, head, metaBlkno, updated)
		if err != nil {
			return metapage.SealedSegmentData{}, err
		}
		if savedBlkno != info.MetaBlkno {
			if err := termInfo.Update(uint64(termID), func(b []byte) {
				copy(b, posting.TermInfo{MetaBlkno: savedBlkno}.Marshal())
			}); err != nil {
				return metapage.SealedSegmentData{}, err
			}
		}
	}

	return metapage.SealedSegmentData{
		TermInfoRoot: data.TermInfoRoot,
		DocCount:     combinedDocCount,
		DocTermCount: combinedDocTermCount,
	}, nil
}

// Sealed opens an existing sealed segment's term-info table for lookups.
type Sealed struct {
	pager     *pagestore.Pager
	codec     blockcodec.Codec
	termInfo  *sidecar.FixedStrideSegment
	vocabSize uint64
}

// OpenSealed reopens the sealed segment described by data, ready for
// GetPostings lookups.
func OpenSealed(pager *pagestore.Pager, fl *pagestore.FreeList, head *pagestore.BlockNo, data metapage.SealedSegmentData, codec blockcodec.Codec) (*Sealed, error) {
	termInfo, err := sidecar.OpenFixedStrideSegment(pager, fl, head, pagestore.FlagTermInfo, data.TermInfoRoot, 4)
	if err != nil {
		return nil, err
	}
	return &Sealed{pager: pager, codec: codec, termInfo: termInfo, vocabSize: termInfo.Count()}, nil
}

// VocabSize returns the number of term_ids this segment's term-info table
// covers, the upper bound for a VacuumCleanup scan over GetPostings.
func (s *Sealed) VocabSize() uint64 { return s.vocabSize }

// GetPostings returns a fresh Cursor over termID's postings within this
// segment, or ok=false if the term was never seen here.
func (s *Sealed) GetPostings(termID uint32) (cursor *posting.Cursor, ok bool, err error) {
	if uint64(termID) >= s.vocabSize {
		return nil, false, nil
	}
	buf, err := s.termInfo.Get(uint64(termID))
	if err != nil {
		return nil, false, err
	}
	info := posting.UnmarshalTermInfo(buf)
	if info.IsEmpty() {
		return nil, false, nil
	}
	meta, err := posting.LoadTermMeta(s.pager, info.MetaBlkno)
	if err != nil {
		return nil, false, err
	}
	return posting.OpenCursor(s.pager, meta, s.codec), true, nil
}
