package bm25index

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"bm25idx/bm25score"
	"bm25idx/bmerr"
	"bm25idx/segment"
	"bm25idx/wand"
)

// Scan is one open query cursor, created by BeginScan and driven by
// Rescan/GetTuple/EndScan -- the access-method's beginscan/rescan/
// gettuple/endscan callback group. Only one ordering column is
// supported (n_orderbys=1, the BM25 score itself).
type Scan struct {
	idx     *Index
	results []bm25score.Result
	pos     int
}

// BeginScan opens a new scan against the index. numOrderBys must be 1:
// this access method only ever ranks by its own BM25 score.
func (idx *Index) BeginScan(numOrderBys int) (*Scan, error) {
	if numOrderBys != 1 {
		return nil, fmt.Errorf("bm25index: only a single order-by column is supported, got %d: %w", numOrderBys, bmerr.ErrInvalidInput)
	}
	return &Scan{idx: idx}, nil
}

// Rescan evaluates query (raw text, tokenized with the index's
// configured tokenizer) and (re)populates the scan's result set --
// the access-method's rescan(order_by=bm25query) callback. It may be
// called more than once on the same Scan to run a new query without
// reopening it.
func (s *Scan) Rescan(query string) error {
	idx := s.idx
	idx.mu.Lock()
	defer idx.mu.Unlock()

	doc := tokenizeQuery(idx, query)
	if len(doc.Terms) == 0 || idx.cfg.BM25Limit == 0 {
		s.results, s.pos = nil, 0
		return nil
	}

	docCount := idx.cat.DocCount()
	avgdl := idx.cat.AvgDocLen()

	var merged []bm25score.Result
	for _, seg := range idx.sealed {
		res, err := scanSealedSegment(idx, seg, doc.Terms, docCount, avgdl)
		if err != nil {
			return err
		}
		merged = append(merged, res...)
	}

	growingRes, err := scanGrowingSegment(idx, doc.Terms, docCount, avgdl)
	if err != nil {
		return err
	}
	merged = append(merged, growingRes...)

	sort.Slice(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if idx.cfg.BM25Limit >= 0 && len(merged) > idx.cfg.BM25Limit {
		merged = merged[:idx.cfg.BM25Limit]
	}
	s.results, s.pos = merged, 0
	idx.log.Debug("scan rescanned", zap.Int("terms", len(doc.Terms)), zap.Int("results", len(merged)))
	return nil
}

func tokenizeQuery(idx *Index, query string) segment.DocVector {
	terms := idx.tok.Tokenize(query)
	counts := make(map[uint32]uint32)
	order := make([]uint32, 0, len(terms))
	for _, t := range terms {
		id, ok := idx.vocab.Lookup(t)
		if !ok {
			continue
		}
		if _, seen := counts[id]; !seen {
			order = append(order, id)
		}
		counts[id]++
	}
	out := make([]segment.TermFreq, len(order))
	for i, id := range order {
		out[i] = segment.TermFreq{TermID: id, TF: counts[id]}
	}
	return segment.DocVector{Terms: out}
}

func scanSealedSegment(idx *Index, seg *segment.Sealed, terms []segment.TermFreq, docCount uint32, avgdl float32) ([]bm25score.Result, error) {
	var scorers []wand.SealedScorer
	for _, t := range terms {
		cursor, ok, err := seg.GetPostings(t.TermID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		df, err := idx.termStat.DocFreq(t.TermID)
		if err != nil {
			return nil, err
		}
		if df == 0 {
			continue
		}
		weight := bm25score.NewWeight(docCount, df, avgdl, t.TF)
		scorer, ok := wand.NewSealedScorer(cursor, weight)
		if !ok {
			continue
		}
		scorers = append(scorers, scorer)
	}
	if len(scorers) == 0 {
		return nil, nil
	}

	limit := idx.cfg.BM25Limit
	if limit < 0 {
		return wand.BruteForce(scorers, idx.deletes.IsDeleted, idx.fieldnormOf)
	}

	computer := bm25score.NewTopKComputer(limit)
	var err error
	if len(scorers) == 1 {
		err = wand.Single(scorers[0], idx.deletes.IsDeleted, idx.fieldnormOf, computer)
	} else {
		err = wand.Multi(scorers, idx.deletes.IsDeleted, idx.fieldnormOf, computer)
	}
	if err != nil {
		return nil, err
	}
	return computer.ToSortedSlice(), nil
}

// scanGrowingSegment linearly scores every document still in the
// unsealed growing log: it has no block structure for WAND pruning, so
// every live document is scored directly against the query's term
// weights, the same brute-force shape BruteForce gives sealed segments
// for bm25_limit == -1.
func scanGrowingSegment(idx *Index, terms []segment.TermFreq, docCount uint32, avgdl float32) ([]bm25score.Result, error) {
	g := idx.cat.Growing()
	if g.IsEmpty() {
		return nil, nil
	}
	weights := make(map[uint32]bm25score.Weight, len(terms))
	for _, t := range terms {
		df, err := idx.termStat.DocFreq(t.TermID)
		if err != nil {
			return nil, err
		}
		if df == 0 {
			continue
		}
		weights[t.TermID] = bm25score.NewWeight(docCount, df, avgdl, t.TF)
	}
	if len(weights) == 0 {
		return nil, nil
	}

	it := segment.NewIterator(idx.pager, g.HeadBlkno)
	var out []bm25score.Result
	for {
		doc, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if idx.deletes.IsDeleted(doc.DocID) {
			continue
		}
		var score float32
		var matched bool
		length := docLength(doc)
		for _, t := range doc.Terms {
			w, ok := weights[t.TermID]
			if !ok {
				continue
			}
			matched = true
			score += w.Score(length, t.TF)
		}
		if matched {
			out = append(out, bm25score.Result{DocID: doc.DocID, Score: score})
		}
	}
	return out, nil
}

// GetTuple returns the next result in ranked order -- the access
// method's gettuple callback -- or ok=false once the scan is exhausted.
func (s *Scan) GetTuple() (row RowLocator, ok bool, err error) {
	if s.pos >= len(s.results) {
		return 0, false, nil
	}
	r := s.results[s.pos]
	s.pos++
	rl, err := s.idx.payload.Get(r.DocID)
	if err != nil {
		return 0, false, err
	}
	return RowLocator(rl), true, nil
}

// EndScan releases the scan's result set.
func (s *Scan) EndScan() {
	s.results = nil
}
