// Package wand implements Block-Max WAND retrieval over sealed-segment
// posting cursors: a single-term fast path, the pivot-doc multi-term
// algorithm, and a brute-force fallback for bm25_limit == -1. Every
// variant prunes (or, for brute force, simply skips) work using the same
// posting.Cursor contract: block-level score bounds before a block is
// decoded, auto-decoding iteration once it's worth decoding.
package wand

import (
	"container/heap"
	"sort"

	"bm25idx/bm25score"
	"bm25idx/posting"
)

// SealedScorer pairs one term's posting cursor with the BM25 weight that
// scores it and the term-level upper bound (weight.MaxScore()) the pivot
// search sums against.
type SealedScorer struct {
	Cursor   *posting.Cursor
	Weight   bm25score.Weight
	MaxScore float32
}

// NewSealedScorer opens scorer bookkeeping for one term's cursor, advancing
// it to its first block. ok is false if the cursor has no blocks at all
// (an empty posting list, which GetPostings should never hand back, but is
// checked here rather than assumed).
func NewSealedScorer(cursor *posting.Cursor, weight bm25score.Weight) (SealedScorer, bool) {
	s := SealedScorer{Cursor: cursor, Weight: weight, MaxScore: weight.MaxScore()}
	// ShallowSeek(0) primes the cursor's started/hasCur state exactly like
	// Next/Seek would, without decoding the first block -- unlike a bare
	// NextBlock() call, it leaves the cursor safe to drive with either the
	// NextBlock/DecodeBlock/NextDoc family (Single) or the Seek/Next family
	// (Multi, BruteForce) afterward.
	if !cursor.ShallowSeek(0) {
		return s, false
	}
	return s, true
}

// DeletedFunc reports whether docID has been soft-deleted, consulted
// before a pushed score and on a full rescore at the pivot.
type DeletedFunc func(docID uint32) bool

// FieldnormFunc resolves a docid's quantized fieldnorm id.
type FieldnormFunc func(docID uint32) uint8

// Single runs the block-max WAND fast path for one term: skip every block
// whose stored upper bound can't beat the running top-K threshold, decode
// and fully score the rest.
func Single(scorer SealedScorer, deleted DeletedFunc, fieldnormOf FieldnormFunc, computer *bm25score.TopKComputer) error {
	c := scorer.Cursor
	fs := bm25score.FieldnormScorer{Weight: scorer.Weight}
	for {
		for c.BlockMaxScore(fs) <= computer.Threshold() {
			if !c.NextBlock() {
				return c.Err()
			}
		}
		if err := c.DecodeBlock(); err != nil {
			return err
		}
		for {
			docID := c.DocID()
			if !deleted(docID) {
				tf := c.Freq()
				fieldnormID := fieldnormOf(docID)
				computer.Push(scorer.Weight.ScoreByFieldnorm(fieldnormID, tf), docID)
			}
			if !c.NextDoc() {
				break
			}
		}
		if !c.NextBlock() {
			return c.Err()
		}
	}
}

// Multi runs the pivot-doc Block-Max WAND algorithm across several terms'
// cursors. scorers must each already be positioned at their first block
// (see NewSealedScorer); Multi decodes the first block of every scorer
// up front so their current docids are comparable before the main loop.
//
// The threshold comparator is "<=" throughout: a block or bound sum is
// skipped unless it can strictly exceed the running threshold. Single and
// the pivot search use the same comparator, so a given corpus and query
// always prune identically.
func Multi(scorers []SealedScorer, deleted DeletedFunc, fieldnormOf FieldnormFunc, computer *bm25score.TopKComputer) error {
	for i := range scorers {
		if err := scorers[i].Cursor.DecodeBlock(); err != nil {
			return err
		}
	}
	sort.Slice(scorers, func(i, j int) bool {
		return scorers[i].Cursor.DocID() < scorers[j].Cursor.DocID()
	})

	for {
		beforePivotLen, pivotLen, pivotDoc, ok := findPivotDoc(scorers, computer.Threshold())
		if !ok {
			return nil
		}

		var upperBound float32
		for i := 0; i < pivotLen; i++ {
			scorers[i].Cursor.ShallowSeek(pivotDoc)
			upperBound += scorers[i].Cursor.BlockMaxScore(bm25score.FieldnormScorer{Weight: scorers[i].Weight})
		}

		if upperBound <= computer.Threshold() {
			if err := advanceOneScorerOnLowBound(scorers, pivotLen); err != nil {
				return err
			}
			continue
		}

		aligned, err := alignScorers(&scorers, pivotDoc, beforePivotLen)
		if err != nil {
			return err
		}
		if !aligned {
			continue
		}

		if !deleted(pivotDoc) {
			fieldnormID := fieldnormOf(pivotDoc)
			var score float32
			for i := 0; i < pivotLen; i++ {
				score += scorers[i].Weight.ScoreByFieldnorm(fieldnormID, scorers[i].Cursor.Freq())
			}
			computer.Push(score, pivotDoc)
		}

		if err := advanceAllScorersOnPivot(&scorers, pivotLen); err != nil {
			return err
		}
	}
}

// findPivotDoc accumulates scorers' term-level max scores in ascending-
// docid order until the running sum exceeds threshold; that scorer's docid
// is the pivot. pivotLen extends past every scorer already sitting on the
// pivot docid, since a beaten threshold only requires SOME subset summing
// past it, and every cursor already at the pivot necessarily contributes.
func findPivotDoc(scorers []SealedScorer, threshold float32) (beforePivotLen, pivotLen int, pivotDoc uint32, ok bool) {
	var maxScore float32
	for beforePivotLen = 0; beforePivotLen < len(scorers); beforePivotLen++ {
		maxScore += scorers[beforePivotLen].MaxScore
		if maxScore > threshold {
			pivotDoc = scorers[beforePivotLen].Cursor.DocID()
			ok = true
			break
		}
	}
	if !ok {
		return 0, 0, 0, false
	}
	pivotLen = beforePivotLen + 1
	for pivotLen < len(scorers) && scorers[pivotLen].Cursor.DocID() == pivotDoc {
		pivotLen++
	}
	return beforePivotLen, pivotLen, pivotDoc, true
}

// advanceOneScorerOnLowBound picks, among the pivot-contributing scorers,
// the one whose current block ends soonest (tie-break: largest term
// max-score) and seeks it just past the smallest last-doc-in-block among
// all pivot-contributing scorers, capped by the docid of any non-pivot
// scorer -- so the seek never jumps over a cursor that hasn't even reached
// the pivot region yet.
func advanceOneScorerOnLowBound(scorers []SealedScorer, pivotLen int) error {
	scorerToSeek := pivotLen - 1
	globalMaxScore := scorers[scorerToSeek].MaxScore
	docToSeekAfter := scorers[scorerToSeek].Cursor.LastDocInBlock()

	for ord := pivotLen - 2; ord >= 0; ord-- {
		s := scorers[ord]
		if s.Cursor.LastDocInBlock() <= docToSeekAfter {
			docToSeekAfter = s.Cursor.LastDocInBlock()
		}
		if s.MaxScore > globalMaxScore {
			globalMaxScore = s.MaxScore
			scorerToSeek = ord
		}
	}
	docToSeekAfter = saturatingAdd1(docToSeekAfter)

	for i := pivotLen; i < len(scorers); i++ {
		if scorers[i].Cursor.DocID() <= docToSeekAfter {
			docToSeekAfter = scorers[i].Cursor.DocID()
		}
	}

	scorers[scorerToSeek].Cursor.Seek(docToSeekAfter)
	if err := scorers[scorerToSeek].Cursor.Err(); err != nil {
		return err
	}
	restoreOrdering(scorers, scorerToSeek)
	return nil
}

func saturatingAdd1(d uint32) uint32 {
	if d == posting.TerminatedDoc {
		return d
	}
	return d + 1
}

// restoreOrdering bubbles scorers[ord] rightward (a single insertion-sort
// step) until ascending-docid order is restored, since only that one
// cursor moved.
func restoreOrdering(scorers []SealedScorer, ord int) {
	doc := scorers[ord].Cursor.DocID()
	for i := ord + 1; i < len(scorers); i++ {
		if scorers[i].Cursor.DocID() >= doc {
			break
		}
		scorers[i], scorers[i-1] = scorers[i-1], scorers[i]
	}
}

// alignScorers seeks every scorer strictly before the pivot up to pivotDoc.
// If any of them lands past pivotDoc (the term simply has no posting at
// the pivot doc) the whole outer loop must restart against a new pivot, so
// alignScorers reports false; a terminated cursor is dropped from the
// slice first.
func alignScorers(scorers *[]SealedScorer, pivotDoc uint32, beforePivotLen int) (bool, error) {
	s := *scorers
	for i := beforePivotLen - 1; i >= 0; i-- {
		s[i].Cursor.Seek(pivotDoc)
		if err := s[i].Cursor.Err(); err != nil {
			return false, err
		}
		if s[i].Cursor.DocID() != pivotDoc {
			if s[i].Cursor.Completed() {
				s = append(s[:i], s[i+1:]...)
				*scorers = s
			}
			restoreOrdering(s, i)
			return false, nil
		}
	}
	return true, nil
}

// advanceAllScorersOnPivot advances every pivot-contributing scorer past
// the doc just scored, drops any now-completed cursors, and restores
// ascending-docid order across the whole (possibly shrunk) slice.
func advanceAllScorersOnPivot(scorers *[]SealedScorer, pivotLen int) error {
	s := *scorers
	for i := 0; i < pivotLen; i++ {
		s[i].Cursor.Next()
		if err := s[i].Cursor.Err(); err != nil {
			return err
		}
	}
	kept := s[:0]
	for _, sc := range s {
		if !sc.Cursor.Completed() {
			kept = append(kept, sc)
		}
	}
	s = kept
	sort.Slice(s, func(i, j int) bool { return s[i].Cursor.DocID() < s[j].Cursor.DocID() })
	*scorers = s
	return nil
}

// bruteEntry is one live cursor in the BruteForce merge: a min-heap keyed
// by current docid, joined disjunctively (any subset of terms may be
// present at a given docid; absent terms simply contribute no score).
type bruteEntry struct {
	scorer SealedScorer
	docID  uint32
}

type bruteHeap []*bruteEntry

func (h bruteHeap) Len() int            { return len(h) }
func (h bruteHeap) Less(i, j int) bool  { return h[i].docID < h[j].docID }
func (h bruteHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *bruteHeap) Push(x interface{}) { *h = append(*h, x.(*bruteEntry)) }
func (h *bruteHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// BruteForce scores every document carrying at least one of the query
// terms with no block-max pruning at all, for bm25_limit == -1: a
// disjunctive merge-join across every term's cursor using a min-heap on
// docid. Results are returned sorted ascending by score, matching
// bm25score.TopKComputer.ToSortedSlice's contract so callers can treat
// both result paths identically.
func BruteForce(scorers []SealedScorer, deleted DeletedFunc, fieldnormOf FieldnormFunc) ([]bm25score.Result, error) {
	h := &bruteHeap{}
	heap.Init(h)
	for _, s := range scorers {
		if err := s.Cursor.DecodeBlock(); err != nil {
			return nil, err
		}
		heap.Push(h, &bruteEntry{scorer: s, docID: s.Cursor.DocID()})
	}

	var results []bm25score.Result
	for h.Len() > 0 {
		currentDoc := (*h)[0].docID

		var matching []*bruteEntry
		for _, e := range *h {
			if e.docID == currentDoc {
				matching = append(matching, e)
			}
		}

		if !deleted(currentDoc) {
			fieldnormID := fieldnormOf(currentDoc)
			var score float32
			for _, e := range matching {
				score += e.scorer.Weight.ScoreByFieldnorm(fieldnormID, e.scorer.Cursor.Freq())
			}
			results = append(results, bm25score.Result{DocID: currentDoc, Score: score})
		}

		for _, e := range matching {
			idx := indexOfDoc(*h, e)
			if e.scorer.Cursor.Next() {
				e.docID = e.scorer.Cursor.DocID()
				heap.Fix(h, idx)
			} else {
				if err := e.scorer.Cursor.Err(); err != nil {
					return nil, err
				}
				heap.Remove(h, idx)
			}
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score < results[j].Score })
	return results, nil
}

func indexOfDoc(h bruteHeap, target *bruteEntry) int {
	for i, e := range h {
		if e == target {
			return i
		}
	}
	return -1
}
