package wand

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"bm25idx/bm25score"
	"bm25idx/blockcodec"
	"bm25idx/blockpartition"
	"bm25idx/pagestore"
	"bm25idx/posting"
)

func newTestPager(t *testing.T) (*pagestore.Pager, *pagestore.FreeList, *pagestore.BlockNo) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relation.bm")
	pager, err := pagestore.Create(path)
	require.NoError(t, err)
	t.Cleanup(func() { pager.Close() })
	head := pagestore.InvalidBlockNo
	return pager, pagestore.NewFreeList(pager), &head
}

func fieldnormOf(docID uint32) uint8 { return uint8(docID % 200) }

// buildTerm serializes docIDs/freqs (already ascending) into a fresh term
// using fixed-128 blocks and opens a SealedScorer over it, mirroring
// segment.BuildSealed's per-term shape but without a growing segment.
func buildTerm(t *testing.T, pager *pagestore.Pager, fl *pagestore.FreeList, head *pagestore.BlockNo, docIDs, freqs []uint32, weight bm25score.Weight) SealedScorer {
	t.Helper()
	scorer := bm25score.FieldnormScorer{Weight: weight}

	part := blockpartition.NewFixed(blockpartition.FixedBlockSize)
	for i, d := range docIDs {
		part.AddDoc(scorer.Score(fieldnormOf(d), freqs[i]))
	}
	part.MakePartitions()

	ser, err := posting.NewSerializer(pager, fl, head, blockcodec.DeltaBitpack{})
	require.NoError(t, err)

	start := 0
	for bi, end := range part.Partitions() {
		for i := start; i <= int(end); i++ {
			ser.WriteDoc(docIDs[i], freqs[i])
		}
		maxIdx := part.MaxDoc()[bi]
		require.NoError(t, ser.FlushBlock(freqs[maxIdx], fieldnormOf(docIDs[maxIdx])))
		start = int(end) + 1
	}
	for i := start; i < len(docIDs); i++ {
		ser.WriteDoc(docIDs[i], freqs[i])
	}

	meta, err := ser.Close(scorer, fieldnormOf)
	require.NoError(t, err)

	cur := posting.OpenCursor(pager, meta, blockcodec.DeltaBitpack{})
	s, ok := NewSealedScorer(cur, weight)
	require.True(t, ok)
	return s
}

func noneDeleted(uint32) bool { return false }

func TestSingleTermBlockMaxWANDMatchesBruteForce(t *testing.T) {
	pager, fl, head := newTestPager(t)
	const n = 350
	docIDs := make([]uint32, n)
	freqs := make([]uint32, n)
	for i := range docIDs {
		docIDs[i] = uint32(i * 2)
		freqs[i] = uint32(1 + i%9)
	}
	weight := bm25score.NewWeight(1000, n, 50, 1)
	scorer := buildTerm(t, pager, fl, head, docIDs, freqs, weight)

	computer := bm25score.NewTopKComputer(5)
	require.NoError(t, Single(scorer, noneDeleted, fieldnormOf, computer))
	results := computer.ToSortedSlice()
	require.Len(t, results, 5)

	// the single-term fast path must agree with a full, unpruned scan.
	want := map[uint32]float32{}
	for i, d := range docIDs {
		want[d] = weight.ScoreByFieldnorm(fieldnormOf(d), freqs[i])
	}
	for _, r := range results {
		require.InDelta(t, want[r.DocID], r.Score, 1e-4)
	}
}

func TestMultiTermPivotAlgorithmMatchesBruteForce(t *testing.T) {
	pager, fl, head := newTestPager(t)

	const n = 300
	// term A: every third doc. term B: every fifth doc. Overlap at every
	// fifteenth -- exercises the pivot algorithm's alignment across docs
	// that carry one, the other, or both terms.
	var aDocs, aFreqs, bDocs, bFreqs []uint32
	for d := uint32(0); d < n; d++ {
		if d%3 == 0 {
			aDocs = append(aDocs, d)
			aFreqs = append(aFreqs, 1+d%4)
		}
		if d%5 == 0 {
			bDocs = append(bDocs, d)
			bFreqs = append(bFreqs, 1+d%6)
		}
	}

	weightA := bm25score.NewWeight(n, uint32(len(aDocs)), 10, 1)
	weightB := bm25score.NewWeight(n, uint32(len(bDocs)), 10, 1)
	scorerA := buildTerm(t, pager, fl, head, aDocs, aFreqs, weightA)
	scorerB := buildTerm(t, pager, fl, head, bDocs, bFreqs, weightB)

	termFreqs := map[uint32]map[uint32]uint32{}
	termFreqs[0] = map[uint32]uint32{}
	for i, d := range aDocs {
		termFreqs[0][d] = aFreqs[i]
	}
	termFreqs[1] = map[uint32]uint32{}
	for i, d := range bDocs {
		termFreqs[1][d] = bFreqs[i]
	}
	weights := map[uint32]bm25score.Weight{0: weightA, 1: weightB}

	wantScore := make(map[uint32]float32)
	for d := uint32(0); d < n; d++ {
		var score float32
		var matched bool
		fn := fieldnormOf(d)
		for termID, w := range weights {
			tf, ok := termFreqs[termID][d]
			if !ok {
				continue
			}
			matched = true
			score += w.ScoreByFieldnorm(fn, tf)
		}
		if matched {
			wantScore[d] = score
		}
	}

	computer := bm25score.NewTopKComputer(10)
	require.NoError(t, Multi([]SealedScorer{scorerA, scorerB}, noneDeleted, fieldnormOf, computer))
	results := computer.ToSortedSlice()
	require.Len(t, results, 10)
	for _, r := range results {
		want, ok := wantScore[r.DocID]
		require.True(t, ok, "docid %d not expected to match", r.DocID)
		require.InDelta(t, want, r.Score, 1e-3)
	}
}

func TestBruteForceVisitsEveryMatchingDoc(t *testing.T) {
	pager, fl, head := newTestPager(t)

	const n = 120
	var aDocs, aFreqs, bDocs, bFreqs []uint32
	for d := uint32(0); d < n; d++ {
		if d%2 == 0 {
			aDocs = append(aDocs, d)
			aFreqs = append(aFreqs, 1)
		}
		if d%7 == 0 {
			bDocs = append(bDocs, d)
			bFreqs = append(bFreqs, 2)
		}
	}
	weightA := bm25score.NewWeight(n, uint32(len(aDocs)), 10, 1)
	weightB := bm25score.NewWeight(n, uint32(len(bDocs)), 10, 1)
	scorerA := buildTerm(t, pager, fl, head, aDocs, aFreqs, weightA)
	scorerB := buildTerm(t, pager, fl, head, bDocs, bFreqs, weightB)

	results, err := BruteForce([]SealedScorer{scorerA, scorerB}, noneDeleted, fieldnormOf)
	require.NoError(t, err)

	union := map[uint32]bool{}
	for _, d := range aDocs {
		union[d] = true
	}
	for _, d := range bDocs {
		union[d] = true
	}
	require.Len(t, results, len(union))
	for _, r := range results {
		require.True(t, union[r.DocID])
	}
	for i := 1; i < len(results); i++ {
		require.LessOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestDeletedDocsAreSkipped(t *testing.T) {
	pager, fl, head := newTestPager(t)
	const n = 40
	docIDs := make([]uint32, n)
	freqs := make([]uint32, n)
	for i := range docIDs {
		docIDs[i] = uint32(i)
		freqs[i] = 1
	}
	weight := bm25score.NewWeight(n, n, 10, 1)
	scorer := buildTerm(t, pager, fl, head, docIDs, freqs, weight)

	deleted := func(docID uint32) bool { return docID == 5 }
	computer := bm25score.NewTopKComputer(n)
	require.NoError(t, Single(scorer, deleted, fieldnormOf, computer))
	for _, r := range computer.ToSortedSlice() {
		require.NotEqual(t, uint32(5), r.DocID)
	}
}
