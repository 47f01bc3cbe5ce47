package posting

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"bm25idx/blockcodec"
	"bm25idx/blockpartition"
	"bm25idx/pagestore"
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

type testScorer struct{}

func (testScorer) Score(fieldnormID uint8, tf uint32) float32 {
	return float32(tf) + float32(fieldnormID)*0.01
}

func testFieldnorm(docID uint32) uint8 { return uint8(docID % 251) }

// buildTerm serializes docIDs/freqs (already in ascending docid order) into
// a fresh term using a Fixed partitioner, the way a segment's seal would:
// one pass to score every doc, MakePartitions, then a second pass writing
// and flushing blocks at the chosen boundaries.
func buildTerm(t *testing.T, pager *pagestore.Pager, fl *pagestore.FreeList, head *pagestore.BlockNo, codec blockcodec.Codec, docIDs, freqs []uint32) *TermMeta {
	t.Helper()
	weight := testScorer{}

	part := blockpartition.NewFixed(blockpartition.FixedBlockSize)
	for i, d := range docIDs {
		part.AddDoc(weight.Score(testFieldnorm(d), freqs[i]))
	}
	part.MakePartitions()

	ser, err := NewSerializer(pager, fl, head, codec)
	require.NoError(t, err)

	start := 0
	for bi, end := range part.Partitions() {
		for i := start; i <= int(end); i++ {
			ser.WriteDoc(docIDs[i], freqs[i])
		}
		maxIdx := part.MaxDoc()[bi]
		require.NoError(t, ser.FlushBlock(freqs[maxIdx], testFieldnorm(docIDs[maxIdx])))
		start = int(end) + 1
	}
	for i := start; i < len(docIDs); i++ {
		ser.WriteDoc(docIDs[i], freqs[i])
	}

	meta, err := ser.Close(weight, testFieldnorm)
	require.NoError(t, err)
	return meta
}

func sequentialPostings(n int) ([]uint32, []uint32) {
	if n == 0 {
		return nil, nil
	}
	docIDs := make([]uint32, n)
	freqs := make([]uint32, n)
	for i := 0; i < n; i++ {
		docIDs[i] = uint32(i * 3)
		freqs[i] = uint32(1 + i%17)
	}
	return docIDs, freqs
}

func readAll(t *testing.T, cur *Cursor) ([]uint32, []uint32) {
	t.Helper()
	var docIDs, freqs []uint32
	for cur.Next() {
		docIDs = append(docIDs, cur.DocID())
		freqs = append(freqs, cur.Freq())
	}
	require.NoError(t, cur.Err())
	require.True(t, cur.Completed())
	return docIDs, freqs
}

func TestSerializerCursorRoundTrip(t *testing.T) {
	for name, codec := range map[string]blockcodec.Codec{
		"delta_bitpack": blockcodec.DeltaBitpack{},
		"elias_fano":    blockcodec.EliasFano{},
	} {
		t.Run(name, func(t *testing.T) {
			for _, n := range []int{0, 1, 127, 128, 129, 300, 384} {
				pager, fl, head := newTestPager(t)
				wantDocIDs, wantFreqs := sequentialPostings(n)
				meta := buildTerm(t, pager, fl, head, codec, wantDocIDs, wantFreqs)

				cur := OpenCursor(pager, meta, codec)
				gotDocIDs, gotFreqs := readAll(t, cur)
				require.Equal(t, wantDocIDs, gotDocIDs)
				require.Equal(t, wantFreqs, gotFreqs)
			}
		})
	}
}

func TestCursorSeekSkipsForward(t *testing.T) {
	pager, fl, head := newTestPager(t)
	docIDs, freqs := sequentialPostings(500)
	meta := buildTerm(t, pager, fl, head, blockcodec.DeltaBitpack{}, docIDs, freqs)

	for _, target := range []uint32{0, 1, docIDs[5], docIDs[130] - 1, docIDs[499], docIDs[499] + 1} {
		cur := OpenCursor(pager, meta, blockcodec.DeltaBitpack{})
		ok := cur.Seek(target)

		wantIdx := -1
		for i, d := range docIDs {
			if d >= target {
				wantIdx = i
				break
			}
		}
		if wantIdx == -1 {
			require.Falsef(t, ok, "Seek(%d) = true, want false", target)
			continue
		}
		require.Truef(t, ok, "Seek(%d) = false, want landing on %d", target, docIDs[wantIdx])
		require.Equal(t, docIDs[wantIdx], cur.DocID())
		require.Equal(t, freqs[wantIdx], cur.Freq())

		for i := wantIdx + 1; i < len(docIDs); i++ {
			require.True(t, cur.Next())
			require.Equal(t, docIDs[i], cur.DocID())
		}
		require.False(t, cur.Next())
	}
}

// TestBlockMaxScoreIsAnUpperBound checks the core block-max WAND invariant:
// every block's BlockMaxScore must be >= the score of any (docid,tf) pair
// actually decoded from that block.
func TestBlockMaxScoreIsAnUpperBound(t *testing.T) {
	pager, fl, head := newTestPager(t)
	docIDs, freqs := sequentialPostings(513)
	meta := buildTerm(t, pager, fl, head, blockcodec.DeltaBitpack{}, docIDs, freqs)
	weight := testScorer{}

	cur := OpenCursor(pager, meta, blockcodec.DeltaBitpack{})
	require.True(t, cur.NextBlock())
	for {
		bound := cur.BlockMaxScore(weight)
		require.NoError(t, cur.DecodeBlock())

		for i := 0; i < cur.blockEntryCount(); i++ {
			score := weight.Score(testFieldnorm(cur.DocID()), cur.Freq())
			require.LessOrEqualf(t, score, bound, "docid %d scores above block bound", cur.DocID())
			if i < cur.blockEntryCount()-1 {
				require.True(t, cur.advanceWithinBlock())
			}
		}
		if !cur.NextBlock() {
			break
		}
	}
}

func TestShallowSeekPastEndTerminates(t *testing.T) {
	pager, fl, head := newTestPager(t)
	docIDs, freqs := sequentialPostings(200)
	meta := buildTerm(t, pager, fl, head, blockcodec.DeltaBitpack{}, docIDs, freqs)

	cur := OpenCursor(pager, meta, blockcodec.DeltaBitpack{})
	require.False(t, cur.ShallowSeek(docIDs[len(docIDs)-1]+1000))
	require.True(t, cur.Completed())
	require.Equal(t, TerminatedDoc, cur.DocID())
}

func TestAppenderExtendsNewTerm(t *testing.T) {
	pager, fl, head := newTestPager(t)
	weight := testScorer{}

	app, err := NewAppender(pager, fl, head, blockcodec.DeltaBitpack{}, weight, testFieldnorm)
	require.NoError(t, err)

	docIDs, freqs := sequentialPostings(250)
	for i := range docIDs {
		require.NoError(t, app.WriteDoc(docIDs[i], freqs[i]))
	}
	meta, err := app.Close()
	require.NoError(t, err)
	require.EqualValues(t, 250, meta.DocCount)

	cur := OpenCursor(pager, meta, blockcodec.DeltaBitpack{})
	gotDocIDs, gotFreqs := readAll(t, cur)
	require.Equal(t, docIDs, gotDocIDs)
	require.Equal(t, freqs, gotFreqs)
}

func TestAppenderExtendsExistingTerm(t *testing.T) {
	pager, fl, head := newTestPager(t)
	codec := blockcodec.DeltaBitpack{}
	weight := testScorer{}

	initialDocIDs, initialFreqs := sequentialPostings(150)
	meta := buildTerm(t, pager, fl, head, codec, initialDocIDs, initialFreqs)
	require.Len(t, meta.UnfulledDocIDs, 150-blockpartition.FixedBlockSize)

	moreDocIDs := make([]uint32, 0, 90)
	moreFreqs := make([]uint32, 0, 90)
	next := initialDocIDs[len(initialDocIDs)-1] + 1
	for i := 0; i < 90; i++ {
		moreDocIDs = append(moreDocIDs, next)
		moreFreqs = append(moreFreqs, uint32(1+i%5))
		next += 2
	}

	app, err := OpenAppender(pager, fl, head, codec, meta, weight, testFieldnorm)
	require.NoError(t, err)
	for i := range moreDocIDs {
		require.NoError(t, app.WriteDoc(moreDocIDs[i], moreFreqs[i]))
	}
	updated, err := app.Close()
	require.NoError(t, err)

	wantDocIDs := append(append([]uint32(nil), initialDocIDs...), moreDocIDs...)
	wantFreqs := append(append([]uint32(nil), initialFreqs...), moreFreqs...)
	require.EqualValues(t, len(wantDocIDs), updated.DocCount)

	cur := OpenCursor(pager, updated, codec)
	gotDocIDs, gotFreqs := readAll(t, cur)
	require.Equal(t, wantDocIDs, gotDocIDs)
	require.Equal(t, wantFreqs, gotFreqs)
}

func TestTermMetaMarshalRoundTrip(t *testing.T) {
	m := &TermMeta{
		SkipInfoHeadPage:       3,
		SkipInfoTailPage:       7,
		BlockDataHeadPage:      11,
		BlockCount:             5,
		DocCount:               640,
		LastFullBlockLastDocID: 1279,
		UnfulledDocIDs:         []uint32{1280, 1281, 1282},
		UnfulledTFs:            []uint32{1, 2, 3},
	}
	got, err := UnmarshalTermMeta(m.Marshal())
	require.NoError(t, err)
	require.Equal(t, m, got)
}

func TestSkipRecordMarshalRoundTrip(t *testing.T) {
	r := SkipRecord{
		LastDoc:              42,
		BlockwandTF:          9,
		DocCnt:               128,
		Size:                 200,
		BlockwandFieldnormID: 17,
		Flags:                FlagPageChanged,
	}
	got := UnmarshalSkipRecord(r.Marshal())
	require.Equal(t, r, got)
	require.True(t, got.PageChanged())
	require.False(t, got.Unfulled())
}
