package segment

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"bm25idx/blockcodec"
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

// a growing log round-trips every appended DocVector, in append order.
func TestGrowingAppendAndIterateRoundTrips(t *testing.T) {
	pager, fl, head := newTestPager(t)

	g, err := CreateGrowing(pager, fl, head)
	require.NoError(t, err)

	want := []DocVector{
		{DocID: 0, Terms: []TermFreq{{TermID: 1, TF: 2}, {TermID: 2, TF: 1}}},
		{DocID: 1, Terms: nil},
		{DocID: 2, Terms: []TermFreq{{TermID: 3, TF: 5}}},
	}
	for _, d := range want {
		require.NoError(t, g.Append(d))
	}

	it := NewIterator(pager, g.Descriptor().HeadBlkno)
	var got []DocVector
	for {
		d, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, d)
	}
	require.Equal(t, want, got)
}

// a growing log that spills across many pages still iterates back in
// order, exercising growingAppender's chained-page spill path.
func TestGrowingSpillsAcrossManyPages(t *testing.T) {
	pager, fl, head := newTestPager(t)

	g, err := CreateGrowing(pager, fl, head)
	require.NoError(t, err)

	const n = 2000
	for i := uint32(0); i < n; i++ {
		require.NoError(t, g.Append(DocVector{DocID: i, Terms: []TermFreq{{TermID: i % 7, TF: i%3 + 1}}}))
	}

	it := NewIterator(pager, g.Descriptor().HeadBlkno)
	var count uint32
	for {
		d, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		require.Equal(t, count, d.DocID)
		count++
	}
	require.EqualValues(t, n, count)
}

// a growing segment reopened mid-stream (OpenGrowing) can still append
// further records after the ones already on disk.
func TestOpenGrowingResumesAppending(t *testing.T) {
	pager, fl, head := newTestPager(t)

	g, err := CreateGrowing(pager, fl, head)
	require.NoError(t, err)
	require.NoError(t, g.Append(DocVector{DocID: 0, Terms: []TermFreq{{TermID: 1, TF: 1}}}))
	desc := g.Descriptor()

	resumed := OpenGrowing(pager, fl, head, desc)
	require.NoError(t, resumed.Append(DocVector{DocID: 1, Terms: []TermFreq{{TermID: 2, TF: 1}}}))

	it := NewIterator(pager, desc.HeadBlkno)
	var ids []uint32
	for {
		d, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		ids = append(ids, d.DocID)
	}
	require.Equal(t, []uint32{0, 1}, ids)
}

func fieldnormOf(docID uint32) uint8 { return uint8(10 + docID%50) }

// BuildSealed compiles a growing log's postings into a per-term sealed
// segment, and OpenSealed/GetPostings returns exactly the docids/tfs each
// term was seen with.
func TestBuildSealedAndGetPostingsRoundTrips(t *testing.T) {
	pager, fl, head := newTestPager(t)

	g, err := CreateGrowing(pager, fl, head)
	require.NoError(t, err)

	// term 0 appears in every doc, term 1 only in odd docs.
	const n = 300
	for d := uint32(0); d < n; d++ {
		terms := []TermFreq{{TermID: 0, TF: 1 + d%5}}
		if d%2 == 1 {
			terms = append(terms, TermFreq{TermID: 1, TF: 2})
		}
		require.NoError(t, g.Append(DocVector{DocID: d, Terms: terms}))
	}

	cfg := BuildConfig{Codec: blockcodec.DeltaBitpack{}}
	data, err := BuildSealed(pager, fl, head, g.Descriptor().HeadBlkno, cfg, fieldnormOf)
	require.NoError(t, err)
	require.EqualValues(t, n, data.DocCount)

	sealed, err := OpenSealed(pager, fl, head, data, blockcodec.DeltaBitpack{})
	require.NoError(t, err)
	require.EqualValues(t, 2, sealed.VocabSize())

	cur0, ok, err := sealed.GetPostings(0)
	require.NoError(t, err)
	require.True(t, ok)
	var docs0 []uint32
	for cur0.Next() {
		docs0 = append(docs0, cur0.DocID())
	}
	require.NoError(t, cur0.Err())
	require.Len(t, docs0, n)

	cur1, ok, err := sealed.GetPostings(1)
	require.NoError(t, err)
	require.True(t, ok)
	var docs1 []uint32
	for cur1.Next() {
		require.EqualValues(t, 1, cur1.DocID()%2)
		require.EqualValues(t, 2, cur1.Freq())
		docs1 = append(docs1, cur1.DocID())
	}
	require.NoError(t, cur1.Err())
	require.Len(t, docs1, n/2)

	// a term_id past the vocab never seen in this segment reports ok=false.
	_, ok, err = sealed.GetPostings(2)
	require.NoError(t, err)
	require.False(t, ok)
}

// AppendToSealed folds a second growing log into an already-built sealed
// segment: existing terms keep every old posting and gain the new ones,
// terms first seen in the second log get fresh posting lists, and the
// descriptor's counters cover both logs.
func TestAppendToSealedExtendsExistingSegment(t *testing.T) {
	pager, fl, head := newTestPager(t)
	cfg := BuildConfig{Codec: blockcodec.DeltaBitpack{}}

	g1, err := CreateGrowing(pager, fl, head)
	require.NoError(t, err)
	const n1 = 150
	for d := uint32(0); d < n1; d++ {
		require.NoError(t, g1.Append(DocVector{DocID: d, Terms: []TermFreq{{TermID: 0, TF: 1 + d%3}}}))
	}
	data, err := BuildSealed(pager, fl, head, g1.Descriptor().HeadBlkno, cfg, fieldnormOf)
	require.NoError(t, err)

	g2, err := CreateGrowing(pager, fl, head)
	require.NoError(t, err)
	const n2 = 110
	for d := uint32(n1); d < n1+n2; d++ {
		terms := []TermFreq{{TermID: 0, TF: 2}}
		if d%2 == 0 {
			terms = append(terms, TermFreq{TermID: 1, TF: 1})
		}
		require.NoError(t, g2.Append(DocVector{DocID: d, Terms: terms}))
	}
	updated, err := AppendToSealed(pager, fl, head, data, cfg, g2.Descriptor().HeadBlkno, fieldnormOf)
	require.NoError(t, err)
	require.Equal(t, data.TermInfoRoot, updated.TermInfoRoot)
	require.EqualValues(t, n1+n2, updated.DocCount)

	sealed, err := OpenSealed(pager, fl, head, updated, blockcodec.DeltaBitpack{})
	require.NoError(t, err)

	cur0, ok, err := sealed.GetPostings(0)
	require.NoError(t, err)
	require.True(t, ok)
	var next uint32
	for cur0.Next() {
		require.Equal(t, next, cur0.DocID())
		next++
	}
	require.NoError(t, cur0.Err())
	require.EqualValues(t, n1+n2, next)

	cur1, ok, err := sealed.GetPostings(1)
	require.NoError(t, err)
	require.True(t, ok)
	var count1 int
	for cur1.Next() {
		require.GreaterOrEqual(t, cur1.DocID(), uint32(n1))
		require.EqualValues(t, 0, cur1.DocID()%2)
		count1++
	}
	require.NoError(t, cur1.Err())
	require.Equal(t, n2/2, count1)
}

// a sealed segment built with the variable-length partitioner and the
// Elias-Fano codec still returns every posting for a term.
func TestBuildSealedWithVariablePartitionAndEliasFano(t *testing.T) {
	pager, fl, head := newTestPager(t)

	g, err := CreateGrowing(pager, fl, head)
	require.NoError(t, err)

	const n = 500
	for d := uint32(0); d < n; d++ {
		require.NoError(t, g.Append(DocVector{DocID: d, Terms: []TermFreq{{TermID: 0, TF: 1}}}))
	}

	cfg := BuildConfig{Codec: blockcodec.EliasFano{}, PartitionLambda: 8}
	data, err := BuildSealed(pager, fl, head, g.Descriptor().HeadBlkno, cfg, fieldnormOf)
	require.NoError(t, err)

	sealed, err := OpenSealed(pager, fl, head, data, blockcodec.EliasFano{})
	require.NoError(t, err)

	cur, ok, err := sealed.GetPostings(0)
	require.NoError(t, err)
	require.True(t, ok)
	var count int
	for cur.Next() {
		count++
	}
	require.NoError(t, cur.Err())
	require.Equal(t, n, count)
}
