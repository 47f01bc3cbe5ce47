package sidecar

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"bm25idx/pagestore"
)

func newPager(t *testing.T) (*pagestore.Pager, *pagestore.FreeList, *pagestore.BlockNo) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rel")
	p, err := pagestore.Create(path)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	// reserve block 0 the way the real catalog would, so side segments never
	// collide with metapage.Blkno in these standalone tests.
	_, err = p.AllocRaw(pagestore.FlagMeta)
	require.NoError(t, err)
	head := pagestore.InvalidBlockNo
	return p, pagestore.NewFreeList(p), &head
}

func TestPayloadAppendAndGet(t *testing.T) {
	pager, fl, head := newPager(t)
	p, err := CreatePayload(pager, fl, head)
	require.NoError(t, err)

	for i := uint64(0); i < 5; i++ {
		require.NoError(t, p.Append(i*111))
	}
	for i := uint32(0); i < 5; i++ {
		got, err := p.Get(i)
		require.NoError(t, err)
		require.Equal(t, uint64(i)*111, got)
	}
}

func TestFieldnormReopenContinuesAppend(t *testing.T) {
	pager, fl, head := newPager(t)
	f, err := CreateFieldnorm(pager, fl, head)
	require.NoError(t, err)
	headerBlkno := f.HeaderBlkno()

	require.NoError(t, f.Append(10))
	require.NoError(t, f.Append(20))

	reopened, err := OpenFieldnorm(pager, fl, head, headerBlkno)
	require.NoError(t, err)
	require.NoError(t, reopened.Append(30))

	got0, err := reopened.Get(0)
	require.NoError(t, err)
	require.Equal(t, uint8(10), got0)
	got2, err := reopened.Get(2)
	require.NoError(t, err)
	require.Equal(t, uint8(30), got2)
}

func TestTermStatAddDocFreqGrowsAndUpdates(t *testing.T) {
	pager, fl, head := newPager(t)
	ts, err := CreateTermStat(pager, fl, head)
	require.NoError(t, err)

	require.NoError(t, ts.AddDocFreq(7, 3))
	df, err := ts.DocFreq(7)
	require.NoError(t, err)
	require.Equal(t, uint32(3), df)

	// a term_id never touched reads as zero, not an error.
	unseen, err := ts.DocFreq(2)
	require.NoError(t, err)
	require.Equal(t, uint32(0), unseen)

	require.NoError(t, ts.AddDocFreq(7, -1))
	df, err = ts.DocFreq(7)
	require.NoError(t, err)
	require.Equal(t, uint32(2), df)
}

func TestDeleteBitmapRoundTrip(t *testing.T) {
	pager, fl, head := newPager(t)
	d, err := CreateDeleteBitmap(pager, fl, head)
	require.NoError(t, err)

	d.Delete(10)
	d.Delete(42)
	require.True(t, d.IsDeleted(10))
	require.False(t, d.IsDeleted(11))
	require.NoError(t, d.Save())

	reopened, err := OpenDeleteBitmap(pager, fl, head, d.RootBlkno())
	require.NoError(t, err)
	require.True(t, reopened.IsDeleted(10))
	require.True(t, reopened.IsDeleted(42))
	require.Equal(t, uint64(2), reopened.Cardinality())

	reopened.Delete(99)
	require.NoError(t, reopened.Save())
	again, err := OpenDeleteBitmap(pager, fl, head, reopened.RootBlkno())
	require.NoError(t, err)
	require.True(t, again.IsDeleted(99))
}
