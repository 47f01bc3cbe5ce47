package vpage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

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

func TestWriterReadAtRoundTripsWithinFirstPage(t *testing.T) {
	pager, fl, head := newTestPager(t)
	w, err := Create(pager, fl, head, pagestore.FlagVPageData)
	require.NoError(t, err)

	payload := []byte("the quick brown fox")
	n, err := w.Write(payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	r := Open(pager, w.Root())
	got := make([]byte, len(payload))
	require.NoError(t, r.ReadAt(0, got))
	require.Equal(t, payload, got)
}

func TestWriterSpansMultipleDataPages(t *testing.T) {
	pager, fl, head := newTestPager(t)
	w, err := Create(pager, fl, head, pagestore.FlagVPageData)
	require.NoError(t, err)

	payload := make([]byte, PageBytes*3)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	_, err = w.Write(payload)
	require.NoError(t, err)

	r := Open(pager, w.Root())
	for _, pageIdx := range []uint64{0, 1, 2} {
		got := make([]byte, PageBytes)
		require.NoError(t, r.ReadAt(pageIdx*PageBytes, got))
		require.Equal(t, payload[pageIdx*PageBytes:(pageIdx+1)*PageBytes], got)
	}
}

func TestUpdateAtOverwritesInPlace(t *testing.T) {
	pager, fl, head := newTestPager(t)
	w, err := Create(pager, fl, head, pagestore.FlagVPageData)
	require.NoError(t, err)
	_, err = w.Write(make([]byte, 64))
	require.NoError(t, err)

	r := Open(pager, w.Root())
	require.NoError(t, r.UpdateAt(8, 4, func(b []byte) {
		copy(b, []byte{0xAA, 0xBB, 0xCC, 0xDD})
	}))

	got := make([]byte, 4)
	require.NoError(t, r.ReadAt(8, got))
	require.Equal(t, []byte{0xAA, 0xBB, 0xCC, 0xDD}, got)
}

// withSmallFanout shrinks the inode fan-out to tiny values for the
// duration of fn, so tests can exercise the indirect1/indirect2 tree-growth
// logic without allocating millions of pages.
func withSmallFanout(t *testing.T, direct, ind1, ind2 uint64, fn func()) {
	t.Helper()
	origDirect, origInd1, origInd2 := directCount, indirect1Count, indirect2Count
	directCount, indirect1Count, indirect2Count = direct, ind1, ind2
	t.Cleanup(func() {
		directCount, indirect1Count, indirect2Count = origDirect, origInd1, origInd2
	})
	fn()
}

func TestTreeGrowsThroughIndirectLevels(t *testing.T) {
	withSmallFanout(t, 2, 4, 8, func() {
		pager, fl, head := newTestPager(t)
		w, err := Create(pager, fl, head, pagestore.FlagVPageData)
		require.NoError(t, err)

		const numPages = 11 // direct(2) + indirect1(4) + indirect2(8) - 3 already covers every level
		for i := 0; i < numPages; i++ {
			_, err := w.Write(make([]byte, PageBytes))
			require.NoError(t, err)
		}

		r := Open(pager, w.Root())
		for vid := uint64(0); vid < numPages; vid++ {
			_, err := r.GetBlockID(vid)
			require.NoErrorf(t, err, "virtual id %d", vid)
		}
	})
}

func TestReopenContinuesAppending(t *testing.T) {
	withSmallFanout(t, 2, 4, 8, func() {
		pager, fl, head := newTestPager(t)
		w, err := Create(pager, fl, head, pagestore.FlagVPageData)
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			_, err := w.Write(make([]byte, PageBytes))
			require.NoError(t, err)
		}
		root := w.Root()

		reopened, err := Reopen(pager, fl, head, pagestore.FlagVPageData, root)
		require.NoError(t, err)
		_, err = reopened.Write([]byte("tail"))
		require.NoError(t, err)

		r := Open(pager, root)
		got := make([]byte, 4)
		require.NoError(t, r.ReadAt(3*PageBytes, got))
		require.Equal(t, []byte("tail"), got)
	})
}
