package pagestore

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTempPager(t *testing.T) *Pager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relation.bm")
	pager, err := Create(path)
	require.NoError(t, err)
	t.Cleanup(func() { pager.Close() })
	return pager
}

func TestAllocRawInitializesPage(t *testing.T) {
	pager := newTempPager(t)

	guard, err := pager.AllocRaw(FlagTermInfo)
	require.NoError(t, err)
	page := guard.Page()
	require.Equal(t, BlockNo(0), page.Blkno())
	require.Equal(t, FlagTermInfo, page.Flag())
	require.Equal(t, InvalidBlockNo, page.NextBlkno())
	require.NoError(t, guard.Commit())
	require.EqualValues(t, 1, pager.NumPages())
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	pager := newTempPager(t)

	guard, err := pager.AllocRaw(FlagSidecar)
	require.NoError(t, err)
	blkno := guard.Page().Blkno()
	off, err := guard.Page().Grow(4)
	require.NoError(t, err)
	copy(guard.Page().Content()[off:], []byte{1, 2, 3, 4})
	require.NoError(t, guard.Commit())

	rg, err := pager.Read(blkno)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, rg.Page().Used())
	rg.Release()
}

func TestAbortDiscardsChanges(t *testing.T) {
	pager := newTempPager(t)

	guard, err := pager.AllocRaw(FlagSidecar)
	require.NoError(t, err)
	require.NoError(t, guard.Commit())
	blkno := guard.Page().Blkno()

	wg, err := pager.Write(blkno)
	require.NoError(t, err)
	_, err = wg.Page().Grow(10)
	require.NoError(t, err)
	wg.Abort()

	rg, err := pager.Read(blkno)
	require.NoError(t, err)
	require.Empty(t, rg.Page().Used())
	rg.Release()
}

func TestReadOutOfRangeIsCorruption(t *testing.T) {
	pager := newTempPager(t)
	_, err := pager.Read(99)
	require.Error(t, err)
}

func TestFreeListReusesFreedPage(t *testing.T) {
	pager := newTempPager(t)
	fl := NewFreeList(pager)
	head := InvalidBlockNo

	g1, err := fl.Alloc(FlagSidecar, &head)
	require.NoError(t, err)
	blkno1 := g1.Page().Blkno()
	require.NoError(t, g1.Commit())

	require.NoError(t, fl.Free(blkno1, &head))
	require.Equal(t, blkno1, head)
	require.EqualValues(t, 1, pager.NumPages())

	g2, err := fl.Alloc(FlagTermInfo, &head)
	require.NoError(t, err)
	require.Equal(t, blkno1, g2.Page().Blkno())
	require.Equal(t, FlagTermInfo, g2.Page().Flag())
	require.Equal(t, InvalidBlockNo, head)
	require.NoError(t, g2.Commit())
	require.EqualValues(t, 1, pager.NumPages())
}

func TestPageWriterSpansMultiplePages(t *testing.T) {
	pager := newTempPager(t)
	fl := NewFreeList(pager)
	head := InvalidBlockNo

	pw, err := NewPageWriter(fl, &head, FlagSkipInfo)
	require.NoError(t, err)

	payload := make([]byte, ContentSize*3+17)
	for i := range payload {
		payload[i] = byte(i)
	}
	n, err := pw.Write(payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.EqualValues(t, len(payload), pw.Written())
	require.NoError(t, pw.Close())

	reader := OpenPageReader(pager, pw.FirstBlock())
	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestPageWriterEmptyPayloadRoundTrips(t *testing.T) {
	pager := newTempPager(t)
	fl := NewFreeList(pager)
	head := InvalidBlockNo

	pw, err := NewPageWriter(fl, &head, FlagSkipInfo)
	require.NoError(t, err)
	require.NoError(t, pw.Close())

	reader := OpenPageReader(pager, pw.FirstBlock())
	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.Empty(t, got)
}
