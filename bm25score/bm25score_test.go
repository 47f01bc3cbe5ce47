package bm25score

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFieldnormRoundTrip(t *testing.T) {
	for _, length := range []uint32{0, 1, 23, 24, 100, 250, 251, 400, 1000, 100000, math.MaxUint32} {
		id := FieldnormToID(length)
		decoded := IDToFieldnorm(id)
		require.LessOrEqual(t, decoded, length, "length=%d id=%d decoded=%d", length, id, decoded)
	}
}

func TestFieldnormIdentityExact(t *testing.T) {
	for length := uint32(0); length <= fieldnormIdentityBound; length++ {
		require.Equal(t, length, IDToFieldnorm(FieldnormToID(length)))
	}
}

func TestFieldnormMonotonic(t *testing.T) {
	prev := IDToFieldnorm(0)
	for id := 1; id < 256; id++ {
		cur := IDToFieldnorm(uint8(id))
		require.GreaterOrEqual(t, cur, prev)
		prev = cur
	}
}

func TestIdf(t *testing.T) {
	// a term present in nearly every document has a lower idf than a rare one
	rare := Idf(1000, 1)
	common := Idf(1000, 999)
	require.Greater(t, rare, common)
}

func TestWeightScoreScenario2(t *testing.T) {
	// single doc, tokens {1:2, 3:1}, doc_len=3, query {1:1}.
	w := NewWeight(1, 1, 3, 1)
	got := w.Score(3, 2)
	want := float32(math.Log(2.0/1.5)) * (1 + K1) * 2 / (2 + K1*(1-B+B*3/3))
	require.InDelta(t, want, got, 1e-5)
}

func TestTopKComputerBounded(t *testing.T) {
	tk := NewTopKComputer(3)
	scores := []float32{5, 1, 9, 3, 7, 2, 8}
	for i, s := range scores {
		tk.Push(s, uint32(i))
	}
	got := tk.ToSortedSlice()
	require.Len(t, got, 3)
	require.Equal(t, []float32{7, 8, 9}, []float32{got[0].Score, got[1].Score, got[2].Score})
}

func TestTopKComputerThresholdMonotonic(t *testing.T) {
	tk := NewTopKComputer(2)
	last := tk.Threshold()
	for _, s := range []float32{1, 5, 2, 9, 0, 10} {
		tk.Push(s, 0)
		require.GreaterOrEqual(t, tk.Threshold(), last)
		last = tk.Threshold()
	}
}
