package blockcodec

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func codecs() map[string]Codec {
	return map[string]Codec{
		"delta_bitpack": DeltaBitpack{},
		"elias_fano":    EliasFano{},
	}
}

// randomBlock returns n strictly increasing docids starting above base
// (or above 0 when base is invalidBase) and n term frequencies >= 1.
func randomBlock(rng *rand.Rand, base uint32, n int) ([]uint32, []uint32) {
	docIDs := make([]uint32, n)
	freqs := make([]uint32, n)
	prev := uint32(0)
	if base != invalidBase {
		prev = base
	}
	for i := 0; i < n; i++ {
		prev = prev + 1 + uint32(rng.Intn(50))
		docIDs[i] = prev
		freqs[i] = uint32(1 + rng.Intn(1000))
	}
	return docIDs, freqs
}

func TestCodecRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for name, codec := range codecs() {
		t.Run(name, func(t *testing.T) {
			for _, base := range []uint32{invalidBase, 0, 9, 1000} {
				for _, n := range []int{1, 2, 17, 128} {
					docIDs, freqs := randomBlock(rng, base, n)
					wantDocIDs := append([]uint32(nil), docIDs...)
					wantFreqs := append([]uint32(nil), freqs...)

					data := codec.Encode(base, docIDs, freqs)

					size := codec.DecodedSize(data, n)
					require.LessOrEqualf(t, size, len(data), "DecodedSize exceeds encoded length")

					dec := codec.NewDecoder()
					dec.Decode(data[:size], base, n)
					for i := 0; i < n; i++ {
						require.Equalf(t, wantDocIDs[i], dec.DocID(), "entry %d docid", i)
						require.Equalf(t, wantFreqs[i], dec.Freq(), "entry %d freq", i)
						hasNext := dec.Next()
						if i < n-1 {
							require.Truef(t, hasNext, "entry %d: Next() = false, want true", i)
						} else {
							require.Falsef(t, hasNext, "entry %d: Next() = true, want false at end", i)
						}
					}
				}
			}
		})
	}
}

func TestCodecSeek(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for name, codec := range codecs() {
		t.Run(name, func(t *testing.T) {
			docIDs, freqs := randomBlock(rng, invalidBase, 128)
			wantDocIDs := append([]uint32(nil), docIDs...)
			maxDoc := wantDocIDs[len(wantDocIDs)-1]

			data := codec.Encode(invalidBase, docIDs, freqs)
			size := codec.DecodedSize(data, 128)

			for _, target := range []uint32{0, wantDocIDs[0], wantDocIDs[5] - 1, wantDocIDs[5], wantDocIDs[64], maxDoc, maxDoc + 1} {
				dec := codec.NewDecoder()
				dec.Decode(data[:size], invalidBase, 128)

				ok := dec.Seek(target)
				wantIdx := -1
				for i, d := range wantDocIDs {
					if d >= target {
						wantIdx = i
						break
					}
				}
				if wantIdx == -1 {
					require.Falsef(t, ok, "Seek(%d) = true, want false (past max docid %d)", target, maxDoc)
					continue
				}
				require.Truef(t, ok, "Seek(%d) = false, want landing on docid %d", target, wantDocIDs[wantIdx])
				require.Equalf(t, wantDocIDs[wantIdx], dec.DocID(), "Seek(%d) landing docid", target)
				require.GreaterOrEqualf(t, dec.DocID(), target, "Seek(%d) landed below target", target)

				// Iteration after a seek must still visit every remaining
				// entry in order.
				for i := wantIdx + 1; i < len(wantDocIDs); i++ {
					require.Truef(t, dec.Next(), "Next() after Seek(%d) ended early at index %d", target, i)
					require.Equalf(t, wantDocIDs[i], dec.DocID(), "post-seek entry %d docid", i)
				}
				require.Falsef(t, dec.Next(), "Next() after exhausting post-seek entries returned true")
			}
		})
	}
}

func TestCodecDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	docIDs, freqs := randomBlock(rng, invalidBase, 64)
	for name, codec := range codecs() {
		t.Run(name, func(t *testing.T) {
			d1, f1 := append([]uint32(nil), docIDs...), append([]uint32(nil), freqs...)
			d2, f2 := append([]uint32(nil), docIDs...), append([]uint32(nil), freqs...)

			data1 := codec.Encode(invalidBase, d1, f1)
			data2 := codec.Encode(invalidBase, d2, f2)

			require.Equal(t, data1, data2)
		})
	}
}
