// Package blockcodec implements the two block-level compressors the
// posting format can be built with: delta+bitpack for the common case, and
// Elias-Fano for postings whose docid gaps are large enough that EF's
// logarithmic-in-the-gap cost wins. The codec is chosen once per index, by
// its configuration, not per block. Both speak the same interface, and
// every byte a decoder needs (bit widths, the EF universe) is
// self-describing, stored as a small header at the front of the block's
// own encoded bytes rather than in a side channel.
package blockcodec

// Codec turns a block's sorted docids and term frequencies into a packed,
// self-describing byte stream (Encode) and back (a fresh Decoder per
// Decode call).
type Codec interface {
	// Encode compresses docIDs (strictly increasing, delta-coded against
	// baseDocID) and freqs (one per docid, >=1) into a byte stream that
	// carries everything Decode needs to reverse it. docIDs and freqs are
	// consumed in place: the delta pass mutates them, so callers needing
	// the originals afterward must copy first.
	Encode(baseDocID uint32, docIDs []uint32, freqs []uint32) []byte

	// DecodedSize reports how many compressed bytes the block encoded at
	// the start of data occupies, so the caller can slice it out of a
	// larger buffer without fully decoding it first.
	DecodedSize(data []byte, docCount int) int

	// NewDecoder returns a fresh, unpositioned Decoder for this codec.
	NewDecoder() Decoder
}

// Decoder iterates (and seeks within) one decoded block. It starts
// positioned at the first entry immediately after Decode returns.
type Decoder interface {
	Decode(data []byte, baseDocID uint32, docCount int)

	// Next advances to the next entry, reporting whether one exists.
	Next() bool

	// Seek advances to the first entry with DocID() >= target, reporting
	// whether such an entry exists within this block. It never looks
	// backward.
	Seek(target uint32) bool

	DocID() uint32
	Freq() uint32
}
