package blockcodec

// DeltaBitpack is the default block codec: docids are delta-coded against
// the previous block's last docid (or against nothing, for the first
// block) and bitpacked at the narrowest width that fits every gap in the
// block; term frequencies are bitpacked directly (minus one, since every
// posting has frequency >= 1). The first two bytes of the encoded block
// are docid_bits and freq_bits themselves, so a decoder never has to
// re-derive them from anything outside the block's own bytes.
type DeltaBitpack struct{}

var _ Codec = DeltaBitpack{}

func (DeltaBitpack) Encode(baseDocID uint32, docIDs []uint32, freqs []uint32) []byte {
	hasBase := baseDocID != invalidBase
	docBits := bitWidthStrictlySorted(baseDocID, hasBase, docIDs)
	freqBits := bitWidth(decrementedCopy(freqs))

	docSize := compressSize(docBits, len(docIDs))
	freqSize := compressSize(freqBits, len(freqs))
	data := make([]byte, 2+docSize+freqSize)
	data[0] = docBits
	data[1] = freqBits

	packDeltaSorted(baseDocID, hasBase, docIDs, data[2:2+docSize], docBits)
	for i := range freqs {
		freqs[i]--
	}
	pack(freqs, data[2+docSize:], freqBits)

	return data
}

// decrementedCopy returns freqs-1 without mutating freqs, so bitWidth can
// be measured before the caller's in-place decrement in Encode.
func decrementedCopy(freqs []uint32) []uint32 {
	out := make([]uint32, len(freqs))
	for i, v := range freqs {
		out[i] = v - 1
	}
	return out
}

func (DeltaBitpack) DecodedSize(data []byte, docCount int) int {
	docBits := data[0]
	freqBits := data[1]
	return 2 + compressSize(docBits, docCount) + compressSize(freqBits, docCount)
}

func (DeltaBitpack) NewDecoder() Decoder {
	return &deltaBitpackDecoder{}
}

type deltaBitpackDecoder struct {
	docIDs []uint32
	freqs  []uint32
	pos    int
}

func (d *deltaBitpackDecoder) Decode(data []byte, baseDocID uint32, docCount int) {
	docBits := data[0]
	freqBits := data[1]
	body := data[2:]
	docSize := compressSize(docBits, docCount)

	if cap(d.docIDs) < docCount {
		d.docIDs = make([]uint32, docCount)
		d.freqs = make([]uint32, docCount)
	} else {
		d.docIDs = d.docIDs[:docCount]
		d.freqs = d.freqs[:docCount]
	}

	unpackDeltaSorted(baseDocID, baseDocID != invalidBase, body[:docSize], d.docIDs, docBits)
	unpack(body[docSize:], d.freqs, freqBits)
	for i := range d.freqs {
		d.freqs[i]++
	}
	d.pos = 0
}

func (d *deltaBitpackDecoder) Next() bool {
	d.pos++
	return d.pos < len(d.docIDs)
}

func (d *deltaBitpackDecoder) Seek(target uint32) bool {
	// docIDs is sorted ascending within the block; a linear scan from the
	// current position is fine since blocks are small (a few hundred to a
	// few thousand entries) and seeks are monotonic during a WAND scan.
	for d.pos < len(d.docIDs) && d.docIDs[d.pos] < target {
		d.pos++
	}
	return d.pos < len(d.docIDs)
}

func (d *deltaBitpackDecoder) DocID() uint32 { return d.docIDs[d.pos] }
func (d *deltaBitpackDecoder) Freq() uint32  { return d.freqs[d.pos] }

// invalidBase marks "no previous document": the first block of a posting
// list has no predecessor, so its docids are delta-coded from scratch.
const invalidBase = ^uint32(0)
