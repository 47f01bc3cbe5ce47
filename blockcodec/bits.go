package blockcodec

import (
	"encoding/binary"
	"math/bits"
)

// bitWidthStrictlySorted returns the number of bits needed to bitpack
// values as deltas-minus-one against a running previous value starting at
// base. hasBase == false means "no previous document": prev starts at
// ^uint32(0) so the first delta wraps around to v itself.
func bitWidthStrictlySorted(base uint32, hasBase bool, values []uint32) uint8 {
	prev := ^uint32(0)
	if hasBase {
		prev = base
	}
	var max uint32
	for _, v := range values {
		delta := v - prev - 1
		prev = v
		if delta > max {
			max = delta
		}
	}
	return uint8(32 - bits.LeadingZeros32(max))
}

// bitWidth returns the number of bits needed to represent the largest
// value in values.
func bitWidth(values []uint32) uint8 {
	var max uint32
	for _, v := range values {
		if v > max {
			max = v
		}
	}
	return uint8(32 - bits.LeadingZeros32(max))
}

// compressSize is the number of bytes needed to bitpack n values of width
// bitWidth, rounding up to the nearest byte.
func compressSize(bitWidth uint8, n int) int {
	return (int(bitWidth)*n + 7) / 8
}

// packDeltaSorted bitpacks values (strictly increasing given base) into
// dst using a 32-bit mini-buffer flushed little-endian every 32 bits:
// each value is stored as (v - prev - 1) so that zero is the common case
// for dense runs.
func packDeltaSorted(base uint32, hasBase bool, values []uint32, dst []byte, width uint8) {
	prev := ^uint32(0)
	if hasBase {
		prev = base
	}
	var miniBuffer uint32
	var cursor uint8
	for _, v := range values {
		delta := v - prev - 1
		prev = v
		remaining := 32 - cursor
		switch {
		case width < remaining:
			miniBuffer |= delta << cursor
			cursor += width
		case width == remaining:
			miniBuffer |= delta << cursor
			binary.LittleEndian.PutUint32(dst[:4], miniBuffer)
			dst = dst[4:]
			miniBuffer = 0
			cursor = 0
		default:
			miniBuffer |= delta << cursor
			binary.LittleEndian.PutUint32(dst[:4], miniBuffer)
			dst = dst[4:]
			cursor = width - remaining
			miniBuffer = delta >> remaining
		}
	}
	flushMiniBuffer(dst, miniBuffer, cursor)
}

// pack bitpacks plain (non-delta) values into dst, used for term
// frequencies.
func pack(values []uint32, dst []byte, width uint8) {
	var miniBuffer uint32
	var cursor uint8
	for _, v := range values {
		remaining := 32 - cursor
		switch {
		case width < remaining:
			miniBuffer |= v << cursor
			cursor += width
		case width == remaining:
			miniBuffer |= v << cursor
			binary.LittleEndian.PutUint32(dst[:4], miniBuffer)
			dst = dst[4:]
			miniBuffer = 0
			cursor = 0
		default:
			miniBuffer |= v << cursor
			binary.LittleEndian.PutUint32(dst[:4], miniBuffer)
			dst = dst[4:]
			cursor = width - remaining
			miniBuffer = v >> remaining
		}
	}
	flushMiniBuffer(dst, miniBuffer, cursor)
}

func flushMiniBuffer(dst []byte, miniBuffer uint32, cursor uint8) {
	nbytes := (int(cursor) + 7) / 8
	if nbytes == 0 {
		return
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], miniBuffer)
	copy(dst[:nbytes], buf[:nbytes])
}

// unpackDeltaSorted is the inverse of packDeltaSorted.
func unpackDeltaSorted(base uint32, hasBase bool, src []byte, out []uint32, width uint8) {
	if width == 0 {
		prev := ^uint32(0)
		if hasBase {
			prev = base
		}
		for i := range out {
			prev = prev + 1
			out[i] = prev
		}
		return
	}
	prev := ^uint32(0)
	if hasBase {
		prev = base
	}
	var miniBuffer uint64
	var cursor uint8
	idx := 0
	for _, b := range src {
		miniBuffer |= uint64(b) << cursor
		cursor += 8
		for cursor >= width {
			delta := uint32(miniBuffer & ((1 << width) - 1))
			miniBuffer >>= width
			cursor -= width
			v := prev + delta + 1
			prev = v
			out[idx] = v
			idx++
			if idx == len(out) {
				return
			}
		}
	}
}

// unpack is the inverse of pack.
func unpack(src []byte, out []uint32, width uint8) {
	if width == 0 {
		for i := range out {
			out[i] = 0
		}
		return
	}
	var miniBuffer uint64
	var cursor uint8
	idx := 0
	for _, b := range src {
		miniBuffer |= uint64(b) << cursor
		cursor += 8
		for cursor >= width {
			v := uint32(miniBuffer & ((1 << width) - 1))
			miniBuffer >>= width
			cursor -= width
			out[idx] = v
			idx++
			if idx == len(out) {
				return
			}
		}
	}
}
