package schemacodec

import "github.com/bits-and-blooms/bitset"

// bitsetFromByte and byteFromBitset bridge a single wire byte to
// bits-and-blooms/bitset so every bitfield notation extracts through the
// same bit-membership primitive. Bit index 0 is the byte's least-significant
// bit, matching the BitOffset convention ParseBitSlice normalizes to.
func bitsetFromByte(b byte) *bitset.BitSet {
	bs := bitset.New(8)
	for i := uint(0); i < 8; i++ {
		if b&(1<<i) != 0 {
			bs.Set(i)
		}
	}
	return bs
}

func byteFromBitset(bs *bitset.BitSet) byte {
	var b byte
	for i := uint(0); i < 8; i++ {
		if bs.Test(i) {
			b |= 1 << i
		}
	}
	return b
}

// bitsliceGet reads a width-bit unsigned value starting at offset (LSB-
// relative) out of a single byte.
func bitsliceGet(b byte, offset, width int) uint64 {
	bs := bitsetFromByte(b)
	var v uint64
	for i := 0; i < width; i++ {
		if bs.Test(uint(offset + i)) {
			v |= 1 << uint(i)
		}
	}
	return v
}

// bitsliceSet returns b with its [offset, offset+width) bit span replaced by
// the low width bits of v, leaving every other bit of b untouched.
func bitsliceSet(b byte, offset, width int, v uint64) byte {
	bs := bitsetFromByte(b)
	for i := 0; i < width; i++ {
		idx := uint(offset + i)
		if v&(1<<uint(i)) != 0 {
			bs.Set(idx)
		} else {
			bs.Clear(idx)
		}
	}
	return byteFromBitset(bs)
}
