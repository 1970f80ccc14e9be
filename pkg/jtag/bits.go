package jtag

// PackBits packs bools LSB first, the order adapters clock them out.
func PackBits(bits []bool) []byte {
	if len(bits) == 0 {
		return nil
	}
	out := make([]byte, (len(bits)+7)/8)
	for i, bit := range bits {
		if bit {
			out[i/8] |= 1 << (uint(i) % 8)
		}
	}
	return out
}

// UnpackBits is the inverse of PackBits. Missing bytes read as zero.
func UnpackBits(buf []byte, bits int) []bool {
	if bits == 0 {
		return nil
	}
	out := make([]bool, bits)
	for i := 0; i < bits && i/8 < len(buf); i++ {
		out[i] = buf[i/8]&(1<<(uint(i)%8)) != 0
	}
	return out
}

// BitsToUint64 interprets up to 64 bools as a little-endian bit field.
func BitsToUint64(bits []bool) uint64 {
	var val uint64
	for i, bit := range bits {
		if bit && i < 64 {
			val |= 1 << uint(i)
		}
	}
	return val
}

// Uint64ToBits expands the low width bits of v, LSB first.
func Uint64ToBits(v uint64, width int) []bool {
	out := make([]bool, width)
	for i := 0; i < width && i < 64; i++ {
		out[i] = v&(1<<uint(i)) != 0
	}
	return out
}
