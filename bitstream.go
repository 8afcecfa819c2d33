package jpegrow

// Bitstream handling

// bitReader reads entropy-coded bits from a single interval of the packed buffer.
// Bits are kept right-aligned in buf; bits is the number of valid low bits.
// The reader never looks at bytes outside data.
type bitReader struct {
	data []byte // Interval payload, byte-stuffing still present.
	pos  int    // Next byte to read from data.
	buf  uint32 // Bit buffer. At most 23 valid bits after a refill.
	bits int    // Number of valid bits in buf.
}

// reset positions the reader at the start of data and clears the bit buffer.
func (br *bitReader) reset(data []byte) {
	br.data = data
	br.pos = 0
	br.buf = 0
	br.bits = 0
}

// ensure refills the buffer 8 bits at a time until at least n bits are available
// or the interval is exhausted. It handles JPEG byte stuffing (0xFF00) and reports
// whether n bits are buffered. n must not exceed 16.
func (br *bitReader) ensure(n int) bool {
	for br.bits < n {
		if br.pos >= len(br.data) {
			return false
		}

		b := br.data[br.pos]
		br.pos++

		// Stuffed 0xFF00: consume the 0x00 and keep 0xFF as data.
		// A lone 0xFF at the end of the range is data as well.
		if b == 0xFF && br.pos < len(br.data) && br.data[br.pos] == 0x00 {
			br.pos++
		}

		// Older bits move up; anything above the valid window falls off the top.
		br.buf = (br.buf << 8) | uint32(b)
		br.bits += 8
	}

	return true
}

// peek returns the next n bits without consuming them. The caller must have
// ensured that n bits are available.
func (br *bitReader) peek(n int) uint32 {
	return (br.buf >> (br.bits - n)) & ((1 << n) - 1)
}

// consume discards n buffered bits.
func (br *bitReader) consume(n int) {
	br.bits -= n
}

// window returns the buffered bits left-justified in a 32-bit word.
// Missing low bits are zero.
func (br *bitReader) window() uint32 {
	if br.bits == 0 {
		return 0
	}

	return br.buf << (32 - br.bits)
}

// receive reads n raw bits and reconstructs the signed value of magnitude category n.
// Codes below 2^(n-1) map to the negative half of the category.
func (br *bitReader) receive(n int) (int32, error) {
	if n == 0 {
		return 0, nil
	}

	if !br.ensure(n) {
		return 0, ErrTruncated
	}

	v := br.peek(n)
	br.consume(n)

	return extend(v, n), nil
}

// extend performs the magnitude/sign reconstruction for an n-bit category code.
func extend(v uint32, n int) int32 {
	if v < 1<<(n-1) {
		return int32(v) - (1<<n - 1)
	}

	return int32(v)
}
