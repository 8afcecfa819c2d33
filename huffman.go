package jpegrow

import "fmt"

// Huffman table slots of a scan.
const (
	DCLuma = iota
	ACLuma
	DCChroma
	ACChroma
	nHuffman
)

// HuffmanSpec is the payload of a DHT segment.
type HuffmanSpec struct {
	// Counts[i] is the number of codes of length i+1 bits.
	Counts [16]uint8
	// Values lists the symbols ordered by increasing code length.
	Values []uint8
}

// HuffmanTable is a canonical Huffman decoding table.
// It is built once per scan and is read-only afterwards, so lanes share it without locking.
type HuffmanTable struct {
	size        [17]uint8  // size[L] is the number of codes of length L.
	values      [256]uint8 // Symbols grouped by increasing code length.
	count       int        // Number of valid entries in values.
	maxcode     [18]uint32 // Last code of length L, left-justified with the low bits set. maxcode[17] is a sentinel.
	valueOffset [17]int32  // Index of the first symbol of length L minus the first code of length L.
}

// NewHuffmanTable builds the canonical decoding table for spec.
func NewHuffmanTable(spec HuffmanSpec) (*HuffmanTable, error) {
	h := new(HuffmanTable)

	n := 0
	for i, c := range spec.Counts {
		h.size[i+1] = c
		n += int(c)
	}

	if n > 256 {
		return nil, fmt.Errorf("huffman table has %d symbols: %w", n, ErrSyntax)
	}

	if len(spec.Values) < n {
		return nil, fmt.Errorf("huffman table has %d values, want %d: %w", len(spec.Values), n, ErrSyntax)
	}

	copy(h.values[:], spec.Values[:n])
	h.count = n

	// Assign canonical codes: consecutive integers within a length,
	// shifted left by one bit when moving to the next length.
	var code uint32
	p := 0
	for l := 1; l <= 16; l++ {
		c := int(h.size[l])
		if c == 0 {
			h.maxcode[l] = 0
			code <<= 1

			continue
		}

		h.valueOffset[l] = int32(p) - int32(code)
		code += uint32(c)
		p += c

		if code > 1<<l {
			return nil, fmt.Errorf("huffman codes overflow %d bits: %w", l, ErrSyntax)
		}

		last := code - 1
		h.maxcode[l] = last<<(32-l) | (1<<(32-l) - 1)
		code <<= 1
	}

	h.maxcode[17] = 0xFFFFFFFF

	return h, nil
}

// decode reads one Huffman symbol from br.
// The lookahead window is compared against the left-justified maxcode bounds,
// shortest length first. Lengths without codes never match.
func (h *HuffmanTable) decode(br *bitReader) (uint8, error) {
	br.ensure(16)
	if br.bits == 0 {
		return 0, ErrTruncated
	}

	window := br.window()

	l := 1
	for ; l <= 16; l++ {
		if h.size[l] != 0 && window <= h.maxcode[l] {
			break
		}
	}

	// Only the sentinel matched: the bits are not a code of this table.
	if l == 17 {
		return 0, ErrMalformedCode
	}

	if l > br.bits {
		return 0, ErrTruncated
	}

	index := int32(window>>(32-l)) + h.valueOffset[l]
	if index < 0 || int(index) >= h.count {
		return 0, ErrMalformedCode
	}

	br.consume(l)

	return h.values[index], nil
}

// DefaultHuffmanSpecs are the example tables of ITU-T T.81 Annex K.3, indexed by
// DCLuma, ACLuma, DCChroma and ACChroma. Motion-JPEG frames omit DHT and rely on them.
var DefaultHuffmanSpecs = [nHuffman]HuffmanSpec{
	// Luminance DC.
	{
		[16]uint8{0, 1, 5, 1, 1, 1, 1, 1, 1, 0, 0, 0, 0, 0, 0, 0},
		[]uint8{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11},
	},
	// Luminance AC.
	{
		[16]uint8{0, 2, 1, 3, 3, 2, 4, 3, 5, 5, 4, 4, 0, 0, 1, 125},
		[]uint8{
			0x01, 0x02, 0x03, 0x00, 0x04, 0x11, 0x05, 0x12,
			0x21, 0x31, 0x41, 0x06, 0x13, 0x51, 0x61, 0x07,
			0x22, 0x71, 0x14, 0x32, 0x81, 0x91, 0xa1, 0x08,
			0x23, 0x42, 0xb1, 0xc1, 0x15, 0x52, 0xd1, 0xf0,
			0x24, 0x33, 0x62, 0x72, 0x82, 0x09, 0x0a, 0x16,
			0x17, 0x18, 0x19, 0x1a, 0x25, 0x26, 0x27, 0x28,
			0x29, 0x2a, 0x34, 0x35, 0x36, 0x37, 0x38, 0x39,
			0x3a, 0x43, 0x44, 0x45, 0x46, 0x47, 0x48, 0x49,
			0x4a, 0x53, 0x54, 0x55, 0x56, 0x57, 0x58, 0x59,
			0x5a, 0x63, 0x64, 0x65, 0x66, 0x67, 0x68, 0x69,
			0x6a, 0x73, 0x74, 0x75, 0x76, 0x77, 0x78, 0x79,
			0x7a, 0x83, 0x84, 0x85, 0x86, 0x87, 0x88, 0x89,
			0x8a, 0x92, 0x93, 0x94, 0x95, 0x96, 0x97, 0x98,
			0x99, 0x9a, 0xa2, 0xa3, 0xa4, 0xa5, 0xa6, 0xa7,
			0xa8, 0xa9, 0xaa, 0xb2, 0xb3, 0xb4, 0xb5, 0xb6,
			0xb7, 0xb8, 0xb9, 0xba, 0xc2, 0xc3, 0xc4, 0xc5,
			0xc6, 0xc7, 0xc8, 0xc9, 0xca, 0xd2, 0xd3, 0xd4,
			0xd5, 0xd6, 0xd7, 0xd8, 0xd9, 0xda, 0xe1, 0xe2,
			0xe3, 0xe4, 0xe5, 0xe6, 0xe7, 0xe8, 0xe9, 0xea,
			0xf1, 0xf2, 0xf3, 0xf4, 0xf5, 0xf6, 0xf7, 0xf8,
			0xf9, 0xfa,
		},
	},
	// Chrominance DC.
	{
		[16]uint8{0, 3, 1, 1, 1, 1, 1, 1, 1, 1, 1, 0, 0, 0, 0, 0},
		[]uint8{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11},
	},
	// Chrominance AC.
	{
		[16]uint8{0, 2, 1, 2, 4, 4, 3, 4, 7, 5, 4, 4, 0, 1, 2, 119},
		[]uint8{
			0x00, 0x01, 0x02, 0x03, 0x11, 0x04, 0x05, 0x21,
			0x31, 0x06, 0x12, 0x41, 0x51, 0x07, 0x61, 0x71,
			0x13, 0x22, 0x32, 0x81, 0x08, 0x14, 0x42, 0x91,
			0xa1, 0xb1, 0xc1, 0x09, 0x23, 0x33, 0x52, 0xf0,
			0x15, 0x62, 0x72, 0xd1, 0x0a, 0x16, 0x24, 0x34,
			0xe1, 0x25, 0xf1, 0x17, 0x18, 0x19, 0x1a, 0x26,
			0x27, 0x28, 0x29, 0x2a, 0x35, 0x36, 0x37, 0x38,
			0x39, 0x3a, 0x43, 0x44, 0x45, 0x46, 0x47, 0x48,
			0x49, 0x4a, 0x53, 0x54, 0x55, 0x56, 0x57, 0x58,
			0x59, 0x5a, 0x63, 0x64, 0x65, 0x66, 0x67, 0x68,
			0x69, 0x6a, 0x73, 0x74, 0x75, 0x76, 0x77, 0x78,
			0x79, 0x7a, 0x82, 0x83, 0x84, 0x85, 0x86, 0x87,
			0x88, 0x89, 0x8a, 0x92, 0x93, 0x94, 0x95, 0x96,
			0x97, 0x98, 0x99, 0x9a, 0xa2, 0xa3, 0xa4, 0xa5,
			0xa6, 0xa7, 0xa8, 0xa9, 0xaa, 0xb2, 0xb3, 0xb4,
			0xb5, 0xb6, 0xb7, 0xb8, 0xb9, 0xba, 0xc2, 0xc3,
			0xc4, 0xc5, 0xc6, 0xc7, 0xc8, 0xc9, 0xca, 0xd2,
			0xd3, 0xd4, 0xd5, 0xd6, 0xd7, 0xd8, 0xd9, 0xda,
			0xe2, 0xe3, 0xe4, 0xe5, 0xe6, 0xe7, 0xe8, 0xe9,
			0xea, 0xf2, 0xf3, 0xf4, 0xf5, 0xf6, 0xf7, 0xf8,
			0xf9, 0xfa,
		},
	},
}
