package jpegrow

import (
	"bytes"
	"encoding/binary"
	"math/bits"
	"math/rand"
)

// huffEncoder is the encoding side of a HuffmanSpec.
// code and size are indexed by symbol.
type huffEncoder struct {
	code [256]uint32
	size [256]uint8
}

func newHuffEncoder(spec HuffmanSpec) *huffEncoder {
	h := new(huffEncoder)
	code, k := uint32(0), 0
	for i := 0; i < len(spec.Counts); i++ {
		for j := uint8(0); j < spec.Counts[i]; j++ {
			sym := spec.Values[k]
			h.code[sym] = code
			h.size[sym] = uint8(i + 1)
			code++
			k++
		}
		code <<= 1
	}

	return h
}

// bitWriter accumulates an entropy-coded segment with 0xFF byte stuffing.
type bitWriter struct {
	buf         bytes.Buffer
	bits, nBits uint32
}

// emit emits the least significant nBits bits of bits to the bit-stream.
// The precondition is bits < 1<<nBits && nBits <= 16.
func (w *bitWriter) emit(bits, nBits uint32) {
	nBits += w.nBits
	bits <<= 32 - nBits
	bits |= w.bits
	for nBits >= 8 {
		b := uint8(bits >> 24)
		w.buf.WriteByte(b)
		if b == 0xff {
			w.buf.WriteByte(0x00)
		}
		bits <<= 8
		nBits -= 8
	}
	w.bits, w.nBits = bits, nBits
}

// emitHuff emits the code of sym.
func (w *bitWriter) emitHuff(h *huffEncoder, sym uint8) {
	w.emit(h.code[sym], uint32(h.size[sym]))
}

// category returns the magnitude category of v and its raw bits.
func category(v int32) (uint32, uint32) {
	a, b := v, v
	if a < 0 {
		a, b = -v, v-1
	}

	n := uint32(bits.Len32(uint32(a)))

	return n, uint32(b) & (1<<n - 1)
}

// emitHuffRLE emits a run/size symbol followed by the value bits.
func (w *bitWriter) emitHuffRLE(h *huffEncoder, run int32, v int32) {
	n, raw := category(v)
	w.emitHuff(h, uint8(run<<4)|uint8(n))
	if n > 0 {
		w.emit(raw, n)
	}
}

// encodeBlock writes one block of natural-order quantized coefficients.
func (w *bitWriter) encodeBlock(dc, ac *huffEncoder, blk *[64]int32, pred *int32) {
	diff := blk[0] - *pred
	*pred = blk[0]

	n, raw := category(diff)
	w.emitHuff(dc, uint8(n))
	if n > 0 {
		w.emit(raw, n)
	}

	run := int32(0)
	for k := 1; k < 64; k++ {
		v := blk[zigzag[k]]
		if v == 0 {
			run++

			continue
		}

		for run > 15 {
			w.emitHuff(ac, 0xF0)
			run -= 16
		}

		w.emitHuffRLE(ac, run, v)
		run = 0
	}

	if run > 0 {
		w.emitHuff(ac, 0x00)
	}
}

// flush pads the last byte with 1 bits.
func (w *bitWriter) flush() []byte {
	w.emit(0x7f, 7)

	return w.buf.Bytes()
}

// testImage is a grid of quantized coefficient blocks, one [3] triple per MCU.
type testImage struct {
	frame  Frame
	quant  [3]QuantTable
	blocks [][3][64]int32
}

// newTestImage returns an image whose blocks are all zero.
func newTestImage(width, height int) *testImage {
	f := NewFrame(width, height)
	ti := &testImage{
		frame:  f,
		blocks: make([][3][64]int32, f.MCUCols*f.MCURows),
	}

	for c := range ti.quant {
		for i := range ti.quant[c] {
			ti.quant[c][i] = 1
		}
	}

	return ti
}

// randomTestImage fills every block with smooth content that stays mostly inside the sample range.
func randomTestImage(rng *rand.Rand, width, height int) *testImage {
	ti := newTestImage(width, height)

	for i := 0; i < 64; i++ {
		r, c := uint16(i/8), uint16(i%8)
		ti.quant[0][i] = 2 + r + c
		ti.quant[1][i] = 3 + r + c
		ti.quant[2][i] = 3 + r + c
	}

	for b := range ti.blocks {
		for c := 0; c < 3; c++ {
			blk := &ti.blocks[b][c]
			q0 := int32(ti.quant[c][0])

			// DC offset from mid-gray in pixels, converted to a quantized coefficient.
			offset := int32(rng.Intn(121) - 60)
			if c > 0 {
				offset = int32(rng.Intn(81) - 40)
			}
			blk[0] = offset * 8 / q0

			for k := 1; k < 6; k++ {
				blk[zigzag[k]] = int32(rng.Intn(13) - 6)
			}

			// Sparse high frequencies exercise long runs and ZRL.
			if rng.Intn(3) == 0 {
				blk[zigzag[40]] = int32(rng.Intn(5) - 2)
			}

			if rng.Intn(4) == 0 {
				blk[zigzag[63]] = 1
			}
		}
	}

	return ti
}

// encoders returns encoders for DefaultHuffmanSpecs.
func defaultEncoders() [nHuffman]*huffEncoder {
	var enc [nHuffman]*huffEncoder
	for i, s := range DefaultHuffmanSpecs {
		enc[i] = newHuffEncoder(s)
	}

	return enc
}

// encodeIntervals entropy-codes the image with rowsPer MCU rows per interval.
// rowsPer <= 0 puts the whole image into one interval.
func (ti *testImage) encodeIntervals(rowsPer int) []Interval {
	f := ti.frame
	if rowsPer <= 0 {
		rowsPer = f.MCURows
	}

	enc := defaultEncoders()

	var intervals []Interval
	for row := 0; row < f.MCURows; row += rowsPer {
		var w bitWriter
		var pred [3]int32

		rows := min(rowsPer, f.MCURows-row)
		for y := row; y < row+rows; y++ {
			for x := 0; x < f.MCUCols; x++ {
				mcu := &ti.blocks[y*f.MCUCols+x]
				for c := 0; c < 3; c++ {
					t := componentTables[c]
					w.encodeBlock(enc[t[0]], enc[t[1]], &mcu[c], &pred[c])
				}
			}
		}

		intervals = append(intervals, Interval{Data: w.flush(), Row: row, Rows: rows})
	}

	return intervals
}

// scan returns the engine input for the image.
func (ti *testImage) scan(rowsPer int) *Scan {
	return &Scan{
		Frame:     ti.frame,
		Quant:     ti.quant,
		Huffman:   DefaultHuffmanSpecs,
		Intervals: ti.encodeIntervals(rowsPer),
	}
}

// jfifOptions controls how buildJFIF lays out a file.
type jfifOptions struct {
	restart int  // DRI value in MCUs; 0 omits DRI.
	noDHT   bool // Omit DHT and rely on the default tables.
	rstBase int  // First RST marker number.
	// EXIF orientation written to an APP1 segment; 0 omits the segment.
	orientation int
}

// exifPayload returns an APP1 EXIF payload whose main IFD has a Make entry and an
// orientation entry.
func exifPayload(orientation int, littleEndian bool) []byte {
	var order binary.AppendByteOrder = binary.BigEndian
	b := []byte("Exif\x00\x00MM")
	if littleEndian {
		order = binary.LittleEndian
		b[6], b[7] = 'I', 'I'
	}

	b = order.AppendUint16(b, 42)
	b = order.AppendUint32(b, 8) // IFD0 right after the header.
	b = order.AppendUint16(b, 2)

	// Make: ASCII, 4 bytes inline.
	b = order.AppendUint16(b, 0x010F)
	b = order.AppendUint16(b, 2)
	b = order.AppendUint32(b, 4)
	b = append(b, 'a', 'b', 'c', 0)

	// Orientation: one SHORT, padded to 4 bytes.
	b = order.AppendUint16(b, tagOrientation)
	b = order.AppendUint16(b, typeUnsignedShort)
	b = order.AppendUint32(b, 1)
	b = order.AppendUint16(b, uint16(orientation))
	b = order.AppendUint16(b, 0)

	// No next IFD.
	return order.AppendUint32(b, 0)
}

// buildJFIF writes a complete baseline file. Y uses quantization table 0, Cb and Cr table 1.
func buildJFIF(ti *testImage, intervals []Interval, o jfifOptions) []byte {
	var b bytes.Buffer

	segment := func(marker byte, payload []byte) {
		n := len(payload) + 2
		b.Write([]byte{0xFF, marker, byte(n >> 8), byte(n)})
		b.Write(payload)
	}

	b.Write([]byte{0xFF, 0xD8})
	segment(0xE0, []byte{'J', 'F', 'I', 'F', 0, 1, 1, 0, 0, 1, 0, 1, 0, 0})

	if o.orientation > 0 {
		segment(0xE1, exifPayload(o.orientation, false))
	}

	var dqt []byte
	for t := 0; t < 2; t++ {
		dqt = append(dqt, byte(t))
		for k := 0; k < 64; k++ {
			dqt = append(dqt, byte(ti.quant[t][zigzag[k]]))
		}
	}
	segment(0xDB, dqt)

	f := ti.frame
	segment(0xC0, []byte{
		8, byte(f.Height >> 8), byte(f.Height), byte(f.Width >> 8), byte(f.Width), 3,
		1, 0x11, 0,
		2, 0x11, 1,
		3, 0x11, 1,
	})

	if !o.noDHT {
		classes := [nHuffman]byte{DCLuma: 0x00, ACLuma: 0x10, DCChroma: 0x01, ACChroma: 0x11}
		for i, s := range DefaultHuffmanSpecs {
			payload := append([]byte{classes[i]}, s.Counts[:]...)
			payload = append(payload, s.Values...)
			segment(0xC4, payload)
		}
	}

	if o.restart > 0 {
		segment(0xDD, []byte{byte(o.restart >> 8), byte(o.restart)})
	}

	segment(0xDA, []byte{3, 1, 0x00, 2, 0x11, 3, 0x11, 0, 63, 0})

	for i, iv := range intervals {
		if i > 0 {
			b.Write([]byte{0xFF, 0xD0 + byte((o.rstBase+i-1)&7)})
		}
		b.Write(iv.Data)
	}

	b.Write([]byte{0xFF, 0xD9})

	return b.Bytes()
}

// isClose checks if two color component values are within the allowed tolerance.
func isClose(a, b, tol uint8) bool {
	if a > b {
		return a-b <= tol
	}

	return b-a <= tol
}

// blockCounter is a BlockWriter that only counts blocks.
type blockCounter struct {
	n int
}

func (c *blockCounter) WriteBlock(x, y int, blk *ColorBlock) {
	c.n++
}
