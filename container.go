package jpegrow

import (
	"bytes"
	"fmt"
)

// frameComponent stores the header information of one color component.
type frameComponent struct {
	id           int // Component identifier (e.g., 1 for Y, 2 for Cb, 3 for Cr).
	qtSel        int // Quantization table selector.
	dcSel, acSel int // Huffman table selectors from the SOS header.
}

// parser turns a baseline JFIF byte stream into a Scan.
// It only accepts what the row-interval engine can decode and rejects everything else
// with ErrUnsupported before any entropy-coded data is touched.
type parser struct {
	data        []byte            // Input buffer containing the entire JPEG file.
	pos         int               // Current position index in the input buffer.
	size        int               // Remaining bytes to be processed.
	length      int               // Length of the current marker segment.
	frame       Frame             // Frame geometry from SOF.
	sofDecoded  bool              // Whether a SOF segment has been seen.
	comp        [3]frameComponent // Y, Cb and Cr.
	qtab        [4]QuantTable     // Quantization tables, natural order.
	qtAvail     int               // Bitmask of defined quantization tables.
	htab        [2][4]HuffmanSpec // Huffman tables by class (DC, AC) and destination.
	htAvail     [2]int            // Bitmasks of defined Huffman tables per class.
	rstInterval int               // Restart interval in MCUs.
	isRGB       bool              // True if the image is encoded as RGB instead of YCbCr.
	orientation int               // EXIF orientation tag (1-8).
	intervals   []Interval        // Entropy-coded intervals of the scan.
	segments    [][]byte          // Entropy-coded segments between restart markers.
	scan        *Scan             // Result.
}

// sofNames names the frame types the engine cannot decode.
var sofNames = map[byte]string{
	0xC2: "progressive DCT",
	0xC3: "lossless",
	0xC5: "differential sequential DCT",
	0xC6: "differential progressive DCT",
	0xC7: "differential lossless",
	0xC9: "arithmetic sequential DCT",
	0xCA: "arithmetic progressive DCT",
	0xCB: "arithmetic lossless",
	0xCC: "arithmetic conditioning",
	0xCD: "arithmetic differential sequential DCT",
	0xCE: "arithmetic differential progressive DCT",
	0xCF: "arithmetic differential lossless",
}

// Parse reads the headers and the first scan of a baseline JPEG and splits its
// entropy-coded data at restart markers into row intervals.
//
// The stream must be 8-bit, three-component YCbCr without chroma subsampling, and its
// restart interval must be zero or a whole number of MCU rows. Anything else is
// reported as ErrUnsupported.
func Parse(data []byte) (*Scan, error) {
	p := newParser(data)
	if err := p.parse(false); err != nil {
		return nil, err
	}

	return p.scan, nil
}

func newParser(data []byte) *parser {
	return &parser{
		data:        data,
		size:        len(data),
		orientation: 1, // Default orientation (Top-Left)
	}
}

// skip advances the current position in the data buffer by 'count' bytes.
func (p *parser) skip(count int) error {
	p.pos += count
	p.size -= count

	if p.length >= count {
		p.length -= count
	} else {
		p.length = 0
	}

	if p.size < 0 {
		return ErrSyntax
	}

	return nil
}

// decode16 reads a 16-bit big-endian integer from the specified offset.
func (p *parser) decode16(offset int) int {
	i := p.pos + offset

	return (int(p.data[i]) << 8) | int(p.data[i+1])
}

// decodeLength reads the 16-bit length field of a marker segment.
// p.length then holds the size of the remaining payload.
func (p *parser) decodeLength() error {
	if p.size < 2 {
		return ErrSyntax
	}

	p.length = p.decode16(0)
	if p.length > p.size || p.length < 2 {
		return ErrSyntax
	}

	return p.skip(2)
}

// skipMarker reads the length of the current marker's payload and skips it.
func (p *parser) skipMarker() error {
	if err := p.decodeLength(); err != nil {
		return err
	}

	return p.skip(p.length)
}

// decodeAPP1 decodes the APP1 segment and records the EXIF orientation, if any.
// Other APP1 payloads such as XMP are skipped.
func (p *parser) decodeAPP1() error {
	if err := p.decodeLength(); err != nil {
		return err
	}

	if o := parseOrientation(p.data[p.pos : p.pos+p.length]); o != 1 {
		p.orientation = o
	}

	return p.skip(p.length)
}

// decodeAPP14 decodes the Adobe APP14 segment. A color transform of 0 means RGB,
// which the YCbCr conversion cannot handle.
func (p *parser) decodeAPP14() error {
	if err := p.decodeLength(); err != nil {
		return err
	}

	if p.length >= 12 && bytes.HasPrefix(p.data[p.pos:], []byte("Adobe")) {
		if p.data[p.pos+11] == 0 {
			p.isRGB = true
		}
	}

	return p.skip(p.length)
}

// decodeSOF decodes a baseline or extended-sequential Start of Frame segment.
func (p *parser) decodeSOF() error {
	if err := p.decodeLength(); err != nil {
		return err
	}

	if p.length < 6 {
		return ErrSyntax
	}

	if p.data[p.pos] != 8 {
		return fmt.Errorf("%d-bit samples: %w", p.data[p.pos], ErrUnsupported)
	}

	height := p.decode16(1)
	width := p.decode16(3)
	if width == 0 || height == 0 {
		return ErrSyntax
	}

	ncomp := int(p.data[p.pos+5])
	if err := p.skip(6); err != nil {
		return err
	}

	if ncomp != 3 {
		return fmt.Errorf("%d color components: %w", ncomp, ErrUnsupported)
	}

	if p.length < ncomp*3 {
		return ErrSyntax
	}

	for i := 0; i < ncomp; i++ {
		c := &p.comp[i]
		c.id = int(p.data[p.pos])

		if ss := p.data[p.pos+1]; ss != 0x11 {
			return fmt.Errorf("component %d sampling %dx%d, only 4:4:4 is decoded: %w", c.id, ss>>4, ss&15, ErrUnsupported)
		}

		c.qtSel = int(p.data[p.pos+2])
		if (c.qtSel & 0xFC) != 0 {
			return ErrSyntax
		}

		if err := p.skip(3); err != nil {
			return err
		}
	}

	// Check for RGB component IDs as a fallback to the APP14 marker.
	if p.comp[0].id == 'R' && p.comp[1].id == 'G' && p.comp[2].id == 'B' {
		p.isRGB = true
	}

	p.frame = NewFrame(width, height)
	p.sofDecoded = true

	return p.skip(p.length)
}

// decodeDHT decodes the Define Huffman Table segment.
func (p *parser) decodeDHT() error {
	if err := p.decodeLength(); err != nil {
		return err
	}

	for p.length >= 17 {
		i := int(p.data[p.pos])
		if (i & 0xEC) != 0 {
			return ErrSyntax
		}

		class, dest := i>>4, i&3

		var spec HuffmanSpec
		n := 0
		for codeLen := 1; codeLen <= 16; codeLen++ {
			spec.Counts[codeLen-1] = p.data[p.pos+codeLen]
			n += int(spec.Counts[codeLen-1])
		}

		if err := p.skip(17); err != nil {
			return err
		}

		if n > 256 || n > p.length {
			return ErrSyntax
		}

		spec.Values = make([]uint8, n)
		copy(spec.Values, p.data[p.pos:p.pos+n])

		p.htab[class][dest] = spec
		p.htAvail[class] |= 1 << dest

		if err := p.skip(n); err != nil {
			return err
		}
	}

	if p.length != 0 {
		return ErrSyntax
	}

	return nil
}

// decodeDQT decodes the Define Quantization Table segment. Tables are stored in
// zigzag order in the stream and converted to natural order here.
func (p *parser) decodeDQT() error {
	if err := p.decodeLength(); err != nil {
		return err
	}

	for p.length >= 65 {
		i := int(p.data[p.pos])
		if (i & 0xEC) != 0 {
			return ErrSyntax
		}

		// 16-bit steps can overflow the 32-bit IDCT, 8-bit samples never need them.
		if i>>4 != 0 {
			return fmt.Errorf("16-bit quantization table %d: %w", i&3, ErrUnsupported)
		}

		t := &p.qtab[i&3]
		for k := 0; k < 64; k++ {
			t[zigzag[k]] = uint16(p.data[p.pos+1+k])
		}

		p.qtAvail |= 1 << (i & 3)

		if err := p.skip(65); err != nil {
			return err
		}
	}

	if p.length != 0 {
		return ErrSyntax
	}

	return nil
}

// decodeDRI decodes the Define Restart Interval segment.
func (p *parser) decodeDRI() error {
	if err := p.decodeLength(); err != nil {
		return err
	}

	if p.length < 2 {
		return ErrSyntax
	}

	p.rstInterval = p.decode16(0)

	return p.skip(p.length)
}

// decodeSOS decodes the Start of Scan header and splits the entropy-coded data that follows.
func (p *parser) decodeSOS() error {
	if err := p.decodeLength(); err != nil {
		return err
	}

	if p.length < 1 {
		return ErrSyntax
	}

	ns := int(p.data[p.pos])
	if p.length < 4+2*ns {
		return ErrSyntax
	}

	if ns != 3 {
		return fmt.Errorf("scan with %d components, want interleaved Y, Cb, Cr: %w", ns, ErrUnsupported)
	}

	if err := p.skip(1); err != nil {
		return err
	}

	for i := 0; i < ns; i++ {
		id := int(p.data[p.pos])
		if id != p.comp[i].id {
			return fmt.Errorf("scan component %d is %d, want %d: %w", i, id, p.comp[i].id, ErrUnsupported)
		}

		p.comp[i].dcSel = int(p.data[p.pos+1]) >> 4
		p.comp[i].acSel = int(p.data[p.pos+1]) & 0x0F

		if p.comp[i].dcSel > 3 || p.comp[i].acSel > 3 {
			return ErrSyntax
		}

		if err := p.skip(2); err != nil {
			return err
		}
	}

	ss := int(p.data[p.pos])
	se := int(p.data[p.pos+1])
	ah := int(p.data[p.pos+2]) >> 4
	al := int(p.data[p.pos+2]) & 0x0F

	if ss != 0 || se != 63 || ah != 0 || al != 0 {
		return fmt.Errorf("spectral selection %d..%d, approximation %d/%d: %w", ss, se, ah, al, ErrUnsupported)
	}

	if err := p.skip(p.length); err != nil {
		return err
	}

	return p.splitEntropy()
}

// splitEntropy collects the entropy-coded segments between restart markers, up to the
// first marker that is not RSTn. Restart markers must appear in sequence.
func (p *parser) splitEntropy() error {
	start := p.pos
	i := p.pos
	nextRst := 0

	for i < len(p.data) {
		if p.data[i] != 0xFF {
			i++

			continue
		}

		if i+1 >= len(p.data) {
			break
		}

		m := p.data[i+1]
		switch {
		case m == 0x00:
			// Stuffed byte, part of the data.
			i += 2
		case m == 0xFF:
			// Fill byte before a marker.
			i++
		case m >= 0xD0 && m <= 0xD7:
			if int(m&7) != nextRst {
				return fmt.Errorf("restart marker RST%d, want RST%d: %w", m&7, nextRst, ErrSyntax)
			}

			p.segments = append(p.segments, trimFill(p.data[start:i]))
			nextRst = (nextRst + 1) & 7
			i += 2
			start = i
		default:
			p.segments = append(p.segments, trimFill(p.data[start:i]))
			p.pos = i
			p.size = len(p.data) - i

			return nil
		}
	}

	// The file ends inside the scan. Keep what is there; lanes degrade on missing bits.
	p.segments = append(p.segments, p.data[start:])
	p.pos = len(p.data)
	p.size = 0

	return nil
}

// trimFill removes trailing 0xFF fill bytes. Entropy-coded data never ends with an
// unstuffed 0xFF.
func trimFill(b []byte) []byte {
	for len(b) > 0 && b[len(b)-1] == 0xFF {
		b = b[:len(b)-1]
	}

	return b
}

// buildIntervals groups restart segments into row intervals.
func (p *parser) buildIntervals() error {
	f := p.frame

	if p.rstInterval == 0 {
		p.intervals = []Interval{{Data: p.segments[0], Row: 0, Rows: f.MCURows}}

		return nil
	}

	if p.rstInterval%f.MCUCols != 0 {
		return fmt.Errorf("restart interval %d is not a multiple of the MCU row width %d: %w", p.rstInterval, f.MCUCols, ErrUnsupported)
	}

	rowsPer := p.rstInterval / f.MCUCols
	for row, k := 0, 0; row < f.MCURows; row, k = row+rowsPer, k+1 {
		iv := Interval{Row: row, Rows: min(rowsPer, f.MCURows-row)}

		// Missing segments decode as empty intervals.
		if k < len(p.segments) {
			iv.Data = p.segments[k]
		}

		p.intervals = append(p.intervals, iv)
	}

	return nil
}

// buildScan resolves the table selectors of the scan into a Scan.
func (p *parser) buildScan() error {
	s := &Scan{Frame: p.frame, Intervals: p.intervals, Orientation: p.orientation}

	for i, c := range p.comp {
		if p.qtAvail&(1<<c.qtSel) == 0 {
			return fmt.Errorf("quantization table %d is not defined: %w", c.qtSel, ErrSyntax)
		}

		s.Quant[i] = p.qtab[c.qtSel]
	}

	cb, cr := p.comp[1], p.comp[2]
	if cb.dcSel != cr.dcSel || cb.acSel != cr.acSel {
		return fmt.Errorf("chroma components use different Huffman tables: %w", ErrUnsupported)
	}

	sel := [nHuffman]struct{ class, dest int }{
		DCLuma:   {0, p.comp[0].dcSel},
		ACLuma:   {1, p.comp[0].acSel},
		DCChroma: {0, cb.dcSel},
		ACChroma: {1, cb.acSel},
	}

	for slot, t := range sel {
		if p.htAvail[t.class]&(1<<t.dest) != 0 {
			s.Huffman[slot] = p.htab[t.class][t.dest]
		} else {
			// Motion-JPEG streams omit DHT and use the Annex K tables.
			s.Huffman[slot] = DefaultHuffmanSpecs[slot]
		}
	}

	p.scan = s

	return nil
}

// parse walks the marker segments. If configOnly is true, it stops after the frame header.
func (p *parser) parse(configOnly bool) error {
	// Check for SOI (Start of Image) marker.
	if p.size < 2 || p.data[0] != 0xFF || p.data[1] != 0xD8 {
		return ErrNoJPEG
	}

	if err := p.skip(2); err != nil {
		return err
	}

markerLoop:
	for {
		if p.size < 2 {
			break markerLoop
		}

		if p.data[p.pos] != 0xFF {
			return ErrSyntax
		}

		// Any number of 0xFF fill bytes may precede a marker.
		for p.size > 2 && p.data[p.pos+1] == 0xFF {
			if err := p.skip(1); err != nil {
				return err
			}
		}

		marker := p.data[p.pos+1]
		if err := p.skip(2); err != nil {
			return err
		}

		switch {
		case marker == 0xC0 || marker == 0xC1: // SOF0, SOF1 (Huffman sequential DCT)
			if err := p.decodeSOF(); err != nil {
				return err
			}

			if configOnly {
				break markerLoop
			}
		case sofNames[marker] != "":
			return fmt.Errorf("%s frame: %w", sofNames[marker], ErrUnsupported)
		case marker == 0xC4: // DHT (Define Huffman Table)
			if err := p.decodeDHT(); err != nil {
				return err
			}
		case marker == 0xDB: // DQT (Define Quantization Table)
			if err := p.decodeDQT(); err != nil {
				return err
			}
		case marker == 0xDD: // DRI (Define Restart Interval)
			if err := p.decodeDRI(); err != nil {
				return err
			}
		case marker == 0xDA: // SOS (Start of Scan)
			if !p.sofDecoded {
				return ErrSyntax // Scan data found before SOF.
			}

			if err := p.decodeSOS(); err != nil {
				return err
			}

			break markerLoop
		case marker == 0xFE: // COM (Comment)
			if err := p.skipMarker(); err != nil {
				return err
			}
		case marker == 0xD9: // EOI (End of Image)
			break markerLoop
		case marker == 0xE1: // APP1 (EXIF)
			if err := p.decodeAPP1(); err != nil {
				return err
			}
		case marker == 0xEE: // APP14 (Adobe)
			if err := p.decodeAPP14(); err != nil {
				return err
			}
		case marker >= 0xE0 && marker <= 0xEF: // Other APPn markers, e.g., EXIF, JFIF
			if err := p.skipMarker(); err != nil {
				return err
			}
		case marker >= 0xD0 && marker <= 0xD7:
			// Stray RSTn outside a scan carries no data.
		default:
			return fmt.Errorf("marker 0x%02x: %w", marker, ErrUnsupported)
		}
	}

	if !p.sofDecoded {
		return ErrSyntax // No image configuration found.
	}

	if p.isRGB {
		return fmt.Errorf("RGB color space: %w", ErrUnsupported)
	}

	if configOnly {
		return nil
	}

	if len(p.segments) == 0 {
		return fmt.Errorf("no scan found: %w", ErrSyntax)
	}

	if err := p.buildIntervals(); err != nil {
		return err
	}

	return p.buildScan()
}
