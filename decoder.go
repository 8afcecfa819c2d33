package jpegrow

import (
	"fmt"
	"log/slog"
	"runtime"
)

// QuantTable is a quantization table in natural (row-major) order.
type QuantTable [64]uint16

// Frame describes the geometry of a 4:4:4 frame. Every MCU is one 8x8 block per component.
type Frame struct {
	Width, Height    int // Image size in pixels.
	MCUCols, MCURows int // MCU grid size.
}

// NewFrame returns the geometry of a width x height frame.
func NewFrame(width, height int) Frame {
	return Frame{
		Width:   width,
		Height:  height,
		MCUCols: (width + 7) / 8,
		MCURows: (height + 7) / 8,
	}
}

// Interval is one independently decodable part of a scan.
//
// Data must begin at a restart boundary, where all DC predictors are zero and the
// bitstream is byte aligned. The decoder does not resynchronize inside an interval;
// producing restart-aligned intervals is the responsibility of whoever builds the Scan.
type Interval struct {
	Data []byte // Entropy-coded bytes, markers removed, byte-stuffing still present.
	Row  int    // First MCU row.
	Rows int    // Number of MCU rows.
}

// Scan holds everything the engine needs to decode one baseline scan.
type Scan struct {
	Frame
	// Quant holds the Y, Cb and Cr quantization tables.
	Quant [3]QuantTable
	// Huffman is indexed by DCLuma, ACLuma, DCChroma and ACChroma.
	Huffman [nHuffman]HuffmanSpec
	// Intervals cover the MCU rows exactly once, in order.
	Intervals []Interval
	// Orientation is the EXIF orientation tag (1-8) found by Parse. The decoder ignores it;
	// Decode applies it when Options.AutoRotate is set.
	Orientation int
}

// componentTables maps Y, Cb and Cr to their DC and AC Huffman slots.
var componentTables = [3][2]int{
	{DCLuma, ACLuma},
	{DCChroma, ACChroma},
	{DCChroma, ACChroma},
}

// span locates an interval inside the packed buffer.
type span struct {
	offset, length int
	row, rows      int
}

// Decoder is the scan-scoped context shared by all lanes. It is immutable once built.
type Decoder struct {
	frame   Frame
	quant   [3]QuantTable
	huff    [nHuffman]*HuffmanTable
	packed  []byte // All interval payloads at 4-byte aligned offsets.
	spans   []span
	workers int
	logger  *slog.Logger
}

// NewDecoder validates s, builds its Huffman tables and packs its intervals.
// Errors are reported before any decoding starts.
func NewDecoder(s *Scan, opts *Options) (*Decoder, error) {
	if s == nil {
		return nil, fmt.Errorf("nil scan: %w", ErrSyntax)
	}

	f := s.Frame
	if f.Width <= 0 || f.Height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d: %w", f.Width, f.Height, ErrSyntax)
	}

	if f.MCUCols*8 < f.Width || f.MCURows*8 < f.Height || f.MCUCols > (f.Width+7)/8 || f.MCURows > (f.Height+7)/8 {
		return nil, fmt.Errorf("MCU grid %dx%d does not match frame %dx%d: %w", f.MCUCols, f.MCURows, f.Width, f.Height, ErrSyntax)
	}

	if err := checkIntervals(s.Intervals, f.MCURows); err != nil {
		return nil, err
	}

	d := &Decoder{
		frame:   f,
		quant:   s.Quant,
		workers: runtime.GOMAXPROCS(0),
		logger:  slog.Default(),
	}

	if opts != nil {
		if opts.Workers > 0 {
			d.workers = opts.Workers
		}

		if opts.Logger != nil {
			d.logger = opts.Logger
		}
	}

	for i := range s.Huffman {
		h, err := NewHuffmanTable(s.Huffman[i])
		if err != nil {
			return nil, fmt.Errorf("table %d: %w", i, err)
		}

		d.huff[i] = h
	}

	d.packed, d.spans = packIntervals(s.Intervals)

	return d, nil
}

// checkIntervals verifies that intervals tile rows MCU rows in order.
func checkIntervals(intervals []Interval, rows int) error {
	if len(intervals) == 0 {
		return fmt.Errorf("scan has no intervals: %w", ErrSyntax)
	}

	next := 0
	for i, iv := range intervals {
		if iv.Rows <= 0 || iv.Row != next {
			return fmt.Errorf("interval %d covers rows [%d, %d), want start %d: %w", i, iv.Row, iv.Row+iv.Rows, next, ErrSyntax)
		}

		next += iv.Rows
	}

	if next != rows {
		return fmt.Errorf("intervals cover %d MCU rows, frame has %d: %w", next, rows, ErrSyntax)
	}

	return nil
}

// Frame returns the frame geometry.
func (d *Decoder) Frame() Frame {
	return d.frame
}

// Intervals returns the number of independent lanes.
func (d *Decoder) Intervals() int {
	return len(d.spans)
}
