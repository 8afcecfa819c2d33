package jpegrow

import (
	"fmt"
	"sync"
)

// zigzag maps the 1D order of coefficients in the bitstream to their natural position in an 8x8 block.
var zigzag = [64]int{
	0, 1, 8, 16, 9, 2, 3, 10,
	17, 24, 32, 25, 18, 11, 4, 5,
	12, 19, 26, 33, 40, 48, 41, 34,
	27, 20, 13, 6, 7, 14, 21, 28,
	35, 42, 49, 56, 57, 50, 43, 36,
	29, 22, 15, 23, 30, 37, 44, 51,
	58, 59, 52, 45, 38, 31, 39, 46,
	53, 60, 61, 54, 47, 55, 62, 63,
}

// lane is the private state of one interval decode: the bit cursor, the DC predictors
// and scratch blocks. Nothing in it is shared with other lanes.
type lane struct {
	br     bitReader
	pred   [3]int32     // DC predictors for Y, Cb and Cr.
	coef   [64]int32    // Coefficients of the current block, natural order.
	pixels [3][64]int32 // Reconstructed samples per component.
	color  ColorBlock
}

// lanePool reuses lane scratch space across intervals and decodes.
var lanePool = sync.Pool{
	New: func() interface{} {
		return new(lane)
	},
}

// decodeBlock entropy-decodes one 8x8 block of component comp into l.coef.
//
// On error the block is abandoned: coefficients decoded so far are kept and the
// remaining ones stay zero. If the DC difference could not be read, the DC
// coefficient keeps the current predictor.
func (l *lane) decodeBlock(dc, ac *HuffmanTable, comp int) error {
	// This clears the array to zeros.
	l.coef = [64]int32{}
	l.coef[0] = l.pred[comp]

	// Decode DC coefficient.
	s, err := dc.decode(&l.br)
	if err != nil {
		return err
	}

	if s > 11 {
		return fmt.Errorf("DC category %d: %w", s, ErrMalformedCode)
	}

	diff, err := l.br.receive(int(s))
	if err != nil {
		return err
	}

	l.pred[comp] += diff
	l.coef[0] = l.pred[comp]

	// Decode AC coefficients. i is the zigzag index.
	for i := 1; i < 64; {
		rs, err := ac.decode(&l.br)
		if err != nil {
			return err
		}

		run := int(rs >> 4)
		size := int(rs & 15)

		if size == 0 {
			if run == 0 { // EOB
				break
			}

			if run != 15 {
				return fmt.Errorf("AC symbol 0x%02x: %w", rs, ErrSyntax)
			}

			i += 16 // ZRL

			continue
		}

		i += run // Skip run of zeros.
		if i > 63 {
			return fmt.Errorf("AC run past coefficient 63: %w", ErrSyntax)
		}

		v, err := l.br.receive(size)
		if err != nil {
			return err
		}

		l.coef[zigzag[i]] = v
		i++
	}

	return nil
}

// holdBlock fills l.coef with a flat block at the component's current DC predictor.
// It stands in for blocks that follow an entropy decoding failure.
func (l *lane) holdBlock(comp int) {
	l.coef = [64]int32{}
	l.coef[0] = l.pred[comp]
}

// decodeInterval decodes every MCU of interval index and hands the finished blocks to w.
//
// The lane starts with all DC predictors at zero. After the first entropy error the
// lane stops reading bits: the failing block keeps what it decoded and every later
// block of the interval is reconstructed from its held DC predictor. The error is
// returned but never affects other intervals.
func (d *Decoder) decodeInterval(index int, w BlockWriter) *LaneError {
	sp := d.spans[index]

	l := lanePool.Get().(*lane)
	defer func() {
		l.br.reset(nil)
		lanePool.Put(l)
	}()

	l.br.reset(d.packed[sp.offset : sp.offset+sp.length])
	l.pred = [3]int32{}

	var failure *LaneError

	for row := sp.row; row < sp.row+sp.rows; row++ {
		for col := 0; col < d.frame.MCUCols; col++ {
			for c := 0; c < 3; c++ {
				if failure == nil {
					t := componentTables[c]
					if err := l.decodeBlock(d.huff[t[0]], d.huff[t[1]], c); err != nil {
						failure = &LaneError{Interval: index, Row: row, Column: col, Component: c, Err: err}
					}
				} else {
					l.holdBlock(c)
				}

				idct(&l.pixels[c], &l.coef, &d.quant[c])
			}

			convertBlock(&l.color, &l.pixels[0], &l.pixels[1], &l.pixels[2])
			w.WriteBlock(col*8, row*8, &l.color)
		}
	}

	return failure
}
