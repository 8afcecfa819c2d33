package jpegrow

import (
	"errors"
	"math/rand"
	"testing"
)

// defaultTables builds decoding tables for DefaultHuffmanSpecs.
func defaultTables(tb testing.TB) [nHuffman]*HuffmanTable {
	tb.Helper()

	var tables [nHuffman]*HuffmanTable
	for i, s := range DefaultHuffmanSpecs {
		h, err := NewHuffmanTable(s)
		if err != nil {
			tb.Fatalf("NewHuffmanTable(%d) failed: %v", i, err)
		}

		tables[i] = h
	}

	return tables
}

// TestDecodeBlock round-trips coefficient blocks through the entropy coder.
func TestDecodeBlock(t *testing.T) {
	var zrl [64]int32
	zrl[0] = 10
	zrl[zigzag[1]] = -3
	zrl[zigzag[40]] = 2 // Run of 38 zeros: two ZRL symbols and a run of 6.

	var last [64]int32
	last[zigzag[63]] = -1 // Coefficient 63 needs no EOB.

	var dense [64]int32
	for k := 0; k < 64; k++ {
		dense[zigzag[k]] = int32(k%7) - 3
	}
	dense[0] = -2047

	testCases := []struct {
		name string
		blk  [64]int32
	}{
		{"Empty", [64]int32{}},
		{"DCOnly", [64]int32{0: 512}},
		{"ZRL", zrl},
		{"LastCoefficient", last},
		{"Dense", dense},
	}

	enc := defaultEncoders()
	tables := defaultTables(t)

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var w bitWriter
			var pred int32
			w.encodeBlock(enc[DCLuma], enc[ACLuma], &tc.blk, &pred)

			var l lane
			l.br.reset(w.flush())

			if err := l.decodeBlock(tables[DCLuma], tables[ACLuma], 0); err != nil {
				t.Fatalf("decodeBlock failed: %v", err)
			}

			if l.coef != tc.blk {
				t.Errorf("decodeBlock got %v, want %v", l.coef, tc.blk)
			}

			if l.pred[0] != tc.blk[0] {
				t.Errorf("DC predictor got %d, want %d", l.pred[0], tc.blk[0])
			}
		})
	}
}

// TestDecodeBlockPrediction verifies that DC differences accumulate per component.
func TestDecodeBlockPrediction(t *testing.T) {
	enc := defaultEncoders()
	tables := defaultTables(t)

	dcs := [][3]int32{{100, -5, 7}, {80, -5, 0}, {-300, 20, 7}, {0, 0, 0}}

	var w bitWriter
	var pred [3]int32
	for _, mcu := range dcs {
		for c := 0; c < 3; c++ {
			blk := [64]int32{0: mcu[c]}
			tt := componentTables[c]
			w.encodeBlock(enc[tt[0]], enc[tt[1]], &blk, &pred[c])
		}
	}

	var l lane
	l.br.reset(w.flush())

	for i, mcu := range dcs {
		for c := 0; c < 3; c++ {
			tt := componentTables[c]
			if err := l.decodeBlock(tables[tt[0]], tables[tt[1]], c); err != nil {
				t.Fatalf("MCU %d component %d: decodeBlock failed: %v", i, c, err)
			}

			if l.coef[0] != mcu[c] {
				t.Errorf("MCU %d component %d: DC got %d, want %d", i, c, l.coef[0], mcu[c])
			}
		}
	}
}

// TestDecodeBlockTruncated verifies that a block cut off mid-AC keeps what was decoded
// and never reads past the interval.
func TestDecodeBlockTruncated(t *testing.T) {
	rng := rand.New(rand.NewSource(3))

	var blk [64]int32
	blk[0] = 37
	for k := 1; k < 64; k++ {
		blk[zigzag[k]] = int32(rng.Intn(61) - 30)
	}

	enc := defaultEncoders()
	tables := defaultTables(t)

	var w bitWriter
	var pred int32
	w.encodeBlock(enc[DCLuma], enc[ACLuma], &blk, &pred)
	data := w.flush()

	for cut := 0; cut < len(data)-1; cut++ {
		var l lane
		l.br.reset(data[:cut])

		err := l.decodeBlock(tables[DCLuma], tables[ACLuma], 0)
		if !errors.Is(err, ErrTruncated) {
			t.Fatalf("cut %d: got error %v, want %v", cut, err, ErrTruncated)
		}

		if l.br.pos > cut {
			t.Fatalf("cut %d: reader moved to %d", cut, l.br.pos)
		}

		// The DC read either completed or fell back to the zero predictor.
		if l.coef[0] != blk[0] && l.coef[0] != 0 {
			t.Fatalf("cut %d: DC got %d, want %d or 0", cut, l.coef[0], blk[0])
		}

		for i := 1; i < 64; i++ {
			if l.coef[i] != 0 && l.coef[i] != blk[i] {
				t.Fatalf("cut %d: coefficient %d got %d, want %d or 0", cut, i, l.coef[i], blk[i])
			}
		}
	}
}

// TestDecodeBlockInvalidSymbols verifies the AC syntax checks.
func TestDecodeBlockInvalidSymbols(t *testing.T) {
	// Two-bit codes: 00 EOB, 01 0x10 (size 0, run 1), 10 0xF5, 11 ZRL.
	spec := HuffmanSpec{
		Counts: [16]uint8{0, 4},
		Values: []uint8{0x00, 0x10, 0xF5, 0xF0},
	}

	ac, err := NewHuffmanTable(spec)
	if err != nil {
		t.Fatal(err)
	}

	tables := defaultTables(t)

	testCases := []struct {
		name string
		data []byte
	}{
		// DC category 0 is code 00, then 0x10.
		{"ZeroSizeRun", []byte{0b0001_0000}},
		// DC 00, three ZRLs to coefficient 49, then a run of 15.
		{"RunPastEnd", []byte{0b0011_1111, 0b1000_0000}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var l lane
			l.br.reset(tc.data)

			err := l.decodeBlock(tables[DCLuma], ac, 0)
			if !errors.Is(err, ErrSyntax) {
				t.Errorf("decodeBlock got error %v, want %v", err, ErrSyntax)
			}
		})
	}
}

// TestDecodeIntervalDegrade verifies that a truncated interval still produces every block
// and reports the first failure position.
func TestDecodeIntervalDegrade(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	ti := randomTestImage(rng, 64, 16)

	s := ti.scan(1)
	s.Intervals[1].Data = s.Intervals[1].Data[:len(s.Intervals[1].Data)/2]

	d, err := NewDecoder(s, nil)
	if err != nil {
		t.Fatalf("NewDecoder failed: %v", err)
	}

	var c blockCounter
	if le := d.decodeInterval(0, &c); le != nil {
		t.Fatalf("interval 0 failed: %v", le)
	}

	le := d.decodeInterval(1, &c)
	if le == nil {
		t.Fatal("interval 1 did not report the truncation")
	}

	if !errors.Is(le, ErrTruncated) {
		t.Errorf("interval 1 error got %v, want %v", le.Err, ErrTruncated)
	}

	if le.Interval != 1 || le.Row != 1 || le.Column < 0 || le.Column >= ti.frame.MCUCols {
		t.Errorf("unexpected failure position %+v", le)
	}

	if want := 2 * ti.frame.MCUCols; c.n != want {
		t.Errorf("wrote %d blocks, want %d", c.n, want)
	}
}

// BenchmarkDecodeInterval measures one lane over a single MCU row.
func BenchmarkDecodeInterval(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	ti := randomTestImage(rng, 1024, 8)

	d, err := NewDecoder(ti.scan(1), nil)
	if err != nil {
		b.Fatal(err)
	}

	var c blockCounter

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		d.decodeInterval(0, &c)
	}
}
