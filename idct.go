package jpegrow

// Inverse Discrete Cosine Transform

// idctPass holds the even (x) and odd (y) partial sums of one 1D transform.
type idctPass struct {
	x0, x1, x2, x3 int32
	y0, y1, y2, y3 int32
}

// compute runs the 1D butterfly on eight inputs.
// Constants are the AAN multipliers scaled by 2^12.
func (p *idctPass) compute(s0, s1, s2, s3, s4, s5, s6, s7 int32) {
	// Even part.
	n0 := (s2 + s6) * 2217
	t2 := n0 + s6*-7567
	t3 := n0 + s2*3135
	t0 := (s0 + s4) << 12
	t1 := (s0 - s4) << 12

	p.x0 = t0 + t3
	p.x3 = t0 - t3
	p.x1 = t1 + t2
	p.x2 = t1 - t2

	// Odd part.
	p1 := s7 + s1
	p2 := s5 + s3
	p3 := s7 + s3
	p4 := s5 + s1
	p5 := (p3 + p4) * 4816
	p1 = p1*-3685 + p5
	p2 = p2*-10497 + p5
	p3 *= -8034
	p4 *= -1597

	p.y0 = p1 + p3 + s7*1223
	p.y1 = p2 + p4 + s5*8410
	p.y2 = p2 + p3 + s3*12586
	p.y3 = p1 + p4 + s1*6149
}

// bias adds a rounding constant to the even sums.
func (p *idctPass) bias(b int32) {
	p.x0 += b
	p.x1 += b
	p.x2 += b
	p.x3 += b
}

// store writes the eight outputs of the pass, shifted right by shift.
func (p *idctPass) store(out []int32, shift uint) {
	_ = out[7]

	out[0] = (p.x0 + p.y3) >> shift
	out[1] = (p.x1 + p.y2) >> shift
	out[2] = (p.x2 + p.y1) >> shift
	out[3] = (p.x3 + p.y0) >> shift
	out[4] = (p.x3 - p.y0) >> shift
	out[5] = (p.x2 - p.y1) >> shift
	out[6] = (p.x1 - p.y2) >> shift
	out[7] = (p.x0 - p.y3) >> shift
}

// idct dequantizes the natural-order coefficients in blk with qt and performs the
// separable 2D inverse DCT into dst. The second pass folds in the +128 level shift,
// so dst holds samples in the 0..255 domain. Samples are not clamped.
func idct(dst *[64]int32, blk *[64]int32, qt *QuantTable) {
	var temp [64]int32
	var p idctPass

	// First pass: one input column at a time, dequantized on load.
	// Results are stored transposed so the second pass reads them as columns.
	for i := 0; i < 8; i++ {
		p.compute(
			blk[i+8*0]*int32(qt[i+8*0]),
			blk[i+8*1]*int32(qt[i+8*1]),
			blk[i+8*2]*int32(qt[i+8*2]),
			blk[i+8*3]*int32(qt[i+8*3]),
			blk[i+8*4]*int32(qt[i+8*4]),
			blk[i+8*5]*int32(qt[i+8*5]),
			blk[i+8*6]*int32(qt[i+8*6]),
			blk[i+8*7]*int32(qt[i+8*7]),
		)
		p.bias(0x200)
		p.store(temp[i*8:i*8+8], 10)
	}

	// Second pass. The bias rounds and adds the level shift in one step.
	for i := 0; i < 8; i++ {
		p.compute(
			temp[i+8*0], temp[i+8*1], temp[i+8*2], temp[i+8*3],
			temp[i+8*4], temp[i+8*5], temp[i+8*6], temp[i+8*7],
		)
		p.bias(0x10000 + (128 << 17))
		p.store(dst[i*8:i*8+8], 17)
	}
}
