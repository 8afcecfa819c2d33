package jpegrow

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// RGBA is a color with unclamped float components. Decoded colors are nominally in [0, 1],
// but the conversion does not clamp them; that is left to the BlockWriter.
type RGBA struct {
	R, G, B, A float32
}

// ColorBlock is one converted 8x8 MCU in row-major order.
type ColorBlock [64]RGBA

// BlockWriter receives finished MCUs. x and y are the pixel coordinates of the block's top-left corner.
// Lanes call WriteBlock concurrently, but never for the same block or for overlapping pixel rows
// of different intervals.
type BlockWriter interface {
	WriteBlock(x, y int, blk *ColorBlock)
}

// yCbCrToRGBA converts one decoded sample triple.
func yCbCrToRGBA(y, cb, cr int32) RGBA {
	fy := float32(y) / 255
	fcb := float32(cb-128) / 255
	fcr := float32(cr-128) / 255

	return RGBA{
		R: fy + fcr*1.400,
		G: fy - fcb*0.343 - fcr*0.711,
		B: fy + fcb*1.765,
		A: 1,
	}
}

// convertBlock combines the three component pixel blocks of an MCU into colors.
func convertBlock(dst *ColorBlock, y, cb, cr *[64]int32) {
	for i := 0; i < 64; i++ {
		dst[i] = yCbCrToRGBA(y[i], cb[i], cr[i])
	}
}

// unorm8 stores a float component the way an 8-bit normalized texture does:
// clamp to [0, 1], scale to 255 and round to nearest.
func unorm8(v float32) uint8 {
	if v <= 0 {
		return 0
	}

	if v >= 1 {
		return 255
	}

	return uint8(v*255 + 0.5)
}

// RGBAWriter stores blocks into an *image.RGBA. Pixels outside the image bounds are dropped,
// so frames whose size is not a multiple of 8 need no padding.
type RGBAWriter struct {
	Image *image.RGBA
}

// NewRGBAWriter allocates an RGBA image of the given size and a writer for it.
func NewRGBAWriter(width, height int) *RGBAWriter {
	return &RGBAWriter{Image: image.NewRGBA(image.Rect(0, 0, width, height))}
}

// WriteBlock implements BlockWriter.
func (w *RGBAWriter) WriteBlock(x, y int, blk *ColorBlock) {
	m := w.Image
	b := m.Rect

	for by := 0; by < 8; by++ {
		py := b.Min.Y + y + by
		if py >= b.Max.Y {
			break
		}

		offset := m.PixOffset(b.Min.X+x, py)
		for bx := 0; bx < 8; bx++ {
			if b.Min.X+x+bx >= b.Max.X {
				break
			}

			c := &blk[by*8+bx]
			pix := m.Pix[offset : offset+4 : offset+4]
			pix[0] = unorm8(c.R)
			pix[1] = unorm8(c.G)
			pix[2] = unorm8(c.B)
			pix[3] = unorm8(c.A)
			offset += 4
		}
	}
}

// ImageWriter stores blocks into any draw.Image, one Set call per pixel.
// The destination must tolerate concurrent Set calls on disjoint pixels, which holds
// for the image package's in-memory types.
type ImageWriter struct {
	Image draw.Image
}

// WriteBlock implements BlockWriter.
func (w ImageWriter) WriteBlock(x, y int, blk *ColorBlock) {
	b := w.Image.Bounds()

	for by := 0; by < 8; by++ {
		py := b.Min.Y + y + by
		if py >= b.Max.Y {
			break
		}

		for bx := 0; bx < 8; bx++ {
			px := b.Min.X + x + bx
			if px >= b.Max.X {
				break
			}

			c := &blk[by*8+bx]
			w.Image.Set(px, py, color.RGBA{R: unorm8(c.R), G: unorm8(c.G), B: unorm8(c.B), A: unorm8(c.A)})
		}
	}
}
