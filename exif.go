package jpegrow

import (
	"bytes"
	"image"
)

// EXIF orientation tag of the main IFD.
const tagOrientation = 0x0112

// EXIF SHORT data type.
const typeUnsignedShort = 3

// exifReader reads TIFF integers in the byte order given by the EXIF header.
// Reads past the end of the data return 0.
type exifReader struct {
	data         []byte
	littleEndian bool
}

func (r *exifReader) uint16(offset int) uint16 {
	if offset < 0 || offset+1 >= len(r.data) {
		return 0
	}

	if r.littleEndian {
		return uint16(r.data[offset]) | (uint16(r.data[offset+1]) << 8)
	}

	return (uint16(r.data[offset]) << 8) | uint16(r.data[offset+1])
}

func (r *exifReader) uint32(offset int) uint32 {
	if offset < 0 || offset+3 >= len(r.data) {
		return 0
	}

	if r.littleEndian {
		return uint32(r.data[offset]) | (uint32(r.data[offset+1]) << 8) |
			(uint32(r.data[offset+2]) << 16) | (uint32(r.data[offset+3]) << 24)
	}

	return (uint32(r.data[offset]) << 24) | (uint32(r.data[offset+1]) << 16) |
		(uint32(r.data[offset+2]) << 8) | uint32(r.data[offset+3])
}

// parseOrientation returns the orientation tag (1-8) from the main IFD of an APP1 payload.
// It returns 1 (top-left) when the payload is not EXIF or has no valid orientation.
func parseOrientation(payload []byte) int {
	if len(payload) < 6+8 || !bytes.HasPrefix(payload, []byte("Exif\x00\x00")) {
		return 1
	}

	r := &exifReader{data: payload[6:]}

	// Check byte order.
	switch {
	case r.data[0] == 'I' && r.data[1] == 'I':
		r.littleEndian = true
	case r.data[0] == 'M' && r.data[1] == 'M':
	default:
		return 1
	}

	// Check magic number (42).
	if r.uint16(2) != 42 {
		return 1
	}

	ifdOffset := r.uint32(4)
	if ifdOffset < 8 || uint64(ifdOffset)+2 > uint64(len(r.data)) {
		return 1
	}

	numEntries := int(r.uint16(int(ifdOffset)))
	entryOffset := int(ifdOffset) + 2

	// Entries that do not fit in the segment are ignored.
	for i := 0; i < numEntries && entryOffset+12 <= len(r.data); i++ {
		if r.uint16(entryOffset) == tagOrientation {
			// A single SHORT, stored in the first two bytes of the value field.
			if r.uint16(entryOffset+2) != typeUnsignedShort || r.uint32(entryOffset+4) != 1 {
				return 1
			}

			if o := int(r.uint16(entryOffset + 8)); o >= 1 && o <= 8 {
				return o
			}

			return 1
		}

		entryOffset += 12
	}

	return 1
}

// orient rotates and flips img into the viewing orientation given by an EXIF orientation tag.
// Orientations 5-8 swap width and height. For 1 and unknown values img is returned as is.
func orient(img *image.RGBA, orientation int) *image.RGBA {
	if orientation < 2 || orientation > 8 {
		return img
	}

	b := img.Bounds()
	srcWidth, srcHeight := b.Dx(), b.Dy()

	dstWidth, dstHeight := srcWidth, srcHeight
	if orientation >= 5 {
		dstWidth, dstHeight = srcHeight, srcWidth
	}

	dst := image.NewRGBA(image.Rect(0, 0, dstWidth, dstHeight))

	for sy := 0; sy < srcHeight; sy++ {
		row := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+sy):]

		for sx := 0; sx < srcWidth; sx++ {
			var dx, dy int

			switch orientation {
			case 2: // Flip horizontal
				dx, dy = srcWidth-1-sx, sy
			case 3: // Rotate 180
				dx, dy = srcWidth-1-sx, srcHeight-1-sy
			case 4: // Flip vertical
				dx, dy = sx, srcHeight-1-sy
			case 5: // Transpose
				dx, dy = sy, sx
			case 6: // Rotate 90 CW
				dx, dy = srcHeight-1-sy, sx
			case 7: // Transverse
				dx, dy = srcHeight-1-sy, srcWidth-1-sx
			case 8: // Rotate 270 CW
				dx, dy = sy, srcWidth-1-sx
			}

			o := dst.PixOffset(dx, dy)
			copy(dst.Pix[o:o+4], row[sx*4:sx*4+4])
		}
	}

	return dst
}
