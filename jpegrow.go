// Package jpegrow decodes baseline 4:4:4 JPEG images by splitting the scan into
// restart-aligned row intervals and decoding all of them concurrently.
//
// Each interval is decoded by an independent lane that owns its bit cursor and DC
// predictors and shares only read-only tables with the other lanes, so no serial
// entropy-decoding pass is needed.
package jpegrow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// Standard error types for JPEG decoding.
var (
	ErrNoJPEG        = errors.New("not a JPEG file")
	ErrUnsupported   = errors.New("unsupported format")
	ErrSyntax        = errors.New("syntax error")
	ErrTruncated     = errors.New("truncated entropy-coded data")
	ErrMalformedCode = errors.New("malformed Huffman code")
)

// LaneError describes the first entropy decoding failure of one interval.
// Row and Column are MCU coordinates, Component is 0, 1 or 2 for Y, Cb or Cr.
type LaneError struct {
	Interval  int
	Row       int
	Column    int
	Component int
	Err       error
}

func (e *LaneError) Error() string {
	return fmt.Sprintf("interval %d: MCU (%d, %d) component %d: %v", e.Interval, e.Column, e.Row, e.Component, e.Err)
}

func (e *LaneError) Unwrap() error {
	return e.Err
}

// IntervalErrors lists the intervals that degraded during a decode.
// The decoded image is still complete in size; only the rows of these intervals are affected.
type IntervalErrors []*LaneError

func (e IntervalErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}

	msgs := make([]string, len(e))
	for i, le := range e {
		msgs[i] = le.Error()
	}

	return fmt.Sprintf("%d intervals degraded: %s", len(e), strings.Join(msgs, "; "))
}

func (e IntervalErrors) Unwrap() []error {
	errs := make([]error, len(e))
	for i, le := range e {
		errs[i] = le
	}

	return errs
}

// Options specifies decoding parameters.
type Options struct {
	// Workers limits the number of lanes decoded at the same time.
	// Zero means runtime.GOMAXPROCS(0).
	Workers int
	// Logger receives scheduling and degradation records. Nil means slog.Default().
	Logger *slog.Logger
	// Fallback decodes streams the engine does not support (progressive, subsampled,
	// grayscale, ...) with the standard library's decoder instead of returning ErrUnsupported.
	Fallback bool
	// AutoRotate enables automatic image rotation based on the EXIF orientation tag.
	// If true, the decoded image is rotated/flipped to match the intended viewing orientation.
	AutoRotate bool
}

// A reasonable upper limit for the size of JPEG headers.
// Most headers are well under this size (64KB).
const maxHeaderSize = 65536

// A pool for header-sized buffers to reduce allocations in DecodeConfig.
var headerBufferPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, maxHeaderSize)

		return &b
	},
}

// Interface to check if a reader knows its remaining length.
type readerWithLen interface {
	Len() int
}

// readAllData reads data from r, pre-allocating if the size is known.
func readAllData(r io.Reader) ([]byte, error) {
	if rl, ok := r.(readerWithLen); ok {
		size := rl.Len()
		if size > 0 {
			data := make([]byte, size)
			_, err := io.ReadFull(r, data)
			if err != nil {
				return nil, fmt.Errorf("failed to read image data: %w", err)
			}

			return data, nil
		}
	}

	// Fallback for readers that don't implement Len() (e.g., network streams, os.File) or were empty.
	return io.ReadAll(r)
}

// Decode reads a baseline JPEG image from r and returns it as an *image.RGBA.
// It accepts an optional Options struct to control decoding parameters.
//
// If some intervals could not be fully decoded, Decode returns the image together with
// an IntervalErrors error; all other rows are decoded normally.
func Decode(r io.Reader, opts ...*Options) (image.Image, error) {
	return DecodeContext(context.Background(), r, opts...)
}

// DecodeContext is like Decode but stops scheduling lanes when ctx is cancelled.
func DecodeContext(ctx context.Context, r io.Reader, opts ...*Options) (image.Image, error) {
	data, err := readAllData(r)
	if err != nil {
		return nil, err
	}

	var o *Options
	if len(opts) > 0 {
		o = opts[0]
	}

	s, err := Parse(data)
	if err == nil {
		var d *Decoder
		d, err = NewDecoder(s, o)
		if err == nil {
			img, err := d.DecodeImage(ctx)
			if img == nil {
				// Avoid returning a typed nil inside the interface.
				return nil, err
			}

			if o != nil && o.AutoRotate {
				img = orient(img, s.Orientation)
			}

			return img, err
		}
	}

	// If the format is unsupported, optionally fall back to the standard library.
	if errors.Is(err, ErrUnsupported) && o != nil && o.Fallback {
		logger := o.Logger
		if logger == nil {
			logger = slog.Default()
		}

		logger.Debug("falling back to image/jpeg", slog.String("reason", err.Error()))

		return jpeg.Decode(bytes.NewReader(data))
	}

	return nil, err
}

// DecodeConfig returns the color model and dimensions of a JPEG image without decoding the entire image data.
// The dimensions are as stored in the file (SOF marker), ignoring any EXIF orientation tag.
// Streams the engine does not support are described by the standard library's decoder.
func DecodeConfig(r io.Reader) (image.Config, error) {
	// Get a buffer from the pool to avoid allocating a large slice on every call.
	bufPtr := headerBufferPool.Get().(*[]byte)
	defer headerBufferPool.Put(bufPtr)
	headerData := *bufPtr

	// Read the start of the file into the pooled buffer. We expect an
	// io.ErrUnexpectedEOF if the file is smaller than our buffer, which is normal.
	n, err := io.ReadFull(r, headerData)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return image.Config{}, err
	}

	if n == 0 {
		return image.Config{}, ErrNoJPEG
	}

	p := newParser(headerData[:n])
	if err := p.parse(true); err != nil {
		if errors.Is(err, ErrUnsupported) {
			// Rebuild the full stream from the header we already read and the rest of r.
			fullReader := io.MultiReader(bytes.NewReader(headerData[:n]), r)

			return jpeg.DecodeConfig(fullReader)
		}

		return image.Config{}, err
	}

	return image.Config{
		ColorModel: color.RGBAModel,
		Width:      p.frame.Width,
		Height:     p.frame.Height,
	}, nil
}
