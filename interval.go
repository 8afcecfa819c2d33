package jpegrow

import (
	"context"
	"image"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// intervalAlign is the alignment of each interval's first byte in the packed buffer.
const intervalAlign = 4

// alignOffset rounds n up to the next multiple of intervalAlign.
func alignOffset(n int) int {
	return (n + intervalAlign - 1) &^ (intervalAlign - 1)
}

// packIntervals concatenates the interval payloads into one buffer. Each payload starts
// at a 4-byte aligned offset; padding goes between payloads, never inside one.
func packIntervals(intervals []Interval) ([]byte, []span) {
	size := 0
	for _, iv := range intervals {
		size += alignOffset(len(iv.Data))
	}

	packed := make([]byte, size)
	spans := make([]span, len(intervals))

	offset := 0
	for i, iv := range intervals {
		copy(packed[offset:], iv.Data)
		spans[i] = span{
			offset: offset,
			length: len(iv.Data),
			row:    iv.Row,
			rows:   iv.Rows,
		}
		offset += alignOffset(len(iv.Data))
	}

	return packed, spans
}

// Decode runs one lane per interval on a pool of at most Options.Workers goroutines
// and writes every MCU to w.
//
// Lanes do not synchronize with each other. A lane that hits a bitstream error degrades
// its own rows only; such failures are collected and returned as IntervalErrors after all
// lanes finished, and the output is still complete in size. Cancelling ctx stops lanes
// that have not started yet and returns ctx.Err(); the output must then be discarded.
func (d *Decoder) Decode(ctx context.Context, w BlockWriter) error {
	failures := make([]*LaneError, len(d.spans))

	d.logger.Debug("decoding scan",
		slog.Int("width", d.frame.Width),
		slog.Int("height", d.frame.Height),
		slog.Int("intervals", len(d.spans)),
		slog.Int("workers", d.workers),
		slog.Int("bytes", len(d.packed)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)

	for i := range d.spans {
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			// Each lane writes only its own slot.
			failures[i] = d.decodeInterval(i, w)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	var errs IntervalErrors
	for _, f := range failures {
		if f == nil {
			continue
		}

		d.logger.Warn("interval degraded, returning partial rows",
			slog.Int("interval", f.Interval),
			slog.Int("row", f.Row),
			slog.Int("column", f.Column),
			slog.Int("component", f.Component),
			slog.String("error", f.Err.Error()))

		errs = append(errs, f)
	}

	if len(errs) > 0 {
		return errs
	}

	return nil
}

// DecodeImage decodes the scan into a new *image.RGBA of the frame's size.
// When some intervals degraded, the image is returned together with an IntervalErrors error.
func (d *Decoder) DecodeImage(ctx context.Context) (*image.RGBA, error) {
	w := NewRGBAWriter(d.frame.Width, d.frame.Height)

	err := d.Decode(ctx, w)
	if err != nil {
		if _, ok := err.(IntervalErrors); ok {
			return w.Image, err
		}

		return nil, err
	}

	return w.Image, nil
}
