// Command jpegrow decodes a baseline 4:4:4 JPEG with the row-interval decoder and writes it as PNG.
// Images can optionally be resized after decoding.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"time"

	"golang.org/x/image/draw"

	"github.com/gen2brain/jpegrow"
)

func main() {
	var in string
	var out string
	var workers int
	var width int
	var fallback bool
	var autoRotate bool
	var verbose bool
	flag.StringVar(&in, "i", "", "Input JPEG file path")
	flag.StringVar(&out, "o", "", "Output PNG file path")
	flag.IntVar(&workers, "workers", 0, "Number of concurrent lanes (0 = GOMAXPROCS)")
	flag.IntVar(&width, "width", 0, "Resize the output to this width, keeping the aspect ratio")
	flag.BoolVar(&fallback, "fallback", false, "Decode unsupported JPEGs with the standard library")
	flag.BoolVar(&autoRotate, "autorotate", false, "Rotate the image according to its EXIF orientation")
	flag.BoolVar(&verbose, "v", false, "Verbose logging")
	flag.Parse()

	if in == "" || out == "" {
		fmt.Fprintf(os.Stderr, "Input and output file paths must be specified\n")
		os.Exit(1)
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(in, out, workers, width, fallback, autoRotate, logger); err != nil {
		logger.Error("decode failed", slog.String("input", in), slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(in, out string, workers, width int, fallback, autoRotate bool, logger *slog.Logger) error {
	file, err := os.Open(in)
	if err != nil {
		return fmt.Errorf("cant open input %s: %w", in, err)
	}
	defer file.Close()

	start := time.Now()

	img, err := jpegrow.DecodeContext(context.Background(), file, &jpegrow.Options{
		Workers:    workers,
		Logger:     logger,
		Fallback:   fallback,
		AutoRotate: autoRotate,
	})

	var ie jpegrow.IntervalErrors
	switch {
	case errors.As(err, &ie):
		// Degraded rows are already logged by the decoder; keep the partial image.
		logger.Warn("partial image", slog.Int("degraded_intervals", len(ie)))
	case err != nil:
		return err
	}

	logger.Debug("decoded",
		slog.Int("width", img.Bounds().Dx()),
		slog.Int("height", img.Bounds().Dy()),
		slog.Duration("elapsed", time.Since(start)))

	if width > 0 && width != img.Bounds().Dx() {
		img = resize(img, width)
	}

	output, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("cant open output %s: %w", out, err)
	}
	defer output.Close()

	if err := png.Encode(output, img); err != nil {
		return fmt.Errorf("cant encode output %s: %w", out, err)
	}

	return nil
}

// resize scales img to the given width with Catmull-Rom resampling.
func resize(img image.Image, width int) image.Image {
	b := img.Bounds()
	height := b.Dy() * width / b.Dx()
	if height < 1 {
		height = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)

	return dst
}
