// Package photo turns an uploaded image into the compact data URI stored on a
// memory.
package photo

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"os"
	"strings"

	// Registered decoders.
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"memorypin/internal/config"
)

var (
	// ErrNotImage is returned when the content type is not image/*.
	ErrNotImage = errors.New("photo: not an image")
	// ErrTooLarge is returned when the input exceeds the size limit.
	ErrTooLarge = errors.New("photo: image too large")
)

// DataURIPrefix starts every optimised photo.
const DataURIPrefix = "data:image/jpeg;base64,"

// Optimizer bounds, rescales and re-encodes photos.
type Optimizer struct {
	maxBytes     int64
	maxDimension int
	quality      int
	logger       *zap.Logger
}

// NewOptimizer builds an optimizer from cfg. Zero values fall back to 1 MiB,
// 1200 px and quality 80.
func NewOptimizer(cfg config.Photo, logger *zap.Logger) *Optimizer {
	o := &Optimizer{
		maxBytes:     cfg.MaxBytes,
		maxDimension: cfg.MaxDimension,
		quality:      cfg.JPEGQuality,
		logger:       logger,
	}
	if o.maxBytes <= 0 {
		o.maxBytes = 1 << 20
	}
	if o.maxDimension <= 0 {
		o.maxDimension = 1200
	}
	if o.quality <= 0 || o.quality > 100 {
		o.quality = 80
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// Optimize reads an image of contentType from r and returns it as a JPEG
// data URI whose longer side is at most the configured dimension.
func (o *Optimizer) Optimize(ctx context.Context, r io.Reader, contentType string) (string, error) {
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/") {
		return "", fmt.Errorf("%w: %q", ErrNotImage, contentType)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	raw, err := io.ReadAll(io.LimitReader(r, o.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("photo: read: %w", err)
	}
	if int64(len(raw)) > o.maxBytes {
		return "", fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, o.maxBytes)
	}
	src, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrNotImage, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dst := o.scale(src)

	var buf bytes.Buffer
	buf.WriteString(DataURIPrefix)
	enc := base64.NewEncoder(base64.StdEncoding, &buf)
	if err := jpeg.Encode(enc, dst, &jpeg.Options{Quality: o.quality}); err != nil {
		return "", fmt.Errorf("photo: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("photo: encode: %w", err)
	}
	o.logger.Debug("photo optimised",
		zap.String("format", format),
		zap.Int("input_bytes", len(raw)),
		zap.Stringer("from", src.Bounds().Size()),
		zap.Stringer("to", dst.Bounds().Size()),
	)
	return buf.String(), nil
}

// OptimizeFile sniffs the content type of the file at path and optimises it.
func (o *Optimizer) OptimizeFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("photo: %w", err)
	}
	defer func() { _ = f.Close() }()
	br := bufio.NewReader(f)
	head, _ := br.Peek(512)
	return o.Optimize(ctx, br, http.DetectContentType(head))
}

// scale keeps the aspect ratio and only ever shrinks.
func (o *Optimizer) scale(src image.Image) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	nw, nh := fit(w, h, o.maxDimension)
	if nw == w && nh == h {
		return src
	}
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}

func fit(w, h, limit int) (int, int) {
	switch {
	case w > h && w > limit:
		return limit, atLeastOne(h * limit / w)
	case h > limit:
		return atLeastOne(w * limit / h), limit
	default:
		return w, h
	}
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
