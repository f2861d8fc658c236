// Package sketch renders recognition frames into edge sketches and stores them
// under a hard byte budget.
package sketch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"time"

	"golang.org/x/image/draw"

	"github.com/kozaktomas/facegate/internal/constants"
	"github.com/kozaktomas/facegate/internal/imaging"
)

var (
	// ErrCompressionUnbounded means no quality and scale combination met the
	// byte budget within the attempt cap, the deadline, or before the image
	// shrank below one pixel.
	ErrCompressionUnbounded = errors.New("compression unbounded")
	ErrEmptyImage           = errors.New("empty image")
)

// boxKernel averages every source pixel under the destination pixel's
// footprint, which is area interpolation when downscaling.
var boxKernel = &draw.Kernel{Support: 0.5, At: func(float64) float64 { return 1 }}

// Compressor encodes an image as JPEG no larger than MaxBytes. Quality steps
// down from InitialQuality to QualityFloor first; after that the image is
// downscaled by ScaleStep per attempt with quality held at the floor.
type Compressor struct {
	MaxBytes       int
	InitialQuality int
	QualityFloor   int
	QualityStep    int
	ScaleStep      float64
	MaxAttempts    int
	Deadline       time.Duration // zero means only ctx bounds the loop
}

// Result is a committed encoding.
type Result struct {
	Data     []byte
	Quality  int
	Scale    float64
	Attempts int
	Width    int
	Height   int
}

// NewCompressor returns a compressor with the default schedule.
func NewCompressor() *Compressor {
	return &Compressor{
		MaxBytes:       constants.DefaultSketchMaxBytes,
		InitialQuality: constants.DefaultSketchQuality,
		QualityFloor:   constants.DefaultSketchQualityFloor,
		QualityStep:    constants.DefaultSketchQualityStep,
		ScaleStep:      constants.DefaultSketchScaleStep,
		MaxAttempts:    constants.DefaultSketchMaxAttempts,
	}
}

// normalized fills unset or out of range fields with defaults.
func (c Compressor) normalized() Compressor {
	def := NewCompressor()
	if c.MaxBytes <= 0 {
		c.MaxBytes = def.MaxBytes
	}
	if c.InitialQuality < 1 || c.InitialQuality > 100 {
		c.InitialQuality = def.InitialQuality
	}
	if c.QualityFloor < 1 || c.QualityFloor > c.InitialQuality {
		c.QualityFloor = min(def.QualityFloor, c.InitialQuality)
	}
	if c.QualityStep <= 0 {
		c.QualityStep = def.QualityStep
	}
	if c.ScaleStep <= 0 || c.ScaleStep >= 1 {
		c.ScaleStep = def.ScaleStep
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	return c
}

// Budget returns the effective byte ceiling.
func (c *Compressor) Budget() int {
	return c.normalized().MaxBytes
}

// Compress runs the quality-then-scale loop on img. The returned data is
// always within the budget; every failure to get there wraps
// ErrCompressionUnbounded.
func (c *Compressor) Compress(ctx context.Context, img image.Image) (*Result, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, ErrEmptyImage
	}
	cfg := c.normalized()
	if cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Deadline)
		defer cancel()
	}

	src := imaging.ToGray(img)
	srcW, srcH := src.Bounds().Dx(), src.Bounds().Dy()
	quality, scale := cfg.InitialQuality, 1.0

	var buf bytes.Buffer
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: stopped after %d attempts: %w", ErrCompressionUnbounded, attempt-1, err)
		}

		w := int(math.Round(float64(srcW) * scale))
		h := int(math.Round(float64(srcH) * scale))
		if w < 1 || h < 1 {
			return nil, fmt.Errorf("%w: image scaled below one pixel after %d attempts", ErrCompressionUnbounded, attempt-1)
		}

		buf.Reset()
		if err := jpeg.Encode(&buf, resample(src, w, h), &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encoding sketch: %w", err)
		}

		if buf.Len() <= cfg.MaxBytes {
			return &Result{
				Data:     bytes.Clone(buf.Bytes()),
				Quality:  quality,
				Scale:    scale,
				Attempts: attempt,
				Width:    w,
				Height:   h,
			}, nil
		}

		if quality > cfg.QualityFloor {
			quality = max(quality-cfg.QualityStep, cfg.QualityFloor)
		} else {
			scale *= cfg.ScaleStep
		}
	}

	return nil, fmt.Errorf("%w: %d byte budget not met in %d attempts", ErrCompressionUnbounded, cfg.MaxBytes, cfg.MaxAttempts)
}

// Recompress returns data unchanged, with zero attempts, when it already is a
// JPEG within the budget. Anything else is decoded and compressed.
func (c *Compressor) Recompress(ctx context.Context, data []byte) (*Result, error) {
	cfg := c.normalized()
	if imaging.IsJPEG(data) && len(data) <= cfg.MaxBytes {
		if jc, err := jpeg.DecodeConfig(bytes.NewReader(data)); err == nil {
			return &Result{
				Data:   data,
				Scale:  1,
				Width:  jc.Width,
				Height: jc.Height,
			}, nil
		}
	}

	img, _, err := imaging.Decode(data)
	if err != nil {
		return nil, err
	}
	return c.Compress(ctx, img)
}

func resample(src *image.Gray, w, h int) *image.Gray {
	if w == src.Bounds().Dx() && h == src.Bounds().Dy() {
		return src
	}
	dst := image.NewGray(image.Rect(0, 0, w, h))
	boxKernel.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}
