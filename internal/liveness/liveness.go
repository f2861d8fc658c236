// Package liveness decides whether a recognition frame shows a live subject.
//
// The check is a heuristic: a frame passes when an eye detector finds at least
// one eye region of a minimum size. It does not defend against spoofing. Any
// printed photograph or screen showing a face with visible eyes passes, and a
// live subject in profile or with occluded eyes is rejected.
package liveness

import (
	"errors"
	"fmt"
	"image"

	"github.com/kozaktomas/facegate/internal/constants"
	"github.com/kozaktomas/facegate/internal/imaging"
)

var ErrEmptyFrame = errors.New("empty frame")

// CascadeParams tunes the eye detector.
type CascadeParams struct {
	ScaleFactor  float64
	MinNeighbors int
	MinSize      int // minimum side of an eye region in pixels
}

// DefaultCascadeParams returns the parameters used when none are configured.
func DefaultCascadeParams() CascadeParams {
	return CascadeParams{
		ScaleFactor:  constants.DefaultEyeScaleFactor,
		MinNeighbors: constants.DefaultEyeMinNeighbors,
		MinSize:      constants.DefaultEyeMinSize,
	}
}

// EyeDetector finds eye regions in a grayscale frame.
type EyeDetector interface {
	DetectEyes(gray *image.Gray, p CascadeParams) ([]image.Rectangle, error)
}

// Gate applies the eye heuristic. It holds no per-frame state and is safe for
// concurrent use when its detector is.
type Gate struct {
	detector EyeDetector
	params   CascadeParams
}

// NewGate creates a gate. Zero fields of p fall back to the defaults.
func NewGate(detector EyeDetector, p CascadeParams) *Gate {
	def := DefaultCascadeParams()
	if p.ScaleFactor <= 1 {
		p.ScaleFactor = def.ScaleFactor
	}
	if p.MinNeighbors <= 0 {
		p.MinNeighbors = def.MinNeighbors
	}
	if p.MinSize <= 0 {
		p.MinSize = def.MinSize
	}
	return &Gate{detector: detector, params: p}
}

// Params returns the effective detector parameters.
func (g *Gate) Params() CascadeParams {
	return g.params
}

// IsLive reports whether the frame contains at least one eye region whose
// sides are both at least MinSize pixels.
func (g *Gate) IsLive(frame image.Image) (bool, error) {
	if frame == nil || frame.Bounds().Empty() {
		return false, ErrEmptyFrame
	}

	eyes, err := g.detector.DetectEyes(imaging.ToGray(frame), g.params)
	if err != nil {
		return false, fmt.Errorf("detecting eyes: %w", err)
	}

	for _, r := range eyes {
		if r.Dx() >= g.params.MinSize && r.Dy() >= g.params.MinSize {
			return true, nil
		}
	}
	return false, nil
}
