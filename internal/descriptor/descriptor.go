// Package descriptor defines the face descriptor extraction capability and its
// HTTP backend. Backends that need native libraries live in subpackages.
package descriptor

import (
	"context"
	"errors"
)

// ErrEmptyDescriptor is returned by backends when a detected face carries no descriptor.
var ErrEmptyDescriptor = errors.New("empty descriptor returned")

// Face is one detected face in detection order.
type Face struct {
	Box        Box
	Descriptor []float32
	Score      float64
}

// Extractor detects faces in an encoded image and computes one descriptor per face.
// A frame without faces yields an empty slice and a nil error.
type Extractor interface {
	Extract(ctx context.Context, imageData []byte) ([]Face, error)
}
