// Package dlib extracts 128-d face descriptors in-process with dlib through go-face.
// It needs the dlib shared libraries and the shape_predictor_5_face_landmarks.dat,
// dlib_face_recognition_resnet_model_v1.dat and mmod_human_face_detector.dat models.
package dlib

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Kagami/go-face"

	"github.com/kozaktomas/facegate/internal/descriptor"
	"github.com/kozaktomas/facegate/internal/imaging"
)

// Extractor wraps a go-face recognizer. The recognizer is not safe for
// concurrent use, so calls are serialized.
type Extractor struct {
	mu  sync.Mutex
	rec *face.Recognizer
}

// New loads the dlib models from modelsDir.
func New(modelsDir string) (*Extractor, error) {
	rec, err := face.NewRecognizer(modelsDir)
	if err != nil {
		return nil, fmt.Errorf("initializing dlib recognizer from %s: %w", modelsDir, err)
	}
	return &Extractor{rec: rec}, nil
}

// Extract implements descriptor.Extractor. go-face only decodes JPEG, so other
// formats are re-encoded first.
func (e *Extractor) Extract(ctx context.Context, imageData []byte) ([]descriptor.Face, error) {
	jpegData, err := imaging.EnsureJPEG(imageData)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.rec == nil {
		e.mu.Unlock()
		return nil, errors.New("dlib recognizer is closed")
	}
	faces, err := e.rec.Recognize(jpegData)
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("dlib recognize: %w", err)
	}

	result := make([]descriptor.Face, 0, len(faces))
	for _, f := range faces {
		desc := make([]float32, len(f.Descriptor))
		copy(desc, f.Descriptor[:])
		result = append(result, descriptor.Face{
			Box:        descriptor.BoxFromRect(f.Rectangle),
			Descriptor: desc,
			Score:      1,
		})
	}
	return result, nil
}

// Close releases the native recognizer.
func (e *Extractor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec != nil {
		e.rec.Close()
		e.rec = nil
	}
}
