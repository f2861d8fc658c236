package sketch

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// EdgeDetector turns a frame into a single-channel edge map.
type EdgeDetector interface {
	Edges(frame image.Image) (*image.Gray, error)
}

// Artifact describes a stored sketch.
type Artifact struct {
	Name     string  `json:"name"`
	URL      string  `json:"url"`
	Size     int     `json:"size"`
	Quality  int     `json:"quality"`
	Scale    float64 `json:"scale"`
	Attempts int     `json:"attempts"`
}

// ArtifactName returns sketch_YYYYMMDDHHMMSS_<8 hex>.jpg for t. The random
// suffix keeps two sketches generated within the same second apart.
func ArtifactName(t time.Time) string {
	return fmt.Sprintf("sketch_%s_%s.jpg", t.Format("20060102150405"), uuid.NewString()[:8])
}

// Sketcher chains edge detection, compression and storage.
type Sketcher struct {
	detector   EdgeDetector
	compressor *Compressor
	store      ArtifactStore
	now        func() time.Time
	logger     *slog.Logger
}

// NewSketcher creates a sketcher. A nil compressor uses the default schedule.
func NewSketcher(detector EdgeDetector, compressor *Compressor, store ArtifactStore, logger *slog.Logger) *Sketcher {
	if compressor == nil {
		compressor = NewCompressor()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sketcher{
		detector:   detector,
		compressor: compressor,
		store:      store,
		now:        time.Now,
		logger:     logger,
	}
}

// Generate renders, compresses and stores a sketch of frame.
func (s *Sketcher) Generate(ctx context.Context, frame image.Image) (*Artifact, error) {
	edges, err := s.detector.Edges(frame)
	if err != nil {
		return nil, fmt.Errorf("edge detection: %w", err)
	}

	res, err := s.compressor.Compress(ctx, edges)
	if err != nil {
		return nil, err
	}
	if budget := s.compressor.Budget(); len(res.Data) > budget {
		return nil, fmt.Errorf("%w: encoded %d bytes over %d byte budget", ErrCompressionUnbounded, len(res.Data), budget)
	}

	name := ArtifactName(s.now())
	url, err := s.store.Put(ctx, name, res.Data)
	if err != nil {
		return nil, fmt.Errorf("storing sketch: %w", err)
	}

	s.logger.Debug("sketch stored",
		"name", name, "bytes", len(res.Data), "quality", res.Quality, "scale", res.Scale, "attempts", res.Attempts)

	return &Artifact{
		Name:     name,
		URL:      url,
		Size:     len(res.Data),
		Quality:  res.Quality,
		Scale:    res.Scale,
		Attempts: res.Attempts,
	}, nil
}
