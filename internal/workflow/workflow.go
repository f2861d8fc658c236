// Package workflow runs the enrollment and recognition flows on top of the
// registry, the liveness gate, the matcher and the sketcher.
package workflow

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/facegate/internal/constants"
	"github.com/kozaktomas/facegate/internal/database"
	"github.com/kozaktomas/facegate/internal/descriptor"
	"github.com/kozaktomas/facegate/internal/facematch"
	"github.com/kozaktomas/facegate/internal/imaging"
	"github.com/kozaktomas/facegate/internal/registry"
	"github.com/kozaktomas/facegate/internal/sketch"
)

// LivenessChecker decides whether a frame shows a live subject.
type LivenessChecker interface {
	IsLive(frame image.Image) (bool, error)
}

// SketchGenerator renders and stores a sketch of a frame.
type SketchGenerator interface {
	Generate(ctx context.Context, frame image.Image) (*sketch.Artifact, error)
}

// EnrollRequest is the input of Enroll. Image holds encoded image bytes.
type EnrollRequest struct {
	Name  string
	Image []byte
}

// EnrollResult describes a persisted identity.
type EnrollResult struct {
	Name       string `json:"name"`
	Faces      int    `json:"faces"`
	Generation uint64 `json:"generation"`
}

// RecognizedFace is one face of a recognition frame.
type RecognizedFace struct {
	Name     string         `json:"name"`
	Location descriptor.Box `json:"location"`
	Distance float64        `json:"distance,omitempty"`
}

// RecognitionResult lists the faces of a frame in detection order.
type RecognitionResult struct {
	Faces       []RecognizedFace `json:"faces"`
	SketchURL   string           `json:"sketch_url,omitempty"`
	SketchError string           `json:"sketch_error,omitempty"`
}

// Service runs enrollments and recognitions.
type Service struct {
	registry     *registry.Registry
	matcher      *facematch.Matcher
	gate         LivenessChecker
	extractor    descriptor.Extractor
	sketcher     SketchGenerator
	recognitions database.RecognitionWriter

	rejectMultipleFaces bool
	logger              *slog.Logger

	// enrollMu makes duplicate check, persist and reload one step.
	enrollMu sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithRecognitionLog records every recognized face.
func WithRecognitionLog(w database.RecognitionWriter) Option {
	return func(s *Service) { s.recognitions = w }
}

// WithRejectMultipleFaces makes Enroll fail on images with more than one face
// instead of using the first one.
func WithRejectMultipleFaces(reject bool) Option {
	return func(s *Service) { s.rejectMultipleFaces = reject }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a service. sketcher may be nil, in which case recognitions
// carry no sketch.
func New(reg *registry.Registry, matcher *facematch.Matcher, gate LivenessChecker,
	extractor descriptor.Extractor, sketcher SketchGenerator, opts ...Option) *Service {
	s := &Service{
		registry:  reg,
		matcher:   matcher,
		gate:      gate,
		extractor: extractor,
		sketcher:  sketcher,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the registry the service enrolls into.
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// Enroll registers a new identity. The registry has been reloaded when Enroll
// returns successfully, so a following Recognize sees the new identity.
func (s *Service) Enroll(ctx context.Context, req EnrollRequest) (*EnrollResult, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ErrMissingName
	}
	if strings.EqualFold(facematch.SanitizeName(name), constants.UnknownName) {
		return nil, fmt.Errorf("%w: %q is reserved", registry.ErrInvalidName, name)
	}

	img, _, err := imaging.Decode(req.Image)
	if err != nil {
		return nil, err
	}
	canonical, err := imaging.EncodeJPEG(img, constants.CanonicalImageQuality)
	if err != nil {
		return nil, fmt.Errorf("encoding canonical image: %w", err)
	}

	// extract from the canonical encoding so the descriptor matches what reload computes
	faces, err := s.extractor.Extract(ctx, canonical)
	if err != nil {
		return nil, fmt.Errorf("extracting descriptors: %w", err)
	}
	switch {
	case len(faces) == 0:
		return nil, ErrNoFaceInUpload
	case len(faces) > 1 && s.rejectMultipleFaces:
		return nil, fmt.Errorf("%w: found %d", ErrMultipleFaces, len(faces))
	case len(faces) > 1:
		s.logger.Warn("enrollment image has several faces, using the first", "name", name, "faces", len(faces))
	}
	query := faces[0].Descriptor

	s.enrollMu.Lock()
	defer s.enrollMu.Unlock()

	if id, dist, ok := s.matcher.Match(query, s.registry.All()); ok {
		s.logger.Info("enrollment rejected as duplicate", "name", name, "matches", id.Name, "distance", dist)
		return nil, fmt.Errorf("%w: matches %q", ErrDuplicateIdentity, id.Name)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// once the image is saved the reload must finish, or the store and the
	// snapshot disagree until the next restart
	commitCtx := context.WithoutCancel(ctx)
	stored, err := s.registry.Persist(commitCtx, name, canonical)
	if err != nil {
		return nil, err
	}
	if err := s.registry.Reload(commitCtx); err != nil {
		return nil, fmt.Errorf("reloading registry after enrolling %q: %w", stored, err)
	}

	s.logger.Info("identity enrolled", "name", stored, "generation", s.registry.Generation())
	return &EnrollResult{Name: stored, Faces: len(faces), Generation: s.registry.Generation()}, nil
}

// Recognize resolves every face of a live frame against the registry and
// stores a sketch of the frame. A sketch failure does not fail the call; it is
// reported in SketchError.
func (s *Service) Recognize(ctx context.Context, data []byte) (*RecognitionResult, error) {
	if s.gate == nil {
		return nil, errNoGate
	}
	img, _, err := imaging.Decode(data)
	if err != nil {
		return nil, err
	}

	live, err := s.gate.IsLive(img)
	if err != nil {
		return nil, fmt.Errorf("liveness check: %w", err)
	}
	if !live {
		return nil, ErrLivenessRejected
	}

	faces, err := s.extractor.Extract(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("extracting descriptors: %w", err)
	}
	if len(faces) == 0 {
		return nil, ErrNoFaceDetected
	}

	snap := s.registry.All()
	result := &RecognitionResult{Faces: make([]RecognizedFace, 0, len(faces))}
	matched := make([]bool, len(faces))
	for i, f := range faces {
		face := RecognizedFace{Name: constants.UnknownName, Location: f.Box}
		if id, dist, ok := s.matcher.Match(f.Descriptor, snap); ok {
			face.Name = id.Name
			face.Distance = dist
			matched[i] = true
		}
		result.Faces = append(result.Faces, face)
	}

	if s.sketcher != nil {
		art, err := s.sketcher.Generate(ctx, img)
		if err != nil {
			result.SketchError = ErrorKind(err)
			s.logger.Warn("sketch generation failed", "kind", result.SketchError, "error", err)
		} else {
			result.SketchURL = art.URL
		}
	}

	s.record(ctx, faces, matched, result)
	return result, nil
}

// record appends the recognized faces to the recognition log. Failures are
// logged and otherwise ignored.
func (s *Service) record(ctx context.Context, faces []descriptor.Face, matched []bool, result *RecognitionResult) {
	if s.recognitions == nil {
		return
	}
	now := time.Now()
	for i, f := range result.Faces {
		entry := &database.RecognitionEntry{
			Name:       f.Name,
			Matched:    matched[i],
			Distance:   f.Distance,
			Top:        f.Location.Top,
			Right:      f.Location.Right,
			Bottom:     f.Location.Bottom,
			Left:       f.Location.Left,
			Descriptor: faces[i].Descriptor,
			SketchURL:  result.SketchURL,
			CreatedAt:  now,
		}
		if err := s.recognitions.SaveRecognition(ctx, entry); err != nil {
			s.logger.Warn("failed to record recognition", "name", f.Name, "error", err)
		}
	}
}
