package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kozaktomas/facegate/internal/config"
	"github.com/kozaktomas/facegate/internal/database"
	"github.com/kozaktomas/facegate/internal/database/filesystem"
	"github.com/kozaktomas/facegate/internal/database/sqlstore"
	"github.com/kozaktomas/facegate/internal/descriptor"
	"github.com/kozaktomas/facegate/internal/descriptor/dlib"
	"github.com/kozaktomas/facegate/internal/facematch"
	"github.com/kozaktomas/facegate/internal/liveness"
	"github.com/kozaktomas/facegate/internal/registry"
	"github.com/kozaktomas/facegate/internal/sketch"
	"github.com/kozaktomas/facegate/internal/vision"
	"github.com/kozaktomas/facegate/internal/workflow"
)

// stack is the set of components a command runs against.
type stack struct {
	cfg          *config.Config
	store        database.IdentityWriter
	recognitions database.RecognitionLog // nil for the dir backend
	extractor    descriptor.Extractor
	registry     *registry.Registry
	matcher      *facematch.Matcher

	closers []func() error
}

// Close releases native and network resources in reverse order.
func (s *stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// newStack opens the identity store and the descriptor extractor and builds
// an empty registry on top of them.
func newStack(ctx context.Context, cfg *config.Config) (*stack, error) {
	s := &stack{cfg: cfg}

	switch cfg.Registry.Backend {
	case "sql":
		fmt.Printf("Connecting to %s database...\n", cfg.Database.Driver)
		store, err := sqlstore.Open(ctx, &cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize %s: %w", cfg.Database.Driver, err)
		}
		s.store = store
		s.recognitions = store
		s.closers = append(s.closers, store.Close)
	default:
		store, err := filesystem.New(cfg.Registry.KnownFacesDir)
		if err != nil {
			return nil, err
		}
		s.store = store
	}

	switch cfg.Extractor.Backend {
	case "dlib":
		ext, err := dlib.New(cfg.Extractor.ModelsDir)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.extractor = ext
		s.closers = append(s.closers, func() error { ext.Close(); return nil })
	default:
		s.extractor = descriptor.NewHTTPExtractor(cfg.Extractor.URL)
	}

	s.matcher = facematch.NewMatcher(cfg.Matcher.Threshold, facematch.ParsePolicy(cfg.Matcher.Policy))
	s.registry = registry.New(s.store, s.extractor,
		registry.WithIndexThreshold(cfg.Matcher.IndexThreshold),
		registry.WithLogger(slog.Default().With("component", "registry")),
	)
	return s, nil
}

// newArtifactStore builds the configured sketch store. The returned directory
// is empty unless sketches are served from the local filesystem.
func newArtifactStore(ctx context.Context, cfg *config.Config) (sketch.ArtifactStore, string, error) {
	policy := sketch.RetentionPolicy{MaxAge: cfg.Sketch.MaxAge, MaxCount: cfg.Sketch.MaxCount}
	if cfg.Sketch.Store == "s3" {
		store, err := sketch.NewS3Store(ctx, cfg.S3, policy)
		if err != nil {
			return nil, "", err
		}
		return store, "", nil
	}
	store, err := sketch.NewLocalStore(cfg.Sketch.Dir, cfg.Sketch.URLPrefix, policy)
	if err != nil {
		return nil, "", err
	}
	return store, store.Dir(), nil
}

// newCompressor maps the sketch config onto a compressor.
func newCompressor(cfg config.SketchConfig) *sketch.Compressor {
	return &sketch.Compressor{
		MaxBytes:       cfg.MaxBytes,
		InitialQuality: cfg.InitialQuality,
		QualityFloor:   cfg.QualityFloor,
		QualityStep:    cfg.QualityStep,
		ScaleStep:      cfg.ScaleStep,
		MaxAttempts:    cfg.MaxAttempts,
		Deadline:       cfg.Deadline,
	}
}

// service wires the liveness gate and the sketcher into a workflow service.
// It returns the artifact store so the caller can schedule pruning.
func (s *stack) service(ctx context.Context) (*workflow.Service, sketch.ArtifactStore, string, error) {
	cfg := s.cfg

	cascade, err := vision.NewEyeCascade(cfg.Liveness.CascadePath)
	if err != nil {
		return nil, nil, "", err
	}
	s.closers = append(s.closers, cascade.Close)

	gate := liveness.NewGate(cascade, liveness.CascadeParams{
		ScaleFactor:  cfg.Liveness.ScaleFactor,
		MinNeighbors: cfg.Liveness.MinNeighbors,
		MinSize:      cfg.Liveness.MinSize,
	})

	artifacts, sketchDir, err := newArtifactStore(ctx, cfg)
	if err != nil {
		return nil, nil, "", err
	}
	sketcher := sketch.NewSketcher(vision.NewCannyEdges(), newCompressor(cfg.Sketch), artifacts,
		slog.Default().With("component", "sketch"))

	opts := []workflow.Option{
		workflow.WithRejectMultipleFaces(cfg.Enroll.RejectMultipleFaces),
		workflow.WithLogger(slog.Default().With("component", "workflow")),
	}
	if s.recognitions != nil {
		opts = append(opts, workflow.WithRecognitionLog(s.recognitions))
	}

	svc := workflow.New(s.registry, s.matcher, gate, s.extractor, sketcher, opts...)
	return svc, artifacts, sketchDir, nil
}

// enrollmentService is a workflow service without liveness gate or sketcher,
// for commands that only enroll.
func (s *stack) enrollmentService() *workflow.Service {
	return workflow.New(s.registry, s.matcher, nil, s.extractor, nil,
		workflow.WithRejectMultipleFaces(s.cfg.Enroll.RejectMultipleFaces),
		workflow.WithLogger(slog.Default().With("component", "workflow")),
	)
}

// describeBootstrapError turns a registry load failure into operator advice.
func describeBootstrapError(cfg *config.Config, err error) error {
	var be *registry.BootstrapError
	if !errors.As(err, &be) {
		return fmt.Errorf("loading face registry: %w", err)
	}
	where := fmt.Sprintf("identity %q", be.Name)
	if cfg.Registry.Backend == "dir" {
		where = fmt.Sprintf("%s/%s%s", cfg.Registry.KnownFacesDir, be.Name, filesystem.Extension)
	}
	return fmt.Errorf("loading face registry: %w\nremove or replace %s and restart (run 'facegate verify' to list every broken entry)", err, where)
}
