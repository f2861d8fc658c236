// Package registry owns the in-memory set of enrolled identities.
//
// The registry is rebuilt wholesale from an identity store by Reload and
// published as an immutable Snapshot through an atomic pointer, so readers
// never see a partially built registry. Reloads are serialized. Persist only
// writes to the store; callers reload afterwards to make the identity visible.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/kozaktomas/facegate/internal/constants"
	"github.com/kozaktomas/facegate/internal/database"
	"github.com/kozaktomas/facegate/internal/descriptor"
	"github.com/kozaktomas/facegate/internal/facematch"
)

var (
	// ErrBootstrap is wrapped by every reload failure caused by a canonical image.
	ErrBootstrap = errors.New("registry bootstrap failure")
	// ErrNoDescriptor means the extractor found no face in a canonical image.
	ErrNoDescriptor = errors.New("no face found in canonical image")
	// ErrInvalidName is returned by Persist when a name sanitizes to nothing.
	ErrInvalidName = errors.New("identity name is empty after sanitization")
)

// BootstrapError names the canonical image that failed descriptor extraction.
type BootstrapError struct {
	Name string
	Err  error
}

func (e *BootstrapError) Error() string {
	return fmt.Sprintf("registry bootstrap failed at %q: %v", e.Name, e.Err)
}

// Unwrap exposes both ErrBootstrap and the underlying cause to errors.Is.
func (e *BootstrapError) Unwrap() []error {
	return []error{ErrBootstrap, e.Err}
}

// Registry holds the current snapshot of enrolled identities.
type Registry struct {
	store          database.IdentityWriter
	extractor      descriptor.Extractor
	indexThreshold int
	concurrency    int
	logger         *slog.Logger

	current    atomic.Pointer[Snapshot]
	reloadMu   sync.Mutex
	generation uint64 // guarded by reloadMu
}

// Option configures a Registry.
type Option func(*Registry)

// WithIndexThreshold sets the snapshot size from which an HNSW index is built.
// Zero disables the index.
func WithIndexThreshold(n int) Option {
	return func(r *Registry) { r.indexThreshold = n }
}

// WithConcurrency sets how many canonical images are processed in parallel during reload.
func WithConcurrency(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New creates a registry with an empty snapshot. Call Reload to load the store.
func New(store database.IdentityWriter, extractor descriptor.Extractor, opts ...Option) *Registry {
	r := &Registry{
		store:          store,
		extractor:      extractor,
		indexThreshold: constants.DefaultIndexThreshold,
		concurrency:    4,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.current.Store(newSnapshot(nil, 0, 0))
	return r
}

// All returns the current snapshot. It never returns nil.
func (r *Registry) All() *Snapshot {
	return r.current.Load()
}

// Len returns the number of identities in the current snapshot.
func (r *Registry) Len() int {
	return r.All().Len()
}

// Generation returns the generation of the current snapshot.
func (r *Registry) Generation() uint64 {
	return r.All().Generation()
}

// extraction is the outcome of processing one canonical image.
type extraction struct {
	identity facematch.Identity
	err      error
}

// extractAll computes one descriptor per canonical image, preserving order.
func (r *Registry) extractAll(ctx context.Context, images []database.CanonicalImage) []extraction {
	results := make([]extraction, len(images))
	sem := make(chan struct{}, r.concurrency)
	var wg sync.WaitGroup

	for i := range images {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = r.extractOne(ctx, images[i])
		}(i)
	}
	wg.Wait()
	return results
}

// extractOne returns context errors as they are; they say nothing about the image.
func (r *Registry) extractOne(ctx context.Context, img database.CanonicalImage) extraction {
	if err := ctx.Err(); err != nil {
		return extraction{err: err}
	}
	faces, err := r.extractor.Extract(ctx, img.Data)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return extraction{err: ctxErr}
		}
		return extraction{err: &BootstrapError{Name: img.Name, Err: err}}
	}
	if len(faces) == 0 {
		return extraction{err: &BootstrapError{Name: img.Name, Err: ErrNoDescriptor}}
	}
	if len(faces) > 1 {
		r.logger.Warn("canonical image has several faces, using the first",
			"name", img.Name, "faces", len(faces))
	}
	return extraction{identity: facematch.Identity{Name: img.Name, Descriptor: faces[0].Descriptor}}
}

// Reload rebuilds the snapshot from the store and swaps it in. If any
// canonical image fails extraction the whole reload fails with a
// *BootstrapError and the previous snapshot stays in place. A cancelled ctx
// aborts the reload with the context error.
func (r *Registry) Reload(ctx context.Context) error {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	images, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("listing canonical images: %w", err)
	}

	results := r.extractAll(ctx, images)

	ids := make([]facematch.Identity, 0, len(results))
	for _, res := range results {
		if res.err != nil {
			return res.err
		}
		ids = append(ids, res.identity)
	}

	r.generation++
	snap := newSnapshot(ids, r.generation, r.indexThreshold)
	r.current.Store(snap)

	r.logger.Info("registry reloaded",
		"identities", snap.Len(), "generation", snap.Generation(), "indexed", snap.Indexed())
	return nil
}

// Verify extracts every canonical image like Reload but reports all failures
// instead of stopping at the first, and never touches the snapshot. progress,
// if set, is called once per image.
func (r *Registry) Verify(ctx context.Context, progress func(name string, err error)) ([]*BootstrapError, error) {
	images, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing canonical images: %w", err)
	}

	var failures []*BootstrapError
	for _, img := range images {
		res := r.extractOne(ctx, img)
		if progress != nil {
			progress(img.Name, res.err)
		}
		var be *BootstrapError
		switch {
		case errors.As(res.err, &be):
			failures = append(failures, be)
		case res.err != nil:
			return failures, res.err
		}
	}
	return failures, nil
}

// Count returns the number of canonical images in the store, which may be
// ahead of the snapshot between a Persist and the following Reload.
func (r *Registry) Count(ctx context.Context) (int, error) {
	return r.store.Count(ctx)
}

// Persist stores a canonical image under the sanitized name and returns that
// name. It does not update the snapshot.
func (r *Registry) Persist(ctx context.Context, name string, image []byte) (string, error) {
	clean := facematch.SanitizeName(name)
	if clean == "" {
		return "", ErrInvalidName
	}
	if err := r.store.Save(ctx, clean, image); err != nil {
		return clean, fmt.Errorf("persisting identity: %w", err)
	}
	return clean, nil
}
