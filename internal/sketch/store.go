package sketch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

var ErrInvalidArtifactName = errors.New("invalid artifact name")

// ArtifactStore persists sketches and prunes them by a retention policy.
type ArtifactStore interface {
	// Put stores data under name and returns the URL it is served at.
	Put(ctx context.Context, name string, data []byte) (string, error)
	// Prune removes artifacts the retention policy no longer keeps and
	// returns how many were removed.
	Prune(ctx context.Context, now time.Time) (int, error)
}

// RetentionPolicy bounds the sketch collection. Zero values disable a limit.
type RetentionPolicy struct {
	MaxAge   time.Duration
	MaxCount int
}

type storedObject struct {
	name    string
	modTime time.Time
}

// expired returns the names to delete: anything older than MaxAge, plus
// everything beyond the MaxCount newest objects.
func (p RetentionPolicy) expired(objects []storedObject, now time.Time) []string {
	sorted := slices.Clone(objects)
	slices.SortFunc(sorted, func(a, b storedObject) int {
		if c := b.modTime.Compare(a.modTime); c != 0 {
			return c
		}
		return strings.Compare(b.name, a.name)
	})

	var names []string
	for i, obj := range sorted {
		tooOld := p.MaxAge > 0 && now.Sub(obj.modTime) > p.MaxAge
		tooMany := p.MaxCount > 0 && i >= p.MaxCount
		if tooOld || tooMany {
			names = append(names, obj.name)
		}
	}
	return names
}

func isArtifactName(name string) bool {
	return strings.HasPrefix(name, "sketch_") && strings.HasSuffix(name, ".jpg")
}

func validateArtifactName(name string) error {
	if name == "" || filepath.Base(name) != name || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidArtifactName, name)
	}
	return nil
}

// LocalStore keeps sketches in a directory served over HTTP.
type LocalStore struct {
	dir       string
	urlPrefix string
	policy    RetentionPolicy
}

// NewLocalStore creates the directory if needed.
func NewLocalStore(dir, urlPrefix string, policy RetentionPolicy) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating sketch directory: %w", err)
	}
	if !strings.HasSuffix(urlPrefix, "/") {
		urlPrefix += "/"
	}
	return &LocalStore{dir: dir, urlPrefix: urlPrefix, policy: policy}, nil
}

// Dir returns the sketch directory.
func (s *LocalStore) Dir() string {
	return s.dir
}

// Put writes the sketch through a temp file and a rename, so readers never
// see a partial file.
func (s *LocalStore) Put(ctx context.Context, name string, data []byte) (string, error) {
	if err := validateArtifactName(name); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-sketch-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing sketch: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing sketch: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		return "", fmt.Errorf("renaming sketch: %w", err)
	}
	return s.urlPrefix + name, nil
}

// Prune deletes sketches outside the retention policy.
func (s *LocalStore) Prune(ctx context.Context, now time.Time) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("reading sketch directory: %w", err)
	}

	var objects []storedObject
	for _, e := range entries {
		if e.IsDir() || !isArtifactName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue // removed concurrently
		}
		objects = append(objects, storedObject{name: e.Name(), modTime: info.ModTime()})
	}

	removed := 0
	for _, name := range s.policy.expired(objects, now) {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("removing %s: %w", name, err)
		}
		removed++
	}
	return removed, nil
}
