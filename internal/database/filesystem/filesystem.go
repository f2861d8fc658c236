// Package filesystem stores canonical identity images as <name>.jpg files in one directory.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/kozaktomas/facegate/internal/database"
)

// Extension is the file extension of canonical images.
const Extension = ".jpg"

// Store is a directory of canonical images. The file stem is the identity name.
type Store struct {
	root string
}

// New creates the root directory if needed and returns a store over it.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("known faces directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating known faces directory: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the directory the store reads from.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) path(name string) string {
	return filepath.Join(s.root, name+Extension)
}

// names returns the identity names present on disk, sorted.
func (s *Store) names() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("reading known faces directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		fn := e.Name()
		// temp files from an in-flight Save start with a dot
		if e.IsDir() || strings.HasPrefix(fn, ".") || filepath.Ext(fn) != Extension {
			continue
		}
		names = append(names, strings.TrimSuffix(fn, Extension))
	}
	slices.Sort(names)
	return names, nil
}

// List implements database.IdentityReader.
func (s *Store) List(ctx context.Context) ([]database.CanonicalImage, error) {
	names, err := s.names()
	if err != nil {
		return nil, err
	}

	images := make([]database.CanonicalImage, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := s.path(name)
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading canonical image %s: %w", p, err)
		}
		img := database.CanonicalImage{Name: name, Data: data}
		if info, err := os.Stat(p); err == nil {
			img.CreatedAt = info.ModTime()
		}
		images = append(images, img)
	}
	return images, nil
}

// Has implements database.IdentityReader.
func (s *Store) Has(ctx context.Context, name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}
	_, err := os.Stat(s.path(name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("checking canonical image: %w", err)
}

// Count implements database.IdentityReader.
func (s *Store) Count(ctx context.Context) (int, error) {
	names, err := s.names()
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

// Save implements database.IdentityWriter. The image is written to a temp
// file and hard-linked into place, so the final name either does not exist or
// holds the complete image, and an existing name is never overwritten.
func (s *Store) Save(ctx context.Context, name string, image []byte) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.root, ".tmp-*"+Extension)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(image); err != nil {
		tmp.Close()
		return fmt.Errorf("writing canonical image: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing canonical image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing canonical image: %w", err)
	}

	if err := os.Link(tmpPath, s.path(name)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%s: %w", name, database.ErrNameTaken)
		}
		return fmt.Errorf("storing canonical image: %w", err)
	}
	return nil
}

func validateName(name string) error {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%q: %w", name, database.ErrInvalidName)
	}
	return nil
}
