package sketch

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/facegate/internal/config"
)

type fakeEdges struct {
	img *image.Gray
	err error
}

func (f *fakeEdges) Edges(frame image.Image) (*image.Gray, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.img != nil {
		return f.img, nil
	}
	b := frame.Bounds()
	return image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy())), nil
}

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	pruned  int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: make(map[string][]byte)}
}

func (m *memoryStore) Put(ctx context.Context, name string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return "", m.putErr
	}
	m.objects[name] = data
	return "/static/sketches/" + name, nil
}

func (m *memoryStore) Prune(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruned++
	return 0, nil
}

func (m *memoryStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

var artifactNameRe = regexp.MustCompile(`^sketch_\d{14}_[0-9a-f]{8}\.jpg$`)

func TestArtifactName(t *testing.T) {
	ts := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	a, b := ArtifactName(ts), ArtifactName(ts)

	if !artifactNameRe.MatchString(a) {
		t.Errorf("unexpected name %q", a)
	}
	if a[:22] != "sketch_20260314150926_" {
		t.Errorf("timestamp not encoded: %q", a)
	}
	if a == b {
		t.Error("names generated in the same second must differ")
	}
}

func TestSketcher_Generate(t *testing.T) {
	store := newMemoryStore()
	s := NewSketcher(&fakeEdges{img: noise(640, 480, 9)}, NewCompressor(), store, nil)

	art, err := s.Generate(context.Background(), image.NewRGBA(image.Rect(0, 0, 640, 480)))
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !artifactNameRe.MatchString(art.Name) {
		t.Errorf("unexpected artifact name %q", art.Name)
	}
	if art.URL != "/static/sketches/"+art.Name {
		t.Errorf("unexpected URL %q", art.URL)
	}
	if art.Size > 10*1024 || art.Size != len(store.objects[art.Name]) {
		t.Errorf("artifact size %d does not match stored object", art.Size)
	}
}

func TestSketcher_Errors(t *testing.T) {
	boom := errors.New("opencv unavailable")
	frame := image.NewRGBA(image.Rect(0, 0, 50, 50))

	t.Run("edge detection", func(t *testing.T) {
		store := newMemoryStore()
		s := NewSketcher(&fakeEdges{err: boom}, nil, store, nil)
		if _, err := s.Generate(context.Background(), frame); !errors.Is(err, boom) {
			t.Errorf("expected detector error, got %v", err)
		}
		if store.count() != 0 {
			t.Error("nothing should be stored")
		}
	})

	t.Run("unbounded", func(t *testing.T) {
		store := newMemoryStore()
		s := NewSketcher(&fakeEdges{}, &Compressor{MaxBytes: 64, MaxAttempts: 3}, store, nil)
		if _, err := s.Generate(context.Background(), frame); !errors.Is(err, ErrCompressionUnbounded) {
			t.Errorf("expected ErrCompressionUnbounded, got %v", err)
		}
		if store.count() != 0 {
			t.Error("nothing should be stored")
		}
	})

	t.Run("store", func(t *testing.T) {
		store := newMemoryStore()
		store.putErr = boom
		s := NewSketcher(&fakeEdges{}, nil, store, nil)
		if _, err := s.Generate(context.Background(), frame); !errors.Is(err, boom) {
			t.Errorf("expected store error, got %v", err)
		}
	})
}

func TestLocalStore_Put(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sketches")
	store, err := NewLocalStore(dir, "/static/sketches", RetentionPolicy{})
	if err != nil {
		t.Fatal(err)
	}

	url, err := store.Put(context.Background(), "sketch_20260101000000_abcdef01.jpg", []byte("jpeg"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if url != "/static/sketches/sketch_20260101000000_abcdef01.jpg" {
		t.Errorf("unexpected URL %q", url)
	}

	data, err := os.ReadFile(filepath.Join(dir, "sketch_20260101000000_abcdef01.jpg"))
	if err != nil || string(data) != "jpeg" {
		t.Errorf("stored file mismatch: %q, %v", data, err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %d entries", len(entries))
	}

	for _, bad := range []string{"", "../escape.jpg", "a/b.jpg", ".hidden.jpg"} {
		if _, err := store.Put(context.Background(), bad, nil); !errors.Is(err, ErrInvalidArtifactName) {
			t.Errorf("Put(%q): expected ErrInvalidArtifactName, got %v", bad, err)
		}
	}
}

func TestLocalStore_Prune(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		policy   RetentionPolicy
		expected []string // remaining files
	}{
		{"no limits", RetentionPolicy{}, []string{"sketch_a.jpg", "sketch_b.jpg", "sketch_c.jpg", "sketch_d.jpg"}},
		{"max age", RetentionPolicy{MaxAge: 90 * time.Minute}, []string{"sketch_c.jpg", "sketch_d.jpg"}},
		{"max count", RetentionPolicy{MaxCount: 3}, []string{"sketch_b.jpg", "sketch_c.jpg", "sketch_d.jpg"}},
		{"both", RetentionPolicy{MaxAge: 150 * time.Minute, MaxCount: 1}, []string{"sketch_d.jpg"}},
	}

	ages := map[string]time.Duration{
		"sketch_a.jpg": 3 * time.Hour,
		"sketch_b.jpg": 2 * time.Hour,
		"sketch_c.jpg": time.Hour,
		"sketch_d.jpg": time.Minute,
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, age := range ages {
				path := filepath.Join(dir, name)
				if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
					t.Fatal(err)
				}
				mod := now.Add(-age)
				if err := os.Chtimes(path, mod, mod); err != nil {
					t.Fatal(err)
				}
			}
			// foreign files are never touched
			if err := os.WriteFile(filepath.Join(dir, "README"), []byte("x"), 0o644); err != nil {
				t.Fatal(err)
			}

			store, err := NewLocalStore(dir, "/s/", tt.policy)
			if err != nil {
				t.Fatal(err)
			}
			removed, err := store.Prune(context.Background(), now)
			if err != nil {
				t.Fatalf("Prune failed: %v", err)
			}
			if removed != len(ages)-len(tt.expected) {
				t.Errorf("removed %d, want %d", removed, len(ages)-len(tt.expected))
			}

			for _, name := range tt.expected {
				if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
					t.Errorf("%s should remain: %v", name, err)
				}
			}
			if _, err := os.Stat(filepath.Join(dir, "README")); err != nil {
				t.Error("foreign file was removed")
			}
		})
	}
}

func TestJanitor_PrunesUntilStopped(t *testing.T) {
	store := newMemoryStore()
	j := NewJanitor(store, 5*time.Millisecond, nil)
	j.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for {
		store.mu.Lock()
		n := store.pruned
		store.mu.Unlock()
		if n >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("janitor pruned only %d times", n)
		}
		time.Sleep(time.Millisecond)
	}

	j.Stop()
	j.Stop() // idempotent

	store.mu.Lock()
	after := store.pruned
	store.mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.pruned != after {
		t.Error("janitor kept pruning after Stop")
	}
}

func TestObjectBaseURL(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.S3Config
		expected string
	}{
		{"endpoint http", config.S3Config{Endpoint: "minio:9000", Bucket: "sketches"}, "http://minio:9000/sketches/"},
		{"endpoint https", config.S3Config{Endpoint: "s3.example.com", Bucket: "b", UseSSL: true}, "https://s3.example.com/b/"},
		{"public url", config.S3Config{Endpoint: "minio:9000", Bucket: "b", PublicURL: "https://cdn.example.com/sk"}, "https://cdn.example.com/sk/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := objectBaseURL(tt.cfg); got != tt.expected {
				t.Errorf("objectBaseURL() = %q, want %q", got, tt.expected)
			}
		})
	}
}
