// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/facegate/internal/database"
)

// MockIdentityStore is an in-memory implementation of database.IdentityWriter
type MockIdentityStore struct {
	mu     sync.RWMutex
	images map[string]database.CanonicalImage

	// Error injection
	ListError  error
	HasError   error
	CountError error
	SaveError  error

	// SaveCalls counts successful and failed Save invocations
	SaveCalls int

	// AfterSave, if set, runs after every successful Save
	AfterSave func(name string)
}

// NewMockIdentityStore creates a new mock identity store
func NewMockIdentityStore() *MockIdentityStore {
	return &MockIdentityStore{
		images: make(map[string]database.CanonicalImage),
	}
}

// AddImage seeds the store without going through Save
func (m *MockIdentityStore) AddImage(name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images[name] = database.CanonicalImage{Name: name, Data: data, CreatedAt: time.Now()}
}

// Remove deletes an image, like an operator removing a broken file
func (m *MockIdentityStore) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.images, name)
}

// List returns all images ordered by name
func (m *MockIdentityStore) List(ctx context.Context) ([]database.CanonicalImage, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]database.CanonicalImage, 0, len(m.images))
	for _, img := range m.images {
		result = append(result, img)
	}
	slices.SortFunc(result, func(a, b database.CanonicalImage) int {
		return strings.Compare(a.Name, b.Name)
	})
	return result, nil
}

// Has checks if an identity exists
func (m *MockIdentityStore) Has(ctx context.Context, name string) (bool, error) {
	if m.HasError != nil {
		return false, m.HasError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.images[name]
	return ok, nil
}

// Count returns the number of stored identities
func (m *MockIdentityStore) Count(ctx context.Context) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.images), nil
}

// Save stores a new image, rejecting existing names like the real backends
func (m *MockIdentityStore) Save(ctx context.Context, name string, image []byte) error {
	if err := m.save(name, image); err != nil {
		return err
	}
	if m.AfterSave != nil {
		m.AfterSave(name)
	}
	return nil
}

func (m *MockIdentityStore) save(name string, image []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveCalls++

	if m.SaveError != nil {
		return m.SaveError
	}
	if name == "" {
		return fmt.Errorf("%q: %w", name, database.ErrInvalidName)
	}
	if _, ok := m.images[name]; ok {
		return fmt.Errorf("%s: %w", name, database.ErrNameTaken)
	}
	m.images[name] = database.CanonicalImage{Name: name, Data: image, CreatedAt: time.Now()}
	return nil
}

// MockRecognitionLog is an in-memory implementation of database.RecognitionLog
type MockRecognitionLog struct {
	mu      sync.Mutex
	entries []database.RecognitionEntry
	nextID  int64

	// Error injection
	SaveError   error
	RecentError error
}

// NewMockRecognitionLog creates a new mock recognition log
func NewMockRecognitionLog() *MockRecognitionLog {
	return &MockRecognitionLog{}
}

// SaveRecognition appends an entry and assigns it an ID
func (m *MockRecognitionLog) SaveRecognition(ctx context.Context, entry *database.RecognitionEntry) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	entry.ID = m.nextID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	m.entries = append(m.entries, *entry)
	return nil
}

// RecentRecognitions returns up to limit entries, newest first
func (m *MockRecognitionLog) RecentRecognitions(ctx context.Context, limit int) ([]database.RecognitionEntry, error) {
	if m.RecentError != nil {
		return nil, m.RecentError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]database.RecognitionEntry, 0, len(m.entries))
	for i := len(m.entries) - 1; i >= 0 && (limit <= 0 || len(result) < limit); i-- {
		result = append(result, m.entries[i])
	}
	return result, nil
}

// Entries returns a copy of all entries in insertion order
func (m *MockRecognitionLog) Entries() []database.RecognitionEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.entries)
}
