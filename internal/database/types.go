package database

import (
	"errors"
	"time"
)

var (
	// ErrNameTaken is returned when saving an identity whose name already exists
	ErrNameTaken = errors.New("identity name already taken")
	// ErrInvalidName is returned for names that cannot be used as a storage key
	ErrInvalidName = errors.New("invalid identity name")
)

// CanonicalImage is the single reference photo stored per identity
type CanonicalImage struct {
	Name      string
	Data      []byte
	CreatedAt time.Time
}

// RecognitionEntry is one resolved face from a recognition request
type RecognitionEntry struct {
	ID         int64
	Name       string // matched identity or the unknown sentinel
	Matched    bool
	Distance   float64 // distance to the matched identity, zero when unmatched
	Top        int
	Right      int
	Bottom     int
	Left       int
	Descriptor []float32
	SketchURL  string
	CreatedAt  time.Time
}
