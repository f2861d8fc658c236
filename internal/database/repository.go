package database

import (
	"context"
)

// IdentityReader provides read-only access to canonical identity images
type IdentityReader interface {
	// List returns every canonical image ordered by name
	List(ctx context.Context) ([]CanonicalImage, error)
	// Has checks if an identity with the given name is stored
	Has(ctx context.Context, name string) (bool, error)
	// Count returns the number of stored identities
	Count(ctx context.Context) (int, error)
}

// IdentityWriter provides write access to canonical identity images
type IdentityWriter interface {
	IdentityReader

	// Save stores a new canonical image under name. The write is all-or-nothing:
	// readers never observe a partially written image. Returns ErrNameTaken if
	// the name is already stored; existing images are never replaced.
	Save(ctx context.Context, name string, image []byte) error
}

// RecognitionWriter appends entries to the recognition audit log
type RecognitionWriter interface {
	SaveRecognition(ctx context.Context, entry *RecognitionEntry) error
}

// RecognitionReader reads the recognition audit log
type RecognitionReader interface {
	// RecentRecognitions returns up to limit entries, newest first
	RecentRecognitions(ctx context.Context, limit int) ([]RecognitionEntry, error)
}

// RecognitionLog is the full audit log interface
type RecognitionLog interface {
	RecognitionWriter
	RecognitionReader
}
