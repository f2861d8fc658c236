// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Face matching constants
const (
	// DefaultMatchThreshold is the maximum Euclidean distance at which two
	// 128-d face descriptors are considered the same person.
	DefaultMatchThreshold = 0.6

	// DefaultIndexThreshold is the registry size above which the snapshot builds
	// an HNSW index for closest-match lookups. Smaller registries are scanned linearly.
	DefaultIndexThreshold = 256

	// HNSWMaxNeighbors is the M parameter of the snapshot HNSW graph.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search breadth used by the snapshot HNSW graph.
	HNSWEfSearch = 64

	// UnknownName is reported for faces that match no enrolled identity.
	UnknownName = "Unknown"
)

// Liveness constants
const (
	// DefaultEyeScaleFactor is the cascade pyramid scale step.
	DefaultEyeScaleFactor = 1.1

	// DefaultEyeMinNeighbors is the number of overlapping detections required for an eye.
	DefaultEyeMinNeighbors = 5

	// DefaultEyeMinSize is the minimum eye region side in pixels.
	DefaultEyeMinSize = 30
)

// Sketch constants
const (
	// DefaultSketchMaxBytes is the hard ceiling for an encoded sketch (10 KB).
	DefaultSketchMaxBytes = 10 * 1024

	// DefaultSketchQuality is the JPEG quality of the first encoding attempt.
	DefaultSketchQuality = 90

	// DefaultSketchQualityFloor is the lowest quality tried before downscaling.
	DefaultSketchQualityFloor = 10

	// DefaultSketchQualityStep is subtracted from the quality after each oversized attempt.
	DefaultSketchQualityStep = 10

	// DefaultSketchScaleStep multiplies the scale once quality reaches its floor.
	DefaultSketchScaleStep = 0.9

	// DefaultSketchMaxAttempts caps the compression loop.
	DefaultSketchMaxAttempts = 64

	// SketchURLPrefix is the URL path under which local sketches are served.
	SketchURLPrefix = "/static/sketches/"

	// CanonicalImageQuality is the JPEG quality of stored enrollment images.
	CanonicalImageQuality = 95
)
