package workflow

import (
	"errors"
	"fmt"

	"github.com/kozaktomas/facegate/internal/database"
	"github.com/kozaktomas/facegate/internal/imaging"
	"github.com/kozaktomas/facegate/internal/registry"
	"github.com/kozaktomas/facegate/internal/sketch"
)

var (
	ErrMissingName       = errors.New("name is required")
	ErrNoFaceDetected    = errors.New("no face detected")
	ErrDuplicateIdentity = errors.New("face already registered")
	ErrLivenessRejected  = errors.New("live face not detected")
	ErrMultipleFaces     = errors.New("more than one face detected")

	// ErrNoFaceInUpload is the enrollment flavour of ErrNoFaceDetected.
	ErrNoFaceInUpload = fmt.Errorf("%w in the uploaded image", ErrNoFaceDetected)

	errNoGate = errors.New("recognition needs a liveness gate")
)

// Error kinds reported to clients.
const (
	KindMissingName          = "missing_name"
	KindNoFaceDetected       = "no_face_detected"
	KindDuplicateIdentity    = "duplicate_identity"
	KindLivenessRejected     = "liveness_rejected"
	KindCompressionUnbounded = "compression_unbounded"
	KindBootstrapFailure     = "registry_bootstrap_failure"
	KindInvalidImage         = "invalid_image"
	KindInvalidName          = "invalid_name"
	KindMultipleFaces        = "multiple_faces"
	KindNameTaken            = "name_taken"
	KindInternal             = "internal"
)

// ErrorKind maps an error returned by the service to a stable kind string.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingName):
		return KindMissingName
	case errors.Is(err, ErrNoFaceDetected):
		return KindNoFaceDetected
	case errors.Is(err, ErrDuplicateIdentity):
		return KindDuplicateIdentity
	case errors.Is(err, ErrLivenessRejected):
		return KindLivenessRejected
	case errors.Is(err, ErrMultipleFaces):
		return KindMultipleFaces
	case errors.Is(err, sketch.ErrCompressionUnbounded):
		return KindCompressionUnbounded
	case errors.Is(err, registry.ErrBootstrap):
		return KindBootstrapFailure
	case errors.Is(err, imaging.ErrInvalidImage):
		return KindInvalidImage
	case errors.Is(err, database.ErrNameTaken):
		return KindNameTaken
	case errors.Is(err, registry.ErrInvalidName), errors.Is(err, database.ErrInvalidName):
		return KindInvalidName
	default:
		return KindInternal
	}
}

// IsClientError reports whether err was caused by the request rather than the service.
func IsClientError(err error) bool {
	switch ErrorKind(err) {
	case KindMissingName, KindNoFaceDetected, KindDuplicateIdentity, KindLivenessRejected,
		KindInvalidImage, KindInvalidName, KindMultipleFaces, KindNameTaken:
		return true
	}
	return false
}

// Message returns the user facing text for err.
func Message(err error) string {
	if errors.Is(err, ErrNoFaceInUpload) {
		return "No face detected in the uploaded image"
	}

	switch ErrorKind(err) {
	case "":
		return ""
	case KindMissingName:
		return "Name is required"
	case KindNoFaceDetected:
		return "No face detected"
	case KindDuplicateIdentity:
		return "Face already registered"
	case KindLivenessRejected:
		return "Live face not detected. Please use a live camera."
	case KindMultipleFaces:
		return "More than one face detected in the uploaded image"
	case KindCompressionUnbounded:
		return "Sketch could not be compressed"
	case KindBootstrapFailure:
		return "Face registry failed to load"
	case KindInvalidImage:
		return "Invalid image data"
	case KindInvalidName:
		return "Invalid name"
	case KindNameTaken:
		return "Name already registered"
	default:
		return "Internal error"
	}
}
