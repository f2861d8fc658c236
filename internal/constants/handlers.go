// Package constants provides shared constants used across the codebase.
package constants

// File upload constants
const (
	// MaxUploadSize is the maximum request body size in bytes (20MB).
	MaxUploadSize = 20 << 20

	// MaxNameLength is the maximum length in bytes of a sanitized identity name.
	MaxNameLength = 128
)

// Websocket constants
const (
	// WSReadLimit is the largest websocket message accepted by the recognize stream.
	WSReadLimit = MaxUploadSize

	// WSWriteWaitSeconds is the time allowed to write a single websocket message.
	WSWriteWaitSeconds = 10
)
