// Package static embeds the camera capture page.
package static

import (
	"embed"
	"net/http"
)

//go:embed index.html script.js
var files embed.FS

// GetFileSystem returns an http.FileSystem for the embedded capture page.
func GetFileSystem() http.FileSystem {
	return http.FS(files)
}
