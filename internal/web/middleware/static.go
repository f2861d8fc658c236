package middleware

import (
	"net/http"
	"strings"
)

// NoDirectoryListing answers 404 for directory paths so a file server only
// hands out files it is asked for by name.
func NoDirectoryListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
