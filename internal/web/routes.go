package web

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/facegate/internal/constants"
	"github.com/kozaktomas/facegate/internal/web/handlers"
	"github.com/kozaktomas/facegate/internal/web/middleware"
	"github.com/kozaktomas/facegate/internal/web/static"
)

func (s *Server) setupRoutes() {
	// Create handlers
	facesHandler := handlers.NewFacesHandler(s.deps.Faces)
	identitiesHandler := handlers.NewIdentitiesHandler(s.deps.Registry)
	streamHandler := handlers.NewStreamHandler(s.deps.Faces)

	timeout := s.config.Server.RequestTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}

	// Health check
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	// Websocket stream, outside the request timeout
	s.router.Get("/api/v1/ws/recognize", streamHandler.Recognize)

	s.router.Group(func(r chi.Router) {
		r.Use(chiMiddleware.Timeout(timeout))

		// Capture page endpoints
		r.Post("/register", facesHandler.Register)
		r.Post("/recognize", facesHandler.Recognize)

		r.Route("/api/v1", func(r chi.Router) {
			r.Post("/register", facesHandler.Register)
			r.Post("/recognize", facesHandler.Recognize)

			// Registry
			r.Get("/identities", identitiesHandler.List)
			r.Post("/registry/reload", identitiesHandler.Reload)

			// Recognition log
			if s.deps.Recognitions != nil {
				recognitionsHandler := handlers.NewRecognitionsHandler(s.deps.Recognitions)
				r.Get("/recognitions", recognitionsHandler.List)
			}
		})
	})

	// Locally stored sketches
	if s.deps.SketchDir != "" {
		prefix := s.config.Sketch.URLPrefix
		if prefix == "" {
			prefix = constants.SketchURLPrefix
		}
		if !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		fileServer := http.StripPrefix(prefix, http.FileServer(http.Dir(s.deps.SketchDir)))
		s.router.With(middleware.NoDirectoryListing).Get(prefix+"*", fileServer.ServeHTTP)
	}

	// Capture page
	s.router.Get("/", s.servePage)
	s.router.Get("/script.js", s.servePage)
}

// servePage serves the embedded capture page
func (s *Server) servePage(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if path == "/" {
		path = "/index.html"
	}

	f, err := static.GetFileSystem().Open(path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	contentType := "application/octet-stream"
	switch {
	case strings.HasSuffix(path, ".html"):
		contentType = "text/html; charset=utf-8"
	case strings.HasSuffix(path, ".js"):
		contentType = "application/javascript; charset=utf-8"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	io.Copy(w, f)
}
