// Package api serves the VoxCanvas HTTP interface: file upload to object
// storage, speech recognition of an uploaded recording, and image editing.
//
// Every endpoint answers with a small JSON object. Failures carry a single
// "detail" field and a status code derived from the error kind.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/voxcanvas/internal/health"
	"github.com/MrWong99/voxcanvas/internal/observe"
	"github.com/MrWong99/voxcanvas/pkg/provider/imagegen"
	"github.com/MrWong99/voxcanvas/pkg/provider/storage"
	"github.com/MrWong99/voxcanvas/pkg/provider/stt"
)

// Config holds the request-handling settings.
type Config struct {
	// TempDir receives uploaded files while a request is processed.
	TempDir string

	// MaxUploadBytes caps the request body of multipart endpoints. Zero
	// means no limit.
	MaxUploadBytes int64

	// KeyPrefix is prepended to object keys of uploaded files.
	KeyPrefix string

	// CORSOrigins lists allowed origins; "*" allows any.
	CORSOrigins []string
}

// Server implements the /api handlers on top of the three providers.
type Server struct {
	cfg    Config
	stt    stt.Provider
	store  storage.Uploader
	images imagegen.Generator
}

// New creates a Server.
func New(cfg Config, recognizer stt.Provider, uploader storage.Uploader, generator imagegen.Generator) *Server {
	return &Server{
		cfg:    cfg,
		stt:    recognizer,
		store:  uploader,
		images: generator,
	}
}

// Routes mounts the API endpoints on r.
func (s *Server) Routes(r chi.Router) {
	r.Post("/upload", s.handleUpload)
	r.Post("/recognize", s.handleRecognize)
	r.Post("/edit", s.handleEdit)
}

// NewRouter assembles the full HTTP surface: /api, health checks and the
// Prometheus scrape endpoint, behind request id, tracing, panic recovery and
// CORS middleware.
func NewRouter(s *Server, m *observe.Metrics, h *health.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(observe.Middleware(m))
	r.Use(middleware.Recoverer)
	r.Use(CORS(s.cfg.CORSOrigins))

	h.Register(r)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Route("/api", s.Routes)
	return r
}
