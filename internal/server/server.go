// Package server exposes the metadata store and uploaded files over HTTP:
// the distutils/twine upload endpoint, the PEP 503 simple index, JSON and
// HTML project pages, reverse lookups, metrics and health.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/git-pkgs/ministry/client"
	"github.com/git-pkgs/ministry/internal/blobstore"
	"github.com/git-pkgs/ministry/internal/core"
)

const defaultMaxUploadBytes = 256 << 20

// BreakerStater reports the state of a single circuit breaker.
type BreakerStater interface {
	State() string
}

// HostBreakerStater reports circuit breaker states per upstream host.
type HostBreakerStater interface {
	GetBreakerState() map[string]string
}

// Server is the index's http.Handler.
type Server struct {
	store          *core.Store
	blobs          blobstore.Store
	logger         *slog.Logger
	urls           *client.URLs
	maxUploadBytes int64
	storage        BreakerStater
	upstream       HostBreakerStater
	registry       *prometheus.Registry
	mux            *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Nil means slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithBaseURL sets the externally visible URL of the index used in
// download links. By default links are host-relative.
func WithBaseURL(base string) Option {
	return func(s *Server) {
		s.urls = client.NewURLs(base)
	}
}

// WithMaxUploadBytes bounds the size of an upload request body.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

// WithStorageBreaker reports the metadata backend's breaker on /healthz.
func WithStorageBreaker(b BreakerStater) Option {
	return func(s *Server) {
		s.storage = b
	}
}

// WithUpstreamBreakers reports the upstream fetcher's breakers on /healthz.
func WithUpstreamBreakers(b HostBreakerStater) Option {
	return func(s *Server) {
		s.upstream = b
	}
}

// WithCollectors registers additional collectors on /metrics.
func WithCollectors(cs ...prometheus.Collector) Option {
	return func(s *Server) {
		for _, c := range cs {
			s.registry.MustRegister(c)
		}
	}
}

// New creates a Server over store and blobs.
func New(store *core.Store, blobs blobstore.Store, opts ...Option) *Server {
	s := &Server{
		store:          store,
		blobs:          blobs,
		logger:         slog.Default(),
		urls:           client.NewURLs(""),
		maxUploadBytes: defaultMaxUploadBytes,
		registry:       prometheus.NewRegistry(),
		mux:            http.NewServeMux(),
	}
	s.registry.MustRegister(core.Collectors()...)
	s.registry.MustRegister(Collectors()...)
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /{$}", s.handleUpload)
	s.mux.HandleFunc("POST /pypi", s.handleUpload)
	s.mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/pypi/", http.StatusFound)
	})

	s.mux.HandleFunc("GET /simple/{$}", s.handleSimpleRoot)
	s.mux.HandleFunc("GET /simple/{name}/{$}", s.handleSimpleProject)

	s.mux.HandleFunc("GET /pypi/{$}", s.handleIndexPage)
	s.mux.HandleFunc("GET /pypi/{name}/{$}", s.handleProjectPage)
	s.mux.HandleFunc("GET /pypi/{name}/{version}/{$}", s.handleVersionPage)
	s.mux.HandleFunc("GET /pypi/{name}/json", s.handleProjectJSON)
	s.mux.HandleFunc("GET /pypi/{name}/{version}/json", s.handleVersionJSON)

	s.mux.HandleFunc("GET /packages/{name}/{filename}", s.handleDownload)
	s.mux.HandleFunc("GET /search", s.handleSearch)
	s.mux.HandleFunc("GET /classifiers", s.handleClassifiers)

	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// storeStatus maps a store error to an HTTP status. Absence is never
// logged; everything else is.
func (s *Server) storeStatus(r *http.Request, err error) int {
	var unsupported *core.UnsupportedPayloadError
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &unsupported), errors.Is(err, core.ErrInvalidIdentity):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrStorageUnavailable):
		s.logger.Error("storage unavailable", "path", r.URL.Path, "error", err)
		return http.StatusServiceUnavailable
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		return http.StatusInternalServerError
	}
}

func (s *Server) storeError(w http.ResponseWriter, r *http.Request, err error) {
	status := s.storeStatus(r, err)
	http.Error(w, http.StatusText(status), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
