package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"chatd/internal/store"
	"chatd/pkg/types"
)

// Coordinator is the slice of the reload coordinator the HTTP layer drives.
type Coordinator interface {
	Reload(ctx context.Context, model, revision string) (int, error)
	Status() types.StatusResponse
	Ready() bool
}

// ModelStore manages local model artifacts.
type ModelStore interface {
	ListLocal() ([]types.LocalModel, error)
	Delete(id string) error
	Download(ctx context.Context, repoID, revision string) (string, error)
	SaveArchive(name, filename string, r io.Reader) error
	Resolve(id string) string
}

// ChatRelay bridges chat requests to the active backend.
type ChatRelay interface {
	Stream(ctx context.Context, req types.ChatRequest, emit func(types.StreamEvent) error) error
	Complete(ctx context.Context, req types.ChatRequest) (types.ChatResponse, error)
	ListOnline(ctx context.Context) ([]types.OnlineModel, error)
}

// Options carries the HTTP layer's tunables.
type Options struct {
	// Shared admin secret. Empty runs the gate in open mode.
	AdminToken string
	// Path of the backend log sink served by GET /api/log.
	LogPath string
	// Opt-in CORS. Disabled adds no CORS middleware at all.
	CORSEnabled        bool
	CORSAllowedOrigins []string
	CORSAllowedMethods []string
	CORSAllowedHeaders []string
	// Maximum JSON body size; 0 means 1 MiB.
	MaxBodyBytes int64
}

// Server holds the handler dependencies.
type Server struct {
	store   store.Store
	models  ModelStore
	coord   Coordinator
	relay   ChatRelay
	opts    Options
	maxBody int64
	log     zerolog.Logger
}

// NewServer wires the HTTP layer. Dependencies are interfaces so tests swap
// in mocks per concern.
func NewServer(st store.Store, models ModelStore, coord Coordinator, relay ChatRelay, opts Options, log zerolog.Logger) *Server {
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Server{
		store:   st,
		models:  models,
		coord:   coord,
		relay:   relay,
		opts:    opts,
		maxBody: maxBody,
		log:     log.With().Str("component", "httpapi").Logger(),
	}
}

// NewMux builds the chi router with all routes and middleware.
func (s *Server) NewMux() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if s.opts.CORSEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.opts.CORSAllowedOrigins,
			AllowedMethods: s.opts.CORSAllowedMethods,
			AllowedHeaders: s.opts.CORSAllowedHeaders,
		}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/sessions", s.handleListSessions)
		r.Post("/sessions", s.handleCreateSession)
		r.Get("/sessions/{id}/messages", s.handleListMessages)
		r.Delete("/sessions/{id}", s.handleDeleteSession)
		r.Post("/sessions/{id}/rename", s.handleRenameSession)
		r.Get("/sessions/{id}/export", s.handleExportSession)
		r.Post("/sessions/import", s.handleImportSession)

		r.Post("/templates", s.handleCreateTemplate)
		r.Get("/templates", s.handleListTemplates)
		r.Delete("/templates/{id}", s.handleDeleteTemplate)

		r.Get("/models/list", s.handleListModels)
		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/models/reload", s.handleReload)
			r.Post("/models/download", s.handleDownload)
			r.Post("/models/upload", s.handleUpload)
			r.Post("/models/delete", s.handleDeleteModel)
			r.Get("/log", s.handleLogTail)
		})

		r.Post("/chat", s.handleChat)
		r.Post("/chat/stream", s.handleChatStream)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if s.coord.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading"))
	})
	r.Get("/status", s.handleStatus)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		updateStatusMetrics(s.coord.Status())
		promhttp.Handler().ServeHTTP(w, r)
	})

	MountSwagger(r)
	return r
}

// handleStatus godoc
// @Summary Control plane status
// @Produce json
// @Success 200 {object} types.StatusResponse
// @Router /status [get]
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.Status())
}

// decodeJSON enforces the body limit and rejects malformed payloads.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
