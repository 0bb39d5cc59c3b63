package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/nstogner/companion/pkg/controller"
	"github.com/nstogner/companion/pkg/model"
	"github.com/nstogner/companion/pkg/runtime"
	"github.com/nstogner/companion/pkg/store"
)

// Version is reported by the health endpoint. It is overridden at build time.
var Version = "1.0.0"

// DefaultMaxUploadBytes bounds the size of an /analyze request body.
const DefaultMaxUploadBytes = 20 << 20

// Options holds the collaborators and settings for a Server.
type Options struct {
	APIKey     string
	Controller *controller.Controller
	Gateway    *model.Gateway
	Profiles   *model.Profiles

	// History is optional. Without it /history is empty and the feedback
	// stream is unavailable.
	History store.HistoryStore

	// Runtime and RuntimeContainer are optional. When both are set /health
	// reports the inference runtime container state.
	Runtime          runtime.Monitor
	RuntimeContainer string

	PersonasFile   string
	TodoFile       string
	MaxUploadBytes int64
}

// Server serves the companion REST API.
type Server struct {
	apiKey    string
	ctrl      *controller.Controller
	gateway   *model.Gateway
	profiles  *model.Profiles
	history   store.HistoryStore
	runtime   runtime.Monitor
	container string
	personas  string
	todos     string
	maxUpload int64
	srv       *http.Server
}

// New creates a new Server.
func New(opts Options) *Server {
	profiles := opts.Profiles
	if profiles == nil {
		profiles = model.NewProfiles()
	}
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	return &Server{
		apiKey:    opts.APIKey,
		ctrl:      opts.Controller,
		gateway:   opts.Gateway,
		profiles:  profiles,
		history:   opts.History,
		runtime:   opts.Runtime,
		container: opts.RuntimeContainer,
		personas:  opts.PersonasFile,
		todos:     opts.TodoFile,
		maxUpload: maxUpload,
	}
}

// Handler returns the API routes wrapped in the CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	// Capture
	mux.HandleFunc("POST /api/v1/analyze", s.requireAPIKey(s.handleAnalyze))
	mux.HandleFunc("GET /api/v1/context", s.requireAPIKey(s.handleContext))

	// Personas and todos
	mux.HandleFunc("GET /api/v1/personas", s.requireAPIKey(s.handleListPersonas))
	mux.HandleFunc("POST /api/v1/personas/reload", s.requireAPIKey(s.handleReloadPersonas))
	mux.HandleFunc("POST /api/v1/personas/{name}/activate", s.requireAPIKey(s.handleActivatePersona))
	mux.HandleFunc("POST /api/v1/todos/reload", s.requireAPIKey(s.handleReloadTodos))

	// Models
	mux.HandleFunc("GET /api/v1/models", s.requireAPIKey(s.handleListModels))
	mux.HandleFunc("POST /api/v1/models/switch", s.requireAPIKey(s.handleSwitchModels))
	mux.HandleFunc("POST /api/v1/models/pull/{name}", s.requireAPIKey(s.handlePullModel))

	// History
	mux.HandleFunc("GET /api/v1/history", s.requireAPIKey(s.handleHistory))
	mux.HandleFunc("GET /api/v1/feedback/stream", s.requireAPIKey(s.handleFeedbackStream))

	return s.corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{Addr: addr, Handler: s.Handler()}
	slog.Info("Starting server", "addr", addr, "tls", false)
	return s.srv.ListenAndServe()
}

// StartTLS starts the HTTPS server.
func (s *Server) StartTLS(addr, certFile, keyFile string) error {
	s.srv = &http.Server{Addr: addr, Handler: s.Handler()}
	slog.Info("Starting server", "addr", addr, "tls", true)
	return s.srv.ListenAndServeTLS(certFile, keyFile)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+apiKeyHeader)
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		slog.Error("API Error", "status", status, "error", err)
	} else {
		slog.Warn("API Error", "status", status, "error", err)
	}
	s.jsonResponse(w, status, map[string]string{"error": err.Error()})
}
