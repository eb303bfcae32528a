package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	chi "github.com/go-chi/chi/v5"

	"github.com/craftlab-ai/appforge/internal/common"
	"github.com/craftlab-ai/appforge/internal/data/orchestrator"
	"github.com/craftlab-ai/appforge/internal/llm"
)

// Server exposes the project, chat, ingest and retrieval endpoints over HTTP.
type Server struct {
	router     chi.Router
	orch       *orchestrator.Orchestrator
	provider   llm.Provider
	uploadRoot string
}

// Config controls request handling details that are not part of the
// orchestrator wiring.
type Config struct {
	UploadRoot string
}

// DefaultConfig returns the standard configuration used when no overrides are
// provided.
func DefaultConfig() Config {
	return Config{
		UploadRoot: filepath.Join(os.TempDir(), "appforge_uploads"),
	}
}

// Merge overlays non-empty configuration values from the override onto the
// base configuration.
func (c Config) Merge(override Config) Config {
	result := c
	if strings.TrimSpace(override.UploadRoot) != "" {
		result.UploadRoot = strings.TrimSpace(override.UploadRoot)
	}
	return result
}

func NewServer(orch *orchestrator.Orchestrator, cfg *Config) (*Server, error) {
	logger := common.Logger()
	if orch == nil {
		return nil, fmt.Errorf("orchestrator required")
	}
	if orch.Manager() == nil || orch.Tracker() == nil || orch.Runner() == nil {
		return nil, fmt.Errorf("orchestrator services unavailable")
	}
	configuration := DefaultConfig()
	if cfg != nil {
		configuration = configuration.Merge(*cfg)
	}
	if err := os.MkdirAll(configuration.UploadRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create upload root: %w", err)
	}
	provider := orch.Provider()
	providerName := "unknown"
	if provider != nil {
		providerName = provider.Name()
	}
	logger.Info(
		"api: building server",
		"provider", providerName,
		"vector_available", orch.Vector() != nil && orch.Vector().Available(),
	)
	srv := &Server{
		router:     chi.NewRouter(),
		orch:       orch,
		provider:   provider,
		uploadRoot: configuration.UploadRoot,
	}
	srv.routes()
	logger.Info("api: server ready")
	return srv, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	logger := common.Logger()
	logger.Info("api: configuring routes")
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("request", "method", r.Method, "path", r.URL.Path, "dur", time.Since(start), "remote", r.RemoteAddr)
		})
	})

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.router.Post("/v1/projects", s.handleCreateProject)
	s.router.Get("/v1/projects", s.handleListProjects)
	s.router.Get("/v1/projects/{projectID}", s.handleGetProject)
	s.router.Delete("/v1/projects/{projectID}", s.handleDeleteProject)
	s.router.Get("/v1/projects/{projectID}/files", s.handleProjectFiles)
	s.router.Get("/v1/projects/{projectID}/file-tree", s.handleProjectFileTree)
	s.router.Get("/v1/projects/{projectID}/file", s.handleProjectFile)
	s.router.Post("/v1/chat", s.handleChat)
	s.router.Post("/v1/chat/prd", s.handleGeneratePRD)
	s.router.Post("/v1/ingest/upload", s.handleIngestUpload)
	s.router.Post("/v1/context", s.handleContext)
	s.router.Get("/v1/logs", s.handleLogs)
	s.router.Get("/projects/{projectID}/*", s.handlePreview)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	entries := common.LogEntries()
	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": entries})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	logger := common.Logger()
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "status", status, "error", err)
	} else {
		logger.Warn("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
