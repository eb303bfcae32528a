package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	chi "github.com/go-chi/chi/v5"

	"github.com/craftlab-ai/appforge/internal/common"
	"github.com/craftlab-ai/appforge/internal/workspace"
)

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	logger := common.Logger()
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("api: create project decode failed", "error", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("name required"))
		return
	}
	meta, paths, err := s.orch.Manager().Create(req.Name, req.Description)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("create project: %w", err))
		return
	}
	logger.Info("api: project created", "project", meta.ProjectID, "name", meta.Name)
	writeJSON(w, http.StatusCreated, createProjectResponse{Project: meta, Paths: paths})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.orch.Manager().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("list projects: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"projects": projects})
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	meta, err := s.orch.Manager().Get(projectID)
	if err != nil {
		if errors.Is(err, workspace.ErrProjectNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	detail := projectDetail{Project: meta}
	if catalogStore := s.orch.Catalog(); catalogStore != nil {
		ctx := r.Context()
		stats, err := catalogStore.Stats(ctx, projectID)
		if err != nil {
			common.Logger().Warn("api: project stats unavailable", "project", projectID, "error", err)
		} else {
			detail.Stats = stats
		}
		docs, err := catalogStore.Documents(ctx, projectID)
		if err != nil {
			common.Logger().Warn("api: project documents unavailable", "project", projectID, "error", err)
		} else {
			detail.Documents = docs
		}
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if err := s.orch.DeleteProject(r.Context(), projectID); err != nil {
		if errors.Is(err, workspace.ErrProjectNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "project_id": projectID})
}

func (s *Server) handleProjectFiles(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if _, err := s.orch.Manager().Get(projectID); err != nil {
		if errors.Is(err, workspace.ErrProjectNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	directory := strings.TrimSpace(r.URL.Query().Get("dir"))
	files, err := s.orch.Files().ListFiles(projectID, directory)
	if err != nil {
		if errors.Is(err, workspace.ErrOutsideProject) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"files": files})
}

func (s *Server) handleProjectFileTree(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	tree, err := s.orch.Files().FileTree(projectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if tree == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s", workspace.ErrProjectNotFound, projectID))
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

func (s *Server) handleProjectFile(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	relative := strings.TrimSpace(r.URL.Query().Get("path"))
	if relative == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("path query parameter required"))
		return
	}
	content, err := s.orch.Files().ReadFile(projectID, relative)
	if err != nil {
		switch {
		case errors.Is(err, workspace.ErrOutsideProject):
			writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, os.ErrNotExist):
			writeError(w, http.StatusNotFound, fmt.Errorf("file not found: %s", relative))
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": relative, "content": content})
}

// handlePreview serves generated project files directly so a browser can open
// the frontend a build produced.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	relative := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if relative == "" {
		relative = "index.html"
	}
	content, err := s.orch.Files().ReadFile(projectID, relative)
	if err != nil {
		switch {
		case errors.Is(err, workspace.ErrOutsideProject):
			writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, os.ErrNotExist):
			http.NotFound(w, r)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	contentType := mime.TypeByExtension(filepath.Ext(relative))
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(content))
}
