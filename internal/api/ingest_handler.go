package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/craftlab-ai/appforge/internal/common"
	"github.com/craftlab-ai/appforge/internal/workspace"
)

func (s *Server) handleIngestUpload(w http.ResponseWriter, r *http.Request) {
	logger := common.Logger()
	ctx := r.Context()
	const maxMemory = 64 << 20 // 64 MiB of in-memory file parts
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		logger.Warn("api: ingest upload form parse failed", "error", err)
		writeError(w, http.StatusBadRequest, fmt.Errorf("failed to parse upload form: %w", err))
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	projectID := strings.TrimSpace(r.FormValue("project_id"))
	if projectID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("project_id is required"))
		return
	}
	if _, err := s.orch.Manager().Get(projectID); err != nil {
		if errors.Is(err, workspace.ErrProjectNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("no files provided"))
		return
	}

	staging, err := os.MkdirTemp(s.uploadRoot, "upload-")
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("create staging dir: %w", err))
		return
	}
	defer func() {
		if err := os.RemoveAll(staging); err != nil {
			logger.Warn("api: cleanup staging dir failed", "dir", staging, "error", err)
		}
	}()

	paths := make([]string, 0, len(files))
	for _, fileHeader := range files {
		name := strings.TrimSpace(fileHeader.Filename)
		if name == "" {
			writeError(w, http.StatusBadRequest, fmt.Errorf("file name required"))
			return
		}
		cleaned := filepath.Base(filepath.Clean(name))
		if cleaned == "." || cleaned == string(filepath.Separator) {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid file name: %s", name))
			return
		}
		destPath := filepath.Join(staging, cleaned)
		src, err := fileHeader.Open()
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Errorf("open uploaded file: %w", err))
			return
		}
		dst, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			_ = src.Close()
			writeError(w, http.StatusInternalServerError, fmt.Errorf("create staging file: %w", err))
			return
		}
		if _, err := io.Copy(dst, src); err != nil {
			_ = dst.Close()
			_ = src.Close()
			writeError(w, http.StatusInternalServerError, fmt.Errorf("write staging file: %w", err))
			return
		}
		if err := dst.Close(); err != nil {
			_ = src.Close()
			writeError(w, http.StatusInternalServerError, fmt.Errorf("close staging file: %w", err))
			return
		}
		if err := src.Close(); err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Errorf("close uploaded file: %w", err))
			return
		}
		paths = append(paths, destPath)
	}

	outcomes := s.orch.Ingestor().IngestMany(ctx, paths, projectID)
	chunks := 0
	for _, outcome := range outcomes {
		chunks += outcome.ChunksCreated
	}
	logger.Info("api: ingest upload finished", "project", projectID, "files", len(paths), "chunks", chunks)
	writeJSON(w, http.StatusOK, ingestUploadResponse{
		Uploaded: len(paths),
		Chunks:   chunks,
		Outcomes: outcomes,
	})
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	logger := common.Logger()
	ctx := r.Context()
	var req contextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.ProjectID = strings.TrimSpace(req.ProjectID)
	if req.ProjectID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("project_id required"))
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("query required"))
		return
	}
	results, err := s.orch.RAG().Query(ctx, req.ProjectID, req.Query, req.Limit)
	if err != nil {
		logger.Error("api: context query failed", "project", req.ProjectID, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	block, err := s.orch.RAG().ContextForQuery(ctx, req.ProjectID, req.Query, req.Limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, contextResponse{Context: block, Results: results})
}
