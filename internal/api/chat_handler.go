package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/craftlab-ai/appforge/internal/common"
	"github.com/craftlab-ai/appforge/internal/conversation"
	"github.com/craftlab-ai/appforge/internal/pipeline"
	"github.com/craftlab-ai/appforge/internal/prd"
	"github.com/craftlab-ai/appforge/internal/workspace"
)

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	logger := common.Logger()
	ctx := r.Context()
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("api: chat decode failed", "error", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.ProjectID = strings.TrimSpace(req.ProjectID)
	if req.ProjectID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("project_id required"))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("message required"))
		return
	}
	if _, err := s.orch.Manager().Get(req.ProjectID); err != nil {
		if errors.Is(err, workspace.ErrProjectNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	logger.Info("api: chat request received", "project", req.ProjectID, "message_length", len(req.Message))

	turn, err := s.orch.Tracker().Advance(ctx, req.ProjectID, req.Message)
	if err != nil {
		logger.Error("api: chat turn failed", "project", req.ProjectID, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := chatResponse{Reply: turn.Reply, State: string(turn.State), Forced: turn.Forced}
	if turn.State == conversation.StateReady {
		requirements, err := s.orch.Tracker().Requirements(req.ProjectID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Errorf("collect requirements: %w", err))
			return
		}
		logger.Info("api: requirements complete, starting build", "project", req.ProjectID)
		result, err := s.orch.Runner().Run(ctx, req.ProjectID, requirements)
		if err != nil {
			var malformed *pipeline.MalformedOutputError
			if errors.As(err, &malformed) {
				logger.Warn("api: build produced malformed output", "project", req.ProjectID, "stage", malformed.Stage)
				writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
					"error": malformed.Error(),
					"stage": malformed.Stage,
					"raw":   malformed.Raw,
					"reply": turn.Reply,
					"state": string(turn.State),
				})
				return
			}
			logger.Error("api: build failed", "project", req.ProjectID, "error", err)
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		resp.Build = result
		logger.Info("api: build complete", "project", req.ProjectID, "files", len(result.Files))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGeneratePRD(w http.ResponseWriter, r *http.Request) {
	logger := common.Logger()
	ctx := r.Context()
	var req struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.ProjectID = strings.TrimSpace(req.ProjectID)
	if req.ProjectID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("project_id required"))
		return
	}
	if _, err := s.orch.Manager().Get(req.ProjectID); err != nil {
		if errors.Is(err, workspace.ErrProjectNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	history, err := s.orch.Tracker().History(req.ProjectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("load history: %w", err))
		return
	}
	if len(history) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("no conversation recorded for project %s", req.ProjectID))
		return
	}
	doc, err := s.orch.Runner().GeneratePRD(ctx, req.ProjectID, history)
	if err != nil {
		var malformed *prd.MalformedError
		if errors.As(err, &malformed) {
			logger.Warn("api: prd output malformed", "project", req.ProjectID)
			writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
				"error": malformed.Error(),
				"raw":   malformed.Raw,
			})
			return
		}
		logger.Error("api: prd generation failed", "project", req.ProjectID, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	logger.Info("api: prd generated", "project", req.ProjectID, "modules", len(doc.Modules))
	writeJSON(w, http.StatusOK, map[string]interface{}{"prd": doc})
}
