package api

import (
	"github.com/craftlab-ai/appforge/internal/catalog"
	"github.com/craftlab-ai/appforge/internal/ingest"
	"github.com/craftlab-ai/appforge/internal/pipeline"
	"github.com/craftlab-ai/appforge/internal/rag"
	"github.com/craftlab-ai/appforge/internal/workspace"
)

type createProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type createProjectResponse struct {
	Project *workspace.Metadata    `json:"project"`
	Paths   workspace.ProjectPaths `json:"paths"`
}

type projectDetail struct {
	Project   *workspace.Metadata      `json:"project"`
	Stats     catalog.ProjectStats     `json:"stats"`
	Documents []catalog.DocumentRecord `json:"documents"`
}

type chatRequest struct {
	ProjectID string `json:"project_id"`
	Message   string `json:"message"`
}

type chatResponse struct {
	Reply  string           `json:"reply"`
	State  string           `json:"state"`
	Forced bool             `json:"forced"`
	Build  *pipeline.Result `json:"build,omitempty"`
}

type ingestUploadResponse struct {
	Uploaded int              `json:"uploaded"`
	Chunks   int              `json:"chunks"`
	Outcomes []ingest.Outcome `json:"outcomes"`
}

type contextRequest struct {
	ProjectID string `json:"project_id"`
	Query     string `json:"query"`
	Limit     int    `json:"limit"`
}

type contextResponse struct {
	Context string       `json:"context"`
	Results []rag.Result `json:"results"`
}
