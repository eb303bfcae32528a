// Package pipeline runs the generation stages that turn gathered
// requirements into workspace files: plan, backend, frontend, and QA.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langgraphgo/graph"

	"github.com/craftlab-ai/appforge/internal/common"
	"github.com/craftlab-ai/appforge/internal/llm"
	"github.com/craftlab-ai/appforge/internal/prd"
	"github.com/craftlab-ai/appforge/internal/workspace"
)

const (
	taskDocFile  = "TASKS.md"
	qaReportFile = "QA_REPORT.md"
)

// MalformedOutputError reports a stage whose model output could not be
// decoded. The raw completion is preserved for inspection.
type MalformedOutputError struct {
	Stage string
	Raw   string
	Err   error
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("%s stage produced malformed output: %v", e.Stage, e.Err)
}

func (e *MalformedOutputError) Unwrap() error { return e.Err }

// GeneratedFile is one file written during a pipeline run.
type GeneratedFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Result summarizes a completed run.
type Result struct {
	ProjectID  string          `json:"project_id"`
	TaskDoc    string          `json:"task_doc"`
	Files      []GeneratedFile `json:"files"`
	QAReport   string          `json:"qa_report"`
	PreviewURL string          `json:"preview_url"`
}

// Runner executes the generation graph for ready projects. Stages run
// synchronously in a fixed order with no retries; a stage failure aborts the
// run and surfaces to the caller.
type Runner struct {
	provider llm.Provider
	manager  *workspace.Manager
}

func NewRunner(provider llm.Provider, manager *workspace.Manager) *Runner {
	return &Runner{provider: provider, manager: manager}
}

// run carries the mutable state of one pipeline execution through the graph
// nodes.
type run struct {
	projectID    string
	requirements string
	result       *Result
}

// Run executes plan, backend, frontend, and QA for a project whose
// requirements gathering is complete.
func (r *Runner) Run(ctx context.Context, projectID, requirements string) (*Result, error) {
	if strings.TrimSpace(requirements) == "" {
		return nil, fmt.Errorf("run pipeline: no requirements gathered for %s", projectID)
	}
	if _, err := r.manager.Get(projectID); err != nil {
		return nil, err
	}
	state := &run{
		projectID:    projectID,
		requirements: requirements,
		result:       &Result{ProjectID: projectID},
	}

	g := graph.NewMessageGraph()
	g.AddNode("plan", r.stage(state, r.planStage))
	g.AddNode("backend", r.stage(state, r.backendStage))
	g.AddNode("frontend", r.stage(state, r.frontendStage))
	g.AddNode("qa", r.stage(state, r.qaStage))
	g.AddEdge("plan", "backend")
	g.AddEdge("backend", "frontend")
	g.AddEdge("frontend", "qa")
	g.AddEdge("qa", graph.END)
	g.SetEntryPoint("plan")

	runnable, err := g.Compile()
	if err != nil {
		return nil, fmt.Errorf("compile pipeline graph: %w", err)
	}
	initial := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, requirements),
	}
	if _, err := runnable.Invoke(ctx, initial); err != nil {
		return nil, err
	}
	state.result.PreviewURL = fmt.Sprintf("/projects/%s/index.html", projectID)
	common.Logger().Info("pipeline: run complete", "project", projectID, "files", len(state.result.Files))
	return state.result, nil
}

// stage adapts a run-scoped stage function to a graph node, threading stage
// transcripts through the message state.
func (r *Runner) stage(state *run, fn func(context.Context, *run) (string, error)) func(context.Context, []llms.MessageContent) ([]llms.MessageContent, error) {
	return func(ctx context.Context, messages []llms.MessageContent) ([]llms.MessageContent, error) {
		output, err := fn(ctx, state)
		if err != nil {
			return nil, err
		}
		return append(messages, llms.TextParts(llms.ChatMessageTypeAI, output)), nil
	}
}

func (r *Runner) planStage(ctx context.Context, state *run) (string, error) {
	prompt := fmt.Sprintf(`Create PM doc for: %s

Format:
# Project: [Name]
## Requirements: [3-5 key items]
## Tasks:
- Backend: [3 tasks]
- Frontend: [3 tasks]
- QA: [2 tasks]

Keep under 200 words.`, truncate(state.requirements, 200))
	doc, err := r.provider.Complete(ctx, llm.CompletionRequest{Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("plan stage: %w", err)
	}
	if _, err := r.manager.Files().WriteFile(state.projectID, taskDocFile, doc); err != nil {
		return "", fmt.Errorf("write task doc: %w", err)
	}
	state.result.TaskDoc = doc
	state.result.Files = append(state.result.Files, GeneratedFile{Name: taskDocFile, Content: doc})
	common.Logger().Info("pipeline: plan stage complete", "project", state.projectID)
	return doc, nil
}

func (r *Runner) backendStage(ctx context.Context, state *run) (string, error) {
	prompt := fmt.Sprintf(`Create FastAPI backend for: %s

Return ONLY valid JSON:
{"file": "backend.py", "content": "# FastAPI code with endpoints, models, CRUD"}

Keep code under 200 lines.`, truncate(state.requirements, 300))
	response, err := r.provider.Complete(ctx, llm.CompletionRequest{Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("backend stage: %w", err)
	}
	var payload struct {
		File    string `json:"file"`
		Content string `json:"content"`
	}
	if err := decodeJSON(response, &payload); err != nil || strings.TrimSpace(payload.File) == "" {
		if err == nil {
			err = fmt.Errorf("missing file name")
		}
		return "", &MalformedOutputError{Stage: "backend", Raw: response, Err: err}
	}
	if _, err := r.manager.Files().WriteFile(state.projectID, payload.File, payload.Content); err != nil {
		return "", fmt.Errorf("write backend file: %w", err)
	}
	if err := r.manager.MarkBackendComplete(state.projectID); err != nil {
		return "", err
	}
	state.result.Files = append(state.result.Files, GeneratedFile{Name: payload.File, Content: payload.Content})
	common.Logger().Info("pipeline: backend stage complete", "project", state.projectID, "file", payload.File)
	return response, nil
}

func (r *Runner) frontendStage(ctx context.Context, state *run) (string, error) {
	prompt := fmt.Sprintf(`Create modern responsive UI for: %s

Return ONLY valid JSON:
{"files": [{"name": "index.html", "content": "..."}, {"name": "style.css", "content": "..."}, {"name": "app.js", "content": "..."}]}

Use gradients, modern CSS. Keep each file under 150 lines.`, truncate(state.requirements, 300))
	response, err := r.provider.Complete(ctx, llm.CompletionRequest{Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("frontend stage: %w", err)
	}
	var payload struct {
		Files []GeneratedFile `json:"files"`
	}
	if err := decodeJSON(response, &payload); err != nil || len(payload.Files) == 0 {
		if err == nil {
			err = fmt.Errorf("no files in payload")
		}
		return "", &MalformedOutputError{Stage: "frontend", Raw: response, Err: err}
	}
	for _, file := range payload.Files {
		if strings.TrimSpace(file.Name) == "" {
			continue
		}
		if _, err := r.manager.Files().WriteFile(state.projectID, file.Name, file.Content); err != nil {
			return "", fmt.Errorf("write frontend file %s: %w", file.Name, err)
		}
		state.result.Files = append(state.result.Files, file)
	}
	if err := r.manager.MarkFrontendComplete(state.projectID); err != nil {
		return "", err
	}
	common.Logger().Info("pipeline: frontend stage complete", "project", state.projectID, "files", len(payload.Files))
	return response, nil
}

func (r *Runner) qaStage(ctx context.Context, state *run) (string, error) {
	prompt := fmt.Sprintf(`QA Report for %s

Provide:
- 3 test cases
- Quality score (1-10)
- 2 recommendations

Keep under 150 words.`, truncate(state.requirements, 150))
	report, err := r.provider.Complete(ctx, llm.CompletionRequest{Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("qa stage: %w", err)
	}
	if _, err := r.manager.Files().WriteFile(state.projectID, qaReportFile, report); err != nil {
		return "", fmt.Errorf("write qa report: %w", err)
	}
	if err := r.manager.MarkQAComplete(state.projectID, report); err != nil {
		return "", err
	}
	state.result.QAReport = report
	state.result.Files = append(state.result.Files, GeneratedFile{Name: qaReportFile, Content: report})
	common.Logger().Info("pipeline: qa stage complete", "project", state.projectID)
	return report, nil
}

const prdPrompt = `Based on our conversation, generate a comprehensive Product Requirements Document (PRD) for this ERP system.

Format the PRD as a JSON object with the following structure:
{
  "project_name": "string",
  "overview": "string - brief description",
  "modules": [{"name": "string", "description": "string", "features": ["list of features"]}],
  "entities": [{"name": "string", "description": "string", "fields": [{"name": "string", "type": "string", "required": true}]}],
  "roles": [{"name": "string", "permissions": ["list of permissions"]}],
  "workflows": [{"name": "string", "steps": ["list of steps"]}]
}

Generate ONLY the JSON, no additional text.`

// GeneratePRD asks the provider for a structured requirements document from
// the conversation so far and stores the approved result. Malformed output
// surfaces as *prd.MalformedError with the raw completion attached.
func (r *Runner) GeneratePRD(ctx context.Context, projectID string, history []llm.Message) (*prd.Document, error) {
	if _, err := r.manager.Get(projectID); err != nil {
		return nil, err
	}
	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: "user", Content: prdPrompt})
	var transcript strings.Builder
	for _, msg := range messages {
		fmt.Fprintf(&transcript, "%s: %s\n", strings.ToUpper(msg.Role), msg.Content)
	}
	response, err := r.provider.Complete(ctx, llm.CompletionRequest{
		Prompt:      transcript.String(),
		Temperature: 0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("generate prd: %w", err)
	}
	doc, err := prd.Parse(response)
	if err != nil {
		return nil, err
	}
	if err := r.manager.SavePRD(projectID, doc); err != nil {
		return nil, err
	}
	common.Logger().Info("pipeline: prd generated", "project", projectID, "name", doc.ProjectName)
	return doc, nil
}

var jsonObjectPattern = regexp.MustCompile(`\{[\s\S]*\}`)

// decodeJSON pulls the first JSON object out of a completion and decodes it.
func decodeJSON(text string, out interface{}) error {
	match := jsonObjectPattern.FindString(text)
	if match == "" {
		return fmt.Errorf("no JSON object found")
	}
	return json.Unmarshal([]byte(match), out)
}

// truncate bounds prompt material the way the stage prompts expect, by runes.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
