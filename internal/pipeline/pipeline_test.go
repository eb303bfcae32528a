package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/craftlab-ai/appforge/internal/llm"
	"github.com/craftlab-ai/appforge/internal/prd"
	"github.com/craftlab-ai/appforge/internal/workspace"
)

// stageProvider returns canned completions in call order.
type stageProvider struct {
	replies []string
	calls   int
	failAt  int
}

func (p *stageProvider) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	p.calls++
	if p.failAt > 0 && p.calls == p.failAt {
		return "", errors.New("provider unavailable")
	}
	if p.calls > len(p.replies) {
		return "", errors.New("no scripted reply left")
	}
	return p.replies[p.calls-1], nil
}

func (p *stageProvider) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	return p.Complete(ctx, llm.CompletionRequest{})
}

func (p *stageProvider) Name() string { return "staged" }

func newTestRunner(t *testing.T, provider llm.Provider) (*Runner, *workspace.Manager, string) {
	t.Helper()
	files, err := workspace.NewFiles(t.TempDir())
	if err != nil {
		t.Fatalf("workspace files: %v", err)
	}
	manager := workspace.NewManager(files)
	meta, _, err := manager.Create("Pipeline Test", "")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return NewRunner(provider, manager), manager, meta.ProjectID
}

var happyReplies = []string{
	"# Project: Inventory\n## Requirements\n- track stock\n## Tasks\n- Backend: api",
	`{"file": "backend.py", "content": "from fastapi import FastAPI\napp = FastAPI()"}`,
	`{"files": [{"name": "index.html", "content": "<html></html>"}, {"name": "style.css", "content": "body{}"}]}`,
	"QA Report\n- case 1\nScore: 9/10",
}

func TestRunWritesAllArtifacts(t *testing.T) {
	provider := &stageProvider{replies: happyReplies}
	runner, manager, projectID := newTestRunner(t, provider)

	result, err := runner.Run(context.Background(), projectID, "inventory tracker with barcode scanning")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if provider.calls != 4 {
		t.Fatalf("expected 4 stage calls, got %d", provider.calls)
	}
	for _, name := range []string{"TASKS.md", "backend.py", "index.html", "style.css", "QA_REPORT.md"} {
		if _, err := manager.Files().ReadFile(projectID, name); err != nil {
			t.Fatalf("missing artifact %s: %v", name, err)
		}
	}
	if len(result.Files) != 5 {
		t.Fatalf("expected 5 generated files, got %d", len(result.Files))
	}
	if !strings.Contains(result.QAReport, "QA Report") {
		t.Fatalf("qa report missing: %q", result.QAReport)
	}
	if result.PreviewURL != "/projects/"+projectID+"/index.html" {
		t.Fatalf("unexpected preview url %q", result.PreviewURL)
	}

	meta, err := manager.Get(projectID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if !meta.BackendGenerated || !meta.FrontendGenerated || !meta.QACompleted {
		t.Fatalf("lifecycle flags not set: %+v", meta)
	}
}

func TestRunRejectsEmptyRequirements(t *testing.T) {
	runner, _, projectID := newTestRunner(t, &stageProvider{})
	if _, err := runner.Run(context.Background(), projectID, "   "); err == nil {
		t.Fatal("expected an error for empty requirements")
	}
}

func TestRunUnknownProject(t *testing.T) {
	runner, _, _ := newTestRunner(t, &stageProvider{replies: happyReplies})
	_, err := runner.Run(context.Background(), "ghost123", "anything")
	if !errors.Is(err, workspace.ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound, got %v", err)
	}
}

func TestRunMalformedBackendOutput(t *testing.T) {
	provider := &stageProvider{replies: []string{
		"# plan",
		"I cannot produce JSON right now.",
	}}
	runner, manager, projectID := newTestRunner(t, provider)

	_, err := runner.Run(context.Background(), projectID, "inventory tracker")
	var malformed *MalformedOutputError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedOutputError, got %v", err)
	}
	if malformed.Stage != "backend" {
		t.Fatalf("unexpected stage %q", malformed.Stage)
	}
	if malformed.Raw != "I cannot produce JSON right now." {
		t.Fatalf("raw completion not preserved: %q", malformed.Raw)
	}

	// The failed stage must not flip its flag.
	meta, err := manager.Get(projectID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if meta.BackendGenerated {
		t.Fatal("backend flag set despite failure")
	}
}

func TestRunProviderFailureAborts(t *testing.T) {
	provider := &stageProvider{replies: happyReplies, failAt: 3}
	runner, manager, projectID := newTestRunner(t, provider)

	_, err := runner.Run(context.Background(), projectID, "inventory tracker")
	if err == nil || !strings.Contains(err.Error(), "frontend stage") {
		t.Fatalf("expected frontend stage failure, got %v", err)
	}
	meta, _ := manager.Get(projectID)
	if !meta.BackendGenerated {
		t.Fatal("completed backend stage should have been recorded")
	}
	if meta.FrontendGenerated || meta.QACompleted {
		t.Fatalf("later stages must not be recorded: %+v", meta)
	}
}

func TestGeneratePRD(t *testing.T) {
	provider := &stageProvider{replies: []string{
		"```json\n{\"project_name\": \"Shop\", \"overview\": \"Sell things.\", \"modules\": [{\"name\": \"Sales\"}]}\n```",
	}}
	runner, manager, projectID := newTestRunner(t, provider)

	history := []llm.Message{
		{Role: "user", Content: "I need a shop system"},
		{Role: "assistant", Content: "What do you sell?"},
		{Role: "user", Content: "widgets"},
	}
	doc, err := runner.GeneratePRD(context.Background(), projectID, history)
	if err != nil {
		t.Fatalf("generate prd: %v", err)
	}
	if doc.ProjectName != "Shop" {
		t.Fatalf("unexpected document %+v", doc)
	}

	meta, err := manager.Get(projectID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if meta.Status != "prd_approved" || meta.PRD == nil {
		t.Fatalf("prd not saved: %+v", meta)
	}
	if _, err := manager.Files().ReadFile(projectID, "PRD.md"); err != nil {
		t.Fatalf("PRD.md not rendered: %v", err)
	}
}

func TestGeneratePRDMalformed(t *testing.T) {
	provider := &stageProvider{replies: []string{"sorry, no document"}}
	runner, _, projectID := newTestRunner(t, provider)

	_, err := runner.GeneratePRD(context.Background(), projectID, nil)
	var malformed *prd.MalformedError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected prd.MalformedError, got %v", err)
	}
	if malformed.Raw != "sorry, no document" {
		t.Fatalf("raw completion not preserved: %q", malformed.Raw)
	}
}
