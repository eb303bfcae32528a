package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/craftlab-ai/appforge/internal/data/orchestrator"
	"github.com/craftlab-ai/appforge/internal/llm"
	"github.com/craftlab-ai/appforge/internal/llm/providers"
	"github.com/craftlab-ai/appforge/internal/vector"
)

type scriptedProvider struct {
	mu          sync.Mutex
	chatReplies []string
	completions []string
	chatCalls   int
	completes   int
}

func (p *scriptedProvider) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.chatCalls >= len(p.chatReplies) {
		return "", fmt.Errorf("unexpected chat call %d", p.chatCalls)
	}
	reply := p.chatReplies[p.chatCalls]
	p.chatCalls++
	return reply, nil
}

func (p *scriptedProvider) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.completes >= len(p.completions) {
		return "", fmt.Errorf("unexpected completion call %d", p.completes)
	}
	reply := p.completions[p.completes]
	p.completes++
	return reply, nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

var buildCompletions = []string{
	"# Development Tasks\n1. Build the backend\n2. Build the frontend",
	`{"file": "backend.py", "content": "from fastapi import FastAPI\napp = FastAPI()"}`,
	`{"files": [{"name": "index.html", "content": "<html><body>Inventory</body></html>"}, {"name": "style.css", "content": "body { margin: 0; }"}]}`,
	"# QA Report\nAll checks passed.",
}

func newTestServer(t *testing.T, provider llm.Provider) (*httptest.Server, *orchestrator.Orchestrator) {
	t.Helper()
	dir := t.TempDir()
	cfg := orchestrator.Config{
		WorkspaceRoot: filepath.Join(dir, "workspace"),
		CatalogPath:   filepath.Join(dir, "catalog.db"),
	}
	orch, err := orchestrator.New(context.Background(), cfg,
		orchestrator.WithProvider(provider),
		orchestrator.WithEmbedder(providers.NewLocalProvider()),
		orchestrator.WithVectorStore(vector.NewMemory("")),
	)
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}
	t.Cleanup(func() { _ = orch.Close() })
	srv, err := NewServer(orch, &Config{UploadRoot: filepath.Join(dir, "uploads")})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts, orch
}

func postJSON(t *testing.T, url string, payload interface{}) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func createProject(t *testing.T, ts *httptest.Server, name string) string {
	t.Helper()
	resp := postJSON(t, ts.URL+"/v1/projects", createProjectRequest{Name: name, Description: "test project"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create project status = %d", resp.StatusCode)
	}
	var created createProjectResponse
	decodeInto(t, resp, &created)
	if created.Project == nil || created.Project.ProjectID == "" {
		t.Fatal("created project missing id")
	}
	return created.Project.ProjectID
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t, providers.NewLocalProvider())
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" {
		t.Fatalf("body = %q", body)
	}
}

func TestProjectLifecycle(t *testing.T) {
	ts, _ := newTestServer(t, providers.NewLocalProvider())
	projectID := createProject(t, ts, "Inventory")
	if len(projectID) != 8 {
		t.Fatalf("project id = %q", projectID)
	}

	resp, err := http.Get(ts.URL + "/v1/projects/" + projectID)
	if err != nil {
		t.Fatalf("GET project: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get project status = %d", resp.StatusCode)
	}
	var detail projectDetail
	decodeInto(t, resp, &detail)
	if detail.Project.Name != "Inventory" {
		t.Fatalf("project name = %q", detail.Project.Name)
	}
	if detail.Stats.ChunkCount != 0 {
		t.Fatalf("expected zero chunks, got %d", detail.Stats.ChunkCount)
	}

	resp, err = http.Get(ts.URL + "/v1/projects")
	if err != nil {
		t.Fatalf("GET projects: %v", err)
	}
	var listing struct {
		Projects []json.RawMessage `json:"projects"`
	}
	decodeInto(t, resp, &listing)
	if len(listing.Projects) != 1 {
		t.Fatalf("expected 1 project, got %d", len(listing.Projects))
	}

	resp, err = http.Get(ts.URL + "/v1/projects/" + projectID + "/file-tree")
	if err != nil {
		t.Fatalf("GET file-tree: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("file-tree status = %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/projects/"+projectID, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE project: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp, err = http.Get(ts.URL + "/v1/projects/" + projectID)
	if err != nil {
		t.Fatalf("GET deleted project: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestUnknownProjectReturnsNotFound(t *testing.T) {
	ts, _ := newTestServer(t, providers.NewLocalProvider())
	resp, err := http.Get(ts.URL + "/v1/projects/deadbeef")
	if err != nil {
		t.Fatalf("GET project: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestChatValidation(t *testing.T) {
	ts, _ := newTestServer(t, providers.NewLocalProvider())
	resp := postJSON(t, ts.URL+"/v1/chat", chatRequest{Message: "hello"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing project_id status = %d", resp.StatusCode)
	}
	resp = postJSON(t, ts.URL+"/v1/chat", chatRequest{ProjectID: "deadbeef", Message: "hello"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown project status = %d", resp.StatusCode)
	}
}

func TestChatForceBuildRunsPipeline(t *testing.T) {
	provider := &scriptedProvider{completions: buildCompletions}
	ts, _ := newTestServer(t, provider)
	projectID := createProject(t, ts, "Inventory")

	resp := postJSON(t, ts.URL+"/v1/chat", chatRequest{ProjectID: projectID, Message: "build now"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chat status = %d", resp.StatusCode)
	}
	var chat chatResponse
	decodeInto(t, resp, &chat)
	if !chat.Forced {
		t.Fatal("expected forced turn")
	}
	if chat.State != "ready" {
		t.Fatalf("state = %q", chat.State)
	}
	if chat.Build == nil {
		t.Fatal("expected build result")
	}
	if chat.Build.PreviewURL != "/projects/"+projectID+"/index.html" {
		t.Fatalf("preview url = %q", chat.Build.PreviewURL)
	}
	if len(chat.Build.Files) == 0 {
		t.Fatal("expected generated files")
	}

	preview, err := http.Get(ts.URL + chat.Build.PreviewURL)
	if err != nil {
		t.Fatalf("GET preview: %v", err)
	}
	defer preview.Body.Close()
	if preview.StatusCode != http.StatusOK {
		t.Fatalf("preview status = %d", preview.StatusCode)
	}
	if ct := preview.Header.Get("Content-Type"); !strings.Contains(ct, "text/html") {
		t.Fatalf("preview content type = %q", ct)
	}
	body, _ := io.ReadAll(preview.Body)
	if !strings.Contains(string(body), "Inventory") {
		t.Fatalf("preview body = %q", body)
	}

	fileResp, err := http.Get(ts.URL + "/v1/projects/" + projectID + "/file?path=QA_REPORT.md")
	if err != nil {
		t.Fatalf("GET file: %v", err)
	}
	if fileResp.StatusCode != http.StatusOK {
		t.Fatalf("file status = %d", fileResp.StatusCode)
	}
	var file struct {
		Content string `json:"content"`
	}
	decodeInto(t, fileResp, &file)
	if !strings.Contains(file.Content, "QA Report") {
		t.Fatalf("qa report content = %q", file.Content)
	}
}

func TestChatMalformedBackendOutput(t *testing.T) {
	provider := &scriptedProvider{completions: []string{
		"# Development Tasks",
		"sorry, I cannot produce code right now",
	}}
	ts, _ := newTestServer(t, provider)
	projectID := createProject(t, ts, "Inventory")

	resp := postJSON(t, ts.URL+"/v1/chat", chatRequest{ProjectID: projectID, Message: "build now"})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var payload struct {
		Stage string `json:"stage"`
		Raw   string `json:"raw"`
	}
	decodeInto(t, resp, &payload)
	if payload.Stage != "backend" {
		t.Fatalf("stage = %q", payload.Stage)
	}
	if !strings.Contains(payload.Raw, "sorry") {
		t.Fatalf("raw = %q", payload.Raw)
	}
}

func TestFileReadRejectsEscape(t *testing.T) {
	ts, _ := newTestServer(t, providers.NewLocalProvider())
	projectID := createProject(t, ts, "Inventory")
	resp, err := http.Get(ts.URL + "/v1/projects/" + projectID + "/file?path=..%2Fsecrets.txt")
	if err != nil {
		t.Fatalf("GET file: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestIngestUploadAndContext(t *testing.T) {
	ts, _ := newTestServer(t, providers.NewLocalProvider())
	projectID := createProject(t, ts, "Inventory")

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("project_id", projectID); err != nil {
		t.Fatalf("write field: %v", err)
	}
	part, err := writer.CreateFormFile("files", "requirements.txt")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := io.WriteString(part, "Invoices are emailed to customers every Friday."); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	resp, err := http.Post(ts.URL+"/v1/ingest/upload", writer.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST upload: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	var upload ingestUploadResponse
	decodeInto(t, resp, &upload)
	if upload.Uploaded != 1 {
		t.Fatalf("uploaded = %d", upload.Uploaded)
	}
	if upload.Chunks == 0 {
		t.Fatal("expected chunks created")
	}
	if len(upload.Outcomes) != 1 || !upload.Outcomes[0].Success {
		t.Fatalf("outcomes = %+v", upload.Outcomes)
	}

	detailResp, err := http.Get(ts.URL + "/v1/projects/" + projectID)
	if err != nil {
		t.Fatalf("GET project: %v", err)
	}
	var detail projectDetail
	decodeInto(t, detailResp, &detail)
	if detail.Stats.DocumentCount != 1 {
		t.Fatalf("document count = %d", detail.Stats.DocumentCount)
	}
	if len(detail.Documents) != 1 || detail.Documents[0].Source != "requirements.txt" {
		t.Fatalf("documents = %+v", detail.Documents)
	}

	ctxResp := postJSON(t, ts.URL+"/v1/context", contextRequest{ProjectID: projectID, Query: "when are invoices emailed"})
	if ctxResp.StatusCode != http.StatusOK {
		t.Fatalf("context status = %d", ctxResp.StatusCode)
	}
	var ctxPayload contextResponse
	decodeInto(t, ctxResp, &ctxPayload)
	if !strings.Contains(ctxPayload.Context, "[Source: requirements.txt]") {
		t.Fatalf("context block = %q", ctxPayload.Context)
	}
	if len(ctxPayload.Results) == 0 {
		t.Fatal("expected retrieval results")
	}
}

func TestIngestUploadRequiresProject(t *testing.T) {
	ts, _ := newTestServer(t, providers.NewLocalProvider())

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("project_id", "deadbeef"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	part, err := writer.CreateFormFile("files", "notes.txt")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = io.WriteString(part, "notes")
	_ = writer.Close()

	resp, err := http.Post(ts.URL+"/v1/ingest/upload", writer.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST upload: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestGeneratePRD(t *testing.T) {
	prdJSON := "```json\n" + `{"project_name": "Inventory", "overview": "Tracks stock levels.", "modules": [{"name": "Stock", "description": "Stock management", "features": ["list items"]}]}` + "\n```"
	provider := &scriptedProvider{
		chatReplies: []string{"Which modules do you need?"},
		completions: []string{prdJSON},
	}
	ts, _ := newTestServer(t, provider)
	projectID := createProject(t, ts, "Inventory")

	resp := postJSON(t, ts.URL+"/v1/chat/prd", map[string]string{"project_id": projectID})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty history status = %d", resp.StatusCode)
	}

	chatResp := postJSON(t, ts.URL+"/v1/chat", chatRequest{ProjectID: projectID, Message: "an inventory app please"})
	chatResp.Body.Close()
	if chatResp.StatusCode != http.StatusOK {
		t.Fatalf("chat status = %d", chatResp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/v1/chat/prd", map[string]string{"project_id": projectID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("prd status = %d", resp.StatusCode)
	}
	var payload struct {
		PRD struct {
			ProjectName string `json:"project_name"`
		} `json:"prd"`
	}
	decodeInto(t, resp, &payload)
	if payload.PRD.ProjectName != "Inventory" {
		t.Fatalf("prd project name = %q", payload.PRD.ProjectName)
	}
}

func TestLogsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, providers.NewLocalProvider())
	createProject(t, ts, "Inventory")
	resp, err := http.Get(ts.URL + "/v1/logs")
	if err != nil {
		t.Fatalf("GET logs: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var payload struct {
		Logs []map[string]interface{} `json:"logs"`
	}
	decodeInto(t, resp, &payload)
	if len(payload.Logs) == 0 {
		t.Fatal("expected captured log entries")
	}
}
