package conversation

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/craftlab-ai/appforge/internal/llm"
	"github.com/craftlab-ai/appforge/internal/workspace"
)

type scriptedProvider struct {
	replies []string
	calls   int
	last    []llm.Message
}

func (s *scriptedProvider) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	s.last = messages
	reply := s.replies[len(s.replies)-1]
	if s.calls < len(s.replies) {
		reply = s.replies[s.calls]
	}
	s.calls++
	return reply, nil
}

func (s *scriptedProvider) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	return s.Chat(ctx, []llm.Message{{Role: "user", Content: req.Prompt}})
}

func (s *scriptedProvider) Name() string { return "scripted" }

type staticContext struct {
	text string
}

func (s staticContext) ContextForQuery(ctx context.Context, projectID, query string, limit int) (string, error) {
	return s.text, nil
}

func newTestTracker(t *testing.T, provider llm.Provider, retriever ContextProvider, maxRounds int) (*Tracker, *workspace.Files) {
	t.Helper()
	files, err := workspace.NewFiles(t.TempDir())
	if err != nil {
		t.Fatalf("workspace files: %v", err)
	}
	if _, err := files.CreateProjectStructure("proj1234"); err != nil {
		t.Fatalf("project structure: %v", err)
	}
	return NewTracker(provider, files, retriever, nil, maxRounds), files
}

func TestForceBuildSkipsProvider(t *testing.T) {
	provider := &scriptedProvider{replies: []string{"should not be called"}}
	tracker, _ := newTestTracker(t, provider, nil, 1)

	turn, err := tracker.Advance(context.Background(), "proj1234", "build now")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if turn.State != StateReady || !turn.Forced {
		t.Fatalf("expected forced ready turn, got %+v", turn)
	}
	if provider.calls != 0 {
		t.Fatalf("provider should not have been called, got %d calls", provider.calls)
	}
	if !strings.Contains(turn.Reply, "[READY]") {
		t.Fatalf("forced reply missing sentinel: %q", turn.Reply)
	}
}

func TestForceBuildPhrases(t *testing.T) {
	cases := map[string]bool{
		"build now":                          true,
		"Start":                              true,
		"/build":                             true,
		"please go ahead with it":            true,
		"I think we are ready":               true,
		"__force_build__ inventory tracker":  true,
		"I need an inventory tracking app":   false,
		"can you add a reporting dashboard?": false,
	}
	for message, want := range cases {
		if got := forceBuild(message); got != want {
			t.Errorf("forceBuild(%q) = %v, want %v", message, got, want)
		}
	}
}

func TestReadySentinelInReply(t *testing.T) {
	provider := &scriptedProvider{replies: []string{"Thank you! Give me a moment... [READY]"}}
	tracker, _ := newTestTracker(t, provider, nil, 5)

	turn, err := tracker.Advance(context.Background(), "proj1234", "I need an inventory system with three roles")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if turn.State != StateReady {
		t.Fatalf("expected ready, got %+v", turn)
	}
	if turn.Forced {
		t.Fatal("reply readiness should not be marked forced")
	}
}

func TestRoundCeilingForcesReady(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		"What modules do you need?",
		"And how many user roles?",
	}}
	tracker, _ := newTestTracker(t, provider, nil, 1)
	ctx := context.Background()

	first, err := tracker.Advance(ctx, "proj1234", "I need an inventory app")
	if err != nil {
		t.Fatalf("first advance: %v", err)
	}
	if first.State != StateGathering {
		t.Fatalf("first turn should keep gathering, got %+v", first)
	}

	second, err := tracker.Advance(ctx, "proj1234", "inventory and sales modules")
	if err != nil {
		t.Fatalf("second advance: %v", err)
	}
	if second.State != StateReady {
		t.Fatalf("round ceiling should force readiness, got %+v", second)
	}
}

func TestReadyIsTerminal(t *testing.T) {
	provider := &scriptedProvider{replies: []string{"More questions?"}}
	tracker, _ := newTestTracker(t, provider, nil, 3)
	ctx := context.Background()

	if _, err := tracker.Advance(ctx, "proj1234", "build now"); err != nil {
		t.Fatalf("forced advance: %v", err)
	}
	turn, err := tracker.Advance(ctx, "proj1234", "also add a reporting module")
	if err != nil {
		t.Fatalf("follow-up advance: %v", err)
	}
	if turn.State != StateReady {
		t.Fatalf("ready must not revert, got %+v", turn)
	}
}

func TestHistoryPersistedPerTurn(t *testing.T) {
	provider := &scriptedProvider{replies: []string{"What modules do you need?"}}
	tracker, files := newTestTracker(t, provider, nil, 2)

	if _, err := tracker.Advance(context.Background(), "proj1234", "an hr system"); err != nil {
		t.Fatalf("advance: %v", err)
	}

	raw, err := files.ReadFile("proj1234", "conversation.json")
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	var history []llm.Message
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		t.Fatalf("parse transcript: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected user+assistant turns, got %d", len(history))
	}
	if history[0].Role != "user" || history[1].Role != "assistant" {
		t.Fatalf("unexpected roles %+v", history)
	}
}

func TestHistorySurvivesRestartCountersDoNot(t *testing.T) {
	files, err := workspace.NewFiles(t.TempDir())
	if err != nil {
		t.Fatalf("workspace files: %v", err)
	}
	if _, err := files.CreateProjectStructure("proj1234"); err != nil {
		t.Fatalf("project structure: %v", err)
	}
	ctx := context.Background()

	first := NewTracker(&scriptedProvider{replies: []string{"What modules?"}}, files, nil, nil, 1)
	if _, err := first.Advance(ctx, "proj1234", "an hr system"); err != nil {
		t.Fatalf("first tracker advance: %v", err)
	}

	// New tracker over the same files simulates a restart: the transcript is
	// reloaded but the round counter starts over.
	second := NewTracker(&scriptedProvider{replies: []string{"Which roles?"}}, files, nil, nil, 1)
	history, err := second.History("proj1234")
	if err != nil {
		t.Fatalf("history after restart: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("transcript lost across restart, got %d turns", len(history))
	}
	turn, err := second.Advance(ctx, "proj1234", "warehouse staff and managers")
	if err != nil {
		t.Fatalf("advance after restart: %v", err)
	}
	if turn.State != StateGathering {
		t.Fatalf("reset counter should allow another question round, got %+v", turn)
	}
}

func TestContextInjectedIntoPrompt(t *testing.T) {
	provider := &scriptedProvider{replies: []string{"Noted. [READY]"}}
	tracker, _ := newTestTracker(t, provider, staticContext{text: "[Source: spec.txt]\nthe warehouse uses barcodes\n"}, 1)

	if _, err := tracker.Advance(context.Background(), "proj1234", "use our existing barcode flow"); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if len(provider.last) == 0 {
		t.Fatal("provider saw no messages")
	}
	final := provider.last[len(provider.last)-1]
	if !strings.Contains(final.Content, "Context from uploaded documents:") {
		t.Fatalf("context not injected: %q", final.Content)
	}
	if !strings.Contains(final.Content, "the warehouse uses barcodes") {
		t.Fatalf("context text missing: %q", final.Content)
	}
	if provider.last[0].Role != "system" {
		t.Fatalf("system prompt missing, first role %q", provider.last[0].Role)
	}
}

func TestRequirementsJoinsUserTurns(t *testing.T) {
	provider := &scriptedProvider{replies: []string{"What modules?", "Noted. [READY]"}}
	tracker, _ := newTestTracker(t, provider, nil, 2)
	ctx := context.Background()

	if _, err := tracker.Advance(ctx, "proj1234", "an inventory app"); err != nil {
		t.Fatalf("first advance: %v", err)
	}
	if _, err := tracker.Advance(ctx, "proj1234", "with barcode scanning"); err != nil {
		t.Fatalf("second advance: %v", err)
	}

	requirements, err := tracker.Requirements("proj1234")
	if err != nil {
		t.Fatalf("requirements: %v", err)
	}
	if requirements != "an inventory app\nwith barcode scanning" {
		t.Fatalf("unexpected requirements %q", requirements)
	}
}
