// Package conversation runs the requirements-gathering dialogue and decides
// when a project is ready to build.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/craftlab-ai/appforge/internal/common"
	"github.com/craftlab-ai/appforge/internal/llm"
	"github.com/craftlab-ai/appforge/internal/workspace"
)

// State is a project's position in the requirements dialogue. Ready is
// terminal; a project never drops back to Gathering.
type State string

const (
	StateGathering State = "gathering"
	StateReady     State = "ready"
)

const (
	// DefaultMaxRounds caps clarifying-question rounds before readiness is
	// forced.
	DefaultMaxRounds = 1

	historyFile = "conversation.json"

	forceMarker = "__force_build__"

	forcedReply = "Thank you! I have all the requirements. Give me a moment to coordinate with my development team... [READY]"

	systemPrompt = `You are a PM Agent for ERP systems (Inventory, CRM, HR, Finance, Sales, etc).

Rules:
1. If NOT ERP-related: Reject politely, suggest ERP examples
2. If ERP but needs details: Ask 2-3 brief questions
3. If complete or user says "build/start/go": Say "Thank you! Give me a moment..." [READY]

Keep response under 150 words. One question round max.`
)

var forcePhrases = map[string]struct{}{
	"build now":    {},
	"start build":  {},
	"generate now": {},
	"start":        {},
	"/build":       {},
}

// RoundStore tracks how many clarifying rounds each project has consumed.
// The default implementation is process-local, so a restart resets counters
// while the transcript survives on disk.
type RoundStore interface {
	Rounds(projectID string) int
	SetRounds(projectID string, rounds int)
}

// MemoryRounds is the in-process RoundStore.
type MemoryRounds struct {
	mu     sync.Mutex
	rounds map[string]int
}

func NewMemoryRounds() *MemoryRounds {
	return &MemoryRounds{rounds: make(map[string]int)}
}

func (m *MemoryRounds) Rounds(projectID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rounds[projectID]
}

func (m *MemoryRounds) SetRounds(projectID string, rounds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rounds[projectID] = rounds
}

// ContextProvider supplies grounding text from uploaded documents. A nil
// provider means conversations run without document context.
type ContextProvider interface {
	ContextForQuery(ctx context.Context, projectID, query string, limit int) (string, error)
}

// Turn is the outcome of one conversation advance.
type Turn struct {
	Reply  string `json:"reply"`
	State  State  `json:"state"`
	Forced bool   `json:"forced"`
}

// Tracker drives the requirements dialogue for all projects. History is
// persisted per turn; readiness state and round counters live in memory.
type Tracker struct {
	provider  llm.Provider
	files     *workspace.Files
	retriever ContextProvider
	rounds    RoundStore
	maxRounds int

	mu      sync.Mutex
	history map[string][]llm.Message
	ready   map[string]bool
}

func NewTracker(provider llm.Provider, files *workspace.Files, retriever ContextProvider, rounds RoundStore, maxRounds int) *Tracker {
	if rounds == nil {
		rounds = NewMemoryRounds()
	}
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	return &Tracker{
		provider:  provider,
		files:     files,
		retriever: retriever,
		rounds:    rounds,
		maxRounds: maxRounds,
		history:   make(map[string][]llm.Message),
		ready:     make(map[string]bool),
	}
}

// forceBuild reports whether a user message demands an immediate build,
// bypassing the provider entirely.
func forceBuild(message string) bool {
	lower := strings.ToLower(strings.TrimSpace(message))
	if strings.Contains(lower, forceMarker) {
		return true
	}
	if _, ok := forcePhrases[lower]; ok {
		return true
	}
	return strings.Contains(lower, "go ahead") || strings.Contains(lower, "ready")
}

// replyReady reports whether a provider reply signals complete requirements.
func replyReady(reply string) bool {
	return strings.Contains(reply, "[READY]") || strings.Contains(strings.ToLower(reply), "give me a moment")
}

// Advance appends the user's message, produces the PM reply, and returns the
// resulting state. Both sides of the turn are persisted before returning.
func (t *Tracker) Advance(ctx context.Context, projectID, userMessage string) (Turn, error) {
	if strings.TrimSpace(projectID) == "" {
		return Turn{}, errors.New("project id required")
	}
	if err := t.ensureLoaded(projectID); err != nil {
		return Turn{}, err
	}

	forced := forceBuild(userMessage)

	t.appendTurn(projectID, llm.Message{Role: "user", Content: userMessage})
	if err := t.persist(projectID); err != nil {
		return Turn{}, err
	}

	var reply string
	if forced {
		reply = forcedReply
	} else {
		prompt := userMessage
		if t.retriever != nil {
			docContext, err := t.retriever.ContextForQuery(ctx, projectID, userMessage, 0)
			if err != nil {
				common.Logger().Warn("conversation: context lookup failed", "project", projectID, "error", err)
			} else if docContext != "" {
				prompt = fmt.Sprintf("Context from uploaded documents:\n%s\n\nUser: %s", docContext, userMessage)
			}
		}
		messages := t.promptMessages(projectID, prompt)
		var err error
		reply, err = t.provider.Chat(ctx, messages)
		if err != nil {
			return Turn{}, fmt.Errorf("pm chat: %w", err)
		}
	}

	ready := forced || replyReady(reply) || t.State(projectID) == StateReady
	if !ready {
		if t.rounds.Rounds(projectID) >= t.maxRounds {
			ready = true
		} else {
			t.rounds.SetRounds(projectID, t.rounds.Rounds(projectID)+1)
		}
	}

	t.appendTurn(projectID, llm.Message{Role: "assistant", Content: reply})
	if err := t.persist(projectID); err != nil {
		return Turn{}, err
	}

	state := StateGathering
	if ready {
		state = StateReady
		t.mu.Lock()
		t.ready[projectID] = true
		t.mu.Unlock()
	}
	common.Logger().Info("conversation: turn advanced", "project", projectID, "state", state, "forced", forced)
	return Turn{Reply: reply, State: state, Forced: forced}, nil
}

// promptMessages builds the provider call: system prompt, prior turns, and
// the (possibly context-enhanced) current message replacing the raw user turn.
func (t *Tracker) promptMessages(projectID, prompt string) []llm.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	history := t.history[projectID]
	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, llm.Message{Role: "system", Content: systemPrompt})
	if len(history) > 0 {
		messages = append(messages, history[:len(history)-1]...)
	}
	messages = append(messages, llm.Message{Role: "user", Content: prompt})
	return messages
}

// History returns the persisted transcript for a project.
func (t *Tracker) History(projectID string) ([]llm.Message, error) {
	if err := t.ensureLoaded(projectID); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	history := t.history[projectID]
	out := make([]llm.Message, len(history))
	copy(out, history)
	return out, nil
}

// Requirements joins the user's turns, the material the generation stages
// build from.
func (t *Tracker) Requirements(projectID string) (string, error) {
	history, err := t.History(projectID)
	if err != nil {
		return "", err
	}
	var parts []string
	for _, msg := range history {
		if msg.Role == "user" {
			parts = append(parts, msg.Content)
		}
	}
	return strings.Join(parts, "\n"), nil
}

// State reports the project's current dialogue state.
func (t *Tracker) State(projectID string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ready[projectID] {
		return StateReady
	}
	return StateGathering
}

// Reset clears the in-memory dialogue state for a project, used on project
// deletion.
func (t *Tracker) Reset(projectID string) {
	t.mu.Lock()
	delete(t.history, projectID)
	delete(t.ready, projectID)
	t.mu.Unlock()
	t.rounds.SetRounds(projectID, 0)
}

func (t *Tracker) ensureLoaded(projectID string) error {
	t.mu.Lock()
	_, loaded := t.history[projectID]
	t.mu.Unlock()
	if loaded {
		return nil
	}
	raw, err := t.files.ReadFile(projectID, historyFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			t.mu.Lock()
			t.history[projectID] = nil
			t.mu.Unlock()
			return nil
		}
		return fmt.Errorf("load conversation: %w", err)
	}
	var history []llm.Message
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		return fmt.Errorf("parse conversation for %s: %w", projectID, err)
	}
	t.mu.Lock()
	t.history[projectID] = history
	t.mu.Unlock()
	return nil
}

func (t *Tracker) appendTurn(projectID string, msg llm.Message) {
	t.mu.Lock()
	t.history[projectID] = append(t.history[projectID], msg)
	t.mu.Unlock()
}

func (t *Tracker) persist(projectID string) error {
	t.mu.Lock()
	history := t.history[projectID]
	t.mu.Unlock()
	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	if _, err := t.files.WriteFile(projectID, historyFile, string(data)); err != nil {
		return fmt.Errorf("persist conversation: %w", err)
	}
	return nil
}
