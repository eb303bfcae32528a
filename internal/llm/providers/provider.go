package providers

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
)

// Message is a single turn handed to a chat provider.
type Message struct {
	Role    string
	Content string
}

// CompletionRequest describes a single-prompt completion. Temperature and
// MaxTokens of zero fall back to the provider defaults.
type CompletionRequest struct {
	Prompt       string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

// Provider is the single capability the conversation and generation layers
// depend on. Implementations wrap one remote API each; the variant is chosen
// once at startup.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	Name() string
}

// Embedder turns a batch of texts into vectors. The retrieval index is
// agnostic to which backend produced them.
type Embedder interface {
	Embed(ctx context.Context, input []string) ([][]float32, error)
	EmbedderName() string
}

// ErrEmbeddingsUnsupported is returned by chat-only providers.
var ErrEmbeddingsUnsupported = errors.New("provider does not support embeddings")

const localEmbedDim = 16

// LocalProvider is a deterministic offline fallback used when no API key is
// configured. Replies echo the last message; embeddings hash token counts into
// a small fixed-width vector so similarity ordering stays stable in tests.
type LocalProvider struct{}

func NewLocalProvider() *LocalProvider {
	return &LocalProvider{}
}

func (l *LocalProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("no messages provided")
	}
	last := messages[len(messages)-1].Content
	return "[local] " + strings.TrimSpace(last), nil
}

func (l *LocalProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	return l.Chat(ctx, []Message{{Role: "user", Content: req.Prompt}})
}

func (l *LocalProvider) Embed(ctx context.Context, input []string) ([][]float32, error) {
	vectors := make([][]float32, len(input))
	for i, text := range input {
		vec := make([]float32, localEmbedDim)
		for _, token := range strings.Fields(strings.ToLower(text)) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(token))
			vec[h.Sum32()%localEmbedDim]++
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (l *LocalProvider) Name() string { return "local" }

func (l *LocalProvider) EmbedderName() string { return "local" }
