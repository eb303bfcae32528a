package providers

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/craftlab-ai/appforge/internal/common"
	"github.com/craftlab-ai/appforge/internal/common/telemetry"
)

const anthropicDefaultMaxTokens = 2048

// AnthropicProvider wraps the Claude messages API. The API requires system
// text as a top-level parameter and strict user/assistant alternation, so the
// incoming messages are normalized before sending. Embeddings are not offered
// by this backend.
type AnthropicProvider struct {
	client anthropic.Client
	model  anthropic.Model
}

func NewAnthropicProvider(client anthropic.Client) *AnthropicProvider {
	model := os.Getenv("ANTHROPIC_MODEL")
	if model == "" {
		model = "claude-sonnet-4-5"
	}
	common.Logger().Info("llm: Anthropic provider configured", "model", model)
	return &AnthropicProvider{client: client, model: anthropic.Model(model)}
}

func (a *AnthropicProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	system, turns := splitSystem(messages)
	if len(turns) == 0 {
		return "", fmt.Errorf("no messages provided")
	}
	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: anthropicDefaultMaxTokens,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	for _, msg := range turns {
		role := anthropic.MessageParamRoleUser
		if msg.Role == "assistant" {
			role = anthropic.MessageParamRoleAssistant
		}
		params.Messages = append(params.Messages, anthropic.MessageParam{
			Role:    role,
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Content)},
		})
	}
	start := time.Now()
	resp, err := a.client.Messages.New(ctx, params)
	telemetry.RecordLLMCall("anthropic.chat", time.Since(start))
	if err != nil {
		common.Logger().Error("llm: anthropic message failed", "error", err)
		return "", fmt.Errorf("anthropic chat: %w", err)
	}
	var out strings.Builder
	for _, block := range resp.Content {
		out.WriteString(block.Text)
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("anthropic chat: empty response")
	}
	return out.String(), nil
}

func (a *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: anthropicDefaultMaxTokens,
		Messages: []anthropic.MessageParam{{
			Role:    anthropic.MessageParamRoleUser,
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(req.Prompt)},
		}},
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = int64(req.MaxTokens)
	}
	start := time.Now()
	resp, err := a.client.Messages.New(ctx, params)
	telemetry.RecordLLMCall("anthropic.complete", time.Since(start))
	if err != nil {
		return "", fmt.Errorf("anthropic completion: %w", err)
	}
	var out strings.Builder
	for _, block := range resp.Content {
		out.WriteString(block.Text)
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("anthropic completion: empty response")
	}
	return out.String(), nil
}

func (a *AnthropicProvider) Name() string { return "anthropic" }

// splitSystem pulls system turns out of the message list and merges
// consecutive same-role turns so the remainder alternates.
func splitSystem(messages []Message) (string, []Message) {
	var system []string
	var turns []Message
	for _, msg := range messages {
		if msg.Role == "system" {
			system = append(system, msg.Content)
			continue
		}
		if n := len(turns); n > 0 && turns[n-1].Role == msg.Role {
			turns[n-1].Content = turns[n-1].Content + "\n\n" + msg.Content
			continue
		}
		turns = append(turns, msg)
	}
	return strings.Join(system, "\n\n"), turns
}
