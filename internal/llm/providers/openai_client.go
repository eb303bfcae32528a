package providers

import (
	"context"
	"fmt"
	"os"
	"time"

	openai "github.com/openai/openai-go/v2"

	"github.com/craftlab-ai/appforge/internal/common"
	"github.com/craftlab-ai/appforge/internal/common/telemetry"
)

// OpenAIProvider backs both chat completions and embeddings with the OpenAI
// API.
type OpenAIProvider struct {
	client     openai.Client
	chatModel  string
	embedModel string
}

func NewOpenAIProvider(client openai.Client) *OpenAIProvider {
	chatModel := os.Getenv("OPENAI_CHAT_MODEL")
	if chatModel == "" {
		chatModel = "gpt-4o-mini"
	}
	embedModel := os.Getenv("OPENAI_EMBED_MODEL")
	if embedModel == "" {
		embedModel = "text-embedding-3-small"
	}
	logger := common.Logger()
	logger.Info("llm: OpenAI provider configured", "chat_model", chatModel, "embed_model", embedModel)
	return &OpenAIProvider{client: client, chatModel: chatModel, embedModel: embedModel}
}

func (o *OpenAIProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	logger := common.Logger()
	logger.Debug("llm: sending chat completion request", "model", o.chatModel, "messages", len(messages))
	params := openai.ChatCompletionNewParams{Model: openai.ChatModel(o.chatModel)}
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			params.Messages = append(params.Messages, openai.SystemMessage(msg.Content))
		case "assistant":
			params.Messages = append(params.Messages, openai.AssistantMessage(msg.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(msg.Content))
		}
	}
	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, params)
	telemetry.RecordLLMCall("openai.chat", time.Since(start))
	if err != nil {
		logger.Error("llm: chat completion failed", "error", err)
		return "", fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai chat: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	params := openai.ChatCompletionNewParams{Model: openai.ChatModel(o.chatModel)}
	if req.SystemPrompt != "" {
		params.Messages = append(params.Messages, openai.SystemMessage(req.SystemPrompt))
	}
	params.Messages = append(params.Messages, openai.UserMessage(req.Prompt))
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, params)
	telemetry.RecordLLMCall("openai.complete", time.Since(start))
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai completion: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAIProvider) Embed(ctx context.Context, input []string) ([][]float32, error) {
	if len(input) == 0 {
		return nil, nil
	}
	logger := common.Logger()
	logger.Debug("llm: creating embeddings", "model", o.embedModel, "items", len(input))
	start := time.Now()
	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(o.embedModel),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: input},
	})
	telemetry.RecordLLMCall("openai.embed", time.Since(start))
	if err != nil {
		logger.Error("llm: embedding request failed", "error", err)
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	vectors := make([][]float32, 0, len(resp.Data))
	for _, data := range resp.Data {
		vec := make([]float32, len(data.Embedding))
		for i, v := range data.Embedding {
			vec[i] = float32(v)
		}
		vectors = append(vectors, vec)
	}
	return vectors, nil
}

func (o *OpenAIProvider) Name() string { return "openai" }

func (o *OpenAIProvider) EmbedderName() string { return "openai" }
