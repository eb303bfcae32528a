package llm

import (
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	openai "github.com/openai/openai-go/v2"
	openaiopt "github.com/openai/openai-go/v2/option"

	"github.com/craftlab-ai/appforge/internal/common"
	"github.com/craftlab-ai/appforge/internal/llm/providers"
)

type Message = providers.Message

type CompletionRequest = providers.CompletionRequest

type Provider = providers.Provider

type Embedder = providers.Embedder

// NewProvider selects the chat backend once at startup. APPFORGE_LLM_PROVIDER
// picks among openai, anthropic and local; when unset the first backend with
// an API key wins, falling back to the offline stub.
func NewProvider() Provider {
	logger := common.Logger()
	choice := strings.ToLower(strings.TrimSpace(os.Getenv("APPFORGE_LLM_PROVIDER")))
	switch choice {
	case "openai":
		if p := newOpenAI(); p != nil {
			return p
		}
		logger.Warn("llm: OPENAI_API_KEY not set; falling back to local provider")
	case "anthropic":
		if p := newAnthropic(); p != nil {
			return p
		}
		logger.Warn("llm: ANTHROPIC_API_KEY not set; falling back to local provider")
	case "local":
	case "":
		if p := newOpenAI(); p != nil {
			return p
		}
		if p := newAnthropic(); p != nil {
			return p
		}
		logger.Warn("llm: no provider API key set; using local provider")
	default:
		logger.Warn("llm: unknown provider, using local", "provider", choice)
	}
	return providers.NewLocalProvider()
}

// NewEmbedder selects the embedding backend. APPFORGE_EMBEDDINGS_PROVIDER
// accepts openai or local; the default mirrors NewProvider's key detection.
// Anthropic exposes no embedding endpoint, so it is never a candidate here.
func NewEmbedder() Embedder {
	logger := common.Logger()
	choice := strings.ToLower(strings.TrimSpace(os.Getenv("APPFORGE_EMBEDDINGS_PROVIDER")))
	switch choice {
	case "openai":
		if p := newOpenAI(); p != nil {
			return p
		}
		logger.Warn("llm: OPENAI_API_KEY not set; using local embeddings")
	case "local":
	case "":
		if p := newOpenAI(); p != nil {
			return p
		}
		logger.Info("llm: using local embeddings")
	default:
		logger.Warn("llm: unknown embeddings provider, using local", "provider", choice)
	}
	return providers.NewLocalProvider()
}

func newOpenAI() *providers.OpenAIProvider {
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil
	}
	logger := common.Logger()
	opts := []openaiopt.RequestOption{openaiopt.WithAPIKey(apiKey)}
	if timeoutStr := strings.TrimSpace(os.Getenv("OPENAI_HTTP_TIMEOUT")); timeoutStr != "" {
		timeout, err := time.ParseDuration(timeoutStr)
		if err != nil {
			logger.Warn("llm: invalid OPENAI_HTTP_TIMEOUT, using default", "value", timeoutStr, "error", err)
		} else {
			opts = append(opts, openaiopt.WithRequestTimeout(timeout))
		}
	}
	if endpoint := strings.TrimSpace(os.Getenv("OPENAI_ENDPOINT")); endpoint != "" {
		logger.Info("llm: configuring OpenAI client with custom endpoint", "endpoint", endpoint)
		opts = append(opts, openaiopt.WithBaseURL(endpoint))
	}
	client := openai.NewClient(opts...)
	logger.Info("llm: OpenAI provider selected")
	return providers.NewOpenAIProvider(client)
}

func newAnthropic() *providers.AnthropicProvider {
	apiKey := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	if apiKey == "" {
		return nil
	}
	client := anthropic.NewClient(anthropicopt.WithAPIKey(apiKey))
	common.Logger().Info("llm: Anthropic provider selected")
	return providers.NewAnthropicProvider(client)
}
