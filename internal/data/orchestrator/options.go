package orchestrator

import (
	"github.com/craftlab-ai/appforge/internal/llm"
	"github.com/craftlab-ai/appforge/internal/vector"
)

type Option func(*options)

type options struct {
	vector   vector.Store
	provider llm.Provider
	embedder llm.Embedder
}

// WithVectorStore injects a vector store implementation.
func WithVectorStore(store vector.Store) Option {
	return func(o *options) {
		o.vector = store
	}
}

// WithProvider injects an LLM provider, bypassing env selection.
func WithProvider(provider llm.Provider) Option {
	return func(o *options) {
		o.provider = provider
	}
}

// WithEmbedder injects an embedding backend, bypassing env selection.
func WithEmbedder(embedder llm.Embedder) Option {
	return func(o *options) {
		o.embedder = embedder
	}
}
