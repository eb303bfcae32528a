// Package orchestrator wires the stores and services that back the AppForge
// server and exposes accessors for the API layer.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/craftlab-ai/appforge/internal/catalog"
	"github.com/craftlab-ai/appforge/internal/common"
	"github.com/craftlab-ai/appforge/internal/conversation"
	"github.com/craftlab-ai/appforge/internal/ingest"
	"github.com/craftlab-ai/appforge/internal/llm"
	"github.com/craftlab-ai/appforge/internal/pipeline"
	"github.com/craftlab-ai/appforge/internal/rag"
	"github.com/craftlab-ai/appforge/internal/vector"
	"github.com/craftlab-ai/appforge/internal/workspace"
)

type closer interface {
	Close() error
}

// Orchestrator owns the wired service graph: workspace, catalog, vector
// index, retrieval, conversation tracking, ingestion, and the generation
// pipeline.
type Orchestrator struct {
	cfg Config

	files    *workspace.Files
	manager  *workspace.Manager
	catalog  *catalog.Store
	vector   vector.Store
	rag      *rag.Service
	provider llm.Provider
	embedder llm.Embedder
	tracker  *conversation.Tracker
	ingestor *ingest.Ingestor
	runner   *pipeline.Runner

	closers []closer
}

// New constructs an orchestrator from the provided configuration and optional
// overrides.
func New(ctx context.Context, cfg Config, opts ...Option) (*Orchestrator, error) {
	cfg = applyDefaults(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	settings := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}

	files, err := workspace.NewFiles(cfg.WorkspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("init workspace: %w", err)
	}
	manager := workspace.NewManager(files)

	catalogStore, err := catalog.Open(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("init catalog: %w", err)
	}

	var vec vector.Store
	switch {
	case settings.vector != nil:
		vec = settings.vector
	case shouldEnableChroma():
		client, err := vector.NewFromEnv(ctx)
		if err != nil {
			catalogStore.Close()
			return nil, fmt.Errorf("init vector client: %w", err)
		}
		vec = client
		if !client.Available() {
			common.Logger().Warn("orchestrator: chromadb unreachable, retrieval degrades until it recovers")
		}
	default:
		common.Logger().Info("orchestrator: no chromadb configured, using in-memory vector index")
		vec = vector.NewMemory("")
	}

	provider := settings.provider
	if provider == nil {
		provider = llm.NewProvider()
	}
	embedder := settings.embedder
	if embedder == nil {
		embedder = llm.NewEmbedder()
	}

	ragService := rag.NewService(embedder, vec)
	tracker := conversation.NewTracker(provider, files, ragService, nil, cfg.MaxRounds)
	ingestor := ingest.NewIngestor(ragService, catalogStore)
	runner := pipeline.NewRunner(provider, manager)

	orch := &Orchestrator{
		cfg:      cfg,
		files:    files,
		manager:  manager,
		catalog:  catalogStore,
		vector:   vec,
		rag:      ragService,
		provider: provider,
		embedder: embedder,
		tracker:  tracker,
		ingestor: ingestor,
		runner:   runner,
	}
	orch.closers = append(orch.closers, catalogStore)
	if c, ok := vec.(closer); ok {
		orch.closers = append(orch.closers, c)
	}
	return orch, nil
}

// Manager exposes the project lifecycle manager.
func (o *Orchestrator) Manager() *workspace.Manager {
	if o == nil {
		return nil
	}
	return o.manager
}

// Files exposes the workspace file store.
func (o *Orchestrator) Files() *workspace.Files {
	if o == nil {
		return nil
	}
	return o.files
}

// Catalog exposes the SQLite ingestion catalog.
func (o *Orchestrator) Catalog() *catalog.Store {
	if o == nil {
		return nil
	}
	return o.catalog
}

// Vector exposes the configured vector store.
func (o *Orchestrator) Vector() vector.Store {
	if o == nil {
		return nil
	}
	return o.vector
}

// RAG exposes the retrieval service.
func (o *Orchestrator) RAG() *rag.Service {
	if o == nil {
		return nil
	}
	return o.rag
}

// Provider exposes the chat backend.
func (o *Orchestrator) Provider() llm.Provider {
	if o == nil {
		return nil
	}
	return o.provider
}

// Tracker exposes the conversation state machine.
func (o *Orchestrator) Tracker() *conversation.Tracker {
	if o == nil {
		return nil
	}
	return o.tracker
}

// Ingestor exposes the document ingestion pipeline.
func (o *Orchestrator) Ingestor() *ingest.Ingestor {
	if o == nil {
		return nil
	}
	return o.ingestor
}

// Runner exposes the generation pipeline.
func (o *Orchestrator) Runner() *pipeline.Runner {
	if o == nil {
		return nil
	}
	return o.runner
}

// DeleteProject tears down every trace of a project: workspace files, catalog
// rows, vector chunks, and in-memory conversation state.
func (o *Orchestrator) DeleteProject(ctx context.Context, projectID string) error {
	if o == nil {
		return errors.New("orchestrator not configured")
	}
	if err := o.manager.Delete(projectID); err != nil {
		return err
	}
	if err := o.rag.DeleteProject(ctx, projectID); err != nil {
		common.Logger().Warn("orchestrator: vector teardown failed", "project", projectID, "error", err)
	}
	if err := o.catalog.DeleteProject(ctx, projectID); err != nil {
		common.Logger().Warn("orchestrator: catalog teardown failed", "project", projectID, "error", err)
	}
	o.tracker.Reset(projectID)
	return nil
}

// Close releases any resources associated with the orchestrator.
func (o *Orchestrator) Close() error {
	if o == nil {
		return nil
	}
	var err error
	for i := len(o.closers) - 1; i >= 0; i-- {
		closer := o.closers[i]
		if closer == nil {
			continue
		}
		if cerr := closer.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	return err
}

func shouldEnableChroma() bool {
	keys := []string{
		"APPFORGE_CHROMA_CONFIG_FILE",
		"APPFORGE_CHROMA_HOST",
		"APPFORGE_CHROMA_PORT",
		"APPFORGE_CHROMA_SCHEME",
		"APPFORGE_CHROMA_COLLECTION",
		"APPFORGE_CHROMA_API_KEY",
		"APPFORGE_CHROMA_TIMEOUT",
	}
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
			return true
		}
	}
	return false
}
