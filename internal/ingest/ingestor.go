package ingest

import (
	"context"
	"fmt"

	"github.com/craftlab-ai/appforge/internal/common"
	"github.com/craftlab-ai/appforge/internal/common/telemetry"
)

// Index is the slice of the retrieval service the ingestor needs: embed and
// store documents under caller-supplied globally unique ids.
type Index interface {
	AddDocuments(ctx context.Context, documents []string, metadatas []map[string]interface{}, ids []string) error
}

// Recorder persists chunk bookkeeping rows alongside the vector index. It is
// optional; a nil recorder skips cataloging.
type Recorder interface {
	RecordChunks(ctx context.Context, projectID, source, docType string, ids []string) error
}

// Outcome is the per-file result of an ingestion attempt. Failures are data,
// not faults: a batch reports one Outcome per input file regardless of how
// many failed.
type Outcome struct {
	Success       bool   `json:"success"`
	Filename      string `json:"filename"`
	Type          string `json:"type,omitempty"`
	ChunksCreated int    `json:"chunks_created,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Ingestor runs the parse, chunk, embed, index pipeline for uploaded files.
type Ingestor struct {
	index     Index
	recorder  Recorder
	chunkSize int
}

func NewIngestor(index Index, recorder Recorder) *Ingestor {
	return &Ingestor{index: index, recorder: recorder, chunkSize: DefaultChunkSize}
}

// WithChunkSize overrides the window size used for all subsequent ingests.
func (ing *Ingestor) WithChunkSize(size int) *Ingestor {
	if size > 0 {
		ing.chunkSize = size
	}
	return ing
}

// Ingest parses one file, chunks it, and inserts the chunks into the
// retrieval index with ids of the form {project}_{filename}_{ordinal}.
// Re-ingesting the same file reuses the same ids, so the index's upsert
// semantics overwrite rather than duplicate.
func (ing *Ingestor) Ingest(ctx context.Context, path, projectID string) Outcome {
	logger := common.Logger()
	doc := ParseDocument(path)
	if doc.Err != "" {
		logger.Warn("ingest: parse failed", "file", doc.Filename, "error", doc.Err)
		telemetry.RecordIngest(0, true)
		return Outcome{Filename: doc.Filename, Error: doc.Err}
	}
	chunks := ChunkDocument(doc, ing.chunkSize)
	if len(chunks) == 0 {
		telemetry.RecordIngest(0, true)
		return Outcome{Filename: doc.Filename, Error: "No content could be extracted"}
	}
	documents := make([]string, 0, len(chunks))
	metadatas := make([]map[string]interface{}, 0, len(chunks))
	ids := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		chunk.Metadata.ProjectID = projectID
		documents = append(documents, chunk.Text)
		metadatas = append(metadatas, chunk.Metadata.Map())
		ids = append(ids, fmt.Sprintf("%s_%s_%d", projectID, doc.Filename, i))
	}
	if err := ing.index.AddDocuments(ctx, documents, metadatas, ids); err != nil {
		logger.Error("ingest: index insert failed", "file", doc.Filename, "error", err)
		telemetry.RecordIngest(0, true)
		return Outcome{Filename: doc.Filename, Error: fmt.Sprintf("index documents: %v", err)}
	}
	if ing.recorder != nil {
		if err := ing.recorder.RecordChunks(ctx, projectID, doc.Filename, string(doc.Type), ids); err != nil {
			// Catalog rows are bookkeeping; the chunks are already searchable.
			logger.Warn("ingest: catalog record failed", "file", doc.Filename, "error", err)
		}
	}
	logger.Info("ingest: file indexed", "file", doc.Filename, "type", doc.Type, "chunks", len(chunks), "project", projectID)
	telemetry.RecordIngest(len(chunks), false)
	return Outcome{Success: true, Filename: doc.Filename, Type: string(doc.Type), ChunksCreated: len(chunks)}
}

// IngestMany applies Ingest to each path in order, collecting one outcome per
// file. A failed file never aborts the rest of the batch.
func (ing *Ingestor) IngestMany(ctx context.Context, paths []string, projectID string) []Outcome {
	outcomes := make([]Outcome, 0, len(paths))
	for _, path := range paths {
		outcomes = append(outcomes, ing.Ingest(ctx, path, projectID))
	}
	return outcomes
}
