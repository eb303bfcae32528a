package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DocumentRecord is one ingested file's bookkeeping row.
type DocumentRecord struct {
	ID         int64     `db:"id" json:"-"`
	ProjectID  string    `db:"project_id" json:"project_id"`
	Source     string    `db:"source" json:"source"`
	DocType    string    `db:"doc_type" json:"doc_type"`
	ChunkCount int       `db:"chunk_count" json:"chunk_count"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// ProjectStats summarizes ingestion activity for one project.
type ProjectStats struct {
	ProjectID     string `db:"project_id" json:"project_id"`
	DocumentCount int    `db:"document_count" json:"document_count"`
	ChunkCount    int    `db:"chunk_count" json:"chunk_count"`
}

// RecordChunks upserts the document row for a source file and replaces its
// chunk rows. Re-ingesting a file therefore replaces its bookkeeping the same
// way the vector upsert replaces its embeddings.
func (s *Store) RecordChunks(ctx context.Context, projectID, source, docType string, ids []string) error {
	if s == nil || s.db == nil {
		return errors.New("catalog store not initialised")
	}
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin record: %w", err)
	}
	defer tx.Rollback()

	var docID int64
	err = tx.GetContext(ctx, &docID,
		`SELECT id FROM documents WHERE project_id = ? AND source = ?`, projectID, source)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, insertErr := tx.ExecContext(ctx,
			`INSERT INTO documents (project_id, source, doc_type, chunk_count) VALUES (?, ?, ?, ?)`,
			projectID, source, docType, len(ids))
		if insertErr != nil {
			return fmt.Errorf("insert document: %w", insertErr)
		}
		docID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("document id: %w", err)
		}
	case err != nil:
		return fmt.Errorf("find document: %w", err)
	default:
		if _, err := tx.ExecContext(ctx,
			`UPDATE documents SET doc_type = ?, chunk_count = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			docType, len(ids), docID); err != nil {
			return fmt.Errorf("update document: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, docID); err != nil {
			return fmt.Errorf("clear chunks: %w", err)
		}
	}
	for ordinal, chunkID := range ids {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (document_id, chunk_id, ordinal) VALUES (?, ?, ?)`,
			docID, chunkID, ordinal); err != nil {
			return fmt.Errorf("insert chunk %d: %w", ordinal, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record: %w", err)
	}
	return nil
}

// Documents lists the ingested files for a project, most recent first.
func (s *Store) Documents(ctx context.Context, projectID string) ([]DocumentRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("catalog store not initialised")
	}
	var records []DocumentRecord
	err := s.db.SelectContext(ctx, &records,
		`SELECT id, project_id, source, doc_type, chunk_count, created_at, updated_at
                 FROM documents WHERE project_id = ? ORDER BY updated_at DESC, source ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return records, nil
}

// Stats reports document and chunk totals for a project. A project with no
// ingested files yields zero counts, not an error.
func (s *Store) Stats(ctx context.Context, projectID string) (ProjectStats, error) {
	if s == nil || s.db == nil {
		return ProjectStats{}, errors.New("catalog store not initialised")
	}
	stats := ProjectStats{ProjectID: projectID}
	err := s.db.GetContext(ctx, &stats,
		`SELECT project_id, document_count, chunk_count FROM project_doc_stats WHERE project_id = ?`, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return ProjectStats{ProjectID: projectID}, nil
	}
	if err != nil {
		return ProjectStats{}, fmt.Errorf("project stats: %w", err)
	}
	return stats, nil
}

// DeleteProject drops every catalog row belonging to the project. Chunk rows
// cascade from their documents.
func (s *Store) DeleteProject(ctx context.Context, projectID string) error {
	if s == nil || s.db == nil {
		return errors.New("catalog store not initialised")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("delete project documents: %w", err)
	}
	return nil
}
