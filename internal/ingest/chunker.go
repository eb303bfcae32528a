package ingest

import (
	"fmt"
	"strings"
)

const (
	// DefaultChunkSize bounds a chunk in characters.
	DefaultChunkSize = 1000
	// DefaultOverlap is the repeated run between consecutive chunks.
	DefaultOverlap = 200
)

// Metadata carries chunk provenance through the retrieval index and back out
// with query results.
type Metadata struct {
	Source      string `json:"source"`
	Type        string `json:"type"`
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
	Sheet       string `json:"sheet,omitempty"`
	ProjectID   string `json:"project_id,omitempty"`
}

// Map renders the metadata as the flat key/value form the vector store keeps.
func (m Metadata) Map() map[string]interface{} {
	out := map[string]interface{}{
		"source":       m.Source,
		"type":         m.Type,
		"chunk_index":  m.ChunkIndex,
		"total_chunks": m.TotalChunks,
	}
	if m.Sheet != "" {
		out["sheet"] = m.Sheet
	}
	if m.ProjectID != "" {
		out["project_id"] = m.ProjectID
	}
	return out
}

// Chunk is one bounded fragment of a parsed document.
type Chunk struct {
	Text     string
	Metadata Metadata
}

// ChunkText splits text into windows of at most size characters with overlap
// characters repeated between consecutive windows. When a window ends before
// the true end of the text, it is truncated at the last sentence terminator or
// newline, provided that break sits past half the window; this trades a
// shorter chunk for a cleaner boundary. Whitespace-only windows are dropped.
func ChunkText(text string, size, overlap int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 5
	}
	runes := []rune(text)
	total := len(runes)
	var chunks []string
	start := 0
	for start < total {
		end := start + size
		if end >= total {
			if trimmed := strings.TrimSpace(string(runes[start:total])); trimmed != "" {
				chunks = append(chunks, trimmed)
			}
			break
		}
		window := runes[start:end]
		if brk := lastBoundary(window); brk > size/2 {
			window = window[:brk+1]
			end = start + brk + 1
		}
		if trimmed := strings.TrimSpace(string(window)); trimmed != "" {
			chunks = append(chunks, trimmed)
		}
		next := end - overlap
		if next <= start {
			// Guards against stalls when overlap eats the whole boundary-snapped window.
			next = end
		}
		start = next
	}
	return chunks
}

func lastBoundary(window []rune) int {
	for i := len(window) - 1; i >= 0; i-- {
		if window[i] == '.' || window[i] == '\n' {
			return i
		}
	}
	return -1
}

// ChunkDocument splits a parsed document into chunks with provenance
// metadata. Text-bearing types chunk FullText directly; spreadsheets chunk
// each sheet's flattened summary independently, tagging the sheet name. A
// document carrying a parse error yields no chunks.
func ChunkDocument(doc Document, size int) []Chunk {
	if doc.Err != "" {
		return nil
	}
	overlap := DefaultOverlap
	if overlap >= size && size > 0 {
		overlap = size / 5
	}
	var chunks []Chunk
	switch doc.Type {
	case TypePDF, TypeDocx, TypeText:
		texts := ChunkText(doc.FullText, size, overlap)
		for i, text := range texts {
			chunks = append(chunks, Chunk{
				Text: text,
				Metadata: Metadata{
					Source:      doc.Filename,
					Type:        string(doc.Type),
					ChunkIndex:  i,
					TotalChunks: len(texts),
				},
			})
		}
	case TypeXlsx:
		for _, sheet := range doc.Sheets {
			texts := ChunkText(sheet.Summary, size, overlap)
			for i, text := range texts {
				chunks = append(chunks, Chunk{
					Text: text,
					Metadata: Metadata{
						Source:      fmt.Sprintf("%s - %s", doc.Filename, sheet.Name),
						Type:        string(doc.Type),
						Sheet:       sheet.Name,
						ChunkIndex:  i,
						TotalChunks: len(texts),
					},
				})
			}
		}
	}
	return chunks
}
