package vector

import (
	"context"
	"math"
	"sort"
	"sync"
)

type memoryEntry struct {
	id        string
	document  string
	metadata  map[string]interface{}
	embedding []float32
}

// Memory is an in-process Store used when no ChromaDB instance is reachable.
// Contents do not survive a restart; retrieval degrades to whatever was
// ingested during the current process lifetime.
type Memory struct {
	mu         sync.RWMutex
	collection string
	entries    map[string]memoryEntry
}

func NewMemory(collection string) *Memory {
	if collection == "" {
		collection = "appforge_docs"
	}
	return &Memory{collection: collection, entries: make(map[string]memoryEntry)}
}

func (m *Memory) Available() bool { return m != nil }

func (m *Memory) Collection() string {
	if m == nil {
		return ""
	}
	return m.collection
}

func (m *Memory) Upsert(ctx context.Context, ids []string, documents []string, metadatas []map[string]interface{}, embeddings [][]float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range ids {
		entry := memoryEntry{id: id}
		if i < len(documents) {
			entry.document = documents[i]
		}
		if i < len(metadatas) {
			entry.metadata = metadatas[i]
		}
		if i < len(embeddings) {
			entry.embedding = embeddings[i]
		}
		m.entries[id] = entry
	}
	return nil
}

func (m *Memory) Query(ctx context.Context, vector []float32, limit int, where map[string]interface{}) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 5
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]SearchResult, 0, len(m.entries))
	for _, entry := range m.entries {
		if !matchesFilter(entry.metadata, where) {
			continue
		}
		results = append(results, SearchResult{
			ID:       entry.id,
			Score:    cosine(vector, entry.embedding),
			Document: entry.document,
			Metadata: entry.metadata,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (m *Memory) Delete(ctx context.Context, where map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, entry := range m.entries {
		if matchesFilter(entry.metadata, where) {
			delete(m.entries, id)
		}
	}
	return nil
}

var _ Store = (*Memory)(nil)

func matchesFilter(metadata, where map[string]interface{}) bool {
	for key, want := range where {
		if metadata == nil || metadata[key] != want {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
