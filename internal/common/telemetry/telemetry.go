package telemetry

import (
	"strings"
	"sync"
	"time"

	"expvar"
)

var (
	initOnce sync.Once

	ingestFilesTotal  *expvar.Int
	ingestChunksTotal *expvar.Int
	ingestErrorsTotal *expvar.Int

	vectorSearchTotal     *expvar.Int
	vectorSearchLatencyMS *expvar.Int

	llmCallTotal     *expvar.Map
	llmCallLatencyMS *expvar.Map
)

func ensureInit() {
	initOnce.Do(func() {
		ingestFilesTotal = expvar.NewInt("appforge_ingest_files_total")
		ingestChunksTotal = expvar.NewInt("appforge_ingest_chunks_total")
		ingestErrorsTotal = expvar.NewInt("appforge_ingest_errors_total")

		vectorSearchTotal = expvar.NewInt("appforge_vector_search_total")
		vectorSearchLatencyMS = expvar.NewInt("appforge_vector_search_latency_ms")

		llmCallTotal = expvar.NewMap("appforge_llm_calls_total")
		llmCallLatencyMS = expvar.NewMap("appforge_llm_call_latency_ms")
	})
}

// RecordIngest accumulates per-file ingestion outcomes.
func RecordIngest(chunks int, failed bool) {
	ensureInit()
	ingestFilesTotal.Add(1)
	if failed {
		ingestErrorsTotal.Add(1)
		return
	}
	ingestChunksTotal.Add(int64(chunks))
}

// RecordVectorSearch notes one similarity query against the retrieval index.
func RecordVectorSearch(duration time.Duration) {
	ensureInit()
	vectorSearchTotal.Add(1)
	if duration > 0 {
		vectorSearchLatencyMS.Add(duration.Milliseconds())
	}
}

// RecordLLMCall notes one completion or embedding round trip, keyed by the
// provider name plus operation (e.g. "openai.chat").
func RecordLLMCall(kind string, duration time.Duration) {
	ensureInit()
	key := strings.ToLower(strings.TrimSpace(kind))
	if key == "" {
		key = "unknown"
	}
	llmCallTotal.Add(key, 1)
	if duration > 0 {
		llmCallLatencyMS.Add(key, duration.Milliseconds())
	}
}
