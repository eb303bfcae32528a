package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/craftlab-ai/appforge/internal/common"
	"github.com/craftlab-ai/appforge/internal/common/telemetry"
)

// Store is the vector index surface the retrieval layer depends on. The
// ChromaDB client is the production implementation; tests substitute an
// in-memory one.
type Store interface {
	Available() bool
	Collection() string
	Upsert(ctx context.Context, ids []string, documents []string, metadatas []map[string]interface{}, embeddings [][]float32) error
	Query(ctx context.Context, vector []float32, limit int, where map[string]interface{}) ([]SearchResult, error)
	Delete(ctx context.Context, where map[string]interface{}) error
}

type Client struct {
	httpClient *http.Client
	transport  *http.Transport

	baseURL      string
	collection   string
	collectionID string
	available    bool
	apiKey       string

	cfg Config

	mu sync.RWMutex
}

type SearchResult struct {
	ID       string
	Score    float32
	Document string
	Metadata map[string]interface{}
}

func NewFromEnv(ctx context.Context) (*Client, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	return New(ctx, cfg)
}

// New constructs a client using the provided configuration. A ChromaDB
// instance that cannot be reached does not fail construction; the client
// simply reports unavailable and retries on the next call.
func New(ctx context.Context, cfg Config) (*Client, error) {
	baseURL := fmt.Sprintf("%s://%s:%s/api/v1", cfg.Scheme, cfg.Host, cfg.Port)
	logger := common.Logger()
	logger.Info(
		"vector: initializing chromadb client",
		"host", cfg.Host,
		"port", cfg.Port,
		"collection", cfg.Collection,
		"timeout", cfg.Timeout,
	)

	transport := &http.Transport{
		MaxIdleConns:        cfg.HTTPMaxIdleConns,
		MaxIdleConnsPerHost: cfg.HTTPMaxIdlePerHost,
		MaxConnsPerHost:     cfg.HTTPMaxConnsPerHost,
		IdleConnTimeout:     cfg.HTTPIdleConnTimeout,
	}

	client := &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout, Transport: transport},
		transport:  transport,
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: cfg.Collection,
		apiKey:     cfg.APIKey,
		cfg:        cfg,
	}

	if err := client.ensureReady(ctx); err != nil {
		logger.Warn("vector: chromadb initialization failed", "collection", cfg.Collection, "error", err)
		return client, nil
	}
	logger.Info("vector: chromadb connection established")
	return client, nil
}

func (c *Client) Available() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.available
}

func (c *Client) Collection() string {
	if c == nil {
		return ""
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collection
}

func (c *Client) ensureReady(ctx context.Context) error {
	if c == nil {
		return errors.New("chromadb client not configured")
	}
	c.mu.RLock()
	available := c.available
	collectionID := c.collectionID
	c.mu.RUnlock()

	if available && collectionID != "" {
		return nil
	}
	const maxAttempts = 3
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = c.health(ctx)
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			c.setAvailable(false)
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 250 * time.Millisecond):
		}
	}
	if err != nil {
		c.setAvailable(false)
		return err
	}
	if err = c.ensureCollectionID(ctx); err != nil {
		c.setAvailable(false)
		return err
	}
	c.setAvailable(true)
	return nil
}

func (c *Client) setAvailable(v bool) {
	c.mu.Lock()
	c.available = v
	c.mu.Unlock()
}

// Upsert writes documents with caller-assigned ids. Servers without an upsert
// route fall back to add, which keeps older ChromaDB releases working.
func (c *Client) Upsert(ctx context.Context, ids []string, documents []string, metadatas []map[string]interface{}, embeddings [][]float32) error {
	if err := c.ensureReady(ctx); err != nil {
		return err
	}
	if !c.Available() {
		return errors.New("chromadb unavailable")
	}
	if len(ids) == 0 {
		return nil
	}
	if len(documents) != len(ids) || len(embeddings) != len(ids) {
		return fmt.Errorf("upsert length mismatch: %d ids, %d documents, %d embeddings", len(ids), len(documents), len(embeddings))
	}
	payload := map[string]interface{}{
		"ids":        ids,
		"documents":  documents,
		"metadatas":  metadatas,
		"embeddings": embeddings,
	}
	endpoint := fmt.Sprintf("%s/collections/%s/upsert", c.baseURL, url.PathEscape(c.collectionID))
	if err := c.doRequest(ctx, http.MethodPost, endpoint, payload, nil); err != nil {
		if errors.Is(err, errNotFound) {
			fallback := fmt.Sprintf("%s/collections/%s/add", c.baseURL, url.PathEscape(c.collectionID))
			return c.doRequest(ctx, http.MethodPost, fallback, payload, nil)
		}
		return err
	}
	return nil
}

// Query runs a nearest-neighbor search. A non-nil where map is forwarded as a
// metadata filter, which is how per-project isolation is enforced.
func (c *Client) Query(ctx context.Context, vector []float32, limit int, where map[string]interface{}) ([]SearchResult, error) {
	if err := c.ensureReady(ctx); err != nil {
		return nil, err
	}
	if !c.Available() {
		return nil, errors.New("chromadb unavailable")
	}
	if limit <= 0 {
		limit = 5
	}
	body := map[string]interface{}{
		"query_embeddings": [][]float32{vector},
		"n_results":        limit,
	}
	if len(where) > 0 {
		body["where"] = where
	}
	endpoint := fmt.Sprintf("%s/collections/%s/query", c.baseURL, url.PathEscape(c.collectionID))
	var resp struct {
		IDs       [][]string                 `json:"ids"`
		Distances [][]float64                `json:"distances"`
		Metadatas [][]map[string]interface{} `json:"metadatas"`
		Documents [][]string                 `json:"documents"`
	}
	start := time.Now()
	err := c.doRequest(ctx, http.MethodPost, endpoint, body, &resp)
	telemetry.RecordVectorSearch(time.Since(start))
	if err != nil {
		return nil, err
	}
	if len(resp.IDs) == 0 {
		return nil, nil
	}
	results := make([]SearchResult, 0, len(resp.IDs[0]))
	for idx, id := range resp.IDs[0] {
		result := SearchResult{ID: id, Metadata: map[string]interface{}{}}
		if len(resp.Metadatas) > 0 && idx < len(resp.Metadatas[0]) {
			for k, v := range resp.Metadatas[0][idx] {
				result.Metadata[k] = v
			}
		}
		if len(resp.Documents) > 0 && idx < len(resp.Documents[0]) {
			result.Document = resp.Documents[0][idx]
		}
		if len(resp.Distances) > 0 && idx < len(resp.Distances[0]) {
			dist := resp.Distances[0][idx]
			result.Score = float32(1.0 / (1.0 + dist))
		}
		results = append(results, result)
	}
	return results, nil
}

// Delete removes every document matching the metadata filter. Deleting a
// project's chunks passes where={"project_id": id}.
func (c *Client) Delete(ctx context.Context, where map[string]interface{}) error {
	if err := c.ensureReady(ctx); err != nil {
		return err
	}
	if !c.Available() {
		return errors.New("chromadb unavailable")
	}
	if len(where) == 0 {
		return errors.New("delete requires a metadata filter")
	}
	payload := map[string]interface{}{"where": where}
	endpoint := fmt.Sprintf("%s/collections/%s/delete", c.baseURL, url.PathEscape(c.collectionID))
	err := c.doRequest(ctx, http.MethodPost, endpoint, payload, nil)
	if errors.Is(err, errNotFound) {
		// Nothing matched; the collection may not even exist yet.
		return nil
	}
	return err
}

var _ Store = (*Client)(nil)

func (c *Client) ensureCollectionID(ctx context.Context) error {
	c.mu.RLock()
	if c.collectionID != "" {
		c.mu.RUnlock()
		return nil
	}
	c.mu.RUnlock()
	id, err := c.findCollection(ctx, c.collection)
	if err != nil {
		return err
	}
	if id != "" {
		c.mu.Lock()
		c.collectionID = id
		c.mu.Unlock()
		return nil
	}
	created, err := c.createCollection(ctx, c.collection)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.collectionID = created
	c.mu.Unlock()
	return nil
}

func (c *Client) findCollection(ctx context.Context, name string) (string, error) {
	endpoint := fmt.Sprintf("%s/collections?name=%s", c.baseURL, url.QueryEscape(name))
	var resp struct {
		Collections []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"collections"`
	}
	if err := c.doRequest(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		if errors.Is(err, errNotFound) {
			return "", nil
		}
		// Fallback to enumerating collections when the name filter is unsupported.
		endpoint = fmt.Sprintf("%s/collections", c.baseURL)
		if err := c.doRequest(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
			return "", err
		}
	}
	for _, col := range resp.Collections {
		if strings.EqualFold(col.Name, name) {
			return col.ID, nil
		}
	}
	return "", nil
}

func (c *Client) createCollection(ctx context.Context, name string) (string, error) {
	payload := map[string]interface{}{"name": name}
	endpoint := fmt.Sprintf("%s/collections", c.baseURL)
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.doRequest(ctx, http.MethodPost, endpoint, payload, &resp); err != nil {
		if errors.Is(err, errConflict) {
			return c.findCollection(ctx, name)
		}
		return "", err
	}
	return resp.ID, nil
}

var (
	errNotFound = errors.New("resource not found")
	errConflict = errors.New("resource conflict")
)

func (c *Client) health(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/heartbeat", c.baseURL)
	return c.doRequest(ctx, http.MethodGet, endpoint, nil, nil)
}

func (c *Client) doRequest(ctx context.Context, method, endpoint string, body interface{}, out interface{}) error {
	if c == nil {
		return errors.New("chromadb client not configured")
	}
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode == http.StatusConflict {
		return errConflict
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("chromadb %s %s failed: %s", method, endpoint, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	return decoder.Decode(out)
}

// Close releases pooled resources associated with the client.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	if c.transport != nil {
		c.transport.CloseIdleConnections()
	}
	return nil
}
