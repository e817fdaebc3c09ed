// Package qdrant provides a minimal Qdrant HTTP client implementing the
// vector store port. Each user gets one collection; chunk ids live in the
// payload because Qdrant point ids must be UUIDs or integers.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mailmind-app/mailmind/internal/domain"
)

// Client is a minimal Qdrant HTTP client used by the app.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New constructs a Qdrant client with baseURL and optional apiKey.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// EnsureCollection creates the collection if it does not exist.
func (c *Client) EnsureCollection(ctx context.Context, name string, dim int) error {
	// GET /collections/{name}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/collections/%s", c.baseURL, name), nil)
	c.setHeaders(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("op=qdrant.ensure: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	// Create
	payload := map[string]any{
		"vectors": map[string]any{"size": dim, "distance": "Cosine"},
	}
	b, _ := json.Marshal(payload)
	req, _ = http.NewRequestWithContext(ctx, http.MethodPut, fmt.Sprintf("%s/collections/%s", c.baseURL, name), bytes.NewReader(b))
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	resp, err = c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("op=qdrant.ensure: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("op=qdrant.ensure: create status %d", resp.StatusCode)
	}
	return nil
}

// Count returns the exact number of points in the collection. A missing
// collection counts as empty.
func (c *Client) Count(ctx context.Context, name string) (int, error) {
	b, _ := json.Marshal(map[string]any{"exact": true})
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/collections/%s/points/count", c.baseURL, name), bytes.NewReader(b))
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("op=qdrant.count: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("op=qdrant.count: status %d", resp.StatusCode)
	}
	var out struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("op=qdrant.count: %w", err)
	}
	return out.Result.Count, nil
}

// ListIDs returns every chunk id in the collection via the scroll API.
func (c *Client) ListIDs(ctx context.Context, name string) ([]string, error) {
	var (
		ids    []string
		offset any
	)
	for {
		body := map[string]any{
			"limit":        1000,
			"with_payload": []string{"chunk_id"},
			"with_vector":  false,
		}
		if offset != nil {
			body["offset"] = offset
		}
		b, _ := json.Marshal(body)
		req, _ := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/collections/%s/points/scroll", c.baseURL, name), bytes.NewReader(b))
		c.setHeaders(req)
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("op=qdrant.list_ids: %w", err)
		}
		if resp.StatusCode == http.StatusNotFound {
			_ = resp.Body.Close()
			return nil, nil
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("op=qdrant.list_ids: status %d", resp.StatusCode)
		}
		var out struct {
			Result struct {
				Points []struct {
					Payload map[string]any `json:"payload"`
				} `json:"points"`
				NextPageOffset any `json:"next_page_offset"`
			} `json:"result"`
		}
		err = json.NewDecoder(resp.Body).Decode(&out)
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("op=qdrant.list_ids: %w", err)
		}
		for _, p := range out.Result.Points {
			if cid, ok := p.Payload["chunk_id"].(string); ok {
				ids = append(ids, cid)
			}
		}
		if out.Result.NextPageOffset == nil || len(out.Result.Points) == 0 {
			return ids, nil
		}
		offset = out.Result.NextPageOffset
	}
}

// Upsert inserts or updates chunk points. Point ids are deterministic UUIDs
// derived from the chunk id so re-indexing the same chunk overwrites it.
func (c *Client) Upsert(ctx context.Context, name string, points []domain.ChunkPoint) error {
	if len(points) == 0 {
		return nil
	}
	qpoints := make([]map[string]any, 0, len(points))
	for _, p := range points {
		qpoints = append(qpoints, map[string]any{
			"id":      uuid.NewSHA1(uuid.NameSpaceOID, []byte(p.ID)).String(),
			"vector":  p.Vector,
			"payload": encodePayload(p),
		})
	}
	body := map[string]any{"points": qpoints}
	b, _ := json.Marshal(body)
	req, _ := http.NewRequestWithContext(ctx, http.MethodPut, fmt.Sprintf("%s/collections/%s/points", c.baseURL, name), bytes.NewReader(b))
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("op=qdrant.upsert: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("op=qdrant.upsert: status %d", resp.StatusCode)
	}
	return nil
}

// Query returns the nearest chunks for a query vector, with distances.
func (c *Client) Query(ctx context.Context, name string, vector []float32, limit int) ([]domain.SearchHit, error) {
	body := map[string]any{"vector": vector, "limit": limit, "with_payload": true}
	b, _ := json.Marshal(body)
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, name), bytes.NewReader(b))
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("op=qdrant.query: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("op=qdrant.query: status %d", resp.StatusCode)
	}
	var out struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("op=qdrant.query: %w", err)
	}
	hits := make([]domain.SearchHit, 0, len(out.Result))
	for _, r := range out.Result {
		id, _ := r.Payload["chunk_id"].(string)
		doc, _ := r.Payload["document"].(string)
		hits = append(hits, domain.SearchHit{
			ID:       id,
			Document: doc,
			Meta:     decodePayload(r.Payload),
			// Cosine similarity back to the distance the scorer expects.
			Distance: 1 - r.Score,
		})
	}
	return hits, nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}
}

// Booleans cross the wire as "True"/"False" strings for compatibility with
// existing collections.
func boolString(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func encodePayload(p domain.ChunkPoint) map[string]any {
	return map[string]any{
		"chunk_id":      p.ID,
		"document":      p.Document,
		"message_id":    p.Meta.MessageID,
		"sender":        p.Meta.Sender,
		"subject":       p.Meta.Subject,
		"date":          p.Meta.Date,
		"timestamp":     p.Meta.Timestamp,
		"is_read":       boolString(p.Meta.IsRead),
		"is_urgent":     boolString(p.Meta.IsUrgent),
		"has_deadline":  boolString(p.Meta.HasDeadline),
		"deadline_date": p.Meta.DeadlineDate,
		"chunk_index":   p.Meta.ChunkIndex,
	}
}

func decodePayload(pl map[string]any) domain.ChunkMeta {
	m := domain.ChunkMeta{}
	if v, ok := pl["message_id"].(float64); ok {
		m.MessageID = int64(v)
	}
	m.Sender, _ = pl["sender"].(string)
	m.Subject, _ = pl["subject"].(string)
	m.Date, _ = pl["date"].(string)
	m.Timestamp, _ = pl["timestamp"].(float64)
	m.IsRead = pl["is_read"] == "True"
	m.IsUrgent = pl["is_urgent"] == "True"
	m.HasDeadline = pl["has_deadline"] == "True"
	m.DeadlineDate, _ = pl["deadline_date"].(string)
	if v, ok := pl["chunk_index"].(float64); ok {
		m.ChunkIndex = int(v)
	}
	return m
}
