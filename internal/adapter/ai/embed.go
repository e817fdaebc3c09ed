package ai

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/mailmind-app/mailmind/internal/config"
	"github.com/mailmind-app/mailmind/internal/domain"
	"github.com/mailmind-app/mailmind/internal/observability"
)

// OpenAIEmbedder implements domain.Embedder against an OpenAI-compatible
// embeddings endpoint.
type OpenAIEmbedder struct {
	cfg config.Config
	hc  *http.Client
}

// NewOpenAIEmbedder constructs an embeddings client with sensible timeouts.
func NewOpenAIEmbedder(cfg config.Config) *OpenAIEmbedder {
	return &OpenAIEmbedder{cfg: cfg, hc: &http.Client{Timeout: 30 * time.Second}}
}

// Dimensions returns the vector width of the configured embeddings model.
func (c *OpenAIEmbedder) Dimensions() int {
	switch c.cfg.EmbeddingsModel {
	case "text-embedding-3-large":
		return 3072
	default:
		return 1536
	}
}

// Embed calls the embeddings endpoint and returns vectors.
func (c *OpenAIEmbedder) Embed(ctx domain.Context, texts []string) ([][]float32, error) {
	if c.cfg.OpenAIAPIKey == "" || c.cfg.EmbeddingsModel == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY or EMBEDDINGS_MODEL missing", domain.ErrInvalidArgument)
	}
	if len(texts) == 0 {
		return nil, nil
	}
	body := map[string]any{
		"model": c.cfg.EmbeddingsModel,
		"input": texts,
	}
	b, _ := json.Marshal(body)
	var out struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	op := func() error {
		start := time.Now()
		// Recreate request each attempt to avoid reusing consumed bodies
		r, _ := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.OpenAIBaseURL+"/embeddings", bytes.NewReader(b))
		r.Header.Set("Authorization", "Bearer "+c.cfg.OpenAIAPIKey)
		r.Header.Set("Content-Type", "application/json")
		resp, err := c.hc.Do(r)
		observability.AIRequestsTotal.WithLabelValues("openai", "embed").Inc()
		observability.AIRequestDuration.WithLabelValues("openai", "embed").Observe(time.Since(start).Seconds())
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			slog.Warn("ai provider rate limited", slog.String("provider", "openai"), slog.String("op", "embed"), slog.Int("status", resp.StatusCode))
			return fmt.Errorf("rate limited: 429")
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			bodySnippet := string(bodyBytes)
			if len(bodySnippet) > 512 {
				bodySnippet = bodySnippet[:512]
			}
			slog.Warn("ai provider 4xx", slog.String("provider", "openai"), slog.String("op", "embed"), slog.Int("status", resp.StatusCode), slog.String("body", bodySnippet))
			return backoff.Permanent(fmt.Errorf("embed status %d", resp.StatusCode))
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			slog.Error("ai provider non-2xx", slog.String("provider", "openai"), slog.String("op", "embed"), slog.Int("status", resp.StatusCode))
			return fmt.Errorf("embed status %d", resp.StatusCode)
		}
		if err := json.Unmarshal(bodyBytes, &out); err != nil {
			slog.Error("ai provider decode error", slog.String("provider", "openai"), slog.String("op", "embed"), slog.Any("error", err))
			return err
		}
		return nil
	}
	bo := backoff.WithContext(getBackoffConfig(c.cfg), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		if strings.Contains(err.Error(), "429") {
			return nil, fmt.Errorf("op=openai.embed: %w", domain.ErrUpstreamRateLimit)
		}
		return nil, fmt.Errorf("op=openai.embed: %w", err)
	}
	if len(out.Data) == 0 {
		return nil, errors.New("op=openai.embed: empty data")
	}
	res := make([][]float32, len(out.Data))
	for i := range out.Data {
		v := make([]float32, len(out.Data[i].Embedding))
		for j := range out.Data[i].Embedding {
			v[j] = float32(out.Data[i].Embedding[j])
		}
		res[i] = v
	}
	return res, nil
}
