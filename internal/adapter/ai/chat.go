// Package ai provides the Groq chat client and OpenAI embeddings client.
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

// GroqClient implements domain.ChatClient against Groq's OpenAI-compatible
// chat completions endpoint.
type GroqClient struct {
	cfg config.Config
	hc  *http.Client
}

// NewGroqClient constructs a Groq chat client with sensible timeouts.
func NewGroqClient(cfg config.Config) *GroqClient {
	return &GroqClient{cfg: cfg, hc: &http.Client{Timeout: 60 * time.Second}}
}

func getBackoffConfig(cfg config.Config) *backoff.ExponentialBackOff {
	expo := backoff.NewExponentialBackOff()
	maxElapsedTime, initialInterval, maxInterval, multiplier := cfg.GetAIBackoffConfig()
	expo.MaxElapsedTime = maxElapsedTime
	expo.InitialInterval = initialInterval
	expo.MaxInterval = maxInterval
	expo.Multiplier = multiplier
	return expo
}

// Chat calls the chat completions endpoint and returns the message content.
// A 429 that survives retries is reported as domain.ErrUpstreamRateLimit.
func (c *GroqClient) Chat(ctx domain.Context, messages []domain.ChatMessage, maxTokens int) (string, error) {
	if c.cfg.GroqAPIKey == "" {
		return "", fmt.Errorf("%w: GROQ_API_KEY missing", domain.ErrInvalidArgument)
	}
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxResponseTokens
	}
	msgs := make([]map[string]string, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, map[string]string{"role": m.Role, "content": m.Content})
	}
	body := map[string]any{
		"model":       c.cfg.ChatModel,
		"temperature": c.cfg.ChatTemperature,
		"max_tokens":  maxTokens,
		"messages":    msgs,
	}
	b, _ := json.Marshal(body)
	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	op := func() error {
		start := time.Now()
		// Recreate request each attempt to avoid reusing consumed bodies
		r, _ := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.GroqBaseURL+"/chat/completions", bytes.NewReader(b))
		r.Header.Set("Authorization", "Bearer "+c.cfg.GroqAPIKey)
		r.Header.Set("Content-Type", "application/json")
		resp, err := c.hc.Do(r)
		observability.AIRequestsTotal.WithLabelValues("groq", "chat").Inc()
		observability.AIRequestDuration.WithLabelValues("groq", "chat").Observe(time.Since(start).Seconds())
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			// Retryable: let backoff handle retries
			slog.Warn("ai provider rate limited", slog.String("provider", "groq"), slog.String("op", "chat"), slog.Int("status", resp.StatusCode))
			return fmt.Errorf("rate limited: 429")
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			// Client error: non-retryable
			bodySnippet := string(bodyBytes)
			if len(bodySnippet) > 512 {
				bodySnippet = bodySnippet[:512]
			}
			slog.Warn("ai provider 4xx", slog.String("provider", "groq"), slog.String("op", "chat"), slog.Int("status", resp.StatusCode), slog.String("body", bodySnippet))
			return backoff.Permanent(fmt.Errorf("chat status %d", resp.StatusCode))
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			// 5xx and others: retryable
			slog.Error("ai provider non-2xx", slog.String("provider", "groq"), slog.String("op", "chat"), slog.Int("status", resp.StatusCode))
			return fmt.Errorf("chat status %d", resp.StatusCode)
		}
		if err := json.Unmarshal(bodyBytes, &out); err != nil {
			slog.Error("ai provider decode error", slog.String("provider", "groq"), slog.String("op", "chat"), slog.Any("error", err))
			return err
		}
		return nil
	}
	bo := backoff.WithContext(getBackoffConfig(c.cfg), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		if strings.Contains(err.Error(), "429") {
			return "", fmt.Errorf("op=groq.chat: %w", domain.ErrUpstreamRateLimit)
		}
		return "", fmt.Errorf("op=groq.chat: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("op=groq.chat: empty choices")
	}
	return out.Choices[0].Message.Content, nil
}
