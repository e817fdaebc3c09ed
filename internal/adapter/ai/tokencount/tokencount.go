// Package tokencount provides accurate token counting for LLM API calls.
//
// It uses tiktoken-go, a Go port of OpenAI's official tiktoken library,
// to count prompt tokens before calling the chat endpoint.
package tokencount

import (
	"strings"
	"sync"

	"log/slog"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Message is one chat message for counting purposes.
type Message struct {
	Role    string
	Content string
}

// Counter provides thread-safe token counting for LLM models.
type Counter struct {
	encodingCache map[string]*tiktoken.Tiktoken
	mu            sync.RWMutex
}

// NewCounter creates a new token counter instance.
func NewCounter() *Counter {
	return &Counter{
		encodingCache: make(map[string]*tiktoken.Tiktoken),
	}
}

// DefaultCounter is a global token counter instance.
var DefaultCounter = NewCounter()

// getEncodingForModel returns the appropriate tiktoken encoding for a model.
// It caches encodings for performance.
func (c *Counter) getEncodingForModel(model string) (*tiktoken.Tiktoken, error) {
	normalizedModel := normalizeModelName(model)

	c.mu.RLock()
	if enc, ok := c.encodingCache[normalizedModel]; ok {
		c.mu.RUnlock()
		return enc, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock
	if enc, ok := c.encodingCache[normalizedModel]; ok {
		return enc, nil
	}

	enc, err := tiktoken.EncodingForModel(normalizedModel)
	if err != nil {
		// Fall back to cl100k_base which is used by GPT-4 and most modern models
		slog.Debug("falling back to cl100k_base encoding",
			slog.String("model", model),
			slog.String("normalized", normalizedModel),
			slog.Any("error", err))
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}

	c.encodingCache[normalizedModel] = enc
	return enc, nil
}

// normalizeModelName converts model IDs to tiktoken-compatible names.
func normalizeModelName(model string) string {
	model = strings.ToLower(model)

	// Provider-prefixed ids like "meta-llama/llama-3.1-8b-instant"
	if strings.Contains(model, "/") {
		parts := strings.Split(model, "/")
		model = parts[len(parts)-1]
	}

	switch {
	case strings.Contains(model, "gpt-4"):
		return "gpt-4"
	case strings.Contains(model, "gpt-3.5"):
		return "gpt-3.5-turbo"
	case strings.Contains(model, "llama"):
		// Llama tokenization is close enough to GPT-4 for budgeting
		return "gpt-4"
	case strings.Contains(model, "mixtral"), strings.Contains(model, "mistral"):
		return "gpt-4"
	case strings.Contains(model, "gemma"):
		return "gpt-4"
	default:
		return "gpt-4"
	}
}

// CountTokens counts the number of tokens in a text string for a given model.
func (c *Counter) CountTokens(text, model string) (int, error) {
	enc, err := c.getEncodingForModel(model)
	if err != nil {
		return 0, err
	}
	tokens := enc.Encode(text, nil, nil)
	return len(tokens), nil
}

// CountChatTokens counts tokens for a chat completion request, accounting for
// the per-message overhead used by OpenAI-compatible APIs.
func (c *Counter) CountChatTokens(messages []Message, model string) (int, error) {
	enc, err := c.getEncodingForModel(model)
	if err != nil {
		return 0, err
	}

	// 3 tokens per message + 1 for role, plus assistant reply priming.
	// See openai-cookbook "How to count tokens with tiktoken".
	tokensPerMessage := 3
	tokensPerRole := 1

	numTokens := 0
	for _, m := range messages {
		numTokens += tokensPerMessage
		numTokens += len(enc.Encode(m.Role, nil, nil))
		numTokens += len(enc.Encode(m.Content, nil, nil))
		numTokens += tokensPerRole
	}
	numTokens += 3

	return numTokens, nil
}

// EstimateTokens is the fallback estimate of ~4 chars per token.
func EstimateTokens(text string) int { return len(text) / 4 }

// CountTokensDefault uses the default counter to count tokens.
func CountTokensDefault(text, model string) (int, error) {
	return DefaultCounter.CountTokens(text, model)
}
