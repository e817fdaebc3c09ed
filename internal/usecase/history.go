package usecase

import (
	"sync"
	"time"
)

// Caps counted in stored exchanges. Each exchange expands to two chat
// entries (user + assistant), so 10 kept exchanges bound the deque at 20
// entries and 5 forwarded exchanges put 10 entries on the prompt.
const (
	historyCap        = 10
	historyForChat    = 5
	historyForRewrite = 2
)

// Turn is one completed question/answer exchange.
type Turn struct {
	Question string
	Answer   string
	At       time.Time
}

// HistoryStore keeps a bounded per-user conversation history. Only
// successful LLM answers are appended, so fallback output never pollutes
// later rewrites.
type HistoryStore struct {
	mu sync.Mutex
	m  map[string][]Turn
}

// NewHistoryStore creates an empty history store.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{m: make(map[string][]Turn)}
}

// Append records a turn, evicting the oldest once the cap is reached.
func (h *HistoryStore) Append(userID, question, answer string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	turns := append(h.m[userID], Turn{Question: question, Answer: answer, At: time.Now()})
	if len(turns) > historyCap {
		turns = turns[len(turns)-historyCap:]
	}
	h.m[userID] = turns
}

// Recent returns up to n most recent turns, oldest first.
func (h *HistoryStore) Recent(userID string, n int) []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	turns := h.m[userID]
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// Len returns the number of stored turns for the user.
func (h *HistoryStore) Len(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.m[userID])
}

// Clear drops the user's history.
func (h *HistoryStore) Clear(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.m, userID)
}
