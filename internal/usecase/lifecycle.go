package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mailmind-app/mailmind/internal/config"
	"github.com/mailmind-app/mailmind/internal/domain"
)

// RateLimitGate tracks the last upstream LLM rate limit per user. While the
// cooldown is active, answering degrades to the deterministic fallback and
// the lifecycle status reads rate_limited.
type RateLimitGate struct {
	cooldown time.Duration
	mu       sync.Mutex
	last     map[string]time.Time
	now      func() time.Time
}

// NewRateLimitGate creates a gate with the given cooldown.
func NewRateLimitGate(cooldown time.Duration) *RateLimitGate {
	return &RateLimitGate{cooldown: cooldown, last: make(map[string]time.Time), now: time.Now}
}

// Record notes an upstream rate limit for the user.
func (g *RateLimitGate) Record(userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last[userID] = g.now()
}

// Active reports whether the user's cooldown window is still open.
func (g *RateLimitGate) Active(userID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.last[userID]
	return ok && g.now().Sub(t) < g.cooldown
}

// LifecycleStatus is the merged per-user status: state machine fields plus
// live vector store stats.
type LifecycleStatus struct {
	Status        domain.IndexStatus
	Attempt       int
	LastIndexedAt time.Time
	EmailsIndexed int
	NewEmails     int
	LastError     string
	TotalChunks   int
	Collection    string
}

// Manager owns the background indexing lifecycle: a single worker goroutine
// serializes index passes per user, a pending set absorbs non-blocking
// requests, and a periodic sweep re-enqueues ready users.
type Manager struct {
	cfg      config.Config
	users    domain.UserRepository
	indexer  *Indexer
	vectors  domain.VectorStore
	gate     *RateLimitGate

	mu      sync.Mutex
	states  map[string]*domain.IndexState
	pending map[string]bool
	running bool

	wake   chan struct{}
	stopCh chan struct{}
	done   chan struct{}
}

// NewManager wires the lifecycle manager.
func NewManager(cfg config.Config, users domain.UserRepository, indexer *Indexer, vectors domain.VectorStore, gate *RateLimitGate) *Manager {
	return &Manager{
		cfg:     cfg,
		users:   users,
		indexer: indexer,
		vectors: vectors,
		gate:    gate,
		states:  make(map[string]*domain.IndexState),
		pending: make(map[string]bool),
		wake:    make(chan struct{}, 1),
	}
}

// Start launches the worker. Calling Start on a running manager is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	m.mu.Unlock()
	go m.loop()
}

// Stop halts the worker and waits for the in-flight pass to finish.
// Stopping a stopped manager is a no-op.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	done := m.done
	m.mu.Unlock()
	<-done
}

// RequestIndex enqueues the user for indexing and returns immediately.
// An explicit request clears a previous error state.
func (m *Manager) RequestIndex(userID string) {
	m.mu.Lock()
	st := m.stateLocked(userID)
	if st.Status == domain.IndexError {
		st.Status = domain.IndexIdle
		st.Attempt = 0
		st.LastError = ""
	}
	m.pending[userID] = true
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// State returns a copy of the user's raw state machine record.
func (m *Manager) State(userID string) domain.IndexState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.stateLocked(userID)
	out := *st
	if out.Status == domain.IndexReady && m.gate.Active(userID) {
		out.Status = domain.IndexRateLimited
	}
	return out
}

// Status merges the state machine record with live vector store stats.
func (m *Manager) Status(ctx domain.Context, u domain.User) (LifecycleStatus, error) {
	st := m.State(u.ID)
	collection := domain.CollectionName(u.EmailAddress)
	count, err := m.vectors.Count(ctx, collection)
	if err != nil {
		return LifecycleStatus{}, fmt.Errorf("op=lifecycle.status: %w", err)
	}
	return LifecycleStatus{
		Status:        st.Status,
		Attempt:       st.Attempt,
		LastIndexedAt: st.LastIndexedAt,
		EmailsIndexed: st.EmailsIndexed,
		NewEmails:     st.NewEmails,
		LastError:     st.LastError,
		TotalChunks:   count,
		Collection:    collection,
	}, nil
}

// Running reports whether the worker goroutine is alive.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) stateLocked(userID string) *domain.IndexState {
	st, ok := m.states[userID]
	if !ok {
		st = &domain.IndexState{Status: domain.IndexIdle}
		m.states[userID] = st
	}
	return st
}

func (m *Manager) loop() {
	defer close(m.done)

	// Give adapters a moment to come up before the first pass.
	select {
	case <-time.After(m.cfg.IndexStartDelay):
	case <-m.stopCh:
		return
	}

	ticker := time.NewTicker(m.cfg.ReindexInterval)
	defer ticker.Stop()

	for {
		for _, userID := range m.drainPending() {
			if m.stopped() {
				return
			}
			m.indexUser(userID)
		}

		// Ready users re-enqueue on the interval tick only; a wake from
		// RequestIndex drains just the explicit request.
		select {
		case <-m.stopCh:
			return
		case <-m.wake:
		case <-ticker.C:
			m.sweepReady()
		}
	}
}

func (m *Manager) stopped() bool {
	select {
	case <-m.stopCh:
		return true
	default:
		return false
	}
}

func (m *Manager) drainPending() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.pending))
	for id := range m.pending {
		out = append(out, id)
	}
	m.pending = make(map[string]bool)
	return out
}

// sweepReady re-enqueues users already in the ready state for the periodic
// re-index. Users in error stay parked until an explicit request.
func (m *Manager) sweepReady() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, st := range m.states {
		if st.Status == domain.IndexReady {
			m.pending[id] = true
		}
	}
}

// indexUser runs one pass with linear backoff on transient failures:
// retry_delay x attempt, capped at max_retries before parking in error.
func (m *Manager) indexUser(userID string) {
	ctx := context.Background()
	u, err := m.users.Get(ctx, userID)
	if err != nil {
		slog.Warn("index skipped, user lookup failed", slog.String("user_id", userID), slog.Any("error", err))
		return
	}

	m.setStatus(userID, func(st *domain.IndexState) {
		st.Status = domain.IndexIndexing
	})

	for attempt := 1; attempt <= m.cfg.MaxRetries; attempt++ {
		report, err := m.indexer.Run(ctx, u)
		if err == nil {
			m.setStatus(userID, func(st *domain.IndexState) {
				st.Status = domain.IndexReady
				st.Attempt = 0
				st.LastIndexedAt = time.Now().UTC()
				st.EmailsIndexed = report.EmailsIndexed
				st.NewEmails = report.NewEmails
				st.LastError = ""
			})
			return
		}

		slog.Warn("index pass failed",
			slog.String("user_id", userID),
			slog.Int("attempt", attempt),
			slog.Any("error", err))
		if attempt == m.cfg.MaxRetries {
			m.setStatus(userID, func(st *domain.IndexState) {
				st.Status = domain.IndexError
				st.Attempt = attempt
				st.LastError = err.Error()
			})
			return
		}
		m.setStatus(userID, func(st *domain.IndexState) {
			st.Attempt = attempt
		})
		select {
		case <-time.After(m.cfg.RetryDelay * time.Duration(attempt)):
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) setStatus(userID string, mutate func(*domain.IndexState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mutate(m.stateLocked(userID))
}
