package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mailmind-app/mailmind/internal/config"
	"github.com/mailmind-app/mailmind/internal/domain"
	"github.com/mailmind-app/mailmind/internal/observability"
)

// PollerStatus is the per-user polling liveness exposed on the debug surface.
type PollerStatus struct {
	Running    bool
	LastPollAt time.Time
	LastStored int
	LastError  string
}

// Poller runs one polling goroutine per user, fetching new INBOX messages
// and kicking the lifecycle manager whenever rows were stored.
type Poller struct {
	cfg       config.Config
	users     domain.UserRepository
	messages  domain.MessageRepository
	mail      domain.MailProvider
	lifecycle *Manager

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	status  map[string]*PollerStatus
}

// NewPoller wires a Poller.
func NewPoller(cfg config.Config, users domain.UserRepository, messages domain.MessageRepository, mail domain.MailProvider, lifecycle *Manager) *Poller {
	return &Poller{
		cfg:       cfg,
		users:     users,
		messages:  messages,
		mail:      mail,
		lifecycle: lifecycle,
		cancels:   make(map[string]context.CancelFunc),
		status:    make(map[string]*PollerStatus),
	}
}

// StartAll starts polling for every stored user.
func (p *Poller) StartAll(ctx domain.Context) error {
	users, err := p.users.List(ctx)
	if err != nil {
		return fmt.Errorf("op=poller.start_all: %w", err)
	}
	for _, u := range users {
		p.Start(u)
	}
	return nil
}

// Start launches the user's polling goroutine. Starting a user twice is a
// no-op.
func (p *Poller) Start(u domain.User) {
	p.mu.Lock()
	if _, ok := p.cancels[u.ID]; ok {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancels[u.ID] = cancel
	p.status[u.ID] = &PollerStatus{Running: true}
	p.mu.Unlock()

	go p.run(ctx, u)
}

// Stop cancels the user's polling goroutine.
func (p *Poller) Stop(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cancel, ok := p.cancels[userID]; ok {
		cancel()
		delete(p.cancels, userID)
		if st := p.status[userID]; st != nil {
			st.Running = false
		}
	}
}

// StopAll cancels every polling goroutine.
func (p *Poller) StopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, cancel := range p.cancels {
		cancel()
		delete(p.cancels, id)
		if st := p.status[id]; st != nil {
			st.Running = false
		}
	}
}

// Statuses returns a snapshot of per-user polling liveness.
func (p *Poller) Statuses() map[string]PollerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]PollerStatus, len(p.status))
	for id, st := range p.status {
		out[id] = *st
	}
	return out
}

func (p *Poller) run(ctx domain.Context, u domain.User) {
	// First cycle fires immediately; failures are logged and retried on
	// the next tick.
	p.cycle(ctx, u)
	ticker := time.NewTicker(p.cfg.PollingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.cycle(ctx, u)
		}
	}
}

func (p *Poller) cycle(ctx domain.Context, u domain.User) {
	stored, err := p.PollOnce(ctx, u)
	p.mu.Lock()
	if st := p.status[u.ID]; st != nil {
		st.LastPollAt = time.Now().UTC()
		st.LastStored = stored
		if err != nil {
			st.LastError = err.Error()
		} else {
			st.LastError = ""
		}
	}
	p.mu.Unlock()
	if err != nil {
		slog.Warn("poll cycle failed", slog.String("user_id", u.ID), slog.Any("error", err))
		observability.ObservePollCycle("error", stored)
		return
	}
	observability.ObservePollCycle("ok", stored)
}

// PollOnce fetches new INBOX messages for the user and stores the unseen
// ones. The watermark is the newest stored date rounded down to the day;
// a user with no rows gets the larger initial sync window instead.
func (p *Poller) PollOnce(ctx domain.Context, u domain.User) (int, error) {
	maxDate, err := p.messages.MaxDate(ctx, u.ID)
	if err != nil {
		return 0, fmt.Errorf("op=poller.poll_once: %w", err)
	}

	var (
		after time.Time
		limit = p.cfg.PollFetchLimit
	)
	if maxDate.IsZero() {
		limit = p.cfg.InitialSyncLimit
	} else {
		after = maxDate.UTC().Truncate(24 * time.Hour)
	}

	incoming, err := p.mail.FetchSince(ctx, u, after, limit)
	if err != nil {
		return 0, fmt.Errorf("op=poller.poll_once: %w", err)
	}
	if len(incoming) == 0 {
		return 0, nil
	}

	ids := make([]string, len(incoming))
	for i, im := range incoming {
		ids[i] = im.ProviderMessageID
	}
	existing, err := p.messages.ExistingProviderIDs(ctx, u.ID, ids)
	if err != nil {
		return 0, fmt.Errorf("op=poller.poll_once: %w", err)
	}

	stored := 0
	for _, im := range incoming {
		if existing[im.ProviderMessageID] {
			continue
		}
		_, err := p.messages.Create(ctx, domain.Message{
			UserID:            u.ID,
			ProviderMessageID: im.ProviderMessageID,
			Sender:            im.Sender,
			Subject:           im.Subject,
			Snippet:           im.Snippet,
			Body:              im.Body,
			Date:              im.Date,
			Labels:            im.Labels,
			IsRead:            im.IsRead(),
		})
		if err != nil {
			// A concurrent insert of the same provider id is fine.
			if !errors.Is(err, domain.ErrConflict) {
				return stored, fmt.Errorf("op=poller.poll_once: %w", err)
			}
			continue
		}
		stored++
	}

	if stored > 0 {
		slog.Info("poll stored new messages", slog.String("user_id", u.ID), slog.Int("stored", stored))
		p.lifecycle.RequestIndex(u.ID)
	}
	return stored, nil
}
