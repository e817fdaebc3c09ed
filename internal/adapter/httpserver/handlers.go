package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/mailmind-app/mailmind/internal/config"
	"github.com/mailmind-app/mailmind/internal/domain"
	"github.com/mailmind-app/mailmind/internal/usecase"
)

// LifecycleService is the slice of the lifecycle manager the HTTP surface
// consumes.
type LifecycleService interface {
	RequestIndex(userID string)
	State(userID string) domain.IndexState
	Status(ctx domain.Context, u domain.User) (usecase.LifecycleStatus, error)
	Running() bool
}

// AskService answers questions over a user's indexed mail.
type AskService interface {
	Ask(ctx domain.Context, u domain.User, question string) (usecase.AskResult, error)
}

// PollService exposes the poller operations the HTTP surface consumes.
type PollService interface {
	PollOnce(ctx domain.Context, u domain.User) (int, error)
	Statuses() map[string]usecase.PollerStatus
}

// CacheStats reports query cache occupancy for the health surface.
type CacheStats interface {
	Len() int
}

// Server aggregates handler dependencies.
type Server struct {
	Cfg       config.Config
	Users     domain.UserRepository
	Messages  domain.MessageRepository
	Mail      domain.MailProvider
	Lifecycle LifecycleService
	Poller    PollService
	Ask       AskService
	Cache     CacheStats
}

// NewServer constructs an HTTP server with all handlers wired.
func NewServer(cfg config.Config, users domain.UserRepository, messages domain.MessageRepository, mail domain.MailProvider, lifecycle LifecycleService, poller PollService, ask AskService, cache CacheStats) *Server {
	return &Server{Cfg: cfg, Users: users, Messages: messages, Mail: mail, Lifecycle: lifecycle, Poller: poller, Ask: ask, Cache: cache}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

type statusEnvelope struct {
	Status        string  `json:"status"`
	IsReady       bool    `json:"is_ready"`
	IsIndexing    bool    `json:"is_indexing"`
	Attempt       int     `json:"attempt"`
	LastIndexedAt *string `json:"last_indexed_at"`
	EmailsIndexed int     `json:"emails_indexed"`
	NewEmails     int     `json:"new_emails"`
	LastError     string  `json:"last_error,omitempty"`
	TotalChunks   int     `json:"total_chunks"`
	Collection    string  `json:"collection"`
}

func toStatusEnvelope(st usecase.LifecycleStatus) statusEnvelope {
	var indexedAt *string
	if !st.LastIndexedAt.IsZero() {
		s := st.LastIndexedAt.UTC().Format(time.RFC3339)
		indexedAt = &s
	}
	return statusEnvelope{
		Status:        string(st.Status),
		IsReady:       st.Status == domain.IndexReady,
		IsIndexing:    st.Status == domain.IndexIndexing,
		Attempt:       st.Attempt,
		LastIndexedAt: indexedAt,
		EmailsIndexed: st.EmailsIndexed,
		NewEmails:     st.NewEmails,
		LastError:     st.LastError,
		TotalChunks:   st.TotalChunks,
		Collection:    st.Collection,
	}
}

// IndexHandler enqueues a non-blocking index pass for the caller.
func (s *Server) IndexHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := UserFrom(r)
		if !ok {
			writeError(w, r, domain.ErrUnauthorized, nil)
			return
		}
		s.Lifecycle.RequestIndex(u.ID)
		writeJSON(w, http.StatusAccepted, map[string]any{
			"status":  "queued",
			"message": "indexing has been queued",
		})
	}
}

// StatusHandler returns the merged lifecycle status for the caller.
func (s *Server) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := UserFrom(r)
		if !ok {
			writeError(w, r, domain.ErrUnauthorized, nil)
			return
		}
		st, err := s.Lifecycle.Status(r.Context(), u)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, toStatusEnvelope(st))
	}
}

type askRequest struct {
	Question string `json:"question"`
}

type sourceRecord struct {
	EmailID     int64   `json:"email_id"`
	Sender      string  `json:"sender"`
	Subject     string  `json:"subject"`
	Date        string  `json:"date"`
	Relevance   float64 `json:"relevance"`
	IsUrgent    bool    `json:"is_urgent"`
	HasDeadline bool    `json:"has_deadline"`
	Deadline    string  `json:"deadline"`
	Text        string  `json:"text"`
	Timestamp   float64 `json:"timestamp"`
}

type askResponse struct {
	Answer          string         `json:"answer"`
	Sources         []sourceRecord `json:"sources"`
	Status          string         `json:"status"`
	EmailsFound     int            `json:"emails_found"`
	MatchedKeywords []string       `json:"matched_keywords"`
	IsReady         bool           `json:"is_ready"`
	Degraded        bool           `json:"degraded,omitempty"`
	Note            string         `json:"note,omitempty"`
}

func toSourceRecords(sources []usecase.Source) []sourceRecord {
	out := make([]sourceRecord, 0, len(sources))
	for _, s := range sources {
		out = append(out, sourceRecord{
			EmailID:     s.EmailID,
			Sender:      s.Sender,
			Subject:     s.Subject,
			Date:        s.Date,
			Relevance:   s.Relevance,
			IsUrgent:    s.IsUrgent,
			HasDeadline: s.HasDeadline,
			Deadline:    s.Deadline,
			Text:        s.Text,
			Timestamp:   s.Timestamp,
		})
	}
	return out
}

// AskHandler answers a question, gated on the caller's index lifecycle
// state: idle enqueues and reports that indexing started, indexing reports
// progress, error answers on whatever is indexed and flags the degradation.
func (s *Server) AskHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := UserFrom(r)
		if !ok {
			writeError(w, r, domain.ErrUnauthorized, nil)
			return
		}
		var req askRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json body", domain.ErrInvalidArgument), nil)
			return
		}
		if strings.TrimSpace(req.Question) == "" {
			writeError(w, r, fmt.Errorf("%w: question is required", domain.ErrInvalidArgument), nil)
			return
		}

		st := s.Lifecycle.State(u.ID)
		switch st.Status {
		case domain.IndexIdle:
			s.Lifecycle.RequestIndex(u.ID)
			writeJSON(w, http.StatusOK, askResponse{
				Answer:  "Your inbox is being indexed for the first time. Ask again in a moment.",
				Sources: []sourceRecord{},
				Status:  "indexing",
			})
			return
		case domain.IndexIndexing:
			writeJSON(w, http.StatusOK, askResponse{
				Answer:  "Your inbox is still being indexed. Ask again in a moment.",
				Sources: []sourceRecord{},
				Status:  "indexing",
			})
			return
		}

		res, err := s.Ask.Ask(r.Context(), u, req.Question)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		resp := askResponse{
			Answer:          res.Answer,
			Sources:         toSourceRecords(res.Sources),
			Status:          res.Status,
			EmailsFound:     res.EmailsFound,
			MatchedKeywords: res.MatchedKeywords,
			IsReady:         true,
		}
		if st.Status == domain.IndexError {
			resp.Degraded = true
			resp.Note = "indexing previously failed; results may be incomplete"
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// StatsHandler mirrors StatusHandler; clients poll either interchangeably.
func (s *Server) StatsHandler() http.HandlerFunc {
	return s.StatusHandler()
}

// AdminStatusHandler combines database counts with the lifecycle status.
func (s *Server) AdminStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := UserFrom(r)
		if !ok {
			writeError(w, r, domain.ErrUnauthorized, nil)
			return
		}
		counts, err := s.Messages.Counts(r.Context(), u.ID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		st, err := s.Lifecycle.Status(r.Context(), u)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"user": u.EmailAddress,
			"database": map[string]any{
				"total":  counts.Total,
				"unread": counts.Unread,
				"read":   counts.Read,
			},
			"rag": toStatusEnvelope(st),
		})
	}
}

// HealthHandler reports engine liveness for the caller-independent surface.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":                  "ok",
			"rag_initialized":         true,
			"background_thread_alive": s.Lifecycle.Running(),
			"cache_size":              s.Cache.Len(),
		})
	}
}

type emailRecord struct {
	ID      int64  `json:"id"`
	Sender  string `json:"sender"`
	Subject string `json:"subject"`
	Snippet string `json:"snippet"`
	Body    string `json:"body"`
	Date    string `json:"date"`
	IsRead  bool   `json:"is_read"`
}

// EmailListHandler lists the caller's inbox messages, newest first.
func (s *Server) EmailListHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := UserFrom(r)
		if !ok {
			writeError(w, r, domain.ErrUnauthorized, nil)
			return
		}
		limit := 10
		if raw := r.URL.Query().Get("max_results"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > 500 {
				writeError(w, r, fmt.Errorf("%w: max_results must be between 1 and 500", domain.ErrInvalidArgument), nil)
				return
			}
			limit = n
		}
		msgs, err := s.Messages.ListInbox(r.Context(), u.ID, limit, 0)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		emails := make([]emailRecord, 0, len(msgs))
		for _, m := range msgs {
			emails = append(emails, emailRecord{
				ID:      m.ID,
				Sender:  m.Sender,
				Subject: m.Subject,
				Snippet: m.Snippet,
				Body:    m.Body,
				Date:    m.Date.UTC().Format(time.RFC3339),
				IsRead:  m.IsRead,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"emails": emails, "count": len(emails)})
	}
}

type sendRequest struct {
	To      string `json:"to" validate:"required,email"`
	Subject string `json:"subject" validate:"required"`
	Body    string `json:"body" validate:"required"`
}

// EmailSendHandler sends a message through the caller's mail account.
func (s *Server) EmailSendHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := UserFrom(r)
		if !ok {
			writeError(w, r, domain.ErrUnauthorized, nil)
			return
		}
		var req sendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json body", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
			return
		}
		id, err := s.Mail.Send(r.Context(), u, req.To, req.Subject, req.Body)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id})
	}
}

// EmailSyncHandler triggers an immediate poll cycle for the caller.
func (s *Server) EmailSyncHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := UserFrom(r)
		if !ok {
			writeError(w, r, domain.ErrUnauthorized, nil)
			return
		}
		stored, err := s.Poller.PollOnce(r.Context(), u)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "stored": stored})
	}
}

// EmailReadHandler marks a message read or unread, at the provider and in
// the local store.
func (s *Server) EmailReadHandler(read bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := UserFrom(r)
		if !ok {
			writeError(w, r, domain.ErrUnauthorized, nil)
			return
		}
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid message id", domain.ErrInvalidArgument), nil)
			return
		}
		m, err := s.Messages.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if m.UserID != u.ID {
			writeError(w, r, fmt.Errorf("%w: message %d", domain.ErrNotFound, id), nil)
			return
		}
		if err := s.Mail.SetRead(r.Context(), u, m.ProviderMessageID, read); err != nil {
			writeError(w, r, err, nil)
			return
		}
		if err := s.Messages.SetRead(r.Context(), id, read); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "id": id, "is_read": read})
	}
}

// PollingDebugHandler exposes per-user poller liveness.
func (s *Server) PollingDebugHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		statuses := s.Poller.Statuses()
		out := make(map[string]any, len(statuses))
		for id, st := range statuses {
			entry := map[string]any{
				"running":     st.Running,
				"last_stored": st.LastStored,
				"last_error":  st.LastError,
			}
			if !st.LastPollAt.IsZero() {
				entry["last_poll_at"] = st.LastPollAt.UTC().Format(time.RFC3339)
			}
			out[id] = entry
		}
		writeJSON(w, http.StatusOK, map[string]any{"pollers": out})
	}
}
