package domain

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrRateLimited       = errors.New("rate limited")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUpstreamRateLimit = errors.New("upstream rate limit")
	ErrStopped           = errors.New("stopped")
	ErrInternal          = errors.New("internal error")
)

// User is a mailbox owner with provider credentials. Credentials are opaque
// OAuth tokens; the mail adapter knows how to refresh them.
type User struct {
	ID                string
	ExternalAccountID string
	EmailAddress      string
	AccessCredential  string
	RefreshCredential string
	TokenExpiry       time.Time
	CreatedAt         time.Time
}

// Message is a stored email. ProviderMessageID is unique per user; ID is the
// internal identity used in chunk ids.
type Message struct {
	ID                int64
	UserID            string
	ProviderMessageID string
	Sender            string
	Subject           string
	Snippet           string
	Body              string
	Date              time.Time
	Labels            []string
	IsRead            bool
}

// InInbox reports whether the message carries the INBOX label.
func (m Message) InInbox() bool {
	for _, l := range m.Labels {
		if l == "INBOX" {
			return true
		}
	}
	return false
}

// ChunkMeta is the typed metadata carried next to each embedded chunk.
// Timestamp is the message date as Unix seconds; DeadlineDate is either
// empty, an ISO date, or "now" for urgency-implied deadlines.
type ChunkMeta struct {
	MessageID    int64
	Sender       string
	Subject      string
	Date         string
	Timestamp    float64
	IsRead       bool
	IsUrgent     bool
	HasDeadline  bool
	DeadlineDate string
	ChunkIndex   int
}

// ChunkPoint is one embedded chunk destined for the vector store.
// ID is "{message_id}_{chunk_index}".
type ChunkPoint struct {
	ID       string
	Vector   []float32
	Document string
	Meta     ChunkMeta
}

// SearchHit is one vector query result with its raw distance.
type SearchHit struct {
	ID       string
	Document string
	Meta     ChunkMeta
	Distance float64
}

// IndexStatus enumerates lifecycle states of a user's index.
type IndexStatus string

const (
	IndexIdle        IndexStatus = "idle"
	IndexIndexing    IndexStatus = "indexing"
	IndexReady       IndexStatus = "ready"
	IndexError       IndexStatus = "error"
	IndexRateLimited IndexStatus = "rate_limited"
)

// IndexState is the per-user lifecycle record returned by status queries.
type IndexState struct {
	Status        IndexStatus
	Attempt       int
	LastIndexedAt time.Time
	EmailsIndexed int
	NewEmails     int
	LastError     string
}

// MessageCounts aggregates per-user row counts for admin views.
type MessageCounts struct {
	Total  int
	Read   int
	Unread int
}

// CollectionName derives the per-user vector namespace from an email address.
func CollectionName(email string) string {
	s := strings.ReplaceAll(email, "@", "_")
	s = strings.ReplaceAll(s, ".", "_")
	return "emails_inbox_" + s
}

// Repositories (ports)

type UserRepository interface {
	Create(ctx Context, u User) (string, error)
	Get(ctx Context, id string) (User, error)
	GetByEmail(ctx Context, email string) (User, error)
	List(ctx Context) ([]User, error)
	UpdateCredentials(ctx Context, id, access, refresh string, expiry time.Time) error
}

type MessageRepository interface {
	Create(ctx Context, m Message) (int64, error)
	Get(ctx Context, id int64) (Message, error)
	// ExistingProviderIDs filters ids down to those already stored for the user.
	ExistingProviderIDs(ctx Context, userID string, providerIDs []string) (map[string]bool, error)
	// ListInbox returns INBOX messages newest first.
	ListInbox(ctx Context, userID string, limit, offset int) ([]Message, error)
	ListAll(ctx Context, userID string) ([]Message, error)
	MaxDate(ctx Context, userID string) (time.Time, error)
	Counts(ctx Context, userID string) (MessageCounts, error)
	SetRead(ctx Context, id int64, read bool) error
}

// VectorStore (port)

type VectorStore interface {
	EnsureCollection(ctx Context, name string, dim int) error
	Count(ctx Context, name string) (int, error)
	// ListIDs returns every point id in the collection.
	ListIDs(ctx Context, name string) ([]string, error)
	Upsert(ctx Context, name string, points []ChunkPoint) error
	Query(ctx Context, name string, vector []float32, limit int) ([]SearchHit, error)
}

// AI (ports)

type ChatMessage struct {
	Role    string
	Content string
}

type ChatClient interface {
	Chat(ctx Context, messages []ChatMessage, maxTokens int) (string, error)
}

type Embedder interface {
	Embed(ctx Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// MailProvider (port)

// IncomingMessage is a provider message before it is persisted.
type IncomingMessage struct {
	ProviderMessageID string
	Sender            string
	Subject           string
	Snippet           string
	Body              string
	Date              time.Time
	Labels            []string
}

// IsRead derives the read flag from the absence of the UNREAD label.
func (m IncomingMessage) IsRead() bool {
	for _, l := range m.Labels {
		if l == "UNREAD" {
			return false
		}
	}
	return true
}

type MailProvider interface {
	// FetchSince lists INBOX messages received after the watermark, newest
	// first, capped at max. A zero watermark means no date constraint.
	FetchSince(ctx Context, u User, after time.Time, max int) ([]IncomingMessage, error)
	Send(ctx Context, u User, to, subject, body string) (string, error)
	SetRead(ctx Context, u User, providerMessageID string, read bool) error
}

// Context is an alias for the standard library context.
type Context = context.Context
