package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mailmind-app/mailmind/internal/domain"
)

// MessageRepo persists and loads stored emails using a minimal pgx pool.
type MessageRepo struct{ Pool PgxPool }

// NewMessageRepo constructs a MessageRepo with the given pool.
func NewMessageRepo(p PgxPool) *MessageRepo { return &MessageRepo{Pool: p} }

const messageColumns = `id, user_id, provider_message_id, sender, subject, snippet, body, date, labels, is_read`

// Create inserts a new message and returns its generated id. A duplicate
// (user_id, provider_message_id) pair maps to domain.ErrConflict.
func (r *MessageRepo) Create(ctx domain.Context, m domain.Message) (int64, error) {
	tracer := otel.Tracer("repo.messages")
	ctx, span := tracer.Start(ctx, "messages.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.sql.table", "messages"),
	)
	q := `INSERT INTO messages (user_id, provider_message_id, sender, subject, snippet, body, date, labels, is_read)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	      ON CONFLICT (user_id, provider_message_id) DO NOTHING
	      RETURNING id`
	row := r.Pool.QueryRow(ctx, q, m.UserID, m.ProviderMessageID, m.Sender, m.Subject, m.Snippet, m.Body, m.Date.UTC(), m.Labels, m.IsRead)
	var id int64
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("op=message.create: %w", domain.ErrConflict)
		}
		return 0, fmt.Errorf("op=message.create: %w", err)
	}
	return id, nil
}

// Get loads a message by id.
func (r *MessageRepo) Get(ctx domain.Context, id int64) (domain.Message, error) {
	tracer := otel.Tracer("repo.messages")
	ctx, span := tracer.Start(ctx, "messages.Get")
	defer span.End()
	q := `SELECT ` + messageColumns + ` FROM messages WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	var m domain.Message
	if err := row.Scan(&m.ID, &m.UserID, &m.ProviderMessageID, &m.Sender, &m.Subject, &m.Snippet, &m.Body, &m.Date, &m.Labels, &m.IsRead); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Message{}, fmt.Errorf("op=message.get: %w", domain.ErrNotFound)
		}
		return domain.Message{}, fmt.Errorf("op=message.get: %w", err)
	}
	return m, nil
}

// ExistingProviderIDs filters ids down to those already stored for the user.
func (r *MessageRepo) ExistingProviderIDs(ctx domain.Context, userID string, providerIDs []string) (map[string]bool, error) {
	tracer := otel.Tracer("repo.messages")
	ctx, span := tracer.Start(ctx, "messages.ExistingProviderIDs")
	defer span.End()
	if len(providerIDs) == 0 {
		return map[string]bool{}, nil
	}
	q := `SELECT provider_message_id FROM messages WHERE user_id=$1 AND provider_message_id = ANY($2)`
	rows, err := r.Pool.Query(ctx, q, userID, providerIDs)
	if err != nil {
		return nil, fmt.Errorf("op=message.existing_provider_ids: %w", err)
	}
	defer rows.Close()
	out := make(map[string]bool, len(providerIDs))
	for rows.Next() {
		var pid string
		if err := rows.Scan(&pid); err != nil {
			return nil, fmt.Errorf("op=message.existing_provider_ids: %w", err)
		}
		out[pid] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=message.existing_provider_ids: %w", err)
	}
	return out, nil
}

// ListInbox returns INBOX messages for the user, newest first.
func (r *MessageRepo) ListInbox(ctx domain.Context, userID string, limit, offset int) ([]domain.Message, error) {
	tracer := otel.Tracer("repo.messages")
	ctx, span := tracer.Start(ctx, "messages.ListInbox")
	defer span.End()
	q := `SELECT ` + messageColumns + ` FROM messages WHERE user_id=$1 AND 'INBOX' = ANY(labels) ORDER BY date DESC LIMIT $2 OFFSET $3`
	return r.list(ctx, "message.list_inbox", q, userID, limit, offset)
}

// ListAll returns every stored message for the user, newest first.
func (r *MessageRepo) ListAll(ctx domain.Context, userID string) ([]domain.Message, error) {
	tracer := otel.Tracer("repo.messages")
	ctx, span := tracer.Start(ctx, "messages.ListAll")
	defer span.End()
	q := `SELECT ` + messageColumns + ` FROM messages WHERE user_id=$1 ORDER BY date DESC`
	return r.list(ctx, "message.list_all", q, userID)
}

// MaxDate returns the newest stored message date for the user, or the zero
// time when the user has no messages.
func (r *MessageRepo) MaxDate(ctx domain.Context, userID string) (time.Time, error) {
	tracer := otel.Tracer("repo.messages")
	ctx, span := tracer.Start(ctx, "messages.MaxDate")
	defer span.End()
	q := `SELECT MAX(date) FROM messages WHERE user_id=$1`
	row := r.Pool.QueryRow(ctx, q, userID)
	var max *time.Time
	if err := row.Scan(&max); err != nil {
		return time.Time{}, fmt.Errorf("op=message.max_date: %w", err)
	}
	if max == nil {
		return time.Time{}, nil
	}
	return *max, nil
}

// Counts aggregates total/read/unread row counts for the user.
func (r *MessageRepo) Counts(ctx domain.Context, userID string) (domain.MessageCounts, error) {
	tracer := otel.Tracer("repo.messages")
	ctx, span := tracer.Start(ctx, "messages.Counts")
	defer span.End()
	q := `SELECT COUNT(*), COUNT(*) FILTER (WHERE is_read), COUNT(*) FILTER (WHERE NOT is_read) FROM messages WHERE user_id=$1`
	row := r.Pool.QueryRow(ctx, q, userID)
	var c domain.MessageCounts
	if err := row.Scan(&c.Total, &c.Read, &c.Unread); err != nil {
		return domain.MessageCounts{}, fmt.Errorf("op=message.counts: %w", err)
	}
	return c, nil
}

// SetRead flips the read flag on a stored message.
func (r *MessageRepo) SetRead(ctx domain.Context, id int64, read bool) error {
	tracer := otel.Tracer("repo.messages")
	ctx, span := tracer.Start(ctx, "messages.SetRead")
	defer span.End()
	q := `UPDATE messages SET is_read=$2 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, read)
	if err != nil {
		return fmt.Errorf("op=message.set_read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=message.set_read: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *MessageRepo) list(ctx domain.Context, op, q string, args ...any) ([]domain.Message, error) {
	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=%s: %w", op, err)
	}
	defer rows.Close()
	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.UserID, &m.ProviderMessageID, &m.Sender, &m.Subject, &m.Snippet, &m.Body, &m.Date, &m.Labels, &m.IsRead); err != nil {
			return nil, fmt.Errorf("op=%s: %w", op, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=%s: %w", op, err)
	}
	return out, nil
}
