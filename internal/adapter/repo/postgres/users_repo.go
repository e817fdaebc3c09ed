package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mailmind-app/mailmind/internal/domain"
)

// UserRepo persists and loads mailbox owners using a minimal pgx pool.
type UserRepo struct{ Pool PgxPool }

// NewUserRepo constructs a UserRepo with the given pool.
func NewUserRepo(p PgxPool) *UserRepo { return &UserRepo{Pool: p} }

const userColumns = `id, external_account_id, email_address, access_credential, refresh_credential, token_expiry, created_at`

// Create stores a new user and returns its id (generates one if empty).
func (r *UserRepo) Create(ctx domain.Context, u domain.User) (string, error) {
	tracer := otel.Tracer("repo.users")
	ctx, span := tracer.Start(ctx, "users.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.sql.table", "users"),
	)
	id := u.ID
	if id == "" {
		id = uuid.New().String()
	}
	q := `INSERT INTO users (id, external_account_id, email_address, access_credential, refresh_credential, token_expiry, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := r.Pool.Exec(ctx, q, id, u.ExternalAccountID, u.EmailAddress, u.AccessCredential, u.RefreshCredential, u.TokenExpiry, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("op=user.create: %w", err)
	}
	return id, nil
}

// Get loads a user by id.
func (r *UserRepo) Get(ctx domain.Context, id string) (domain.User, error) {
	tracer := otel.Tracer("repo.users")
	ctx, span := tracer.Start(ctx, "users.Get")
	defer span.End()
	q := `SELECT ` + userColumns + ` FROM users WHERE id=$1`
	return r.scanOne(r.Pool.QueryRow(ctx, q, id), "user.get")
}

// GetByEmail loads a user by email address.
func (r *UserRepo) GetByEmail(ctx domain.Context, email string) (domain.User, error) {
	tracer := otel.Tracer("repo.users")
	ctx, span := tracer.Start(ctx, "users.GetByEmail")
	defer span.End()
	q := `SELECT ` + userColumns + ` FROM users WHERE email_address=$1`
	return r.scanOne(r.Pool.QueryRow(ctx, q, email), "user.get_by_email")
}

// List returns all users, oldest first.
func (r *UserRepo) List(ctx domain.Context) ([]domain.User, error) {
	tracer := otel.Tracer("repo.users")
	ctx, span := tracer.Start(ctx, "users.List")
	defer span.End()
	q := `SELECT ` + userColumns + ` FROM users ORDER BY created_at`
	rows, err := r.Pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("op=user.list: %w", err)
	}
	defer rows.Close()
	var out []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.ExternalAccountID, &u.EmailAddress, &u.AccessCredential, &u.RefreshCredential, &u.TokenExpiry, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=user.list: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=user.list: %w", err)
	}
	return out, nil
}

// UpdateCredentials stores refreshed provider tokens for a user.
func (r *UserRepo) UpdateCredentials(ctx domain.Context, id, access, refresh string, expiry time.Time) error {
	tracer := otel.Tracer("repo.users")
	ctx, span := tracer.Start(ctx, "users.UpdateCredentials")
	defer span.End()
	q := `UPDATE users SET access_credential=$2, refresh_credential=$3, token_expiry=$4 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, access, refresh, expiry)
	if err != nil {
		return fmt.Errorf("op=user.update_credentials: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=user.update_credentials: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *UserRepo) scanOne(row pgx.Row, op string) (domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.ExternalAccountID, &u.EmailAddress, &u.AccessCredential, &u.RefreshCredential, &u.TokenExpiry, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, fmt.Errorf("op=%s: %w", op, domain.ErrNotFound)
		}
		return domain.User{}, fmt.Errorf("op=%s: %w", op, err)
	}
	return u, nil
}
