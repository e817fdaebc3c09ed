package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mailmind-app/mailmind/internal/domain"
)

type ctxUserKey struct{}

// AuthMiddleware validates the bearer token and resolves the user it names.
// Requests without a valid token get 401.
func (s *Server) AuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || raw == "" {
				writeError(w, r, fmt.Errorf("%w: missing bearer token", domain.ErrUnauthorized), nil)
				return
			}

			claims := jwt.RegisteredClaims{}
			token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}
				return []byte(s.Cfg.JWTSecret), nil
			})
			if err != nil || !token.Valid || claims.Subject == "" {
				writeError(w, r, fmt.Errorf("%w: invalid token", domain.ErrUnauthorized), nil)
				return
			}

			u, err := s.Users.Get(r.Context(), claims.Subject)
			if err != nil {
				writeError(w, r, fmt.Errorf("%w: unknown user", domain.ErrUnauthorized), nil)
				return
			}
			ctx := context.WithValue(r.Context(), ctxUserKey{}, u)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFrom extracts the authenticated user placed in the request context by
// AuthMiddleware.
func UserFrom(r *http.Request) (domain.User, bool) {
	u, ok := r.Context().Value(ctxUserKey{}).(domain.User)
	return u, ok
}

// IssueToken mints a bearer token naming the given user id.
func IssueToken(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("op=auth.issue_token: %w", err)
	}
	return signed, nil
}
