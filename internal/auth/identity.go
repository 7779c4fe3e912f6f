package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var ErrSessionNotFound = errors.New("session not found")

// Identity describes the resolved caller of a request. A nil *Identity
// means the request is anonymous.
type Identity struct {
	UserID uuid.UUID
	Email  string
	Admin  bool
}

// Resolver turns an opaque session token into a caller identity.
type Resolver interface {
	Resolve(ctx context.Context, token string) (*Identity, error)
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the caller identity, or nil for anonymous requests.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(ctxKey{}).(*Identity)
	return id
}

// Middleware resolves the Authorization bearer token, if present, and
// attaches the identity to the request context. Requests without a
// token, or with an unknown one, pass through anonymously; handlers
// decide whether anonymous access is allowed. A resolver failure is
// answered with 503 rather than downgrading the caller to anonymous.
func Middleware(resolver Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			identity, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				if errors.Is(err, ErrSessionNotFound) {
					// An invalid token is treated the same as no token.
					next.ServeHTTP(w, r)
					return
				}
				log.Error().Err(err).Msg("Failed to resolve session token")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"error":{"kind":"transient_error","message":"session lookup failed, please retry"}}`))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

type sessionResolver struct {
	db *pgxpool.Pool
}

// NewSessionResolver returns a Resolver backed by the sessions table.
func NewSessionResolver(db *pgxpool.Pool) Resolver {
	return &sessionResolver{db: db}
}

func (r *sessionResolver) Resolve(ctx context.Context, token string) (*Identity, error) {
	query := `
		SELECT user_id, email, is_admin
		FROM sessions
		WHERE token = $1 AND expires_at > $2
	`

	var identity Identity
	err := r.db.QueryRow(ctx, query, token, time.Now().UTC()).Scan(
		&identity.UserID,
		&identity.Email,
		&identity.Admin,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("auth: failed to resolve session: %w", err)
	}

	return &identity, nil
}
