package auth_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopcore/storefront/internal/auth"
)

type staticResolver struct {
	identities map[string]*auth.Identity
}

func (r *staticResolver) Resolve(ctx context.Context, token string) (*auth.Identity, error) {
	if id, ok := r.identities[token]; ok {
		return id, nil
	}
	return nil, auth.ErrSessionNotFound
}

func TestMiddleware(t *testing.T) {
	userID := uuid.Must(uuid.NewV4())
	resolver := &staticResolver{
		identities: map[string]*auth.Identity{
			"good-token": {UserID: userID, Email: "customer@example.com"},
		},
	}

	var seen *auth.Identity
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = auth.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := auth.Middleware(resolver)(next)

	tests := []struct {
		name         string
		header       string
		wantIdentity bool
	}{
		{name: "no_header", header: "", wantIdentity: false},
		{name: "valid_token", header: "Bearer good-token", wantIdentity: true},
		{name: "unknown_token", header: "Bearer bad-token", wantIdentity: false},
		{name: "malformed_header", header: "good-token", wantIdentity: false},
		{name: "wrong_scheme", header: "Basic good-token", wantIdentity: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			if tt.wantIdentity {
				require.NotNil(t, seen)
				assert.Equal(t, userID, seen.UserID)
			} else {
				assert.Nil(t, seen)
			}
		})
	}
}

type failingResolver struct{}

func (failingResolver) Resolve(ctx context.Context, token string) (*auth.Identity, error) {
	return nil, errors.New("connection refused")
}

func TestMiddleware_ResolverFailure(t *testing.T) {
	// A broken session store must not downgrade the caller to anonymous;
	// the request is answered as retryable instead of reaching handlers.
	reached := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	})
	handler := auth.Middleware(failingResolver{})(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.False(t, reached)
	assert.Contains(t, w.Body.String(), "transient_error")
}

func TestFromContext_Empty(t *testing.T) {
	assert.Nil(t, auth.FromContext(context.Background()))
}
