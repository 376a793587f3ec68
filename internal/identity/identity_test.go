package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/greirson/gthanks-sub001/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func requestWithAuth(header string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/items/i1", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	return req
}

func TestJWTResolver(t *testing.T) {
	t.Parallel()

	now := time.Now()
	alice := domain.Actor{ID: "alice", Email: "alice@example.com", Name: "Alice"}
	valid, err := Issue(testSecret, alice, "gthanks", time.Hour, now)
	require.NoError(t, err)
	expired, err := Issue(testSecret, alice, "gthanks", time.Hour, now.Add(-3*time.Hour))
	require.NoError(t, err)
	wrongKey, err := Issue("other-secret", alice, "gthanks", time.Hour, now)
	require.NoError(t, err)
	wrongIssuer, err := Issue(testSecret, alice, "elsewhere", time.Hour, now)
	require.NoError(t, err)
	noSubject, err := Issue(testSecret, domain.Actor{Email: "x@example.com"}, "gthanks", time.Hour, now)
	require.NoError(t, err)

	resolver := NewJWTResolver(JWTConfig{Secret: testSecret, Issuer: "gthanks"})

	tests := []struct {
		name      string
		header    string
		wantActor *domain.Actor
		wantErr   bool
	}{
		{name: "no header is anonymous", header: ""},
		{name: "non-bearer scheme is anonymous", header: "Basic Zm9vOmJhcg=="},
		{name: "valid token", header: "Bearer " + valid, wantActor: &alice},
		{name: "lowercase scheme", header: "bearer " + valid, wantActor: &alice},
		{name: "expired", header: "Bearer " + expired, wantErr: true},
		{name: "wrong key", header: "Bearer " + wrongKey, wantErr: true},
		{name: "wrong issuer", header: "Bearer " + wrongIssuer, wantErr: true},
		{name: "missing subject", header: "Bearer " + noSubject, wantErr: true},
		{name: "garbage", header: "Bearer not-a-jwt", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			actor, err := resolver.Resolve(requestWithAuth(tt.header))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidToken)
				assert.Nil(t, actor)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantActor, actor)
		})
	}
}

func TestJWTResolver_RequiresSecret(t *testing.T) {
	t.Parallel()

	token, err := Issue(testSecret, domain.Actor{ID: "alice"}, "", time.Hour, time.Now())
	require.NoError(t, err)

	_, err = NewJWTResolver(JWTConfig{}).Resolve(requestWithAuth("Bearer " + token))
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestActorContext(t *testing.T) {
	t.Parallel()

	assert.Nil(t, ActorFrom(context.Background()))
	actor := &domain.Actor{ID: "bob"}
	assert.Same(t, actor, ActorFrom(WithActor(context.Background(), actor)))
}
