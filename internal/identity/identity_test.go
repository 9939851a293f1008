package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/desertthunder/themeroom/internal/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const secret = "0123456789abcdef-test"

func TestStatic(t *testing.T) {
	ctx := context.Background()

	id, err := Static{UserID: "alice"}.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", id)

	_, err = Static{}.CurrentUser(ctx)
	assert.ErrorIs(t, err, shared.ErrNotAuthenticated)
	assert.False(t, Static{}.IsAuthenticated(ctx))
}

func TestContextAndChain(t *testing.T) {
	ctx := NewContext(context.Background(), "bob")

	id, err := Context{}.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bob", id)
	assert.False(t, Context{}.IsAuthenticated(context.Background()))

	chain := Chain{Context{}, Static{UserID: "fallback"}}
	id, err = chain.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fallback", id)

	id, err = chain.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bob", id)

	_, err = Chain{Static{}}.CurrentUser(ctx)
	assert.ErrorIs(t, err, shared.ErrNotAuthenticated)
}

func TestSigner(t *testing.T) {
	t.Run("short secrets are rejected", func(t *testing.T) {
		_, err := NewSigner("short")
		assert.ErrorIs(t, err, shared.ErrInvalidConfig)
	})

	t.Run("issued tokens verify", func(t *testing.T) {
		s, err := NewSigner(secret)
		require.NoError(t, err)

		tok, err := s.Issue("alice", "Alice", time.Hour)
		require.NoError(t, err)

		for _, raw := range []string{tok, "Bearer " + tok, "bearer  " + tok} {
			claims, err := s.Verify(raw)
			require.NoError(t, err)
			assert.Equal(t, "alice", claims.Subject)
			assert.Equal(t, "Alice", claims.DisplayName)
		}

		id, err := Bearer{Signer: s, Token: tok}.CurrentUser(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "alice", id)
	})

	t.Run("expired, foreign and empty tokens fail", func(t *testing.T) {
		s, err := NewSigner(secret)
		require.NoError(t, err)
		other, err := NewSigner("another-secret-of-length")
		require.NoError(t, err)

		expired, err := s.Issue("alice", "", -time.Minute)
		require.NoError(t, err)
		foreign, err := other.Issue("alice", "", time.Hour)
		require.NoError(t, err)

		for name, raw := range map[string]string{"expired": expired, "foreign": foreign, "empty": "", "garbage": "a.b.c"} {
			t.Run(name, func(t *testing.T) {
				_, err := s.Verify(raw)
				assert.ErrorIs(t, err, shared.ErrUnauthorized)
			})
		}

		_, err = Bearer{Signer: s, Token: expired}.CurrentUser(context.Background())
		assert.ErrorIs(t, err, shared.ErrNotAuthenticated)
	})
}

func TestTokenFile(t *testing.T) {
	ctx := context.Background()

	t.Run("missing file is unauthenticated", func(t *testing.T) {
		f := NewTokenFile(filepath.Join(t.TempDir(), "nope.json"), nil)
		_, err := f.CurrentUser(ctx)
		assert.True(t, errors.Is(err, shared.ErrNotAuthenticated))
	})

	t.Run("valid token yields the stored user", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "auth", "token.json")
		require.NoError(t, SaveCredentials(path, Credentials{
			UserID: "alice",
			Token:  &oauth2.Token{AccessToken: "abc", Expiry: time.Now().Add(time.Hour)},
		}))

		f := NewTokenFile(path, nil)
		id, err := f.CurrentUser(ctx)
		require.NoError(t, err)
		assert.Equal(t, "alice", id)
		assert.True(t, f.IsAuthenticated(ctx))
	})

	t.Run("expired token without refresh fails", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "token.json")
		require.NoError(t, SaveCredentials(path, Credentials{
			UserID: "alice",
			Token:  &oauth2.Token{AccessToken: "abc", Expiry: time.Now().Add(-time.Hour)},
		}))

		_, err := NewTokenFile(path, nil).CurrentUser(ctx)
		assert.ErrorIs(t, err, shared.ErrNotAuthenticated)
	})

	t.Run("expired token is refreshed and saved", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"fresh","token_type":"bearer","refresh_token":"r2","expires_in":3600}`))
		}))
		defer srv.Close()

		path := filepath.Join(t.TempDir(), "token.json")
		require.NoError(t, SaveCredentials(path, Credentials{
			UserID: "alice",
			Token:  &oauth2.Token{AccessToken: "stale", RefreshToken: "r1", Expiry: time.Now().Add(-time.Hour)},
		}))

		cfg := &oauth2.Config{
			ClientID: "client",
			Endpoint: oauth2.Endpoint{TokenURL: srv.URL, AuthStyle: oauth2.AuthStyleInParams},
		}
		id, err := NewTokenFile(path, cfg).CurrentUser(ctx)
		require.NoError(t, err)
		assert.Equal(t, "alice", id)

		creds, err := LoadCredentials(path)
		require.NoError(t, err)
		assert.Equal(t, "fresh", creds.Token.AccessToken)
	})

	t.Run("incomplete credentials are refused", func(t *testing.T) {
		err := SaveCredentials(filepath.Join(t.TempDir(), "x.json"), Credentials{UserID: "alice"})
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
	})
}

func TestOAuthConfig(t *testing.T) {
	assert.Nil(t, OAuthConfig(shared.OAuthConfig{}))

	cfg := OAuthConfig(shared.OAuthConfig{ClientID: "id", TokenURL: "https://idp/token", Scopes: []string{"profile"}})
	require.NotNil(t, cfg)
	assert.Equal(t, "https://idp/token", cfg.Endpoint.TokenURL)
	assert.Equal(t, []string{"profile"}, cfg.Scopes)
}
