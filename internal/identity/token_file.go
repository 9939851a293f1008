package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/desertthunder/themeroom/internal/shared"
	"golang.org/x/oauth2"
)

// Credentials is what `auth login` stores on disk.
type Credentials struct {
	UserID string        `json:"userId"`
	Token  *oauth2.Token `json:"token"`
}

// SaveCredentials writes creds to path with owner-only permissions.
func SaveCredentials(path string, creds Credentials) error {
	if creds.UserID == "" || creds.Token == nil {
		return fmt.Errorf("%w: credentials need a user and a token", shared.ErrInvalidInput)
	}
	path = shared.ExpandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadCredentials reads credentials saved by [SaveCredentials].
func LoadCredentials(path string) (Credentials, error) {
	data, err := os.ReadFile(shared.ExpandHome(path))
	if errors.Is(err, os.ErrNotExist) {
		return Credentials{}, fmt.Errorf("%w: no credentials at %s", shared.ErrNotAuthenticated, path)
	} else if err != nil {
		return Credentials{}, err
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, fmt.Errorf("%w: malformed credentials: %v", shared.ErrNotAuthenticated, err)
	}
	if creds.UserID == "" || creds.Token == nil {
		return Credentials{}, fmt.Errorf("%w: incomplete credentials", shared.ErrNotAuthenticated)
	}
	return creds, nil
}

// TokenFile is a provider backed by stored OAuth2 credentials. Expired tokens are refreshed
// through Config when it is set, and the refreshed token is written back.
type TokenFile struct {
	Path   string
	Config *oauth2.Config

	mu sync.Mutex
}

func NewTokenFile(path string, cfg *oauth2.Config) *TokenFile {
	return &TokenFile{Path: path, Config: cfg}
}

func (f *TokenFile) CurrentUser(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	creds, err := LoadCredentials(f.Path)
	if err != nil {
		return "", err
	}
	if creds.Token.Valid() {
		return creds.UserID, nil
	}
	if f.Config == nil || creds.Token.RefreshToken == "" {
		return "", fmt.Errorf("%w: token expired", shared.ErrNotAuthenticated)
	}

	fresh, err := f.Config.TokenSource(ctx, creds.Token).Token()
	if err != nil {
		return "", fmt.Errorf("%w: token refresh failed: %v", shared.ErrNotAuthenticated, err)
	}
	if fresh.AccessToken != creds.Token.AccessToken {
		creds.Token = fresh
		if err := SaveCredentials(f.Path, creds); err != nil {
			return "", fmt.Errorf("failed to persist refreshed token: %w", err)
		}
	}
	return creds.UserID, nil
}

func (f *TokenFile) IsAuthenticated(ctx context.Context) bool {
	_, err := f.CurrentUser(ctx)
	return err == nil
}

// OAuthConfig builds the client config from application settings. It returns nil when no
// client id is configured.
func OAuthConfig(c shared.OAuthConfig) *oauth2.Config {
	if c.ClientID == "" {
		return nil
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint:     oauth2.Endpoint{AuthURL: c.AuthURL, TokenURL: c.TokenURL},
		RedirectURL:  c.RedirectURL,
		Scopes:       c.Scopes,
	}
}
