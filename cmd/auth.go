package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/desertthunder/themeroom/internal/identity"
	"github.com/desertthunder/themeroom/internal/server"
	"github.com/desertthunder/themeroom/internal/shared"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
)

const oauthTimeout = 2 * time.Minute

// AuthLogin runs the OAuth2 authorization code flow and stores the token for the configured user.
//
// Starts a local HTTP server on the redirect URL's host, opens the browser, and waits for the callback.
func (r *Runner) AuthLogin(ctx context.Context, cmd *cli.Command) error {
	cfg := identity.OAuthConfig(r.config.OAuth)
	if cfg == nil || strings.HasPrefix(cfg.ClientID, "your_") {
		return fmt.Errorf("%w: oauth.client_id and oauth.client_secret must be set", shared.ErrInvalidConfig)
	}
	userID := r.config.Identity.UserID
	if userID == "" {
		return fmt.Errorf("%w: identity.user_id must be set", shared.ErrInvalidConfig)
	}

	token, err := r.doOAuth(ctx, cfg)
	if err != nil {
		return err
	}

	path := r.config.Identity.TokenFile
	if err := identity.SaveCredentials(path, identity.Credentials{UserID: userID, Token: token}); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	r.writePlainln("✓ Authorization successful")
	r.writePlain("✓ Token saved to %s\n", shared.ExpandHome(path))
	return nil
}

func (r *Runner) doOAuth(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	redirect, err := url.Parse(cfg.RedirectURL)
	if err != nil || redirect.Host == "" {
		return nil, fmt.Errorf("%w: oauth.redirect_url %q", shared.ErrInvalidConfig, cfg.RedirectURL)
	}

	handler := server.NewOAuthHandler(cfg)

	listener, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", redirect.Host, err)
	}
	httpServer := &http.Server{
		Handler:           server.CallbackRouter(handler, server.RequestLogger(r.logger)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		r.logger.Infof("starting OAuth callback server at %v", redirect.Host)
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			handler.Fail(fmt.Errorf("server error: %w", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Warn("error shutting down server", "error", err)
		}
	}()

	authURL := handler.AuthCodeURL()
	r.writePlain("→ Opening browser for sign in...\n")
	if err := shared.OpenBrowser(authURL); err != nil {
		r.logger.Warnf("failed to open browser automatically %v", err)
		r.writePlainln("⚠ Could not open browser automatically.")
		r.writePlain("Please open this URL in your browser:\n%s\n\n", authURL)
	}
	r.writePlain("→ Waiting for authorization (%s timeout)...\n", oauthTimeout)

	waitCtx, cancel := context.WithTimeout(ctx, oauthTimeout)
	defer cancel()
	token, err := handler.Wait(waitCtx)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return nil, fmt.Errorf("%w: authorization timed out after %s", shared.ErrNotAuthenticated, oauthTimeout)
	case err != nil:
		return nil, fmt.Errorf("authorization failed: %w", err)
	}
	return token, nil
}

type authStatus struct {
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"userId,omitempty"`
	Source        string `json:"source,omitempty"`
	Error         string `json:"error,omitempty"`
}

// AuthStatus reports which identity commands run as.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	status := authStatus{}
	provider := r.provider()
	user, err := provider.CurrentUser(ctx)
	if err != nil {
		status.Error = err.Error()
	} else {
		status.Authenticated = true
		status.UserID = user
		status.Source = providerSource(ctx, provider)
	}

	if cmd.Bool("json") {
		return r.writeJSON(status, cmd.Bool("pretty"))
	}
	if !status.Authenticated {
		r.writePlain("✗ Not authenticated\n")
		return r.writePlain("Reason: %s\n", status.Error)
	}
	r.writePlain("✓ Authenticated\n")
	r.writePlain("User: %s\n", status.UserID)
	return r.writePlain("Source: %s\n", status.Source)
}

func providerSource(ctx context.Context, p identity.Provider) string {
	if chain, ok := p.(identity.Chain); ok {
		for _, sub := range chain {
			if sub.IsAuthenticated(ctx) {
				return providerSource(ctx, sub)
			}
		}
	}
	switch p.(type) {
	case *identity.TokenFile:
		return "oauth token"
	case identity.Static:
		return "static"
	default:
		return fmt.Sprintf("%T", p)
	}
}

// AuthToken issues a signed relay token for the current user.
func (r *Runner) AuthToken(ctx context.Context, cmd *cli.Command) error {
	signer, err := identity.NewSigner(r.config.Identity.JWTSecret)
	if err != nil {
		return err
	}
	user, err := r.provider().CurrentUser(ctx)
	if err != nil {
		return err
	}
	name := r.config.Identity.DisplayName
	if user != r.config.Identity.UserID || name == "" {
		name = user
	}
	token, err := signer.Issue(user, name, cmd.Duration("ttl"))
	if err != nil {
		return err
	}
	return r.writePlain("%s\n", token)
}
