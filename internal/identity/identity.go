// Package identity answers "who is the local user?" for sessions and mutations.
//
// Providers are read-only: signing in happens elsewhere (the auth command or an issued relay
// token) and a provider only reports the result.
package identity

import (
	"context"
	"fmt"

	"github.com/desertthunder/themeroom/internal/shared"
)

// Provider reports the authenticated user.
type Provider interface {
	// CurrentUser returns the user id or an error wrapping [shared.ErrNotAuthenticated].
	CurrentUser(ctx context.Context) (string, error)
	IsAuthenticated(ctx context.Context) bool
}

// Static is a fixed identity, configured or passed on the command line.
type Static struct {
	UserID string
}

func (s Static) CurrentUser(context.Context) (string, error) {
	if s.UserID == "" {
		return "", fmt.Errorf("%w: no user configured", shared.ErrNotAuthenticated)
	}
	return s.UserID, nil
}

func (s Static) IsAuthenticated(ctx context.Context) bool {
	_, err := s.CurrentUser(ctx)
	return err == nil
}

type userKey struct{}

// NewContext returns a copy of ctx carrying userID.
func NewContext(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// FromContext returns the user id stored by [NewContext].
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userKey{}).(string)
	return id, ok && id != ""
}

// Context reads the user from the request context, as set by the relay's auth middleware.
type Context struct{}

func (Context) CurrentUser(ctx context.Context) (string, error) {
	if id, ok := FromContext(ctx); ok {
		return id, nil
	}
	return "", fmt.Errorf("%w: no user in context", shared.ErrNotAuthenticated)
}

func (c Context) IsAuthenticated(ctx context.Context) bool {
	_, ok := FromContext(ctx)
	return ok
}

// Chain asks each provider in order and returns the first user found.
type Chain []Provider

func (c Chain) CurrentUser(ctx context.Context) (string, error) {
	for _, p := range c {
		if id, err := p.CurrentUser(ctx); err == nil {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: no provider has a user", shared.ErrNotAuthenticated)
}

func (c Chain) IsAuthenticated(ctx context.Context) bool {
	_, err := c.CurrentUser(ctx)
	return err == nil
}
