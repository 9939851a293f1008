package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/themeroom/internal/shared"
	"github.com/golang-jwt/jwt/v5"
)

const issuer = "themeroom"

// Claims identify a user to the relay.
type Claims struct {
	DisplayName string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Signer issues and verifies HMAC-signed relay tokens.
type Signer struct {
	secret []byte
	now    func() time.Time
}

func NewSigner(secret string) (*Signer, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("%w: jwt secret must be at least 16 bytes", shared.ErrInvalidConfig)
	}
	return &Signer{secret: []byte(secret), now: time.Now}, nil
}

// Issue returns a signed token for userID valid for ttl.
func (s *Signer) Issue(userID, displayName string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: user id", shared.ErrMissingArgument)
	}
	now := s.now()
	claims := &Claims{
		DisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify parses raw, which may carry a "Bearer " prefix, and returns its claims.
func (s *Signer) Verify(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
		raw = strings.TrimSpace(raw[7:])
	}
	if raw == "" {
		return nil, fmt.Errorf("%w: missing token", shared.ErrUnauthorized)
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("%w: invalid token", shared.ErrUnauthorized)
	}
	return claims, nil
}

// Bearer is a provider for a single presented token.
type Bearer struct {
	Signer *Signer
	Token  string
}

func (b Bearer) CurrentUser(context.Context) (string, error) {
	claims, err := b.Signer.Verify(b.Token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrNotAuthenticated, err)
	}
	return claims.Subject, nil
}

func (b Bearer) IsAuthenticated(ctx context.Context) bool {
	_, err := b.CurrentUser(ctx)
	return err == nil
}
