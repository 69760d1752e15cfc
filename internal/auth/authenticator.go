package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Denylist records revoked token ids until their expiry.
type Denylist interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	Revoked(ctx context.Context, tokenID string) (bool, error)
}

// Authenticator turns bearer tokens into sessions. It never touches the
// user store.
type Authenticator struct {
	codec    *TokenCodec
	denylist Denylist
}

func NewAuthenticator(codec *TokenCodec, denylist Denylist) (*Authenticator, error) {
	if codec == nil {
		return nil, errors.New("token codec is required")
	}
	return &Authenticator{codec: codec, denylist: denylist}, nil
}

// Authenticate verifies token and checks the denylist when one is configured.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (Session, error) {
	claims, err := a.codec.Verify(token)
	if err != nil {
		return Session{}, err
	}
	session := SessionFromClaims(claims)
	if a.denylist != nil && session.TokenID != "" {
		revoked, err := a.denylist.Revoked(ctx, session.TokenID)
		if err != nil {
			return Session{}, fmt.Errorf("check denylist: %w", err)
		}
		if revoked {
			return Session{}, ErrTokenRevoked
		}
	}
	return session, nil
}

// Revoke denies the session token until it expires. Without a denylist it
// reports false and the client is expected to discard the token.
func (a *Authenticator) Revoke(ctx context.Context, s Session) (bool, error) {
	if a.denylist == nil || strings.TrimSpace(s.TokenID) == "" {
		return false, nil
	}
	until := s.ExpiresAt
	if until.IsZero() {
		until = time.Now().Add(a.codec.TTL())
	}
	if err := a.denylist.Revoke(ctx, s.TokenID, until); err != nil {
		return false, err
	}
	return true, nil
}
