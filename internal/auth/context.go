package auth

import (
	"context"
	"time"
)

// Impersonation describes who is acting on behalf of the session user.
type Impersonation struct {
	ActorID string
}

// Session is the per-request identity established by the authentication gate.
// Permissions is filled by the authorization gate after a live lookup.
type Session struct {
	UserID        string
	Email         string
	Username      string
	TokenID       string
	ExpiresAt     time.Time
	Impersonation *Impersonation
	Permissions   PermissionSet
}

// SessionFromClaims converts verified token claims into a session.
func SessionFromClaims(c Claims) Session {
	s := Session{
		UserID:   c.UserID,
		Email:    c.Email,
		Username: c.Username,
		TokenID:  c.RegisteredClaims.ID,
	}
	if c.ExpiresAt != nil {
		s.ExpiresAt = c.ExpiresAt.Time
	}
	if c.Impersonating() {
		s.Impersonation = &Impersonation{ActorID: c.ActorID}
	}
	return s
}

// Impersonating reports whether an actor is acting as the session user.
func (s Session) Impersonating() bool {
	return s.Impersonation != nil && s.Impersonation.ActorID != ""
}

// ActorID returns the impersonating actor, or the user itself.
func (s Session) ActorID() string {
	if s.Impersonating() {
		return s.Impersonation.ActorID
	}
	return s.UserID
}

type sessionContextKey struct{}
type tokenContextKey struct{}

// ContextWithSession attaches the authenticated session to the context.
func ContextWithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, &s)
}

// SessionFromContext extracts the authenticated session from the context.
func SessionFromContext(ctx context.Context) (Session, bool) {
	if ctx == nil {
		return Session{}, false
	}
	v, ok := ctx.Value(sessionContextKey{}).(*Session)
	if !ok || v == nil || v.UserID == "" {
		return Session{}, false
	}
	return *v, true
}

// ContextWithToken stores the raw bearer token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
