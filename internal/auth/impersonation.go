package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ImpersonationResult is returned when an actor starts acting as a target.
type ImpersonationResult struct {
	User           Profile   `json:"user"`
	Token          string    `json:"token"`
	ExpiresAt      time.Time `json:"expires_at"`
	ImpersonatedBy Identity  `json:"impersonatedBy"`
}

// StopResult is returned when an impersonation session is reverted.
type StopResult struct {
	User      User      `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Impersonator switches a session between the actor and a target user. All
// state lives in the issued tokens.
type Impersonator struct {
	users        UserReader
	resolver     *Resolver
	codec        *TokenCodec
	elevatedRole string
}

func NewImpersonator(users UserReader, resolver *Resolver, codec *TokenCodec) (*Impersonator, error) {
	if users == nil || resolver == nil || codec == nil {
		return nil, errors.New("impersonator requires users, resolver and codec")
	}
	return &Impersonator{users: users, resolver: resolver, codec: codec, elevatedRole: RoleSuperAdmin}, nil
}

// Start issues a token for targetID on behalf of the session user. The actor
// must hold the elevated role; nested impersonation is rejected.
func (i *Impersonator) Start(ctx context.Context, s Session, targetID string) (ImpersonationResult, error) {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return ImpersonationResult{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if s.Impersonating() {
		return ImpersonationResult{}, fmt.Errorf("%w: already impersonating, stop the current session first", ErrConflict)
	}
	if targetID == s.UserID {
		return ImpersonationResult{}, fmt.Errorf("%w: cannot impersonate yourself", ErrInvalidInput)
	}

	target, err := i.users.GetUser(ctx, targetID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ImpersonationResult{}, fmt.Errorf("%w: user not found", ErrNotFound)
		}
		return ImpersonationResult{}, err
	}
	if target.Deleted() {
		return ImpersonationResult{}, fmt.Errorf("%w: cannot impersonate a deleted account", ErrConflict)
	}

	actor, err := i.users.GetUser(ctx, s.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ImpersonationResult{}, fmt.Errorf("%w: actor not found", ErrNotFound)
		}
		return ImpersonationResult{}, err
	}
	if !actor.HasRole(i.elevatedRole) {
		return ImpersonationResult{}, fmt.Errorf("%w: only %s users can impersonate", ErrForbidden, i.elevatedRole)
	}

	claims := ClaimsFor(target)
	claims.ActorID = actor.ID
	claims.IsImpersonating = true
	token, expiresAt, err := i.codec.Issue(claims, ImpersonationTokenTTL)
	if err != nil {
		return ImpersonationResult{}, err
	}
	profile, err := i.resolver.Profile(ctx, target)
	if err != nil {
		return ImpersonationResult{}, err
	}
	return ImpersonationResult{
		User:           profile,
		Token:          token,
		ExpiresAt:      expiresAt,
		ImpersonatedBy: actor.Identity(),
	}, nil
}

// Stop reverts an impersonation session to an ordinary token for the actor.
// The actor's role is not re-checked: it was proven when the session started.
func (i *Impersonator) Stop(ctx context.Context, s Session) (StopResult, error) {
	if !s.Impersonating() {
		return StopResult{}, ErrNotImpersonating
	}
	actor, err := i.users.GetUser(ctx, s.Impersonation.ActorID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return StopResult{}, fmt.Errorf("%w: actor not found", ErrNotFound)
		}
		return StopResult{}, err
	}
	token, expiresAt, err := i.codec.Issue(ClaimsFor(actor), i.codec.TTL())
	if err != nil {
		return StopResult{}, err
	}
	if actor.Roles == nil {
		actor.Roles = []Role{}
	}
	return StopResult{User: actor, Token: token, ExpiresAt: expiresAt}, nil
}
