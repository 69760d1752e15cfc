package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultIssuer = "rusunawa"

	// DefaultTokenTTL is the lifetime of an ordinary session token.
	DefaultTokenTTL = 7 * 24 * time.Hour
	// ImpersonationTokenTTL is the fixed lifetime of impersonation tokens.
	ImpersonationTokenTTL = 24 * time.Hour
)

// Claims is the payload of a session token. ActorID and IsImpersonating are
// either both set or both absent.
type Claims struct {
	UserID          string `json:"id"`
	Email           string `json:"email"`
	Username        string `json:"username"`
	ActorID         string `json:"actorId,omitempty"`
	IsImpersonating bool   `json:"isImpersonating,omitempty"`
	jwt.RegisteredClaims
}

// Impersonating reports whether the claims describe an impersonation session.
func (c Claims) Impersonating() bool { return c.IsImpersonating && c.ActorID != "" }

func (c Claims) consistent() bool {
	return (c.ActorID != "") == c.IsImpersonating
}

// ClaimsFor builds ordinary claims for the user.
func ClaimsFor(u User) Claims {
	return Claims{UserID: u.ID, Email: u.Email, Username: u.Username}
}

// TokenCodec signs and verifies HS256 session tokens.
type TokenCodec struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// CodecOption configures TokenCodec behavior.
type CodecOption func(*TokenCodec) error

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) CodecOption {
	return func(c *TokenCodec) error {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			c.issuer = issuer
		}
		return nil
	}
}

// WithTokenTTL configures the ordinary session lifetime.
func WithTokenTTL(ttl time.Duration) CodecOption {
	return func(c *TokenCodec) error {
		if ttl < 0 {
			return errors.New("auth: token ttl must not be negative")
		}
		if ttl > 0 {
			c.ttl = ttl
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) CodecOption {
	return func(c *TokenCodec) error {
		if fn != nil {
			c.now = fn
		}
		return nil
	}
}

// NewTokenCodec constructs a codec around the shared signing secret.
func NewTokenCodec(secret string, opts ...CodecOption) (*TokenCodec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: token secret is required")
	}
	c := &TokenCodec{
		secret: []byte(secret),
		issuer: DefaultIssuer,
		ttl:    DefaultTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// TTL returns the ordinary session lifetime.
func (c *TokenCodec) TTL() time.Duration { return c.ttl }

// Issue signs claims valid for ttl from now.
func (c *TokenCodec) Issue(claims Claims, ttl time.Duration) (string, time.Time, error) {
	claims.UserID = strings.TrimSpace(claims.UserID)
	if claims.UserID == "" {
		return "", time.Time{}, fmt.Errorf("%w: token subject is required", ErrInvalidInput)
	}
	if ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("%w: token ttl must be positive", ErrInvalidInput)
	}
	if !claims.consistent() {
		return "", time.Time{}, fmt.Errorf("%w: impersonation claims must be set together", ErrInvalidInput)
	}

	now := c.now().UTC().Truncate(time.Second)
	expiresAt := now.Add(ttl)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    c.issuer,
		Subject:   claims.UserID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		ID:        uuid.NewString(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature, issuer, expiry and claim consistency.
func (c *TokenCodec) Verify(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrTokenMalformed
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, ErrTokenMalformed
	}
	if strings.TrimSpace(claims.UserID) == "" || !claims.consistent() {
		return Claims{}, ErrTokenMalformed
	}
	return claims, nil
}
