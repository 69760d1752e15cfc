package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RegisterInput is the self-service sign up request.
type RegisterInput struct {
	Username  string `json:"username" validate:"required,username"`
	Email     string `json:"email" validate:"required,email_address"`
	Password  string `json:"password" validate:"required,min=8,max=72,letter_digit"`
	Firstname string `json:"firstname" validate:"required,min=2"`
	Lastname  string `json:"lastname" validate:"required,min=2"`
}

func (in *RegisterInput) normalize() {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = normalizeEmail(in.Email)
	in.Firstname = strings.TrimSpace(in.Firstname)
	in.Lastname = strings.TrimSpace(in.Lastname)
}

// LoginResult carries the issued session token.
type LoginResult struct {
	User      User      `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AccountService implements registration, login and profile lookup.
type AccountService struct {
	users    UserStore
	codec    *TokenCodec
	resolver *Resolver
	now      func() time.Time
}

func NewAccountService(users UserStore, codec *TokenCodec, resolver *Resolver) (*AccountService, error) {
	if users == nil || codec == nil || resolver == nil {
		return nil, errors.New("account service requires users, codec and resolver")
	}
	return &AccountService{users: users, codec: codec, resolver: resolver, now: time.Now}, nil
}

// Register creates an account without roles.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (User, error) {
	in.normalize()
	if err := validateStruct(in); err != nil {
		return User{}, err
	}
	if err := ensureUnique(ctx, s.users, in.Email, in.Username, ""); err != nil {
		return User{}, err
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return User{}, err
	}
	fullname := in.Firstname + " " + in.Lastname
	return s.users.CreateUser(ctx, NewUser{
		ID:           uuid.NewString(),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		Firstname:    in.Firstname,
		Lastname:     in.Lastname,
		Fullname:     &fullname,
		CreatedAt:    s.now().UTC(),
	})
}

// Login verifies credentials and issues an ordinary session token.
func (s *AccountService) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return LoginResult{}, fmt.Errorf("%w: invalid email or password", ErrUnauthorized)
	}
	user, err := s.users.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return LoginResult{}, fmt.Errorf("%w: invalid email or password", ErrUnauthorized)
		}
		return LoginResult{}, err
	}
	if user.Deleted() {
		return LoginResult{}, ErrAccountDisabled
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return LoginResult{}, fmt.Errorf("%w: invalid email or password", ErrUnauthorized)
	}
	token, expiresAt, err := s.codec.Issue(ClaimsFor(user), s.codec.TTL())
	if err != nil {
		return LoginResult{}, err
	}
	if user.Roles == nil {
		user.Roles = []Role{}
	}
	return LoginResult{User: user, Token: token, ExpiresAt: expiresAt}, nil
}

// Me returns the session user's profile. When impersonating, the actor is
// reported in ImpersonatedBy unless it no longer exists.
func (s *AccountService) Me(ctx context.Context, session Session) (Profile, error) {
	user, err := s.users.GetUser(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Profile{}, fmt.Errorf("%w: user not found", ErrNotFound)
		}
		return Profile{}, err
	}
	profile, err := s.resolver.Profile(ctx, user)
	if err != nil {
		return Profile{}, err
	}
	if session.Impersonating() {
		actor, err := s.users.GetUser(ctx, session.Impersonation.ActorID)
		switch {
		case err == nil:
			id := actor.Identity()
			profile.ImpersonatedBy = &id
		case !errors.Is(err, ErrNotFound):
			return Profile{}, err
		}
	}
	return profile, nil
}

// ensureUnique reports a conflict when email or username belong to another
// user than exceptID.
func ensureUnique(ctx context.Context, users UserStore, email, username, exceptID string) error {
	if email != "" {
		existing, err := users.FindUserByEmail(ctx, email)
		switch {
		case err == nil && existing.ID != exceptID:
			return fmt.Errorf("%w: email is already in use", ErrConflict)
		case err != nil && !errors.Is(err, ErrNotFound):
			return err
		}
	}
	if username != "" {
		existing, err := users.FindUserByUsername(ctx, username)
		switch {
		case err == nil && existing.ID != exceptID:
			return fmt.Errorf("%w: username is already in use", ErrConflict)
		case err != nil && !errors.Is(err, ErrNotFound):
			return err
		}
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone rewrites local numbers to the +62 country prefix.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ""
	}
	switch {
	case strings.HasPrefix(phone, "+62"):
		phone = phone[3:]
	case strings.HasPrefix(phone, "+1"):
		phone = phone[2:]
	}
	phone = strings.TrimPrefix(phone, "0")
	return "+62" + phone
}
