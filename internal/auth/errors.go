package auth

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// ErrAccountDisabled is returned on login for soft-deleted accounts.
	ErrAccountDisabled = errors.New("account has been deactivated")

	ErrTokenMalformed = errors.New("invalid token")
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenRevoked   = errors.New("token revoked")

	// ErrNotImpersonating is a bad request: there is nothing to stop.
	ErrNotImpersonating = errNotImpersonating{}
)

type errNotImpersonating struct{}

func (errNotImpersonating) Error() string { return "not in an impersonation session" }

func (errNotImpersonating) Is(target error) bool { return target == ErrInvalidInput }

// ValidationError reports request problems per field.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "validation failed"
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	msgs := make([]string, 0, len(keys))
	for _, k := range keys {
		msgs = append(msgs, e.Fields[k])
	}
	return strings.Join(msgs, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidInput }

// Add records a message for field unless one is already present.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = msg
	}
}

// OrNil returns nil when no field failed.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// Message strips the sentinel prefix added by fmt.Errorf("%w: ...") so the
// remaining text can be shown to API clients.
func Message(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, sentinel := range []error{ErrNotFound, ErrConflict, ErrInvalidInput, ErrUnauthorized, ErrForbidden} {
		if errors.Is(err, sentinel) {
			if trimmed := strings.TrimPrefix(msg, sentinel.Error()+": "); trimmed != msg {
				return trimmed
			}
		}
	}
	return msg
}
