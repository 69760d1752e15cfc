package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt ignores input past 72 bytes, so longer passwords are rejected
// instead of silently truncated.
const maxPasswordBytes = 72

// bcryptCost is lowered by tests.
var bcryptCost = bcrypt.DefaultCost

// HashPassword returns the bcrypt hash stored in users.password.
func HashPassword(password string) (string, error) {
	switch {
	case password == "":
		return "", fmt.Errorf("%w: password is required", ErrInvalidInput)
	case len(password) > maxPasswordBytes:
		return "", fmt.Errorf("%w: password must be at most %d bytes", ErrInvalidInput, maxPasswordBytes)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports ErrUnauthorized when password does not match hash.
// Malformed hashes are returned as internal errors.
func VerifyPassword(hash, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return fmt.Errorf("%w: invalid email or password", ErrUnauthorized)
	default:
		return fmt.Errorf("verify password: %w", err)
	}
}
