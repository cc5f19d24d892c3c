// Package auth isolates credential handling: how passwords are stored and
// compared, and how a verified session is carried between requests.
package auth

import (
	"crypto/subtle"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// PasswordVerifier owns the stored form of a password. The rest of the
// system only passes stored values through it.
type PasswordVerifier interface {
	Name() string
	Hash(password string) (string, error)
	Verify(stored string, input string) bool
	// NeedsRehash reports whether a stored value predates this verifier and
	// should be replaced by Hash after a successful Verify.
	NeedsRehash(stored string) bool
}

const (
	SchemePlaintext = "plaintext"
	SchemeBcrypt    = "bcrypt"
)

// FromName returns the verifier configured by PASSWORD_HASHING.
func FromName(name string) (PasswordVerifier, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", SchemePlaintext:
		return Plaintext{}, nil
	case SchemeBcrypt:
		return Bcrypt{Cost: bcrypt.DefaultCost}, nil
	default:
		return nil, fmt.Errorf("unknown password hashing scheme %q", name)
	}
}

// Plaintext stores passwords as entered. It keeps compatibility with data
// written by the original demo installation and is not safe for production.
type Plaintext struct{}

func (Plaintext) Name() string { return SchemePlaintext }

func (Plaintext) Hash(password string) (string, error) {
	return password, nil
}

func (Plaintext) Verify(stored string, input string) bool {
	if stored == "" || input == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(input)) == 1
}

func (Plaintext) NeedsRehash(string) bool { return false }

// Bcrypt stores bcrypt hashes. Stored values that are not hashes are legacy
// plaintext and still verify, so the caller can upgrade them on login.
type Bcrypt struct {
	Cost int
}

func (Bcrypt) Name() string { return SchemeBcrypt }

func (b Bcrypt) Hash(password string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func (Bcrypt) Verify(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" {
		return false
	}
	if !isPasswordHash(stored) {
		return Plaintext{}.Verify(stored, input)
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func (Bcrypt) NeedsRehash(stored string) bool {
	return !isPasswordHash(stored)
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
