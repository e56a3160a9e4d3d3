// Package auth stores credentials and issues login tokens.
//
// Tokens are handed out by /auth/login but nothing in the gateway checks
// them; the chat paths accept a token field and ignore it.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrAlreadyExists is returned by Register for a known identity.
	ErrAlreadyExists = errors.New("user already exists")
	// ErrInvalidCredentials is returned by Login for an unknown identity or a
	// wrong secret; the two cases are not distinguished.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrMissingCredentials rejects an empty identity or secret.
	ErrMissingCredentials = &CredentialError{Msg: "email and password are required"}
	// ErrSecretTooLong rejects secrets bcrypt cannot hash.
	ErrSecretTooLong = &CredentialError{Msg: fmt.Sprintf("password must be at most %d bytes", maxSecretBytes)}
)

// maxSecretBytes is bcrypt's input limit.
const maxSecretBytes = 72

// CredentialError reports credentials that cannot be registered as given.
type CredentialError struct {
	Msg string
}

func (e *CredentialError) Error() string { return e.Msg }

// StatusCode makes CredentialError an httpapi.HTTPError.
func (e *CredentialError) StatusCode() int { return 400 }

// Store is a credential store.
type Store interface {
	// Register records secret for identity, or returns ErrAlreadyExists.
	Register(ctx context.Context, identity, secret string) error
	// Verify reports whether secret matches identity's recorded secret.
	Verify(ctx context.Context, identity, secret string) (bool, error)
	Close() error
}

// dummyHash keeps Verify's timing the same for unknown identities.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// hashCost is a variable so tests can lower it.
var hashCost = bcrypt.DefaultCost

func normalize(identity string) string { return strings.ToLower(strings.TrimSpace(identity)) }

func hashSecret(secret string) ([]byte, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), hashCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return nil, ErrSecretTooLong
	}
	return hash, err
}

// checkSecret compares secret against hash; a nil hash is compared against
// dummyHash and always fails.
func checkSecret(hash []byte, secret string) bool {
	if hash == nil {
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(secret))
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(secret)) == nil
}
