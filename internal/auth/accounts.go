package auth

import (
	"context"
	"strings"
)

// Accounts combines a Store and an Issuer into register/login operations.
type Accounts struct {
	store  Store
	issuer *Issuer
}

func NewAccounts(store Store, issuer *Issuer) *Accounts {
	return &Accounts{store: store, issuer: issuer}
}

// Register creates an account. Rejected input is a *CredentialError or
// ErrAlreadyExists.
func (a *Accounts) Register(ctx context.Context, email, password string) error {
	if strings.TrimSpace(email) == "" || password == "" {
		return ErrMissingCredentials
	}
	if len(password) > maxSecretBytes {
		return ErrSecretTooLong
	}
	return a.store.Register(ctx, email, password)
}

// Login checks the credentials and issues a token.
func (a *Accounts) Login(ctx context.Context, email, password string) (string, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return "", ErrInvalidCredentials
	}
	ok, err := a.store.Verify(ctx, email, password)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrInvalidCredentials
	}
	return a.issuer.Issue(normalize(email))
}

// Close releases the underlying store.
func (a *Accounts) Close() error { return a.store.Close() }
