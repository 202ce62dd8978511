package secretstore

import (
	"context"
	"fmt"
	"time"
)

// Store fetches named secrets.
type Store interface {
	// Name returns the store's identifier, e.g. "secretsmanager" or "ssm".
	Name() string

	// GetSecret returns the current value of the named secret.
	GetSecret(ctx context.Context, name string) (SecretValue, error)
}

// SecretValue is a fetched secret.
type SecretValue struct {
	// Value is the raw secret string, typically a JSON document.
	Value string

	// Version identifies the secret version, when the store exposes one.
	Version string

	// UpdatedAt is when the store reports the version was created.
	UpdatedAt time.Time
}

// NotFoundError is returned when the named secret does not exist.
type NotFoundError struct {
	Store string
	Name  string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("secret %q not found in %s", e.Name, e.Store)
}

// AuthError is returned when the store rejects the caller's credentials.
type AuthError struct {
	Store   string
	Message string
}

func (e AuthError) Error() string {
	return fmt.Sprintf("%s authentication failed: %s", e.Store, e.Message)
}
