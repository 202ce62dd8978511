// Package secretstore defines the secret store abstraction consumed by mediavault.
//
// A secret store is the system that holds the database credentials blob: AWS
// Secrets Manager in most deployments, or SSM Parameter Store where a team keeps
// credentials as SecureString parameters. mediavault only ever needs one
// operation from a store, fetching the current value of a named secret, so the
// interface is deliberately narrow:
//
//	type Store interface {
//	    Name() string
//	    GetSecret(ctx context.Context, name string) (SecretValue, error)
//	}
//
// # Error Handling
//
// Implementations translate backend failures into the error types of this
// package:
//   - NotFoundError when the named secret does not exist
//   - AuthError when the caller is not allowed to read it
//
// An existing secret with no value is reported as an error wrapping
// errors.ErrEmptySecret from internal/errors, so that callers can tell
// "missing" from "empty".
//
// # Threading and Concurrency
//
// Stores must be safe for concurrent use. mediavault coalesces concurrent
// fetches in its configuration cache, but a store may still be called from the
// background refresher and a request path at overlapping times.
package secretstore
