package errors

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// SecretFetchError means the secret store failed or returned no usable value.
type SecretFetchError struct {
	Store      string
	SecretName string
	Err        error
	Suggestion string
}

func (e *SecretFetchError) Error() string {
	msg := fmt.Sprintf("fetch secret %q from %s", e.SecretName, e.Store)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}
	return msg
}

func (e *SecretFetchError) Unwrap() error {
	return e.Err
}

// NewSecretFetchError builds a SecretFetchError with a store-specific suggestion
func NewSecretFetchError(store, secretName string, err error) *SecretFetchError {
	return &SecretFetchError{
		Store:      store,
		SecretName: secretName,
		Err:        err,
		Suggestion: getProviderSuggestion(store, err),
	}
}

// ErrEmptySecret is returned by stores when the secret exists but holds nothing.
var ErrEmptySecret = errors.New("secret has no value")

// ConfigParseError means the secret payload could not be turned into a configuration.
type ConfigParseError struct {
	SecretName string
	Reason     string
	Err        error
}

func (e *ConfigParseError) Error() string {
	msg := fmt.Sprintf("parse secret %q", e.SecretName)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigParseError) Unwrap() error {
	return e.Err
}

// ConnectionError means a pool or storage client could not be constructed.
type ConnectionError struct {
	// Role is the pool role, or "storage" for the object-store client
	Role   string
	Target string
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("connect %s (%s): %v", e.Role, e.Target, e.Err)
	}
	return fmt.Sprintf("connect %s: %v", e.Role, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// QueryError is returned when a query still fails after the allowed retry.
type QueryError struct {
	Role     string
	Attempts int
	Kind     Kind
	Err      error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query on %s failed after %d attempt(s) (%s): %v", e.Role, e.Attempts, e.Kind, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// IsStartupFatal reports whether err belongs to the taxonomy that must stop the process at startup.
func IsStartupFatal(err error) bool {
	var fetchErr *SecretFetchError
	var parseErr *ConfigParseError
	var connErr *ConnectionError
	return errors.As(err, &fetchErr) || errors.As(err, &parseErr) || errors.As(err, &connErr)
}

// Kind classifies a failed database call for logging and metrics.
type Kind string

const (
	KindConnection Kind = "connection"
	KindAuth       Kind = "auth"
	KindClosed     Kind = "closed"
	KindTimeout    Kind = "timeout"
	KindCanceled   Kind = "canceled"
	KindQuery      Kind = "query"
)

// Classify returns the failure kind of a database error.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, sql.ErrConnDone), strings.Contains(err.Error(), "database is closed"):
		return KindClosed
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, mysql.ErrInvalidConn):
		return KindConnection
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "28": // invalid_authorization_specification
			return KindAuth
		case "08": // connection_exception
			return KindConnection
		case "57": // operator_intervention, e.g. admin_shutdown
			return KindConnection
		}
		return KindQuery
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1044, 1045: // access denied
			return KindAuth
		case 1040, 1053, 2002, 2003, 2006, 2013:
			return KindConnection
		}
		return KindQuery
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindConnection
	}

	if IsRetryable(err) {
		return KindConnection
	}
	return KindQuery
}

// getProviderSuggestion returns helpful suggestions based on store and error
func getProviderSuggestion(provider string, err error) string {
	if err == nil {
		return ""
	}
	errStr := err.Error()

	switch provider {
	case "aws", "aws-secretsmanager", "secretsmanager":
		if strings.Contains(errStr, "AccessDenied") {
			return "Check IAM permissions for secretsmanager:GetSecretValue"
		}
		if strings.Contains(errStr, "ResourceNotFoundException") {
			return "Verify the secret name and region. List secrets with: 'aws secretsmanager list-secrets'"
		}
		if strings.Contains(errStr, "ThrottlingException") {
			return "AWS rate limit exceeded. Wait a moment and try again"
		}
		if strings.Contains(errStr, "credentials") || strings.Contains(errStr, "authorization") {
			return "Configure AWS credentials: 'aws configure' or set AWS_PROFILE"
		}

	case "ssm", "aws-ssm":
		if strings.Contains(errStr, "AccessDenied") {
			return "Check IAM permissions for ssm:GetParameter and kms:Decrypt"
		}
		if strings.Contains(errStr, "ParameterNotFound") {
			return "Verify the parameter name and region. List parameters with: 'aws ssm describe-parameters'"
		}
	}

	if errors.Is(err, ErrEmptySecret) {
		return "The secret exists but has no SecretString; store the credentials as a JSON string"
	}

	// Generic suggestions
	if strings.Contains(errStr, "timeout") || errors.Is(err, context.DeadlineExceeded) {
		return "The operation timed out. Check your network connection and try again"
	}
	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host") {
		return "Unable to connect. Check your network and provider configuration"
	}

	return ""
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"timeout",
		"temporary failure",
		"connection reset",
		"connection refused",
		"broken pipe",
		"bad connection",
		"rate limit",
		"throttling",
		"too many requests",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// SimplifyError simplifies complex error messages for users
func SimplifyError(err error) error {
	if err == nil {
		return nil
	}

	// Already a user-friendly error
	var userErr UserError
	if errors.As(err, &userErr) {
		return err
	}
	var cfgErr ConfigError
	if errors.As(err, &cfgErr) {
		return err
	}

	var fetchErr *SecretFetchError
	if errors.As(err, &fetchErr) {
		return UserError{
			Message:    "Could not load database credentials",
			Details:    fetchErr.Error(),
			Suggestion: fetchErr.Suggestion,
			Err:        err,
		}
	}

	var parseErr *ConfigParseError
	if errors.As(err, &parseErr) {
		return UserError{
			Message:    "Database credentials secret is malformed",
			Details:    parseErr.Error(),
			Suggestion: "The secret must be a JSON object with username, password and endpoints",
			Err:        err,
		}
	}

	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return UserError{
			Message:    fmt.Sprintf("Could not open the %s connection", connErr.Role),
			Details:    connErr.Error(),
			Suggestion: "Check the endpoint is reachable from this region and the credentials are current",
			Err:        err,
		}
	}

	errStr := err.Error()
	if strings.Contains(errStr, "yaml:") {
		return ConfigError{
			Message:    "Invalid YAML format",
			Suggestion: "Check for indentation errors and missing quotes",
		}
	}

	if strings.Contains(errStr, "permission denied") {
		return UserError{
			Message:    "Permission denied",
			Suggestion: "Check file permissions or run with appropriate privileges",
			Err:        err,
		}
	}

	// Return original error if we can't simplify it
	return err
}
