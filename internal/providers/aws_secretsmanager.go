package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/smithy-go"

	dserrors "github.com/systmms/mediavault/internal/errors"
	"github.com/systmms/mediavault/pkg/secretstore"
)

// SecretsManagerClientAPI defines the interface for AWS Secrets Manager operations
// This allows for mocking in tests
type SecretsManagerClientAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecretsManagerStore implements secretstore.Store for AWS Secrets Manager
type AWSSecretsManagerStore struct {
	client SecretsManagerClientAPI
	region string

	// versionStage selects a staging label; empty means AWSCURRENT
	versionStage string
}

// SecretsManagerOption is a functional option for configuring the store
type SecretsManagerOption func(*AWSSecretsManagerStore)

// WithSecretsManagerClient sets a custom Secrets Manager client (for testing)
func WithSecretsManagerClient(client SecretsManagerClientAPI) SecretsManagerOption {
	return func(s *AWSSecretsManagerStore) {
		s.client = client
	}
}

// WithVersionStage reads a staging label other than AWSCURRENT
func WithVersionStage(stage string) SecretsManagerOption {
	return func(s *AWSSecretsManagerStore) {
		s.versionStage = stage
	}
}

// NewAWSSecretsManagerStore creates a new AWS Secrets Manager store
func NewAWSSecretsManagerStore(ctx context.Context, awsOpts AWSOptions, opts ...SecretsManagerOption) (*AWSSecretsManagerStore, error) {
	s := &AWSSecretsManagerStore{region: awsOpts.Region}

	// Apply options (allows mock client injection)
	for _, opt := range opts {
		opt(s)
	}

	// If no client was provided via options, create real client
	if s.client == nil {
		cfg, err := LoadAWSConfig(ctx, awsOpts)
		if err != nil {
			return nil, err
		}
		s.region = cfg.Region

		// Create Secrets Manager client with optional custom endpoint
		var clientOpts []func(*secretsmanager.Options)
		if awsOpts.Endpoint != "" {
			endpoint := awsOpts.Endpoint
			clientOpts = append(clientOpts, func(o *secretsmanager.Options) {
				o.BaseEndpoint = &endpoint
			})
		}
		s.client = secretsmanager.NewFromConfig(cfg, clientOpts...)
	}

	return s, nil
}

// Name returns the store name
func (s *AWSSecretsManagerStore) Name() string {
	return "secretsmanager"
}

// GetSecret retrieves a secret from AWS Secrets Manager
func (s *AWSSecretsManagerStore) GetSecret(ctx context.Context, name string) (secretstore.SecretValue, error) {
	input := &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	}
	if s.versionStage != "" {
		input.VersionStage = aws.String(s.versionStage)
	}

	result, err := s.client.GetSecretValue(ctx, input)
	if err != nil {
		return secretstore.SecretValue{}, s.handleError(err, name)
	}

	// Extract the secret value
	var secretString string
	if result.SecretString != nil {
		secretString = *result.SecretString
	} else if result.SecretBinary != nil {
		secretString = string(result.SecretBinary)
	}
	if strings.TrimSpace(secretString) == "" {
		return secretstore.SecretValue{}, fmt.Errorf("secret '%s': %w", name, dserrors.ErrEmptySecret)
	}

	return secretstore.SecretValue{
		Value:     secretString,
		Version:   s.getVersionString(result),
		UpdatedAt: s.getUpdatedTime(result),
	}, nil
}

// handleError converts AWS errors to secret store errors
func (s *AWSSecretsManagerStore) handleError(err error, name string) error {
	if isNotFoundError(err) {
		return secretstore.NotFoundError{Store: s.Name(), Name: name}
	}

	// Check for authentication/authorization errors
	if isAuthError(err) {
		return secretstore.AuthError{
			Store:   s.Name(),
			Message: fmt.Sprintf("AWS authentication/authorization failed: %v", err),
		}
	}

	return fmt.Errorf("AWS Secrets Manager error: %w", err)
}

func (s *AWSSecretsManagerStore) getVersionString(result *secretsmanager.GetSecretValueOutput) string {
	if result.VersionId != nil {
		return *result.VersionId
	}
	if len(result.VersionStages) > 0 {
		return result.VersionStages[0]
	}
	return "latest"
}

func (s *AWSSecretsManagerStore) getUpdatedTime(result *secretsmanager.GetSecretValueOutput) time.Time {
	if result.CreatedDate != nil {
		return *result.CreatedDate
	}
	return time.Now()
}

// Error checking utilities

func isNotFoundError(err error) bool {
	var resourceNotFound *types.ResourceNotFoundException
	return errors.As(err, &resourceNotFound)
}

func isAuthError(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDeniedException", "AccessDenied", "UnrecognizedClientException",
			"InvalidSignatureException", "ExpiredTokenException":
			return true
		}
	}

	// Check for common auth-related errors by string matching
	errStr := err.Error()
	return strings.Contains(errStr, "AccessDenied") ||
		strings.Contains(errStr, "UnauthorizedOperation") ||
		strings.Contains(errStr, "Forbidden")
}
