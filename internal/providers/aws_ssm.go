package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"

	dserrors "github.com/systmms/mediavault/internal/errors"
	"github.com/systmms/mediavault/internal/logging"
	"github.com/systmms/mediavault/pkg/secretstore"
)

// SSMClientAPI defines the interface for AWS SSM Parameter Store operations
// This allows for mocking in tests
type SSMClientAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// AWSSSMStore implements secretstore.Store for SSM Parameter Store
type AWSSSMStore struct {
	client          SSMClientAPI
	logger          *logging.Logger
	withDecryption  bool
	parameterPrefix string
}

// SSMStoreOption is a functional option for configuring SSM stores
type SSMStoreOption func(*AWSSSMStore)

// WithSSMClient sets a custom SSM client (for testing)
func WithSSMClient(client SSMClientAPI) SSMStoreOption {
	return func(s *AWSSSMStore) {
		s.client = client
	}
}

// WithParameterPrefix prepends prefix to every parameter name
func WithParameterPrefix(prefix string) SSMStoreOption {
	return func(s *AWSSSMStore) {
		s.parameterPrefix = prefix
	}
}

// WithSSMLogger sets the logger used for debug output
func WithSSMLogger(logger *logging.Logger) SSMStoreOption {
	return func(s *AWSSSMStore) {
		s.logger = logger
	}
}

// NewAWSSSMStore creates a new AWS SSM Parameter Store store
func NewAWSSSMStore(ctx context.Context, awsOpts AWSOptions, opts ...SSMStoreOption) (*AWSSSMStore, error) {
	s := &AWSSSMStore{
		logger:         logging.NewNop(),
		withDecryption: true, // Default to decrypting SecureString parameters
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		cfg, err := LoadAWSConfig(ctx, awsOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to create SSM client: %w", err)
		}
		var clientOpts []func(*ssm.Options)
		if awsOpts.Endpoint != "" {
			endpoint := awsOpts.Endpoint
			clientOpts = append(clientOpts, func(o *ssm.Options) {
				o.BaseEndpoint = &endpoint
			})
		}
		s.client = ssm.NewFromConfig(cfg, clientOpts...)
	}

	return s, nil
}

// Name returns the store name
func (s *AWSSSMStore) Name() string {
	return "ssm"
}

// GetSecret fetches a parameter from SSM Parameter Store
func (s *AWSSSMStore) GetSecret(ctx context.Context, name string) (secretstore.SecretValue, error) {
	parameterName := s.parameterPrefix + name

	s.logger.Debug("Fetching parameter from SSM: %s", parameterName)

	result, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(parameterName),
		WithDecryption: aws.Bool(s.withDecryption),
	})
	if err != nil {
		if isParameterNotFoundError(err) {
			return secretstore.SecretValue{}, secretstore.NotFoundError{Store: s.Name(), Name: parameterName}
		}
		if isAuthError(err) {
			return secretstore.SecretValue{}, secretstore.AuthError{Store: s.Name(), Message: err.Error()}
		}
		return secretstore.SecretValue{}, fmt.Errorf("SSM GetParameter: %w", err)
	}

	if result.Parameter == nil || result.Parameter.Value == nil || strings.TrimSpace(*result.Parameter.Value) == "" {
		return secretstore.SecretValue{}, fmt.Errorf("parameter '%s': %w", parameterName, dserrors.ErrEmptySecret)
	}

	value := secretstore.SecretValue{
		Value: *result.Parameter.Value,
	}
	if result.Parameter.Version != 0 {
		value.Version = fmt.Sprintf("%d", result.Parameter.Version)
	}
	if result.Parameter.LastModifiedDate != nil {
		value.UpdatedAt = *result.Parameter.LastModifiedDate
	}
	return value, nil
}

// isParameterNotFoundError checks if the error is a parameter not found error
func isParameterNotFoundError(err error) bool {
	var notFound *types.ParameterNotFound
	return errors.As(err, &notFound) || strings.Contains(err.Error(), "ParameterNotFound")
}
