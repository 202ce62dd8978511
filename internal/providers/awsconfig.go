package providers

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// AWSOptions holds the settings shared by every AWS client mediavault builds.
type AWSOptions struct {
	Region  string
	Profile string

	// Endpoint overrides the service endpoint (LocalStack or testing).
	Endpoint string

	// Static credentials for LocalStack/testing. Both must be set to take effect.
	AccessKeyID     string
	SecretAccessKey string
}

// LoadAWSConfig loads the default credential chain with the given overrides.
func LoadAWSConfig(ctx context.Context, opts AWSOptions) (aws.Config, error) {
	var configOpts []func(*config.LoadOptions) error

	if opts.Region != "" {
		configOpts = append(configOpts, config.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		configOpts = append(configOpts, config.WithSharedConfigProfile(opts.Profile))
	}

	// Use static credentials if provided (for LocalStack/testing)
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1" // AWS default region
	}
	return cfg, nil
}
