package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/systmms/mediavault/internal/logging"
	"github.com/systmms/mediavault/pkg/secretstore"
)

// Supported secret store kinds
const (
	StoreSecretsManager = "secretsmanager"
	StoreSSM            = "ssm"
)

// StoreConfig selects and configures a secret store
type StoreConfig struct {
	// Kind is "secretsmanager" (default) or "ssm"
	Kind string

	AWS AWSOptions

	// VersionStage is passed to Secrets Manager; ignored by SSM
	VersionStage string

	// ParameterPrefix is prepended to SSM parameter names; ignored by Secrets Manager
	ParameterPrefix string
}

// NewStore builds the secret store named by cfg.Kind
func NewStore(ctx context.Context, cfg StoreConfig, logger *logging.Logger) (secretstore.Store, error) {
	switch strings.ToLower(cfg.Kind) {
	case "", StoreSecretsManager, "aws-secretsmanager":
		var opts []SecretsManagerOption
		if cfg.VersionStage != "" {
			opts = append(opts, WithVersionStage(cfg.VersionStage))
		}
		return NewAWSSecretsManagerStore(ctx, cfg.AWS, opts...)
	case StoreSSM, "aws-ssm":
		return NewAWSSSMStore(ctx, cfg.AWS,
			WithParameterPrefix(cfg.ParameterPrefix),
			WithSSMLogger(logger),
		)
	default:
		return nil, fmt.Errorf("unsupported secret store %q", cfg.Kind)
	}
}
