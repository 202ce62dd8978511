package providers

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	dserrors "github.com/systmms/mediavault/internal/errors"
)

// STSClientAPI is the subset of STS used to report the caller identity
type STSClientAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Identity is the AWS principal the process runs as.
type Identity struct {
	Account string
	ARN     string
	UserID  string
}

// CallerIdentity reports which AWS principal the default credential chain resolves to.
func CallerIdentity(ctx context.Context, client STSClientAPI) (Identity, error) {
	out, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return Identity{}, dserrors.UserError{
			Message:    "Failed to verify AWS credentials",
			Details:    err.Error(),
			Suggestion: "Check AWS credentials and permissions to call sts:GetCallerIdentity",
			Err:        err,
		}
	}
	return Identity{
		Account: aws.ToString(out.Account),
		ARN:     aws.ToString(out.Arn),
		UserID:  aws.ToString(out.UserId),
	}, nil
}

// NewSTSClient builds an STS client from shared AWS options.
func NewSTSClient(ctx context.Context, awsOpts AWSOptions) (*sts.Client, error) {
	cfg, err := LoadAWSConfig(ctx, awsOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create STS client: %w", err)
	}
	return sts.NewFromConfig(cfg), nil
}
