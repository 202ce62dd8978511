package providers_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/systmms/mediavault/internal/errors"
	"github.com/systmms/mediavault/internal/providers"
	"github.com/systmms/mediavault/pkg/secretstore"
	"github.com/systmms/mediavault/tests/fakes"
)

func newSecretsManagerStore(t *testing.T, client *fakes.FakeSecretsManagerClient, opts ...providers.SecretsManagerOption) *providers.AWSSecretsManagerStore {
	t.Helper()
	opts = append(opts, providers.WithSecretsManagerClient(client))
	s, err := providers.NewAWSSecretsManagerStore(context.Background(), providers.AWSOptions{Region: "us-east-1"}, opts...)
	require.NoError(t, err)
	return s
}

func TestAWSSecretsManagerStore_GetSecret(t *testing.T) {
	t.Parallel()
	client := fakes.NewFakeSecretsManagerClient()
	client.AddSecretString("media/db", `{"username":"media_app"}`)
	s := newSecretsManagerStore(t, client)

	got, err := s.GetSecret(context.Background(), "media/db")
	require.NoError(t, err)

	assert.Equal(t, "secretsmanager", s.Name())
	assert.Equal(t, `{"username":"media_app"}`, got.Value)
	assert.Equal(t, "v1", got.Version)
	assert.False(t, got.UpdatedAt.IsZero())

	client.AddSecretString("media/db", `{"username":"media_app2"}`)
	got, err = s.GetSecret(context.Background(), "media/db")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Version)
	assert.Equal(t, 2, client.Calls())
}

func TestAWSSecretsManagerStore_VersionFallbacks(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name        string
		data        *fakes.SecretData
		wantVersion string
	}{
		{
			name:        "version id",
			data:        &fakes.SecretData{SecretString: aws.String("x"), VersionId: aws.String("abc"), VersionStages: []string{"AWSCURRENT"}},
			wantVersion: "abc",
		},
		{
			name:        "stage only",
			data:        &fakes.SecretData{SecretString: aws.String("x"), VersionStages: []string{"AWSCURRENT", "AWSPREVIOUS"}},
			wantVersion: "AWSCURRENT",
		},
		{
			name:        "no version info",
			data:        &fakes.SecretData{SecretString: aws.String("x"), CreatedDate: &created},
			wantVersion: "latest",
		},
		{
			name:        "binary secret",
			data:        &fakes.SecretData{SecretBinary: []byte("x"), VersionId: aws.String("bin")},
			wantVersion: "bin",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			client := fakes.NewFakeSecretsManagerClient()
			client.AddSecret("s", tt.data)

			got, err := newSecretsManagerStore(t, client).GetSecret(context.Background(), "s")
			require.NoError(t, err)
			assert.Equal(t, "x", got.Value)
			assert.Equal(t, tt.wantVersion, got.Version)
			if tt.data.CreatedDate != nil {
				assert.Equal(t, created, got.UpdatedAt)
			}
		})
	}
}

func TestAWSSecretsManagerStore_VersionStage(t *testing.T) {
	t.Parallel()
	client := fakes.NewFakeSecretsManagerClient()
	var stage string
	client.GetSecretValueFunc = func(ctx context.Context, params *secretsmanager.GetSecretValueInput) (*secretsmanager.GetSecretValueOutput, error) {
		stage = aws.ToString(params.VersionStage)
		return &secretsmanager.GetSecretValueOutput{SecretString: aws.String("x")}, nil
	}

	_, err := newSecretsManagerStore(t, client, providers.WithVersionStage("AWSPENDING")).GetSecret(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, "AWSPENDING", stage)
}

func TestAWSSecretsManagerStore_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(c *fakes.FakeSecretsManagerClient)
		check func(t *testing.T, err error)
	}{
		{
			name:  "not found",
			setup: func(c *fakes.FakeSecretsManagerClient) {},
			check: func(t *testing.T, err error) {
				var notFound secretstore.NotFoundError
				require.ErrorAs(t, err, &notFound)
				assert.Equal(t, "media/db", notFound.Name)
			},
		},
		{
			name: "access denied",
			setup: func(c *fakes.FakeSecretsManagerClient) {
				c.AddError("media/db", &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "not authorized"})
			},
			check: func(t *testing.T, err error) {
				var authErr secretstore.AuthError
				require.ErrorAs(t, err, &authErr)
				assert.Equal(t, "secretsmanager", authErr.Store)
			},
		},
		{
			name: "throttled",
			setup: func(c *fakes.FakeSecretsManagerClient) {
				c.AddError("media/db", errors.New("ThrottlingException: Rate exceeded"))
			},
			check: func(t *testing.T, err error) {
				assert.Contains(t, err.Error(), "AWS Secrets Manager error")
				assert.Contains(t, err.Error(), "Rate exceeded")
			},
		},
		{
			name: "empty value",
			setup: func(c *fakes.FakeSecretsManagerClient) {
				c.AddSecretString("media/db", "  ")
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, dserrors.ErrEmptySecret)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			client := fakes.NewFakeSecretsManagerClient()
			tt.setup(client)

			_, err := newSecretsManagerStore(t, client).GetSecret(context.Background(), "media/db")
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}
