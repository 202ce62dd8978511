package fakes

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// FakeSecretsManagerClient is a mock implementation of the Secrets Manager API
type FakeSecretsManagerClient struct {
	mu sync.Mutex
	// Secrets maps secret names to their data
	Secrets map[string]*SecretData
	// Errors maps secret names to errors to return
	Errors map[string]error
	// GetSecretValueFunc allows custom behavior for GetSecretValue
	GetSecretValueFunc func(ctx context.Context, params *secretsmanager.GetSecretValueInput) (*secretsmanager.GetSecretValueOutput, error)

	calls atomic.Int64
}

// SecretData holds the data for a mock secret
type SecretData struct {
	SecretString  *string
	SecretBinary  []byte
	VersionId     *string
	VersionStages []string
	CreatedDate   *time.Time
}

// NewFakeSecretsManagerClient creates a new mock Secrets Manager client
func NewFakeSecretsManagerClient() *FakeSecretsManagerClient {
	return &FakeSecretsManagerClient{
		Secrets: make(map[string]*SecretData),
		Errors:  make(map[string]error),
	}
}

// AddSecret adds a secret to the mock client
func (f *FakeSecretsManagerClient) AddSecret(name string, data *SecretData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Secrets[name] = data
}

// AddSecretString adds or replaces a string secret, bumping its version
func (f *FakeSecretsManagerClient) AddSecretString(name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()
	version := 1
	if existing, ok := f.Secrets[name]; ok && existing.VersionId != nil {
		_, _ = fmt.Sscanf(*existing.VersionId, "v%d", &version)
		version++
	}
	f.Secrets[name] = &SecretData{
		SecretString:  aws.String(value),
		VersionId:     aws.String(fmt.Sprintf("v%d", version)),
		VersionStages: []string{"AWSCURRENT"},
		CreatedDate:   &now,
	}
}

// AddError configures the mock to return an error for a specific secret
func (f *FakeSecretsManagerClient) AddError(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[name] = err
}

// ClearError removes a configured error
func (f *FakeSecretsManagerClient) ClearError(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Errors, name)
}

// Calls returns how many times GetSecretValue was invoked
func (f *FakeSecretsManagerClient) Calls() int {
	return int(f.calls.Load())
}

// GetSecretValue mocks the GetSecretValue operation
func (f *FakeSecretsManagerClient) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls.Add(1)

	if f.GetSecretValueFunc != nil {
		return f.GetSecretValueFunc(ctx, params)
	}

	secretName := aws.ToString(params.SecretId)

	f.mu.Lock()
	defer f.mu.Unlock()

	// Check for configured errors
	if err, exists := f.Errors[secretName]; exists {
		return nil, err
	}

	// Check if secret exists
	data, exists := f.Secrets[secretName]
	if !exists {
		return nil, &types.ResourceNotFoundException{
			Message: aws.String(fmt.Sprintf("Secrets Manager can't find the specified secret: %s", secretName)),
		}
	}

	return &secretsmanager.GetSecretValueOutput{
		ARN:           aws.String(fmt.Sprintf("arn:aws:secretsmanager:us-east-1:123456789012:secret:%s", secretName)),
		Name:          params.SecretId,
		SecretString:  data.SecretString,
		SecretBinary:  data.SecretBinary,
		VersionId:     data.VersionId,
		VersionStages: data.VersionStages,
		CreatedDate:   data.CreatedDate,
	}, nil
}

// FakeSSMClient is a mock implementation of the SSM API
type FakeSSMClient struct {
	mu sync.Mutex
	// Parameters maps parameter names to values
	Parameters map[string]string
	// Errors maps parameter names to errors to return
	Errors map[string]error
	// LastInput records the most recent request
	LastInput *ssm.GetParameterInput
}

// NewFakeSSMClient creates a new mock SSM client
func NewFakeSSMClient() *FakeSSMClient {
	return &FakeSSMClient{
		Parameters: make(map[string]string),
		Errors:     make(map[string]error),
	}
}

// GetParameter mocks the GetParameter operation
func (f *FakeSSMClient) GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.LastInput = params
	name := aws.ToString(params.Name)

	if err, exists := f.Errors[name]; exists {
		return nil, err
	}

	value, exists := f.Parameters[name]
	if !exists {
		return nil, &ssmtypes.ParameterNotFound{Message: aws.String(name)}
	}

	now := time.Now()
	return &ssm.GetParameterOutput{
		Parameter: &ssmtypes.Parameter{
			Name:             params.Name,
			Value:            aws.String(value),
			Type:             ssmtypes.ParameterTypeSecureString,
			Version:          3,
			LastModifiedDate: &now,
		},
	}, nil
}

// FakeSTSClient is a mock implementation of the STS API
type FakeSTSClient struct {
	Account string
	ARN     string
	UserID  string
	Err     error
}

// GetCallerIdentity mocks the GetCallerIdentity operation
func (f *FakeSTSClient) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return &sts.GetCallerIdentityOutput{
		Account: aws.String(f.Account),
		Arn:     aws.String(f.ARN),
		UserId:  aws.String(f.UserID),
	}, nil
}

// FakeS3Client is a mock implementation of the S3 API
type FakeS3Client struct {
	mu sync.Mutex
	// Buckets lists the buckets HeadBucket reports as existing
	Buckets map[string]bool
	// Objects maps "bucket/key" to object bodies
	Objects map[string][]byte
}

// NewFakeS3Client creates a new mock S3 client with the given buckets
func NewFakeS3Client(buckets ...string) *FakeS3Client {
	f := &FakeS3Client{
		Buckets: make(map[string]bool),
		Objects: make(map[string][]byte),
	}
	for _, b := range buckets {
		f.Buckets[b] = true
	}
	return f
}

// HeadBucket mocks the HeadBucket operation
func (f *FakeS3Client) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.Buckets[aws.ToString(params.Bucket)] {
		return nil, &s3types.NotFound{Message: aws.String("Not Found")}
	}
	return &s3.HeadBucketOutput{BucketRegion: aws.String("us-east-1")}, nil
}

// PutObject mocks the PutObject operation
func (f *FakeS3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bucket := aws.ToString(params.Bucket)
	if !f.Buckets[bucket] {
		return nil, &s3types.NoSuchBucket{Message: aws.String(bucket)}
	}
	var body []byte
	if params.Body != nil {
		b, err := io.ReadAll(params.Body)
		if err != nil {
			return nil, err
		}
		body = b
	}
	f.Objects[bucket+"/"+aws.ToString(params.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

// GetObject mocks the GetObject operation
func (f *FakeS3Client) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	body, ok := f.Objects[aws.ToString(params.Bucket)+"/"+aws.ToString(params.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{Message: aws.String(aws.ToString(params.Key))}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: aws.Int64(int64(len(body))),
	}, nil
}
