// Package storage owns the object-storage client. A handle is bound to the
// bucket named in the credentials configuration and is replaced, never
// mutated, when that bucket changes.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	dserrors "github.com/systmms/mediavault/internal/errors"
	"github.com/systmms/mediavault/internal/logging"
	"github.com/systmms/mediavault/internal/providers"
	"github.com/systmms/mediavault/pkg/dbsecret"
)

// Role is the ConnectionError role reported for storage failures.
const Role = "storage"

// ErrNoBucket is returned when the configuration names no bucket.
var ErrNoBucket = errors.New("no bucket configured")

// API is the subset of the S3 client route handlers and the factory use.
type API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Handle is an S3 client bound to one bucket.
type Handle struct {
	API       API
	Bucket    string
	Region    string
	CreatedAt time.Time
}

// Factory constructs handles.
type Factory interface {
	New(ctx context.Context, region, bucket string) (*Handle, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(ctx context.Context, region, bucket string) (*Handle, error)

// New implements Factory.
func (f FactoryFunc) New(ctx context.Context, region, bucket string) (*Handle, error) {
	return f(ctx, region, bucket)
}

// S3Factory builds handles backed by aws-sdk-go-v2 S3 clients.
type S3Factory struct {
	awsOpts        providers.AWSOptions
	forcePathStyle bool
	verifyBucket   bool
	client         API
}

// S3Option is a functional option for configuring the factory
type S3Option func(*S3Factory)

// WithS3Client sets a custom S3 client (for testing)
func WithS3Client(client API) S3Option {
	return func(f *S3Factory) {
		f.client = client
	}
}

// WithPathStyle forces path-style addressing (LocalStack, MinIO)
func WithPathStyle(enabled bool) S3Option {
	return func(f *S3Factory) {
		f.forcePathStyle = enabled
	}
}

// WithBucketCheck makes New fail unless HeadBucket succeeds
func WithBucketCheck(enabled bool) S3Option {
	return func(f *S3Factory) {
		f.verifyBucket = enabled
	}
}

// NewS3Factory creates a factory that shares awsOpts across every client.
func NewS3Factory(awsOpts providers.AWSOptions, opts ...S3Option) *S3Factory {
	f := &S3Factory{awsOpts: awsOpts}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// New implements Factory.
func (f *S3Factory) New(ctx context.Context, region, bucket string) (*Handle, error) {
	client := f.client
	if client == nil {
		awsOpts := f.awsOpts
		awsOpts.Region = region
		cfg, err := providers.LoadAWSConfig(ctx, awsOpts)
		if err != nil {
			return nil, err
		}

		var s3Opts []func(*s3.Options)
		if f.forcePathStyle {
			s3Opts = append(s3Opts, func(o *s3.Options) {
				o.UsePathStyle = true
			})
		}
		if awsOpts.Endpoint != "" {
			endpoint := awsOpts.Endpoint
			s3Opts = append(s3Opts, func(o *s3.Options) {
				o.BaseEndpoint = &endpoint
			})
		}
		client = s3.NewFromConfig(cfg, s3Opts...)
	}

	if f.verifyBucket {
		if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
			return nil, fmt.Errorf("bucket %s is not accessible: %w", bucket, err)
		}
	}

	return &Handle{API: client, Bucket: bucket, Region: region, CreatedAt: time.Now()}, nil
}

// Manager holds the current handle.
type Manager struct {
	region  string
	factory Factory
	logger  *logging.Logger

	rebuildMu sync.Mutex

	mu     sync.RWMutex
	handle *Handle
}

// NewManager creates a manager for the process region. The region never
// changes; only the bucket does.
func NewManager(region string, factory Factory, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{region: region, factory: factory, logger: logger}
}

// Rebuild constructs a handle for cfg's bucket and installs it. A failure
// leaves the previous handle in place.
func (m *Manager) Rebuild(ctx context.Context, cfg *dbsecret.Config) error {
	m.rebuildMu.Lock()
	defer m.rebuildMu.Unlock()

	if cfg == nil || cfg.BucketName == "" {
		return &dserrors.ConnectionError{Role: Role, Err: ErrNoBucket}
	}

	h, err := m.factory.New(ctx, m.region, cfg.BucketName)
	if err != nil {
		m.logger.Error("Failed to build storage client for s3://%s: %v", cfg.BucketName, err)
		return &dserrors.ConnectionError{Role: Role, Target: "s3://" + cfg.BucketName, Err: err}
	}

	m.mu.Lock()
	old := m.handle
	m.handle = h
	m.mu.Unlock()

	if old != nil {
		m.logger.Info("Storage client rebound: s3://%s -> s3://%s", old.Bucket, h.Bucket)
	} else {
		m.logger.Info("Storage client ready for s3://%s in %s", h.Bucket, h.Region)
	}
	return nil
}

// OnConfigChange rebuilds when the bucket changed or no matching handle exists.
func (m *Manager) OnConfigChange(ctx context.Context, cfg *dbsecret.Config, changes dbsecret.Changes) error {
	current := m.Current()
	if !changes.BucketChanged && current != nil && current.Bucket == cfg.BucketName {
		return nil
	}
	return m.Rebuild(ctx, cfg)
}

// Current returns the installed handle, or nil before the first rebuild.
func (m *Manager) Current() *Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handle
}
