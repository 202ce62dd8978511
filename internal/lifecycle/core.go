// Package lifecycle wires the configuration cache, pools, storage client,
// query executor and background refresher into one Core. Core is the only
// thing route handlers talk to.
package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/systmms/mediavault/internal/config"
	"github.com/systmms/mediavault/internal/configcache"
	"github.com/systmms/mediavault/internal/logging"
	"github.com/systmms/mediavault/internal/metrics"
	"github.com/systmms/mediavault/internal/pool"
	"github.com/systmms/mediavault/internal/providers"
	"github.com/systmms/mediavault/internal/query"
	"github.com/systmms/mediavault/internal/refresher"
	"github.com/systmms/mediavault/internal/storage"
	"github.com/systmms/mediavault/internal/topology"
	"github.com/systmms/mediavault/pkg/dbsecret"
	"github.com/systmms/mediavault/pkg/secretstore"
)

// Options configures a Core. Store and StorageFactory are required.
type Options struct {
	Region        string
	PrimaryRegion string

	Store        secretstore.Store
	SecretName   string
	TTL          time.Duration
	FetchTimeout time.Duration

	// ListenerTimeout bounds the pool and storage rebuilds after a fetch.
	ListenerTimeout time.Duration

	// Pool configures the role pools. Logger and Metrics are filled in.
	Pool pool.Options

	StorageFactory storage.Factory

	QueryTimeout time.Duration

	// RefreshInterval of zero disables the background refresher
	RefreshInterval time.Duration

	Logger  *logging.Logger
	Metrics *metrics.Recorder
}

// Core owns every long-lived resource.
type Core struct {
	resolver  topology.Resolver
	cache     *configcache.Cache
	pools     *pool.Manager
	storage   *storage.Manager
	executor  *query.Executor
	refresher *refresher.BackgroundRefresher
	logger    *logging.Logger
}

// New builds a Core. Nothing is fetched or opened until Start.
func New(opts Options) (*Core, error) {
	if opts.Store == nil {
		return nil, errors.New("lifecycle: a secret store is required")
	}
	if opts.StorageFactory == nil {
		return nil, errors.New("lifecycle: a storage factory is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRecorder()
	}

	resolver := topology.New(opts.Region, opts.PrimaryRegion)

	poolOpts := opts.Pool
	poolOpts.Logger = opts.Logger.With("component", "pool")
	poolOpts.Metrics = opts.Metrics
	pools, err := pool.New(resolver, poolOpts)
	if err != nil {
		return nil, err
	}

	cache := configcache.New(opts.Store, configcache.Options{
		SecretName:   opts.SecretName,
		TTL:          opts.TTL,
		FetchTimeout: opts.FetchTimeout,
		Logger:       opts.Logger.With("component", "configcache"),
		Metrics:      opts.Metrics,

		ListenerTimeout: opts.ListenerTimeout,
	})

	storageMgr := storage.NewManager(opts.Region, opts.StorageFactory, opts.Logger.With("component", "storage"))

	// Pools first so a storage failure never delays a credential rotation.
	cache.AddListener(pools)
	cache.AddListener(storageMgr)

	c := &Core{
		resolver: resolver,
		cache:    cache,
		pools:    pools,
		storage:  storageMgr,
		executor: query.New(pools, cache, query.Options{
			QueryTimeout: opts.QueryTimeout,
			Logger:       opts.Logger.With("component", "query"),
			Metrics:      opts.Metrics,
		}),
		logger: opts.Logger,
	}
	if opts.RefreshInterval > 0 {
		c.refresher = refresher.New(cache, opts.RefreshInterval, opts.Logger.With("component", "refresher"))
	}
	return c, nil
}

// NewFromConfig builds a Core backed by AWS from a loaded definition. The
// collectors are registered here so the startup fetch and rebuilds are
// recorded.
func NewFromConfig(ctx context.Context, def *config.Definition, logger *logging.Logger) (*Core, error) {
	metrics.InitMetrics()

	awsOpts := providers.AWSOptions{
		Region:   def.Region,
		Profile:  def.Secret.Profile,
		Endpoint: def.Secret.Endpoint,
	}

	store, err := providers.NewStore(ctx, providers.StoreConfig{
		Kind:            def.Secret.Store,
		AWS:             awsOpts,
		VersionStage:    def.Secret.VersionStage,
		ParameterPrefix: def.Secret.ParameterPrefix,
	}, logger)
	if err != nil {
		return nil, err
	}

	roles, err := def.RoleList()
	if err != nil {
		return nil, err
	}

	storageAWS := awsOpts
	storageAWS.Endpoint = def.Storage.Endpoint

	connectTimeout := config.Millis(def.Database.ConnectTimeoutMs)
	if connectTimeout <= 0 {
		connectTimeout = pool.DefaultConnectTimeout
	}
	fetchTimeout := config.Millis(def.Secret.FetchTimeoutMs)
	if fetchTimeout <= 0 {
		fetchTimeout = configcache.DefaultFetchTimeout
	}

	// One connect per role plus the storage client.
	listenerTimeout := fetchTimeout + connectTimeout*time.Duration(len(roles)+1)

	opts := Options{
		Region:          def.Region,
		PrimaryRegion:   def.PrimaryRegion,
		Store:           store,
		SecretName:      def.Secret.Name,
		TTL:             def.Secret.TTL,
		FetchTimeout:    fetchTimeout,
		ListenerTimeout: listenerTimeout,
		Pool: pool.Options{
			Driver:         def.Database.Driver,
			Roles:          roles,
			DBName:         def.Database.Name,
			Port:           def.Database.Port,
			SSLMode:        def.Database.SSLMode,
			ConnectTimeout: connectTimeout,
			Opener: pool.SQLOpener{
				ConnectTimeout:  connectTimeout,
				MaxOpenConns:    def.Database.MaxOpenConns,
				MaxIdleConns:    def.Database.MaxIdleConns,
				ConnMaxLifetime: def.Database.ConnMaxLifetime,
			},
		},
		StorageFactory: storage.NewS3Factory(storageAWS,
			storage.WithPathStyle(def.Storage.ForcePathStyle),
			storage.WithBucketCheck(def.Storage.VerifyBucket),
		),
		QueryTimeout: config.Millis(def.Database.QueryTimeoutMs),
		Logger:       logger,
		Metrics:      metrics.NewRecorder(),
	}
	if def.RefreshEnabled() {
		opts.RefreshInterval = def.Refresh.Interval
	}
	return New(opts)
}

// Start fetches the configuration and builds every pool and the storage
// client. Any failure is returned and nothing keeps running. On success the
// background refresher is started and stops when ctx is done or on Close.
func (c *Core) Start(ctx context.Context) error {
	c.logger.Info("Starting in %s (primary region: %t)", c.resolver.Region(), c.resolver.IsPrimaryRegion())

	snap, err := c.cache.Refresh(ctx, true)
	if err != nil {
		c.logger.Error("Initial configuration load failed: %v", err)
		return err
	}
	if snap.ListenerErr != nil {
		c.logger.Error("Initial connection setup failed: %v", snap.ListenerErr)
		c.pools.Close()
		return snap.ListenerErr
	}

	if c.refresher != nil {
		c.refresher.Start(ctx)
	}
	c.logger.Info("Ready: %d pools open, storage bucket %s", len(c.pools.Roles()), snap.Config.BucketName)
	return nil
}

// RunQuery runs sql on role's pool with one refresh-and-retry.
func (c *Core) RunQuery(ctx context.Context, role topology.Role, sql string, args ...any) (*query.Result, error) {
	return c.executor.Run(ctx, role, sql, args...)
}

// CurrentPublicConfig returns the client-safe part of the configuration.
func (c *Core) CurrentPublicConfig(ctx context.Context) (dbsecret.PublicConfig, error) {
	return c.cache.CurrentPublicConfig(ctx)
}

// Close stops the refresher and closes every pool. It waits for in-flight
// queries to release their pools.
func (c *Core) Close() {
	if c.refresher != nil {
		c.refresher.Stop()
	}
	c.pools.Close()
}

// Resolver returns the role topology for this region.
func (c *Core) Resolver() topology.Resolver { return c.resolver }

// Cache returns the configuration cache.
func (c *Core) Cache() *configcache.Cache { return c.cache }

// Pools returns the pool manager.
func (c *Core) Pools() *pool.Manager { return c.pools }

// Storage returns the storage client manager.
func (c *Core) Storage() *storage.Manager { return c.storage }
