// Package configcache caches the credentials configuration read from the
// secret store.
//
// A cached value is trusted for the TTL. Every fetch, whether forced or
// caused by an expired TTL, runs through a single flight: concurrent callers
// share one secret-store call, one change report and one round of listener
// notifications. Listeners are how the pool and storage managers learn about
// a new configuration.
package configcache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	dserrors "github.com/systmms/mediavault/internal/errors"
	"github.com/systmms/mediavault/internal/logging"
	"github.com/systmms/mediavault/internal/metrics"
	"github.com/systmms/mediavault/pkg/dbsecret"
	"github.com/systmms/mediavault/pkg/secretstore"
)

const (
	// DefaultTTL is how long a fetched configuration is trusted.
	DefaultTTL = 5 * time.Minute

	// DefaultFetchTimeout bounds a single secret-store call.
	DefaultFetchTimeout = 10 * time.Second

	// DefaultListenerTimeout bounds one round of listener notifications.
	DefaultListenerTimeout = 30 * time.Second

	flightKey = "config"
)

// State is the lifecycle state of the cached configuration.
type State int

const (
	StateUnloaded State = iota
	StateLoaded
	StateStale
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "UNLOADED"
	case StateLoaded:
		return "LOADED"
	case StateStale:
		return "STALE"
	case StateRefreshing:
		return "REFRESHING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Listener reacts to a freshly fetched configuration.
type Listener interface {
	OnConfigChange(ctx context.Context, cfg *dbsecret.Config, changes dbsecret.Changes) error
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(ctx context.Context, cfg *dbsecret.Config, changes dbsecret.Changes) error

// OnConfigChange implements Listener.
func (f ListenerFunc) OnConfigChange(ctx context.Context, cfg *dbsecret.Config, changes dbsecret.Changes) error {
	return f(ctx, cfg, changes)
}

// Snapshot is the outcome of a Refresh.
type Snapshot struct {
	Config  *dbsecret.Config
	Changes dbsecret.Changes

	// Refreshed is false when the cached value was still within its TTL.
	Refreshed bool

	// Shared is true when this caller joined a fetch started by another.
	Shared bool

	// ListenerErr joins the errors returned by listeners for this fetch.
	ListenerErr error
}

// Options configures a Cache.
type Options struct {
	SecretName   string
	TTL          time.Duration
	FetchTimeout time.Duration
	Logger       *logging.Logger
	Metrics      *metrics.Recorder

	// ListenerTimeout bounds the listeners of one fetch together.
	ListenerTimeout time.Duration

	// Now replaces the clock in tests.
	Now func() time.Time
}

// Cache holds the last fetched configuration.
type Cache struct {
	store        secretstore.Store
	secretName   string
	ttl          time.Duration
	fetchTimeout time.Duration
	logger       *logging.Logger
	metrics      *metrics.Recorder
	now          func() time.Time

	listenerTimeout time.Duration

	group      singleflight.Group
	refreshing atomic.Bool

	mu        sync.RWMutex
	config    *dbsecret.Config
	fetchedAt time.Time
	version   string
	listeners []Listener
}

// New creates an empty cache. Nothing is fetched until the first Get.
func New(store secretstore.Store, opts Options) *Cache {
	c := &Cache{
		store:        store,
		secretName:   opts.SecretName,
		ttl:          opts.TTL,
		fetchTimeout: opts.FetchTimeout,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		now:          opts.Now,

		listenerTimeout: opts.ListenerTimeout,
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.fetchTimeout <= 0 {
		c.fetchTimeout = DefaultFetchTimeout
	}
	if c.listenerTimeout <= 0 {
		c.listenerTimeout = DefaultListenerTimeout
	}
	if c.logger == nil {
		c.logger = logging.NewNop()
	}
	if c.metrics == nil {
		c.metrics = metrics.NewRecorder()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// AddListener registers l for every subsequent fetch. Listeners run in
// registration order.
func (c *Cache) AddListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Get returns the configuration, fetching it when force is set, nothing is
// cached, or the TTL has elapsed.
func (c *Cache) Get(ctx context.Context, force bool) (*dbsecret.Config, error) {
	snap, err := c.Refresh(ctx, force)
	if err != nil {
		return nil, err
	}
	return snap.Config, nil
}

// Refresh is Get with the change report and listener outcome attached.
// The returned error is a fetch or parse failure; listener failures are
// reported in Snapshot.ListenerErr.
func (c *Cache) Refresh(ctx context.Context, force bool) (Snapshot, error) {
	var seen time.Time
	if !force {
		c.mu.RLock()
		cfg, fetchedAt := c.config, c.fetchedAt
		c.mu.RUnlock()

		if cfg != nil {
			age := c.now().Sub(fetchedAt)
			if age < c.ttl {
				c.metrics.RecordConfigAge(age)
				return Snapshot{Config: cfg}, nil
			}
		}
		seen = fetchedAt
	}

	for {
		ch := c.group.DoChan(flightKey, func() (interface{}, error) {
			return c.fetch(ctx, force, seen)
		})

		select {
		case res := <-ch:
			if res.Err != nil {
				return Snapshot{}, res.Err
			}
			snap := res.Val.(Snapshot)
			if force && !snap.Refreshed {
				// Joined a flight that found the cache already fresh.
				continue
			}
			snap.Shared = res.Shared
			return snap, nil
		case <-ctx.Done():
			// The fetch keeps running for the other callers.
			return Snapshot{}, ctx.Err()
		}
	}
}

// fetch runs inside the flight. It is detached from the caller that started
// it so one caller's cancellation cannot fail the others.
//
// seen is the fetch time the caller found expired. A non-forced flight that
// starts after another flight already replaced that value returns the cache
// as is.
func (c *Cache) fetch(parent context.Context, force bool, seen time.Time) (Snapshot, error) {
	if !force {
		c.mu.RLock()
		cfg, fetchedAt := c.config, c.fetchedAt
		c.mu.RUnlock()
		if cfg != nil && (fetchedAt.After(seen) || c.now().Sub(fetchedAt) < c.ttl) {
			return Snapshot{Config: cfg}, nil
		}
	}

	c.refreshing.Store(true)
	defer c.refreshing.Store(false)

	base := context.WithoutCancel(parent)
	ctx, cancel := context.WithTimeout(base, c.fetchTimeout)
	defer cancel()

	start := time.Now()
	value, err := c.store.GetSecret(ctx, c.secretName)
	if err == nil && strings.TrimSpace(value.Value) == "" {
		err = dserrors.ErrEmptySecret
	}
	if err != nil {
		c.metrics.RecordConfigRefresh("fetch_error", time.Since(start))
		return Snapshot{}, dserrors.NewSecretFetchError(c.store.Name(), c.secretName, err)
	}

	cfg, err := dbsecret.Parse(c.secretName, value.Value)
	if err != nil {
		c.metrics.RecordConfigRefresh("parse_error", time.Since(start))
		return Snapshot{}, err
	}
	c.metrics.RecordConfigRefresh("success", time.Since(start))

	c.mu.Lock()
	prev := c.config
	c.config = cfg
	c.fetchedAt = c.now()
	prevVersion := c.version
	c.version = value.Version
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()

	changes := dbsecret.Diff(prev, cfg)
	switch {
	case changes.Initial:
		c.logger.Info("Loaded configuration from %s (version %s)", c.store.Name(), value.Version)
	case changes.Any():
		c.logger.Info("Configuration changed (version %s -> %s): bucket=%t credentials/endpoints=%t cdn=%t",
			prevVersion, value.Version, changes.BucketChanged, changes.CredentialsOrEndpointsChanged, changes.CDNChanged)
	default:
		c.logger.Debug("Configuration unchanged (version %s)", value.Version)
	}

	snap := Snapshot{Config: cfg, Changes: changes, Refreshed: true}
	snap.ListenerErr = c.notify(base, listeners, cfg, changes)
	return snap, nil
}

func (c *Cache) notify(base context.Context, listeners []Listener, cfg *dbsecret.Config, changes dbsecret.Changes) error {
	ctx, cancel := context.WithTimeout(base, c.listenerTimeout)
	defer cancel()

	var errs []error
	for _, l := range listeners {
		if err := l.OnConfigChange(ctx, cfg, changes); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Peek returns the cached configuration and when it was fetched, without
// contacting the store. The configuration is nil before the first fetch.
func (c *Cache) Peek() (*dbsecret.Config, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config, c.fetchedAt
}

// Version returns the store version of the cached configuration.
func (c *Cache) Version() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// State reports where the cache is in its lifecycle.
func (c *Cache) State() State {
	if c.refreshing.Load() {
		return StateRefreshing
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.config == nil {
		return StateUnloaded
	}
	if c.now().Sub(c.fetchedAt) >= c.ttl {
		return StateStale
	}
	return StateLoaded
}

// CurrentPublicConfig returns the bucket name and CDN base URL. When a
// refresh fails and an older value is cached, the older value is served.
func (c *Cache) CurrentPublicConfig(ctx context.Context) (dbsecret.PublicConfig, error) {
	cfg, err := c.Get(ctx, false)
	if err == nil {
		return cfg.Public(), nil
	}

	stale, fetchedAt := c.Peek()
	if stale == nil {
		return dbsecret.PublicConfig{}, err
	}
	c.logger.Warn("Serving configuration fetched %s ago: %v", c.now().Sub(fetchedAt).Round(time.Second), err)
	return stale.Public(), nil
}
