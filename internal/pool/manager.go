// Package pool owns one database/sql pool per role and rebuilds pools when
// the credentials configuration changes.
//
// Replacement is atomic from the caller's side. A new pool is opened and
// verified before it is installed, and the pool it replaces is closed only
// after every query that acquired it has released it.
package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	dserrors "github.com/systmms/mediavault/internal/errors"
	"github.com/systmms/mediavault/internal/logging"
	"github.com/systmms/mediavault/internal/metrics"
	"github.com/systmms/mediavault/internal/topology"
	"github.com/systmms/mediavault/pkg/dbsecret"
)

// DefaultConnectTimeout bounds opening and verifying a pool.
const DefaultConnectTimeout = 5 * time.Second

var (
	// ErrNoPool is returned by Acquire when no pool is installed for the role.
	ErrNoPool = errors.New("no pool for role")

	// ErrClosed is returned once the manager has been closed.
	ErrClosed = errors.New("pool manager closed")
)

// DB is the part of *sql.DB the manager and its callers use.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	PingContext(ctx context.Context) error
	Stats() sql.DBStats
	Close() error
}

// Opener opens a pool for a target.
type Opener interface {
	Open(ctx context.Context, target Target) (DB, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, target Target) (DB, error)

// Open implements Opener.
func (f OpenerFunc) Open(ctx context.Context, target Target) (DB, error) {
	return f(ctx, target)
}

// SQLOpener opens pools with database/sql.
type SQLOpener struct {
	ConnectTimeout  time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open implements Opener. The pool is not pinged; the manager verifies it.
func (o SQLOpener) Open(ctx context.Context, target Target) (DB, error) {
	dsn, err := target.DSN(o.ConnectTimeout)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(target.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if o.MaxOpenConns > 0 {
		db.SetMaxOpenConns(o.MaxOpenConns)
	}
	if o.MaxIdleConns > 0 {
		db.SetMaxIdleConns(o.MaxIdleConns)
	}
	if o.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(o.ConnMaxLifetime)
	}
	return db, nil
}

// Pool is an installed pool for one role.
type Pool struct {
	role     topology.Role
	target   Target
	db       DB
	openedAt time.Time

	// inflight counts acquisitions not yet released
	inflight sync.WaitGroup
}

// Role returns the role the pool serves.
func (p *Pool) Role() topology.Role { return p.role }

// Target returns what the pool is connected to.
func (p *Pool) Target() Target { return p.target }

// DB returns the underlying handle.
func (p *Pool) DB() DB { return p.db }

// OpenedAt returns when the pool was installed.
func (p *Pool) OpenedAt() time.Time { return p.openedAt }

// Options configures a Manager.
type Options struct {
	// Driver is a configured database type such as "postgres" or "mysql"
	Driver string

	// Roles lists the roles to keep pools for; empty means all roles
	Roles []topology.Role

	// DBName overrides the database name carried in the secret
	DBName string

	// Port is used when the secret carries none; zero means the driver default
	Port int

	SSLMode        string
	ConnectTimeout time.Duration
	Opener         Opener
	Logger         *logging.Logger
	Metrics        *metrics.Recorder
}

// Manager owns the role pools.
type Manager struct {
	resolver       topology.Resolver
	driver         string
	roles          []topology.Role
	dbName         string
	port           int
	sslMode        string
	connectTimeout time.Duration
	opener         Opener
	logger         *logging.Logger
	metrics        *metrics.Recorder

	// rebuildMu serializes rebuilds
	rebuildMu sync.Mutex

	mu     sync.RWMutex
	pools  map[topology.Role]*Pool
	closed bool

	retiring sync.WaitGroup
}

// New creates a manager with no pools. Call Rebuild to open them.
func New(resolver topology.Resolver, opts Options) (*Manager, error) {
	driver, err := DriverName(opts.Driver)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		resolver:       resolver,
		driver:         driver,
		roles:          opts.Roles,
		dbName:         opts.DBName,
		port:           opts.Port,
		sslMode:        opts.SSLMode,
		connectTimeout: opts.ConnectTimeout,
		opener:         opts.Opener,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		pools:          make(map[topology.Role]*Pool),
	}
	if len(m.roles) == 0 {
		m.roles = topology.AllRoles
	}
	if m.port == 0 {
		m.port = defaultPorts[driver]
	}
	if m.connectTimeout <= 0 {
		m.connectTimeout = DefaultConnectTimeout
	}
	if m.opener == nil {
		m.opener = SQLOpener{ConnectTimeout: m.connectTimeout}
	}
	if m.logger == nil {
		m.logger = logging.NewNop()
	}
	if m.metrics == nil {
		m.metrics = metrics.NewRecorder()
	}
	return m, nil
}

// Roles returns the roles the manager keeps pools for.
func (m *Manager) Roles() []topology.Role {
	return append([]topology.Role(nil), m.roles...)
}

// Target resolves what role should be connected to under cfg.
func (m *Manager) Target(role topology.Role, cfg *dbsecret.Config) (Target, error) {
	host, err := m.resolver.Endpoint(role, cfg.Endpoints)
	if err != nil {
		return Target{}, err
	}

	t := Target{
		Role:     role,
		Driver:   m.driver,
		Host:     host,
		Port:     cfg.Port,
		DBName:   m.dbName,
		Username: cfg.Username,
		Password: cfg.Password,
		SSLMode:  m.sslMode,
	}
	if t.Port == 0 {
		t.Port = m.port
	}
	if t.DBName == "" {
		t.DBName = cfg.DBName
	}
	return t, nil
}

// Rebuild opens a pool for every role whose target differs from its
// installed pool. Unchanged roles are left alone, so calling Rebuild twice
// with the same configuration opens nothing the second time.
//
// A failure stops the rebuild with a *ConnectionError. Roles rebuilt before
// the failure keep their new pools.
func (m *Manager) Rebuild(ctx context.Context, cfg *dbsecret.Config) error {
	if cfg == nil {
		return errors.New("rebuild: nil configuration")
	}

	m.rebuildMu.Lock()
	defer m.rebuildMu.Unlock()

	for _, role := range m.roles {
		target, err := m.Target(role, cfg)
		if err != nil {
			m.metrics.RecordPoolRebuild(string(role), false)
			return &dserrors.ConnectionError{Role: string(role), Err: err}
		}

		m.mu.RLock()
		current, closed := m.pools[role], m.closed
		m.mu.RUnlock()

		if closed {
			return ErrClosed
		}
		if current != nil && current.target == target {
			continue
		}

		db, err := m.open(ctx, target)
		m.metrics.RecordPoolRebuild(string(role), err == nil)
		if err != nil {
			err = redactPassword(err, target.Password)
			m.logger.Error("Failed to open %s pool to %s: %v", role, target, err)
			return &dserrors.ConnectionError{Role: string(role), Target: target.String(), Err: err}
		}

		if err := m.install(&Pool{role: role, target: target, db: db, openedAt: time.Now()}); err != nil {
			return err
		}
	}
	return nil
}

// redactedError hides the password in a driver error and keeps the chain.
type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

func redactPassword(err error, password string) error {
	msg := err.Error()
	redacted := logging.Redact(msg, []string{password})
	if redacted == msg {
		return err
	}
	return &redactedError{msg: redacted, err: err}
}

// open opens and verifies a pool within the connect timeout.
func (m *Manager) open(ctx context.Context, target Target) (DB, error) {
	ctx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()

	db, err := m.opener.Open(ctx, target)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func (m *Manager) install(p *Pool) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = p.db.Close()
		return ErrClosed
	}
	old := m.pools[p.role]
	m.pools[p.role] = p
	if old != nil {
		m.retiring.Add(1)
	}
	m.mu.Unlock()

	m.metrics.RecordPoolOpen(string(p.role), true)
	if old != nil {
		m.logger.Info("Replaced %s pool: %s -> %s", p.role, old.target, p.target)
		m.retire(old)
	} else {
		m.logger.Info("Opened %s pool to %s", p.role, p.target)
	}
	return nil
}

// retire closes p once its in-flight queries release it. It never blocks
// the caller, and close errors are only logged. The caller must have added
// p to m.retiring while holding m.mu.
func (m *Manager) retire(p *Pool) {
	go func() {
		defer m.retiring.Done()
		p.inflight.Wait()
		if err := p.db.Close(); err != nil {
			m.logger.Warn("Closing retired %s pool: %v", p.role, err)
			return
		}
		m.logger.Debug("Closed retired %s pool to %s", p.role, p.target)
	}()
}

// InSync reports whether every role has a pool matching cfg.
func (m *Manager) InSync(cfg *dbsecret.Config) bool {
	if cfg == nil {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, role := range m.roles {
		target, err := m.Target(role, cfg)
		if err != nil {
			return false
		}
		current := m.pools[role]
		if current == nil || current.target != target {
			return false
		}
	}
	return true
}

// OnConfigChange rebuilds when credentials or endpoints changed, or when a
// previous rebuild left the pools out of sync with cfg.
func (m *Manager) OnConfigChange(ctx context.Context, cfg *dbsecret.Config, changes dbsecret.Changes) error {
	if !changes.CredentialsOrEndpointsChanged && m.InSync(cfg) {
		return nil
	}
	return m.Rebuild(ctx, cfg)
}

// Acquire returns the pool for role. The caller must call release when
// done with it; until then a replacement will not close the pool.
func (m *Manager) Acquire(role topology.Role) (*Pool, func(), error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, nil, ErrClosed
	}
	p := m.pools[role]
	if p == nil {
		return nil, nil, fmt.Errorf("%s: %w", role, ErrNoPool)
	}

	p.inflight.Add(1)
	var once sync.Once
	return p, func() { once.Do(p.inflight.Done) }, nil
}

// Current returns the installed pool for role, or nil. The pool is not
// acquired; use it only for stats and pings.
func (m *Manager) Current(role topology.Role) *Pool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pools[role]
}

// Close retires every pool and waits for them to close.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	pools := m.pools
	m.pools = make(map[topology.Role]*Pool)
	m.retiring.Add(len(pools))
	m.mu.Unlock()

	for role, p := range pools {
		m.metrics.RecordPoolOpen(string(role), false)
		m.retire(p)
	}
	m.retiring.Wait()
}
