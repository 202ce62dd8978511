// Package query runs SQL against a role's pool with the refresh-and-retry
// policy: a failed attempt forces a configuration refresh, which rebuilds
// whatever changed, and the query is retried exactly once.
package query

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/systmms/mediavault/internal/configcache"
	dserrors "github.com/systmms/mediavault/internal/errors"
	"github.com/systmms/mediavault/internal/logging"
	"github.com/systmms/mediavault/internal/metrics"
	"github.com/systmms/mediavault/internal/pool"
	"github.com/systmms/mediavault/internal/topology"
)

// maxAttempts is the first attempt plus one retry.
const maxAttempts = 2

// DefaultQueryTimeout bounds a single attempt.
const DefaultQueryTimeout = 30 * time.Second

// PoolSource hands out role pools.
type PoolSource interface {
	Acquire(role topology.Role) (*pool.Pool, func(), error)
}

// Refresher forces configuration refreshes. Rebuilds happen in the
// refresher's listeners.
type Refresher interface {
	Refresh(ctx context.Context, force bool) (configcache.Snapshot, error)
}

// Result is a fully read result set. Byte slices are returned as strings.
type Result struct {
	Columns []string
	Rows    []map[string]any
}

// Options configures an Executor.
type Options struct {
	QueryTimeout time.Duration
	Logger       *logging.Logger
	Metrics      *metrics.Recorder
}

// Executor runs queries with one retry.
type Executor struct {
	pools        PoolSource
	cache        Refresher
	queryTimeout time.Duration
	logger       *logging.Logger
	metrics      *metrics.Recorder
}

// New creates an Executor.
func New(pools PoolSource, cache Refresher, opts Options) *Executor {
	e := &Executor{
		pools:        pools,
		cache:        cache,
		queryTimeout: opts.QueryTimeout,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
	}
	if e.queryTimeout <= 0 {
		e.queryTimeout = DefaultQueryTimeout
	}
	if e.logger == nil {
		e.logger = logging.NewNop()
	}
	if e.metrics == nil {
		e.metrics = metrics.NewRecorder()
	}
	return e
}

// Run executes query against role's pool. A failed first attempt forces a
// refresh and is retried once; a second failure is returned as a
// *QueryError. Refresh failures that leave a usable pool do not prevent the
// retry, but a *ConnectionError for role is returned as is.
func (e *Executor) Run(ctx context.Context, role topology.Role, query string, args ...any) (*Result, error) {
	var (
		lastErr  error
		lastKind dserrors.Kind
	)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			e.metrics.RecordQueryRetry(string(role), string(lastKind))
			e.logger.Warn("Query on %s failed (%s), forcing refresh before retry: %v", role, lastKind, lastErr)
			if err := e.refresh(ctx, role); err != nil {
				var connErr *dserrors.ConnectionError
				if errors.As(err, &connErr) {
					return nil, err
				}
				return nil, &dserrors.QueryError{
					Role:     string(role),
					Attempts: attempt - 1,
					Kind:     dserrors.Classify(err),
					Err:      errors.Join(err, lastErr),
				}
			}
		}

		res, err := e.attempt(ctx, role, query, args)
		if err == nil {
			e.metrics.RecordQueryAttempt(string(role), "success")
			if attempt > 1 {
				e.logger.Info("Query on %s succeeded on retry", role)
			}
			return res, nil
		}

		var connErr *dserrors.ConnectionError
		if errors.As(err, &connErr) {
			return nil, err
		}

		lastErr = err
		lastKind = dserrors.Classify(err)
		e.metrics.RecordQueryAttempt(string(role), string(lastKind))

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &dserrors.QueryError{
				Role:     string(role),
				Attempts: attempt,
				Kind:     dserrors.Classify(ctxErr),
				Err:      errors.Join(ctxErr, err),
			}
		}
	}

	e.logger.Error("Query on %s failed after %d attempts (%s): %v", role, maxAttempts, lastKind, lastErr)
	return nil, &dserrors.QueryError{Role: string(role), Attempts: maxAttempts, Kind: lastKind, Err: lastErr}
}

// attempt acquires the pool, runs the query and reads every row.
func (e *Executor) attempt(ctx context.Context, role topology.Role, query string, args []any) (*Result, error) {
	p, release, err := e.acquire(ctx, role)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	rows, err := p.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRows(rows)
}

// acquire returns role's pool, forcing a refresh first when none is
// installed.
func (e *Executor) acquire(ctx context.Context, role topology.Role) (*pool.Pool, func(), error) {
	p, release, err := e.pools.Acquire(role)
	if err == nil {
		return p, release, nil
	}
	if !errors.Is(err, pool.ErrNoPool) {
		return nil, nil, &dserrors.ConnectionError{Role: string(role), Err: err}
	}

	e.logger.Warn("No %s pool installed, forcing refresh", role)
	if err := e.refresh(ctx, role); err != nil {
		return nil, nil, err
	}

	p, release, err = e.pools.Acquire(role)
	if err != nil {
		return nil, nil, &dserrors.ConnectionError{Role: string(role), Err: err}
	}
	return p, release, nil
}

// refresh forces a configuration refresh. Fetch and parse failures keep the
// previous configuration and are only logged. A rebuild failure for role
// and the caller's own cancellation are returned.
func (e *Executor) refresh(ctx context.Context, role topology.Role) error {
	snap, err := e.cache.Refresh(ctx, true)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		e.logger.Warn("Refresh failed, keeping previous configuration: %v", err)
		return nil
	}

	if snap.ListenerErr != nil {
		if connErr := connectionErrorFor(snap.ListenerErr, string(role)); connErr != nil {
			return connErr
		}
		e.logger.Warn("Refresh rebuilt with errors: %v", snap.ListenerErr)
	}
	return nil
}

// connectionErrorFor finds the *ConnectionError for role in a possibly
// joined error.
func connectionErrorFor(err error, role string) *dserrors.ConnectionError {
	var connErr *dserrors.ConnectionError
	if errors.As(err, &connErr) && connErr.Role == role {
		return connErr
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			if found := connectionErrorFor(e, role); found != nil {
				return found
			}
		}
	}
	return nil
}

func scanRows(rows *sql.Rows) (*Result, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	res := &Result{Columns: columns, Rows: []map[string]any{}}
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}
