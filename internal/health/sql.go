// Package health serves the liveness, readiness and metrics endpoints.
package health

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SQLConfig holds configuration for pool checks.
type SQLConfig struct {
	// PingTimeout bounds a single ping.
	PingTimeout time.Duration

	// LatencyThreshold is the maximum acceptable ping latency.
	LatencyThreshold time.Duration

	// PoolWarnPct is the usage percentage reported as degraded.
	PoolWarnPct int

	// MaxConnections is used when the pool sets no limit.
	MaxConnections int
}

// DefaultSQLConfig returns the default pool check configuration.
func DefaultSQLConfig() SQLConfig {
	return SQLConfig{
		PingTimeout:      2 * time.Second,
		LatencyThreshold: 500 * time.Millisecond,
		PoolWarnPct:      80,
		MaxConnections:   100,
	}
}

// SQLPinger is the part of a pool a check needs.
type SQLPinger interface {
	PingContext(ctx context.Context) error
	Stats() sql.DBStats
}

// Result is the outcome of one check.
type Result struct {
	Name     string                 `json:"name"`
	Healthy  bool                   `json:"healthy"`
	Message  string                 `json:"message"`
	Duration time.Duration          `json:"duration_ns"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// CheckSQL pings db and inspects its pool usage. A degraded pool is
// reported but stays healthy; an exhausted one does not.
func CheckSQL(ctx context.Context, name string, db SQLPinger, config SQLConfig) Result {
	start := time.Now()
	result := Result{
		Name:     name,
		Healthy:  true,
		Metadata: make(map[string]interface{}),
	}

	if db == nil {
		result.Healthy = false
		result.Message = "no pool installed"
		result.Duration = time.Since(start)
		return result
	}

	var messages []string

	pingCtx := ctx
	if config.PingTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, config.PingTimeout)
		defer cancel()
	}

	pingStart := time.Now()
	if err := db.PingContext(pingCtx); err != nil {
		result.Healthy = false
		messages = append(messages, fmt.Sprintf("ping failed: %v", err))
	} else {
		latency := time.Since(pingStart)
		result.Metadata["ping_latency_ms"] = latency.Milliseconds()
		if config.LatencyThreshold > 0 && latency > config.LatencyThreshold {
			result.Healthy = false
			messages = append(messages, fmt.Sprintf("ping latency %v exceeds threshold %v", latency, config.LatencyThreshold))
		}
	}

	stats := db.Stats()
	result.Metadata["open_connections"] = stats.OpenConnections
	result.Metadata["in_use_connections"] = stats.InUse

	maxConns := config.MaxConnections
	if stats.MaxOpenConnections > 0 {
		maxConns = stats.MaxOpenConnections
	}
	if maxConns > 0 {
		usagePct := (stats.InUse * 100) / maxConns
		result.Metadata["pool_usage_pct"] = usagePct

		switch {
		case stats.InUse >= maxConns:
			result.Healthy = false
			result.Metadata["pool_status"] = "exhausted"
			messages = append(messages, fmt.Sprintf("connection pool exhausted: %d/%d", stats.InUse, maxConns))
		case config.PoolWarnPct > 0 && usagePct >= config.PoolWarnPct:
			result.Metadata["pool_status"] = "degraded"
			messages = append(messages, fmt.Sprintf("connection pool at %d%% usage", usagePct))
		default:
			result.Metadata["pool_status"] = "healthy"
		}
	}

	result.Duration = time.Since(start)
	if len(messages) > 0 {
		result.Message = strings.Join(messages, "; ")
	} else {
		result.Message = "all checks passed"
	}
	return result
}
