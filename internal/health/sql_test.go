package health

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// mockDB implements SQLPinger for testing.
type mockDB struct {
	pingErr      error
	pingLatency  time.Duration
	maxOpenConns int
	openConns    int
	inUseConns   int
}

func (m *mockDB) PingContext(ctx context.Context) error {
	if m.pingLatency > 0 {
		time.Sleep(m.pingLatency)
	}
	return m.pingErr
}

func (m *mockDB) Stats() sql.DBStats {
	return sql.DBStats{
		MaxOpenConnections: m.maxOpenConns,
		OpenConnections:    m.openConns,
		InUse:              m.inUseConns,
	}
}

func TestDefaultSQLConfig(t *testing.T) {
	t.Parallel()

	config := DefaultSQLConfig()

	assert.Equal(t, 2*time.Second, config.PingTimeout)
	assert.Equal(t, 500*time.Millisecond, config.LatencyThreshold)
	assert.Equal(t, 80, config.PoolWarnPct)
	assert.Equal(t, 100, config.MaxConnections)
}

func TestCheckSQL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		db          *mockDB
		config      SQLConfig
		wantHealthy bool
		wantStatus  string
		wantMessage string
	}{
		{
			name:        "healthy",
			db:          &mockDB{maxOpenConns: 10, openConns: 2, inUseConns: 1},
			config:      DefaultSQLConfig(),
			wantHealthy: true,
			wantStatus:  "healthy",
			wantMessage: "all checks passed",
		},
		{
			name:        "ping failure",
			db:          &mockDB{pingErr: errors.New("connection refused")},
			config:      DefaultSQLConfig(),
			wantHealthy: false,
			wantStatus:  "healthy",
			wantMessage: "ping failed: connection refused",
		},
		{
			name:        "slow ping",
			db:          &mockDB{pingLatency: 30 * time.Millisecond},
			config:      SQLConfig{LatencyThreshold: 5 * time.Millisecond, MaxConnections: 100},
			wantHealthy: false,
			wantStatus:  "healthy",
			wantMessage: "exceeds threshold",
		},
		{
			name:        "degraded pool stays healthy",
			db:          &mockDB{maxOpenConns: 10, inUseConns: 9},
			config:      DefaultSQLConfig(),
			wantHealthy: true,
			wantStatus:  "degraded",
			wantMessage: "connection pool at 90% usage",
		},
		{
			name:        "exhausted pool",
			db:          &mockDB{maxOpenConns: 4, inUseConns: 4},
			config:      DefaultSQLConfig(),
			wantHealthy: false,
			wantStatus:  "exhausted",
			wantMessage: "connection pool exhausted: 4/4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			result := CheckSQL(context.Background(), "writer", tt.db, tt.config)

			assert.Equal(t, "writer", result.Name)
			assert.Equal(t, tt.wantHealthy, result.Healthy)
			assert.Equal(t, tt.wantStatus, result.Metadata["pool_status"])
			assert.Contains(t, result.Message, tt.wantMessage)
		})
	}
}

func TestCheckSQL_NoPool(t *testing.T) {
	t.Parallel()
	result := CheckSQL(context.Background(), "reader", nil, DefaultSQLConfig())

	assert.False(t, result.Healthy)
	assert.Equal(t, "no pool installed", result.Message)
}
