package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/systmms/mediavault/internal/errors"
	"github.com/systmms/mediavault/internal/logging"
	"github.com/systmms/mediavault/internal/topology"
)

func envFrom(vars map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mediavault.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FromEnvironmentOnly(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Logger: logging.New(false, false),
		LookupEnv: envFrom(map[string]string{
			"REGION":      "us-west-2",
			"SECRET_NAME": "media/db",
			"DB_NAME":     "media",
			"PORT":        "8080",
		}),
	}

	require.NoError(t, cfg.Load())
	def := cfg.Definition

	assert.Equal(t, "us-west-2", def.Region)
	assert.Equal(t, DefaultPrimaryRegion, def.PrimaryRegion)
	assert.Equal(t, "media/db", def.Secret.Name)
	assert.Equal(t, "secretsmanager", def.Secret.Store)
	assert.Equal(t, 5*time.Minute, def.Secret.TTL)
	assert.Equal(t, "postgres", def.Database.Driver)
	assert.Equal(t, "media", def.Database.Name)
	assert.Equal(t, 8080, def.Server.Port)
	assert.Equal(t, "/metrics", def.Server.MetricsPath)
	assert.Equal(t, 5*time.Minute, def.Refresh.Interval)
	assert.True(t, def.RefreshEnabled())

	roles, err := def.RoleList()
	require.NoError(t, err)
	assert.Equal(t, topology.AllRoles, roles)
}

func TestLoad_FileWithEnvOverride(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
version: 0
region: eu-west-1
primary_region: us-east-1
secret:
  store: ssm
  name: /media/db
  parameter_prefix: /prod
  ttl: 2m
database:
  driver: mysql
  roles: [writer, reader, reader]
  connect_timeout_ms: 1500
refresh:
  enabled: false
  interval: 30s
server:
  port: 9000
logging:
  format: json
`)
	cfg := &Config{
		Path:      path,
		LookupEnv: envFrom(map[string]string{"REGION": "ap-south-1"}),
	}

	require.NoError(t, cfg.Load())
	def := cfg.Definition

	assert.Equal(t, "ap-south-1", def.Region)
	assert.Equal(t, "ssm", def.Secret.Store)
	assert.Equal(t, "/prod", def.Secret.ParameterPrefix)
	assert.Equal(t, 2*time.Minute, def.Secret.TTL)
	assert.Equal(t, "mysql", def.Database.Driver)
	assert.Equal(t, 1500*time.Millisecond, Millis(def.Database.ConnectTimeoutMs))
	assert.False(t, def.RefreshEnabled())
	assert.Equal(t, 30*time.Second, def.Refresh.Interval)
	assert.Equal(t, 9000, def.Server.Port)

	roles, err := def.RoleList()
	require.NoError(t, err)
	assert.Equal(t, []topology.Role{topology.Writer, topology.Reader}, roles)
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		env     map[string]string
		wantMsg string
	}{
		{
			name:    "invalid yaml",
			content: "secret: [unclosed",
			wantMsg: "invalid YAML syntax",
		},
		{
			name:    "unsupported version",
			content: "version: 2\nsecret:\n  name: x\n",
			wantMsg: "unsupported configuration version",
		},
		{
			name:    "missing secret name",
			content: "region: us-east-1\n",
			wantMsg: "secret name is required",
		},
		{
			name:    "unknown store",
			content: "secret:\n  name: x\n  store: vault\n",
			wantMsg: "unsupported secret store",
		},
		{
			name:    "unknown driver",
			content: "secret:\n  name: x\ndatabase:\n  driver: oracle\n",
			wantMsg: "unsupported database driver",
		},
		{
			name:    "unknown role",
			content: "secret:\n  name: x\ndatabase:\n  roles: [primary]\n",
			wantMsg: "database.roles",
		},
		{
			name:    "bad PORT",
			content: "secret:\n  name: x\n",
			env:     map[string]string{"PORT": "http"},
			wantMsg: "must be an integer",
		},
		{
			name:    "bad log format",
			content: "secret:\n  name: x\nlogging:\n  format: xml\n",
			wantMsg: "unknown log format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{
				Path:      writeConfig(t, tt.content),
				LookupEnv: envFrom(tt.env),
			}

			err := cfg.Load()
			require.Error(t, err)

			var configErr dserrors.ConfigError
			require.ErrorAs(t, err, &configErr)
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.Nil(t, cfg.Definition)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Path:      filepath.Join(t.TempDir(), "nope.yaml"),
		LookupEnv: envFrom(nil),
	}

	err := cfg.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration file not found")
}
