package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	dserrors "github.com/systmms/mediavault/internal/errors"
	"github.com/systmms/mediavault/internal/logging"
	"github.com/systmms/mediavault/internal/topology"
)

// Defaults applied when neither the file nor the environment sets a value
const (
	DefaultRegion          = "us-east-1"
	DefaultPrimaryRegion   = "us-east-1"
	DefaultSecretStore     = "secretsmanager"
	DefaultDriver          = "postgres"
	DefaultServerPort      = 5000
	DefaultMetricsPath     = "/metrics"
	DefaultTTL             = 5 * time.Minute
	DefaultRefreshInterval = 5 * time.Minute
)

// Config holds the runtime configuration
type Config struct {
	Path       string
	Logger     *logging.Logger
	Definition *Definition

	// LookupEnv replaces os.LookupEnv (for testing)
	LookupEnv func(string) (string, bool)
}

// Definition represents the mediavault.yaml structure
type Definition struct {
	Version       int            `yaml:"version"`
	Region        string         `yaml:"region"`
	PrimaryRegion string         `yaml:"primary_region"`
	Secret        SecretConfig   `yaml:"secret"`
	Database      DatabaseConfig `yaml:"database"`
	Storage       StorageConfig  `yaml:"storage"`
	Refresh       RefreshConfig  `yaml:"refresh"`
	Server        ServerConfig   `yaml:"server"`
	Logging       LoggingConfig  `yaml:"logging"`
}

// SecretConfig selects where credentials are read from
type SecretConfig struct {
	Store           string        `yaml:"store"` // secretsmanager or ssm
	Name            string        `yaml:"name"`
	Endpoint        string        `yaml:"endpoint,omitempty"`
	Profile         string        `yaml:"profile,omitempty"`
	VersionStage    string        `yaml:"version_stage,omitempty"`
	ParameterPrefix string        `yaml:"parameter_prefix,omitempty"`
	TTL             time.Duration `yaml:"ttl"`
	FetchTimeoutMs  int           `yaml:"fetch_timeout_ms,omitempty"`
}

// DatabaseConfig tunes the role pools
type DatabaseConfig struct {
	Driver           string        `yaml:"driver"`
	Name             string        `yaml:"name"`
	Port             int           `yaml:"port,omitempty"`
	SSLMode          string        `yaml:"sslmode,omitempty"`
	Roles            []string      `yaml:"roles,omitempty"`
	ConnectTimeoutMs int           `yaml:"connect_timeout_ms,omitempty"`
	QueryTimeoutMs   int           `yaml:"query_timeout_ms,omitempty"`
	MaxOpenConns     int           `yaml:"max_open_conns,omitempty"`
	MaxIdleConns     int           `yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime  time.Duration `yaml:"conn_max_lifetime,omitempty"`
}

// StorageConfig configures the object-storage client
type StorageConfig struct {
	Endpoint       string `yaml:"endpoint,omitempty"`
	ForcePathStyle bool   `yaml:"force_path_style,omitempty"`
	VerifyBucket   bool   `yaml:"verify_bucket,omitempty"`
}

// RefreshConfig controls the background refresher
type RefreshConfig struct {
	Enabled  *bool         `yaml:"enabled,omitempty"`
	Interval time.Duration `yaml:"interval"`
}

// ServerConfig configures the health and metrics listener
type ServerConfig struct {
	Port           int    `yaml:"port"`
	MetricsPath    string `yaml:"metrics_path,omitempty"`
	ReadTimeoutMs  int    `yaml:"read_timeout_ms,omitempty"`
	WriteTimeoutMs int    `yaml:"write_timeout_ms,omitempty"`
}

// LoggingConfig configures log output
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`  // info or debug
	Format string `yaml:"format,omitempty"` // console or json
	File   string `yaml:"file,omitempty"`
}

// Load reads mediavault.yaml when Path is set, applies environment
// overrides and defaults, then validates the result.
func (c *Config) Load() error {
	var def Definition

	if c.Path != "" {
		data, err := os.ReadFile(c.Path)
		if err != nil {
			if os.IsNotExist(err) {
				return dserrors.ConfigError{
					Field:      "path",
					Value:      c.Path,
					Message:    "configuration file not found",
					Suggestion: "Pass --config with an existing file, or omit it to configure from the environment",
				}
			}
			return dserrors.UserError{
				Message:    "Failed to read configuration file",
				Details:    err.Error(),
				Suggestion: "Check file permissions and path",
				Err:        err,
			}
		}

		if err := yaml.Unmarshal(data, &def); err != nil {
			return dserrors.ConfigError{
				Message:    "invalid YAML syntax in configuration file",
				Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
			}
		}

		if def.Version != 0 {
			return dserrors.ConfigError{
				Field:      "version",
				Value:      def.Version,
				Message:    "unsupported configuration version",
				Suggestion: "Set 'version: 0' at the top of your mediavault.yaml file",
			}
		}
	}

	if err := c.applyEnv(&def); err != nil {
		return err
	}
	def.applyDefaults()
	if err := def.Validate(); err != nil {
		return err
	}

	c.Definition = &def
	return nil
}

// applyEnv overlays the deployment environment variables
func (c *Config) applyEnv(def *Definition) error {
	lookup := c.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}

	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	str("REGION", &def.Region)
	str("PRIMARY_REGION", &def.PrimaryRegion)
	str("SECRET_NAME", &def.Secret.Name)
	str("SECRET_STORE", &def.Secret.Store)
	str("DB_NAME", &def.Database.Name)
	str("DB_DRIVER", &def.Database.Driver)

	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return dserrors.ConfigError{
				Field:      "PORT",
				Value:      v,
				Message:    "must be an integer",
				Suggestion: "Set PORT to the port the health server should listen on, e.g. 5000",
			}
		}
		def.Server.Port = port
	}
	return nil
}

func (d *Definition) applyDefaults() {
	if d.Region == "" {
		d.Region = DefaultRegion
	}
	if d.PrimaryRegion == "" {
		d.PrimaryRegion = DefaultPrimaryRegion
	}
	if d.Secret.Store == "" {
		d.Secret.Store = DefaultSecretStore
	}
	if d.Secret.TTL == 0 {
		d.Secret.TTL = DefaultTTL
	}
	if d.Database.Driver == "" {
		d.Database.Driver = DefaultDriver
	}
	if len(d.Database.Roles) == 0 {
		for _, r := range topology.AllRoles {
			d.Database.Roles = append(d.Database.Roles, string(r))
		}
	}
	if d.Refresh.Interval == 0 {
		d.Refresh.Interval = DefaultRefreshInterval
	}
	if d.Server.Port == 0 {
		d.Server.Port = DefaultServerPort
	}
	if d.Server.MetricsPath == "" {
		d.Server.MetricsPath = DefaultMetricsPath
	}
}

// Validate checks the definition after defaults are applied
func (d *Definition) Validate() error {
	if d.Secret.Name == "" {
		return dserrors.ConfigError{
			Field:      "secret.name",
			Message:    "secret name is required",
			Suggestion: "Set secret.name in mediavault.yaml or the SECRET_NAME environment variable",
		}
	}

	switch strings.ToLower(d.Secret.Store) {
	case "secretsmanager", "aws-secretsmanager", "ssm", "aws-ssm":
	default:
		return dserrors.ConfigError{
			Field:      "secret.store",
			Value:      d.Secret.Store,
			Message:    "unsupported secret store",
			Suggestion: "Use 'secretsmanager' or 'ssm'",
		}
	}

	switch strings.ToLower(d.Database.Driver) {
	case "postgres", "postgresql", "mysql", "mariadb":
	default:
		return dserrors.ConfigError{
			Field:      "database.driver",
			Value:      d.Database.Driver,
			Message:    "unsupported database driver",
			Suggestion: "Use 'postgres' or 'mysql'",
		}
	}

	if _, err := d.RoleList(); err != nil {
		return dserrors.ConfigError{
			Field:      "database.roles",
			Value:      d.Database.Roles,
			Message:    err.Error(),
			Suggestion: "Roles are writer, reader and global",
		}
	}

	if d.Secret.TTL < 0 || d.Refresh.Interval < 0 {
		return dserrors.ConfigError{
			Field:   "secret.ttl",
			Message: "durations must not be negative",
		}
	}

	if d.Server.Port < 1 || d.Server.Port > 65535 {
		return dserrors.ConfigError{
			Field:   "server.port",
			Value:   d.Server.Port,
			Message: "port must be between 1 and 65535",
		}
	}

	switch d.Logging.Format {
	case "", "console", "json":
	default:
		return dserrors.ConfigError{
			Field:      "logging.format",
			Value:      d.Logging.Format,
			Message:    "unknown log format",
			Suggestion: "Use 'console' or 'json'",
		}
	}
	return nil
}

// RoleList parses the configured roles
func (d *Definition) RoleList() ([]topology.Role, error) {
	roles := make([]topology.Role, 0, len(d.Database.Roles))
	seen := make(map[topology.Role]bool)
	for _, name := range d.Database.Roles {
		role, err := topology.ParseRole(name)
		if err != nil {
			return nil, err
		}
		if !seen[role] {
			seen[role] = true
			roles = append(roles, role)
		}
	}
	return roles, nil
}

// RefreshEnabled reports whether the background refresher should run
func (d *Definition) RefreshEnabled() bool {
	return d.Refresh.Enabled == nil || *d.Refresh.Enabled
}

// Millis converts a millisecond setting to a duration; zero stays zero
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
