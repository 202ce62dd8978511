package dbsecret

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/systmms/mediavault/internal/errors"
)

const fullSecret = `{
  "username": "media_app",
  "password": "s3cret-pass",
  "endpoints": {
    "primary": "media.cluster-abc.us-east-1.rds.amazonaws.com",
    "secondary": "media.cluster-ro-def.us-west-2.rds.amazonaws.com",
    "global": "media-global.global-xyz.global.rds.amazonaws.com"
  },
  "port": 5432,
  "dbname": "media",
  "bucketName": "media-uploads-prod",
  "cdnBaseUrl": "https://cdn.example.com/"
}`

func TestParse_FullPayload(t *testing.T) {
	cfg, err := Parse("media/db", fullSecret)
	require.NoError(t, err)

	assert.Equal(t, "media_app", cfg.Username)
	assert.Equal(t, "s3cret-pass", cfg.Password)
	assert.Equal(t, "media.cluster-abc.us-east-1.rds.amazonaws.com", cfg.Endpoints.Primary)
	assert.Equal(t, "media.cluster-ro-def.us-west-2.rds.amazonaws.com", cfg.Endpoints.Secondary)
	assert.Equal(t, "media-global.global-xyz.global.rds.amazonaws.com", cfg.Endpoints.Global)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "media", cfg.DBName)
	assert.Equal(t, "media-uploads-prod", cfg.BucketName)
	assert.Equal(t, "https://cdn.example.com", cfg.CDNBaseURL, "trailing slash is trimmed")
}

func TestParse_RDSManagedShape(t *testing.T) {
	cfg, err := Parse("rds!cluster-1", `{"username":"admin","password":"pw","host":"db.internal","port":"3306","dbname":"media","engine":"mysql"}`)
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Endpoints.Primary)
	assert.Empty(t, cfg.Endpoints.Secondary)
	assert.Equal(t, 3306, cfg.Port)
}

func TestParse_GlobalOnly(t *testing.T) {
	cfg, err := Parse("media/db", `{"username":"u","password":"p","endpoints":{"global":"g.example"}}`)
	require.NoError(t, err)
	assert.Equal(t, "g.example", cfg.Endpoints.Global)
	assert.Empty(t, cfg.Endpoints.Primary)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		contains string
	}{
		{"empty", "   ", "payload is empty"},
		{"not json", "username=admin", "not valid JSON"},
		{"missing password", `{"username":"u","host":"h"}`, "password"},
		{"empty password", `{"username":"u","password":"","host":"h"}`, "password"},
		{"no endpoint", `{"username":"u","password":"p"}`, "anyOf"},
		{"empty endpoints", `{"username":"u","password":"p","endpoints":{"secondary":"s"}}`, "anyOf"},
		{"wrong type", `{"username":"u","password":42,"host":"h"}`, "password"},
		{"bad port string", `{"username":"u","password":"p","host":"h","port":"abc"}`, "invalid port"},
		{"port zero", `{"username":"u","password":"p","host":"h","port":0}`, "out of range"},
		{"negative port", `{"username":"u","password":"p","host":"h","port":-1}`, "out of range"},
		{"port too large", `{"username":"u","password":"p","host":"h","port":70000}`, "out of range"},
		{"port string too large", `{"username":"u","password":"p","host":"h","port":"65536"}`, "out of range"},
		{"fractional port", `{"username":"u","password":"p","host":"h","port":5432.5}`, "port"},
		{"array", `[1,2,3]`, "object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("media/db", tt.raw)
			require.Error(t, err)

			var parseErr *dserrors.ConfigParseError
			require.True(t, stderrors.As(err, &parseErr), "expected ConfigParseError, got %T", err)
			assert.Equal(t, "media/db", parseErr.SecretName)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestParse_PortBounds(t *testing.T) {
	for _, raw := range []string{`1`, `65535`, `"1"`, `"65535"`} {
		cfg, err := Parse("media/db", `{"username":"u","password":"p","host":"h","port":`+raw+`}`)
		require.NoError(t, err, raw)
		assert.Contains(t, []int{1, 65535}, cfg.Port)
	}
}

func TestConfig_StringRedactsPassword(t *testing.T) {
	cfg, err := Parse("media/db", fullSecret)
	require.NoError(t, err)

	assert.NotContains(t, cfg.String(), "s3cret-pass")
	assert.NotContains(t, fmt.Sprintf("%v", cfg), "s3cret-pass")
	assert.NotContains(t, fmt.Sprintf("%#v", cfg), "s3cret-pass")
}

func TestConfig_Public(t *testing.T) {
	cfg, err := Parse("media/db", fullSecret)
	require.NoError(t, err)

	assert.Equal(t, PublicConfig{BucketName: "media-uploads-prod", CDNBaseURL: "https://cdn.example.com"}, cfg.Public())
}

func TestDiff(t *testing.T) {
	base := &Config{
		Username:   "u",
		Password:   "p1",
		Endpoints:  Endpoints{Primary: "w", Secondary: "r", Global: "g"},
		Port:       5432,
		DBName:     "media",
		BucketName: "b1",
		CDNBaseURL: "https://cdn1",
	}

	with := func(mut func(c *Config)) *Config {
		c := *base
		mut(&c)
		return &c
	}

	tests := []struct {
		name string
		prev *Config
		next *Config
		want Changes
	}{
		{
			name: "initial load",
			prev: nil,
			next: base,
			want: Changes{Initial: true, BucketChanged: true, CredentialsOrEndpointsChanged: true, CDNChanged: true},
		},
		{
			name: "identical",
			prev: base,
			next: with(func(c *Config) {}),
			want: Changes{},
		},
		{
			name: "password rotated",
			prev: base,
			next: with(func(c *Config) { c.Password = "p2" }),
			want: Changes{CredentialsOrEndpointsChanged: true},
		},
		{
			name: "secondary failover",
			prev: base,
			next: with(func(c *Config) { c.Endpoints.Secondary = "r2" }),
			want: Changes{CredentialsOrEndpointsChanged: true},
		},
		{
			name: "global endpoint",
			prev: base,
			next: with(func(c *Config) { c.Endpoints.Global = "g2" }),
			want: Changes{CredentialsOrEndpointsChanged: true},
		},
		{
			name: "bucket only",
			prev: base,
			next: with(func(c *Config) { c.BucketName = "b2" }),
			want: Changes{BucketChanged: true},
		},
		{
			name: "cdn only",
			prev: base,
			next: with(func(c *Config) { c.CDNBaseURL = "https://cdn2" }),
			want: Changes{CDNChanged: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Diff(tt.prev, tt.next)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want != (Changes{}), got.Any())
		})
	}
}
