// Package dbsecret models the credentials secret that mediavault reads from its
// secret store, and the change report computed between two fetches.
//
// The secret is a JSON object. Both the shape written by the deployment tooling
// and the shape of an RDS-managed secret are accepted:
//
//	{
//	  "username": "media_app",
//	  "password": "...",
//	  "endpoints": {
//	    "primary":   "media.cluster-abc.us-east-1.rds.amazonaws.com",
//	    "secondary": "media.cluster-ro-def.us-west-2.rds.amazonaws.com",
//	    "global":    "media-global.global-xyz.global.rds.amazonaws.com"
//	  },
//	  "port": 5432,
//	  "dbname": "media",
//	  "bucketName": "media-uploads-prod",
//	  "cdnBaseUrl": "https://cdn.example.com"
//	}
//
// An RDS-managed secret carries "host" instead of "endpoints"; host is used as
// the primary endpoint when endpoints.primary is absent.
package dbsecret

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	dserrors "github.com/systmms/mediavault/internal/errors"
)

// Endpoints are the database cluster endpoints named in the secret.
type Endpoints struct {
	Primary   string `json:"primary,omitempty"`
	Secondary string `json:"secondary,omitempty"`
	Global    string `json:"global,omitempty"`
}

// Config is an immutable credentials snapshot. A fetch always yields a new
// *Config; callers must not modify one after Parse returns it.
type Config struct {
	Username   string
	Password   string
	Endpoints  Endpoints
	Port       int
	DBName     string
	BucketName string
	CDNBaseURL string
}

// PublicConfig is the part of the configuration route handlers may expose.
type PublicConfig struct {
	BucketName string `json:"bucketName"`
	CDNBaseURL string `json:"cdnBaseUrl"`
}

// Public returns the externally visible fields.
func (c *Config) Public() PublicConfig {
	return PublicConfig{BucketName: c.BucketName, CDNBaseURL: c.CDNBaseURL}
}

// String never includes the password.
func (c *Config) String() string {
	return fmt.Sprintf("Config{user=%s primary=%s secondary=%s global=%s port=%d db=%s bucket=%s}",
		c.Username, c.Endpoints.Primary, c.Endpoints.Secondary, c.Endpoints.Global,
		c.Port, c.DBName, c.BucketName)
}

// GoString keeps %#v from printing the password.
func (c *Config) GoString() string {
	return c.String()
}

type payload struct {
	Username   string      `json:"username"`
	Password   string      `json:"password"`
	Host       string      `json:"host"`
	Port       interface{} `json:"port"`
	DBName     string      `json:"dbname"`
	Endpoints  Endpoints   `json:"endpoints"`
	BucketName string      `json:"bucketName"`
	CDNBaseURL string      `json:"cdnBaseUrl"`
}

const payloadSchema = `{
  "type": "object",
  "required": ["username", "password"],
  "properties": {
    "username":   {"type": "string", "minLength": 1},
    "password":   {"type": "string", "minLength": 1},
    "host":       {"type": "string"},
    "port":       {"type": ["integer", "string"]},
    "dbname":     {"type": "string"},
    "bucketName": {"type": "string"},
    "cdnBaseUrl": {"type": "string"},
    "endpoints": {
      "type": "object",
      "properties": {
        "primary":   {"type": "string"},
        "secondary": {"type": "string"},
        "global":    {"type": "string"}
      }
    }
  },
  "anyOf": [
    {"required": ["host"], "properties": {"host": {"minLength": 1}}},
    {"required": ["endpoints"], "properties": {"endpoints": {"required": ["primary"], "properties": {"primary": {"minLength": 1}}}}},
    {"required": ["endpoints"], "properties": {"endpoints": {"required": ["global"], "properties": {"global": {"minLength": 1}}}}}
  ]
}`

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(payloadSchema))
	})
	return schema, schemaErr
}

// Parse validates and decodes a raw secret payload. Every failure is a
// *errors.ConfigParseError.
func Parse(secretName, raw string) (*Config, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &dserrors.ConfigParseError{SecretName: secretName, Reason: "payload is empty"}
	}
	if !json.Valid([]byte(raw)) {
		return nil, &dserrors.ConfigParseError{SecretName: secretName, Reason: "payload is not valid JSON"}
	}

	s, err := compiledSchema()
	if err != nil {
		return nil, &dserrors.ConfigParseError{SecretName: secretName, Reason: "compile schema", Err: err}
	}
	result, err := s.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return nil, &dserrors.ConfigParseError{SecretName: secretName, Reason: "validate payload", Err: err}
	}
	if !result.Valid() {
		var reasons []string
		for _, e := range result.Errors() {
			reasons = append(reasons, e.String())
		}
		return nil, &dserrors.ConfigParseError{SecretName: secretName, Reason: strings.Join(reasons, "; ")}
	}

	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, &dserrors.ConfigParseError{SecretName: secretName, Reason: "decode payload", Err: err}
	}

	port, err := parsePort(p.Port)
	if err != nil {
		return nil, &dserrors.ConfigParseError{SecretName: secretName, Reason: "port", Err: err}
	}

	endpoints := p.Endpoints
	if endpoints.Primary == "" {
		endpoints.Primary = p.Host
	}

	return &Config{
		Username:   p.Username,
		Password:   p.Password,
		Endpoints:  endpoints,
		Port:       port,
		DBName:     p.DBName,
		BucketName: p.BucketName,
		CDNBaseURL: strings.TrimRight(p.CDNBaseURL, "/"),
	}, nil
}

func parsePort(v interface{}) (int, error) {
	var n int
	switch p := v.(type) {
	case nil:
		return 0, nil
	case float64:
		if p != math.Trunc(p) {
			return 0, fmt.Errorf("invalid port %v", p)
		}
		if p < 1 || p > 65535 {
			return 0, fmt.Errorf("port %v out of range 1-65535", p)
		}
		n = int(p)
	case string:
		if p == "" {
			return 0, nil
		}
		var err error
		n, err = strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("invalid port %q", p)
		}
	default:
		return 0, fmt.Errorf("unexpected port type %T", v)
	}
	if n < 1 || n > 65535 {
		return 0, fmt.Errorf("port %d out of range 1-65535", n)
	}
	return n, nil
}

// Changes reports which fields differ between two configurations.
type Changes struct {
	// Initial is set on the first successful fetch; every other flag is set too.
	Initial bool

	BucketChanged bool

	// CredentialsOrEndpointsChanged covers the username, password, port,
	// database name and any of the three endpoints.
	CredentialsOrEndpointsChanged bool

	CDNChanged bool
}

// Any reports whether anything a manager reacts to has changed.
func (c Changes) Any() bool {
	return c.Initial || c.BucketChanged || c.CredentialsOrEndpointsChanged || c.CDNChanged
}

// Diff computes the change report from prev to next. A nil prev is the
// initial load.
func Diff(prev, next *Config) Changes {
	if prev == nil {
		return Changes{
			Initial:                       true,
			BucketChanged:                 true,
			CredentialsOrEndpointsChanged: true,
			CDNChanged:                    true,
		}
	}
	if next == nil {
		return Changes{}
	}

	return Changes{
		BucketChanged: prev.BucketName != next.BucketName,
		CredentialsOrEndpointsChanged: prev.Password != next.Password ||
			prev.Username != next.Username ||
			prev.Port != next.Port ||
			prev.DBName != next.DBName ||
			prev.Endpoints != next.Endpoints,
		CDNChanged: prev.CDNBaseURL != next.CDNBaseURL,
	}
}
