// Package topology maps database roles to cluster endpoints for the region
// the process runs in. The region comparison happens once, when the Resolver
// is built; callers never compare regions themselves.
package topology

import (
	"errors"
	"fmt"
	"strings"

	"github.com/systmms/mediavault/pkg/dbsecret"
)

// Role is a logical database access pattern.
type Role string

const (
	Writer Role = "writer"
	Reader Role = "reader"
	Global Role = "global"
)

// AllRoles lists every role in a stable order.
var AllRoles = []Role{Writer, Reader, Global}

// ErrNoEndpoint is returned when the secret names no endpoint a role can use.
var ErrNoEndpoint = errors.New("no endpoint configured")

// ParseRole converts a role name, case-insensitively.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case Writer:
		return Writer, nil
	case Reader:
		return Reader, nil
	case Global:
		return Global, nil
	}
	return "", fmt.Errorf("unknown role %q (want writer, reader or global)", s)
}

// Resolver picks the endpoint for each role.
type Resolver struct {
	region        string
	primaryRegion string
	primary       bool
}

// New builds a Resolver. An empty primaryRegion means every region is primary.
func New(region, primaryRegion string) Resolver {
	return Resolver{
		region:        region,
		primaryRegion: primaryRegion,
		primary:       primaryRegion == "" || strings.EqualFold(region, primaryRegion),
	}
}

// Region returns the region the process runs in.
func (r Resolver) Region() string {
	return r.region
}

// IsPrimaryRegion reports whether the process runs in the primary region.
func (r Resolver) IsPrimaryRegion() bool {
	return r.primary
}

// Endpoint returns the target endpoint for role.
//
//	writer: primary, else global
//	global: global, else primary
//	reader: secondary outside the primary region when one is set, else writer
func (r Resolver) Endpoint(role Role, ep dbsecret.Endpoints) (string, error) {
	var target string
	switch role {
	case Writer:
		target = firstNonEmpty(ep.Primary, ep.Global)
	case Global:
		target = firstNonEmpty(ep.Global, ep.Primary)
	case Reader:
		if !r.primary && ep.Secondary != "" {
			return ep.Secondary, nil
		}
		return r.Endpoint(Writer, ep)
	default:
		return "", fmt.Errorf("unknown role %q", role)
	}
	if target == "" {
		return "", fmt.Errorf("%s: %w", role, ErrNoEndpoint)
	}
	return target, nil
}

// Resolve returns the endpoint of every role in roles.
func (r Resolver) Resolve(roles []Role, ep dbsecret.Endpoints) (map[Role]string, error) {
	out := make(map[Role]string, len(roles))
	for _, role := range roles {
		target, err := r.Endpoint(role, ep)
		if err != nil {
			return nil, err
		}
		out[role] = target
	}
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
