// Package tenant validates tenant identifiers and decides single-tenant vs
// multi-tenant routing. Every stored row and every query is scoped to exactly
// one tenant id resolved here.
package tenant

import (
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/CaviraOSS/openmemory-go/internal/config"
)

// ErrInvalidTenant is returned on write paths when a supplied tenant id fails
// validation. Invalid ids are never stored.
var ErrInvalidTenant = errors.New("invalid tenant id")

const maxTenantIDLen = 256

// Resolver resolves tenant ids according to the deployment's tenancy mode.
type Resolver struct {
	cfg    config.TenantConfig
	logger *logrus.Logger
}

func NewResolver(cfg config.TenantConfig, logger *logrus.Logger) *Resolver {
	if logger == nil {
		logger = logrus.New()
	}
	return &Resolver{cfg: cfg, logger: logger}
}

// Default returns the configured default tenant id.
func (r *Resolver) Default() string {
	return r.cfg.DefaultID
}

// Resolve picks a tenant id for a request. When multi-tenant mode is disabled
// it always returns the default tenant, ignoring all inputs; that
// short-circuit is the isolation boundary and must not be bypassable.
// Otherwise a valid explicit value wins, then the header-derived value, then
// the default.
func (r *Resolver) Resolve(explicit, headerValue string) (string, error) {
	if !r.cfg.MultiTenant {
		return r.cfg.DefaultID, nil
	}
	if explicit != "" {
		if !IsValid(explicit) {
			return "", ErrInvalidTenant
		}
		return strings.TrimSpace(explicit), nil
	}
	if headerValue != "" {
		if !IsValid(headerValue) {
			return "", ErrInvalidTenant
		}
		return strings.TrimSpace(headerValue), nil
	}
	return r.cfg.DefaultID, nil
}

// FromHeader resolves the tenant id carried in the configured request header.
func (r *Resolver) FromHeader(h http.Header) (string, error) {
	return r.Resolve("", h.Get(r.cfg.Header))
}

// Sanitize returns the id if valid, else the default tenant. Only acceptable
// on best-effort read paths; write paths must use Resolve and reject.
func (r *Resolver) Sanitize(id string) string {
	if !r.cfg.MultiTenant {
		return r.cfg.DefaultID
	}
	if id == "" {
		return r.cfg.DefaultID
	}
	if !IsValid(id) {
		r.logger.WithField("tenant_id", id).Warn("invalid tenant id rejected, using default")
		return r.cfg.DefaultID
	}
	return strings.TrimSpace(id)
}

// IsValid reports whether id is a safe tenant identifier: non-empty after
// trimming, at most 256 chars, free of quote/backslash/semicolon and control
// characters.
func IsValid(id string) bool {
	if strings.TrimSpace(id) == "" {
		return false
	}
	if len(id) > maxTenantIDLen {
		return false
	}
	for _, c := range id {
		switch c {
		case '\'', '"', ';', '\\':
			return false
		}
		if c < 0x20 || c == 0x7f {
			return false
		}
	}
	return true
}
