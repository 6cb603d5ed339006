package tenancy

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// HTTP headers for development overrides.
const (
	HeaderTenantID  = "X-Tenant-Id"
	HeaderPackageID = "X-Tenant-Package"
	HeaderChannelID = "X-Tenant-Channel"
)

// Claims carries the tenant-relevant fields of an authenticated principal.
// TenantID comes from the tenant_id claim; LegacyTID from the older tid claim.
type Claims struct {
	TenantID  string
	LegacyTID string
}

// ResolverConfig controls where a scope may come from.
type ResolverConfig struct {
	// AllowHeaderOverride enables the X-Tenant-* header fallback and the
	// default tenant. Development only; off by default.
	AllowHeaderOverride bool `koanf:"allow_header_override"`

	// DefaultTenantID is used when headers carry no tenant and overrides
	// are allowed.
	DefaultTenantID string `koanf:"default_tenant_id"`

	// DefaultPackageID and DefaultChannelID complete the scope when the
	// request does not name them.
	DefaultPackageID string `koanf:"default_package_id"`
	DefaultChannelID string `koanf:"default_channel_id"`
}

// Resolver resolves a Scope per request.
//
// Precedence for HTTP:
//  1. principal tenant_id claim (legacy tid accepted with a warning)
//  2. X-Tenant-Id header, development only
//  3. configured default tenant, development only
type Resolver struct {
	cfg    ResolverConfig
	logger *zap.Logger
}

// NewResolver creates a resolver. logger may be nil.
func NewResolver(cfg ResolverConfig, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{cfg: cfg, logger: logger}
}

// ResolveHTTP resolves the scope for an HTTP request. claims is nil for
// anonymous requests.
func (r *Resolver) ResolveHTTP(claims *Claims, header http.Header) (Scope, error) {
	tenant := ""
	if claims != nil {
		switch {
		case claims.TenantID != "":
			tenant = claims.TenantID
		case claims.LegacyTID != "":
			tenant = claims.LegacyTID
			r.logger.Warn("tenant resolved from legacy tid claim",
				zap.String("tenant", tenant))
		}
	}

	if tenant == "" && r.cfg.AllowHeaderOverride {
		tenant = header.Get(HeaderTenantID)
		if tenant == "" {
			tenant = r.cfg.DefaultTenantID
		}
	}
	if tenant == "" {
		return Scope{}, ErrTenantUnresolved
	}

	// A request may not name a tenant inconsistent with the principal.
	if claims != nil && claims.TenantID != "" {
		if h := header.Get(HeaderTenantID); h != "" && h != claims.TenantID {
			return Scope{}, fmt.Errorf("%w: header tenant %q does not match principal %q",
				ErrScopeViolation, h, claims.TenantID)
		}
	}

	pkg := header.Get(HeaderPackageID)
	if pkg == "" {
		pkg = r.cfg.DefaultPackageID
	}
	channel := header.Get(HeaderChannelID)
	if channel == "" {
		channel = r.cfg.DefaultChannelID
	}

	s, err := NewScope(tenant, pkg, channel)
	if err != nil {
		return Scope{}, fmt.Errorf("%w: %v", ErrTenantUnresolved, err)
	}
	return s, nil
}

// ResolveStatic resolves the scope for stdio mode from process start
// parameters, falling back to configured defaults for package and channel.
func (r *Resolver) ResolveStatic(tenantID, packageID, channelID string) (Scope, error) {
	if tenantID == "" {
		tenantID = r.cfg.DefaultTenantID
	}
	if packageID == "" {
		packageID = r.cfg.DefaultPackageID
	}
	if channelID == "" {
		channelID = r.cfg.DefaultChannelID
	}
	if tenantID == "" {
		return Scope{}, ErrTenantUnresolved
	}
	s, err := NewScope(tenantID, packageID, channelID)
	if err != nil {
		return Scope{}, fmt.Errorf("%w: %v", ErrTenantUnresolved, err)
	}
	return s, nil
}
