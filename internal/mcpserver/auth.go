package mcpserver

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/limbodancer/limbodancer-mcp/internal/config"
	"github.com/limbodancer/limbodancer-mcp/internal/fault"
	"github.com/limbodancer/limbodancer-mcp/internal/tenancy"
)

// principal is the authenticated caller: tenant claims plus tool grants.
type principal struct {
	claims tenancy.Claims
	grants []string
}

// parseBearer verifies and decodes the Authorization header. With an HMAC
// secret configured, tokens must be valid HS256. AllowUnverified parses
// without signature checks, for development against local token issuers.
func parseBearer(cfg config.AuthConfig, authorization string) (*principal, error) {
	raw, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok || raw == "" {
		return nil, fault.New(fault.TenantUnresolved, "missing bearer token")
	}

	var claims jwt.MapClaims
	switch {
	case cfg.HMACSecret != "":
		token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			return []byte(cfg.HMACSecret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil {
			return nil, fault.Wrap(fault.Forbidden, err, "token verification failed")
		}
		claims, _ = token.Claims.(jwt.MapClaims)

	case cfg.AllowUnverified:
		token, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
		if err != nil {
			return nil, fault.Wrap(fault.Forbidden, err, "token parsing failed")
		}
		claims, _ = token.Claims.(jwt.MapClaims)

	default:
		return nil, fault.New(fault.Forbidden, "no token verification configured")
	}

	p := &principal{}
	if v, ok := claims["tenant_id"].(string); ok {
		p.claims.TenantID = v
	}
	if v, ok := claims["tid"].(string); ok {
		p.claims.LegacyTID = v
	}
	if raw, ok := claims["permissions"].([]any); ok {
		for _, g := range raw {
			if s, ok := g.(string); ok {
				p.grants = append(p.grants, s)
			}
		}
	}
	// Tokens without a permissions claim get every tool; fine-grained
	// grants are opt-in per issuer.
	if p.grants == nil {
		p.grants = []string{AllGrants}
	}
	return p, nil
}
