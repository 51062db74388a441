// Package middleware holds the echo middleware chain: request ids, bearer
// authentication, tenant resolution and request signatures.
package middleware

import (
	"net/http"
	"strings"

	"github.com/AviOnlineSec/cra/internal/authz"
	"github.com/AviOnlineSec/cra/internal/model"
	"github.com/AviOnlineSec/cra/pkg/jwtutil"
	"github.com/AviOnlineSec/cra/pkg/logger"
	"github.com/AviOnlineSec/cra/prometheus"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Context keys set by this package
const (
	PrincipalKey     = "principal"
	ClaimsKey        = "claims"
	TenantContextKey = "tenant_context"
)

// AuthMiddleware validates the access token from the Authorization header and
// attaches the caller's principal to the echo and request contexts
func AuthMiddleware(j *jwtutil.JWTUtil) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			log := logger.FromContext(c)

			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" {
				log.Debug("Missing Authorization header")
				prometheus.RecordAuthError("missing_token")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing authorization token"})
			}

			parts := strings.Fields(authHeader)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				log.Warn("Invalid Authorization header format")
				prometheus.RecordAuthError("invalid_auth_format")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid authorization format, expected Bearer token"})
			}

			claims, err := j.ValidateTyped(parts[1], jwtutil.AccessToken)
			if err != nil {
				log.Warn("Invalid JWT token", zap.Error(err))
				prometheus.RecordAuthError("invalid_token")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired token"})
			}

			p := &authz.Principal{
				UserID:      claims.UserID,
				Email:       claims.Email,
				Name:        claims.Name,
				Role:        model.Role(claims.Role),
				IsSuperuser: claims.IsSuperuser,
			}
			c.Set(PrincipalKey, p)
			c.Set(ClaimsKey, claims)

			c.SetRequest(c.Request().WithContext(authz.WithPrincipal(c.Request().Context(), p)))
			logger.Attach(c, log.With(zap.Uint("user_id", p.UserID)))

			return next(c)
		}
	}
}

// PrincipalFrom returns the authenticated principal of the request, or nil
func PrincipalFrom(c echo.Context) *authz.Principal {
	p, _ := c.Get(PrincipalKey).(*authz.Principal)
	return p
}

// ClaimsFrom returns the validated token claims of the request, or nil
func ClaimsFrom(c echo.Context) *jwtutil.UserClaims {
	claims, _ := c.Get(ClaimsKey).(*jwtutil.UserClaims)
	return claims
}

// TenantContextFrom returns the resolved tenant context of the request. It
// falls back to a principal-only context on routes without the resolver.
func TenantContextFrom(c echo.Context) *authz.TenantContext {
	if tc, ok := c.Get(TenantContextKey).(*authz.TenantContext); ok {
		return tc
	}
	return &authz.TenantContext{Principal: PrincipalFrom(c)}
}

// AccessLogFields reports the acting user and resolved tenant for the access
// log. Anonymous requests add nothing.
func AccessLogFields(c echo.Context) []zap.Field {
	var fields []zap.Field
	if p := PrincipalFrom(c); p != nil {
		fields = append(fields, zap.Uint("user_id", p.UserID))
	}
	if tc, ok := c.Get(TenantContextKey).(*authz.TenantContext); ok && tc.Tenant != nil {
		fields = append(fields, zap.Uint("tenant_id", tc.Tenant.ID))
	}
	return fields
}
