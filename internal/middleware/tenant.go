package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/AviOnlineSec/cra/internal/authz"
	"github.com/AviOnlineSec/cra/internal/model"
	"github.com/AviOnlineSec/cra/pkg/config"
	"github.com/AviOnlineSec/cra/pkg/logger"
	"github.com/AviOnlineSec/cra/prometheus"
	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const sessionTenantKey = "active_tenant"

// Tenant resolution failures
const (
	MsgTenantRequired   = "Tenant context required"
	MsgInvalidTenant    = "Invalid tenant"
	MsgTenantNotAllowed = "Not authorized for this tenant"
)

// TenantDirectory is the lookup the resolver needs
type TenantDirectory interface {
	ActiveTenant(ctx context.Context, id uint) (*model.Tenant, error)
	ActiveTenantByCode(ctx context.Context, code string) (*model.Tenant, error)
	IsActiveMember(ctx context.Context, userID, tenantID uint) (bool, error)
}

// TenantResolver attaches the tenant the caller acts for. The selector comes
// from the tenant header or one of its aliases, falling back to the value
// remembered in the session.
type TenantResolver struct {
	dir         TenantDirectory
	store       sessions.Store
	sessionName string
	headers     []string
}

// NewTenantResolver creates a resolver reading the configured headers
func NewTenantResolver(dir TenantDirectory, store sessions.Store, sessionName string, cfg config.TenantConfig) *TenantResolver {
	headers := []string{cfg.Header}
	headers = append(headers, cfg.HeaderAliases...)
	if sessionName == "" {
		sessionName = "cra_session"
	}
	return &TenantResolver{dir: dir, store: store, sessionName: sessionName, headers: headers}
}

func (r *TenantResolver) selector(c echo.Context) (string, bool) {
	for _, h := range r.headers {
		if h == "" {
			continue
		}
		if v := strings.TrimSpace(c.Request().Header.Get(h)); v != "" {
			return v, false
		}
	}
	if r.store == nil {
		return "", false
	}
	sess, err := r.store.Get(c.Request(), r.sessionName)
	if err != nil {
		return "", false
	}
	if v, ok := sess.Values[sessionTenantKey].(string); ok && v != "" {
		return v, true
	}
	return "", false
}

func (r *TenantResolver) lookup(ctx context.Context, sel string) (*model.Tenant, error) {
	if id, err := strconv.ParseUint(sel, 10, 64); err == nil {
		return r.dir.ActiveTenant(ctx, uint(id))
	}
	return r.dir.ActiveTenantByCode(ctx, sel)
}

func (r *TenantResolver) remember(c echo.Context, tenant *model.Tenant) error {
	if r.store == nil {
		return nil
	}
	sess, err := r.store.Get(c.Request(), r.sessionName)
	if sess == nil {
		return err
	}
	// a cookie signed with an old key yields a fresh session and an error
	sess.Values[sessionTenantKey] = strconv.FormatUint(uint64(tenant.ID), 10)
	return sess.Save(c.Request(), c.Response())
}

func deny(c echo.Context, outcome, msg string) error {
	prometheus.RecordTenantResolution(outcome)
	return c.JSON(http.StatusForbidden, echo.Map{"error": msg})
}

// Middleware resolves the tenant for authenticated requests. Privileged
// callers may act without a tenant and are never rejected for a bad
// selector; everyone else must name an active tenant they are a member of.
func (r *TenantResolver) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := PrincipalFrom(c)
			if p == nil {
				return next(c)
			}
			log := logger.FromContext(c)
			ctx := c.Request().Context()
			privileged := authz.Privileged(p)

			sel, fromSession := r.selector(c)
			tc := &authz.TenantContext{Principal: p}

			switch {
			case sel == "" && privileged:
				prometheus.RecordTenantResolution("bypass")
			case sel == "":
				log.Info("Request without tenant context")
				return deny(c, "missing", MsgTenantRequired)
			default:
				tenant, err := r.lookup(ctx, sel)
				if err != nil {
					if privileged {
						log.Debug("Ignoring unknown tenant for privileged user", zap.String("tenant", sel))
						prometheus.RecordTenantResolution("bypass")
						break
					}
					log.Info("Unknown or inactive tenant", zap.String("tenant", sel), zap.Error(err))
					return deny(c, "invalid", MsgInvalidTenant)
				}
				if !privileged {
					ok, err := r.dir.IsActiveMember(ctx, p.UserID, tenant.ID)
					if err != nil {
						log.Error("Membership lookup failed", zap.Uint("tenant_id", tenant.ID), zap.Error(err))
						return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to resolve tenant"})
					}
					if !ok {
						log.Info("User is not a member of tenant", zap.Uint("tenant_id", tenant.ID))
						return deny(c, "forbidden", MsgTenantNotAllowed)
					}
				}
				tc.Tenant = tenant
				if !fromSession {
					if err := r.remember(c, tenant); err != nil {
						log.Warn("Failed to store active tenant in session", zap.Error(err))
					}
				}
				prometheus.RecordTenantResolution("resolved")
			}

			c.Set(TenantContextKey, tc)
			c.SetRequest(c.Request().WithContext(authz.WithTenantContext(c.Request().Context(), tc)))
			if tc.Tenant != nil {
				logger.Attach(c, log.With(zap.Uint("tenant_id", tc.Tenant.ID)))
			}
			return next(c)
		}
	}
}
