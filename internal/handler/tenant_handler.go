package handler

import (
	"net/http"

	"github.com/AviOnlineSec/cra/internal/middleware"
	"github.com/AviOnlineSec/cra/internal/model"
	"github.com/AviOnlineSec/cra/internal/service"
	"github.com/AviOnlineSec/cra/pkg/logger"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// ListTenants returns the tenants visible to the caller
func (h *Handler) ListTenants(c echo.Context) error {
	tenants, err := h.Tenants.ListVisible(c.Request().Context(), middleware.PrincipalFrom(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, tenants)
}

// MyTenants returns the caller's memberships
func (h *Handler) MyTenants(c echo.Context) error {
	memberships, err := h.Tenants.Memberships(c.Request().Context(), middleware.PrincipalFrom(c).UserID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, memberships)
}

type createTenantRequest struct {
	Name     string           `json:"name" validate:"required,max=255"`
	Code     string           `json:"code" validate:"required,max=50"`
	Kind     model.TenantKind `json:"kind"`
	Address  string           `json:"address"`
	Phone    string           `json:"phone" validate:"max=30"`
	Email    string           `json:"email" validate:"omitempty,email"`
	Settings datatypes.JSON   `json:"settings"`
}

// CreateTenant adds a tenant
func (h *Handler) CreateTenant(c echo.Context) error {
	log := logger.FromContext(c)

	var req createTenantRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	tenant, err := h.Tenants.Create(c.Request().Context(), middleware.PrincipalFrom(c), service.TenantInput{
		Name:     req.Name,
		Code:     req.Code,
		Kind:     req.Kind,
		Address:  req.Address,
		Phone:    req.Phone,
		Email:    req.Email,
		Settings: req.Settings,
	})
	if err != nil {
		log.Info("Failed to create tenant", zap.String("code", req.Code), zap.Error(err))
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, tenant)
}

type membershipRequest struct {
	UserID uint   `json:"user_id" validate:"required"`
	Role   string `json:"role" validate:"max=50"`
}

// AddMembership grants a user access to a tenant, reactivating a disabled
// membership
func (h *Handler) AddMembership(c echo.Context) error {
	tenantID, err := idParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var req membershipRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	membership, err := h.Tenants.AddMember(c.Request().Context(), middleware.PrincipalFrom(c), tenantID, req.UserID, req.Role)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, membership)
}

// DisableMembership deactivates a membership
func (h *Handler) DisableMembership(c echo.Context) error {
	tenantID, err := idParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	userID, err := idParam(c, "user_id")
	if err != nil {
		return respondError(c, err)
	}
	if err := h.Tenants.DisableMember(c.Request().Context(), middleware.PrincipalFrom(c), tenantID, userID); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
