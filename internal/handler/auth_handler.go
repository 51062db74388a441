package handler

import (
	"net/http"

	"github.com/AviOnlineSec/cra/internal/middleware"
	"github.com/AviOnlineSec/cra/internal/model"
	"github.com/AviOnlineSec/cra/internal/service"
	"github.com/AviOnlineSec/cra/pkg/logger"
	"github.com/AviOnlineSec/cra/prometheus"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type tokenRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password" validate:"required"`
}

// Token exchanges credentials for an access and refresh token
func (h *Handler) Token(c echo.Context) error {
	log := logger.FromContext(c)

	var req tokenRequest
	if err := bind(c, &req); err != nil {
		prometheus.RecordAuthError("invalid_request")
		return respondError(c, err)
	}
	login := req.Email
	if login == "" {
		login = req.Username
	}

	pair, user, err := h.Identity.Authenticate(c.Request().Context(), login, req.Password)
	if err != nil {
		prometheus.RecordLogin(false)
		log.Info("Login failed", zap.String("login", login), zap.Error(err))
		return respondError(c, err)
	}
	prometheus.RecordLogin(true)
	log.Info("User logged in", zap.Uint("user_id", user.ID), zap.String("role", string(user.Role)))

	return c.JSON(http.StatusOK, echo.Map{
		"access":               pair.Access,
		"refresh":              pair.Refresh,
		"must_change_password": user.MustChangePassword,
		"user":                 userView(user),
	})
}

type refreshRequest struct {
	Refresh string `json:"refresh" validate:"required"`
}

// RefreshToken issues a new access token
func (h *Handler) RefreshToken(c echo.Context) error {
	var req refreshRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	access, err := h.Identity.Refresh(c.Request().Context(), req.Refresh)
	if err != nil {
		prometheus.RecordAuthError("invalid_refresh")
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"access": access})
}

type verifyRequest struct {
	Token string `json:"token" validate:"required"`
}

// VerifyToken reports whether a token is valid
func (h *Handler) VerifyToken(c echo.Context) error {
	var req verifyRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	if err := h.Identity.Verify(req.Token); err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "token is invalid or expired"})
	}
	return c.JSON(http.StatusOK, echo.Map{})
}

type registerRequest struct {
	Email           string `json:"email" validate:"required,email"`
	Username        string `json:"username" validate:"omitempty,max=150"`
	FirstName       string `json:"first_name" validate:"max=150"`
	LastName        string `json:"last_name" validate:"max=150"`
	PhoneNumber     string `json:"phone_number" validate:"max=30"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" validate:"required"`
}

// Register creates a pending account
func (h *Handler) Register(c echo.Context) error {
	var req registerRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	user, err := h.Identity.Register(c.Request().Context(), service.RegisterInput{
		Email:           req.Email,
		Username:        req.Username,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		PhoneNumber:     req.PhoneNumber,
		Password:        req.Password,
		PasswordConfirm: req.PasswordConfirm,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"message": "Registration received. Your account is pending approval.",
		"email":   user.Email,
		"user":    userView(user),
	})
}

// Me returns the caller's profile and memberships
func (h *Handler) Me(c echo.Context) error {
	p := middleware.PrincipalFrom(c)
	ctx := c.Request().Context()
	user, err := h.Identity.Profile(ctx, p.UserID)
	if err != nil {
		return respondError(c, err)
	}
	memberships, err := h.Tenants.Memberships(ctx, user.ID)
	if err != nil {
		return respondError(c, err)
	}
	view := userView(user)
	view["memberships"] = memberships
	return c.JSON(http.StatusOK, view)
}

type changePasswordRequest struct {
	OldPassword     string `json:"old_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
	ConfirmPassword string `json:"new_password_confirm" validate:"required"`
}

// ChangePassword replaces the caller's password
func (h *Handler) ChangePassword(c echo.Context) error {
	var req changePasswordRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	p := middleware.PrincipalFrom(c)
	err := h.Identity.ChangePassword(c.Request().Context(), p.UserID, service.ChangePasswordInput{
		OldPassword:     req.OldPassword,
		NewPassword:     req.NewPassword,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Password changed successfully."})
}

func userView(u *model.User) echo.Map {
	return echo.Map{
		"id":                   u.ID,
		"username":             u.Username,
		"email":                u.Email,
		"first_name":           u.FirstName,
		"last_name":            u.LastName,
		"name":                 u.DisplayName(),
		"role":                 u.Role,
		"is_superuser":         u.IsSuperuser,
		"tenant_id":            u.TenantID,
		"is_active":            u.IsActive,
		"is_approved":          u.IsApproved,
		"must_change_password": u.MustChangePassword,
		"phone_number":         u.PhoneNumber,
		"registration_date":    u.RegistrationDate,
	}
}
