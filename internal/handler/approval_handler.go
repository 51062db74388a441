package handler

import (
	"net/http"

	"github.com/AviOnlineSec/cra/internal/middleware"
	"github.com/AviOnlineSec/cra/internal/service"
	"github.com/labstack/echo/v4"
)

// ListApprovals returns registration approvals, optionally filtered by ?status
func (h *Handler) ListApprovals(c echo.Context) error {
	approvals, err := h.Approvals.List(c.Request().Context(), middleware.PrincipalFrom(c), c.QueryParam("status"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, approvals)
}

// GetApproval returns one approval record
func (h *Handler) GetApproval(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	approval, err := h.Approvals.Get(c.Request().Context(), middleware.PrincipalFrom(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, approval)
}

type openApprovalRequest struct {
	UserID uint `json:"user_id" validate:"required"`
}

// OpenApproval creates a pending approval for an existing user
func (h *Handler) OpenApproval(c echo.Context) error {
	var req openApprovalRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	approval, err := h.Approvals.Open(c.Request().Context(), middleware.PrincipalFrom(c), req.UserID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, approval)
}

type decisionRequest struct {
	UserID          uint   `json:"user_id" validate:"required"`
	Action          string `json:"action" validate:"required,oneof=approve reject"`
	RejectionReason string `json:"rejection_reason"`
}

// ApproveUser approves or rejects a pending registration
func (h *Handler) ApproveUser(c echo.Context) error {
	var req decisionRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	result, err := h.Approvals.Decide(c.Request().Context(), middleware.PrincipalFrom(c), service.Decision{
		UserID:          req.UserID,
		Action:          req.Action,
		RejectionReason: req.RejectionReason,
	})
	if err != nil {
		return respondError(c, err)
	}

	if req.Action == service.ActionApprove {
		return c.JSON(http.StatusOK, echo.Map{
			"message":            "User approved successfully",
			"approval":           result.Approval,
			"temporary_password": result.TemporaryPassword,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message":  "User rejected",
		"approval": result.Approval,
	})
}
