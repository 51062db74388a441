// Package handler exposes the services over HTTP with echo.
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/AviOnlineSec/cra/internal/service"
	"github.com/AviOnlineSec/cra/pkg/logger"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Handler holds the services behind the HTTP routes
type Handler struct {
	Identity    *service.IdentityService
	Approvals   *service.ApprovalService
	Tenants     *service.TenantService
	Clients     *service.ClientService
	Documents   *service.DocumentService
	Catalog     *service.CatalogService
	Assessments *service.AssessmentService
	Reports     *service.ReportService

	// MaxUploadBytes bounds multipart uploads; zero means no limit
	MaxUploadBytes int64
}

// badRequestError is a malformed request rejected before reaching a service
type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

func badRequest(msg string) error {
	return &badRequestError{msg: msg}
}

// respondError maps service errors to status codes. Unknown errors are
// logged and reported as 500.
func respondError(c echo.Context, err error) error {
	var verr *service.ValidationError
	var herr *echo.HTTPError
	var breq *badRequestError
	switch {
	case errors.As(err, &breq):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": breq.msg})
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": verr.Error(), "fields": verr.Fields})
	case errors.As(err, &herr):
		return herr
	case errors.Is(err, service.ErrInvalidCredentials):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrMirrorDisabled):
		return c.JSON(http.StatusNotImplemented, echo.Map{"error": err.Error(), "enabled": false})
	}
	logger.FromContext(c).Error("Request failed", zap.Error(err))
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
}

// bind decodes the request body into v and runs the struct validator
func bind(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		logger.FromContext(c).Debug("Failed to parse request", zap.Error(err))
		return badRequest("invalid request")
	}
	return c.Validate(v)
}

// idParam reads a positive integer path parameter
func idParam(c echo.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, badRequest("invalid " + name)
	}
	return uint(id), nil
}

// uintQuery reads an optional positive integer query parameter
func uintQuery(c echo.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.QueryParam(name), 10, 64)
	if err != nil {
		return 0, false
	}
	return uint(v), true
}
