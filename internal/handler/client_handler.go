package handler

import (
	"net/http"
	"strconv"

	"github.com/AviOnlineSec/cra/internal/middleware"
	"github.com/AviOnlineSec/cra/internal/model"
	"github.com/AviOnlineSec/cra/internal/service"
	"github.com/AviOnlineSec/cra/pkg/logger"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type clientRequest struct {
	ClientType       model.ClientType `json:"client_type" validate:"required"`
	TenantID         *uint            `json:"tenant_id"`
	FullName         string           `json:"full_name" validate:"max=255"`
	NationalID       string           `json:"national_id" validate:"max=50"`
	CorporateName    string           `json:"corporate_name" validate:"max=255"`
	UBO              string           `json:"ubo" validate:"max=255"`
	NatureOfBusiness string           `json:"nature_of_business" validate:"max=255"`
	BRN              string           `json:"brn" validate:"max=100"`
	VAT              string           `json:"vat" validate:"max=100"`
	Email            string           `json:"email" validate:"max=254"`
	Phone            string           `json:"phone" validate:"max=30"`
	Address          string           `json:"address"`
	City             string           `json:"city" validate:"max=100"`
}

func (r *clientRequest) input() service.ClientInput {
	return service.ClientInput{
		ClientType:       r.ClientType,
		TenantID:         r.TenantID,
		FullName:         r.FullName,
		NationalID:       r.NationalID,
		CorporateName:    r.CorporateName,
		UBO:              r.UBO,
		NatureOfBusiness: r.NatureOfBusiness,
		BRN:              r.BRN,
		VAT:              r.VAT,
		Email:            r.Email,
		Phone:            r.Phone,
		Address:          r.Address,
		City:             r.City,
	}
}

func clientRequestFrom(c *model.Client) clientRequest {
	return clientRequest{
		ClientType:       c.ClientType,
		FullName:         c.FullName,
		NationalID:       c.NationalID,
		CorporateName:    c.CorporateName,
		UBO:              c.UBO,
		NatureOfBusiness: c.NatureOfBusiness,
		BRN:              c.BRN,
		VAT:              c.VAT,
		Email:            c.Email,
		Phone:            c.Phone,
		Address:          c.Address,
		City:             c.City,
	}
}

// ListClients returns clients of the active tenant. Supports ?search,
// ?client_type and, for callers without a tenant, ?tenant.
func (h *Handler) ListClients(c echo.Context) error {
	f := service.ClientFilter{
		Search:     c.QueryParam("search"),
		ClientType: c.QueryParam("client_type"),
	}
	if id, ok := uintQuery(c, "tenant"); ok {
		f.TenantID = &id
	}
	clients, err := h.Clients.List(c.Request().Context(), middleware.TenantContextFrom(c), f)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, clients)
}

// GetClient returns one client
func (h *Handler) GetClient(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	client, err := h.Clients.Get(c.Request().Context(), middleware.TenantContextFrom(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, client)
}

// CreateClient adds a client to the active tenant and assigns its reference
func (h *Handler) CreateClient(c echo.Context) error {
	var req clientRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	client, err := h.Clients.Create(c.Request().Context(), middleware.TenantContextFrom(c), req.input())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, client)
}

// UpdateClient changes the writable fields of a client. Fields missing from
// the body keep their current values.
func (h *Handler) UpdateClient(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	ctx := c.Request().Context()
	tc := middleware.TenantContextFrom(c)

	current, err := h.Clients.Get(ctx, tc, id)
	if err != nil {
		return respondError(c, err)
	}
	req := clientRequestFrom(current)
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	client, err := h.Clients.Update(ctx, tc, id, req.input())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, client)
}

// DeleteClient removes a client with its documents and assessments
func (h *Handler) DeleteClient(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	if err := h.Clients.Delete(c.Request().Context(), middleware.TenantContextFrom(c), id); err != nil {
		return respondError(c, err)
	}
	logger.FromContext(c).Info("Client deleted", zap.Uint("client_id", id))
	return c.NoContent(http.StatusNoContent)
}

// ImportExternalClients previews external clients, or imports them into the
// active tenant when ?import=true
func (h *Handler) ImportExternalClients(c echo.Context) error {
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return respondError(c, badRequest("invalid limit"))
		}
		limit = n
	}
	doImport, _ := strconv.ParseBool(c.QueryParam("import"))

	result, err := h.Clients.ImportExternal(c.Request().Context(), middleware.TenantContextFrom(c), limit, doImport)
	if err != nil {
		return respondError(c, err)
	}
	if doImport {
		logger.FromContext(c).Info("External clients imported",
			zap.Int("fetched", result.Fetched),
			zap.Int("imported", result.Imported),
			zap.Int("skipped", result.Skipped))
	}
	return c.JSON(http.StatusOK, result)
}

type pushResultRequest struct {
	ClientID        uint                   `json:"client_id"`
	ClientReference string                 `json:"client_reference"`
	TotalScore      int                    `json:"total_score" validate:"gte=0"`
	RiskLevel       model.RiskLevel        `json:"risk_level"`
	Status          model.AssessmentStatus `json:"status"`
	Data            datatypes.JSONMap      `json:"data"`
}

// PushClientResults records an assessment for a client and forwards it to the
// external database
func (h *Handler) PushClientResults(c echo.Context) error {
	var req pushResultRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	out, err := h.Clients.PushResults(c.Request().Context(), middleware.TenantContextFrom(c), service.PushResultInput{
		ClientID:        req.ClientID,
		ClientReference: req.ClientReference,
		TotalScore:      req.TotalScore,
		RiskLevel:       req.RiskLevel,
		Status:          req.Status,
		Data:            req.Data,
	})
	if err != nil {
		return respondError(c, err)
	}
	if !out.ExternalPushed {
		logger.FromContext(c).Warn("External push failed",
			zap.Uint("assessment_id", out.Assessment.ID),
			zap.String("error", out.ExternalError))
	}
	return c.JSON(http.StatusCreated, out)
}
