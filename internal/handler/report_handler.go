package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/AviOnlineSec/cra/internal/middleware"
	"github.com/labstack/echo/v4"
)

const dateLayout = "2006-01-02"

// MonthlyReport counts assessments per month between ?start_date and
// ?end_date (YYYY-MM-DD, inclusive)
func (h *Handler) MonthlyReport(c echo.Context) error {
	startParam, endParam := c.QueryParam("start_date"), c.QueryParam("end_date")
	if startParam == "" || endParam == "" {
		return respondError(c, badRequest("start_date and end_date are required"))
	}
	start, err := time.Parse(dateLayout, startParam)
	if err != nil {
		return respondError(c, badRequest("Invalid date format. Use YYYY-MM-DD"))
	}
	end, err := time.Parse(dateLayout, endParam)
	if err != nil {
		return respondError(c, badRequest("Invalid date format. Use YYYY-MM-DD"))
	}

	report, err := h.Reports.Monthly(c.Request().Context(), middleware.TenantContextFrom(c), start, end)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

// YearlyReport counts assessments per year between ?start_year and ?end_year
func (h *Handler) YearlyReport(c echo.Context) error {
	startParam, endParam := c.QueryParam("start_year"), c.QueryParam("end_year")
	if startParam == "" || endParam == "" {
		return respondError(c, badRequest("start_year and end_year are required"))
	}
	startYear, err := strconv.Atoi(startParam)
	if err != nil || startYear < 1 || startYear > 9999 {
		return respondError(c, badRequest("Invalid year format. Use YYYY"))
	}
	endYear, err := strconv.Atoi(endParam)
	if err != nil || endYear < 1 || endYear > 9999 {
		return respondError(c, badRequest("Invalid year format. Use YYYY"))
	}

	start := time.Date(startYear, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(endYear, time.December, 31, 0, 0, 0, 0, time.UTC)
	report, err := h.Reports.Yearly(c.Request().Context(), middleware.TenantContextFrom(c), start, end)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, report)
}
