package handler

import (
	"errors"
	"mime"
	"net/http"
	"strconv"

	"github.com/AviOnlineSec/cra/internal/middleware"
	"github.com/AviOnlineSec/cra/internal/service"
	"github.com/AviOnlineSec/cra/pkg/logger"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// ListDocuments returns KYC documents, optionally for ?client
func (h *Handler) ListDocuments(c echo.Context) error {
	clientID, _ := uintQuery(c, "client")
	docs, err := h.Documents.List(c.Request().Context(), middleware.TenantContextFrom(c), clientID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, docs)
}

// GetDocument returns one document record
func (h *Handler) GetDocument(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	doc, err := h.Documents.Get(c.Request().Context(), middleware.TenantContextFrom(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, doc)
}

// UploadDocument accepts a multipart form with "client" and "file"
func (h *Handler) UploadDocument(c echo.Context) error {
	log := logger.FromContext(c)

	if h.MaxUploadBytes > 0 {
		// leave room for the other form fields
		c.Request().Body = http.MaxBytesReader(c.Response(), c.Request().Body, h.MaxUploadBytes+1<<20)
	}

	clientID, _ := strconv.ParseUint(c.FormValue("client"), 10, 64)
	fh, err := c.FormFile("file")
	if err != nil && !errors.Is(err, http.ErrMissingFile) {
		log.Debug("Failed to read upload", zap.Error(err))
		return respondError(c, badRequest("invalid multipart form"))
	}

	up := service.Upload{ClientID: uint(clientID)}
	if fh != nil {
		f, err := fh.Open()
		if err != nil {
			return respondError(c, err)
		}
		defer f.Close()
		up.Filename = fh.Filename
		up.ContentType = fh.Header.Get(echo.HeaderContentType)
		up.Size = fh.Size
		up.Body = f
	}

	doc, err := h.Documents.Create(c.Request().Context(), middleware.TenantContextFrom(c), up)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, doc)
}

// DownloadDocument streams the stored file
func (h *Handler) DownloadDocument(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	doc, rc, err := h.Documents.Open(c.Request().Context(), middleware.TenantContextFrom(c), id)
	if err != nil {
		return respondError(c, err)
	}
	defer rc.Close()

	c.Response().Header().Set(echo.HeaderContentDisposition,
		mime.FormatMediaType("attachment", map[string]string{"filename": doc.OriginalName}))
	return c.Stream(http.StatusOK, doc.ContentType, rc)
}

// DeleteDocument removes a document and its stored file
func (h *Handler) DeleteDocument(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	if err := h.Documents.Delete(c.Request().Context(), middleware.TenantContextFrom(c), id); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
