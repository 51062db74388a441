package handler

import (
	"net/http"

	"github.com/AviOnlineSec/cra/internal/middleware"
	"github.com/AviOnlineSec/cra/internal/model"
	"github.com/AviOnlineSec/cra/internal/service"
	"github.com/labstack/echo/v4"
)

type categoryRequest struct {
	Name         string `json:"name" validate:"required,max=200"`
	Description  string `json:"description"`
	DisplayOrder int    `json:"display_order"`
}

func (r *categoryRequest) input() service.CategoryInput {
	return service.CategoryInput{Name: r.Name, Description: r.Description, DisplayOrder: r.DisplayOrder}
}

// ListCategories returns the questionnaire with questions and options in
// display order
func (h *Handler) ListCategories(c echo.Context) error {
	categories, err := h.Catalog.ListCategories(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, categories)
}

func (h *Handler) GetCategory(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	category, err := h.Catalog.GetCategory(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, category)
}

func (h *Handler) CreateCategory(c echo.Context) error {
	var req categoryRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	category, err := h.Catalog.CreateCategory(c.Request().Context(), middleware.PrincipalFrom(c), req.input())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, category)
}

func (h *Handler) UpdateCategory(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	ctx := c.Request().Context()
	current, err := h.Catalog.GetCategory(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	req := categoryRequest{Name: current.Name, Description: current.Description, DisplayOrder: current.DisplayOrder}
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	category, err := h.Catalog.UpdateCategory(ctx, middleware.PrincipalFrom(c), id, req.input())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, category)
}

// DeleteCategory removes a category with its questions, options and answers
func (h *Handler) DeleteCategory(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	if err := h.Catalog.DeleteCategory(c.Request().Context(), middleware.PrincipalFrom(c), id); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type optionRequest struct {
	Text         string `json:"text" validate:"required,max=500"`
	Score        int    `json:"score"`
	DisplayOrder int    `json:"display_order"`
}

type questionRequest struct {
	CategoryID   uint            `json:"category_id" validate:"required"`
	Text         string          `json:"text" validate:"required"`
	FieldType    model.FieldType `json:"field_type"`
	DisplayOrder int             `json:"display_order"`
	Required     bool            `json:"required"`
	Options      []optionRequest `json:"options" validate:"dive"`
}

func (r *questionRequest) input() service.QuestionInput {
	in := service.QuestionInput{
		CategoryID:   r.CategoryID,
		Text:         r.Text,
		FieldType:    r.FieldType,
		DisplayOrder: r.DisplayOrder,
		Required:     r.Required,
		Options:      make([]service.OptionInput, 0, len(r.Options)),
	}
	for _, o := range r.Options {
		in.Options = append(in.Options, service.OptionInput{Text: o.Text, Score: o.Score, DisplayOrder: o.DisplayOrder})
	}
	return in
}

// ListQuestions returns questions in display order, optionally of ?category
func (h *Handler) ListQuestions(c echo.Context) error {
	categoryID, _ := uintQuery(c, "category")
	questions, err := h.Catalog.ListQuestions(c.Request().Context(), categoryID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, questions)
}

func (h *Handler) GetQuestion(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	question, err := h.Catalog.GetQuestion(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, question)
}

// CreateQuestion adds a question with its nested options
func (h *Handler) CreateQuestion(c echo.Context) error {
	var req questionRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	question, err := h.Catalog.CreateQuestion(c.Request().Context(), middleware.PrincipalFrom(c), req.input())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, question)
}

// UpdateQuestion changes a question. When options are sent they replace the
// existing ones.
func (h *Handler) UpdateQuestion(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	ctx := c.Request().Context()
	current, err := h.Catalog.GetQuestion(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	req := questionRequest{
		CategoryID:   current.CategoryID,
		Text:         current.Text,
		FieldType:    current.FieldType,
		DisplayOrder: current.DisplayOrder,
		Required:     current.Required,
	}
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	if req.Options == nil {
		for _, o := range current.Options {
			req.Options = append(req.Options, optionRequest{Text: o.Text, Score: o.Score, DisplayOrder: o.DisplayOrder})
		}
	}
	question, err := h.Catalog.UpdateQuestion(ctx, middleware.PrincipalFrom(c), id, req.input())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, question)
}

func (h *Handler) DeleteQuestion(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	if err := h.Catalog.DeleteQuestion(c.Request().Context(), middleware.PrincipalFrom(c), id); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
