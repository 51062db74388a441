package handler

import (
	"net/http"

	"github.com/AviOnlineSec/cra/internal/middleware"
	"github.com/AviOnlineSec/cra/internal/model"
	"github.com/AviOnlineSec/cra/internal/service"
	"github.com/AviOnlineSec/cra/pkg/logger"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type assessmentRequest struct {
	ClientID   uint                   `json:"client_id"`
	Status     model.AssessmentStatus `json:"status"`
	RiskLevel  *model.RiskLevel       `json:"risk_level"`
	TotalScore int                    `json:"total_score" validate:"gte=0"`
}

func (r *assessmentRequest) input() service.AssessmentInput {
	return service.AssessmentInput{
		ClientID:   r.ClientID,
		Status:     r.Status,
		RiskLevel:  r.RiskLevel,
		TotalScore: r.TotalScore,
	}
}

// ListAssessments returns assessments, filtered by ?client and ?status
func (h *Handler) ListAssessments(c echo.Context) error {
	f := service.AssessmentFilter{Status: c.QueryParam("status")}
	f.ClientID, _ = uintQuery(c, "client")
	assessments, err := h.Assessments.List(c.Request().Context(), middleware.TenantContextFrom(c), f)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, assessments)
}

func (h *Handler) GetAssessment(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	a, err := h.Assessments.Get(c.Request().Context(), middleware.TenantContextFrom(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) CreateAssessment(c echo.Context) error {
	var req assessmentRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	a, err := h.Assessments.Create(c.Request().Context(), middleware.TenantContextFrom(c), req.input())
	if err != nil {
		return respondError(c, err)
	}
	logger.FromContext(c).Info("Assessment created", zap.Uint("assessment_id", a.ID), zap.Uint("client_id", a.ClientID))
	return c.JSON(http.StatusCreated, a)
}

// UpdateAssessment changes status, risk level or score. Approving or
// rejecting needs the review capability.
func (h *Handler) UpdateAssessment(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	ctx := c.Request().Context()
	tc := middleware.TenantContextFrom(c)
	current, err := h.Assessments.Get(ctx, tc, id)
	if err != nil {
		return respondError(c, err)
	}
	req := assessmentRequest{
		ClientID:   current.ClientID,
		Status:     current.Status,
		RiskLevel:  current.RiskLevel,
		TotalScore: current.TotalScore,
	}
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	a, err := h.Assessments.Update(ctx, tc, id, req.input())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) DeleteAssessment(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	if err := h.Assessments.Delete(c.Request().Context(), middleware.TenantContextFrom(c), id); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// PushAssessment writes an assessment to the external results table
func (h *Handler) PushAssessment(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	out, err := h.Assessments.PushExternal(c.Request().Context(), middleware.TenantContextFrom(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

type answerRequest struct {
	AssessmentID  uint   `json:"assessment_id"`
	QuestionID    uint   `json:"question_id" validate:"required"`
	SelectedValue string `json:"selected_value"`
	ScoreValue    int    `json:"score_value"`
}

func (r *answerRequest) input() service.AnswerInput {
	return service.AnswerInput{
		AssessmentID:  r.AssessmentID,
		QuestionID:    r.QuestionID,
		SelectedValue: r.SelectedValue,
		ScoreValue:    r.ScoreValue,
	}
}

func answerInputs(reqs []answerRequest) []service.AnswerInput {
	out := make([]service.AnswerInput, 0, len(reqs))
	for i := range reqs {
		out = append(out, reqs[i].input())
	}
	return out
}

// validateAnswers runs the struct validator on every element of a batch
func validateAnswers(c echo.Context, reqs []answerRequest) error {
	for i := range reqs {
		if err := c.Validate(&reqs[i]); err != nil {
			return err
		}
	}
	return nil
}

// ListAnswers returns answers in question display order, optionally of ?assessment
func (h *Handler) ListAnswers(c echo.Context) error {
	assessmentID, _ := uintQuery(c, "assessment")
	answers, err := h.Assessments.ListAnswers(c.Request().Context(), middleware.TenantContextFrom(c), assessmentID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, answers)
}

func (h *Handler) GetAnswer(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	answer, err := h.Assessments.GetAnswer(c.Request().Context(), middleware.TenantContextFrom(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, answer)
}

func (h *Handler) CreateAnswer(c echo.Context) error {
	var req answerRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	answer, err := h.Assessments.CreateAnswer(c.Request().Context(), middleware.TenantContextFrom(c), req.input())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, answer)
}

func (h *Handler) UpdateAnswer(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	ctx := c.Request().Context()
	tc := middleware.TenantContextFrom(c)
	current, err := h.Assessments.GetAnswer(ctx, tc, id)
	if err != nil {
		return respondError(c, err)
	}
	req := answerRequest{
		AssessmentID:  current.AssessmentID,
		QuestionID:    current.QuestionID,
		SelectedValue: current.SelectedValue,
		ScoreValue:    current.ScoreValue,
	}
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	answer, err := h.Assessments.UpdateAnswer(ctx, tc, id, req.input())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, answer)
}

func (h *Handler) DeleteAnswer(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	if err := h.Assessments.DeleteAnswer(c.Request().Context(), middleware.TenantContextFrom(c), id); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// BulkCreateAnswers inserts a JSON array of answers in one transaction
func (h *Handler) BulkCreateAnswers(c echo.Context) error {
	var reqs []answerRequest
	if err := c.Bind(&reqs); err != nil {
		return respondError(c, badRequest("Expected a list of answers."))
	}
	if err := validateAnswers(c, reqs); err != nil {
		return respondError(c, err)
	}
	rows, err := h.Assessments.BulkCreateAnswers(c.Request().Context(), middleware.TenantContextFrom(c), answerInputs(reqs))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"created": len(rows), "answers": rows})
}

type replaceAnswersRequest struct {
	AssessmentID uint            `json:"assessment_id" validate:"required"`
	Answers      []answerRequest `json:"answers"`
}

// ReplaceAnswers swaps the whole answer set of an assessment
func (h *Handler) ReplaceAnswers(c echo.Context) error {
	var req replaceAnswersRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, badRequest("Provide assessment_id and answers list."))
	}
	if req.AssessmentID == 0 || req.Answers == nil {
		return respondError(c, badRequest("Provide assessment_id and answers list."))
	}
	if err := validateAnswers(c, req.Answers); err != nil {
		return respondError(c, err)
	}
	rows, err := h.Assessments.ReplaceAnswers(c.Request().Context(), middleware.TenantContextFrom(c), req.AssessmentID, answerInputs(req.Answers))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"replaced": len(rows), "answers": rows})
}
