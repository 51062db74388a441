package service

import (
	"context"
	"errors"
	"time"

	"github.com/AviOnlineSec/cra/internal/authz"
	"github.com/AviOnlineSec/cra/internal/model"
	"github.com/AviOnlineSec/cra/pkg/logger"
	"github.com/AviOnlineSec/cra/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AssessmentService runs questionnaires against clients and records answers
type AssessmentService struct {
	db     *gorm.DB
	mirror ExternalMirror
	now    func() time.Time
}

// NewAssessmentService creates an assessment service
func NewAssessmentService(db *gorm.DB, m ExternalMirror) *AssessmentService {
	return &AssessmentService{db: db, mirror: m, now: time.Now}
}

func scopedAssessments(db *gorm.DB, tc *authz.TenantContext) (*gorm.DB, error) {
	q := db.Model(&model.Assessment{}).
		Joins("JOIN clients ON clients.id = assessments.client_id")
	return scopedClients(q, tc)
}

func scopedAnswers(db *gorm.DB, tc *authz.TenantContext) (*gorm.DB, error) {
	q := db.Model(&model.AssessmentAnswer{}).
		Joins("JOIN assessments ON assessments.id = assessment_answers.assessment_id").
		Joins("JOIN clients ON clients.id = assessments.client_id")
	return scopedClients(q, tc)
}

func orderedAnswers(db *gorm.DB) *gorm.DB {
	return db.Joins("JOIN questions ON questions.id = assessment_answers.question_id").
		Order("questions.display_order").
		Order("assessment_answers.question_id").
		Order("assessment_answers.id")
}

// AssessmentFilter narrows an assessment listing
type AssessmentFilter struct {
	ClientID uint
	Status   string
}

// List returns the caller's assessments, latest submission first
func (s *AssessmentService) List(ctx context.Context, tc *authz.TenantContext, f AssessmentFilter) ([]model.Assessment, error) {
	q, err := scopedAssessments(s.db.WithContext(ctx), tc)
	if err != nil {
		return nil, err
	}
	if f.ClientID != 0 {
		q = q.Where("assessments.client_id = ?", f.ClientID)
	}
	if f.Status != "" {
		q = q.Where("assessments.status = ?", f.Status)
	}
	var assessments []model.Assessment
	err = q.Preload("Client").
		Order("assessments.submitted_at DESC").Order("assessments.id DESC").
		Find(&assessments).Error
	if err != nil {
		return nil, err
	}
	return assessments, nil
}

// Get returns an assessment with its client and ordered answers
func (s *AssessmentService) Get(ctx context.Context, tc *authz.TenantContext, id uint) (*model.Assessment, error) {
	return getAssessment(s.db.WithContext(ctx), tc, id)
}

func getAssessment(db *gorm.DB, tc *authz.TenantContext, id uint) (*model.Assessment, error) {
	q, err := scopedAssessments(db, tc)
	if err != nil {
		return nil, err
	}
	var a model.Assessment
	err = q.Preload("Client.Tenant").
		Preload("Answers", orderedAnswers).
		Where("assessments.id = ?", id).
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(ErrNotFound, "assessment %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// AssessmentInput holds the writable assessment fields. Submission time is
// set on create and never changes.
type AssessmentInput struct {
	ClientID   uint
	Status     model.AssessmentStatus
	RiskLevel  *model.RiskLevel
	TotalScore int
}

func (in *AssessmentInput) validate(tc *authz.TenantContext) error {
	verr := &ValidationError{}
	if in.ClientID == 0 {
		verr.Add("client", "This field is required.")
	}
	if in.Status == "" {
		in.Status = model.AssessmentPending
	}
	if !in.Status.Valid() {
		verr.Add("status", "Must be one of pending, submitted, approved, rejected.")
	}
	if in.RiskLevel != nil && *in.RiskLevel == "" {
		in.RiskLevel = nil
	}
	if in.RiskLevel != nil && !in.RiskLevel.Valid() {
		verr.Add("risk_level", "Must be one of low, medium, high.")
	}
	if in.TotalScore < 0 {
		verr.Add("total_score", "Must not be negative.")
	}
	if err := verr.OrNil(); err != nil {
		return err
	}
	if in.Status.Reviewed() && !tc.Can(authz.ReviewAssessments) {
		return newError(ErrForbidden, "you do not have permission to review assessments")
	}
	return nil
}

// ensureOpen rejects writes to an approved or rejected assessment unless the
// caller may review assessments
func ensureOpen(tc *authz.TenantContext, status model.AssessmentStatus) error {
	if status.Reviewed() && !tc.Can(authz.ReviewAssessments) {
		return newError(ErrForbidden, "assessment has been %s and can only be changed by a reviewer", status)
	}
	return nil
}

func assessmentStatus(tx *gorm.DB, id uint) (model.AssessmentStatus, error) {
	var a model.Assessment
	if err := tx.Model(&model.Assessment{}).Select("status").Where("id = ?", id).Take(&a).Error; err != nil {
		return "", err
	}
	return a.Status, nil
}

// Create starts an assessment for a client visible to the caller
func (s *AssessmentService) Create(ctx context.Context, tc *authz.TenantContext, in AssessmentInput) (*model.Assessment, error) {
	if err := in.validate(tc); err != nil {
		return nil, err
	}
	client, err := (&ClientService{db: s.db}).Get(ctx, tc, in.ClientID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, invalid("client", "Unknown client.")
		}
		return nil, err
	}

	a := &model.Assessment{
		ClientID:    client.ID,
		Status:      in.Status,
		RiskLevel:   in.RiskLevel,
		TotalScore:  in.TotalScore,
		SubmittedAt: s.now().UTC(),
	}
	if tc != nil && tc.Principal != nil {
		submitter := tc.Principal.UserID
		a.SubmittedByID = &submitter
	}
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		return nil, err
	}
	a.Client = client
	prometheus.RecordOperation("assessment_create")
	return a, nil
}

// Update changes status, risk level and score. The client and submission
// time of an assessment are fixed.
func (s *AssessmentService) Update(ctx context.Context, tc *authz.TenantContext, id uint, in AssessmentInput) (*model.Assessment, error) {
	a, err := s.Get(ctx, tc, id)
	if err != nil {
		return nil, err
	}
	if err := ensureOpen(tc, a.Status); err != nil {
		return nil, err
	}
	in.ClientID = a.ClientID
	if err := in.validate(tc); err != nil {
		return nil, err
	}

	a.Status, a.RiskLevel, a.TotalScore = in.Status, in.RiskLevel, in.TotalScore
	err = s.db.WithContext(ctx).Model(&model.Assessment{ID: a.ID}).
		Select("status", "risk_level", "total_score").
		Updates(&model.Assessment{Status: a.Status, RiskLevel: a.RiskLevel, TotalScore: a.TotalScore}).Error
	if err != nil {
		return nil, err
	}
	if a.Status.Reviewed() {
		logger.FromStdContext(ctx).Info("Assessment reviewed",
			zap.Uint("assessment_id", a.ID),
			zap.String("status", string(a.Status)))
	}
	return a, nil
}

// Delete removes an assessment and its answers
func (s *AssessmentService) Delete(ctx context.Context, tc *authz.TenantContext, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		a, err := getAssessment(tx, tc, id)
		if err != nil {
			return err
		}
		if err := tx.Where("assessment_id = ?", a.ID).Delete(&model.AssessmentAnswer{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Assessment{}, a.ID).Error
	})
}

// PushExternal writes an existing assessment to the external results table
func (s *AssessmentService) PushExternal(ctx context.Context, tc *authz.TenantContext, id uint) (*PushResultOutput, error) {
	if !tc.Can(authz.UseExternalMirror) {
		return nil, newError(ErrForbidden, "you do not have permission to use the external database")
	}
	if s.mirror == nil || !s.mirror.Enabled() {
		return nil, ErrMirrorDisabled
	}
	a, err := s.Get(ctx, tc, id)
	if err != nil {
		return nil, err
	}

	out := &PushResultOutput{Assessment: a}
	err = s.mirror.PushResult(ctx, resultFor(a, a.Client, nil))
	prometheus.RecordMirrorOperation("push_result", err)
	if err != nil {
		logger.FromStdContext(ctx).Warn("Failed to push assessment to external database",
			zap.Uint("assessment_id", a.ID), zap.Error(err))
		out.ExternalError = err.Error()
		return out, nil
	}
	out.ExternalPushed = true
	return out, nil
}

// AnswerInput is one answer to a question of an assessment
type AnswerInput struct {
	AssessmentID  uint
	QuestionID    uint
	SelectedValue string
	ScoreValue    int
}

// checkAnswers verifies that every answer targets a visible assessment and
// an existing question
func checkAnswers(tx *gorm.DB, tc *authz.TenantContext, answers []AnswerInput) error {
	verr := &ValidationError{}
	assessments := map[uint]bool{}
	questions := map[uint]bool{}
	for i := range answers {
		answers[i].SelectedValue = cleanText(answers[i].SelectedValue)
		if answers[i].AssessmentID == 0 {
			verr.Add("assessment", "This field is required.")
		} else {
			assessments[answers[i].AssessmentID] = true
		}
		if answers[i].QuestionID == 0 {
			verr.Add("question", "This field is required.")
		} else {
			questions[answers[i].QuestionID] = true
		}
	}
	if err := verr.OrNil(); err != nil {
		return err
	}

	for id := range assessments {
		q, err := scopedAssessments(tx, tc)
		if err != nil {
			return err
		}
		var a model.Assessment
		err = q.Select("assessments.id", "assessments.status").Where("assessments.id = ?", id).Take(&a).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return invalid("assessment", "Unknown assessment.")
		}
		if err != nil {
			return err
		}
		if err := ensureOpen(tc, a.Status); err != nil {
			return err
		}
	}

	ids := make([]uint, 0, len(questions))
	for id := range questions {
		ids = append(ids, id)
	}
	var count int64
	if err := tx.Model(&model.Question{}).Where("id IN ?", ids).Count(&count).Error; err != nil {
		return err
	}
	if int(count) != len(ids) {
		return invalid("question", "Unknown question.")
	}
	return nil
}

func answerRows(answers []AnswerInput) []model.AssessmentAnswer {
	rows := make([]model.AssessmentAnswer, 0, len(answers))
	for _, a := range answers {
		rows = append(rows, model.AssessmentAnswer{
			AssessmentID:  a.AssessmentID,
			QuestionID:    a.QuestionID,
			SelectedValue: a.SelectedValue,
			ScoreValue:    a.ScoreValue,
		})
	}
	return rows
}

// ListAnswers returns the answers of an assessment, or all visible answers
// when assessmentID is zero, in question display order
func (s *AssessmentService) ListAnswers(ctx context.Context, tc *authz.TenantContext, assessmentID uint) ([]model.AssessmentAnswer, error) {
	q, err := scopedAnswers(s.db.WithContext(ctx), tc)
	if err != nil {
		return nil, err
	}
	if assessmentID != 0 {
		q = q.Where("assessment_answers.assessment_id = ?", assessmentID)
	}
	var answers []model.AssessmentAnswer
	if err := orderedAnswers(q).Find(&answers).Error; err != nil {
		return nil, err
	}
	return answers, nil
}

// GetAnswer returns one answer visible to the caller
func (s *AssessmentService) GetAnswer(ctx context.Context, tc *authz.TenantContext, id uint) (*model.AssessmentAnswer, error) {
	return getAnswer(s.db.WithContext(ctx), tc, id)
}

func getAnswer(db *gorm.DB, tc *authz.TenantContext, id uint) (*model.AssessmentAnswer, error) {
	q, err := scopedAnswers(db, tc)
	if err != nil {
		return nil, err
	}
	var answer model.AssessmentAnswer
	err = q.Where("assessment_answers.id = ?", id).First(&answer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(ErrNotFound, "answer %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &answer, nil
}

// CreateAnswer records one answer
func (s *AssessmentService) CreateAnswer(ctx context.Context, tc *authz.TenantContext, in AnswerInput) (*model.AssessmentAnswer, error) {
	rows, err := s.BulkCreateAnswers(ctx, tc, []AnswerInput{in})
	if err != nil {
		return nil, err
	}
	return &rows[0], nil
}

// UpdateAnswer changes the question, selected value or score of an answer
func (s *AssessmentService) UpdateAnswer(ctx context.Context, tc *authz.TenantContext, id uint, in AnswerInput) (*model.AssessmentAnswer, error) {
	var answer *model.AssessmentAnswer
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if answer, err = getAnswer(tx, tc, id); err != nil {
			return err
		}
		status, err := assessmentStatus(tx, answer.AssessmentID)
		if err != nil {
			return err
		}
		if err := ensureOpen(tc, status); err != nil {
			return err
		}
		if in.AssessmentID == 0 {
			in.AssessmentID = answer.AssessmentID
		}
		if in.QuestionID == 0 {
			in.QuestionID = answer.QuestionID
		}
		batch := []AnswerInput{in}
		if err := checkAnswers(tx, tc, batch); err != nil {
			return err
		}
		in = batch[0]
		answer.AssessmentID, answer.QuestionID = in.AssessmentID, in.QuestionID
		answer.SelectedValue, answer.ScoreValue = in.SelectedValue, in.ScoreValue
		return tx.Model(&model.AssessmentAnswer{ID: answer.ID}).
			Select("assessment_id", "question_id", "selected_value", "score_value").
			Updates(answer).Error
	})
	if err != nil {
		return nil, err
	}
	return answer, nil
}

// DeleteAnswer removes one answer
func (s *AssessmentService) DeleteAnswer(ctx context.Context, tc *authz.TenantContext, id uint) error {
	db := s.db.WithContext(ctx)
	answer, err := getAnswer(db, tc, id)
	if err != nil {
		return err
	}
	status, err := assessmentStatus(db, answer.AssessmentID)
	if err != nil {
		return err
	}
	if err := ensureOpen(tc, status); err != nil {
		return err
	}
	return db.Delete(&model.AssessmentAnswer{}, answer.ID).Error
}

// BulkCreateAnswers inserts all answers or none
func (s *AssessmentService) BulkCreateAnswers(ctx context.Context, tc *authz.TenantContext, answers []AnswerInput) ([]model.AssessmentAnswer, error) {
	if len(answers) == 0 {
		return nil, invalid("answers", "At least one answer is required.")
	}
	rows := []model.AssessmentAnswer{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkAnswers(tx, tc, answers); err != nil {
			return err
		}
		rows = answerRows(answers)
		return tx.Create(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ReplaceAnswers swaps the whole answer set of an assessment in one
// transaction
func (s *AssessmentService) ReplaceAnswers(ctx context.Context, tc *authz.TenantContext, assessmentID uint, answers []AnswerInput) ([]model.AssessmentAnswer, error) {
	if assessmentID == 0 {
		return nil, invalid("assessment", "This field is required.")
	}
	for i := range answers {
		answers[i].AssessmentID = assessmentID
	}

	rows := []model.AssessmentAnswer{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		a, err := getAssessment(tx, tc, assessmentID)
		if err != nil {
			return err
		}
		if err := ensureOpen(tc, a.Status); err != nil {
			return err
		}
		if len(answers) > 0 {
			if err := checkAnswers(tx, tc, answers); err != nil {
				return err
			}
		}
		if err := tx.Where("assessment_id = ?", assessmentID).Delete(&model.AssessmentAnswer{}).Error; err != nil {
			return err
		}
		if len(answers) == 0 {
			return nil
		}
		rows = answerRows(answers)
		return tx.Create(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	logger.FromStdContext(ctx).Info("Answers replaced",
		zap.Uint("assessment_id", assessmentID),
		zap.Int("answers", len(rows)))
	return rows, nil
}
