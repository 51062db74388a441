package service

import (
	"context"
	"errors"
	"strings"

	"github.com/AviOnlineSec/cra/internal/authz"
	"github.com/AviOnlineSec/cra/internal/model"
	"github.com/AviOnlineSec/cra/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CatalogService maintains the risk questionnaire. The catalog is shared by
// all tenants; anyone authenticated may read it.
type CatalogService struct {
	db *gorm.DB
}

// NewCatalogService creates a catalog service
func NewCatalogService(db *gorm.DB) *CatalogService {
	return &CatalogService{db: db}
}

func canEditCatalog(p *authz.Principal) error {
	if !authz.Can(p, authz.ManageCatalog) {
		return newError(ErrForbidden, "you do not have permission to change the questionnaire")
	}
	return nil
}

func orderedOptions(db *gorm.DB) *gorm.DB {
	return db.Order("options.display_order").Order("options.id")
}

func orderedQuestions(db *gorm.DB) *gorm.DB {
	return db.Order("questions.display_order").Order("questions.id")
}

// CategoryInput holds the writable category fields
type CategoryInput struct {
	Name         string
	Description  string
	DisplayOrder int
}

func (in *CategoryInput) validate() error {
	in.Name = cleanText(in.Name)
	in.Description = cleanText(in.Description)
	if in.Name == "" {
		return invalid("name", "This field is required.")
	}
	return nil
}

// ListCategories returns every category with its ordered questions and options
func (s *CatalogService) ListCategories(ctx context.Context) ([]model.Category, error) {
	var categories []model.Category
	err := s.db.WithContext(ctx).
		Preload("Questions", orderedQuestions).
		Preload("Questions.Options", orderedOptions).
		Order("display_order").Order("id").
		Find(&categories).Error
	if err != nil {
		return nil, err
	}
	return categories, nil
}

// GetCategory returns one category with its questions
func (s *CatalogService) GetCategory(ctx context.Context, id uint) (*model.Category, error) {
	var category model.Category
	err := s.db.WithContext(ctx).
		Preload("Questions", orderedQuestions).
		Preload("Questions.Options", orderedOptions).
		First(&category, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(ErrNotFound, "category %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &category, nil
}

// CreateCategory adds a category
func (s *CatalogService) CreateCategory(ctx context.Context, p *authz.Principal, in CategoryInput) (*model.Category, error) {
	if err := canEditCatalog(p); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	category := &model.Category{Name: in.Name, Description: in.Description, DisplayOrder: in.DisplayOrder}
	if err := s.db.WithContext(ctx).Create(category).Error; err != nil {
		return nil, err
	}
	return category, nil
}

// UpdateCategory replaces the category fields
func (s *CatalogService) UpdateCategory(ctx context.Context, p *authz.Principal, id uint, in CategoryInput) (*model.Category, error) {
	if err := canEditCatalog(p); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	category, err := s.GetCategory(ctx, id)
	if err != nil {
		return nil, err
	}
	category.Name, category.Description, category.DisplayOrder = in.Name, in.Description, in.DisplayOrder
	err = s.db.WithContext(ctx).Model(category).
		Select("name", "description", "display_order").
		Updates(category).Error
	if err != nil {
		return nil, err
	}
	return category, nil
}

// DeleteCategory removes a category with its questions, their options and
// every recorded answer to them
func (s *CatalogService) DeleteCategory(ctx context.Context, p *authz.Principal, id uint) error {
	if err := canEditCatalog(p); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&model.Category{}, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return newError(ErrNotFound, "category %d not found", id)
			}
			return err
		}
		questionIDs := tx.Model(&model.Question{}).Select("id").Where("category_id = ?", id)
		if err := tx.Where("question_id IN (?)", questionIDs).Delete(&model.AssessmentAnswer{}).Error; err != nil {
			return err
		}
		if err := tx.Where("question_id IN (?)", questionIDs).Delete(&model.Option{}).Error; err != nil {
			return err
		}
		if err := tx.Where("category_id = ?", id).Delete(&model.Question{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Category{}, id).Error
	})
}

// OptionInput is one answer choice of a question
type OptionInput struct {
	Text         string
	Score        int
	DisplayOrder int
}

// QuestionInput holds the writable question fields. Options replace the
// existing set on update.
type QuestionInput struct {
	CategoryID   uint
	Text         string
	FieldType    model.FieldType
	DisplayOrder int
	Required     bool
	Options      []OptionInput
}

func (in *QuestionInput) validate() error {
	verr := &ValidationError{}
	in.Text = cleanText(in.Text)
	in.FieldType = model.FieldType(strings.ToLower(strings.TrimSpace(string(in.FieldType))))
	if in.FieldType == "" {
		in.FieldType = model.FieldSelect
	}
	if in.CategoryID == 0 {
		verr.Add("category", "This field is required.")
	}
	if in.Text == "" {
		verr.Add("text", "This field is required.")
	}
	if !in.FieldType.Valid() {
		verr.Add("field_type", "Must be one of select, radio, text.")
	}
	for i := range in.Options {
		in.Options[i].Text = cleanText(in.Options[i].Text)
		if in.Options[i].Text == "" {
			verr.Add("options", "Every option needs text.")
		}
	}
	return verr.OrNil()
}

func (in *QuestionInput) options() []model.Option {
	opts := make([]model.Option, 0, len(in.Options))
	for i, o := range in.Options {
		order := o.DisplayOrder
		if order == 0 {
			order = i + 1
		}
		opts = append(opts, model.Option{Text: o.Text, Score: o.Score, DisplayOrder: order})
	}
	return opts
}

// ListQuestions returns questions ordered for display, optionally of one category
func (s *CatalogService) ListQuestions(ctx context.Context, categoryID uint) ([]model.Question, error) {
	q := orderedQuestions(s.db.WithContext(ctx).Preload("Options", orderedOptions))
	if categoryID != 0 {
		q = q.Where("category_id = ?", categoryID)
	}
	var questions []model.Question
	if err := q.Find(&questions).Error; err != nil {
		return nil, err
	}
	return questions, nil
}

// GetQuestion returns a question with its options
func (s *CatalogService) GetQuestion(ctx context.Context, id uint) (*model.Question, error) {
	return getQuestion(s.db.WithContext(ctx), id)
}

func getQuestion(db *gorm.DB, id uint) (*model.Question, error) {
	var question model.Question
	err := db.Preload("Options", orderedOptions).First(&question, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(ErrNotFound, "question %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &question, nil
}

func categoryExists(tx *gorm.DB, id uint) error {
	var count int64
	if err := tx.Model(&model.Category{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return invalid("category", "Unknown category.")
	}
	return nil
}

// CreateQuestion adds a question together with its options
func (s *CatalogService) CreateQuestion(ctx context.Context, p *authz.Principal, in QuestionInput) (*model.Question, error) {
	if err := canEditCatalog(p); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	question := &model.Question{
		CategoryID:   in.CategoryID,
		Text:         in.Text,
		FieldType:    in.FieldType,
		DisplayOrder: in.DisplayOrder,
		Required:     in.Required,
		Options:      in.options(),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := categoryExists(tx, in.CategoryID); err != nil {
			return err
		}
		return tx.Create(question).Error
	})
	if err != nil {
		return nil, err
	}
	logger.FromStdContext(ctx).Info("Question created",
		zap.Uint("question_id", question.ID),
		zap.Int("options", len(question.Options)))
	return question, nil
}

// UpdateQuestion replaces the question fields and its whole option set
func (s *CatalogService) UpdateQuestion(ctx context.Context, p *authz.Principal, id uint, in QuestionInput) (*model.Question, error) {
	if err := canEditCatalog(p); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	var question *model.Question
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := getQuestion(tx, id)
		if err != nil {
			return err
		}
		if err := categoryExists(tx, in.CategoryID); err != nil {
			return err
		}
		err = tx.Model(existing).Select("category_id", "text", "field_type", "display_order", "required").
			Updates(&model.Question{
				CategoryID:   in.CategoryID,
				Text:         in.Text,
				FieldType:    in.FieldType,
				DisplayOrder: in.DisplayOrder,
				Required:     in.Required,
			}).Error
		if err != nil {
			return err
		}
		if err := tx.Where("question_id = ?", id).Delete(&model.Option{}).Error; err != nil {
			return err
		}
		opts := in.options()
		for i := range opts {
			opts[i].QuestionID = id
		}
		if len(opts) > 0 {
			if err := tx.Create(&opts).Error; err != nil {
				return err
			}
		}
		question, err = getQuestion(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return question, nil
}

// DeleteQuestion removes a question, its options and its recorded answers
func (s *CatalogService) DeleteQuestion(ctx context.Context, p *authz.Principal, id uint) error {
	if err := canEditCatalog(p); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := getQuestion(tx, id); err != nil {
			return err
		}
		if err := tx.Where("question_id = ?", id).Delete(&model.AssessmentAnswer{}).Error; err != nil {
			return err
		}
		if err := tx.Where("question_id = ?", id).Delete(&model.Option{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Question{}, id).Error
	})
}
