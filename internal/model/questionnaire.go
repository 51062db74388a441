package model

import "time"

// FieldType is how a question is rendered to the assessor
type FieldType string

const (
	FieldSelect FieldType = "select"
	FieldRadio  FieldType = "radio"
	FieldText   FieldType = "text"
)

// Valid reports whether f is a known field type
func (f FieldType) Valid() bool {
	switch f {
	case FieldSelect, FieldRadio, FieldText:
		return true
	}
	return false
}

// Category groups questions of the risk questionnaire
type Category struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	Name         string    `json:"name" gorm:"type:varchar(200);not null"`
	Description  string    `json:"description" gorm:"type:text"`
	DisplayOrder int       `json:"display_order" gorm:"not null;default:0"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	Questions []Question `json:"questions,omitempty" gorm:"constraint:OnDelete:CASCADE"`
}

// Question belongs to a category and offers scored options
type Question struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	CategoryID   uint      `json:"category_id" gorm:"not null;index"`
	Text         string    `json:"text" gorm:"type:text;not null"`
	FieldType    FieldType `json:"field_type" gorm:"type:varchar(20);not null;default:'select'"`
	DisplayOrder int       `json:"display_order" gorm:"not null;default:0"`
	Required     bool      `json:"required"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	Options []Option `json:"options" gorm:"constraint:OnDelete:CASCADE"`
}

// Option is one selectable answer with a fixed score
type Option struct {
	ID           uint   `json:"id" gorm:"primaryKey"`
	QuestionID   uint   `json:"question_id" gorm:"not null;index"`
	Text         string `json:"text" gorm:"type:varchar(500);not null"`
	Score        int    `json:"score" gorm:"not null;default:0"`
	DisplayOrder int    `json:"display_order" gorm:"not null;default:0"`
}
