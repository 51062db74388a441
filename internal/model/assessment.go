package model

import "time"

// AssessmentStatus is the review state of an assessment
type AssessmentStatus string

const (
	AssessmentPending   AssessmentStatus = "pending"
	AssessmentSubmitted AssessmentStatus = "submitted"
	AssessmentApproved  AssessmentStatus = "approved"
	AssessmentRejected  AssessmentStatus = "rejected"
)

// Valid reports whether s is a known assessment status
func (s AssessmentStatus) Valid() bool {
	switch s {
	case AssessmentPending, AssessmentSubmitted, AssessmentApproved, AssessmentRejected:
		return true
	}
	return false
}

// Reviewed reports whether s is a reviewer decision
func (s AssessmentStatus) Reviewed() bool {
	return s == AssessmentApproved || s == AssessmentRejected
}

// RiskLevel classifies an assessed client
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Valid reports whether r is a known risk level
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

// Assessment is one risk questionnaire run against a client. TotalScore and
// RiskLevel are supplied by the caller.
type Assessment struct {
	ID            uint             `json:"id" gorm:"primaryKey"`
	ClientID      uint             `json:"client_id" gorm:"not null;index"`
	SubmittedByID *uint            `json:"submitted_by" gorm:"index"`
	Status        AssessmentStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending'"`
	RiskLevel     *RiskLevel       `json:"risk_level" gorm:"type:varchar(10)"`
	TotalScore    int              `json:"total_score" gorm:"not null;default:0"`
	SubmittedAt   time.Time        `json:"submitted_at" gorm:"not null;index"`
	UpdatedAt     time.Time        `json:"updated_at"`

	Client      *Client            `json:"client,omitempty" gorm:"foreignKey:ClientID;constraint:OnDelete:CASCADE"`
	SubmittedBy *User              `json:"-" gorm:"foreignKey:SubmittedByID;constraint:OnDelete:SET NULL"`
	Answers     []AssessmentAnswer `json:"answers,omitempty" gorm:"constraint:OnDelete:CASCADE"`
}

// AssessmentAnswer records the chosen option text and its score at the time
// of answering, with no link to the option row.
type AssessmentAnswer struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	AssessmentID  uint      `json:"assessment_id" gorm:"not null;index"`
	QuestionID    uint      `json:"question_id" gorm:"not null;index"`
	SelectedValue string    `json:"selected_value" gorm:"type:text"`
	ScoreValue    int       `json:"score_value" gorm:"not null;default:0"`
	CreatedAt     time.Time `json:"created_at"`

	Question *Question `json:"question,omitempty" gorm:"foreignKey:QuestionID;constraint:OnDelete:CASCADE"`
}
