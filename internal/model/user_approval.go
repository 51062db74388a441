package model

import "time"

// ApprovalStatus is the state of a registration approval
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// UserApproval tracks the registration decision for one user.
// pending -> approved and pending -> rejected are the only transitions.
type UserApproval struct {
	ID                uint           `json:"id" gorm:"primaryKey"`
	UserID            uint           `json:"user_id" gorm:"uniqueIndex;not null"`
	Status            ApprovalStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
	TemporaryPassword string         `json:"-" gorm:"type:varchar(255)"`
	RequestedAt       time.Time      `json:"requested_at" gorm:"autoCreateTime"`
	ApprovedAt        *time.Time     `json:"approved_at"`
	ApprovedByID      *uint          `json:"approved_by" gorm:"index"`
	RejectionReason   string         `json:"rejection_reason" gorm:"type:text"`

	User       *User `json:"user,omitempty" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	ApprovedBy *User `json:"-" gorm:"foreignKey:ApprovedByID;constraint:OnDelete:SET NULL"`
}
