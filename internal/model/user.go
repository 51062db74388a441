package model

import (
	"strings"
	"time"
)

// Role is the account-level role of a user
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleCompliance Role = "compliance"
	RoleUser       Role = "user"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleCompliance, RoleUser:
		return true
	}
	return false
}

// User represents an account. Accounts are created inactive and unapproved
// and only become usable through the approval workflow.
type User struct {
	ID                 uint       `json:"id" gorm:"primaryKey"`
	Username           string     `json:"username" gorm:"type:varchar(150);uniqueIndex;not null"`
	Email              string     `json:"email" gorm:"type:varchar(254);uniqueIndex;not null"`
	Password           string     `json:"-" gorm:"type:varchar(255);not null"`
	FirstName          string     `json:"first_name" gorm:"type:varchar(150)"`
	LastName           string     `json:"last_name" gorm:"type:varchar(150)"`
	Role               Role       `json:"role" gorm:"type:varchar(20);not null;default:'user'"`
	IsSuperuser        bool       `json:"is_superuser" gorm:"not null;default:false"`
	TenantID           *uint      `json:"tenant_id" gorm:"index"`
	IsActive           bool       `json:"is_active" gorm:"not null;default:false"`
	IsApproved         bool       `json:"is_approved" gorm:"not null;default:false"`
	MustChangePassword bool       `json:"must_change_password" gorm:"not null;default:false"`
	PhoneNumber        string     `json:"phone_number" gorm:"type:varchar(20)"`
	RegistrationDate   time.Time  `json:"registration_date" gorm:"autoCreateTime"`
	LastLogin          *time.Time `json:"last_login"`
	UpdatedAt          time.Time  `json:"updated_at"`

	Tenant *Tenant `json:"tenant,omitempty" gorm:"foreignKey:TenantID;constraint:OnDelete:SET NULL"`
}

// DisplayName is the single name shown for a user: the full name when one is
// set, then the username, then the email address.
func (u *User) DisplayName() string {
	if full := strings.TrimSpace(u.FirstName + " " + u.LastName); full != "" {
		return full
	}
	if u.Username != "" {
		return u.Username
	}
	return u.Email
}
