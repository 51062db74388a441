package model

import (
	"time"

	"gorm.io/datatypes"
)

// TenantKind distinguishes the head office from its distribution channels
type TenantKind string

const (
	TenantKindHeadOffice TenantKind = "head_office"
	TenantKindBranch     TenantKind = "branch"
	TenantKindAgent      TenantKind = "agent"
)

// Valid reports whether k is a known tenant kind
func (k TenantKind) Valid() bool {
	switch k {
	case TenantKindHeadOffice, TenantKindBranch, TenantKindAgent:
		return true
	}
	return false
}

// Tenant is an isolated organizational scope. Clients and, through them,
// assessments and documents belong to exactly one tenant.
type Tenant struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	Name      string         `json:"name" gorm:"type:varchar(200);not null"`
	Code      string         `json:"code" gorm:"type:varchar(50);uniqueIndex;not null"`
	Kind      TenantKind     `json:"kind" gorm:"type:varchar(20);not null;default:'branch'"`
	Address   string         `json:"address" gorm:"type:text"`
	Phone     string         `json:"phone" gorm:"type:varchar(30)"`
	Email     string         `json:"email" gorm:"type:varchar(254)"`
	Settings  datatypes.JSON `json:"settings,omitempty"`
	Active    bool           `json:"active" gorm:"not null"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
