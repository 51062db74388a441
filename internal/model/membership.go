package model

import "time"

// Membership grants a user access to a tenant. Memberships are never deleted,
// they are disabled by clearing Active.
type Membership struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UserID    uint      `json:"user_id" gorm:"not null;uniqueIndex:idx_membership_user_tenant"`
	TenantID  uint      `json:"tenant_id" gorm:"not null;index;uniqueIndex:idx_membership_user_tenant"`
	Role      string    `json:"role" gorm:"type:varchar(50)"`
	Active    bool      `json:"active" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	User   *User   `json:"user,omitempty" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	Tenant *Tenant `json:"tenant,omitempty" gorm:"foreignKey:TenantID;constraint:OnDelete:CASCADE"`
}
