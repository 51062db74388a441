package model

import (
	"strings"
	"time"
)

// ClientType distinguishes natural persons from legal entities
type ClientType string

const (
	ClientIndividual ClientType = "individual"
	ClientCorporate  ClientType = "corporate"
)

// Valid reports whether t is a known client type
func (t ClientType) Valid() bool {
	return t == ClientIndividual || t == ClientCorporate
}

// ReferencePrefix is the first four characters of the type, uppercased
func (t ClientType) ReferencePrefix() string {
	s := string(t)
	if len(s) > 4 {
		s = s[:4]
	}
	return strings.ToUpper(s)
}

// Client is a customer record owned by a tenant. Reference is assigned once
// when the record is first saved and never changes afterwards.
type Client struct {
	ID               uint       `json:"id" gorm:"primaryKey"`
	ClientType       ClientType `json:"client_type" gorm:"type:varchar(20);not null"`
	TenantID         uint       `json:"tenant_id" gorm:"not null;index"`
	Reference        string     `json:"reference" gorm:"type:varchar(20);uniqueIndex;not null"`
	FullName         string     `json:"full_name" gorm:"type:varchar(255)"`
	NationalID       string     `json:"national_id" gorm:"type:varchar(50);index"`
	CorporateName    string     `json:"corporate_name" gorm:"type:varchar(255)"`
	UBO              string     `json:"ubo" gorm:"type:varchar(255)"`
	NatureOfBusiness string     `json:"nature_of_business" gorm:"type:varchar(255)"`
	BRN              string     `json:"brn" gorm:"type:varchar(100)"`
	VAT              string     `json:"vat" gorm:"type:varchar(100)"`
	Email            string     `json:"email" gorm:"type:varchar(254);index"`
	Phone            string     `json:"phone" gorm:"type:varchar(30)"`
	Address          string     `json:"address" gorm:"type:text"`
	City             string     `json:"city" gorm:"type:varchar(100)"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	CreatedByID      *uint      `json:"created_by" gorm:"index"`

	Tenant    *Tenant `json:"-" gorm:"foreignKey:TenantID;constraint:OnDelete:CASCADE"`
	CreatedBy *User   `json:"-" gorm:"foreignKey:CreatedByID;constraint:OnDelete:SET NULL"`
}

// Name is the name used on reports and document paths
func (c *Client) Name() string {
	if c.ClientType == ClientCorporate && c.CorporateName != "" {
		return c.CorporateName
	}
	if c.FullName != "" {
		return c.FullName
	}
	return c.CorporateName
}

// ReferenceSequence holds the last reference number issued for a prefix
type ReferenceSequence struct {
	Prefix    string `gorm:"primaryKey;type:varchar(10)"`
	LastValue int64  `gorm:"not null"`
}
