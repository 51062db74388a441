package model

import "time"

// KycDocument is an identity or due-diligence file attached to a client
type KycDocument struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	ClientID     uint      `json:"client_id" gorm:"not null;index"`
	Path         string    `json:"path" gorm:"type:varchar(500);not null"`
	OriginalName string    `json:"original_name" gorm:"type:varchar(255)"`
	ContentType  string    `json:"content_type" gorm:"type:varchar(100)"`
	Size         int64     `json:"size"`
	UploadedByID *uint     `json:"uploaded_by" gorm:"index"`
	UploadDate   time.Time `json:"upload_date" gorm:"autoCreateTime"`

	Client     *Client `json:"-" gorm:"foreignKey:ClientID;constraint:OnDelete:CASCADE"`
	UploadedBy *User   `json:"-" gorm:"foreignKey:UploadedByID;constraint:OnDelete:SET NULL"`
}
