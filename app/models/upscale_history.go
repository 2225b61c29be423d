package models

import "time"

const (
	UpscaleStatusPending    = "pending"
	UpscaleStatusProcessing = "processing"
	UpscaleStatusCompleted  = "completed"
	UpscaleStatusFailed     = "failed"
)

// UpscaleHistory records one upscale request and where its result lives.
type UpscaleHistory struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       string    `gorm:"type:varchar(191);not null;index" json:"user_id"`
	JobID        string    `gorm:"type:varchar(64);not null;uniqueIndex" json:"job_id"`
	Filename     string    `gorm:"type:varchar(255);default:''" json:"filename"`
	Provider     string    `gorm:"type:varchar(40);not null" json:"provider"`
	Status       string    `gorm:"type:varchar(20);not null;index" json:"status"`
	OriginalKey  string    `gorm:"type:varchar(512);default:''" json:"original_key"`
	ResultKey    string    `gorm:"type:varchar(512);default:''" json:"result_key"`
	ResultURL    string    `gorm:"type:text" json:"result_url"`
	CreditsSpent int       `gorm:"not null;default:0" json:"credits_spent"`
	ErrorMessage string    `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (UpscaleHistory) TableName() string {
	return "upscale_history"
}
