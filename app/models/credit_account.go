package models

import "time"

// CreditAccount holds the spendable upscale credit balance of one user.
// Rows are only ever created and incremented by the billing repository.
type CreditAccount struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_credit_accounts_user" json:"user_id"`
	Credits   int       `gorm:"not null;default:0;check:chk_credit_accounts_credits,credits >= 0" json:"credits"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CreditAccount) TableName() string {
	return "credit_accounts"
}
