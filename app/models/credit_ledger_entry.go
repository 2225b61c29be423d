package models

import "time"

// Reasons recorded on ledger entries.
const (
	CreditReasonSubscription = "subscription"
	CreditReasonPurchase     = "purchase"
	CreditReasonUpscale      = "upscale"
	CreditReasonRefund       = "refund"
)

// CreditLedgerEntry is one applied change to a credit account. The
// (provider, provider_event_id) pair is unique, so replaying the same event
// cannot change the balance twice.
type CreditLedgerEntry struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	UserID          string    `gorm:"type:varchar(191);not null;index" json:"user_id"`
	Provider        string    `gorm:"type:varchar(20);not null;index:ux_credit_ledger_provider_event,unique,priority:1" json:"provider"`
	ProviderEventID string    `gorm:"type:varchar(191);not null;index:ux_credit_ledger_provider_event,unique,priority:2" json:"provider_event_id"`
	Reason          string    `gorm:"type:varchar(40);not null" json:"reason"`
	PriceID         string    `gorm:"type:varchar(191);default:''" json:"price_id"`
	Delta           int       `gorm:"not null" json:"delta"`
	CreatedAt       time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
