package models

import "time"

// Billing provider constants used across billing-related models.
const (
	BillingProviderPaddle   = "paddle"
	BillingProviderInternal = "internal"
)

// BillingCustomer binds a provider customer id to the local user that owns
// the credit account.
type BillingCustomer struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Provider   string    `gorm:"type:varchar(20);not null;index:ux_billing_customers_provider_customer,unique,priority:1" json:"provider"`
	CustomerID string    `gorm:"type:varchar(191);not null;index:ux_billing_customers_provider_customer,unique,priority:2" json:"customer_id"`
	UserID     string    `gorm:"type:varchar(191);not null;index" json:"user_id"`
	Email      string    `gorm:"type:varchar(200);default:''" json:"email"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
