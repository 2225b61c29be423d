package billing

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/PixelBoost/app/models"
)

// Repository provides DB operations used by the billing service.
type Repository interface {
	// ApplyCreditEntry records entry and adds entry.Delta to the user's
	// balance in one transaction. It returns false without touching the
	// balance when an entry with the same provider event id already exists.
	ApplyCreditEntry(entry *models.CreditLedgerEntry) (bool, error)
	// SpendCredits records entry and subtracts -entry.Delta from the balance,
	// failing with ErrInsufficientCredits when the balance is too low.
	SpendCredits(entry *models.CreditLedgerEntry) error
	GetCreditAccount(userID string) (*models.CreditAccount, error)
	FindCustomerBinding(provider, customerID string) (*models.BillingCustomer, error)
	UpsertCustomerBinding(binding *models.BillingCustomer) error
	CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
	MarkWebhookFailed(id uint, processingError string) error
	ListPendingWebhookEvents(provider string, olderThan time.Time, maxAttempts, limit int) ([]models.BillingWebhookEvent, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) ApplyCreditEntry(entry *models.CreditLedgerEntry) (bool, error) {
	applied := false
	err := r.db.Transaction(func(tx *gorm.DB) error {
		res := ledgerInsertQuery(tx, entry)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if err := creditIncrementQuery(tx, entry.UserID, entry.Delta).Error; err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (r *gormRepository) SpendCredits(entry *models.CreditLedgerEntry) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		res := ledgerInsertQuery(tx, entry)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Already spent under this reference.
			return nil
		}
		upd := creditDecrementQuery(tx, entry.UserID, -entry.Delta)
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			return ErrInsufficientCredits
		}
		return nil
	})
}

// ledgerInsertQuery inserts entry unless its (provider, provider_event_id)
// already exists.
func ledgerInsertQuery(tx *gorm.DB, entry *models.CreditLedgerEntry) *gorm.DB {
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(entry)
}

// creditIncrementQuery creates the account with delta credits, or adds delta
// to the existing row. It is a single statement, so concurrent calls for one
// user never lose an update.
func creditIncrementQuery(tx *gorm.DB, userID string, delta int) *gorm.DB {
	account := &models.CreditAccount{UserID: userID, Credits: delta}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"credits":    gorm.Expr("credits + ?", delta),
			"updated_at": time.Now(),
		}),
	}).Create(account)
}

func creditDecrementQuery(tx *gorm.DB, userID string, amount int) *gorm.DB {
	return tx.Model(&models.CreditAccount{}).
		Where("user_id = ? AND credits >= ?", userID, amount).
		Updates(map[string]interface{}{
			"credits":    gorm.Expr("credits - ?", amount),
			"updated_at": time.Now(),
		})
}

func (r *gormRepository) GetCreditAccount(userID string) (*models.CreditAccount, error) {
	var account models.CreditAccount
	if err := r.db.Where("user_id = ?", userID).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *gormRepository) FindCustomerBinding(provider, customerID string) (*models.BillingCustomer, error) {
	var binding models.BillingCustomer
	err := r.db.Where("provider = ? AND customer_id = ?", provider, customerID).First(&binding).Error
	if err != nil {
		return nil, err
	}
	return &binding, nil
}

func (r *gormRepository) UpsertCustomerBinding(binding *models.BillingCustomer) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "customer_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id",
			"email",
			"updated_at",
		}),
	}).Create(binding).Error; err != nil {
		return err
	}

	return r.db.Where("provider = ? AND customer_id = ?", binding.Provider, binding.CustomerID).
		First(binding).Error
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
		"attempts":         gorm.Expr("attempts + 1"),
	}
	return r.db.Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

// MarkWebhookFailed stores a retryable error and leaves the event pending.
func (r *gormRepository) MarkWebhookFailed(id uint, processingError string) error {
	updates := map[string]interface{}{
		"processing_error": processingError,
		"attempts":         gorm.Expr("attempts + 1"),
	}
	return r.db.Model(&models.BillingWebhookEvent{}).
		Where("id = ? AND processed_at IS NULL", id).
		Updates(updates).Error
}

func (r *gormRepository) ListPendingWebhookEvents(provider string, olderThan time.Time, maxAttempts, limit int) ([]models.BillingWebhookEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []models.BillingWebhookEvent
	q := r.db.Where("provider = ? AND processed_at IS NULL AND created_at < ?", provider, olderThan)
	if maxAttempts > 0 {
		q = q.Where("attempts < ?", maxAttempts)
	}
	err := q.Order("id ASC").Limit(limit).Find(&events).Error
	return events, err
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
