// Package billingtest provides an in-memory billing.Repository for tests.
package billingtest

import (
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/PixelBoost/app/models"
	"github.com/ManuelReschke/PixelBoost/internal/pkg/billing"
)

// MemoryRepository is a concurrency-safe billing.Repository. Setting
// ApplyErr makes every ledger write fail with that error.
type MemoryRepository struct {
	mu       sync.Mutex
	accounts map[string]*models.CreditAccount
	entries  map[string]*models.CreditLedgerEntry
	bindings map[string]*models.BillingCustomer
	events   map[string]*models.BillingWebhookEvent
	nextID   uint

	ApplyErr error
}

var _ billing.Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts: make(map[string]*models.CreditAccount),
		entries:  make(map[string]*models.CreditLedgerEntry),
		bindings: make(map[string]*models.BillingCustomer),
		events:   make(map[string]*models.BillingWebhookEvent),
	}
}

func key(a, b string) string { return a + "\x00" + b }

func (r *MemoryRepository) ApplyCreditEntry(entry *models.CreditLedgerEntry) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ApplyErr != nil {
		return false, r.ApplyErr
	}
	k := key(entry.Provider, entry.ProviderEventID)
	if _, ok := r.entries[k]; ok {
		return false, nil
	}
	r.nextID++
	stored := *entry
	stored.ID = r.nextID
	stored.CreatedAt = time.Now()
	r.entries[k] = &stored

	acc, ok := r.accounts[entry.UserID]
	if !ok {
		acc = &models.CreditAccount{ID: r.nextID, UserID: entry.UserID, CreatedAt: time.Now()}
		r.accounts[entry.UserID] = acc
	}
	acc.Credits += entry.Delta
	acc.UpdatedAt = time.Now()
	return true, nil
}

func (r *MemoryRepository) SpendCredits(entry *models.CreditLedgerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ApplyErr != nil {
		return r.ApplyErr
	}
	k := key(entry.Provider, entry.ProviderEventID)
	if _, ok := r.entries[k]; ok {
		return nil
	}
	acc, ok := r.accounts[entry.UserID]
	if !ok || acc.Credits < -entry.Delta {
		return billing.ErrInsufficientCredits
	}
	acc.Credits += entry.Delta
	acc.UpdatedAt = time.Now()
	r.nextID++
	stored := *entry
	stored.ID = r.nextID
	r.entries[k] = &stored
	return nil
}

func (r *MemoryRepository) GetCreditAccount(userID string) (*models.CreditAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	out := *acc
	return &out, nil
}

func (r *MemoryRepository) FindCustomerBinding(provider, customerID string) (*models.BillingCustomer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bindings[key(provider, customerID)]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	out := *b
	return &out, nil
}

func (r *MemoryRepository) UpsertCustomerBinding(binding *models.BillingCustomer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(binding.Provider, binding.CustomerID)
	if existing, ok := r.bindings[k]; ok {
		existing.UserID = binding.UserID
		existing.Email = binding.Email
		existing.UpdatedAt = time.Now()
		*binding = *existing
		return nil
	}
	r.nextID++
	stored := *binding
	stored.ID = r.nextID
	stored.CreatedAt = time.Now()
	stored.UpdatedAt = stored.CreatedAt
	r.bindings[k] = &stored
	*binding = stored
	return nil
}

func (r *MemoryRepository) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(event.Provider, event.ProviderEventID)
	if existing, ok := r.events[k]; ok {
		out := *existing
		return false, &out, nil
	}
	r.nextID++
	stored := *event
	stored.ID = r.nextID
	stored.CreatedAt = time.Now()
	r.events[k] = &stored
	out := stored
	return true, &out, nil
}

func (r *MemoryRepository) MarkWebhookProcessed(id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ID == id {
			now := time.Now()
			e.ProcessedAt = &now
			e.ProcessingError = processingError
			e.Attempts++
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *MemoryRepository) MarkWebhookFailed(id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ID == id && e.ProcessedAt == nil {
			e.ProcessingError = processingError
			e.Attempts++
			return nil
		}
	}
	return nil
}

func (r *MemoryRepository) ListPendingWebhookEvents(provider string, olderThan time.Time, maxAttempts, limit int) ([]models.BillingWebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.BillingWebhookEvent
	for _, e := range r.events {
		if e.Provider != provider || e.ProcessedAt != nil || !e.CreatedAt.Before(olderThan) {
			continue
		}
		if maxAttempts > 0 && e.Attempts >= maxAttempts {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Balance returns the stored credits for userID, or -1 without an account.
func (r *MemoryRepository) Balance(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if acc, ok := r.accounts[userID]; ok {
		return acc.Credits
	}
	return -1
}

// EntryCount returns the number of ledger entries written.
func (r *MemoryRepository) EntryCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// WebhookEvent returns the stored event for provider and event id.
func (r *MemoryRepository) WebhookEvent(provider, eventID string) (*models.BillingWebhookEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[key(provider, eventID)]
	if !ok {
		return nil, false
	}
	out := *e
	return &out, true
}

// SetApplyErr changes ApplyErr under the repository lock.
func (r *MemoryRepository) SetApplyErr(err error) {
	r.mu.Lock()
	r.ApplyErr = err
	r.mu.Unlock()
}
