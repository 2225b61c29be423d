package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PixelBoost/app/models"
	"github.com/ManuelReschke/PixelBoost/internal/pkg/env"
)

// Config controls how the service turns payment events into credits.
type Config struct {
	Credits *CreditTable
	// RequireCustomerBinding disables the customer-id fallback: events whose
	// customer is not bound to a user are acknowledged but not credited.
	RequireCustomerBinding bool
}

// ConfigFromEnv reads the service configuration from the environment.
func ConfigFromEnv() Config {
	return Config{
		Credits:                CreditTableFromEnv(),
		RequireCustomerBinding: strings.EqualFold(env.GetEnv("BILLING_REQUIRE_CUSTOMER_BINDING", "false"), "true"),
	}
}

// Service applies payment events to the credit ledger.
type Service struct {
	repo Repository
	cfg  Config
}

// NewService creates a billing service from an injected repository.
func NewService(repo Repository, cfg Config) *Service {
	if cfg.Credits == nil {
		cfg.Credits = NewCreditTable(nil)
	}
	return &Service{repo: repo, cfg: cfg}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db), ConfigFromEnv())
}

// ResolveLedgerUser returns the ledger key for a provider customer: the bound
// user if a binding exists, otherwise the user id carried in the signed
// custom data (which is then bound), otherwise the customer id itself.
func (s *Service) ResolveLedgerUser(ctx context.Context, provider, customerID, customUserID string) (string, error) {
	_ = ctx
	binding, err := s.repo.FindCustomerBinding(provider, customerID)
	if err == nil {
		return binding.UserID, nil
	}
	if !isNotFound(err) {
		return "", err
	}

	if customUserID != "" {
		bindErr := s.repo.UpsertCustomerBinding(&models.BillingCustomer{
			Provider:   provider,
			CustomerID: customerID,
			UserID:     customUserID,
		})
		if bindErr != nil {
			log.Warnf("[Billing] Could not bind %s customer %s to user %s: %v", provider, customerID, customUserID, bindErr)
		}
		return customUserID, nil
	}

	if s.cfg.RequireCustomerBinding {
		return "", ErrCustomerNotBound
	}
	return customerID, nil
}

// BindCustomer links a provider customer to a local user.
func (s *Service) BindCustomer(ctx context.Context, provider, customerID, userID, email string) error {
	_ = ctx
	p := strings.ToLower(strings.TrimSpace(provider))
	cid := strings.TrimSpace(customerID)
	uid := strings.TrimSpace(userID)
	if p == "" || cid == "" || uid == "" {
		return errors.New("provider, customer_id and user_id are required")
	}
	return s.repo.UpsertCustomerBinding(&models.BillingCustomer{
		Provider:   p,
		CustomerID: cid,
		UserID:     uid,
		Email:      strings.TrimSpace(email),
	})
}

// ApplyCredit adds the credits bought by grant.PriceID to the resolved
// user's account. A grant whose provider event id was already applied is
// reported with Applied=false and leaves the balance unchanged. Storage
// failures are wrapped in ErrLedgerWriteFailed. A grant without an event id
// is rejected as ErrMalformedPayload.
func (s *Service) ApplyCredit(ctx context.Context, grant CreditGrant) (*CreditResult, error) {
	customerID := strings.TrimSpace(grant.CustomerID)
	priceID := strings.TrimSpace(grant.PriceID)
	if customerID == "" || priceID == "" {
		return nil, fmt.Errorf("%w: missing customer or price data", ErrMalformedPayload)
	}
	eventID := strings.TrimSpace(grant.ProviderEventID)
	if eventID == "" {
		return nil, fmt.Errorf("%w: missing event id", ErrMalformedPayload)
	}
	provider := strings.ToLower(strings.TrimSpace(grant.Provider))
	if provider == "" {
		provider = models.BillingProviderPaddle
	}

	amount, known := s.cfg.Credits.Resolve(priceID)
	if !known {
		log.Warnf("[Billing] Unknown price id %q, granting fallback of %d credits", priceID, amount)
	}

	userID, err := s.ResolveLedgerUser(ctx, provider, customerID, strings.TrimSpace(grant.CustomUserID))
	if err != nil {
		if errors.Is(err, ErrCustomerNotBound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: resolve user: %v", ErrLedgerWriteFailed, err)
	}

	class := grant.Class
	if class == "" || class == EventClassUnhandled {
		class = EventClassPurchased
	}

	entry := &models.CreditLedgerEntry{
		UserID:          userID,
		Provider:        provider,
		ProviderEventID: eventID,
		Reason:          class.CreditReason(),
		PriceID:         priceID,
		Delta:           amount,
	}
	applied, err := s.repo.ApplyCreditEntry(entry)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerWriteFailed, err)
	}

	if applied {
		log.Infof("[Billing] Credited %d to %s (event %s, price %s)", amount, userID, eventID, priceID)
	} else {
		log.Infof("[Billing] Event %s already applied for %s, skipping", eventID, userID)
	}
	return &CreditResult{UserID: userID, Delta: amount, Applied: applied, KnownPrice: known}, nil
}

// HandlePaddleEvent applies a parsed Paddle event. Unhandled event types are
// a no-op and return a nil result.
func (s *Service) HandlePaddleEvent(ctx context.Context, event *PaddleWebhookEvent) (*CreditResult, error) {
	if event == nil || event.Class == EventClassUnhandled {
		return nil, nil
	}
	return s.ApplyCredit(ctx, event.Grant())
}

// SpendCredits atomically removes amount credits from userID. reference
// identifies the spend; repeating a reference does not spend twice.
func (s *Service) SpendCredits(ctx context.Context, userID string, amount int, reference string) error {
	_ = ctx
	if amount <= 0 {
		return ErrInvalidAmount
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return errors.New("user_id is required")
	}
	err := s.repo.SpendCredits(&models.CreditLedgerEntry{
		UserID:          uid,
		Provider:        models.BillingProviderInternal,
		ProviderEventID: "spend:" + reference,
		Reason:          models.CreditReasonUpscale,
		Delta:           -amount,
	})
	if err != nil && !errors.Is(err, ErrInsufficientCredits) {
		return fmt.Errorf("%w: %v", ErrLedgerWriteFailed, err)
	}
	return err
}

// RefundCredits returns amount credits for a spend that did not complete.
func (s *Service) RefundCredits(ctx context.Context, userID string, amount int, reference string) error {
	_ = ctx
	if amount <= 0 {
		return ErrInvalidAmount
	}
	_, err := s.repo.ApplyCreditEntry(&models.CreditLedgerEntry{
		UserID:          strings.TrimSpace(userID),
		Provider:        models.BillingProviderInternal,
		ProviderEventID: "refund:" + reference,
		Reason:          models.CreditReasonRefund,
		Delta:           amount,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerWriteFailed, err)
	}
	return nil
}

// GetBalance returns the user's credits; users without an account have zero.
func (s *Service) GetBalance(ctx context.Context, userID string) (int, error) {
	_ = ctx
	account, err := s.repo.GetCreditAccount(strings.TrimSpace(userID))
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	return account.Credits, nil
}

// RecordWebhookEvent persists webhook payloads idempotently.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	_ = ctx
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		eventID = PayloadEventID(in.PayloadJSON)
	}

	event := &models.BillingWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		CustomerID:      strings.TrimSpace(in.CustomerID),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	if raw := strings.TrimSpace(in.OccurredAt); raw != "" {
		if at, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			at = at.UTC()
			event.OccurredAt = &at
		} else {
			log.Warnf("[Billing] Ignoring unparseable occurred_at %q on event %s", raw, eventID)
		}
	}
	return s.repo.CreateWebhookEventIfNotExists(event)
}

// PayloadEventID derives a stable event id from a body that carries none.
func PayloadEventID(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return "hash:" + hex.EncodeToString(sum[:])
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	_ = ctx
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(webhookEventID, errMsg)
}

// MarkWebhookFailed records a retryable failure; the event stays pending.
func (s *Service) MarkWebhookFailed(ctx context.Context, webhookEventID uint, processingErr error) error {
	_ = ctx
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	if processingErr == nil {
		processingErr = errors.New("unknown error")
	}
	return s.repo.MarkWebhookFailed(webhookEventID, processingErr.Error())
}

// ListPendingWebhookEvents returns Paddle events that were stored but never
// finished, oldest first.
func (s *Service) ListPendingWebhookEvents(ctx context.Context, minAge time.Duration, maxAttempts, limit int) ([]models.BillingWebhookEvent, error) {
	_ = ctx
	return s.repo.ListPendingWebhookEvents(models.BillingProviderPaddle, time.Now().Add(-minAge), maxAttempts, limit)
}
