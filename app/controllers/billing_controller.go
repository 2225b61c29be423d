package controllers

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PixelBoost/app/models"
	"github.com/ManuelReschke/PixelBoost/internal/pkg/billing"
	"github.com/ManuelReschke/PixelBoost/internal/pkg/env"
	"github.com/ManuelReschke/PixelBoost/internal/pkg/jobqueue"
	metrics "github.com/ManuelReschke/PixelBoost/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/PixelBoost/internal/pkg/usercontext"
)

const webhookTimeout = 15 * time.Second

// BillingConfig holds the Paddle settings used by the billing endpoints.
type BillingConfig struct {
	PaddleSecret      string
	ClientToken       string
	PriceID           string
	PaddleEnvironment string
}

// BillingConfigFromEnv reads the Paddle settings from the environment.
func BillingConfigFromEnv() BillingConfig {
	return BillingConfig{
		PaddleSecret:      env.GetEnv("PADDLE_SECRET_KEY", ""),
		ClientToken:       env.GetEnv("PADDLE_CLIENT_TOKEN", env.GetEnv("NEXT_PUBLIC_PADDLE_CLIENT_TOKEN", "")),
		PriceID:           billing.DefaultPriceID(),
		PaddleEnvironment: env.GetEnv("PADDLE_ENVIRONMENT", "sandbox"),
	}
}

// StatsReader returns the billing counters.
type StatsReader func(ctx context.Context) (*metrics.Snapshot, error)

// BillingController serves the Paddle webhook and the credit endpoints.
type BillingController struct {
	svc     *billing.Service
	retries jobqueue.CreditApplyEnqueuer
	metrics metrics.Recorder
	stats   StatsReader
	cfg     BillingConfig
}

// NewBillingController wires the controller. retries and rec may be nil.
func NewBillingController(svc *billing.Service, retries jobqueue.CreditApplyEnqueuer, rec metrics.Recorder, cfg BillingConfig) *BillingController {
	if rec == nil {
		rec = metrics.NopRecorder{}
	}
	return &BillingController{svc: svc, retries: retries, metrics: rec, stats: metrics.Read, cfg: cfg}
}

func webhookMessage(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{"message": message})
}

func webhookReceived(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true})
}

// HandlePaddleWebhook verifies a Paddle delivery and credits the customer.
// Once the signature and payload are accepted the answer is always 200, so
// Paddle does not redeliver an event we already hold; ledger failures are
// retried through the job queue instead.
func (bc *BillingController) HandlePaddleWebhook(c *fiber.Ctx) error {
	secret := strings.TrimSpace(bc.cfg.PaddleSecret)
	if secret == "" {
		log.Error("[Billing] PADDLE_SECRET_KEY is not configured, rejecting webhook")
		return webhookMessage(c, fiber.StatusBadRequest, "Missing paddleSecretKey")
	}

	rawBody := append([]byte(nil), c.BodyRaw()...)
	if err := billing.CheckPaddleWebhookSignature(rawBody, c.Get(billing.PaddleSignatureHeader), secret); err != nil {
		log.Warnf("[Billing] Rejected Paddle webhook from %s: %v", clientIP(c), err)
		_ = bc.metrics.AddWebhookOutcome(metrics.OutcomeInvalidSignature)
		return webhookMessage(c, fiber.StatusUnauthorized, "Invalid signature")
	}

	if len(bytes.TrimSpace(rawBody)) == 0 {
		return webhookMessage(c, fiber.StatusBadRequest, "Missing body")
	}

	event, err := billing.ParsePaddleWebhookEvent(rawBody)
	if err != nil {
		log.Warnf("[Billing] Malformed Paddle webhook: %v", err)
		_ = bc.metrics.AddWebhookOutcome(metrics.OutcomeMalformed)
		return webhookMessage(c, fiber.StatusBadRequest, err.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()

	var storedID uint
	created, stored, err := bc.svc.RecordWebhookEvent(ctx, billing.WebhookEventInput{
		Provider:        models.BillingProviderPaddle,
		ProviderEventID: event.EventID,
		EventType:       event.EventType,
		OccurredAt:      event.OccurredAt,
		CustomerID:      event.CustomerID,
		PayloadJSON:     string(rawBody),
		SignatureValid:  true,
	})
	switch {
	case err != nil:
		log.Errorf("[Billing] Could not store Paddle event %s: %v", event.EventID, err)
	case !created && stored.ProcessedAt != nil:
		log.Infof("[Billing] Paddle event %s already processed", event.EventID)
		_ = bc.metrics.AddWebhookOutcome(metrics.OutcomeDuplicate)
		return webhookReceived(c)
	default:
		storedID = stored.ID
	}

	if event.Class == billing.EventClassUnhandled {
		log.Infof("[Billing] Ignoring Paddle event type %q", event.EventType)
		bc.markProcessed(ctx, storedID, nil)
		_ = bc.metrics.AddWebhookOutcome(metrics.OutcomeUnhandled)
		return webhookReceived(c)
	}

	result, err := bc.svc.HandlePaddleEvent(ctx, event)
	switch {
	case errors.Is(err, billing.ErrCustomerNotBound):
		log.Warnf("[Billing] Paddle customer %s is not bound to a user, event %s not credited", event.CustomerID, event.EventID)
		bc.markProcessed(ctx, storedID, err)
		_ = bc.metrics.AddWebhookOutcome(metrics.OutcomeUnbound)
	case errors.Is(err, billing.ErrMalformedPayload):
		bc.markProcessed(ctx, storedID, err)
		_ = bc.metrics.AddWebhookOutcome(metrics.OutcomeMalformed)
		return webhookMessage(c, fiber.StatusBadRequest, err.Error())
	case err != nil:
		log.Errorf("[Billing] Ledger update for Paddle event %s failed: %v", event.EventID, err)
		_ = bc.metrics.AddWebhookOutcome(metrics.OutcomeLedgerFailed)
		if storedID > 0 {
			if merr := bc.svc.MarkWebhookFailed(ctx, storedID, err); merr != nil {
				log.Errorf("[Billing] Could not record failure for webhook %d: %v", storedID, merr)
			}
		}
		bc.enqueueRetry(storedID, event.EventID, rawBody)
	case result.Applied:
		bc.markProcessed(ctx, storedID, nil)
		_ = bc.metrics.AddWebhookOutcome(metrics.OutcomeApplied)
		_ = bc.metrics.AddCredits(metrics.CreditsGranted, result.Delta)
		if !result.KnownPrice {
			_ = bc.metrics.AddCredits(metrics.FallbackPrices, 1)
		}
	default:
		bc.markProcessed(ctx, storedID, nil)
		_ = bc.metrics.AddWebhookOutcome(metrics.OutcomeDuplicate)
	}

	return webhookReceived(c)
}

func (bc *BillingController) markProcessed(ctx context.Context, id uint, processingErr error) {
	if id == 0 {
		return
	}
	if err := bc.svc.MarkWebhookProcessed(ctx, id, processingErr); err != nil {
		log.Errorf("[Billing] Could not mark webhook %d processed: %v", id, err)
	}
}

func (bc *BillingController) enqueueRetry(storedID uint, eventID string, rawBody []byte) {
	if bc.retries == nil {
		log.Errorf("[Billing] No job queue configured, Paddle event %s left for reconcile", eventID)
		return
	}
	job, err := bc.retries.EnqueueCreditApply(jobqueue.CreditApplyJobPayload{
		WebhookEventID: storedID,
		Provider:       models.BillingProviderPaddle,
		EventID:        eventID,
		PayloadJSON:    string(rawBody),
	})
	if err != nil {
		log.Errorf("[Billing] Could not enqueue retry for Paddle event %s: %v", eventID, err)
		return
	}
	log.Infof("[Billing] Enqueued credit retry job %s for Paddle event %s", job.ID, eventID)
}

type checkoutRequest struct {
	CustomerID string `json:"customerId" validate:"omitempty,max=191"`
	Email      string `json:"email" validate:"omitempty,email"`
}

// HandleCheckoutConfig returns what Paddle.js needs to open a checkout for
// the logged-in user. The user id travels back in the webhook's custom data.
func (bc *BillingController) HandleCheckoutConfig(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "login required"})
	}
	if bc.cfg.ClientToken == "" || bc.cfg.PriceID == "" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Checkout is not configured"})
	}

	var req checkoutRequest
	if len(bytes.TrimSpace(c.Body())) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid customerId or email"})
	}

	if req.CustomerID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
		defer cancel()
		if err := bc.svc.BindCustomer(ctx, models.BillingProviderPaddle, req.CustomerID, userID, req.Email); err != nil {
			log.Errorf("[Billing] Could not bind Paddle customer %s to %s: %v", req.CustomerID, userID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "could not bind customer"})
		}
	}

	return c.JSON(fiber.Map{
		"clientToken": bc.cfg.ClientToken,
		"priceId":     bc.cfg.PriceID,
		"environment": bc.cfg.PaddleEnvironment,
		"customData":  fiber.Map{"userId": userID},
	})
}

// HandleGetCredits returns the balance of the logged-in user.
func (bc *BillingController) HandleGetCredits(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "login required"})
	}
	credits, err := bc.svc.GetBalance(c.UserContext(), userID)
	if err != nil {
		log.Errorf("[Billing] Could not load balance for %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "could not load credits"})
	}
	return c.JSON(fiber.Map{"credits": credits})
}

// HandleBillingStats returns the webhook and credit counters.
func (bc *BillingController) HandleBillingStats(c *fiber.Ctx) error {
	snap, err := bc.stats(c.UserContext())
	if err != nil {
		log.Errorf("[Billing] Could not read counters: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "could not read counters"})
	}
	return c.JSON(snap)
}
