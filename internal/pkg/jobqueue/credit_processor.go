package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PixelBoost/app/models"
	"github.com/ManuelReschke/PixelBoost/internal/pkg/billing"
	metrics "github.com/ManuelReschke/PixelBoost/internal/pkg/metrics/counter"
)

// CreditService is the part of billing.Service the billing jobs use
type CreditService interface {
	HandlePaddleEvent(ctx context.Context, event *billing.PaddleWebhookEvent) (*billing.CreditResult, error)
	MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error
	MarkWebhookFailed(ctx context.Context, webhookEventID uint, processingErr error) error
	ListPendingWebhookEvents(ctx context.Context, minAge time.Duration, maxAttempts, limit int) ([]models.BillingWebhookEvent, error)
}

// CreditApplyEnqueuer schedules credit_apply jobs
type CreditApplyEnqueuer interface {
	EnqueueCreditApply(payload CreditApplyJobPayload) (*Job, error)
}

// NewCreditApplyHandler re-applies a stored webhook body. Ledger failures are
// returned so the queue retries; payloads that can never succeed are marked
// processed with their error instead.
func NewCreditApplyHandler(svc CreditService, rec metrics.Recorder) Handler {
	if rec == nil {
		rec = metrics.NopRecorder{}
	}
	return func(ctx context.Context, job *Job) error {
		payload, err := CreditApplyJobPayloadFromMap(job.Payload)
		if err != nil {
			return fmt.Errorf("invalid credit apply payload: %w", err)
		}

		event, err := billing.ParsePaddleWebhookEvent([]byte(payload.PayloadJSON))
		if err != nil {
			log.Warnf("[CreditApply] Dropping unparseable event %s: %v", payload.EventID, err)
			markProcessed(ctx, svc, payload.WebhookEventID, err)
			_ = rec.AddWebhookOutcome(metrics.OutcomeMalformed)
			return nil
		}

		result, err := svc.HandlePaddleEvent(ctx, event)
		switch {
		case errors.Is(err, billing.ErrCustomerNotBound), errors.Is(err, billing.ErrMalformedPayload):
			log.Warnf("[CreditApply] Event %s will not be credited: %v", payload.EventID, err)
			markProcessed(ctx, svc, payload.WebhookEventID, err)
			outcome := metrics.OutcomeUnbound
			if errors.Is(err, billing.ErrMalformedPayload) {
				outcome = metrics.OutcomeMalformed
			}
			_ = rec.AddWebhookOutcome(outcome)
			return nil
		case err != nil:
			if payload.WebhookEventID > 0 {
				if merr := svc.MarkWebhookFailed(ctx, payload.WebhookEventID, err); merr != nil {
					log.Errorf("[CreditApply] Could not record failure for webhook %d: %v", payload.WebhookEventID, merr)
				}
			}
			_ = rec.AddWebhookOutcome(metrics.OutcomeLedgerFailed)
			return err
		}

		markProcessed(ctx, svc, payload.WebhookEventID, nil)
		switch {
		case result == nil:
			_ = rec.AddWebhookOutcome(metrics.OutcomeUnhandled)
		case result.Applied:
			_ = rec.AddWebhookOutcome(metrics.OutcomeApplied)
			_ = rec.AddCredits(metrics.CreditsGranted, result.Delta)
			log.Infof("[CreditApply] Event %s credited %d to %s", payload.EventID, result.Delta, result.UserID)
		default:
			_ = rec.AddWebhookOutcome(metrics.OutcomeDuplicate)
		}
		return nil
	}
}

func markProcessed(ctx context.Context, svc CreditService, id uint, processingErr error) {
	if id == 0 {
		return
	}
	if err := svc.MarkWebhookProcessed(ctx, id, processingErr); err != nil {
		log.Errorf("[CreditApply] Could not mark webhook %d processed: %v", id, err)
	}
}

// WebhookMarkerSink closes out the stored webhook of a dead credit_apply job
// so the reconcile sweep stops picking it up.
type WebhookMarkerSink struct {
	Service CreditService
}

func (s WebhookMarkerSink) Publish(ctx context.Context, job *Job) error {
	if job.Type != JobTypeCreditApply || s.Service == nil {
		return nil
	}
	payload, err := CreditApplyJobPayloadFromMap(job.Payload)
	if err != nil || payload.WebhookEventID == 0 {
		return err
	}
	return s.Service.MarkWebhookProcessed(ctx, payload.WebhookEventID, fmt.Errorf("dead-lettered after %d attempts: %s", job.RetryCount, job.ErrorMsg))
}
