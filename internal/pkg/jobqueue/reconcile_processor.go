package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

const (
	DefaultReconcileMinAge      = 5 * time.Minute
	DefaultReconcileLimit       = 100
	DefaultReconcileMaxAttempts = 10
)

// NewWebhookReconcileHandler enqueues a credit_apply job for every stored
// webhook that is older than the minimum age and still unprocessed.
func NewWebhookReconcileHandler(svc CreditService, enq CreditApplyEnqueuer, maxAttempts int) Handler {
	if maxAttempts <= 0 {
		maxAttempts = DefaultReconcileMaxAttempts
	}
	return func(ctx context.Context, job *Job) error {
		payload, err := WebhookReconcileJobPayloadFromMap(job.Payload)
		if err != nil {
			return fmt.Errorf("invalid reconcile payload: %w", err)
		}
		minAge := time.Duration(payload.MinAgeSeconds) * time.Second
		if minAge <= 0 {
			minAge = DefaultReconcileMinAge
		}
		limit := payload.Limit
		if limit <= 0 {
			limit = DefaultReconcileLimit
		}

		_, err = reconcileWebhooks(ctx, svc, enq, minAge, maxAttempts, limit)
		return err
	}
}

func reconcileWebhooks(ctx context.Context, svc CreditService, enq CreditApplyEnqueuer, minAge time.Duration, maxAttempts, limit int) (int, error) {
	events, err := svc.ListPendingWebhookEvents(ctx, minAge, maxAttempts, limit)
	if err != nil {
		return 0, fmt.Errorf("list pending webhooks: %w", err)
	}
	if len(events) == 0 {
		log.Debug("[Reconcile] No pending webhook events")
		return 0, nil
	}

	enqueued := 0
	for _, ev := range events {
		_, err := enq.EnqueueCreditApply(CreditApplyJobPayload{
			WebhookEventID: ev.ID,
			Provider:       ev.Provider,
			EventID:        ev.ProviderEventID,
			PayloadJSON:    ev.PayloadJSON,
		})
		if err != nil {
			log.Errorf("[Reconcile] Failed to enqueue webhook %d: %v", ev.ID, err)
			continue
		}
		enqueued++
	}
	log.Infof("[Reconcile] Enqueued %d/%d pending webhook events", enqueued, len(events))
	return enqueued, nil
}
