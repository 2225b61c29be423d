package controllers

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PixelBoost/app/models"
	"github.com/ManuelReschke/PixelBoost/app/repository"
	"github.com/ManuelReschke/PixelBoost/internal/pkg/billing"
	"github.com/ManuelReschke/PixelBoost/internal/pkg/env"
	metrics "github.com/ManuelReschke/PixelBoost/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/PixelBoost/internal/pkg/s3store"
	"github.com/ManuelReschke/PixelBoost/internal/pkg/upscale"
	"github.com/ManuelReschke/PixelBoost/internal/pkg/usercontext"
)

const upscaleTimeout = 90 * time.Second

// ObjectStore keeps upscale originals and results.
type ObjectStore interface {
	PutObject(ctx context.Context, objectKey string, data []byte, metadata map[string]string) (*s3store.UploadResult, error)
	Config() *s3store.Config
}

// UpscaleController spends credits on upscale jobs and tracks their history.
type UpscaleController struct {
	svc      *billing.Service
	provider upscale.Provider
	history  repository.UpscaleHistoryRepository
	store    ObjectStore
	metrics  metrics.Recorder
	cost     int
}

// UpscaleCreditCost reads UPSCALE_CREDIT_COST, defaulting to one credit.
func UpscaleCreditCost() int {
	if n, err := strconv.Atoi(env.GetEnv("UPSCALE_CREDIT_COST", "1")); err == nil && n > 0 {
		return n
	}
	return 1
}

// NewUpscaleController wires the controller. store and rec may be nil; without
// a store results are returned as data URLs.
func NewUpscaleController(svc *billing.Service, provider upscale.Provider, history repository.UpscaleHistoryRepository, store ObjectStore, rec metrics.Recorder, cost int) *UpscaleController {
	if rec == nil {
		rec = metrics.NopRecorder{}
	}
	if cost <= 0 {
		cost = 1
	}
	return &UpscaleController{svc: svc, provider: provider, history: history, store: store, metrics: rec, cost: cost}
}

// HandleUpscale upscales one image for the logged-in user.
func (uc *UpscaleController) HandleUpscale(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "login required"})
	}

	var req upscale.Request
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	img, err := upscale.PrepareImage(req.ImageData, req.Filename)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), upscaleTimeout)
	defer cancel()

	jobID := uuid.New().String()
	if err := uc.svc.SpendCredits(ctx, userID, uc.cost, jobID); err != nil {
		if errors.Is(err, billing.ErrInsufficientCredits) {
			balance, _ := uc.svc.GetBalance(ctx, userID)
			return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
				"error":    "Insufficient credits",
				"credits":  balance,
				"required": uc.cost,
			})
		}
		log.Errorf("[Upscale] Could not spend credits for %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "could not spend credits"})
	}
	_ = uc.metrics.AddCredits(metrics.CreditsSpent, uc.cost)

	entry := &models.UpscaleHistory{
		UserID:       userID,
		JobID:        jobID,
		Filename:     img.Filename,
		Provider:     uc.provider.Name(),
		Status:       models.UpscaleStatusProcessing,
		CreditsSpent: uc.cost,
	}
	if err := uc.history.Create(entry); err != nil {
		log.Warnf("[Upscale] Could not record history for job %s: %v", jobID, err)
		entry = nil
	}

	log.Infof("[Upscale] Job %s: %s (%dx%d) for %s via %s", jobID, img.Filename, img.Width, img.Height, userID, uc.provider.Name())
	result, err := uc.provider.Upscale(ctx, img)
	if err != nil {
		return uc.failUpscale(ctx, c, entry, userID, jobID, err)
	}

	originalURL, upscaledURL := "", ""
	if uc.store != nil {
		originalURL, upscaledURL = uc.storeImages(ctx, entry, userID, jobID, img, result)
	}
	if upscaledURL == "" {
		upscaledURL = upscale.DataURL(result.ContentType, result.Data)
	}

	recordID := uint(0)
	if entry != nil {
		entry.Status = models.UpscaleStatusCompleted
		if entry.ResultKey != "" {
			entry.ResultURL = upscaledURL
		}
		if err := uc.history.Update(entry); err != nil {
			log.Warnf("[Upscale] Could not update history for job %s: %v", jobID, err)
		}
		recordID = entry.ID
	}

	balance, _ := uc.svc.GetBalance(ctx, userID)
	resp := fiber.Map{
		"success":          true,
		"upscaledUrl":      upscaledURL,
		"jobId":            jobID,
		"recordId":         recordID,
		"provider":         uc.provider.Name(),
		"creditsRemaining": balance,
	}
	if originalURL != "" {
		resp["originalUrl"] = originalURL
	}
	return c.JSON(resp)
}

func (uc *UpscaleController) failUpscale(ctx context.Context, c *fiber.Ctx, entry *models.UpscaleHistory, userID, jobID string, cause error) error {
	log.Errorf("[Upscale] Job %s failed: %v", jobID, cause)

	if err := uc.svc.RefundCredits(ctx, userID, uc.cost, jobID); err != nil {
		log.Errorf("[Upscale] Refund of %d credits for job %s failed: %v", uc.cost, jobID, err)
	} else {
		_ = uc.metrics.AddCredits(metrics.CreditsRefunded, uc.cost)
	}

	if entry != nil {
		entry.Status = models.UpscaleStatusFailed
		entry.ErrorMessage = cause.Error()
		if err := uc.history.Update(entry); err != nil {
			log.Warnf("[Upscale] Could not update history for job %s: %v", jobID, err)
		}
	}

	switch {
	case errors.Is(cause, upscale.ErrRateLimited):
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "Upscale provider is busy, please retry later", "jobId": jobID})
	case errors.Is(cause, upscale.ErrInvalidImage):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "The image was rejected by the upscale provider", "details": cause.Error(), "jobId": jobID})
	case errors.Is(cause, upscale.ErrNotConfigured):
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Upscale provider is not configured", "jobId": jobID})
	default:
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "Failed to upscale image", "details": cause.Error(), "jobId": jobID})
	}
}

// storeImages uploads original and result. Upload errors are logged and
// leave the matching URL empty.
func (uc *UpscaleController) storeImages(ctx context.Context, entry *models.UpscaleHistory, userID, jobID string, img *upscale.Image, result *upscale.Result) (string, string) {
	cfg := uc.store.Config()
	now := time.Now()
	meta := map[string]string{"user-id": userID, "job-id": jobID}

	originalURL := ""
	originalKey := cfg.ObjectKey("original", userID, jobID, filepath.Ext(img.Filename), now)
	if res, err := uc.store.PutObject(ctx, originalKey, img.Data, meta); err != nil {
		log.Warnf("[Upscale] Could not store original of job %s: %v", jobID, err)
	} else {
		originalURL = res.URL
		if entry != nil {
			entry.OriginalKey = res.ObjectKey
		}
	}

	upscaledURL := ""
	resultKey := cfg.ObjectKey("result", userID, jobID, extensionFor(result.ContentType), now)
	if res, err := uc.store.PutObject(ctx, resultKey, result.Data, meta); err != nil {
		log.Warnf("[Upscale] Could not store result of job %s: %v", jobID, err)
	} else {
		upscaledURL = res.URL
		if entry != nil {
			entry.ResultKey = res.ObjectKey
		}
	}
	return originalURL, upscaledURL
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

// HandleUpscaleHistory lists the user's most recent upscale jobs.
func (uc *UpscaleController) HandleUpscaleHistory(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "login required"})
	}
	entries, err := uc.history.ListByUserID(userID, c.QueryInt("limit", repository.DefaultHistoryLimit))
	if err != nil {
		log.Errorf("[Upscale] Could not load history for %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "could not load history"})
	}
	if entries == nil {
		entries = []models.UpscaleHistory{}
	}
	return c.JSON(fiber.Map{"history": entries})
}

// HandleUpscaleCallback receives status updates for asynchronous jobs.
func (uc *UpscaleController) HandleUpscaleCallback(c *fiber.Ctx) error {
	var req upscale.CallbackRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Webhook processing failed"})
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": fmt.Sprintf("invalid callback: %v", err)})
	}

	matched, err := uc.history.UpdateStatusByJobID(req.JobID, req.Status, req.UpscaledURL, req.Error)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Errorf("[Upscale] Could not update job %s from callback: %v", req.JobID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Webhook processing failed"})
	}
	if !matched {
		log.Warnf("[Upscale] Callback for unknown job %s", req.JobID)
	}

	if req.Status == models.UpscaleStatusFailed {
		log.Errorf("[Upscale] Job %s failed: %s", req.JobID, req.Error)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Upscaling failed"})
	}
	if req.Status == models.UpscaleStatusCompleted {
		log.Infof("[Upscale] Job %s completed: %s", req.JobID, req.UpscaledURL)
	}
	return c.JSON(fiber.Map{"success": true})
}
