package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PixelBoost/internal/pkg/middleware"
)

// WebhookRouter registers provider callbacks. They carry no session and no
// CSRF token; each one authenticates the sender itself.
type WebhookRouter struct {
	deps Dependencies
}

func (w WebhookRouter) InstallRouter(app *fiber.App) {
	hooks := app.Group("/webhooks")

	// signature-verified in the controller
	if w.deps.Billing != nil {
		hooks.Post("/paddle", w.deps.Billing.HandlePaddleWebhook)
	}
	if w.deps.Upscale != nil {
		hooks.Post("/upscale", middleware.RequireSharedToken(w.deps.UpscaleWebhookToken), w.deps.Upscale.HandleUpscaleCallback)
	}
}

func NewWebhookRouter(deps Dependencies) *WebhookRouter {
	return &WebhookRouter{deps: deps}
}
