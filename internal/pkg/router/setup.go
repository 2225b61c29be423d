package router

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PixelBoost/app/controllers"
)

// Router installs a group of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies are the controllers and credentials the routes are built from.
type Dependencies struct {
	Billing *controllers.BillingController
	Upscale *controllers.UpscaleController

	// UpscaleWebhookToken guards the vendor callback; empty disables the check.
	UpscaleWebhookToken string
	MetricsUser         string
	MetricsPassword     string
	// AllowOrigins is the comma separated CORS origin list of the API.
	AllowOrigins        string
	// HealthChecks are reported by /health; any error turns it into a 503.
	HealthChecks        map[string]func(ctx context.Context) error
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	// HttpRouter sets up the session store and the global UserContext
	// middleware that the API routes rely on.
	setup(app, NewHttpRouter(deps), NewWebhookRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
