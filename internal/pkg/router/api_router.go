package router

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/PixelBoost/internal/pkg/middleware"
	"github.com/ManuelReschke/PixelBoost/internal/pkg/usercontext"
)

type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", corsMiddleware(h.deps.AllowOrigins), limiter.New(limiter.Config{
		Max:        60,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			if uid := usercontext.GetUserID(c); uid != "" {
				return "user:" + uid
			}
			return c.IP()
		},
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1", middleware.RequireAPISessionAuth)
	if h.deps.Billing != nil {
		v1.Get("/credits", h.deps.Billing.HandleGetCredits)
		v1.Post("/billing/checkout", h.deps.Billing.HandleCheckoutConfig)
	}
	if h.deps.Upscale != nil {
		v1.Post("/upscale", h.deps.Upscale.HandleUpscale)
		v1.Get("/upscale/history", h.deps.Upscale.HandleUpscaleHistory)
	}
}

// corsMiddleware allows cookies only for an explicit origin list.
func corsMiddleware(origins string) fiber.Handler {
	origins = strings.TrimSpace(origins)
	if origins == "" || origins == "*" {
		return cors.New()
	}
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowCredentials: true,
	})
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
