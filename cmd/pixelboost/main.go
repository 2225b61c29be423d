package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/PixelBoost/app/controllers"
	"github.com/ManuelReschke/PixelBoost/app/repository"
	"github.com/ManuelReschke/PixelBoost/internal/pkg/billing"
	"github.com/ManuelReschke/PixelBoost/internal/pkg/cache"
	"github.com/ManuelReschke/PixelBoost/internal/pkg/database"
	"github.com/ManuelReschke/PixelBoost/internal/pkg/env"
	"github.com/ManuelReschke/PixelBoost/internal/pkg/jobqueue"
	metrics "github.com/ManuelReschke/PixelBoost/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/PixelBoost/internal/pkg/router"
	"github.com/ManuelReschke/PixelBoost/internal/pkg/s3store"
	"github.com/ManuelReschke/PixelBoost/internal/pkg/upscale"
)

func main() {
	app := NewApplication()

	go func() {
		addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
		if err := app.Listen(addr); err != nil {
			log.Fatalf("[Main] Server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("[Main] Shutting down")
	jobqueue.GetManager().Stop()
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Errorf("[Main] Shutdown error: %v", err)
	}
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()
	repository.InitializeFactory(database.GetDB())

	svc := billing.NewServiceFromDB(database.GetDB())

	// webhook retries and the reconcile sweep
	manager := jobqueue.GetManager()
	manager.UseBillingService(svc)
	manager.Start()

	billingCtrl := controllers.NewBillingController(svc, manager.GetQueue(), metrics.NewRecorder(), controllers.BillingConfigFromEnv())
	upscaleCtrl := controllers.NewUpscaleController(
		svc,
		upscale.NewProviderFromEnv(),
		repository.GetGlobalFactory().GetUpscaleHistoryRepository(),
		objectStore(),
		metrics.NewRecorder(),
		controllers.UpscaleCreditCost(),
	)

	// init fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: 16 * 1024 * 1024, // base64 adds a third on top of the 10 MB image limit
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// ROUTER
	router.InstallRouter(app, router.Dependencies{
		Billing:             billingCtrl,
		Upscale:             upscaleCtrl,
		UpscaleWebhookToken: env.GetEnv("UPSCALE_WEBHOOK_TOKEN", ""),
		MetricsUser:         env.GetEnv("METRICS_USER", ""),
		MetricsPassword:     env.GetEnv("METRICS_PASSWORD", ""),
		AllowOrigins:        env.GetEnv("CORS_ALLOW_ORIGINS", ""),
		HealthChecks: map[string]func(ctx context.Context) error{
			"cache": cache.Ping,
			"database": func(ctx context.Context) error {
				sqlDB, err := database.GetDB().DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			},
		},
	})

	return app
}

// objectStore returns nil when S3 is disabled or unreachable; results are
// then returned inline as data URLs.
func objectStore() controllers.ObjectStore {
	cfg, err := s3store.LoadConfig()
	if err != nil {
		log.Errorf("[Main] Invalid S3 configuration, storing nothing: %v", err)
		return nil
	}
	if !cfg.IsEnabled() {
		log.Info("[Main] S3 disabled, upscale results are returned inline")
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	client, err := s3store.NewClient(ctx, cfg)
	if err != nil {
		log.Errorf("[Main] S3 unavailable, storing nothing: %v", err)
		return nil
	}
	return client
}
