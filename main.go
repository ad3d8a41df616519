package main

import (
	"fmt"
	"log"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shankarelavarasan/Rapidtechstore-sub002/app/controllers"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/app/repository"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/cache"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/currency"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/database"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/earnings"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/env"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/gateway"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/ledger"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/notify"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/payments"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/router"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/scheduler"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/webhook"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	repository.InitializeFactory(database.GetDB())
	repos := repository.GetGlobalRepositories()

	registry := gateway.NewRegistry(
		gateway.NewRazorpayClientFromEnv(),
		gateway.NewStripeClientFromEnv(),
		gateway.NewWiseClientFromEnv(),
		gateway.NewPayPalClientFromEnv(),
	)

	quotes := currency.NewServiceFromEnv(repos.Quote)
	calculator := earnings.NewCalculatorFromEnv(repos, quotes)
	writer := ledger.NewWriter(repos, notify.NewMailerFromEnv())
	paymentService := payments.NewService(repos, registry, quotes, writer, calculator)
	payoutScheduler := scheduler.NewScheduler(repos, calculator, paymentService, scheduler.CacheLocker{})
	processor := webhook.NewProcessor(registry, repos, writer,
		webhook.DedupFunc(func(key string, retention time.Duration) (bool, error) {
			return cache.SetNX(key, "1", retention)
		}))

	app := fiber.New(fiber.Config{
		AppName: "rapid-pay-orchestrator",
	})
	app.Use(recover.New(), logger.New())
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", monitor.New())
	app.Get("/metrics/prometheus", adaptor.HTTPHandler(promhttp.Handler()))

	router.InstallRouter(app, router.Dependencies{
		Payments: controllers.NewPaymentController(paymentService),
		Payouts:  controllers.NewPayoutController(paymentService, payoutScheduler),
		Earnings: controllers.NewEarningsController(calculator, quotes),
		Webhooks: controllers.NewWebhookController(processor),
	})

	return app
}
