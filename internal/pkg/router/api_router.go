package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/shankarelavarasan/Rapidtechstore-sub002/app/controllers"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/middleware"
)

// Dependencies carries the constructed controllers into route installation.
type Dependencies struct {
	Payments *controllers.PaymentController
	Payouts  *controllers.PayoutController
	Earnings *controllers.EarningsController
	Webhooks *controllers.WebhookController
}

type ApiRouter struct {
	deps Dependencies
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}

func (h *ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "payment orchestration api",
		})
	})

	v1 := api.Group("/v1", middleware.APIKeyAuthMiddleware())

	v1.Post("/payments", h.deps.Payments.HandleCreatePayment)
	v1.Get("/transactions/:id", h.deps.Payments.HandleGetTransaction)
	v1.Post("/payments/:id/cancel", h.deps.Payments.HandleCancelPayment)

	v1.Post("/payouts", h.deps.Payouts.HandleCreatePayout)
	v1.Get("/payouts/:id", h.deps.Payouts.HandleGetPayout)
	v1.Post("/scheduler/run", h.deps.Payouts.HandleRunScheduler)
	v1.Post("/webhooks/reconcile", h.deps.Webhooks.HandleReconcileWebhooks)

	v1.Get("/developers/:id/earnings", h.deps.Earnings.HandleGetEarnings)
	v1.Post("/quotes", h.deps.Earnings.HandleCreateQuote)
}

// WebhookRouter installs the unauthenticated provider callback endpoint.
type WebhookRouter struct {
	deps Dependencies
}

func NewWebhookRouter(deps Dependencies) *WebhookRouter {
	return &WebhookRouter{deps: deps}
}

func (h *WebhookRouter) InstallRouter(app *fiber.App) {
	app.Post("/webhooks/:provider", h.deps.Webhooks.HandleProviderWebhook)
}
