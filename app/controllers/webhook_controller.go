package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/metrics"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/webhook"
)

// WebhookController receives provider callbacks. It only translates the
// processor's outcome into an HTTP status; providers treat 5xx as "retry
// forever", so business rejections are never answered with one.
type WebhookController struct {
	processor *webhook.Processor
}

func NewWebhookController(processor *webhook.Processor) *WebhookController {
	return &WebhookController{processor: processor}
}

func (wc *WebhookController) HandleProviderWebhook(c *fiber.Ctx) error {
	provider := c.Params("provider")

	headers := make(map[string]string)
	for key, values := range c.GetReqHeaders() {
		if len(values) > 0 {
			headers[key] = values[0]
		}
	}

	result := wc.processor.Process(c.UserContext(), provider, c.Body(), headers)
	metrics.WebhooksProcessed.WithLabelValues(provider, outcomeLabel(result.Outcome)).Inc()

	switch result.Outcome {
	case webhook.OutcomeProcessed, webhook.OutcomeDuplicate, webhook.OutcomeInvalidTransition, webhook.OutcomeSubjectNotFound:
		return c.SendStatus(fiber.StatusOK)
	case webhook.OutcomeSignatureInvalid:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "signature_invalid"})
	case webhook.OutcomeUnparseable:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unparseable_payload"})
	case webhook.OutcomeUnknownProvider:
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown_provider"})
	default:
		return c.SendStatus(fiber.StatusInternalServerError)
	}
}

// HandleReconcileWebhooks replays stored events whose subject was not yet
// matchable when they arrived, typically because the webhook beat the
// synchronous create response or the payout's gateway attachment.
func (wc *WebhookController) HandleReconcileWebhooks(c *fiber.Ctx) error {
	applied, err := wc.processor.Reconcile(c.UserContext(), reconcileBatchSize)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "reconcile_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"replayed": applied})
}

const reconcileBatchSize = 200

func outcomeLabel(o webhook.Outcome) string {
	switch o {
	case webhook.OutcomeProcessed:
		return "processed"
	case webhook.OutcomeDuplicate:
		return "duplicate"
	case webhook.OutcomeSignatureInvalid:
		return "signature_invalid"
	case webhook.OutcomeUnparseable:
		return "unparseable"
	case webhook.OutcomeSubjectNotFound:
		return "subject_not_found"
	case webhook.OutcomeInvalidTransition:
		return "invalid_transition"
	case webhook.OutcomeUnknownProvider:
		return "unknown_provider"
	default:
		return "internal"
	}
}
