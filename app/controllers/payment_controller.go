package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/payments"
)

// PaymentController handles payment creation, status and cancellation.
type PaymentController struct {
	service *payments.Service
}

func NewPaymentController(service *payments.Service) *PaymentController {
	return &PaymentController{service: service}
}

func (pc *PaymentController) HandleCreatePayment(c *fiber.Ctx) error {
	var req payments.CreatePaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": payments.CodeValidationError, "message": "request body is not valid JSON",
		})
	}

	tx, err := pc.service.CreatePayment(c.UserContext(), req)
	if err != nil {
		// The transaction may exist in FAILED state; include it so the
		// caller can query it later.
		return serviceErrorResponse(c, err, fiber.Map{"transaction": tx})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"transaction": tx})
}

func (pc *PaymentController) HandleGetTransaction(c *fiber.Ctx) error {
	tx, err := pc.service.GetTransaction(c.Params("id"))
	if err != nil {
		return serviceErrorResponse(c, err, nil)
	}
	return c.JSON(fiber.Map{"transaction": tx})
}

func (pc *PaymentController) HandleCancelPayment(c *fiber.Ctx) error {
	tx, err := pc.service.CancelPayment(c.UserContext(), c.Params("id"))
	if err != nil {
		return serviceErrorResponse(c, err, nil)
	}
	return c.JSON(fiber.Map{"transaction": tx})
}

// serviceErrorResponse maps stable service error codes onto HTTP statuses.
// extra fields are merged into the response body when non-nil.
func serviceErrorResponse(c *fiber.Ctx, err error, extra fiber.Map) error {
	se, ok := payments.AsServiceError(err)
	if !ok {
		log.Errorf("unclassified service error: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": payments.CodeInternalError, "message": "internal error",
		})
	}

	status := fiber.StatusInternalServerError
	switch se.Code {
	case payments.CodeValidationError, payments.CodeAmountOutOfRange:
		status = fiber.StatusBadRequest
	case payments.CodeNotFound:
		status = fiber.StatusNotFound
	case payments.CodeQuoteExpired, payments.CodeInsufficientBalance, payments.CodeInvalidStateTransition:
		status = fiber.StatusConflict
	case payments.CodeNoGatewayAvailable:
		status = fiber.StatusUnprocessableEntity
	case payments.CodeGatewayError:
		status = fiber.StatusBadGateway
	}

	body := fiber.Map{"error": se.Code, "message": se.Message}
	for k, v := range extra {
		body[k] = v
	}
	return c.Status(status).JSON(body)
}
