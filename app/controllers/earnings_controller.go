package controllers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/currency"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/earnings"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/metrics"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/payments"
)

// EarningsController serves developer earnings snapshots and conversion
// quotes.
type EarningsController struct {
	calculator *earnings.Calculator
	quotes     *currency.Service
}

func NewEarningsController(calculator *earnings.Calculator, quotes *currency.Service) *EarningsController {
	return &EarningsController{calculator: calculator, quotes: quotes}
}

func (ec *EarningsController) HandleGetEarnings(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": payments.CodeValidationError, "message": "developer id must be numeric",
		})
	}

	snapshot, err := ec.calculator.ComputeBalance(uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": payments.CodeNotFound, "message": "developer not found",
			})
		}
		log.Errorf("earnings snapshot for developer %d failed: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": payments.CodeInternalError, "message": "earnings computation failed",
		})
	}
	return c.JSON(fiber.Map{"earnings": snapshot})
}

type quoteRequest struct {
	Amount         int64  `json:"amount"`
	SourceCurrency string `json:"source_currency"`
	TargetCurrency string `json:"target_currency"`
}

func (ec *EarningsController) HandleCreateQuote(c *fiber.Ctx) error {
	var req quoteRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": payments.CodeValidationError, "message": "request body is not valid JSON",
		})
	}
	if req.Amount <= 0 || len(req.SourceCurrency) != 3 || len(req.TargetCurrency) != 3 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": payments.CodeValidationError, "message": "amount and two 3-letter currencies are required",
		})
	}

	q, err := ec.quotes.Quote(req.Amount, req.SourceCurrency, req.TargetCurrency)
	if err != nil {
		if errors.Is(err, currency.ErrUnsupportedCurrency) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": payments.CodeValidationError, "message": err.Error(),
			})
		}
		log.Errorf("quote issuance failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": payments.CodeInternalError, "message": "quote issuance failed",
		})
	}
	metrics.QuotesIssued.WithLabelValues(q.SourceCurrency, q.TargetCurrency).Inc()
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"quote": q})
}
