package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/shankarelavarasan/Rapidtechstore-sub002/app/models"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/payments"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/scheduler"
)

// PayoutController handles payout creation, lookup and the external
// scheduler trigger.
type PayoutController struct {
	service *payments.Service
	sched   *scheduler.Scheduler
}

func NewPayoutController(service *payments.Service, sched *scheduler.Scheduler) *PayoutController {
	return &PayoutController{service: service, sched: sched}
}

func (pc *PayoutController) HandleCreatePayout(c *fiber.Ctx) error {
	var req payments.CreatePayoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": payments.CodeValidationError, "message": "request body is not valid JSON",
		})
	}
	// External callers create manual payouts only; the automatic source is
	// reserved for the scheduler.
	req.Source = models.PayoutSourceManual

	p, err := pc.service.CreatePayout(c.UserContext(), req)
	if err != nil {
		return serviceErrorResponse(c, err, fiber.Map{"payout": p})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"payout": p})
}

func (pc *PayoutController) HandleGetPayout(c *fiber.Ctx) error {
	p, err := pc.service.GetPayout(c.Params("id"))
	if err != nil {
		return serviceErrorResponse(c, err, nil)
	}
	return c.JSON(fiber.Map{"payout": p})
}

// HandleRunScheduler is the external cron trigger. Overlap with a running
// pass is reported as a conflict, not an error condition to retry hard.
func (pc *PayoutController) HandleRunScheduler(c *fiber.Ctx) error {
	report, err := pc.sched.Run(c.UserContext())
	if err != nil {
		if errors.Is(err, scheduler.ErrRunInProgress) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "run_in_progress", "message": "a scheduler run is already active",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": payments.CodeInternalError, "message": "scheduler run failed",
		})
	}
	return c.JSON(fiber.Map{"report": report})
}
