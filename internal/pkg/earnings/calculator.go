package earnings

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shankarelavarasan/Rapidtechstore-sub002/app/models"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/app/repository"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/env"
)

// defaultPlatformFeePercent applies when PLATFORM_FEE_PERCENT is unset.
const defaultPlatformFeePercent = 15

// Converter values an amount in another currency at the current mid rate.
type Converter interface {
	Convert(amount int64, sourceCurrency, targetCurrency string) (int64, error)
}

// Calculator derives a developer's balance from ledger sums at call time.
// Nothing is stored; the ledger rows are the single source of truth, so
// the snapshot is always consistent with them. Sales and payouts can settle
// in any currency; each per-currency sum is valued in the developer's
// payout currency through the converter.
type Calculator struct {
	repos      *repository.Repositories
	converter  Converter
	feePercent decimal.Decimal
	now        func() time.Time
}

// NewCalculator builds a calculator with an explicit platform fee percent.
func NewCalculator(repos *repository.Repositories, converter Converter, feePercent int64) *Calculator {
	return &Calculator{
		repos:      repos,
		converter:  converter,
		feePercent: decimal.NewFromInt(feePercent),
		now:        time.Now,
	}
}

// NewCalculatorFromEnv reads PLATFORM_FEE_PERCENT.
func NewCalculatorFromEnv(repos *repository.Repositories, converter Converter) *Calculator {
	pct := int64(defaultPlatformFeePercent)
	if raw := env.GetEnv("PLATFORM_FEE_PERCENT", ""); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil && parsed >= 0 && parsed <= 100 {
			pct = parsed
		}
	}
	return NewCalculator(repos, converter, pct)
}

// ComputeBalance returns the earnings snapshot for one developer in the
// developer's payout currency. The platform fee is rounded up so the
// platform never under-collects on fractional minor units; the available
// balance is clamped at zero.
func (c *Calculator) ComputeBalance(developerID uint) (*models.DeveloperEarningsSnapshot, error) {
	dev, err := c.repos.Developer.GetByID(developerID)
	if err != nil {
		return nil, fmt.Errorf("developer lookup: %w", err)
	}
	currency := dev.PayoutCurrency

	grossSums, err := c.repos.Transaction.SumCompletedByDeveloper(developerID)
	if err != nil {
		return nil, fmt.Errorf("gross revenue sum: %w", err)
	}
	completedSums, err := c.repos.Payout.SumCompletedByDeveloper(developerID)
	if err != nil {
		return nil, fmt.Errorf("completed payout sum: %w", err)
	}
	inFlightSums, err := c.repos.Payout.SumInFlightByDeveloper(developerID)
	if err != nil {
		return nil, fmt.Errorf("in-flight payout sum: %w", err)
	}

	gross, err := c.valueIn(currency, grossSums)
	if err != nil {
		return nil, fmt.Errorf("gross revenue valuation: %w", err)
	}
	completedPayouts, err := c.valueIn(currency, completedSums)
	if err != nil {
		return nil, fmt.Errorf("completed payout valuation: %w", err)
	}
	inFlight, err := c.valueIn(currency, inFlightSums)
	if err != nil {
		return nil, fmt.Errorf("in-flight payout valuation: %w", err)
	}

	fee := decimal.NewFromInt(gross).
		Mul(c.feePercent).
		Div(decimal.NewFromInt(100)).
		Ceil().
		IntPart()

	available := gross - fee - completedPayouts - inFlight
	if available < 0 {
		available = 0
	}

	return &models.DeveloperEarningsSnapshot{
		DeveloperID:      developerID,
		Currency:         currency,
		GrossRevenue:     gross,
		PlatformFee:      fee,
		CompletedPayouts: completedPayouts,
		InFlightPayouts:  inFlight,
		AvailableBalance: available,
		ComputedAt:       c.now(),
	}, nil
}

// valueIn collapses per-currency sums into one amount in the target
// currency.
func (c *Calculator) valueIn(currency string, sums map[string]int64) (int64, error) {
	var total int64
	for cur, amount := range sums {
		if cur == currency {
			total += amount
			continue
		}
		converted, err := c.converter.Convert(amount, cur, currency)
		if err != nil {
			return 0, fmt.Errorf("convert %s to %s: %w", cur, currency, err)
		}
		total += converted
	}
	return total, nil
}
