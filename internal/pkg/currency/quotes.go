package currency

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shankarelavarasan/Rapidtechstore-sub002/app/models"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/app/repository"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/env"
)

var (
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	ErrQuoteExpired        = errors.New("quote expired")
)

// ratesPerUSD maps currency codes to units per 1 USD. The table is the
// deterministic rate source; a per-minute-bucket drift of a few basis
// points stands in for live movement without breaking reproducibility.
var ratesPerUSD = map[string]string{
	"USD": "1.0",
	"EUR": "0.92",
	"GBP": "0.79",
	"INR": "83.20",
	"SGD": "1.35",
	"AUD": "1.52",
	"CAD": "1.36",
	"JPY": "149.50",
}

// Service issues short-lived priced conversion quotes.
type Service struct {
	repo     repository.QuoteRepository
	validity time.Duration
	feeBps   int64
	now      func() time.Time
}

// NewService creates a quote service with an injected repository.
func NewService(repo repository.QuoteRepository, validity time.Duration, feeBps int64) *Service {
	if validity <= 0 {
		validity = 5 * time.Minute
	}
	return &Service{repo: repo, validity: validity, feeBps: feeBps, now: time.Now}
}

// NewServiceFromEnv reads QUOTE_VALIDITY_SECONDS and CONVERSION_FEE_BPS.
func NewServiceFromEnv(repo repository.QuoteRepository) *Service {
	validitySecs, _ := strconv.Atoi(env.GetEnv("QUOTE_VALIDITY_SECONDS", "300"))
	feeBps, _ := strconv.ParseInt(env.GetEnv("CONVERSION_FEE_BPS", "150"), 10, 64)
	return NewService(repo, time.Duration(validitySecs)*time.Second, feeBps)
}

// Quote prices a conversion of amount (minor units) from source to target.
// Same-currency requests return an identity quote (rate 1, fee 0) without
// consulting the rate table.
func (s *Service) Quote(amount int64, sourceCurrency, targetCurrency string) (*models.Quote, error) {
	source := strings.ToUpper(strings.TrimSpace(sourceCurrency))
	target := strings.ToUpper(strings.TrimSpace(targetCurrency))
	now := s.now()

	q := &models.Quote{
		QuoteID:        uuid.NewString(),
		SourceCurrency: source,
		TargetCurrency: target,
		SourceAmount:   amount,
		ExpiresAt:      now.Add(s.validity),
	}

	if source == target {
		q.Rate = "1"
		q.Fee = 0
		q.TargetAmount = amount
	} else {
		rate, err := s.rate(source, target, now)
		if err != nil {
			return nil, err
		}
		fee := decimal.NewFromInt(amount).
			Mul(decimal.NewFromInt(s.feeBps)).
			Div(decimal.NewFromInt(10000)).
			Ceil().IntPart()
		converted := decimal.NewFromInt(amount - fee).Mul(rate).Floor().IntPart()
		if converted < 0 {
			converted = 0
		}
		q.Rate = rate.String()
		q.Fee = fee
		q.TargetAmount = converted
	}

	if s.repo != nil {
		if err := s.repo.Create(q); err != nil {
			return nil, fmt.Errorf("store quote: %w", err)
		}
	}
	return q, nil
}

// Convert values amount at the current mid rate without issuing a quote
// and without the conversion fee. Used for balance valuation; actual money
// movement always goes through Quote.
func (s *Service) Convert(amount int64, sourceCurrency, targetCurrency string) (int64, error) {
	source := strings.ToUpper(strings.TrimSpace(sourceCurrency))
	target := strings.ToUpper(strings.TrimSpace(targetCurrency))
	if source == target {
		return amount, nil
	}
	rate, err := s.rate(source, target, s.now())
	if err != nil {
		return 0, err
	}
	return decimal.NewFromInt(amount).Mul(rate).Floor().IntPart(), nil
}

// Resolve loads a previously issued quote and enforces its expiry.
func (s *Service) Resolve(quoteID string) (*models.Quote, error) {
	q, err := s.repo.GetByQuoteID(quoteID)
	if err != nil {
		return nil, err
	}
	if q.Expired(s.now()) {
		return nil, ErrQuoteExpired
	}
	return q, nil
}

// rate is deterministic for a (source, target, minute-bucket) triple.
func (s *Service) rate(source, target string, now time.Time) (decimal.Decimal, error) {
	srcPerUSD, ok := ratesPerUSD[source]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, source)
	}
	tgtPerUSD, ok := ratesPerUSD[target]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, target)
	}

	base := decimal.RequireFromString(tgtPerUSD).Div(decimal.RequireFromString(srcPerUSD))

	// Drift in [-3, +3] bps derived from the minute bucket.
	bucket := now.Unix() / 60
	driftBps := bucket%7 - 3
	drift := decimal.NewFromInt(10000 + driftBps).Div(decimal.NewFromInt(10000))
	return base.Mul(drift).Round(8), nil
}
