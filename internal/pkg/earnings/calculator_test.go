package earnings

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/shankarelavarasan/Rapidtechstore-sub002/app/models"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/app/repository"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/currency"
)

type stubDeveloperRepo struct {
	dev *models.Developer
}

func (r *stubDeveloperRepo) GetByID(id uint) (*models.Developer, error) {
	if r.dev == nil || r.dev.ID != id {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *r.dev
	return &cp, nil
}

func (r *stubDeveloperRepo) ListAutoPayoutEnabled() ([]models.Developer, error) {
	if r.dev == nil || !r.dev.AutoPayoutEnabled {
		return nil, nil
	}
	return []models.Developer{*r.dev}, nil
}

func (r *stubDeveloperRepo) SetMissingAccountFlag(id uint, flagged bool) error {
	r.dev.MissingAccountFlagged = flagged
	return nil
}

type stubSumTransactionRepo struct {
	repository.TransactionRepository
	completed map[string]int64
}

func (r *stubSumTransactionRepo) SumCompletedByDeveloper(uint) (map[string]int64, error) {
	return r.completed, nil
}

type stubSumPayoutRepo struct {
	repository.PayoutRepository
	completed map[string]int64
	inFlight  map[string]int64
}

func (r *stubSumPayoutRepo) SumCompletedByDeveloper(uint) (map[string]int64, error) {
	return r.completed, nil
}

func (r *stubSumPayoutRepo) SumInFlightByDeveloper(uint) (map[string]int64, error) {
	return r.inFlight, nil
}

func snapshotRepos(gross, paidOut, inFlight map[string]int64) *repository.Repositories {
	return &repository.Repositories{
		Developer:   &stubDeveloperRepo{dev: &models.Developer{ID: 1, PayoutCurrency: "USD"}},
		Transaction: &stubSumTransactionRepo{completed: gross},
		Payout:      &stubSumPayoutRepo{completed: paidOut, inFlight: inFlight},
	}
}

func usd(amount int64) map[string]int64 {
	if amount == 0 {
		return nil
	}
	return map[string]int64{"USD": amount}
}

func TestComputeBalance(t *testing.T) {
	tests := []struct {
		name          string
		feePercent    int64
		gross         int64
		paidOut       int64
		inFlight      int64
		wantFee       int64
		wantAvailable int64
	}{
		{
			name:       "simple split",
			feePercent: 15, gross: 100000,
			wantFee: 15000, wantAvailable: 85000,
		},
		{
			name:       "fee rounds up on fractional minor units",
			feePercent: 15, gross: 99,
			wantFee: 15, wantAvailable: 84,
		},
		{
			name:       "completed and in-flight payouts both reserved",
			feePercent: 15, gross: 100000, paidOut: 50000, inFlight: 20000,
			wantFee: 15000, wantAvailable: 15000,
		},
		{
			name:       "over-disbursed clamps at zero",
			feePercent: 15, gross: 100000, paidOut: 90000,
			wantFee: 15000, wantAvailable: 0,
		},
		{
			name:       "zero revenue",
			feePercent: 15,
			wantFee:    0, wantAvailable: 0,
		},
		{
			name:       "zero fee percent",
			feePercent: 0, gross: 40000, paidOut: 10000,
			wantFee: 0, wantAvailable: 30000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repos := snapshotRepos(usd(tt.gross), usd(tt.paidOut), usd(tt.inFlight))
			calc := NewCalculator(repos, currency.NewService(nil, time.Minute, 0), tt.feePercent)
			calc.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

			snap, err := calc.ComputeBalance(1)
			require.NoError(t, err)
			assert.Equal(t, "USD", snap.Currency)
			assert.Equal(t, tt.gross, snap.GrossRevenue)
			assert.Equal(t, tt.wantFee, snap.PlatformFee)
			assert.Equal(t, tt.wantAvailable, snap.AvailableBalance)
		})
	}
}

// doublingConverter pretends every foreign unit is worth two payout units,
// which makes the cross-currency math easy to assert on.
type doublingConverter struct{}

func (doublingConverter) Convert(amount int64, _, _ string) (int64, error) {
	return amount * 2, nil
}

func TestComputeBalanceConvertsForeignRevenue(t *testing.T) {
	repos := snapshotRepos(
		map[string]int64{"USD": 10000, "INR": 50000},
		map[string]int64{"EUR": 1000},
		nil,
	)
	calc := NewCalculator(repos, doublingConverter{}, 0)

	snap, err := calc.ComputeBalance(1)
	require.NoError(t, err)
	// 10000 USD + 50000 INR * 2, minus 1000 EUR * 2 already paid out.
	assert.Equal(t, int64(110000), snap.GrossRevenue)
	assert.Equal(t, int64(2000), snap.CompletedPayouts)
	assert.Equal(t, int64(108000), snap.AvailableBalance)
}

func TestComputeBalanceUnknownDeveloper(t *testing.T) {
	calc := NewCalculator(snapshotRepos(nil, nil, nil), doublingConverter{}, 15)
	_, err := calc.ComputeBalance(42)
	assert.Error(t, err)
}
