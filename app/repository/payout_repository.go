package repository

import (
	"errors"
	"time"

	"github.com/shankarelavarasan/Rapidtechstore-sub002/app/models"
	"gorm.io/gorm"
)

// payoutRepository implements the PayoutRepository interface
type payoutRepository struct {
	db *gorm.DB
}

// NewPayoutRepository creates a new payout repository instance
func NewPayoutRepository(db *gorm.DB) PayoutRepository {
	return &payoutRepository{db: db}
}

func (r *payoutRepository) Create(p *models.Payout) error {
	return r.db.Create(p).Error
}

func (r *payoutRepository) GetByPayoutID(payoutID string) (*models.Payout, error) {
	var p models.Payout
	if err := r.db.Where("payout_id = ?", payoutID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *payoutRepository) GetByIdempotencyKey(key string) (*models.Payout, error) {
	var p models.Payout
	if err := r.db.Where("idempotency_key = ?", key).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *payoutRepository) GetByGatewayTxID(gatewayTxID string) (*models.Payout, error) {
	var p models.Payout
	if err := r.db.Where("gateway_tx_id = ?", gatewayTxID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *payoutRepository) AssignGateway(id uint, gateway string, gatewayTxID *string, estimatedAt *time.Time) error {
	updates := map[string]interface{}{"gateway": gateway}
	if gatewayTxID != nil {
		updates["gateway_tx_id"] = *gatewayTxID
	}
	if estimatedAt != nil {
		updates["estimated_at"] = estimatedAt
	}
	return r.db.Model(&models.Payout{}).Where("id = ?", id).Updates(updates).Error
}

func (r *payoutRepository) CompareAndSetStatus(id uint, from, to, failureReason string) (bool, error) {
	updates := map[string]interface{}{"status": to}
	if failureReason != "" {
		updates["failure_reason"] = failureReason
	}
	res := r.db.Model(&models.Payout{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *payoutRepository) SumCompletedByDeveloper(developerID uint) (map[string]int64, error) {
	return r.sumByCurrency(developerID, []string{models.StatusCompleted})
}

func (r *payoutRepository) SumInFlightByDeveloper(developerID uint) (map[string]int64, error) {
	return r.sumByCurrency(developerID, []string{models.StatusPending, models.StatusProcessing})
}

func (r *payoutRepository) sumByCurrency(developerID uint, statuses []string) (map[string]int64, error) {
	var rows []struct {
		Currency string
		Total    int64
	}
	err := r.db.Model(&models.Payout{}).
		Select("currency, COALESCE(SUM(amount), 0) AS total").
		Where("developer_id = ? AND status IN ?", developerID, statuses).
		Group("currency").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	sums := make(map[string]int64, len(rows))
	for _, row := range rows {
		sums[row.Currency] = row.Total
	}
	return sums, nil
}

func (r *payoutRepository) LastCompletedAt(developerID uint) (*time.Time, error) {
	var p models.Payout
	err := r.db.Where("developer_id = ? AND status = ?", developerID, models.StatusCompleted).
		Order("updated_at DESC").
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	t := p.UpdatedAt
	return &t, nil
}
