package repository

import (
	"github.com/shankarelavarasan/Rapidtechstore-sub002/app/models"
	"gorm.io/gorm"
)

// transactionRepository implements the TransactionRepository interface
type transactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository creates a new transaction repository instance
func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

func (r *transactionRepository) Create(tx *models.Transaction) error {
	return r.db.Create(tx).Error
}

func (r *transactionRepository) GetByTransactionID(transactionID string) (*models.Transaction, error) {
	var tx models.Transaction
	if err := r.db.Where("transaction_id = ?", transactionID).First(&tx).Error; err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *transactionRepository) GetByIdempotencyKey(key string) (*models.Transaction, error) {
	var tx models.Transaction
	if err := r.db.Where("idempotency_key = ?", key).First(&tx).Error; err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *transactionRepository) GetByGatewayTxID(gatewayTxID string) (*models.Transaction, error) {
	var tx models.Transaction
	if err := r.db.Where("gateway_tx_id = ?", gatewayTxID).First(&tx).Error; err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *transactionRepository) AssignGateway(id uint, gateway string, gatewayTxID *string) error {
	updates := map[string]interface{}{"gateway": gateway}
	if gatewayTxID != nil {
		updates["gateway_tx_id"] = *gatewayTxID
	}
	return r.db.Model(&models.Transaction{}).Where("id = ?", id).Updates(updates).Error
}

// CompareAndSetStatus performs the per-row atomic transition check: the
// UPDATE only matches while the stored status is still `from`, so two
// concurrent writers cannot both advance the same row.
func (r *transactionRepository) CompareAndSetStatus(id uint, from, to, failureReason string) (bool, error) {
	updates := map[string]interface{}{"status": to}
	if failureReason != "" {
		updates["failure_reason"] = failureReason
	}
	res := r.db.Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *transactionRepository) SumCompletedByDeveloper(developerID uint) (map[string]int64, error) {
	var rows []struct {
		Currency string
		Total    int64
	}
	err := r.db.Model(&models.Transaction{}).
		Select("currency, COALESCE(SUM(amount), 0) AS total").
		Where("developer_id = ? AND status = ?", developerID, models.StatusCompleted).
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
