package repository

import (
	"github.com/shankarelavarasan/Rapidtechstore-sub002/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// purchaseRepository implements the PurchaseRepository interface
type purchaseRepository struct {
	db *gorm.DB
}

// NewPurchaseRepository creates a new purchase repository instance
func NewPurchaseRepository(db *gorm.DB) PurchaseRepository {
	return &purchaseRepository{db: db}
}

// CreateIfNotExists relies on the unique idempotency-key index so that
// concurrent duplicate webhook deliveries produce at most one purchase.
func (r *purchaseRepository) CreateIfNotExists(p *models.Purchase) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idempotency_key"}},
		DoNothing: true,
	}).Create(p)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *purchaseRepository) GetByIdempotencyKey(key string) (*models.Purchase, error) {
	var p models.Purchase
	if err := r.db.Where("idempotency_key = ?", key).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}
