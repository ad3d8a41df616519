package repository

import (
	"github.com/shankarelavarasan/Rapidtechstore-sub002/app/models"
	"gorm.io/gorm"
)

// quoteRepository implements the QuoteRepository interface
type quoteRepository struct {
	db *gorm.DB
}

// NewQuoteRepository creates a new quote repository instance
func NewQuoteRepository(db *gorm.DB) QuoteRepository {
	return &quoteRepository{db: db}
}

func (r *quoteRepository) Create(q *models.Quote) error {
	return r.db.Create(q).Error
}

func (r *quoteRepository) GetByQuoteID(quoteID string) (*models.Quote, error) {
	var q models.Quote
	if err := r.db.Where("quote_id = ?", quoteID).First(&q).Error; err != nil {
		return nil, err
	}
	return &q, nil
}
