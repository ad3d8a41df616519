package repository

import (
	"github.com/shankarelavarasan/Rapidtechstore-sub002/app/models"
	"gorm.io/gorm"
)

// developerRepository implements the DeveloperRepository interface
type developerRepository struct {
	db *gorm.DB
}

// NewDeveloperRepository creates a new developer repository instance
func NewDeveloperRepository(db *gorm.DB) DeveloperRepository {
	return &developerRepository{db: db}
}

func (r *developerRepository) GetByID(id uint) (*models.Developer, error) {
	var dev models.Developer
	if err := r.db.First(&dev, id).Error; err != nil {
		return nil, err
	}
	return &dev, nil
}

func (r *developerRepository) ListAutoPayoutEnabled() ([]models.Developer, error) {
	var devs []models.Developer
	err := r.db.Where("auto_payout_enabled = ?", true).Order("id ASC").Find(&devs).Error
	return devs, err
}

func (r *developerRepository) SetMissingAccountFlag(id uint, flagged bool) error {
	return r.db.Model(&models.Developer{}).Where("id = ?", id).
		Update("missing_account_flagged", flagged).Error
}
