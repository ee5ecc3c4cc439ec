package repository

import (
	"gorm.io/gorm"

	"github.com/TobiKellner/FlashKart/app/models"
)

// idempotencyRepository implements the IdempotencyRepository interface
type idempotencyRepository struct {
	db *gorm.DB
}

// NewIdempotencyRepository creates a new idempotency repository instance
func NewIdempotencyRepository(db *gorm.DB) IdempotencyRepository {
	return &idempotencyRepository{db: db}
}

// GetByKey retrieves an idempotency record by its key
func (r *idempotencyRepository) GetByKey(key string) (*models.IdempotencyKey, error) {
	var record models.IdempotencyKey
	err := r.db.Where("`key` = ?", key).First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// GetByOrderID retrieves all idempotency records attached to an order
func (r *idempotencyRepository) GetByOrderID(orderID uint) ([]models.IdempotencyKey, error) {
	var records []models.IdempotencyKey
	err := r.db.Where("order_id = ?", orderID).Order("id ASC").Find(&records).Error
	return records, err
}

// Count returns the total number of idempotency records
func (r *idempotencyRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.IdempotencyKey{}).Count(&count).Error
	return count, err
}
