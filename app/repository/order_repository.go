package repository

import (
	"gorm.io/gorm"

	"github.com/TobiKellner/FlashKart/app/models"
)

// orderRepository implements the OrderRepository interface
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new order repository instance
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

// Create creates a new order in the database
func (r *orderRepository) Create(order *models.Order) error {
	return r.db.Create(order).Error
}

// GetByID retrieves an order by its ID
func (r *orderRepository) GetByID(id uint) (*models.Order, error) {
	var order models.Order
	err := r.db.First(&order, id).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetByHoldID retrieves all orders created from a given hold
func (r *orderRepository) GetByHoldID(holdID string) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.Where("hold_id = ?", holdID).Order("id ASC").Find(&orders).Error
	return orders, err
}

// List retrieves orders with pagination, newest first
func (r *orderRepository) List(offset, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.Order("created_at DESC").Offset(offset).Limit(limit).Find(&orders).Error
	return orders, err
}

// CountByState returns the number of orders in a given state
func (r *orderRepository) CountByState(state string) (int64, error) {
	var count int64
	err := r.db.Model(&models.Order{}).Where("state = ?", state).Count(&count).Error
	return count, err
}
