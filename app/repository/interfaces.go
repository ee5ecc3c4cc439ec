package repository

import (
	"gorm.io/gorm"

	"github.com/TobiKellner/FlashKart/app/models"
)

// ProductRepository defines the interface for product-related database operations
type ProductRepository interface {
	Create(product *models.Product) error
	GetByID(id uint) (*models.Product, error)
	Update(product *models.Product) error
	Delete(id uint) error
	List(offset, limit int) ([]models.Product, error)
	Count() (int64, error)
}

// OrderRepository defines the interface for order-related database operations
type OrderRepository interface {
	Create(order *models.Order) error
	GetByID(id uint) (*models.Order, error)
	GetByHoldID(holdID string) ([]models.Order, error)
	List(offset, limit int) ([]models.Order, error)
	CountByState(state string) (int64, error)
}

// IdempotencyRepository defines the interface for the webhook idempotency log
type IdempotencyRepository interface {
	GetByKey(key string) (*models.IdempotencyKey, error)
	GetByOrderID(orderID uint) ([]models.IdempotencyKey, error)
	Count() (int64, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	Product     ProductRepository
	Order       OrderRepository
	Idempotency IdempotencyRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Product:     NewProductRepository(db),
		Order:       NewOrderRepository(db),
		Idempotency: NewIdempotencyRepository(db),
	}
}
