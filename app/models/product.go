package models

import "time"

// Product is the durable catalog row. Stock is the base inventory; it is
// only ever decremented when a payment is confirmed.
type Product struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	Price     int64     `gorm:"not null;default:0" json:"price"` // smallest currency unit
	Stock     uint      `gorm:"not null;default:0" json:"stock"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Product) TableName() string { return "products" }
