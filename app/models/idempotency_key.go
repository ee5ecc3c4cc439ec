package models

import "time"

// Idempotency record statuses. The webhook status is mapped to one of
// these at first sight of the key and never rewritten.
const (
	IdempotencyStatusPaid   = "paid"
	IdempotencyStatusFailed = "failed"
)

// IdempotencyKey is the append-only dedup log for payment webhooks. One row
// per unique key; presence means the key has been observed and acted upon.
type IdempotencyKey struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"type:varchar(100);not null;uniqueIndex;index:idx_idempotency_key_order,priority:1" json:"key"`
	OrderID   uint      `gorm:"not null;index:idx_idempotency_key_order,priority:2" json:"order_id"`
	Status    string    `gorm:"type:enum('paid','failed');not null" json:"status"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (IdempotencyKey) TableName() string { return "idempotency_keys" }
