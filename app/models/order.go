package models

import "time"

// Order states. The set is closed: orders are created pending_payment and
// move exactly once to paid or cancelled, never back.
const (
	OrderStatePendingPayment = "pending_payment"
	OrderStatePaid           = "paid"
	OrderStateCancelled      = "cancelled"
)

// Order is the durable ledger row for a checkout attempt. HoldID points at
// the originating reservation; the hold itself lives in the fast store and
// is deleted on terminalization, so the reference is kept for audit only.
type Order struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	HoldID    string    `gorm:"type:varchar(64);not null;index" json:"hold_id"`
	State     string    `gorm:"type:enum('pending_payment','paid','cancelled');not null;default:'pending_payment';index" json:"state"`
	ProductID uint      `gorm:"not null;index" json:"product_id"`
	Quantity  int       `gorm:"not null;default:1" json:"quantity"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Order) TableName() string { return "orders" }

// IsFinal reports whether the order has reached a terminal state.
func (o *Order) IsFinal() bool {
	return o.State == OrderStatePaid || o.State == OrderStateCancelled
}

// ValidOrderState rejects anything outside the canonical state set
// (legacy seeders used pending/processing/completed, which are not valid).
func ValidOrderState(state string) bool {
	switch state {
	case OrderStatePendingPayment, OrderStatePaid, OrderStateCancelled:
		return true
	}
	return false
}
