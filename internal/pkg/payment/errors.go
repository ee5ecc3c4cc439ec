package payment

import (
	"errors"
	"fmt"
)

var (
	// ErrOrderNotFound means no durable order row matches the webhook.
	ErrOrderNotFound = errors.New("order not found")
)

// ConcurrentStockModificationError means the guarded durable stock
// decrement hit zero rows although the product had enough stock on
// recheck; something else is mutating the row.
type ConcurrentStockModificationError struct {
	ProductID uint
	Requested int
}

func (e *ConcurrentStockModificationError) Error() string {
	return fmt.Sprintf("concurrent stock modification on product %d (requested %d)", e.ProductID, e.Requested)
}
