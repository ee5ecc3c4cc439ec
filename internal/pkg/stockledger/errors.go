package stockledger

import (
	"errors"
	"fmt"
)

var (
	// ErrProductNotFound means the durable store has no row for the product.
	ErrProductNotFound = errors.New("product not found")
	// ErrInitPending is a coordination sentinel: another caller holds the
	// init guard and has not finished seeding the counters yet. Callers
	// react by taking the pessimistic path, never by surfacing it.
	ErrInitPending = errors.New("stock counters not initialized yet")
)

// InsufficientStockError carries the observed snapshot so callers can
// surface it and clients can retry informedly.
type InsufficientStockError struct {
	ProductID uint
	Requested int
	Snapshot  Snapshot
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d (reserved %d, version %d)",
		e.ProductID, e.Requested, e.Snapshot.Available, e.Snapshot.Reserved, e.Snapshot.Version)
}

// InvalidReleaseError means a release would drive the reserved counter
// negative, which indicates double-release or accounting corruption.
type InvalidReleaseError struct {
	ProductID uint
	Requested int
	Reserved  int64
}

func (e *InvalidReleaseError) Error() string {
	return fmt.Sprintf("invalid release for product %d: requested %d but only %d reserved",
		e.ProductID, e.Requested, e.Reserved)
}
