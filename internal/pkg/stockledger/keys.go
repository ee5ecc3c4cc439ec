package stockledger

import "fmt"

// Fast-store key layout for per-product stock accounting. The names are
// part of the operational contract (dashboards and the reaper heartbeat
// read them), so they are built in one place.

func AvailableKey(productID uint) string {
	return fmt.Sprintf("available_stock:%d", productID)
}

func ReservedKey(productID uint) string {
	return fmt.Sprintf("reserved_stock:%d", productID)
}

func VersionKey(productID uint) string {
	return fmt.Sprintf("stock_version:%d", productID)
}

// InitKey is the short-lease guard taken while seeding the counters from
// the durable product row.
func InitKey(productID uint) string {
	return fmt.Sprintf("stock_init:%d", productID)
}
