package holdregistry

import "fmt"

// Hold statuses. Only active holds are indexed; the other three are
// terminal and the hash is deleted on transition.
const (
	StatusActive        = "active"
	StatusUsed          = "used"
	StatusExpired       = "expired"
	StatusPaymentFailed = "payment_failed"
)

func HoldKey(holdID string) string {
	return "hold:" + holdID
}

func ProductHoldsKey(productID uint) string {
	return fmt.Sprintf("product_holds:%d", productID)
}

// ExpiringIndexKey is the per-product sorted set scored by expiry epoch.
func ExpiringIndexKey(productID uint) string {
	return fmt.Sprintf("expiring_index:%d", productID)
}

func StatusSetKey(status string) string {
	return "holds_by_status:" + status
}

// ActiveHoldsKey is the per-product sum of active hold quantities.
func ActiveHoldsKey(productID uint) string {
	return fmt.Sprintf("active_holds:%d", productID)
}

// ExpireLockKey is the reaper's per-hold advisory lease.
func ExpireLockKey(holdID string) string {
	return "expire_lock:" + holdID
}
