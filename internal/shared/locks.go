package shared

import "fmt"

// ReservationSweepLockKey builds the redis key guarding the expiry sweep so
// overlapping cron fires do not double-process.
func ReservationSweepLockKey() string {
	return "inventory:reservation:sweep:lock"
}

// BatchSweepLockKey builds the redis key guarding the batch expiry sweep.
func BatchSweepLockKey() string {
	return "inventory:batch:sweep:lock"
}

// CostingCacheKey builds the redis key for a cached costing summary.
func CostingCacheKey(productID, locationID int64) string {
	return fmt.Sprintf("inventory:costing:%d:%d", productID, locationID)
}
