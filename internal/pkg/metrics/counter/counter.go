package counter

import (
	"context"
	"strconv"

	"github.com/TobiKellner/FlashKart/internal/pkg/cache"
)

const eventsKey = "checkout:counters:events"

// Checkout event names tracked in the ops counter hash.
const (
	EventHoldsCreated      = "holds_created"
	EventHoldsReleased     = "holds_released"
	EventHoldsExpired      = "holds_expired"
	EventOrdersCreated     = "orders_created"
	EventPaymentsSucceeded = "payments_succeeded"
	EventPaymentsFailed    = "payments_failed"
	EventWebhookDuplicates = "webhook_duplicates"
)

// Add increments one checkout event counter. Counter failures are the
// caller's to ignore; counting never blocks checkout.
func Add(event string) error {
	return AddN(event, 1)
}

// AddN increments one checkout event counter by n.
func AddN(event string, n int64) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, eventsKey, event, n).Err()
}

// Snapshot reads all event counters.
func Snapshot() (map[string]int64, error) {
	ctx := context.Background()
	raw, err := cache.GetClient().HGetAll(ctx, eventsKey).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for event, value := range raw {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}
		out[event] = n
	}
	return out, nil
}

// Reset clears all event counters.
func Reset() error {
	ctx := context.Background()
	return cache.GetClient().Del(ctx, eventsKey).Err()
}
