package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/TobiKellner/FlashKart/app/models"
	"github.com/TobiKellner/FlashKart/internal/pkg/faststore"
	"github.com/TobiKellner/FlashKart/internal/pkg/holdregistry"
)

const (
	maxTouchAttempts = 3
	touchBackoffStep = 100 * time.Millisecond
)

// Coordinator owns the durable order ledger and the idempotency log, and
// drives hold terminalization on payment outcomes.
type Coordinator struct {
	db       *gorm.DB
	store    *faststore.Store
	registry *holdregistry.Registry
}

// New creates a payment coordinator over the given stores.
func New(db *gorm.DB, store *faststore.Store, registry *holdregistry.Registry) *Coordinator {
	return &Coordinator{db: db, store: store, registry: registry}
}

// CreateOrder converts an active hold into a pending_payment order row.
// The hold is validated and its last_accessed_at stamped in an optimistic
// transaction; the hold is NOT marked used here. Marking-as-used waits for
// webhook success so that an unanswered webhook cannot strand inventory:
// the hold simply ages out and the reaper frees the units.
func (c *Coordinator) CreateOrder(ctx context.Context, holdID string) (*models.Order, error) {
	if err := c.store.Ping(ctx); err != nil {
		return nil, err
	}

	hold, err := c.validateAndTouchHold(ctx, holdID)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		HoldID:    holdID,
		State:     models.OrderStatePendingPayment,
		ProductID: hold.ProductID,
		Quantity:  hold.Qty,
	}
	if err := c.db.WithContext(ctx).Create(order).Error; err != nil {
		return nil, fmt.Errorf("insert order for hold %s: %w", holdID, err)
	}
	return order, nil
}

// validateAndTouchHold classifies the hold under WATCH and stamps
// last_accessed_at when it is usable. A hold found past its deadline is
// driven through expiry in-line before the failure is surfaced.
func (c *Coordinator) validateAndTouchHold(ctx context.Context, holdID string) (*holdregistry.Hold, error) {
	var staleHold *holdregistry.Hold

	for attempt := 1; attempt <= maxTouchAttempts; attempt++ {
		var hold *holdregistry.Hold
		now := time.Now()

		err := c.store.Txn(ctx, []string{holdregistry.HoldKey(holdID)}, func(tx *redis.Tx) error {
			raw, err := tx.HGetAll(ctx, holdregistry.HoldKey(holdID)).Result()
			if err != nil {
				return fmt.Errorf("%w: %v", faststore.ErrUnavailable, err)
			}
			parsed, err := holdregistry.ParseHold(holdID, raw)
			if err != nil {
				return err
			}

			switch parsed.Status {
			case holdregistry.StatusUsed:
				return holdregistry.ErrHoldAlreadyUsed
			case holdregistry.StatusExpired:
				return &holdregistry.HoldExpiredError{HoldID: holdID, ExpiresAt: parsed.ExpiresAt}
			case holdregistry.StatusPaymentFailed:
				return &holdregistry.HoldInvalidError{HoldID: holdID, Reason: "prior payment failure"}
			case holdregistry.StatusActive:
				// fall through
			default:
				return &holdregistry.HoldInvalidError{HoldID: holdID, Reason: "unknown status " + parsed.Status}
			}

			if parsed.ExpiredBy(now) {
				// Expiry runs as a scripted atomic outside this window.
				staleHold = parsed
				return errHoldStale
			}

			hold = parsed
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, holdregistry.HoldKey(holdID), "last_accessed_at", now.UTC().Format(time.RFC3339))
				return nil
			})
			return err
		})

		if err == nil {
			return hold, nil
		}
		if errors.Is(err, errHoldStale) {
			// Drive the stale hold to expired, then report the expiry.
			if _, expErr := c.registry.Expire(ctx, holdID, now); expErr != nil {
				if _, notYet := expErr.(*holdregistry.HoldNotExpiredError); !notYet {
					return nil, expErr
				}
			}
			return nil, &holdregistry.HoldExpiredError{HoldID: holdID, ExpiresAt: staleHold.ExpiresAt}
		}
		if !errors.Is(err, faststore.ErrConflict) {
			return nil, err
		}
		if err := sleepCtx(ctx, time.Duration(attempt)*touchBackoffStep); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("create order for hold %s: %w", holdID, holdregistry.ErrConcurrentModification)
}

var errHoldStale = errors.New("hold past deadline")

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
