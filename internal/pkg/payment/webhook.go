package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/TobiKellner/FlashKart/app/models"
	"github.com/TobiKellner/FlashKart/internal/pkg/holdregistry"
	"github.com/TobiKellner/FlashKart/internal/pkg/stockledger"
)

// Webhook statuses as delivered by the payment provider.
const (
	WebhookStatusSuccess = "success"
	WebhookStatusFailure = "failure"
)

// Canonical webhook outcomes surfaced to the handler.
const (
	ResultPaid             = "paid"
	ResultCancelled        = "cancelled"
	ResultAlreadyFinalized = "already_finalized"
	ResultDuplicate        = "duplicate"
	ResultHoldExpired      = "hold_expired"
	ResultStateConflict    = "payment_state_conflict"
	ResultOrderNotFound    = "order_not_found"
)

const (
	maxDeadlockAttempts = 3
	deadlockBackoffStep = 100 * time.Millisecond
)

// WebhookInput is one delivery attempt from the payment provider.
type WebhookInput struct {
	IdempotencyKey string
	OrderID        uint
	Status         string
}

// WebhookOutcome is the canonical result of applying a webhook. HTTPStatus
// carries the class the handler should answer with; business conflicts are
// outcomes here, not errors.
type WebhookOutcome struct {
	HTTPStatus     int
	Result         string
	OrderID        uint
	OrderState     string
	RecordedStatus string
	Snapshot       *stockledger.Snapshot
	// StockStale is set when the durable commit landed but the fast-store
	// commit failed; the counters need a refresh-stock pass.
	StockStale bool
}

// ApplyWebhook applies one payment webhook idempotently. The durable steps
// run inside a single transaction with deadlock retry. On success the
// fast-store commit runs after the durable commit so a crash between the
// two leaves durable state ahead (recoverable by refresh-stock); on
// failure the cache refund runs before the durable commit for the same
// reason, inverted.
func (c *Coordinator) ApplyWebhook(ctx context.Context, in WebhookInput) (*WebhookOutcome, error) {
	if in.Status != WebhookStatusSuccess && in.Status != WebhookStatusFailure {
		return nil, fmt.Errorf("unknown webhook status %q", in.Status)
	}
	if in.IdempotencyKey == "" {
		return nil, errors.New("idempotency key required")
	}

	var outcome *WebhookOutcome
	var commitHold *holdregistry.Hold

	err := c.withDeadlockRetry(ctx, func() error {
		outcome = nil
		commitHold = nil
		return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			outcome, commitHold, err = c.applyWebhookTx(ctx, tx, in)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	if commitHold != nil {
		if res, err := c.registry.Commit(ctx, commitHold); err != nil {
			// Durable state is ahead of the cache now; refresh-stock
			// reconciles, and webhook retries short-circuit on paid.
			log.Errorf("[Payment] fast-store commit for hold %s failed: %v", commitHold.ID, err)
			outcome.StockStale = true
		} else {
			outcome.Snapshot = &res.Snapshot
		}
	}
	return outcome, nil
}

func (c *Coordinator) applyWebhookTx(ctx context.Context, tx *gorm.DB, in WebhookInput) (*WebhookOutcome, *holdregistry.Hold, error) {
	// 1. Lock the order row for the duration of processing.
	var order models.Order
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&order, in.OrderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &WebhookOutcome{HTTPStatus: 404, Result: ResultOrderNotFound, OrderID: in.OrderID}, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	recorded := models.IdempotencyStatusFailed
	if in.Status == WebhookStatusSuccess {
		recorded = models.IdempotencyStatusPaid
	}

	// 2. Finalization short-circuit: retries stay idempotent even when the
	// provider rotated the key.
	if order.IsFinal() {
		if err := c.recordIdempotencyKey(tx, in.IdempotencyKey, order.ID, recorded); err != nil {
			return nil, nil, err
		}
		return &WebhookOutcome{HTTPStatus: 200, Result: ResultAlreadyFinalized, OrderID: order.ID, OrderState: order.State}, nil, nil
	}

	// 3. Idempotency check under a write lock; the insert claims the key.
	var existing models.IdempotencyKey
	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("`key` = ?", in.IdempotencyKey).First(&existing).Error
	if err == nil {
		return &WebhookOutcome{
			HTTPStatus:     200,
			Result:         ResultDuplicate,
			OrderID:        order.ID,
			OrderState:     order.State,
			RecordedStatus: existing.Status,
		}, nil, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, err
	}
	record := models.IdempotencyKey{Key: in.IdempotencyKey, OrderID: order.ID, Status: recorded}
	if err := tx.Create(&record).Error; err != nil {
		if isDuplicateKey(err) {
			// Lost the claim race; the other transaction owns this key.
			return &WebhookOutcome{HTTPStatus: 200, Result: ResultDuplicate, OrderID: order.ID, OrderState: order.State}, nil, nil
		}
		return nil, nil, err
	}

	// 4. Dispatch on the hold's state.
	hold, err := c.registry.Get(ctx, order.HoldID)
	found := true
	if errors.Is(err, holdregistry.ErrHoldNotFound) {
		found = false
	} else if err != nil {
		return nil, nil, err
	}
	status := ""
	if found {
		status = hold.Status
	}

	if in.Status == WebhookStatusSuccess {
		return c.applySuccess(tx, &order, hold, classifySuccessHold(status, found))
	}
	return c.applyFailure(ctx, tx, &order, classifyFailureHold(status, found))
}

func (c *Coordinator) applySuccess(tx *gorm.DB, order *models.Order, hold *holdregistry.Hold, disposition holdDisposition) (*WebhookOutcome, *holdregistry.Hold, error) {
	switch disposition {
	case dispositionGone:
		// The hold aged out after order creation; the reaper freed the
		// units. The recorded key now reflects the true outcome.
		if err := c.transitionOrder(tx, order, models.OrderStateCancelled); err != nil {
			return nil, nil, err
		}
		return &WebhookOutcome{HTTPStatus: 410, Result: ResultHoldExpired, OrderID: order.ID, OrderState: order.State}, nil, nil

	case dispositionAlreadyApplied:
		if err := c.transitionOrder(tx, order, models.OrderStatePaid); err != nil {
			return nil, nil, err
		}
		return &WebhookOutcome{HTTPStatus: 200, Result: ResultPaid, OrderID: order.ID, OrderState: order.State}, nil, nil

	case dispositionConflict:
		return &WebhookOutcome{HTTPStatus: 409, Result: ResultStateConflict, OrderID: order.ID, OrderState: order.State}, nil, nil

	case dispositionCommit:
		// Durable consumption first: guarded decrement of base stock.
		res := tx.Model(&models.Product{}).
			Where("id = ? AND stock >= ?", hold.ProductID, hold.Qty).
			UpdateColumn("stock", gorm.Expr("stock - ?", hold.Qty))
		if res.Error != nil {
			return nil, nil, res.Error
		}
		if res.RowsAffected == 0 {
			var product models.Product
			if err := tx.First(&product, hold.ProductID).Error; err != nil {
				return nil, nil, err
			}
			if product.Stock < uint(hold.Qty) {
				return nil, nil, &stockledger.InsufficientStockError{
					ProductID: hold.ProductID,
					Requested: hold.Qty,
					Snapshot:  stockledger.Snapshot{Available: int64(product.Stock)},
				}
			}
			return nil, nil, &ConcurrentStockModificationError{ProductID: hold.ProductID, Requested: hold.Qty}
		}
		if err := c.transitionOrder(tx, order, models.OrderStatePaid); err != nil {
			return nil, nil, err
		}
		// The fast-store commit is handed back to run after COMMIT.
		return &WebhookOutcome{HTTPStatus: 200, Result: ResultPaid, OrderID: order.ID, OrderState: order.State}, hold, nil
	}
	return nil, nil, fmt.Errorf("unhandled success disposition %d", disposition)
}

func (c *Coordinator) applyFailure(ctx context.Context, tx *gorm.DB, order *models.Order, disposition holdDisposition) (*WebhookOutcome, *holdregistry.Hold, error) {
	switch disposition {
	case dispositionGone:
		if err := c.transitionOrder(tx, order, models.OrderStateCancelled); err != nil {
			return nil, nil, err
		}
		return &WebhookOutcome{HTTPStatus: 410, Result: ResultHoldExpired, OrderID: order.ID, OrderState: order.State}, nil, nil

	case dispositionConflict:
		return &WebhookOutcome{HTTPStatus: 409, Result: ResultStateConflict, OrderID: order.ID, OrderState: order.State}, nil, nil

	case dispositionRefund:
		// Cache refund precedes the durable commit; base stock is never
		// touched because no consumption ever happened.
		var snap *stockledger.Snapshot
		release, err := c.registry.Release(ctx, order.HoldID)
		if err != nil {
			var invalid *holdregistry.HoldInvalidError
			if !errors.Is(err, holdregistry.ErrHoldNotFound) && !errors.As(err, &invalid) {
				return nil, nil, err
			}
			// Raced with the reaper; the units are already free.
		} else {
			snap = &release.Snapshot
		}
		if err := c.transitionOrder(tx, order, models.OrderStateCancelled); err != nil {
			return nil, nil, err
		}
		return &WebhookOutcome{HTTPStatus: 200, Result: ResultCancelled, OrderID: order.ID, OrderState: order.State, Snapshot: snap}, nil, nil
	}
	return nil, nil, fmt.Errorf("unhandled failure disposition %d", disposition)
}

func (c *Coordinator) transitionOrder(tx *gorm.DB, order *models.Order, state string) error {
	if !models.ValidOrderState(state) {
		return fmt.Errorf("invalid order state %q", state)
	}
	order.State = state
	return tx.Model(order).Update("state", state).Error
}

func (c *Coordinator) recordIdempotencyKey(tx *gorm.DB, key string, orderID uint, status string) error {
	record := models.IdempotencyKey{Key: key, OrderID: orderID, Status: status}
	err := tx.Create(&record).Error
	if err != nil && isDuplicateKey(err) {
		return nil
	}
	return err
}

// withDeadlockRetry retries fn on deadlock-class MySQL errors with bounded
// linear backoff. Other errors propagate immediately.
func (c *Coordinator) withDeadlockRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxDeadlockAttempts; attempt++ {
		err = fn()
		if err == nil || !isDeadlock(err) {
			return err
		}
		if attempt < maxDeadlockAttempts {
			if sleepErr := sleepCtx(ctx, time.Duration(attempt)*deadlockBackoffStep); sleepErr != nil {
				return sleepErr
			}
		}
	}
	return err
}

func isDeadlock(err error) bool {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return false
	}
	// 1213 deadlock, 1205 lock wait timeout
	return myErr.Number == 1213 || myErr.Number == 1205
}

func isDuplicateKey(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1062
}
