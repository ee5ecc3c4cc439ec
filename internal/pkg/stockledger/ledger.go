package stockledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/TobiKellner/FlashKart/app/models"
	"github.com/TobiKellner/FlashKart/internal/pkg/faststore"
)

const (
	// Optimistic transactions retry a bounded number of times with linear
	// backoff before falling through to the pessimistic path.
	maxTxnAttempts = 3
	txnBackoffStep = 100 * time.Millisecond

	initLease        = 5 * time.Second
	initPollAttempts = 10
	initPollDelay    = 50 * time.Millisecond
)

// Snapshot is the per-product stock reading returned to callers. Version
// increases monotonically with every mutation.
type Snapshot struct {
	Available int64 `json:"available"`
	Reserved  int64 `json:"reserved"`
	Version   int64 `json:"version"`
}

// Ledger owns the per-product stock counters in the fast store. The
// durable store is consulted for lazy initialization and for the
// row-locked pessimistic path.
type Ledger struct {
	store *faststore.Store
	db    *gorm.DB
}

// New creates a stock ledger over the given stores.
func New(store *faststore.Store, db *gorm.DB) *Ledger {
	return &Ledger{store: store, db: db}
}

// EnsureInitialized lazily seeds the counters for a product from its
// durable row. The first caller claims a short-lease guard and seeds;
// concurrent callers poll with bounded backoff.
func (l *Ledger) EnsureInitialized(ctx context.Context, productID uint) error {
	_, exists, err := l.store.Get(ctx, VersionKey(productID))
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	claimed, err := l.store.SetIfAbsent(ctx, InitKey(productID), 1, initLease)
	if err != nil {
		return err
	}
	if claimed {
		defer l.store.Delete(ctx, InitKey(productID))

		var product models.Product
		if err := l.db.WithContext(ctx).First(&product, productID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrProductNotFound
			}
			return err
		}
		return l.seedCounters(ctx, &product)
	}

	// Someone else holds the guard; wait for the counters to appear.
	for i := 0; i < initPollAttempts; i++ {
		if err := sleepCtx(ctx, initPollDelay); err != nil {
			return err
		}
		_, exists, err := l.store.Get(ctx, VersionKey(productID))
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
	}
	return ErrInitPending
}

// ForceInitialize seeds the counters under a durable row lock. Used when
// polling for the init guard holder timed out (it may have died mid-seed).
func (l *Ledger) ForceInitialize(ctx context.Context, productID uint) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var product models.Product
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&product, productID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrProductNotFound
			}
			return err
		}
		_, exists, err := l.store.Get(ctx, VersionKey(productID))
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		return l.seedCounters(ctx, &product)
	})
}

// GetSnapshot returns the current stock reading, initializing lazily.
func (l *Ledger) GetSnapshot(ctx context.Context, productID uint) (Snapshot, error) {
	if err := l.EnsureInitialized(ctx, productID); err != nil && !errors.Is(err, ErrInitPending) {
		return Snapshot{}, err
	}
	return l.readSnapshot(ctx, productID)
}

// Reserve moves qty units from available to reserved. Optimistic first,
// pessimistic after retry exhaustion.
func (l *Ledger) Reserve(ctx context.Context, productID uint, qty int) (Snapshot, error) {
	if qty <= 0 {
		return Snapshot{}, fmt.Errorf("reserve quantity must be positive, got %d", qty)
	}

	err := l.EnsureInitialized(ctx, productID)
	if errors.Is(err, ErrInitPending) {
		return l.reservePessimistic(ctx, productID, qty)
	}
	if err != nil {
		return Snapshot{}, err
	}

	for attempt := 1; attempt <= maxTxnAttempts; attempt++ {
		snap, err := l.tryReserve(ctx, productID, qty)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, faststore.ErrConflict) {
			return Snapshot{}, err
		}
		if err := sleepCtx(ctx, time.Duration(attempt)*txnBackoffStep); err != nil {
			return Snapshot{}, err
		}
	}
	return l.reservePessimistic(ctx, productID, qty)
}

// Release moves qty units from reserved back to available.
func (l *Ledger) Release(ctx context.Context, productID uint, qty int) (Snapshot, error) {
	if qty <= 0 {
		return Snapshot{}, fmt.Errorf("release quantity must be positive, got %d", qty)
	}

	for attempt := 1; attempt <= maxTxnAttempts; attempt++ {
		snap, err := l.tryRelease(ctx, productID, qty)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, faststore.ErrConflict) {
			return Snapshot{}, err
		}
		if err := sleepCtx(ctx, time.Duration(attempt)*txnBackoffStep); err != nil {
			return Snapshot{}, err
		}
	}
	return l.runStockScript(ctx, releaseScript, productID, qty, func(snap Snapshot) error {
		return &InvalidReleaseError{ProductID: productID, Requested: qty, Reserved: snap.Reserved}
	})
}

// Commit permanently consumes qty reserved units: reserved shrinks,
// available is untouched. Unconditional multi-key mutation, so it runs as
// a scripted atomic rather than an optimistic transaction.
func (l *Ledger) Commit(ctx context.Context, productID uint, qty int) (Snapshot, error) {
	if qty <= 0 {
		return Snapshot{}, fmt.Errorf("commit quantity must be positive, got %d", qty)
	}
	return l.runStockScript(ctx, commitScript, productID, qty, func(snap Snapshot) error {
		return &InvalidReleaseError{ProductID: productID, Requested: qty, Reserved: snap.Reserved}
	})
}

func (l *Ledger) tryReserve(ctx context.Context, productID uint, qty int) (Snapshot, error) {
	watched := []string{AvailableKey(productID), ReservedKey(productID), VersionKey(productID)}
	var snap Snapshot

	err := l.store.Txn(ctx, watched, func(tx *redis.Tx) error {
		available, ok, err := txGetInt(ctx, tx, AvailableKey(productID))
		if err != nil {
			return err
		}
		if !ok {
			return ErrInitPending
		}
		reserved, _, err := txGetInt(ctx, tx, ReservedKey(productID))
		if err != nil {
			return err
		}
		version, _, err := txGetInt(ctx, tx, VersionKey(productID))
		if err != nil {
			return err
		}

		if available < int64(qty) {
			return &InsufficientStockError{
				ProductID: productID,
				Requested: qty,
				Snapshot:  Snapshot{Available: available, Reserved: reserved, Version: version},
			}
		}

		snap = Snapshot{Available: available - int64(qty), Reserved: reserved + int64(qty), Version: version + 1}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, AvailableKey(productID), snap.Available, 0)
			pipe.Set(ctx, ReservedKey(productID), snap.Reserved, 0)
			pipe.Set(ctx, VersionKey(productID), snap.Version, 0)
			return nil
		})
		return err
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func (l *Ledger) tryRelease(ctx context.Context, productID uint, qty int) (Snapshot, error) {
	watched := []string{AvailableKey(productID), ReservedKey(productID), VersionKey(productID)}
	var snap Snapshot

	err := l.store.Txn(ctx, watched, func(tx *redis.Tx) error {
		available, ok, err := txGetInt(ctx, tx, AvailableKey(productID))
		if err != nil {
			return err
		}
		if !ok {
			return ErrInitPending
		}
		reserved, _, err := txGetInt(ctx, tx, ReservedKey(productID))
		if err != nil {
			return err
		}
		version, _, err := txGetInt(ctx, tx, VersionKey(productID))
		if err != nil {
			return err
		}

		if reserved < int64(qty) {
			return &InvalidReleaseError{ProductID: productID, Requested: qty, Reserved: reserved}
		}

		snap = Snapshot{Available: available + int64(qty), Reserved: reserved - int64(qty), Version: version + 1}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, AvailableKey(productID), snap.Available, 0)
			pipe.Set(ctx, ReservedKey(productID), snap.Reserved, 0)
			pipe.Set(ctx, VersionKey(productID), snap.Version, 0)
			return nil
		})
		return err
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// reservePessimistic serializes reservations for one product under a
// row-level lock on the durable product row, then applies the counter
// mutation as a scripted atomic. Reached when optimistic retries are
// exhausted or initialization never completed.
func (l *Ledger) reservePessimistic(ctx context.Context, productID uint, qty int) (Snapshot, error) {
	var snap Snapshot
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var product models.Product
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&product, productID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrProductNotFound
			}
			return err
		}

		res, err := l.store.RunScript(ctx, reserveScript, l.stockKeys(productID), qty)
		if err != nil {
			return err
		}
		code, s, err := parseScriptReply(res)
		if err != nil {
			return err
		}
		if code == -1 {
			// The guard holder died before seeding. We hold the row lock,
			// so seeding by fiat here is safe.
			if err := l.seedCounters(ctx, &product); err != nil {
				return err
			}
			res, err = l.store.RunScript(ctx, reserveScript, l.stockKeys(productID), qty)
			if err != nil {
				return err
			}
			code, s, err = parseScriptReply(res)
			if err != nil {
				return err
			}
		}
		switch code {
		case 1:
			snap = s
			return nil
		case 0:
			return &InsufficientStockError{ProductID: productID, Requested: qty, Snapshot: s}
		default:
			return fmt.Errorf("stock counters for product %d unavailable after seeding", productID)
		}
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// runStockScript executes one of the unconditional stock scripts and maps
// the precondition-failed reply through onShort.
func (l *Ledger) runStockScript(ctx context.Context, script *faststore.Script, productID uint, qty int, onShort func(Snapshot) error) (Snapshot, error) {
	if err := l.EnsureInitialized(ctx, productID); err != nil && !errors.Is(err, ErrInitPending) {
		return Snapshot{}, err
	}

	res, err := l.store.RunScript(ctx, script, l.stockKeys(productID), qty)
	if err != nil {
		return Snapshot{}, err
	}
	code, snap, err := parseScriptReply(res)
	if err != nil {
		return Snapshot{}, err
	}
	switch code {
	case 1:
		return snap, nil
	case 0:
		return Snapshot{}, onShort(snap)
	default:
		return Snapshot{}, fmt.Errorf("stock counters for product %d not initialized", productID)
	}
}

func (l *Ledger) seedCounters(ctx context.Context, product *models.Product) error {
	if err := l.store.Set(ctx, AvailableKey(product.ID), int64(product.Stock), 0); err != nil {
		return err
	}
	if err := l.store.Set(ctx, ReservedKey(product.ID), 0, 0); err != nil {
		return err
	}
	return l.store.Set(ctx, VersionKey(product.ID), 1, 0)
}

func (l *Ledger) readSnapshot(ctx context.Context, productID uint) (Snapshot, error) {
	var snap Snapshot
	for i, key := range l.stockKeys(productID) {
		raw, exists, err := l.store.Get(ctx, key)
		if err != nil {
			return Snapshot{}, err
		}
		if !exists {
			continue
		}
		val, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Snapshot{}, fmt.Errorf("corrupt stock counter %s: %q", key, raw)
		}
		switch i {
		case 0:
			snap.Available = val
		case 1:
			snap.Reserved = val
		case 2:
			snap.Version = val
		}
	}
	return snap, nil
}

func (l *Ledger) stockKeys(productID uint) []string {
	return []string{AvailableKey(productID), ReservedKey(productID), VersionKey(productID)}
}

func txGetInt(ctx context.Context, tx *redis.Tx, key string) (int64, bool, error) {
	val, err := tx.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", faststore.ErrUnavailable, err)
	}
	return val, true, nil
}

func parseScriptReply(res interface{}) (int64, Snapshot, error) {
	parts, ok := res.([]interface{})
	if !ok || len(parts) == 0 {
		return 0, Snapshot{}, fmt.Errorf("unexpected stock script reply: %v", res)
	}
	ints := make([]int64, len(parts))
	for i, part := range parts {
		v, ok := part.(int64)
		if !ok {
			return 0, Snapshot{}, fmt.Errorf("unexpected stock script reply element: %v", part)
		}
		ints[i] = v
	}
	if ints[0] != 1 && ints[0] != 0 {
		return ints[0], Snapshot{}, nil
	}
	if len(ints) != 4 {
		return 0, Snapshot{}, fmt.Errorf("short stock script reply: %v", ints)
	}
	return ints[0], Snapshot{Available: ints[1], Reserved: ints[2], Version: ints[3]}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
