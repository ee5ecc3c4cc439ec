package holdregistry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/TobiKellner/FlashKart/app/models"
	"github.com/TobiKellner/FlashKart/internal/pkg/faststore"
	"github.com/TobiKellner/FlashKart/internal/pkg/stockledger"
)

const (
	// DefaultTTL is the hold lifetime from creation to expiry.
	DefaultTTL = 120 * time.Second

	maxCreateAttempts = 3
	createBackoffStep = 100 * time.Millisecond
)

// Registry owns the hold records and their three indices. All transitions
// out of active are scripted atomics, so a hold is either discoverable via
// every index or via none.
type Registry struct {
	store  *faststore.Store
	ledger *stockledger.Ledger
	ttl    time.Duration
}

// New creates a hold registry. ttl <= 0 selects the default 120s lifetime.
func New(store *faststore.Store, ledger *stockledger.Ledger, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{store: store, ledger: ledger, ttl: ttl}
}

// TTL returns the configured hold lifetime.
func (r *Registry) TTL() time.Duration {
	return r.ttl
}

// CreateResult is returned from Create with the post-commit stock reading.
type CreateResult struct {
	Hold     Hold
	Snapshot stockledger.Snapshot
}

// ReleaseResult reports a terminal transition that freed units.
type ReleaseResult struct {
	HoldID   string
	Released int
	Snapshot stockledger.Snapshot
}

// ExpireResult reports the outcome of a timeout-driven expiry. AlreadyGone
// is set when the hold was terminalized before we got to it; that is a
// success with zero quantity released, not an error.
type ExpireResult struct {
	HoldID      string
	Released    int
	AlreadyGone bool
	Snapshot    stockledger.Snapshot
}

// Create reserves qty units and materializes the hold record plus its
// indices in one optimistic transaction against the product's stock keys.
func (r *Registry) Create(ctx context.Context, productID uint, qty int) (*CreateResult, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("hold quantity must be positive, got %d", qty)
	}
	err := r.ledger.EnsureInitialized(ctx, productID)
	if errors.Is(err, stockledger.ErrInitPending) {
		err = r.ledger.ForceInitialize(ctx, productID)
	}
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
		result, err := r.tryCreate(ctx, productID, qty)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, stockledger.ErrInitPending) {
			// Counters vanished between the init check and the read window.
			if err := r.ledger.ForceInitialize(ctx, productID); err != nil {
				return nil, err
			}
			continue
		}
		if !errors.Is(err, faststore.ErrConflict) {
			return nil, err
		}
		if err := sleepCtx(ctx, time.Duration(attempt)*createBackoffStep); err != nil {
			return nil, err
		}
	}
	return nil, ErrConcurrentModification
}

func (r *Registry) tryCreate(ctx context.Context, productID uint, qty int) (*CreateResult, error) {
	now := time.Now()
	expiresAt := now.Add(r.ttl)
	hold := Hold{
		ID:             uuid.NewString(),
		ProductID:      productID,
		Qty:            qty,
		Status:         StatusActive,
		CreatedAt:      now,
		ExpiresAt:      expiresAt,
		ExpiresAtEpoch: expiresAt.Unix(),
	}

	watched := []string{
		stockledger.AvailableKey(productID),
		stockledger.ReservedKey(productID),
		stockledger.VersionKey(productID),
		ActiveHoldsKey(productID),
		ProductHoldsKey(productID),
		ExpiringIndexKey(productID),
	}

	var snap stockledger.Snapshot
	err := r.store.Txn(ctx, watched, func(tx *redis.Tx) error {
		available, ok, err := txInt(ctx, tx, stockledger.AvailableKey(productID))
		if err != nil {
			return err
		}
		if !ok {
			return stockledger.ErrInitPending
		}
		reserved, _, err := txInt(ctx, tx, stockledger.ReservedKey(productID))
		if err != nil {
			return err
		}
		version, _, err := txInt(ctx, tx, stockledger.VersionKey(productID))
		if err != nil {
			return err
		}

		if available < int64(qty) {
			return &stockledger.InsufficientStockError{
				ProductID: productID,
				Requested: qty,
				Snapshot:  stockledger.Snapshot{Available: available, Reserved: reserved, Version: version},
			}
		}
		hold.Version = version + 1
		snap = stockledger.Snapshot{Available: available - int64(qty), Reserved: reserved + int64(qty), Version: version + 1}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, stockledger.AvailableKey(productID), snap.Available, 0)
			pipe.Set(ctx, stockledger.ReservedKey(productID), snap.Reserved, 0)
			pipe.Set(ctx, stockledger.VersionKey(productID), snap.Version, 0)
			pipe.HSet(ctx, HoldKey(hold.ID), hold.fields())
			pipe.SAdd(ctx, ProductHoldsKey(productID), hold.ID)
			pipe.ZAdd(ctx, ExpiringIndexKey(productID), redis.Z{Score: float64(hold.ExpiresAtEpoch), Member: hold.ID})
			pipe.SAdd(ctx, StatusSetKey(StatusActive), hold.ID)
			pipe.IncrBy(ctx, ActiveHoldsKey(productID), int64(qty))
			return nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return &CreateResult{Hold: hold, Snapshot: snap}, nil
}

// Get hydrates one hold record.
func (r *Registry) Get(ctx context.Context, holdID string) (*Hold, error) {
	raw, err := r.store.HashGetAll(ctx, HoldKey(holdID))
	if err != nil {
		return nil, err
	}
	return ParseHold(holdID, raw)
}

// GetMany pipelines hydration for a batch of hold ids. Absent or corrupt
// records are skipped.
func (r *Registry) GetMany(ctx context.Context, holdIDs []string) (map[string]*Hold, error) {
	keys := make([]string, len(holdIDs))
	for i, id := range holdIDs {
		keys[i] = HoldKey(id)
	}
	raw, err := r.store.HashGetAllMulti(ctx, keys)
	if err != nil {
		return nil, err
	}

	holds := make(map[string]*Hold, len(raw))
	for key, fields := range raw {
		id := strings.TrimPrefix(key, "hold:")
		hold, err := ParseHold(id, fields)
		if err != nil {
			continue
		}
		holds[id] = hold
	}
	return holds, nil
}

// Release cancels an active hold and refunds its units to available.
func (r *Registry) Release(ctx context.Context, holdID string) (*ReleaseResult, error) {
	hold, err := r.Get(ctx, holdID)
	if err != nil {
		return nil, err
	}

	res, err := r.store.RunScript(ctx, releaseScript, r.scriptKeys(holdID, hold.ProductID), holdID)
	if err != nil {
		return nil, err
	}
	code, qty, snap, err := parseHoldScriptReply(res)
	if err != nil {
		return nil, err
	}
	switch code {
	case 1:
		return &ReleaseResult{HoldID: holdID, Released: qty, Snapshot: snap}, nil
	case -1:
		return nil, ErrHoldNotFound
	case -2:
		return nil, &HoldInvalidError{HoldID: holdID, Reason: "not active"}
	case -3:
		return nil, &stockledger.InvalidReleaseError{ProductID: hold.ProductID, Requested: hold.Qty, Reserved: snap.Reserved}
	default:
		return nil, fmt.Errorf("unexpected release reply code %d for hold %s", code, holdID)
	}
}

// Expire drives a timed-out hold to its terminal state. The deadline gate
// is inclusive: a hold whose epoch equals now is expired.
func (r *Registry) Expire(ctx context.Context, holdID string, now time.Time) (*ExpireResult, error) {
	hold, err := r.Get(ctx, holdID)
	if errors.Is(err, ErrHoldNotFound) {
		return &ExpireResult{HoldID: holdID, AlreadyGone: true}, nil
	}
	if err != nil {
		return nil, err
	}

	res, err := r.store.RunScript(ctx, expireScript, r.scriptKeys(holdID, hold.ProductID), holdID, now.Unix())
	if err != nil {
		return nil, err
	}
	code, qty, snap, err := parseHoldScriptReply(res)
	if err != nil {
		return nil, err
	}
	switch code {
	case 1:
		return &ExpireResult{HoldID: holdID, Released: qty, Snapshot: snap}, nil
	case -1, -2:
		// Lost the race against a release or a payment commit.
		return &ExpireResult{HoldID: holdID, AlreadyGone: true}, nil
	case -4:
		remaining := hold.ExpiresAtEpoch - now.Unix()
		return nil, &HoldNotExpiredError{HoldID: holdID, ExpiresAt: hold.ExpiresAt, SecondsRemaining: remaining}
	case -3:
		return nil, &stockledger.InvalidReleaseError{ProductID: hold.ProductID, Requested: hold.Qty, Reserved: snap.Reserved}
	default:
		return nil, fmt.Errorf("unexpected expire reply code %d for hold %s", code, holdID)
	}
}

// Commit consumes an active hold on payment success. Reserved shrinks,
// available does not grow back; the units are gone for good.
func (r *Registry) Commit(ctx context.Context, hold *Hold) (*ReleaseResult, error) {
	res, err := r.store.RunScript(ctx, commitScript, r.scriptKeys(hold.ID, hold.ProductID), hold.ID)
	if err != nil {
		return nil, err
	}
	code, qty, snap, err := parseHoldScriptReply(res)
	if err != nil {
		return nil, err
	}
	switch code {
	case 1:
		return &ReleaseResult{HoldID: hold.ID, Released: qty, Snapshot: snap}, nil
	case -1:
		return nil, ErrHoldNotFound
	case -2:
		return nil, &HoldInvalidError{HoldID: hold.ID, Reason: "not active"}
	case -3:
		return nil, &stockledger.InvalidReleaseError{ProductID: hold.ProductID, Requested: hold.Qty, Reserved: snap.Reserved}
	default:
		return nil, fmt.Errorf("unexpected commit reply code %d for hold %s", code, hold.ID)
	}
}

// BulkExpire expires a batch of same-product holds in one round trip.
// Returns the number of holds expired and the total quantity released.
func (r *Registry) BulkExpire(ctx context.Context, productID uint, holdIDs []string, now time.Time) (int, int, error) {
	if len(holdIDs) == 0 {
		return 0, 0, nil
	}

	keys := []string{
		stockledger.AvailableKey(productID),
		stockledger.ReservedKey(productID),
		stockledger.VersionKey(productID),
		ActiveHoldsKey(productID),
		ProductHoldsKey(productID),
		ExpiringIndexKey(productID),
		StatusSetKey(StatusActive),
	}
	args := make([]interface{}, 0, len(holdIDs)+1)
	args = append(args, now.Unix())
	for _, id := range holdIDs {
		args = append(args, id)
	}

	res, err := r.store.RunScript(ctx, bulkExpireScript, keys, args...)
	if err != nil {
		return 0, 0, err
	}
	parts, ok := res.([]interface{})
	if !ok || len(parts) != 2 {
		return 0, 0, fmt.Errorf("unexpected bulk expire reply: %v", res)
	}
	expired, _ := parts[0].(int64)
	released, _ := parts[1].(int64)
	return int(expired), int(released), nil
}

// FindExpired returns up to limit holds whose deadline has passed,
// enumerating every product's expiring index and hydrating candidates in
// one pipelined pass. Holds terminalized in the meantime are filtered out.
func (r *Registry) FindExpired(ctx context.Context, limit int, now time.Time) ([]*Hold, error) {
	if limit <= 0 {
		return nil, nil
	}

	indexKeys, err := r.store.KeysMatching(ctx, "expiring_index:*")
	if err != nil {
		return nil, err
	}

	var candidates []string
	for _, key := range indexKeys {
		remaining := limit - len(candidates)
		if remaining <= 0 {
			break
		}
		ids, err := r.store.SortedSetRangeByScore(ctx, key, 0, float64(now.Unix()), int64(remaining))
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, ids...)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	byID, err := r.GetMany(ctx, candidates)
	if err != nil {
		return nil, err
	}

	expired := make([]*Hold, 0, len(byID))
	for _, id := range candidates {
		hold, ok := byID[id]
		if !ok {
			continue
		}
		if hold.IsActive() && hold.ExpiredBy(now) {
			expired = append(expired, hold)
		}
	}
	return expired, nil
}

// ActiveQuantity reads the per-product sum of active hold quantities.
func (r *Registry) ActiveQuantity(ctx context.Context, productID uint) (int64, error) {
	raw, exists, err := r.store.Get(ctx, ActiveHoldsKey(productID))
	if err != nil || !exists {
		return 0, err
	}
	var qty int64
	if _, err := fmt.Sscan(raw, &qty); err != nil {
		return 0, fmt.Errorf("corrupt active_holds counter for product %d: %q", productID, raw)
	}
	return qty, nil
}

// RefreshStock recomputes the stock counters by fiat from the durable
// product row and the live active-quantity reading. Recovery operation for
// cross-store divergence after a crash.
func (r *Registry) RefreshStock(ctx context.Context, product *models.Product) (stockledger.Snapshot, error) {
	active, err := r.ActiveQuantity(ctx, product.ID)
	if err != nil {
		return stockledger.Snapshot{}, err
	}
	if active < 0 {
		active = 0
	}
	if active > int64(product.Stock) {
		active = int64(product.Stock)
	}

	available := int64(product.Stock) - active
	if err := r.store.Set(ctx, stockledger.AvailableKey(product.ID), available, 0); err != nil {
		return stockledger.Snapshot{}, err
	}
	if err := r.store.Set(ctx, stockledger.ReservedKey(product.ID), active, 0); err != nil {
		return stockledger.Snapshot{}, err
	}
	version, err := r.store.IncrBy(ctx, stockledger.VersionKey(product.ID), 1)
	if err != nil {
		return stockledger.Snapshot{}, err
	}
	return stockledger.Snapshot{Available: available, Reserved: active, Version: version}, nil
}

func (r *Registry) scriptKeys(holdID string, productID uint) []string {
	return []string{
		HoldKey(holdID),
		stockledger.AvailableKey(productID),
		stockledger.ReservedKey(productID),
		stockledger.VersionKey(productID),
		ActiveHoldsKey(productID),
		ProductHoldsKey(productID),
		ExpiringIndexKey(productID),
		StatusSetKey(StatusActive),
	}
}

func parseHoldScriptReply(res interface{}) (int64, int, stockledger.Snapshot, error) {
	parts, ok := res.([]interface{})
	if !ok || len(parts) == 0 {
		return 0, 0, stockledger.Snapshot{}, fmt.Errorf("unexpected hold script reply: %v", res)
	}
	ints := make([]int64, len(parts))
	for i, part := range parts {
		v, ok := part.(int64)
		if !ok {
			return 0, 0, stockledger.Snapshot{}, fmt.Errorf("unexpected hold script reply element: %v", part)
		}
		ints[i] = v
	}

	code := ints[0]
	switch {
	case code == 1 && len(ints) == 5:
		return code, int(ints[1]), stockledger.Snapshot{Available: ints[2], Reserved: ints[3], Version: ints[4]}, nil
	case code == -3 && len(ints) == 3:
		return code, int(ints[2]), stockledger.Snapshot{Reserved: ints[1]}, nil
	default:
		return code, 0, stockledger.Snapshot{}, nil
	}
}

func txInt(ctx context.Context, tx *redis.Tx, key string) (int64, bool, error) {
	val, err := tx.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", faststore.ErrUnavailable, err)
	}
	return val, true, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
