package holdregistry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiKellner/FlashKart/app/models"
	"github.com/TobiKellner/FlashKart/internal/pkg/stockledger"
)

func TestCreateReservesAndIndexes(t *testing.T) {
	const productID = 1
	registry, store := newSeededTestRegistry(t, productID, 10, 0)
	ctx := context.Background()

	result, err := registry.Create(ctx, productID, 3)
	require.NoError(t, err)

	assert.NotEmpty(t, result.Hold.ID)
	assert.Equal(t, StatusActive, result.Hold.Status)
	assert.Equal(t, stockledger.Snapshot{Available: 7, Reserved: 3, Version: 2}, result.Snapshot)

	// The hold must be discoverable through every index.
	members, err := store.SortedSetRangeByScore(ctx, ExpiringIndexKey(productID), 0, float64(result.Hold.ExpiresAtEpoch), 10)
	require.NoError(t, err)
	assert.Contains(t, members, result.Hold.ID)

	active, err := registry.ActiveQuantity(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), active)

	total, err := store.SetCard(ctx, StatusSetKey(StatusActive))
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	hold, err := registry.Get(ctx, result.Hold.ID)
	require.NoError(t, err)
	assert.Equal(t, productID, int(hold.ProductID))
	assert.Equal(t, 3, hold.Qty)
}

func TestCreateInsufficientStock(t *testing.T) {
	const productID = 2
	registry, _ := newSeededTestRegistry(t, productID, 2, 0)
	ctx := context.Background()

	_, err := registry.Create(ctx, productID, 5)

	var insufficient *stockledger.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(2), insufficient.Snapshot.Available)
}

func TestCreateRejectsNonPositiveQuantity(t *testing.T) {
	registry := New(nil, nil, 0)
	_, err := registry.Create(context.Background(), 1, 0)
	assert.Error(t, err)
}

func TestReleaseRefundsAndUnindexes(t *testing.T) {
	const productID = 3
	registry, store := newSeededTestRegistry(t, productID, 10, 0)
	ctx := context.Background()

	created, err := registry.Create(ctx, productID, 4)
	require.NoError(t, err)

	released, err := registry.Release(ctx, created.Hold.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, released.Released)
	assert.Equal(t, int64(10), released.Snapshot.Available)
	assert.Equal(t, int64(0), released.Snapshot.Reserved)

	// Terminal transition removes the record and every index entry.
	_, err = registry.Get(ctx, created.Hold.ID)
	assert.ErrorIs(t, err, ErrHoldNotFound)

	active, err := registry.ActiveQuantity(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), active)

	total, err := store.SetCard(ctx, StatusSetKey(StatusActive))
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)

	// Releasing again reports the hold as gone.
	_, err = registry.Release(ctx, created.Hold.ID)
	assert.ErrorIs(t, err, ErrHoldNotFound)
}

func TestExpireBeforeDeadline(t *testing.T) {
	const productID = 4
	registry, _ := newSeededTestRegistry(t, productID, 10, 0)
	ctx := context.Background()

	created, err := registry.Create(ctx, productID, 2)
	require.NoError(t, err)

	_, err = registry.Expire(ctx, created.Hold.ID, time.Now())

	var notExpired *HoldNotExpiredError
	require.ErrorAs(t, err, &notExpired)
	assert.Greater(t, notExpired.SecondsRemaining, int64(0))
}

func TestExpireAfterDeadline(t *testing.T) {
	const productID = 5
	registry, _ := newSeededTestRegistry(t, productID, 10, 0)
	ctx := context.Background()

	created, err := registry.Create(ctx, productID, 2)
	require.NoError(t, err)

	// Drive the clock past the deadline instead of sleeping through the TTL.
	after := time.Unix(created.Hold.ExpiresAtEpoch, 0)

	result, err := registry.Expire(ctx, created.Hold.ID, after)
	require.NoError(t, err)
	assert.False(t, result.AlreadyGone)
	assert.Equal(t, 2, result.Released)
	assert.Equal(t, int64(10), result.Snapshot.Available)

	// Second expiry is a no-op success, not an error.
	again, err := registry.Expire(ctx, created.Hold.ID, after)
	require.NoError(t, err)
	assert.True(t, again.AlreadyGone)
	assert.Zero(t, again.Released)
}

func TestCommitConsumesHold(t *testing.T) {
	const productID = 6
	registry, _ := newSeededTestRegistry(t, productID, 10, 0)
	ctx := context.Background()

	created, err := registry.Create(ctx, productID, 3)
	require.NoError(t, err)

	committed, err := registry.Commit(ctx, &created.Hold)
	require.NoError(t, err)
	assert.Equal(t, 3, committed.Released)

	// Committed units never return to available.
	assert.Equal(t, int64(7), committed.Snapshot.Available)
	assert.Equal(t, int64(0), committed.Snapshot.Reserved)

	_, err = registry.Get(ctx, created.Hold.ID)
	assert.ErrorIs(t, err, ErrHoldNotFound)
}

func TestFindExpiredFiltersLiveHolds(t *testing.T) {
	const productID = 7
	registry, _ := newSeededTestRegistry(t, productID, 10, 0)
	ctx := context.Background()

	first, err := registry.Create(ctx, productID, 1)
	require.NoError(t, err)
	second, err := registry.Create(ctx, productID, 1)
	require.NoError(t, err)

	// Nothing is expired at the current clock.
	holds, err := registry.FindExpired(ctx, 10, time.Now())
	require.NoError(t, err)
	assert.Empty(t, holds)

	// Past both deadlines, both show up.
	future := time.Unix(second.Hold.ExpiresAtEpoch, 0).Add(time.Second)
	holds, err = registry.FindExpired(ctx, 10, future)
	require.NoError(t, err)
	assert.Len(t, holds, 2)

	// A released hold disappears from the candidate set.
	_, err = registry.Release(ctx, first.Hold.ID)
	require.NoError(t, err)
	holds, err = registry.FindExpired(ctx, 10, future)
	require.NoError(t, err)
	require.Len(t, holds, 1)
	assert.Equal(t, second.Hold.ID, holds[0].ID)
}

func TestBulkExpireSkipsLostRaces(t *testing.T) {
	const productID = 8
	registry, _ := newSeededTestRegistry(t, productID, 10, 0)
	ctx := context.Background()

	first, err := registry.Create(ctx, productID, 2)
	require.NoError(t, err)
	second, err := registry.Create(ctx, productID, 3)
	require.NoError(t, err)

	// One hold is released before the bulk sweep reaches it.
	_, err = registry.Release(ctx, first.Hold.ID)
	require.NoError(t, err)

	future := time.Unix(second.Hold.ExpiresAtEpoch, 0)
	expired, released, err := registry.BulkExpire(ctx, productID, []string{first.Hold.ID, second.Hold.ID}, future)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)
	assert.Equal(t, 3, released)

	active, err := registry.ActiveQuantity(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), active)
}

func TestRefreshStockRebuildsCounters(t *testing.T) {
	const productID = 9
	registry, store := newSeededTestRegistry(t, productID, 10, 0)
	ctx := context.Background()

	_, err := registry.Create(ctx, productID, 4)
	require.NoError(t, err)

	// Corrupt the counters to simulate divergence after a crash.
	require.NoError(t, store.Set(ctx, stockledger.AvailableKey(productID), 999, 0))
	require.NoError(t, store.Set(ctx, stockledger.ReservedKey(productID), 0, 0))

	product := &models.Product{ID: productID, Stock: 10}
	snap, err := registry.RefreshStock(ctx, product)
	require.NoError(t, err)
	assert.Equal(t, int64(6), snap.Available)
	assert.Equal(t, int64(4), snap.Reserved)
}

func TestConcurrentCreateNeverOversells(t *testing.T) {
	const (
		productID = 10
		baseStock = 5
		shoppers  = 40
	)
	registry, store := newSeededTestRegistry(t, productID, baseStock, 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	holdIDs := make(map[string]struct{})
	insufficient := 0

	for i := 0; i < shoppers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := registry.Create(ctx, productID, 1)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				holdIDs[result.Hold.ID] = struct{}{}
				return
			}
			var outOfStock *stockledger.InsufficientStockError
			if errors.As(err, &outOfStock) {
				insufficient++
				return
			}
			t.Errorf("unexpected create error: %v", err)
		}()
	}
	wg.Wait()

	// Winners sum exactly to the base stock; every hold id is distinct.
	assert.Len(t, holdIDs, baseStock)
	assert.Equal(t, shoppers-baseStock, insufficient)

	available, _, err := store.Get(ctx, stockledger.AvailableKey(productID))
	require.NoError(t, err)
	assert.Equal(t, "0", available)
	reserved, _, err := store.Get(ctx, stockledger.ReservedKey(productID))
	require.NoError(t, err)
	assert.Equal(t, "5", reserved)

	active, err := registry.ActiveQuantity(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, int64(baseStock), active)
}
