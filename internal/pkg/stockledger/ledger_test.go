package stockledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyNaming(t *testing.T) {
	assert.Equal(t, "available_stock:42", AvailableKey(42))
	assert.Equal(t, "reserved_stock:42", ReservedKey(42))
	assert.Equal(t, "stock_version:42", VersionKey(42))
	assert.Equal(t, "stock_init:42", InitKey(42))
}

func TestParseScriptReply(t *testing.T) {
	tests := []struct {
		name     string
		reply    interface{}
		wantCode int64
		wantSnap Snapshot
		wantErr  bool
	}{
		{
			name:     "success reply",
			reply:    []interface{}{int64(1), int64(7), int64(3), int64(9)},
			wantCode: 1,
			wantSnap: Snapshot{Available: 7, Reserved: 3, Version: 9},
		},
		{
			name:     "precondition failed reply",
			reply:    []interface{}{int64(0), int64(1), int64(0), int64(2)},
			wantCode: 0,
			wantSnap: Snapshot{Available: 1, Reserved: 0, Version: 2},
		},
		{
			name:     "uninitialized reply",
			reply:    []interface{}{int64(-1)},
			wantCode: -1,
		},
		{
			name:    "malformed reply",
			reply:   "nope",
			wantErr: true,
		},
		{
			name:    "short success reply",
			reply:   []interface{}{int64(1), int64(7)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, snap, err := parseScriptReply(tt.reply)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantSnap, snap)
		})
	}
}

func TestReserveRejectsNonPositiveQuantity(t *testing.T) {
	ledger := New(nil, nil)

	_, err := ledger.Reserve(context.Background(), 1, 0)
	assert.Error(t, err)
	_, err = ledger.Reserve(context.Background(), 1, -3)
	assert.Error(t, err)
}

func TestReserveMovesUnits(t *testing.T) {
	const productID = 7
	ledger, _ := newSeededTestLedger(t, productID, 10)
	ctx := context.Background()

	snap, err := ledger.Reserve(ctx, productID, 4)
	require.NoError(t, err)
	assert.Equal(t, Snapshot{Available: 6, Reserved: 4, Version: 2}, snap)

	snap, err = ledger.GetSnapshot(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, Snapshot{Available: 6, Reserved: 4, Version: 2}, snap)
}

func TestReserveInsufficientStock(t *testing.T) {
	const productID = 8
	ledger, _ := newSeededTestLedger(t, productID, 3)
	ctx := context.Background()

	_, err := ledger.Reserve(ctx, productID, 5)

	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, uint(productID), insufficient.ProductID)
	assert.Equal(t, 5, insufficient.Requested)
	assert.Equal(t, int64(3), insufficient.Snapshot.Available)

	// A failed reservation must not move anything.
	snap, err := ledger.GetSnapshot(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, Snapshot{Available: 3, Reserved: 0, Version: 1}, snap)
}

func TestReleaseRefundsUnits(t *testing.T) {
	const productID = 9
	ledger, _ := newSeededTestLedger(t, productID, 10)
	ctx := context.Background()

	_, err := ledger.Reserve(ctx, productID, 6)
	require.NoError(t, err)

	snap, err := ledger.Release(ctx, productID, 4)
	require.NoError(t, err)
	assert.Equal(t, Snapshot{Available: 8, Reserved: 2, Version: 3}, snap)
}

func TestReleaseMoreThanReserved(t *testing.T) {
	const productID = 10
	ledger, _ := newSeededTestLedger(t, productID, 10)
	ctx := context.Background()

	_, err := ledger.Reserve(ctx, productID, 2)
	require.NoError(t, err)

	_, err = ledger.Release(ctx, productID, 5)

	var invalid *InvalidReleaseError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, 5, invalid.Requested)
	assert.Equal(t, int64(2), invalid.Reserved)
}

func TestCommitConsumesReservedOnly(t *testing.T) {
	const productID = 11
	ledger, _ := newSeededTestLedger(t, productID, 10)
	ctx := context.Background()

	_, err := ledger.Reserve(ctx, productID, 4)
	require.NoError(t, err)

	snap, err := ledger.Commit(ctx, productID, 4)
	require.NoError(t, err)

	// Committed units leave the system: available stays, reserved shrinks.
	assert.Equal(t, Snapshot{Available: 6, Reserved: 0, Version: 3}, snap)
}

func TestVersionIncreasesMonotonically(t *testing.T) {
	const productID = 12
	ledger, _ := newSeededTestLedger(t, productID, 100)
	ctx := context.Background()

	last := int64(1)
	for i := 0; i < 5; i++ {
		snap, err := ledger.Reserve(ctx, productID, 1)
		require.NoError(t, err)
		assert.Greater(t, snap.Version, last)
		last = snap.Version
	}
	snap, err := ledger.Release(ctx, productID, 5)
	require.NoError(t, err)
	assert.Greater(t, snap.Version, last)
}
