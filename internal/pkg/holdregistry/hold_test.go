package holdregistry

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyNaming(t *testing.T) {
	assert.Equal(t, "hold:abc", HoldKey("abc"))
	assert.Equal(t, "product_holds:3", ProductHoldsKey(3))
	assert.Equal(t, "expiring_index:3", ExpiringIndexKey(3))
	assert.Equal(t, "holds_by_status:active", StatusSetKey(StatusActive))
	assert.Equal(t, "active_holds:3", ActiveHoldsKey(3))
	assert.Equal(t, "expire_lock:abc", ExpireLockKey("abc"))
}

func TestParseHoldRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Second).UTC()
	original := &Hold{
		ID:             "h-1",
		ProductID:      42,
		Qty:            3,
		Status:         StatusActive,
		CreatedAt:      now,
		ExpiresAt:      now.Add(2 * time.Minute),
		ExpiresAtEpoch: now.Add(2 * time.Minute).Unix(),
		Version:        7,
	}

	raw := make(map[string]string, len(original.fields()))
	for k, v := range original.fields() {
		raw[k] = toString(t, v)
	}

	parsed, err := ParseHold("h-1", raw)
	require.NoError(t, err)
	assert.Equal(t, original.ID, parsed.ID)
	assert.Equal(t, original.ProductID, parsed.ProductID)
	assert.Equal(t, original.Qty, parsed.Qty)
	assert.Equal(t, original.Status, parsed.Status)
	assert.Equal(t, original.ExpiresAtEpoch, parsed.ExpiresAtEpoch)
	assert.Equal(t, original.Version, parsed.Version)
	assert.True(t, original.CreatedAt.Equal(parsed.CreatedAt))
	assert.True(t, original.ExpiresAt.Equal(parsed.ExpiresAt))
}

func TestParseHoldAbsent(t *testing.T) {
	_, err := ParseHold("gone", map[string]string{})
	assert.ErrorIs(t, err, ErrHoldNotFound)
}

func TestParseHoldCorruptFields(t *testing.T) {
	_, err := ParseHold("h", map[string]string{"status": "active", "product_id": "x"})
	assert.Error(t, err)

	_, err = ParseHold("h", map[string]string{"status": "active", "product_id": "1", "qty": "??"})
	assert.Error(t, err)
}

func TestExpiredByInclusiveBoundary(t *testing.T) {
	now := time.Now()
	hold := &Hold{ExpiresAtEpoch: now.Unix()}

	assert.True(t, hold.ExpiredBy(now), "deadline equal to now is expired")
	assert.True(t, hold.ExpiredBy(now.Add(time.Second)))

	hold.ExpiresAtEpoch = now.Unix() + 5
	assert.False(t, hold.ExpiredBy(now))
}

func toString(t *testing.T, v interface{}) string {
	t.Helper()
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
