package faststore

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetReportsExistence(t *testing.T) {
	store := newIsolatedTestStore(t)
	ctx := context.Background()

	_, exists, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.Set(ctx, "present", "value", 0))
	val, exists, err := store.Get(ctx, "present")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, "value", val)
}

func TestSetIfAbsentClaimsOnce(t *testing.T) {
	store := newIsolatedTestStore(t)
	ctx := context.Background()

	claimed, err := store.SetIfAbsent(ctx, "guard", "owner-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = store.SetIfAbsent(ctx, "guard", "owner-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)

	val, _, err := store.Get(ctx, "guard")
	require.NoError(t, err)
	assert.Equal(t, "owner-a", val)
}

func TestTxnCommitsQueuedWrites(t *testing.T) {
	store := newIsolatedTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "counter", 10, 0))

	err := store.Txn(ctx, []string{"counter"}, func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, "counter").Int64()
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, "counter", val+1, 0)
			return nil
		})
		return err
	})
	require.NoError(t, err)

	val, _, err := store.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, "11", val)
}

func TestTxnConflictDiscardsWrites(t *testing.T) {
	store := newIsolatedTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "watched", 1, 0))

	err := store.Txn(ctx, []string{"watched"}, func(tx *redis.Tx) error {
		// A competing writer touches the watched key inside the window.
		if err := store.Client().Set(ctx, "watched", 99, 0).Err(); err != nil {
			return err
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, "watched", 2, 0)
			return nil
		})
		return err
	})
	assert.ErrorIs(t, err, ErrConflict)

	val, _, err := store.Get(ctx, "watched")
	require.NoError(t, err)
	assert.Equal(t, "99", val, "queued writes must be discarded on conflict")
}

func TestHashGetAllMultiSkipsAbsentKeys(t *testing.T) {
	store := newIsolatedTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.HashSetMulti(ctx, "hash:a", map[string]interface{}{"f": "1"}))
	require.NoError(t, store.HashSetMulti(ctx, "hash:b", map[string]interface{}{"f": "2"}))

	out, err := store.HashGetAllMulti(ctx, []string{"hash:a", "hash:missing", "hash:b"})
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, "1", out["hash:a"]["f"])
	assert.Equal(t, "2", out["hash:b"]["f"])
	assert.NotContains(t, out, "hash:missing")
}

func TestSortedSetRangeByScoreHonorsLimit(t *testing.T) {
	store := newIsolatedTestStore(t)
	ctx := context.Background()

	for i, member := range []string{"a", "b", "c", "d"} {
		require.NoError(t, store.SortedSetAdd(ctx, "zset", member, float64(i)))
	}

	members, err := store.SortedSetRangeByScore(ctx, "zset", 0, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, members)
}

func TestRunScriptFallsBackToEval(t *testing.T) {
	store := newIsolatedTestStore(t)
	ctx := context.Background()

	script := NewScript(`return redis.call('incrby', KEYS[1], ARGV[1])`)
	res, err := store.RunScript(ctx, script, []string{"scripted"}, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), res)

	res, err = store.RunScript(ctx, script, []string{"scripted"}, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(8), res)
}
