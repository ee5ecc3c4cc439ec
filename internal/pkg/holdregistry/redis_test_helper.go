package holdregistry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/TobiKellner/FlashKart/internal/pkg/env"
	"github.com/TobiKellner/FlashKart/internal/pkg/faststore"
	"github.com/TobiKellner/FlashKart/internal/pkg/stockledger"
)

const isolatedHoldRegistryTestRedisDB = 11

func resolveTestRedis(t *testing.T) (string, string, string) {
	t.Helper()

	hosts := []string{
		env.GetEnv("CACHE_HOST", ""),
		"cache",
		"localhost",
		"127.0.0.1",
	}
	ports := []string{
		env.GetEnv("CACHE_PORT", "6379"),
		"6379",
	}
	passwords := []string{
		env.GetEnv("CACHE_PASSWORD", ""),
		"",
	}

	var lastErr error
	for _, host := range hosts {
		if host == "" {
			continue
		}
		for _, port := range ports {
			for _, password := range passwords {
				client := redis.NewClient(&redis.Options{
					Addr:     fmt.Sprintf("%s:%s", host, port),
					Password: password,
					DB:       0,
				})

				ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
				_, err := client.Ping(ctx).Result()
				cancel()
				_ = client.Close()
				if err == nil {
					return host, port, password
				}
				lastErr = err
			}
		}
	}

	t.Skipf("Skipping Redis-dependent test: no reachable Redis endpoint (%v)", lastErr)
	return "", "", ""
}

// newSeededTestRegistry builds a registry over an isolated database with the
// product counters pre-seeded, so no durable store is needed.
func newSeededTestRegistry(t *testing.T, productID uint, available int64, ttl time.Duration) (*Registry, *faststore.Store) {
	t.Helper()

	host, port, password := resolveTestRedis(t)
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: password,
		DB:       isolatedHoldRegistryTestRedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	_, err := client.Ping(ctx).Result()
	cancel()
	if err != nil {
		_ = client.Close()
		t.Skipf("Skipping Redis-dependent test: isolated DB ping failed (%v)", err)
	}

	if err := client.FlushDB(context.Background()).Err(); err != nil {
		_ = client.Close()
		t.Fatalf("failed to flush isolated redis db: %v", err)
	}
	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})

	store := faststore.New(client)
	seedTestCounters(t, store, productID, available)

	ledger := stockledger.New(store, nil)
	return New(store, ledger, ttl), store
}

func seedTestCounters(t *testing.T, store *faststore.Store, productID uint, available int64) {
	t.Helper()

	ctx := context.Background()
	if err := store.Set(ctx, stockledger.AvailableKey(productID), available, 0); err != nil {
		t.Fatalf("failed to seed available counter: %v", err)
	}
	if err := store.Set(ctx, stockledger.ReservedKey(productID), 0, 0); err != nil {
		t.Fatalf("failed to seed reserved counter: %v", err)
	}
	if err := store.Set(ctx, stockledger.VersionKey(productID), 1, 0); err != nil {
		t.Fatalf("failed to seed version counter: %v", err)
	}
}
