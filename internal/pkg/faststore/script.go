package faststore

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Script wraps a server-side Lua script. Execution is a single indivisible
// step on the store; no other command interleaves with it.
type Script struct {
	script *redis.Script
}

// NewScript prepares a script for EVALSHA dispatch with EVAL fallback.
func NewScript(src string) *Script {
	return &Script{script: redis.NewScript(src)}
}

// RunScript executes the script atomically against the store.
func (s *Store) RunScript(ctx context.Context, script *Script, keys []string, args ...interface{}) (interface{}, error) {
	res, err := script.script.Run(ctx, s.client, keys, args...).Result()
	if err != nil && err != redis.Nil {
		return nil, wrapErr(err)
	}
	return res, nil
}
