package stockledger

import "github.com/TobiKellner/FlashKart/internal/pkg/faststore"

// Server-side scripts for the pessimistic reservation path. The caller
// holds a row lock on the product, so only one of these runs per product
// at a time; the script still re-checks the counters because optimistic
// reservations from other requests keep flowing.

// reserveScript: KEYS = {available, reserved, version}, ARGV = {qty}.
// Returns {-1} when the counters are not initialized, {0, a, r, v} when
// stock is short, {1, a', r', v'} on success.
var reserveScript = faststore.NewScript(`
local available = redis.call('get', KEYS[1])
if not available then
    return {-1}
end
available = tonumber(available)
local reserved = tonumber(redis.call('get', KEYS[2]) or '0')
local version = tonumber(redis.call('get', KEYS[3]) or '0')
local qty = tonumber(ARGV[1])

if available < qty then
    return {0, available, reserved, version}
end

redis.call('set', KEYS[1], available - qty)
redis.call('set', KEYS[2], reserved + qty)
redis.call('set', KEYS[3], version + 1)
return {1, available - qty, reserved + qty, version + 1}
`)

// releaseScript: same keys, ARGV = {qty}. Returns {-1} uninitialized,
// {0, a, r, v} when reserved < qty, {1, a', r', v'} on success.
var releaseScript = faststore.NewScript(`
local available = redis.call('get', KEYS[1])
if not available then
    return {-1}
end
available = tonumber(available)
local reserved = tonumber(redis.call('get', KEYS[2]) or '0')
local version = tonumber(redis.call('get', KEYS[3]) or '0')
local qty = tonumber(ARGV[1])

if reserved < qty then
    return {0, available, reserved, version}
end

redis.call('set', KEYS[1], available + qty)
redis.call('set', KEYS[2], reserved - qty)
redis.call('set', KEYS[3], version + 1)
return {1, available + qty, reserved - qty, version + 1}
`)

// commitScript: decrements reserved without touching available; the units
// leave the system for good. Same return contract as releaseScript.
var commitScript = faststore.NewScript(`
local available = redis.call('get', KEYS[1])
if not available then
    return {-1}
end
available = tonumber(available)
local reserved = tonumber(redis.call('get', KEYS[2]) or '0')
local version = tonumber(redis.call('get', KEYS[3]) or '0')
local qty = tonumber(ARGV[1])

if reserved < qty then
    return {0, available, reserved, version}
end

redis.call('set', KEYS[2], reserved - qty)
redis.call('set', KEYS[3], version + 1)
return {1, available, reserved - qty, version + 1}
`)
