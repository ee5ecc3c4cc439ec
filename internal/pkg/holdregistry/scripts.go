package holdregistry

import "github.com/TobiKellner/FlashKart/internal/pkg/faststore"

// Terminal hold transitions are scripted atomics: the stock counters, the
// hold hash and all three indices change in one indivisible step, so there
// is never a half-indexed hold.
//
// Shared reply codes: -1 hold absent, -2 hold not active, -3 reserved
// counter short, -4 not expired yet (expire only). Success replies start
// with 1 followed by {qty, available, reserved, version}.

// releaseScript cancels an active hold and refunds its units.
// KEYS: {hold, available, reserved, version, active_holds, product_holds,
// expiring_index, holds_by_status:active}; ARGV: {hold_id}.
var releaseScript = faststore.NewScript(`
local status = redis.call('hget', KEYS[1], 'status')
if not status then
    return {-1}
end
if status ~= 'active' then
    return {-2}
end
local qty = tonumber(redis.call('hget', KEYS[1], 'qty'))
local reserved = tonumber(redis.call('get', KEYS[3]) or '0')
if reserved < qty then
    return {-3, reserved, qty}
end
local available = tonumber(redis.call('get', KEYS[2]) or '0')
local version = tonumber(redis.call('get', KEYS[4]) or '0')

redis.call('set', KEYS[2], available + qty)
redis.call('set', KEYS[3], reserved - qty)
redis.call('set', KEYS[4], version + 1)
redis.call('decrby', KEYS[5], qty)
redis.call('del', KEYS[1])
redis.call('srem', KEYS[6], ARGV[1])
redis.call('zrem', KEYS[7], ARGV[1])
redis.call('srem', KEYS[8], ARGV[1])
return {1, qty, available + qty, reserved - qty, version + 1}
`)

// expireScript is releaseScript gated on the expiry deadline.
// Same KEYS; ARGV: {hold_id, now_epoch}.
var expireScript = faststore.NewScript(`
local status = redis.call('hget', KEYS[1], 'status')
if not status then
    return {-1}
end
if status ~= 'active' then
    return {-2}
end
local expires = tonumber(redis.call('hget', KEYS[1], 'expires_at_epoch') or '0')
if expires > tonumber(ARGV[2]) then
    return {-4, expires}
end
local qty = tonumber(redis.call('hget', KEYS[1], 'qty'))
local reserved = tonumber(redis.call('get', KEYS[3]) or '0')
if reserved < qty then
    return {-3, reserved, qty}
end
local available = tonumber(redis.call('get', KEYS[2]) or '0')
local version = tonumber(redis.call('get', KEYS[4]) or '0')

redis.call('set', KEYS[2], available + qty)
redis.call('set', KEYS[3], reserved - qty)
redis.call('set', KEYS[4], version + 1)
redis.call('decrby', KEYS[5], qty)
redis.call('del', KEYS[1])
redis.call('srem', KEYS[6], ARGV[1])
redis.call('zrem', KEYS[7], ARGV[1])
redis.call('srem', KEYS[8], ARGV[1])
return {1, qty, available + qty, reserved - qty, version + 1}
`)

// commitScript consumes an active hold on payment success: reserved
// shrinks, available stays (the units left the system for good).
// Same KEYS as releaseScript; ARGV: {hold_id}.
var commitScript = faststore.NewScript(`
local status = redis.call('hget', KEYS[1], 'status')
if not status then
    return {-1}
end
if status ~= 'active' then
    return {-2}
end
local qty = tonumber(redis.call('hget', KEYS[1], 'qty'))
local reserved = tonumber(redis.call('get', KEYS[3]) or '0')
if reserved < qty then
    return {-3, reserved, qty}
end
local available = tonumber(redis.call('get', KEYS[2]) or '0')
local version = tonumber(redis.call('get', KEYS[4]) or '0')

redis.call('set', KEYS[3], reserved - qty)
redis.call('set', KEYS[4], version + 1)
redis.call('decrby', KEYS[5], qty)
redis.call('del', KEYS[1])
redis.call('srem', KEYS[6], ARGV[1])
redis.call('zrem', KEYS[7], ARGV[1])
redis.call('srem', KEYS[8], ARGV[1])
return {1, qty, available, reserved - qty, version + 1}
`)

// bulkExpireScript expires many holds of one product in a single round
// trip. Holds that lost the race (released, converted, already gone) are
// skipped. Hold keys are derived inside the script, which pins the
// deployment to a non-clustered store; that matches how it is run.
// KEYS: {available, reserved, version, active_holds, product_holds,
// expiring_index, holds_by_status:active}; ARGV: {now_epoch, hold_id...}.
var bulkExpireScript = faststore.NewScript(`
local expired = 0
local released = 0
local now = tonumber(ARGV[1])

for i = 2, #ARGV do
    local holdKey = 'hold:' .. ARGV[i]
    local status = redis.call('hget', holdKey, 'status')
    if status == 'active' then
        local expires = tonumber(redis.call('hget', holdKey, 'expires_at_epoch') or '0')
        if expires <= now then
            local qty = tonumber(redis.call('hget', holdKey, 'qty') or '0')
            local reserved = tonumber(redis.call('get', KEYS[2]) or '0')
            if qty > 0 and reserved >= qty then
                local available = tonumber(redis.call('get', KEYS[1]) or '0')
                redis.call('set', KEYS[1], available + qty)
                redis.call('set', KEYS[2], reserved - qty)
                redis.call('incr', KEYS[3])
                redis.call('decrby', KEYS[4], qty)
                redis.call('del', holdKey)
                redis.call('srem', KEYS[5], ARGV[i])
                redis.call('zrem', KEYS[6], ARGV[i])
                redis.call('srem', KEYS[7], ARGV[i])
                expired = expired + 1
                released = released + qty
            end
        end
    end
end
return {expired, released}
`)
