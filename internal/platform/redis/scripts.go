package redis

import "github.com/redis/go-redis/v9"

// Key layout under the configured prefix:
//
//	msg      hash  task id -> descriptor JSON
//	attempt  hash  task id -> delivery attempt
//	ready    list  task ids visible to consumers, FIFO
//	delayed  zset  task id scored by visible-at (unix ms)
//	leases   zset  task id scored by lease expiry (unix ms)
//	token    hash  task id -> current lease token
//	dead     list  dead-letter message JSON, oldest first
//	deadidx  hash  task id -> 1 for every dead-lettered task

// enqueueScript KEYS: msg attempt ready. ARGV: id body attempt capacity.
// Returns 1 when queued, 0 when the id is already held, -1 when full.
var enqueueScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 1 then
	return 0
end
local capacity = tonumber(ARGV[4])
if capacity > 0 and redis.call('HLEN', KEYS[1]) >= capacity then
	return -1
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[3])
redis.call('RPUSH', KEYS[3], ARGV[1])
return 1
`)

// claimScript KEYS: msg attempt ready delayed leases token.
// ARGV: now_ms lease_ms token batch.
// Promotes due delayed ids, reclaims expired leases, then leases the head
// of ready. Returns {id, body, attempt} or false when nothing is visible.
var claimScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local batch = tonumber(ARGV[4])

local due = redis.call('ZRANGEBYSCORE', KEYS[4], '-inf', now, 'LIMIT', 0, batch)
for _, id in ipairs(due) do
	redis.call('ZREM', KEYS[4], id)
	redis.call('RPUSH', KEYS[3], id)
end

local expired = redis.call('ZRANGEBYSCORE', KEYS[5], '-inf', '(' .. ARGV[1], 'LIMIT', 0, batch)
for _, id in ipairs(expired) do
	redis.call('ZREM', KEYS[5], id)
	redis.call('HDEL', KEYS[6], id)
	redis.call('HINCRBY', KEYS[2], id, 1)
	redis.call('RPUSH', KEYS[3], id)
end

while true do
	local id = redis.call('LPOP', KEYS[3])
	if not id then
		return false
	end
	local body = redis.call('HGET', KEYS[1], id)
	if body and not redis.call('ZSCORE', KEYS[5], id) and not redis.call('ZSCORE', KEYS[4], id) then
		redis.call('ZADD', KEYS[5], now + tonumber(ARGV[2]), id)
		redis.call('HSET', KEYS[6], id, ARGV[3])
		return {id, body, redis.call('HGET', KEYS[2], id)}
	end
end
`)

// holdsLease is prepended to scripts that act on a lease.
// KEYS[1] is leases, KEYS[2] is token; ARGV[1] id, ARGV[2] token, ARGV[3] now_ms.
const holdsLease = `
local function holds()
	if redis.call('HGET', KEYS[2], ARGV[1]) ~= ARGV[2] then
		return false
	end
	local expiry = redis.call('ZSCORE', KEYS[1], ARGV[1])
	return expiry and tonumber(expiry) >= tonumber(ARGV[3])
end
`

// ackScript KEYS: leases token msg attempt. ARGV: id token now_ms.
var ackScript = redis.NewScript(holdsLease + `
if not holds() then
	return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[3], ARGV[1])
redis.call('HDEL', KEYS[4], ARGV[1])
return 1
`)

// nackScript KEYS: leases token attempt ready delayed. ARGV: id token now_ms delay_ms.
var nackScript = redis.NewScript(holdsLease + `
if not holds() then
	return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('HINCRBY', KEYS[3], ARGV[1], 1)
local delay = tonumber(ARGV[4])
if delay > 0 then
	redis.call('ZADD', KEYS[5], tonumber(ARGV[3]) + delay, ARGV[1])
else
	redis.call('RPUSH', KEYS[4], ARGV[1])
end
return 1
`)

// extendScript KEYS: leases token. ARGV: id token now_ms extend_ms.
var extendScript = redis.NewScript(holdsLease + `
if not holds() then
	return 0
end
redis.call('ZADD', KEYS[1], 'XX', tonumber(ARGV[3]) + tonumber(ARGV[4]), ARGV[1])
return 1
`)

// deadLetterScript KEYS: deadidx dead. ARGV: id body.
var deadLetterScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[1], 1) == 0 then
	return 0
end
redis.call('RPUSH', KEYS[2], ARGV[2])
return 1
`)
