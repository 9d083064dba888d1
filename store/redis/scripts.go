package redis

import goredis "github.com/redis/go-redis/v9"

// createScript inserts a job and its index entries.
//
// KEYS: job, idempotency, jobs, tally, eligible
// ARGV: id, idempotency key, data, version, state, created score, tally field
//
// Returns 1 on success, -1 if the ID exists, -2 if the idempotency key is taken.
var createScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return -1 end
if ARGV[2] ~= '' then
  if redis.call('HSETNX', KEYS[2], ARGV[2], ARGV[1]) == 0 then return -2 end
end
redis.call('HSET', KEYS[1], 'version', ARGV[4], 'state', ARGV[5], 'data', ARGV[3])
redis.call('ZADD', KEYS[3], ARGV[6], ARGV[1])
redis.call('HINCRBY', KEYS[4], ARGV[7], 1)
if ARGV[5] == 'pending' or ARGV[5] == 'retrying' then
  redis.call('ZADD', KEYS[5], ARGV[6], ARGV[1])
end
return 1
`)

// swapScript replaces a job if its stored version still matches and moves
// it between the state indexes.
//
// KEYS: job, tally, eligible, retrying, leases
// ARGV: id, expected version, new version, new state, data,
//
//	old tally field, new tally field, run_at score, lease score, created score
//
// Returns 1 on success, 0 on a version mismatch, -1 if the job is missing.
var swapScript = goredis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if not cur then return -1 end
if cur ~= ARGV[2] then return 0 end
redis.call('HSET', KEYS[1], 'version', ARGV[3], 'state', ARGV[4], 'data', ARGV[5])
if ARGV[6] ~= ARGV[7] then
  if redis.call('HINCRBY', KEYS[2], ARGV[6], -1) <= 0 then
    redis.call('HDEL', KEYS[2], ARGV[6])
  end
  redis.call('HINCRBY', KEYS[2], ARGV[7], 1)
end
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('ZREM', KEYS[4], ARGV[1])
redis.call('ZREM', KEYS[5], ARGV[1])
local state = ARGV[4]
if state == 'pending' or state == 'retrying' then
  redis.call('ZADD', KEYS[3], ARGV[10], ARGV[1])
end
if state == 'retrying' then
  redis.call('ZADD', KEYS[4], ARGV[8], ARGV[1])
end
if state == 'running' then
  redis.call('ZADD', KEYS[5], ARGV[9], ARGV[1])
end
return 1
`)

// renewScript rewrites a running job's data with a new lease without
// bumping its version.
//
// KEYS: job, leases
// ARGV: id, expected version, data, lease score
//
// Returns 1 on success, 0 on a version or state mismatch, -1 if the job is
// missing.
var renewScript = goredis.NewScript(`
local cur = redis.call('HMGET', KEYS[1], 'version', 'state')
if not cur[1] then return -1 end
if cur[1] ~= ARGV[2] or cur[2] ~= 'running' then return 0 end
redis.call('HSET', KEYS[1], 'data', ARGV[3])
redis.call('ZADD', KEYS[2], ARGV[4], ARGV[1])
return 1
`)
