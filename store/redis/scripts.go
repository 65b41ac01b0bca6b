package redis

import goredis "github.com/redis/go-redis/v9"

// reserveScript claims the job and fingerprint keys of a batch, all or
// nothing.
//
// KEYS: n job keys, then n fingerprint keys. ARGV: n job IDs.
// Returns 1 on success, 0 if any key is taken.
var reserveScript = goredis.NewScript(`
local n = #ARGV
for i = 1, n do
  if redis.call('EXISTS', KEYS[i]) == 1 or redis.call('EXISTS', KEYS[n + i]) == 1 then
    return 0
  end
end
for i = 1, n do
  redis.call('SET', KEYS[n + i], ARGV[i])
end
return 1
`)

// casScript applies a status transition if the current status is allowed and
// keeps the queued and delayed sorted sets in step with the job's status.
//
// KEYS[1] job hash, KEYS[2] queued zset, KEYS[3] delayed zset.
// ARGV[1] new status, ARGV[2] timestamp text, ARGV[3] timestamp µs,
// ARGV[4] timestamp field or "", ARGV[5] error or "", ARGV[6] job ID,
// ARGV[7..] allowed current statuses.
// Returns 1 when applied, 0 when the status did not match, -1 if missing.
var casScript = goredis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
  return -1
end
local allowed = false
for i = 7, #ARGV do
  if ARGV[i] == status then
    allowed = true
    break
  end
end
if not allowed then
  return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'updated_at', ARGV[2])
if ARGV[4] ~= '' then
  redis.call('HSET', KEYS[1], ARGV[4], ARGV[2])
end
if ARGV[5] ~= '' then
  redis.call('HSET', KEYS[1], 'last_error', ARGV[5])
end
redis.call('ZREM', KEYS[2], ARGV[6])
redis.call('ZREM', KEYS[3], ARGV[6])
if ARGV[1] == 'queued' then
  redis.call('ZADD', KEYS[2], ARGV[3], ARGV[6])
elseif ARGV[1] == 'delayed' then
  local due = redis.call('HGET', KEYS[1], 'available_at_us')
  if due and due ~= '' then
    redis.call('ZADD', KEYS[3], due, ARGV[6])
  end
end
return 1
`)
