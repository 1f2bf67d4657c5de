package queue

import "github.com/go-redis/redis/v8"

// KEYS[1]=index ARGV[1]=member ARGV[2]=score ARGV[3]=payload
// An equal score overwrites, a lower score is ignored.
var upsertIfNewerScript = redis.NewScript(`
local current = redis.call('ZSCORE', KEYS[1], ARGV[1])
if current and tonumber(current) > tonumber(ARGV[2]) then
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[3])
return 1
`)

// KEYS[1]=index KEYS[2]=data ARGV[1]=count
// Returns a flat array of member, score, payload triples.
var popSortedScript = redis.NewScript(`
local members = redis.call('ZRANGE', KEYS[1], 0, tonumber(ARGV[1]) - 1, 'WITHSCORES')
local out = {}
for i = 1, #members, 2 do
  local member = members[i]
  local payload = redis.call('HGET', KEYS[2], member)
  redis.call('ZREM', KEYS[1], member)
  redis.call('HDEL', KEYS[2], member)
  table.insert(out, member)
  table.insert(out, members[i + 1])
  table.insert(out, payload or '')
end
return out
`)

// KEYS[1]=list ARGV[1]=count
var popNScript = redis.NewScript(`
local items = redis.call('LRANGE', KEYS[1], 0, tonumber(ARGV[1]) - 1)
if #items > 0 then
  redis.call('LTRIM', KEYS[1], #items, -1)
end
return items
`)

// KEYS[1]=hash ARGV[1]=count
// Returns a flat array of field, value pairs. The cursor always starts at
// zero because every field it returns is deleted.
var scanAndDeleteScript = redis.NewScript(`
local count = tonumber(ARGV[1])
local cursor = '0'
local out = {}
local taken = 0
repeat
  local res = redis.call('HSCAN', KEYS[1], cursor, 'COUNT', count)
  cursor = res[1]
  local kv = res[2]
  for i = 1, #kv, 2 do
    if taken >= count then
      break
    end
    redis.call('HDEL', KEYS[1], kv[i])
    table.insert(out, kv[i])
    table.insert(out, kv[i + 1])
    taken = taken + 1
  end
until cursor == '0' or taken >= count
return out
`)
