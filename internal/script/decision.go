package script

import (
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMalformedReply is returned when a script reply does not have the
// documented shape.
var ErrMalformedReply = errors.New("malformed script reply")

// Tier values written into the block flag and returned as the reason.
const (
	TierNone  = "none"
	TierShort = "short"
	TierLong  = "long"
)

// KEYS: ledger, block, seq.
// ARGV: short_window, short_threshold, short_block, long_window,
// long_threshold, long_block, ledger_ttl (all whole seconds / counts).
//
// The store clock (TIME) is the only time source. The block flag is only
// ever written with NX, and its TTL is the remaining block duration.
// A flag without expiry, written by something other than this script, is
// reported with retry-after -1.
const decisionScript = `
local ledger = KEYS[1]
local block = KEYS[2]
local seq_key = KEYS[3]

local short_window = tonumber(ARGV[1])
local short_threshold = tonumber(ARGV[2])
local short_block = tonumber(ARGV[3])
local long_window = tonumber(ARGV[4])
local long_threshold = tonumber(ARGV[5])
local long_block = tonumber(ARGV[6])
local ledger_ttl = tonumber(ARGV[7])

local now = tonumber(redis.call("TIME")[1])

local horizon = short_window
if long_window > horizon then
  horizon = long_window
end
redis.call("ZREMRANGEBYSCORE", ledger, "-inf", "(" .. (now - horizon))

local seq = redis.call("INCR", seq_key)
redis.call("EXPIRE", seq_key, ledger_ttl)
redis.call("ZADD", ledger, now, now .. ":" .. seq)
redis.call("EXPIRE", ledger, ledger_ttl)

local short_count = redis.call("ZCOUNT", ledger, now - short_window, now)
local long_count = redis.call("ZCOUNT", ledger, now - long_window, now)

local function remaining()
  local ttl = redis.call("TTL", block)
  if ttl == -1 then
    return -1
  end
  if ttl < 0 then
    return 0
  end
  return ttl
end

local active = redis.call("GET", block)
if active then
  local tier = "long"
  if active == "short" then
    tier = "short"
  end
  return {0, remaining(), short_count, long_count, tier}
end

if short_count >= short_threshold then
  redis.call("SET", block, "short", "EX", short_block, "NX")
  return {0, remaining(), short_count, long_count, "short"}
end

if long_count >= long_threshold then
  redis.call("SET", block, "long", "EX", long_block, "NX")
  return {0, remaining(), short_count, long_count, "long"}
end

return {1, 0, short_count, long_count, "none"}
`

// KEYS: ledger, block, seq. ARGV: short_window, long_window.
// Read only; nothing is pruned or recorded.
const inspectScript = `
local now = tonumber(redis.call("TIME")[1])
local short_count = redis.call("ZCOUNT", KEYS[1], now - tonumber(ARGV[1]), now)
local long_count = redis.call("ZCOUNT", KEYS[1], now - tonumber(ARGV[2]), now)
local ttl = redis.call("TTL", KEYS[2])
if ttl < 0 then
  ttl = 0
end
local tier = redis.call("GET", KEYS[2])
if not tier then
  tier = "none"
elseif tier ~= "short" then
  tier = "long"
end
local seq = tonumber(redis.call("GET", KEYS[3]) or "0")
return {short_count, long_count, ttl, seq, tier, now}
`

// Decision is the server-side decision script.
var Decision = redis.NewScript(decisionScript)

// Inspect is the read-only snapshot script.
var Inspect = redis.NewScript(inspectScript)

// Args holds the decision script parameters in whole seconds.
type Args struct {
	ShortWindow    int64
	ShortThreshold int64
	ShortBlock     int64
	LongWindow     int64
	LongThreshold  int64
	LongBlock      int64
	LedgerTTL      int64
}

// Values returns ARGV in script order.
func (a Args) Values() []any {
	return []any{
		a.ShortWindow,
		a.ShortThreshold,
		a.ShortBlock,
		a.LongWindow,
		a.LongThreshold,
		a.LongBlock,
		a.LedgerTTL,
	}
}

// Result is a parsed decision reply. NoExpiry is set when the block flag
// has no TTL; RetryAfter is then zero.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
	ShortCount int64
	LongCount  int64
	Tier       string
	NoExpiry   bool
}

// Parse validates and decodes a decision reply.
func Parse(reply any) (Result, error) {
	parts, ok := reply.([]interface{})
	if !ok {
		return Result{}, fmt.Errorf("%w: expected array, got %T", ErrMalformedReply, reply)
	}
	if len(parts) != 5 {
		return Result{}, fmt.Errorf("%w: expected 5 elements, got %d", ErrMalformedReply, len(parts))
	}

	nums := make([]int64, 4)
	noExpiry := false
	for i := 0; i < 4; i++ {
		v, ok := parts[i].(int64)
		if !ok {
			return Result{}, fmt.Errorf("%w: element %d is %T", ErrMalformedReply, i, parts[i])
		}
		if i == 1 && v == -1 {
			noExpiry = true
			continue
		}
		if v < 0 {
			return Result{}, fmt.Errorf("%w: element %d is negative", ErrMalformedReply, i)
		}
		nums[i] = v
	}

	tier, ok := parts[4].(string)
	if !ok {
		return Result{}, fmt.Errorf("%w: reason is %T", ErrMalformedReply, parts[4])
	}

	allowedFlag := nums[0]
	switch {
	case allowedFlag == 1 && tier == TierNone:
	case allowedFlag == 0 && (tier == TierShort || tier == TierLong):
	default:
		return Result{}, fmt.Errorf("%w: inconsistent allowed=%d reason=%q", ErrMalformedReply, allowedFlag, tier)
	}
	if noExpiry && allowedFlag == 1 {
		return Result{}, fmt.Errorf("%w: allowed reply without block expiry", ErrMalformedReply)
	}

	return Result{
		Allowed:    allowedFlag == 1,
		RetryAfter: time.Duration(nums[1]) * time.Second,
		ShortCount: nums[2],
		LongCount:  nums[3],
		Tier:       tier,
		NoExpiry:   noExpiry,
	}, nil
}

// Snapshot is a parsed inspect reply.
type Snapshot struct {
	ShortCount int64
	LongCount  int64
	BlockTTL   time.Duration
	Sequence   int64
	Tier       string
	Now        time.Time
}

// ParseSnapshot validates and decodes an inspect reply.
func ParseSnapshot(reply any) (Snapshot, error) {
	parts, ok := reply.([]interface{})
	if !ok || len(parts) != 6 {
		return Snapshot{}, fmt.Errorf("%w: invalid inspect reply %v", ErrMalformedReply, reply)
	}

	var nums [4]int64
	for i := range nums {
		v, ok := parts[i].(int64)
		if !ok || v < 0 {
			return Snapshot{}, fmt.Errorf("%w: inspect element %d is %v", ErrMalformedReply, i, parts[i])
		}
		nums[i] = v
	}
	tier, ok := parts[4].(string)
	if !ok || (tier != TierNone && tier != TierShort && tier != TierLong) {
		return Snapshot{}, fmt.Errorf("%w: inspect tier is %v", ErrMalformedReply, parts[4])
	}
	now, ok := parts[5].(int64)
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: inspect time is %T", ErrMalformedReply, parts[5])
	}

	return Snapshot{
		ShortCount: nums[0],
		LongCount:  nums[1],
		BlockTTL:   time.Duration(nums[2]) * time.Second,
		Sequence:   nums[3],
		Tier:       tier,
		Now:        time.Unix(now, 0),
	}, nil
}
