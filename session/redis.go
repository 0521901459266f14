package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "pdfcosign:session:"

const (
	allocated = iota
	totalMismatch
	alreadyComplete
)

// allocateScript creates the session hash on first use, checks the signer
// total and increments the completed counter in one server-side step.
//
// KEYS[1] session hash, ARGV[1] total, ARGV[2] mode, ARGV[3] now (unix nanos),
// ARGV[4] ttl in milliseconds (0 disables expiry).
var allocateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	redis.call('HSET', KEYS[1], 'total', ARGV[1], 'completed', 0, 'mode', ARGV[2], 'created', ARGV[3], 'updated', ARGV[3])
end
local total = tonumber(redis.call('HGET', KEYS[1], 'total'))
local completed = tonumber(redis.call('HGET', KEYS[1], 'completed'))
local status = 0
if total ~= tonumber(ARGV[1]) then
	status = 1
elseif completed >= total then
	status = 2
else
	completed = completed + 1
	redis.call('HSET', KEYS[1], 'completed', completed, 'updated', ARGV[3])
	if tonumber(ARGV[4]) > 0 then
		redis.call('PEXPIRE', KEYS[1], ARGV[4])
	end
end
local s = redis.call('HMGET', KEYS[1], 'mode', 'created', 'updated')
return {status, total, completed, s[1], s[2], s[3]}
`)

// releaseScript decrements the completed counter only if position is the
// latest allocation, and drops the session once nothing is allocated.
//
// KEYS[1] session hash, ARGV[1] position, ARGV[2] now (unix nanos).
var releaseScript = redis.NewScript(`
local completed = tonumber(redis.call('HGET', KEYS[1], 'completed'))
if completed == nil or completed ~= tonumber(ARGV[1]) + 1 then
	return 0
end
if completed == 1 then
	redis.call('DEL', KEYS[1])
else
	redis.call('HSET', KEYS[1], 'completed', completed - 1, 'updated', ARGV[2])
end
return 1
`)

// RedisAllocator keeps sessions in Redis hashes.
type RedisAllocator struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// RedisOption configures a RedisAllocator.
type RedisOption func(*RedisAllocator)

// WithTTL expires sessions ttl after their last allocation.
func WithTTL(ttl time.Duration) RedisOption {
	return func(a *RedisAllocator) {
		a.ttl = ttl
	}
}

// NewRedis returns an allocator backed by client. The client lifecycle is
// managed by the caller.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *RedisAllocator {
	a := &RedisAllocator{client: client}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// DialRedis parses url, connects and pings the server.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func (a *RedisAllocator) Allocate(ctx context.Context, identity Identity, totalSigners int, mode Mode) (Position, Session, error) {
	if err := validate(identity, totalSigners, mode); err != nil {
		return 0, Session{}, err
	}

	now := strconv.FormatInt(time.Now().UnixNano(), 10)
	res, err := allocateScript.Run(ctx, a.client, []string{redisKeyPrefix + string(identity)},
		totalSigners, string(mode), now, a.ttl.Milliseconds()).Slice()
	if err != nil {
		return 0, Session{}, fmt.Errorf("allocate position: %w", err)
	}
	if len(res) != 6 {
		return 0, Session{}, fmt.Errorf("allocate position: unexpected script result %v", res)
	}

	s := Session{
		Identity:     identity,
		TotalSigners: int(toInt64(res[1])),
		Completed:    int(toInt64(res[2])),
		Mode:         Mode(toString(res[3])),
		CreatedAt:    toTime(res[4]),
		UpdatedAt:    toTime(res[5]),
	}
	switch toInt64(res[0]) {
	case allocated:
		return Position(s.Completed - 1), s, nil
	case totalMismatch:
		return 0, s, fmt.Errorf("%w: session has %d signers, got %d", ErrTotalSignersMismatch, s.TotalSigners, totalSigners)
	default:
		return 0, s, ErrSessionAlreadyComplete
	}
}

func (a *RedisAllocator) Release(ctx context.Context, identity Identity, position Position) error {
	now := strconv.FormatInt(time.Now().UnixNano(), 10)
	n, err := releaseScript.Run(ctx, a.client, []string{redisKeyPrefix + string(identity)}, int(position), now).Int()
	if err != nil {
		return fmt.Errorf("release position: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: cannot release position %d of %s", ErrSequenceRaceDetected, position, identity)
	}
	return nil
}

func (a *RedisAllocator) Session(ctx context.Context, identity Identity) (Session, error) {
	h, err := a.client.HGetAll(ctx, redisKeyPrefix+string(identity)).Result()
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	if len(h) == 0 {
		return Session{}, ErrSessionNotFound
	}

	total, _ := strconv.Atoi(h["total"])
	completed, _ := strconv.Atoi(h["completed"])
	return Session{
		Identity:     identity,
		TotalSigners: total,
		Completed:    completed,
		Mode:         Mode(h["mode"]),
		CreatedAt:    toTime(h["created"]),
		UpdatedAt:    toTime(h["updated"]),
	}, nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	}
	return 0
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func toTime(v interface{}) time.Time {
	nanos := toInt64(v)
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}
