package dupindex

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	id "unum/pkg/domain"
	"unum/pkg/platform/sentinel"
	"unum/pkg/requestcontext"
)

var reserveDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "unum_dupindex_redis_reserve_duration_ms",
	Help:    "Latency of redis reservation attempts in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
})

const (
	redisKeyPrefix   = "dupidx:key:"
	redisDIDPrefix   = "dupidx:did:"
	redisTokenPrefix = "dupidx:tok:"

	// releasedRetention keeps released token hashes around so a late
	// Release on the same token stays an idempotent no-op.
	releasedRetention = time.Hour
)

// Redis is the index for deployments that share uniqueness state across
// instances through Redis. Reservation is a single Lua script, so the
// claim of the commitment key and the DID key is one atomic step.
//
// Pending reservations carry a TTL equal to the configured max age, so a
// crashed worker's claim expires server-side; Commit persists the keys
// permanently.
type Redis struct {
	client     *redis.Client
	pendingTTL time.Duration
}

// RedisOption configures a Redis index.
type RedisOption func(*Redis)

// WithPendingTTL overrides how long a pending reservation may live.
func WithPendingTTL(d time.Duration) RedisOption {
	return func(r *Redis) { r.pendingTTL = d }
}

// NewRedis constructs a Redis-backed duplicate index.
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{
		client:     client,
		pendingTTL: 5 * time.Minute,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

var reserveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 'dup_key' end
if redis.call('EXISTS', KEYS[2]) == 1 then return 'dup_did' end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[2])
redis.call('HSET', KEYS[3], 'commitment_key', ARGV[3], 'did', ARGV[4], 'state', 'pending', 'reserved_at', ARGV[5])
redis.call('PEXPIRE', KEYS[3], ARGV[2])
return 'ok'
`)

var commitScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if state == 'committed' then return 'ok' end
if state ~= 'pending' then return 'unknown' end
local k = redis.call('HGET', KEYS[1], 'commitment_key')
local d = redis.call('HGET', KEYS[1], 'did')
redis.call('HSET', KEYS[1], 'state', 'committed')
redis.call('PERSIST', KEYS[1])
redis.call('PERSIST', 'dupidx:key:' .. k)
redis.call('PERSIST', 'dupidx:did:' .. d)
return 'ok'
`)

var releaseScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if state == false or state == 'released' then return 'ok' end
if state == 'committed' then return 'committed' end
local k = redis.call('HGET', KEYS[1], 'commitment_key')
local d = redis.call('HGET', KEYS[1], 'did')
redis.call('DEL', 'dupidx:key:' .. k, 'dupidx:did:' .. d)
redis.call('HSET', KEYS[1], 'state', 'released')
redis.call('PEXPIRE', KEYS[1], ARGV[1])
return 'ok'
`)

func (r *Redis) Reserve(ctx context.Context, did id.DID, key id.CommitmentKey) (Reservation, error) {
	if did.IsZero() || key.IsZero() {
		return Reservation{}, fmt.Errorf("did and commitment key are required: %w", sentinel.ErrInvalidState)
	}
	start := time.Now()
	defer func() {
		reserveDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	token := id.NewReservationToken()
	keys := []string{
		redisKeyPrefix + key.String(),
		redisDIDPrefix + did.String(),
		redisTokenPrefix + token.String(),
	}
	args := []any{
		token.String(),
		r.pendingTTL.Milliseconds(),
		key.String(),
		did.String(),
		requestcontext.Now(ctx).UnixMilli(),
	}

	out, err := reserveScript.Run(ctx, r.client, keys, args...).Text()
	if err != nil {
		return Reservation{}, fmt.Errorf("redis reserve: %w", err)
	}
	switch out {
	case "ok":
		return Reservation{Token: token, Key: key, DID: did}, nil
	case "dup_key":
		return Reservation{}, ErrDuplicateCommitment
	case "dup_did":
		return Reservation{}, ErrDIDCollision
	default:
		return Reservation{}, fmt.Errorf("redis reserve: unexpected reply %q", out)
	}
}

func (r *Redis) Commit(ctx context.Context, token id.ReservationToken) error {
	out, err := commitScript.Run(ctx, r.client, []string{redisTokenPrefix + token.String()}).Text()
	if err != nil {
		return fmt.Errorf("redis commit: %w", err)
	}
	if out == "unknown" {
		return ErrUnknownReservation
	}
	return nil
}

func (r *Redis) Release(ctx context.Context, token id.ReservationToken) error {
	out, err := releaseScript.Run(ctx, r.client,
		[]string{redisTokenPrefix + token.String()},
		releasedRetention.Milliseconds()).Text()
	if err != nil {
		return fmt.Errorf("redis release: %w", err)
	}
	if out == "committed" {
		return errCommittedRelease
	}
	return nil
}

func (r *Redis) LookupDID(ctx context.Context, did id.DID) (*Entry, error) {
	tokenStr, err := r.client.Get(ctx, redisDIDPrefix+did.String()).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("did %s: %w", did, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis lookup did: %w", err)
	}

	fields, err := r.client.HGetAll(ctx, redisTokenPrefix+tokenStr).Result()
	if err != nil {
		return nil, fmt.Errorf("redis load reservation: %w", err)
	}
	if EntryState(fields["state"]) != StateCommitted {
		return nil, fmt.Errorf("did %s: %w", did, sentinel.ErrNotFound)
	}

	token, err := id.ParseReservationToken(tokenStr)
	if err != nil {
		return nil, fmt.Errorf("redis load reservation: %w", err)
	}
	return &Entry{
		Key:   id.CommitmentKey(fields["commitment_key"]),
		DID:   did,
		State: StateCommitted,
		Token: token,
	}, nil
}

// ReleaseStale is a no-op for the Redis index: pending reservations expire
// server-side via the TTL set at reserve time.
func (r *Redis) ReleaseStale(context.Context, time.Duration) (int, error) {
	return 0, nil
}
