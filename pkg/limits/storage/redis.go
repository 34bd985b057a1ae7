package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounterStore implements CounterStore on Redis.
// It is the counter hot path for multi-instance deployments: several
// gateway processes share one set of quota counters, and the
// compare-and-increment runs as a Lua script so the check and the
// increment are a single server-side operation.
//
// RedisCounterStore does not implement AddOnStore; add-on instances are
// audit records and stay in SQLite or memory.
type RedisCounterStore struct {
	client    *redis.Client
	keyPrefix string
	opTimeout time.Duration
}

// RedisConfig configures the Redis counter store.
type RedisConfig struct {
	// Addr is the Redis server address ("host:port").
	Addr string

	// Password is the optional server password.
	Password string

	// DB is the Redis database number.
	DB int

	// DialTimeout bounds connection establishment.
	// Default: 5 seconds
	DialTimeout time.Duration

	// OpTimeout bounds each counter operation. Admission sits in front
	// of every forwarded request, so this stays aggressive.
	// Default: 50 milliseconds
	OpTimeout time.Duration

	// KeyPrefix namespaces all keys. Default: "gatehouse"
	KeyPrefix string
}

// ensureScript creates the counter hash in one server-side step so a
// counter can never be observed with 'used' set but 'limit' missing.
// A hash that lost its 'limit' field anyway (pre-existing data) gets it
// restored without touching 'used'.
var ensureScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], 'used', 0) == 1 then
  redis.call('HSET', KEYS[1], 'limit', ARGV[1], 'period_start', ARGV[2], 'archived', 0)
  return 1
end
redis.call('HSETNX', KEYS[1], 'limit', ARGV[1])
redis.call('HSETNX', KEYS[1], 'period_start', ARGV[2])
redis.call('HSETNX', KEYS[1], 'archived', 0)
return 0
`)

// incrementScript grants one unit of base quota while the counter stays
// strictly below its ceiling. Returns {used, granted}. A counter with
// no 'limit' field is reported as missing rather than unlimited, so a
// corrupt hash denies instead of disabling enforcement.
var incrementScript = redis.NewScript(`
local used = redis.call('HGET', KEYS[1], 'used')
if not used then
  return {-1, 0}
end
local limit = redis.call('HGET', KEYS[1], 'limit')
if not limit then
  return {-1, 0}
end
used = tonumber(used)
limit = tonumber(limit)
if limit > 0 and used + 1 >= limit then
  return {used, 0}
end
used = redis.call('HINCRBY', KEYS[1], 'used', 1)
return {used, 1}
`)

// NewRedisCounterStore connects to Redis and verifies the connection.
func NewRedisCounterStore(cfg RedisConfig) (*RedisCounterStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.OpTimeout == 0 {
		cfg.OpTimeout = 50 * time.Millisecond
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "gatehouse"
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.OpTimeout,
		WriteTimeout: cfg.OpTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCounterStore{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		opTimeout: cfg.OpTimeout,
	}, nil
}

func (r *RedisCounterStore) counterKey(keyID, period string) string {
	return fmt.Sprintf("%s:quota:%s:%s", r.keyPrefix, keyID, period)
}

func (r *RedisCounterStore) bucketKey(keyID, window string) string {
	return fmt.Sprintf("%s:bucket:%s:%s", r.keyPrefix, keyID, window)
}

func (r *RedisCounterStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.opTimeout)
}

// EnsureCounter creates the counter hash if absent. Creation runs as a
// single Lua script so concurrent first requests of a month, or a crash
// between fields, cannot leave a partially initialized counter.
func (r *RedisCounterStore) EnsureCounter(ctx context.Context, keyID, period string, limit int64, periodStart time.Time) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	err := ensureScript.Run(ctx, r.client,
		[]string{r.counterKey(keyID, period)},
		limit, periodStart.Unix(),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to ensure counter: %w", err)
	}
	return nil
}

// IncrementIfBelow atomically consumes one unit of base quota.
func (r *RedisCounterStore) IncrementIfBelow(ctx context.Context, keyID, period string) (int64, bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := incrementScript.Run(ctx, r.client, []string{r.counterKey(keyID, period)}).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("failed to increment counter: %w", err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("unexpected increment script result: %v", res)
	}
	if res[0] < 0 {
		return 0, false, ErrCounterNotFound
	}

	return res[0], res[1] == 1, nil
}

// GetCounter returns the counter for (keyID, period).
func (r *RedisCounterStore) GetCounter(ctx context.Context, keyID, period string) (*QuotaCounter, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	fields, err := r.client.HGetAll(ctx, r.counterKey(keyID, period)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load counter: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrCounterNotFound
	}

	return parseCounterHash(keyID, period, fields)
}

// ListCountersBefore scans for non-archived counters older than period.
// SCAN-based, so this is an operational batch call, not a hot path.
func (r *RedisCounterStore) ListCountersBefore(ctx context.Context, period string) ([]*QuotaCounter, error) {
	pattern := fmt.Sprintf("%s:quota:*", r.keyPrefix)

	var out []*QuotaCounter
	iter := r.client.Scan(ctx, 0, pattern, 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		keyID, counterPeriod, ok := r.splitCounterKey(key)
		if !ok || counterPeriod >= period {
			continue
		}

		fields, err := r.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to load counter %s: %w", key, err)
		}
		if len(fields) == 0 || fields["archived"] == "1" {
			continue
		}

		c, err := parseCounterHash(keyID, counterPeriod, fields)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan counters: %w", err)
	}

	return out, nil
}

// ArchiveCounter marks a counter as rolled forward.
func (r *RedisCounterStore) ArchiveCounter(ctx context.Context, keyID, period string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	err := r.client.HSet(ctx, r.counterKey(keyID, period), "archived", 1).Err()
	if err != nil {
		return fmt.Errorf("failed to archive counter: %w", err)
	}
	return nil
}

// SaveBucket upserts a rate-limit bucket snapshot.
func (r *RedisCounterStore) SaveBucket(ctx context.Context, state *BucketState) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	err := r.client.HSet(ctx, r.bucketKey(state.KeyID, state.Window),
		"tokens", strconv.FormatFloat(state.Tokens, 'g', -1, 64),
		"last_refill", state.LastRefill.UnixNano(),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to save bucket: %w", err)
	}
	return nil
}

// LoadBucket returns the snapshot for (keyID, window), or nil.
func (r *RedisCounterStore) LoadBucket(ctx context.Context, keyID, window string) (*BucketState, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	fields, err := r.client.HGetAll(ctx, r.bucketKey(keyID, window)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load bucket: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	tokens, err := strconv.ParseFloat(fields["tokens"], 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt bucket tokens: %w", err)
	}
	lastRefill, err := strconv.ParseInt(fields["last_refill"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt bucket refill time: %w", err)
	}

	return &BucketState{
		KeyID:      keyID,
		Window:     window,
		Tokens:     tokens,
		LastRefill: time.Unix(0, lastRefill),
	}, nil
}

// Close releases the Redis client.
func (r *RedisCounterStore) Close() error {
	return r.client.Close()
}

// splitCounterKey parses "prefix:quota:<keyID>:<period>".
func (r *RedisCounterStore) splitCounterKey(key string) (keyID, period string, ok bool) {
	rest, found := strings.CutPrefix(key, r.keyPrefix+":quota:")
	if !found {
		return "", "", false
	}

	idx := strings.LastIndex(rest, ":")
	if idx <= 0 || idx == len(rest)-1 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}

func parseCounterHash(keyID, period string, fields map[string]string) (*QuotaCounter, error) {
	used, err := strconv.ParseInt(fields["used"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt counter used field: %w", err)
	}
	limit, err := strconv.ParseInt(fields["limit"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt counter limit field: %w", err)
	}
	start, err := strconv.ParseInt(fields["period_start"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt counter period_start field: %w", err)
	}

	return &QuotaCounter{
		KeyID:       keyID,
		Period:      period,
		Used:        used,
		Limit:       limit,
		PeriodStart: time.Unix(start, 0).UTC(),
		Archived:    fields["archived"] == "1",
	}, nil
}
