package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	goredis "github.com/redis/go-redis/v9"

	"foundatio/internal/retry"
	"foundatio/serializer"
)

// RedisOptions configures RedisCache's connection to a Redis server. It
// mirrors the handful of go-redis.Options fields worth exposing rather than
// leaking the whole client configuration surface.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int

	// KeyPrefix namespaces every key this cache touches, so one Redis
	// instance can back several unrelated caches.
	KeyPrefix string

	Serializer serializer.Serializer
}

func (o RedisOptions) withDefaults() RedisOptions {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 5 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.PoolSize <= 0 {
		o.PoolSize = 10
	}
	if o.Serializer == nil {
		o.Serializer = serializer.JSON{}
	}
	return o
}

// RedisCache satisfies Cache against a real Redis deployment. It is a
// reference backend: the in-memory engine in memory.go is the fully
// specified implementation, this exists to prove the same Cache contract
// is substitutable in front of Redis.
type RedisCache struct {
	client *goredis.Client
	opts   RedisOptions

	listenersMu sync.Mutex
	listeners   []ExpiredListener
}

// NewRedisCache dials addr and verifies connectivity with a Ping.
func NewRedisCache(ctx context.Context, opts RedisOptions) (*RedisCache, error) {
	opts = opts.withDefaults()
	client := goredis.NewClient(&goredis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		PoolSize:     opts.PoolSize,
	})
	// The initial ping tolerates the same kind of transient connection
	// failure a just-started Redis container or a brief network blip
	// produces, retried with internal/retry's linear backoff.
	pingErr := retry.Do(ctx, retry.Options{BaseDelay: 200 * time.Millisecond, MaxAttempts: 3}, func() error {
		return client.Ping(ctx).Err()
	})
	if pingErr != nil {
		return nil, errors.Wrap(pingErr, "cache: connect to redis")
	}
	return &RedisCache{client: client, opts: opts}, nil
}

func (c *RedisCache) prefixed(key string) string {
	if c.opts.KeyPrefix == "" {
		return key
	}
	return c.opts.KeyPrefix + key
}

func (c *RedisCache) unprefixed(key string) string {
	return strings.TrimPrefix(key, c.opts.KeyPrefix)
}

func ttlOrZero(ttl time.Duration) time.Duration {
	if ttl == NoTTL {
		return 0
	}
	return ttl
}

func (c *RedisCache) Get(ctx context.Context, key string) (any, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	raw, err := c.client.Get(ctx, c.prefixed(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "cache: redis get")
	}
	var v any
	if err := c.opts.Serializer.Deserialize(raw, &v); err != nil {
		return nil, false, errors.Wrap(err, "cache: deserialize")
	}
	return v, true, nil
}

func (c *RedisCache) GetMany(ctx context.Context, keys []string) (map[string]any, error) {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		v, ok, err := c.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = v
		}
	}
	return out, nil
}

func (c *RedisCache) encode(value any) ([]byte, error) {
	b, err := c.opts.Serializer.Serialize(value)
	if err != nil {
		return nil, errors.Wrap(err, "cache: serialize")
	}
	return b, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := validateKey(key); err != nil {
		return err
	}
	b, err := c.encode(value)
	if err != nil {
		return err
	}
	if ttl == 0 {
		// Never observable, matches the in-memory contract: any existing
		// value under key is removed rather than left in place.
		return errors.Wrap(c.client.Del(ctx, c.prefixed(key)).Err(), "cache: redis del")
	}
	if err := c.client.Set(ctx, c.prefixed(key), b, ttlOrZero(ttl)).Err(); err != nil {
		return errors.Wrap(err, "cache: redis set")
	}
	return nil
}

func (c *RedisCache) Add(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	b, err := c.encode(value)
	if err != nil {
		return false, err
	}
	if ttl == 0 {
		ok, err := c.client.SetNX(ctx, c.prefixed(key), b, time.Nanosecond).Result()
		if err != nil {
			return false, errors.Wrap(err, "cache: redis setnx")
		}
		return ok, nil
	}
	ok, err := c.client.SetNX(ctx, c.prefixed(key), b, ttlOrZero(ttl)).Result()
	if err != nil {
		return false, errors.Wrap(err, "cache: redis setnx")
	}
	return ok, nil
}

func (c *RedisCache) Replace(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	exists, err := c.client.Exists(ctx, c.prefixed(key)).Result()
	if err != nil {
		return false, errors.Wrap(err, "cache: redis exists")
	}
	if exists == 0 {
		return false, nil
	}
	if err := c.Set(ctx, key, value, ttl); err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisCache) SetAll(ctx context.Context, items map[string]any, ttl time.Duration) error {
	for k, v := range items {
		if err := c.Set(ctx, k, v, ttl); err != nil {
			return err
		}
	}
	return nil
}

func (c *RedisCache) Remove(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	n, err := c.client.Del(ctx, c.prefixed(key)).Result()
	if err != nil {
		return false, errors.Wrap(err, "cache: redis del")
	}
	return n > 0, nil
}

func (c *RedisCache) RemoveAll(ctx context.Context, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = c.prefixed(k)
	}
	n, err := c.client.Del(ctx, prefixed...).Result()
	if err != nil {
		return 0, errors.Wrap(err, "cache: redis del")
	}
	return int(n), nil
}

func (c *RedisCache) RemoveByPrefix(ctx context.Context, prefix string) (int, error) {
	var cursor uint64
	var matched []string
	pattern := c.prefixed(prefix) + "*"
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return 0, errors.Wrap(err, "cache: redis scan")
		}
		matched = append(matched, keys...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if len(matched) == 0 {
		return 0, nil
	}
	n, err := c.client.Del(ctx, matched...).Result()
	if err != nil {
		return 0, errors.Wrap(err, "cache: redis del")
	}
	return int(n), nil
}

func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	n, err := c.client.Exists(ctx, c.prefixed(key)).Result()
	if err != nil {
		return false, errors.Wrap(err, "cache: redis exists")
	}
	return n > 0, nil
}

func (c *RedisCache) GetExpiration(ctx context.Context, key string) (time.Duration, bool, error) {
	if err := validateKey(key); err != nil {
		return 0, false, err
	}
	d, err := c.client.TTL(ctx, c.prefixed(key)).Result()
	if err != nil {
		return 0, false, errors.Wrap(err, "cache: redis ttl")
	}
	if d < 0 {
		return 0, false, nil
	}
	return d, true, nil
}

func (c *RedisCache) SetExpiration(ctx context.Context, key string, ttl time.Duration) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if ttl == NoTTL {
		return errors.Wrap(c.client.Persist(ctx, c.prefixed(key)).Err(), "cache: redis persist")
	}
	if ttl == 0 {
		return errors.Wrap(c.client.Del(ctx, c.prefixed(key)).Err(), "cache: redis del")
	}
	return errors.Wrap(c.client.Expire(ctx, c.prefixed(key), ttl).Err(), "cache: redis expire")
}

func (c *RedisCache) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	return c.incrBy(ctx, key, delta, ttl)
}

func (c *RedisCache) Decrement(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	return c.incrBy(ctx, key, -delta, ttl)
}

func (c *RedisCache) incrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}
	pk := c.prefixed(key)
	n, err := c.client.IncrBy(ctx, pk, delta).Result()
	if err != nil {
		return 0, errors.Wrap(err, "cache: redis incrby")
	}
	if ttl != NoTTL && ttl > 0 {
		if err := c.client.Expire(ctx, pk, ttl).Err(); err != nil {
			return n, errors.Wrap(err, "cache: redis expire")
		}
	}
	return n, nil
}

// SetIfHigher and SetIfLower use a Lua script so the compare-and-set is
// atomic against concurrent writers, the same pattern the distributed
// lock's compare-and-delete/compare-and-expire scripts use.
var setIfHigherScript = goredis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local candidate = tonumber(ARGV[1])
if candidate > current then
  redis.call('SET', KEYS[1], candidate)
  return candidate
end
return current
`)

var setIfLowerScript = goredis.NewScript(`
local raw = redis.call('GET', KEYS[1])
local candidate = tonumber(ARGV[1])
if raw == false or candidate < tonumber(raw) then
  redis.call('SET', KEYS[1], candidate)
  return candidate
end
return tonumber(raw)
`)

func (c *RedisCache) SetIfHigher(ctx context.Context, key string, value int64, ttl time.Duration) (int64, error) {
	return c.runCompareScript(ctx, setIfHigherScript, key, value, ttl)
}

func (c *RedisCache) SetIfLower(ctx context.Context, key string, value int64, ttl time.Duration) (int64, error) {
	return c.runCompareScript(ctx, setIfLowerScript, key, value, ttl)
}

func (c *RedisCache) runCompareScript(ctx context.Context, script *goredis.Script, key string, value int64, ttl time.Duration) (int64, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}
	pk := c.prefixed(key)
	n, err := script.Run(ctx, c.client, []string{pk}, value).Int64()
	if err != nil {
		return 0, errors.Wrap(err, "cache: redis compare script")
	}
	if ttl != NoTTL && ttl > 0 {
		if err := c.client.Expire(ctx, pk, ttl).Err(); err != nil {
			return n, errors.Wrap(err, "cache: redis expire")
		}
	}
	return n, nil
}

func (c *RedisCache) SetAdd(ctx context.Context, key string, members []string, ttl time.Duration) (int, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}
	pk := c.prefixed(key)
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	n, err := c.client.SAdd(ctx, pk, args...).Result()
	if err != nil {
		return 0, errors.Wrap(err, "cache: redis sadd")
	}
	if ttl != NoTTL && ttl > 0 {
		if err := c.client.Expire(ctx, pk, ttl).Err(); err != nil {
			return int(n), errors.Wrap(err, "cache: redis expire")
		}
	}
	return int(n), nil
}

func (c *RedisCache) SetRemove(ctx context.Context, key string, members []string) (int, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	n, err := c.client.SRem(ctx, c.prefixed(key), args...).Result()
	if err != nil {
		return 0, errors.Wrap(err, "cache: redis srem")
	}
	return int(n), nil
}

func (c *RedisCache) GetSet(ctx context.Context, key string) (map[string]struct{}, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	members, err := c.client.SMembers(ctx, c.prefixed(key)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "cache: redis smembers")
	}
	out := make(map[string]struct{}, len(members))
	for _, m := range members {
		out[m] = struct{}{}
	}
	return out, nil
}

// OnItemExpired relies on Redis keyspace notifications (the server must be
// configured with `notify-keyspace-events Ex`). Without that configuration
// registered listeners simply never fire; this mirrors the contract but
// cannot retrofit server config from the client.
func (c *RedisCache) OnItemExpired(fn ExpiredListener) {
	if fn == nil {
		return
	}
	c.listenersMu.Lock()
	first := len(c.listeners) == 0
	c.listeners = append(c.listeners, fn)
	c.listenersMu.Unlock()

	if first {
		go c.watchExpired()
	}
}

func (c *RedisCache) watchExpired() {
	pubsub := c.client.PSubscribe(context.Background(), "__keyevent@*__:expired")
	defer pubsub.Close()
	for msg := range pubsub.Channel() {
		key := c.unprefixed(msg.Payload)
		c.listenersMu.Lock()
		snapshot := make([]ExpiredListener, len(c.listeners))
		copy(snapshot, c.listeners)
		c.listenersMu.Unlock()
		for _, fn := range snapshot {
			fn(key, CauseTTL)
		}
	}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
