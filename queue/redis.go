package queue

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/gomodule/redigo/redis"
	"github.com/google/uuid"

	"foundatio/serializer"
)

// RedisQueueOptions configures RedisQueue.
type RedisQueueOptions struct {
	Addr       string
	ListKey    string
	WorkingKey string
	DialRetry  backoff.BackOff
	Serializer serializer.Serializer
}

func (o RedisQueueOptions) withDefaults() RedisQueueOptions {
	if o.ListKey == "" {
		o.ListKey = "foundatio:queue:waiting"
	}
	if o.WorkingKey == "" {
		o.WorkingKey = "foundatio:queue:working"
	}
	if o.DialRetry == nil {
		o.DialRetry = backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
	}
	if o.Serializer == nil {
		o.Serializer = serializer.JSON{}
	}
	return o
}

// RedisQueue is a lighter Redis-backed reference implementation of Queue,
// using a pair of Redis lists (waiting/working) the way BRPOPLPUSH-based
// queues traditionally do: Dequeue atomically moves an entry from the
// waiting list to the shared working list (WorkingKey), so a crashed
// consumer's items are recoverable by scanning WorkingKey, conceptually the
// same "in-flight, recoverable" idea as the in-memory engine's working map,
// without replicating the full dequeue/lease/abandon state machine
// server-side. Complete, Abandon and Renew are not supported and always
// return an error. Connection dialing uses cenkalti/backoff the way the
// teacher's clients retry transient dial failures.
type RedisQueue struct {
	pool *redis.Pool
	opts RedisQueueOptions
}

func NewRedisQueue(opts RedisQueueOptions) (*RedisQueue, error) {
	opts = opts.withDefaults()

	pool := &redis.Pool{
		MaxIdle:     10,
		IdleTimeout: 240 * time.Second,
		Dial: func() (redis.Conn, error) {
			var conn redis.Conn
			err := backoff.Retry(func() error {
				c, dialErr := redis.Dial("tcp", opts.Addr)
				if dialErr != nil {
					return dialErr
				}
				conn = c
				return nil
			}, opts.DialRetry)
			return conn, err
		},
	}

	conn := pool.Get()
	defer conn.Close()
	if _, err := conn.Do("PING"); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "queue: connect to redis")
	}

	return &RedisQueue{pool: pool, opts: opts}, nil
}

type redisEnvelope struct {
	ID      string
	Payload []byte
}

func (q *RedisQueue) Enqueue(ctx context.Context, payload any) (string, error) {
	body, err := q.opts.Serializer.Serialize(payload)
	if err != nil {
		return "", errors.Wrap(err, "queue: serialize")
	}
	envelope := redisEnvelope{ID: uuid.NewString(), Payload: body}
	encoded, err := q.opts.Serializer.Serialize(envelope)
	if err != nil {
		return "", errors.Wrap(err, "queue: serialize envelope")
	}

	conn := q.pool.Get()
	defer conn.Close()
	if _, err := conn.Do("LPUSH", q.opts.ListKey, encoded); err != nil {
		return "", errors.Wrap(err, "queue: redis lpush")
	}
	return envelope.ID, nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, waitTimeout time.Duration) (*Entry, error) {
	conn := q.pool.Get()
	defer conn.Close()

	var raw []byte
	var err error
	if waitTimeout <= 0 {
		raw, err = redis.Bytes(conn.Do("RPOPLPUSH", q.opts.ListKey, q.opts.WorkingKey))
	} else {
		seconds := int(waitTimeout.Seconds())
		if seconds <= 0 {
			seconds = 1
		}
		raw, err = redis.Bytes(conn.Do("BRPOPLPUSH", q.opts.ListKey, q.opts.WorkingKey, seconds))
	}
	if errors.Is(err, redis.ErrNil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "queue: redis brpoplpush")
	}

	var envelope redisEnvelope
	if err := q.opts.Serializer.Deserialize(raw, &envelope); err != nil {
		return nil, errors.Wrap(err, "queue: deserialize envelope")
	}
	var payload any
	if err := q.opts.Serializer.Deserialize(envelope.Payload, &payload); err != nil {
		return nil, errors.Wrap(err, "queue: deserialize payload")
	}

	return &Entry{ID: envelope.ID, Payload: payload, Attempts: 1, EnqueuedAt: time.Now()}, nil
}

// Complete always returns an error, as do Abandon and Renew. Redis lists
// have no secondary index by entry id, so RedisQueue offers no per-id
// acknowledgement; dequeued entries stay in the working list. MemoryQueue
// supports per-id Complete/Abandon/Renew.
func (q *RedisQueue) Complete(ctx context.Context, id string) error {
	return errors.New("queue: RedisQueue does not support per-id Complete; see type docs")
}

func (q *RedisQueue) Abandon(ctx context.Context, id string) error {
	return errors.New("queue: RedisQueue does not support per-id Abandon; see type docs")
}

func (q *RedisQueue) Renew(ctx context.Context, id string, extension time.Duration) error {
	return errors.New("queue: RedisQueue does not support per-id Renew; see type docs")
}

func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	conn := q.pool.Get()
	defer conn.Close()

	waiting, err := redis.Int(conn.Do("LLEN", q.opts.ListKey))
	if err != nil {
		return Stats{}, errors.Wrap(err, "queue: redis llen waiting")
	}
	working, err := redis.Int(conn.Do("LLEN", q.opts.WorkingKey))
	if err != nil {
		return Stats{}, errors.Wrap(err, "queue: redis llen working")
	}
	return Stats{Waiting: waiting, Working: working}, nil
}

func (q *RedisQueue) Close() error {
	return q.pool.Close()
}
