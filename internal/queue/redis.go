package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"momentum/internal/observability"

	"github.com/redis/go-redis/v9"
)

const (
	redisPrefix      = "queue:"
	pendingTTL       = time.Hour
	promoteBatch     = 100
	maxDeadPerKind   = 10000
	recoverBatchSize = 1000

	// DefaultVisibilityTimeout is how long a dequeued job may stay unsettled
	// before Recover treats its worker as dead.
	DefaultVisibilityTimeout = 5 * time.Minute
)

// enqueueScript pushes a job and, for coalescing kinds, claims the pending
// marker in the same step. LPUSH runs first so a failed push leaves no
// marker behind.
var enqueueScript = redis.NewScript(`
if ARGV[2] ~= '' and redis.call('EXISTS', KEYS[2]) == 1 then
  return 0
end
redis.call('LPUSH', KEYS[1], ARGV[1])
if ARGV[2] ~= '' then
  redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
end
return 1
`)

// reclaimScript returns one expired processing entry to the ready list,
// unless its worker settled it in the meantime.
var reclaimScript = redis.NewScript(`
if redis.call('LREM', KEYS[1], 1, ARGV[1]) == 0 then
  redis.call('ZREM', KEYS[3], ARGV[2])
  return 0
end
redis.call('LPUSH', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[2])
return 1
`)

// promoteScript moves due members of the delayed set onto the ready list.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, m in ipairs(due) do
  redis.call('ZREM', KEYS[1], m)
  redis.call('LPUSH', KEYS[2], m)
end
return #due
`)

// RedisQueue is a reliable list queue. A dequeued job sits on a processing
// list until it is acked, retried or dead-lettered, so a crashed worker
// never loses it. Each dequeue also takes a lease; Recover hands back only
// jobs whose lease ran out.
type RedisQueue struct {
	rdb *redis.Client
	now func() time.Time
}

// NewRedisQueue wraps an initialized client.
func NewRedisQueue(rdb *redis.Client) *RedisQueue {
	return &RedisQueue{rdb: rdb, now: time.Now}
}

func readyKey(k Kind) string { return redisPrefix + string(k) + ":ready" }
func processingKey(k Kind) string { return redisPrefix + string(k) + ":processing" }
func delayedKey(k Kind) string { return redisPrefix + string(k) + ":delayed" }
func deadKey(k Kind) string { return redisPrefix + string(k) + ":dead" }
func leaseKey(k Kind) string { return redisPrefix + string(k) + ":leases" }
func pendingKey(key string) string {
	return redisPrefix + "pending:" + key
}

func (q *RedisQueue) Enqueue(ctx context.Context, job *Job) error {
	if !job.Kind.Valid() {
		return errUnknownKind(job.Kind)
	}
	data, err := job.marshal()
	if err != nil {
		return err
	}
	marker, pending := "", redisPrefix+"pending:"
	if job.Kind.Coalesces() && job.Key != "" {
		marker, pending = job.ID, pendingKey(job.Key)
	}
	pushed, err := enqueueScript.Run(ctx, q.rdb,
		[]string{readyKey(job.Kind), pending},
		data, marker, pendingTTL.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("queue: enqueue %s: %w", job.Kind, err)
	}
	if pushed == 0 {
		observability.JobsCoalesced.WithLabelValues(string(job.Kind)).Inc()
	}
	return nil
}

func (q *RedisQueue) promote(ctx context.Context, kind Kind) error {
	now := strconv.FormatInt(q.now().UnixMilli(), 10)
	return promoteScript.Run(ctx, q.rdb, []string{delayedKey(kind), readyKey(kind)}, now, promoteBatch).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context, kind Kind, wait time.Duration) (*Job, error) {
	if !kind.Valid() {
		return nil, errUnknownKind(kind)
	}
	if err := q.promote(ctx, kind); err != nil {
		return nil, fmt.Errorf("queue: promote %s: %w", kind, err)
	}

	var (
		raw string
		err error
	)
	if wait <= 0 {
		raw, err = q.rdb.LMove(ctx, readyKey(kind), processingKey(kind), "RIGHT", "LEFT").Result()
	} else {
		raw, err = q.rdb.BLMove(ctx, readyKey(kind), processingKey(kind), "RIGHT", "LEFT", wait).Result()
	}
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: dequeue %s: %w", kind, err)
	}

	job, err := unmarshalJob([]byte(raw))
	if err != nil {
		// An undecodable envelope can never be processed; park it as is.
		_, _ = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.LRem(ctx, processingKey(kind), 1, raw)
			p.LPush(ctx, deadKey(kind), raw)
			return nil
		})
		return nil, err
	}
	job.receipt = raw
	deadline := q.now().Add(DefaultVisibilityTimeout).UnixMilli()
	_, err = q.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, leaseKey(kind), redis.Z{Score: float64(deadline), Member: job.ID})
		if job.Kind.Coalesces() && job.Key != "" {
			p.Del(ctx, pendingKey(job.Key))
		}
		return nil
	})
	if err != nil {
		// the job is safely on the processing list; Recover will lease it
		observability.LogAsyncOperationError(ctx, "lease", err, map[string]interface{}{"job_id": job.ID})
	}
	return job, nil
}

func (q *RedisQueue) receipt(job *Job) string {
	raw, _ := job.receipt.(string)
	return raw
}

func (q *RedisQueue) Ack(ctx context.Context, job *Job) error {
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, processingKey(job.Kind), 1, q.receipt(job))
		p.ZRem(ctx, leaseKey(job.Kind), job.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("queue: ack %s: %w", job.ID, err)
	}
	return nil
}

func (q *RedisQueue) Retry(ctx context.Context, job *Job, at time.Time) error {
	data, err := job.marshal()
	if err != nil {
		return err
	}
	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, processingKey(job.Kind), 1, q.receipt(job))
		p.ZRem(ctx, leaseKey(job.Kind), job.ID)
		p.ZAdd(ctx, delayedKey(job.Kind), redis.Z{Score: float64(at.UnixMilli()), Member: data})
		return nil
	})
	if err != nil {
		return fmt.Errorf("queue: retry %s: %w", job.ID, err)
	}
	return nil
}

func (q *RedisQueue) DeadLetter(ctx context.Context, job *Job) error {
	data, err := job.marshal()
	if err != nil {
		return err
	}
	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, processingKey(job.Kind), 1, q.receipt(job))
		p.ZRem(ctx, leaseKey(job.Kind), job.ID)
		p.LPush(ctx, deadKey(job.Kind), data)
		p.LTrim(ctx, deadKey(job.Kind), 0, maxDeadPerKind-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("queue: dead-letter %s: %w", job.ID, err)
	}
	return nil
}

func (q *RedisQueue) DeadLetters(ctx context.Context, kind Kind, limit int) ([]*Job, error) {
	if !kind.Valid() {
		return nil, errUnknownKind(kind)
	}
	if limit <= 0 {
		limit = 100
	}
	raws, err := q.rdb.LRange(ctx, deadKey(kind), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: list dead %s: %w", kind, err)
	}
	out := make([]*Job, 0, len(raws))
	for _, raw := range raws {
		job, err := unmarshalJob([]byte(raw))
		if err != nil {
			continue
		}
		out = append(out, job)
	}
	return out, nil
}

// Recover moves jobs whose lease expired back onto the ready lists. Jobs
// still leased by a live worker, on this process or another, are left
// alone. An entry with no lease gets one now and is reclaimed by a later
// call if nobody settles it.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	now := q.now()
	for _, kind := range Kinds {
		raws, err := q.rdb.LRange(ctx, processingKey(kind), 0, recoverBatchSize-1).Result()
		if err != nil {
			return moved, fmt.Errorf("queue: recover %s: %w", kind, err)
		}
		for _, raw := range raws {
			id := raw
			if job, err := unmarshalJob([]byte(raw)); err == nil {
				id = job.ID
			}
			deadline, err := q.rdb.ZScore(ctx, leaseKey(kind), id).Result()
			if errors.Is(err, redis.Nil) {
				lease := redis.Z{Score: float64(now.Add(DefaultVisibilityTimeout).UnixMilli()), Member: id}
				if err := q.rdb.ZAddNX(ctx, leaseKey(kind), lease).Err(); err != nil {
					return moved, fmt.Errorf("queue: recover %s: %w", kind, err)
				}
				continue
			}
			if err != nil {
				return moved, fmt.Errorf("queue: recover %s: %w", kind, err)
			}
			if int64(deadline) > now.UnixMilli() {
				continue
			}
			n, err := reclaimScript.Run(ctx, q.rdb,
				[]string{processingKey(kind), readyKey(kind), leaseKey(kind)}, raw, id).Int()
			if err != nil {
				return moved, fmt.Errorf("queue: recover %s: %w", kind, err)
			}
			moved += n
		}
	}
	return moved, nil
}

// Len returns the number of ready and delayed jobs of kind.
func (q *RedisQueue) Len(ctx context.Context, kind Kind) (int64, error) {
	ready, err := q.rdb.LLen(ctx, readyKey(kind)).Result()
	if err != nil {
		return 0, err
	}
	delayed, err := q.rdb.ZCard(ctx, delayedKey(kind)).Result()
	if err != nil {
		return 0, err
	}
	return ready + delayed, nil
}

func (q *RedisQueue) Close() error { return nil }
