package store

import (
	"context"
	"strconv"
	"time"

	"github.com/go-errors/errors"
	"github.com/go-redis/redis"
)

const (
	redisPrefix      = "greylist:"
	redisUnseenSet   = "greylist-index:unseen"
	redisWhitelisted = "greylist-index:whitelisted"
)

// Redis keeps every triplet in a hash, sorted sets scored by the creation time index them for cleanup
type Redis struct {
	client *redis.Client
}

// OpenRedis connects to the redis server at addr
func OpenRedis(addr string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	_, err := client.Ping().Result()
	if err != nil {
		client.Close()
		return nil, errors.WrapPrefix(err, "redis ping", 0)
	}
	return NewRedis(client), nil
}

// NewRedis wraps a connected client
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Lookup(ctx context.Context, ip, sender, rcpt string) (Triplet, bool, error) {
	fields, err := r.client.WithContext(ctx).HGetAll(redisPrefix + key(ip, sender, rcpt)).Result()
	if err != nil {
		return Triplet{}, false, errors.WrapPrefix(err, "lookup", 0)
	}
	if len(fields) == 0 {
		return Triplet{}, false, nil
	}
	created, err := strconv.ParseInt(fields["created"], 10, 64)
	if err != nil {
		return Triplet{}, false, errors.WrapPrefix(err, "lookup created", 0)
	}
	count, err := strconv.Atoi(fields["count"])
	if err != nil {
		return Triplet{}, false, errors.WrapPrefix(err, "lookup count", 0)
	}
	return Triplet{IP: ip, Sender: sender, Recipient: rcpt, CreatedAt: fromMillis(created), Count: count}, true, nil
}

func (r *Redis) Insert(ctx context.Context, ip, sender, rcpt string, count int, at time.Time) error {
	k := key(ip, sender, rcpt)
	ms := toMillis(at)
	pipe := r.client.WithContext(ctx).TxPipeline()
	pipe.HSetNX(redisPrefix+k, "created", ms)
	pipe.HSetNX(redisPrefix+k, "count", count)
	pipe.ZAddNX(indexFor(count), redis.Z{Score: float64(ms), Member: k})
	if _, err := pipe.Exec(); err != nil {
		return errors.WrapPrefix(err, "insert", 0)
	}
	return nil
}

func (r *Redis) Update(ctx context.Context, ip, sender, rcpt string, count int, at time.Time) error {
	k := key(ip, sender, rcpt)
	ms := toMillis(at)
	pipe := r.client.WithContext(ctx).TxPipeline()
	pipe.HMSet(redisPrefix+k, map[string]interface{}{"created": ms, "count": count})
	pipe.ZRem(redisUnseenSet, k)
	pipe.ZRem(redisWhitelisted, k)
	pipe.ZAdd(indexFor(count), redis.Z{Score: float64(ms), Member: k})
	if _, err := pipe.Exec(); err != nil {
		return errors.WrapPrefix(err, "update", 0)
	}
	return nil
}

func (r *Redis) CleanupAutoWhitelist(ctx context.Context, before time.Time) error {
	return r.cleanup(ctx, redisWhitelisted, before)
}

func (r *Redis) CleanupUnseen(ctx context.Context, before time.Time) error {
	return r.cleanup(ctx, redisUnseenSet, before)
}

func (r *Redis) cleanup(ctx context.Context, index string, before time.Time) error {
	client := r.client.WithContext(ctx)
	keys, err := client.ZRangeByScore(index, redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(toMillis(before), 10),
	}).Result()
	if err != nil {
		return errors.WrapPrefix(err, "cleanup "+index, 0)
	}
	if len(keys) == 0 {
		return nil
	}
	pipe := client.TxPipeline()
	for _, k := range keys {
		pipe.Del(redisPrefix + k)
		pipe.ZRem(index, k)
	}
	if _, err := pipe.Exec(); err != nil {
		return errors.WrapPrefix(err, "cleanup "+index, 0)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func indexFor(count int) string {
	if count > 0 {
		return redisWhitelisted
	}
	return redisUnseenSet
}
