package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultCacheTTL bounds how stale a cached analysis can get if an invalidation is lost.
const DefaultCacheTTL = 60 * time.Second

const (
	cacheKeyPrefix      = "results:"
	generationKeyPrefix = "results:gen:"
)

// ErrStaleGeneration is returned by Set when the poll was invalidated after the analysis was computed.
var ErrStaleGeneration = errors.New("results changed since generation was read")

// RedisCache keeps one hash per poll, keyed by seat count, so a ballot clears every variant at once.
// A per-poll generation counter, bumped on every invalidation, keeps late writes from resurrecting old results.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache creates a cache. ttl <= 0 uses DefaultCacheTTL.
func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func cacheKey(pollID int64) string {
	return cacheKeyPrefix + strconv.FormatInt(pollID, 10)
}

func generationKey(pollID int64) string {
	return generationKeyPrefix + strconv.FormatInt(pollID, 10)
}

// Generation returns the poll's current cache generation; 0 before the first invalidation.
func (c *RedisCache) Generation(ctx context.Context, pollID int64) (int64, error) {
	gen, err := c.rdb.Get(ctx, generationKey(pollID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get generation: %w", err)
	}
	return gen, nil
}

// Get returns the cached analysis for the poll and seat count, if present.
func (c *RedisCache) Get(ctx context.Context, pollID int64, seats int) (*Analysis, bool, error) {
	raw, err := c.rdb.HGet(ctx, cacheKey(pollID), strconv.Itoa(seats)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("hget: %w", err)
	}
	var a Analysis
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, false, fmt.Errorf("decode cached results: %w", err)
	}
	return &a, true, nil
}

// Set stores an analysis computed at generation gen. The write is skipped with ErrStaleGeneration
// when the poll has been invalidated since. The poll's hash expires ttl after its first write.
func (c *RedisCache) Set(ctx context.Context, pollID int64, seats int, gen int64, a *Analysis) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return err
	}
	key, genKey := cacheKey(pollID), generationKey(pollID)
	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return ErrStaleGeneration
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, strconv.Itoa(seats), raw)
			pipe.ExpireNX(ctx, key, c.ttl)
			return nil
		})
		return err
	}, genKey)
	switch {
	case errors.Is(err, redis.TxFailedErr):
		return ErrStaleGeneration
	case errors.Is(err, ErrStaleGeneration):
		return err
	case err != nil:
		return fmt.Errorf("cache results: %w", err)
	}
	return nil
}

// Invalidate drops every cached analysis of the poll and bumps its generation.
func (c *RedisCache) Invalidate(ctx context.Context, pollID int64) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(pollID))
		pipe.Del(ctx, cacheKey(pollID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate results: %w", err)
	}
	return nil
}
