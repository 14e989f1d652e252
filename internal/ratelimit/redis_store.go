package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the send timestamps in a sorted set so several dispatcher
// processes can share one provider budget. Scores are Unix microseconds,
// which stay exact within float64 precision.
type RedisStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisStore creates a store under "ratelimit:window:<name>". The key
// expires after two hour-windows of inactivity.
func NewRedisStore(client *redis.Client, name string) *RedisStore {
	return &RedisStore{
		client: client,
		key:    fmt.Sprintf("ratelimit:window:%s", name),
		ttl:    2 * HourWindow,
	}
}

// NewRedisStoreFromURL connects to Redis and verifies the connection.
func NewRedisStoreFromURL(ctx context.Context, redisURL, name string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisStore(client, name), nil
}

func (s *RedisStore) Record(ctx context.Context, t time.Time) error {
	// Members must be unique or same-microsecond sends would collapse.
	member := strconv.FormatInt(t.UnixMicro(), 10) + ":" + uuid.NewString()
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, s.key, redis.Z{Score: float64(t.UnixMicro()), Member: member})
	pipe.Expire(ctx, s.key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record send timestamp: %w", err)
	}
	return nil
}

func (s *RedisStore) Since(ctx context.Context, t time.Time) ([]time.Time, error) {
	zs, err := s.client.ZRangeByScoreWithScores(ctx, s.key, &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(t.UnixMicro(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("read send window: %w", err)
	}
	out := make([]time.Time, len(zs))
	for i, z := range zs {
		out[i] = time.UnixMicro(int64(z.Score))
	}
	return out, nil
}

func (s *RedisStore) Prune(ctx context.Context, t time.Time) error {
	if err := s.client.ZRemRangeByScore(ctx, s.key, "-inf", strconv.FormatInt(t.UnixMicro(), 10)).Err(); err != nil {
		return fmt.Errorf("prune send window: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
