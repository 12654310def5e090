package quota

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	DailyLimit    int
	RetentionDays int
}

// RedisStore keeps date-bucketed usage hashes in Redis. HIncrBy is the
// atomicity boundary: the increment lands first and is reverted when the
// result overshoots the limit.
type RedisStore struct {
	client    *redis.Client
	limit     int64
	retention time.Duration
	logger    *log.Logger
}

func NewRedisStore(ctx context.Context, cfg RedisConfig, logger *log.Logger) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.DailyLimit <= 0 {
		cfg.DailyLimit = 10
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisStore{
		client:    client,
		limit:     int64(cfg.DailyLimit),
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		logger:    logger,
	}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func usageKey(identity string, now time.Time) string {
	return "quota:" + dayKey(now) + ":" + identity
}

func (s *RedisStore) CheckAndConsume(ctx context.Context, identity string) (Decision, error) {
	now := time.Now()
	key := usageKey(identity, now)
	stamp := now.Format(time.RFC3339Nano)

	pipe := s.client.TxPipeline()
	increment := pipe.HIncrBy(ctx, key, "count", 1)
	pipe.HSetNX(ctx, key, "first_seen", stamp)
	pipe.HSet(ctx, key, "last_seen", stamp)
	pipe.Expire(ctx, key, s.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("consume quota: %w", err)
	}

	count := increment.Val()
	allowed := count <= s.limit
	if !allowed {
		count--
		if err := s.client.HIncrBy(ctx, key, "count", -1).Err(); err != nil && s.logger != nil {
			// The denial stands either way; a lost revert only overcounts
			// this identity until the daily bucket rolls over.
			s.logger.Printf("quota revert failed identity=%s err=%v", identity, err)
		}
	}

	return Decision{
		Allowed: allowed,
		Usage: Usage{
			Identity:  identity,
			Count:     count,
			Limit:     s.limit,
			Remaining: remaining(count, s.limit),
			ResetsAt:  nextMidnight(now),
		},
	}, nil
}

func (s *RedisStore) Usage(ctx context.Context, identity string) (Usage, error) {
	now := time.Now()

	count, err := s.client.HGet(ctx, usageKey(identity, now), "count").Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Usage{}, fmt.Errorf("read quota: %w", err)
	}

	return Usage{
		Identity:  identity,
		Count:     count,
		Limit:     s.limit,
		Remaining: remaining(count, s.limit),
		ResetsAt:  nextMidnight(now),
	}, nil
}

func (s *RedisStore) Reset(ctx context.Context, identity string) error {
	if err := s.client.Del(ctx, usageKey(identity, time.Now())).Err(); err != nil {
		return fmt.Errorf("reset quota: %w", err)
	}
	return nil
}
