package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig configures the Redis-backed queue.
type RedisConfig struct {
	Addr         string
	Username     string
	Password     string
	Key          string
	DialTimeout  time.Duration
	BlockTimeout time.Duration
	PoolSize     int
	Logger       zerolog.Logger
}

// Redis is a queue backed by a Redis list. Producers LPUSH, consumers BRPOP,
// so ids come out in submission order and survive process restarts.
type Redis struct {
	client       *redis.Client
	key          string
	blockTimeout time.Duration
	logger       zerolog.Logger
}

// NewRedis connects to Redis and verifies the connection before returning.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	key := strings.TrimSpace(cfg.Key)
	if key == "" {
		key = "vidforge:jobs"
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 2 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Username:    strings.TrimSpace(cfg.Username),
		Password:    cfg.Password,
		DialTimeout: cfg.DialTimeout,
		PoolSize:    cfg.PoolSize,
		MaxRetries:  2,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{
		client:       client,
		key:          key,
		blockTimeout: cfg.BlockTimeout,
		logger:       cfg.Logger,
	}, nil
}

// Enqueue pushes a job id onto the head of the list.
func (q *Redis) Enqueue(ctx context.Context, jobID string) error {
	if err := q.client.LPush(ctx, q.key, jobID).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", jobID, err)
	}
	return nil
}

// Dequeue pops the oldest id, blocking in short intervals so context
// cancellation is observed between polls.
func (q *Redis) Dequeue(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		vals, err := q.client.BRPop(ctx, q.blockTimeout, q.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return "", err
			}
			q.logger.Warn().Err(err).Msg("redis dequeue failed")
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}
		// BRPOP replies with [key, value].
		if len(vals) == 2 && vals[1] != "" {
			return vals[1], nil
		}
	}
}

// cancelTTL bounds how long an unconsumed cancel marker lingers.
const cancelTTL = 24 * time.Hour

// Mark flags a job for cancellation, visible to every worker process.
func (q *Redis) Mark(ctx context.Context, jobID string) error {
	return q.client.Set(ctx, q.key+":cancel:"+jobID, "1", cancelTTL).Err()
}

// IsMarked reports whether a cancel marker is set for the job.
func (q *Redis) IsMarked(ctx context.Context, jobID string) (bool, error) {
	n, err := q.client.Exists(ctx, q.key+":cancel:"+jobID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Clear removes the cancel marker.
func (q *Redis) Clear(ctx context.Context, jobID string) error {
	return q.client.Del(ctx, q.key+":cancel:"+jobID).Err()
}

// Remove deletes a queued id that no worker has claimed yet.
func (q *Redis) Remove(ctx context.Context, jobID string) (bool, error) {
	n, err := q.client.LRem(ctx, q.key, 1, jobID).Result()
	if err != nil {
		return false, fmt.Errorf("remove %s: %w", jobID, err)
	}
	return n > 0, nil
}

// Close releases the underlying client.
func (q *Redis) Close() error {
	return q.client.Close()
}
