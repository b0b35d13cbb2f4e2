package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/techassess/internal/config"
)

// NewRedisClient creates a Redis client and waits for the server to answer.
func NewRedisClient(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	// Workers hold a connection each in BLPOP; leave room for request traffic.
	if opt.PoolSize == 0 {
		opt.PoolSize = 32
	}

	rdb := redis.NewClient(opt)

	ping := func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	if err := retry(ctx, cfg.ConnectAttempts, log.With().Str("component", "redis").Logger(), ping); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	log.Info().
		Str("addr", opt.Addr).
		Int("db", opt.DB).
		Msg("Redis connected")

	return rdb, nil
}

// retry calls fn up to attempts times with linear backoff.
func retry(ctx context.Context, attempts int, log zerolog.Logger, fn func(context.Context) error) error {
	attempts = max(attempts, 1)
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if i == attempts {
			break
		}
		wait := time.Duration(i) * time.Second
		log.Warn().Err(err).Int("attempt", i).Dur("retry_in", wait).Msg("Connection not ready")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return err
}
