package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// batcher drains one Redis list into PostgreSQL in batches. A failed bulk
// write falls back to row-by-row writes; rows that still fail are requeued.
type batcher[T any] struct {
	rdb    *redis.Client
	queue  string
	log    zerolog.Logger
	bulk   func(ctx context.Context, batch []*T) error
	single func(ctx context.Context, item *T) error
}

func (b *batcher[T]) run(ctx context.Context) {
	b.log.Info().Str("queue", b.queue).Msg("Worker started")

	buffer := make([]*T, 0, BatchSize)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 && (len(buffer) >= BatchSize || time.Since(lastFlush) >= BatchTimeout) {
			b.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			b.shutdown(buffer)
			return
		default:
		}

		result, err := b.rdb.BLPop(ctx, PollTimeout, b.queue).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			b.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		var item T
		if err := json.Unmarshal([]byte(result[1]), &item); err != nil {
			b.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed JSON")
			continue
		}
		buffer = append(buffer, &item)
	}
}

func (b *batcher[T]) flushSafe(ctx context.Context, batch []*T) {
	if len(batch) == 0 {
		return
	}
	err := b.bulk(ctx, batch)
	if err == nil {
		b.log.Debug().Int("count", len(batch)).Msg("Batch persisted")
		return
	}
	b.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk write failed, attempting row-by-row recovery")

	var failed []*T
	for _, item := range batch {
		if err := b.single(ctx, item); err != nil {
			if errDrop(err) {
				b.log.Error().Err(err).Msg("Dropping unpersistable item")
				continue
			}
			b.log.Error().Err(err).Msg("Write failed, requeueing")
			failed = append(failed, item)
		}
	}
	if len(failed) > 0 {
		b.requeue(ctx, failed)
	}
}

func (b *batcher[T]) requeue(ctx context.Context, items []*T) {
	pipe := b.rdb.Pipeline()
	for _, item := range items {
		data, _ := json.Marshal(item)
		pipe.RPush(ctx, b.queue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		b.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue items to Redis. Data loss occurred.")
		return
	}
	b.log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
	// back off while the database is down
	time.Sleep(2 * time.Second)
}

func (b *batcher[T]) shutdown(buffer []*T) {
	b.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b.flushSafe(shutdownCtx, buffer)
	b.log.Info().Msg("Worker stopped")
}
