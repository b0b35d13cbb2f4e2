package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stemsi/techassess/internal/model"
	ws "github.com/stemsi/techassess/internal/websocket"
)

// expireOverdue closes live sessions past their deadline plus grace. Before
// start the deadline counts from creation.
const expireOverdue = `
UPDATE sessions
SET state = 'expired'
WHERE (state = 'in_progress'
       AND started_at + make_interval(mins => duration_minutes) + make_interval(secs => $1) < NOW())
   OR (state = 'not_started'
       AND created_at + make_interval(mins => duration_minutes) + make_interval(secs => $1) < NOW())
RETURNING id`

// StateCache is the Redis side of an expiry. *repository.SessionCache
// satisfies it, so swept sessions get the same state TTL as live ones.
type StateCache interface {
	SetState(ctx context.Context, sessionID string, state model.SessionState) error
	Publish(ctx context.Context, event any) error
}

// ExpiryWorker periodically expires abandoned sessions that no request
// observes, so the reviewer dashboard never shows them as live forever.
type ExpiryWorker struct {
	pool     *pgxpool.Pool
	cache    StateCache
	interval time.Duration
	grace    time.Duration
	log      zerolog.Logger
}

// NewExpiryWorker creates a new ExpiryWorker.
func NewExpiryWorker(pool *pgxpool.Pool, cache StateCache, interval, grace time.Duration, log zerolog.Logger) *ExpiryWorker {
	return &ExpiryWorker{
		pool:     pool,
		cache:    cache,
		interval: interval,
		grace:    grace,
		log:      log.With().Str("component", "expiry_worker").Logger(),
	}
}

// Start sweeps every interval until ctx is cancelled. Call in a goroutine.
func (w *ExpiryWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("Worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopped")
			return
		case <-ticker.C:
			if n, err := w.sweep(ctx); err != nil {
				if ctx.Err() == nil {
					w.log.Error().Err(err).Msg("Expiry sweep failed")
				}
			} else if n > 0 {
				w.log.Info().Int("count", n).Msg("Expired overdue sessions")
			}
		}
	}
}

func (w *ExpiryWorker) sweep(ctx context.Context) (int, error) {
	rows, err := w.pool.Query(ctx, expireOverdue, w.grace.Seconds())
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return 0, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	w.announce(ctx, ids, time.Now())
	return len(ids), nil
}

// announce caches the expired state and notifies reviewers. Redis failures
// are logged; the database already holds the truth.
func (w *ExpiryWorker) announce(ctx context.Context, ids []uuid.UUID, at time.Time) {
	for _, id := range ids {
		sid := id.String()
		if err := w.cache.SetState(ctx, sid, model.SessionExpired); err != nil {
			w.log.Warn().Err(err).Str("session_id", sid).Msg("Failed to cache expired state")
		}
		ev := ws.MonitorEvent{Event: ws.EventExpired, SessionID: sid, State: model.SessionExpired, At: at}
		if err := w.cache.Publish(ctx, ev); err != nil {
			w.log.Warn().Err(err).Str("session_id", sid).Msg("Failed to publish expiry")
		}
	}
}
