package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/techassess/internal/config"
	"github.com/stemsi/techassess/internal/service"
)

// upsertProgress keeps only the freshest snapshot per session.
const upsertProgress = `
INSERT INTO session_progress (session_id, responses, saved_at)
SELECT r.session_id::uuid, r.responses::jsonb, r.saved_at
FROM UNNEST($1::text[], $2::text[], $3::timestamptz[]) AS r(session_id, responses, saved_at)
ON CONFLICT (session_id) DO UPDATE
SET responses = EXCLUDED.responses, saved_at = EXCLUDED.saved_at
WHERE session_progress.saved_at < EXCLUDED.saved_at`

// ProgressWorker consumes persist_progress_queue and upserts snapshots into
// session_progress.
type ProgressWorker struct {
	pool *pgxpool.Pool
	b    *batcher[service.ProgressPayload]
}

// NewProgressWorker creates a new ProgressWorker.
func NewProgressWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *ProgressWorker {
	w := &ProgressWorker{pool: pool}
	w.b = &batcher[service.ProgressPayload]{
		rdb:    rdb,
		queue:  config.WorkerKey.PersistProgressQueue,
		log:    log.With().Str("component", "progress_worker").Logger(),
		bulk:   w.bulkUpsert,
		single: w.upsertOne,
	}
	return w
}

// Start runs the worker loop until ctx is cancelled. Call in a goroutine.
func (w *ProgressWorker) Start(ctx context.Context) {
	w.b.run(ctx)
}

// latestProgress keeps the newest payload per session. A single upsert
// statement cannot touch the same row twice.
func latestProgress(batch []*service.ProgressPayload) []*service.ProgressPayload {
	idx := make(map[string]int, len(batch))
	out := make([]*service.ProgressPayload, 0, len(batch))
	for _, p := range batch {
		i, ok := idx[p.SessionID]
		if !ok {
			idx[p.SessionID] = len(out)
			out = append(out, p)
			continue
		}
		if p.SavedAt.After(out[i].SavedAt) {
			out[i] = p
		}
	}
	return out
}

func (w *ProgressWorker) bulkUpsert(ctx context.Context, batch []*service.ProgressPayload) error {
	rows := latestProgress(batch)
	ids := make([]string, 0, len(rows))
	docs := make([]string, 0, len(rows))
	saved := make([]time.Time, 0, len(rows))
	for _, p := range rows {
		if _, err := uuid.Parse(p.SessionID); err != nil {
			return fmt.Errorf("%w: session id %q", errInvalidPayload, p.SessionID)
		}
		doc, err := json.Marshal(p.Responses)
		if err != nil {
			return fmt.Errorf("%w: %v", errInvalidPayload, err)
		}
		ids = append(ids, p.SessionID)
		docs = append(docs, string(doc))
		saved = append(saved, p.SavedAt)
	}

	_, err := w.pool.Exec(ctx, upsertProgress, ids, docs, saved)
	return err
}

func (w *ProgressWorker) upsertOne(ctx context.Context, p *service.ProgressPayload) error {
	return w.bulkUpsert(ctx, []*service.ProgressPayload{p})
}
