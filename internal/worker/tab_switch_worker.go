package worker

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/techassess/internal/config"
	"github.com/stemsi/techassess/internal/service"
)

// raiseTabSwitches never lowers a stored counter.
const raiseTabSwitches = `
UPDATE sessions AS s
SET tab_switch_count = GREATEST(s.tab_switch_count, r.count)
FROM UNNEST($1::text[], $2::int[]) AS r(session_id, count)
WHERE s.id = r.session_id::uuid`

// TabSwitchWorker consumes persist_tab_switches_queue.
type TabSwitchWorker struct {
	pool *pgxpool.Pool
	b    *batcher[service.TabSwitchPayload]
}

// NewTabSwitchWorker creates a new TabSwitchWorker.
func NewTabSwitchWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *TabSwitchWorker {
	w := &TabSwitchWorker{pool: pool}
	w.b = &batcher[service.TabSwitchPayload]{
		rdb:    rdb,
		queue:  config.WorkerKey.PersistTabSwitchesQueue,
		log:    log.With().Str("component", "tab_switch_worker").Logger(),
		bulk:   w.bulkUpdate,
		single: w.updateOne,
	}
	return w
}

// Start runs the worker loop until ctx is cancelled. Call in a goroutine.
func (w *TabSwitchWorker) Start(ctx context.Context) {
	w.b.run(ctx)
}

// maxTabSwitches folds the batch to the highest count per session.
func maxTabSwitches(batch []*service.TabSwitchPayload) ([]string, []int32) {
	best := make(map[string]int, len(batch))
	order := make([]string, 0, len(batch))
	for _, p := range batch {
		cur, ok := best[p.SessionID]
		if !ok {
			order = append(order, p.SessionID)
		}
		if !ok || p.Count > cur {
			best[p.SessionID] = p.Count
		}
	}
	counts := make([]int32, len(order))
	for i, id := range order {
		counts[i] = int32(best[id])
	}
	return order, counts
}

func (w *TabSwitchWorker) bulkUpdate(ctx context.Context, batch []*service.TabSwitchPayload) error {
	ids, counts := maxTabSwitches(batch)
	for i, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			return fmt.Errorf("%w: session id %q", errInvalidPayload, id)
		}
		if counts[i] < 0 {
			return fmt.Errorf("%w: negative count for %s", errInvalidPayload, id)
		}
	}
	_, err := w.pool.Exec(ctx, raiseTabSwitches, ids, counts)
	return err
}

func (w *TabSwitchWorker) updateOne(ctx context.Context, p *service.TabSwitchPayload) error {
	return w.bulkUpdate(ctx, []*service.TabSwitchPayload{p})
}
