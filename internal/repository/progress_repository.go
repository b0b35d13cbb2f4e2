package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/techassess/internal/model"
)

// ProgressRepository reads durable progress snapshots. Writes go through the
// progress queue and ProgressWorker.
type ProgressRepository struct {
	pool *pgxpool.Pool
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(pool *pgxpool.Pool) *ProgressRepository {
	return &ProgressRepository{pool: pool}
}

// Get returns the stored snapshot of a session. Returns pgx.ErrNoRows when
// nothing was persisted yet.
func (r *ProgressRepository) Get(ctx context.Context, sessionID uuid.UUID) (*model.Snapshot, error) {
	var snap model.Snapshot
	err := r.pool.QueryRow(ctx,
		`SELECT responses, saved_at FROM session_progress WHERE session_id = $1`, sessionID,
	).Scan(&snap.Responses, &snap.SavedAt)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}
