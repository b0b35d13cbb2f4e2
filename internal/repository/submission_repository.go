package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/techassess/internal/model"
)

// SubmissionRepository stores graded submissions.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

// Submit closes an in-progress session and stores its submission in one
// transaction. Returns ErrSessionNotActive when the session was not
// in_progress, so concurrent submits store exactly one row.
func (r *SubmissionRepository) Submit(ctx context.Context, sessionID uuid.UUID, sub *model.Submission) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`UPDATE sessions
		 SET state = 'submitted', submitted_at = $2, tab_switch_count = GREATEST(tab_switch_count, $3)
		 WHERE id = $1 AND state = 'in_progress'
		 RETURNING tab_switch_count`,
		sessionID, sub.SubmittedAt, sub.TabSwitchCount,
	).Scan(&sub.TabSwitchCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSessionNotActive
		}
		return fmt.Errorf("close session: %w", err)
	}

	sc := sub.Scores
	err = tx.QueryRow(ctx,
		`INSERT INTO submissions
			(session_id, responses, mcq_score, code_score, sql_score, total_score,
			 mcq_max, code_max, sql_max, tab_switch_count, violation, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id`,
		sessionID, sub.Responses, sc.MCQ, sc.Code, sc.SQL, sc.Total,
		sc.Max.MCQ, sc.Max.Code, sc.Max.SQL, sub.TabSwitchCount, sub.Violation, sub.SubmittedAt,
	).Scan(&sub.ID)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	sub.SessionID = sessionID.String()
	return nil
}

// GetBySession retrieves the submission of a session. Returns pgx.ErrNoRows
// when the session has none.
func (r *SubmissionRepository) GetBySession(ctx context.Context, sessionID uuid.UUID) (*model.Submission, error) {
	var (
		s   model.Submission
		sid uuid.UUID
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, session_id, responses, mcq_score, code_score, sql_score, total_score,
			mcq_max, code_max, sql_max, tab_switch_count, violation, submitted_at
		 FROM submissions
		 WHERE session_id = $1`, sessionID,
	).Scan(&s.ID, &sid, &s.Responses, &s.Scores.MCQ, &s.Scores.Code, &s.Scores.SQL, &s.Scores.Total,
		&s.Scores.Max.MCQ, &s.Scores.Max.Code, &s.Scores.Max.SQL, &s.TabSwitchCount, &s.Violation, &s.SubmittedAt)
	if err != nil {
		return nil, err
	}
	s.SessionID = sid.String()
	return &s, nil
}
