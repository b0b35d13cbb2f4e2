package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/techassess/internal/model"
)

// ErrSessionNotActive is returned when a state transition finds the session
// outside the state it requires.
var ErrSessionNotActive = errors.New("session is not in a state that allows this transition")

const sessionColumns = `id, candidate_name, candidate_email, exam_code, state::text, created_at,
	started_at, submitted_at, duration_minutes, ip_address, tab_switch_count`

// SessionRepository handles assessment session data access.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func scanSession(row pgx.Row) (*model.Session, error) {
	var (
		s  model.Session
		id uuid.UUID
	)
	err := row.Scan(&id, &s.CandidateName, &s.CandidateEmail, &s.ExamCode, &s.State, &s.CreatedAt,
		&s.StartedAt, &s.SubmittedAt, &s.DurationMinutes, &s.IPAddress, &s.TabSwitchCount)
	if err != nil {
		return nil, err
	}
	s.ID = id.String()
	return &s, nil
}

// Create inserts a new not-started session. s.ID is assigned when empty.
func (r *SessionRepository) Create(ctx context.Context, s *model.Session) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.State = model.SessionNotStarted
	return r.pool.QueryRow(ctx,
		`INSERT INTO sessions (id, candidate_name, candidate_email, exam_code, duration_minutes, ip_address)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at`,
		s.ID, s.CandidateName, s.CandidateEmail, s.ExamCode, s.DurationMinutes, s.IPAddress,
	).Scan(&s.CreatedAt)
}

// GetByID retrieves a session. Returns pgx.ErrNoRows when it does not exist.
func (r *SessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
}

// Start moves a not-started session to in_progress and stamps started_at.
// Returns pgx.ErrNoRows when the session was not in not_started.
func (r *SessionRepository) Start(ctx context.Context, id uuid.UUID, at time.Time) (*model.Session, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`UPDATE sessions
		 SET state = 'in_progress', started_at = $2
		 WHERE id = $1 AND state = 'not_started'
		 RETURNING `+sessionColumns, id, at))
}

// MarkExpired moves a live session to expired. Reports whether a row changed.
func (r *SessionRepository) MarkExpired(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions
		 SET state = 'expired'
		 WHERE id = $1 AND state IN ('not_started', 'in_progress')`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// List returns sessions newest first, optionally filtered by state.
func (r *SessionRepository) List(ctx context.Context, state *model.SessionState, page, perPage int) ([]model.Session, int64, error) {
	offset := (page - 1) * perPage

	where := ""
	args := []any{}
	if state != nil {
		args = append(args, string(*state))
		where = fmt.Sprintf(" WHERE state = $%d::session_state", len(args))
	}

	var total int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM sessions"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, perPage, offset)
	query := `SELECT ` + sessionColumns + ` FROM sessions` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	sessions := make([]model.Session, 0, perPage)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, total, rows.Err()
}

// Stats counts sessions per state and submissions flagged for violations.
func (r *SessionRepository) Stats(ctx context.Context) (model.SessionStats, error) {
	var st model.SessionStats
	err := r.pool.QueryRow(ctx,
		`SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE state = 'not_started'),
			COUNT(*) FILTER (WHERE state = 'in_progress'),
			COUNT(*) FILTER (WHERE state = 'submitted'),
			COUNT(*) FILTER (WHERE state = 'expired'),
			(SELECT COUNT(*) FROM submissions WHERE violation)
		 FROM sessions`,
	).Scan(&st.Total, &st.NotStarted, &st.InProgress, &st.Submitted, &st.Expired, &st.Violations)
	return st, err
}
