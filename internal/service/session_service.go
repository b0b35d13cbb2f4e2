package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/techassess/internal/clock"
	"github.com/stemsi/techassess/internal/config"
	"github.com/stemsi/techassess/internal/content"
	"github.com/stemsi/techassess/internal/model"
	"github.com/stemsi/techassess/internal/repository"
	"github.com/stemsi/techassess/internal/scoring"
	ws "github.com/stemsi/techassess/internal/websocket"
)

// SessionStore is the durable session table.
type SessionStore interface {
	Create(ctx context.Context, s *model.Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Session, error)
	Start(ctx context.Context, id uuid.UUID, at time.Time) (*model.Session, error)
	MarkExpired(ctx context.Context, id uuid.UUID) (bool, error)
	List(ctx context.Context, state *model.SessionState, page, perPage int) ([]model.Session, int64, error)
	Stats(ctx context.Context) (model.SessionStats, error)
}

// ProgressStore reads durable snapshots.
type ProgressStore interface {
	Get(ctx context.Context, sessionID uuid.UUID) (*model.Snapshot, error)
}

// SubmissionStore closes sessions and stores graded submissions.
type SubmissionStore interface {
	Submit(ctx context.Context, sessionID uuid.UUID, sub *model.Submission) error
	GetBySession(ctx context.Context, sessionID uuid.UUID) (*model.Submission, error)
}

// SessionCache is the Redis fast lane. Getters return redis.Nil on a miss.
type SessionCache interface {
	SetStart(ctx context.Context, sessionID string, at time.Time) error
	GetStart(ctx context.Context, sessionID string) (time.Time, error)
	SetState(ctx context.Context, sessionID string, state model.SessionState) error
	GetState(ctx context.Context, sessionID string) (model.SessionState, error)
	SaveProgress(ctx context.Context, sessionID string, snap model.Snapshot) (bool, error)
	GetProgress(ctx context.Context, sessionID string) (*model.Snapshot, error)
	Enqueue(ctx context.Context, queue string, payload any) error
	Publish(ctx context.Context, event any) error
}

// Executor runs candidate code against test cases.
type Executor interface {
	Execute(ctx context.Context, req model.ExecuteRequest) (model.ExecutionResult, error)
}

// ProgressPayload is queued for ProgressWorker.
type ProgressPayload struct {
	SessionID string          `json:"session_id"`
	Responses model.Responses `json:"responses"`
	SavedAt   time.Time       `json:"saved_at"`
}

// TabSwitchPayload is queued for TabSwitchWorker.
type TabSwitchPayload struct {
	SessionID string `json:"session_id"`
	Count     int    `json:"count"`
}

// SessionService owns the server side of the session lifecycle.
type SessionService struct {
	sessions    SessionStore
	progress    ProgressStore
	submissions SubmissionStore
	cache       SessionCache
	executor    Executor
	assessment  *content.Assessment
	key         scoring.Key
	grace       time.Duration
	clock       clock.Clock
	log         zerolog.Logger
}

// NewSessionService creates a new SessionService.
func NewSessionService(
	sessions SessionStore,
	progress ProgressStore,
	submissions SubmissionStore,
	cache SessionCache,
	executor Executor,
	assessment *content.Assessment,
	grace time.Duration,
	log zerolog.Logger,
) *SessionService {
	return &SessionService{
		sessions:    sessions,
		progress:    progress,
		submissions: submissions,
		cache:       cache,
		executor:    executor,
		assessment:  assessment,
		key:         assessment.Key(),
		grace:       grace,
		clock:       clock.Real(),
		log:         log.With().Str("component", "session_service").Logger(),
	}
}

// SetClock replaces the time source.
func (s *SessionService) SetClock(c clock.Clock) {
	s.clock = c
}

// Assessment returns the loaded assessment content.
func (s *SessionService) Assessment() *content.Assessment {
	return s.assessment
}

func parseSessionID(id string) (uuid.UUID, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, ErrInvalidSessionID
	}
	return uid, nil
}

func (s *SessionService) load(ctx context.Context, uid uuid.UUID) (*model.Session, error) {
	sess, err := s.sessions.GetByID(ctx, uid)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// Register creates a not-started session for a candidate.
func (s *SessionService) Register(ctx context.Context, req model.RegisterRequest, ip string) (*model.Session, error) {
	sess := &model.Session{
		CandidateName:   req.CandidateName,
		CandidateEmail:  req.CandidateEmail,
		ExamCode:        req.ExamCode,
		DurationMinutes: s.assessment.DurationMinutes,
	}
	if ip != "" {
		sess.IPAddress = &ip
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if err := s.cache.SetState(ctx, sess.ID, model.SessionNotStarted); err != nil {
		s.log.Warn().Err(err).Str("session_id", sess.ID).Msg("Failed to cache session state")
	}
	s.publish(ctx, ws.MonitorEvent{
		Event:         ws.EventRegistered,
		SessionID:     sess.ID,
		CandidateName: sess.CandidateName,
		State:         model.SessionNotStarted,
	})

	s.log.Info().Str("session_id", sess.ID).Str("email", sess.CandidateEmail).Msg("Candidate registered")
	return sess, nil
}

// expireIfDue closes a live session whose deadline plus grace has passed.
// Reports whether sess is now expired.
func (s *SessionService) expireIfDue(ctx context.Context, sess *model.Session) (bool, error) {
	if sess.State.Terminal() {
		return sess.State == model.SessionExpired, nil
	}
	if !s.clock.Now().After(sess.Deadline().Add(s.grace)) {
		return false, nil
	}

	uid, err := parseSessionID(sess.ID)
	if err != nil {
		return false, err
	}
	changed, err := s.sessions.MarkExpired(ctx, uid)
	if err != nil {
		return false, fmt.Errorf("mark expired: %w", err)
	}
	if !changed {
		// lost a race with submit or another expiry; re-read the winner
		fresh, err := s.load(ctx, uid)
		if err != nil {
			return false, err
		}
		*sess = *fresh
		return sess.State == model.SessionExpired, nil
	}

	sess.State = model.SessionExpired
	if err := s.cache.SetState(ctx, sess.ID, model.SessionExpired); err != nil {
		s.log.Warn().Err(err).Str("session_id", sess.ID).Msg("Failed to cache session state")
	}
	s.publish(ctx, ws.MonitorEvent{Event: ws.EventExpired, SessionID: sess.ID, State: model.SessionExpired})
	s.log.Info().Str("session_id", sess.ID).Msg("Session expired")
	return true, nil
}

// startTime returns the session start, preferring the Redis copy and healing
// it from sess on a miss.
func (s *SessionService) startTime(ctx context.Context, sess *model.Session) time.Time {
	at, err := s.cache.GetStart(ctx, sess.ID)
	if err == nil {
		return at
	}
	if !errors.Is(err, redis.Nil) {
		s.log.Warn().Err(err).Str("session_id", sess.ID).Msg("Redis error getting start time")
	}
	if sess.StartedAt == nil {
		return sess.CreatedAt
	}
	if err := s.cache.SetStart(ctx, sess.ID, *sess.StartedAt); err != nil {
		s.log.Warn().Err(err).Str("session_id", sess.ID).Msg("Failed to heal start time")
	}
	return *sess.StartedAt
}

// View returns the client projection of a session. A live session past its
// deadline plus grace is expired as a side effect.
func (s *SessionService) View(ctx context.Context, id string) (model.SessionView, error) {
	uid, err := parseSessionID(id)
	if err != nil {
		return model.SessionView{}, err
	}
	sess, err := s.load(ctx, uid)
	if err != nil {
		return model.SessionView{}, err
	}
	expired, err := s.expireIfDue(ctx, sess)
	if err != nil {
		return model.SessionView{}, err
	}

	view := model.SessionView{
		SessionID:      sess.ID,
		State:          sess.State,
		CandidateName:  sess.CandidateName,
		IsExpired:      expired,
		TabSwitchCount: sess.TabSwitchCount,
	}
	switch sess.State {
	case model.SessionInProgress:
		started := s.startTime(ctx, sess)
		deadline := started.Add(time.Duration(sess.DurationMinutes) * time.Minute)
		if rem := deadline.Sub(s.clock.Now()); rem > 0 {
			view.RemainingSeconds = int(rem / time.Second)
		}
	case model.SessionNotStarted:
		view.RemainingSeconds = sess.RemainingSeconds(s.clock.Now())
	}
	return view, nil
}

// Start moves a session to in_progress. Starting an in-progress session is a
// no-op.
func (s *SessionService) Start(ctx context.Context, id string) error {
	uid, err := parseSessionID(id)
	if err != nil {
		return err
	}
	sess, err := s.load(ctx, uid)
	if err != nil {
		return err
	}
	if expired, err := s.expireIfDue(ctx, sess); err != nil {
		return err
	} else if expired || sess.State == model.SessionSubmitted {
		return ErrSessionClosed
	}

	if sess.State == model.SessionInProgress {
		s.startTime(ctx, sess)
		return nil
	}

	started, err := s.sessions.Start(ctx, uid, s.clock.Now())
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("start session: %w", err)
		}
		// concurrent start; whoever won already stamped started_at
		started, err = s.load(ctx, uid)
		if err != nil {
			return err
		}
		if started.State != model.SessionInProgress {
			return ErrSessionClosed
		}
	}

	if started.StartedAt != nil {
		if err := s.cache.SetStart(ctx, started.ID, *started.StartedAt); err != nil {
			s.log.Warn().Err(err).Str("session_id", started.ID).Msg("Failed to cache start time")
		}
	}
	if err := s.cache.SetState(ctx, started.ID, model.SessionInProgress); err != nil {
		s.log.Warn().Err(err).Str("session_id", started.ID).Msg("Failed to cache session state")
	}
	s.publish(ctx, ws.MonitorEvent{
		Event:         ws.EventStarted,
		SessionID:     started.ID,
		CandidateName: started.CandidateName,
		State:         model.SessionInProgress,
	})
	s.log.Info().Str("session_id", started.ID).Msg("Session started")
	return nil
}

// requireLive admits a write only while the session is in progress and
// within its deadline plus grace. The Redis state is consulted first; the
// database is read on a miss and whenever the deadline must be checked
// against the authoritative start time.
func (s *SessionService) requireLive(ctx context.Context, uid uuid.UUID) (*model.Session, error) {
	id := uid.String()
	state, err := s.cache.GetState(ctx, id)
	if err != nil && !errors.Is(err, redis.Nil) {
		s.log.Warn().Err(err).Str("session_id", id).Msg("Redis error getting session state")
	}
	if err == nil && state.Terminal() {
		return nil, ErrSessionClosed
	}

	sess, err := s.load(ctx, uid)
	if err != nil {
		return nil, err
	}
	if expired, err := s.expireIfDue(ctx, sess); err != nil {
		return nil, err
	} else if expired {
		return nil, ErrSessionClosed
	}

	switch sess.State {
	case model.SessionInProgress:
		if state != sess.State {
			if err := s.cache.SetState(ctx, id, sess.State); err != nil {
				s.log.Warn().Err(err).Str("session_id", id).Msg("Failed to heal session state")
			}
		}
		return sess, nil
	case model.SessionNotStarted:
		return nil, ErrSessionNotActive
	default:
		return nil, ErrSessionClosed
	}
}

// SaveProgress stores snap as the session's latest progress unless a newer
// snapshot is already held. Returns the snapshot's saved_at.
func (s *SessionService) SaveProgress(ctx context.Context, id string, snap model.Snapshot) (time.Time, error) {
	uid, err := parseSessionID(id)
	if err != nil {
		return time.Time{}, err
	}
	if _, err := s.requireLive(ctx, uid); err != nil {
		return time.Time{}, err
	}

	if snap.SavedAt.IsZero() {
		snap.SavedAt = s.clock.Now()
	}
	filtered, dropped := s.assessment.Universe().Filter(snap.Responses)
	if dropped > 0 {
		s.log.Warn().Str("session_id", id).Int("dropped", dropped).Msg("Dropped unknown response keys")
	}
	snap.Responses = filtered

	stored, err := s.cache.SaveProgress(ctx, id, snap)
	if err != nil {
		return time.Time{}, fmt.Errorf("cache progress: %w", err)
	}
	if !stored {
		s.log.Debug().Str("session_id", id).Time("saved_at", snap.SavedAt).Msg("Stale snapshot ignored")
		return snap.SavedAt, nil
	}

	payload := ProgressPayload{SessionID: id, Responses: snap.Responses, SavedAt: snap.SavedAt}
	if err := s.cache.Enqueue(ctx, config.WorkerKey.PersistProgressQueue, payload); err != nil {
		return time.Time{}, fmt.Errorf("queue progress: %w", err)
	}
	s.publish(ctx, ws.MonitorEvent{
		Event:     ws.EventProgress,
		SessionID: id,
		State:     model.SessionInProgress,
		Answered:  snap.Responses.Len() - len(snap.Scratch),
	})
	return snap.SavedAt, nil
}

// GetProgress returns the latest known snapshot, or nil when none exists.
func (s *SessionService) GetProgress(ctx context.Context, id string) (*model.Snapshot, error) {
	uid, err := parseSessionID(id)
	if err != nil {
		return nil, err
	}

	snap, err := s.cache.GetProgress(ctx, id)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, redis.Nil) {
		s.log.Warn().Err(err).Str("session_id", id).Msg("Redis error getting progress")
	}

	snap, err = s.progress.Get(ctx, uid)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get progress: %w", err)
	}
	if _, err := s.load(ctx, uid); err != nil {
		return nil, err
	}
	return nil, nil
}

// UpdateTabSwitches records the client's suspicious-event counter. The
// stored value never decreases.
func (s *SessionService) UpdateTabSwitches(ctx context.Context, id string, count int) error {
	uid, err := parseSessionID(id)
	if err != nil {
		return err
	}
	if _, err := s.requireLive(ctx, uid); err != nil {
		return err
	}
	if err := s.cache.Enqueue(ctx, config.WorkerKey.PersistTabSwitchesQueue, TabSwitchPayload{SessionID: id, Count: count}); err != nil {
		return fmt.Errorf("queue tab switches: %w", err)
	}
	s.publish(ctx, ws.MonitorEvent{
		Event:          ws.EventTabSwitch,
		SessionID:      id,
		State:          model.SessionInProgress,
		TabSwitchCount: count,
		Violation:      count > s.assessment.ViolationThreshold,
	})
	return nil
}

// Submit grades and stores the final responses. Only the first submission of
// an in-progress session is accepted.
func (s *SessionService) Submit(ctx context.Context, id string, req model.SubmitRequest) (model.ScoreRecord, error) {
	uid, err := parseSessionID(id)
	if err != nil {
		return model.ScoreRecord{}, err
	}
	sess, err := s.load(ctx, uid)
	if err != nil {
		return model.ScoreRecord{}, err
	}
	if err := s.checkSubmittable(ctx, sess); err != nil {
		return model.ScoreRecord{}, err
	}

	responses, dropped := s.assessment.Universe().Filter(req.Responses)
	if dropped > 0 {
		s.log.Warn().Str("session_id", id).Int("dropped", dropped).Msg("Dropped unknown response keys")
	}

	rec := scoring.Grade(responses, s.key, s.gradeCode(ctx, id, responses.Code))

	switches := max(req.TabSwitchCount, sess.TabSwitchCount)
	sub := &model.Submission{
		Responses:      responses,
		Scores:         rec,
		TabSwitchCount: switches,
		Violation:      switches > s.assessment.ViolationThreshold,
		SubmittedAt:    s.clock.Now(),
	}
	if err := s.submissions.Submit(ctx, uid, sub); err != nil {
		if !errors.Is(err, repository.ErrSessionNotActive) {
			return model.ScoreRecord{}, fmt.Errorf("store submission: %w", err)
		}
		fresh, loadErr := s.load(ctx, uid)
		if loadErr != nil {
			return model.ScoreRecord{}, loadErr
		}
		if fresh.State == model.SessionSubmitted {
			return model.ScoreRecord{}, ErrAlreadySubmitted
		}
		return model.ScoreRecord{}, ErrSessionClosed
	}

	if err := s.cache.SetState(ctx, id, model.SessionSubmitted); err != nil {
		s.log.Warn().Err(err).Str("session_id", id).Msg("Failed to cache session state")
	}
	s.publish(ctx, ws.MonitorEvent{
		Event:          ws.EventSubmitted,
		SessionID:      id,
		CandidateName:  sess.CandidateName,
		State:          model.SessionSubmitted,
		TabSwitchCount: sub.TabSwitchCount,
		Scores:         &rec,
		Violation:      sub.Violation,
	})

	s.log.Info().
		Str("session_id", id).
		Str("scores", rec.Summary()).
		Int("tab_switches", sub.TabSwitchCount).
		Bool("violation", sub.Violation).
		Msg("Assessment submitted")
	return rec, nil
}

func (s *SessionService) checkSubmittable(ctx context.Context, sess *model.Session) error {
	switch sess.State {
	case model.SessionSubmitted:
		return ErrAlreadySubmitted
	case model.SessionExpired:
		return ErrSessionClosed
	case model.SessionNotStarted:
		return ErrSessionNotActive
	}
	expired, err := s.expireIfDue(ctx, sess)
	if err != nil {
		return err
	}
	if expired {
		return ErrSessionClosed
	}
	return nil
}

// gradeCode runs every answered problem through the executor concurrently.
// Any executor failure leaves the code section ungraded (nil).
func (s *SessionService) gradeCode(ctx context.Context, id string, code map[int]string) *int {
	problems := s.assessment.Code
	if len(problems) == 0 || s.assessment.MaxPoints.Code == 0 {
		zero := 0
		return &zero
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[int]model.ExecutionResult, len(problems))
		failed  bool
	)
	for _, p := range problems {
		src := code[p.ID]
		if src == "" {
			continue
		}
		wg.Add(1)
		go func(p content.CodeProblem, src string) {
			defer wg.Done()
			res, err := s.executor.Execute(ctx, model.ExecuteRequest{Code: src, TestCases: p.TestCases})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.log.Error().Err(err).Str("session_id", id).Int("problem_id", p.ID).Msg("Code grading failed")
				failed = true
				return
			}
			results[p.ID] = res
		}(p, src)
	}
	wg.Wait()

	if failed {
		return nil
	}
	pts := scoring.CodePoints(results, len(problems), s.assessment.MaxPoints.Code)
	return &pts
}

// Execute runs code for the candidate's "run" button. With a problem id and
// no explicit tests only the problem's visible tests are used.
func (s *SessionService) Execute(ctx context.Context, req model.ExecuteRequest) (model.ExecutionResult, error) {
	if req.ProblemID > 0 && len(req.TestCases) == 0 {
		tests, ok := s.assessment.VisibleTestCases(req.ProblemID)
		if !ok {
			return model.ExecutionResult{}, ErrUnknownProblem
		}
		req.TestCases = tests
	}
	req.ProblemID = 0
	return s.executor.Execute(ctx, req)
}

// List returns a page of sessions with per-state statistics.
func (s *SessionService) List(ctx context.Context, state *model.SessionState, page, perPage int) (*model.SessionListResponse, int64, error) {
	sessions, total, err := s.sessions.List(ctx, state, page, perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	stats, err := s.sessions.Stats(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("session stats: %w", err)
	}
	return &model.SessionListResponse{Sessions: sessions, Stats: stats}, total, nil
}

// Detail returns a session and its submission, if any.
func (s *SessionService) Detail(ctx context.Context, id string) (*model.SessionDetail, error) {
	uid, err := parseSessionID(id)
	if err != nil {
		return nil, err
	}
	sess, err := s.load(ctx, uid)
	if err != nil {
		return nil, err
	}
	detail := &model.SessionDetail{Session: *sess}

	sub, err := s.submissions.GetBySession(ctx, uid)
	switch {
	case err == nil:
		detail.Submission = sub
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("get submission: %w", err)
	}
	return detail, nil
}

func (s *SessionService) publish(ctx context.Context, ev ws.MonitorEvent) {
	if ev.At.IsZero() {
		ev.At = s.clock.Now()
	}
	if err := s.cache.Publish(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("event", string(ev.Event)).Msg("Failed to publish monitor event")
	}
}
