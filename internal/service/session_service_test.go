package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/techassess/internal/clock"
	"github.com/stemsi/techassess/internal/config"
	"github.com/stemsi/techassess/internal/content"
	"github.com/stemsi/techassess/internal/model"
	"github.com/stemsi/techassess/internal/repository"
	ws "github.com/stemsi/techassess/internal/websocket"
)

// ─── Fakes ──────────────────────────────────────────────────────────

type fakeSessions struct {
	mu    sync.Mutex
	clock clock.Clock
	rows  map[uuid.UUID]*model.Session
}

func (f *fakeSessions) Create(_ context.Context, s *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s.ID = uuid.NewString()
	s.State = model.SessionNotStarted
	s.CreatedAt = f.clock.Now()
	cp := *s
	f.rows[uuid.MustParse(s.ID)] = &cp
	return nil
}

func (f *fakeSessions) GetByID(_ context.Context, id uuid.UUID) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessions) Start(_ context.Context, id uuid.UUID, at time.Time) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[id]
	if !ok || s.State != model.SessionNotStarted {
		return nil, pgx.ErrNoRows
	}
	s.State = model.SessionInProgress
	s.StartedAt = &at
	cp := *s
	return &cp, nil
}

func (f *fakeSessions) MarkExpired(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[id]
	if !ok || s.State.Terminal() {
		return false, nil
	}
	s.State = model.SessionExpired
	return true, nil
}

func (f *fakeSessions) List(_ context.Context, state *model.SessionState, _, _ int) ([]model.Session, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Session
	for _, s := range f.rows {
		if state == nil || s.State == *state {
			out = append(out, *s)
		}
	}
	return out, int64(len(out)), nil
}

func (f *fakeSessions) Stats(context.Context) (model.SessionStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := model.SessionStats{Total: len(f.rows)}
	for _, s := range f.rows {
		switch s.State {
		case model.SessionNotStarted:
			st.NotStarted++
		case model.SessionInProgress:
			st.InProgress++
		case model.SessionSubmitted:
			st.Submitted++
		case model.SessionExpired:
			st.Expired++
		}
	}
	return st, nil
}

type fakeProgress struct {
	snaps map[uuid.UUID]*model.Snapshot
}

func (f *fakeProgress) Get(_ context.Context, id uuid.UUID) (*model.Snapshot, error) {
	s, ok := f.snaps[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return s, nil
}

type fakeSubmissions struct {
	sessions *fakeSessions
	mu       sync.Mutex
	rows     map[uuid.UUID]*model.Submission
}

func (f *fakeSubmissions) Submit(_ context.Context, id uuid.UUID, sub *model.Submission) error {
	f.sessions.mu.Lock()
	s, ok := f.sessions.rows[id]
	if !ok || s.State != model.SessionInProgress {
		f.sessions.mu.Unlock()
		return repository.ErrSessionNotActive
	}
	s.State = model.SessionSubmitted
	s.SubmittedAt = &sub.SubmittedAt
	f.sessions.mu.Unlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	sub.ID = int64(len(f.rows) + 1)
	sub.SessionID = id.String()
	f.rows[id] = sub
	return nil
}

func (f *fakeSubmissions) GetBySession(_ context.Context, id uuid.UUID) (*model.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return s, nil
}

type fakeCache struct {
	mu       sync.Mutex
	starts   map[string]time.Time
	states   map[string]model.SessionState
	progress map[string]model.Snapshot
	queues   map[string][]any
	events   []ws.MonitorEvent
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		starts:   map[string]time.Time{},
		states:   map[string]model.SessionState{},
		progress: map[string]model.Snapshot{},
		queues:   map[string][]any{},
	}
}

func (f *fakeCache) SetStart(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts[id] = at
	return nil
}

func (f *fakeCache) GetStart(_ context.Context, id string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	at, ok := f.starts[id]
	if !ok {
		return time.Time{}, redis.Nil
	}
	return at, nil
}

func (f *fakeCache) SetState(_ context.Context, id string, st model.SessionState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[id] = st
	return nil
}

func (f *fakeCache) GetState(_ context.Context, id string) (model.SessionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[id]
	if !ok {
		return "", redis.Nil
	}
	return st, nil
}

func (f *fakeCache) SaveProgress(_ context.Context, id string, snap model.Snapshot) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.progress[id]; ok && !snap.SavedAt.After(cur.SavedAt) {
		return false, nil
	}
	f.progress[id] = snap
	return true, nil
}

func (f *fakeCache) GetProgress(_ context.Context, id string) (*model.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.progress[id]
	if !ok {
		return nil, redis.Nil
	}
	return &snap, nil
}

func (f *fakeCache) Enqueue(_ context.Context, queue string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues[queue] = append(f.queues[queue], payload)
	return nil
}

func (f *fakeCache) Publish(_ context.Context, event any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event.(ws.MonitorEvent))
	return nil
}

func (f *fakeCache) eventKinds() []ws.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ws.Event, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Event)
	}
	return out
}

type fakeExecutor struct {
	mu   sync.Mutex
	err  error
	reqs []model.ExecuteRequest
	// passed maps source text to the number of passing tests.
	passed map[string]int
}

func (f *fakeExecutor) Execute(_ context.Context, req model.ExecuteRequest) (model.ExecutionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return model.ExecutionResult{}, f.err
	}
	total := len(req.TestCases)
	passed := min(f.passed[req.Code], total)
	return model.ExecutionResult{Success: true, TestMode: true, TotalTests: total, Passed: passed, Failed: total - passed}, nil
}

// ─── Harness ────────────────────────────────────────────────────────

type serviceHarness struct {
	svc      *SessionService
	clock    *clock.FakeClock
	sessions *fakeSessions
	progress *fakeProgress
	subs     *fakeSubmissions
	cache    *fakeCache
	exec     *fakeExecutor
}

func newServiceHarness(t *testing.T) *serviceHarness {
	t.Helper()
	a, err := content.Default()
	require.NoError(t, err)

	clk := clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	sessions := &fakeSessions{clock: clk, rows: map[uuid.UUID]*model.Session{}}
	h := &serviceHarness{
		clock:    clk,
		sessions: sessions,
		progress: &fakeProgress{snaps: map[uuid.UUID]*model.Snapshot{}},
		subs:     &fakeSubmissions{sessions: sessions, rows: map[uuid.UUID]*model.Submission{}},
		cache:    newFakeCache(),
		exec:     &fakeExecutor{passed: map[string]int{}},
	}
	h.svc = NewSessionService(h.sessions, h.progress, h.subs, h.cache, h.exec, a, time.Minute, zerolog.Nop())
	h.svc.SetClock(clk)
	return h
}

func (h *serviceHarness) started(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	sess, err := h.svc.Register(ctx, model.RegisterRequest{CandidateName: "Ada", CandidateEmail: "ada@example.com"}, "10.0.0.1")
	require.NoError(t, err)
	require.NoError(t, h.svc.Start(ctx, sess.ID))
	return sess.ID
}

func referenceResponses() model.Responses {
	r := model.NewResponses()
	for q, idx := range map[int]int{1: 1, 2: 1, 3: 0, 4: 2, 5: 2, 6: 1, 7: 1, 8: 1, 9: 2, 10: 2} {
		r.MCQ[q] = idx
	}
	r.SQL[1] = "23:45"
	r.SQL[2] = "charlie davis"
	r.SQL[3] = "salary_data, customers, financial_records"
	r.SQL[4] = "Yes"
	r.SQL[5] = " 185.220.101.45 "
	return r
}

// ─── Tests ──────────────────────────────────────────────────────────

func TestRegisterStartView(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()

	sess, err := h.svc.Register(ctx, model.RegisterRequest{CandidateName: "Ada", CandidateEmail: "ada@example.com"}, "10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, 120, sess.DurationMinutes)
	require.Equal(t, "10.0.0.1", *sess.IPAddress)

	view, err := h.svc.View(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, model.SessionNotStarted, view.State)
	require.False(t, view.IsExpired)

	require.NoError(t, h.svc.Start(ctx, sess.ID))
	h.clock.Advance(90 * time.Second)
	require.NoError(t, h.svc.Start(ctx, sess.ID), "start is idempotent")

	view, err = h.svc.View(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, model.SessionInProgress, view.State)
	require.Equal(t, 7200-90, view.RemainingSeconds)
	require.Equal(t, []ws.Event{ws.EventRegistered, ws.EventStarted}, h.cache.eventKinds())
}

func TestViewHealsStartTimeFromDatabase(t *testing.T) {
	h := newServiceHarness(t)
	id := h.started(t)

	h.cache.mu.Lock()
	delete(h.cache.starts, id)
	h.cache.mu.Unlock()
	h.clock.Advance(10 * time.Minute)

	view, err := h.svc.View(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, 7200-600, view.RemainingSeconds)

	_, err = h.cache.GetStart(context.Background(), id)
	require.NoError(t, err)
}

func TestViewRejectsBadIDs(t *testing.T) {
	h := newServiceHarness(t)

	_, err := h.svc.View(context.Background(), "not-a-uuid")
	require.ErrorIs(t, err, ErrInvalidSessionID)

	_, err = h.svc.View(context.Background(), uuid.NewString())
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSaveProgressFreshestWins(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()
	id := h.started(t)

	newer := model.Snapshot{Responses: model.NewResponses(), SavedAt: h.clock.Now().Add(2 * time.Second)}
	newer.MCQ[1] = 2
	newer.MCQ[99] = 0
	older := model.Snapshot{Responses: model.NewResponses(), SavedAt: h.clock.Now().Add(time.Second)}
	older.MCQ[1] = 0

	at, err := h.svc.SaveProgress(ctx, id, newer)
	require.NoError(t, err)
	require.Equal(t, newer.SavedAt, at)

	_, err = h.svc.SaveProgress(ctx, id, older)
	require.NoError(t, err)

	got, err := h.svc.GetProgress(ctx, id)
	require.NoError(t, err)
	require.Equal(t, map[int]int{1: 2}, got.MCQ)
	require.Len(t, h.cache.queues[config.WorkerKey.PersistProgressQueue], 1)
}

func TestSaveProgressStateGate(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()

	sess, err := h.svc.Register(ctx, model.RegisterRequest{CandidateName: "Bo", CandidateEmail: "bo@example.com"}, "")
	require.NoError(t, err)

	_, err = h.svc.SaveProgress(ctx, sess.ID, model.Snapshot{Responses: model.NewResponses()})
	require.ErrorIs(t, err, ErrSessionNotActive)

	require.NoError(t, h.svc.Start(ctx, sess.ID))
	_, err = h.svc.Submit(ctx, sess.ID, model.SubmitRequest{Responses: model.NewResponses()})
	require.NoError(t, err)

	_, err = h.svc.SaveProgress(ctx, sess.ID, model.Snapshot{Responses: model.NewResponses()})
	require.ErrorIs(t, err, ErrSessionClosed)
	require.ErrorIs(t, h.svc.UpdateTabSwitches(ctx, sess.ID, 2), ErrSessionClosed)
}

func TestGetProgressFallsBackToDatabase(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()
	id := h.started(t)

	got, err := h.svc.GetProgress(ctx, id)
	require.NoError(t, err)
	require.Nil(t, got)

	stored := &model.Snapshot{Responses: model.NewResponses(), SavedAt: h.clock.Now()}
	stored.SQL[4] = "Yes"
	h.progress.snaps[uuid.MustParse(id)] = stored

	got, err = h.svc.GetProgress(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "Yes", got.SQL[4])

	_, err = h.svc.GetProgress(ctx, uuid.NewString())
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSubmitGradesOnce(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()
	id := h.started(t)

	req := model.SubmitRequest{Responses: referenceResponses(), TabSwitchCount: 2}
	req.Code[1] = "def two_sum(): pass"
	req.Code[2] = "def is_palindrome(): pass"
	h.exec.passed["def two_sum(): pass"] = 3
	h.exec.passed["def is_palindrome(): pass"] = 1

	rec, err := h.svc.Submit(ctx, id, req)
	require.NoError(t, err)
	require.Equal(t, 10, rec.MCQ)
	require.Equal(t, 5, rec.SQL)
	require.NotNil(t, rec.Code)
	// 5 points for the first problem, 5 * 1/3 for the second
	require.Equal(t, 7, *rec.Code)
	require.Equal(t, 22, rec.Total)
	require.False(t, rec.Offline)

	_, err = h.svc.Submit(ctx, id, req)
	require.ErrorIs(t, err, ErrAlreadySubmitted)

	detail, err := h.svc.Detail(ctx, id)
	require.NoError(t, err)
	require.Equal(t, model.SessionSubmitted, detail.Session.State)
	require.NotNil(t, detail.Submission)
	require.False(t, detail.Submission.Violation)
}

func TestSubmitConcurrentAcceptsOne(t *testing.T) {
	h := newServiceHarness(t)
	id := h.started(t)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		oks  int
		errs []error
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Submit(context.Background(), id, model.SubmitRequest{Responses: referenceResponses()})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				oks++
				return
			}
			errs = append(errs, err)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, oks)
	for _, err := range errs {
		require.ErrorIs(t, err, ErrAlreadySubmitted)
	}
}

func TestSubmitDeadlineAndGrace(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()

	onTime := h.started(t)
	late := h.started(t)

	h.clock.Advance(120*time.Minute + 30*time.Second)
	_, err := h.svc.Submit(ctx, onTime, model.SubmitRequest{Responses: model.NewResponses()})
	require.NoError(t, err, "inside the grace window")

	h.clock.Advance(time.Minute)
	_, err = h.svc.Submit(ctx, late, model.SubmitRequest{Responses: model.NewResponses()})
	require.ErrorIs(t, err, ErrSessionClosed)

	view, err := h.svc.View(ctx, late)
	require.NoError(t, err)
	require.Equal(t, model.SessionExpired, view.State)
	require.True(t, view.IsExpired)
	require.Zero(t, view.RemainingSeconds)
}

func TestSubmitExecutorOutageLeavesCodeUngraded(t *testing.T) {
	h := newServiceHarness(t)
	id := h.started(t)
	h.exec.err = errors.New("connection refused")

	req := model.SubmitRequest{Responses: referenceResponses(), TabSwitchCount: 6}
	req.Code[1] = "print(1)"

	rec, err := h.svc.Submit(context.Background(), id, req)
	require.NoError(t, err)
	require.Nil(t, rec.Code)
	require.Equal(t, 15, rec.Total)
	require.Equal(t, "Submitted (not graded)", rec.CodeDisplay())

	detail, err := h.svc.Detail(context.Background(), id)
	require.NoError(t, err)
	require.True(t, detail.Submission.Violation)
}

func TestSubmitWithoutCodeSkipsExecutor(t *testing.T) {
	h := newServiceHarness(t)
	id := h.started(t)

	rec, err := h.svc.Submit(context.Background(), id, model.SubmitRequest{Responses: model.NewResponses()})
	require.NoError(t, err)
	require.NotNil(t, rec.Code)
	require.Zero(t, *rec.Code)
	require.Empty(t, h.exec.reqs)
}

func TestTabSwitchesQueued(t *testing.T) {
	h := newServiceHarness(t)
	id := h.started(t)

	require.NoError(t, h.svc.UpdateTabSwitches(context.Background(), id, 6))
	q := h.cache.queues[config.WorkerKey.PersistTabSwitchesQueue]
	require.Equal(t, []any{TabSwitchPayload{SessionID: id, Count: 6}}, q)

	last := h.cache.events[len(h.cache.events)-1]
	require.Equal(t, ws.EventTabSwitch, last.Event)
	require.True(t, last.Violation)
}

func TestExecuteUsesVisibleTests(t *testing.T) {
	h := newServiceHarness(t)

	_, err := h.svc.Execute(context.Background(), model.ExecuteRequest{Code: "x", ProblemID: 1})
	require.NoError(t, err)
	require.Len(t, h.exec.reqs, 1)
	require.Len(t, h.exec.reqs[0].TestCases, 1)
	require.True(t, h.exec.reqs[0].TestCases[0].Visible)

	_, err = h.svc.Execute(context.Background(), model.ExecuteRequest{Code: "x", ProblemID: 42})
	require.ErrorIs(t, err, ErrUnknownProblem)
}

func TestListIncludesStats(t *testing.T) {
	h := newServiceHarness(t)
	h.started(t)
	_, err := h.svc.Register(context.Background(), model.RegisterRequest{CandidateName: "Cy", CandidateEmail: "cy@example.com"}, "")
	require.NoError(t, err)

	st := model.SessionInProgress
	list, total, err := h.svc.List(context.Background(), &st, 1, 20)
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Equal(t, 2, list.Stats.Total)
	require.Equal(t, 1, list.Stats.NotStarted)
}
