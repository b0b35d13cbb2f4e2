// Package lifecycle drives one assessment session from first load to a
// terminal state. It owns the countdown, wires answer capture to the local
// and remote copies, and guarantees at most one submission.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/techassess/internal/apiclient"
	"github.com/stemsi/techassess/internal/capture"
	"github.com/stemsi/techassess/internal/clock"
	"github.com/stemsi/techassess/internal/localstore"
	"github.com/stemsi/techassess/internal/model"
	"github.com/stemsi/techassess/internal/progress"
	"github.com/stemsi/techassess/internal/reconcile"
	"github.com/stemsi/techassess/internal/scoring"
)

var (
	// ErrSessionInvalid means the session id is missing or unknown.
	ErrSessionInvalid = errors.New("lifecycle: invalid session")
	// ErrAlreadyTerminal means the server reports the session as submitted
	// or expired.
	ErrAlreadyTerminal = errors.New("lifecycle: session already finished")
	// ErrTerminal is returned for operations refused in a terminal state.
	ErrTerminal = errors.New("lifecycle: session is terminal")
	// ErrNotStarted is returned before Init succeeded.
	ErrNotStarted = errors.New("lifecycle: session not in progress")
	// ErrSubmissionFailed wraps the cause of a failed online submit.
	ErrSubmissionFailed = errors.New("lifecycle: submission failed")
)

const (
	msgInvalid   = "Invalid or missing session. Please return to the start page."
	msgSubmitted = "This assessment has already been submitted."
	msgExpired   = "Time is up. This assessment session has expired."
)

// Options configures a Controller.
type Options struct {
	SessionID string
	Key       scoring.Key
	// PushInterval is the periodic remote save cadence.
	PushInterval time.Duration
	// DebounceInterval is the local save quiet period.
	DebounceInterval time.Duration
	// RequestTimeout bounds each synchronous API call.
	RequestTimeout time.Duration
	Clock          clock.Clock
	Logger         zerolog.Logger
	Notifier       Notifier
}

// Controller runs the session state machine.
type Controller struct {
	id       string
	key      scoring.Key
	api      API
	model    *model.ResponseModel
	surface  capture.Surface
	capture  *capture.Capture
	local    *localstore.Store
	pusher   *progress.Pusher
	restorer *reconcile.Reconciler
	clock    clock.Clock
	notify   Notifier
	timeout  time.Duration
	log      zerolog.Logger

	mu          sync.Mutex
	state       model.SessionState
	remaining   int
	tabSwitches int
	countdown   *clock.Task
	generation  uint64
	result      *model.ScoreRecord
	pending     *model.SubmitRequest
	inflight    *model.SubmitRequest
	report      reconcile.Report

	submitting atomic.Bool
}

// New assembles a Controller over m and surface. kv backs the local cache.
func New(api API, m *model.ResponseModel, surface capture.Surface, kv localstore.KV, opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Notifier == nil {
		opts.Notifier = NopNotifier{}
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	log := opts.Logger.With().Str("component", "lifecycle").Str("session_id", opts.SessionID).Logger()

	c := &Controller{
		id:       opts.SessionID,
		key:      opts.Key,
		api:      api,
		model:    m,
		surface:  surface,
		capture:  capture.New(m, surface, opts.Logger),
		restorer: reconcile.New(m, surface, opts.Logger),
		clock:    opts.Clock,
		notify:   opts.Notifier,
		timeout:  opts.RequestTimeout,
		log:      log,
		state:    model.SessionNotStarted,
	}
	c.local = localstore.New(kv, opts.SessionID, m.Snapshot, localstore.Options{
		Clock:  opts.Clock,
		Quiet:  opts.DebounceInterval,
		Logger: opts.Logger,
	})
	c.pusher = progress.New(api, opts.SessionID, m.Snapshot, progress.Options{
		Interval: opts.PushInterval,
		Clock:    opts.Clock,
		Logger:   opts.Logger,
		OnStatus: opts.Notifier.Status,
		OnClosed: c.handleClosed,
	})
	return c
}

// Init loads the session, starts it if needed, restores progress and starts
// the countdown and periodic push. It returns ErrSessionInvalid or
// ErrAlreadyTerminal for sessions that cannot be taken.
func (c *Controller) Init(ctx context.Context) error {
	if c.id == "" {
		c.enterTerminal("", msgInvalid)
		return ErrSessionInvalid
	}

	view, err := c.getSession(ctx)
	if err != nil {
		return err
	}

	if view.State == model.SessionNotStarted {
		if err := c.call(ctx, func(ctx context.Context) error { return c.api.StartSession(ctx, c.id) }); err != nil {
			return fmt.Errorf("start session: %w", err)
		}
		if view, err = c.getSession(ctx); err != nil {
			return err
		}
		c.log.Info().Msg("Session started")
	}

	if view.State.Terminal() || view.IsExpired {
		state := view.State
		if !state.Terminal() {
			state = model.SessionExpired
		}
		msg := msgExpired
		if state == model.SessionSubmitted {
			msg = msgSubmitted
		}
		c.enterTerminal(state, msg)
		return fmt.Errorf("%w: %s", ErrAlreadyTerminal, state)
	}
	if view.State != model.SessionInProgress {
		return fmt.Errorf("unexpected session state %q", view.State)
	}

	c.mu.Lock()
	c.state = model.SessionInProgress
	c.remaining = view.RemainingSeconds
	c.mu.Unlock()

	c.capture.OnSuspicious(func(capture.Event) { c.RecordTabSwitch() })
	c.capture.Attach()

	rep, err := c.restore(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("Progress restore failed")
	}
	c.mu.Lock()
	c.report = rep
	c.mu.Unlock()

	c.model.OnChange(c.local.Touch)

	if view.RemainingSeconds <= 0 {
		c.log.Info().Msg("No time left at load, submitting")
		_, err := c.submit(ctx, "deadline")
		return err
	}
	return c.Resume()
}

func (c *Controller) getSession(ctx context.Context) (model.SessionView, error) {
	var view model.SessionView
	err := c.call(ctx, func(ctx context.Context) error {
		var err error
		view, err = c.api.GetSession(ctx, c.id)
		return err
	})
	if errors.Is(err, apiclient.ErrNotFound) || errors.Is(err, apiclient.ErrBadRequest) {
		c.enterTerminal("", msgInvalid)
		return view, fmt.Errorf("%w: %w", ErrSessionInvalid, err)
	}
	if err != nil {
		return view, fmt.Errorf("load session: %w", err)
	}
	return view, nil
}

func (c *Controller) restore(ctx context.Context) (reconcile.Report, error) {
	local, err := c.local.Load(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("Ignoring unreadable local progress")
		local = nil
	}
	var remote *model.Snapshot
	err = c.call(ctx, func(ctx context.Context) error {
		var err error
		remote, err = c.api.GetProgress(ctx, c.id)
		return err
	})
	if err != nil {
		c.log.Warn().Err(err).Msg("Remote progress unavailable, using local copy")
		remote = nil
	}
	return c.restorer.Restore(local, remote)
}

// Resume starts the countdown and periodic push. It is refused once the
// session is terminal.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.state.Terminal():
		return ErrTerminal
	case c.state != model.SessionInProgress:
		return ErrNotStarted
	case c.countdown != nil:
		return nil
	}
	gen := c.generation
	c.countdown = clock.Every(c.clock, time.Second, func() { c.tick(gen) })
	c.pusher.Start()
	return nil
}

func (c *Controller) tick(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.state != model.SessionInProgress {
		c.mu.Unlock()
		return
	}
	if c.remaining > 0 {
		c.remaining--
	}
	remaining := c.remaining
	c.mu.Unlock()

	c.notify.Tick(remaining)
	if remaining == 0 {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		if _, err := c.submit(ctx, "timer"); err != nil && !errors.Is(err, ErrTerminal) {
			c.log.Warn().Err(err).Msg("Automatic submission did not complete online")
		}
	}
}

// Submit finalizes the session. Only the first caller proceeds; later or
// concurrent callers get ErrTerminal. On a network failure the local
// fallback scores are returned together with ErrSubmissionFailed.
func (c *Controller) Submit(ctx context.Context) (model.ScoreRecord, error) {
	return c.submit(ctx, "manual")
}

func (c *Controller) submit(ctx context.Context, reason string) (model.ScoreRecord, error) {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state == model.SessionNotStarted {
		return model.ScoreRecord{}, ErrNotStarted
	}
	if !c.submitting.CompareAndSwap(false, true) {
		return model.ScoreRecord{}, ErrTerminal
	}

	c.mu.Lock()
	if c.state != model.SessionInProgress {
		c.mu.Unlock()
		return model.ScoreRecord{}, ErrTerminal
	}
	c.state = model.SessionSubmitted
	c.mu.Unlock()

	// Nothing typed after this point may reach the submission.
	c.freeze()
	if err := c.local.Flush(ctx); err != nil {
		c.log.Warn().Err(err).Msg("Final local save failed")
	}

	req := model.SubmitRequest{Responses: c.model.Responses(), TabSwitchCount: c.TabSwitches()}
	c.log.Info().Str("reason", reason).Int("answers", req.Len()).Msg("Submitting assessment")

	c.mu.Lock()
	c.inflight = &req
	c.mu.Unlock()
	var scores model.ScoreRecord
	err := c.call(ctx, func(ctx context.Context) error {
		var err error
		scores, err = c.api.Submit(ctx, c.id, req)
		return err
	})
	c.mu.Lock()
	c.inflight = nil
	c.mu.Unlock()

	switch {
	case err == nil:
		c.mu.Lock()
		c.result = &scores
		c.mu.Unlock()
		if err := c.local.Clear(ctx); err != nil {
			c.log.Warn().Err(err).Msg("Clearing local progress failed")
		}
		c.log.Info().Int("total", scores.Total).Msg("Assessment submitted")
		c.notify.Submitted(scores)
		return scores, nil

	case errors.Is(err, apiclient.ErrAlreadySubmitted):
		c.setTerminal(model.SessionSubmitted, msgSubmitted)
		return model.ScoreRecord{}, fmt.Errorf("%w: %w", ErrAlreadyTerminal, err)

	case errors.Is(err, apiclient.ErrSessionClosed):
		c.setTerminal(model.SessionExpired, msgExpired)
		return model.ScoreRecord{}, fmt.Errorf("%w: %w", ErrAlreadyTerminal, err)
	}

	fallback := scoring.Offline(req.Responses, c.key)
	c.mu.Lock()
	c.result = &fallback
	c.pending = &req
	c.mu.Unlock()
	c.log.Error().Err(err).Msg("Online submission failed, showing offline scores")
	c.notify.SubmissionFailed(err, fallback)
	return fallback, fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
}

// RetrySubmit resends a submission whose online attempt failed.
func (c *Controller) RetrySubmit(ctx context.Context) (model.ScoreRecord, error) {
	c.mu.Lock()
	req := c.pending
	c.mu.Unlock()
	if req == nil {
		return model.ScoreRecord{}, ErrTerminal
	}

	var scores model.ScoreRecord
	err := c.call(ctx, func(ctx context.Context) error {
		var err error
		scores, err = c.api.Submit(ctx, c.id, *req)
		return err
	})
	if err != nil && !errors.Is(err, apiclient.ErrAlreadySubmitted) {
		return model.ScoreRecord{}, fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
	}

	c.mu.Lock()
	c.pending = nil
	if err == nil {
		c.result = &scores
	}
	c.mu.Unlock()
	if err := c.local.Clear(ctx); err != nil {
		c.log.Warn().Err(err).Msg("Clearing local progress failed")
	}
	if err != nil {
		c.notify.Terminal(model.SessionSubmitted, msgSubmitted)
		return model.ScoreRecord{}, nil
	}
	c.notify.Submitted(scores)
	return scores, nil
}

// Unload is the page-hide path: it flushes the local copy and makes one
// best-effort send of either the pending or in-flight submission, or the
// latest snapshot. A duplicate submission is refused by the server.
func (c *Controller) Unload() {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	c.mu.Lock()
	state := c.state
	pending := c.pending
	if pending == nil {
		pending = c.inflight
	}
	c.mu.Unlock()

	if state == model.SessionInProgress {
		if err := c.local.Flush(ctx); err != nil {
			c.log.Warn().Err(err).Msg("Local save on unload failed")
		}
	}
	switch {
	case pending != nil:
		c.api.BeaconSubmit(c.id, *pending)
	case state == model.SessionInProgress:
		c.api.BeaconProgress(c.id, c.model.Snapshot(c.clock.Now()))
	}
}

// RecordTabSwitch counts one suspicious window event and reports the new
// total without waiting for the server.
func (c *Controller) RecordTabSwitch() {
	c.mu.Lock()
	if c.state != model.SessionInProgress {
		c.mu.Unlock()
		return
	}
	c.tabSwitches++
	count := c.tabSwitches
	c.mu.Unlock()

	c.log.Info().Int("count", count).Msg("Tab switch detected")
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		if err := c.api.UpdateTabSwitches(ctx, c.id, count); err != nil {
			c.log.Debug().Err(err).Msg("Tab switch count not delivered")
		}
	}()
}

func (c *Controller) handleClosed() {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	state := model.SessionExpired
	if view, err := c.api.GetSession(ctx, c.id); err != nil {
		c.log.Warn().Err(err).Msg("Session re-read failed after closed save")
	} else if view.State == model.SessionSubmitted {
		state = model.SessionSubmitted
	}
	msg := msgExpired
	if state == model.SessionSubmitted {
		msg = msgSubmitted
	}
	c.enterTerminal(state, msg)
}

// enterTerminal moves a live or not-yet-started session into a terminal
// state. It does nothing once a submission has begun.
func (c *Controller) enterTerminal(state model.SessionState, msg string) {
	if !c.submitting.CompareAndSwap(false, true) {
		return
	}
	c.setTerminal(state, msg)
}

func (c *Controller) setTerminal(state model.SessionState, msg string) {
	c.mu.Lock()
	if state != "" {
		c.state = state
	}
	c.mu.Unlock()
	c.freeze()
	c.log.Info().Str("state", string(state)).Msg("Session is terminal")
	c.notify.Terminal(state, msg)
}

// freeze stops input and cancels every scheduled task.
func (c *Controller) freeze() {
	c.mu.Lock()
	c.generation++
	task := c.countdown
	c.countdown = nil
	c.mu.Unlock()

	c.model.Freeze()
	c.capture.Disable()
	if task != nil {
		task.Stop()
	}
	c.pusher.Stop()
	c.local.Cancel()
}

func (c *Controller) call(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return fn(ctx)
}

// Close detaches capture and cancels tasks without changing state.
func (c *Controller) Close() {
	c.mu.Lock()
	c.generation++
	task := c.countdown
	c.countdown = nil
	c.mu.Unlock()
	if task != nil {
		task.Stop()
	}
	c.pusher.Stop()
	c.local.Cancel()
	c.capture.Detach()
}

// State returns the current lifecycle state.
func (c *Controller) State() model.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Remaining returns the countdown's seconds left.
func (c *Controller) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// TabSwitches returns the suspicious-event counter.
func (c *Controller) TabSwitches() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tabSwitches
}

// Result returns the scores of the submission, or nil before one exists.
// Offline scores are marked with Offline.
func (c *Controller) Result() *model.ScoreRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil {
		return nil
	}
	r := *c.result
	return &r
}

// PendingSubmission reports whether a failed submission awaits delivery.
func (c *Controller) PendingSubmission() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

// RestoreReport returns what Init restored.
func (c *Controller) RestoreReport() reconcile.Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.report
}

// Snapshot returns the current answers stamped with the clock's time.
func (c *Controller) Snapshot() model.Snapshot {
	return c.model.Snapshot(c.clock.Now())
}

// PushNow forces an immediate remote save.
func (c *Controller) PushNow(ctx context.Context) error {
	if c.State() != model.SessionInProgress {
		return ErrTerminal
	}
	return c.pusher.PushNow(ctx)
}
