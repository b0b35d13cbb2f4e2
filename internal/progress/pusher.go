// Package progress pushes periodic snapshots of the response model to the
// server while a session is in progress.
package progress

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/techassess/internal/apiclient"
	"github.com/stemsi/techassess/internal/clock"
	"github.com/stemsi/techassess/internal/model"
)

// DefaultInterval is the periodic push cadence.
const DefaultInterval = 10 * time.Second

// ErrInFlight is returned by PushNow when another push has not finished.
var ErrInFlight = errors.New("progress: push already in flight")

// Saver is the remote side of a push.
type Saver interface {
	SaveProgress(ctx context.Context, sessionID string, snap model.Snapshot) (time.Time, error)
}

// Status is reported after every push attempt.
type Status struct {
	OK      bool
	SavedAt time.Time
	Err     error
}

// Options configures a Pusher.
type Options struct {
	Interval time.Duration
	// Timeout bounds one push; defaults to Interval.
	Timeout  time.Duration
	Clock    clock.Clock
	Logger   zerolog.Logger
	OnStatus func(Status)
	// OnClosed runs when the server rejects a push because the session is
	// no longer in progress.
	OnClosed func()
}

// Pusher sends snapshots on a fixed cadence. A failed push is logged and
// reported, then retried on the next tick.
type Pusher struct {
	api       Saver
	sessionID string
	source    func(time.Time) model.Snapshot
	opts      Options
	log       zerolog.Logger

	mu       sync.Mutex
	task     *clock.Task
	inFlight atomic.Bool
	pushes   atomic.Int64
}

// New returns a stopped Pusher.
func New(api Saver, sessionID string, source func(time.Time) model.Snapshot, opts Options) *Pusher {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = opts.Interval
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &Pusher{
		api:       api,
		sessionID: sessionID,
		source:    source,
		opts:      opts,
		log:       opts.Logger.With().Str("component", "progress").Str("session_id", sessionID).Logger(),
	}
}

// Start begins periodic pushes. Calling Start on a running Pusher is a no-op.
func (p *Pusher) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.task != nil && !p.task.Stopped() {
		return
	}
	p.task = clock.Every(p.opts.Clock, p.opts.Interval, p.tick)
}

// Stop cancels future pushes.
func (p *Pusher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.task != nil {
		p.task.Stop()
	}
}

// Running reports whether periodic pushes are scheduled.
func (p *Pusher) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.task != nil && !p.task.Stopped()
}

// Pushes returns the number of completed push attempts.
func (p *Pusher) Pushes() int64 {
	return p.pushes.Load()
}

func (p *Pusher) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), p.opts.Timeout)
	defer cancel()
	if err := p.PushNow(ctx); errors.Is(err, ErrInFlight) {
		p.log.Debug().Msg("Skipping push, previous one still in flight")
	}
}

// PushNow sends the current snapshot unless a push is already running.
func (p *Pusher) PushNow(ctx context.Context) error {
	if !p.inFlight.CompareAndSwap(false, true) {
		return ErrInFlight
	}
	defer p.inFlight.Store(false)

	snap := p.source(p.opts.Clock.Now())
	savedAt, err := p.api.SaveProgress(ctx, p.sessionID, snap)
	p.pushes.Add(1)

	if err != nil {
		p.log.Warn().Err(err).Msg("Progress push failed")
		p.report(Status{Err: err})
		if errors.Is(err, apiclient.ErrSessionClosed) {
			p.Stop()
			if p.opts.OnClosed != nil {
				p.opts.OnClosed()
			}
		}
		return err
	}

	p.log.Debug().Time("saved_at", savedAt).Int("answers", snap.Len()).Msg("Progress pushed")
	p.report(Status{OK: true, SavedAt: savedAt})
	return nil
}

func (p *Pusher) report(s Status) {
	if p.opts.OnStatus != nil {
		p.opts.OnStatus(s)
	}
}
