package capture

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/stemsi/techassess/internal/model"
)

// ErrDisabled is returned by Apply once capture has been disabled.
var ErrDisabled = errors.New("capture: disabled")

// Capture routes surface events into a response model.
type Capture struct {
	model   *model.ResponseModel
	surface Surface
	log     zerolog.Logger

	mu           sync.Mutex
	offs         []func()
	attached     bool
	onSuspicious func(Event)

	disabled atomic.Bool
}

// New creates a Capture writing into m from events on s.
func New(m *model.ResponseModel, s Surface, log zerolog.Logger) *Capture {
	return &Capture{
		model:   m,
		surface: s,
		log:     log.With().Str("component", "capture").Logger(),
	}
}

// OnSuspicious sets the callback for window blur and hidden events.
func (c *Capture) OnSuspicious(fn func(Event)) {
	c.mu.Lock()
	c.onSuspicious = fn
	c.mu.Unlock()
}

// Attach installs a direct listener on every answer element present now and
// one delegated root listener that also covers elements added later. Calling
// it again is a no-op.
func (c *Capture) Attach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attached {
		return
	}
	c.attached = true

	direct := 0
	for _, id := range c.surface.ElementIDs() {
		if _, ok := ParseID(id); !ok {
			continue
		}
		c.offs = append(c.offs, c.surface.On(id, c.handleDirect))
		direct++
	}
	c.offs = append(c.offs, c.surface.OnRoot(c.handleRoot))

	c.log.Debug().Int("direct_listeners", direct).Msg("Capture attached")
}

// Detach removes every listener installed by Attach.
func (c *Capture) Detach() {
	c.mu.Lock()
	offs := c.offs
	c.offs = nil
	c.attached = false
	c.mu.Unlock()

	for _, off := range offs {
		off()
	}
}

// Disable rejects every later event. The listeners stay installed so late
// events are observed and dropped.
func (c *Capture) Disable() {
	c.disabled.Store(true)
}

// Disabled reports whether Disable was called.
func (c *Capture) Disabled() bool {
	return c.disabled.Load()
}

func (c *Capture) handleDirect(ev Event) {
	c.apply(ev, "direct")
}

func (c *Capture) handleRoot(ev Event) {
	switch ev.Kind {
	case EventBlur, EventHidden:
		c.suspicious(ev)
		return
	}
	c.apply(ev, "delegated")
}

func (c *Capture) apply(ev Event, via string) {
	if _, err := c.Apply(ev); err != nil && !errors.Is(err, ErrDisabled) {
		c.log.Warn().Err(err).Str("target", ev.TargetID).Str("via", via).Msg("Dropped answer event")
	}
}

func (c *Capture) suspicious(ev Event) {
	if c.disabled.Load() {
		return
	}
	c.mu.Lock()
	fn := c.onSuspicious
	c.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// Apply is the single mutation path from an event into the model. Events
// for unrelated elements are ignored. Replaying an event is a no-op.
func (c *Capture) Apply(ev Event) (bool, error) {
	if c.disabled.Load() {
		return false, ErrDisabled
	}
	if ev.Kind != EventInput && ev.Kind != EventChange {
		return false, nil
	}
	t, ok := ParseID(ev.TargetID)
	if !ok {
		return false, nil
	}

	var (
		changed bool
		err     error
	)
	switch t.Kind {
	case model.KindMCQ:
		if !ev.Checked {
			return false, nil
		}
		changed, err = c.model.SetMCQ(t.ID, t.Option)
	case model.KindCode:
		changed, err = c.model.SetCode(t.ID, ev.Value)
	case model.KindSQL:
		changed, err = c.model.SetSQL(t.ID, ev.Value)
	case model.KindScratch:
		changed, err = c.model.SetScratch(t.ID, ev.Value)
	}
	if errors.Is(err, model.ErrFrozen) {
		return false, ErrDisabled
	}
	return changed, err
}
