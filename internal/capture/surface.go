// Package capture keeps the response model in step with what the candidate
// types or selects. It listens both on each answer element and on the
// document root, funnelling every event into one mutation path.
package capture

// EventKind names a user-interface event.
type EventKind string

const (
	EventInput  EventKind = "input"
	EventChange EventKind = "change"
	// EventBlur fires when the window loses focus.
	EventBlur EventKind = "blur"
	// EventHidden fires when the page becomes hidden.
	EventHidden EventKind = "visibility:hidden"
)

// Event is a user-interface event. TargetID is empty for window events.
type Event struct {
	Kind     EventKind `json:"kind"`
	TargetID string    `json:"target"`
	Value    string    `json:"value,omitempty"`
	Checked  bool      `json:"checked,omitempty"`
}

// Element is an addressable input on the surface.
type Element interface {
	ID() string
	Value() string
	Checked() bool
	// SetValue and SetChecked update the element without dispatching events.
	SetValue(v string)
	SetChecked(c bool)
}

// Listener receives dispatched events.
type Listener func(Event)

// Surface is the document the capture layer observes.
type Surface interface {
	Element(id string) (Element, bool)
	ElementIDs() []string
	// On registers a listener for events targeting id. The returned func
	// removes it.
	On(id string, fn Listener) func()
	// OnRoot registers a delegated listener that sees every event.
	OnRoot(fn Listener) func()
}
