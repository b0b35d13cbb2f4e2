package capture

import (
	"slices"
	"sync"

	"github.com/stemsi/techassess/internal/model"
)

// Document is an in-memory Surface. Programmatic SetValue and SetChecked do
// not dispatch events; Dispatch and the Input/Check/Blur/Hide helpers do.
type Document struct {
	mu       sync.Mutex
	elements map[string]*node
	order    []string
	direct   map[string]map[int]Listener
	root     map[int]Listener
	next     int
}

type node struct {
	doc     *Document
	id      string
	group   string
	value   string
	checked bool
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{
		elements: map[string]*node{},
		direct:   map[string]map[int]Listener{},
		root:     map[int]Listener{},
	}
}

// Add inserts a text element.
func (d *Document) Add(id string) Element {
	return d.add(id, "")
}

// AddRadio inserts a radio element belonging to group.
func (d *Document) AddRadio(id, group string) Element {
	return d.add(id, group)
}

func (d *Document) add(id, group string) Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n, ok := d.elements[id]; ok {
		return n
	}
	n := &node{doc: d, id: id, group: group}
	d.elements[id] = n
	d.order = append(d.order, id)
	return n
}

// Remove deletes an element and its direct listeners.
func (d *Document) Remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.elements, id)
	delete(d.direct, id)
	d.order = slices.DeleteFunc(d.order, func(s string) bool { return s == id })
}

func (d *Document) Element(id string) (Element, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.elements[id]
	if !ok {
		return nil, false
	}
	return n, true
}

func (d *Document) ElementIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.order)
}

func (d *Document) On(id string, fn Listener) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	key := d.next
	if d.direct[id] == nil {
		d.direct[id] = map[int]Listener{}
	}
	d.direct[id][key] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.direct[id], key)
	}
}

func (d *Document) OnRoot(fn Listener) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	key := d.next
	d.root[key] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.root, key)
	}
}

// Dispatch updates the target's state the way a user action would, then
// delivers ev to the target's listeners followed by the root listeners.
func (d *Document) Dispatch(ev Event) {
	d.mu.Lock()
	if n, ok := d.elements[ev.TargetID]; ok && (ev.Kind == EventInput || ev.Kind == EventChange) {
		if n.group != "" {
			if ev.Checked {
				d.uncheckGroupLocked(n.group)
			}
			n.checked = ev.Checked
		} else {
			n.value = ev.Value
		}
	}
	listeners := sortedListeners(d.direct[ev.TargetID])
	listeners = append(listeners, sortedListeners(d.root)...)
	d.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

// Input types v into the element id.
func (d *Document) Input(id, v string) {
	d.Dispatch(Event{Kind: EventInput, TargetID: id, Value: v})
}

// Check selects the radio id.
func (d *Document) Check(id string) {
	d.Dispatch(Event{Kind: EventChange, TargetID: id, Checked: true})
}

// Blur simulates the window losing focus.
func (d *Document) Blur() {
	d.Dispatch(Event{Kind: EventBlur})
}

// Hide simulates the page becoming hidden.
func (d *Document) Hide() {
	d.Dispatch(Event{Kind: EventHidden})
}

func (d *Document) uncheckGroupLocked(group string) {
	for _, n := range d.elements {
		if n.group == group {
			n.checked = false
		}
	}
}

func sortedListeners(m map[int]Listener) []Listener {
	out := make([]Listener, 0, len(m))
	for _, k := range sortedKeys(m) {
		out = append(out, m[k])
	}
	return out
}

func (n *node) ID() string { return n.id }

func (n *node) Value() string {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	return n.value
}

func (n *node) Checked() bool {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	return n.checked
}

func (n *node) SetValue(v string) {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	n.value = v
}

func (n *node) SetChecked(c bool) {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	if c && n.group != "" {
		n.doc.uncheckGroupLocked(n.group)
	}
	n.checked = c
}

// Build returns a document holding one element per addressable slot of u.
func Build(u model.Universe) *Document {
	d := NewDocument()
	for _, q := range sortedKeys(u.MCQ) {
		for opt := range u.MCQ[q] {
			d.AddRadio(MCQOptionID(q, opt), MCQGroup(q))
		}
	}
	for _, p := range sortedKeys(u.Code) {
		d.Add(CodeEditorID(p))
	}
	for _, q := range sortedKeys(u.SQL) {
		d.Add(SQLAnswerID(q))
		d.Add(SQLQueryID(q))
	}
	return d
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
