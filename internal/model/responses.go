package model

import (
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"
)

var (
	// ErrUnknownKey is returned when a write targets an id outside the assessment content.
	ErrUnknownKey = errors.New("model: key outside response universe")
	// ErrFrozen is returned for any write after the model was frozen by submission.
	ErrFrozen = errors.New("model: responses are frozen")
)

// ResponseKind identifies one of the answer sections.
type ResponseKind string

const (
	KindMCQ     ResponseKind = "mcq"
	KindCode    ResponseKind = "code"
	KindSQL     ResponseKind = "sql"
	KindScratch ResponseKind = "scratch"
)

// Responses holds a candidate's answers keyed by question id. A missing entry
// means the question is unanswered.
type Responses struct {
	MCQ     map[int]int    `json:"mcq" cbor:"1,keyasint"`
	Code    map[int]string `json:"python" cbor:"2,keyasint"`
	SQL     map[int]string `json:"sql" cbor:"3,keyasint"`
	Scratch map[int]string `json:"scratch,omitempty" cbor:"4,keyasint,omitempty"`
}

// NewResponses returns an empty, non-nil Responses.
func NewResponses() Responses {
	return Responses{
		MCQ:     map[int]int{},
		Code:    map[int]string{},
		SQL:     map[int]string{},
		Scratch: map[int]string{},
	}
}

// Clone deep-copies r. Nil maps become empty maps.
func (r Responses) Clone() Responses {
	out := NewResponses()
	maps.Copy(out.MCQ, r.MCQ)
	maps.Copy(out.Code, r.Code)
	maps.Copy(out.SQL, r.SQL)
	maps.Copy(out.Scratch, r.Scratch)
	return out
}

// Len returns the number of answered entries across all sections.
func (r Responses) Len() int {
	return len(r.MCQ) + len(r.Code) + len(r.SQL) + len(r.Scratch)
}

// Snapshot is a timestamped copy of Responses. Two snapshots are compared only
// by SavedAt; their fields are never merged.
type Snapshot struct {
	Responses
	SavedAt time.Time `json:"saved_at" cbor:"5,keyasint"`
}

// Universe is the fixed set of addressable ids defined by the assessment content.
type Universe struct {
	// MCQ maps question id to its option count.
	MCQ  map[int]int
	Code map[int]struct{}
	SQL  map[int]struct{}
}

// HasMCQ reports whether option idx of question qid exists.
func (u Universe) HasMCQ(qid, idx int) bool {
	n, ok := u.MCQ[qid]
	return ok && idx >= 0 && idx < n
}

// HasCode reports whether problem id exists.
func (u Universe) HasCode(id int) bool {
	_, ok := u.Code[id]
	return ok
}

// HasSQL reports whether SQL question id exists.
func (u Universe) HasSQL(id int) bool {
	_, ok := u.SQL[id]
	return ok
}

// Filter returns the entries of r that belong to u and how many were dropped.
func (u Universe) Filter(r Responses) (Responses, int) {
	out := NewResponses()
	dropped := 0
	for q, idx := range r.MCQ {
		if u.HasMCQ(q, idx) {
			out.MCQ[q] = idx
		} else {
			dropped++
		}
	}
	for id, src := range r.Code {
		if u.HasCode(id) {
			out.Code[id] = src
		} else {
			dropped++
		}
	}
	for id, ans := range r.SQL {
		if u.HasSQL(id) {
			out.SQL[id] = ans
		} else {
			dropped++
		}
	}
	for id, q := range r.Scratch {
		if u.HasSQL(id) {
			out.Scratch[id] = q
		} else {
			dropped++
		}
	}
	return out, dropped
}

// ResponseModel is the single in-memory source of truth for the candidate's
// answers. It is safe for concurrent use.
type ResponseModel struct {
	mu       sync.RWMutex
	universe Universe
	data     Responses
	frozen   bool
	onChange []func()
}

// NewResponseModel creates an empty model bounded by u.
func NewResponseModel(u Universe) *ResponseModel {
	return &ResponseModel{
		universe: u,
		data:     NewResponses(),
	}
}

// OnChange registers fn to run after every effective mutation. Callbacks run
// outside the model lock.
func (m *ResponseModel) OnChange(fn func()) {
	m.mu.Lock()
	m.onChange = append(m.onChange, fn)
	m.mu.Unlock()
}

// SetMCQ records option idx for question qid.
func (m *ResponseModel) SetMCQ(qid, idx int) (bool, error) {
	if !m.universe.HasMCQ(qid, idx) {
		return false, fmt.Errorf("mcq %d option %d: %w", qid, idx, ErrUnknownKey)
	}
	return m.mutate(func(r *Responses) bool {
		if cur, ok := r.MCQ[qid]; ok && cur == idx {
			return false
		}
		r.MCQ[qid] = idx
		return true
	})
}

// SetCode records the source for problem id. Empty source clears the entry.
func (m *ResponseModel) SetCode(id int, src string) (bool, error) {
	if !m.universe.HasCode(id) {
		return false, fmt.Errorf("code %d: %w", id, ErrUnknownKey)
	}
	return m.mutate(func(r *Responses) bool { return setText(r.Code, id, src) })
}

// SetSQL records the answer for SQL question id. Empty answer clears the entry.
func (m *ResponseModel) SetSQL(id int, ans string) (bool, error) {
	if !m.universe.HasSQL(id) {
		return false, fmt.Errorf("sql %d: %w", id, ErrUnknownKey)
	}
	return m.mutate(func(r *Responses) bool { return setText(r.SQL, id, ans) })
}

// SetScratch records the scratch query for SQL question id.
func (m *ResponseModel) SetScratch(id int, query string) (bool, error) {
	if !m.universe.HasSQL(id) {
		return false, fmt.Errorf("scratch %d: %w", id, ErrUnknownKey)
	}
	return m.mutate(func(r *Responses) bool { return setText(r.Scratch, id, query) })
}

func setText(dst map[int]string, id int, v string) bool {
	cur, ok := dst[id]
	if v == "" {
		if !ok {
			return false
		}
		delete(dst, id)
		return true
	}
	if ok && cur == v {
		return false
	}
	dst[id] = v
	return true
}

func (m *ResponseModel) mutate(apply func(r *Responses) bool) (bool, error) {
	m.mu.Lock()
	if m.frozen {
		m.mu.Unlock()
		return false, ErrFrozen
	}
	changed := apply(&m.data)
	var hooks []func()
	if changed {
		hooks = append(hooks, m.onChange...)
	}
	m.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
	return changed, nil
}

// Replace swaps the whole model for r, keeping only in-universe entries. It
// does not fire change callbacks. Returns the number of dropped entries.
func (m *ResponseModel) Replace(r Responses) (int, error) {
	filtered, dropped := m.universe.Filter(r)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frozen {
		return 0, ErrFrozen
	}
	m.data = filtered
	return dropped, nil
}

// Responses returns a deep copy of the current answers.
func (m *ResponseModel) Responses() Responses {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.Clone()
}

// Snapshot returns a deep copy stamped with at.
func (m *ResponseModel) Snapshot(at time.Time) Snapshot {
	return Snapshot{Responses: m.Responses(), SavedAt: at}
}

// Freeze rejects every later write.
func (m *ResponseModel) Freeze() {
	m.mu.Lock()
	m.frozen = true
	m.mu.Unlock()
}

// Frozen reports whether Freeze was called.
func (m *ResponseModel) Frozen() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.frozen
}

// Universe returns the id universe the model is bounded by.
func (m *ResponseModel) Universe() Universe {
	return m.universe
}
