// Package reconcile chooses between the local and remote snapshot at
// startup and restores the winner into the model and the surface.
package reconcile

import (
	"github.com/rs/zerolog"

	"github.com/stemsi/techassess/internal/capture"
	"github.com/stemsi/techassess/internal/model"
)

// Source names the snapshot that won reconciliation.
type Source string

const (
	SourceNone   Source = "none"
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
)

// Pick returns the snapshot with the later SavedAt. The whole snapshot wins;
// fields are never merged. Equal timestamps favour remote.
func Pick(local, remote *model.Snapshot) (*model.Snapshot, Source) {
	switch {
	case local == nil && remote == nil:
		return nil, SourceNone
	case local == nil:
		return remote, SourceRemote
	case remote == nil:
		return local, SourceLocal
	case local.SavedAt.After(remote.SavedAt):
		return local, SourceLocal
	default:
		return remote, SourceRemote
	}
}

// Counts tallies restored and skipped entries of one kind.
type Counts struct {
	Restored int
	Skipped  int
}

// Report summarises a Hydrate call.
type Report struct {
	Source  Source
	Dropped int
	Kinds   map[model.ResponseKind]Counts
}

// Skipped returns the total of entries whose element was missing.
func (r Report) Skipped() int {
	n := 0
	for _, c := range r.Kinds {
		n += c.Skipped
	}
	return n
}

// Restored returns the total of entries written to the surface.
func (r Report) Restored() int {
	n := 0
	for _, c := range r.Kinds {
		n += c.Restored
	}
	return n
}

// Reconciler restores snapshots into a model and its surface.
type Reconciler struct {
	model   *model.ResponseModel
	surface capture.Surface
	log     zerolog.Logger
}

// New returns a Reconciler.
func New(m *model.ResponseModel, s capture.Surface, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		model:   m,
		surface: s,
		log:     log.With().Str("component", "reconcile").Logger(),
	}
}

// Restore picks between local and remote and hydrates the winner.
func (r *Reconciler) Restore(local, remote *model.Snapshot) (Report, error) {
	snap, src := Pick(local, remote)
	rep, err := r.Hydrate(snap)
	rep.Source = src
	if err != nil {
		return rep, err
	}
	ev := r.log.Info().Str("source", string(src)).Int("restored", rep.Restored())
	if snap != nil {
		ev = ev.Time("saved_at", snap.SavedAt)
	}
	ev.Msg("Progress restored")
	return rep, nil
}

// Hydrate replaces the model with snap and writes every entry to its
// element. Missing elements are skipped and counted. A nil snap leaves the
// model empty.
func (r *Reconciler) Hydrate(snap *model.Snapshot) (Report, error) {
	rep := Report{Source: SourceNone, Kinds: map[model.ResponseKind]Counts{}}
	if snap == nil {
		return rep, nil
	}

	dropped, err := r.model.Replace(snap.Responses)
	if err != nil {
		return rep, err
	}
	rep.Dropped = dropped
	if dropped > 0 {
		r.log.Warn().Int("dropped", dropped).Msg("Snapshot held answers outside this assessment")
	}

	restored := r.model.Responses()
	for qid, idx := range restored.MCQ {
		r.write(&rep, model.KindMCQ, capture.MCQOptionID(qid, idx), func(el capture.Element) {
			el.SetChecked(true)
		})
	}
	for id, src := range restored.Code {
		r.write(&rep, model.KindCode, capture.CodeEditorID(id), func(el capture.Element) { el.SetValue(src) })
	}
	for id, ans := range restored.SQL {
		r.write(&rep, model.KindSQL, capture.SQLAnswerID(id), func(el capture.Element) { el.SetValue(ans) })
	}
	for id, q := range restored.Scratch {
		r.write(&rep, model.KindScratch, capture.SQLQueryID(id), func(el capture.Element) { el.SetValue(q) })
	}
	return rep, nil
}

func (r *Reconciler) write(rep *Report, kind model.ResponseKind, id string, set func(capture.Element)) {
	c := rep.Kinds[kind]
	el, ok := r.surface.Element(id)
	if !ok {
		c.Skipped++
		rep.Kinds[kind] = c
		r.log.Warn().Str("element", id).Msg("Restore target missing")
		return
	}
	set(el)
	c.Restored++
	rep.Kinds[kind] = c
}
