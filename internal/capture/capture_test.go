package capture

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/techassess/internal/model"
)

func testUniverse() model.Universe {
	return model.Universe{
		MCQ:  map[int]int{1: 4, 2: 4},
		Code: map[int]struct{}{1: {}, 2: {}},
		SQL:  map[int]struct{}{1: {}, 3: {}},
	}
}

func newAttached(t *testing.T) (*Document, *model.ResponseModel, *Capture) {
	t.Helper()
	u := testUniverse()
	doc := Build(u)
	m := model.NewResponseModel(u)
	c := New(m, doc, zerolog.Nop())
	c.Attach()
	return doc, m, c
}

func TestParseID(t *testing.T) {
	tests := []struct {
		id   string
		want Target
		ok   bool
	}{
		{"q3_opt2", Target{Kind: model.KindMCQ, ID: 3, Option: 2}, true},
		{"python-code-2", Target{Kind: model.KindCode, ID: 2}, true},
		{"sql-answer-5", Target{Kind: model.KindSQL, ID: 5}, true},
		{"sql-query-1", Target{Kind: model.KindScratch, ID: 1}, true},
		{"sql-result-1", Target{}, false},
		{"q3_optx", Target{}, false},
		{"", Target{}, false},
	}
	for _, tt := range tests {
		got, ok := ParseID(tt.id)
		require.Equal(t, tt.ok, ok, tt.id)
		require.Equal(t, tt.want, got, tt.id)
	}
}

func TestDirectAndDelegatedDeliveryAppliesOnce(t *testing.T) {
	doc, m, _ := newAttached(t)
	changes := 0
	m.OnChange(func() { changes++ })

	doc.Input(CodeEditorID(1), "def twoSum(nums, target): pass")
	doc.Check(MCQOptionID(2, 3))

	require.Equal(t, 2, changes)
	got := m.Responses()
	require.Equal(t, "def twoSum(nums, target): pass", got.Code[1])
	require.Equal(t, 3, got.MCQ[2])
}

func TestReplayingEventIsIdempotent(t *testing.T) {
	doc, m, c := newAttached(t)
	ev := Event{Kind: EventInput, TargetID: SQLAnswerID(1), Value: "23:45"}

	doc.Dispatch(ev)
	before := m.Responses()
	changed, err := c.Apply(ev)
	require.NoError(t, err)
	require.False(t, changed)
	doc.Dispatch(ev)
	require.Equal(t, before, m.Responses())
}

func TestDelegatedCoversLateElements(t *testing.T) {
	doc := NewDocument()
	m := model.NewResponseModel(testUniverse())
	c := New(m, doc, zerolog.Nop())
	c.Attach()

	doc.Add(SQLQueryID(3))
	doc.Input(SQLQueryID(3), "SELECT * FROM access_logs")

	require.Equal(t, "SELECT * FROM access_logs", m.Responses().Scratch[3])
}

func TestMCQUncheckIgnored(t *testing.T) {
	_, m, c := newAttached(t)

	_, err := c.Apply(Event{Kind: EventChange, TargetID: MCQOptionID(1, 1), Checked: true})
	require.NoError(t, err)
	_, err = c.Apply(Event{Kind: EventChange, TargetID: MCQOptionID(1, 2), Checked: false})
	require.NoError(t, err)
	require.Equal(t, 1, m.Responses().MCQ[1])
}

func TestUnknownKeyRejected(t *testing.T) {
	_, m, c := newAttached(t)
	_, err := c.Apply(Event{Kind: EventInput, TargetID: SQLAnswerID(2), Value: "x"})
	require.ErrorIs(t, err, model.ErrUnknownKey)
	require.Zero(t, m.Responses().Len())
}

func TestSuspiciousEvents(t *testing.T) {
	doc, m, c := newAttached(t)
	var seen []EventKind
	c.OnSuspicious(func(ev Event) { seen = append(seen, ev.Kind) })

	doc.Blur()
	doc.Hide()
	require.Equal(t, []EventKind{EventBlur, EventHidden}, seen)
	require.Zero(t, m.Responses().Len())

	c.Disable()
	doc.Blur()
	require.Len(t, seen, 2)
}

func TestDisableStopsWrites(t *testing.T) {
	doc, m, c := newAttached(t)
	doc.Input(SQLAnswerID(1), "before")
	c.Disable()
	doc.Input(SQLAnswerID(1), "after")

	require.Equal(t, "before", m.Responses().SQL[1])
	_, err := c.Apply(Event{Kind: EventInput, TargetID: SQLAnswerID(1), Value: "x"})
	require.ErrorIs(t, err, ErrDisabled)
}

func TestDetachRemovesListeners(t *testing.T) {
	doc, m, c := newAttached(t)
	c.Detach()
	doc.Input(CodeEditorID(2), "print(1)")
	require.Zero(t, m.Responses().Len())
}

func TestProgrammaticSetDoesNotDispatch(t *testing.T) {
	doc, m, _ := newAttached(t)
	el, ok := doc.Element(MCQOptionID(1, 0))
	require.True(t, ok)
	el.SetChecked(true)
	require.True(t, el.Checked())
	require.Zero(t, m.Responses().Len())

	other, _ := doc.Element(MCQOptionID(1, 2))
	other.SetChecked(true)
	require.False(t, el.Checked())
}
