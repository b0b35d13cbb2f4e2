package reconcile

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/techassess/internal/capture"
	"github.com/stemsi/techassess/internal/model"
)

var epoch = time.Date(2026, 7, 7, 7, 0, 0, 0, time.UTC)

func snapAt(at time.Time, sql string) *model.Snapshot {
	r := model.NewResponses()
	r.SQL[1] = sql
	return &model.Snapshot{Responses: r, SavedAt: at}
}

func TestPick(t *testing.T) {
	older := snapAt(epoch, "old")
	newer := snapAt(epoch.Add(time.Second), "new")
	tie := snapAt(epoch, "tie")

	tests := []struct {
		name   string
		local  *model.Snapshot
		remote *model.Snapshot
		want   *model.Snapshot
		src    Source
	}{
		{"both missing", nil, nil, nil, SourceNone},
		{"only local", older, nil, older, SourceLocal},
		{"only remote", nil, older, older, SourceRemote},
		{"local newer", newer, older, newer, SourceLocal},
		{"remote newer", older, newer, newer, SourceRemote},
		{"tie favours remote", older, tie, tie, SourceRemote},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, src := Pick(tt.local, tt.remote)
			require.Same(t, tt.want, got)
			require.Equal(t, tt.src, src)
		})
	}
}

func TestRestoreNeverBlends(t *testing.T) {
	u := model.Universe{
		MCQ: map[int]int{1: 4, 2: 4},
		SQL: map[int]struct{}{1: {}},
	}
	local := model.NewResponses()
	local.MCQ[1] = 0
	local.MCQ[2] = 1
	remote := model.NewResponses()
	remote.MCQ[1] = 3
	remote.SQL[1] = "Yes"

	m := model.NewResponseModel(u)
	r := New(m, capture.Build(u), zerolog.Nop())
	rep, err := r.Restore(
		&model.Snapshot{Responses: local, SavedAt: epoch},
		&model.Snapshot{Responses: remote, SavedAt: epoch.Add(time.Minute)},
	)
	require.NoError(t, err)
	require.Equal(t, SourceRemote, rep.Source)

	got := m.Responses()
	require.Equal(t, map[int]int{1: 3}, got.MCQ)
	require.Equal(t, map[int]string{1: "Yes"}, got.SQL)
}

func TestHydrateWritesSurfaceWithoutEvents(t *testing.T) {
	u := model.Universe{
		MCQ:  map[int]int{1: 4},
		Code: map[int]struct{}{1: {}, 2: {}},
		SQL:  map[int]struct{}{1: {}},
	}
	doc := capture.Build(u)
	doc.Remove(capture.CodeEditorID(2))
	m := model.NewResponseModel(u)
	changes := 0
	m.OnChange(func() { changes++ })
	c := capture.New(m, doc, zerolog.Nop())
	c.Attach()

	in := model.NewResponses()
	in.MCQ[1] = 2
	in.Code[1] = "def twoSum(nums, target):\n    return [0, 1]"
	in.Code[2] = "def isPalindrome(s): return True"
	in.SQL[1] = "23:45"
	in.Scratch[1] = "SELECT * FROM logs"
	in.MCQ[99] = 1

	rep, err := New(m, doc, zerolog.Nop()).Hydrate(&model.Snapshot{Responses: in, SavedAt: epoch})
	require.NoError(t, err)
	require.Zero(t, changes)
	require.Equal(t, 1, rep.Dropped)
	require.Equal(t, Counts{Restored: 1, Skipped: 1}, rep.Kinds[model.KindCode])
	require.Equal(t, 4, rep.Restored())
	require.Equal(t, 1, rep.Skipped())

	el, _ := doc.Element(capture.MCQOptionID(1, 2))
	require.True(t, el.Checked())
	el, _ = doc.Element(capture.SQLAnswerID(1))
	require.Equal(t, "23:45", el.Value())
	el, _ = doc.Element(capture.SQLQueryID(1))
	require.Equal(t, "SELECT * FROM logs", el.Value())

	// the missing editor still holds its answer in the model
	require.Equal(t, "def isPalindrome(s): return True", m.Responses().Code[2])
}

func TestHydrateNil(t *testing.T) {
	m := model.NewResponseModel(model.Universe{})
	rep, err := New(m, capture.NewDocument(), zerolog.Nop()).Hydrate(nil)
	require.NoError(t, err)
	require.Equal(t, SourceNone, rep.Source)
	require.Zero(t, m.Responses().Len())
}
