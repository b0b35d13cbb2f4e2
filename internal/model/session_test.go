package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSessionRemainingSeconds(t *testing.T) {
	created := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	started := created.Add(10 * time.Minute)
	s := Session{CreatedAt: created, DurationMinutes: 120}

	require.Equal(t, 7200, s.RemainingSeconds(created))

	s.StartedAt = &started
	require.Equal(t, 7200, s.RemainingSeconds(started))
	require.Equal(t, 7198, s.RemainingSeconds(started.Add(1500*time.Millisecond)))
	require.Equal(t, 0, s.RemainingSeconds(started.Add(3*time.Hour)))
}

func TestSessionStateTerminal(t *testing.T) {
	require.False(t, SessionNotStarted.Terminal())
	require.False(t, SessionInProgress.Terminal())
	require.True(t, SessionSubmitted.Terminal())
	require.True(t, SessionExpired.Terminal())
	require.False(t, SessionState("paused").Valid())
}

func TestScoreRecordCodeDisplay(t *testing.T) {
	five := 5
	s := ScoreRecord{Code: &five, Max: SectionMax{MCQ: 10, Code: 10, SQL: 5}}
	require.Equal(t, "5/10", s.CodeDisplay())

	s = ScoreRecord{Offline: true, Max: SectionMax{Code: 10}}
	require.Equal(t, "Submitted (not graded offline)", s.CodeDisplay())
}
