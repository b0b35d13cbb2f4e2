package model

import (
	"time"
)

// SessionState enumerates the assessment session lifecycle.
type SessionState string

const (
	SessionNotStarted SessionState = "not_started"
	SessionInProgress SessionState = "in_progress"
	SessionSubmitted  SessionState = "submitted"
	SessionExpired    SessionState = "expired"
)

// Terminal reports whether no further transitions are permitted.
func (s SessionState) Terminal() bool {
	return s == SessionSubmitted || s == SessionExpired
}

// Valid reports whether s is one of the known states.
func (s SessionState) Valid() bool {
	switch s {
	case SessionNotStarted, SessionInProgress, SessionSubmitted, SessionExpired:
		return true
	}
	return false
}

// Session is the server-side record of a candidate's attempt.
type Session struct {
	ID              string       `json:"session_id"`
	CandidateName   string       `json:"candidate_name"`
	CandidateEmail  string       `json:"candidate_email"`
	ExamCode        *string      `json:"exam_code,omitempty"`
	State           SessionState `json:"state"`
	CreatedAt       time.Time    `json:"created_at"`
	StartedAt       *time.Time   `json:"started_at,omitempty"`
	SubmittedAt     *time.Time   `json:"submitted_at,omitempty"`
	DurationMinutes int          `json:"duration_minutes"`
	IPAddress       *string      `json:"ip_address,omitempty"`
	TabSwitchCount  int          `json:"tab_switch_count"`
}

// Deadline returns the instant the time budget runs out. Before start the
// budget is counted from creation.
func (s *Session) Deadline() time.Time {
	base := s.CreatedAt
	if s.StartedAt != nil {
		base = *s.StartedAt
	}
	return base.Add(time.Duration(s.DurationMinutes) * time.Minute)
}

// RemainingSeconds returns the whole seconds left at now, floored at zero.
func (s *Session) RemainingSeconds(now time.Time) int {
	remaining := s.Deadline().Sub(now)
	if remaining < 0 {
		return 0
	}
	return int(remaining / time.Second)
}

// SessionView is the projection of a session the client reads at
// initialization. RemainingSeconds is authoritative; the client countdown is
// derived from it so reloads never extend the budget.
type SessionView struct {
	SessionID        string       `json:"session_id"`
	State            SessionState `json:"state"`
	CandidateName    string       `json:"candidate_name"`
	RemainingSeconds int          `json:"remaining_seconds"`
	IsExpired        bool         `json:"is_expired"`
	TabSwitchCount   int          `json:"tab_switch_count"`
}

// RegisterRequest is the payload for creating a candidate session.
type RegisterRequest struct {
	CandidateName  string  `json:"candidate_name" binding:"required,min=1,max=255"`
	CandidateEmail string  `json:"candidate_email" binding:"required,email,max=255"`
	ExamCode       *string `json:"exam_code" binding:"omitempty,max=64"`
}

// RegisterResponse carries the new session id.
type RegisterResponse struct {
	SessionID string `json:"session_id"`
}

// SaveProgressResponse acknowledges a stored snapshot.
type SaveProgressResponse struct {
	SavedAt time.Time `json:"saved_at"`
}

// SubmitRequest is the final submission payload.
type SubmitRequest struct {
	Responses
	TabSwitchCount int `json:"tab_switch_count" binding:"min=0"`
}

// SubmitResponse wraps the authoritative scores.
type SubmitResponse struct {
	Scores ScoreRecord `json:"scores"`
}

// TabSwitchRequest reports the client's suspicious-event counter.
type TabSwitchRequest struct {
	Count int `json:"count" binding:"min=0"`
}

// ListSessionsQuery filters the admin session listing.
type ListSessionsQuery struct {
	State   string `form:"state" binding:"omitempty,session_state"`
	Page    int    `form:"page" binding:"omitempty,min=1"`
	PerPage int    `form:"per_page" binding:"omitempty,min=1,max=100"`
}
