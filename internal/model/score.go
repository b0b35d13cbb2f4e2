package model

import (
	"fmt"
	"time"
)

// SectionMax holds the maximum points per graded section.
type SectionMax struct {
	MCQ  int `json:"mcq" yaml:"mcq"`
	Code int `json:"python" yaml:"code"`
	SQL  int `json:"sql" yaml:"sql"`
}

// Total returns the sum of the section maxima.
func (m SectionMax) Total() int {
	return m.MCQ + m.Code + m.SQL
}

// ScoreRecord is the outcome of grading one submission. Code is nil when the
// code section could not be graded (offline fallback or executor outage).
type ScoreRecord struct {
	MCQ     int        `json:"mcq"`
	Code    *int       `json:"python"`
	SQL     int        `json:"sql"`
	Total   int        `json:"total"`
	Max     SectionMax `json:"max"`
	Offline bool       `json:"offline,omitempty"`
}

// CodeDisplay renders the code section for the result screen.
func (s ScoreRecord) CodeDisplay() string {
	if s.Code == nil {
		if s.Offline {
			return "Submitted (not graded offline)"
		}
		return "Submitted (not graded)"
	}
	return fmt.Sprintf("%d/%d", *s.Code, s.Max.Code)
}

// Summary renders all sections on one line.
func (s ScoreRecord) Summary() string {
	return fmt.Sprintf("MCQ %d/%d, Python %s, SQL %d/%d, Total %d",
		s.MCQ, s.Max.MCQ, s.CodeDisplay(), s.SQL, s.Max.SQL, s.Total)
}

// Submission is the stored record of a graded submission.
type Submission struct {
	ID             int64       `json:"id"`
	SessionID      string      `json:"session_id"`
	Responses      Responses   `json:"responses"`
	Scores         ScoreRecord `json:"scores"`
	TabSwitchCount int         `json:"tab_switch_count"`
	Violation      bool        `json:"violation"`
	SubmittedAt    time.Time   `json:"submitted_at"`
}

// SessionDetail is the admin view of a session and its latest submission.
type SessionDetail struct {
	Session    Session     `json:"session"`
	Submission *Submission `json:"submission,omitempty"`
}

// SessionStats aggregates session counts per state.
type SessionStats struct {
	Total      int `json:"total"`
	NotStarted int `json:"not_started"`
	InProgress int `json:"in_progress"`
	Submitted  int `json:"submitted"`
	Expired    int `json:"expired"`
	Violations int `json:"violations"`
}

// SessionListResponse is returned by the admin listing.
type SessionListResponse struct {
	Sessions []Session    `json:"sessions"`
	Stats    SessionStats `json:"stats"`
}
