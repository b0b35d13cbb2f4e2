package websocket

import (
	"time"

	"github.com/stemsi/techassess/internal/model"
)

// ─── Actions (Reviewer → Server) ────────────────────────────────────

type Action string

const (
	ActionPing    Action = "ping"
	ActionRefresh Action = "refresh"
)

// RequestEnvelope is the only message shape the monitor reads.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Reviewer) ─────────────────────────────────────

type Event string

const (
	EventRegistered Event = "registered"
	EventStarted    Event = "started"
	EventProgress   Event = "progress"
	EventTabSwitch  Event = "tab_switch"
	EventSubmitted  Event = "submitted"
	EventExpired    Event = "expired"

	EventSnapshot Event = "snapshot"
	EventError    Event = "error"
	EventPong     Event = "pong"
)

// MonitorEvent is published on the monitor channel for every session
// transition and forwarded verbatim to connected reviewers.
type MonitorEvent struct {
	Event          Event              `json:"event"`
	SessionID      string             `json:"session_id"`
	CandidateName  string             `json:"candidate_name,omitempty"`
	State          model.SessionState `json:"state,omitempty"`
	Answered       int                `json:"answered,omitempty"`
	TabSwitchCount int                `json:"tab_switch_count,omitempty"`
	Scores         *model.ScoreRecord `json:"scores,omitempty"`
	Violation      bool               `json:"violation,omitempty"`
	At             time.Time          `json:"at"`
}

// SnapshotResponse is sent on connect and on refresh.
type SnapshotResponse struct {
	Event    Event              `json:"event"`
	Stats    model.SessionStats `json:"stats"`
	Sessions []model.Session    `json:"sessions"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
