package lifecycle

import (
	"context"
	"time"

	"github.com/stemsi/techassess/internal/model"
	"github.com/stemsi/techassess/internal/progress"
)

// API is the remote side of the assessment. *apiclient.Client satisfies it.
type API interface {
	GetSession(ctx context.Context, id string) (model.SessionView, error)
	StartSession(ctx context.Context, id string) error
	GetProgress(ctx context.Context, id string) (*model.Snapshot, error)
	SaveProgress(ctx context.Context, id string, snap model.Snapshot) (time.Time, error)
	Submit(ctx context.Context, id string, req model.SubmitRequest) (model.ScoreRecord, error)
	UpdateTabSwitches(ctx context.Context, id string, count int) error
	BeaconProgress(id string, snap model.Snapshot)
	BeaconSubmit(id string, req model.SubmitRequest)
}

// Notifier receives everything the candidate should see.
type Notifier interface {
	// Tick reports the seconds left after each countdown step.
	Tick(remaining int)
	// Status reports the outcome of a progress push.
	Status(s progress.Status)
	Submitted(scores model.ScoreRecord)
	// SubmissionFailed is the interruptive prompt shown when the online
	// submit failed; fallback holds the locally computed scores.
	SubmissionFailed(err error, fallback model.ScoreRecord)
	Terminal(state model.SessionState, message string)
}

// NopNotifier ignores every notification.
type NopNotifier struct{}

func (NopNotifier) Tick(int)                                  {}
func (NopNotifier) Status(progress.Status)                    {}
func (NopNotifier) Submitted(model.ScoreRecord)               {}
func (NopNotifier) SubmissionFailed(error, model.ScoreRecord) {}
func (NopNotifier) Terminal(model.SessionState, string)       {}
