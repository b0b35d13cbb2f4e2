package main

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/stemsi/techassess/internal/model"
	"github.com/stemsi/techassess/internal/progress"
)

// logNotifier renders controller notifications as log lines and closes
// done when the session reaches an end state.
type logNotifier struct {
	log      zerolog.Logger
	done     chan struct{}
	doneOnce sync.Once
}

func newLogNotifier(log zerolog.Logger) *logNotifier {
	return &logNotifier{
		log:  log.With().Str("component", "assess").Logger(),
		done: make(chan struct{}),
	}
}

func (n *logNotifier) finish() {
	n.doneOnce.Do(func() { close(n.done) })
}

func (n *logNotifier) Tick(remaining int) {
	if remaining%60 == 0 || remaining <= 10 {
		n.log.Debug().Int("remaining", remaining).Msg("Countdown")
	}
}

func (n *logNotifier) Status(s progress.Status) {
	if s.OK {
		n.log.Debug().Time("saved_at", s.SavedAt).Msg("Progress saved")
		return
	}
	n.log.Warn().Err(s.Err).Msg("Progress save failed")
}

func (n *logNotifier) Submitted(scores model.ScoreRecord) {
	n.log.Info().Str("scores", scores.Summary()).Msg("Submitted")
	n.finish()
}

func (n *logNotifier) SubmissionFailed(err error, fallback model.ScoreRecord) {
	n.log.Error().Err(err).Str("offline_scores", fallback.Summary()).Msg("Submission failed")
	n.finish()
}

func (n *logNotifier) Terminal(state model.SessionState, message string) {
	n.log.Warn().Str("state", string(state)).Msg(message)
	n.finish()
}
