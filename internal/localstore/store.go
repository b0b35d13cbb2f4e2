package localstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/techassess/internal/clock"
	"github.com/stemsi/techassess/internal/model"
)

// DefaultQuiet is how long typing must pause before a snapshot is written.
const DefaultQuiet = 500 * time.Millisecond

// Key returns the storage key of a session's snapshot.
func Key(sessionID string) string {
	return "techassess:progress:" + sessionID
}

// Options configures a Store.
type Options struct {
	Clock  clock.Clock
	Quiet  time.Duration
	Logger zerolog.Logger
}

// Store writes debounced snapshots of the response model to a KV.
type Store struct {
	kv     KV
	key    string
	source func(time.Time) model.Snapshot
	clock  clock.Clock
	quiet  time.Duration
	log    zerolog.Logger

	mu    sync.Mutex
	timer clock.Timer
}

// New returns a Store for sessionID. source produces the snapshot to persist.
func New(kv KV, sessionID string, source func(time.Time) model.Snapshot, opts Options) *Store {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Quiet <= 0 {
		opts.Quiet = DefaultQuiet
	}
	return &Store{
		kv:     kv,
		key:    Key(sessionID),
		source: source,
		clock:  opts.Clock,
		quiet:  opts.Quiet,
		log:    opts.Logger.With().Str("component", "localstore").Str("session_id", sessionID).Logger(),
	}
}

// Touch (re)arms the quiet timer. One snapshot is written once no Touch has
// happened for the quiet period.
func (s *Store) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = s.clock.AfterFunc(s.quiet, s.fire)
}

func (s *Store) fire() {
	s.mu.Lock()
	s.timer = nil
	s.mu.Unlock()
	if err := s.write(context.Background()); err != nil {
		s.log.Warn().Err(err).Msg("Local save failed")
	}
}

// Flush cancels any pending write and persists the current snapshot now.
func (s *Store) Flush(ctx context.Context) error {
	s.Cancel()
	return s.write(ctx)
}

func (s *Store) write(ctx context.Context) error {
	b, err := encodeSnapshot(s.source(s.clock.Now()))
	if err != nil {
		return err
	}
	if err := s.kv.Put(ctx, s.key, b); err != nil {
		return fmt.Errorf("local save: %w", err)
	}
	return nil
}

// Cancel disarms the pending write, if any.
func (s *Store) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Pending reports whether a debounced write is armed.
func (s *Store) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// Load returns the stored snapshot, or nil when none exists.
func (s *Store) Load(ctx context.Context) (*model.Snapshot, error) {
	b, err := s.kv.Get(ctx, s.key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("local load: %w", err)
	}
	snap, err := decodeSnapshot(b)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// Clear cancels pending writes and removes the stored snapshot.
func (s *Store) Clear(ctx context.Context) error {
	s.Cancel()
	if err := s.kv.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("local clear: %w", err)
	}
	return nil
}
