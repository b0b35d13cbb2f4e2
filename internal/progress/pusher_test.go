package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/techassess/internal/apiclient"
	"github.com/stemsi/techassess/internal/clock"
	"github.com/stemsi/techassess/internal/model"
)

var epoch = time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC)

type fakeSaver struct {
	mu    sync.Mutex
	snaps []model.Snapshot
	errs  []error
	block chan struct{}
}

func (f *fakeSaver) SaveProgress(ctx context.Context, _ string, snap model.Snapshot) (time.Time, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps = append(f.snaps, snap)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return time.Time{}, err
		}
	}
	return snap.SavedAt, nil
}

func (f *fakeSaver) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.snaps)
}

func testModel() *model.ResponseModel {
	return model.NewResponseModel(model.Universe{MCQ: map[int]int{1: 4}})
}

func TestPeriodicPushRetriesAfterFailure(t *testing.T) {
	fc := clock.NewFake(epoch)
	saver := &fakeSaver{errs: []error{apiclient.ErrTransient, nil}}
	var statuses []Status
	p := New(saver, "s-1", testModel().Snapshot, Options{
		Clock:    fc,
		Logger:   zerolog.Nop(),
		OnStatus: func(s Status) { statuses = append(statuses, s) },
	})
	p.Start()

	fc.Advance(DefaultInterval)
	require.Equal(t, 1, saver.count())
	require.False(t, statuses[0].OK)
	require.ErrorIs(t, statuses[0].Err, apiclient.ErrTransient)
	require.True(t, p.Running())

	fc.Advance(DefaultInterval)
	require.Equal(t, 2, saver.count())
	require.True(t, statuses[1].OK)
	require.True(t, statuses[1].SavedAt.Equal(epoch.Add(2*DefaultInterval)))

	p.Stop()
	fc.Advance(time.Minute)
	require.Equal(t, 2, saver.count())
}

func TestSessionClosedStopsPushing(t *testing.T) {
	fc := clock.NewFake(epoch)
	saver := &fakeSaver{errs: []error{&apiclient.APIError{Status: 409}, apiclient.ErrSessionClosed}}
	closed := 0
	p := New(saver, "s-1", testModel().Snapshot, Options{
		Interval: time.Second,
		Clock:    fc,
		Logger:   zerolog.Nop(),
		OnClosed: func() { closed++ },
	})
	p.Start()

	fc.Advance(5 * time.Second)
	require.Equal(t, 2, saver.count())
	require.Equal(t, 1, closed)
	require.False(t, p.Running())
}

func TestPushNowRejectsOverlap(t *testing.T) {
	saver := &fakeSaver{block: make(chan struct{})}
	p := New(saver, "s-1", testModel().Snapshot, Options{Clock: clock.NewFake(epoch), Logger: zerolog.Nop()})

	errc := make(chan error, 1)
	go func() { errc <- p.PushNow(context.Background()) }()

	require.Eventually(t, func() bool { return p.inFlight.Load() }, time.Second, time.Millisecond)
	require.ErrorIs(t, p.PushNow(context.Background()), ErrInFlight)

	close(saver.block)
	require.NoError(t, <-errc)
	require.Equal(t, int64(1), p.Pushes())
}

func TestPushCarriesLatestModel(t *testing.T) {
	fc := clock.NewFake(epoch)
	saver := &fakeSaver{}
	m := testModel()
	p := New(saver, "s-1", m.Snapshot, Options{Clock: fc, Logger: zerolog.Nop()})
	p.Start()

	_, _ = m.SetMCQ(1, 3)
	fc.Advance(DefaultInterval)
	require.Equal(t, 3, saver.snaps[0].MCQ[1])
	require.False(t, errors.Is(p.PushNow(context.Background()), ErrInFlight))
}
