// Package clock abstracts time so the countdown, the periodic push and the
// local-save debounce can be driven deterministically in tests.
package clock

import (
	"sync"
	"time"
)

// Clock is the time source injected into every scheduled component.
type Clock interface {
	Now() time.Time
	// AfterFunc calls f once after d. With d <= 0 the real clock runs f in
	// a new goroutine and the fake clock runs it before returning.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop cancels the call. It returns false if f already ran or the
	// timer was stopped before.
	Stop() bool
}

// Real returns the wall clock.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Task runs a function repeatedly on a clock. The next run is scheduled only
// after the current one returns, so runs never overlap.
type Task struct {
	clock    Clock
	interval time.Duration
	fn       func()

	mu      sync.Mutex
	timer   Timer
	stopped bool
}

// Every starts a Task calling fn every d on c. The first call happens after d.
func Every(c Clock, d time.Duration, fn func()) *Task {
	t := &Task{clock: c, interval: d, fn: fn}
	t.schedule()
	return t
}

func (t *Task) schedule() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.timer = t.clock.AfterFunc(t.interval, t.run)
}

func (t *Task) run() {
	t.mu.Lock()
	stopped := t.stopped
	t.mu.Unlock()
	if stopped {
		return
	}
	t.fn()
	t.schedule()
}

// Stop cancels the pending run. A run already in progress completes but is
// not rescheduled. Safe to call more than once and from within fn.
func (t *Task) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
	}
}

// Stopped reports whether Stop was called.
func (t *Task) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}
