package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/stemsi/techassess/internal/capture"
)

// Script actions besides plain UI events.
const (
	actionSubmit = "submit"
	actionPush   = "push"
	actionUnload = "unload"
)

// step is one line of an event script. Either Kind (a UI event), Wait, or
// Action is set:
//
//	{"kind":"change","target":"q1_opt2","checked":true}
//	{"kind":"input","target":"python-code-1","value":"def f():\n    return 1"}
//	{"kind":"blur"}
//	{"wait":"1.5s"}
//	{"action":"submit"}
type step struct {
	capture.Event
	Wait   string `json:"wait,omitempty"`
	Action string `json:"action,omitempty"`

	line  int
	delay time.Duration
}

// parseScript reads JSON lines. Blank lines and lines starting with # are
// skipped.
func parseScript(r io.Reader) ([]step, error) {
	var steps []step
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var s step
		if err := json.Unmarshal([]byte(line), &s); err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		s.line = n
		if err := s.validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		steps = append(steps, s)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return steps, nil
}

func (s *step) validate() error {
	set := 0
	if s.Kind != "" {
		set++
	}
	if s.Wait != "" {
		set++
		d, err := time.ParseDuration(s.Wait)
		if err != nil || d < 0 {
			return fmt.Errorf("bad wait %q", s.Wait)
		}
		s.delay = d
	}
	if s.Action != "" {
		set++
		switch s.Action {
		case actionSubmit, actionPush, actionUnload:
		default:
			return fmt.Errorf("unknown action %q", s.Action)
		}
	}
	if set != 1 {
		return fmt.Errorf("expected exactly one of kind, wait, action")
	}

	switch s.Kind {
	case "", capture.EventBlur, capture.EventHidden:
	case capture.EventInput, capture.EventChange:
		if s.TargetID == "" {
			return fmt.Errorf("%s event needs a target", s.Kind)
		}
	default:
		return fmt.Errorf("unknown event kind %q", s.Kind)
	}
	return nil
}

// runner plays steps against a document and a session driver.
type runner struct {
	doc    *capture.Document
	driver driver
}

// driver is the part of the lifecycle controller a script can trigger.
type driver interface {
	Submit(ctx context.Context) error
	PushNow(ctx context.Context) error
	Unload()
}

// run returns early when a submit or unload step ends the session.
func (r *runner) run(ctx context.Context, steps []step) (finished bool, err error) {
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		switch {
		case s.delay > 0:
			t := time.NewTimer(s.delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return false, ctx.Err()
			case <-t.C:
			}
		case s.Kind != "":
			if _, ok := r.doc.Element(s.TargetID); s.TargetID != "" && !ok {
				return false, fmt.Errorf("line %d: no element %q", s.line, s.TargetID)
			}
			r.doc.Dispatch(s.Event)
		case s.Action == actionPush:
			if err := r.driver.PushNow(ctx); err != nil {
				return false, fmt.Errorf("line %d: push: %w", s.line, err)
			}
		case s.Action == actionSubmit:
			return true, r.driver.Submit(ctx)
		case s.Action == actionUnload:
			r.driver.Unload()
			return true, nil
		}
	}
	return false, nil
}
