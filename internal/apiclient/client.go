// Package apiclient talks to the assessment API over its JSON envelope.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/techassess/internal/model"
	"github.com/stemsi/techassess/internal/response"
)

var (
	// ErrNotFound means the session id does not exist.
	ErrNotFound = errors.New("apiclient: not found")
	// ErrBadRequest means the server rejected the request as malformed.
	ErrBadRequest = errors.New("apiclient: bad request")
	// ErrSessionClosed means the session no longer accepts progress.
	ErrSessionClosed = errors.New("apiclient: session closed")
	// ErrAlreadySubmitted means a submission was already recorded.
	ErrAlreadySubmitted = errors.New("apiclient: already submitted")
	// ErrTransient covers transport failures and 5xx responses; callers
	// retry on their next cycle.
	ErrTransient = errors.New("apiclient: transient failure")
)

// APIError carries the server's error body.
type APIError struct {
	Status  int
	Code    response.ErrCode
	Message string
	kind    error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error { return e.kind }

type envelope struct {
	Data  json.RawMessage     `json:"data"`
	Error *response.ErrorBody `json:"error"`
}

// Client is an assessment API client.
type Client struct {
	base *url.URL
	http *http.Client
	log  zerolog.Logger

	// BeaconTimeout bounds fire-and-forget sends.
	BeaconTimeout time.Duration

	beacons sync.WaitGroup
}

// New returns a client for baseURL (for example http://localhost:8080/api/v1).
func New(baseURL string, hc *http.Client, log zerolog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		base:          u,
		http:          hc,
		log:           log.With().Str("component", "apiclient").Logger(),
		BeaconTimeout: 5 * time.Second,
	}, nil
}

func (c *Client) sessionPath(id string, parts ...string) string {
	p := "/sessions/" + url.PathEscape(id)
	for _, s := range parts {
		p += "/" + s
	}
	return p
}

// Register creates a not-started session and returns its id.
func (c *Client) Register(ctx context.Context, req model.RegisterRequest) (string, error) {
	var out model.RegisterResponse
	if err := c.do(ctx, http.MethodPost, "/register-candidate", req, &out); err != nil {
		return "", err
	}
	return out.SessionID, nil
}

// GetSession reads the server's view of the session.
func (c *Client) GetSession(ctx context.Context, id string) (model.SessionView, error) {
	var out model.SessionView
	err := c.do(ctx, http.MethodGet, c.sessionPath(id), nil, &out)
	return out, err
}

// StartSession moves a not-started session into progress. Idempotent.
func (c *Client) StartSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, c.sessionPath(id, "start"), struct{}{}, nil)
}

// GetProgress returns the server's latest snapshot, or nil when none exists.
func (c *Client) GetProgress(ctx context.Context, id string) (*model.Snapshot, error) {
	var out *model.Snapshot
	if err := c.do(ctx, http.MethodGet, c.sessionPath(id, "progress"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveProgress pushes a snapshot.
func (c *Client) SaveProgress(ctx context.Context, id string, snap model.Snapshot) (time.Time, error) {
	var out model.SaveProgressResponse
	if err := c.do(ctx, http.MethodPost, c.sessionPath(id, "save-progress"), snap, &out); err != nil {
		return time.Time{}, err
	}
	return out.SavedAt, nil
}

// Submit sends the final responses and returns the authoritative scores.
func (c *Client) Submit(ctx context.Context, id string, req model.SubmitRequest) (model.ScoreRecord, error) {
	var out model.SubmitResponse
	if err := c.do(ctx, http.MethodPost, c.sessionPath(id, "submit"), req, &out); err != nil {
		return model.ScoreRecord{}, err
	}
	return out.Scores, nil
}

// UpdateTabSwitches reports the suspicious-event counter.
func (c *Client) UpdateTabSwitches(ctx context.Context, id string, count int) error {
	return c.do(ctx, http.MethodPost, c.sessionPath(id, "update-tab-switches"), model.TabSwitchRequest{Count: count}, nil)
}

// Execute runs code against test cases through the server's executor proxy.
func (c *Client) Execute(ctx context.Context, req model.ExecuteRequest) (model.ExecutionResult, error) {
	var out model.ExecutionResult
	err := c.do(ctx, http.MethodPost, "/execute", req, &out)
	return out, err
}

// BeaconProgress sends snap without waiting for the outcome.
func (c *Client) BeaconProgress(id string, snap model.Snapshot) {
	c.beacon(c.sessionPath(id, "save-progress"), snap)
}

// BeaconSubmit sends a pending submission without waiting for the outcome.
func (c *Client) BeaconSubmit(id string, req model.SubmitRequest) {
	c.beacon(c.sessionPath(id, "submit"), req)
}

func (c *Client) beacon(path string, body any) {
	c.beacons.Add(1)
	go func() {
		defer c.beacons.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.BeaconTimeout)
		defer cancel()
		if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
			c.log.Debug().Err(err).Str("path", path).Msg("Beacon not delivered")
		}
	}()
}

// Drain waits for outstanding beacons to finish, at most BeaconTimeout or
// until ctx is done. A process must drain before exiting or its beacons are
// dropped.
func (c *Client) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.beacons.Wait()
		close(done)
	}()

	timer := time.NewTimer(c.BeaconTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return fmt.Errorf("drain beacons: %w", context.DeadlineExceeded)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, rdr)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %w", method, path, ErrTransient, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && !errors.Is(err, io.EOF) {
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%s %s: status %d: %w", method, path, resp.StatusCode, ErrTransient)
		}
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}

	if resp.StatusCode/100 != 2 {
		return classify(resp.StatusCode, env.Error)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode %s %s data: %w", method, path, err)
	}
	return nil
}

func classify(status int, body *response.ErrorBody) error {
	e := &APIError{Status: status}
	if body != nil {
		e.Code = body.Code
		e.Message = body.Message
	}
	switch {
	case e.Code == response.ErrSessionClosed:
		e.kind = ErrSessionClosed
	case e.Code == response.ErrAlreadySubmitted:
		e.kind = ErrAlreadySubmitted
	case status == http.StatusNotFound:
		e.kind = ErrNotFound
	case status == http.StatusBadRequest:
		e.kind = ErrBadRequest
	case status >= 500, status == http.StatusTooManyRequests:
		e.kind = ErrTransient
	}
	return e
}
