package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/techassess/internal/model"
	"github.com/stemsi/techassess/internal/response"
)

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func writeError(w http.ResponseWriter, status int, code response.ErrCode) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data":  nil,
		"error": response.ErrorBody{Code: code, Message: response.GetMessage(code)},
	})
}

func newClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL+"/api/v1", srv.Client(), zerolog.Nop())
	require.NoError(t, err)
	return c
}

func TestGetSession(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/sessions/s-1", r.URL.Path)
		writeData(w, http.StatusOK, model.SessionView{
			SessionID:        "s-1",
			State:            model.SessionInProgress,
			RemainingSeconds: 42,
		})
	}))

	v, err := c.GetSession(context.Background(), "s-1")
	require.NoError(t, err)
	require.Equal(t, model.SessionInProgress, v.State)
	require.Equal(t, 42, v.RemainingSeconds)
}

func TestGetProgressNull(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, nil)
	}))

	snap, err := c.GetProgress(context.Background(), "s-1")
	require.NoError(t, err)
	require.Nil(t, snap)
}

func TestSaveProgressSendsSnapshot(t *testing.T) {
	saved := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/sessions/s-1/save-progress", r.URL.Path)
		var snap model.Snapshot
		require.NoError(t, json.NewDecoder(r.Body).Decode(&snap))
		require.Equal(t, 2, snap.MCQ[1])
		require.Equal(t, "Yes", snap.SQL[4])
		writeData(w, http.StatusOK, model.SaveProgressResponse{SavedAt: snap.SavedAt})
	}))

	r := model.NewResponses()
	r.MCQ[1] = 2
	r.SQL[4] = "Yes"
	got, err := c.SaveProgress(context.Background(), "s-1", model.Snapshot{Responses: r, SavedAt: saved})
	require.NoError(t, err)
	require.True(t, got.Equal(saved))
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		code   response.ErrCode
		want   error
	}{
		{"closed", http.StatusConflict, response.ErrSessionClosed, ErrSessionClosed},
		{"submitted", http.StatusConflict, response.ErrAlreadySubmitted, ErrAlreadySubmitted},
		{"not found", http.StatusNotFound, response.ErrSessionNotFound, ErrNotFound},
		{"bad id", http.StatusBadRequest, response.ErrInvalidID, ErrBadRequest},
		{"server", http.StatusInternalServerError, response.ErrInternal, ErrTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(w, tt.status, tt.code)
			}))
			_, err := c.Submit(context.Background(), "s-1", model.SubmitRequest{})
			require.ErrorIs(t, err, tt.want)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			require.Equal(t, tt.code, apiErr.Code)
		})
	}
}

func TestTransportErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := New(base, nil, zerolog.Nop())
	require.NoError(t, err)
	err = c.StartSession(context.Background(), "s-1")
	require.ErrorIs(t, err, ErrTransient)
}

func TestBeaconIsFireAndForget(t *testing.T) {
	var hits atomic.Int32
	done := make(chan struct{})
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/sessions/s-1/submit", r.URL.Path)
		hits.Add(1)
		writeData(w, http.StatusOK, model.SubmitResponse{})
		close(done)
	}))

	c.BeaconSubmit("s-1", model.SubmitRequest{TabSwitchCount: 2})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("beacon not delivered")
	}
	require.Equal(t, int32(1), hits.Load())
}

func TestDrainWaitsForBeacons(t *testing.T) {
	var hits atomic.Int32
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		hits.Add(1)
		writeData(w, http.StatusOK, model.SaveProgressResponse{})
	}))

	c.BeaconProgress("s-1", model.Snapshot{Responses: model.NewResponses(), SavedAt: time.Now()})
	c.BeaconProgress("s-1", model.Snapshot{Responses: model.NewResponses(), SavedAt: time.Now()})

	require.NoError(t, c.Drain(context.Background()))
	require.Equal(t, int32(2), hits.Load())

	// nothing outstanding
	require.NoError(t, c.Drain(context.Background()))
}

func TestDrainIsBounded(t *testing.T) {
	release := make(chan struct{})
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		writeData(w, http.StatusOK, nil)
	}))
	t.Cleanup(func() { close(release) })

	c.BeaconSubmit("s-1", model.SubmitRequest{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, c.Drain(ctx), context.DeadlineExceeded)
}

func TestRegister(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/register-candidate", r.URL.Path)
		var req model.RegisterRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "ada@example.com", req.CandidateEmail)
		writeData(w, http.StatusCreated, model.RegisterResponse{SessionID: "s-9"})
	}))

	id, err := c.Register(context.Background(), model.RegisterRequest{
		CandidateName:  "Ada",
		CandidateEmail: "ada@example.com",
	})
	require.NoError(t, err)
	require.Equal(t, "s-9", id)
}
