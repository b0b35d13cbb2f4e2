package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/techassess/internal/model"
)

// ExecutorService calls the sandboxed code execution collaborator.
type ExecutorService struct {
	baseURL string
	hc      *http.Client
	log     zerolog.Logger
}

// NewExecutorService creates an ExecutorService for the executor at baseURL.
func NewExecutorService(baseURL string, timeout time.Duration, log zerolog.Logger) *ExecutorService {
	return &ExecutorService{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "executor").Logger(),
	}
}

// Execute runs req on the executor. Transport failures and non-2xx answers
// wrap ErrExecutorUnavailable.
func (s *ExecutorService) Execute(ctx context.Context, req model.ExecuteRequest) (model.ExecutionResult, error) {
	var out model.ExecutionResult

	body, err := json.Marshal(req)
	if err != nil {
		return out, fmt.Errorf("marshal execute request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return out, fmt.Errorf("build execute request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.hc.Do(httpReq)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrExecutorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return out, fmt.Errorf("%w: status %d: %s", ErrExecutorUnavailable, resp.StatusCode, bytes.TrimSpace(msg))
	}

	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("%w: decode response: %v", ErrExecutorUnavailable, err)
	}

	s.log.Debug().
		Int("tests", out.TotalTests).
		Int("passed", out.Passed).
		Dur("took", time.Since(start)).
		Msg("Code executed")

	return out, nil
}
