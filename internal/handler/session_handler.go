package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/techassess/internal/content"
	"github.com/stemsi/techassess/internal/model"
	"github.com/stemsi/techassess/internal/response"
	"github.com/stemsi/techassess/internal/validator"
)

// SessionService is the candidate-facing session API.
type SessionService interface {
	Register(ctx context.Context, req model.RegisterRequest, ip string) (*model.Session, error)
	View(ctx context.Context, id string) (model.SessionView, error)
	Start(ctx context.Context, id string) error
	SaveProgress(ctx context.Context, id string, snap model.Snapshot) (time.Time, error)
	GetProgress(ctx context.Context, id string) (*model.Snapshot, error)
	UpdateTabSwitches(ctx context.Context, id string, count int) error
	Submit(ctx context.Context, id string, req model.SubmitRequest) (model.ScoreRecord, error)
	Execute(ctx context.Context, req model.ExecuteRequest) (model.ExecutionResult, error)
	Assessment() *content.Assessment
}

// SessionHandler serves candidate session endpoints.
type SessionHandler struct {
	sessionService SessionService
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessionService SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

// Register godoc
// POST /api/v1/register-candidate
// Creates a not-started session and returns its id.
func (h *SessionHandler) Register(c *gin.Context) {
	var req model.RegisterRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sess, err := h.sessionService.Register(c.Request.Context(), req, c.ClientIP())
	if err != nil {
		failService(c, err)
		return
	}

	response.Success(c, http.StatusCreated, model.RegisterResponse{SessionID: sess.ID})
}

// GetPaper godoc
// GET /api/v1/assessment
// Returns the questions without answers or hidden tests.
func (h *SessionHandler) GetPaper(c *gin.Context) {
	response.Success(c, http.StatusOK, h.sessionService.Assessment().Paper())
}

// GetSession godoc
// GET /api/v1/sessions/:id
func (h *SessionHandler) GetSession(c *gin.Context) {
	view, err := h.sessionService.View(c.Request.Context(), c.Param("id"))
	if err != nil {
		failService(c, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// StartSession godoc
// POST /api/v1/sessions/:id/start
// Idempotent.
func (h *SessionHandler) StartSession(c *gin.Context) {
	if err := h.sessionService.Start(c.Request.Context(), c.Param("id")); err != nil {
		failService(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{})
}

// GetProgress godoc
// GET /api/v1/sessions/:id/progress
// Data is the latest snapshot or null.
func (h *SessionHandler) GetProgress(c *gin.Context) {
	snap, err := h.sessionService.GetProgress(c.Request.Context(), c.Param("id"))
	if err != nil {
		failService(c, err)
		return
	}
	response.Success(c, http.StatusOK, snap)
}

// SaveProgress godoc
// POST /api/v1/sessions/:id/save-progress
func (h *SessionHandler) SaveProgress(c *gin.Context) {
	var snap model.Snapshot
	if fields := validator.Bind(c, &snap); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidPayload, fields)
		return
	}

	savedAt, err := h.sessionService.SaveProgress(c.Request.Context(), c.Param("id"), snap)
	if err != nil {
		failService(c, err)
		return
	}
	response.Success(c, http.StatusOK, model.SaveProgressResponse{SavedAt: savedAt})
}

// UpdateTabSwitches godoc
// POST /api/v1/sessions/:id/update-tab-switches
func (h *SessionHandler) UpdateTabSwitches(c *gin.Context) {
	var req model.TabSwitchRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.sessionService.UpdateTabSwitches(c.Request.Context(), c.Param("id"), req.Count); err != nil {
		failService(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{})
}

// Submit godoc
// POST /api/v1/sessions/:id/submit
// Grades the final responses. A second submit answers 409 ALREADY_SUBMITTED.
func (h *SessionHandler) Submit(c *gin.Context) {
	var req model.SubmitRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	scores, err := h.sessionService.Submit(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		failService(c, err)
		return
	}
	response.Success(c, http.StatusOK, model.SubmitResponse{Scores: scores})
}

// Execute godoc
// POST /api/v1/execute
// Proxies the candidate's "run code" button to the executor.
func (h *SessionHandler) Execute(c *gin.Context) {
	var req model.ExecuteRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.sessionService.Execute(c.Request.Context(), req)
	if err != nil {
		failService(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}
