package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/techassess/internal/model"
	"github.com/stemsi/techassess/internal/response"
	"github.com/stemsi/techassess/internal/validator"
)

const (
	defaultPerPage = 20
)

// SessionLister is the reviewer-facing read API.
type SessionLister interface {
	List(ctx context.Context, state *model.SessionState, page, perPage int) (*model.SessionListResponse, int64, error)
	Detail(ctx context.Context, id string) (*model.SessionDetail, error)
}

// AdminHandler serves the reviewer dashboard endpoints.
type AdminHandler struct {
	sessionService SessionLister
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(sessionService SessionLister) *AdminHandler {
	return &AdminHandler{sessionService: sessionService}
}

// ListSessions godoc
// GET /api/v1/admin/sessions?state=&page=&per_page=
// Returns a page of sessions, newest first, plus per-state counts.
func (h *AdminHandler) ListSessions(c *gin.Context) {
	var q model.ListSessionsQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.PerPage == 0 {
		q.PerPage = defaultPerPage
	}

	var state *model.SessionState
	if q.State != "" {
		s := model.SessionState(q.State)
		state = &s
	}

	list, total, err := h.sessionService.List(c.Request.Context(), state, q.Page, q.PerPage)
	if err != nil {
		failService(c, err)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, list, response.NewPagination(q.Page, q.PerPage, total))
}

// GetSession godoc
// GET /api/v1/admin/sessions/:id
// Returns the session with its graded submission, if any.
func (h *AdminHandler) GetSession(c *gin.Context) {
	detail, err := h.sessionService.Detail(c.Request.Context(), c.Param("id"))
	if err != nil {
		failService(c, err)
		return
	}
	response.Success(c, http.StatusOK, detail)
}
