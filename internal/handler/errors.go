package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/techassess/internal/response"
	"github.com/stemsi/techassess/internal/service"
)

// failService maps a service error to its status and error code.
func failService(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidSessionID):
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
	case errors.Is(err, service.ErrSessionNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
	case errors.Is(err, service.ErrSessionClosed):
		response.Fail(c, http.StatusConflict, response.ErrSessionClosed)
	case errors.Is(err, service.ErrAlreadySubmitted):
		response.Fail(c, http.StatusConflict, response.ErrAlreadySubmitted)
	case errors.Is(err, service.ErrSessionNotActive):
		response.Fail(c, http.StatusConflict, response.ErrSessionNotActive)
	case errors.Is(err, service.ErrUnknownProblem):
		response.Fail(c, http.StatusNotFound, response.ErrUnknownProblem)
	case errors.Is(err, service.ErrExecutorUnavailable):
		response.Fail(c, http.StatusBadGateway, response.ErrExecutorUnavailable)
	case errors.Is(err, service.ErrInvalidCredentials):
		response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
	default:
		_ = c.Error(err)
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
