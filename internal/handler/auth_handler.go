package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/techassess/internal/middleware"
	"github.com/stemsi/techassess/internal/model"
	"github.com/stemsi/techassess/internal/response"
	"github.com/stemsi/techassess/internal/validator"
)

// Authenticator checks reviewer credentials and issues tokens.
type Authenticator interface {
	AdminLogin(email, password string) (string, time.Time, error)
}

// AuthHandler handles reviewer authentication endpoints.
type AuthHandler struct {
	authService Authenticator
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authService Authenticator) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// AdminLogin godoc
// POST /api/v1/admin/login
func (h *AuthHandler) AdminLogin(c *gin.Context) {
	var req model.AdminLoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	token, exp, err := h.authService.AdminLogin(req.Email, req.Password)
	if err != nil {
		failService(c, err)
		return
	}

	response.Success(c, http.StatusOK, model.AdminLoginResponse{
		Token:     token,
		ExpiresAt: exp,
		Reviewer:  model.Reviewer{Email: req.Email},
	})
}

// GetAdminProfile godoc
// GET /api/v1/admin/me
// Returns the identity carried by the reviewer token.
func (h *AuthHandler) GetAdminProfile(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"reviewer":   model.Reviewer{Email: claims.Email},
		"expires_at": claims.ExpiresAt,
	})
}
