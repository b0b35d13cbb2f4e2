package model

import "time"

// Reviewer is the single admin account configured through the environment.
// It has no table; the identity lives in the JWT claims.
type Reviewer struct {
	Email string `json:"email"`
}

// AdminLoginRequest is the payload for reviewer authentication.
type AdminLoginRequest struct {
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=6,max=128"`
}

// AdminLoginResponse is returned after a successful reviewer login.
type AdminLoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Reviewer  Reviewer  `json:"reviewer"`
}
