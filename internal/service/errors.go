package service

import "errors"

// Domain errors mapped to response codes by the handlers.
var (
	ErrInvalidSessionID    = errors.New("invalid session id")
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionClosed       = errors.New("session is closed")
	ErrAlreadySubmitted    = errors.New("session already submitted")
	ErrSessionNotActive    = errors.New("session has not been started")
	ErrUnknownProblem      = errors.New("unknown code problem")
	ErrExecutorUnavailable = errors.New("code executor unavailable")
	ErrInvalidCredentials  = errors.New("invalid credentials")
)
