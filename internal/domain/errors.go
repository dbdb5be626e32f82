package domain

import "errors"

var (
	ErrNotFound               = errors.New("not found")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrValidation             = errors.New("invalid input")
	ErrInsufficientCredits    = errors.New("insufficient credits")
	ErrRateLimited            = errors.New("rate limited")
	ErrUpstreamUnavailable    = errors.New("upstream unavailable")
	ErrUpstreamTaskFailed     = errors.New("external task failed")
	ErrReconciliationMismatch = errors.New("reconciliation mismatch")
	ErrActiveJob              = errors.New("an active job already exists for this tool")
	ErrInvalidTransition      = errors.New("invalid job transition")
	ErrMissingCredential      = errors.New("missing provider credential")
)
