package gateway

import (
	"errors"
	"net/http"
	"time"

	"studio/internal/domain"
	"studio/internal/providers/runninghub"
)

// Kind classifies gateway failures.
type Kind string

const (
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindRateLimited         Kind = "rate_limited"
	KindInvalidInput        Kind = "invalid_input"
	KindInsufficientCredits Kind = "insufficient_credits"
	KindExternalTaskFailed  Kind = "external_task_failed"
)

var kindSentinels = map[Kind]error{
	KindUpstreamUnavailable: domain.ErrUpstreamUnavailable,
	KindRateLimited:         domain.ErrRateLimited,
	KindInvalidInput:        domain.ErrValidation,
	KindInsufficientCredits: domain.ErrInsufficientCredits,
	KindExternalTaskFailed:  domain.ErrUpstreamTaskFailed,
}

// Error is the typed failure returned by every gateway operation. Message
// is the provider's text when the failure came from upstream.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

// Is matches the domain sentinel for the kind.
func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

func (e *Error) Unwrap() error { return e.Err }

func invalidInput(msg string) *Error {
	return &Error{Kind: KindInvalidInput, Message: msg}
}

// classify maps a provider error onto a gateway Error without rewriting the
// provider's message.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr
	}
	var (
		apiErr    *runninghub.APIError
		httpErr   *runninghub.HTTPError
		failedErr *runninghub.TaskFailedError
	)
	switch {
	case errors.As(err, &failedErr):
		return &Error{Kind: KindExternalTaskFailed, Message: failedErr.Reason, Err: err}
	case errors.As(err, &apiErr):
		kind := KindUpstreamUnavailable
		switch apiErr.Code {
		case 415, 421:
			kind = KindRateLimited
		case 803:
			kind = KindInvalidInput
		}
		return &Error{Kind: kind, Message: apiErr.Message, Err: err}
	case errors.As(err, &httpErr):
		kind := KindUpstreamUnavailable
		if httpErr.StatusCode == http.StatusTooManyRequests {
			kind = KindRateLimited
		}
		return &Error{Kind: kind, Message: err.Error(), Err: err}
	default:
		return &Error{Kind: KindUpstreamUnavailable, Message: err.Error(), Err: err}
	}
}
