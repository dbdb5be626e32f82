package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"studio/internal/domain"
	"studio/internal/errmsg"
	"studio/internal/gateway"
	"studio/internal/middleware"
)

// fail maps a domain or gateway error onto the error body. Provider failures
// are shown translated; the raw text only goes to the log.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	locale := middleware.LocaleFromContext(r.Context())
	switch {
	case errors.Is(err, domain.ErrValidation):
		a.error(w, http.StatusUnprocessableEntity, "validation", err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		a.error(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
	case errors.Is(err, domain.ErrInsufficientCredits):
		a.error(w, http.StatusPaymentRequired, "insufficient_credits", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, domain.ErrActiveJob):
		a.error(w, http.StatusConflict, "active_job", err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		a.error(w, http.StatusConflict, "invalid_transition", "job is no longer open")
	case errors.Is(err, domain.ErrReconciliationMismatch):
		a.error(w, http.StatusConflict, "reconciliation_mismatch", "provider status is behind the job record")
	case errors.Is(err, domain.ErrRateLimited):
		retry := time.Minute
		var gwErr *gateway.Error
		if errors.As(err, &gwErr) && gwErr.RetryAfter > 0 {
			retry = gwErr.RetryAfter
		}
		seconds := int(retry.Round(time.Second) / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		a.error(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
	case errors.Is(err, domain.ErrUpstreamTaskFailed):
		a.Logger.Warn().Err(err).Str("path", r.URL.Path).Msg("external task failed")
		a.error(w, http.StatusBadGateway, "external_task_failed", errmsg.TranslateFor(locale, err.Error()).Message)
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		a.Logger.Warn().Err(err).Str("path", r.URL.Path).Msg("upstream unavailable")
		a.error(w, http.StatusBadGateway, "upstream_unavailable", errmsg.TranslateFor(locale, err.Error()).Message)
	case errors.Is(err, domain.ErrMissingCredential):
		a.error(w, http.StatusServiceUnavailable, "unavailable", "generation service is not configured")
	default:
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func validationMessage(err error) string {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return err.Error()
	}
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
