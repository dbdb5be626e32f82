package handlers

import (
	"encoding/json"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"studio/internal/domain"
	"studio/internal/gateway"
	"studio/internal/infra"
	"studio/internal/jobs"
	"studio/internal/metrics"
	"studio/internal/middleware"
	"studio/internal/ratelimit"
)

// App carries the dependencies shared by every handler.
type App struct {
	Config         *infra.Config
	Logger         infra.Logger
	Jobs           *jobs.Manager
	Gateway        *gateway.Gateway
	Ledger         domain.CreditLedger
	Accounts       domain.AccountOpener
	Metrics        metrics.Metrics
	MetricsHandler http.Handler
	Limiter        ratelimit.Limiter
	CountryLookup  middleware.CountryLookup
	JWTSecret      string

	opened sync.Map
}

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]any{
		"error": map[string]string{
			"code":    errCode,
			"message": message,
		},
	})
}

func (a *App) session(w http.ResponseWriter, r *http.Request) (domain.Session, bool) {
	sess, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return domain.Session{}, false
	}
	a.ensureAccount(r, sess.UserID)
	return sess, true
}

// ensureAccount gives a first-time user the monthly allowance. Failures are
// logged; the request continues with whatever balance exists.
func (a *App) ensureAccount(r *http.Request, userID string) {
	if a.Accounts == nil || a.Config == nil || a.Config.MonthlyCredits <= 0 {
		return
	}
	if _, seen := a.opened.Load(userID); seen {
		return
	}
	if err := a.Accounts.EnsureAccount(r.Context(), userID, a.Config.MonthlyCredits); err != nil {
		a.Logger.Warn().Err(err).Str("user_id", userID).Msg("open credit account failed")
		return
	}
	a.opened.Store(userID, struct{}{})
}

// decode reads a JSON body into dst and runs its validate tags.
func (a *App) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		a.error(w, http.StatusUnprocessableEntity, "validation", validationMessage(err))
		return false
	}
	return true
}
