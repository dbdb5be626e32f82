package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// ResetCredits restores every account to its monthly allowance. It is meant
// for a scheduler and is guarded by the admin token, not a user session.
func (a *App) ResetCredits(w http.ResponseWriter, r *http.Request) {
	if !a.adminAuthorized(r) {
		a.error(w, http.StatusUnauthorized, "unauthorized", "invalid admin token")
		return
	}
	n, err := a.Ledger.ResetMonthly(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.Logger.Info().Int("users_reset", n).Msg("monthly credits reset")
	a.json(w, http.StatusOK, map[string]any{"success": true, "users_reset": n})
}

func (a *App) adminAuthorized(r *http.Request) bool {
	if a.Config == nil || a.Config.AdminToken == "" {
		return false
	}
	got := strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	return subtle.ConstantTimeCompare([]byte(got), []byte(a.Config.AdminToken)) == 1
}
