package handlers

import (
	"net/http"
	"strconv"

	"studio/internal/domain"
)

func (a *App) Credits(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	balance, entries, err := a.Jobs.Balance(r.Context(), sess, limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []domain.CreditEntry{}
	}
	a.json(w, http.StatusOK, map[string]any{
		"balance": balance,
		"entries": entries,
	})
}
