package handlers

import (
	"net/http"
)

type healthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store,omitempty"`
	Tools  int    `json:"tools"`
}

// Health is the liveness probe. It reports the store driver and how many
// tools the gateway loaded, so a deploy with an empty tools file shows up.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if a.Config != nil {
		resp.Store = a.Config.StoreDriver
	}
	if a.Gateway != nil {
		resp.Tools = len(a.Gateway.Tools())
	}
	a.json(w, http.StatusOK, resp)
}
