package handlers

import (
	"net/http"
)

// PrometheusMetrics serves the Prometheus exposition when a registry is wired.
func (a *App) PrometheusMetrics(w http.ResponseWriter, r *http.Request) {
	if a.MetricsHandler == nil {
		a.error(w, http.StatusNotFound, "not_found", "metrics disabled")
		return
	}
	a.MetricsHandler.ServeHTTP(w, r)
}
