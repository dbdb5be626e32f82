package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"studio/internal/domain"
)

const webhookEventTaskEnd = "TASK_END"

type runningHubWebhook struct {
	Event     string `json:"event"`
	TaskID    string `json:"taskId"`
	EventData string `json:"eventData"`
}

// RunningHubWebhook handles the provider's completion callback. The payload
// is only a hint: the task is re-queried and reconciled like a poll.
func (a *App) RunningHubWebhook(w http.ResponseWriter, r *http.Request) {
	if !a.webhookAuthorized(r) {
		a.error(w, http.StatusUnauthorized, "unauthorized", "invalid webhook token")
		return
	}
	var payload runningHubWebhook
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	taskID := strings.TrimSpace(payload.TaskID)
	if taskID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "taskId required")
		return
	}
	log := a.Logger.With().Str("task_id", taskID).Str("event", payload.Event).Logger()
	if payload.Event != "" && payload.Event != webhookEventTaskEnd {
		a.json(w, http.StatusOK, map[string]any{"received": true, "ignored": true})
		return
	}
	job, err := a.Gateway.ReconcileTask(r.Context(), taskID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		log.Warn().Msg("webhook for unknown task")
		a.json(w, http.StatusOK, map[string]any{"received": true, "ignored": true})
		return
	case errors.Is(err, domain.ErrReconciliationMismatch):
		log.Warn().Msg("webhook status behind job record")
	case err != nil:
		log.Error().Err(err).Msg("webhook reconcile failed")
		a.error(w, http.StatusBadGateway, "upstream_unavailable", "could not reconcile task")
		return
	}
	log.Info().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("webhook reconciled")
	a.json(w, http.StatusOK, map[string]any{"received": true, "status": job.Status})
}

func (a *App) webhookAuthorized(r *http.Request) bool {
	if a.Config == nil || a.Config.WebhookSecret == "" {
		return false
	}
	got := r.URL.Query().Get("token")
	return subtle.ConstantTimeCompare([]byte(got), []byte(a.Config.WebhookSecret)) == 1
}
