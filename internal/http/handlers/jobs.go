package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"studio/internal/domain"
)

type createJobRequest struct {
	Tool   string                  `json:"tool" validate:"required"`
	Assets map[string]assetPayload `json:"assets" validate:"dive"`
	Params map[string]any          `json:"params"`
}

func (a *App) CreateJob(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	var req createJobRequest
	if !a.decode(w, r, &req) {
		return
	}
	assets := make(map[string]domain.Asset, len(req.Assets))
	for name, payload := range req.Assets {
		asset, err := payload.asset()
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", name+": data_base64 is not valid base64")
			return
		}
		assets[name] = asset
	}
	handle, err := a.Jobs.StartJob(r.Context(), sess, req.Tool, assets, req.Params)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	// Clients follow progress on the events endpoint.
	handle.Subscription.Cancel()
	a.json(w, http.StatusAccepted, handle.Job)
}

func (a *App) ListJobs(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	list, err := a.Jobs.List(r.Context(), sess, limit, offset)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if list == nil {
		list = []domain.Job{}
	}
	a.json(w, http.StatusOK, map[string]any{"jobs": list})
}

func (a *App) ActiveJob(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	family := r.URL.Query().Get("family")
	if family == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "family required")
		return
	}
	job, err := a.Jobs.Active(r.Context(), sess, family)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, job)
}

func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	job, err := a.Jobs.Get(r.Context(), sess, chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, job)
}

func (a *App) CancelJob(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	job, err := a.Jobs.CancelJob(r.Context(), sess, chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, job)
}

func (a *App) ReconcileJob(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	job, err := a.Jobs.Reconcile(r.Context(), sess, chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, job)
}
