package handlers

import (
	"encoding/base64"
	"net/http"

	"github.com/go-chi/chi/v5"

	"studio/internal/domain"
	"studio/internal/gateway"
)

type assetPayload struct {
	Folder     string `json:"folder"`
	Filename   string `json:"filename" validate:"required"`
	MIME       string `json:"mime" validate:"required"`
	DataBase64 string `json:"data_base64" validate:"required,base64"`
}

func (p assetPayload) asset() (domain.Asset, error) {
	data, err := base64.StdEncoding.DecodeString(p.DataBase64)
	if err != nil {
		return domain.Asset{}, err
	}
	return domain.Asset{Folder: p.Folder, Filename: p.Filename, MIME: p.MIME, Data: data}, nil
}

type runRequest struct {
	JobID  string                     `json:"job_id" validate:"required,uuid"`
	Assets map[string]domain.AssetRef `json:"assets"`
	Params map[string]any             `json:"params"`
}

func (a *App) ListTools(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{"tools": a.Gateway.Tools()})
}

func (a *App) UploadAsset(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	var req assetPayload
	if !a.decode(w, r, &req) {
		return
	}
	asset, err := req.asset()
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "data_base64 is not valid base64")
		return
	}
	ref, err := a.Gateway.Upload(r.Context(), sess.UserID, chi.URLParam(r, "tool"), asset)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, ref)
}

// RunTool submits an already-recorded job to the provider. The job must
// belong to the caller and to the tool in the path.
func (a *App) RunTool(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	var req runRequest
	if !a.decode(w, r, &req) {
		return
	}
	tool := chi.URLParam(r, "tool")
	job, err := a.Jobs.Get(r.Context(), sess, req.JobID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if job.Tool != tool {
		a.error(w, http.StatusUnprocessableEntity, "validation", "job belongs to another tool")
		return
	}
	taskID, err := a.Gateway.Run(r.Context(), gateway.RunRequest{
		UserID: job.UserID,
		JobID:  job.ID,
		Tool:   tool,
		Assets: req.Assets,
		Params: req.Params,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"task_id": taskID})
}

func (a *App) TaskStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	taskID := chi.URLParam(r, "task_id")
	job, err := a.Jobs.GetByTask(r.Context(), sess, taskID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if job.Tool != chi.URLParam(r, "tool") {
		a.error(w, http.StatusNotFound, "not_found", "not found")
		return
	}
	status, err := a.Gateway.QueryStatus(r.Context(), taskID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, status)
}
