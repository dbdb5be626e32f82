// Package runninghubtest provides an in-process fake of the workflow API
// for tests.
package runninghubtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
)

// Task is the fake's view of a submitted run.
type Task struct {
	ID         string
	WorkflowID string
	Inputs     []map[string]any
	WebhookURL string
	Status     string
	Outputs    []string
	FailReason string
	Cancelled  bool
}

// Server is a stateful fake. Tasks start QUEUED and only move when the test
// drives them.
type Server struct {
	*httptest.Server
	APIKey string

	mu          sync.Mutex
	tasks       map[string]*Task
	order       []string
	uploads     []string
	nextCreate  *failure
	nextUpload  *failure
	unavailable bool
}

type failure struct {
	httpStatus int
	code       int
	msg        string
}

// NewServer starts a fake accepting apiKey.
func NewServer(apiKey string) *Server {
	s := &Server{APIKey: apiKey, tasks: make(map[string]*Task)}
	mux := http.NewServeMux()
	mux.HandleFunc("/task/openapi/create", s.handleCreate)
	mux.HandleFunc("/task/openapi/status", s.handleStatus)
	mux.HandleFunc("/task/openapi/outputs", s.handleOutputs)
	mux.HandleFunc("/task/openapi/cancel", s.handleCancel)
	mux.HandleFunc("/task/openapi/upload", s.handleUpload)
	s.Server = httptest.NewServer(mux)
	return s
}

// Complete marks a task successful with the given output URLs.
func (s *Server) Complete(taskID string, urls ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[taskID]; ok {
		t.Status = "SUCCESS"
		t.Outputs = append([]string(nil), urls...)
	}
}

// Fail marks a task failed with the provider's raw reason.
func (s *Server) Fail(taskID, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[taskID]; ok {
		t.Status = "FAILED"
		t.FailReason = reason
	}
}

// SetStatus forces a raw status string.
func (s *Server) SetStatus(taskID, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[taskID]; ok {
		t.Status = status
	}
}

// FailNextCreate makes the next create call return an API error envelope.
func (s *Server) FailNextCreate(code int, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextCreate = &failure{code: code, msg: msg}
}

// FailNextUpload makes the next upload return the given HTTP status.
func (s *Server) FailNextUpload(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextUpload = &failure{httpStatus: status}
}

// SetUnavailable makes every endpoint answer 503.
func (s *Server) SetUnavailable(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = v
}

// Task returns a copy of a submitted task.
func (s *Server) Task(taskID string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Tasks returns every submitted task in submission order.
func (s *Server) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.tasks[id])
	}
	return out
}

// Uploads returns the names of uploaded files.
func (s *Server) Uploads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.uploads...)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKey       string           `json:"apiKey"`
		WorkflowID   string           `json:"workflowId"`
		NodeInfoList []map[string]any `json:"nodeInfoList"`
		WebhookURL   string           `json:"webhookUrl"`
	}
	if !s.decode(w, r, &req) || !s.authorize(w, req.APIKey) {
		return
	}
	s.mu.Lock()
	if f := s.nextCreate; f != nil {
		s.nextCreate = nil
		s.mu.Unlock()
		writeEnvelope(w, f.code, f.msg, nil)
		return
	}
	id := fmt.Sprintf("%d", 1900000000000000000+len(s.order)+1)
	s.tasks[id] = &Task{ID: id, WorkflowID: req.WorkflowID, Inputs: req.NodeInfoList, WebhookURL: req.WebhookURL, Status: "QUEUED"}
	s.order = append(s.order, id)
	s.mu.Unlock()
	writeEnvelope(w, 0, "success", map[string]any{"taskId": id, "taskStatus": "QUEUED"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	task, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeEnvelope(w, 0, "success", task.Status)
}

func (s *Server) handleOutputs(w http.ResponseWriter, r *http.Request) {
	task, ok := s.lookup(w, r)
	if !ok {
		return
	}
	switch task.Status {
	case "SUCCESS":
		outputs := make([]map[string]any, 0, len(task.Outputs))
		for _, u := range task.Outputs {
			outputs = append(outputs, map[string]any{"fileUrl": u, "fileType": "png", "nodeId": "9"})
		}
		writeEnvelope(w, 0, "success", outputs)
	case "FAILED":
		writeEnvelope(w, 805, "APIKEY_TASK_STATUS_ERROR", map[string]any{
			"failedReason": map[string]any{"exception_message": task.FailReason, "node_name": "KSampler"},
		})
	default:
		writeEnvelope(w, 804, "APIKEY_TASK_IS_RUNNING", nil)
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	task, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	if t := s.tasks[task.ID]; t != nil {
		t.Cancelled = true
		if t.Status == "QUEUED" || t.Status == "RUNNING" {
			t.Status = "FAILED"
			t.FailReason = "task cancelled"
		}
	}
	s.mu.Unlock()
	writeEnvelope(w, 0, "success", nil)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.isUnavailable(w) {
		return
	}
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !s.authorize(w, r.FormValue("apiKey")) {
		return
	}
	s.mu.Lock()
	if f := s.nextUpload; f != nil {
		s.nextUpload = nil
		s.mu.Unlock()
		http.Error(w, "upload failed", f.httpStatus)
		return
	}
	s.mu.Unlock()
	_, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	name := fmt.Sprintf("api/%d-%s", len(s.uploads)+1, header.Filename)
	s.uploads = append(s.uploads, name)
	s.mu.Unlock()
	writeEnvelope(w, 0, "success", map[string]any{"fileName": name, "fileType": r.FormValue("fileType")})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (Task, bool) {
	var req struct {
		APIKey string `json:"apiKey"`
		TaskID string `json:"taskId"`
	}
	if !s.decode(w, r, &req) || !s.authorize(w, req.APIKey) {
		return Task{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[req.TaskID]
	if !ok {
		writeEnvelope(w, 807, "APIKEY_TASK_NOT_FOUND", nil)
		return Task{}, false
	}
	return *t, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if s.isUnavailable(w) {
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) isUnavailable(w http.ResponseWriter) bool {
	s.mu.Lock()
	down := s.unavailable
	s.mu.Unlock()
	if down {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	}
	return down
}

func (s *Server) authorize(w http.ResponseWriter, key string) bool {
	if key != s.APIKey {
		writeEnvelope(w, 412, "TOKEN_INVALID", nil)
		return false
	}
	return true
}

func writeEnvelope(w http.ResponseWriter, code int, msg string, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"code": code, "msg": msg, "data": data})
}
