package handlers_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"studio/internal/adapter/memory"
	"studio/internal/domain"
	"studio/internal/gateway"
	"studio/internal/http/handlers"
	"studio/internal/http/httpapi"
	"studio/internal/infra"
	"studio/internal/jobs"
	"studio/internal/middleware"
	"studio/internal/notify"
	"studio/internal/providers/runninghub"
	"studio/internal/providers/runninghub/runninghubtest"
	"studio/internal/realtime"
)

const (
	testSecret  = "test-secret"
	adminToken  = "admin-token"
	hookSecret  = "hook-secret"
	aliceID     = "alice"
	bobID       = "bob"
	pngFixture  = "\x89PNG\r\n\x1a\n"
	poseTool    = "pose-changer"
	defaultWait = 2 * time.Second
)

type apiHarness struct {
	srv    *runninghubtest.Server
	api    *httptest.Server
	ledger *memory.Ledger
	jobs   *memory.JobStore
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	srv := runninghubtest.NewServer("key-1")
	t.Cleanup(srv.Close)
	client, err := runninghub.NewClient(runninghub.Options{APIKey: "key-1", BaseURL: srv.URL, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	tools, err := gateway.LoadTools("")
	if err != nil {
		t.Fatalf("tools: %v", err)
	}
	logger := infra.NewLogger("test")
	store := memory.NewJobStore()
	ledger := memory.NewLedger()
	ctx := context.Background()
	if err := ledger.EnsureAccount(ctx, aliceID, 10); err != nil {
		t.Fatalf("account: %v", err)
	}
	if err := ledger.EnsureAccount(ctx, bobID, 1); err != nil {
		t.Fatalf("account: %v", err)
	}
	hub := realtime.NewHub()
	lifecycle := jobs.NewLifecycle(jobs.LifecycleOptions{
		Jobs:      store,
		Ledger:    ledger,
		Publisher: hub,
		Notifier:  notify.NewNotifier(hub, "pt"),
		Logger:    logger,
		Locale:    "pt",
	})
	gw, err := gateway.New(gateway.Options{Provider: client, Tools: tools, Jobs: store, Finisher: lifecycle, Logger: logger})
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}
	manager := jobs.NewManager(jobs.ManagerOptions{Jobs: store, Ledger: ledger, Gateway: gw, Lifecycle: lifecycle, Events: hub, Logger: logger})

	cfg := &infra.Config{
		AppEnv:          "test",
		JWTSecret:       testSecret,
		AdminToken:      adminToken,
		WebhookSecret:   hookSecret,
		DefaultLocale:   "pt",
		RateLimitPerMin: 100,
		MonthlyCredits:  5,
	}
	app := &handlers.App{
		Config:    cfg,
		Logger:    logger,
		Jobs:      manager,
		Gateway:   gw,
		Ledger:    ledger,
		Accounts:  ledger,
		JWTSecret: cfg.JWTSecret,
	}
	api := httptest.NewServer(httpapi.NewRouter(app))
	t.Cleanup(api.Close)
	return &apiHarness{srv: srv, api: api, ledger: ledger, jobs: store}
}

func newToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := middleware.SignJWT(testSecret, middleware.TokenClaims{
		Sub: userID,
		Exp: time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func (h *apiHarness) do(t *testing.T, method, path, userID string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, h.api.URL+path, reader)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+newToken(t, userID))
	}
	resp, err := h.api.Client().Do(req)
	if err != nil {
		t.Fatalf("do %s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func asset(name string) map[string]string {
	return map[string]string{
		"filename":    name,
		"mime":        "image/png",
		"data_base64": base64.StdEncoding.EncodeToString([]byte(pngFixture + name)),
	}
}

func poseJob() map[string]any {
	return map[string]any{
		"tool": poseTool,
		"assets": map[string]any{
			"image": asset("me.png"),
			"pose":  asset("pose.png"),
		},
		"params": map[string]any{"prompt": "waving"},
	}
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func errorMessage(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	msg, _ := e["message"].(string)
	return msg
}

func (h *apiHarness) createJob(t *testing.T, userID string) map[string]any {
	t.Helper()
	resp, body := h.do(t, http.MethodPost, "/v1/jobs", userID, poseJob())
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("create job status = %d body = %v", resp.StatusCode, body)
	}
	return body
}

func TestHealthIsPublic(t *testing.T) {
	h := newAPIHarness(t)
	resp, body := h.do(t, http.MethodGet, "/v1/healthz", "", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" || body["tools"] != float64(4) {
		t.Fatalf("health = %d %v", resp.StatusCode, body)
	}
}

func TestOpenAPIDocument(t *testing.T) {
	h := newAPIHarness(t)
	resp, body := h.do(t, http.MethodGet, "/v1/openapi.json", "", nil)
	if resp.StatusCode != http.StatusOK || body["openapi"] != "3.0.3" {
		t.Fatalf("openapi = %d %v", resp.StatusCode, body["openapi"])
	}
	paths, _ := body["paths"].(map[string]any)
	if _, ok := paths["/v1/jobs"]; !ok {
		t.Fatalf("paths missing /v1/jobs: %v", paths)
	}
}

func TestJobsRequireAuth(t *testing.T) {
	h := newAPIHarness(t)
	resp, body := h.do(t, http.MethodGet, "/v1/jobs", "", nil)
	if resp.StatusCode != http.StatusUnauthorized || errorCode(body) != "unauthorized" {
		t.Fatalf("status = %d body = %v", resp.StatusCode, body)
	}
}

func TestListTools(t *testing.T) {
	h := newAPIHarness(t)
	resp, body := h.do(t, http.MethodGet, "/v1/tools", aliceID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	tools, _ := body["tools"].([]any)
	if len(tools) != 4 {
		t.Fatalf("tools = %v", body["tools"])
	}
}

func TestCreateJobWebhookCompletes(t *testing.T) {
	h := newAPIHarness(t)
	job := h.createJob(t, aliceID)
	if job["status"] != string(domain.JobStatusQueued) {
		t.Fatalf("job status = %v", job["status"])
	}
	taskID, _ := job["external_task_id"].(string)
	if taskID == "" {
		t.Fatalf("missing task id: %v", job)
	}

	resp, credits := h.do(t, http.MethodGet, "/v1/credits", aliceID, nil)
	if resp.StatusCode != http.StatusOK || credits["balance"] != float64(8) {
		t.Fatalf("credits = %d %v", resp.StatusCode, credits)
	}

	h.srv.Complete(taskID, "https://cdn.example/out.png")
	resp, hook := h.do(t, http.MethodPost, "/v1/webhooks/runninghub?token="+hookSecret, "", map[string]string{
		"event":  "TASK_END",
		"taskId": taskID,
	})
	if resp.StatusCode != http.StatusOK || hook["status"] != string(domain.JobStatusSucceeded) {
		t.Fatalf("webhook = %d %v", resp.StatusCode, hook)
	}

	resp, got := h.do(t, http.MethodGet, "/v1/jobs/"+job["id"].(string), aliceID, nil)
	if resp.StatusCode != http.StatusOK || got["status"] != string(domain.JobStatusSucceeded) {
		t.Fatalf("job = %d %v", resp.StatusCode, got)
	}
	outputs, _ := got["outputs"].([]any)
	if len(outputs) != 1 {
		t.Fatalf("outputs = %v", got["outputs"])
	}
}

func TestFirstRequestOpensAccount(t *testing.T) {
	h := newAPIHarness(t)
	resp, body := h.do(t, http.MethodGet, "/v1/credits", "carol", nil)
	if resp.StatusCode != http.StatusOK || body["balance"] != float64(5) {
		t.Fatalf("credits = %d %v", resp.StatusCode, body)
	}
	resp, body = h.do(t, http.MethodGet, "/v1/credits", bobID, nil)
	if resp.StatusCode != http.StatusOK || body["balance"] != float64(1) {
		t.Fatalf("existing account changed: %d %v", resp.StatusCode, body)
	}
}

func TestWebhookRejectsBadToken(t *testing.T) {
	h := newAPIHarness(t)
	resp, _ := h.do(t, http.MethodPost, "/v1/webhooks/runninghub?token=nope", "", map[string]string{"taskId": "1"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestWebhookUnknownTaskIsAcknowledged(t *testing.T) {
	h := newAPIHarness(t)
	resp, body := h.do(t, http.MethodPost, "/v1/webhooks/runninghub?token="+hookSecret, "", map[string]string{
		"event":  "TASK_END",
		"taskId": "404",
	})
	if resp.StatusCode != http.StatusOK || body["ignored"] != true {
		t.Fatalf("webhook = %d %v", resp.StatusCode, body)
	}
}

func TestCreateJobErrors(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		body     map[string]any
		status   int
		code     string
		message  string
		setup    func(t *testing.T, h *apiHarness)
		wantTask bool
	}{
		{
			name:    "insufficient credits",
			user:    bobID,
			body:    poseJob(),
			status:  http.StatusPaymentRequired,
			code:    "insufficient_credits",
			message: domain.ErrInsufficientCredits.Error(),
		},
		{
			name:   "unknown tool",
			user:   aliceID,
			body:   map[string]any{"tool": "teleporter"},
			status: http.StatusUnprocessableEntity,
			code:   "validation",
		},
		{
			name:   "missing tool",
			user:   aliceID,
			body:   map[string]any{"params": map[string]any{}},
			status: http.StatusUnprocessableEntity,
			code:   "validation",
		},
		{
			name: "invalid base64",
			user: aliceID,
			body: map[string]any{
				"tool": poseTool,
				"assets": map[string]any{
					"image": map[string]string{"filename": "a.png", "mime": "image/png", "data_base64": "***"},
				},
			},
			status: http.StatusUnprocessableEntity,
			code:   "validation",
		},
		{
			name: "missing required slot",
			user: aliceID,
			body: map[string]any{
				"tool":   poseTool,
				"assets": map[string]any{"image": asset("me.png")},
			},
			status: http.StatusUnprocessableEntity,
			code:   "validation",
		},
		{
			name:   "second active job",
			user:   aliceID,
			body:   poseJob(),
			status: http.StatusConflict,
			code:   "active_job",
			setup: func(t *testing.T, h *apiHarness) {
				h.createJob(t, aliceID)
			},
			wantTask: true,
		},
		{
			name:   "provider down",
			user:   aliceID,
			body:   poseJob(),
			status: http.StatusBadGateway,
			code:   "upstream_unavailable",
			setup: func(t *testing.T, h *apiHarness) {
				h.srv.SetUnavailable(true)
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newAPIHarness(t)
			if tc.setup != nil {
				tc.setup(t, h)
			}
			resp, body := h.do(t, http.MethodPost, "/v1/jobs", tc.user, tc.body)
			if resp.StatusCode != tc.status || errorCode(body) != tc.code {
				t.Fatalf("status = %d body = %v, want %d %s", resp.StatusCode, body, tc.status, tc.code)
			}
			if tc.message != "" && errorMessage(body) != tc.message {
				t.Fatalf("message = %q, want %q", errorMessage(body), tc.message)
			}
			if got := len(h.srv.Tasks()) > 0; got != tc.wantTask {
				t.Fatalf("tasks created = %v, want %v", got, tc.wantTask)
			}
		})
	}
}

func TestProviderDownRefundsCredits(t *testing.T) {
	h := newAPIHarness(t)
	h.srv.SetUnavailable(true)
	resp, _ := h.do(t, http.MethodPost, "/v1/jobs", aliceID, poseJob())
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	balance, _ := h.ledger.Balance(context.Background(), aliceID)
	if balance != 10 {
		t.Fatalf("balance = %d, want 10", balance)
	}
}

func TestJobAccessControl(t *testing.T) {
	h := newAPIHarness(t)
	job := h.createJob(t, aliceID)
	id := job["id"].(string)
	taskID := job["external_task_id"].(string)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/v1/jobs/" + id},
		{http.MethodPost, "/v1/jobs/" + id + "/cancel"},
		{http.MethodPost, "/v1/jobs/" + id + "/reconcile"},
		{http.MethodGet, "/v1/tools/" + poseTool + "/tasks/" + taskID},
	}
	for _, p := range paths {
		resp, body := h.do(t, p.method, p.path, bobID, nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s %s as bob = %d %v", p.method, p.path, resp.StatusCode, body)
		}
	}

	resp, status := h.do(t, http.MethodGet, "/v1/tools/"+poseTool+"/tasks/"+taskID, aliceID, nil)
	if resp.StatusCode != http.StatusOK || status["status"] != string(domain.JobStatusQueued) {
		t.Fatalf("task status = %d %v", resp.StatusCode, status)
	}
}

func TestCancelJobRefundsAndIsIdempotent(t *testing.T) {
	h := newAPIHarness(t)
	job := h.createJob(t, aliceID)
	path := "/v1/jobs/" + job["id"].(string) + "/cancel"
	for i := 0; i < 2; i++ {
		resp, body := h.do(t, http.MethodPost, path, aliceID, nil)
		if resp.StatusCode != http.StatusOK || body["status"] != string(domain.JobStatusCancelled) {
			t.Fatalf("cancel %d = %d %v", i, resp.StatusCode, body)
		}
	}
	balance, _ := h.ledger.Balance(context.Background(), aliceID)
	if balance != 10 {
		t.Fatalf("balance = %d, want 10", balance)
	}
	task, _ := h.srv.Task(job["external_task_id"].(string))
	if !task.Cancelled {
		t.Fatalf("upstream task not cancelled")
	}
}

func TestActiveJob(t *testing.T) {
	h := newAPIHarness(t)
	resp, _ := h.do(t, http.MethodGet, "/v1/jobs/active?family=pose", aliceID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	job := h.createJob(t, aliceID)
	resp, got := h.do(t, http.MethodGet, "/v1/jobs/active?family=pose", aliceID, nil)
	if resp.StatusCode != http.StatusOK || got["id"] != job["id"] {
		t.Fatalf("active = %d %v", resp.StatusCode, got)
	}
	resp, list := h.do(t, http.MethodGet, "/v1/jobs", aliceID, nil)
	if items, _ := list["jobs"].([]any); resp.StatusCode != http.StatusOK || len(items) != 1 {
		t.Fatalf("list = %d %v", resp.StatusCode, list)
	}
}

func TestUploadAndRunPendingTool(t *testing.T) {
	h := newAPIHarness(t)
	resp, ref := h.do(t, http.MethodPost, "/v1/tools/"+poseTool+"/upload", aliceID, asset("me.png"))
	if resp.StatusCode != http.StatusCreated || ref["provider_ref"] == "" {
		t.Fatalf("upload = %d %v", resp.StatusCode, ref)
	}

	resp, body := h.do(t, http.MethodPost, "/v1/tools/"+poseTool+"/upload", aliceID, map[string]string{
		"filename": "notes.txt", "mime": "text/plain", "data_base64": base64.StdEncoding.EncodeToString([]byte("hi")),
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("text upload = %d %v", resp.StatusCode, body)
	}

	resp, body = h.do(t, http.MethodPost, "/v1/tools/"+poseTool+"/run", aliceID, map[string]any{
		"job_id": "6f1c2f9e-3f0c-4c55-9a3a-0d3b8b2c1f11",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("run unknown job = %d %v", resp.StatusCode, body)
	}
}

func TestAdminCreditReset(t *testing.T) {
	h := newAPIHarness(t)
	h.createJob(t, aliceID)

	req, _ := http.NewRequest(http.MethodPost, h.api.URL+"/v1/admin/credits/reset", nil)
	req.Header.Set("X-Admin-Token", "wrong")
	resp, err := h.api.Client().Do(req)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodPost, h.api.URL+"/v1/admin/credits/reset", nil)
	req.Header.Set("X-Admin-Token", adminToken)
	resp, err = h.api.Client().Do(req)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != http.StatusOK || body["success"] != true || body["users_reset"] != float64(2) {
		t.Fatalf("reset = %d %v", resp.StatusCode, body)
	}
	balance, _ := h.ledger.Balance(context.Background(), aliceID)
	if balance != 10 {
		t.Fatalf("balance after reset = %d, want 10", balance)
	}
}

func TestJobEventsStreamUntilTerminal(t *testing.T) {
	h := newAPIHarness(t)
	job := h.createJob(t, aliceID)
	id := job["id"].(string)

	wsURL := "ws" + strings.TrimPrefix(h.api.URL, "http") + "/v1/jobs/" + id + "/events?access_token=" + newToken(t, aliceID)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(defaultWait))

	var snapshot realtime.Event
	if err := conn.ReadJSON(&snapshot); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if snapshot.Status != domain.JobStatusQueued || snapshot.JobID != id {
		t.Fatalf("snapshot = %+v", snapshot)
	}

	h.srv.Fail(job["external_task_id"].(string), "CUDA out of memory")
	if resp, body := h.do(t, http.MethodPost, "/v1/jobs/"+id+"/reconcile", aliceID, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("reconcile = %d %v", resp.StatusCode, body)
	}

	var final realtime.Event
	if err := conn.ReadJSON(&final); err != nil {
		t.Fatalf("read final: %v", err)
	}
	if final.Status != domain.JobStatusFailed || final.ErrorText != "Servidor sobrecarregado no momento" {
		t.Fatalf("final = %+v", final)
	}
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}
}

func TestJobEventsFinishedJobSendsFinalState(t *testing.T) {
	h := newAPIHarness(t)
	job := h.createJob(t, aliceID)
	id := job["id"].(string)
	h.do(t, http.MethodPost, "/v1/jobs/"+id+"/cancel", aliceID, nil)

	wsURL := "ws" + strings.TrimPrefix(h.api.URL, "http") + "/v1/jobs/" + id + "/events?access_token=" + newToken(t, aliceID)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(defaultWait))

	var ev realtime.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Status != domain.JobStatusCancelled {
		t.Fatalf("event = %+v", ev)
	}
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}
}
