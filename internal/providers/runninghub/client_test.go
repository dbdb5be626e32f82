package runninghub

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"studio/internal/providers/runninghub/runninghubtest"
)

func newTestClient(t *testing.T, srv *runninghubtest.Server, key string) *Client {
	t.Helper()
	client, err := NewClient(Options{APIKey: key, BaseURL: srv.URL, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestCreateTaskSendsNodeInputs(t *testing.T) {
	srv := runninghubtest.NewServer("key-1")
	defer srv.Close()
	client := newTestClient(t, srv, "key-1")

	task, err := client.CreateTask(context.Background(), CreateTaskRequest{
		WorkflowID: "1850925505116598274",
		Inputs: []NodeInput{
			{NodeID: "10", FieldName: "image", FieldValue: "api/1-pose.png"},
			{NodeID: "6", FieldName: "text", FieldValue: "waving"},
		},
		WebhookURL: "https://studio.example.com/v1/webhooks/runninghub",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.TaskID == "" || task.Status != StatusQueued {
		t.Fatalf("unexpected task: %+v", task)
	}
	got, ok := srv.Task(task.TaskID)
	if !ok {
		t.Fatalf("task not recorded by server")
	}
	if got.WorkflowID != "1850925505116598274" || len(got.Inputs) != 2 {
		t.Fatalf("unexpected submission: %+v", got)
	}
	if got.Inputs[0]["nodeId"] != "10" || got.Inputs[1]["fieldValue"] != "waving" {
		t.Fatalf("node inputs not forwarded: %+v", got.Inputs)
	}
	if got.WebhookURL == "" {
		t.Fatalf("expected webhook url to be forwarded")
	}
}

func TestTaskLifecycleStatusAndOutputs(t *testing.T) {
	srv := runninghubtest.NewServer("key-1")
	defer srv.Close()
	client := newTestClient(t, srv, "key-1")
	ctx := context.Background()

	task, err := client.CreateTask(ctx, CreateTaskRequest{WorkflowID: "wf"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	srv.SetStatus(task.TaskID, "running")
	status, err := client.TaskStatus(ctx, task.TaskID)
	if err != nil || status != StatusRunning {
		t.Fatalf("status = %q, %v", status, err)
	}

	srv.Complete(task.TaskID, "https://cdn.example.com/out-1.png", "https://cdn.example.com/out-2.png")
	outputs, err := client.TaskOutputs(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("outputs: %v", err)
	}
	if len(outputs) != 2 || outputs[1].FileURL != "https://cdn.example.com/out-2.png" {
		t.Fatalf("unexpected outputs: %+v", outputs)
	}
}

func TestTaskOutputsFailureReason(t *testing.T) {
	srv := runninghubtest.NewServer("key-1")
	defer srv.Close()
	client := newTestClient(t, srv, "key-1")
	ctx := context.Background()

	task, _ := client.CreateTask(ctx, CreateTaskRequest{WorkflowID: "wf"})
	srv.Fail(task.TaskID, "CUDA out of memory. Tried to allocate 2.00 GiB")

	_, err := client.TaskOutputs(ctx, task.TaskID)
	var failed *TaskFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected TaskFailedError, got %v", err)
	}
	if failed.Reason != "CUDA out of memory. Tried to allocate 2.00 GiB" {
		t.Fatalf("reason = %q", failed.Reason)
	}
}

func TestAPIErrorKeepsProviderMessage(t *testing.T) {
	srv := runninghubtest.NewServer("key-1")
	defer srv.Close()
	client := newTestClient(t, srv, "key-1")

	srv.FailNextCreate(421, "TASK_QUEUE_MAXED")
	_, err := client.CreateTask(context.Background(), CreateTaskRequest{WorkflowID: "wf"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != 421 || apiErr.Message != "TASK_QUEUE_MAXED" {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := newTestClient(t, srv, "wrong")
	if _, err := bad.TaskStatus(context.Background(), "1"); !errors.As(err, &apiErr) || apiErr.Code != 412 {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestUploadMultipart(t *testing.T) {
	srv := runninghubtest.NewServer("key-1")
	defer srv.Close()
	client := newTestClient(t, srv, "key-1")

	uploaded, err := client.Upload(context.Background(), "pose.png", "image/png", []byte{0x89, 'P', 'N', 'G'})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if uploaded.FileName != "api/1-pose.png" || uploaded.FileType != "image" {
		t.Fatalf("unexpected upload: %+v", uploaded)
	}

	srv.FailNextUpload(http.StatusBadGateway)
	_, err = client.Upload(context.Background(), "pose.png", "image/png", []byte{1})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected HTTPError 502, got %v", err)
	}
}

func TestMissingAPIKey(t *testing.T) {
	client, _ := NewClient(Options{})
	if client.HasCredentials() {
		t.Fatalf("expected no credentials")
	}
	if _, err := client.CreateTask(context.Background(), CreateTaskRequest{WorkflowID: "wf"}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestCancelTask(t *testing.T) {
	srv := runninghubtest.NewServer("key-1")
	defer srv.Close()
	client := newTestClient(t, srv, "key-1")

	task, _ := client.CreateTask(context.Background(), CreateTaskRequest{WorkflowID: "wf"})
	if err := client.CancelTask(context.Background(), task.TaskID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, _ := srv.Task(task.TaskID)
	if !got.Cancelled {
		t.Fatalf("expected task to be cancelled")
	}
}
