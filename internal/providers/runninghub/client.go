package runninghub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"studio/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("runninghub: api key is required")

// Task statuses reported by the workflow API.
const (
	StatusQueued  = "QUEUED"
	StatusRunning = "RUNNING"
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// Options configures the workflow API client.
type Options struct {
	APIKey         string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the RunningHub workflow API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

// NodeInput overrides one field of one workflow node.
type NodeInput struct {
	NodeID     string `json:"nodeId"`
	FieldName  string `json:"fieldName"`
	FieldValue any    `json:"fieldValue"`
}

// CreateTaskRequest submits a workflow run.
type CreateTaskRequest struct {
	WorkflowID string
	Inputs     []NodeInput
	WebhookURL string
}

// Task is the provider's acknowledgement of a submitted run.
type Task struct {
	TaskID string `json:"taskId"`
	Status string `json:"taskStatus"`
}

// Output is one produced file.
type Output struct {
	FileURL  string `json:"fileUrl"`
	FileType string `json:"fileType"`
	NodeID   string `json:"nodeId"`
}

// UploadedFile is the provider-side reference of an uploaded input.
type UploadedFile struct {
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
}

// APIError is a non-zero code returned in the response envelope. Message is
// the provider's text, unmodified.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("runninghub: %s (code %d)", e.Message, e.Code)
}

// TaskFailedError carries the provider's failure reason for a finished task.
type TaskFailedError struct {
	Reason string
}

func (e *TaskFailedError) Error() string {
	return e.Reason
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type createTaskPayload struct {
	APIKey       string      `json:"apiKey"`
	WorkflowID   string      `json:"workflowId"`
	NodeInfoList []NodeInput `json:"nodeInfoList,omitempty"`
	WebhookURL   string      `json:"webhookUrl,omitempty"`
}

type taskPayload struct {
	APIKey string `json:"apiKey"`
	TaskID string `json:"taskId"`
}

type failedData struct {
	FailedReason struct {
		ExceptionMessage string `json:"exception_message"`
		ExceptionType    string `json:"exception_type"`
		NodeName         string `json:"node_name"`
	} `json:"failedReason"`
}

// codeTaskFailed is returned by the outputs endpoint for failed tasks.
const codeTaskFailed = 805

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://www.runninghub.ai"
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// CreateTask submits a workflow run and returns the provider task.
func (c *Client) CreateTask(ctx context.Context, req CreateTaskRequest) (*Task, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	if strings.TrimSpace(req.WorkflowID) == "" {
		return nil, errors.New("runninghub: workflow id is required")
	}
	payload := createTaskPayload{
		APIKey:       c.apiKey,
		WorkflowID:   req.WorkflowID,
		NodeInfoList: req.Inputs,
		WebhookURL:   req.WebhookURL,
	}
	data, err := c.postJSON(ctx, "/task/openapi/create", payload)
	if err != nil {
		return nil, err
	}
	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("runninghub: decode task: %w", err)
	}
	if task.TaskID == "" {
		return nil, errors.New("runninghub: empty task id")
	}
	c.logger.Debug().
		Str("workflow_id", req.WorkflowID).
		Str("task_id", task.TaskID).
		Int("inputs", len(req.Inputs)).
		Msg("runninghub: task created")
	return &task, nil
}

// TaskStatus returns one of the Status constants.
func (c *Client) TaskStatus(ctx context.Context, taskID string) (string, error) {
	if !c.HasCredentials() {
		return "", ErrMissingAPIKey
	}
	data, err := c.postJSON(ctx, "/task/openapi/status", taskPayload{APIKey: c.apiKey, TaskID: taskID})
	if err != nil {
		return "", err
	}
	var status string
	if err := json.Unmarshal(data, &status); err != nil {
		return "", fmt.Errorf("runninghub: decode status: %w", err)
	}
	return strings.ToUpper(strings.TrimSpace(status)), nil
}

// TaskOutputs returns the produced files of a finished task. A failed task
// yields *TaskFailedError with the provider's reason.
func (c *Client) TaskOutputs(ctx context.Context, taskID string) ([]Output, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	data, err := c.postJSON(ctx, "/task/openapi/outputs", taskPayload{APIKey: c.apiKey, TaskID: taskID})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == codeTaskFailed {
			return nil, &TaskFailedError{Reason: failureReason(apiErr.Message, data)}
		}
		return nil, err
	}
	var outputs []Output
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &outputs); err != nil {
			return nil, fmt.Errorf("runninghub: decode outputs: %w", err)
		}
	}
	return outputs, nil
}

// CancelTask asks the provider to stop a task.
func (c *Client) CancelTask(ctx context.Context, taskID string) error {
	if !c.HasCredentials() {
		return ErrMissingAPIKey
	}
	_, err := c.postJSON(ctx, "/task/openapi/cancel", taskPayload{APIKey: c.apiKey, TaskID: taskID})
	return err
}

// Upload sends an input file and returns the provider file name to reference
// from workflow nodes.
func (c *Client) Upload(ctx context.Context, filename, mimeType string, data []byte) (*UploadedFile, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	if len(data) == 0 {
		return nil, errors.New("runninghub: empty upload")
	}
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("apiKey", c.apiKey); err != nil {
		return nil, fmt.Errorf("runninghub: encode upload: %w", err)
	}
	if err := writer.WriteField("fileType", fileType(mimeType)); err != nil {
		return nil, fmt.Errorf("runninghub: encode upload: %w", err)
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("runninghub: encode upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("runninghub: encode upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("runninghub: encode upload: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/task/openapi/upload", &body)
	if err != nil {
		return nil, fmt.Errorf("runninghub: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	raw, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}
	var uploaded UploadedFile
	if err := json.Unmarshal(raw, &uploaded); err != nil {
		return nil, fmt.Errorf("runninghub: decode upload: %w", err)
	}
	if uploaded.FileName == "" {
		return nil, errors.New("runninghub: empty file name")
	}
	return &uploaded, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("runninghub: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("runninghub: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return c.do(httpReq)
}

// do executes the request and unwraps the {code, msg, data} envelope. On an
// API error the data payload is still returned alongside the error.
func (c *Client) do(httpReq *http.Request) (json.RawMessage, error) {
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("runninghub: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("runninghub: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("runninghub: decode response: %w", err)
	}
	if env.Code != 0 {
		return env.Data, &APIError{Code: env.Code, Message: env.Msg}
	}
	return env.Data, nil
}

// HTTPError is a non-2xx response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("runninghub: status %d: %s", e.StatusCode, e.Body)
}

func failureReason(msg string, data json.RawMessage) string {
	var failed failedData
	if len(data) > 0 && json.Unmarshal(data, &failed) == nil {
		if reason := strings.TrimSpace(failed.FailedReason.ExceptionMessage); reason != "" {
			return reason
		}
	}
	if msg = strings.TrimSpace(msg); msg != "" {
		return msg
	}
	return "task failed"
}

func fileType(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "video/"):
		return "video"
	case strings.HasPrefix(mimeType, "audio/"):
		return "audio"
	case strings.HasPrefix(mimeType, "image/"), mimeType == "":
		return "image"
	default:
		return "input"
	}
}
