// Package gateway submits work to the external workflow service. One
// gateway serves every tool; tools differ only by their ToolConfig.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"studio/internal/domain"
	"studio/internal/infra"
	"studio/internal/metrics"
	"studio/internal/providers/runninghub"
	"studio/internal/ratelimit"
	"studio/internal/storage"
)

// Provider is the subset of the workflow API the gateway needs.
type Provider interface {
	HasCredentials() bool
	Upload(ctx context.Context, filename, mimeType string, data []byte) (*runninghub.UploadedFile, error)
	CreateTask(ctx context.Context, req runninghub.CreateTaskRequest) (*runninghub.Task, error)
	TaskStatus(ctx context.Context, taskID string) (string, error)
	TaskOutputs(ctx context.Context, taskID string) ([]runninghub.Output, error)
	CancelTask(ctx context.Context, taskID string) error
}

// Finisher applies provider-observed state to a job record. The jobs
// lifecycle implements it; it owns refunds and event publication.
type Finisher interface {
	MarkRunning(ctx context.Context, job *domain.Job) (*domain.Job, error)
	Succeed(ctx context.Context, job *domain.Job, outputs []domain.Output) (*domain.Job, error)
	Fail(ctx context.Context, job *domain.Job, raw string) (*domain.Job, error)
}

// Options wires a Gateway.
type Options struct {
	Provider   Provider
	Tools      []ToolConfig
	Jobs       domain.JobStore
	Finisher   Finisher
	Limiter    ratelimit.Limiter
	Files      *storage.FileStore
	Metrics    metrics.Metrics
	Logger     infra.Logger
	WebhookURL string
}

// Gateway is safe for concurrent use.
type Gateway struct {
	provider   Provider
	tools      map[string]ToolConfig
	order      []string
	jobs       domain.JobStore
	finisher   Finisher
	limiter    ratelimit.Limiter
	files      *storage.FileStore
	metrics    metrics.Metrics
	logger     infra.Logger
	webhookURL string
	now        func() time.Time
}

// RunRequest submits one job.
type RunRequest struct {
	UserID string
	JobID  string
	Tool   string
	Assets map[string]domain.AssetRef
	Params map[string]any
}

// TaskStatus is the provider's view of a task in job terms.
type TaskStatus struct {
	Status  domain.JobStatus `json:"status"`
	Outputs []string         `json:"outputs,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// New validates opts. A provider without credentials is a startup error.
func New(opts Options) (*Gateway, error) {
	if opts.Provider == nil || !opts.Provider.HasCredentials() {
		return nil, fmt.Errorf("gateway: %w", domain.ErrMissingCredential)
	}
	if len(opts.Tools) == 0 {
		return nil, errors.New("gateway: no tools configured")
	}
	if opts.Jobs == nil || opts.Finisher == nil {
		return nil, errors.New("gateway: job store and finisher are required")
	}
	g := &Gateway{
		provider:   opts.Provider,
		tools:      make(map[string]ToolConfig, len(opts.Tools)),
		jobs:       opts.Jobs,
		finisher:   opts.Finisher,
		limiter:    opts.Limiter,
		files:      opts.Files,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		webhookURL: strings.TrimSpace(opts.WebhookURL),
		now:        time.Now,
	}
	if g.limiter == nil {
		g.limiter = ratelimit.NewMemoryLimiter()
	}
	if g.metrics == nil {
		g.metrics = metrics.Noop{}
	}
	for _, tool := range opts.Tools {
		g.tools[tool.Name] = tool
		g.order = append(g.order, tool.Name)
	}
	return g, nil
}

// Tools lists the configured tools in a stable order.
func (g *Gateway) Tools() []ToolConfig {
	out := make([]ToolConfig, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.tools[name])
	}
	return out
}

// Tool looks up a tool by name.
func (g *Gateway) Tool(name string) (ToolConfig, bool) {
	tool, ok := g.tools[name]
	return tool, ok
}

func (g *Gateway) tool(name string) (ToolConfig, error) {
	tool, ok := g.tools[name]
	if !ok {
		return ToolConfig{}, invalidInput(fmt.Sprintf("unknown tool %q", name))
	}
	return tool, nil
}

func (g *Gateway) allow(ctx context.Context, op, tool, userID string, limit int) error {
	decision, err := g.limiter.Allow(ctx, op+":"+tool+":"+userID, limit, time.Minute)
	if err != nil {
		// A broken limiter must not block submissions.
		g.logger.Warn().Err(err).Str("tool", tool).Msg("gateway: rate limiter unavailable")
		return nil
	}
	if !decision.Allowed {
		return &Error{Kind: KindRateLimited, Message: fmt.Sprintf("too many %s requests", op), RetryAfter: decision.RetryAfter}
	}
	return nil
}

// Upload archives asset locally and sends it to the provider.
func (g *Gateway) Upload(ctx context.Context, userID, toolName string, asset domain.Asset) (domain.AssetRef, error) {
	tool, err := g.tool(toolName)
	if err != nil {
		return domain.AssetRef{}, err
	}
	if err := g.allow(ctx, "upload", tool.Name, userID, tool.Limits.UploadsPerMinute); err != nil {
		return domain.AssetRef{}, err
	}
	if len(asset.Data) == 0 {
		return domain.AssetRef{}, invalidInput("file is empty")
	}
	if asset.MIME != "" && !strings.HasPrefix(asset.MIME, "image/") {
		return domain.AssetRef{}, invalidInput(fmt.Sprintf("unsupported file type %q", asset.MIME))
	}
	folder := asset.Folder
	if folder == "" {
		folder = tool.Family
	}

	var ref domain.AssetRef
	if g.files != nil {
		key, err := g.files.Write(ctx, storage.AssetKey(folder, userID, asset.Filename, asset.MIME), asset.Data)
		if err != nil {
			return domain.AssetRef{}, fmt.Errorf("gateway: archive upload: %w", err)
		}
		ref.Key = key
		ref.URL = g.files.URL(key)
	}

	uploaded, err := g.provider.Upload(ctx, asset.Filename, asset.MIME, asset.Data)
	if err != nil {
		g.metrics.IncGatewayCalls("upload", "error")
		g.logger.Error().Err(err).Str("tool", tool.Name).Str("user_id", userID).Msg("gateway: upload failed")
		return domain.AssetRef{}, classify(err)
	}
	g.metrics.IncGatewayCalls("upload", "ok")
	ref.ProviderRef = uploaded.FileName
	return ref, nil
}

// Run submits the job's workflow and records the task id on the job.
func (g *Gateway) Run(ctx context.Context, req RunRequest) (string, error) {
	tool, err := g.tool(req.Tool)
	if err != nil {
		return "", err
	}
	if err := g.allow(ctx, "run", tool.Name, req.UserID, tool.Limits.RunsPerMinute); err != nil {
		return "", err
	}
	inputs, err := BuildInputs(tool, req.Assets, req.Params)
	if err != nil {
		return "", err
	}
	task, err := g.provider.CreateTask(ctx, runninghub.CreateTaskRequest{
		WorkflowID: tool.WorkflowID,
		Inputs:     inputs,
		WebhookURL: g.webhookURL,
	})
	if err != nil {
		g.metrics.IncGatewayCalls("run", "error")
		g.logger.Error().Err(err).Str("tool", tool.Name).Str("job_id", req.JobID).Msg("gateway: submit failed")
		return "", classify(err)
	}
	g.metrics.IncGatewayCalls("run", "ok")
	log := g.logger.With().Str("tool", tool.Name).Str("job_id", req.JobID).Str("task_id", task.TaskID).Logger()

	if req.JobID == "" {
		return task.TaskID, nil
	}
	if _, err := g.jobs.AttachExternalTask(ctx, req.JobID, task.TaskID); err != nil {
		// An unrecorded task can never be correlated again, so it is
		// cancelled whatever the attach failure was.
		if errors.Is(err, domain.ErrInvalidTransition) {
			log.Warn().Msg("gateway: job closed before submission completed; cancelling task")
		} else {
			log.Error().Err(err).Msg("gateway: attach task failed; cancelling task")
		}
		if cerr := g.provider.CancelTask(context.WithoutCancel(ctx), task.TaskID); cerr != nil {
			log.Warn().Err(cerr).Msg("gateway: cancel orphaned task")
		}
		return "", fmt.Errorf("gateway: attach task: %w", err)
	}
	log.Info().Msg("gateway: task submitted")
	return task.TaskID, nil
}

// QueryStatus asks the provider about a task.
func (g *Gateway) QueryStatus(ctx context.Context, taskID string) (TaskStatus, error) {
	if strings.TrimSpace(taskID) == "" {
		return TaskStatus{}, invalidInput("task id is required")
	}
	raw, err := g.provider.TaskStatus(ctx, taskID)
	if err != nil {
		g.metrics.IncGatewayCalls("status", "error")
		return TaskStatus{}, classify(err)
	}
	g.metrics.IncGatewayCalls("status", "ok")
	switch raw {
	case runninghub.StatusQueued:
		return TaskStatus{Status: domain.JobStatusQueued}, nil
	case runninghub.StatusRunning:
		return TaskStatus{Status: domain.JobStatusRunning}, nil
	case runninghub.StatusSuccess, runninghub.StatusFailed:
	default:
		return TaskStatus{}, &Error{Kind: KindUpstreamUnavailable, Message: fmt.Sprintf("unknown task status %q", raw)}
	}

	outputs, err := g.provider.TaskOutputs(ctx, taskID)
	var failed *runninghub.TaskFailedError
	switch {
	case errors.As(err, &failed):
		return TaskStatus{Status: domain.JobStatusFailed, Error: failed.Reason}, nil
	case err != nil:
		return TaskStatus{}, classify(err)
	case raw == runninghub.StatusFailed:
		return TaskStatus{Status: domain.JobStatusFailed, Error: "task failed"}, nil
	}
	st := TaskStatus{Status: domain.JobStatusSucceeded}
	for _, o := range outputs {
		if o.FileURL != "" {
			st.Outputs = append(st.Outputs, o.FileURL)
		}
	}
	if len(st.Outputs) == 0 {
		return TaskStatus{Status: domain.JobStatusFailed, Error: "workflow finished without outputs"}, nil
	}
	return st, nil
}

// Reconcile re-queries the job's task and applies any state the record has
// not caught up with. A provider state behind the record is reported as
// ErrReconciliationMismatch and left unapplied.
func (g *Gateway) Reconcile(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	if job == nil {
		return nil, domain.ErrNotFound
	}
	if job.Status.IsTerminal() || job.TaskID() == "" {
		return job, nil
	}
	st, err := g.QueryStatus(ctx, job.TaskID())
	if err != nil {
		return job, err
	}
	log := g.logger.With().Str("job_id", job.ID).Str("task_id", job.TaskID()).Logger()
	switch st.Status {
	case domain.JobStatusSucceeded:
		version := job.NextOutputVersion()
		now := g.now().UTC()
		outputs := make([]domain.Output, 0, len(st.Outputs))
		for _, u := range st.Outputs {
			outputs = append(outputs, domain.Output{URL: u, Kind: "image", Version: version, CreatedAt: now})
		}
		return g.finisher.Succeed(ctx, job, outputs)
	case domain.JobStatusFailed:
		return g.finisher.Fail(ctx, job, st.Error)
	case domain.JobStatusRunning:
		if job.Status == domain.JobStatusRunning {
			return job, nil
		}
		return g.finisher.MarkRunning(ctx, job)
	default:
		if job.Status == domain.JobStatusRunning {
			log.Warn().Str("provider_status", string(st.Status)).Msg("gateway: provider status behind record")
			return job, domain.ErrReconciliationMismatch
		}
		return job, nil
	}
}

// ReconcileTask reconciles the job that owns taskID.
func (g *Gateway) ReconcileTask(ctx context.Context, taskID string) (*domain.Job, error) {
	job, err := g.jobs.GetByExternalTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return g.Reconcile(ctx, job)
}

// Cancel asks the provider to stop taskID.
func (g *Gateway) Cancel(ctx context.Context, taskID string) error {
	if strings.TrimSpace(taskID) == "" {
		return nil
	}
	if err := g.provider.CancelTask(ctx, taskID); err != nil {
		g.metrics.IncGatewayCalls("cancel", "error")
		return classify(err)
	}
	g.metrics.IncGatewayCalls("cancel", "ok")
	return nil
}
