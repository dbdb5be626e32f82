package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"studio/internal/domain"
	"studio/internal/gateway"
	"studio/internal/infra"
	"studio/internal/metrics"
	"studio/internal/realtime"
)

// ToolGateway is what the manager needs from the tool gateway.
type ToolGateway interface {
	Tool(name string) (gateway.ToolConfig, bool)
	Upload(ctx context.Context, userID, tool string, asset domain.Asset) (domain.AssetRef, error)
	Run(ctx context.Context, req gateway.RunRequest) (string, error)
	Reconcile(ctx context.Context, job *domain.Job) (*domain.Job, error)
	Cancel(ctx context.Context, taskID string) error
}

// Subscriber opens realtime subscriptions.
type Subscriber interface {
	Subscribe(topic string) *realtime.Subscription
}

// ManagerOptions wires a Manager.
type ManagerOptions struct {
	Jobs      domain.JobStore
	Ledger    domain.CreditLedger
	Gateway   ToolGateway
	Lifecycle *Lifecycle
	Events    Subscriber
	Metrics   metrics.Metrics
	Logger    infra.Logger
}

// Manager is the entry point for starting, following and cancelling jobs on
// behalf of a user session.
type Manager struct {
	jobs      domain.JobStore
	ledger    domain.CreditLedger
	gateway   ToolGateway
	lifecycle *Lifecycle
	events    Subscriber
	metrics   metrics.Metrics
	logger    infra.Logger
	newID     func() string

	mu       sync.Mutex
	inflight map[string]struct{}
}

// Handle is returned by StartJob: the created record and its event stream.
// The caller owns the subscription and must Cancel it when done.
type Handle struct {
	Job          *domain.Job
	Subscription *realtime.Subscription
}

func NewManager(opts ManagerOptions) *Manager {
	m := &Manager{
		jobs:      opts.Jobs,
		ledger:    opts.Ledger,
		gateway:   opts.Gateway,
		lifecycle: opts.Lifecycle,
		events:    opts.Events,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		newID:     uuid.NewString,
		inflight:  make(map[string]struct{}),
	}
	if m.metrics == nil {
		m.metrics = metrics.Noop{}
	}
	return m
}

// StartJob charges the tool's cost, records the job and submits it. A user
// has at most one non-terminal job per tool family. When submission fails
// after the charge the job is failed and the charge refunded before the
// error is returned.
func (m *Manager) StartJob(ctx context.Context, sess domain.Session, toolName string, assets map[string]domain.Asset, params map[string]any) (*Handle, error) {
	if sess.UserID == "" {
		return nil, domain.ErrUnauthorized
	}
	tool, ok := m.gateway.Tool(toolName)
	if !ok {
		return nil, fmt.Errorf("unknown tool %q: %w", toolName, domain.ErrValidation)
	}

	release, ok := m.acquire(sess.UserID, tool.Family)
	if !ok {
		return nil, domain.ErrActiveJob
	}
	defer release()

	if _, err := m.jobs.FindActive(ctx, sess.UserID, tool.Family); err == nil {
		return nil, domain.ErrActiveJob
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	if err := precheck(tool, assets, params); err != nil {
		return nil, err
	}

	log := m.logger.With().Str("user_id", sess.UserID).Str("tool", tool.Name).Logger()

	refs := make(map[string]domain.AssetRef, len(assets))
	inputRefs := make(map[string]string, len(assets))
	for _, name := range sortedKeys(assets) {
		ref, err := m.gateway.Upload(ctx, sess.UserID, tool.Name, assets[name])
		if err != nil {
			log.Warn().Err(err).Str("slot", name).Msg("jobs: upload failed")
			return nil, err
		}
		refs[name] = ref
		inputRefs[name] = ref.ProviderRef
	}

	jobID := m.newID()
	if _, err := m.ledger.Consume(ctx, sess.UserID, jobID, tool.Cost, "tool: "+tool.Name); err != nil {
		return nil, err
	}

	// Compensation below must run even if the caller goes away.
	bg := context.WithoutCancel(ctx)

	job := &domain.Job{
		ID:        jobID,
		UserID:    sess.UserID,
		Tool:      tool.Name,
		Family:    tool.Family,
		Status:    domain.JobStatusPending,
		InputRefs: inputRefs,
		Params:    params,
		Cost:      tool.Cost,
	}
	if err := m.jobs.Create(ctx, job); err != nil {
		if _, _, rerr := m.ledger.Refund(bg, sess.UserID, jobID, tool.Cost, "refund: "+tool.Name); rerr != nil {
			log.Error().Err(rerr).Str("job_id", jobID).Msg("jobs: refund after create failure")
		}
		return nil, fmt.Errorf("create job: %w", err)
	}
	m.metrics.IncJobsStarted(tool.Name)
	m.lifecycle.Announce(ctx, job)

	sub := m.events.Subscribe(realtime.JobTopic(jobID))
	taskID, err := m.gateway.Run(ctx, gateway.RunRequest{
		UserID: sess.UserID,
		JobID:  jobID,
		Tool:   tool.Name,
		Assets: refs,
		Params: params,
	})
	if err != nil {
		sub.Cancel()
		if _, ferr := m.lifecycle.Fail(bg, job, err.Error()); ferr != nil {
			log.Error().Err(ferr).Str("job_id", jobID).Msg("jobs: fail after submit error")
		}
		return nil, err
	}

	current, err := m.jobs.Get(ctx, jobID)
	if err != nil {
		current = job
		current.Status = domain.JobStatusQueued
		current.ExternalTaskID = &taskID
	} else {
		m.lifecycle.Announce(ctx, current)
	}
	log.Info().Str("job_id", jobID).Str("task_id", taskID).Msg("jobs: started")
	return &Handle{Job: current, Subscription: sub}, nil
}

// CancelJob stops the job and refunds it. Cancelling a finished job returns
// it unchanged.
func (m *Manager) CancelJob(ctx context.Context, sess domain.Session, id string) (*domain.Job, error) {
	job, err := m.Get(ctx, sess, id)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return job, nil
	}
	updated, err := m.lifecycle.Cancel(context.WithoutCancel(ctx), job)
	if err != nil {
		return nil, err
	}
	if updated.Status == domain.JobStatusCancelled && updated.TaskID() != "" {
		if err := m.gateway.Cancel(ctx, updated.TaskID()); err != nil {
			m.logger.Warn().Err(err).Str("job_id", id).Str("task_id", updated.TaskID()).Msg("jobs: upstream cancel failed")
		}
	}
	return updated, nil
}

// Get returns a job visible to the session.
func (m *Manager) Get(ctx context.Context, sess domain.Session, id string) (*domain.Job, error) {
	if sess.IsAdmin() {
		return m.jobs.Get(ctx, id)
	}
	return m.jobs.GetForUser(ctx, id, sess.UserID)
}

// GetByTask returns the job correlated to a provider task when the session
// may see it.
func (m *Manager) GetByTask(ctx context.Context, sess domain.Session, taskID string) (*domain.Job, error) {
	job, err := m.jobs.GetByExternalTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !sess.IsAdmin() && job.UserID != sess.UserID {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

// List pages through the session user's jobs.
func (m *Manager) List(ctx context.Context, sess domain.Session, limit, offset int) ([]domain.Job, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return m.jobs.ListByUser(ctx, sess.UserID, limit, offset)
}

// Active returns the session user's non-terminal job in family.
func (m *Manager) Active(ctx context.Context, sess domain.Session, family string) (*domain.Job, error) {
	return m.jobs.FindActive(ctx, sess.UserID, family)
}

// Reconcile re-queries the provider for one job on demand.
func (m *Manager) Reconcile(ctx context.Context, sess domain.Session, id string) (*domain.Job, error) {
	job, err := m.Get(ctx, sess, id)
	if err != nil {
		return nil, err
	}
	return m.gateway.Reconcile(ctx, job)
}

// Subscribe opens the event stream of one job. A job that already finished
// yields a closed stream holding its final state.
func (m *Manager) Subscribe(ctx context.Context, sess domain.Session, id string) (*realtime.Subscription, error) {
	if _, err := m.Get(ctx, sess, id); err != nil {
		return nil, err
	}
	topic := realtime.JobTopic(id)
	sub := m.events.Subscribe(topic)
	job, err := m.jobs.Get(ctx, id)
	if err != nil {
		sub.Cancel()
		return nil, err
	}
	if job.Status.IsTerminal() {
		sub.Cancel()
		return realtime.ClosedSubscription(topic, realtime.JobEvent(job)), nil
	}
	return sub, nil
}

// SubscribeUser opens the session user's stream of job events and push
// notifications.
func (m *Manager) SubscribeUser(sess domain.Session) *realtime.Subscription {
	return m.events.Subscribe(realtime.UserTopic(sess.UserID))
}

// Balance returns the session user's credits and recent ledger entries.
func (m *Manager) Balance(ctx context.Context, sess domain.Session, limit int) (int, []domain.CreditEntry, error) {
	balance, err := m.ledger.Balance(ctx, sess.UserID)
	if err != nil {
		return 0, nil, err
	}
	history, err := m.ledger.History(ctx, sess.UserID, limit)
	if err != nil {
		return 0, nil, err
	}
	return balance, history, nil
}

// acquire is the in-process guard against double submission of the same
// (user, family) while a start is still running.
func (m *Manager) acquire(userID, family string) (func(), bool) {
	key := userID + "|" + family
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inflight[key]; busy {
		return nil, false
	}
	m.inflight[key] = struct{}{}
	return func() {
		m.mu.Lock()
		delete(m.inflight, key)
		m.mu.Unlock()
	}, true
}

// precheck validates parameters against the tool's slots before anything is
// uploaded or charged.
func precheck(tool gateway.ToolConfig, assets map[string]domain.Asset, params map[string]any) error {
	placeholders := make(map[string]domain.AssetRef, len(assets))
	for name, asset := range assets {
		if len(asset.Data) == 0 {
			return fmt.Errorf("%s is empty: %w", name, domain.ErrValidation)
		}
		placeholders[name] = domain.AssetRef{ProviderRef: name}
	}
	_, err := gateway.BuildInputs(tool, placeholders, params)
	return err
}

func sortedKeys(m map[string]domain.Asset) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
