package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"studio/internal/domain"
)

// JobStore keeps Job Records in process memory. It backs local development
// and tests; records are cloned on the way in and out.
type JobStore struct {
	mu     sync.Mutex
	jobs   map[string]*domain.Job
	byTask map[string]string
	now    func() time.Time
}

// NewJobStore returns an empty store.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:   make(map[string]*domain.Job),
		byTask: make(map[string]string),
		now:    time.Now,
	}
}

func (s *JobStore) Create(ctx context.Context, job *domain.Job) error {
	if job == nil || job.ID == "" {
		return domain.ErrValidation
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return domain.ErrValidation
	}
	now := s.now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *JobStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return job.Clone(), nil
}

func (s *JobStore) GetForUser(ctx context.Context, id, userID string) (*domain.Job, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

func (s *JobStore) GetByExternalTask(ctx context.Context, taskID string) (*domain.Job, error) {
	s.mu.Lock()
	id, ok := s.byTask[taskID]
	s.mu.Unlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *JobStore) FindActive(ctx context.Context, userID, family string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var newest *domain.Job
	for _, job := range s.jobs {
		if job.UserID != userID || job.Family != family || job.Status.IsTerminal() {
			continue
		}
		if newest == nil || job.CreatedAt.After(newest.CreatedAt) {
			newest = job
		}
	}
	if newest == nil {
		return nil, domain.ErrNotFound
	}
	return newest.Clone(), nil
}

func (s *JobStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Job, error) {
	s.mu.Lock()
	var out []domain.Job
	for _, job := range s.jobs {
		if job.UserID == userID {
			out = append(out, *job.Clone())
		}
	}
	s.mu.Unlock()
	sortNewestFirst(out)
	return page(out, limit, offset), nil
}

func (s *JobStore) AttachExternalTask(ctx context.Context, id, taskID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status.IsTerminal() {
		return nil, domain.ErrInvalidTransition
	}
	job.ExternalTaskID = domain.StringPtr(taskID)
	if job.Status == domain.JobStatusPending {
		job.Status = domain.JobStatusQueued
	}
	job.UpdatedAt = s.now().UTC()
	s.byTask[taskID] = id
	return job.Clone(), nil
}

func (s *JobStore) Transition(ctx context.Context, id string, to domain.JobStatus, update domain.JobUpdate) (*domain.Job, bool, error) {
	if len(domain.SourceStatuses(to)) == 0 {
		return nil, false, domain.ErrInvalidTransition
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, false, domain.ErrNotFound
	}
	if !domain.CanTransition(job.Status, to) {
		return job.Clone(), false, nil
	}
	job.Status = to
	job.Outputs = append(job.Outputs, update.Outputs...)
	if update.ErrorRaw != nil {
		job.ErrorRaw = domain.StringPtr(*update.ErrorRaw)
	}
	if update.ErrorText != nil {
		job.ErrorText = domain.StringPtr(*update.ErrorText)
	}
	job.UpdatedAt = s.now().UTC()
	return job.Clone(), true, nil
}

func (s *JobStore) ListReconcilable(ctx context.Context, updatedBefore time.Time, limit int) ([]domain.Job, error) {
	s.mu.Lock()
	var out []domain.Job
	for _, job := range s.jobs {
		if !job.Status.IsTerminal() && job.UpdatedAt.Before(updatedBefore) {
			out = append(out, *job.Clone())
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return page(out, limit, 0), nil
}

func sortNewestFirst(jobs []domain.Job) {
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
}

func page(jobs []domain.Job, limit, offset int) []domain.Job {
	if offset >= len(jobs) {
		return nil
	}
	jobs = jobs[offset:]
	if limit > 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}
	return jobs
}

var _ domain.JobStore = (*JobStore)(nil)
