package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"studio/internal/domain"
	"studio/internal/infra"
	"studio/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobStore.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	inputs, err := json.Marshal(job.InputRefs)
	if err != nil {
		return fmt.Errorf("encode input refs: %w", err)
	}
	params, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	row := r.sql.QueryRow(ctx, sqlinline.QInsertJob,
		job.ID,
		job.UserID,
		job.Tool,
		job.Family,
		string(job.Status),
		inputs,
		params,
		job.Cost,
	)
	return row.Scan(&job.CreatedAt, &job.UpdatedAt)
}

// Get fetches a job by its identifier.
func (r *JobRepositoryPG) Get(ctx context.Context, id string) (*domain.Job, error) {
	return scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectJobByID, id))
}

// GetForUser fetches a job only when userID owns it.
func (r *JobRepositoryPG) GetForUser(ctx context.Context, id, userID string) (*domain.Job, error) {
	return scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectJobForUser, id, userID))
}

// GetByExternalTask fetches the job correlated to a provider task.
func (r *JobRepositoryPG) GetByExternalTask(ctx context.Context, taskID string) (*domain.Job, error) {
	return scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectJobByExternalTask, taskID))
}

// FindActive returns the newest non-terminal job in the family.
func (r *JobRepositoryPG) FindActive(ctx context.Context, userID, family string) (*domain.Job, error) {
	return scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectActiveJob, userID, family))
}

// ListByUser pages through a user's jobs, newest first.
func (r *JobRepositoryPG) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Job, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListJobsByUser, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

// AttachExternalTask stores the provider task id and queues a pending job.
func (r *JobRepositoryPG) AttachExternalTask(ctx context.Context, id, taskID string) (*domain.Job, error) {
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QAttachExternalTask, id, taskID))
	if err == domain.ErrNotFound {
		return nil, domain.ErrInvalidTransition
	}
	return job, err
}

// Transition applies a conditional status change. When no row matches, the
// current record is loaded and returned with changed=false.
func (r *JobRepositoryPG) Transition(ctx context.Context, id string, to domain.JobStatus, update domain.JobUpdate) (*domain.Job, bool, error) {
	from := domain.SourceStatuses(to)
	if len(from) == 0 {
		return nil, false, domain.ErrInvalidTransition
	}
	sources := make([]string, len(from))
	for i, s := range from {
		sources[i] = string(s)
	}
	var outputs []byte
	if len(update.Outputs) > 0 {
		encoded, err := json.Marshal(update.Outputs)
		if err != nil {
			return nil, false, fmt.Errorf("encode outputs: %w", err)
		}
		outputs = encoded
	}
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QTransitionJob,
		id,
		string(to),
		outputs,
		update.ErrorRaw,
		update.ErrorText,
		sources,
	))
	if err == nil {
		return job, true, nil
	}
	if err != domain.ErrNotFound {
		return nil, false, err
	}
	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

// ListReconcilable returns open jobs not touched since updatedBefore.
func (r *JobRepositoryPG) ListReconcilable(ctx context.Context, updatedBefore time.Time, limit int) ([]domain.Job, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListReconcilableJobs, updatedBefore, limit)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

func collectJobs(rows pgx.Rows) ([]domain.Job, error) {
	defer rows.Close()
	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job     domain.Job
		status  string
		inputs  []byte
		params  []byte
		outputs []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Tool,
		&job.Family,
		&status,
		&inputs,
		&params,
		&outputs,
		&job.ErrorRaw,
		&job.ErrorText,
		&job.ExternalTaskID,
		&job.Cost,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	if len(inputs) > 0 {
		if err := json.Unmarshal(inputs, &job.InputRefs); err != nil {
			return nil, fmt.Errorf("decode input refs: %w", err)
		}
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &job.Params); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
	}
	if len(outputs) > 0 {
		if err := json.Unmarshal(outputs, &job.Outputs); err != nil {
			return nil, fmt.Errorf("decode outputs: %w", err)
		}
	}
	return &job, nil
}

var _ domain.JobStore = (*JobRepositoryPG)(nil)
