package domain

import "time"

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending: {JobStatusQueued, JobStatusRunning, JobStatusFailed, JobStatusCancelled},
	JobStatusQueued:  {JobStatusRunning, JobStatusSucceeded, JobStatusFailed, JobStatusCancelled},
	JobStatusRunning: {JobStatusSucceeded, JobStatusFailed, JobStatusCancelled},
}

// IsTerminal reports whether no further transition is possible.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusQueued, JobStatusRunning, JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a job in status from may move to status to.
func CanTransition(from, to JobStatus) bool {
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SourceStatuses returns every status that may transition into to.
func SourceStatuses(to JobStatus) []JobStatus {
	var out []JobStatus
	for _, from := range []JobStatus{JobStatusPending, JobStatusQueued, JobStatusRunning} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// Output is one generated result. Refinements append a new version rather
// than replacing earlier ones.
type Output struct {
	URL       string    `json:"url"`
	Kind      string    `json:"kind,omitempty"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

// Job is the persisted record of one generation request.
type Job struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	Tool           string            `json:"tool"`
	Family         string            `json:"family"`
	Status         JobStatus         `json:"status"`
	InputRefs      map[string]string `json:"input_refs"`
	Params         map[string]any    `json:"params"`
	Outputs        []Output          `json:"outputs"`
	ErrorRaw       *string           `json:"-"`
	ErrorText      *string           `json:"error_text"`
	ExternalTaskID *string           `json:"external_task_id"`
	Cost           int               `json:"cost"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Clone returns a deep copy safe to hand to another goroutine.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.InputRefs != nil {
		c.InputRefs = make(map[string]string, len(j.InputRefs))
		for k, v := range j.InputRefs {
			c.InputRefs[k] = v
		}
	}
	if j.Params != nil {
		c.Params = make(map[string]any, len(j.Params))
		for k, v := range j.Params {
			c.Params[k] = v
		}
	}
	if j.Outputs != nil {
		c.Outputs = append([]Output(nil), j.Outputs...)
	}
	c.ErrorRaw = cloneString(j.ErrorRaw)
	c.ErrorText = cloneString(j.ErrorText)
	c.ExternalTaskID = cloneString(j.ExternalTaskID)
	return &c
}

// TaskID returns the external task id or an empty string.
func (j *Job) TaskID() string {
	if j == nil || j.ExternalTaskID == nil {
		return ""
	}
	return *j.ExternalTaskID
}

// NextOutputVersion returns the version number the next output batch gets.
func (j *Job) NextOutputVersion() int {
	v := 0
	for _, o := range j.Outputs {
		if o.Version > v {
			v = o.Version
		}
	}
	return v + 1
}

// JobUpdate carries the optional fields written alongside a transition.
type JobUpdate struct {
	Outputs   []Output
	ErrorRaw  *string
	ErrorText *string
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
