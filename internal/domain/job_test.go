package domain

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from JobStatus
		to   JobStatus
		want bool
	}{
		{JobStatusPending, JobStatusQueued, true},
		{JobStatusPending, JobStatusFailed, true},
		{JobStatusPending, JobStatusSucceeded, false},
		{JobStatusQueued, JobStatusRunning, true},
		{JobStatusQueued, JobStatusSucceeded, true},
		{JobStatusRunning, JobStatusQueued, false},
		{JobStatusRunning, JobStatusCancelled, true},
		{JobStatusSucceeded, JobStatusFailed, false},
		{JobStatusFailed, JobStatusFailed, false},
		{JobStatusCancelled, JobStatusCancelled, false},
	}
	for _, tc := range tests {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestSourceStatuses(t *testing.T) {
	got := SourceStatuses(JobStatusSucceeded)
	if len(got) != 2 || got[0] != JobStatusQueued || got[1] != JobStatusRunning {
		t.Fatalf("SourceStatuses(succeeded) = %v", got)
	}
	if got := SourceStatuses(JobStatusPending); len(got) != 0 {
		t.Fatalf("SourceStatuses(pending) = %v, want none", got)
	}
}

func TestJobCloneIsDeep(t *testing.T) {
	job := &Job{
		ID:             "job-1",
		InputRefs:      map[string]string{"image": "a.png"},
		Params:         map[string]any{"prompt": "hi"},
		Outputs:        []Output{{URL: "https://x/1.png", Version: 1}},
		ExternalTaskID: StringPtr("task-1"),
	}
	c := job.Clone()
	c.InputRefs["image"] = "b.png"
	c.Outputs[0].URL = "changed"
	*c.ExternalTaskID = "task-2"
	if job.InputRefs["image"] != "a.png" || job.Outputs[0].URL != "https://x/1.png" || job.TaskID() != "task-1" {
		t.Fatalf("clone shares state with original: %+v", job)
	}
}

func TestNextOutputVersion(t *testing.T) {
	job := &Job{}
	if v := job.NextOutputVersion(); v != 1 {
		t.Fatalf("empty job version = %d, want 1", v)
	}
	job.Outputs = []Output{{Version: 1}, {Version: 2}, {Version: 2}}
	if v := job.NextOutputVersion(); v != 3 {
		t.Fatalf("version = %d, want 3", v)
	}
}
