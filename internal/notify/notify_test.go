package notify

import (
	"context"
	"testing"

	"studio/internal/domain"
	"studio/internal/realtime"
)

func TestForJob(t *testing.T) {
	tests := []struct {
		name      string
		job       domain.Job
		locale    string
		wantOK    bool
		wantTitle string
		wantBody  string
	}{
		{
			name:   "running job has no payload",
			job:    domain.Job{ID: "j1", Tool: "pose-changer", Status: domain.JobStatusRunning},
			locale: "pt",
		},
		{
			name:      "success in portuguese",
			job:       domain.Job{ID: "j1", Tool: "pose-changer", Status: domain.JobStatusSucceeded},
			locale:    "pt-BR",
			wantOK:    true,
			wantTitle: "Sua criação está pronta",
			wantBody:  "pose-changer terminou com sucesso.",
		},
		{
			name:      "failure carries translated text",
			job:       domain.Job{ID: "j1", Tool: "flyer-maker", Status: domain.JobStatusFailed, ErrorText: domain.StringPtr("Processamento demorou muito")},
			locale:    "pt",
			wantOK:    true,
			wantTitle: "Não foi possível concluir flyer-maker",
			wantBody:  "Processamento demorou muito",
		},
		{
			name:      "cancel in english",
			job:       domain.Job{ID: "j1", Tool: "clothing-swap", Status: domain.JobStatusCancelled},
			locale:    "en-US",
			wantOK:    true,
			wantTitle: "clothing-swap cancelled",
			wantBody:  "Your credits were refunded.",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			job := tc.job
			got, ok := ForJob(&job, tc.locale)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if got.Title != tc.wantTitle || got.Body != tc.wantBody {
				t.Fatalf("payload = %+v", got)
			}
			if got.URL != "/jobs/j1" {
				t.Fatalf("url = %q", got.URL)
			}
		})
	}
}

func TestNotifierPublishesOnUserTopic(t *testing.T) {
	hub := realtime.NewHub()
	sub := hub.Subscribe(realtime.UserTopic("user-1"))
	defer sub.Cancel()

	n := NewNotifier(hub, "en")
	job := &domain.Job{ID: "j1", UserID: "user-1", Tool: "pose-changer", Status: domain.JobStatusSucceeded}
	if err := n.JobFinished(context.Background(), job); err != nil {
		t.Fatalf("JobFinished: %v", err)
	}
	ev := <-sub.C()
	if ev.Type != realtime.EventNotification || ev.Notification == nil || ev.Notification.Title != "Your creation is ready" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}
