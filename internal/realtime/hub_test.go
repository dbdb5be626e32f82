package realtime

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"studio/internal/domain"
	"studio/internal/infra"
)

func receive(t *testing.T, sub *Subscription) (Event, bool) {
	t.Helper()
	select {
	case ev, ok := <-sub.C():
		return ev, ok
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event on %s", sub.Topic())
		return Event{}, false
	}
}

func TestJobTopicClosesAfterTerminalEvent(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()
	jobSub := hub.Subscribe(JobTopic("job-1"))
	userSub := hub.Subscribe(UserTopic("user-1"))
	defer userSub.Cancel()

	_ = hub.Publish(ctx, Event{Type: EventJobUpdated, JobID: "job-1", UserID: "user-1", Status: domain.JobStatusRunning})
	_ = hub.Publish(ctx, Event{Type: EventJobUpdated, JobID: "job-1", UserID: "user-1", Status: domain.JobStatusSucceeded})

	if ev, _ := receive(t, jobSub); ev.Status != domain.JobStatusRunning {
		t.Fatalf("first event status = %s", ev.Status)
	}
	if ev, _ := receive(t, jobSub); ev.Status != domain.JobStatusSucceeded {
		t.Fatalf("second event status = %s", ev.Status)
	}
	if _, ok := receive(t, jobSub); ok {
		t.Fatalf("expected job stream to end after terminal event")
	}
	if hub.Subscribers(JobTopic("job-1")) != 0 {
		t.Fatalf("job topic should be released")
	}

	if ev, _ := receive(t, userSub); ev.JobID != "job-1" {
		t.Fatalf("user topic missed event: %+v", ev)
	}
	jobSub.Cancel()
}

func TestCancelIsIdempotent(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe(JobTopic("job-2"))
	sub.Cancel()
	sub.Cancel()
	if _, ok := <-sub.C(); ok {
		t.Fatalf("expected closed channel")
	}
	if err := hub.Publish(context.Background(), Event{Type: EventJobUpdated, JobID: "job-2", Status: domain.JobStatusFailed}); err != nil {
		t.Fatalf("publish after cancel: %v", err)
	}
}

func TestSlowSubscriberKeepsLatest(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe(UserTopic("user-1"))
	defer sub.Cancel()
	for i := 0; i < subscriberBuffer+5; i++ {
		_ = hub.Publish(context.Background(), Event{Type: EventNotification, UserID: "user-1", JobID: string(rune('a' + i))})
	}
	var last Event
	for i := 0; i < subscriberBuffer; i++ {
		last, _ = receive(t, sub)
	}
	if want := string(rune('a' + subscriberBuffer + 4)); last.JobID != want {
		t.Fatalf("last delivered = %q, want %q", last.JobID, want)
	}
}

func TestClosedSubscription(t *testing.T) {
	sub := ClosedSubscription(JobTopic("job-3"), Event{Type: EventJobUpdated, JobID: "job-3", Status: domain.JobStatusFailed})
	if ev, ok := receive(t, sub); !ok || ev.Status != domain.JobStatusFailed {
		t.Fatalf("unexpected snapshot: %+v %v", ev, ok)
	}
	if _, ok := receive(t, sub); ok {
		t.Fatalf("expected closed stream")
	}
	sub.Cancel()
}

func TestRedisRelayForwardsToLocalHub(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	hub := NewHub()
	relay := NewRedisRelay(client, "test-events", hub, infra.NopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = relay.Run(ctx) }()
	select {
	case <-relay.Ready():
	case <-time.After(2 * time.Second):
		t.Fatalf("relay never subscribed")
	}

	sub := hub.Subscribe(JobTopic("job-9"))
	defer sub.Cancel()
	err := relay.Publish(ctx, Event{Type: EventJobUpdated, JobID: "job-9", UserID: "user-1", Status: domain.JobStatusSucceeded,
		Outputs: []domain.Output{{URL: "https://cdn/out.png", Version: 1}}})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	ev, ok := receive(t, sub)
	if !ok || ev.Status != domain.JobStatusSucceeded || len(ev.Outputs) != 1 {
		t.Fatalf("unexpected relayed event: %+v", ev)
	}
}
