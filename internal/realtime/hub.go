// Package realtime fans job events out to subscribers. Job topics carry a
// finite stream that ends after the terminal event; user topics stay open
// until the subscriber cancels.
package realtime

import (
	"context"
	"sync"

	"studio/internal/domain"
)

// Event types.
const (
	EventJobUpdated   = "job.updated"
	EventNotification = "notification"
)

const subscriberBuffer = 16

// Notification is a push payload rendered by the client.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
}

// Event is one message delivered to subscribers.
type Event struct {
	Type         string           `json:"type"`
	JobID        string           `json:"job_id,omitempty"`
	UserID       string           `json:"user_id,omitempty"`
	Tool         string           `json:"tool,omitempty"`
	Status       domain.JobStatus `json:"status,omitempty"`
	Outputs      []domain.Output  `json:"outputs,omitempty"`
	ErrorText    string           `json:"error_text,omitempty"`
	Notification *Notification    `json:"notification,omitempty"`
}

// Terminal reports whether the event ends its job stream.
func (e Event) Terminal() bool {
	return e.Type == EventJobUpdated && e.Status.IsTerminal()
}

// JobEvent snapshots a job as an update event.
func JobEvent(job *domain.Job) Event {
	ev := Event{
		Type:    EventJobUpdated,
		JobID:   job.ID,
		UserID:  job.UserID,
		Tool:    job.Tool,
		Status:  job.Status,
		Outputs: append([]domain.Output(nil), job.Outputs...),
	}
	if job.ErrorText != nil {
		ev.ErrorText = *job.ErrorText
	}
	return ev
}

// Publisher delivers events to every interested subscriber.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// JobTopic names the per-job stream.
func JobTopic(jobID string) string { return "job:" + jobID }

// UserTopic names the per-user stream.
func UserTopic(userID string) string { return "user:" + userID }

// Hub is the in-process topic registry.
type Hub struct {
	mu     sync.Mutex
	topics map[string]map[*Subscription]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[*Subscription]struct{})}
}

// Subscribe registers a new subscription on topic.
func (h *Hub) Subscribe(topic string) *Subscription {
	sub := &Subscription{hub: h, topic: topic, ch: make(chan Event, subscriberBuffer)}
	h.mu.Lock()
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Publish delivers ev to the job topic and the owner's user topic. A
// terminal job event closes every subscription on the job topic.
func (h *Hub) Publish(ctx context.Context, ev Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ev.JobID != "" && ev.Type == EventJobUpdated {
		topic := JobTopic(ev.JobID)
		for sub := range h.topics[topic] {
			sub.deliver(ev)
		}
		if ev.Terminal() {
			for sub := range h.topics[topic] {
				sub.closeLocked()
			}
			delete(h.topics, topic)
		}
	}
	if ev.UserID != "" {
		for sub := range h.topics[UserTopic(ev.UserID)] {
			sub.deliver(ev)
		}
	}
	return nil
}

// Subscribers returns the number of open subscriptions on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.topics[sub.topic]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.topics, sub.topic)
		}
	}
	sub.closeLocked()
}

// Subscription is a receive-only event stream.
type Subscription struct {
	hub    *Hub
	topic  string
	ch     chan Event
	closed bool
}

// ClosedSubscription returns an already finished stream holding events.
func ClosedSubscription(topic string, events ...Event) *Subscription {
	sub := &Subscription{topic: topic, ch: make(chan Event, len(events))}
	for _, ev := range events {
		sub.ch <- ev
	}
	sub.closed = true
	close(sub.ch)
	return sub
}

// C is closed when the stream ends or Cancel is called.
func (s *Subscription) C() <-chan Event { return s.ch }

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string { return s.topic }

// Cancel stops delivery and closes C. Calling it more than once is safe.
func (s *Subscription) Cancel() {
	if s.hub == nil {
		return
	}
	s.hub.remove(s)
}

// deliver never blocks; when the buffer is full the oldest event is dropped
// so the latest state always gets through. Callers hold the hub lock.
func (s *Subscription) deliver(ev Event) {
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- ev:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

func (s *Subscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
