// Package notify builds and sends the push payload for finished jobs.
package notify

import (
	"context"
	"fmt"

	"studio/internal/domain"
	"studio/internal/errmsg"
	"studio/internal/realtime"
)

// Payload is the push message shown by the client.
type Payload = realtime.Notification

type texts struct {
	succeededTitle string
	succeededBody  string
	failedTitle    string
	cancelledTitle string
	cancelledBody  string
}

var catalogs = map[string]texts{
	"pt": {
		succeededTitle: "Sua criação está pronta",
		succeededBody:  "%s terminou com sucesso.",
		failedTitle:    "Não foi possível concluir %s",
		cancelledTitle: "%s cancelado",
		cancelledBody:  "Os créditos foram devolvidos.",
	},
	"en": {
		succeededTitle: "Your creation is ready",
		succeededBody:  "%s finished successfully.",
		failedTitle:    "%s could not be completed",
		cancelledTitle: "%s cancelled",
		cancelledBody:  "Your credits were refunded.",
	},
}

// ForJob renders the payload for a terminal job. ok is false for jobs that
// are still running.
func ForJob(job *domain.Job, locale string) (Payload, bool) {
	if job == nil || !job.Status.IsTerminal() {
		return Payload{}, false
	}
	t := catalogs[errmsg.MatchLocale(locale)]
	url := "/jobs/" + job.ID
	switch job.Status {
	case domain.JobStatusSucceeded:
		return Payload{Title: t.succeededTitle, Body: fmt.Sprintf(t.succeededBody, job.Tool), URL: url}, true
	case domain.JobStatusFailed:
		body := ""
		if job.ErrorText != nil {
			body = *job.ErrorText
		}
		if body == "" {
			body = errmsg.TranslateFor(locale, "").Message
		}
		return Payload{Title: fmt.Sprintf(t.failedTitle, job.Tool), Body: body, URL: url}, true
	default:
		return Payload{Title: fmt.Sprintf(t.cancelledTitle, job.Tool), Body: t.cancelledBody, URL: url}, true
	}
}

// Notifier publishes payloads on the owner's user topic.
type Notifier struct {
	pub    realtime.Publisher
	locale string
}

// NewNotifier sends through pub, rendering in locale.
func NewNotifier(pub realtime.Publisher, locale string) *Notifier {
	return &Notifier{pub: pub, locale: locale}
}

// JobFinished pushes the terminal payload for job. Non-terminal jobs are
// ignored.
func (n *Notifier) JobFinished(ctx context.Context, job *domain.Job) error {
	payload, ok := ForJob(job, n.locale)
	if !ok {
		return nil
	}
	return n.pub.Publish(ctx, realtime.Event{
		Type:         realtime.EventNotification,
		JobID:        job.ID,
		UserID:       job.UserID,
		Tool:         job.Tool,
		Status:       job.Status,
		Notification: &payload,
	})
}
