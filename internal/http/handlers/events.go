package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"studio/internal/realtime"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origins are enforced by the CORS middleware and the bearer token.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// JobEvents streams one job's events over a WebSocket. An open job is sent
// as a snapshot first; the stream closes after the terminal event.
func (a *App) JobEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	sub, err := a.Jobs.Subscribe(r.Context(), sess, id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	defer sub.Cancel()

	var snapshot *realtime.Event
	job, err := a.Jobs.Get(r.Context(), sess, id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if !job.Status.IsTerminal() {
		ev := realtime.JobEvent(job)
		snapshot = &ev
	}
	a.stream(w, r, sub, snapshot)
}

// UserEvents streams every job event and notification for the caller.
func (a *App) UserEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	sub := a.Jobs.SubscribeUser(sess)
	defer sub.Cancel()
	a.stream(w, r, sub, nil)
}

func (a *App) stream(w http.ResponseWriter, r *http.Request, sub *realtime.Subscription, snapshot *realtime.Event) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer ws.Close()
	log := a.Logger.With().Str("topic", sub.Topic()).Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		defer cancel()
		ws.SetReadLimit(512)
		_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(ev realtime.Event) bool {
		_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := ws.WriteJSON(ev); err != nil {
			log.Debug().Err(err).Msg("ws write failed")
			return false
		}
		return true
	}
	if snapshot != nil && !write(*snapshot) {
		return
	}

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream finished"),
					time.Now().Add(wsWriteWait))
				return
			}
			if !write(ev) {
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
