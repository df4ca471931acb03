// Package notify routes Event Bus alarms to external sinks: webhooks and a
// live dashboard feed (SPEC_FULL.md §4.18, spec.md §4.9's "routed to
// configured sinks").
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eliasyaoyc/fastjob/internal/errors"
	"github.com/eliasyaoyc/fastjob/internal/eventbus"
	"github.com/eliasyaoyc/fastjob/internal/logger"
	"github.com/eliasyaoyc/fastjob/internal/store"
)

// Sink delivers one alarm to an external system.
type Sink interface {
	Notify(ctx context.Context, a eventbus.Alarm) error
}

// Webhook posts alarms as JSON to a configured URL.
type Webhook struct {
	URL        string
	httpClient *http.Client
}

// NewWebhook creates a Webhook sink posting to url with the given timeout.
func NewWebhook(url string, timeout time.Duration) *Webhook {
	return &Webhook{URL: url, httpClient: &http.Client{Timeout: timeout}}
}

func (w *Webhook) Notify(ctx context.Context, a eventbus.Alarm) error {
	body, err := json.Marshal(a)
	if err != nil {
		return errors.Wrap(err, "marshal alarm")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return errors.Mark(errors.Wrap(err, "build webhook request"), errors.ErrTransport)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "post webhook"), errors.ErrTransport)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return errors.Mark(errors.Newf("webhook returned status %d", resp.StatusCode), errors.ErrTransport)
	}
	return nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// DashboardHub fans out alarms to every connected dashboard client over a
// WebSocket, one goroutine-safe broadcast per connected reader.
type DashboardHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan eventbus.Alarm
}

// NewDashboardHub creates an empty hub.
func NewDashboardHub() *DashboardHub {
	return &DashboardHub{clients: make(map[*websocket.Conn]chan eventbus.Alarm)}
}

// ServeWS upgrades the connection and streams alarms to it until it closes.
func (h *DashboardHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	log := logger.ComponentLogger("notify")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorw("dashboard websocket upgrade failed", "error", err)
		return
	}

	out := make(chan eventbus.Alarm, 16)
	h.mu.Lock()
	h.clients[conn] = out
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	for a := range out {
		if err := conn.WriteJSON(a); err != nil {
			log.Warnw("dashboard write failed, dropping client", "error", err)
			return
		}
	}
}

// Notify implements Sink, broadcasting to every connected dashboard.
func (h *DashboardHub) Notify(ctx context.Context, a eventbus.Alarm) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, out := range h.clients {
		select {
		case out <- a:
		default:
			logger.ComponentLogger("notify").Warnw("dashboard client slow, dropping alarm", "remote", conn.RemoteAddr())
		}
	}
	return nil
}

// Route dispatches bus events to sinks: alarms go directly, and a Failed
// completion synthesizes an alarm of its own (spec.md §4.9).
func Route(sinks []Sink) eventbus.Handler {
	return func(evt eventbus.Event) error {
		ctx := context.Background()
		log := logger.ComponentLogger("notify")

		var alarm *eventbus.Alarm
		switch {
		case evt.Alarm != nil:
			alarm = evt.Alarm
		case evt.InstanceCompleted != nil && evt.InstanceCompleted.Status.IsTerminal() && isFailure(evt.InstanceCompleted):
			a := eventbus.Alarm{
				Level:   "warning",
				Title:   "instance failed",
				Message: evt.InstanceCompleted.Result,
			}
			alarm = &a
		default:
			return nil
		}

		var firstErr error
		for _, s := range sinks {
			if err := s.Notify(ctx, *alarm); err != nil {
				log.Errorw("sink delivery failed", "error", err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
		return firstErr
	}
}

func isFailure(c *eventbus.InstanceCompleted) bool {
	return c.Status == store.Failed
}
