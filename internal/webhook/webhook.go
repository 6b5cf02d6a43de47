// Package webhook posts room events to a configured HTTP endpoint. Delivery
// is fire-and-forget: failures are logged and swallowed, there is no retry
// queue.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/CodeHiveAPP/codehive/internal/logging"
	"github.com/CodeHiveAPP/codehive/internal/metrics"
	"github.com/CodeHiveAPP/codehive/internal/protocol"
)

// Webhook event names. "all" subscribes to everything.
const (
	EventAll        = "all"
	EventJoin       = "join"
	EventLeave      = "leave"
	EventChat       = "chat"
	EventFileChange = "file_change"
	EventConflict   = "conflict"
)

const requestTimeout = 5 * time.Second

// Dispatcher delivers event payloads over HTTP POST.
type Dispatcher struct {
	client *http.Client
}

// NewDispatcher builds a dispatcher with the 5 s total-request timeout.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		client: &http.Client{Timeout: requestTimeout},
	}
}

// wants reports whether cfg subscribes to event.
func wants(cfg *protocol.WebhookConfig, event string) bool {
	if cfg == nil || cfg.URL == "" {
		return false
	}
	for _, e := range cfg.Events {
		if e == EventAll || e == event {
			return true
		}
	}
	return false
}

// Fire posts {event, room, timestamp, ...payload} to the room's webhook if
// its event filter matches. Runs the POST on its own goroutine; the caller
// never blocks on delivery.
func (d *Dispatcher) Fire(cfg *protocol.WebhookConfig, roomCode, event string, payload map[string]any) {
	if !wants(cfg, event) {
		return
	}

	body := map[string]any{
		"event":     event,
		"room":      roomCode,
		"timestamp": protocol.Now(),
	}
	for k, v := range payload {
		body[k] = v
	}

	deliveryID := uuid.NewString()
	go d.post(cfg.URL, roomCode, event, deliveryID, body)
}

func (d *Dispatcher) post(url, roomCode, event, deliveryID string, body map[string]any) {
	data, err := json.Marshal(body)
	if err != nil {
		metrics.Get().WebhooksTotal.WithLabelValues("error").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		metrics.Get().WebhooksTotal.WithLabelValues("error").Inc()
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CodeHive-Delivery", deliveryID)

	resp, err := d.client.Do(req)
	if err != nil {
		logging.ForRoom(roomCode).Warn("webhook delivery failed",
			zap.String("event", event),
			zap.Error(err))
		metrics.Get().WebhooksTotal.WithLabelValues("error").Inc()
		return
	}
	resp.Body.Close()
	metrics.Get().WebhooksTotal.WithLabelValues("ok").Inc()
}
