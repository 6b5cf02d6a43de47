package webhook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeHiveAPP/codehive/internal/protocol"
)

type capture struct {
	mu     sync.Mutex
	bodies []map[string]any
	header http.Header
}

func (c *capture) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		c.mu.Lock()
		c.bodies = append(c.bodies, body)
		c.header = r.Header.Clone()
		c.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}
}

func (c *capture) wait(t *testing.T, n int) []map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		if len(c.bodies) >= n {
			out := append([]map[string]any{}, c.bodies...)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d deliveries", n)
	return nil
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bodies)
}

func TestFireDeliversMatchingEvent(t *testing.T) {
	sink := &capture{}
	srv := httptest.NewServer(sink.handler())
	defer srv.Close()

	d := NewDispatcher()
	cfg := &protocol.WebhookConfig{URL: srv.URL, Events: []string{EventJoin, EventChat}}

	d.Fire(cfg, "HIVE-ABC234", EventJoin, map[string]any{"name": "Zeus"})
	bodies := sink.wait(t, 1)

	body := bodies[0]
	assert.Equal(t, EventJoin, body["event"])
	assert.Equal(t, "HIVE-ABC234", body["room"])
	assert.Equal(t, "Zeus", body["name"])
	assert.NotZero(t, body["timestamp"])
	assert.Equal(t, "application/json", sink.header.Get("Content-Type"))
	assert.NotEmpty(t, sink.header.Get("X-CodeHive-Delivery"))
}

func TestFireFiltersUnsubscribedEvents(t *testing.T) {
	sink := &capture{}
	srv := httptest.NewServer(sink.handler())
	defer srv.Close()

	d := NewDispatcher()
	cfg := &protocol.WebhookConfig{URL: srv.URL, Events: []string{EventChat}}

	d.Fire(cfg, "HIVE-ABC234", EventJoin, nil)
	d.Fire(nil, "HIVE-ABC234", EventChat, nil)
	d.Fire(&protocol.WebhookConfig{Events: []string{EventAll}}, "HIVE-ABC234", EventChat, nil)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, sink.count())
}

func TestFireAllSubscribesToEverything(t *testing.T) {
	sink := &capture{}
	srv := httptest.NewServer(sink.handler())
	defer srv.Close()

	d := NewDispatcher()
	cfg := &protocol.WebhookConfig{URL: srv.URL, Events: []string{EventAll}}

	for _, event := range []string{EventJoin, EventLeave, EventChat, EventFileChange, EventConflict} {
		d.Fire(cfg, "HIVE-ABC234", event, nil)
	}
	bodies := sink.wait(t, 5)
	require.Len(t, bodies, 5)
}

func TestFireSwallowsDeliveryErrors(t *testing.T) {
	d := NewDispatcher()
	cfg := &protocol.WebhookConfig{URL: "http://127.0.0.1:1/unreachable", Events: []string{EventAll}}
	// Must not panic or block the caller.
	d.Fire(cfg, "HIVE-ABC234", EventJoin, nil)
	time.Sleep(100 * time.Millisecond)
}
