package agent

import (
	"encoding/json"
	"errors"
	"net"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeHiveAPP/codehive/internal/config"
	"github.com/CodeHiveAPP/codehive/internal/protocol"
	"github.com/CodeHiveAPP/codehive/internal/relay"
)

func TestReconnectDelaySchedule(t *testing.T) {
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for attempt, expected := range want {
		assert.Equal(t, expected, reconnectDelay(attempt), "attempt %d", attempt)
	}
}

func TestReconnectAbandonedAfterMaxAttempts(t *testing.T) {
	c := newTestClient()

	done := make(chan error, 1)
	c.OnDisconnect = func(err error) { done <- err }

	c.mu.Lock()
	c.connected = true
	c.shouldReconnect = true
	c.attempts = maxReconnectAttempts
	c.mu.Unlock()

	c.handleConnectionLost(errors.New("relay gone"))

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("OnDisconnect never fired after the attempt cap")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Nil(t, c.reconnectTmr, "no further reconnect is scheduled past the cap")
	assert.False(t, c.connected)
}

// peerConn is a raw websocket member used to observe broadcasts.
type peerConn struct {
	conn *websocket.Conn
}

func dialPeer(t *testing.T, srv *httptest.Server) *peerConn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &peerConn{conn: conn}
}

func (p *peerConn) write(t *testing.T, msg *protocol.Message) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, p.conn.WriteMessage(websocket.TextMessage, data))
}

func (p *peerConn) read(t *testing.T) *protocol.Message {
	t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, data, err := p.conn.ReadMessage()
	require.NoError(t, err)
	msg, derr := protocol.Decode(data)
	require.NoError(t, derr)
	return msg
}

// readUntil discards frames until one of type want arrives.
func (p *peerConn) readUntil(t *testing.T, want string) *protocol.Message {
	t.Helper()
	for i := 0; i < 20; i++ {
		msg := p.read(t)
		if msg.Type == want {
			return msg
		}
	}
	t.Fatalf("frame of type %s never arrived", want)
	return nil
}

func waitCondition(t *testing.T, timeout time.Duration, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// The full scenario: a live drop, backoff, rejoin with the remembered
// password and branch, and the offline queue flushing in original order.
func TestReconnectRejoinsAndFlushesQueueInOrder(t *testing.T) {
	s := relay.NewServer(config.RelayConfig{
		Host:        "127.0.0.1",
		Port:        0,
		PersistPath: filepath.Join(t.TempDir(), "rooms.json"),
	})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	port := srv.Listener.Addr().(*net.TCPAddr).Port

	zeus := NewClient(config.AgentConfig{
		RelayHost: "127.0.0.1",
		RelayPort: port,
		Name:      "Zeus",
	}, "dev-zeus-recon")
	require.NoError(t, zeus.Connect())
	defer zeus.Disconnect()

	created := zeus.CreateRoom(CreateRoomOptions{Password: "secret123", Branch: "main"})
	require.NotNil(t, created)
	require.Equal(t, protocol.MsgRoomCreated, created.Type)
	code := created.Code

	// A second member keeps the room alive across Zeus's disconnect and
	// observes what the relay broadcasts.
	alice := dialPeer(t, srv)
	alice.write(t, &protocol.Message{
		Type: protocol.MsgJoinRoom, DeviceID: "dev-alice-recon", Code: code,
		Name: "Alice", Password: "secret123", Branch: "main",
	})
	require.Equal(t, protocol.MsgRoomJoined, alice.readUntil(t, protocol.MsgRoomJoined).Type)

	// Kill Zeus's socket out from under the client.
	zeus.mu.Lock()
	conn := zeus.conn
	zeus.mu.Unlock()
	require.NotNil(t, conn)
	conn.Close()

	waitCondition(t, 2*time.Second, func() bool {
		zeus.mu.Lock()
		defer zeus.mu.Unlock()
		return !zeus.connected
	}, "client to notice the drop")
	require.Equal(t, protocol.MsgMemberLeft, alice.readUntil(t, protocol.MsgMemberLeft).Type)

	// Changes reported while offline queue up instead of vanishing.
	for _, path := range []string{"f0.go", "f1.go", "f2.go"} {
		zeus.ReportFileChange(protocol.FileChange{
			Path: path, Type: protocol.ChangeModify, Author: "Zeus",
		})
	}
	require.Equal(t, 3, zeus.QueuedChanges())

	// First backoff step is one second; the rejoin must carry the
	// remembered password (the room is protected) and branch.
	rejoined := alice.readUntil(t, protocol.MsgMemberJoined)
	assert.Equal(t, "Zeus", rejoined.Name)
	require.NotNil(t, rejoined.Member)
	assert.Equal(t, "main", rejoined.Member.Branch)

	for _, expected := range []string{"f0.go", "f1.go", "f2.go"} {
		changed := alice.readUntil(t, protocol.MsgFileChanged)
		require.NotNil(t, changed.Change)
		assert.Equal(t, expected, changed.Change.Path, "queued changes flush in original order")
	}

	waitCondition(t, 2*time.Second, func() bool { return zeus.QueuedChanges() == 0 }, "queue to drain")
	assert.True(t, zeus.InRoom())
	assert.Equal(t, code, zeus.CurrentRoom())
}
