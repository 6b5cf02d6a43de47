package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeHiveAPP/codehive/internal/config"
	"github.com/CodeHiveAPP/codehive/internal/protocol"
)

func newTestClient() *Client {
	return NewClient(config.AgentConfig{
		RelayHost: "127.0.0.1",
		RelayPort: 4819,
		Name:      "Zeus",
	}, "dev-test-0001")
}

func TestReportFileChangeQueuesWhileDisconnected(t *testing.T) {
	c := newTestClient()
	c.mu.Lock()
	c.currentRoom = "HIVE-ABC234"
	c.connected = false
	c.mu.Unlock()

	for i := 0; i < 3; i++ {
		c.ReportFileChange(protocol.FileChange{Path: fmt.Sprintf("f%d.go", i)})
	}
	assert.Equal(t, 3, c.QueuedChanges())
}

func TestQueueDropsOldestPastCap(t *testing.T) {
	c := newTestClient()
	c.mu.Lock()
	c.currentRoom = "HIVE-ABC234"
	c.connected = false
	c.mu.Unlock()

	total := protocol.MaxQueuedChanges + 10
	for i := 0; i < total; i++ {
		c.ReportFileChange(protocol.FileChange{Path: fmt.Sprintf("f%d.go", i)})
	}
	require.Equal(t, protocol.MaxQueuedChanges, c.QueuedChanges())

	c.mu.Lock()
	first := c.queue[0].Path
	last := c.queue[len(c.queue)-1].Path
	c.mu.Unlock()
	assert.Equal(t, fmt.Sprintf("f%d.go", total-protocol.MaxQueuedChanges), first)
	assert.Equal(t, fmt.Sprintf("f%d.go", total-1), last)
}

func TestReportFileChangeNoOpOutsideRoom(t *testing.T) {
	c := newTestClient()
	c.ReportFileChange(protocol.FileChange{Path: "f.go"})
	assert.Equal(t, 0, c.QueuedChanges())
}

func TestRejoinErrorDiscardsQueue(t *testing.T) {
	c := newTestClient()
	c.mu.Lock()
	c.currentRoom = "HIVE-ABC234"
	c.connected = false
	c.queue = []protocol.FileChange{{Path: "f.go"}}
	c.mu.Unlock()

	c.handleMessage(&protocol.Message{Type: protocol.MsgError, Message: "Wrong password"})
	assert.Equal(t, 0, c.QueuedChanges())
}

func TestRoomLeftClearsState(t *testing.T) {
	c := newTestClient()
	c.mu.Lock()
	c.currentRoom = "HIVE-ABC234"
	c.currentPassword = "secret123"
	c.mu.Unlock()

	c.handleMessage(&protocol.Message{Type: protocol.MsgRoomLeft, Code: "HIVE-ABC234"})
	assert.False(t, c.InRoom())
}

func TestOnceMessageFiresAtMostOnce(t *testing.T) {
	c := newTestClient()

	fired := 0
	c.OnceMessage(
		func(m *protocol.Message) bool { return m.Type == protocol.MsgHeartbeatAck },
		func(m *protocol.Message) { fired++ },
		time.Second,
	)

	c.handleMessage(&protocol.Message{Type: protocol.MsgHeartbeatAck})
	c.handleMessage(&protocol.Message{Type: protocol.MsgHeartbeatAck})
	assert.Equal(t, 1, fired)

	c.mu.Lock()
	pending := len(c.pending)
	c.mu.Unlock()
	assert.Equal(t, 0, pending, "fired listeners are removed")
}

func TestOnceMessageTimesOutWithNil(t *testing.T) {
	c := newTestClient()

	result := make(chan *protocol.Message, 1)
	c.OnceMessage(
		func(m *protocol.Message) bool { return m.Type == protocol.MsgRoomStatus },
		func(m *protocol.Message) { result <- m },
		50*time.Millisecond,
	)

	select {
	case m := <-result:
		assert.Nil(t, m, "timeout delivers nil fallback")
	case <-time.After(time.Second):
		t.Fatal("timeout callback never fired")
	}

	// A late match must not fire the consumed listener.
	c.handleMessage(&protocol.Message{Type: protocol.MsgRoomStatus})
	select {
	case <-result:
		t.Fatal("listener fired twice")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestListenersMatchIndependently(t *testing.T) {
	c := newTestClient()

	got := make(chan string, 2)
	c.OnceMessage(
		func(m *protocol.Message) bool { return m.Type == protocol.MsgRoomList },
		func(m *protocol.Message) { got <- "list" },
		time.Second,
	)
	c.OnceMessage(
		func(m *protocol.Message) bool { return m.Type == protocol.MsgTimeline },
		func(m *protocol.Message) { got <- "timeline" },
		time.Second,
	)

	c.handleMessage(&protocol.Message{Type: protocol.MsgTimeline})
	assert.Equal(t, "timeline", <-got)

	c.handleMessage(&protocol.Message{Type: protocol.MsgRoomList})
	assert.Equal(t, "list", <-got)
}

func TestGitBranch(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, "", GitBranch(dir), "non-git directory")

	gitDir := filepath.Join(dir, ".git")
	require.NoError(t, os.Mkdir(gitDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(gitDir, "HEAD"), []byte("ref: refs/heads/feature/thing\n"), 0o644))
	assert.Equal(t, "feature/thing", GitBranch(dir))

	require.NoError(t, os.WriteFile(filepath.Join(gitDir, "HEAD"), []byte("3f2a1bc4d5e6f7081920aabbccddeeff00112233\n"), 0o644))
	assert.Equal(t, "", GitBranch(dir), "detached head has no branch")
}
