package agent

import (
	"time"

	"github.com/CodeHiveAPP/codehive/internal/protocol"
)

const (
	joinWait  = 10 * time.Second
	queryWait = 5 * time.Second
)

// CreateRoomOptions carries the optional create_room parameters.
type CreateRoomOptions struct {
	Password       string
	IsPublic       bool
	ExpiresInHours int
	Branch         string
}

// CreateRoom requests a new room and waits up to 10 s for the reply.
// Returns nil on timeout.
func (c *Client) CreateRoom(opts CreateRoomOptions) *protocol.Message {
	c.mu.Lock()
	c.currentPassword = opts.Password
	c.currentBranch = opts.Branch
	c.mu.Unlock()

	public := opts.IsPublic
	expires := opts.ExpiresInHours
	reply := c.request(func() {
		c.sendRaw(&protocol.Message{
			Type:           protocol.MsgCreateRoom,
			Name:           c.currentName,
			Password:       opts.Password,
			IsPublic:       &public,
			ExpiresInHours: &expires,
			Branch:         opts.Branch,
		})
	}, func(m *protocol.Message) bool {
		return m.Type == protocol.MsgRoomCreated || m.Type == protocol.MsgError
	}, joinWait)
	if reply != nil && reply.Type == protocol.MsgRoomCreated {
		c.mu.Lock()
		c.currentRoom = reply.Code
		c.mu.Unlock()
	}
	return reply
}

// JoinRoom joins an existing room and waits up to 10 s for the reply.
// Returns nil on timeout.
func (c *Client) JoinRoom(code, password, branch string) *protocol.Message {
	c.mu.Lock()
	c.currentPassword = password
	c.currentBranch = branch
	c.mu.Unlock()

	return c.request(func() {
		c.sendRaw(&protocol.Message{
			Type:     protocol.MsgJoinRoom,
			Code:     code,
			Name:     c.currentName,
			Password: password,
			Branch:   branch,
		})
	}, func(m *protocol.Message) bool {
		return m.Type == protocol.MsgRoomJoined || m.Type == protocol.MsgError
	}, joinWait)
}

// LeaveRoom announces departure. State clears when room_left arrives.
func (c *Client) LeaveRoom() {
	c.sendInRoom(&protocol.Message{Type: protocol.MsgLeaveRoom})
}

// ReportFileChange sends a change, or queues it while disconnected. The
// queue keeps the newest MaxQueuedChanges entries and flushes in order
// after the next successful rejoin.
func (c *Client) ReportFileChange(change protocol.FileChange) {
	c.mu.Lock()
	room := c.currentRoom
	connected := c.connected
	if room == "" {
		c.mu.Unlock()
		return
	}
	if !connected {
		c.queue = append(c.queue, change)
		if len(c.queue) > protocol.MaxQueuedChanges {
			c.queue = c.queue[len(c.queue)-protocol.MaxQueuedChanges:]
		}
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.sendInRoom(&protocol.Message{
		Type:   protocol.MsgFileChange,
		Change: &change,
	})
}

// QueuedChanges reports how many changes await a rejoin flush.
func (c *Client) QueuedChanges() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// DeclareWorking replaces this member's declared working set.
func (c *Client) DeclareWorking(files []string) {
	c.sendInRoom(&protocol.Message{Type: protocol.MsgDeclareWorking, Files: files})
}

// SendChat broadcasts a chat message to the room.
func (c *Client) SendChat(content string) {
	c.sendInRoom(&protocol.Message{Type: protocol.MsgChatMessage, Content: content})
}

// DeclareTyping hints what file this member is typing in; empty clears it.
func (c *Client) DeclareTyping(file string) {
	c.sendInRoom(&protocol.Message{Type: protocol.MsgDeclareTyping, File: file})
}

// UpdateCursor publishes the member's editor position.
func (c *Client) UpdateCursor(cursor *protocol.Cursor) {
	c.sendInRoom(&protocol.Message{Type: protocol.MsgUpdateCursor, Cursor: cursor})
}

// ShareTerminal broadcasts a terminal excerpt to the room.
func (c *Client) ShareTerminal(output string) {
	c.sendInRoom(&protocol.Message{Type: protocol.MsgShareTerminal, Output: output})
}

// LockFile requests an advisory lock and waits up to 5 s for the verdict.
func (c *Client) LockFile(file string) *protocol.Message {
	return c.request(func() {
		c.sendInRoom(&protocol.Message{Type: protocol.MsgLockFile, File: file})
	}, func(m *protocol.Message) bool {
		switch m.Type {
		case protocol.MsgFileLocked, protocol.MsgLockError:
			return m.File == file
		}
		return false
	}, queryWait)
}

// UnlockFile releases an advisory lock.
func (c *Client) UnlockFile(file string) {
	c.sendInRoom(&protocol.Message{Type: protocol.MsgUnlockFile, File: file})
}

// RequestStatus fetches the room snapshot, or nil on timeout.
func (c *Client) RequestStatus() *protocol.Message {
	return c.request(func() {
		c.sendInRoom(&protocol.Message{Type: protocol.MsgRequestStatus})
	}, func(m *protocol.Message) bool {
		return m.Type == protocol.MsgRoomStatus || m.Type == protocol.MsgError
	}, queryWait)
}

// GetTimeline fetches the last limit timeline events, or nil on timeout.
func (c *Client) GetTimeline(limit int) *protocol.Message {
	return c.request(func() {
		c.sendInRoom(&protocol.Message{Type: protocol.MsgGetTimeline, Limit: limit})
	}, func(m *protocol.Message) bool {
		return m.Type == protocol.MsgTimeline || m.Type == protocol.MsgError
	}, queryWait)
}

// ListRooms queries public rooms; works without being in a room.
func (c *Client) ListRooms() *protocol.Message {
	return c.request(func() {
		c.sendRaw(&protocol.Message{Type: protocol.MsgListRooms, Name: c.currentName})
	}, func(m *protocol.Message) bool {
		return m.Type == protocol.MsgRoomList
	}, queryWait)
}

// SetWebhook assigns or clears the room's webhook.
func (c *Client) SetWebhook(cfg *protocol.WebhookConfig) {
	c.sendInRoom(&protocol.Message{Type: protocol.MsgSetWebhook, Webhook: cfg})
}

// SetRoomVisibility toggles room-list discoverability.
func (c *Client) SetRoomVisibility(public bool) {
	c.sendInRoom(&protocol.Message{Type: protocol.MsgSetRoomVisibility, IsPublic: &public})
}

// OnceMessage registers a listener that fires at most once: on the first
// frame matching predicate, or with nil when the timeout lapses first.
func (c *Client) OnceMessage(predicate func(*protocol.Message) bool, callback func(*protocol.Message), timeout time.Duration) {
	l := &listener{predicate: predicate, callback: callback}
	l.timer = time.AfterFunc(timeout, func() {
		c.mu.Lock()
		fired := l.fired
		l.fired = true
		c.removeListener(l)
		c.mu.Unlock()
		if !fired {
			callback(nil)
		}
	})

	c.mu.Lock()
	c.pending = append(c.pending, l)
	c.mu.Unlock()
}

// request registers the waiter, then sends, then blocks for the matching
// reply (nil on timeout). Registering first means a reply that races the
// send on a fast local relay cannot slip past the listener.
func (c *Client) request(send func(), predicate func(*protocol.Message) bool, timeout time.Duration) *protocol.Message {
	ch := make(chan *protocol.Message, 1)
	c.OnceMessage(predicate, func(m *protocol.Message) { ch <- m }, timeout)
	send()
	return <-ch
}

// dispatchPending walks the waiter list, firing and removing every match.
func (c *Client) dispatchPending(msg *protocol.Message) {
	c.mu.Lock()
	var matched []*listener
	for _, l := range c.pending {
		if !l.fired && l.predicate(msg) {
			l.fired = true
			l.timer.Stop()
			matched = append(matched, l)
		}
	}
	for _, l := range matched {
		c.removeListener(l)
	}
	c.mu.Unlock()

	for _, l := range matched {
		l.callback(msg)
	}
}

// removeListener drops l from the pending list. Caller holds mu.
func (c *Client) removeListener(target *listener) {
	for i, l := range c.pending {
		if l == target {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}
