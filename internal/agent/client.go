// Package agent implements the developer-side relay client: a websocket
// session with auto-reconnect, a heartbeat loop, an offline change queue
// that flushes after rejoin, and one-shot response waiters for the CLI.
package agent

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/CodeHiveAPP/codehive/internal/config"
	"github.com/CodeHiveAPP/codehive/internal/logging"
	"github.com/CodeHiveAPP/codehive/internal/protocol"
)

const (
	maxReconnectAttempts = 10
	maxReconnectDelay    = 30 * time.Second
	baseReconnectDelay   = time.Second
)

// listener is a one-shot (predicate, callback, timer) triple. Dispatch
// fires each matching listener once and removes it; the timer is an
// independent canceller that fires the callback with nil.
type listener struct {
	predicate func(*protocol.Message) bool
	callback  func(*protocol.Message)
	timer     *time.Timer
	fired     bool
}

// Client is the agent's connection to the relay.
type Client struct {
	cfg      config.AgentConfig
	deviceID string

	// OnMessage observes every inbound frame after waiter dispatch.
	// OnDisconnect fires when the transport drops or reconnection is
	// abandoned. Both are optional.
	OnMessage    func(*protocol.Message)
	OnDisconnect func(error)

	mu              sync.Mutex
	writeMu         sync.Mutex
	conn            *websocket.Conn
	connected       bool
	shouldReconnect bool
	attempts        int

	currentRoom     string
	currentPassword string
	currentBranch   string
	currentStatus   string
	currentName     string

	pending []*listener
	queue   []protocol.FileChange

	heartbeatStop chan struct{}
	reconnectTmr  *time.Timer
}

// NewClient builds a client with a fresh per-session device id.
func NewClient(cfg config.AgentConfig, deviceID string) *Client {
	return &Client{
		cfg:           cfg,
		deviceID:      deviceID,
		currentStatus: protocol.StatusActive,
		currentName:   cfg.Name,
	}
}

// DeviceID returns this session's device identifier.
func (c *Client) DeviceID() string {
	return c.deviceID
}

// Connect dials the relay and starts the read and heartbeat loops. If the
// client still remembers a room (a reconnection), it immediately rejoins
// with the remembered password and branch.
func (c *Client) Connect() error {
	url := fmt.Sprintf("ws://%s:%d/ws", c.cfg.RelayHost, c.cfg.RelayPort)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.shouldReconnect = true
	c.attempts = 0
	rejoinRoom := c.currentRoom
	rejoinPassword := c.currentPassword
	rejoinBranch := c.currentBranch
	if c.heartbeatStop == nil {
		c.heartbeatStop = make(chan struct{})
		go c.heartbeatLoop(c.heartbeatStop)
	}
	c.mu.Unlock()

	go c.readLoop(conn)

	if rejoinRoom != "" {
		logging.L().Info("rejoining room after reconnect", zap.String("room", rejoinRoom))
		c.sendRaw(&protocol.Message{
			Type:     protocol.MsgJoinRoom,
			Code:     rejoinRoom,
			Name:     c.currentName,
			Password: rejoinPassword,
			Branch:   rejoinBranch,
		})
	}
	return nil
}

// Disconnect leaves the current room, closes the transport cleanly and
// disables reconnection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.shouldReconnect = false
	if c.reconnectTmr != nil {
		c.reconnectTmr.Stop()
		c.reconnectTmr = nil
	}
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
	room := c.currentRoom
	conn := c.conn
	c.currentRoom = ""
	c.currentPassword = ""
	c.queue = nil
	c.mu.Unlock()

	if conn != nil {
		if room != "" {
			c.sendRaw(&protocol.Message{Type: protocol.MsgLeaveRoom, Code: room, Name: c.currentName})
		}
		deadline := time.Now().Add(time.Second)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(protocol.CloseNormal, "Client disconnect"), deadline)
		conn.Close()
	}
}

// InRoom reports whether the client considers itself a room member.
func (c *Client) InRoom() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentRoom != ""
}

// CurrentRoom returns the remembered room code, if any.
func (c *Client) CurrentRoom() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentRoom
}

// SetStatus changes the status reported by the heartbeat loop.
func (c *Client) SetStatus(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentStatus = status
}

// SetBranch changes the branch reported by the heartbeat loop.
func (c *Client) SetBranch(branch string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentBranch = branch
}

// readLoop pumps frames until the connection dies, then schedules a
// reconnect.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleConnectionLost(err)
			return
		}
		msg, derr := protocol.Decode(data)
		if derr != nil {
			logging.L().Debug("dropping undecodable frame", zap.Error(derr))
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg *protocol.Message) {
	switch msg.Type {
	case protocol.MsgRoomJoined:
		c.mu.Lock()
		c.currentRoom = msg.Code
		flush := c.queue
		c.queue = nil
		c.mu.Unlock()
		for _, change := range flush {
			ch := change
			c.sendRaw(&protocol.Message{
				Type:   protocol.MsgFileChange,
				Code:   msg.Code,
				Name:   c.currentName,
				Change: &ch,
			})
		}
		if len(flush) > 0 {
			logging.L().Info("flushed queued changes", zap.Int("count", len(flush)))
		}
	case protocol.MsgRoomLeft:
		c.mu.Lock()
		c.currentRoom = ""
		c.currentPassword = ""
		c.mu.Unlock()
	case protocol.MsgError:
		// A rejoin rejection means the queued changes have nowhere to go.
		c.mu.Lock()
		if len(c.queue) > 0 {
			logging.L().Warn("discarding queued changes", zap.Int("count", len(c.queue)), zap.String("reason", msg.Message))
			c.queue = nil
		}
		c.mu.Unlock()
	}

	c.dispatchPending(msg)
	if c.OnMessage != nil {
		c.OnMessage(msg)
	}
}

// handleConnectionLost marks the client offline and arms the backoff timer.
func (c *Client) handleConnectionLost(err error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = false
	c.conn = nil
	should := c.shouldReconnect
	attempts := c.attempts
	c.mu.Unlock()

	if !should {
		return
	}
	if attempts >= maxReconnectAttempts {
		logging.L().Error("reconnect attempts exhausted", zap.Int("attempts", attempts))
		if c.OnDisconnect != nil {
			c.OnDisconnect(err)
		}
		return
	}

	delay := reconnectDelay(attempts)
	logging.L().Info("connection lost, reconnecting",
		zap.Duration("delay", delay),
		zap.Int("attempt", attempts+1),
		zap.Error(err))

	c.mu.Lock()
	c.attempts++
	c.reconnectTmr = time.AfterFunc(delay, func() {
		if cerr := c.reconnect(); cerr != nil {
			c.handleConnectionLost(cerr)
		}
	})
	c.mu.Unlock()

	if c.OnDisconnect != nil {
		c.OnDisconnect(err)
	}
}

// reconnectDelay is the backoff before attempt n (zero-based): doubling
// from one second, capped at thirty.
func reconnectDelay(attempt int) time.Duration {
	delay := baseReconnectDelay << attempt
	if delay > maxReconnectDelay || delay <= 0 {
		return maxReconnectDelay
	}
	return delay
}

// reconnect re-dials without resetting the attempt counter; Connect resets
// it once the dial succeeds.
func (c *Client) reconnect() error {
	c.mu.Lock()
	attempts := c.attempts
	c.mu.Unlock()

	if err := c.Connect(); err != nil {
		c.mu.Lock()
		c.connected = true // let handleConnectionLost run once for this failure
		c.attempts = attempts
		c.mu.Unlock()
		return err
	}
	return nil
}

// heartbeatLoop sends a heartbeat every interval while in a room.
func (c *Client) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(protocol.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			room := c.currentRoom
			status := c.currentStatus
			branch := c.currentBranch
			c.mu.Unlock()
			if room == "" {
				continue
			}
			c.sendRaw(&protocol.Message{
				Type:   protocol.MsgHeartbeat,
				Code:   room,
				Name:   c.currentName,
				Status: status,
				Branch: branch,
			})
		}
	}
}

// sendRaw stamps identity and writes the frame. Writes are serialized by
// the connection lock; failures are dropped (the read loop notices the
// dead transport).
func (c *Client) sendRaw(msg *protocol.Message) {
	msg.DeviceID = c.deviceID
	data, err := protocol.Encode(msg)
	if err != nil {
		return
	}
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()
	if !connected || conn == nil {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if werr := conn.WriteMessage(websocket.TextMessage, data); werr != nil {
		logging.L().Debug("write failed", zap.Error(werr))
	}
}

// sendInRoom is a silent no-op unless the client is in a room.
func (c *Client) sendInRoom(msg *protocol.Message) {
	c.mu.Lock()
	room := c.currentRoom
	c.mu.Unlock()
	if room == "" {
		return
	}
	msg.Code = room
	if msg.Name == "" {
		msg.Name = c.currentName
	}
	c.sendRaw(msg)
}
