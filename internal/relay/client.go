package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/CodeHiveAPP/codehive/internal/logging"
	"github.com/CodeHiveAPP/codehive/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 45 * time.Second
	sendBufferSize = 256
)

// client is one agent connection. The session fields track the device and
// room the connection last spoke for; both are updated from inbound frames
// so the disconnect path knows which seat to vacate.
type client struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte

	mu       sync.Mutex
	closed   bool
	deviceID string
	roomCode string
}

func newClient(server *Server, conn *websocket.Conn) *client {
	return &client{
		server: server,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
	}
}

// Send implements hive.Transport. It enqueues without blocking; a full
// buffer or a closed connection drops the frame.
func (c *client) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// IsOpen implements hive.Transport.
func (c *client) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *client) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *client) session() (deviceID, roomCode string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceID, c.roomCode
}

func (c *client) setSession(deviceID, roomCode string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if deviceID != "" {
		c.deviceID = deviceID
	}
	if roomCode != "" {
		c.roomCode = roomCode
	}
}

func (c *client) clearRoom() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomCode = ""
}

// reply sends a message to this connection only.
func (c *client) reply(msg *protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		return
	}
	c.Send(data)
}

// replyError sends an in-band error frame. The connection stays open.
func (c *client) replyError(message string) {
	c.reply(&protocol.Message{Type: protocol.MsgError, Message: message})
}

// readPump pumps frames off the connection into the dispatcher. One frame is
// handled at a time, so per-connection ordering is preserved end to end.
func (c *client) readPump() {
	defer func() {
		c.server.handleDisconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(protocol.MaxMessageBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.L().Debug("connection read error", zap.Error(err))
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.server.dispatch(c, data)
	}
}

// writePump drains the send buffer onto the wire, one envelope per frame,
// and keeps the transport alive with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
