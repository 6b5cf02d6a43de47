// Package protocol defines the typed envelope protocol spoken between the
// CodeHive agent and the relay. Every frame is a single JSON object with a
// required string "type" and a millisecond "timestamp"; client frames also
// carry the sender's "deviceId".
package protocol

import (
	"encoding/json"
	"errors"
	"time"
)

// Client -> server message types.
const (
	MsgCreateRoom        = "create_room"
	MsgJoinRoom          = "join_room"
	MsgLeaveRoom         = "leave_room"
	MsgHeartbeat         = "heartbeat"
	MsgFileChange        = "file_change"
	MsgDeclareWorking    = "declare_working"
	MsgChatMessage       = "chat_message"
	MsgRequestStatus     = "request_status"
	MsgSyncRequest       = "sync_request"
	MsgDeclareTyping     = "declare_typing"
	MsgLockFile          = "lock_file"
	MsgUnlockFile        = "unlock_file"
	MsgUpdateCursor      = "update_cursor"
	MsgShareTerminal     = "share_terminal"
	MsgListRooms         = "list_rooms"
	MsgGetTimeline       = "get_timeline"
	MsgSetWebhook        = "set_webhook"
	MsgSetRoomVisibility = "set_room_visibility"
)

// Server -> client message types.
const (
	MsgRoomCreated     = "room_created"
	MsgRoomJoined      = "room_joined"
	MsgRoomLeft        = "room_left"
	MsgMemberJoined    = "member_joined"
	MsgMemberLeft      = "member_left"
	MsgMemberUpdated   = "member_updated"
	MsgFileChanged     = "file_changed"
	MsgChatReceived    = "chat_received"
	MsgRoomStatus      = "room_status"
	MsgConflictWarning = "conflict_warning"
	MsgError           = "error"
	MsgHeartbeatAck    = "heartbeat_ack"
	MsgTypingIndicator = "typing_indicator"
	MsgFileLocked      = "file_locked"
	MsgFileUnlocked    = "file_unlocked"
	MsgLockError       = "lock_error"
	MsgCursorUpdated   = "cursor_updated"
	MsgTerminalShared  = "terminal_shared"
	MsgRoomList        = "room_list"
	MsgTimeline        = "timeline"
	MsgBranchWarning   = "branch_warning"
)

// Transport close codes. The relay prefers in-band error frames; these are
// defined for clients that want to close with a reason.
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	CloseRoomClosed      = 4000
	CloseInvalidMessage  = 4001
	CloseRoomNotFound    = 4002
	CloseDuplicateDevice = 4003
)

// Protocol limits. Validation happens in the relay's handlers; the constants
// live here so both sides agree.
const (
	MaxMessageBytes    = 1 << 20
	MaxNameLen         = 50
	MaxChatLen         = 10000
	MaxTerminalLen     = 50000
	MaxWorkingFiles    = 100
	MaxPathLen         = 500
	MaxRoomMembers     = 20
	MaxLocksPerRoom    = 50
	MaxRecentChanges   = 100
	MaxTimelineEvents  = 200
	MaxQueuedChanges   = 50
	TypingTimeoutMs    = 10000
	HeartbeatInterval  = 15 * time.Second
	HeartbeatTimeoutMs = 45000
)

// ErrInvalidFrame reports a frame that is not a JSON object or lacks a
// string "type". The connection stays open; the relay replies with an
// in-band error frame.
var ErrInvalidFrame = errors.New("invalid message format")

// Message is the single envelope for every frame in both directions. Fields
// are populated per type; unknown fields are ignored on decode.
type Message struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	DeviceID  string `json:"deviceId,omitempty"`

	Code     string `json:"code,omitempty"`
	Name     string `json:"name,omitempty"`
	Password string `json:"password,omitempty"`
	Branch   string `json:"branch,omitempty"`
	Status   string `json:"status,omitempty"`

	IsPublic       *bool `json:"isPublic,omitempty"`
	ExpiresInHours *int  `json:"expiresInHours,omitempty"`

	File    string   `json:"file,omitempty"`
	Files   []string `json:"files,omitempty"`
	Content string   `json:"content,omitempty"`
	Output  string   `json:"output,omitempty"`
	Limit   int      `json:"limit,omitempty"`

	Change  *FileChange    `json:"change,omitempty"`
	Cursor  *Cursor        `json:"cursor,omitempty"`
	Webhook *WebhookConfig `json:"webhook,omitempty"`

	Message    string            `json:"message,omitempty"`
	Error      string            `json:"error,omitempty"`
	LockedBy   string            `json:"lockedBy,omitempty"`
	Authors    []string          `json:"authors,omitempty"`
	Branches   map[string]string `json:"branches,omitempty"`
	InviteLink string            `json:"inviteLink,omitempty"`

	Room     *RoomInfo       `json:"room,omitempty"`
	Rooms    []RoomSummary   `json:"rooms,omitempty"`
	Member   *MemberInfo     `json:"member,omitempty"`
	Timeline []TimelineEvent `json:"timeline,omitempty"`
}

// Now returns the current time in milliseconds since the epoch, the unit all
// envelope and room timestamps use.
func Now() int64 {
	return time.Now().UnixMilli()
}

// Encode marshals m, stamping the timestamp if the caller left it zero.
func Encode(m *Message) ([]byte, error) {
	if m.Timestamp == 0 {
		m.Timestamp = Now()
	}
	return json.Marshal(m)
}

// Decode parses a frame. Any JSON object with a string "type" is accepted;
// deeper validation is per-handler. Malformed JSON, non-object payloads and
// missing types all map to ErrInvalidFrame.
func Decode(data []byte) (*Message, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, ErrInvalidFrame
	}
	rawType, ok := probe["type"]
	if !ok {
		return nil, ErrInvalidFrame
	}
	var typ string
	if err := json.Unmarshal(rawType, &typ); err != nil || typ == "" {
		return nil, ErrInvalidFrame
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, ErrInvalidFrame
	}
	return &m, nil
}
