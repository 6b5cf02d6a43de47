package protocol

// Member status values.
const (
	StatusActive = "active"
	StatusIdle   = "idle"
	StatusAway   = "away"
)

// Timeline event types.
const (
	EventJoin         = "join"
	EventLeave        = "leave"
	EventChat         = "chat"
	EventFileChange   = "file_change"
	EventLock         = "lock"
	EventUnlock       = "unlock"
	EventConflict     = "conflict"
	EventBranchChange = "branch_change"
)

// File change types.
const (
	ChangeAdd    = "add"
	ChangeModify = "change"
	ChangeUnlink = "unlink"
)

// Cursor is a member's last reported editor position.
type Cursor struct {
	File      string `json:"file"`
	Line      int    `json:"line"`
	Column    int    `json:"column"`
	EndLine   *int   `json:"endLine,omitempty"`
	EndColumn *int   `json:"endColumn,omitempty"`
}

// MemberInfo is the wire projection of a room member.
type MemberInfo struct {
	DeviceID  string   `json:"deviceId"`
	Name      string   `json:"name"`
	Status    string   `json:"status"`
	WorkingOn []string `json:"workingOn"`
	JoinedAt  int64    `json:"joinedAt"`
	LastSeen  int64    `json:"lastSeen"`
	Branch    string   `json:"branch,omitempty"`
	TypingIn  string   `json:"typingIn,omitempty"`
	Cursor    *Cursor  `json:"cursor,omitempty"`
}

// FileChange describes one watched-file event. For text files Diff holds a
// unified-style excerpt; for binary files Diff is empty and SizeAfter is set.
type FileChange struct {
	Path         string `json:"path"`
	Type         string `json:"type"`
	Author       string `json:"author"`
	DeviceID     string `json:"deviceId"`
	Timestamp    int64  `json:"timestamp"`
	Diff         string `json:"diff,omitempty"`
	LinesAdded   int    `json:"linesAdded"`
	LinesRemoved int    `json:"linesRemoved"`
	SizeBefore   *int64 `json:"sizeBefore,omitempty"`
	SizeAfter    *int64 `json:"sizeAfter,omitempty"`
}

// LockInfo is an advisory file lock held by one device.
type LockInfo struct {
	File     string `json:"file"`
	LockedBy string `json:"lockedBy"`
	DeviceID string `json:"deviceId"`
	LockedAt int64  `json:"lockedAt"`
}

// TimelineEvent is one entry of a room's bounded event ring. IDs are a
// monotone per-room counter starting at 1.
type TimelineEvent struct {
	ID     int64  `json:"id"`
	Ts     int64  `json:"ts"`
	Type   string `json:"type"`
	Actor  string `json:"actor"`
	Detail string `json:"detail,omitempty"`
}

// WebhookConfig selects which room events get POSTed where. Events may
// contain "all" or any of: join, leave, chat, file_change, conflict.
type WebhookConfig struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

// RoomInfo is the full room snapshot sent in room_status and join replies.
// RecentChanges and Timeline are truncated to the most recent 20.
type RoomInfo struct {
	Code           string          `json:"code"`
	CreatedAt      int64           `json:"createdAt"`
	CreatedBy      string          `json:"createdBy"`
	HasPassword    bool            `json:"hasPassword"`
	IsPublic       bool            `json:"isPublic"`
	ExpiresInHours int             `json:"expiresInHours"`
	LastActivity   int64           `json:"lastActivity"`
	Members        []MemberInfo    `json:"members"`
	Locks          []LockInfo      `json:"locks"`
	RecentChanges  []FileChange    `json:"recentChanges"`
	Timeline       []TimelineEvent `json:"timeline"`
}

// RoomSummary is the short projection used by list_rooms.
type RoomSummary struct {
	Code        string   `json:"code"`
	CreatedBy   string   `json:"createdBy"`
	CreatedAt   int64    `json:"createdAt"`
	HasPassword bool     `json:"hasPassword"`
	MemberCount int      `json:"memberCount"`
	Members     []string `json:"members"`
}
