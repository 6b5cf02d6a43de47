// Package hive holds the relay's room model: members, advisory file locks,
// the bounded event timeline, and the registry that maps room codes to live
// rooms. Every mutating operation on a room runs under that room's lock;
// operations on different rooms are free to run in parallel.
package hive

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/CodeHiveAPP/codehive/internal/protocol"
)

// Transport is one member's outbound frame channel. Send enqueues without
// blocking and reports false when the connection is closed or its buffer is
// full; broadcast treats both the same and moves on.
type Transport interface {
	Send(data []byte) bool
	IsOpen() bool
}

type member struct {
	info      protocol.MemberInfo
	transport Transport
}

// Room is one collaboration session. Exported immutable fields are set at
// creation; everything behind mu is owned by the room lock.
type Room struct {
	Code      string
	CreatedAt int64
	CreatedBy string

	mu             sync.Mutex
	password       string
	passwordHash   string // set instead of password for rooms recovered from disk
	isPublic       bool
	expiresInHours int
	lastActivity   int64

	members       map[string]*member
	locks         map[string]*protocol.LockInfo
	recentChanges []protocol.FileChange
	timeline      []protocol.TimelineEvent
	nextEventID   int64
	typingTimers  map[string]*time.Timer
	webhook       *protocol.WebhookConfig
}

// RoomOptions carries the optional create_room parameters.
type RoomOptions struct {
	Password       string
	IsPublic       bool
	ExpiresInHours int
}

// NewRoom builds an empty room. The caller (registry) owns code uniqueness.
func NewRoom(code, createdBy string, opts RoomOptions) *Room {
	now := protocol.Now()
	return &Room{
		Code:           code,
		CreatedAt:      now,
		CreatedBy:      createdBy,
		password:       opts.Password,
		isPublic:       opts.IsPublic,
		expiresInHours: opts.ExpiresInHours,
		lastActivity:   now,
		members:        make(map[string]*member),
		locks:          make(map[string]*protocol.LockInfo),
		typingTimers:   make(map[string]*time.Timer),
		nextEventID:    1,
	}
}

// touch advances lastActivity. Caller holds mu.
func (r *Room) touch() {
	r.lastActivity = protocol.Now()
}

// appendEvent pushes a timeline entry, dropping the oldest past the cap.
// Caller holds mu.
func (r *Room) appendEvent(eventType, actor, detail string) {
	r.timeline = append(r.timeline, protocol.TimelineEvent{
		ID:     r.nextEventID,
		Ts:     protocol.Now(),
		Type:   eventType,
		Actor:  actor,
		Detail: detail,
	})
	r.nextEventID++
	if len(r.timeline) > protocol.MaxTimelineEvents {
		r.timeline = r.timeline[len(r.timeline)-protocol.MaxTimelineEvents:]
	}
}

// AddMember seats a device in the room. The returned error text is
// human-readable and travels to the client verbatim.
func (r *Room) AddMember(deviceID, name string, transport Transport, branch string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.members) >= protocol.MaxRoomMembers {
		return fmt.Errorf("room is full (max %d members)", protocol.MaxRoomMembers)
	}
	if _, exists := r.members[deviceID]; exists {
		return fmt.Errorf("device already in room")
	}

	now := protocol.Now()
	r.members[deviceID] = &member{
		info: protocol.MemberInfo{
			DeviceID:  deviceID,
			Name:      name,
			Status:    protocol.StatusActive,
			WorkingOn: []string{},
			JoinedAt:  now,
			LastSeen:  now,
			Branch:    branch,
		},
		transport: transport,
	}
	r.appendEvent(protocol.EventJoin, name, "")
	r.touch()
	return nil
}

// RemoveMember unseats a device: cancels its typing timer, releases every
// lock it holds, removes the seat, and records the leave. Returns the
// removed member's info, or nil when the device held no seat.
func (r *Room) RemoveMember(deviceID string) *protocol.MemberInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[deviceID]
	if !ok {
		return nil
	}
	if t := r.typingTimers[deviceID]; t != nil {
		t.Stop()
		delete(r.typingTimers, deviceID)
	}
	for path, lock := range r.locks {
		if lock.DeviceID == deviceID {
			delete(r.locks, path)
		}
	}
	delete(r.members, deviceID)
	r.touch()
	r.appendEvent(protocol.EventLeave, m.info.Name, "")
	info := m.info
	return &info
}

// UpdateHeartbeat refreshes lastSeen and status; a branch switch also lands
// on the timeline. Reports whether the branch changed so the relay can
// re-check divergence. Nothing is broadcast from here.
func (r *Room) UpdateHeartbeat(deviceID, status, branch string) (branchChanged bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[deviceID]
	if !ok {
		return false
	}
	m.info.LastSeen = protocol.Now()
	if status != "" {
		m.info.Status = status
	}
	if branch != "" && branch != m.info.Branch {
		m.info.Branch = branch
		r.appendEvent(protocol.EventBranchChange, m.info.Name, branch)
		return true
	}
	return false
}

// SetTyping marks what a member is typing in and arms a fresh auto-clear
// timer. A new call replaces any outstanding timer; an empty file cancels
// it. The timer only clears the field if it still holds the same file.
func (r *Room) SetTyping(deviceID, file string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[deviceID]
	if !ok {
		return
	}
	if t := r.typingTimers[deviceID]; t != nil {
		t.Stop()
		delete(r.typingTimers, deviceID)
	}
	m.info.TypingIn = file
	if file == "" {
		return
	}
	r.typingTimers[deviceID] = time.AfterFunc(protocol.TypingTimeoutMs*time.Millisecond, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if cur, ok := r.members[deviceID]; ok && cur.info.TypingIn == file {
			cur.info.TypingIn = ""
		}
		delete(r.typingTimers, deviceID)
	})
}

// UpdateCursor is last-writer-wins on the member's cursor.
func (r *Room) UpdateCursor(deviceID string, cursor *protocol.Cursor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.members[deviceID]; ok {
		m.info.Cursor = cursor
	}
}

// LockResult is the outcome of a lock or unlock attempt.
type LockResult struct {
	Success  bool
	Error    string
	LockedBy string
}

// LockFile takes an advisory lock. Re-acquiring a lock you already hold is
// an idempotent success and leaves no new timeline entry.
func (r *Room) LockFile(deviceID, name, file string) LockResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.locks[file]; ok {
		if existing.DeviceID == deviceID {
			return LockResult{Success: true}
		}
		return LockResult{
			Success:  false,
			Error:    fmt.Sprintf("%s is locked by %s", file, existing.LockedBy),
			LockedBy: existing.LockedBy,
		}
	}
	if len(r.locks) >= protocol.MaxLocksPerRoom {
		return LockResult{Success: false, Error: fmt.Sprintf("lock limit reached (max %d)", protocol.MaxLocksPerRoom)}
	}
	r.locks[file] = &protocol.LockInfo{
		File:     file,
		LockedBy: name,
		DeviceID: deviceID,
		LockedAt: protocol.Now(),
	}
	r.touch()
	r.appendEvent(protocol.EventLock, name, file)
	return LockResult{Success: true}
}

// UnlockFile releases an advisory lock. Unlocking a file nobody holds is a
// silent success.
func (r *Room) UnlockFile(deviceID, name, file string) LockResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.locks[file]
	if !ok {
		return LockResult{Success: true}
	}
	if existing.DeviceID != deviceID {
		return LockResult{Success: false, Error: fmt.Sprintf("%s is locked by %s", file, existing.LockedBy)}
	}
	delete(r.locks, file)
	r.touch()
	r.appendEvent(protocol.EventUnlock, name, file)
	return LockResult{Success: true}
}

// LockHolder reports who holds a path, if anyone.
func (r *Room) LockHolder(file string) (lockedBy, deviceID string, locked bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.locks[file]; ok {
		return l.LockedBy, l.DeviceID, true
	}
	return "", "", false
}

// RecordFileChange appends to the recent-changes ring and returns the other
// members whose declared working set includes the changed path -- the
// conflict set for this change.
func (r *Room) RecordFileChange(change protocol.FileChange) []protocol.MemberInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.recentChanges = append(r.recentChanges, change)
	if len(r.recentChanges) > protocol.MaxRecentChanges {
		r.recentChanges = r.recentChanges[len(r.recentChanges)-protocol.MaxRecentChanges:]
	}
	r.touch()
	r.appendEvent(protocol.EventFileChange, change.Author, change.Path)

	var conflicts []protocol.MemberInfo
	for deviceID, m := range r.members {
		if deviceID == change.DeviceID {
			continue
		}
		for _, f := range m.info.WorkingOn {
			if f == change.Path {
				conflicts = append(conflicts, m.info)
				break
			}
		}
	}
	return conflicts
}

// WorkingConflict pairs a declared file with the other members already on it.
type WorkingConflict struct {
	File    string
	Members []protocol.MemberInfo
}

// UpdateWorkingFiles replaces the member's declared working set and reports,
// per file, which other members currently declare the same path.
func (r *Room) UpdateWorkingFiles(deviceID, name string, files []string) []WorkingConflict {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[deviceID]
	if !ok {
		return nil
	}
	m.info.WorkingOn = files
	m.info.LastSeen = protocol.Now()

	var conflicts []WorkingConflict
	for _, file := range files {
		var others []protocol.MemberInfo
		for otherID, other := range r.members {
			if otherID == deviceID {
				continue
			}
			for _, f := range other.info.WorkingOn {
				if f == file {
					others = append(others, other.info)
					break
				}
			}
		}
		if len(others) > 0 {
			conflicts = append(conflicts, WorkingConflict{File: file, Members: others})
		}
	}
	return conflicts
}

// MemberSnapshot returns a copy of one member's info.
func (r *Room) MemberSnapshot(deviceID string) *protocol.MemberInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.members[deviceID]; ok {
		info := m.info
		return &info
	}
	return nil
}

// CheckBranchDivergence inspects member branches. The room is diverged when
// more than one distinct non-empty branch is present.
func (r *Room) CheckBranchDivergence() (diverged bool, message string, branches map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	branches = make(map[string]string)
	distinct := make(map[string]bool)
	for _, m := range r.members {
		if m.info.Branch != "" {
			branches[m.info.Name] = m.info.Branch
			distinct[m.info.Branch] = true
		}
	}
	if len(distinct) <= 1 {
		return false, "", branches
	}
	names := make([]string, 0, len(distinct))
	for b := range distinct {
		names = append(names, b)
	}
	sort.Strings(names)
	msg := "Team members are on different branches: "
	for i, b := range names {
		if i > 0 {
			msg += ", "
		}
		msg += b
	}
	return true, msg, branches
}

// FindDeadClients returns the device ids whose lastSeen is older than
// timeoutMs. The heartbeat sweep evicts them.
func (r *Room) FindDeadClients(timeoutMs int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := protocol.Now() - timeoutMs
	var dead []string
	for deviceID, m := range r.members {
		if m.info.LastSeen < cutoff {
			dead = append(dead, deviceID)
		}
	}
	return dead
}

// CheckPassword verifies a join attempt. Live rooms compare the plaintext;
// rooms recovered from disk only kept the SHA-256 hex, so the presented
// password is hashed and compared.
func (r *Room) CheckPassword(password string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.password != "" {
		return password == r.password
	}
	if r.passwordHash != "" {
		return hashPassword(password) == r.passwordHash
	}
	return true
}

// HasPassword reports whether any password gate is set.
func (r *Room) HasPassword() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.password != "" || r.passwordHash != ""
}

// Password returns the in-memory plaintext password ("" for recovered rooms).
func (r *Room) Password() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.password
}

// SetWebhook assigns or clears the room's webhook config.
func (r *Room) SetWebhook(cfg *protocol.WebhookConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.webhook = cfg
}

// WebhookConfig returns a copy of the current webhook config, or nil.
func (r *Room) WebhookConfig() *protocol.WebhookConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.webhook == nil {
		return nil
	}
	cfg := *r.webhook
	return &cfg
}

// SetPublic toggles room-list discoverability.
func (r *Room) SetPublic(public bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.isPublic = public
}

// IsPublic reports discoverability.
func (r *Room) IsPublic() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isPublic
}

// MemberCount returns the number of seated devices.
func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// IsEmpty reports whether no device holds a seat.
func (r *Room) IsEmpty() bool {
	return r.MemberCount() == 0
}

// IsExpired reports whether lastActivity is older than the room's expiry
// window. Rooms with expiresInHours == 0 never expire.
func (r *Room) IsExpired() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.expiresInHours <= 0 {
		return false
	}
	ageMs := protocol.Now() - r.lastActivity
	return ageMs > int64(r.expiresInHours)*int64(time.Hour/time.Millisecond)
}

// TimelineTail returns the last limit timeline events, newest last.
func (r *Room) TimelineTail(limit int) []protocol.TimelineEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 || limit > len(r.timeline) {
		limit = len(r.timeline)
	}
	tail := make([]protocol.TimelineEvent, limit)
	copy(tail, r.timeline[len(r.timeline)-limit:])
	return tail
}

// AppendChatEvent records a chat message on the timeline.
func (r *Room) AppendChatEvent(actor, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touch()
	r.appendEvent(protocol.EventChat, actor, content)
}

// AppendConflictEvent records a detected conflict on the timeline.
func (r *Room) AppendConflictEvent(actor, file string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendEvent(protocol.EventConflict, actor, file)
}

// SendTo delivers one encoded message to a single member. Closed transports
// are skipped silently.
func (r *Room) SendTo(deviceID string, msg *protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		return
	}
	r.mu.Lock()
	m, ok := r.members[deviceID]
	r.mu.Unlock()
	if ok && m.transport.IsOpen() {
		m.transport.Send(data)
	}
}

// Broadcast delivers an encoded message to every member except
// excludeDeviceID (empty string excludes nobody). Delivery is best-effort:
// closed or backed-up transports are dropped without notice.
func (r *Room) Broadcast(msg *protocol.Message, excludeDeviceID string) {
	data, err := protocol.Encode(msg)
	if err != nil {
		return
	}
	r.mu.Lock()
	targets := make([]Transport, 0, len(r.members))
	for deviceID, m := range r.members {
		if deviceID == excludeDeviceID {
			continue
		}
		targets = append(targets, m.transport)
	}
	r.mu.Unlock()
	for _, t := range targets {
		if t.IsOpen() {
			t.Send(data)
		}
	}
}

// ToRoomInfo is the full snapshot projection. Recent changes and timeline
// are truncated to the newest 20 so status replies stay small.
func (r *Room) ToRoomInfo() *protocol.RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := &protocol.RoomInfo{
		Code:           r.Code,
		CreatedAt:      r.CreatedAt,
		CreatedBy:      r.CreatedBy,
		HasPassword:    r.password != "" || r.passwordHash != "",
		IsPublic:       r.isPublic,
		ExpiresInHours: r.expiresInHours,
		LastActivity:   r.lastActivity,
		Members:        make([]protocol.MemberInfo, 0, len(r.members)),
		Locks:          make([]protocol.LockInfo, 0, len(r.locks)),
	}
	for _, m := range r.members {
		info.Members = append(info.Members, m.info)
	}
	sort.Slice(info.Members, func(i, j int) bool { return info.Members[i].JoinedAt < info.Members[j].JoinedAt })
	for _, l := range r.locks {
		info.Locks = append(info.Locks, *l)
	}
	sort.Slice(info.Locks, func(i, j int) bool { return info.Locks[i].File < info.Locks[j].File })

	changes := r.recentChanges
	if len(changes) > 20 {
		changes = changes[len(changes)-20:]
	}
	info.RecentChanges = append([]protocol.FileChange{}, changes...)

	events := r.timeline
	if len(events) > 20 {
		events = events[len(events)-20:]
	}
	info.Timeline = append([]protocol.TimelineEvent{}, events...)
	return info
}

// ToRoomSummary is the short projection used by list_rooms.
func (r *Room) ToRoomSummary() protocol.RoomSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.members))
	for _, m := range r.members {
		names = append(names, m.info.Name)
	}
	sort.Strings(names)
	return protocol.RoomSummary{
		Code:        r.Code,
		CreatedBy:   r.CreatedBy,
		CreatedAt:   r.CreatedAt,
		HasPassword: r.password != "" || r.passwordHash != "",
		MemberCount: len(r.members),
		Members:     names,
	}
}
