package relay

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/CodeHiveAPP/codehive/internal/hive"
	"github.com/CodeHiveAPP/codehive/internal/logging"
	"github.com/CodeHiveAPP/codehive/internal/metrics"
	"github.com/CodeHiveAPP/codehive/internal/protocol"
	"github.com/CodeHiveAPP/codehive/internal/webhook"
)

// dispatch decodes one inbound frame and routes it. A bad frame gets an
// in-band error reply; the connection always stays open.
func (s *Server) dispatch(c *client, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		metrics.Get().InvalidFrames.Inc()
		c.replyError("Invalid message format")
		return
	}
	c.setSession(msg.DeviceID, "")
	metrics.Get().MessagesTotal.WithLabelValues(msg.Type).Inc()

	switch msg.Type {
	case protocol.MsgCreateRoom:
		s.handleCreateRoom(c, msg)
	case protocol.MsgJoinRoom:
		s.handleJoinRoom(c, msg)
	case protocol.MsgLeaveRoom:
		s.handleLeaveRoom(c, msg)
	case protocol.MsgHeartbeat:
		s.handleHeartbeat(c, msg)
	case protocol.MsgFileChange:
		s.handleFileChange(c, msg)
	case protocol.MsgDeclareWorking:
		s.handleDeclareWorking(c, msg)
	case protocol.MsgChatMessage:
		s.handleChatMessage(c, msg)
	case protocol.MsgRequestStatus, protocol.MsgSyncRequest:
		s.handleRequestStatus(c, msg)
	case protocol.MsgDeclareTyping:
		s.handleDeclareTyping(c, msg)
	case protocol.MsgLockFile:
		s.handleLockFile(c, msg)
	case protocol.MsgUnlockFile:
		s.handleUnlockFile(c, msg)
	case protocol.MsgUpdateCursor:
		s.handleUpdateCursor(c, msg)
	case protocol.MsgShareTerminal:
		s.handleShareTerminal(c, msg)
	case protocol.MsgListRooms:
		s.handleListRooms(c, msg)
	case protocol.MsgGetTimeline:
		s.handleGetTimeline(c, msg)
	case protocol.MsgSetWebhook:
		s.handleSetWebhook(c, msg)
	case protocol.MsgSetRoomVisibility:
		s.handleSetRoomVisibility(c, msg)
	default:
		c.replyError("Unknown message type: " + msg.Type)
	}
}

// room fetches the target room, silently dropping the frame when absent.
// Handlers that owe the client a reply use roomOrError instead.
func (s *Server) room(msg *protocol.Message) *hive.Room {
	return s.registry.GetRoom(msg.Code)
}

func (s *Server) roomOrError(c *client, msg *protocol.Message) *hive.Room {
	room := s.registry.GetRoom(msg.Code)
	if room == nil {
		c.replyError("Room not found")
	}
	return room
}

func validName(name string) bool {
	return len(name) >= 1 && len(name) <= protocol.MaxNameLen
}

func (s *Server) handleCreateRoom(c *client, msg *protocol.Message) {
	if !validName(msg.Name) {
		c.replyError(fmt.Sprintf("Name must be 1-%d characters", protocol.MaxNameLen))
		return
	}

	opts := hive.RoomOptions{Password: msg.Password}
	if msg.IsPublic != nil {
		opts.IsPublic = *msg.IsPublic
	}
	if msg.ExpiresInHours != nil {
		opts.ExpiresInHours = *msg.ExpiresInHours
	}

	room, err := s.registry.CreateRoom(msg.Name, opts)
	if err != nil {
		c.replyError("Could not create room: " + err.Error())
		return
	}
	if err := room.AddMember(msg.DeviceID, msg.Name, c, msg.Branch); err != nil {
		s.registry.DeleteRoom(room.Code)
		c.replyError(err.Error())
		return
	}
	c.setSession(msg.DeviceID, room.Code)
	s.updateRoomGauge()

	logging.ForRoom(room.Code).Info("room created", zap.String("by", msg.Name))

	c.reply(&protocol.Message{
		Type:       protocol.MsgRoomCreated,
		Code:       room.Code,
		Room:       room.ToRoomInfo(),
		InviteLink: protocol.InviteLink(s.cfg.Host, s.cfg.Port, room.Code, msg.Password),
	})
}

func (s *Server) handleJoinRoom(c *client, msg *protocol.Message) {
	if !validName(msg.Name) {
		c.replyError(fmt.Sprintf("Name must be 1-%d characters", protocol.MaxNameLen))
		return
	}
	room := s.roomOrError(c, msg)
	if room == nil {
		return
	}
	if room.HasPassword() && !room.CheckPassword(msg.Password) {
		c.replyError("Wrong password")
		return
	}
	if err := room.AddMember(msg.DeviceID, msg.Name, c, msg.Branch); err != nil {
		c.replyError(err.Error())
		return
	}
	c.setSession(msg.DeviceID, room.Code)

	logging.ForRoom(room.Code).Info("member joined", zap.String("name", msg.Name))

	// The joiner's own confirmation goes first; peers hear about it after.
	c.reply(&protocol.Message{
		Type: protocol.MsgRoomJoined,
		Code: room.Code,
		Room: room.ToRoomInfo(),
	})
	room.Broadcast(&protocol.Message{
		Type:   protocol.MsgMemberJoined,
		Code:   room.Code,
		Name:   msg.Name,
		Member: room.MemberSnapshot(msg.DeviceID),
	}, msg.DeviceID)

	if diverged, warning, branches := room.CheckBranchDivergence(); diverged {
		room.Broadcast(&protocol.Message{
			Type:     protocol.MsgBranchWarning,
			Code:     room.Code,
			Message:  warning,
			Branches: branches,
		}, "")
	}
	s.hooks.Fire(room.WebhookConfig(), room.Code, webhook.EventJoin, map[string]any{"name": msg.Name})
}

func (s *Server) handleLeaveRoom(c *client, msg *protocol.Message) {
	room := s.room(msg)
	if room == nil {
		return
	}
	removed := room.RemoveMember(msg.DeviceID)
	if removed == nil {
		return
	}
	c.clearRoom()

	room.Broadcast(&protocol.Message{
		Type:   protocol.MsgMemberLeft,
		Code:   room.Code,
		Name:   removed.Name,
		Member: removed,
	}, "")
	c.reply(&protocol.Message{Type: protocol.MsgRoomLeft, Code: room.Code})

	s.hooks.Fire(room.WebhookConfig(), room.Code, webhook.EventLeave, map[string]any{"name": removed.Name})
	if room.IsEmpty() {
		s.registry.DeleteRoom(room.Code)
		metrics.Get().RoomsPrunedTotal.WithLabelValues("empty").Inc()
		s.updateRoomGauge()
	}
}

func (s *Server) handleHeartbeat(c *client, msg *protocol.Message) {
	room := s.room(msg)
	if room == nil {
		return
	}
	branchChanged := room.UpdateHeartbeat(msg.DeviceID, msg.Status, msg.Branch)
	if branchChanged {
		if diverged, warning, branches := room.CheckBranchDivergence(); diverged {
			room.Broadcast(&protocol.Message{
				Type:     protocol.MsgBranchWarning,
				Code:     room.Code,
				Message:  warning,
				Branches: branches,
			}, "")
		}
	}
	c.reply(&protocol.Message{Type: protocol.MsgHeartbeatAck, Code: room.Code})
}

func (s *Server) handleFileChange(c *client, msg *protocol.Message) {
	room := s.room(msg)
	if room == nil || msg.Change == nil {
		return
	}
	change := *msg.Change

	if lockedBy, holderID, locked := room.LockHolder(change.Path); locked && holderID != msg.DeviceID {
		c.replyError(fmt.Sprintf("%s is locked by %s", change.Path, lockedBy))
		return
	}

	change.DeviceID = msg.DeviceID
	if change.Timestamp == 0 {
		change.Timestamp = protocol.Now()
	}
	conflicts := room.RecordFileChange(change)

	// Peers see the change before any conflict warning it triggered.
	room.Broadcast(&protocol.Message{
		Type:   protocol.MsgFileChanged,
		Code:   room.Code,
		Change: &change,
	}, msg.DeviceID)

	if len(conflicts) > 0 {
		authors := []string{change.Author}
		for _, m := range conflicts {
			authors = append(authors, m.Name)
		}
		room.AppendConflictEvent(change.Author, change.Path)
		room.Broadcast(&protocol.Message{
			Type:    protocol.MsgConflictWarning,
			Code:    room.Code,
			File:    change.Path,
			Authors: authors,
			Message: fmt.Sprintf("%s changed %s while others are working on it", change.Author, change.Path),
		}, "")
	}

	cfg := room.WebhookConfig()
	s.hooks.Fire(cfg, room.Code, webhook.EventFileChange, map[string]any{
		"path":   change.Path,
		"author": change.Author,
	})
	if len(conflicts) > 0 {
		s.hooks.Fire(cfg, room.Code, webhook.EventConflict, map[string]any{
			"path":   change.Path,
			"author": change.Author,
		})
	}
}

func (s *Server) handleDeclareWorking(c *client, msg *protocol.Message) {
	room := s.room(msg)
	if room == nil {
		return
	}
	if len(msg.Files) > protocol.MaxWorkingFiles {
		c.replyError(fmt.Sprintf("Too many files (max %d)", protocol.MaxWorkingFiles))
		return
	}
	for _, f := range msg.Files {
		if len(f) > protocol.MaxPathLen {
			c.replyError(fmt.Sprintf("Path too long (max %d characters)", protocol.MaxPathLen))
			return
		}
	}

	conflicts := room.UpdateWorkingFiles(msg.DeviceID, msg.Name, msg.Files)
	room.Broadcast(&protocol.Message{
		Type:   protocol.MsgMemberUpdated,
		Code:   room.Code,
		Member: room.MemberSnapshot(msg.DeviceID),
	}, msg.DeviceID)

	self := room.MemberSnapshot(msg.DeviceID)
	for _, conflict := range conflicts {
		authors := make([]string, 0, len(conflict.Members)+1)
		if self != nil {
			authors = append(authors, self.Name)
		}
		for _, m := range conflict.Members {
			authors = append(authors, m.Name)
		}
		room.Broadcast(&protocol.Message{
			Type:    protocol.MsgConflictWarning,
			Code:    room.Code,
			File:    conflict.File,
			Authors: authors,
			Message: fmt.Sprintf("Multiple members are working on %s", conflict.File),
		}, "")
	}
}

func (s *Server) handleChatMessage(c *client, msg *protocol.Message) {
	room := s.room(msg)
	if room == nil {
		return
	}
	if len(msg.Content) < 1 || len(msg.Content) > protocol.MaxChatLen {
		c.replyError(fmt.Sprintf("Message must be 1-%d characters", protocol.MaxChatLen))
		return
	}

	room.AppendChatEvent(msg.Name, msg.Content)
	room.Broadcast(&protocol.Message{
		Type:    protocol.MsgChatReceived,
		Code:    room.Code,
		Name:    msg.Name,
		Content: msg.Content,
	}, msg.DeviceID)

	s.hooks.Fire(room.WebhookConfig(), room.Code, webhook.EventChat, map[string]any{
		"name":    msg.Name,
		"content": msg.Content,
	})
}

func (s *Server) handleRequestStatus(c *client, msg *protocol.Message) {
	room := s.roomOrError(c, msg)
	if room == nil {
		return
	}
	c.reply(&protocol.Message{
		Type: protocol.MsgRoomStatus,
		Code: room.Code,
		Room: room.ToRoomInfo(),
	})
}

func (s *Server) handleDeclareTyping(c *client, msg *protocol.Message) {
	room := s.room(msg)
	if room == nil {
		return
	}
	room.SetTyping(msg.DeviceID, msg.File)
	room.Broadcast(&protocol.Message{
		Type: protocol.MsgTypingIndicator,
		Code: room.Code,
		Name: msg.Name,
		File: msg.File,
	}, msg.DeviceID)
}

func (s *Server) handleLockFile(c *client, msg *protocol.Message) {
	room := s.room(msg)
	if room == nil {
		return
	}
	result := room.LockFile(msg.DeviceID, msg.Name, msg.File)
	if !result.Success {
		c.reply(&protocol.Message{
			Type:     protocol.MsgLockError,
			Code:     room.Code,
			File:     msg.File,
			Error:    result.Error,
			LockedBy: result.LockedBy,
		})
		return
	}
	room.Broadcast(&protocol.Message{
		Type: protocol.MsgFileLocked,
		Code: room.Code,
		File: msg.File,
		Name: msg.Name,
	}, "")
}

func (s *Server) handleUnlockFile(c *client, msg *protocol.Message) {
	room := s.room(msg)
	if room == nil {
		return
	}
	result := room.UnlockFile(msg.DeviceID, msg.Name, msg.File)
	if !result.Success {
		c.replyError(result.Error)
		return
	}
	room.Broadcast(&protocol.Message{
		Type: protocol.MsgFileUnlocked,
		Code: room.Code,
		File: msg.File,
		Name: msg.Name,
	}, "")
}

func (s *Server) handleUpdateCursor(c *client, msg *protocol.Message) {
	room := s.room(msg)
	if room == nil {
		return
	}
	room.UpdateCursor(msg.DeviceID, msg.Cursor)
	room.Broadcast(&protocol.Message{
		Type:   protocol.MsgCursorUpdated,
		Code:   room.Code,
		Name:   msg.Name,
		Cursor: msg.Cursor,
	}, msg.DeviceID)
}

func (s *Server) handleShareTerminal(c *client, msg *protocol.Message) {
	room := s.room(msg)
	if room == nil {
		return
	}
	if len(msg.Output) > protocol.MaxTerminalLen {
		c.replyError(fmt.Sprintf("Terminal output too large (max %d characters)", protocol.MaxTerminalLen))
		return
	}
	room.Broadcast(&protocol.Message{
		Type:   protocol.MsgTerminalShared,
		Code:   room.Code,
		Name:   msg.Name,
		Output: msg.Output,
	}, msg.DeviceID)
}

func (s *Server) handleListRooms(c *client, _ *protocol.Message) {
	rooms := s.registry.GetPublicRooms()
	summaries := make([]protocol.RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		summaries = append(summaries, r.ToRoomSummary())
	}
	c.reply(&protocol.Message{
		Type:  protocol.MsgRoomList,
		Rooms: summaries,
	})
}

func (s *Server) handleGetTimeline(c *client, msg *protocol.Message) {
	room := s.roomOrError(c, msg)
	if room == nil {
		return
	}
	limit := msg.Limit
	if limit <= 0 {
		limit = 50
	}
	c.reply(&protocol.Message{
		Type:     protocol.MsgTimeline,
		Code:     room.Code,
		Timeline: room.TimelineTail(limit),
	})
}

func (s *Server) handleSetWebhook(c *client, msg *protocol.Message) {
	room := s.roomOrError(c, msg)
	if room == nil {
		return
	}
	room.SetWebhook(msg.Webhook)
}

func (s *Server) handleSetRoomVisibility(c *client, msg *protocol.Message) {
	room := s.roomOrError(c, msg)
	if room == nil {
		return
	}
	if msg.IsPublic != nil {
		room.SetPublic(*msg.IsPublic)
	}
}
