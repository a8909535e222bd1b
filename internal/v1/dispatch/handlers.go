package dispatch

import (
	"context"
	"fmt"

	"github.com/chatd-io/chatd/internal/v1/history"
	"github.com/chatd-io/chatd/internal/v1/registry"
	"github.com/chatd-io/chatd/internal/v1/types"
	"github.com/chatd-io/chatd/internal/v1/wire"
)

// handle is the command table. Everything but authenticate requires an
// authenticated session.
func (c *Core) handle(ctx context.Context, sess registry.Session, cmd string, f *wire.Frame) error {
	if cmd != wire.CmdAuthenticate && !sess.Authenticated {
		return fmt.Errorf("authenticate before using %q: %w", cmd, types.ErrForbidden)
	}

	switch cmd {
	case wire.CmdAuthenticate:
		return c.handleAuthenticate(ctx, sess, f)
	case wire.CmdCreateRoom:
		return c.handleCreateRoom(sess, f)
	case wire.CmdJoinRoom:
		return c.handleJoinRoom(ctx, sess, f)
	case wire.CmdLeaveRoom:
		return c.handleLeaveRoom(ctx, sess, f)
	case wire.CmdDeleteRoom:
		return c.handleDeleteRoom(ctx, sess, f)
	case wire.CmdSendMessage:
		return c.handleSendMessage(sess, f)
	case wire.CmdUpdateMessage:
		return c.handleUpdateMessage(sess, f)
	case wire.CmdDeleteMessage:
		return c.handleDeleteMessage(sess, f)
	case wire.CmdGetRooms:
		return c.handleGetRooms(sess, f)
	case wire.CmdGetRoomInfo:
		return c.handleGetRoomInfo(sess, f)
	case wire.CmdTyping:
		return c.handleTyping(sess, f)
	case wire.CmdBroadcast:
		return c.handleBroadcast(sess, f)
	default:
		return fmt.Errorf("unknown command %q: %w", cmd, types.ErrBadRequest)
	}
}

// handleAuthenticate claims the requested username (suffixed on collision),
// acks with the assigned name and any reconnect hint, and homes the session
// in General. The hint is advisory; rejoining the hinted room is the
// client's own join_room, password and all.
func (c *Core) handleAuthenticate(ctx context.Context, sess registry.Session, f *wire.Frame) error {
	assigned, hint, err := c.registry.Authenticate(sess.SID, f.Username, types.DeviceID(f.DeviceID))
	if err != nil {
		return err
	}

	ack := wire.System(wire.CmdAuthAck, "", fmt.Sprintf("You are now known as %s", assigned))
	ack.Params = map[string]any{"usernameAssigned": assigned}
	if hint != "" {
		if room, err := c.rooms.Get(hint); err == nil {
			ack.Params["reconnectHint"] = map[string]any{
				"roomId": string(hint),
				"name":   room.Name,
			}
		}
	}
	if err := sess.Handle.Send(ack); err != nil {
		c.sendFailed(sess.SID)
		return nil
	}

	sess.Username = assigned
	return c.enterRoom(ctx, sess, c.rooms.GeneralID(), "")
}

func (c *Core) handleCreateRoom(sess registry.Session, f *wire.Frame) error {
	room, err := c.rooms.Create(
		f.StringParam("name"),
		f.StringParam("visibility"),
		f.StringParam("password"),
		sess.Username,
	)
	if err != nil {
		return err
	}

	summary, err := c.rooms.Summarize(room.ID)
	if err != nil {
		return err
	}
	result := wire.System(wire.CmdCreateRoomResult, string(room.ID),
		fmt.Sprintf("Room %q created", room.Name))
	result.Params = map[string]any{"room": summary}
	if err := sess.Handle.Send(result); err != nil {
		c.sendFailed(sess.SID)
		return nil
	}

	// Everyone learns about new public rooms immediately, the creator
	// included; its own catalog must not go stale.
	c.broadcastAll(c.roomsListFrame(), "")
	return nil
}

func (c *Core) handleJoinRoom(ctx context.Context, sess registry.Session, f *wire.Frame) error {
	id := types.RoomID(f.RoomID)
	if id == "" {
		id = types.RoomID(f.StringParam("roomId"))
	}
	if id == "" {
		return fmt.Errorf("roomId is required: %w", types.ErrBadRequest)
	}
	return c.enterRoom(ctx, sess, id, f.StringParam("password"))
}

// enterRoom is the shared join path: revive the room from the mirror if the
// catalog lost it, move the session atomically, announce both sides of the
// move, and replay recent history to the joiner.
func (c *Core) enterRoom(ctx context.Context, sess registry.Session, id types.RoomID, password string) error {
	room, err := c.rooms.Revive(ctx, id)
	if err != nil {
		return err
	}

	prev, err := c.rooms.Join(sess.SID, id, password)
	if err != nil {
		return err
	}
	if prev != "" {
		c.announceDeparture(prev, sess, wire.CmdUserLeftRoom,
			fmt.Sprintf("%s left the room", sess.Username))
	}

	arrival := wire.System(wire.CmdUserJoinedRoom, string(id),
		fmt.Sprintf("%s joined the room", sess.Username))
	arrival.Params = map[string]any{"username": sess.Username}
	if err := c.postRoom(id, c.systemRecord(id, arrival), arrival, ""); err != nil {
		return err
	}

	summary, err := c.rooms.Summarize(id)
	if err != nil {
		return err
	}
	result := wire.System(wire.CmdJoinRoomResult, string(id),
		fmt.Sprintf("Joined %q", room.Name))
	result.Params = map[string]any{
		"room":      summary,
		"occupants": c.occupantNames(id),
		"messages":  c.log.Tail(id, c.opts.ReplayLimit),
	}
	if err := sess.Handle.Send(result); err != nil {
		c.sendFailed(sess.SID)
	}
	return nil
}

// handleLeaveRoom leaves the current room. Naming a room the session is not
// in is a BadRequest; omitting it leaves whatever room it is in. Unless the
// session was already in General it is re-homed there; nobody chats from
// nowhere.
func (c *Core) handleLeaveRoom(ctx context.Context, sess registry.Session, f *wire.Frame) error {
	requested := types.RoomID(f.RoomID)
	if requested == "" {
		requested = types.RoomID(f.StringParam("roomId"))
	}
	if requested != "" {
		current, ok := c.rooms.RoomOf(sess.SID)
		if !ok || current != requested {
			return fmt.Errorf("not in room %q: %w", requested, types.ErrBadRequest)
		}
	}

	id, ok := c.rooms.Leave(sess.SID)
	if !ok {
		return fmt.Errorf("not in a room: %w", types.ErrBadRequest)
	}
	c.announceDeparture(id, sess, wire.CmdUserLeftRoom,
		fmt.Sprintf("%s left the room", sess.Username))

	if id == c.rooms.GeneralID() {
		return nil
	}
	return c.enterRoom(ctx, sess, c.rooms.GeneralID(), "")
}

// handleDeleteRoom deletes a room the requester created, discards its log,
// and re-homes every detached member in General.
func (c *Core) handleDeleteRoom(ctx context.Context, sess registry.Session, f *wire.Frame) error {
	id := types.RoomID(f.RoomID)
	if id == "" {
		id = types.RoomID(f.StringParam("roomId"))
	}
	if id == "" {
		return fmt.Errorf("roomId is required: %w", types.ErrBadRequest)
	}

	room, err := c.rooms.Get(id)
	if err != nil {
		return err
	}
	detached, err := c.rooms.Delete(id, sess.Username)
	if err != nil {
		return err
	}
	c.log.DropRoom(id)

	notice := wire.System(wire.CmdUserLeftRoom, string(id),
		fmt.Sprintf("Room %q was deleted", room.Name))
	for _, dsid := range detached {
		member, err := c.registry.Lookup(dsid)
		if err != nil {
			continue
		}
		if err := member.Handle.Send(notice); err != nil {
			c.sendFailed(dsid)
			continue
		}
		if err := c.enterRoom(ctx, member, c.rooms.GeneralID(), ""); err != nil {
			return err
		}
	}

	c.broadcastAll(c.roomsListFrame(), "")
	return nil
}

func (c *Core) handleSendMessage(sess registry.Session, f *wire.Frame) error {
	if f.Message == "" {
		return fmt.Errorf("message content is required: %w", types.ErrBadRequest)
	}
	id, ok := c.rooms.RoomOf(sess.SID)
	if !ok {
		return fmt.Errorf("join a room before sending: %w", types.ErrBadRequest)
	}

	rec := &history.Record{
		MessageID:      f.MessageID,
		RoomID:         id,
		AuthorUsername: sess.Username,
		AuthorUserID:   sess.UserID,
		Content:        f.Message,
		Timestamp:      f.Timestamp,
	}
	out := &wire.Frame{
		Username:  sess.Username,
		Message:   f.Message,
		MessageID: f.MessageID,
		Timestamp: f.Timestamp,
		Source:    wire.SourceClient,
		Command:   wire.CmdMessage,
		Type:      wire.TypeMessage,
		RoomID:    string(id),
	}
	// The sender receives its own message back; that echo is the delivery ack.
	return c.postRoom(id, rec, out, "")
}

func (c *Core) handleUpdateMessage(sess registry.Session, f *wire.Frame) error {
	if f.MessageID == "" {
		return fmt.Errorf("messageId is required: %w", types.ErrBadRequest)
	}
	rec, err := c.log.Edit(f.MessageID, sess.UserID, f.Message)
	if err != nil {
		return err
	}

	out := &wire.Frame{
		Username:  rec.AuthorUsername,
		Message:   rec.Content,
		MessageID: rec.MessageID,
		Timestamp: rec.Timestamp,
		Source:    wire.SourceClient,
		Command:   wire.CmdMessageUpdated,
		Type:      wire.TypeUpdate,
		RoomID:    string(rec.RoomID),
		Params:    map[string]any{"edited": true, "editedAt": rec.EditedAt},
	}
	return c.postRoom(rec.RoomID, nil, out, "")
}

func (c *Core) handleDeleteMessage(sess registry.Session, f *wire.Frame) error {
	if f.MessageID == "" {
		return fmt.Errorf("messageId is required: %w", types.ErrBadRequest)
	}
	notice, err := c.log.Delete(f.MessageID, sess.UserID, sess.Username)
	if err != nil {
		return err
	}

	out := &wire.Frame{
		Username:  notice.DeleterUsername,
		Message:   history.Tombstone,
		MessageID: notice.MessageID,
		Timestamp: notice.OriginalTimestamp,
		Source:    wire.SourceClient,
		Command:   wire.CmdMessageDeleted,
		Type:      wire.TypeDelete,
		RoomID:    string(notice.RoomID),
		Params:    map[string]any{"deletedAt": notice.DeletedAt},
	}
	return c.postRoom(notice.RoomID, nil, out, "")
}

// handleGetRooms replies with the public catalog, or the full catalog when
// the client asks for everything. Hidden rooms expose only their summary;
// password hashes never leave the store.
func (c *Core) handleGetRooms(sess registry.Session, f *wire.Frame) error {
	list := c.rooms.ListPublic()
	if f.BoolParam("all") {
		list = c.rooms.ListAll()
	}
	reply := wire.System(wire.CmdRoomsList, "", "")
	reply.Params = map[string]any{"rooms": list}
	if err := sess.Handle.Send(reply); err != nil {
		c.sendFailed(sess.SID)
	}
	return nil
}

// handleGetRoomInfo returns a room's summary and recent messages. With a
// messageId param it instead returns that message's full version history.
func (c *Core) handleGetRoomInfo(sess registry.Session, f *wire.Frame) error {
	if mid := f.StringParam("messageId"); mid != "" {
		versions, err := c.log.History(mid)
		if err != nil {
			return err
		}
		reply := wire.System(wire.CmdRoomInfo, f.RoomID, "")
		reply.Params = map[string]any{"messageId": mid, "versions": versions}
		if err := sess.Handle.Send(reply); err != nil {
			c.sendFailed(sess.SID)
		}
		return nil
	}

	id := types.RoomID(f.RoomID)
	if id == "" {
		id = types.RoomID(f.StringParam("roomId"))
	}
	if id == "" {
		return fmt.Errorf("roomId is required: %w", types.ErrBadRequest)
	}
	summary, err := c.rooms.Summarize(id)
	if err != nil {
		return err
	}

	reply := wire.System(wire.CmdRoomInfo, string(id), "")
	reply.Params = map[string]any{
		"room":      summary,
		"occupants": c.occupantNames(id),
		"messages":  c.log.Tail(id, c.opts.ReplayLimit),
	}
	if err := sess.Handle.Send(reply); err != nil {
		c.sendFailed(sess.SID)
	}
	return nil
}

// handleTyping relays a typing indicator to the rest of the room. Nothing is
// logged and the sender is excluded.
func (c *Core) handleTyping(sess registry.Session, f *wire.Frame) error {
	id, ok := c.rooms.RoomOf(sess.SID)
	if !ok {
		return fmt.Errorf("join a room first: %w", types.ErrBadRequest)
	}

	out := wire.System(wire.CmdTypingStatus, string(id), "")
	out.Params = map[string]any{
		"username": sess.Username,
		"isTyping": f.BoolParam("isTyping"),
	}
	return c.postRoom(id, nil, out, sess.SID)
}

// handleBroadcast sends a server-wide announcement to every session,
// regardless of room.
func (c *Core) handleBroadcast(sess registry.Session, f *wire.Frame) error {
	if f.Message == "" {
		return fmt.Errorf("message content is required: %w", types.ErrBadRequest)
	}

	out := &wire.Frame{
		Username:  sess.Username,
		Message:   f.Message,
		MessageID: f.MessageID,
		Timestamp: f.Timestamp,
		Source:    wire.SourceClient,
		Command:   wire.CmdBroadcastMessage,
	}
	c.broadcastAll(out, "")
	return nil
}
