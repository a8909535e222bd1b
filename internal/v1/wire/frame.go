// Package wire defines the JSON frame envelope exchanged with clients.
//
// One frame is one JSON object. The TCP adapter delimits frames with
// newlines; the WebSocket adapter sends one frame per text message. A frame
// is a command iff Command is non-empty; otherwise it is a chat message.
// System-emitted frames carry Source = "host" and Username = "SERVER".
package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Frame sources.
const (
	SourceClient = "client"
	SourceHost   = "host"
)

// TimestampLayout is ISO-8601 UTC with a trailing Z, as clients expect.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Inbound commands.
const (
	CmdAuthenticate  = "authenticate"
	CmdCreateRoom    = "create_room"
	CmdJoinRoom      = "join_room"
	CmdLeaveRoom     = "leave_room"
	CmdDeleteRoom    = "delete_room"
	CmdSendMessage   = "send_message"
	CmdUpdateMessage = "update_message"
	CmdDeleteMessage = "delete_message"
	CmdGetRooms      = "get_rooms"
	CmdGetRoomInfo   = "get_room_info"
	CmdTyping        = "typing"
	CmdBroadcast     = "broadcast"
)

// Outbound commands.
const (
	CmdWelcome          = "welcome"
	CmdAuthAck          = "auth_ack"
	CmdRoomsList        = "rooms_list"
	CmdCreateRoomResult = "create_room_result"
	CmdJoinRoomResult   = "join_room_result"
	CmdRoomInfo         = "room_info"
	CmdUserJoinedRoom   = "user_joined_room"
	CmdUserLeftRoom     = "user_left_room"
	CmdUserDisconnected = "user_disconnected"
	CmdMessage          = "message"
	CmdMessageUpdated   = "message_updated"
	CmdMessageDeleted   = "message_deleted"
	CmdTypingStatus     = "typing_status"
	CmdBroadcastMessage = "broadcast_message"
	CmdError            = "error"
)

// Message mutation types (the "type" field on chat frames).
const (
	TypeMessage = "message"
	TypeUpdate  = "update"
	TypeDelete  = "delete"
)

// Frame is the common envelope for every inbound and outbound message.
type Frame struct {
	Username  string         `json:"username"`
	Message   string         `json:"message,omitempty"`
	MessageID string         `json:"messageId,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
	Source    string         `json:"source,omitempty"`
	DeviceID  string         `json:"deviceId,omitempty"`
	Command   string         `json:"command,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
	Type      string         `json:"type,omitempty"`
	RoomID    string         `json:"roomId,omitempty"`
}

// IsCommand reports whether the frame names an operation rather than carrying
// a plain chat message.
func (f *Frame) IsCommand() bool {
	return f.Command != ""
}

// StringParam returns the named param as a string, or "" when absent or not
// a string.
func (f *Frame) StringParam(key string) string {
	if f.Params == nil {
		return ""
	}
	s, _ := f.Params[key].(string)
	return s
}

// BoolParam returns the named param as a bool, false when absent.
func (f *Frame) BoolParam(key string) bool {
	if f.Params == nil {
		return false
	}
	b, _ := f.Params[key].(bool)
	return b
}

// Now returns the current UTC time in the wire timestamp layout.
func Now() string {
	return time.Now().UTC().Format(TimestampLayout)
}

// FormatTime renders t in the wire timestamp layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Decode parses one frame from raw JSON and enforces the envelope contract:
// username is required, and missing defaults (timestamp, source, messageId)
// are filled in so downstream code never sees an empty envelope.
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	if f.Username == "" {
		return nil, fmt.Errorf("frame missing username")
	}
	f.fillDefaults()
	return &f, nil
}

// Encode serializes the frame to a single JSON object without a trailing
// newline; framing is the transport's concern.
func (f *Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

func (f *Frame) fillDefaults() {
	if f.Timestamp == "" {
		f.Timestamp = Now()
	}
	if f.Source == "" {
		f.Source = SourceClient
	}
	if f.MessageID == "" {
		f.MessageID = uuid.NewString()
	}
}

// System builds a host-sourced frame carrying a human-readable message, used
// for join/leave/disconnect announcements and operation results.
func System(command, roomID, message string) *Frame {
	return &Frame{
		Username:  "SERVER",
		Message:   message,
		MessageID: uuid.NewString(),
		Timestamp: Now(),
		Source:    SourceHost,
		Command:   command,
		RoomID:    roomID,
	}
}

// Error builds the single outbound error frame handlers emit on failure.
// kind is one of the core error kinds (NotFound, Forbidden, ...).
func Error(kind, message string) *Frame {
	f := System(CmdError, "", message)
	f.Params = map[string]any{"kind": kind}
	return f
}
