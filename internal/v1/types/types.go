package types

import (
	"errors"

	"github.com/chatd-io/chatd/internal/v1/wire"
)

// --- Core Domain Types ---

// SessionID uniquely identifies one live client connection for the lifetime
// of the process.
type SessionID string

// RoomID is the stable key of a chat room (server-generated UUID).
type RoomID string

// UserID identifies the user behind a session, stable for the session's life.
type UserID string

// DeviceID is a short client-chosen identifier that survives reconnects.
type DeviceID string

// ServerPrincipal is the distinguished username the server acts under when it
// creates rooms or posts system messages.
const ServerPrincipal = "SERVER"

// GeneralRoomName is the undeletable default room every authenticated session
// joins first.
const GeneralRoomName = "General"

// --- Error Kinds ---

// Error kinds surfaced across the core boundary. Handlers classify them with
// errors.Is and convert them into a single outbound error frame.
var (
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrConflict        = errors.New("conflict")
	ErrProtected       = errors.New("protected")
	ErrBadRequest      = errors.New("bad request")
	ErrGone            = errors.New("gone")
	ErrTransportFailed = errors.New("transport failed")
)

// Kind maps an error to the wire-level kind string carried in error frames.
// Unrecognized errors map to "Internal".
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrForbidden):
		return "Forbidden"
	case errors.Is(err, ErrConflict):
		return "Conflict"
	case errors.Is(err, ErrProtected):
		return "Protected"
	case errors.Is(err, ErrBadRequest):
		return "BadRequest"
	case errors.Is(err, ErrGone):
		return "Gone"
	case errors.Is(err, ErrTransportFailed):
		return "TransportFailed"
	default:
		return "Internal"
	}
}

// --- Shared Interfaces ---

// SessionHandle is the transport send port the core borrows for the lifetime
// of a session. Send is a non-blocking enqueue: implementations queue the
// frame or refuse it immediately, never waiting on the peer, because the core
// calls it while holding its fan-out lock. A failed Send schedules the
// session for disconnect.
type SessionHandle interface {
	Send(f *wire.Frame) error
	Close()
}

// Dispatcher is the surface a transport adapter drives. Register hands a new
// connection to the core and yields its session id; Route delivers one decoded
// frame and reports an error only when the session is gone, at which point the
// transport notifies the peer and closes; OnClose reports a transport-initiated
// close.
type Dispatcher interface {
	Register(handle SessionHandle) SessionID
	Route(sid SessionID, f *wire.Frame) error
	OnClose(sid SessionID)
}
