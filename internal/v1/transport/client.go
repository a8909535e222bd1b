// Package transport carries frames between peers and the dispatcher.
//
// Two adapters share one client type: newline-delimited JSON over TCP, and
// one JSON object per WebSocket text message. The client owns a buffered
// outbound queue; Send is a non-blocking enqueue so the core never stalls on
// a slow peer, and a refused enqueue surfaces as a transport failure that
// the core answers by disconnecting the session.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chatd-io/chatd/internal/v1/logging"
	"github.com/chatd-io/chatd/internal/v1/types"
	"github.com/chatd-io/chatd/internal/v1/wire"
)

const (
	// sendBuffer is how many outbound frames may queue before the session is
	// considered too slow and dropped.
	sendBuffer = 256

	writeWait = 10 * time.Second
)

// frameConn abstracts the framed byte stream under a client. Implementations
// handle delimiting and write deadlines.
type frameConn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
	Close() error
}

// Client adapts one connection to the dispatcher.
type Client struct {
	conn       frameConn
	dispatcher types.Dispatcher
	sid        types.SessionID

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once

	send chan []byte
}

func newClient(conn frameConn, d types.Dispatcher) *Client {
	return &Client{
		conn:       conn,
		dispatcher: d,
		send:       make(chan []byte, sendBuffer),
	}
}

// Send satisfies types.SessionHandle. It never blocks: a full queue or a
// closed client is reported as a transport failure and the caller decides
// what that costs the session.
func (c *Client) Send(f *wire.Frame) error {
	data, err := f.Encode()
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	// The lock spans both the closed check and the enqueue so Close cannot
	// close the channel between them.
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return fmt.Errorf("session %q closed: %w", c.sid, types.ErrTransportFailed)
	}

	select {
	case c.send <- data:
		return nil
	default:
		return fmt.Errorf("send queue full for session %q: %w", c.sid, types.ErrTransportFailed)
	}
}

// Close satisfies types.SessionHandle. The channel closes under the write
// lock, excluding in-flight Sends; the writePump then drains queued frames
// before tearing the connection down.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
	})
}

// run registers the session, starts the write pump, and reads until the
// connection dies. It returns when the read side ends.
func (c *Client) run() {
	c.sid = c.dispatcher.Register(c)
	go c.writePump()
	c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.dispatcher.OnClose(c.sid)
		c.Close()
	}()

	for {
		data, err := c.conn.ReadFrame()
		if err != nil {
			return
		}

		f, err := wire.Decode(data)
		if err != nil {
			// Malformed input costs an error frame, never the connection.
			if serr := c.Send(wire.Error("BadRequest", err.Error())); serr != nil {
				return
			}
			continue
		}

		if err := c.dispatcher.Route(c.sid, f); err != nil {
			// The session is gone; tell the peer once and hang up.
			_ = c.Send(wire.Error(types.Kind(err), err.Error()))
			return
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for data := range c.send {
		if err := c.conn.WriteFrame(data); err != nil {
			if !errors.Is(err, errConnClosed) {
				logging.Warn(context.Background(), "Error writing frame",
					zap.String("session_id", string(c.sid)), zap.Error(err))
			}
			return
		}
	}
}

var errConnClosed = errors.New("connection closed")
