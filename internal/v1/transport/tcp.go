package transport

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chatd-io/chatd/internal/v1/logging"
	"github.com/chatd-io/chatd/internal/v1/types"
)

// maxFrameBytes bounds one newline-delimited frame. Longer lines fail the
// scanner and end the connection.
const maxFrameBytes = 1 << 20

// TCPServer accepts raw socket clients speaking newline-delimited JSON.
type TCPServer struct {
	addr       string
	dispatcher types.Dispatcher

	ln net.Listener
	wg sync.WaitGroup
}

func NewTCPServer(addr string, d types.Dispatcher) *TCPServer {
	return &TCPServer{addr: addr, dispatcher: d}
}

// Listen binds the address. A bind failure is fatal to the process; the
// caller exits non-zero.
func (s *TCPServer) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	logging.Info(context.Background(), "TCP server listening", zap.String("addr", s.addr))
	return nil
}

// Serve accepts connections until the listener closes. Each connection gets
// its own client goroutine.
func (s *TCPServer) Serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logging.Warn(context.Background(), "Accept failed", zap.Error(err))
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			newClient(newTCPConn(conn), s.dispatcher).run()
		}()
	}
}

// Shutdown closes the listener and waits for in-flight connections, bounded
// by the context.
func (s *TCPServer) Shutdown(ctx context.Context) error {
	if s.ln != nil {
		_ = s.ln.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tcpConn frames a net.Conn with newlines.
type tcpConn struct {
	conn    net.Conn
	scanner *bufio.Scanner
}

func newTCPConn(conn net.Conn) *tcpConn {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxFrameBytes)
	return &tcpConn{conn: conn, scanner: scanner}
}

func (t *tcpConn) ReadFrame() ([]byte, error) {
	for t.scanner.Scan() {
		line := t.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		// Copy out: the scanner reuses its buffer on the next Scan.
		out := make([]byte, len(line))
		copy(out, line)
		return out, nil
	}
	if err := t.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, errConnClosed
}

func (t *tcpConn) WriteFrame(data []byte) error {
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if _, err := t.conn.Write(data); err != nil {
		return err
	}
	_, err := t.conn.Write([]byte{'\n'})
	return err
}

func (t *tcpConn) Close() error {
	return t.conn.Close()
}
