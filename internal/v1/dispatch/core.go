// Package dispatch routes inbound frames to the core chat operations and
// fans results back out to sessions.
//
// Frame handling for one session is serialized by its transport read loop;
// cross-session ordering of room deliveries is serialized by fanMu, which is
// held across the log append and the enqueue to every recipient so all
// members observe messages in log order. Sends are non-blocking enqueues;
// no core lock is ever held across a blocking transport write.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/chatd-io/chatd/internal/v1/history"
	"github.com/chatd-io/chatd/internal/v1/logging"
	"github.com/chatd-io/chatd/internal/v1/metrics"
	"github.com/chatd-io/chatd/internal/v1/registry"
	"github.com/chatd-io/chatd/internal/v1/rooms"
	"github.com/chatd-io/chatd/internal/v1/types"
	"github.com/chatd-io/chatd/internal/v1/wire"
)

// sweepCeiling caps how infrequently the idle sweeper runs.
const sweepCeiling = 60 * time.Second

// Options tune the core's chat semantics.
type Options struct {
	// IdleTimeout evicts sessions with no inbound frames for this long.
	// Zero disables the sweeper.
	IdleTimeout time.Duration
	// ReplayLimit is how many recent messages a join replays.
	ReplayLimit int
}

// Core wires the session registry, room store, and message log together and
// implements types.Dispatcher.
type Core struct {
	registry *registry.Registry
	rooms    *rooms.Store
	log      *history.Log
	opts     Options

	// fanMu orders room deliveries relative to log appends.
	fanMu sync.Mutex

	tracer  trace.Tracer
	started time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(reg *registry.Registry, store *rooms.Store, log *history.Log, opts Options) *Core {
	ctx, cancel := context.WithCancel(context.Background())
	return &Core{
		registry: reg,
		rooms:    store,
		log:      log,
		opts:     opts,
		tracer:   otel.Tracer("chatd/dispatch"),
		started:  time.Now(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the idle sweeper when an idle timeout is configured.
func (c *Core) Start() {
	if c.opts.IdleTimeout <= 0 {
		logging.Info(c.ctx, "Idle sweeper disabled")
		return
	}
	interval := c.opts.IdleTimeout / 4
	if interval > sweepCeiling {
		interval = sweepCeiling
	}
	c.wg.Add(1)
	go c.sweepLoop(interval)
	logging.Info(c.ctx, "Idle sweeper started",
		zap.Duration("timeout", c.opts.IdleTimeout), zap.Duration("interval", interval))
}

// Stop halts background work and waits for it to drain.
func (c *Core) Stop() {
	c.cancel()
	c.wg.Wait()
}

func (c *Core) sweepLoop(interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case now := <-ticker.C:
			for _, sid := range c.registry.Sweep(now, c.opts.IdleTimeout) {
				metrics.IdleSweeps.Inc()
				logging.Info(c.ctx, "Evicting idle session", zap.String("session_id", string(sid)))
				c.disconnect(sid, "idle timeout")
			}
		}
	}
}

// Register admits a new connection: allocates the session, greets it with the
// live session count, and sends the public room list.
func (c *Core) Register(handle types.SessionHandle) types.SessionID {
	sid := c.registry.Register(handle)
	sess, err := c.registry.Lookup(sid)
	if err != nil {
		return sid
	}

	welcome := wire.System(wire.CmdWelcome, "",
		fmt.Sprintf("Welcome, %s. Authenticate to start chatting.", sess.Username))
	welcome.Params = map[string]any{
		"username":     sess.Username,
		"sessionCount": c.registry.Count(),
	}
	if err := handle.Send(welcome); err != nil {
		c.sendFailed(sid)
		return sid
	}
	if err := handle.Send(c.roomsListFrame()); err != nil {
		c.sendFailed(sid)
	}
	return sid
}

// Route handles one decoded frame. It returns an error only when the session
// no longer exists; the transport then tells the peer and closes. Every other
// failure is answered in-band with a single error frame, and a BadRequest
// never costs the client its connection.
func (c *Core) Route(sid types.SessionID, f *wire.Frame) error {
	sess, err := c.registry.Lookup(sid)
	if err != nil {
		return fmt.Errorf("session %q: %w", sid, types.ErrGone)
	}
	_ = c.registry.Touch(sid)

	cmd := f.Command
	if !f.IsCommand() {
		cmd = wire.CmdSendMessage
	}

	ctx := context.WithValue(c.ctx, logging.SessionIDKey, string(sid))
	ctx, span := c.tracer.Start(ctx, "dispatch."+cmd,
		trace.WithAttributes(
			attribute.String("chat.command", cmd),
			attribute.String("chat.session_id", string(sid)),
		))
	defer span.End()

	start := time.Now()
	herr := c.handle(ctx, sess, cmd, f)
	metrics.DispatchDuration.WithLabelValues(cmd).Observe(time.Since(start).Seconds())

	if herr != nil {
		kind := types.Kind(herr)
		span.SetAttributes(attribute.String("chat.error_kind", kind))
		metrics.FramesProcessed.WithLabelValues(cmd, "error").Inc()
		logging.Info(ctx, "Frame rejected",
			zap.String("command", cmd), zap.String("kind", kind), zap.Error(herr))
		if err := sess.Handle.Send(wire.Error(kind, herr.Error())); err != nil {
			c.sendFailed(sid)
		}
		return nil
	}
	metrics.FramesProcessed.WithLabelValues(cmd, "ok").Inc()
	return nil
}

// OnClose runs the disconnect path for a transport-initiated close.
func (c *Core) OnClose(sid types.SessionID) {
	c.disconnect(sid, "connection closed")
}

// disconnect is the single teardown path: announce the departure to the
// session's room, archive the device for reconnect hints, drop the session,
// and close the transport. Safe to call twice; the second call finds nothing.
func (c *Core) disconnect(sid types.SessionID, reason string) {
	sess, err := c.registry.Lookup(sid)
	if err != nil {
		return
	}

	var lastRoom types.RoomID
	if roomID, ok := c.rooms.Leave(sid); ok {
		lastRoom = roomID
		c.announceDeparture(roomID, sess, wire.CmdUserDisconnected,
			fmt.Sprintf("%s disconnected", sess.Username))
	}

	c.registry.ArchiveDisconnect(sess.DeviceID, sess.Username, lastRoom, time.Now())
	if _, err := c.registry.Drop(sid); err == nil {
		logging.Info(c.ctx, "Session dropped",
			zap.String("session_id", string(sid)),
			zap.String("username", sess.Username),
			zap.String("reason", reason))
	}
	sess.Handle.Close()
}

// sendFailed handles a failed outbound enqueue: one metric tick and the
// regular disconnect path. There is no retry; the peer reconnects.
func (c *Core) sendFailed(sid types.SessionID) {
	metrics.SendFailures.Inc()
	c.disconnect(sid, "send failure")
}

// postRoom appends a record (when rec is non-nil) and delivers the frame to
// the room's occupants under fanMu, so every member sees messages in the
// order the log recorded them. exclude skips one session, "" excludes nobody.
// Failed recipients are disconnected after the lock is released.
func (c *Core) postRoom(roomID types.RoomID, rec *history.Record, f *wire.Frame, exclude types.SessionID) error {
	c.fanMu.Lock()
	if rec != nil {
		if _, err := c.log.Append(*rec); err != nil {
			c.fanMu.Unlock()
			return err
		}
	}
	failed := c.deliverLocked(c.rooms.Occupants(roomID), f, exclude)
	c.fanMu.Unlock()

	for _, sid := range failed {
		c.sendFailed(sid)
	}
	return nil
}

// deliverLocked enqueues the frame to each session, returning the ones whose
// transport refused it. Callers hold fanMu.
func (c *Core) deliverLocked(sids []types.SessionID, f *wire.Frame, exclude types.SessionID) []types.SessionID {
	var failed []types.SessionID
	for _, sid := range sids {
		if sid == exclude {
			continue
		}
		sess, err := c.registry.Lookup(sid)
		if err != nil {
			continue
		}
		if err := sess.Handle.Send(f); err != nil {
			failed = append(failed, sid)
		}
	}
	return failed
}

// announceDeparture posts a system record and event to a room after a member
// left it.
func (c *Core) announceDeparture(roomID types.RoomID, sess registry.Session, event, text string) {
	f := wire.System(event, string(roomID), text)
	f.Params = map[string]any{"username": sess.Username}
	rec := c.systemRecord(roomID, f)
	if err := c.postRoom(roomID, rec, f, ""); err != nil {
		logging.Warn(c.ctx, "Failed to announce departure",
			zap.String("room_id", string(roomID)), zap.Error(err))
	}
}

// systemRecord turns a system frame into a log record so announcements appear
// in history replay.
func (c *Core) systemRecord(roomID types.RoomID, f *wire.Frame) *history.Record {
	return &history.Record{
		MessageID:      f.MessageID,
		RoomID:         roomID,
		AuthorUsername: types.ServerPrincipal,
		Content:        f.Message,
		Timestamp:      f.Timestamp,
		IsSystem:       true,
	}
}

// occupantNames resolves a room's occupants to their usernames, sorted for
// stable presentation in room_info payloads.
func (c *Core) occupantNames(roomID types.RoomID) []string {
	sids := c.rooms.Occupants(roomID)
	names := make([]string, 0, len(sids))
	for _, sid := range sids {
		sess, err := c.registry.Lookup(sid)
		if err != nil {
			continue
		}
		names = append(names, sess.Username)
	}
	sort.Strings(names)
	return names
}

func (c *Core) roomsListFrame() *wire.Frame {
	f := wire.System(wire.CmdRoomsList, "", "")
	f.Params = map[string]any{"rooms": c.rooms.ListPublic()}
	return f
}

// broadcastAll enqueues a frame to every live session, disconnecting the
// ones whose transport refused it.
func (c *Core) broadcastAll(f *wire.Frame, exclude types.SessionID) {
	c.fanMu.Lock()
	var failed []types.SessionID
	for sid, handle := range c.registry.Handles() {
		if sid == exclude {
			continue
		}
		if err := handle.Send(f); err != nil {
			failed = append(failed, sid)
		}
	}
	c.fanMu.Unlock()

	for _, sid := range failed {
		c.sendFailed(sid)
	}
}

// Stats is the aggregate snapshot served on the stats surface.
type Stats struct {
	ActiveSessions int         `json:"activeConnections"`
	Rooms          rooms.Stats `json:"rooms"`
	UptimeSeconds  int64       `json:"uptimeSeconds"`
}

func (c *Core) CollectStats() Stats {
	return Stats{
		ActiveSessions: c.registry.Count(),
		Rooms:          c.rooms.CollectStats(),
		UptimeSeconds:  int64(time.Since(c.started).Seconds()),
	}
}
