package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/JohnImril/hellgate-ws/internal/config"
	"github.com/JohnImril/hellgate-ws/internal/constants"
	"github.com/JohnImril/hellgate-ws/internal/directory"
	"github.com/JohnImril/hellgate-ws/internal/wire"
)

// conn is one client connection working its way from Sniffing to Bridged.
// The reader goroutine owns all sniffing state; after the bridge comes up a
// second goroutine pumps the room leg back to the client.
type conn struct {
	id     string
	cfg    config.LobbyServer
	dir    *directory.Client
	client *websocket.Conn

	state     atomic.Int32
	closeOnce sync.Once

	// mu guards room and timer, the two fields the watchdog can race.
	mu    sync.Mutex
	room  *websocket.Conn
	timer *time.Timer

	// reader-owned sniffing state
	pending             [][]byte
	pendingBytes        int
	pendingUnknown      int
	pendingUnknownBytes int
	version             uint32
	hasVersion          bool
}

func newConn(cfg config.LobbyServer, dir *directory.Client, client *websocket.Conn) *conn {
	return &conn{
		id:     uuid.NewString(),
		cfg:    cfg,
		dir:    dir,
		client: client,
	}
}

// run drives the connection until either leg dies. Blocks for the lifetime
// of the client socket.
func (c *conn) run() {
	slog.Debug("gateway connection open", "conn", c.id)

	hello := wire.Frame(wire.ServerInfo{Version: constants.ProtocolVersion})
	if err := c.writeClient(hello); err != nil {
		c.terminate(websocket.CloseInternalServerErr, "")
		return
	}

	for {
		mt, frame, err := c.client.ReadMessage()
		if err != nil {
			code, text := propagatedClose(err)
			c.terminate(code, text)
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}

		if state(c.state.Load()) == stateBridged {
			if err := c.writeRoom(frame); err != nil {
				slog.Warn("room leg write failed", "conn", c.id, "error", err)
				c.terminate(websocket.CloseInternalServerErr, "")
				return
			}
			continue
		}

		if !c.sniffFrame(frame) {
			return
		}
	}
}

// sniffFrame routes one pre-bridge frame. Returns false once the connection
// is terminated.
func (c *conn) sniffFrame(frame []byte) bool {
	c.armTimer()

	intent, ok := wire.Sniff(frame)
	if !ok {
		return c.enqueuePending(frame, true)
	}

	if intent.HasVersion {
		c.version = intent.Version
		c.hasVersion = true
	}
	if intent.WantsGameList && !c.replyGameList() {
		return false
	}
	if name, ok := intent.RoomName(); ok {
		return c.bridge(name, frame)
	}
	if intent.Empty() {
		return c.enqueuePending(frame, false)
	}
	return true
}

// enqueuePending buffers a frame that cannot be routed yet. The budgets are
// checked on every enqueue; the total budget wins over the unknown one when
// a single frame crosses both.
func (c *conn) enqueuePending(frame []byte, unknown bool) bool {
	c.pending = append(c.pending, frame)
	c.pendingBytes += len(frame)
	if unknown {
		c.pendingUnknown++
		c.pendingUnknownBytes += len(frame)
	}

	if len(c.pending) > constants.MaxPendingMessages || c.pendingBytes > constants.MaxPendingBytes {
		slog.Warn("pending buffer overflow", "conn", c.id, "frames", len(c.pending), "bytes", c.pendingBytes)
		c.terminate(websocket.CloseMessageTooBig, "pending overflow")
		return false
	}
	if c.pendingUnknown > constants.MaxPendingUnknownMessages || c.pendingUnknownBytes > constants.MaxPendingUnknownBytes {
		slog.Warn("unknown frame budget exceeded", "conn", c.id, "frames", c.pendingUnknown, "bytes", c.pendingUnknownBytes)
		c.terminate(websocket.CloseProtocolError, "invalid packet")
		return false
	}
	return true
}

// replyGameList answers a sniffed game-list request with the directory's
// current snapshot.
func (c *conn) replyGameList() bool {
	frame, err := c.dir.ListBin(context.Background())
	if err != nil {
		slog.Error("directory query failed", "conn", c.id, "error", err)
		c.terminate(websocket.CloseInternalServerErr, "directory unavailable")
		return false
	}
	if err := c.writeClient(frame); err != nil {
		c.terminate(websocket.CloseInternalServerErr, "")
		return false
	}
	return true
}

// bridge opens the room leg and flushes everything buffered so far: pending
// frames first, then the frame that triggered the bridge.
func (c *conn) bridge(name string, first []byte) bool {
	c.state.Store(int32(stateBridging))

	target := c.cfg.RoomEndpoint + "/ws?room=" + url.QueryEscape(name)
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.DialTimeout}
	room, _, err := dialer.Dial(target, nil)
	if err != nil {
		slog.Error("bridge dial failed", "conn", c.id, "room", name, "error", err)
		c.terminate(websocket.CloseInternalServerErr, "bridge failed")
		return false
	}

	c.mu.Lock()
	c.room = room
	c.mu.Unlock()
	if state(c.state.Load()) == stateClosed {
		// The watchdog fired mid-dial and never saw the room leg.
		room.Close()
		return false
	}
	c.stopTimer()

	// The version announcement was consumed during sniffing; replay it so
	// the room can gate admission on it.
	if c.hasVersion {
		if err := c.writeRoom(wire.Frame(wire.ClientInfo{Version: c.version})); err != nil {
			c.terminate(websocket.CloseInternalServerErr, "")
			return false
		}
	}

	for _, f := range c.pending {
		if err := c.writeRoom(f); err != nil {
			c.terminate(websocket.CloseInternalServerErr, "")
			return false
		}
	}
	c.pending = nil
	c.pendingBytes = 0
	if err := c.writeRoom(first); err != nil {
		c.terminate(websocket.CloseInternalServerErr, "")
		return false
	}

	c.state.Store(int32(stateBridged))
	go c.pumpRoom()
	slog.Info("bridged", "conn", c.id, "room", name)
	return true
}

// pumpRoom copies room frames back to the client until either leg dies.
func (c *conn) pumpRoom() {
	for {
		mt, frame, err := c.room.ReadMessage()
		if err != nil {
			code, text := propagatedClose(err)
			c.terminate(code, text)
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		if err := c.writeClient(frame); err != nil {
			c.terminate(websocket.CloseInternalServerErr, "")
			return
		}
	}
}

// terminate shuts both legs down exactly once, forwarding the close code.
func (c *conn) terminate(code int, text string) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(stateClosed))
		c.stopTimer()

		writeCloseFrame(c.client, code, text, c.cfg.WriteTimeout)
		c.client.Close()

		c.mu.Lock()
		room := c.room
		c.mu.Unlock()
		if room != nil {
			writeCloseFrame(room, code, text, c.cfg.WriteTimeout)
			room.Close()
		}
		slog.Debug("gateway connection closed", "conn", c.id, "code", code)
	})
}

// armTimer starts the connect watchdog on the first sniffed frame.
func (c *conn) armTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer == nil {
		c.timer = time.AfterFunc(c.cfg.ConnectTimeout, c.connectTimeout)
	}
}

func (c *conn) stopTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
}

func (c *conn) connectTimeout() {
	if state(c.state.Load()) == stateBridged {
		return
	}
	slog.Warn("connect timeout", "conn", c.id)
	c.terminate(websocket.CloseInternalServerErr, "connect timeout")
}

func (c *conn) writeClient(frame []byte) error {
	c.client.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.client.WriteMessage(websocket.BinaryMessage, frame)
}

func (c *conn) writeRoom(frame []byte) error {
	c.room.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.room.WriteMessage(websocket.BinaryMessage, frame)
}

// propagatedClose maps a read error on one leg to the close code for the
// other. Close frames travel across verbatim; abnormal errors become 1011.
func propagatedClose(err error) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Code != websocket.CloseAbnormalClosure && ce.Code != websocket.CloseTLSHandshake {
		return ce.Code, ce.Text
	}
	return websocket.CloseInternalServerErr, ""
}

func writeCloseFrame(ws *websocket.Conn, code int, text string, timeout time.Duration) {
	msg := websocket.FormatCloseMessage(code, text)
	deadline := time.Now().Add(timeout)
	if err := ws.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		slog.Debug("close frame write failed", "error", err)
	}
}
