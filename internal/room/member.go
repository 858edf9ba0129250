package room

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// outFrame is one unit of work for the write pump: either an encoded frame
// (pool-backed, ownership transfers) or, when data is nil, an order to
// write a close frame and shut the socket down.
type outFrame struct {
	data []byte
	code int
	text string
}

// member is one attached socket. The write pump goroutine owns the socket's
// write side; the slot, version and close-reason fields are guarded by the
// owning room's mutex.
type member struct {
	id   string
	conn *websocket.Conn
	pool *BytePool

	sendCh       chan outFrame
	closed       atomic.Bool
	closeOnce    sync.Once
	writeTimeout time.Duration

	limiter *rate.Limiter

	// invalidFrames is owned by the reader goroutine.
	invalidFrames int

	// guarded by Room.mu
	slot           int
	clientVersion  uint32
	hasVersion     bool
	closeReason    uint32
	hasCloseReason bool
}

func newMember(conn *websocket.Conn, pool *BytePool, st settings) *member {
	m := &member{
		id:           uuid.NewString(),
		conn:         conn,
		pool:         pool,
		sendCh:       make(chan outFrame, st.sendQueueSize),
		writeTimeout: st.writeTimeout,
		limiter:      rate.NewLimiter(rate.Every(st.floodWindow/time.Duration(st.floodPackets)), st.floodPackets),
		slot:         -1,
	}
	go m.writePump()
	return m
}

// writePump is the dedicated writer goroutine for this socket. It flushes
// queued frames in order; a close order is executed only after everything
// queued before it has been written, so broadcasts always beat the close
// frame to the wire.
func (m *member) writePump() {
	defer func() {
		// Drain remaining frames and return them to the pool.
		for {
			select {
			case f := <-m.sendCh:
				m.pool.Put(f.data)
			default:
				return
			}
		}
	}()

	for f := range m.sendCh {
		if f.data == nil {
			m.writeClose(f.code, f.text)
			m.conn.Close()
			return
		}

		m.conn.SetWriteDeadline(time.Now().Add(m.writeTimeout))
		err := m.conn.WriteMessage(websocket.BinaryMessage, f.data)
		m.pool.Put(f.data)
		if err != nil {
			slog.Warn("write failed", "conn", m.id, "error", err)
			m.conn.Close()
			return
		}
	}
}

// send queues an encoded frame for async delivery.
// OWNERSHIP: takes ownership of frame (pool buffer); the write pump returns
// it to the pool. Non-blocking: a full queue marks the client too slow to
// keep and disconnects it.
func (m *member) send(frame []byte) {
	if m.closed.Load() {
		m.pool.Put(frame)
		return
	}
	select {
	case m.sendCh <- outFrame{data: frame}:
	default:
		m.pool.Put(frame)
		slog.Warn("send queue full, disconnecting slow client", "conn", m.id)
		m.close(websocket.CloseInternalServerErr, "send queue full")
	}
}

// close orders the socket shut with the given close code. Frames queued
// before the call are still delivered. Safe to call multiple times; only
// the first code wins.
func (m *member) close(code int, text string) {
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		select {
		case m.sendCh <- outFrame{code: code, text: text}:
		default:
			// Queue full — close immediately, dropping the backlog.
			m.writeClose(code, text)
			m.conn.Close()
		}
	})
}

func (m *member) writeClose(code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	deadline := time.Now().Add(m.writeTimeout)
	if err := m.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		slog.Debug("write close failed", "conn", m.id, "error", err)
	}
}
