// Package room hosts the relay actors: each room key gets one Room that owns
// admission, slot assignment and frame fan-out for up to four players.
package room

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"math/rand/v2"
	"regexp"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/JohnImril/hellgate-ws/internal/constants"
	"github.com/JohnImril/hellgate-ws/internal/directory"
	"github.com/JohnImril/hellgate-ws/internal/wire"
)

// validName ограничивает имена комнат безопасным алфавитом.
var validName = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)

// dirQueueSize bounds the per-room directory mutation queue.
const dirQueueSize = 64

// GameState is the claimed-room state. It exists from the first successful
// CreateGame until the host leaves or the last slot empties.
type GameState struct {
	name       string
	password   string
	difficulty uint32
	seed       uint32
	gameType   uint32
	version    uint32
	createdAt  time.Time
	slots      [constants.MaxPlayers]*member
}

// Room serializes all traffic for one room key. Every state transition runs
// under mu; sockets never block the holder because delivery is queued.
type Room struct {
	key  string
	dir  *directory.Client
	pool *BytePool
	st   settings

	// dirCh serializes directory calls so an earlier upsert can never
	// overtake a later remove. Closed by the registry when the room dies.
	dirCh chan dirOp

	mu           sync.Mutex
	attached     map[*member]struct{}
	game         *GameState
	lastActivity time.Time

	// refs guarded by Registry.mu
	refs int
}

// dirOp is one queued directory mutation.
type dirOp struct {
	remove bool
	name   string
	entry  directory.Entry
}

func newRoom(key string, dir *directory.Client, pool *BytePool, st settings) *Room {
	r := &Room{
		key:      key,
		dir:      dir,
		pool:     pool,
		st:       st,
		attached: make(map[*member]struct{}),
	}
	if dir != nil {
		r.dirCh = make(chan dirOp, dirQueueSize)
		go r.dirLoop()
	}
	return r
}

// dirLoop drains queued directory mutations in order. Failures are logged;
// комната никогда не откатывает своё состояние по ошибке справочника.
func (r *Room) dirLoop() {
	for op := range r.dirCh {
		if op.remove {
			if err := r.dir.Remove(context.Background(), op.name); err != nil {
				slog.Warn("directory remove failed", "room", r.key, "game", op.name, "error", err)
			}
			continue
		}
		if err := r.dir.Upsert(context.Background(), op.entry); err != nil {
			slog.Warn("directory upsert failed", "room", r.key, "game", op.entry.Name, "error", err)
		}
	}
}

func (r *Room) attach(m *member) {
	r.mu.Lock()
	r.attached[m] = struct{}{}
	r.lastActivity = time.Now()
	r.mu.Unlock()
}

// runReader pumps frames off m's socket until it dies, then detaches it.
// Text frames are ignored. Blocks for the lifetime of the socket.
func (r *Room) runReader(m *member) {
	m.conn.SetReadLimit(r.st.frameLimit)

	graceful := false
	for {
		mt, frame, err := m.conn.ReadMessage()
		if err != nil {
			// Дропнутый TCP приходит как синтетический 1006 — это не
			// вежливое закрытие. Эхо нашего собственного кика тоже нет:
			// closed уже выставлен, и причина либо застэшена, либо ошибка.
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code != websocket.CloseAbnormalClosure && !m.closed.Load() {
				graceful = true
			} else if errors.Is(err, websocket.ErrReadLimit) {
				slog.Warn("frame too large", "room", r.key, "conn", m.id)
			}
			break
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		r.handleFrame(m, frame)
	}

	r.detach(m, graceful)
}

// handleFrame decodes one inbound frame and dispatches its packets. Decode
// failures are tolerated twice per connection, the third closes 1002. The
// flood budget counts decoded packets, so a single huge batch can trip it.
func (r *Room) handleFrame(m *member, frame []byte) {
	if m.closed.Load() {
		return
	}

	packets, err := wire.Decode(frame)
	if err != nil {
		m.invalidFrames++
		if m.invalidFrames > constants.MaxInvalidFrames {
			slog.Warn("too many invalid frames, disconnecting", "room", r.key, "conn", m.id, "error", err)
			m.close(websocket.CloseProtocolError, "invalid packet")
			return
		}
		slog.Debug("invalid frame ignored", "room", r.key, "conn", m.id, "error", err)
		return
	}

	if !m.limiter.AllowN(time.Now(), len(packets)) {
		slog.Warn("flood limit exceeded, disconnecting", "room", r.key, "conn", m.id, "packets", len(packets))
		m.close(websocket.ClosePolicyViolation, "flood")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastActivity = time.Now()

	for _, p := range packets {
		r.handlePacketLocked(m, p)
		if m.closed.Load() {
			return
		}
	}
}

func (r *Room) handlePacketLocked(m *member, p wire.Packet) {
	switch pkt := p.(type) {
	case wire.ClientInfo:
		m.clientVersion = pkt.Version
		m.hasVersion = true
	case wire.CreateGame:
		r.handleCreateLocked(m, pkt)
	case wire.JoinGame:
		r.handleJoinLocked(m, pkt)
	case wire.LeaveGame:
		r.handleLeaveLocked(m)
	case wire.DropPlayer:
		r.handleDropLocked(m, pkt)
	case wire.Message:
		r.handleMessageLocked(m, pkt)
	case wire.Turn:
		r.handleTurnLocked(m, pkt)
	default:
		slog.Debug("ignoring packet", "room", r.key, "conn", m.id, "code", p.Code())
	}
}

func (r *Room) handleCreateLocked(m *member, pkt wire.CreateGame) {
	if !validName.MatchString(pkt.Name) {
		slog.Warn("invalid game name", "room", r.key, "conn", m.id)
		m.close(websocket.CloseProtocolError, "invalid name")
		return
	}
	if m.slot >= 0 {
		r.sendLocked(m, wire.JoinReject{Cookie: pkt.Cookie, Reason: wire.RejectAlreadyInGame})
		return
	}
	if !m.hasVersion {
		r.sendLocked(m, wire.JoinReject{Cookie: pkt.Cookie, Reason: wire.RejectVersionMismatch})
		return
	}
	if r.game != nil {
		r.sendLocked(m, wire.JoinReject{Cookie: pkt.Cookie, Reason: wire.RejectCreateExists})
		return
	}

	r.game = &GameState{
		name:       pkt.Name,
		password:   pkt.Password,
		difficulty: pkt.Difficulty,
		seed:       rand.Uint32(),
		version:    m.clientVersion,
		createdAt:  time.Now(),
	}
	r.seatLocked(m, constants.HostSlot)

	r.sendLocked(m, wire.JoinAccept{
		Cookie:     pkt.Cookie,
		Index:      byte(m.slot),
		Seed:       r.game.seed,
		Difficulty: r.game.difficulty,
	})
	r.broadcastLocked(wire.Connect{ID: byte(m.slot)}, nil)
	r.notifyDirectoryLocked()
	slog.Info("game created", "room", r.key, "game", r.game.name, "conn", m.id)
}

func (r *Room) handleJoinLocked(m *member, pkt wire.JoinGame) {
	if !validName.MatchString(pkt.Name) {
		slog.Warn("invalid game name", "room", r.key, "conn", m.id)
		m.close(websocket.CloseProtocolError, "invalid name")
		return
	}
	if m.slot >= 0 {
		r.sendLocked(m, wire.JoinReject{Cookie: pkt.Cookie, Reason: wire.RejectAlreadyInGame})
		return
	}
	if !m.hasVersion {
		r.sendLocked(m, wire.JoinReject{Cookie: pkt.Cookie, Reason: wire.RejectVersionMismatch})
		return
	}
	if r.game == nil || r.game.name != pkt.Name {
		r.sendLocked(m, wire.JoinReject{Cookie: pkt.Cookie, Reason: wire.RejectNotFound})
		return
	}
	if subtle.ConstantTimeCompare([]byte(r.game.password), []byte(pkt.Password)) != 1 {
		r.sendLocked(m, wire.JoinReject{Cookie: pkt.Cookie, Reason: wire.RejectIncorrectPassword})
		return
	}
	if m.clientVersion != r.game.version {
		r.sendLocked(m, wire.JoinReject{Cookie: pkt.Cookie, Reason: wire.RejectVersionMismatch})
		return
	}
	slot := r.freeSlotLocked()
	if slot < 0 {
		r.sendLocked(m, wire.JoinReject{Cookie: pkt.Cookie, Reason: wire.RejectFull})
		return
	}

	r.seatLocked(m, slot)
	r.sendLocked(m, wire.JoinAccept{
		Cookie:     pkt.Cookie,
		Index:      byte(slot),
		Seed:       r.game.seed,
		Difficulty: r.game.difficulty,
	})
	r.broadcastLocked(wire.Connect{ID: byte(slot)}, nil)
	r.notifyDirectoryLocked()
	slog.Info("player joined", "room", r.key, "game", r.game.name, "slot", slot, "conn", m.id)
}

func (r *Room) handleLeaveLocked(m *member) {
	if m.slot == constants.HostSlot {
		r.closeGameLocked(constants.DisconnectReasonLeft)
		return
	}
	m.closeReason = constants.DisconnectReasonLeft
	m.hasCloseReason = true
	m.close(websocket.CloseNormalClosure, "")
}

func (r *Room) handleDropLocked(m *member, pkt wire.DropPlayer) {
	if m.slot != constants.HostSlot {
		slog.Warn("drop request from non-host", "room", r.key, "conn", m.id)
		m.close(websocket.ClosePolicyViolation, "not host")
		return
	}
	if pkt.ID == constants.HostSlot {
		r.closeGameLocked(pkt.Reason)
		return
	}
	if int(pkt.ID) >= len(r.game.slots) {
		return
	}
	target := r.game.slots[pkt.ID]
	if target == nil {
		return
	}
	target.closeReason = pkt.Reason
	target.hasCloseReason = true
	target.close(websocket.CloseNormalClosure, "dropped")
	slog.Info("player dropped", "room", r.key, "slot", pkt.ID, "reason", pkt.Reason)
}

func (r *Room) handleMessageLocked(m *member, pkt wire.Message) {
	if m.slot < 0 || r.game == nil {
		return
	}
	out := wire.Message{ID: byte(m.slot), Payload: pkt.Payload}
	if pkt.ID == constants.BroadcastID {
		r.broadcastJoinedLocked(out, m)
		return
	}
	if int(pkt.ID) >= len(r.game.slots) {
		return
	}
	if target := r.game.slots[pkt.ID]; target != nil {
		r.sendLocked(target, out)
	}
}

func (r *Room) handleTurnLocked(m *member, pkt wire.Turn) {
	if m.slot < 0 || r.game == nil {
		return
	}
	r.broadcastJoinedLocked(wire.PlayerTurn{ID: byte(m.slot), Value: pkt.Value}, m)
}

// closeGameLocked tears the whole room down: Disconnect for every occupied
// slot in ascending order, then a normal close for every attached socket.
// Queued broadcasts reach the wire before the close frames do.
func (r *Room) closeGameLocked(reason uint32) {
	state := r.game
	if state == nil {
		return
	}

	for i, p := range state.slots {
		if p != nil {
			r.broadcastLocked(wire.Disconnect{ID: byte(i), Reason: reason}, nil)
		}
	}
	for m := range r.attached {
		m.closeReason = reason
		m.hasCloseReason = true
		m.close(websocket.CloseNormalClosure, "room closed")
	}
	for _, p := range state.slots {
		if p != nil {
			p.slot = -1
		}
	}
	r.game = nil
	r.dropDirectoryLocked(state.name)
	slog.Info("game closed", "room", r.key, "game", state.name, "reason", reason)
}

// detach finalizes a dead socket. The host taking the game down with it is
// the one transition that fans out to everyone else.
func (r *Room) detach(m *member, graceful bool) {
	r.mu.Lock()
	reason := uint32(constants.DisconnectReasonError)
	if graceful {
		reason = constants.DisconnectReasonLeft
	}
	if m.hasCloseReason {
		reason = m.closeReason
	}
	delete(r.attached, m)

	switch {
	case r.game != nil && m.slot == constants.HostSlot:
		r.closeGameLocked(reason)
	case r.game != nil && m.slot >= 0:
		slot := m.slot
		r.game.slots[slot] = nil
		m.slot = -1
		r.broadcastLocked(wire.Disconnect{ID: byte(slot), Reason: reason}, nil)
		if r.occupiedLocked() > 0 {
			r.notifyDirectoryLocked()
		} else {
			name := r.game.name
			r.game = nil
			r.dropDirectoryLocked(name)
			slog.Info("game emptied", "room", r.key, "game", name)
		}
	}
	r.mu.Unlock()

	m.close(websocket.CloseNormalClosure, "")
	slog.Debug("connection detached", "room", r.key, "conn", m.id, "reason", reason)
}

// sendLocked encodes p into a pooled buffer and queues it for m.
func (r *Room) sendLocked(m *member, p wire.Packet) {
	buf := r.pool.Get(p.EncodedSize())
	n := p.Encode(buf)
	m.send(buf[:n])
}

// broadcastLocked queues p to every attached socket except skip.
func (r *Room) broadcastLocked(p wire.Packet, skip *member) {
	for m := range r.attached {
		if m == skip {
			continue
		}
		r.sendLocked(m, p)
	}
}

// broadcastJoinedLocked queues p to every seated player except skip.
func (r *Room) broadcastJoinedLocked(p wire.Packet, skip *member) {
	if r.game == nil {
		return
	}
	for _, t := range r.game.slots {
		if t == nil || t == skip {
			continue
		}
		r.sendLocked(t, p)
	}
}

func (r *Room) seatLocked(m *member, slot int) {
	r.game.slots[slot] = m
	m.slot = slot
}

func (r *Room) freeSlotLocked() int {
	for i, p := range r.game.slots {
		if p == nil {
			return i
		}
	}
	return -1
}

func (r *Room) occupiedLocked() int {
	n := 0
	if r.game == nil {
		return n
	}
	for _, p := range r.game.slots {
		if p != nil {
			n++
		}
	}
	return n
}

// notifyDirectoryLocked queues the current slot usage for the directory.
func (r *Room) notifyDirectoryLocked() {
	if r.game == nil {
		return
	}
	r.queueDirOp(dirOp{entry: directory.Entry{
		Name:       r.game.name,
		Type:       r.game.gameType,
		SlotsUsed:  r.occupiedLocked(),
		SlotsTotal: constants.MaxPlayers,
	}})
}

func (r *Room) dropDirectoryLocked(name string) {
	r.queueDirOp(dirOp{remove: true, name: name})
}

// queueDirOp hands op to the directory loop without ever blocking the room.
func (r *Room) queueDirOp(op dirOp) {
	if r.dirCh == nil {
		return
	}
	select {
	case r.dirCh <- op:
	default:
		slog.Warn("directory queue full, update dropped", "room", r.key)
	}
}
