package room

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/JohnImril/hellgate-ws/internal/constants"
	"github.com/JohnImril/hellgate-ws/internal/directory"
)

// settings — пер-соединенческие лимиты. Переопределяются опциями в тестах.
type settings struct {
	frameLimit    int64
	floodWindow   time.Duration
	floodPackets  int
	sendQueueSize int
	writeTimeout  time.Duration
}

func defaultSettings() settings {
	return settings{
		frameLimit:    constants.MaxFrameBytes,
		floodWindow:   constants.FloodWindow,
		floodPackets:  constants.FloodMaxPackets,
		sendQueueSize: constants.SendQueueSize,
		writeTimeout:  constants.WriteTimeout,
	}
}

// Option настраивает Registry.
type Option func(*Registry)

// WithFrameLimit overrides the maximum inbound frame size in bytes.
func WithFrameLimit(n int64) Option {
	return func(reg *Registry) { reg.st.frameLimit = n }
}

// WithFloodBudget overrides the per-connection packet budget per window.
func WithFloodBudget(window time.Duration, packets int) Option {
	return func(reg *Registry) {
		reg.st.floodWindow = window
		reg.st.floodPackets = packets
	}
}

// WithSendQueueSize overrides the per-socket outbound queue length.
func WithSendQueueSize(n int) Option {
	return func(reg *Registry) { reg.st.sendQueueSize = n }
}

// WithWriteTimeout overrides the per-frame socket write deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(reg *Registry) { reg.st.writeTimeout = d }
}

// Registry owns every live Room, keyed by room name. A Room is created on
// first attach and dropped once its last socket detaches.
type Registry struct {
	dir  *directory.Client
	pool *BytePool
	st   settings

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewRegistry создаёт реестр комнат. dir может быть nil, тогда справочник
// не уведомляется.
func NewRegistry(dir *directory.Client, opts ...Option) *Registry {
	reg := &Registry{
		dir:   dir,
		pool:  NewBytePool(constants.SendBufSize),
		st:    defaultSettings(),
		rooms: make(map[string]*Room),
	}
	for _, o := range opts {
		o(reg)
	}
	return reg
}

func (reg *Registry) acquire(key string) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[key]
	if !ok {
		r = newRoom(key, reg.dir, reg.pool, reg.st)
		reg.rooms[key] = r
		slog.Debug("room created", "room", key)
	}
	r.refs++
	return r
}

func (reg *Registry) release(r *Room) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r.refs--
	if r.refs <= 0 {
		delete(reg.rooms, r.key)
		if r.dirCh != nil {
			close(r.dirCh)
		}
		slog.Debug("room dropped", "room", r.key)
	}
}

// HandleConn runs the full lifecycle of one accepted socket in the room
// named by key. Blocks until the socket dies.
func (reg *Registry) HandleConn(key string, conn *websocket.Conn) {
	r := reg.acquire(key)
	defer reg.release(r)

	m := newMember(conn, reg.pool, reg.st)
	r.attach(m)
	slog.Debug("connection attached", "room", key, "conn", m.id)
	r.runReader(m)
}
