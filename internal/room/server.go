package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/JohnImril/hellgate-ws/internal/config"
	"github.com/JohnImril/hellgate-ws/internal/constants"
)

// upgrader принимает мостовые соединения от гейтвея. Слушатель внутренний,
// поэтому origin не проверяется.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  constants.SendBufSize,
	WriteBufferSize: constants.SendBufSize,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Server hosts the room registry on the internal WebSocket listener. The
// gateway dials /ws?room=<name> once it has sniffed a lobby action.
type Server struct {
	cfg config.LobbyServer
	reg *Registry

	listener net.Listener
	mu       sync.Mutex
}

// NewServer creates a room server around reg.
func NewServer(cfg config.LobbyServer, reg *Registry) *Server {
	return &Server{cfg: cfg, reg: reg}
}

// Addr возвращает адрес, на котором слушает сервер.
// Возвращает nil если сервер ещё не запущен.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close закрывает listener и останавливает сервер.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Run begins listening on the configured room address.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.RoomBindAddress, s.cfg.RoomPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	return s.Serve(ctx, ln)
}

// Serve принимает готовый listener и запускает HTTP сервер.
// Используется для тестирования с произвольным listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/ws", s.handleWS)

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	slog.Info("room server started", "address", ln.Addr())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving rooms: %w", err)
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusUpgradeRequired)
		return
	}
	key := r.URL.Query().Get("room")
	if key == "" || len(key) > constants.MaxRoomNameLength {
		http.Error(w, "bad room key", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("room upgrade failed", "room", key, "error", err)
		return
	}
	s.reg.HandleConn(key, conn)
}
