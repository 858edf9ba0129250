// Package gateway implements the public WebSocket front door. Each accepted
// connection is sniffed for a lobby action and then bridged to its room.
package gateway

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
	"github.com/JohnImril/hellgate-ws/internal/directory"
)

// upgrader — публичная точка входа, origin не ограничивается: протокол
// бинарный и аутентификации на этом уровне нет.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  constants.SendBufSize,
	WriteBufferSize: constants.SendBufSize,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Server accepts public client connections on /ws and /websocket and runs
// one bridging state machine per connection.
type Server struct {
	cfg config.LobbyServer
	dir *directory.Client

	listener net.Listener
	mu       sync.Mutex
}

// NewServer creates a gateway in front of the given directory client.
func NewServer(cfg config.LobbyServer, dir *directory.Client) *Server {
	return &Server{cfg: cfg, dir: dir}
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

// Run begins listening on the configured gateway address.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.GatewayBindAddress, s.cfg.GatewayPort)
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
	r.Get("/websocket", s.handleWS)
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	slog.Info("gateway started", "address", ln.Addr())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving gateway: %w", err)
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusUpgradeRequired)
		return
	}

	client, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("gateway upgrade failed", "error", err)
		return
	}
	newConn(s.cfg, s.dir, client).run()
}
