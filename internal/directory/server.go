package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JohnImril/hellgate-ws/internal/config"
)

// Server exposes the directory over HTTP on the internal listener. The
// gateway fetches /list.bin, rooms post /upsert and /remove.
type Server struct {
	cfg config.LobbyServer
	dir *Directory

	listener net.Listener
	mu       sync.Mutex
}

// NewServer creates a directory server around dir.
func NewServer(cfg config.LobbyServer, dir *Directory) *Server {
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

// Run begins listening on the configured directory address.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.DirectoryBindAddress, s.cfg.DirectoryPort)
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
	r.Post("/upsert", s.handleUpsert)
	r.Post("/remove", s.handleRemove)
	r.Get("/list.bin", s.handleList)

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	slog.Info("directory server started", "address", ln.Addr())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving directory: %w", err)
	}
	return nil
}

func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request) {
	var e Entry
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil || e.Name == "" {
		writeText(w, http.StatusBadRequest, "bad")
		return
	}

	if err := s.dir.Upsert(r.Context(), e); err != nil {
		slog.Error("directory upsert failed", "game", e.Name, "error", err)
		writeText(w, http.StatusInternalServerError, "error")
		return
	}
	writeText(w, http.StatusOK, "ok")
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeText(w, http.StatusBadRequest, "bad")
		return
	}

	if err := s.dir.Remove(r.Context(), req.Name); err != nil {
		slog.Error("directory remove failed", "game", req.Name, "error", err)
		writeText(w, http.StatusInternalServerError, "error")
		return
	}
	writeText(w, http.StatusOK, "ok")
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	frame, err := s.dir.ListBin(r.Context())
	if err != nil {
		slog.Error("directory list failed", "error", err)
		writeText(w, http.StatusInternalServerError, "error")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(frame)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(body))
}
