package testutil

import (
	"net"
	"testing"
)

// ListenTCP создаёт TCP listener на случайном loopback-порту для тестов.
// Возвращает listener и адрес в формате "host:port".
// Автоматически закрывает listener при завершении теста.
func ListenTCP(t testing.TB) (net.Listener, string) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create TCP listener: %v", err)
	}

	t.Cleanup(func() {
		_ = listener.Close()
	})

	return listener, listener.Addr().String()
}
