package testutil

import (
	"context"
	"fmt"
	"net"
	"time"
)

// WaitForTCPReady ждёт пока TCP сервер станет доступен (polling с timeout).
// Используется вместо time.Sleep для синхронизации в socket-тестах.
//
// Пример:
//
//	go server.Serve(ctx, listener)
//	if err := testutil.WaitForTCPReady(addr, 5*time.Second); err != nil {
//	    t.Fatalf("server failed to start: %v", err)
//	}
func WaitForTCPReady(addr string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for server at %s: %w", addr, ctx.Err())
		case <-ticker.C:
			conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
			if err == nil {
				_ = conn.Close()
				return nil
			}
			// Продолжаем polling если не удалось подключиться
		}
	}
}
