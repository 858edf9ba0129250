package integration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5"

	"github.com/JohnImril/hellgate-ws/internal/constants"
	"github.com/JohnImril/hellgate-ws/internal/wire"
)

// schemaCounter provides unique schema names for parallel suites.
var schemaCounter atomic.Uint32

// acquireSchema creates an isolated PostgreSQL schema and returns DSN with search_path.
// Schema is automatically dropped via t.Cleanup.
func acquireSchema(t testing.TB) string {
	t.Helper()
	ctx := context.Background()

	schemaName := fmt.Sprintf("test_%d", schemaCounter.Add(1))

	conn, err := pgx.Connect(ctx, sharedPGBaseDSN)
	if err != nil {
		t.Fatalf("connect to shared postgres: %v", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, "CREATE SCHEMA "+schemaName); err != nil {
		t.Fatalf("create schema %s: %v", schemaName, err)
	}

	t.Cleanup(func() {
		cleanCtx := context.Background()
		cleanConn, err := pgx.Connect(cleanCtx, sharedPGBaseDSN)
		if err != nil {
			t.Logf("cleanup: connect failed: %v", err)
			return
		}
		defer cleanConn.Close(cleanCtx)
		if _, err := cleanConn.Exec(cleanCtx, "DROP SCHEMA "+schemaName+" CASCADE"); err != nil {
			t.Logf("cleanup: drop schema %s: %v", schemaName, err)
		}
	})

	// Append search_path to DSN
	sep := "&"
	if !strings.Contains(sharedPGBaseDSN, "?") {
		sep = "?"
	}
	return sharedPGBaseDSN + sep + "search_path=" + schemaName
}

// dialLobby подключается к gateway и читает обязательный ServerInfo.
// Соединение закрывается автоматически при завершении теста.
func dialLobby(t testing.TB, base string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(base+"/ws", nil)
	if err != nil {
		t.Fatalf("dialing gateway: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	info, ok := readPacket(t, conn).(wire.ServerInfo)
	if !ok {
		t.Fatalf("expected ServerInfo as the first frame")
	}
	if info.Version != constants.ProtocolVersion {
		t.Fatalf("protocol version mismatch: expected %d, got %d",
			constants.ProtocolVersion, info.Version)
	}
	return conn
}

func sendPacket(t testing.TB, conn *websocket.Conn, p wire.Packet) {
	t.Helper()
	if err := conn.WriteMessage(websocket.BinaryMessage, wire.Frame(p)); err != nil {
		t.Fatalf("writing %T frame: %v", p, err)
	}
}

// readFrame читает один бинарный кадр с deadline.
func readFrame(t testing.TB, conn *websocket.Conn) []byte {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(constants.TestReceiveTimeout)); err != nil {
		t.Fatalf("setting read deadline: %v", err)
	}
	mt, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	if mt != websocket.BinaryMessage {
		t.Fatalf("unexpected message type %d", mt)
	}
	return frame
}

// readPacket читает кадр и декодирует ровно один пакет из него.
func readPacket(t testing.TB, conn *websocket.Conn) wire.Packet {
	t.Helper()

	packets, err := wire.Decode(readFrame(t, conn))
	if err != nil {
		t.Fatalf("decoding frame: %v", err)
	}
	if len(packets) != 1 {
		t.Fatalf("expected a single packet, got %d", len(packets))
	}
	return packets[0]
}

// expectClose читает кадры до close frame и проверяет его код. Промежуточные
// бинарные кадры пропускаются, поэтому перед вызовом следует прочитать все
// кадры, которые тест проверяет по содержимому.
func expectClose(t testing.TB, conn *websocket.Conn, code int) {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(constants.TestReceiveTimeout)); err != nil {
		t.Fatalf("setting read deadline: %v", err)
	}
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		if !errors.As(err, &ce) {
			t.Fatalf("expected close frame, got: %v", err)
		}
		if ce.Code != code {
			t.Fatalf("close code mismatch: expected %d, got %d (%q)", code, ce.Code, ce.Text)
		}
		return
	}
}
