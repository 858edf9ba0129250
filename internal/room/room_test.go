package room

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/JohnImril/hellgate-ws/internal/config"
	"github.com/JohnImril/hellgate-ws/internal/constants"
	"github.com/JohnImril/hellgate-ws/internal/directory"
	"github.com/JohnImril/hellgate-ws/internal/storage"
	"github.com/JohnImril/hellgate-ws/internal/testutil"
	"github.com/JohnImril/hellgate-ws/internal/wire"
)

type roomHarness struct {
	base  string
	store *storage.Memory
	reg   *Registry
}

// startRoom wires a full room stack on loopback: memory-backed directory,
// directory HTTP server, registry and room WebSocket server.
func startRoom(t *testing.T, opts ...Option) roomHarness {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := storage.NewMemory()
	dir := directory.New(store)

	dirLn, dirAddr := testutil.ListenTCP(t)
	dirSrv := directory.NewServer(config.DefaultLobbyServer(), dir)
	go dirSrv.Serve(ctx, dirLn)

	reg := NewRegistry(directory.NewClient("http://"+dirAddr), opts...)

	roomLn, roomAddr := testutil.ListenTCP(t)
	roomSrv := NewServer(config.DefaultLobbyServer(), reg)
	go roomSrv.Serve(ctx, roomLn)

	require.NoError(t, testutil.WaitForTCPReady(roomAddr, constants.TestReceiveTimeout))
	return roomHarness{
		base:  "ws://" + roomAddr,
		store: store,
		reg:   reg,
	}
}

func dialRoom(t *testing.T, base, key string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(base+"/ws?room="+key, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, p wire.Packet) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, wire.Frame(p)))
}

func sendRaw(t *testing.T, conn *websocket.Conn, frame []byte) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, frame))
}

func readFrame(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(constants.TestReceiveTimeout))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	return frame
}

func readPacket(t *testing.T, conn *websocket.Conn) wire.Packet {
	t.Helper()
	packets, err := wire.Decode(readFrame(t, conn))
	require.NoError(t, err)
	require.Len(t, packets, 1)
	return packets[0]
}

// expectClose requires the very next read to be a close frame with the
// given code. Frames arriving before it fail the test.
func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(constants.TestReceiveTimeout))
	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, code, ce.Code)
}

// expectSilence requires that no frame arrives within a short window.
// Poisons the connection's read side; use it only as the final assertion.
func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * constants.TestSettleDelay))
	_, _, err := conn.ReadMessage()
	var ne net.Error
	require.ErrorAs(t, err, &ne)
	require.True(t, ne.Timeout())
}

// createHost dials the room, announces version 7 and claims the game,
// consuming its own JoinAccept and Connect.
func createHost(t *testing.T, base, key, name, password string) *websocket.Conn {
	t.Helper()
	conn := dialRoom(t, base, key)
	send(t, conn, wire.ClientInfo{Version: 7})
	send(t, conn, wire.CreateGame{Cookie: 1, Name: name, Password: password, Difficulty: 2})

	acc, ok := readPacket(t, conn).(wire.JoinAccept)
	require.True(t, ok)
	require.Equal(t, byte(constants.HostSlot), acc.Index)
	con, ok := readPacket(t, conn).(wire.Connect)
	require.True(t, ok)
	require.Equal(t, byte(constants.HostSlot), con.ID)
	return conn
}

// joinGuest dials the room and joins the named game, consuming its own
// JoinAccept and Connect. Returns the connection and the assigned slot.
func joinGuest(t *testing.T, base, key, name, password string) (*websocket.Conn, byte) {
	t.Helper()
	conn := dialRoom(t, base, key)
	send(t, conn, wire.ClientInfo{Version: 7})
	send(t, conn, wire.JoinGame{Cookie: 2, Name: name, Password: password})

	acc, ok := readPacket(t, conn).(wire.JoinAccept)
	require.True(t, ok)
	con, ok := readPacket(t, conn).(wire.Connect)
	require.True(t, ok)
	require.Equal(t, acc.Index, con.ID)
	return conn, acc.Index
}

func listedGames(t *testing.T, store *storage.Memory) map[string]directory.Entry {
	t.Helper()
	value, ok, err := store.Get(context.Background(), "games")
	require.NoError(t, err)
	games := make(map[string]directory.Entry)
	if !ok {
		return games
	}
	var pairs [][2]json.RawMessage
	require.NoError(t, json.Unmarshal(value, &pairs))
	for _, pair := range pairs {
		var name string
		var e directory.Entry
		require.NoError(t, json.Unmarshal(pair[0], &name))
		require.NoError(t, json.Unmarshal(pair[1], &e))
		games[name] = e
	}
	return games
}

// requireListed waits for the directory to persist the game with the given
// slot usage. Directory calls are fire-and-forget, so the test polls.
func requireListed(t *testing.T, store *storage.Memory, name string, slotsUsed int) {
	t.Helper()
	require.Eventually(t, func() bool {
		e, ok := listedGames(t, store)[name]
		return ok && e.SlotsUsed == slotsUsed
	}, constants.TestReceiveTimeout, 10*time.Millisecond)
}

func requireUnlisted(t *testing.T, store *storage.Memory, name string) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, ok := listedGames(t, store)[name]
		return !ok
	}, constants.TestReceiveTimeout, 10*time.Millisecond)
}

func TestCreateAndJoin(t *testing.T) {
	h := startRoom(t)

	// Host claims the room.
	host := dialRoom(t, h.base, "room1")
	send(t, host, wire.ClientInfo{Version: 7})
	send(t, host, wire.CreateGame{Cookie: 0x01020304, Name: "room1", Password: "", Difficulty: 2})

	acc, ok := readPacket(t, host).(wire.JoinAccept)
	require.True(t, ok)
	require.Equal(t, uint32(0x01020304), acc.Cookie)
	require.Equal(t, byte(0), acc.Index)
	require.Equal(t, uint32(2), acc.Difficulty)
	seed := acc.Seed

	con, ok := readPacket(t, host).(wire.Connect)
	require.True(t, ok)
	require.Equal(t, byte(0), con.ID)

	requireListed(t, h.store, "room1", 1)

	// Guest joins; both sides observe the new player.
	guest := dialRoom(t, h.base, "room1")
	send(t, guest, wire.ClientInfo{Version: 7})
	send(t, guest, wire.JoinGame{Cookie: 0x0A, Name: "room1", Password: ""})

	gacc, ok := readPacket(t, guest).(wire.JoinAccept)
	require.True(t, ok)
	require.Equal(t, uint32(0x0A), gacc.Cookie)
	require.Equal(t, byte(1), gacc.Index)
	require.Equal(t, seed, gacc.Seed)
	require.Equal(t, uint32(2), gacc.Difficulty)

	gcon, ok := readPacket(t, guest).(wire.Connect)
	require.True(t, ok)
	require.Equal(t, byte(1), gcon.ID)

	hcon, ok := readPacket(t, host).(wire.Connect)
	require.True(t, ok)
	require.Equal(t, byte(1), hcon.ID)

	requireListed(t, h.store, "room1", 2)
}

func TestJoinWrongPassword(t *testing.T) {
	h := startRoom(t)
	createHost(t, h.base, "room1", "room1", "s3cret")

	guest := dialRoom(t, h.base, "room1")
	send(t, guest, wire.ClientInfo{Version: 7})
	send(t, guest, wire.JoinGame{Cookie: 0x11, Name: "room1", Password: ""})

	rej, ok := readPacket(t, guest).(wire.JoinReject)
	require.True(t, ok)
	require.Equal(t, uint32(0x11), rej.Cookie)
	require.Equal(t, wire.RejectIncorrectPassword, rej.Reason)

	// The connection survives the reject and may retry.
	send(t, guest, wire.JoinGame{Cookie: 0x12, Name: "room1", Password: "s3cret"})
	acc, ok := readPacket(t, guest).(wire.JoinAccept)
	require.True(t, ok)
	require.Equal(t, uint32(0x12), acc.Cookie)
	require.Equal(t, byte(1), acc.Index)
}

func TestJoinAdmissionRejects(t *testing.T) {
	h := startRoom(t)

	// Join before any game exists.
	ghost := dialRoom(t, h.base, "nowhere")
	send(t, ghost, wire.ClientInfo{Version: 7})
	send(t, ghost, wire.JoinGame{Cookie: 5, Name: "nowhere", Password: ""})
	rej, ok := readPacket(t, ghost).(wire.JoinReject)
	require.True(t, ok)
	require.Equal(t, wire.RejectNotFound, rej.Reason)

	host := createHost(t, h.base, "room1", "room1", "")

	// Wrong game name inside an existing room.
	misnamed := dialRoom(t, h.base, "room1")
	send(t, misnamed, wire.ClientInfo{Version: 7})
	send(t, misnamed, wire.JoinGame{Cookie: 6, Name: "other", Password: ""})
	rej, ok = readPacket(t, misnamed).(wire.JoinReject)
	require.True(t, ok)
	require.Equal(t, wire.RejectNotFound, rej.Reason)

	// Version announced but different from the host's.
	mismatched := dialRoom(t, h.base, "room1")
	send(t, mismatched, wire.ClientInfo{Version: 8})
	send(t, mismatched, wire.JoinGame{Cookie: 7, Name: "room1", Password: ""})
	rej, ok = readPacket(t, mismatched).(wire.JoinReject)
	require.True(t, ok)
	require.Equal(t, wire.RejectVersionMismatch, rej.Reason)

	// No version announced at all.
	silent := dialRoom(t, h.base, "room1")
	send(t, silent, wire.JoinGame{Cookie: 8, Name: "room1", Password: ""})
	rej, ok = readPacket(t, silent).(wire.JoinReject)
	require.True(t, ok)
	require.Equal(t, wire.RejectVersionMismatch, rej.Reason)

	// Rejected joins must not have taken slots.
	_, slot := joinGuest(t, h.base, "room1", "room1", "")
	require.Equal(t, byte(1), slot)

	host.Close()
}

func TestCreateRejects(t *testing.T) {
	h := startRoom(t)
	host := createHost(t, h.base, "room1", "room1", "")

	// Creating on top of an existing game.
	second := dialRoom(t, h.base, "room1")
	send(t, second, wire.ClientInfo{Version: 7})
	send(t, second, wire.CreateGame{Cookie: 3, Name: "room1", Password: ""})
	rej, ok := readPacket(t, second).(wire.JoinReject)
	require.True(t, ok)
	require.Equal(t, wire.RejectCreateExists, rej.Reason)

	// A seated player creating again.
	send(t, host, wire.CreateGame{Cookie: 4, Name: "room1", Password: ""})
	rej, ok = readPacket(t, host).(wire.JoinReject)
	require.True(t, ok)
	require.Equal(t, wire.RejectAlreadyInGame, rej.Reason)

	// Creating without announcing a version.
	h2 := startRoom(t)
	silent := dialRoom(t, h2.base, "room2")
	send(t, silent, wire.CreateGame{Cookie: 5, Name: "room2", Password: ""})
	rej, ok = readPacket(t, silent).(wire.JoinReject)
	require.True(t, ok)
	require.Equal(t, wire.RejectVersionMismatch, rej.Reason)
}

func TestRoomFull(t *testing.T) {
	h := startRoom(t)
	createHost(t, h.base, "room1", "room1", "")
	for i := 0; i < constants.MaxPlayers-1; i++ {
		joinGuest(t, h.base, "room1", "room1", "")
	}

	late := dialRoom(t, h.base, "room1")
	send(t, late, wire.ClientInfo{Version: 7})
	send(t, late, wire.JoinGame{Cookie: 9, Name: "room1", Password: ""})

	rej, ok := readPacket(t, late).(wire.JoinReject)
	require.True(t, ok)
	require.Equal(t, wire.RejectFull, rej.Reason)

	requireListed(t, h.store, "room1", constants.MaxPlayers)
}

func TestInvalidGameNameCloses(t *testing.T) {
	h := startRoom(t)

	conn := dialRoom(t, h.base, "room1")
	send(t, conn, wire.ClientInfo{Version: 7})
	send(t, conn, wire.CreateGame{Cookie: 1, Name: "../etc", Password: ""})
	expectClose(t, conn, websocket.CloseProtocolError)

	// No game state was created by the rejected claim.
	createHost(t, h.base, "room1", "room1", "")
}

func TestHostDropClosesRoom(t *testing.T) {
	h := startRoom(t)
	host := createHost(t, h.base, "room1", "room1", "")
	guest, slot := joinGuest(t, h.base, "room1", "room1", "")
	require.Equal(t, byte(1), slot)

	// Drain the host's view of the join.
	con, ok := readPacket(t, host).(wire.Connect)
	require.True(t, ok)
	require.Equal(t, byte(1), con.ID)
	requireListed(t, h.store, "room1", 2)

	send(t, host, wire.DropPlayer{ID: 0, Reason: 42})

	// Both sockets observe every occupied slot disconnecting in slot order,
	// then a normal closure.
	for _, conn := range []*websocket.Conn{host, guest} {
		for want := byte(0); want <= 1; want++ {
			dis, ok := readPacket(t, conn).(wire.Disconnect)
			require.True(t, ok)
			require.Equal(t, want, dis.ID)
			require.Equal(t, uint32(42), dis.Reason)
		}
		expectClose(t, conn, websocket.CloseNormalClosure)
	}

	requireUnlisted(t, h.store, "room1")
}

func TestHostLeaveClosesRoom(t *testing.T) {
	h := startRoom(t)
	host := createHost(t, h.base, "room1", "room1", "")
	guest, _ := joinGuest(t, h.base, "room1", "room1", "")
	readPacket(t, host) // guest's Connect

	send(t, host, wire.LeaveGame{})

	for _, conn := range []*websocket.Conn{host, guest} {
		for want := byte(0); want <= 1; want++ {
			dis, ok := readPacket(t, conn).(wire.Disconnect)
			require.True(t, ok)
			require.Equal(t, want, dis.ID)
			require.Equal(t, uint32(constants.DisconnectReasonLeft), dis.Reason)
		}
		expectClose(t, conn, websocket.CloseNormalClosure)
	}

	requireUnlisted(t, h.store, "room1")
}

func TestGuestLeave(t *testing.T) {
	h := startRoom(t)
	host := createHost(t, h.base, "room1", "room1", "")
	guest, slot := joinGuest(t, h.base, "room1", "room1", "")
	readPacket(t, host) // guest's Connect

	send(t, guest, wire.LeaveGame{})
	expectClose(t, guest, websocket.CloseNormalClosure)

	dis, ok := readPacket(t, host).(wire.Disconnect)
	require.True(t, ok)
	require.Equal(t, slot, dis.ID)
	require.Equal(t, uint32(constants.DisconnectReasonLeft), dis.Reason)

	requireListed(t, h.store, "room1", 1)
}

func TestHostDropsGuest(t *testing.T) {
	h := startRoom(t)
	host := createHost(t, h.base, "room1", "room1", "")
	g1, _ := joinGuest(t, h.base, "room1", "room1", "")
	readPacket(t, host) // g1's Connect
	g2, _ := joinGuest(t, h.base, "room1", "room1", "")
	readPacket(t, host) // g2's Connect
	readPacket(t, g1)   // g2's Connect
	requireListed(t, h.store, "room1", 3)

	// Dropping an empty slot is a no-op.
	send(t, host, wire.DropPlayer{ID: 3, Reason: 1})

	send(t, host, wire.DropPlayer{ID: 1, Reason: 7})
	expectClose(t, g1, websocket.CloseNormalClosure)

	// The stashed drop reason rides the resulting Disconnect.
	for _, conn := range []*websocket.Conn{host, g2} {
		dis, ok := readPacket(t, conn).(wire.Disconnect)
		require.True(t, ok)
		require.Equal(t, byte(1), dis.ID)
		require.Equal(t, uint32(7), dis.Reason)
	}

	requireListed(t, h.store, "room1", 2)
}

func TestNonHostDropCloses(t *testing.T) {
	h := startRoom(t)
	host := createHost(t, h.base, "room1", "room1", "")
	guest, _ := joinGuest(t, h.base, "room1", "room1", "")
	readPacket(t, host) // guest's Connect

	send(t, guest, wire.DropPlayer{ID: 2, Reason: 0})
	expectClose(t, guest, websocket.ClosePolicyViolation)
}

func TestGuestAbruptDisconnect(t *testing.T) {
	h := startRoom(t)
	host := createHost(t, h.base, "room1", "room1", "")
	guest, slot := joinGuest(t, h.base, "room1", "room1", "")
	readPacket(t, host) // guest's Connect

	// Tear the TCP connection down without a close handshake.
	guest.Close()

	dis, ok := readPacket(t, host).(wire.Disconnect)
	require.True(t, ok)
	require.Equal(t, slot, dis.ID)
	require.Equal(t, uint32(constants.DisconnectReasonError), dis.Reason)

	requireListed(t, h.store, "room1", 1)
}

func TestSlotReuseAfterLeave(t *testing.T) {
	h := startRoom(t)
	host := createHost(t, h.base, "room1", "room1", "")
	g1, s1 := joinGuest(t, h.base, "room1", "room1", "")
	readPacket(t, host)
	g2, s2 := joinGuest(t, h.base, "room1", "room1", "")
	readPacket(t, host)
	readPacket(t, g1)
	require.Equal(t, byte(1), s1)
	require.Equal(t, byte(2), s2)

	send(t, g1, wire.LeaveGame{})
	expectClose(t, g1, websocket.CloseNormalClosure)
	readPacket(t, host) // Disconnect{1}
	readPacket(t, g2)   // Disconnect{1}

	// The freed slot is handed to the next joiner.
	_, s3 := joinGuest(t, h.base, "room1", "room1", "")
	require.Equal(t, byte(1), s3)
}

func TestConcurrentJoinsGetDistinctSlots(t *testing.T) {
	h := startRoom(t)
	createHost(t, h.base, "room1", "room1", "")

	const joiners = 5
	type joinOutcome struct {
		slot   int // -1 when rejected
		reason byte
		err    error
	}
	results := make(chan joinOutcome, joiners)

	for i := 0; i < joiners; i++ {
		go func() {
			conn, _, err := websocket.DefaultDialer.Dial(h.base+"/ws?room=room1", nil)
			if err != nil {
				results <- joinOutcome{err: err}
				return
			}
			defer conn.Close()

			frames := [][]byte{
				wire.Frame(wire.ClientInfo{Version: 7}),
				wire.Frame(wire.JoinGame{Cookie: 1, Name: "room1", Password: ""}),
			}
			for _, f := range frames {
				if err := conn.WriteMessage(websocket.BinaryMessage, f); err != nil {
					results <- joinOutcome{err: err}
					return
				}
			}

			// Connect broadcasts for other joiners may arrive before our
			// own verdict; skip them.
			conn.SetReadDeadline(time.Now().Add(constants.TestReceiveTimeout))
			for {
				_, frame, err := conn.ReadMessage()
				if err != nil {
					results <- joinOutcome{err: err}
					return
				}
				packets, err := wire.Decode(frame)
				if err != nil {
					results <- joinOutcome{err: err}
					return
				}
				switch p := packets[0].(type) {
				case wire.JoinAccept:
					results <- joinOutcome{slot: int(p.Index)}
					return
				case wire.JoinReject:
					results <- joinOutcome{slot: -1, reason: p.Reason}
					return
				}
			}
		}()
	}

	seen := make(map[int]bool)
	rejected := 0
	for i := 0; i < joiners; i++ {
		out := <-results
		require.NoError(t, out.err)
		if out.slot == -1 {
			require.Equal(t, wire.RejectFull, out.reason)
			rejected++
			continue
		}
		require.False(t, seen[out.slot], "slot %d assigned twice", out.slot)
		seen[out.slot] = true
	}

	require.Len(t, seen, constants.MaxPlayers-1)
	require.Equal(t, joiners-(constants.MaxPlayers-1), rejected)
	requireListed(t, h.store, "room1", constants.MaxPlayers)
}
