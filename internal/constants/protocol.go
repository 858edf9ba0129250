package constants

import "time"

// Lobby Relay Protocol Constants
//
// This file contains all protocol-level constants for the lobby wire protocol
// and the relay's connection-protection budgets. The values mirror the
// original hellgate relay deployment and are not configurable at runtime.

// Handshake Constants
const (
	// ProtocolVersion is advertised in the unsolicited ServerInfo packet sent
	// on every accepted WebSocket connection.
	ProtocolVersion = 1
)

// Room Shape Constants
const (
	// MaxPlayers is the number of player slots in a room.
	MaxPlayers = 4

	// HostSlot is the slot index owned by the room host.
	HostSlot = 0

	// BroadcastID is the Message target id that addresses every joined
	// player except the sender.
	BroadcastID = 0xFF

	// MaxRoomNameLength is the maximum length of a room name in bytes.
	// The full grammar is [A-Za-z0-9_-]{1,32}.
	MaxRoomNameLength = 32
)

// Frame Budget Constants
const (
	// MaxFrameBytes is the absolute size budget for one WebSocket binary
	// message. Enforced at the room entry point; frames above it close the
	// connection with 1009.
	MaxFrameBytes = 14 << 20 // 14 MiB
)

// Gateway Pending-Buffer Constants
//
// While a gateway connection is sniffing, frames that cannot be routed yet
// are buffered. "Unknown" frames failed to decode; "known" frames decoded
// but carried no lobby intent. The budgets are checked on every enqueue.
const (
	// MaxPendingMessages is the total buffered frame count budget (close 1009).
	MaxPendingMessages = 256

	// MaxPendingBytes is the total buffered byte budget (close 1009).
	MaxPendingBytes = 14 << 20 // 14 MiB

	// MaxPendingUnknownMessages is the undecodable frame count budget (close 1002).
	MaxPendingUnknownMessages = 32

	// MaxPendingUnknownBytes is the undecodable byte budget (close 1002).
	MaxPendingUnknownBytes = 1 << 20 // 1 MiB
)

// Gateway Timing Constants
const (
	// ConnectTimeout bounds the Sniffing→Bridging→Bridged path. Armed on the
	// first frame received while sniffing; a connection that is not bridged
	// by expiry closes with 1011.
	ConnectTimeout = 15 * time.Second

	// BridgeDialTimeout is the WebSocket handshake timeout for the internal
	// room leg of a bridge.
	BridgeDialTimeout = 10 * time.Second
)

// Room Protection Constants
const (
	// MaxInvalidFrames is the number of undecodable frames a room tolerates
	// per connection before closing it with 1002.
	MaxInvalidFrames = 2

	// FloodWindow is the packet-rate window for the per-connection limiter.
	FloodWindow = 15 * time.Second

	// FloodMaxPackets is the packet budget per FloodWindow; exceeding it
	// closes the connection with 1008.
	FloodMaxPackets = 512
)

// Disconnect Reason Constants
//
// The u32 reason carried in Disconnect broadcasts. A per-socket override is
// stashed before explicit closes (leave, drop, room close); these are the
// defaults when no override is present.
const (
	// DisconnectReasonError is reported when a socket drops without a close
	// handshake.
	DisconnectReasonError = 0

	// DisconnectReasonLeft is reported for graceful departures.
	DisconnectReasonLeft = 3
)

// Connection Write Constants
const (
	// SendQueueSize is the per-connection outbound frame queue length; a
	// full queue marks the client too slow to keep and disconnects it.
	SendQueueSize = 256

	// WriteTimeout is the per-frame socket write deadline.
	WriteTimeout = 5 * time.Second

	// SendBufSize is the default capacity for pooled outbound frame buffers.
	SendBufSize = 512
)
