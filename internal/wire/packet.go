package wire

import "encoding/binary"

// Packet is one decoded protocol unit. Encode writes the packet into buf,
// which must be at least EncodedSize() bytes long, and returns the number
// of bytes written.
type Packet interface {
	Code() byte
	EncodedSize() int
	Encode(buf []byte) int
}

// putShortString writes a u8 length followed by the raw bytes of s.
// s must be at most 255 bytes.
func putShortString(buf []byte, pos int, s string) int {
	buf[pos] = byte(len(s))
	pos++
	pos += copy(buf[pos:], s)
	return pos
}

func shortStringSize(s string) int {
	return 1 + len(s)
}

// ServerInfo [0x32] — lobby → client, sent unsolicited on connection open.
//
// Format:
//   [CodeServerInfo]    // code
//   [version uint32]    // protocol version
type ServerInfo struct {
	Version uint32
}

func (p ServerInfo) Code() byte { return CodeServerInfo }

func (p ServerInfo) EncodedSize() int { return 5 }

func (p ServerInfo) Encode(buf []byte) int {
	pos := 0
	buf[pos] = CodeServerInfo
	pos++
	binary.LittleEndian.PutUint32(buf[pos:], p.Version)
	pos += 4
	return pos
}

// ClientInfo [0x31] — client → lobby, announces the client build.
//
// Format:
//   [CodeClientInfo]    // code
//   [version uint32]    // client protocol version
type ClientInfo struct {
	Version uint32
}

func (p ClientInfo) Code() byte { return CodeClientInfo }

func (p ClientInfo) EncodedSize() int { return 5 }

func (p ClientInfo) Encode(buf []byte) int {
	pos := 0
	buf[pos] = CodeClientInfo
	pos++
	binary.LittleEndian.PutUint32(buf[pos:], p.Version)
	pos += 4
	return pos
}

// GameListRequest [0x21] — client → lobby, asks for the open game list.
// The client form is the bare code with no fields.
type GameListRequest struct{}

func (p GameListRequest) Code() byte { return CodeGameList }

func (p GameListRequest) EncodedSize() int { return 1 }

func (p GameListRequest) Encode(buf []byte) int {
	buf[0] = CodeGameList
	return 1
}

// GameEntry is one row in a GameList response.
type GameEntry struct {
	Type uint32
	Name string
}

// GameList [0x21] — lobby → client, the open game list.
//
// Format:
//   [CodeGameList]          // code
//   [count uint16]
//   count times:
//     [type uint32]
//     [name shortString]    // u8 length + raw bytes
type GameList struct {
	Entries []GameEntry
}

func (p GameList) Code() byte { return CodeGameList }

func (p GameList) EncodedSize() int {
	size := 3
	for _, e := range p.Entries {
		size += 4 + shortStringSize(e.Name)
	}
	return size
}

func (p GameList) Encode(buf []byte) int {
	pos := 0
	buf[pos] = CodeGameList
	pos++
	binary.LittleEndian.PutUint16(buf[pos:], uint16(len(p.Entries)))
	pos += 2
	for _, e := range p.Entries {
		binary.LittleEndian.PutUint32(buf[pos:], e.Type)
		pos += 4
		pos = putShortString(buf, pos, e.Name)
	}
	return pos
}

// CreateGame [0x22] — client → lobby, claim a room as its host.
//
// Format:
//   [CodeCreateGame]        // code
//   [cookie uint32]         // echoed back in JoinAccept/JoinReject
//   [name shortString]
//   [password shortString]
//   [difficulty uint32]
type CreateGame struct {
	Cookie     uint32
	Name       string
	Password   string
	Difficulty uint32
}

func (p CreateGame) Code() byte { return CodeCreateGame }

func (p CreateGame) EncodedSize() int {
	return 1 + 4 + shortStringSize(p.Name) + shortStringSize(p.Password) + 4
}

func (p CreateGame) Encode(buf []byte) int {
	pos := 0
	buf[pos] = CodeCreateGame
	pos++
	binary.LittleEndian.PutUint32(buf[pos:], p.Cookie)
	pos += 4
	pos = putShortString(buf, pos, p.Name)
	pos = putShortString(buf, pos, p.Password)
	binary.LittleEndian.PutUint32(buf[pos:], p.Difficulty)
	pos += 4
	return pos
}

// JoinGame [0x23] — client → lobby, join an existing room.
//
// Format:
//   [CodeJoinGame]          // code
//   [cookie uint32]
//   [name shortString]
//   [password shortString]
type JoinGame struct {
	Cookie   uint32
	Name     string
	Password string
}

func (p JoinGame) Code() byte { return CodeJoinGame }

func (p JoinGame) EncodedSize() int {
	return 1 + 4 + shortStringSize(p.Name) + shortStringSize(p.Password)
}

func (p JoinGame) Encode(buf []byte) int {
	pos := 0
	buf[pos] = CodeJoinGame
	pos++
	binary.LittleEndian.PutUint32(buf[pos:], p.Cookie)
	pos += 4
	pos = putShortString(buf, pos, p.Name)
	pos = putShortString(buf, pos, p.Password)
	return pos
}

// LeaveGame [0x24] — client → lobby, leave the current room. No fields.
type LeaveGame struct{}

func (p LeaveGame) Code() byte { return CodeLeaveGame }

func (p LeaveGame) EncodedSize() int { return 1 }

func (p LeaveGame) Encode(buf []byte) int {
	buf[0] = CodeLeaveGame
	return 1
}

// JoinAccept [0x12] — lobby → client, admission granted.
//
// Format:
//   [CodeJoinAccept]        // code
//   [cookie uint32]         // echoed from the request
//   [index byte]            // assigned slot, 0 = host
//   [seed uint32]
//   [difficulty uint32]
type JoinAccept struct {
	Cookie     uint32
	Index      byte
	Seed       uint32
	Difficulty uint32
}

func (p JoinAccept) Code() byte { return CodeJoinAccept }

func (p JoinAccept) EncodedSize() int { return 14 }

func (p JoinAccept) Encode(buf []byte) int {
	pos := 0
	buf[pos] = CodeJoinAccept
	pos++
	binary.LittleEndian.PutUint32(buf[pos:], p.Cookie)
	pos += 4
	buf[pos] = p.Index
	pos++
	binary.LittleEndian.PutUint32(buf[pos:], p.Seed)
	pos += 4
	binary.LittleEndian.PutUint32(buf[pos:], p.Difficulty)
	pos += 4
	return pos
}

// JoinReject [0x15] — lobby → client, admission refused.
//
// Format:
//   [CodeJoinReject]        // code
//   [cookie uint32]         // echoed from the request
//   [reason byte]           // one of the Reject* values
type JoinReject struct {
	Cookie uint32
	Reason byte
}

func (p JoinReject) Code() byte { return CodeJoinReject }

func (p JoinReject) EncodedSize() int { return 6 }

func (p JoinReject) Encode(buf []byte) int {
	pos := 0
	buf[pos] = CodeJoinReject
	pos++
	binary.LittleEndian.PutUint32(buf[pos:], p.Cookie)
	pos += 4
	buf[pos] = p.Reason
	pos++
	return pos
}

// Connect [0x13] — lobby → client, a player entered a slot.
//
// Format:
//   [CodeConnect]           // code
//   [id byte]               // slot index
type Connect struct {
	ID byte
}

func (p Connect) Code() byte { return CodeConnect }

func (p Connect) EncodedSize() int { return 2 }

func (p Connect) Encode(buf []byte) int {
	buf[0] = CodeConnect
	buf[1] = p.ID
	return 2
}

// Disconnect [0x14] — lobby → client, a player left a slot.
//
// Format:
//   [CodeDisconnect]        // code
//   [id byte]               // slot index
//   [reason uint32]         // 3 graceful, 0 error, or a stashed override
type Disconnect struct {
	ID     byte
	Reason uint32
}

func (p Disconnect) Code() byte { return CodeDisconnect }

func (p Disconnect) EncodedSize() int { return 6 }

func (p Disconnect) Encode(buf []byte) int {
	pos := 0
	buf[pos] = CodeDisconnect
	pos++
	buf[pos] = p.ID
	pos++
	binary.LittleEndian.PutUint32(buf[pos:], p.Reason)
	pos += 4
	return pos
}

// DropPlayer [0x03] — client → lobby, host expels a player.
//
// Format:
//   [CodeDropPlayer]        // code
//   [id byte]               // slot to expel, 0 closes the room
//   [reason uint32]         // forwarded in the resulting Disconnect
type DropPlayer struct {
	ID     byte
	Reason uint32
}

func (p DropPlayer) Code() byte { return CodeDropPlayer }

func (p DropPlayer) EncodedSize() int { return 6 }

func (p DropPlayer) Encode(buf []byte) int {
	pos := 0
	buf[pos] = CodeDropPlayer
	pos++
	buf[pos] = p.ID
	pos++
	binary.LittleEndian.PutUint32(buf[pos:], p.Reason)
	pos += 4
	return pos
}

// Message [0x01] — opaque payload relay, both directions.
//
// Client → lobby the id is the target slot (0xFF broadcasts); lobby → client
// the id is rewritten to the sender's slot.
//
// Format:
//   [CodeMessage]           // code
//   [id byte]
//   [length uint32]
//   [payload bytes]
type Message struct {
	ID      byte
	Payload []byte
}

func (p Message) Code() byte { return CodeMessage }

func (p Message) EncodedSize() int { return 6 + len(p.Payload) }

func (p Message) Encode(buf []byte) int {
	pos := 0
	buf[pos] = CodeMessage
	pos++
	buf[pos] = p.ID
	pos++
	binary.LittleEndian.PutUint32(buf[pos:], uint32(len(p.Payload)))
	pos += 4
	pos += copy(buf[pos:], p.Payload)
	return pos
}

// Turn [0x02] — client → lobby, one turn value. The client form carries no
// sender id; the relay knows the sender's slot already.
//
// Format:
//   [CodeTurn]              // code
//   [turn uint32]
type Turn struct {
	Value uint32
}

func (p Turn) Code() byte { return CodeTurn }

func (p Turn) EncodedSize() int { return 5 }

func (p Turn) Encode(buf []byte) int {
	pos := 0
	buf[pos] = CodeTurn
	pos++
	binary.LittleEndian.PutUint32(buf[pos:], p.Value)
	pos += 4
	return pos
}

// PlayerTurn [0x02] — lobby → client, a relayed turn stamped with the
// sender's slot.
//
// Format:
//   [CodeTurn]              // code
//   [id byte]               // sender slot
//   [turn uint32]
type PlayerTurn struct {
	ID    byte
	Value uint32
}

func (p PlayerTurn) Code() byte { return CodeTurn }

func (p PlayerTurn) EncodedSize() int { return 6 }

func (p PlayerTurn) Encode(buf []byte) int {
	pos := 0
	buf[pos] = CodeTurn
	pos++
	buf[pos] = p.ID
	pos++
	binary.LittleEndian.PutUint32(buf[pos:], p.Value)
	pos += 4
	return pos
}

// Frame encodes p into a freshly allocated exact-size frame.
func Frame(p Packet) []byte {
	buf := make([]byte, p.EncodedSize())
	p.Encode(buf)
	return buf
}

// BatchFrame wraps already-encoded frames into a single Batch frame.
//
// Format:
//   [CodeBatch]             // code
//   [count uint16]
//   count encoded packets back to back
func BatchFrame(frames ...[]byte) []byte {
	size := 3
	for _, f := range frames {
		size += len(f)
	}
	buf := make([]byte, size)
	buf[0] = CodeBatch
	binary.LittleEndian.PutUint16(buf[1:], uint16(len(frames)))
	pos := 3
	for _, f := range frames {
		pos += copy(buf[pos:], f)
	}
	return buf
}
