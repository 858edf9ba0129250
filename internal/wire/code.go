// Package wire implements the little-endian binary lobby protocol carried in
// WebSocket binary messages. One frame holds one packet; a Batch packet nests
// further packets and is flattened during decode.
package wire

// Packet codes. The first byte of every encoded packet.
const (
	CodeBatch      byte = 0x00
	CodeMessage    byte = 0x01
	CodeTurn       byte = 0x02
	CodeDropPlayer byte = 0x03
	CodeJoinAccept byte = 0x12
	CodeConnect    byte = 0x13
	CodeDisconnect byte = 0x14
	CodeJoinReject byte = 0x15
	CodeGameList   byte = 0x21
	CodeCreateGame byte = 0x22
	CodeJoinGame   byte = 0x23
	CodeLeaveGame  byte = 0x24
	CodeClientInfo byte = 0x31
	CodeServerInfo byte = 0x32
)

// JoinReject reasons.
const (
	RejectSuccess           byte = 0
	RejectAlreadyInGame     byte = 1
	RejectNotFound          byte = 2
	RejectIncorrectPassword byte = 3
	RejectVersionMismatch   byte = 4
	RejectFull              byte = 5
	RejectCreateExists      byte = 6
)
