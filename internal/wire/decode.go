package wire

import "fmt"

// MaxBatchDepth bounds Batch nesting. Frames nested deeper fail to decode.
const MaxBatchDepth = 8

// Decode parses one frame into a flat packet sequence. Batches are flattened
// in order; the batch itself never appears in the result. The whole frame
// must be consumed: trailing bytes, unknown codes, short reads, empty frames
// and over-deep batches are all decode errors, and no packets are returned.
func Decode(frame []byte) ([]Packet, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("decode: empty frame")
	}
	r := NewReader(frame)
	var packets []Packet
	if err := decodeOne(r, &packets, 0); err != nil {
		return nil, err
	}
	if n := r.Remaining(); n != 0 {
		return nil, fmt.Errorf("decode: %d trailing bytes after packet", n)
	}
	return packets, nil
}

// DecodeGameList parses a server-form GameList frame: code, u16 count and
// count (type, name) entries. The client form of 0x21 is handled by Decode;
// this is the inverse of GameList.Encode.
func DecodeGameList(frame []byte) ([]GameEntry, error) {
	r := NewReader(frame)

	code, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("game list code: %w", err)
	}
	if code != CodeGameList {
		return nil, fmt.Errorf("unexpected code 0x%02X for game list", code)
	}
	count, err := r.ReadUint16()
	if err != nil {
		return nil, fmt.Errorf("game list count: %w", err)
	}

	entries := make([]GameEntry, 0, count)
	for i := 0; i < int(count); i++ {
		typ, err := r.ReadUint32()
		if err != nil {
			return nil, fmt.Errorf("game %d type: %w", i, err)
		}
		name, err := r.ReadShortString()
		if err != nil {
			return nil, fmt.Errorf("game %d name: %w", i, err)
		}
		entries = append(entries, GameEntry{Type: typ, Name: name})
	}
	if n := r.Remaining(); n != 0 {
		return nil, fmt.Errorf("game list: %d trailing bytes", n)
	}
	return entries, nil
}

func decodeOne(r *Reader, out *[]Packet, depth int) error {
	code, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("packet code: %w", err)
	}

	switch code {
	case CodeBatch:
		if depth >= MaxBatchDepth {
			return fmt.Errorf("batch nested deeper than %d", MaxBatchDepth)
		}
		count, err := r.ReadUint16()
		if err != nil {
			return fmt.Errorf("batch count: %w", err)
		}
		for i := 0; i < int(count); i++ {
			if err := decodeOne(r, out, depth+1); err != nil {
				return fmt.Errorf("batch packet %d: %w", i, err)
			}
		}
		return nil

	case CodeMessage:
		id, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("message id: %w", err)
		}
		payload, err := r.ReadLongBytes()
		if err != nil {
			return fmt.Errorf("message payload: %w", err)
		}
		*out = append(*out, Message{ID: id, Payload: payload})

	case CodeTurn:
		turn, err := r.ReadUint32()
		if err != nil {
			return fmt.Errorf("turn value: %w", err)
		}
		*out = append(*out, Turn{Value: turn})

	case CodeDropPlayer:
		id, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("drop player id: %w", err)
		}
		reason, err := r.ReadUint32()
		if err != nil {
			return fmt.Errorf("drop player reason: %w", err)
		}
		*out = append(*out, DropPlayer{ID: id, Reason: reason})

	case CodeJoinAccept:
		cookie, err := r.ReadUint32()
		if err != nil {
			return fmt.Errorf("join accept cookie: %w", err)
		}
		index, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("join accept index: %w", err)
		}
		seed, err := r.ReadUint32()
		if err != nil {
			return fmt.Errorf("join accept seed: %w", err)
		}
		difficulty, err := r.ReadUint32()
		if err != nil {
			return fmt.Errorf("join accept difficulty: %w", err)
		}
		*out = append(*out, JoinAccept{Cookie: cookie, Index: index, Seed: seed, Difficulty: difficulty})

	case CodeConnect:
		id, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("connect id: %w", err)
		}
		*out = append(*out, Connect{ID: id})

	case CodeDisconnect:
		id, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("disconnect id: %w", err)
		}
		reason, err := r.ReadUint32()
		if err != nil {
			return fmt.Errorf("disconnect reason: %w", err)
		}
		*out = append(*out, Disconnect{ID: id, Reason: reason})

	case CodeJoinReject:
		cookie, err := r.ReadUint32()
		if err != nil {
			return fmt.Errorf("join reject cookie: %w", err)
		}
		reason, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("join reject reason: %w", err)
		}
		*out = append(*out, JoinReject{Cookie: cookie, Reason: reason})

	case CodeGameList:
		// Client form: bare code, no fields.
		*out = append(*out, GameListRequest{})

	case CodeCreateGame:
		cookie, err := r.ReadUint32()
		if err != nil {
			return fmt.Errorf("create game cookie: %w", err)
		}
		name, err := r.ReadShortString()
		if err != nil {
			return fmt.Errorf("create game name: %w", err)
		}
		password, err := r.ReadShortString()
		if err != nil {
			return fmt.Errorf("create game password: %w", err)
		}
		difficulty, err := r.ReadUint32()
		if err != nil {
			return fmt.Errorf("create game difficulty: %w", err)
		}
		*out = append(*out, CreateGame{Cookie: cookie, Name: name, Password: password, Difficulty: difficulty})

	case CodeJoinGame:
		cookie, err := r.ReadUint32()
		if err != nil {
			return fmt.Errorf("join game cookie: %w", err)
		}
		name, err := r.ReadShortString()
		if err != nil {
			return fmt.Errorf("join game name: %w", err)
		}
		password, err := r.ReadShortString()
		if err != nil {
			return fmt.Errorf("join game password: %w", err)
		}
		*out = append(*out, JoinGame{Cookie: cookie, Name: name, Password: password})

	case CodeLeaveGame:
		*out = append(*out, LeaveGame{})

	case CodeClientInfo:
		version, err := r.ReadUint32()
		if err != nil {
			return fmt.Errorf("client info version: %w", err)
		}
		*out = append(*out, ClientInfo{Version: version})

	case CodeServerInfo:
		version, err := r.ReadUint32()
		if err != nil {
			return fmt.Errorf("server info version: %w", err)
		}
		*out = append(*out, ServerInfo{Version: version})

	default:
		return fmt.Errorf("unknown packet code 0x%02X", code)
	}

	return nil
}
