package wire

// GameRef names a room referenced by a sniffed frame, together with the
// request cookie the client expects echoed back.
type GameRef struct {
	Cookie uint32
	Name   string
}

// LobbyIntent summarizes what one frame asks of the lobby while the
// connection is still unrouted: the first announced client version, whether
// a game list was requested, and the first room claim or join.
type LobbyIntent struct {
	Version       uint32
	HasVersion    bool
	WantsGameList bool
	Create        *GameRef
	Join          *GameRef
}

// Sniff decodes frame and extracts its lobby intent. ok is false when the
// frame does not decode; the caller decides what to do with such frames.
// Only the first ClientInfo and the first CreateGame-or-JoinGame are kept.
func Sniff(frame []byte) (LobbyIntent, bool) {
	packets, err := Decode(frame)
	if err != nil {
		return LobbyIntent{}, false
	}

	var in LobbyIntent
	for _, p := range packets {
		switch p := p.(type) {
		case ClientInfo:
			if !in.HasVersion {
				in.Version = p.Version
				in.HasVersion = true
			}
		case GameListRequest:
			in.WantsGameList = true
		case CreateGame:
			if in.Create == nil && in.Join == nil {
				in.Create = &GameRef{Cookie: p.Cookie, Name: p.Name}
			}
		case JoinGame:
			if in.Create == nil && in.Join == nil {
				in.Join = &GameRef{Cookie: p.Cookie, Name: p.Name}
			}
		}
	}
	return in, true
}

// RoomName returns the room this intent routes to, if any.
func (in LobbyIntent) RoomName() (string, bool) {
	switch {
	case in.Create != nil:
		return in.Create.Name, true
	case in.Join != nil:
		return in.Join.Name, true
	}
	return "", false
}

// Empty reports whether the frame carried nothing the lobby acts on.
func (in LobbyIntent) Empty() bool {
	return !in.HasVersion && !in.WantsGameList && in.Create == nil && in.Join == nil
}
