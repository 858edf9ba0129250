package gateway

// state tracks where a gateway connection is in its bridging lifecycle.
type state int32

const (
	// stateSniffing — кадры ещё интерпретируются в поисках lobby-действия.
	stateSniffing state = iota

	// stateBridging — room leg handshake in progress.
	stateBridging

	// stateBridged — both legs up, frames pass through untouched.
	stateBridged

	// stateClosed — terminal.
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateSniffing:
		return "sniffing"
	case stateBridging:
		return "bridging"
	case stateBridged:
		return "bridged"
	case stateClosed:
		return "closed"
	}
	return "unknown"
}
