package feed

// State is the lifecycle position of one channel (socket) of the client.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateErrored
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	case StateErrored:
		return "ERRORED"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// active reports whether a channel already has a socket or a dial in flight.
func (s State) active() bool {
	return s == StateConnecting || s == StateOpen
}

type channelKind int

const (
	tradeChannel channelKind = iota
	tickerChannel
)

func (k channelKind) String() string {
	if k == tickerChannel {
		return "ticker"
	}
	return "trade"
}
