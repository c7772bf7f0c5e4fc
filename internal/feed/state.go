package feed

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	// Stale is never stored. It is how Connected looks once no frame has
	// arrived within the stale threshold.
	Stale
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Stale:
		return "STALE"
	default:
		return "UNKNOWN"
	}
}
