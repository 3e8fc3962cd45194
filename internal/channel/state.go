package channel

// State is the lifecycle state of the chat connection.
type State int

const (
	Disconnected State = iota
	Connecting
	Open
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	default:
		return "unknown"
	}
}

// EnvironmentEvent is a hint from the host that connectivity may be back.
type EnvironmentEvent int

const (
	// NetworkOnline: the host regained network access.
	NetworkOnline EnvironmentEvent = iota
	// Visible: the application came back to the foreground.
	Visible
)

func (e EnvironmentEvent) String() string {
	switch e {
	case NetworkOnline:
		return "network_online"
	case Visible:
		return "visible"
	default:
		return "unknown"
	}
}
