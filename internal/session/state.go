package session

import "fmt"

// State is the connection state of a device session.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Monitoring
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Monitoring:
		return "Monitoring"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Linked reports whether the transport link is up in this state.
func (s State) Linked() bool {
	return s == Connected || s == Monitoring
}

var transitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Failed, Disconnected},
	Connected:    {Monitoring, Disconnected},
	Monitoring:   {Connected, Disconnected},
	Failed:       {Disconnected},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
