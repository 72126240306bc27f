package monitor

// State is the monitor's lifecycle position.
type State int

// Lifecycle states. The zero value is StateIdle.
const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func (s State) started() bool {
	return s == StateRunning || s == StatePaused
}

// Stopped counts as paused: no events are delivered in either.
func (s State) paused() bool {
	return s == StatePaused || s == StateStopped
}
