package lifecycle

// State represents the lifecycle state of a supervised service.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopRequested
	StateFailed
)

// Failure reasons carried by Failed states.
const (
	ReasonStartupError    = "startup error"
	ReasonShutdownTimeout = "shutdown timeout"
	ReasonRuntimeCrash    = "service exited unexpectedly"
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopRequested:
		return "StopRequested"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Valid reports whether s is one of the five defined states.
func (s State) Valid() bool {
	return s >= StateStopped && s <= StateFailed
}

// CanStart reports whether Start is accepted in this state.
func (s State) CanStart() bool {
	return s == StateStopped || s == StateFailed
}

// CanStop reports whether Stop is accepted in this state.
func (s State) CanStop() bool {
	return s == StateRunning || s == StateStarting
}

// Status is a point-in-time view of a controller.
// Reason and Error are only set for StateFailed.
type Status struct {
	State  State
	Reason string
	Error  string
}

// String formats the status the way it appears in logs.
func (s Status) String() string {
	if s.State != StateFailed {
		return s.State.String()
	}
	if s.Error != "" {
		return s.State.String() + "(" + s.Reason + ": " + s.Error + ")"
	}
	return s.State.String() + "(" + s.Reason + ")"
}
