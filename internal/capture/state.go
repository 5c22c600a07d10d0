package capture

// State is a capture lifecycle state.
type State int

const (
	StateIdle State = iota
	StatePreparing
	StateReady
	StateTriggering
	StateFinishing
	StateFinished
)

var stateNames = map[State]string{
	StateIdle:       "idle",
	StatePreparing:  "preparing",
	StateReady:      "ready",
	StateTriggering: "triggering",
	StateFinishing:  "finishing",
	StateFinished:   "finished",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// transitions lists the legal successor states.
var transitions = map[State][]State{
	StateIdle:       {StatePreparing, StateFinishing},
	StatePreparing:  {StateReady},
	StateReady:      {StatePreparing, StateTriggering, StateFinishing},
	StateTriggering: {StateReady},
	StateFinishing:  {StateFinished},
	StateFinished:   nil,
}

// CanTransition reports whether from → to is legal.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Busy indicator messages.
const (
	MessagePreparing   = "Please wait while the devices are being prepared for capture"
	MessageConfiguring = "Configuring cameras."
	MessageCapturing   = "Please wait for the capture to finish..."
)
