package bench

import "fmt"

// State is the phase of one scenario run.
//
//	Idle -> Connecting -> Failed
//	                   -> Warmup -> Measuring -> Completed
//
// Warmup is entered even when the warmup window is zero.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateFailed
	StateWarmup
	StateMeasuring
	StateCompleted
)

var stateNames = [...]string{
	StateIdle:       "idle",
	StateConnecting: "connecting",
	StateFailed:     "failed",
	StateWarmup:     "warmup",
	StateMeasuring:  "measuring",
	StateCompleted:  "completed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateCompleted
}
