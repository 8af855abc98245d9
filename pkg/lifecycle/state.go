// Package lifecycle runs a long-lived service (the claims API process)
// through a validated start/stop state machine with hooks, state change
// observers and OpenTelemetry spans.
//
// The lifecycle of a healthy service is:
//
//	Unknown → Starting → Running → Stopping → Stopped
//
// Any non-terminal state may move to Failed when a hook fails. Both
// terminal states (Stopped, Failed) may move back to Starting for a
// restart.
//
// [Service] guards its state with a mutex; every method is safe for
// concurrent use.
package lifecycle

// State is the lifecycle state of a service. The zero value is not a
// valid state; services begin in [StateUnknown].
type State string

const (
	// StateUnknown is the state of a service that was never started.
	StateUnknown State = "unknown"

	// StateStarting is set before the OnStart hook runs.
	StateStarting State = "starting"

	// StateRunning is the only state in which [Service.Health] reports
	// healthy.
	StateRunning State = "running"

	// StateStopping is set before the OnStop hook runs, while in-flight
	// requests drain.
	StateStopping State = "stopping"

	// StateStopped follows a clean shutdown.
	StateStopped State = "stopped"

	// StateFailed follows a failed hook.
	StateFailed State = "failed"
)

func (s State) String() string {
	return string(s)
}

// Valid reports whether s is one of the defined states.
func (s State) Valid() bool {
	switch s {
	case StateUnknown, StateStarting, StateRunning,
		StateStopping, StateStopped, StateFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s is Stopped or Failed.
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}

// validTransitions is the transition matrix:
//
//	Unknown  → Starting, Failed
//	Starting → Running, Failed, Stopping
//	Running  → Stopping, Failed
//	Stopping → Stopped, Failed
//	Stopped  → Starting              (restart)
//	Failed   → Starting              (recovery restart)
var validTransitions = map[State][]State{
	StateUnknown:  {StateStarting, StateFailed},
	StateStarting: {StateRunning, StateFailed, StateStopping},
	StateRunning:  {StateStopping, StateFailed},
	StateStopping: {StateStopped, StateFailed},
	StateStopped:  {StateStarting},
	StateFailed:   {StateStarting},
}

// ValidTransition reports whether from may move to to. Same-state
// transitions are rejected.
func ValidTransition(from, to State) bool {
	if from == to {
		return false
	}
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
